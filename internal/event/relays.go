package event

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// RelayHint is one entry of a NIP-65 relay list
type RelayHint struct {
	URL      string
	CanRead  bool
	CanWrite bool
}

// ParseRelayList extracts relay hints from a kind 10002 event. Invalid URLs are skipped.
func ParseRelayList(ev *nostr.Event) []RelayHint {
	hints := make([]RelayHint, 0, len(ev.Tags))
	seen := make(map[string]struct{})

	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}

		url := strings.TrimSpace(tag[1])
		if !ValidateRelayURL(url) {
			continue
		}
		url = nostr.NormalizeURL(url)
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}

		hint := RelayHint{URL: url, CanRead: true, CanWrite: true}
		if len(tag) >= 3 {
			switch strings.ToLower(tag[2]) {
			case "read":
				hint.CanWrite = false
			case "write":
				hint.CanRead = false
			}
		}

		hints = append(hints, hint)
	}

	return hints
}

// ValidateRelayURL performs basic validation on a relay URL
func ValidateRelayURL(url string) bool {
	return nostr.IsValidRelayURL(url)
}

// ChatroomRoute names the conversation a direct message belongs to from the
// point of view of accountPubkey. Read markers are keyed by this route.
func ChatroomRoute(ev *nostr.Event, accountPubkey string) string {
	counterparty := ev.PubKey
	if counterparty == accountPubkey {
		counterparty = firstTagValue(ev, "p")
	}
	return "Room/" + counterparty
}
