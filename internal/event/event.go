package event

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// ErrMalformedEvent marks events whose shape the cache cannot link
var ErrMalformedEvent = errors.New("malformed event")

func malformed(ev *nostr.Event, format string, args ...any) error {
	return fmt.Errorf("%w: kind %d %s: %s", ErrMalformedEvent, ev.Kind, ev.ID, fmt.Sprintf(format, args...))
}

// Variant is a typed view over a signed event
type Variant interface {
	Raw() *nostr.Event
}

type base struct {
	ev *nostr.Event
}

func (b base) Raw() *nostr.Event { return b.ev }

// TextNote is a kind 1 post, possibly a reply
type TextNote struct {
	base
	Thread   *ThreadInfo
	Mentions []string
}

// Reaction is a kind 7 like or emoji reaction
type Reaction struct {
	base
	Target       string
	TargetAuthor string
	Content      string // "+" when the event content is empty
}

// Repost is a kind 6 boost
type Repost struct {
	base
	Target       string
	TargetAuthor string
}

// Deletion is a kind 5 request to retract the author's own events
type Deletion struct {
	base
	Targets []string
}

// Metadata is a kind 0 profile update
type Metadata struct {
	base
	Profile Profile
}

// ContactList is a kind 3 follow list
type ContactList struct {
	base
	Follows []string
}

// DirectMessage is a kind 4 encrypted message
type DirectMessage struct {
	base
	Recipient string
}

// Report is a kind 1984 report against a note or a user
type Report struct {
	base
	TargetNote string
	TargetUser string
	Reason     string
}

// RelayListEvent is a kind 10002 relay list
type RelayListEvent struct {
	base
	Relays []RelayHint
}

// ChannelMessage is a kind 42 public chat message
type ChannelMessage struct {
	base
	Channel string
	Thread  *ThreadInfo
}

// Generic is any kind the cache stores without linking
type Generic struct {
	base
}

// IsHexID reports whether s is a 32-byte lowercase hex digest
func IsHexID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Parse classifies an event into its typed variant. Only structural shape is
// checked; signatures are assumed to have been verified upstream.
func Parse(ev *nostr.Event) (Variant, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	if !IsHexID(ev.ID) {
		return nil, malformed(ev, "bad id")
	}
	if !IsHexID(ev.PubKey) {
		return nil, malformed(ev, "bad pubkey")
	}

	b := base{ev: ev}

	switch ev.Kind {
	case KindTextNote, KindLongForm:
		return &TextNote{base: b, Thread: ParseThreadInfo(ev), Mentions: ExtractMentionedPubkeys(ev)}, nil

	case KindReaction:
		// NIP-25: the last e tag is the reacted-to note
		target := lastTagValue(ev, "e")
		if target == "" {
			return nil, malformed(ev, "reaction without e tag")
		}
		content := ev.Content
		if content == "" {
			content = "+"
		}
		return &Reaction{base: b, Target: target, TargetAuthor: lastTagValue(ev, "p"), Content: content}, nil

	case KindRepost:
		target := firstTagValue(ev, "e")
		if target == "" {
			return nil, malformed(ev, "repost without e tag")
		}
		return &Repost{base: b, Target: target, TargetAuthor: firstTagValue(ev, "p")}, nil

	case KindDeletion:
		targets := tagValues(ev, "e")
		if len(targets) == 0 {
			return nil, malformed(ev, "deletion without e tags")
		}
		return &Deletion{base: b, Targets: targets}, nil

	case KindMetadata:
		profile, err := ParseProfile(ev.Content)
		if err != nil {
			return nil, malformed(ev, "%v", err)
		}
		return &Metadata{base: b, Profile: profile}, nil

	case KindContactList:
		return &ContactList{base: b, Follows: tagValues(ev, "p")}, nil

	case KindEncryptedDM:
		recipient := firstTagValue(ev, "p")
		if recipient == "" {
			return nil, malformed(ev, "direct message without recipient")
		}
		return &DirectMessage{base: b, Recipient: recipient}, nil

	case KindReport:
		report := &Report{base: b, TargetNote: firstTagValue(ev, "e"), TargetUser: firstTagValue(ev, "p")}
		if report.TargetNote == "" && report.TargetUser == "" {
			return nil, malformed(ev, "report without target")
		}
		report.Reason = reportReason(ev)
		return report, nil

	case KindZapRequest:
		return parseZapRequest(b)

	case KindZapReceipt:
		return parseZapReceipt(b)

	case KindRelayList:
		return &RelayListEvent{base: b, Relays: ParseRelayList(ev)}, nil

	case KindChannelMessage:
		channel := ""
		for _, tag := range ev.Tags {
			if len(tag) >= 4 && tag[0] == "e" && tag[3] == "root" && IsHexID(tag[1]) {
				channel = tag[1]
				break
			}
		}
		if channel == "" {
			channel = firstTagValue(ev, "e")
		}
		if channel == "" {
			return nil, malformed(ev, "channel message without channel")
		}
		return &ChannelMessage{base: b, Channel: channel, Thread: ParseThreadInfo(ev)}, nil
	}

	return &Generic{base: b}, nil
}

func reportReason(ev *nostr.Event) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 3 && (tag[0] == "e" || tag[0] == "p") {
			return strings.ToLower(tag[2])
		}
	}
	return ""
}

// tagValues returns every well-formed hex value of the named tag, deduplicated in order
func tagValues(ev *nostr.Event, name string) []string {
	seen := make(map[string]struct{})
	values := make([]string, 0)
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != name || !IsHexID(tag[1]) {
			continue
		}
		if _, ok := seen[tag[1]]; ok {
			continue
		}
		seen[tag[1]] = struct{}{}
		values = append(values, tag[1])
	}
	return values
}

func firstTagValue(ev *nostr.Event, name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name && IsHexID(tag[1]) {
			return tag[1]
		}
	}
	return ""
}

func lastTagValue(ev *nostr.Event, name string) string {
	for i := len(ev.Tags) - 1; i >= 0; i-- {
		tag := ev.Tags[i]
		if len(tag) >= 2 && tag[0] == name && IsHexID(tag[1]) {
			return tag[1]
		}
	}
	return ""
}

// rawTag returns the first value of a tag without hex validation
func rawTag(ev *nostr.Event, name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Supersedes reports whether a should replace b under newest-wins:
// larger created_at wins, ties go to the larger id.
func Supersedes(a, b *nostr.Event) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}
