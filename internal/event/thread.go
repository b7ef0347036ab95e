package event

import (
	"github.com/nbd-wtf/go-nostr"
)

// ThreadInfo contains thread relationship information extracted from an event
type ThreadInfo struct {
	RootEventID  string   // The root event of the thread
	ReplyToID    string   // The direct parent event being replied to
	MentionedIDs []string // Other events mentioned in the thread
}

// ParseThreadInfo extracts NIP-10 thread relationships from e tags.
// Malformed ids are skipped so one bad tag does not hide the rest of the thread.
func ParseThreadInfo(ev *nostr.Event) *ThreadInfo {
	eTags := make([]nostr.Tag, 0)
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "e" && IsHexID(tag[1]) {
			eTags = append(eTags, tag)
		}
	}

	if len(eTags) == 0 {
		return &ThreadInfo{MentionedIDs: make([]string, 0)}
	}

	if hasMarkedTags(eTags) {
		return parseMarkedFormat(eTags)
	}

	return parsePositionalFormat(eTags)
}

func hasMarkedTags(eTags []nostr.Tag) bool {
	for _, tag := range eTags {
		if len(tag) >= 4 && tag[3] != "" {
			return true
		}
	}
	return false
}

func parseMarkedFormat(eTags []nostr.Tag) *ThreadInfo {
	info := &ThreadInfo{
		MentionedIDs: make([]string, 0),
	}

	for _, tag := range eTags {
		marker := ""
		if len(tag) >= 4 {
			marker = tag[3]
		}

		switch marker {
		case "root":
			info.RootEventID = tag[1]
		case "reply":
			info.ReplyToID = tag[1]
		default:
			info.MentionedIDs = append(info.MentionedIDs, tag[1])
		}
	}

	// a lone root marker means a direct reply to the root
	if info.ReplyToID == "" {
		info.ReplyToID = info.RootEventID
	}
	if info.RootEventID == "" {
		info.RootEventID = info.ReplyToID
	}

	return info
}

// parsePositionalFormat handles the deprecated [root, ...mentions, reply] layout
func parsePositionalFormat(eTags []nostr.Tag) *ThreadInfo {
	info := &ThreadInfo{
		MentionedIDs: make([]string, 0),
		RootEventID:  eTags[0][1],
		ReplyToID:    eTags[len(eTags)-1][1],
	}

	for i := 1; i < len(eTags)-1; i++ {
		info.MentionedIDs = append(info.MentionedIDs, eTags[i][1])
	}

	return info
}

// IsReply returns true if this event is a reply to another event
func (ti *ThreadInfo) IsReply() bool {
	return ti.ReplyToID != ""
}

// IsRoot returns true if this event starts a new thread
func (ti *ThreadInfo) IsRoot() bool {
	return ti.RootEventID == "" && ti.ReplyToID == ""
}

// GetRootOrSelf returns the root event ID, or the event itself if it's a root
func (ti *ThreadInfo) GetRootOrSelf(eventID string) string {
	if ti.RootEventID != "" {
		return ti.RootEventID
	}
	return eventID
}

// ReplyTargets returns the notes this event should be listed under as a reply:
// the direct parent, plus the root when it differs.
func (ti *ThreadInfo) ReplyTargets() []string {
	if ti.ReplyToID == "" {
		return nil
	}
	if ti.RootEventID == "" || ti.RootEventID == ti.ReplyToID {
		return []string{ti.ReplyToID}
	}
	return []string{ti.ReplyToID, ti.RootEventID}
}

// ExtractMentionedPubkeys extracts pubkeys from p tags
func ExtractMentionedPubkeys(ev *nostr.Event) []string {
	pubkeys := make([]string, 0)
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && IsHexID(tag[1]) {
			pubkeys = append(pubkeys, tag[1])
		}
	}
	return pubkeys
}

// IsMentioningPubkey checks if an event mentions a specific pubkey
func IsMentioningPubkey(ev *nostr.Event, pubkey string) bool {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == pubkey {
			return true
		}
	}
	return false
}
