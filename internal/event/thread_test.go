package event

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseThreadInfo(t *testing.T) {
	root, parent, mention := hexID(1), hexID(2), hexID(3)

	tests := []struct {
		name         string
		tags         nostr.Tags
		wantRoot     string
		wantReply    string
		wantMentions []string
	}{
		{
			name: "marked format",
			tags: nostr.Tags{
				{"e", root, "", "root"},
				{"e", parent, "", "reply"},
				{"e", mention, "", "mention"},
			},
			wantRoot:     root,
			wantReply:    parent,
			wantMentions: []string{mention},
		},
		{
			name:      "marked root only is a direct reply",
			tags:      nostr.Tags{{"e", root, "", "root"}},
			wantRoot:  root,
			wantReply: root,
		},
		{
			name:      "positional one tag",
			tags:      nostr.Tags{{"e", parent}},
			wantRoot:  parent,
			wantReply: parent,
		},
		{
			name:      "positional two tags",
			tags:      nostr.Tags{{"e", root}, {"e", parent}},
			wantRoot:  root,
			wantReply: parent,
		},
		{
			name:         "positional many tags",
			tags:         nostr.Tags{{"e", root}, {"e", mention}, {"e", parent}},
			wantRoot:     root,
			wantReply:    parent,
			wantMentions: []string{mention},
		},
		{
			name:      "malformed ids are skipped",
			tags:      nostr.Tags{{"e", "not-hex"}, {"e", parent}},
			wantRoot:  parent,
			wantReply: parent,
		},
		{
			name: "no tags",
			tags: nostr.Tags{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseThreadInfo(newEvent(10, 1, KindTextNote, tt.tags, "hi"))

			if info.RootEventID != tt.wantRoot {
				t.Errorf("RootEventID = %q, want %q", info.RootEventID, tt.wantRoot)
			}
			if info.ReplyToID != tt.wantReply {
				t.Errorf("ReplyToID = %q, want %q", info.ReplyToID, tt.wantReply)
			}
			if len(info.MentionedIDs) != len(tt.wantMentions) {
				t.Fatalf("MentionedIDs = %v, want %v", info.MentionedIDs, tt.wantMentions)
			}
			for i := range tt.wantMentions {
				if info.MentionedIDs[i] != tt.wantMentions[i] {
					t.Errorf("MentionedIDs[%d] = %q, want %q", i, info.MentionedIDs[i], tt.wantMentions[i])
				}
			}
		})
	}
}

func TestThreadInfo_ReplyTargets(t *testing.T) {
	root, parent := hexID(1), hexID(2)

	tests := []struct {
		name string
		info ThreadInfo
		want int
	}{
		{"root post", ThreadInfo{}, 0},
		{"direct reply", ThreadInfo{RootEventID: root, ReplyToID: root}, 1},
		{"nested reply", ThreadInfo{RootEventID: root, ReplyToID: parent}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.ReplyTargets(); len(got) != tt.want {
				t.Errorf("ReplyTargets() = %v, want %d entries", got, tt.want)
			}
			if tt.info.IsRoot() != (tt.want == 0) {
				t.Errorf("IsRoot() = %v", tt.info.IsRoot())
			}
		})
	}
}

func TestThreadInfo_GetRootOrSelf(t *testing.T) {
	self := hexID(9)
	if got := (&ThreadInfo{}).GetRootOrSelf(self); got != self {
		t.Errorf("GetRootOrSelf() = %q, want self", got)
	}
	if got := (&ThreadInfo{RootEventID: hexID(1)}).GetRootOrSelf(self); got != hexID(1) {
		t.Errorf("GetRootOrSelf() = %q, want root", got)
	}
}

func TestMentionedPubkeys(t *testing.T) {
	ev := newEvent(10, 1, KindTextNote, nostr.Tags{
		{"p", hexID(5)},
		{"e", hexID(6)},
		{"p", "short"},
		{"p", hexID(7)},
	}, "")

	got := ExtractMentionedPubkeys(ev)
	if len(got) != 2 || got[0] != hexID(5) || got[1] != hexID(7) {
		t.Errorf("ExtractMentionedPubkeys() = %v", got)
	}
	if !IsMentioningPubkey(ev, hexID(7)) {
		t.Error("expected mention of pubkey 7")
	}
	if IsMentioningPubkey(ev, hexID(8)) {
		t.Error("did not expect mention of pubkey 8")
	}
}
