package event

import (
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseVariants(t *testing.T) {
	target := hexID(100)
	author := hexID(200)

	tests := []struct {
		name  string
		event *nostr.Event
		check func(t *testing.T, v Variant)
	}{
		{
			name:  "text note reply",
			event: newEvent(1, 1, KindTextNote, nostr.Tags{{"e", target}, {"p", author}}, "hi"),
			check: func(t *testing.T, v Variant) {
				note, ok := v.(*TextNote)
				if !ok {
					t.Fatalf("got %T", v)
				}
				if !note.Thread.IsReply() || note.Mentions[0] != author {
					t.Errorf("unexpected note: %+v", note)
				}
			},
		},
		{
			name:  "reaction uses last e tag and defaults to plus",
			event: newEvent(2, 1, KindReaction, nostr.Tags{{"e", hexID(99)}, {"e", target}, {"p", author}}, ""),
			check: func(t *testing.T, v Variant) {
				r := v.(*Reaction)
				if r.Target != target || r.Content != "+" || r.TargetAuthor != author {
					t.Errorf("unexpected reaction: %+v", r)
				}
			},
		},
		{
			name:  "repost",
			event: newEvent(3, 1, KindRepost, nostr.Tags{{"e", target}, {"p", author}}, ""),
			check: func(t *testing.T, v Variant) {
				if r := v.(*Repost); r.Target != target {
					t.Errorf("unexpected repost: %+v", r)
				}
			},
		},
		{
			name:  "deletion dedupes targets",
			event: newEvent(4, 1, KindDeletion, nostr.Tags{{"e", target}, {"e", target}, {"e", hexID(101)}}, ""),
			check: func(t *testing.T, v Variant) {
				if d := v.(*Deletion); len(d.Targets) != 2 {
					t.Errorf("Targets = %v", d.Targets)
				}
			},
		},
		{
			name:  "contact list",
			event: newEvent(5, 1, KindContactList, nostr.Tags{{"p", hexID(7)}, {"p", hexID(8)}, {"p", "bad"}}, ""),
			check: func(t *testing.T, v Variant) {
				if c := v.(*ContactList); len(c.Follows) != 2 {
					t.Errorf("Follows = %v", c.Follows)
				}
			},
		},
		{
			name:  "report against a user",
			event: newEvent(6, 1, KindReport, nostr.Tags{{"p", author, "Spam"}}, ""),
			check: func(t *testing.T, v Variant) {
				r := v.(*Report)
				if r.TargetUser != author || r.Reason != "spam" || r.TargetNote != "" {
					t.Errorf("unexpected report: %+v", r)
				}
			},
		},
		{
			name:  "channel message prefers root marker",
			event: newEvent(7, 1, KindChannelMessage, nostr.Tags{{"e", hexID(50), "", "reply"}, {"e", target, "", "root"}}, "yo"),
			check: func(t *testing.T, v Variant) {
				if m := v.(*ChannelMessage); m.Channel != target {
					t.Errorf("Channel = %q", m.Channel)
				}
			},
		},
		{
			name:  "unknown kind is generic",
			event: newEvent(8, 1, 31337, nil, ""),
			check: func(t *testing.T, v Variant) {
				if _, ok := v.(*Generic); !ok {
					t.Errorf("got %T", v)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.event)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if v.Raw() != tt.event {
				t.Fatal("Raw() does not return the parsed event")
			}
			tt.check(t, v)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		event *nostr.Event
	}{
		{"nil event", nil},
		{"short id", &nostr.Event{ID: "abc", PubKey: hexID(1), Kind: KindTextNote}},
		{"uppercase pubkey", &nostr.Event{ID: hexID(1), PubKey: "ABCDEF" + hexID(1)[6:], Kind: KindTextNote}},
		{"reaction without target", newEvent(1, 1, KindReaction, nostr.Tags{{"e", "nope"}}, "+")},
		{"repost without target", newEvent(2, 1, KindRepost, nil, "")},
		{"deletion without targets", newEvent(3, 1, KindDeletion, nil, "")},
		{"metadata not json", newEvent(4, 1, KindMetadata, nil, "{name")},
		{"metadata array", newEvent(5, 1, KindMetadata, nil, "[1,2]")},
		{"dm without recipient", newEvent(6, 1, KindEncryptedDM, nil, "x?iv=y")},
		{"report without target", newEvent(7, 1, KindReport, nil, "")},
		{"zap request without recipient", newEvent(8, 1, KindZapRequest, nil, "")},
		{"zap receipt without description", newEvent(9, 1, KindZapReceipt, nostr.Tags{{"bolt11", "lnbc10n1x"}}, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.event)
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("Parse() error = %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestSupersedes(t *testing.T) {
	older := &nostr.Event{ID: hexID(9), CreatedAt: 10}
	newer := &nostr.Event{ID: hexID(1), CreatedAt: 11}
	tieLow := &nostr.Event{ID: hexID(2), CreatedAt: 11}
	tieHigh := &nostr.Event{ID: hexID(3), CreatedAt: 11}

	tests := []struct {
		name string
		a, b *nostr.Event
		want bool
	}{
		{"newer wins", newer, older, true},
		{"older loses", older, newer, false},
		{"tie broken by larger id", tieHigh, tieLow, true},
		{"tie smaller id loses", tieLow, tieHigh, false},
		{"anything beats nothing", older, nil, true},
		{"same event does not supersede itself", newer, newer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Supersedes(tt.a, tt.b); got != tt.want {
				t.Errorf("Supersedes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfile(t *testing.T) {
	p, err := ParseProfile(`{"name":" bob ","displayName":"Bobby","picture":"https://x/p.png","nip05":"bob@x.com","extra":1}`)
	if err != nil {
		t.Fatalf("ParseProfile() error = %v", err)
	}
	if p.Name != "bob" || p.DisplayName != "Bobby" || p.Nip05 != "bob@x.com" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.BestName() != "Bobby" {
		t.Errorf("BestName() = %q", p.BestName())
	}
}

func TestKindHelpers(t *testing.T) {
	if !IsReplaceable(KindRelayList) || !IsReplaceable(KindMetadata) || IsReplaceable(KindTextNote) {
		t.Error("IsReplaceable classification is wrong")
	}
	if !IsInteraction(KindZapReceipt) || IsInteraction(KindTextNote) {
		t.Error("IsInteraction classification is wrong")
	}
}
