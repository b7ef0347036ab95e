package cache

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/goleak"

	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/event"
	"github.com/sandwichfarm/notecache/internal/ops"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testRelay = "wss://relay.example.com"

func hexID(n int) string {
	return fmt.Sprintf("%064x", n)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreWithDebounce(t, 5)
}

func newTestStoreWithDebounce(t *testing.T, debounceMs int) *Store {
	t.Helper()
	s := New(&config.Cache{
		ObserverDebounceMs: debounceMs,
		ErrorLogPerSecond:  1,
		ErrorLogBurst:      1,
	}, ops.Discard())
	t.Cleanup(s.Close)
	return s
}

func newEvent(id, author, kind int, tags nostr.Tags, content string) *nostr.Event {
	if tags == nil {
		tags = nostr.Tags{}
	}
	return &nostr.Event{
		ID:        hexID(id),
		PubKey:    hexID(author),
		CreatedAt: nostr.Timestamp(1700000000 + id),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

func textNote(id, author int, content string) *nostr.Event {
	return newEvent(id, author, event.KindTextNote, nil, content)
}

func replyTo(id, author, root, parent int) *nostr.Event {
	tags := nostr.Tags{{"e", hexID(root), "", "root"}}
	if parent != root {
		tags = append(tags, nostr.Tag{"e", hexID(parent), "", "reply"})
	}
	return newEvent(id, author, event.KindTextNote, tags, "reply")
}

func reaction(id, author, target int) *nostr.Event {
	return newEvent(id, author, event.KindReaction, nostr.Tags{{"e", hexID(target)}}, "+")
}

func zapPair(t *testing.T, reqID, receiptID, sender, recipient, target int, invoice string) (*nostr.Event, *nostr.Event) {
	t.Helper()
	req := newEvent(reqID, sender, event.KindZapRequest, nostr.Tags{
		{"e", hexID(target)},
		{"p", hexID(recipient)},
		{"amount", "5000"},
	}, "nice")
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	receipt := newEvent(receiptID, recipient+1000, event.KindZapReceipt, nostr.Tags{
		{"e", hexID(target)},
		{"p", hexID(recipient)},
		{"bolt11", invoice},
		{"description", string(raw)},
	}, "")
	return req, receipt
}
