package event

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

func hexID(n int) string {
	return fmt.Sprintf("%064x", n)
}

func newEvent(id, author int, kind int, tags nostr.Tags, content string) *nostr.Event {
	return &nostr.Event{
		ID:        hexID(id),
		PubKey:    hexID(author),
		CreatedAt: nostr.Timestamp(1700000000 + id),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}
