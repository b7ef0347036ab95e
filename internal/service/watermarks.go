package service

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
)

// Watermarks track the newest regular event each scope has received from each
// relay so a resumed subscription does not ask a relay for history it already
// sent. A relay that lagged keeps its own older mark.
type Watermarks struct {
	marks *xsync.MapOf[string, nostr.Timestamp]
}

// NewWatermarks creates an empty watermark set
func NewWatermarks() *Watermarks {
	return &Watermarks{marks: xsync.NewMapOf[string, nostr.Timestamp]()}
}

// Since returns the watermark for a scope key on relay, 0 before the first event
func (w *Watermarks) Since(key, relay string) nostr.Timestamp {
	ts, _ := w.marks.Load(markKey(key, relay))
	return ts
}

// Advance moves the scope's watermark to ev's createdAt if it is newer.
// Replaceable events never move it since they are fetched without a cursor.
func (w *Watermarks) Advance(key, relay string, ev *nostr.Event) bool {
	if ev == nil || isReplaceable(ev.Kind) {
		return false
	}

	moved := false
	w.marks.Compute(markKey(key, relay), func(old nostr.Timestamp, loaded bool) (nostr.Timestamp, bool) {
		if loaded && old >= ev.CreatedAt {
			return old, false
		}
		moved = true
		return ev.CreatedAt, false
	})
	return moved
}

// Reset forgets every watermark
func (w *Watermarks) Reset() {
	w.marks.Clear()
}

// All returns a copy of every watermark keyed by scope key and relay
func (w *Watermarks) All() map[string]nostr.Timestamp {
	out := make(map[string]nostr.Timestamp, w.marks.Size())
	w.marks.Range(func(key string, ts nostr.Timestamp) bool {
		out[key] = ts
		return true
	})
	return out
}

func markKey(key, relay string) string {
	return key + "|" + relay
}
