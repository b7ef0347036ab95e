package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Note is one event plus the interaction edges other events created against it.
// A Note without an event is a placeholder: referenced but not yet received.
type Note struct {
	IDHex string

	mu        sync.RWMutex
	event     *nostr.Event
	author    string
	root      string
	deleted   bool
	removed   bool
	parents   map[string]struct{}
	replies   map[string]*Note
	boosts    map[string]*Note
	reactions map[string]*Note
	zaps      map[*Note]*Note
	reports   map[string]*Note
	relays    map[string]struct{}

	lastTouched atomic.Int64
	watchers    watchers
}

func newNote(id string) *Note {
	n := &Note{
		IDHex:     id,
		parents:   make(map[string]struct{}),
		replies:   make(map[string]*Note),
		boosts:    make(map[string]*Note),
		reactions: make(map[string]*Note),
		zaps:      make(map[*Note]*Note),
		reports:   make(map[string]*Note),
		relays:    make(map[string]struct{}),
	}
	n.touch()
	return n
}

func (n *Note) touch() {
	n.lastTouched.Store(time.Now().UnixNano())
}

// NoteSnapshot is a consistent copy of a note's state taken under one lock
type NoteSnapshot struct {
	ID        string
	Event     *nostr.Event
	Author    string
	Deleted   bool
	Replies   []*Note
	Boosts    []*Note
	Reactions []*Note
	Zaps      map[*Note]*Note
	Reports   []*Note
	Relays    []string
}

// Snapshot copies the note's sets. Readers never see a half-applied ingest.
func (n *Note) Snapshot() NoteSnapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()

	zaps := make(map[*Note]*Note, len(n.zaps))
	for req, receipt := range n.zaps {
		zaps[req] = receipt
	}

	relays := make([]string, 0, len(n.relays))
	for r := range n.relays {
		relays = append(relays, r)
	}

	return NoteSnapshot{
		ID:        n.IDHex,
		Event:     n.event,
		Author:    n.author,
		Deleted:   n.deleted,
		Replies:   values(n.replies),
		Boosts:    values(n.boosts),
		Reactions: values(n.reactions),
		Zaps:      zaps,
		Reports:   values(n.reports),
		Relays:    relays,
	}
}

func values(m map[string]*Note) []*Note {
	out := make([]*Note, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Event returns the underlying event, nil for placeholders and deleted notes
func (n *Note) Event() *nostr.Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.event
}

// IsPlaceholder reports whether only references to this note have been seen
func (n *Note) IsPlaceholder() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.event == nil && !n.deleted
}

// IsDeleted reports whether the author retracted this note
func (n *Note) IsDeleted() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.deleted
}

// AuthorPubkey returns the author's pubkey, empty while the note is a placeholder
func (n *Note) AuthorPubkey() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.author
}

// CreatedAt returns the event timestamp, zero for placeholders
func (n *Note) CreatedAt() nostr.Timestamp {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.event == nil {
		return 0
	}
	return n.event.CreatedAt
}

// Kind returns the event kind, -1 for placeholders
func (n *Note) Kind() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.event == nil {
		return -1
	}
	return n.event.Kind
}

// LastTouched returns when the store last linked anything to this note
func (n *Note) LastTouched() time.Time {
	return time.Unix(0, n.lastTouched.Load())
}

// ParentIDs returns the ids this note was linked under
func (n *Note) ParentIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.parents))
	for id := range n.parents {
		out = append(out, id)
	}
	return out
}

// ReplyCount returns the number of replies currently linked
func (n *Note) ReplyCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.replies)
}

// HasZapRequest reports whether req is in this note's zap map
func (n *Note) HasZapRequest(req *Note) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.zaps[req]
	return ok
}

// ZapReceiptFor returns the receipt paired with req, nil while pending
func (n *Note) ZapReceiptFor(req *Note) *Note {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.zaps[req]
}

// IsBoostedBy reports whether pubkey has boosted this note
func (n *Note) IsBoostedBy(pubkey string) bool {
	n.mu.RLock()
	boosts := values(n.boosts)
	n.mu.RUnlock()
	return anyAuthoredBy(boosts, pubkey)
}

// IsReactedBy reports whether pubkey has reacted to this note
func (n *Note) IsReactedBy(pubkey string) bool {
	n.mu.RLock()
	reactions := values(n.reactions)
	n.mu.RUnlock()
	return anyAuthoredBy(reactions, pubkey)
}

// ReactionCounts groups reactions by content ("+" for plain likes)
func (n *Note) ReactionCounts() map[string]int {
	n.mu.RLock()
	reactions := values(n.reactions)
	n.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range reactions {
		ev := r.Event()
		if ev == nil {
			continue
		}
		content := ev.Content
		if content == "" {
			content = "+"
		}
		counts[content]++
	}
	return counts
}

func anyAuthoredBy(notes []*Note, pubkey string) bool {
	for _, c := range notes {
		if c.AuthorPubkey() == pubkey {
			return true
		}
	}
	return false
}

// mutate runs fn under the write lock. Notes already removed by pruning
// refuse mutation so the caller can relink against a fresh instance.
func (n *Note) mutate(s *Store, fn func() bool) (changed, alive bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return false, false
	}
	if fn() {
		n.touch()
		s.markNoteDirty(n)
		return true, true
	}
	return false, true
}

// setEvent promotes a placeholder. It reports false when the event was already known.
func (n *Note) setEvent(ev *nostr.Event, root string) bool {
	if n.event != nil || n.deleted {
		return false
	}
	n.event = ev
	n.author = ev.PubKey
	n.root = root
	return true
}

func (n *Note) addRelay(url string) bool {
	if url == "" {
		return false
	}
	if _, ok := n.relays[url]; ok {
		return false
	}
	n.relays[url] = struct{}{}
	return true
}

func addTo(set map[string]*Note, child *Note) bool {
	if _, ok := set[child.IDHex]; ok {
		return false
	}
	set[child.IDHex] = child
	return true
}

// addZap records a request and, when known, its receipt. A paired entry is never downgraded.
func (n *Note) addZap(req, receipt *Note) bool {
	current, ok := n.zaps[req]
	if ok && (current != nil || receipt == nil) {
		return false
	}
	n.zaps[req] = receipt
	return true
}

func (n *Note) pendingZapRequests() []*Note {
	n.mu.RLock()
	defer n.mu.RUnlock()
	pending := make([]*Note, 0)
	for req, receipt := range n.zaps {
		if receipt == nil {
			pending = append(pending, req)
		}
	}
	return pending
}

// unlinkChild drops child from every set. It reports whether child was a reply.
func (n *Note) unlinkChild(child *Note) (changed, wasReply bool) {
	if _, ok := n.replies[child.IDHex]; ok {
		delete(n.replies, child.IDHex)
		changed, wasReply = true, true
	}
	if _, ok := n.boosts[child.IDHex]; ok {
		delete(n.boosts, child.IDHex)
		changed = true
	}
	if _, ok := n.reactions[child.IDHex]; ok {
		delete(n.reactions, child.IDHex)
		changed = true
	}
	if _, ok := n.reports[child.IDHex]; ok {
		delete(n.reports, child.IDHex)
		changed = true
	}
	if _, ok := n.zaps[child]; ok {
		delete(n.zaps, child)
		changed = true
	}
	for req, receipt := range n.zaps {
		if receipt == child {
			n.zaps[req] = nil
			changed = true
		}
	}
	return changed, wasReply
}
