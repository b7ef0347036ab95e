package cache

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/shopspring/decimal"

	"github.com/sandwichfarm/notecache/internal/event"
)

// NotificationRoute is the read-marker route for everything that is not a chatroom
const NotificationRoute = "Notification"

// Viewer is the account perspective pruning is evaluated from
type Viewer interface {
	Pubkey() string
	IsFollowing(pubkey string) bool
	IsHidden(pubkey string) bool
	LastRead(route string) nostr.Timestamp
}

// Candidate describes a note being considered for removal
type Candidate struct {
	Note          *Note
	Event         *nostr.Event
	Kind          int
	Author        string
	Age           time.Duration
	IsOwn         bool
	IsFollowed    bool
	IsHidden      bool
	IsRead        bool
	IsPlaceholder bool
	ReplyCount    int
	ReactionCount int
}

// ZapSats sums the paid amounts of every receipt paired on the note
func (c Candidate) ZapSats() decimal.Decimal {
	total := decimal.Zero
	for _, receipt := range c.Note.Snapshot().Zaps {
		if receipt == nil {
			continue
		}
		v, err := event.Parse(receipt.Event())
		if err != nil {
			continue
		}
		if zr, ok := v.(*event.ZapReceipt); ok {
			if amount, ok := zr.Amount(); ok {
				total = total.Add(amount)
			}
		}
	}
	return total
}

// Policy decides which candidates an age-based pass may remove
type Policy interface {
	ShouldPrune(c Candidate) bool
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(c Candidate) bool

func (f PolicyFunc) ShouldPrune(c Candidate) bool { return f(c) }

func (s *Store) candidate(n *Note, viewer Viewer, now time.Time) Candidate {
	n.mu.RLock()
	ev := n.event
	c := Candidate{
		Note:          n,
		Event:         ev,
		Kind:          -1,
		Author:        n.author,
		IsPlaceholder: ev == nil && !n.deleted,
		ReplyCount:    len(n.replies),
		ReactionCount: len(n.reactions),
	}
	n.mu.RUnlock()

	if ev == nil {
		c.Age = now.Sub(n.LastTouched())
		return c
	}

	c.Kind = ev.Kind
	c.Age = now.Sub(ev.CreatedAt.Time())
	if viewer == nil {
		return c
	}

	c.IsOwn = c.Author == viewer.Pubkey()
	c.IsFollowed = viewer.IsFollowing(c.Author)
	c.IsHidden = viewer.IsHidden(c.Author)

	route := NotificationRoute
	if ev.Kind == event.KindEncryptedDM {
		route = event.ChatroomRoute(ev, viewer.Pubkey())
	}
	c.IsRead = ev.CreatedAt <= viewer.LastRead(route)
	return c
}

// PruneOldAndHidden removes notes the policy rejects. Protected threads and
// notes that still have replies are kept.
func (s *Store) PruneOldAndHidden(ctx context.Context, viewer Viewer, policy Policy) (int, error) {
	now := time.Now()
	return s.prune(ctx, "old_and_hidden", func(n *Note) bool {
		return policy.ShouldPrune(s.candidate(n, viewer, now))
	})
}

// PruneHidden removes every note authored by a hidden user
func (s *Store) PruneHidden(ctx context.Context, viewer Viewer) (int, error) {
	self := viewer.Pubkey()
	return s.prune(ctx, "hidden", func(n *Note) bool {
		author := n.AuthorPubkey()
		return author != "" && author != self && viewer.IsHidden(author)
	})
}

// PruneContactLists removes contact lists superseded by a newer one from the same author
func (s *Store) PruneContactLists(ctx context.Context) (int, error) {
	return s.prune(ctx, "contact_lists", func(n *Note) bool {
		if n.Kind() != event.KindContactList {
			return false
		}
		u, ok := s.users.Load(n.AuthorPubkey())
		return ok && u.ContactListID() != n.IDHex
	})
}

// prune removes selected notes leaves first, so a parent goes only after every
// reply under it has gone in the same pass.
func (s *Store) prune(ctx context.Context, pass string, selected func(*Note) bool) (int, error) {
	start := time.Now()

	pending := make(map[string]*Note)
	s.notes.Range(func(id string, n *Note) bool {
		if ctx.Err() != nil {
			return false
		}
		if !s.isProtected(n) && selected(n) {
			pending[id] = n
		}
		return true
	})

	removed := 0
	err := ctx.Err()
	for progress := err == nil; progress && len(pending) > 0; {
		progress = false
		for id, n := range pending {
			if err = ctx.Err(); err != nil {
				break
			}
			if s.remove(n) {
				removed++
				progress = true
				delete(pending, id)
			}
		}
		if err != nil {
			break
		}
	}

	s.logger.LogPrune(pass, removed, time.Since(start), err)
	return removed, err
}

// remove detaches n from the graph. It refuses when replies are still linked
// or when a thread covering n was protected after selection.
func (s *Store) remove(n *Note) bool {
	ancestors := s.ancestors(n)
	n.mu.Lock()
	if n.removed || len(n.replies) > 0 || s.protectedLocked(n, ancestors) {
		n.mu.Unlock()
		return false
	}
	n.removed = true
	ev := n.event
	author := n.author
	parents := make([]string, 0, len(n.parents))
	for id := range n.parents {
		parents = append(parents, id)
	}
	n.mu.Unlock()

	s.evict(n)

	for _, id := range parents {
		p, ok := s.notes.Load(id)
		if !ok {
			continue
		}
		p.mutate(s, func() bool {
			changed, _ := p.unlinkChild(n)
			return changed
		})
	}

	if author != "" {
		if u, ok := s.users.Load(author); ok {
			u.mutate(s, func() bool { return u.removeNote(n.IDHex) })
		}
	}

	s.forgetReceipt(n, ev)
	n.watchers.sweepAll()
	s.notifyRemoved(n)
	return true
}

func (s *Store) forgetReceipt(n *Note, ev *nostr.Event) {
	dropIfSame := func(key string) {
		s.receipts.Compute(key, func(current *Note, loaded bool) (*Note, bool) {
			if !loaded {
				return current, true
			}
			return current, current == n
		})
	}

	if ev == nil || ev.Kind != event.KindZapReceipt {
		return
	}
	if v, err := event.Parse(ev); err == nil {
		if zr, ok := v.(*event.ZapReceipt); ok {
			dropIfSame(zr.RequestID())
		}
	}
}
