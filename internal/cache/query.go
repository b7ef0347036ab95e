package cache

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
)

// Query returns cached notes whose events match filter, newest first.
// Placeholders and deleted notes never match.
func (s *Store) Query(filter nostr.Filter) []*Note {
	matched := make([]*Note, 0)
	s.notes.Range(func(_ string, n *Note) bool {
		ev := n.Event()
		if ev != nil && filter.Matches(ev) {
			matched = append(matched, n)
		}
		return true
	})

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].CreatedAt(), matched[j].CreatedAt()
		if a != b {
			return a > b
		}
		return matched[i].IDHex < matched[j].IDHex
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// RangeNotes calls fn for each cached note until fn returns false
func (s *Store) RangeNotes(fn func(n *Note) bool) {
	s.notes.Range(func(_ string, n *Note) bool {
		return fn(n)
	})
}

// RangeUsers calls fn for each cached user until fn returns false
func (s *Store) RangeUsers(fn func(u *User) bool) {
	s.users.Range(func(_ string, u *User) bool {
		return fn(u)
	})
}
