package aggregates

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
	"github.com/shopspring/decimal"

	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/event"
	"github.com/sandwichfarm/notecache/internal/zaps"
)

// MultiSetCard rolls up the boosts, likes and zaps a note received into one
// feed row. Pending zap requests map to a nil receipt.
type MultiSetCard struct {
	Note        *cache.Note
	CreatedAt   nostr.Timestamp
	ZapEvents   map[*cache.Note]*cache.Note
	BoostEvents []*cache.Note
	LikeEvents  []*cache.Note
	ZapTotal    decimal.Decimal
}

// ID is the grouping key, the target note id
func (c MultiSetCard) ID() string {
	return c.Note.IDHex
}

// ZapTotalText is the formatted sum of paid zaps
func (c MultiSetCard) ZapTotalText() string {
	return zaps.ShowAmount(c.ZapTotal)
}

// IsEmpty reports whether the card has nothing to show
func (c MultiSetCard) IsEmpty() bool {
	return len(c.ZapEvents) == 0 && len(c.BoostEvents) == 0 && len(c.LikeEvents) == 0
}

// IsNew reports whether the card changed after the reader's last visit
func IsNew(c MultiSetCard, lastRead nostr.Timestamp) bool {
	return c.CreatedAt > lastRead
}

// SnapshotCard builds the card for note from one consistent snapshot of its
// interaction sets. CreatedAt is the newest interaction, or the note itself
// when nothing has interacted with it yet.
func SnapshotCard(note *cache.Note) MultiSetCard {
	snap := note.Snapshot()

	card := MultiSetCard{
		Note:        note,
		ZapEvents:   snap.Zaps,
		BoostEvents: sortByCreatedAt(snap.Boosts),
		LikeEvents:  sortByCreatedAt(snap.Reactions),
		ZapTotal:    decimal.Zero,
	}
	if snap.Event != nil {
		card.CreatedAt = snap.Event.CreatedAt
	}

	newest := nostr.Timestamp(0)
	bump := func(n *cache.Note) {
		if n == nil {
			return
		}
		if ts := n.CreatedAt(); ts > newest {
			newest = ts
		}
	}

	for _, n := range card.BoostEvents {
		bump(n)
	}
	for _, n := range card.LikeEvents {
		bump(n)
	}
	for req, receipt := range card.ZapEvents {
		bump(req)
		bump(receipt)
		if amount, ok := zaps.ComputeAmount(receipt); ok {
			card.ZapTotal = card.ZapTotal.Add(amount)
		}
	}

	if newest > 0 {
		card.CreatedAt = newest
	}
	return card
}

// GroupInteractions folds interaction notes (likes, boosts, zap receipts and
// requests) into one card per target note. Each card only carries the given
// interactions, not everything the target ever received.
func GroupInteractions(store *cache.Store, interactions []*cache.Note) []MultiSetCard {
	byTarget := make(map[string]*MultiSetCard)
	target := func(id string) *MultiSetCard {
		card, ok := byTarget[id]
		if !ok {
			card = &MultiSetCard{
				Note:      store.GetOrCreateNote(id),
				ZapEvents: make(map[*cache.Note]*cache.Note),
				ZapTotal:  decimal.Zero,
			}
			byTarget[id] = card
		}
		return card
	}

	for _, n := range interactions {
		v, err := event.Parse(n.Event())
		if err != nil {
			continue
		}

		switch x := v.(type) {
		case *event.Reaction:
			card := target(x.Target)
			card.LikeEvents = append(card.LikeEvents, n)
			card.bump(n.CreatedAt())

		case *event.Repost:
			card := target(x.Target)
			card.BoostEvents = append(card.BoostEvents, n)
			card.bump(n.CreatedAt())

		case *event.ZapReceipt:
			req := store.GetOrCreateNote(x.RequestID())
			for _, id := range x.Targets {
				card := target(id)
				card.ZapEvents[req] = n
				card.bump(n.CreatedAt())
			}

		case *event.ZapRequest:
			for _, id := range x.Targets {
				card := target(id)
				if _, ok := card.ZapEvents[n]; !ok {
					card.ZapEvents[n] = nil
				}
				card.bump(n.CreatedAt())
			}
		}
	}

	cards := make([]MultiSetCard, 0, len(byTarget))
	for _, card := range byTarget {
		for _, receipt := range card.ZapEvents {
			if amount, ok := zaps.ComputeAmount(receipt); ok {
				card.ZapTotal = card.ZapTotal.Add(amount)
			}
		}
		card.LikeEvents = sortByCreatedAt(card.LikeEvents)
		card.BoostEvents = sortByCreatedAt(card.BoostEvents)
		cards = append(cards, *card)
	}

	sort.Slice(cards, func(i, j int) bool {
		if cards[i].CreatedAt != cards[j].CreatedAt {
			return cards[i].CreatedAt > cards[j].CreatedAt
		}
		return cards[i].ID() < cards[j].ID()
	})
	return cards
}

func (c *MultiSetCard) bump(ts nostr.Timestamp) {
	if ts > c.CreatedAt {
		c.CreatedAt = ts
	}
}

// sortByCreatedAt orders newest first, ties by id
func sortByCreatedAt(notes []*cache.Note) []*cache.Note {
	sort.Slice(notes, func(i, j int) bool {
		a, b := notes[i].CreatedAt(), notes[j].CreatedAt()
		if a != b {
			return a > b
		}
		return notes[i].IDHex < notes[j].IDHex
	})
	return notes
}
