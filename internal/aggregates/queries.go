package aggregates

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
	"github.com/shopspring/decimal"

	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/event"
	"github.com/sandwichfarm/notecache/internal/zaps"
)

// Sort modes for feed queries
const (
	SortChronological = "chronological"
	SortEngagement    = "engagement"
)

// EnrichedNote is a cached note with its interaction counts
type EnrichedNote struct {
	Note       *cache.Note
	Event      *nostr.Event
	Aggregates EventAggregates
}

// ThreadView is a root note and every cached reply under it
type ThreadView struct {
	RootID string
	// Root is nil when the root note is not cached
	Root    *EnrichedNote
	Replies []*EnrichedNote
}

// ZapEntry is one paid zap in a user's zap feed
type ZapEntry struct {
	Request *cache.Note
	Receipt *cache.Note
	Target  *cache.Note
	Amount  decimal.Decimal
}

// QueryHelper answers the account's feed questions from the cache
type QueryHelper struct {
	store *cache.Store
	owner string
}

// NewQueryHelper creates a helper for the account with ownerPubkey
func NewQueryHelper(store *cache.Store, ownerPubkey string) *QueryHelper {
	return &QueryHelper{store: store, owner: ownerPubkey}
}

// GetOutboxNotes returns notes authored by the owner
func (qh *QueryHelper) GetOutboxNotes(limit int, sortMode string) []*EnrichedNote {
	notes := qh.store.Query(nostr.Filter{
		Kinds:   []int{event.KindTextNote},
		Authors: []string{qh.owner},
	})
	return qh.filterAndSort(enrich(notes), sortMode, limit)
}

// GetInboxReplies returns notes by others that mention the owner
func (qh *QueryHelper) GetInboxReplies(limit int) []*EnrichedNote {
	notes := qh.store.Query(nostr.Filter{
		Kinds: []int{event.KindTextNote},
		Tags:  nostr.TagMap{"p": []string{qh.owner}},
	})

	replies := make([]*cache.Note, 0, len(notes))
	for _, n := range notes {
		if n.AuthorPubkey() != qh.owner {
			replies = append(replies, n)
		}
	}
	return qh.filterAndSort(enrich(replies), SortChronological, limit)
}

// GetInboxReactions returns reactions others left on the owner's notes
func (qh *QueryHelper) GetInboxReactions(limit int) []*cache.Note {
	out := make([]*cache.Note, 0)
	for _, own := range qh.store.Query(nostr.Filter{Authors: []string{qh.owner}}) {
		for _, r := range own.Snapshot().Reactions {
			if r.AuthorPubkey() != qh.owner && r.Event() != nil {
				out = append(out, r)
			}
		}
	}
	out = sortByCreatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetNotifications groups interactions on the owner's notes into cards
func (qh *QueryHelper) GetNotifications(limit int) []MultiSetCard {
	interactions := make([]*cache.Note, 0)
	for _, own := range qh.store.Query(nostr.Filter{Authors: []string{qh.owner}}) {
		snap := own.Snapshot()
		interactions = append(interactions, snap.Boosts...)
		interactions = append(interactions, snap.Reactions...)
		for req, receipt := range snap.Zaps {
			if receipt != nil {
				interactions = append(interactions, receipt)
			} else {
				interactions = append(interactions, req)
			}
		}
	}

	cards := GroupInteractions(qh.store, interactions)
	if limit > 0 && len(cards) > limit {
		cards = cards[:limit]
	}
	return cards
}

// GetThreadByEvent returns the thread containing eventID. It only reads the
// store; when the root is not cached the view starts at eventID instead.
func (qh *QueryHelper) GetThreadByEvent(eventID string) *ThreadView {
	n, ok := qh.store.GetNote(eventID)
	if !ok {
		return nil
	}

	rootID := eventID
	if ev := n.Event(); ev != nil && ev.Kind == event.KindTextNote {
		rootID = event.ParseThreadInfo(ev).GetRootOrSelf(eventID)
	}
	root, rooted := qh.store.GetNote(rootID)

	seen := map[string]bool{rootID: true}
	replies := make([]*cache.Note, 0)
	queue := []*cache.Note{root}
	if !rooted {
		seen[eventID] = true
		replies = append(replies, n)
		queue[0] = n
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, reply := range cur.Snapshot().Replies {
			if seen[reply.IDHex] {
				continue
			}
			seen[reply.IDHex] = true
			replies = append(replies, reply)
			queue = append(queue, reply)
		}
	}

	// threads read top to bottom
	sort.Slice(replies, func(i, j int) bool {
		a, b := replies[i].CreatedAt(), replies[j].CreatedAt()
		if a != b {
			return a < b
		}
		return replies[i].IDHex < replies[j].IDHex
	})

	view := &ThreadView{RootID: rootID, Replies: enrich(replies)}
	if rooted {
		view.Root = enrichOne(root)
	}
	return view
}

// GetZapFeed lists paid zaps on the user's notes, largest first
func (qh *QueryHelper) GetZapFeed(pubkey string) []ZapEntry {
	entries := make([]ZapEntry, 0)
	for _, target := range qh.store.Query(nostr.Filter{Authors: []string{pubkey}}) {
		for req, receipt := range target.Snapshot().Zaps {
			amount, ok := zaps.ComputeAmount(receipt)
			if !ok {
				continue
			}
			entries = append(entries, ZapEntry{Request: req, Receipt: receipt, Target: target, Amount: amount})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].Amount.Cmp(entries[j].Amount); c != 0 {
			return c > 0
		}
		return entries[i].Receipt.IDHex < entries[j].Receipt.IDHex
	})
	return entries
}

func enrich(notes []*cache.Note) []*EnrichedNote {
	out := make([]*EnrichedNote, 0, len(notes))
	for _, n := range notes {
		out = append(out, enrichOne(n))
	}
	return out
}

func enrichOne(n *cache.Note) *EnrichedNote {
	return &EnrichedNote{Note: n, Event: n.Event(), Aggregates: Summarize(n)}
}

// filterAndSort orders enriched notes by sortMode and applies limit
func (qh *QueryHelper) filterAndSort(enriched []*EnrichedNote, sortMode string, limit int) []*EnrichedNote {
	switch sortMode {
	case SortEngagement:
		sort.SliceStable(enriched, func(i, j int) bool {
			return enriched[i].Aggregates.InteractionScore() > enriched[j].Aggregates.InteractionScore()
		})
	default:
		// Query already returns newest first
	}

	if limit > 0 && len(enriched) > limit {
		enriched = enriched[:limit]
	}
	return enriched
}
