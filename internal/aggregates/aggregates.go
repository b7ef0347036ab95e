package aggregates

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/shopspring/decimal"

	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/ops"
	"github.com/sandwichfarm/notecache/internal/zaps"
)

// Engine keeps a MultiSetCard per interacted note current. It recomputes
// cards for every note a store flush marks dirty and fans them out to
// subscribers.
type Engine struct {
	store  *cache.Store
	logger *ops.Logger
	buffer int

	cards *xsync.MapOf[string, MultiSetCard]

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan []MultiSetCard
}

// NewEngine creates an engine and hooks it to store flushes
func NewEngine(store *cache.Store, cfg *config.Cache, logger *ops.Logger) *Engine {
	buffer := cfg.AggregateSubsBuffer
	if buffer <= 0 {
		buffer = 1
	}

	e := &Engine{
		store:  store,
		logger: logger.WithComponent("aggregates"),
		buffer: buffer,
		cards:  xsync.NewMapOf[string, MultiSetCard](),
		subs:   make(map[uint64]chan []MultiSetCard),
	}
	store.OnDirty(e.onDirty)
	return e
}

func (e *Engine) onDirty(notes []*cache.Note) {
	batch := make([]MultiSetCard, 0)
	for _, n := range notes {
		card := SnapshotCard(n)
		if card.IsEmpty() {
			// a card that lost its last interaction is withdrawn
			if _, had := e.cards.LoadAndDelete(n.IDHex); !had {
				continue
			}
		} else {
			e.cards.Store(n.IDHex, card)
		}
		batch = append(batch, card)

		if e.logger.IsDebugEnabled() {
			agg := Summarize(n)
			e.logger.LogAggregateUpdate(n.IDHex, agg.ReplyCount, agg.BoostTotal, agg.ReactionTotal, agg.ZapCount)
		}
	}

	if len(batch) > 0 {
		e.publish(batch)
	}
}

// Card returns the last published card for a note
func (e *Engine) Card(noteID string) (MultiSetCard, bool) {
	return e.cards.Load(noteID)
}

// Cards returns every non-empty card currently known
func (e *Engine) Cards() []MultiSetCard {
	out := make([]MultiSetCard, 0, e.cards.Size())
	e.cards.Range(func(_ string, c MultiSetCard) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Subscribe returns a channel of card batches that closes when ctx ends.
// A subscriber that falls behind loses its oldest pending batch.
func (e *Engine) Subscribe(ctx context.Context) <-chan []MultiSetCard {
	ch := make(chan []MultiSetCard, e.buffer)

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[id] = ch
	e.mu.Unlock()

	context.AfterFunc(ctx, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	})
	return ch
}

// SubscriberCount returns the number of live subscriptions
func (e *Engine) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

func (e *Engine) publish(batch []MultiSetCard) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.subs {
		for {
			select {
			case ch <- batch:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// EventAggregates are the plain counts behind a note's card
type EventAggregates struct {
	EventID         string
	ReplyCount      int
	BoostTotal      int
	ReactionTotal   int
	ReactionCounts  map[string]int
	ZapCount        int
	ZapSatsTotal    decimal.Decimal
	LastInteraction nostr.Timestamp
}

// Summarize counts a note's interactions
func Summarize(note *cache.Note) EventAggregates {
	card := SnapshotCard(note)
	return EventAggregates{
		EventID:         note.IDHex,
		ReplyCount:      note.ReplyCount(),
		BoostTotal:      len(card.BoostEvents),
		ReactionTotal:   len(card.LikeEvents),
		ReactionCounts:  note.ReactionCounts(),
		ZapCount:        len(card.ZapEvents),
		ZapSatsTotal:    card.ZapTotal,
		LastInteraction: card.CreatedAt,
	}
}

// HasInteractions returns true if the event has any interactions
func (ea EventAggregates) HasInteractions() bool {
	return ea.ReplyCount > 0 || ea.BoostTotal > 0 || ea.ReactionTotal > 0 || ea.ZapCount > 0
}

// InteractionScore weighs one point per reply, boost and reaction plus one per thousand sats
func (ea EventAggregates) InteractionScore() int64 {
	score := int64(ea.ReplyCount + ea.BoostTotal + ea.ReactionTotal)
	score += ea.ZapSatsTotal.Div(decimal.NewFromInt(1000)).IntPart()
	return score
}

// ZapTotalText formats the zapped sats
func (ea EventAggregates) ZapTotalText() string {
	return zaps.ShowAmount(ea.ZapSatsTotal)
}
