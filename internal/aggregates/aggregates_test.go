package aggregates

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sandwichfarm/notecache/internal/cache"
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

func boost(id, author, target int) *nostr.Event {
	return newEvent(id, author, event.KindRepost, nostr.Tags{{"e", hexID(target)}}, "")
}

func like(id, author, target int) *nostr.Event {
	return newEvent(id, author, event.KindReaction, nostr.Tags{{"e", hexID(target)}}, "+")
}

func zapPair(t *testing.T, reqID, receiptID, sender, target, targetAuthor int, msats int, invoice string) (*nostr.Event, *nostr.Event) {
	t.Helper()
	req := newEvent(reqID, sender, event.KindZapRequest, nostr.Tags{
		{"e", hexID(target)},
		{"p", hexID(targetAuthor)},
		{"amount", fmt.Sprint(msats)},
	}, "")
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	receipt := newEvent(receiptID, 9000, event.KindZapReceipt, nostr.Tags{
		{"e", hexID(target)},
		{"p", hexID(targetAuthor)},
		{"bolt11", invoice},
		{"description", string(raw)},
	}, "")
	return req, receipt
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	s := cache.New(&config.Cache{ObserverDebounceMs: 5, ErrorLogPerSecond: 1, ErrorLogBurst: 1}, ops.Discard())
	t.Cleanup(s.Close)
	return s
}

func TestSnapshotCardEndToEnd(t *testing.T) {
	s := newStore(t)
	s.Ingest(newEvent(1, 10, event.KindTextNote, nil, "post"), testRelay)
	s.Ingest(boost(2, 11, 1), testRelay)
	s.Ingest(boost(3, 12, 1), testRelay)
	s.Ingest(boost(4, 13, 1), testRelay)
	req, receipt := zapPair(t, 5, 6, 14, 1, 10, 5000, "lnbc50n1pjtest")
	s.Ingest(req, testRelay)
	s.Ingest(receipt, testRelay)

	post, _ := s.GetNote(hexID(1))
	card := SnapshotCard(post)

	require.Len(t, card.BoostEvents, 3)
	require.Len(t, card.ZapEvents, 1)
	for reqNote, rec := range card.ZapEvents {
		require.Equal(t, hexID(5), reqNote.IDHex)
		require.NotNil(t, rec)
		require.Equal(t, hexID(6), rec.IDHex)
	}
	require.Equal(t, "5", card.ZapTotalText())
	require.Empty(t, card.LikeEvents)
	require.Equal(t, nostr.Timestamp(1700000006), card.CreatedAt)

	// newest first
	require.Equal(t, hexID(4), card.BoostEvents[0].IDHex)
}

func TestSnapshotCardPendingZap(t *testing.T) {
	s := newStore(t)
	s.Ingest(newEvent(1, 10, event.KindTextNote, nil, "post"), testRelay)
	req, _ := zapPair(t, 5, 6, 14, 1, 10, 5000, "lnbc50n1pjtest")
	s.Ingest(req, testRelay)

	post, _ := s.GetNote(hexID(1))
	card := SnapshotCard(post)
	require.Len(t, card.ZapEvents, 1)
	for _, rec := range card.ZapEvents {
		require.Nil(t, rec)
	}
	require.True(t, card.ZapTotal.IsZero())
	require.Equal(t, "", card.ZapTotalText())
}

func TestSelfInteractionsAreKept(t *testing.T) {
	s := newStore(t)
	s.Ingest(newEvent(1, 10, event.KindTextNote, nil, "post"), testRelay)
	s.Ingest(like(2, 10, 1), testRelay)

	post, _ := s.GetNote(hexID(1))
	require.Len(t, SnapshotCard(post).LikeEvents, 1)
}

func TestGroupInteractions(t *testing.T) {
	s := newStore(t)
	for _, ev := range []*nostr.Event{
		newEvent(1, 10, event.KindTextNote, nil, "a"),
		newEvent(2, 10, event.KindTextNote, nil, "b"),
		like(3, 11, 1),
		boost(4, 12, 1),
		boost(5, 13, 1),
		like(6, 14, 2),
	} {
		s.Ingest(ev, testRelay)
	}
	_, receipt := zapPair(t, 7, 8, 15, 2, 10, 21000, "lnbc210n1pjtest")
	s.Ingest(receipt, testRelay)

	notes := make([]*cache.Note, 0)
	for _, id := range []int{3, 4, 5, 6, 8} {
		n, ok := s.GetNote(hexID(id))
		require.True(t, ok)
		notes = append(notes, n)
	}

	cards := GroupInteractions(s, notes)
	require.Len(t, cards, 2)

	// note 2 has the newest interaction (the receipt)
	require.Equal(t, hexID(2), cards[0].ID())
	require.Len(t, cards[0].LikeEvents, 1)
	require.Len(t, cards[0].ZapEvents, 1)
	require.True(t, cards[0].ZapTotal.Equal(decimal.NewFromInt(21)))

	require.Equal(t, hexID(1), cards[1].ID())
	require.Len(t, cards[1].BoostEvents, 2)
	require.Len(t, cards[1].LikeEvents, 1)
	require.Equal(t, nostr.Timestamp(1700000005), cards[1].CreatedAt)

	require.True(t, IsNew(cards[1], 1700000004))
	require.False(t, IsNew(cards[1], 1700000005))
}

func TestEnginePublishesDirtyCards(t *testing.T) {
	s := newStore(t)
	e := NewEngine(s, &config.Cache{AggregateSubsBuffer: 4}, ops.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	updates := e.Subscribe(ctx)
	require.Equal(t, 1, e.SubscriberCount())

	s.IngestBatch([]*nostr.Event{
		newEvent(1, 10, event.KindTextNote, nil, "post"),
		like(2, 11, 1),
		boost(3, 12, 1),
	}, testRelay)

	select {
	case batch := <-updates:
		require.Len(t, batch, 1)
		require.Equal(t, hexID(1), batch[0].ID())
		require.Len(t, batch[0].LikeEvents, 1)
		require.Len(t, batch[0].BoostEvents, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no card published")
	}

	card, ok := e.Card(hexID(1))
	require.True(t, ok)
	require.Len(t, card.BoostEvents, 1)
	require.Len(t, e.Cards(), 1)

	cancel()
	require.Eventually(t, func() bool { return e.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-updates
	require.False(t, open)
}

func TestEngineWithdrawsDeletedInteractions(t *testing.T) {
	s := newStore(t)
	e := NewEngine(s, &config.Cache{}, ops.Discard())

	s.IngestBatch([]*nostr.Event{
		newEvent(1, 10, event.KindTextNote, nil, "post"),
		like(2, 11, 1),
	}, testRelay)
	_, ok := e.Card(hexID(1))
	require.True(t, ok)

	s.IngestBatch([]*nostr.Event{
		newEvent(3, 11, event.KindDeletion, nostr.Tags{{"e", hexID(2)}}, ""),
	}, testRelay)
	_, ok = e.Card(hexID(1))
	require.False(t, ok)
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	s := newStore(t)
	e := NewEngine(s, &config.Cache{AggregateSubsBuffer: 1}, ops.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := e.Subscribe(ctx)

	s.IngestBatch([]*nostr.Event{newEvent(1, 10, event.KindTextNote, nil, "post"), like(2, 11, 1)}, testRelay)
	s.IngestBatch([]*nostr.Event{like(3, 12, 1)}, testRelay)

	batch := <-updates
	require.Len(t, batch[0].LikeEvents, 2)
}

func TestSummarize(t *testing.T) {
	s := newStore(t)
	s.Ingest(newEvent(1, 10, event.KindTextNote, nil, "post"), testRelay)
	s.Ingest(newEvent(2, 11, event.KindTextNote, nostr.Tags{{"e", hexID(1), "", "root"}}, "reply"), testRelay)
	s.Ingest(like(3, 12, 1), testRelay)
	s.Ingest(newEvent(4, 13, event.KindReaction, nostr.Tags{{"e", hexID(1)}}, "🤙"), testRelay)
	_, receipt := zapPair(t, 5, 6, 14, 1, 10, 2_000_000, "lnbc20u1pjtest")
	s.Ingest(receipt, testRelay)

	post, _ := s.GetNote(hexID(1))
	agg := Summarize(post)
	require.Equal(t, 1, agg.ReplyCount)
	require.Equal(t, 2, agg.ReactionTotal)
	require.Equal(t, map[string]int{"+": 1, "🤙": 1}, agg.ReactionCounts)
	require.Equal(t, 1, agg.ZapCount)
	require.Equal(t, "2.0k", agg.ZapTotalText())
	require.True(t, agg.HasInteractions())
	require.EqualValues(t, 5, agg.InteractionScore())
}
