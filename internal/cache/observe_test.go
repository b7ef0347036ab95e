package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/ops"
)

func waitSignal(t *testing.T, o *Observation) {
	t.Helper()
	select {
	case _, ok := <-o.C:
		require.True(t, ok, "observation closed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change signal")
	}
}

func requireQuiet(t *testing.T, o *Observation, d time.Duration) {
	t.Helper()
	select {
	case <-o.C:
		t.Fatal("unexpected change signal")
	case <-time.After(d):
	}
}

func TestBatchNotifiesOncePerEntity(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(textNote(1, 10, "root"), testRelay)
	s.Flush()

	root, _ := s.GetNote(hexID(1))
	obs := s.ObserveNote(context.Background(), root)
	defer obs.Close()

	s.IngestBatch([]*nostr.Event{
		reaction(2, 11, 1),
		reaction(3, 12, 1),
		replyTo(4, 13, 1, 1),
	}, testRelay)

	waitSignal(t, obs)
	requireQuiet(t, obs, 50*time.Millisecond)
}

func TestDebouncedSignalsCoalesce(t *testing.T) {
	s := newTestStoreWithDebounce(t, 100)
	s.Ingest(textNote(1, 10, "root"), testRelay)
	s.Flush()

	root, _ := s.GetNote(hexID(1))
	obs := s.ObserveNote(context.Background(), root)
	defer obs.Close()

	for i := 0; i < 10; i++ {
		s.Ingest(reaction(10+i, 20+i, 1), testRelay)
	}

	waitSignal(t, obs)
	requireQuiet(t, obs, 200*time.Millisecond)
	require.Len(t, root.Snapshot().Reactions, 10)
}

func TestUnchangedIngestDoesNotNotify(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(textNote(1, 10, "root"), testRelay)
	s.Flush()

	root, _ := s.GetNote(hexID(1))
	obs := s.ObserveNote(context.Background(), root)
	defer obs.Close()

	s.Ingest(textNote(1, 10, "root"), testRelay)
	requireQuiet(t, obs, 50*time.Millisecond)
}

func TestUserObservation(t *testing.T) {
	s := newTestStore(t)
	u := s.GetOrCreateUser(hexID(10))
	obs := s.ObserveUser(context.Background(), u)
	defer obs.Close()

	s.Ingest(newEvent(1, 10, 0, nil, `{"name":"alice"}`), testRelay)
	waitSignal(t, obs)
}

func TestCleanObserversDropsCancelledScopes(t *testing.T) {
	s := newTestStore(t)
	n := s.GetOrCreateNote(hexID(1))

	live := s.ObserveNote(context.Background(), n)
	defer live.Close()

	ctx, cancel := context.WithCancel(context.Background())
	dead := s.ObserveNote(ctx, n)
	require.Equal(t, 2, s.ObserverCount())

	cancel()
	require.Equal(t, 1, s.CleanObservers())
	require.Equal(t, 1, s.ObserverCount())
	require.ErrorIs(t, dead.Err(), context.Canceled)

	_, ok := <-dead.C
	require.False(t, ok)

	// closing twice is harmless
	dead.Close()
}

func TestOnDirtyReceivesChangedNotes(t *testing.T) {
	s := newTestStore(t)

	var mu sync.Mutex
	seen := map[string]bool{}
	s.OnDirty(func(notes []*Note) {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range notes {
			seen[n.IDHex] = true
		}
	})
	s.OnDirty(func([]*Note) { panic("handler bug") })

	s.IngestBatch([]*nostr.Event{textNote(1, 10, "root"), reaction(2, 11, 1)}, testRelay)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, seen[hexID(1)])
	require.True(t, seen[hexID(2)])
}

func TestPanickingHandlerIsLoggedWithStack(t *testing.T) {
	var buf bytes.Buffer
	s := New(&config.Cache{ObserverDebounceMs: 5, ErrorLogPerSecond: 1, ErrorLogBurst: 1},
		ops.NewLoggerWithWriter(&config.Logging{Level: "info", Format: "text"}, &buf))
	t.Cleanup(s.Close)

	s.OnDirty(func([]*Note) { panic("handler bug") })
	s.IngestBatch([]*nostr.Event{textNote(1, 10, "root")}, testRelay)

	require.Contains(t, buf.String(), "panic recovered")
	require.Contains(t, buf.String(), "handler bug")
	require.Contains(t, buf.String(), "stack=")
}

func TestNilLoggerFallsBackToDefault(t *testing.T) {
	s := New(&config.Cache{}, nil)
	t.Cleanup(s.Close)

	s.Ingest(&nostr.Event{ID: "bad", Kind: 1}, testRelay)
	s.Ingest(textNote(1, 10, "root"), testRelay)

	require.EqualValues(t, 1, s.ErrorCount())
	_, ok := s.GetNote(hexID(1))
	require.True(t, ok)
}

func TestClosedStoreStopsDebouncedFlush(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(textNote(1, 10, "root"), testRelay)
	s.Flush()

	root, _ := s.GetNote(hexID(1))
	obs := s.ObserveNote(context.Background(), root)
	defer obs.Close()

	s.Close()
	s.Ingest(reaction(2, 11, 1), testRelay)
	requireQuiet(t, obs, 50*time.Millisecond)
}
