package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
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

const (
	relayA = "wss://a.example.com"
	relayB = "wss://b.example.com"
)

func hexID(n int) string {
	return fmt.Sprintf("%064x", n)
}

type connectCall struct {
	relay   string
	subID   string
	filters nostr.Filters
}

type fakeTransport struct {
	mu          sync.Mutex
	connects    []connectCall
	unsubs      []string
	disconnects []string
	failRelay   string
}

func (f *fakeTransport) Connect(_ context.Context, relayURL, subID string, filters nostr.Filters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if relayURL == f.failRelay {
		return errors.New("connection refused")
	}
	f.connects = append(f.connects, connectCall{relay: relayURL, subID: subID, filters: filters})
	return nil
}

func (f *fakeTransport) Unsubscribe(relayURL, subID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, relayURL+"|"+subID)
}

func (f *fakeTransport) Disconnect(relayURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, relayURL)
}

func (f *fakeTransport) counts() (connects, unsubs, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects), len(f.unsubs), len(f.disconnects)
}

func (f *fakeTransport) callsFor(subID string) []connectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]connectCall, 0)
	for _, c := range f.connects {
		if c.subID == subID {
			out = append(out, c)
		}
	}
	return out
}

type fakeAccount struct {
	self    string
	follows []string
	hidden  map[string]bool
	relays  []string
}

func newAccount(self int) *fakeAccount {
	return &fakeAccount{self: hexID(self), hidden: map[string]bool{}, relays: []string{relayA, relayB}}
}

func (a *fakeAccount) Pubkey() string                  { return a.self }
func (a *fakeAccount) Follows() []string               { return append([]string(nil), a.follows...) }
func (a *fakeAccount) ActiveRelays() []string          { return a.relays }
func (a *fakeAccount) IsHidden(pk string) bool         { return a.hidden[pk] }
func (a *fakeAccount) LastRead(string) nostr.Timestamp { return 0 }
func (a *fakeAccount) IsFollowing(pk string) bool {
	for _, f := range a.follows {
		if f == pk {
			return true
		}
	}
	return false
}

func newManager(t *testing.T, tr Transport) (*Manager, *cache.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Retention.CleanUpOnPause = false

	store := cache.New(&cfg.Cache, ops.Discard())
	t.Cleanup(store.Close)

	m := New(cfg, store, tr, ops.Discard())
	t.Cleanup(m.Stop)
	return m, store
}

func textNote(id, author int, tags nostr.Tags) *nostr.Event {
	if tags == nil {
		tags = nostr.Tags{}
	}
	return &nostr.Event{
		ID:        hexID(id),
		PubKey:    hexID(author),
		CreatedAt: nostr.Timestamp(1700000000 + id),
		Kind:      event.KindTextNote,
		Tags:      tags,
		Content:   "hello",
	}
}

func TestStartOpensAlwaysOnScopesOnce(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr)
	ctx := context.Background()

	require.Equal(t, StateStopped, m.State())
	require.NoError(t, m.Start(ctx, newAccount(1)))
	require.Equal(t, StateActive, m.State())

	connects, _, _ := tr.counts()
	require.Equal(t, len(AlwaysOn)*2, connects)
	require.Equal(t, len(AlwaysOn), m.Stats().Subscriptions)

	// re-entrant start only swaps the account
	other := newAccount(2)
	require.NoError(t, m.Start(ctx, other))
	connects, _, _ = tr.counts()
	require.Equal(t, len(AlwaysOn)*2, connects)
	require.Equal(t, other.Pubkey(), m.Account().Pubkey())
}

func TestPauseReleasesNetworkKeepsCache(t *testing.T) {
	tr := &fakeTransport{}
	m, store := newManager(t, tr)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, newAccount(1)))
	home, ok := m.subs.Load(ScopeHome.String())
	require.True(t, ok)
	m.OnEventReceived(relayA, home.id, textNote(10, 1, nil))

	require.NoError(t, m.Pause(ctx))
	require.Equal(t, StatePaused, m.State())

	_, unsubs, disconnects := tr.counts()
	require.Equal(t, len(AlwaysOn)*2, unsubs)
	require.Equal(t, 2, disconnects)
	require.Zero(t, m.Stats().Subscriptions)

	_, ok = store.GetNote(hexID(10))
	require.True(t, ok, "pause must not evict cached notes")

	require.ErrorIs(t, m.Pause(ctx), ErrInvalidTransition)
}

func TestResumeRequestsFromWatermark(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, newAccount(1)))
	home, _ := m.subs.Load(ScopeHome.String())
	m.OnEventReceived(relayA, home.id, textNote(50, 1, nil))
	m.OnEventReceived(relayB, home.id, textNote(20, 1, nil))
	marks := m.Stats().Watermarks
	require.Equal(t, nostr.Timestamp(1700000050), marks[markKey(ScopeHome.String(), relayA)])
	require.Equal(t, nostr.Timestamp(1700000020), marks[markKey(ScopeHome.String(), relayB)])

	require.NoError(t, m.Pause(ctx))
	require.NoError(t, m.Start(ctx, newAccount(1)))

	resumed, ok := m.subs.Load(ScopeHome.String())
	require.True(t, ok)
	require.NotEqual(t, home.id, resumed.id)

	want := map[string]nostr.Timestamp{relayA: 1700000050, relayB: 1700000020}
	calls := tr.callsFor(resumed.id)
	require.Len(t, calls, 2)
	for _, call := range calls {
		for _, f := range call.filters {
			if isReplaceable(f.Kinds[0]) {
				require.Nil(t, f.Since)
				continue
			}
			require.NotNil(t, f.Since, call.relay)
			require.Equal(t, want[call.relay], *f.Since, call.relay)
		}
	}
}

func TestResumeWithoutEventsFromRelayHasNoSince(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, newAccount(1)))
	home, _ := m.subs.Load(ScopeHome.String())
	m.OnEventReceived(relayA, home.id, textNote(50, 1, nil))

	require.NoError(t, m.Pause(ctx))
	require.NoError(t, m.Start(ctx, newAccount(1)))

	resumed, _ := m.subs.Load(ScopeHome.String())
	for _, call := range tr.callsFor(resumed.id) {
		if call.relay != relayB {
			continue
		}
		for _, f := range call.filters {
			require.Nil(t, f.Since)
		}
	}
}

func TestTransportFailuresAreCounted(t *testing.T) {
	tr := &fakeTransport{failRelay: relayB}
	m, _ := newManager(t, tr)

	require.NoError(t, m.Start(context.Background(), newAccount(1)))
	require.Equal(t, StateActive, m.State())
	require.EqualValues(t, len(AlwaysOn), m.Stats().TransportFailures)
}

func TestStartWithCancelledContextRollsBack(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Start(ctx, newAccount(1))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateStopped, m.State())
	require.Zero(t, m.Stats().Subscriptions)
}

func TestOpenDetailValidation(t *testing.T) {
	m, _ := newManager(t, &fakeTransport{})
	ctx := context.Background()

	_, err := m.OpenDetail(ctx, ScopeThread, hexID(1))
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, m.Start(ctx, newAccount(1)))
	_, err = m.OpenDetail(ctx, ScopeHome, hexID(1))
	require.ErrorIs(t, err, ErrUnknownScope)
	_, err = m.OpenDetail(ctx, ScopeSingleUser, " ")
	require.ErrorIs(t, err, ErrNoTargets)

	h, err := m.OpenDetail(ctx, ScopeGlobal)
	require.NoError(t, err)
	h.Close()
}

func TestDetailViewsShareOneSubscription(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, newAccount(1)))
	base, _, _ := tr.counts()

	first, err := m.OpenDetail(ctx, ScopeSingleEvent, hexID(7))
	require.NoError(t, err)
	second, err := m.OpenDetail(ctx, ScopeSingleEvent, hexID(7), hexID(7))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	connects, _, _ := tr.counts()
	require.Equal(t, base+2, connects)
	require.Equal(t, 2, m.OpenDetails())

	first.Close()
	first.Close()
	require.ErrorIs(t, first.Context().Err(), context.Canceled)
	_, unsubs, _ := tr.counts()
	require.Zero(t, unsubs)

	second.Close()
	_, unsubs, _ = tr.counts()
	require.Equal(t, 2, unsubs)
	require.Zero(t, m.OpenDetails())
}

func TestDetailOpenedWhilePausedSubscribesOnResume(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, newAccount(1)))
	require.NoError(t, m.Pause(ctx))

	h, err := m.OpenDetail(ctx, ScopeUserProfile, hexID(3))
	require.NoError(t, err)
	defer h.Close()
	_, ok := m.subs.Load(scopeKey(ScopeUserProfile, []string{hexID(3)}))
	require.False(t, ok)

	require.NoError(t, m.Start(ctx, newAccount(1)))
	sub, ok := m.subs.Load(scopeKey(ScopeUserProfile, []string{hexID(3)}))
	require.True(t, ok)
	require.Len(t, tr.callsFor(sub.id), 2)
}

func TestThreadViewProtectsFromCleanup(t *testing.T) {
	m, store := newManager(t, &fakeTransport{})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, newAccount(1)))

	store.Ingest(textNote(1, 10, nil), relayA)
	store.Ingest(textNote(2, 11, nostr.Tags{{"e", hexID(1), "", "root"}}), relayA)
	store.Ingest(textNote(3, 12, nil), relayA)

	h, err := m.OpenDetail(ctx, ScopeThread, hexID(2))
	require.NoError(t, err)

	removed, err := m.CleanUp(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed, "only the unrelated note is old enough and unprotected")
	_, ok := store.GetNote(hexID(2))
	require.True(t, ok)

	h.Close()
	removed, err = m.CleanUp(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	_, ok = store.GetNote(hexID(2))
	require.False(t, ok)
}

func TestStopClosesEverything(t *testing.T) {
	tr := &fakeTransport{}
	m, store := newManager(t, tr)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, newAccount(1)))
	h, err := m.OpenDetail(ctx, ScopeSingleChannel, hexID(40))
	require.NoError(t, err)

	m.Stop()
	require.Equal(t, StateStopped, m.State())
	require.ErrorIs(t, h.Context().Err(), context.Canceled)
	require.Zero(t, m.OpenDetails())
	require.Zero(t, m.Stats().Subscriptions)

	m.OnEventReceived(relayA, "gone", textNote(99, 5, nil))
	_, ok := store.GetNote(hexID(99))
	require.False(t, ok)

	m.Stop()
	h.Close()
}

func TestOnEventReceivedFromUnknownSubscription(t *testing.T) {
	m, store := newManager(t, &fakeTransport{})
	require.NoError(t, m.Start(context.Background(), newAccount(1)))

	m.OnEventReceived(relayA, "stale-sub", textNote(5, 2, nil))
	_, ok := store.GetNote(hexID(5))
	require.True(t, ok)
	require.Empty(t, m.Stats().Watermarks)
	require.EqualValues(t, 1, m.Stats().Received)
}

func TestPeriodicCleanupStopsWithSession(t *testing.T) {
	m, _ := newManager(t, &fakeTransport{})
	require.NoError(t, m.Start(context.Background(), newAccount(1)))
	require.NotNil(t, m.pruner)

	m.Stop()
	require.Nil(t, m.pruner)
	require.Eventually(t, func() bool { return m.State() == StateStopped }, time.Second, 5*time.Millisecond)
}
