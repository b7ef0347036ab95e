package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/ops"
	"github.com/sandwichfarm/notecache/internal/retention"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrUnknownScope is returned for scopes that cannot be opened on demand
	ErrUnknownScope = errors.New("unknown or always-on scope")

	// ErrNoTargets is returned when a detail scope is opened without targets
	ErrNoTargets = errors.New("detail scope needs at least one target")
)

// State is the session lifecycle state
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateActive
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// Transport is the relay connection layer. Events it receives are handed
// back through Manager.OnEventReceived.
type Transport interface {
	Connect(ctx context.Context, relayURL, subID string, filters nostr.Filters) error
	Unsubscribe(relayURL, subID string)
	Disconnect(relayURL string)
}

// Account is the session's bound user as the manager needs it
type Account interface {
	cache.Viewer
	Follows() []string
	ActiveRelays() []string
}

type subscription struct {
	key     string
	scope   Scope
	targets []string
	id      string
	// filters carry no since; connect adds each relay's own watermark
	filters nostr.Filters
	ctx     context.Context
	cancel  context.CancelFunc
}

// Manager starts and stops relay subscriptions for the bound account and
// runs cache cleanup. Subscriptions are registered by scope key so repeated
// starts never duplicate them.
type Manager struct {
	cfg       *config.Config
	store     *cache.Store
	transport Transport
	retention *retention.Engine
	filters   *FilterBuilder
	marks     *Watermarks
	logger    *ops.Logger

	state atomic.Int32

	acctMu  sync.RWMutex
	account Account

	mu      sync.Mutex
	root    context.Context
	cancel  context.CancelFunc
	relays  []string
	details map[string]*detail
	pruner  *ops.PeriodicPruner

	subs *xsync.MapOf[string, *subscription]
	byID *xsync.MapOf[string, string]

	received *xsync.Counter
	failures *xsync.Counter
}

// New creates a stopped manager
func New(cfg *config.Config, store *cache.Store, transport Transport, logger *ops.Logger) *Manager {
	if logger == nil {
		logger = ops.Default()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		transport: transport,
		retention: retention.NewEngine(&cfg.Retention, logger),
		filters:   NewFilterBuilder(&cfg.Sync),
		marks:     NewWatermarks(),
		logger:    logger.WithComponent("service"),
		details:   make(map[string]*detail),
		subs:      xsync.NewMapOf[string, *subscription](),
		byID:      xsync.NewMapOf[string, string](),
		received:  xsync.NewCounter(),
		failures:  xsync.NewCounter(),
	}
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from != to {
		m.logger.LogStateChange(from.String(), to.String())
	}
}

// Account returns the bound account, nil before the first Start
func (m *Manager) Account() Account {
	m.acctMu.RLock()
	defer m.acctMu.RUnlock()
	return m.account
}

func (m *Manager) bind(acct Account) {
	m.acctMu.Lock()
	defer m.acctMu.Unlock()
	if m.account != nil && m.account.Pubkey() != acct.Pubkey() {
		// cursors belong to the previous account's filters
		m.marks.Reset()
	}
	m.account = acct
}

// Start binds acct and opens the always-on scopes plus any detail views that
// were open when the session paused. Calling Start on an active session only
// re-binds the account.
func (m *Manager) Start(ctx context.Context, acct Account) error {
	if acct == nil {
		return fmt.Errorf("%w: start without an account", ErrInvalidTransition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.State()
	if from == StateActive {
		m.bind(acct)
		m.logger.Debug("account rebound", "pubkey", acct.Pubkey())
		return nil
	}

	m.bind(acct)
	m.setState(StateStarting)

	if m.root == nil {
		m.root, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
		m.startPruner()
	}

	m.relays = acct.ActiveRelays()
	if len(m.relays) == 0 {
		m.logger.Warn("no relays to connect to", "pubkey", acct.Pubkey())
	}

	fresh := make([]*subscription, 0, len(AlwaysOn)+len(m.details))
	for _, scope := range AlwaysOn {
		if sub := m.activate(scope, nil); sub != nil {
			fresh = append(fresh, sub)
		}
	}
	for _, d := range m.details {
		if sub := m.activate(d.scope, d.targets); sub != nil {
			fresh = append(fresh, sub)
		}
	}

	if err := m.connect(ctx, fresh); err != nil {
		for _, sub := range fresh {
			m.deactivate(sub)
		}
		m.disconnectAll()
		m.setState(from)
		return fmt.Errorf("start session: %w", err)
	}

	m.setState(StateActive)
	return nil
}

// Pause closes every subscription and relay connection. Cached data stays.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	if m.State() != StateActive {
		state := m.State()
		m.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, state)
	}

	m.subs.Range(func(_ string, sub *subscription) bool {
		m.deactivate(sub)
		return true
	})
	m.disconnectAll()
	m.setState(StatePaused)
	m.mu.Unlock()

	if m.cfg.Retention.CleanUpOnPause {
		if _, err := m.CleanUp(ctx); err != nil {
			m.logger.Warn("cleanup on pause failed", "error", err)
		}
	}
	return nil
}

// Stop tears the session down: subscriptions, connections, detail views and
// the cleanup schedule.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == StateStopped && m.root == nil {
		return
	}

	m.subs.Range(func(_ string, sub *subscription) bool {
		m.deactivate(sub)
		return true
	})
	m.disconnectAll()

	for _, d := range m.details {
		for _, h := range d.handles {
			h.once.Do(func() { m.releaseLocked(h) })
		}
	}
	m.details = make(map[string]*detail)

	if m.pruner != nil {
		m.pruner.Stop()
		m.pruner = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.root, m.cancel = nil, nil
	m.setState(StateStopped)
}

// CleanUp drops torn-down observers and runs every prune pass for the bound
// account. It returns the number of notes removed.
func (m *Manager) CleanUp(ctx context.Context) (int, error) {
	if dropped := m.store.CleanObservers(); dropped > 0 {
		m.logger.Debug("observers cleaned", "dropped", dropped)
	}

	acct := m.Account()
	if acct == nil {
		return 0, nil
	}

	passes := []struct {
		name string
		run  func() (int, error)
	}{
		{"old-and-hidden", func() (int, error) { return m.store.PruneOldAndHidden(ctx, acct, m.retention) }},
		{"hidden", func() (int, error) { return m.store.PruneHidden(ctx, acct) }},
		{"contact-lists", func() (int, error) { return m.store.PruneContactLists(ctx) }},
	}

	total := 0
	var errs []error
	for _, pass := range passes {
		start := time.Now()
		removed, err := pass.run()
		m.logger.LogPrune(pass.name, removed, time.Since(start), err)
		total += removed
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pass.name, err))
		}
	}
	return total, errors.Join(errs...)
}

// OnEventReceived is the transport's inbound path. Events for a live
// subscription also move that scope's watermark on the delivering relay.
func (m *Manager) OnEventReceived(relayURL, subID string, ev *nostr.Event) {
	if ev == nil || m.State() == StateStopped {
		return
	}
	m.received.Inc()

	if key, ok := m.byID.Load(subID); ok {
		m.marks.Advance(key, relayURL, ev)
	}
	m.store.Ingest(ev, relayURL)
}

// activate registers the scope's subscription unless one already exists.
// It returns nil when the scope was already registered.
func (m *Manager) activate(scope Scope, targets []string) *subscription {
	key := scopeKey(scope, targets)
	created := false
	sub, _ := m.subs.LoadOrCompute(key, func() *subscription {
		created = true
		ctx, cancel := context.WithCancel(m.root)
		return &subscription{
			key:     key,
			scope:   scope,
			targets: targets,
			id:      uuid.NewString(),
			filters: m.filters.Build(scope, m.Account(), targets, 0),
			ctx:     ctx,
			cancel:  cancel,
		}
	})
	if !created {
		return nil
	}
	m.byID.Store(sub.id, key)
	return sub
}

func (m *Manager) deactivate(sub *subscription) {
	sub.cancel()
	for _, relay := range m.relays {
		m.transport.Unsubscribe(relay, sub.id)
	}
	m.subs.Delete(sub.key)
	m.byID.Delete(sub.id)
}

// connect opens every new subscription on every relay. Relay failures are
// logged and counted; only cancellation of ctx aborts the whole operation.
func (m *Manager) connect(ctx context.Context, subs []*subscription) error {
	limit := m.cfg.Relays.Policy.MaxConcurrent
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, sub := range subs {
		if len(sub.filters) == 0 {
			continue
		}
		for _, relay := range m.relays {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := m.transport.Connect(sub.ctx, relay, sub.id, m.relayFilters(sub, relay)); err != nil {
					m.failures.Inc()
					m.logger.LogRelayConnection(relay, false, fmt.Errorf("%s: %w", sub.scope, err))
					return nil
				}
				m.logger.Debug("subscribed", "relay", relay, "scope", sub.scope.String(), "sub_id", sub.id)
				return nil
			})
		}
	}
	return g.Wait()
}

// relayFilters resumes sub on relay from the newest event that relay sent
func (m *Manager) relayFilters(sub *subscription, relay string) nostr.Filters {
	since := m.marks.Since(sub.key, relay)
	if since == 0 {
		return sub.filters
	}
	return m.filters.Build(sub.scope, m.Account(), sub.targets, since)
}

func (m *Manager) disconnectAll() {
	for _, relay := range m.relays {
		m.transport.Disconnect(relay)
		m.logger.LogRelayConnection(relay, false, nil)
	}
	m.relays = nil
}

func (m *Manager) startPruner() {
	minutes := m.cfg.Retention.PruneIntervalMinutes
	if minutes <= 0 {
		return
	}
	m.pruner = ops.NewPeriodicPruner(m, time.Duration(minutes)*time.Minute, m.logger)
	m.pruner.Start(m.root)
}

// Stats is a point-in-time view of the session
type Stats struct {
	State             State
	Relays            int
	Subscriptions     int
	DetailViews       int
	Received          int64
	TransportFailures int64
	Watermarks        map[string]nostr.Timestamp
}

// Stats returns the current session counters
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	relays, views := len(m.relays), 0
	for _, d := range m.details {
		views += len(d.handles)
	}
	m.mu.Unlock()

	return Stats{
		State:             m.State(),
		Relays:            relays,
		Subscriptions:     m.subs.Size(),
		DetailViews:       views,
		Received:          m.received.Value(),
		TransportFailures: m.failures.Value(),
		Watermarks:        m.marks.All(),
	}
}
