package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sandwichfarm/notecache/internal/event"
)

// detail is one registered detail scope shared by every view of the same
// targets. The subscription lives while at least one handle is open.
type detail struct {
	scope   Scope
	targets []string
	handles map[string]*DetailHandle
}

// DetailHandle is one open detail view. Its context ends when the view is
// closed or the session stops; work started for the view should use it.
type DetailHandle struct {
	ID      string
	Scope   Scope
	Targets []string

	m         *Manager
	key       string
	ctx       context.Context
	cancel    context.CancelFunc
	protected []string
	once      sync.Once
}

// Context is cancelled when the view closes
func (h *DetailHandle) Context() context.Context {
	return h.ctx
}

// Close cancels the view's context and drops its subscription once no other
// view needs it. Safe to call more than once.
func (h *DetailHandle) Close() {
	h.once.Do(func() {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		h.m.releaseLocked(h)
	})
}

// OpenDetail registers an on-demand scope for targets and returns a handle
// for the view. Views opened while paused subscribe on the next Start.
func (m *Manager) OpenDetail(ctx context.Context, scope Scope, targets ...string) (*DetailHandle, error) {
	if !scope.IsDetail() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	targets = normalizeTargets(targets)
	if len(targets) == 0 && scope != ScopeGlobal {
		return nil, ErrNoTargets
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root == nil {
		return nil, fmt.Errorf("%w: open %s while stopped", ErrInvalidTransition, scope)
	}

	key := scopeKey(scope, targets)
	d, ok := m.details[key]
	if !ok {
		d = &detail{scope: scope, targets: targets, handles: make(map[string]*DetailHandle)}
		m.details[key] = d
	}

	h := &DetailHandle{
		ID:      uuid.NewString(),
		Scope:   scope,
		Targets: targets,
		m:       m,
		key:     key,
	}
	h.ctx, h.cancel = context.WithCancel(m.root)
	d.handles[h.ID] = h

	if scope.protectsThread() {
		for _, id := range targets {
			root := m.threadRoot(id)
			m.store.ProtectThread(root)
			h.protected = append(h.protected, root)
		}
	}

	if m.State() == StateActive {
		if sub := m.activate(scope, targets); sub != nil {
			if err := m.connect(ctx, []*subscription{sub}); err != nil {
				h.once.Do(func() { m.releaseLocked(h) })
				return nil, fmt.Errorf("open %s: %w", scope, err)
			}
		}
	}
	return h, nil
}

// threadRoot resolves the root a note hangs from, or the note itself when it
// is unknown or a root
func (m *Manager) threadRoot(id string) string {
	n, ok := m.store.GetNote(id)
	if !ok {
		return id
	}
	ev := n.Event()
	if ev == nil || ev.Kind != event.KindTextNote {
		return id
	}
	return event.ParseThreadInfo(ev).GetRootOrSelf(id)
}

// releaseLocked closes h. Callers hold m.mu.
func (m *Manager) releaseLocked(h *DetailHandle) {
	h.cancel()
	for _, root := range h.protected {
		m.store.ReleaseThread(root)
	}

	d, ok := m.details[h.key]
	if !ok {
		return
	}
	delete(d.handles, h.ID)
	if len(d.handles) > 0 {
		return
	}

	delete(m.details, h.key)
	if sub, ok := m.subs.Load(h.key); ok {
		m.deactivate(sub)
	}
}

// OpenDetails returns the number of open detail views
func (m *Manager) OpenDetails() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, d := range m.details {
		n += len(d.handles)
	}
	return n
}
