package cache

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var observationIDs atomic.Uint64

// Observation is a live handle on one entity. C receives a signal after each
// flush that changed the entity; signals coalesce, so a slow reader sees one
// pending signal no matter how many flushes happened meanwhile.
type Observation struct {
	C <-chan struct{}

	id     uint64
	ctx    context.Context
	ch     chan struct{}
	owner  *watchers
	closed bool
}

// Close unregisters the observation and closes C
func (o *Observation) Close() {
	o.owner.remove(o)
}

// Err reports the owning scope's error once it has been torn down
func (o *Observation) Err() error {
	return o.ctx.Err()
}

type watchers struct {
	mu   sync.Mutex
	list map[uint64]*Observation
}

func (w *watchers) add(ctx context.Context) *Observation {
	ch := make(chan struct{}, 1)
	o := &Observation{
		C:     ch,
		id:    observationIDs.Add(1),
		ctx:   ctx,
		ch:    ch,
		owner: w,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.list == nil {
		w.list = make(map[uint64]*Observation)
	}
	w.list[o.id] = o
	return o
}

func (w *watchers) remove(o *Observation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	delete(w.list, o.id)
	close(o.ch)
}

func (w *watchers) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, o := range w.list {
		if o.ctx.Err() != nil {
			continue
		}
		select {
		case o.ch <- struct{}{}:
		default:
		}
	}
}

// sweep drops observations whose scope is gone and returns how many it dropped
func (w *watchers) sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	dropped := 0
	for id, o := range w.list {
		if o.ctx.Err() == nil {
			continue
		}
		o.closed = true
		delete(w.list, id)
		close(o.ch)
		dropped++
	}
	return dropped
}

// sweepAll closes every observation; used when the entity leaves the store
func (w *watchers) sweepAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, o := range w.list {
		o.closed = true
		delete(w.list, id)
		close(o.ch)
	}
}

func (w *watchers) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.list)
}

// ObserveNote registers a listener on note bound to ctx's lifetime
func (s *Store) ObserveNote(ctx context.Context, n *Note) *Observation {
	return n.watchers.add(ctx)
}

// ObserveUser registers a listener on user bound to ctx's lifetime
func (s *Store) ObserveUser(ctx context.Context, u *User) *Observation {
	return u.watchers.add(ctx)
}

// CleanObservers drops every observation whose owning scope has been torn down
func (s *Store) CleanObservers() int {
	dropped := 0
	s.notes.Range(func(_ string, n *Note) bool {
		dropped += n.watchers.sweep()
		return true
	})
	s.users.Range(func(_ string, u *User) bool {
		dropped += u.watchers.sweep()
		return true
	})
	if dropped > 0 {
		s.logger.Debug("observers cleaned", "dropped", dropped)
	}
	return dropped
}

// ObserverCount returns the number of live observations across all entities
func (s *Store) ObserverCount() int {
	total := 0
	s.notes.Range(func(_ string, n *Note) bool {
		total += n.watchers.count()
		return true
	})
	s.users.Range(func(_ string, u *User) bool {
		total += u.watchers.count()
		return true
	})
	return total
}

// DirtyHandler receives the notes changed by one flush
type DirtyHandler func(notes []*Note)

// OnDirty registers a handler invoked after every flush that changed notes
func (s *Store) OnDirty(h DirtyHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Store) markNoteDirty(n *Note) {
	s.dirtyMu.Lock()
	s.dirtyNotes[n] = struct{}{}
	s.dirtyMu.Unlock()
	s.scheduleFlush()
}

func (s *Store) markUserDirty(u *User) {
	s.dirtyMu.Lock()
	s.dirtyUsers[u] = struct{}{}
	s.dirtyMu.Unlock()
	s.scheduleFlush()
}

func (s *Store) scheduleFlush() {
	if s.batching.Load() > 0 {
		return
	}
	s.debounced(s.flushIfIdle)
}

func (s *Store) flushIfIdle() {
	if s.batching.Load() > 0 || s.closed.Load() {
		return
	}
	s.Flush()
}

// Flush delivers pending notifications: one signal per dirty entity, then
// one call per dirty handler with the dirty notes.
func (s *Store) Flush() {
	s.dirtyMu.Lock()
	notes := s.dirtyNotes
	users := s.dirtyUsers
	s.dirtyNotes = make(map[*Note]struct{})
	s.dirtyUsers = make(map[*User]struct{})
	s.dirtyMu.Unlock()

	if len(notes) == 0 && len(users) == 0 {
		return
	}

	changed := make([]*Note, 0, len(notes))
	for n := range notes {
		n.watchers.notify()
		changed = append(changed, n)
	}
	for u := range users {
		u.watchers.notify()
	}

	if len(changed) == 0 {
		return
	}

	s.handlersMu.RLock()
	handlers := append([]DirtyHandler(nil), s.handlers...)
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		s.runHandler(h, changed)
	}
}

func (s *Store) runHandler(h DirtyHandler, notes []*Note) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.LogPanic(recovered, string(debug.Stack()))
		}
	}()
	h(notes)
}

// RemoveHandler is told about every note pruning takes out of the store
type RemoveHandler func(n *Note)

// OnRemoved registers h to run after each pruned note is detached
func (s *Store) OnRemoved(h RemoveHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.removers = append(s.removers, h)
}

func (s *Store) notifyRemoved(n *Note) {
	s.handlersMu.RLock()
	removers := append([]RemoveHandler(nil), s.removers...)
	s.handlersMu.RUnlock()

	for _, h := range removers {
		h(n)
	}
}
