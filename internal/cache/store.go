package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/ops"
)

// maxAncestors bounds the upward walk that decides thread protection
const maxAncestors = 256

// Store is the in-memory graph of notes and users. It is safe for concurrent
// use; each entity carries its own lock and there is no store-wide lock.
type Store struct {
	notes    *xsync.MapOf[string, *Note]
	users    *xsync.MapOf[string, *User]
	receipts *xsync.MapOf[string, *Note]
	deletes  *xsync.MapOf[string, []string]
	threads  *xsync.MapOf[string, int]

	errors     *xsync.Counter
	errLimiter *rate.Limiter
	logger     *ops.Logger

	dirtyMu    sync.Mutex
	dirtyNotes map[*Note]struct{}
	dirtyUsers map[*User]struct{}
	debounced  func(func())
	batching   atomic.Int32
	closed     atomic.Bool

	handlersMu sync.RWMutex
	handlers   []DirtyHandler
	removers   []RemoveHandler
}

// New creates an empty store. A nil logger falls back to ops.Default.
func New(cfg *config.Cache, logger *ops.Logger) *Store {
	if logger == nil {
		logger = ops.Default()
	}
	debounceAfter := time.Duration(cfg.ObserverDebounceMs) * time.Millisecond
	if debounceAfter <= 0 {
		debounceAfter = 100 * time.Millisecond
	}

	burst := cfg.ErrorLogBurst
	if burst <= 0 {
		burst = 1
	}

	return &Store{
		notes:      xsync.NewMapOf[string, *Note](),
		users:      xsync.NewMapOf[string, *User](),
		receipts:   xsync.NewMapOf[string, *Note](),
		deletes:    xsync.NewMapOf[string, []string](),
		threads:    xsync.NewMapOf[string, int](),
		errors:     xsync.NewCounter(),
		errLimiter: rate.NewLimiter(rate.Limit(cfg.ErrorLogPerSecond), burst),
		logger:     logger.WithComponent("cache"),
		dirtyNotes: make(map[*Note]struct{}),
		dirtyUsers: make(map[*User]struct{}),
		debounced:  debounce.New(debounceAfter),
	}
}

// Close stops delivering notifications. Cached entities stay readable.
func (s *Store) Close() {
	s.closed.Store(true)
}

// GetOrCreateNote returns the note for id, allocating a placeholder if needed.
// Concurrent callers for the same id always receive the same instance.
func (s *Store) GetOrCreateNote(id string) *Note {
	n, _ := s.notes.LoadOrCompute(id, func() *Note {
		return newNote(id)
	})
	return n
}

// GetOrCreateUser returns the user for pubkey, allocating one if needed
func (s *Store) GetOrCreateUser(pubkey string) *User {
	u, _ := s.users.LoadOrCompute(pubkey, func() *User {
		return newUser(pubkey)
	})
	return u
}

// GetNote returns a cached note without creating one
func (s *Store) GetNote(id string) (*Note, bool) {
	return s.notes.Load(id)
}

// GetUser returns a cached user without creating one
func (s *Store) GetUser(pubkey string) (*User, bool) {
	return s.users.Load(pubkey)
}

// AuthorOf resolves a note's author through the pubkey index
func (s *Store) AuthorOf(n *Note) *User {
	pk := n.AuthorPubkey()
	if pk == "" {
		return nil
	}
	return s.GetOrCreateUser(pk)
}

// Stats is a point-in-time size report
type Stats struct {
	Notes        int
	Users        int
	Placeholders int
	Errors       int64
}

// Stats counts cached entities
func (s *Store) Stats() Stats {
	st := Stats{
		Notes:  s.notes.Size(),
		Users:  s.users.Size(),
		Errors: s.errors.Value(),
	}
	s.notes.Range(func(_ string, n *Note) bool {
		if n.IsPlaceholder() {
			st.Placeholders++
		}
		return true
	})
	return st
}

// ErrorCount returns how many events ingestion has dropped
func (s *Store) ErrorCount() int64 {
	return s.errors.Value()
}

// ProtectThread keeps rootID and everything linked under it out of pruning
// until the matching ReleaseThread.
func (s *Store) ProtectThread(rootID string) {
	s.threads.Compute(rootID, func(count int, _ bool) (int, bool) {
		return count + 1, false
	})
}

// ReleaseThread undoes one ProtectThread
func (s *Store) ReleaseThread(rootID string) {
	s.threads.Compute(rootID, func(count int, loaded bool) (int, bool) {
		if !loaded || count <= 1 {
			return 0, true
		}
		return count - 1, false
	})
}

func (s *Store) isProtected(n *Note) bool {
	ancestors := s.ancestors(n)
	n.mu.RLock()
	defer n.mu.RUnlock()
	return s.protectedLocked(n, ancestors)
}

// protectedLocked expects n.mu to be held. ancestors comes from s.ancestors,
// gathered before the lock so no two note locks are ever held together.
func (s *Store) protectedLocked(n *Note, ancestors []string) bool {
	if _, ok := s.threads.Load(n.IDHex); ok {
		return true
	}
	if n.root != "" {
		if _, ok := s.threads.Load(n.root); ok {
			return true
		}
	}
	for id := range n.parents {
		if _, ok := s.threads.Load(id); ok {
			return true
		}
	}
	for _, id := range ancestors {
		if _, ok := s.threads.Load(id); ok {
			return true
		}
	}
	return false
}

// ancestors walks parent and root edges upward from n, so a reaction on a
// reply is covered by the reply's thread. The walk visits at most
// maxAncestors notes.
func (s *Store) ancestors(n *Note) []string {
	seen := map[string]struct{}{n.IDHex: {}}
	out := make([]string, 0)
	queue := []*Note{n}

	for len(queue) > 0 && len(out) < maxAncestors {
		cur := queue[0]
		queue = queue[1:]

		cur.mu.RLock()
		next := make([]string, 0, len(cur.parents)+1)
		if cur.root != "" {
			next = append(next, cur.root)
		}
		for id := range cur.parents {
			next = append(next, id)
		}
		cur.mu.RUnlock()

		for _, id := range next {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
			if p, ok := s.notes.Load(id); ok {
				queue = append(queue, p)
			}
		}
	}
	return out
}

// evict drops n from the index if it is still the registered instance for its id
func (s *Store) evict(n *Note) {
	s.notes.Compute(n.IDHex, func(current *Note, loaded bool) (*Note, bool) {
		if !loaded {
			return current, true
		}
		if current != n {
			return current, false
		}
		return nil, true
	})
}

// DisplayName returns the best known name for pubkey
func (s *Store) DisplayName(pubkey string) string {
	u, ok := s.users.Load(pubkey)
	if !ok {
		return ""
	}
	return u.Profile().BestName()
}

// NoteSnippet returns the first line of a cached note's content
func (s *Store) NoteSnippet(id string) string {
	n, ok := s.notes.Load(id)
	if !ok {
		return ""
	}
	ev := n.Event()
	if ev == nil {
		return ""
	}
	line, _, _ := strings.Cut(ev.Content, "\n")
	return line
}
