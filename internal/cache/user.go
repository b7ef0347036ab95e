package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/notecache/internal/event"
)

// User is identified by pubkey and created on first reference.
// Follows are kept as pubkeys and resolved through the store.
type User struct {
	PubkeyHex string

	mu          sync.RWMutex
	profile     event.Profile
	metadata    *nostr.Event
	contactList *nostr.Event
	follows     map[string]struct{}
	relayList   *nostr.Event
	relays      []event.RelayHint
	notes       map[string]struct{}
	reports     map[string]*Note

	lastTouched atomic.Int64
	watchers    watchers
}

func newUser(pubkey string) *User {
	u := &User{
		PubkeyHex: pubkey,
		follows:   make(map[string]struct{}),
		notes:     make(map[string]struct{}),
		reports:   make(map[string]*Note),
	}
	u.lastTouched.Store(time.Now().UnixNano())
	return u
}

// Profile returns the newest known profile metadata
func (u *User) Profile() event.Profile {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.profile
}

// HasProfile reports whether any metadata event has been seen
func (u *User) HasProfile() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.metadata != nil
}

// MetadataEvent returns the metadata event the profile was read from
func (u *User) MetadataEvent() *nostr.Event {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.metadata
}

// Follows returns the followed pubkeys from the newest contact list, sorted
func (u *User) Follows() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.follows))
	for pk := range u.follows {
		out = append(out, pk)
	}
	sort.Strings(out)
	return out
}

// IsFollowing reports whether the newest contact list includes pubkey
func (u *User) IsFollowing(pubkey string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.follows[pubkey]
	return ok
}

// ContactListID returns the id of the contact list currently in effect
func (u *User) ContactListID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.contactList == nil {
		return ""
	}
	return u.contactList.ID
}

// Relays returns the newest NIP-65 relay list
func (u *User) Relays() []event.RelayHint {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]event.RelayHint(nil), u.relays...)
}

// NoteIDs returns ids of notes this user authored that are still cached
func (u *User) NoteIDs() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.notes))
	for id := range u.notes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reports returns report notes filed against this user
func (u *User) Reports() []*Note {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return values(u.reports)
}

func (u *User) mutate(s *Store, fn func() bool) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if fn() {
		u.lastTouched.Store(time.Now().UnixNano())
		s.markUserDirty(u)
		return true
	}
	return false
}

func (u *User) setMetadata(m *event.Metadata) bool {
	if !event.Supersedes(m.Raw(), u.metadata) {
		return false
	}
	u.metadata = m.Raw()
	u.profile = m.Profile
	return true
}

func (u *User) setContactList(c *event.ContactList) bool {
	if !event.Supersedes(c.Raw(), u.contactList) {
		return false
	}
	u.contactList = c.Raw()
	u.follows = make(map[string]struct{}, len(c.Follows))
	for _, pk := range c.Follows {
		u.follows[pk] = struct{}{}
	}
	return true
}

func (u *User) setRelayList(r *event.RelayListEvent) bool {
	if !event.Supersedes(r.Raw(), u.relayList) {
		return false
	}
	u.relayList = r.Raw()
	u.relays = r.Relays
	return true
}

func (u *User) addNote(id string) bool {
	if _, ok := u.notes[id]; ok {
		return false
	}
	u.notes[id] = struct{}{}
	return true
}

func (u *User) removeNote(id string) bool {
	if _, ok := u.notes[id]; !ok {
		return false
	}
	delete(u.notes, id)
	delete(u.reports, id)
	return true
}
