package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/zaps"
)

var (
	// ErrInvalidKey is returned for an npub, nsec or hex key that does not decode
	ErrInvalidKey = errors.New("invalid key")

	// ErrKeyMismatch means the configured nsec does not belong to the npub
	ErrKeyMismatch = errors.New("nsec does not match npub")
)

// Account is the signed-in user the cache is viewed from. Follows and relay
// lists are read through the store so they follow the newest contact list.
type Account struct {
	pubkey string
	store  *cache.Store
	keys   *zaps.LocalKeys

	hidden   *xsync.MapOf[string, struct{}]
	lastRead *xsync.MapOf[string, nostr.Timestamp]

	localRelays []string
}

// New builds the account from its identity config. seeds are the relays used
// until the account's own relay list arrives.
func New(store *cache.Store, identity *config.Identity, seeds []string) (*Account, error) {
	pubkey, err := DecodePubkey(identity.Npub)
	if err != nil {
		return nil, err
	}

	a := &Account{
		pubkey:      pubkey,
		store:       store,
		hidden:      xsync.NewMapOf[string, struct{}](),
		lastRead:    xsync.NewMapOf[string, nostr.Timestamp](),
		localRelays: normalizeRelays(seeds),
	}

	if identity.Nsec != "" {
		sk, err := decodeSecret(identity.Nsec)
		if err != nil {
			return nil, err
		}
		keys, err := zaps.NewLocalKeys(sk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if keys.PublicKey() != pubkey {
			return nil, ErrKeyMismatch
		}
		a.keys = keys
	}

	for _, h := range identity.Hidden {
		pk, err := DecodePubkey(h)
		if err != nil {
			return nil, fmt.Errorf("hidden user %q: %w", h, err)
		}
		a.hidden.Store(pk, struct{}{})
	}

	return a, nil
}

// DecodePubkey accepts an npub or a 64 character hex key
func DecodePubkey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if nostr.IsValid32ByteHex(s) {
		return s, nil
	}

	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("%w: expected npub, got %s", ErrInvalidKey, prefix)
	}
	return value.(string), nil
}

func decodeSecret(s string) (string, error) {
	s = strings.TrimSpace(s)
	if nostr.IsValid32ByteHex(s) {
		return s, nil
	}

	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if prefix != "nsec" {
		return "", fmt.Errorf("%w: expected nsec, got %s", ErrInvalidKey, prefix)
	}
	return value.(string), nil
}

// Pubkey returns the hex public key
func (a *Account) Pubkey() string {
	return a.pubkey
}

// Npub returns the bech32 public key
func (a *Account) Npub() string {
	npub, err := nip19.EncodePublicKey(a.pubkey)
	if err != nil {
		return a.pubkey
	}
	return npub
}

// User returns the account's own entity
func (a *Account) User() *cache.User {
	return a.store.GetOrCreateUser(a.pubkey)
}

// Follows returns the pubkeys of the newest cached contact list
func (a *Account) Follows() []string {
	return a.User().Follows()
}

// IsFollowing reports whether pubkey is on the account's contact list
func (a *Account) IsFollowing(pubkey string) bool {
	return a.User().IsFollowing(pubkey)
}

// IsHidden reports whether the account muted pubkey
func (a *Account) IsHidden(pubkey string) bool {
	_, ok := a.hidden.Load(pubkey)
	return ok
}

// Hide mutes pubkey. Hidden authors are dropped by the next cleanup.
func (a *Account) Hide(pubkey string) {
	if pubkey == a.pubkey {
		return
	}
	a.hidden.Store(pubkey, struct{}{})
}

// Unhide removes pubkey from the mute list
func (a *Account) Unhide(pubkey string) {
	a.hidden.Delete(pubkey)
}

// HiddenUsers returns the muted pubkeys in a stable order
func (a *Account) HiddenUsers() []string {
	out := make([]string, 0, a.hidden.Size())
	a.hidden.Range(func(pk string, _ struct{}) bool {
		out = append(out, pk)
		return true
	})
	sort.Strings(out)
	return out
}

// LastRead returns the newest createdAt the account has seen on route
func (a *Account) LastRead(route string) nostr.Timestamp {
	ts, _ := a.lastRead.Load(route)
	return ts
}

// MarkAsRead moves the read marker of route forward to ts. Older marks are
// ignored; the return value reports whether the marker moved.
func (a *Account) MarkAsRead(route string, ts nostr.Timestamp) bool {
	moved := false
	a.lastRead.Compute(route, func(old nostr.Timestamp, loaded bool) (nostr.Timestamp, bool) {
		if loaded && old >= ts {
			return old, false
		}
		moved = true
		return ts, false
	})
	return moved
}

// Keys returns the account's decrypter, or nil for a read-only account
func (a *Account) Keys() zaps.KeyDecrypter {
	if a.keys == nil {
		return nil
	}
	return a.keys
}

// CanDecrypt reports whether a secret key was configured
func (a *Account) CanDecrypt() bool {
	return a.keys != nil
}

// LocalRelays returns the configured seed relays
func (a *Account) LocalRelays() []string {
	return append([]string(nil), a.localRelays...)
}

// ActiveRelays returns the relays of the account's cached NIP-65 list, or the
// local relays when no list has been seen yet.
func (a *Account) ActiveRelays() []string {
	hints := a.User().Relays()
	if len(hints) == 0 {
		return a.LocalRelays()
	}

	relays := make([]string, 0, len(hints))
	for _, h := range hints {
		if h.CanRead {
			relays = append(relays, h.URL)
		}
	}
	if len(relays) == 0 {
		return a.LocalRelays()
	}
	return relays
}

func normalizeRelays(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = nostr.NormalizeURL(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
