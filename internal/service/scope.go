package service

import (
	"sort"
	"strings"
)

// Scope names one feature that owns a set of relay filters
type Scope int

const (
	ScopeHome Scope = iota
	ScopeAccount
	ScopeChatroomList
	ScopeVideo
	ScopeGlobal
	ScopeSingleEvent
	ScopeSingleChannel
	ScopeSingleUser
	ScopeThread
	ScopeUserProfile
)

var scopeNames = map[Scope]string{
	ScopeHome:          "home",
	ScopeAccount:       "account",
	ScopeChatroomList:  "chatroom-list",
	ScopeVideo:         "video",
	ScopeGlobal:        "global",
	ScopeSingleEvent:   "single-event",
	ScopeSingleChannel: "single-channel",
	ScopeSingleUser:    "single-user",
	ScopeThread:        "thread",
	ScopeUserProfile:   "user-profile",
}

// AlwaysOn are the scopes every active session subscribes to
var AlwaysOn = []Scope{ScopeHome, ScopeAccount, ScopeChatroomList, ScopeVideo}

func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsDetail reports whether the scope is opened on demand for a detail view
func (s Scope) IsDetail() bool {
	switch s {
	case ScopeGlobal, ScopeSingleEvent, ScopeSingleChannel, ScopeSingleUser, ScopeThread, ScopeUserProfile:
		return true
	}
	return false
}

// protectsThread reports whether views of this scope pin their thread in the cache
func (s Scope) protectsThread() bool {
	return s == ScopeThread || s == ScopeSingleEvent
}

// ParseScope maps a scope name back to its value
func ParseScope(name string) (Scope, bool) {
	for s, n := range scopeNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// scopeKey identifies one registration. Always-on scopes register once per
// session; detail scopes once per distinct target set.
func scopeKey(s Scope, targets []string) string {
	if len(targets) == 0 {
		return s.String()
	}
	return s.String() + ":" + strings.Join(targets, ",")
}

func normalizeTargets(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
