package service

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/event"
)

// FilterBuilder creates relay filters for each scope from the sync configuration
type FilterBuilder struct {
	config *config.Sync
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder(cfg *config.Sync) *FilterBuilder {
	return &FilterBuilder{
		config: cfg,
	}
}

// Build returns the filters a scope subscribes with. since is the scope's
// watermark; replaceable kinds are always requested without it.
func (fb *FilterBuilder) Build(scope Scope, acct Account, targets []string, since nostr.Timestamp) nostr.Filters {
	self := acct.Pubkey()

	switch scope {
	case ScopeHome:
		authors := fb.visibleAuthors(acct, append(acct.Follows(), self))
		kinds := append(fb.feedKinds(), event.KindMetadata, event.KindContactList, event.KindRelayList)
		return fb.authorFilters(authors, kinds, since, 0)

	case ScopeAccount:
		kinds := append(fb.feedKinds(), event.KindReaction, event.KindDeletion,
			event.KindMetadata, event.KindContactList, event.KindRelayList)
		filters := fb.authorFilters([]string{self}, kinds, since, 0)
		if inbox, ok := fb.inboxFilter(self, since); ok {
			filters = append(filters, inbox)
		}
		return filters

	case ScopeChatroomList:
		if !fb.config.Kinds.DMs {
			return nil
		}
		return nostr.Filters{
			withSince(nostr.Filter{Kinds: []int{event.KindEncryptedDM}, Authors: []string{self}}, since),
			withSince(nostr.Filter{Kinds: []int{event.KindEncryptedDM}, Tags: nostr.TagMap{"p": []string{self}}}, since),
			withSince(nostr.Filter{Kinds: []int{event.KindChannelCreate, event.KindChannelMessage}, Authors: []string{self}}, since),
		}

	case ScopeVideo:
		if !fb.config.Kinds.Video {
			return nil
		}
		authors := fb.visibleAuthors(acct, append(acct.Follows(), self))
		return fb.authorFilters(authors, []int{event.KindFileHeader}, since, 0)

	case ScopeGlobal:
		return nostr.Filters{
			withSince(nostr.Filter{Kinds: []int{event.KindTextNote}, Limit: fb.config.GlobalLimit}, since),
		}

	case ScopeSingleEvent:
		return nostr.Filters{
			{IDs: targets},
			withSince(nostr.Filter{
				Kinds: fb.eventInteractionKinds(false),
				Tags:  nostr.TagMap{"e": targets},
				Limit: fb.config.DetailLimit,
			}, since),
		}

	case ScopeThread:
		return nostr.Filters{
			{IDs: targets},
			withSince(nostr.Filter{
				Kinds: fb.eventInteractionKinds(true),
				Tags:  nostr.TagMap{"e": targets},
				Limit: fb.config.DetailLimit,
			}, since),
		}

	case ScopeSingleChannel:
		return nostr.Filters{
			{IDs: targets},
			withSince(nostr.Filter{
				Kinds: []int{event.KindChannelMetadata, event.KindChannelMessage},
				Tags:  nostr.TagMap{"e": targets},
				Limit: fb.config.DetailLimit,
			}, since),
		}

	case ScopeSingleUser:
		return nostr.Filters{
			{Authors: targets, Kinds: []int{event.KindMetadata, event.KindContactList, event.KindRelayList}},
		}

	case ScopeUserProfile:
		kinds := append(fb.feedKinds(), event.KindMetadata, event.KindContactList, event.KindRelayList)
		filters := fb.authorFilters(targets, kinds, since, fb.config.DetailLimit)
		if fb.config.Kinds.Zaps {
			filters = append(filters, withSince(nostr.Filter{
				Kinds: []int{event.KindZapReceipt},
				Tags:  nostr.TagMap{"p": targets},
				Limit: fb.config.DetailLimit,
			}, since))
		}
		return filters
	}

	return nil
}

// authorFilters splits kinds into a replaceable filter fetched without a
// cursor and a regular filter that honors since.
func (fb *FilterBuilder) authorFilters(authors []string, kinds []int, since nostr.Timestamp, limit int) nostr.Filters {
	if len(authors) == 0 {
		return nil
	}

	var replaceableKinds []int
	var regularKinds []int
	for _, kind := range dedupeKinds(kinds) {
		if isReplaceable(kind) {
			replaceableKinds = append(replaceableKinds, kind)
			continue
		}
		regularKinds = append(regularKinds, kind)
	}

	filters := make(nostr.Filters, 0, 2)
	if len(replaceableKinds) > 0 {
		filters = append(filters, nostr.Filter{
			Authors: authors,
			Kinds:   replaceableKinds,
		})
	}
	if len(regularKinds) > 0 {
		filters = append(filters, withSince(nostr.Filter{
			Authors: authors,
			Kinds:   regularKinds,
			Limit:   limit,
		}, since))
	}
	return filters
}

// inboxFilter requests interactions directed at the owner
func (fb *FilterBuilder) inboxFilter(owner string, since nostr.Timestamp) (nostr.Filter, bool) {
	kinds := fb.config.Kinds.Interactions()
	if len(kinds) == 0 {
		return nostr.Filter{}, false
	}

	return withSince(nostr.Filter{
		Kinds: kinds,
		Tags:  nostr.TagMap{"p": []string{owner}},
	}, since), true
}

// feedKinds are the standalone kinds a feed shows
func (fb *FilterBuilder) feedKinds() []int {
	kinds := make([]int, 0, 4+len(fb.config.Kinds.Allowlist))
	if fb.config.Kinds.Notes {
		kinds = append(kinds, event.KindTextNote, event.KindLongForm)
	}
	if fb.config.Kinds.Reposts {
		kinds = append(kinds, event.KindRepost)
	}
	return append(kinds, fb.config.Kinds.Allowlist...)
}

// eventInteractionKinds are the kinds that reference a viewed note. Replies
// are only pulled in for thread views.
func (fb *FilterBuilder) eventInteractionKinds(withReplies bool) []int {
	kinds := []int{event.KindDeletion}
	if withReplies {
		kinds = append(kinds, event.KindTextNote)
	}
	for _, k := range fb.config.Kinds.Interactions() {
		if k != event.KindTextNote {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// visibleAuthors drops muted authors and duplicates
func (fb *FilterBuilder) visibleAuthors(acct Account, authors []string) []string {
	seen := make(map[string]struct{}, len(authors))
	out := make([]string, 0, len(authors))
	for _, pk := range authors {
		if _, ok := seen[pk]; ok || acct.IsHidden(pk) {
			continue
		}
		seen[pk] = struct{}{}
		out = append(out, pk)
	}
	return out
}

func withSince(f nostr.Filter, since nostr.Timestamp) nostr.Filter {
	if since > 0 {
		ts := since
		f.Since = &ts
	}
	return f
}

// isReplaceable covers replaceable and parameterized replaceable kinds
func isReplaceable(kind int) bool {
	return event.IsReplaceable(kind) || (kind >= 30000 && kind < 40000)
}

func dedupeKinds(kinds []int) []int {
	seen := make(map[int]struct{}, len(kinds))
	out := make([]int, 0, len(kinds))
	for _, k := range kinds {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
