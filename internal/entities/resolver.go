package entities

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Reference is a decoded NIP-27 mention found in note content
type Reference struct {
	Type         string // "npub", "nprofile", "note", "nevent", "naddr"
	EventID      string
	Pubkey       string
	Relays       []string
	OriginalText string
}

// IsEvent reports whether the reference points at a note
func (r *Reference) IsEvent() bool {
	return r.EventID != ""
}

// Lookup supplies display names for resolved references
type Lookup interface {
	DisplayName(pubkey string) string
	NoteSnippet(eventID string) string
}

// Resolver renders mentions using whatever the cache currently knows
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a new entity resolver
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{
		lookup: lookup,
	}
}

// Regular expression to match nostr: URIs
var nostrEntityRegex = regexp.MustCompile(`nostr:(npub1[a-z0-9]+|nprofile1[a-z0-9]+|note1[a-z0-9]+|nevent1[a-z0-9]+|naddr1[a-z0-9]+)`)

// FindEntities finds all NIP-19 entities in text
func FindEntities(text string) []string {
	matches := nostrEntityRegex.FindAllString(text, -1)
	entities := make([]string, len(matches))
	for i, match := range matches {
		entities[i] = strings.TrimPrefix(match, "nostr:")
	}
	return entities
}

// Decode turns one bech32 entity into a reference
func Decode(entity string) (*Reference, error) {
	prefix, decoded, err := nip19.Decode(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to decode NIP-19: %w", err)
	}

	ref := &Reference{
		Type:         prefix,
		OriginalText: "nostr:" + entity,
	}

	switch prefix {
	case "npub":
		ref.Pubkey = decoded.(string)
	case "nprofile":
		pointer := decoded.(nostr.ProfilePointer)
		ref.Pubkey = pointer.PublicKey
		ref.Relays = pointer.Relays
	case "note":
		ref.EventID = decoded.(string)
	case "nevent":
		pointer := decoded.(nostr.EventPointer)
		ref.EventID = pointer.ID
		ref.Pubkey = pointer.Author
		ref.Relays = pointer.Relays
	case "naddr":
		pointer := decoded.(nostr.EntityPointer)
		ref.Pubkey = pointer.PublicKey
		ref.Relays = pointer.Relays
	default:
		return nil, fmt.Errorf("unsupported entity prefix: %s", prefix)
	}

	return ref, nil
}

// ExtractReferences decodes every mention in text, skipping ones that do not decode
func ExtractReferences(text string) []*Reference {
	found := FindEntities(text)
	refs := make([]*Reference, 0, len(found))
	seen := make(map[string]struct{}, len(found))

	for _, entity := range found {
		if _, ok := seen[entity]; ok {
			continue
		}
		seen[entity] = struct{}{}

		ref, err := Decode(entity)
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}

	return refs
}

// ReplaceEntities rewrites every mention in text with a display form
func (r *Resolver) ReplaceEntities(text string) string {
	return nostrEntityRegex.ReplaceAllStringFunc(text, func(match string) string {
		ref, err := Decode(strings.TrimPrefix(match, "nostr:"))
		if err != nil {
			return match
		}

		if ref.IsEvent() {
			if snippet := r.lookup.NoteSnippet(ref.EventID); snippet != "" {
				return "\"" + truncate(snippet, 60) + "\""
			}
			return "note:" + truncatePubkey(ref.EventID)
		}

		if name := r.lookup.DisplayName(ref.Pubkey); name != "" {
			return "@" + name
		}
		return "@" + truncatePubkey(ref.Pubkey)
	})
}

func truncatePubkey(pubkey string) string {
	if len(pubkey) <= 16 {
		return pubkey
	}
	return pubkey[:8] + "..." + pubkey[len(pubkey)-8:]
}

func truncate(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-3] + "..."
}
