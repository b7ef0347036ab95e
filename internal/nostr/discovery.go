package nostr

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/notecache/internal/event"
)

// ErrNoSeeds is returned when bootstrap has nowhere to ask
var ErrNoSeeds = errors.New("no seed relays configured")

// Ingester stores events fetched outside a live subscription
type Ingester func(ev *nostr.Event, relayURL string)

// Bootstrap fetches the account's profile, contact list and relay list from
// the seed relays and hands them to ingest, so the account's own relays are
// known before the session subscribes. It returns how many events arrived.
func (c *Client) Bootstrap(ctx context.Context, pubkey string, ingest Ingester) (int, error) {
	seeds := c.GetSeedRelays()
	if len(seeds) == 0 {
		return 0, ErrNoSeeds
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.GetDefaultTimeout())
	defer cancel()

	filter := nostr.Filter{
		Kinds:   []int{event.KindMetadata, event.KindContactList, event.KindRelayList},
		Authors: []string{pubkey},
	}

	received := 0
	for relayEvent := range c.pool.SubManyEose(fetchCtx, seeds, nostr.Filters{filter}) {
		if relayEvent.Event == nil {
			continue
		}
		relayURL := ""
		if relayEvent.Relay != nil {
			relayURL = relayEvent.Relay.URL
		}
		ingest(relayEvent.Event, relayURL)
		received++
	}

	c.logger.Info("bootstrap complete", "pubkey", pubkey, "events", received, "seeds", len(seeds))
	if received == 0 {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("bootstrap: %w", err)
		}
	}
	return received, nil
}

// RelayStatus is the connection state of one pooled relay
type RelayStatus struct {
	URL       string
	Connected bool
}

// GetRelays returns the status of every relay in the pool
func (c *Client) GetRelays() []RelayStatus {
	statuses := make([]RelayStatus, 0)
	c.pool.Relays.Range(func(url string, relay *nostr.Relay) bool {
		statuses = append(statuses, RelayStatus{
			URL:       url,
			Connected: relay.IsConnected(),
		})
		return true
	})
	return statuses
}
