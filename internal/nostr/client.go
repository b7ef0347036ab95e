package nostr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/ops"
)

// EventSink receives every event a live subscription delivers
type EventSink func(relayURL, subID string, ev *nostr.Event)

// Client is the relay transport. It keeps one pooled connection per relay
// and any number of labelled subscriptions on each.
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
	sink        EventSink
	logger      *ops.Logger

	subs *xsync.MapOf[string, *nostr.Subscription]
}

// New creates a new relay client
func New(ctx context.Context, relayConfig *config.Relays, sink EventSink, logger *ops.Logger) *Client {
	if sink == nil {
		sink = func(string, string, *nostr.Event) {}
	}
	if logger == nil {
		logger = ops.Default()
	}
	return &Client{
		pool:        nostr.NewSimplePool(ctx),
		relayConfig: relayConfig,
		sink:        sink,
		logger:      logger.WithComponent("transport"),
		subs:        xsync.NewMapOf[string, *nostr.Subscription](),
	}
}

// Pool returns the underlying SimplePool for advanced operations
func (c *Client) Pool() *nostr.SimplePool {
	return c.pool
}

// Connect opens subID on relayURL, connecting first if needed. Events are
// forwarded to the sink until the subscription ends or ctx is cancelled.
func (c *Client) Connect(ctx context.Context, relayURL, subID string, filters nostr.Filters) error {
	relay, err := c.pool.EnsureRelay(relayURL)
	if err != nil {
		return fmt.Errorf("connect %s: %w", relayURL, err)
	}

	sub, err := relay.Subscribe(ctx, filters, nostr.WithLabel(subID))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", relayURL, err)
	}

	if prev, loaded := c.subs.LoadAndStore(subKey(relayURL, subID), sub); loaded {
		prev.Unsub()
	}

	go c.forward(relayURL, subID, sub)
	return nil
}

func (c *Client) forward(relayURL, subID string, sub *nostr.Subscription) {
	logger := c.logger.WithFields("relay", relayURL, "sub_id", subID)
	logger.Debug("subscription open")

	count := 0
	defer func() {
		logger.Debug("subscription ended", "events", count)
	}()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			count++
			c.sink(relayURL, subID, ev)
		case <-sub.Context.Done():
			return
		}
	}
}

// Unsubscribe closes one subscription. Unknown ids are ignored.
func (c *Client) Unsubscribe(relayURL, subID string) {
	if sub, ok := c.subs.LoadAndDelete(subKey(relayURL, subID)); ok {
		sub.Unsub()
	}
}

// Disconnect closes every subscription on relayURL and drops the connection
func (c *Client) Disconnect(relayURL string) {
	prefix := relayURL + "|"
	c.subs.Range(func(key string, sub *nostr.Subscription) bool {
		if strings.HasPrefix(key, prefix) {
			c.subs.Delete(key)
			sub.Unsub()
		}
		return true
	})

	if relay, ok := c.pool.Relays.LoadAndDelete(nostr.NormalizeURL(relayURL)); ok {
		if err := relay.Close(); err != nil {
			c.logger.Debug("relay close failed", "relay", relayURL, "error", err)
		}
	}
}

// SubscriptionCount returns the number of open subscriptions across relays
func (c *Client) SubscriptionCount() int {
	return c.subs.Size()
}

// Close closes all relay connections
func (c *Client) Close() {
	c.subs.Range(func(key string, sub *nostr.Subscription) bool {
		c.subs.Delete(key)
		sub.Unsub()
		return true
	})
	c.pool.Close("client shutting down")
}

// GetSeedRelays returns the configured seed relays
func (c *Client) GetSeedRelays() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Seeds
}

// GetDefaultTimeout returns the configured timeout duration
func (c *Client) GetDefaultTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.ConnectTimeoutMs) * time.Millisecond
}

func subKey(relayURL, subID string) string {
	return relayURL + "|" + subID
}
