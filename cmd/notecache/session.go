package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/notecache/internal/account"
	"github.com/sandwichfarm/notecache/internal/aggregates"
	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/config"
	internalnostr "github.com/sandwichfarm/notecache/internal/nostr"
	"github.com/sandwichfarm/notecache/internal/ops"
	"github.com/sandwichfarm/notecache/internal/service"
	"github.com/sandwichfarm/notecache/internal/zaps"
)

// session holds every long-lived component of one running client
type session struct {
	cfg     *config.Config
	logger  *ops.Logger
	store   *cache.Store
	cards   *aggregates.Engine
	queries *aggregates.QueryHelper
	acct    *account.Account
	zaps    *zaps.Resolver
	client  *internalnostr.Client
	mgr     *service.Manager
	diag    *ops.DiagnosticsCollector
}

func newSession(ctx context.Context, path string) (*session, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)

	store := cache.New(&cfg.Cache, logger)
	acct, err := account.New(store, &cfg.Identity, cfg.Relays.Seeds)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load account: %w", err)
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		cards:   aggregates.NewEngine(store, &cfg.Cache, logger),
		queries: aggregates.NewQueryHelper(store, acct.Pubkey()),
		acct:    acct,
		zaps:    zaps.NewResolver(store, acct.Keys(), &cfg.Zaps, logger),
	}

	// the transport and the manager point at each other; the sink only runs
	// once a subscription is open, which is after mgr is set
	s.client = internalnostr.New(ctx, &cfg.Relays, func(relayURL, subID string, ev *nostr.Event) {
		s.mgr.OnEventReceived(relayURL, subID, ev)
	}, logger)
	s.mgr = service.New(cfg, store, s.client, logger)

	s.diag = ops.NewDiagnosticsCollector(version, commit, ops.Sources{
		Cache: func() ops.CacheStats {
			st := store.Stats()
			return ops.CacheStats{Notes: st.Notes, Users: st.Users, Placeholders: st.Placeholders, IngestErrors: st.Errors}
		},
		Session: func() ops.SessionStats {
			st := s.mgr.Stats()
			return ops.SessionStats{
				State:             st.State.String(),
				Relays:            st.Relays,
				Subscriptions:     st.Subscriptions,
				DetailViews:       st.DetailViews,
				Received:          st.Received,
				TransportFailures: st.TransportFailures,
			}
		},
		Relays: func() []ops.RelayHealth {
			statuses := s.client.GetRelays()
			health := make([]ops.RelayHealth, 0, len(statuses))
			for _, r := range statuses {
				health = append(health, ops.RelayHealth{URL: r.URL, Connected: r.Connected})
			}
			return health
		},
		Cards: func() int {
			return len(s.queries.GetNotifications(0))
		},
	})

	return s, nil
}

// bootstrap learns the account's own relays before the session subscribes.
// A failure is not fatal, the seeds still serve as fallback relays.
func (s *session) bootstrap(ctx context.Context) {
	n, err := s.client.Bootstrap(ctx, s.acct.Pubkey(), s.store.Ingest)
	if err != nil && !errors.Is(err, internalnostr.ErrNoSeeds) {
		s.logger.Warn("bootstrap failed", "error", err)
		return
	}
	s.logger.Info("account loaded",
		"npub", s.acct.Npub(),
		"events", n,
		"follows", len(s.acct.Follows()),
		"relays", len(s.acct.ActiveRelays()))
}

func (s *session) close(reason string) {
	s.mgr.Stop()
	s.client.Close()
	s.zaps.Wait()
	s.store.Close()
	s.logger.LogShutdown(reason)
}
