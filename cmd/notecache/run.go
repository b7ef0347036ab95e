package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandwichfarm/notecache/internal/aggregates"
	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/service"
	"github.com/sandwichfarm/notecache/internal/zaps"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the client session and keep the cache live",
		Long: "Start the client session and keep the cache live.\n\n" +
			"SIGUSR1 pauses or resumes the session, SIGUSR2 prints diagnostics,\n" +
			"SIGINT and SIGTERM shut down.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			interval, err := cmd.Flags().GetDuration("status-interval")
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), path, interval)
		},
	}
	cmd.Flags().Duration("status-interval", 5*time.Minute, "how often to log a status line, 0 disables")
	return cmd
}

func runSession(parent context.Context, path string, statusInterval time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s, err := newSession(ctx, path)
	if err != nil {
		return err
	}
	s.logger.LogStartup(version, s.cfg.Relays.Seeds)
	s.bootstrap(ctx)

	watching := make(chan struct{})
	go func() {
		defer close(watching)
		watchNotifications(ctx, s)
	}()

	reason := "signal"
	defer func() {
		// the watcher must be gone before the zap resolver is drained
		cancel()
		<-watching
		s.close(reason)
	}()

	if err := s.mgr.Start(ctx, s.acct); err != nil {
		reason = "start failed"
		return err
	}

	var status <-chan time.Time
	if statusInterval > 0 {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		status = ticker.C
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			reason = "context done"
			return nil
		case <-status:
			s.logger.LogDiagnostics(s.diag.CollectAll())
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				togglePause(ctx, s)
			case syscall.SIGUSR2:
				fmt.Fprint(os.Stderr, s.diag.CollectAll().FormatAsText())
			default:
				reason = sig.String()
				return nil
			}
		}
	}
}

func togglePause(ctx context.Context, s *session) {
	if s.mgr.State() == service.StateActive {
		if err := s.mgr.Pause(ctx); err != nil {
			s.logger.Warn("pause failed", "error", err)
		}
		return
	}
	if err := s.mgr.Start(ctx, s.acct); err != nil {
		s.logger.Warn("resume failed", "error", err)
	}
}

// watchNotifications logs cards for the account's own notes that changed
// after the notification route was last read, and resolves each new zap once.
func watchNotifications(ctx context.Context, s *session) {
	owner := s.acct.Pubkey()
	described := make(map[string]struct{})
	logger := s.logger.WithComponent("notifications")

	for batch := range s.cards.Subscribe(ctx) {
		lastRead := s.acct.LastRead(cache.NotificationRoute)
		for _, card := range batch {
			if card.Note.AuthorPubkey() != owner || !aggregates.IsNew(card, lastRead) {
				continue
			}
			logger.Info("notification",
				"note", card.ID(),
				"boosts", len(card.BoostEvents),
				"likes", len(card.LikeEvents),
				"zaps", len(card.ZapEvents),
				"zapped", card.ZapTotalText())

			for req, receipt := range card.ZapEvents {
				if receipt == nil {
					continue
				}
				if _, seen := described[receipt.IDHex]; seen {
					continue
				}
				described[receipt.IDHex] = struct{}{}
				s.zaps.DescribeAsync(ctx, req, receipt, func(v zaps.ZapView) {
					logger.Info("zap",
						"note", card.ID(),
						"from", v.AuthorName,
						"amount", v.AmountText,
						"private", v.Private,
						"comment", v.Comment)
				})
			}
		}
	}
}
