package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/sandwichfarm/notecache/internal/aggregates"
	"github.com/sandwichfarm/notecache/internal/entities"
	"github.com/sandwichfarm/notecache/internal/service"
)

func newThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread <note-id>",
		Short: "Fetch a thread and print it",
		Long:  "Open a thread view for a hex id, note1 or nevent1, wait for relays to answer, then print the cached thread.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			wait, err := cmd.Flags().GetDuration("wait")
			if err != nil {
				return err
			}
			id, err := parseNoteID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return printThread(ctx, cmd.OutOrStdout(), path, id, wait)
		},
	}
	cmd.Flags().Duration("wait", 10*time.Second, "how long to collect events before printing")
	return cmd
}

func parseNoteID(arg string) (string, error) {
	if nostr.IsValid32ByteHex(arg) {
		return arg, nil
	}
	ref, err := entities.Decode(arg)
	if err != nil {
		return "", err
	}
	if !ref.IsEvent() {
		return "", fmt.Errorf("%s does not point at a note", arg)
	}
	return ref.EventID, nil
}

func printThread(parent context.Context, out io.Writer, path, id string, wait time.Duration) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s, err := newSession(ctx, path)
	if err != nil {
		return err
	}
	defer s.close("thread printed")

	s.bootstrap(ctx)
	if err := s.mgr.Start(ctx, s.acct); err != nil {
		return err
	}

	h, err := s.mgr.OpenDetail(ctx, service.ScopeThread, id)
	if err != nil {
		return err
	}
	defer h.Close()

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}

	thread := s.queries.GetThreadByEvent(id)
	if thread == nil {
		return fmt.Errorf("note %s not found", id)
	}

	render := entities.NewResolver(s.store)
	if thread.Root != nil {
		writeNote(out, s, render, thread.Root, "")
	} else {
		fmt.Fprintf(out, "[%s not cached]\n\n", thread.RootID)
	}
	for _, reply := range thread.Replies {
		writeNote(out, s, render, reply, "  ")
	}
	return nil
}

func writeNote(out io.Writer, s *session, render *entities.Resolver, n *aggregates.EnrichedNote, indent string) {
	if n.Event == nil {
		fmt.Fprintf(out, "%s[%s not loaded]\n", indent, n.Note.IDHex)
		return
	}
	when := n.Event.CreatedAt.Time().Format(time.DateTime)
	fmt.Fprintf(out, "%s%s  %s\n", indent, s.store.DisplayName(n.Event.PubKey), when)
	fmt.Fprintf(out, "%s%s\n", indent, render.ReplaceEntities(n.Event.Content))

	agg := n.Aggregates
	if agg.HasInteractions() {
		fmt.Fprintf(out, "%s%d replies, %d boosts, %d reactions, %s zapped\n",
			indent, agg.ReplyCount, agg.BoostTotal, agg.ReactionTotal, agg.ZapTotalText())
	}
	fmt.Fprintln(out)
}
