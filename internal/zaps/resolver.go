package zaps

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/event"
	"github.com/sandwichfarm/notecache/internal/ops"
)

// DecryptedZap is the real sender and comment of a private zap
type DecryptedZap struct {
	Author  string
	Content string
	Inner   *nostr.Event
}

// ZapView is what a feed row shows for one zap
type ZapView struct {
	RequestID  string
	ReceiptID  string
	Author     string
	AuthorName string
	Comment    string
	Private    bool
	Amount     decimal.Decimal
	HasAmount  bool
	AmountText string
}

type decryptResult struct {
	zap *DecryptedZap
}

// Resolver turns zap requests and receipts into display values. Decryption can
// be slow, so DescribeAsync runs it off the caller's goroutine with bounded
// parallelism.
type Resolver struct {
	store   *cache.Store
	keys    KeyDecrypter
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *ops.Logger

	decrypted *xsync.MapOf[string, decryptResult]
	wg        sync.WaitGroup
}

// NewResolver creates a resolver. keys may be nil for read-only accounts.
func NewResolver(store *cache.Store, keys KeyDecrypter, cfg *config.Zaps, logger *ops.Logger) *Resolver {
	workers := int64(cfg.DecryptWorkers)
	if workers <= 0 {
		workers = 1
	}
	timeout := time.Duration(cfg.DecryptTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	if logger == nil {
		logger = ops.Default()
	}

	r := &Resolver{
		store:     store,
		keys:      keys,
		sem:       semaphore.NewWeighted(workers),
		timeout:   timeout,
		logger:    logger.WithComponent("zaps"),
		decrypted: xsync.NewMapOf[string, decryptResult](),
	}
	// remembered results die with their request note
	store.OnRemoved(func(n *cache.Note) {
		r.decrypted.Delete(n.IDHex)
	})
	return r
}

// CachedResults is the number of remembered decrypt outcomes
func (r *Resolver) CachedResults() int {
	return r.decrypted.Size()
}

// Decrypt opens a private zap request addressed to this account. It returns nil
// for public zaps and for private zaps meant for someone else.
func (r *Resolver) Decrypt(ctx context.Context, request *cache.Note) *DecryptedZap {
	if r.keys == nil || request == nil {
		return nil
	}
	ev := request.Event()
	if ev == nil || ev.Kind != event.KindZapRequest || anonTag(ev) == "" {
		return nil
	}

	if cached, ok := r.decrypted.Load(ev.ID); ok {
		return cached.zap
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	inner, err := r.keys.DecryptZapRequest(ctx, ev)
	if err != nil {
		// timeouts and cancellations are not remembered; another scope may retry
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if !errors.Is(err, ErrNotForUs) {
			r.logger.Debug("private zap unreadable", "request_id", ev.ID, "error", err)
		}
		r.decrypted.Store(ev.ID, decryptResult{})
		return nil
	}

	zap := &DecryptedZap{Author: inner.PubKey, Content: inner.Content, Inner: inner}
	r.decrypted.Store(ev.ID, decryptResult{zap: zap})
	return zap
}

// ComputeAmount reads the paid sats from a receipt's invoice
func ComputeAmount(receipt *cache.Note) (decimal.Decimal, bool) {
	if receipt == nil {
		return decimal.Zero, false
	}
	ev := receipt.Event()
	if ev == nil || ev.Kind != event.KindZapReceipt {
		return decimal.Zero, false
	}
	v, err := event.Parse(ev)
	if err != nil {
		return decimal.Zero, false
	}
	zr, ok := v.(*event.ZapReceipt)
	if !ok {
		return decimal.Zero, false
	}
	return zr.Amount()
}

// ZappedAmount sums every paired receipt on note. Pending requests add nothing.
func ZappedAmount(note *cache.Note) decimal.Decimal {
	total := decimal.Zero
	for _, receipt := range note.Snapshot().Zaps {
		if amount, ok := ComputeAmount(receipt); ok {
			total = total.Add(amount)
		}
	}
	return total
}

// Describe resolves one zap for display. A private zap that cannot be opened
// is shown with the request's own author and content.
func (r *Resolver) Describe(ctx context.Context, request, receipt *cache.Note) ZapView {
	view := ZapView{RequestID: request.IDHex}
	if receipt != nil {
		view.ReceiptID = receipt.IDHex
	}

	if ev := request.Event(); ev != nil {
		view.Author = ev.PubKey
		view.Comment = ev.Content
		view.Private = anonTag(ev) != ""
	}
	if zap := r.Decrypt(ctx, request); zap != nil {
		view.Author = zap.Author
		view.Comment = zap.Content
	}
	if view.Author != "" {
		view.AuthorName = r.store.DisplayName(view.Author)
	}

	view.Amount, view.HasAmount = ComputeAmount(receipt)
	if view.HasAmount {
		view.AmountText = ShowAmount(view.Amount)
	}
	return view
}

// DescribeAsync runs Describe on a worker and hands the result to deliver.
// Results for a ctx that ended meanwhile are dropped.
func (r *Resolver) DescribeAsync(ctx context.Context, request, receipt *cache.Note, deliver func(ZapView)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer r.sem.Release(1)

		view := r.Describe(ctx, request, receipt)
		if ctx.Err() != nil {
			return
		}
		deliver(view)
	}()
}

// Wait blocks until every DescribeAsync worker has returned
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// WasZappedBy reports whether pubkey sent any zap on note, private ones included
func (r *Resolver) WasZappedBy(ctx context.Context, note *cache.Note, pubkey string) bool {
	for request := range note.Snapshot().Zaps {
		if request.AuthorPubkey() == pubkey {
			return true
		}
		if zap := r.Decrypt(ctx, request); zap != nil && zap.Author == pubkey {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}
