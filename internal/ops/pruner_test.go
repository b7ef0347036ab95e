package ops

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingPruner struct {
	calls atomic.Int32
	err   error
}

func (c *countingPruner) CleanUp(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 2, c.err
}

func TestPeriodicPrunerRunsUntilStopped(t *testing.T) {
	pruner := &countingPruner{}
	p := NewPeriodicPruner(pruner, 5*time.Millisecond, Discard())
	p.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for pruner.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for scheduled prunes")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Stop()
	p.Stop()

	after := pruner.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if pruner.calls.Load() != after {
		t.Errorf("pruner kept running after Stop: %d -> %d", after, pruner.calls.Load())
	}
}

func TestPeriodicPrunerStopsOnContext(t *testing.T) {
	pruner := &countingPruner{err: errors.New("boom")}
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPeriodicPruner(pruner, time.Hour, Discard())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
