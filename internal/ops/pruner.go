package ops

import (
	"context"
	"sync"
	"time"
)

// Pruner runs one cleanup pass and reports how many entries it removed
type Pruner interface {
	CleanUp(ctx context.Context) (int, error)
}

// PeriodicPruner runs a Pruner on a fixed interval until stopped
type PeriodicPruner struct {
	pruner   Pruner
	interval time.Duration
	logger   *Logger

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewPeriodicPruner creates a new periodic pruner
func NewPeriodicPruner(pruner Pruner, interval time.Duration, logger *Logger) *PeriodicPruner {
	return &PeriodicPruner{
		pruner:   pruner,
		interval: interval,
		logger:   logger.WithComponent("periodic-pruner"),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the pruning loop in the background
func (p *PeriodicPruner) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *PeriodicPruner) run(ctx context.Context) {
	defer close(p.doneChan)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("periodic pruner started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("periodic pruner stopped (context done)")
			return
		case <-p.stopChan:
			p.logger.Info("periodic pruner stopped (shutdown)")
			return
		case <-ticker.C:
			start := time.Now()
			removed, err := p.pruner.CleanUp(ctx)
			p.logger.LogPrune("scheduled", removed, time.Since(start), err)
		}
	}
}

// Stop ends the loop and waits for it to exit. Safe to call more than once.
func (p *PeriodicPruner) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	<-p.doneChan
}
