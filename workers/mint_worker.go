package workers

import (
	"context"
	"fmt"
	"time"

	"activity-rewards-system/logger"

	"golang.org/x/sync/errgroup"
)

// MintRunner processes at most one due mint record per call.
type MintRunner interface {
	RunOnce(ctx context.Context) (bool, error)
}

// MintWorkerPool runs N loops that drain the mint queue. Each loop polls on a
// ticker and keeps draining while records are due.
type MintWorkerPool struct {
	runner      MintRunner
	concurrency int
	pollEvery   time.Duration
	log         *logger.Logger
}

func NewMintWorkerPool(runner MintRunner, concurrency int, pollEvery time.Duration, baseLog *logger.Logger) *MintWorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	return &MintWorkerPool{
		runner:      runner,
		concurrency: concurrency,
		pollEvery:   pollEvery,
		log:         baseLog.With("component", "MintWorkerPool"),
	}
}

// Run blocks until ctx is cancelled and every loop has returned.
func (p *MintWorkerPool) Run(ctx context.Context) error {
	p.log.Info("Starting mint worker pool", "concurrency", p.concurrency, "poll_every", p.pollEvery)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			p.runLoop(gctx, workerID)
			return nil
		})
	}
	err := g.Wait()
	p.log.Info("Mint worker pool stopped")
	return err
}

func (p *MintWorkerPool) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for ctx.Err() == nil {
				found, err := p.runOne(ctx, workerID)
				if err != nil && ctx.Err() == nil {
					p.log.Warn("Mint run failed", "worker_id", workerID, "error", err)
				}
				if !found || err != nil {
					break
				}
			}
		}
	}
}

// runOne shields the loop from a panicking run. The record it held stays SUBMITTING
// and is released by reconciliation.
func (p *MintWorkerPool) runOne(ctx context.Context, workerID int) (found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Mint run panic", "worker_id", workerID, "panic", r)
			found, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return p.runner.RunOnce(ctx)
}
