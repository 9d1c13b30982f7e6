// Package reaper force-ends calls abandoned in a non-terminal state.
package reaper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval   = 5 * time.Minute
	DefaultStaleAfter = 5 * time.Minute
)

// Sweeper ends every open call older than staleAfter and reports how many it ended.
type Sweeper interface {
	SweepStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Config describes a Reaper.
type Config struct {
	Sweeper    Sweeper
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *zap.Logger
}

// Reaper runs the sweep on a fixed interval until stopped.
type Reaper struct {
	sweeper    Sweeper
	interval   time.Duration
	staleAfter time.Duration
	logger     *zap.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Reaper.
func New(cfg Config) (*Reaper, error) {
	if cfg.Sweeper == nil {
		return nil, errors.New("reaper: sweeper is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		sweeper:    cfg.Sweeper,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}, nil
}

// Start launches the sweep loop. Calling Start on a started Reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)
	r.logger.Info("reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("stale_after", r.staleAfter))
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("reaper stopped")
}

// RunOnce performs a single sweep. It reports false without sweeping when
// another sweep is still in progress.
func (r *Reaper) RunOnce(ctx context.Context) (int, bool) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("reaper tick skipped, previous sweep still running")
		return 0, false
	}
	defer r.running.Store(false)

	swept, err := r.sweeper.SweepStale(ctx, r.staleAfter)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		r.logger.Debug("reaper sweep interrupted", zap.Int("swept", swept))
	default:
		r.logger.Error("reaper sweep failed", zap.Error(err))
	}
	return swept, true
}

func (r *Reaper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}
