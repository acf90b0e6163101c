// Package sweeper periodically resolves the status of every active bot so
// rooms free up even when nobody polls, and prunes old inert handles.
package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/logging"
)

const (
	defaultInterval    = 15 * time.Second
	defaultConcurrency = 4
	defaultRetention   = time.Hour
)

// Target is the part of the orchestrator the sweeper drives.
type Target interface {
	ActiveIDs() []string
	GetStatus(ctx context.Context, id string) (bot.Handle, error)
	Prune(retention time.Duration) int
}

// Config controls the sweep cadence.
type Config struct {
	// Interval between sweeps. Zero or negative disables the loop; Sweep
	// can still be called directly.
	Interval time.Duration

	// Concurrency bounds the number of status reads in flight.
	Concurrency int

	// Retention is how long inert handles are kept. Zero disables pruning.
	Retention time.Duration
}

// DefaultConfig returns the default sweep settings.
func DefaultConfig() Config {
	return Config{
		Interval:    defaultInterval,
		Concurrency: defaultConcurrency,
		Retention:   defaultRetention,
	}
}

// Result summarizes one sweep.
type Result struct {
	Checked int
	Evicted int
	Failed  int
	Pruned  int
}

// Sweeper runs sweeps on an interval.
type Sweeper struct {
	target Target
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	stopFunc context.CancelFunc
	stopped  chan struct{}
	sweeps   atomic.Int64
}

// New creates a Sweeper. Call Start to begin the loop.
func New(target Target, cfg Config, logger *logging.Logger) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sweeper{
		target: target,
		cfg:    cfg,
		logger: logger.With("component", "sweeper"),
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopFunc != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stopFunc = cancel
	s.stopped = make(chan struct{})
	go s.loop(ctx, s.stopped)
}

// Stop ends the loop and waits for an in-flight sweep to finish. It is safe
// to call Stop even if Start was never called.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, stopped := s.stopFunc, s.stopped
	s.stopFunc, s.stopped = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
}

// Sweeps returns the number of completed sweeps.
func (s *Sweeper) Sweeps() int64 {
	return s.sweeps.Load()
}

func (s *Sweeper) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	if s.cfg.Interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep resolves every active bot once, then prunes inert handles.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	ids := s.target.ActiveIDs()

	var evicted, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency).WithContext(ctx)
	for _, id := range ids {
		p.Go(func(ctx context.Context) error {
			h, err := s.target.GetStatus(ctx, id)
			if err != nil {
				failed.Add(1)
				s.logger.WithBot(id).Debug("sweep status read failed", "error", err.Error())
				return nil
			}
			if !h.Active {
				evicted.Add(1)
			}
			return nil
		})
	}
	_ = p.Wait()

	res := Result{
		Checked: len(ids),
		Evicted: int(evicted.Load()),
		Failed:  int(failed.Load()),
	}
	if s.cfg.Retention > 0 {
		res.Pruned = s.target.Prune(s.cfg.Retention)
	}
	s.sweeps.Add(1)

	if res.Evicted > 0 || res.Pruned > 0 || res.Failed > 0 {
		s.logger.Info("sweep finished",
			"checked", res.Checked,
			"evicted", res.Evicted,
			"failed", res.Failed,
			"pruned", res.Pruned,
		)
	}
	return res
}
