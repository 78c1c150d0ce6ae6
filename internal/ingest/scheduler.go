package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surchile/platform-ingest/internal/metrics"
)

// Runner is the unit of work the scheduler drives. *Engine implements it.
type Runner interface {
	Run(ctx context.Context) (Summary, error)
}

// Scheduler drives ingestion runs on a fixed interval with single-flight
// semantics: a tick that arrives while a run is still in flight is skipped
// outright, never queued and never run concurrently. Errors escaping a run
// are logged and the loop keeps ticking with no backoff and no retry
// ceiling; transient outages self-heal on a later tick.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	busy   atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the loop. The first run fires immediately, then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the loop and waits for the in-flight run (if any) to wind
// down. The run observes the cancellation at its next suspension point and
// leaves unfinished objects in place rather than half-moved.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches one run unless the previous one is still active.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("previous ingest run still in flight, skipping tick")
		metrics.TicksSkipped.Inc()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("ingest run panicked", "panic", r)
			}
		}()

		if _, err := s.runner.Run(ctx); err != nil {
			s.logger.Error("ingest run failed, will retry next tick", "err", err)
		}
	}()
}
