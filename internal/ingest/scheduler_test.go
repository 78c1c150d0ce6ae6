package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// fakeRunner counts runs, tracks overlap, and can be made slow or broken.
type fakeRunner struct {
	runs       atomic.Int64
	inFlight   atomic.Int64
	overlapped atomic.Bool

	delay time.Duration
	err   error
	panic bool
}

func (r *fakeRunner) Run(ctx context.Context) (Summary, error) {
	if r.inFlight.Add(1) > 1 {
		r.overlapped.Store(true)
	}
	defer r.inFlight.Add(-1)
	r.runs.Add(1)

	if r.panic {
		panic("boom")
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
		}
	}
	return Summary{}, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestScheduler_SingleFlight(t *testing.T) {
	runner := &fakeRunner{delay: 150 * time.Millisecond}

	sched := NewScheduler(runner, 20*time.Millisecond, testLogger())
	sched.Start()
	time.Sleep(200 * time.Millisecond)
	sched.Stop()

	if runner.overlapped.Load() {
		t.Fatal("two runs executed concurrently")
	}
	// With a 150ms run and 20ms ticks, most ticks must have been skipped.
	if runs := runner.runs.Load(); runs > 3 {
		t.Errorf("expected skipped ticks, got %d runs", runs)
	}
}

func TestScheduler_RunsOnStartThenOnTicks(t *testing.T) {
	runner := &fakeRunner{}

	sched := NewScheduler(runner, 40*time.Millisecond, testLogger())
	sched.Start()
	time.Sleep(110 * time.Millisecond)
	sched.Stop()

	if runs := runner.runs.Load(); runs < 2 {
		t.Errorf("expected at least 2 runs (initial + tick), got %d", runs)
	}
}

func TestScheduler_Stop_NoStart(t *testing.T) {
	sched := NewScheduler(&fakeRunner{}, time.Minute, testLogger())
	// Stop without Start should not panic.
	sched.Stop()
}

func TestScheduler_RunErrorKeepsLooping(t *testing.T) {
	runner := &fakeRunner{err: errors.New("store unreachable")}

	sched := NewScheduler(runner, 30*time.Millisecond, testLogger())
	sched.Start()
	time.Sleep(100 * time.Millisecond)
	sched.Stop()

	if runs := runner.runs.Load(); runs < 3 {
		t.Errorf("loop should keep ticking through run errors, got %d runs", runs)
	}
}

func TestScheduler_RunPanicRecovered(t *testing.T) {
	runner := &fakeRunner{panic: true}

	sched := NewScheduler(runner, 30*time.Millisecond, testLogger())
	sched.Start()
	time.Sleep(100 * time.Millisecond)
	sched.Stop()

	if runs := runner.runs.Load(); runs < 2 {
		t.Errorf("loop should survive a panicking run, got %d runs", runs)
	}
}
