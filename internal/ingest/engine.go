// Package ingest implements the platform event ingestion pipeline: one
// engine run lists the pending drops in the object store, parses and
// classifies each one, upserts the resulting document, and archives the
// source file; a scheduler drives runs on a fixed interval.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/surchile/platform-ingest/internal/events"
	"github.com/surchile/platform-ingest/internal/idgen"
	"github.com/surchile/platform-ingest/internal/metrics"
	"github.com/surchile/platform-ingest/internal/model"
	"github.com/surchile/platform-ingest/internal/objectstore"
	"github.com/surchile/platform-ingest/internal/store"
)

// ObjectStore is the object-store surface the engine consumes.
// *objectstore.Client implements it.
type ObjectStore interface {
	List(ctx context.Context, prefix string, fn func(key string) error) error
	Fetch(ctx context.Context, key string) ([]byte, error)
	Move(ctx context.Context, key, fromPrefix, toPrefix string) (string, error)
}

var _ ObjectStore = (*objectstore.Client)(nil)

// Config carries the per-run settings of the engine.
type Config struct {
	SourcePrefix    string
	ProcessedPrefix string
	ErrorsPrefix    string

	// Stage is the deployment tag stamped on every record; it is part of
	// the composite identity so environments never collide.
	Stage string

	// Routes maps each event kind to its target collection.
	Routes map[model.EventKind]string

	// Workers bounds the fan-out within a run. Upserts racing on the same
	// composite key are serialized by the store itself, not here.
	Workers int
}

// Engine performs one ingestion run at a time.
type Engine struct {
	objects ObjectStore
	docs    store.Store
	pub     events.Publisher
	cfg     Config
	logger  *slog.Logger

	now func() time.Time
}

// Summary is the per-run outcome count.
type Summary struct {
	RunID     string
	Succeeded int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
}

// Object processing outcomes.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
)

func NewEngine(objects ObjectStore, docs store.Store, pub events.Publisher, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{
		objects: objects,
		docs:    docs,
		pub:     pub,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes one ingestion pass over the source prefix. Per-object
// failures are resolved into an archive decision and never abort the batch;
// the returned error is non-nil only for whole-run infrastructure failure
// (listing failed, or the document store became unreachable), in which case
// unprocessed objects are left in place for the next run.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	runID, err := idgen.Generate()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}

	// A dead store fails every object; check once before touching the bucket.
	if err := e.docs.Ping(ctx); err != nil {
		sum := Summary{RunID: runID, Elapsed: time.Since(started)}
		e.finishRun(ctx, sum, err)
		return sum, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		sum   = Summary{RunID: runID}
		fatal error
	)

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)

	listed := 0
	listErr := e.objects.List(runCtx, e.cfg.SourcePrefix, func(key string) error {
		if err := runCtx.Err(); err != nil {
			return err
		}
		if e.skipKey(key) {
			return nil
		}
		listed++
		g.Go(func() error {
			out, ferr := e.processObject(runCtx, runID, key)
			mu.Lock()
			switch out {
			case outcomeSucceeded:
				sum.Succeeded++
			case outcomeFailed:
				sum.Failed++
			case outcomeSkipped:
				sum.Skipped++
			}
			if ferr != nil && fatal == nil {
				fatal = ferr
				cancel()
			}
			mu.Unlock()
			return nil
		})
		return nil
	})
	if listErr == nil {
		e.logger.Info("source prefix listed", "run_id", runID, "prefix", e.cfg.SourcePrefix, "pending", listed)
	}
	_ = g.Wait()

	sum.Elapsed = time.Since(started)

	runErr := fatal
	if runErr == nil && listErr != nil && !errors.Is(listErr, context.Canceled) {
		runErr = fmt.Errorf("list source prefix: %w", listErr)
	}

	e.finishRun(ctx, sum, runErr)
	return sum, runErr
}

// finishRun records metrics, logs the summary, and publishes the run event.
func (e *Engine) finishRun(ctx context.Context, sum Summary, runErr error) {
	metrics.RunDuration.Observe(sum.Elapsed.Seconds())
	status := "completed"
	if runErr != nil {
		status = "aborted"
	} else {
		metrics.LastRunSuccess.SetToCurrentTime()
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()

	if runErr != nil {
		e.logger.Error("ingest run aborted",
			"run_id", sum.RunID,
			"succeeded", sum.Succeeded,
			"failed", sum.Failed,
			"skipped", sum.Skipped,
			"elapsed", sum.Elapsed,
			"err", runErr,
		)
	} else {
		e.logger.Info("ingest run completed",
			"run_id", sum.RunID,
			"succeeded", sum.Succeeded,
			"failed", sum.Failed,
			"skipped", sum.Skipped,
			"elapsed", sum.Elapsed,
		)
	}

	event := events.RunCompleted{
		RunID:     sum.RunID,
		Stage:     e.cfg.Stage,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped,
		ElapsedMS: sum.Elapsed.Milliseconds(),
		Aborted:   runErr != nil,
	}
	if err := e.pub.Publish(context.WithoutCancel(ctx), events.TopicRunCompleted, event); err != nil {
		e.logger.Warn("publishing run event failed", "run_id", sum.RunID, "err", err)
	}
}

// skipKey filters the raw listing down to pending platform drops: directory
// markers, non-JSON keys, and anything already archived are not work.
func (e *Engine) skipKey(key string) bool {
	if strings.HasSuffix(key, "/") {
		return true
	}
	if !strings.HasSuffix(strings.ToLower(key), ".json") {
		return true
	}
	if strings.HasPrefix(key, e.cfg.ProcessedPrefix) || strings.HasPrefix(key, e.cfg.ErrorsPrefix) {
		return true
	}
	return false
}

// processObject runs the full pipeline for one key. The returned error is
// non-nil only when the document store is unreachable; every other failure
// is resolved locally into an archive decision.
func (e *Engine) processObject(ctx context.Context, runID, key string) (outcome, error) {
	if ctx.Err() != nil {
		return outcomeSkipped, nil
	}

	data, err := e.objects.Fetch(ctx, key)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		// An external writer moved or deleted the key after we listed it.
		e.logger.Info("object vanished before fetch, skipping", "run_id", runID, "key", key)
		return outcomeSkipped, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcomeSkipped, nil
		}
		return e.failObject(ctx, runID, key, fmt.Sprintf("fetch: %v", err)), nil
	}

	ev, err := model.ParseEvent(data)
	if err != nil {
		return e.failObject(ctx, runID, key, err.Error()), nil
	}

	kind, err := model.Classify(ev)
	if err != nil {
		return e.failObject(ctx, runID, key, err.Error()), nil
	}

	collection, ok := e.cfg.Routes[kind]
	if !ok {
		return e.failObject(ctx, runID, key, fmt.Sprintf("no collection routed for kind %s", kind)), nil
	}

	doc := model.NewRecord(ev, key, e.cfg.Stage, kind, e.now())
	if err := e.docs.Upsert(ctx, collection, ev.Key(e.cfg.Stage), doc); err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			// Whole-store outage: abort the run and leave this object in
			// place so the next tick retries it.
			return outcomeSkipped, err
		}
		if ctx.Err() != nil {
			return outcomeSkipped, nil
		}
		return e.failObject(ctx, runID, key, fmt.Sprintf("persist: %v", err)), nil
	}

	metrics.ObjectsTotal.WithLabelValues("succeeded").Inc()
	if destKey, err := e.objects.Move(ctx, key, e.cfg.SourcePrefix, e.cfg.ProcessedPrefix); err != nil {
		// The record is stored; a stale source copy is harmless because the
		// next run's upsert on the same composite key is a no-op replace.
		e.logger.Warn("archive move failed, object left in place",
			"run_id", runID, "key", key, "err", err)
	} else {
		e.logger.Info("object ingested", "run_id", runID, "key", key, "archived_to", destKey, "collection", collection)
	}
	return outcomeSucceeded, nil
}

// failObject logs the per-object failure, publishes it, and routes the file
// to the errors prefix for manual inspection. A file that cannot be
// relocated stays in place and is retried next run.
func (e *Engine) failObject(ctx context.Context, runID, key, reason string) outcome {
	metrics.ObjectsTotal.WithLabelValues("failed").Inc()
	e.logger.Error("object ingestion failed",
		"run_id", runID, "key", key, "reason", reason, "idlpn", model.IDLPNFromKey(key))

	event := events.ObjectFailed{RunID: runID, Key: key, IDLPN: model.IDLPNFromKey(key), Reason: reason}
	if err := e.pub.Publish(ctx, events.TopicObjectFailed, event); err != nil {
		e.logger.Warn("publishing object failure event failed", "run_id", runID, "key", key, "err", err)
	}

	if _, err := e.objects.Move(ctx, key, e.cfg.SourcePrefix, e.cfg.ErrorsPrefix); err != nil {
		e.logger.Warn("error-archive move failed, object left in place",
			"run_id", runID, "key", key, "err", err)
	}
	return outcomeFailed
}
