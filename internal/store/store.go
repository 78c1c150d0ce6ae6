// Package store defines the document-store interface consumed by the
// ingestion pipeline.
package store

import (
	"context"
	"errors"

	"github.com/surchile/platform-ingest/internal/model"
)

// ErrUnavailable reports that the document store itself is unreachable, as
// opposed to rejecting one record. The engine aborts the remainder of a run
// on this error and relies on the next tick.
var ErrUnavailable = errors.New("document store unavailable")

// Store persists ingested records keyed by their composite identity.
type Store interface {
	// Upsert stores doc in the named collection under key, replacing any
	// existing document with the same key in full. It never appends a
	// duplicate and never merges.
	Upsert(ctx context.Context, collection string, key model.CompositeKey, doc map[string]any) error

	// Ping verifies connectivity. Used at startup to fail fast.
	Ping(ctx context.Context) error

	Close() error
}
