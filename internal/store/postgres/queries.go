package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/surchile/platform-ingest/internal/model"
	"github.com/surchile/platform-ingest/internal/store"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// queryUpsertEvent writes a platform event document, replacing the whole
// document when the composite key already exists. The unique index on
// (collection, stage, work_order, document_number, idlpn) serializes races
// between near-duplicate source files on the same key.
func queryUpsertEvent(ctx context.Context, db executor, collection string, key model.CompositeKey, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO platform_events (
			collection, stage, work_order, document_number, idlpn, document
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (collection, stage, work_order, document_number, idlpn)
		DO UPDATE SET document = EXCLUDED.document, updated_at = now()`,
		collection,
		key.Stage,
		key.WorkOrder,
		key.DocumentNumber,
		key.IDLPN,
		data,
	)
	if err != nil {
		if isUnavailable(err) {
			return fmt.Errorf("upsert into %s: %w", collection, store.ErrUnavailable)
		}
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

// isUnavailable reports whether err indicates the database itself is
// unreachable rather than a rejection of one statement.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
