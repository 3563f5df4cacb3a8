// Package idempotency stores the response frame for a given message_id so a
// retried dispatch of the same frame replays the prior result rather than
// re-executing the mutation. Storage lives in the same database and
// transaction as the domain write, per spec.md §4.6 and §9.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// DefaultRetentionWindow is the decided-on retention period for idempotency
// rows (spec.md Open Question 1 picks a value in the suggested 24-72h
// band). See DESIGN.md.
const DefaultRetentionWindow = 48 * time.Hour

// Store persists message_id -> encoded response frame rows alongside entity
// tables, using whatever *sql.DB/*sql.Tx the caller's context carries (see
// internal/store/postgres for the transaction-handle convention this
// depends on).
type Store struct {
	db              *sql.DB
	retentionWindow time.Duration
}

// New creates a Store backed by db.
func New(db *sql.DB, retentionWindow time.Duration) *Store {
	if retentionWindow <= 0 {
		retentionWindow = DefaultRetentionWindow
	}
	return &Store{db: db, retentionWindow: retentionWindow}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) querier(q querier) querier {
	if q != nil {
		return q
	}
	return s.db
}

// Lookup returns the stored response bytes for messageID, if any. Intended
// to be called through the circuit breaker by the caller (the handler
// skeleton's step 3), since a lookup is itself a database call.
func (s *Store) Lookup(ctx context.Context, q querier, messageID string) ([]byte, bool, error) {
	row := s.querier(q).QueryRowContext(ctx,
		`SELECT response FROM idempotency_records WHERE message_id = $1`, messageID)

	var response []byte
	if err := row.Scan(&response); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return response, true, nil
}

// Store persists the response under messageID, expected to run inside the
// same transaction (via q) as the domain write that produced it -- though
// per spec.md §4.6 and §9, a failure here must be logged, not propagated,
// so callers typically invoke this after commit with q == nil (a fresh
// connection from the pool) and swallow the error themselves.
func (s *Store) Store(ctx context.Context, q querier, messageID string, response []byte) error {
	_, err := s.querier(q).ExecContext(ctx,
		`INSERT INTO idempotency_records (message_id, response, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, response, time.Now().UTC())
	return err
}

// Direct adapts Store for callers that never need to share a transaction
// handle with the idempotency check itself (every handler in
// internal/core/handlers: its own entity write runs in its own transaction,
// and the idempotency row is read/written against the pool directly,
// non-fatally, per spec.md §4.9 steps 3 and 9).
type Direct struct{ *Store }

// Get looks up messageID's cached response against the pool.
func (d Direct) Get(ctx context.Context, messageID string) ([]byte, bool, error) {
	return d.Store.Lookup(ctx, nil, messageID)
}

// Put stores messageID's response against the pool.
func (d Direct) Put(ctx context.Context, messageID string, response []byte) error {
	return d.Store.Store(ctx, nil, messageID, response)
}

// Reap deletes idempotency rows older than the configured retention
// window. Intended to run on a periodic ticker from the lifecycle
// supervisor.
func (s *Store) Reap(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retentionWindow)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
