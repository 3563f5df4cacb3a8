// Package postgres is the database-backed persistence seam for every
// handler Store interface and the authz resolver. Every exported method
// satisfies a narrow interface from internal/core/handlers, internal/core/
// authz, internal/core/dependency, or internal/core/timer; nothing here is
// imported directly by a handler.
//
// Grounded on _examples' pkg/storage/postgres/base_store.go (the Querier/
// txKey{}/TxFromContext/ContextWithTx/WithTx pattern) and pkg/storage/
// crud.go (the Entity/CRUDStore[T] shape); adapted rather than reused
// verbatim since the generic CRUDStore[T] never had the PM entity types it
// would need, and this domain's CAS-on-version requirement isn't part of
// that generic interface.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/r3e-network/pmserver/internal/core/breaker"
	"github.com/r3e-network/pmserver/internal/core/handlers"
)

// Store is the database handle shared by every entity-specific method set
// in this package (ProjectStoreAdapter, WorkItemStoreAdapter, ...). A
// single Store is constructed once at startup and wrapped per-adapter the
// same way internal/store/memory does.
type Store struct {
	db *sqlx.DB
	cb *breaker.Breaker
}

// New builds a Store. cb may be nil, in which case calls run unwrapped
// (used by tests that want a real database without breaker noise).
func New(db *sqlx.DB, cb *breaker.Breaker) *Store {
	return &Store{db: db, cb: cb}
}

// Open opens a lib/pq connection pool and wraps it for sqlx, matching
// _examples' cmd/appserver/main.go pool-configuration shape
// (MaxOpenConns/MaxIdleConns/ConnMaxLifetime from DatabaseConfig).
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	return db, nil
}

// DB exposes the underlying pool, needed by internal/core/idempotency.New
// (which takes a plain *sql.DB) and internal/platform/migrations.
func (s *Store) DB() *sql.DB { return s.db.DB }

// --- Transaction support, ported from base_store.go's txKey{} pattern ---

type txKey struct{}

// TxFromContext extracts the active transaction, if any.
func TxFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

// ContextWithTx attaches tx to ctx.
func ContextWithTx(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// querier returns the transaction bound to ctx, or the pool if none.
func (s *Store) querier(ctx context.Context) sqlx.ExtContext {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any returned error, mirroring base_store.go's WithTx. Every
// multi-statement write in this package (an entity row plus its
// ActivityLog row) goes through this so both land or neither does.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// withBreaker runs fn through the circuit breaker when one is configured,
// otherwise runs it directly. Every exported method in this package that
// touches the database goes through this, per spec.md §4.2's "every
// database call, not just the entity write" requirement.
//
// fn's error is classified before it reaches the breaker: sql.ErrNoRows (a
// miss, or a lost optimistic-concurrency race on a CAS UPDATE) and a
// cancelled context are ordinary, expected outcomes, not signs of database
// trouble, so they are reported to the breaker as successes per spec.md
// §4.1 ("validation/permission/not-found never count"). The real error is
// still returned to the caller unchanged either way.
func (s *Store) withBreaker(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.cb == nil {
		return fn(ctx)
	}
	var innerErr error
	ran := false
	breakerErr := s.cb.Execute(ctx, func(ctx context.Context) error {
		ran = true
		innerErr = fn(ctx)
		if isBenignForBreaker(innerErr) {
			return nil
		}
		return innerErr
	})
	if !ran {
		// The breaker was Open: fn never ran, so surface its OpenError.
		return breakerErr
	}
	return innerErr
}

// isBenignForBreaker reports whether err is an expected, non-transient
// outcome (a miss, or a cancelled request) that must not count as a
// circuit-breaker failure.
func isBenignForBreaker(err error) bool {
	return err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled)
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// Thin named wrappers around the sqlx package funcs so every entity file
// calls through the same three verbs regardless of whether the querier in
// hand is the pool or an active transaction.
func sqlxGet(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func sqlxSelect(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func sqlxNamedExec(ctx context.Context, q sqlx.ExtContext, query string, arg any) (sql.Result, error) {
	return sqlx.NamedExecContext(ctx, q, query, arg)
}

// insertActivityLog writes the audit row every mutating handler produces
// alongside its entity write, inside the same transaction.
func insertActivityLog(ctx context.Context, q sqlx.ExtContext, log handlers.ActivityLog) error {
	changes, err := json.Marshal(log.Changes)
	if err != nil {
		return fmt.Errorf("encode activity log changes: %w", err)
	}
	_, err = sqlxNamedExec(ctx, q,
		`INSERT INTO activity_log (id, entity_type, entity_id, action, changes, actor_id, created_at)
		 VALUES (:id, :entity_type, :entity_id, :action, :changes, :actor_id, :created_at)`,
		activityLogRow{
			ID: log.ID, EntityType: log.EntityType, EntityID: log.EntityID,
			Action: log.Action, Changes: changes, ActorID: log.ActorID, CreatedAt: log.CreatedAt,
		})
	return err
}

// --- Null-column helpers, adapted from base_store.go's Null*ToPtr pair ---

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func ptrTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func stringOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func ptrInt(ni sql.NullInt64) *int {
	if ni.Valid {
		v := int(ni.Int64)
		return &v
	}
	return nil
}
