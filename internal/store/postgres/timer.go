package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/r3e-network/pmserver/internal/core/handlers"
	"github.com/r3e-network/pmserver/internal/core/timer"
)

type timeEntryRow struct {
	ID              string        `db:"id"`
	WorkItemID      string        `db:"work_item_id"`
	UserID          string        `db:"user_id"`
	Description     string        `db:"description"`
	StartedAt       time.Time     `db:"started_at"`
	EndedAt         sql.NullTime  `db:"ended_at"`
	DurationSeconds sql.NullInt64 `db:"duration_seconds"`
	DeletedAt       sql.NullTime  `db:"deleted_at"`
}

func (r timeEntryRow) toDomain() *timer.Entry {
	return &timer.Entry{
		ID: r.ID, WorkItemID: r.WorkItemID, UserID: r.UserID, Description: r.Description,
		StartedAt: r.StartedAt, EndedAt: ptrTime(r.EndedAt), DurationSeconds: ptrInt(r.DurationSeconds),
	}
}

func timeEntryRowFrom(e *timer.Entry) timeEntryRow {
	return timeEntryRow{
		ID: e.ID, WorkItemID: e.WorkItemID, UserID: e.UserID, Description: e.Description,
		StartedAt: e.StartedAt, EndedAt: nullTime(e.EndedAt), DurationSeconds: nullInt(e.DurationSeconds),
	}
}

const timeEntryColumns = `id, work_item_id, user_id, description, started_at, ended_at, duration_seconds, deleted_at`

// TimeEntryStoreAdapter satisfies handlers.TimeEntryStore, which embeds
// timer.Store so internal/core/timer's Start/Stop run directly against it.
type TimeEntryStoreAdapter struct{ *Store }

func (s TimeEntryStoreAdapter) FindRunning(ctx context.Context, userID string) (*timer.Entry, error) {
	var row timeEntryRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+timeEntryColumns+` FROM time_entries
			 WHERE user_id = $1 AND ended_at IS NULL AND deleted_at IS NULL`, userID)
	})
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s TimeEntryStoreAdapter) Update(ctx context.Context, e *timer.Entry) error {
	row := timeEntryRowFrom(e)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		res, err := sqlxNamedExec(ctx, s.querier(ctx),
			`UPDATE time_entries SET description = :description, started_at = :started_at,
			 ended_at = :ended_at, duration_seconds = :duration_seconds
			 WHERE id = :id AND deleted_at IS NULL`, row)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

func (s TimeEntryStoreAdapter) Create(ctx context.Context, e *timer.Entry) error {
	row := timeEntryRowFrom(e)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		_, err := sqlxNamedExec(ctx, s.querier(ctx),
			`INSERT INTO time_entries (`+timeEntryColumns+`)
			 VALUES (:id, :work_item_id, :user_id, :description, :started_at, :ended_at, :duration_seconds, :deleted_at)`,
			row)
		return err
	})
}

func (s TimeEntryStoreAdapter) GetByID(ctx context.Context, id string) (*timer.Entry, error) {
	var row timeEntryRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+timeEntryColumns+` FROM time_entries WHERE id = $1 AND deleted_at IS NULL`, id)
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s TimeEntryStoreAdapter) WorkItemProjectID(ctx context.Context, workItemID string) (string, error) {
	var projectID string
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT project_id FROM work_items WHERE id = $1 AND deleted_at IS NULL`, workItemID).Scan(&projectID)
	})
	return projectID, err
}

func (s TimeEntryStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := s.querier(ctx).ExecContext(ctx,
				`UPDATE time_entries SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, time.Now().UTC(), id)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return sql.ErrNoRows
			}
			return insertActivityLog(ctx, s.querier(ctx), log)
		})
	})
}

func (s TimeEntryStoreAdapter) List(ctx context.Context, workItemID string) ([]timer.Entry, error) {
	var rows []timeEntryRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxSelect(ctx, s.querier(ctx), &rows,
			`SELECT `+timeEntryColumns+` FROM time_entries WHERE work_item_id = $1 AND deleted_at IS NULL ORDER BY started_at`,
			workItemID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]timer.Entry, len(rows))
	for i, r := range rows {
		out[i] = *r.toDomain()
	}
	return out, nil
}

// LogActivity writes one audit row standalone, not paired with an entity
// write in the same transaction: timer start/stop activity log entries are
// informational (auto_stopped, started, stopped) and spec.md §4.9's
// non-fatal logging rule applies equally here.
func (s TimeEntryStoreAdapter) LogActivity(ctx context.Context, log handlers.ActivityLog) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return insertActivityLog(ctx, s.querier(ctx), log)
	})
}
