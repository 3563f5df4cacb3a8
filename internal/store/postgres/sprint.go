package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/r3e-network/pmserver/internal/core/handlers"
)

type sprintRow struct {
	ID        string       `db:"id"`
	ProjectID string       `db:"project_id"`
	Name      string       `db:"name"`
	StartDate time.Time    `db:"start_date"`
	EndDate   time.Time    `db:"end_date"`
	Status    string       `db:"status"`
	Version   int          `db:"version"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
	CreatedBy string       `db:"created_by"`
	DeletedAt sql.NullTime `db:"deleted_at"`
}

func (r sprintRow) toDomain() *handlers.Sprint {
	return &handlers.Sprint{
		ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, StartDate: r.StartDate,
		EndDate: r.EndDate, Status: r.Status, Version: r.Version, CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt, CreatedBy: r.CreatedBy, DeletedAt: ptrTime(r.DeletedAt),
	}
}

func sprintRowFrom(s *handlers.Sprint) sprintRow {
	return sprintRow{
		ID: s.ID, ProjectID: s.ProjectID, Name: s.Name, StartDate: s.StartDate,
		EndDate: s.EndDate, Status: s.Status, Version: s.Version, CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt, CreatedBy: s.CreatedBy, DeletedAt: nullTime(s.DeletedAt),
	}
}

const sprintColumns = `id, project_id, name, start_date, end_date, status, version, created_at, updated_at, created_by, deleted_at`

// SprintStoreAdapter satisfies handlers.SprintStore.
type SprintStoreAdapter struct{ *Store }

func (s SprintStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.Sprint, error) {
	var row sprintRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+sprintColumns+` FROM sprints WHERE id = $1 AND deleted_at IS NULL`, id)
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s SprintStoreAdapter) FindActiveByProject(ctx context.Context, projectID string) (*handlers.Sprint, error) {
	var row sprintRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+sprintColumns+` FROM sprints WHERE project_id = $1 AND status = 'active' AND deleted_at IS NULL`,
			projectID)
	})
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s SprintStoreAdapter) Create(ctx context.Context, sp *handlers.Sprint, log handlers.ActivityLog) error {
	row := sprintRowFrom(sp)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := sqlxNamedExec(ctx, s.querier(ctx),
				`INSERT INTO sprints (`+sprintColumns+`)
				 VALUES (:id, :project_id, :name, :start_date, :end_date, :status, :version,
				 :created_at, :updated_at, :created_by, :deleted_at)`,
				row); err != nil {
				return err
			}
			return insertActivityLog(ctx, s.querier(ctx), log)
		})
	})
}

func (s SprintStoreAdapter) Update(ctx context.Context, sp *handlers.Sprint, log handlers.ActivityLog) error {
	row := sprintRowFrom(sp)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := sqlxNamedExec(ctx, s.querier(ctx),
				`UPDATE sprints SET name = :name, status = :status, version = :version, updated_at = :updated_at
				 WHERE id = :id AND version = :version - 1 AND deleted_at IS NULL`,
				row)
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

func (s SprintStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := s.querier(ctx).ExecContext(ctx,
				`UPDATE sprints SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, time.Now().UTC(), id)
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

func (s SprintStoreAdapter) Get(ctx context.Context, projectID string) ([]handlers.Sprint, error) {
	var rows []sprintRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxSelect(ctx, s.querier(ctx), &rows,
			`SELECT `+sprintColumns+` FROM sprints WHERE project_id = $1 AND deleted_at IS NULL ORDER BY start_date`,
			projectID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]handlers.Sprint, len(rows))
	for i, r := range rows {
		out[i] = *r.toDomain()
	}
	return out, nil
}
