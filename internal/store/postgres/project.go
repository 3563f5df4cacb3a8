package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/handlers"
)

type projectRow struct {
	ID          string       `db:"id"`
	Key         string       `db:"key"`
	Name        string       `db:"name"`
	Description string       `db:"description"`
	Status      string       `db:"status"`
	Version     int          `db:"version"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
	CreatedBy   string       `db:"created_by"`
	DeletedAt   sql.NullTime `db:"deleted_at"`
}

func (r projectRow) toDomain() *handlers.Project {
	return &handlers.Project{
		ID: r.ID, Key: r.Key, Name: r.Name, Description: r.Description,
		Status: r.Status, Version: r.Version, CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt, CreatedBy: r.CreatedBy, DeletedAt: ptrTime(r.DeletedAt),
	}
}

func projectRowFrom(p *handlers.Project) projectRow {
	return projectRow{
		ID: p.ID, Key: p.Key, Name: p.Name, Description: p.Description,
		Status: p.Status, Version: p.Version, CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt, CreatedBy: p.CreatedBy, DeletedAt: nullTime(p.DeletedAt),
	}
}

const projectColumns = `id, key, name, description, status, version, created_at, updated_at, created_by, deleted_at`

// ProjectStoreAdapter satisfies handlers.ProjectStore.
type ProjectStoreAdapter struct{ *Store }

func (s ProjectStoreAdapter) FindByKey(ctx context.Context, key string) (*handlers.Project, error) {
	var row projectRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+projectColumns+` FROM projects WHERE key = $1 AND deleted_at IS NULL`, key)
	})
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s ProjectStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.Project, error) {
	var row projectRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND deleted_at IS NULL`, id)
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// Create inserts the project row and grants its creator RoleAdmin
// membership in the same transaction, so the very next authz check the
// creator makes against this project already sees their membership.
func (s ProjectStoreAdapter) Create(ctx context.Context, p *handlers.Project, log handlers.ActivityLog) error {
	row := projectRowFrom(p)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := sqlxNamedExec(ctx, s.querier(ctx),
				`INSERT INTO projects (`+projectColumns+`)
				 VALUES (:id, :key, :name, :description, :status, :version, :created_at, :updated_at, :created_by, :deleted_at)`,
				row); err != nil {
				return err
			}
			if _, err := s.querier(ctx).ExecContext(ctx,
				`INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, $3)`,
				p.ID, p.CreatedBy, int(authz.RoleAdmin)); err != nil {
				return err
			}
			return insertActivityLog(ctx, s.querier(ctx), log)
		})
	})
}

func (s ProjectStoreAdapter) Update(ctx context.Context, p *handlers.Project, log handlers.ActivityLog) error {
	row := projectRowFrom(p)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := sqlxNamedExec(ctx, s.querier(ctx),
				`UPDATE projects SET name = :name, description = :description, status = :status,
				 version = :version, updated_at = :updated_at
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

func (s ProjectStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := s.querier(ctx).ExecContext(ctx,
				`UPDATE projects SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, time.Now().UTC(), id)
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

func (s ProjectStoreAdapter) ListForMember(ctx context.Context, userID string) ([]handlers.Project, error) {
	var rows []projectRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxSelect(ctx, s.querier(ctx), &rows,
			`SELECT p.`+projectColumns+` FROM projects p
			 JOIN project_members m ON m.project_id = p.id
			 WHERE m.user_id = $1 AND p.deleted_at IS NULL
			 ORDER BY p.created_at`, userID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]handlers.Project, len(rows))
	for i, r := range rows {
		out[i] = *r.toDomain()
	}
	return out, nil
}

func (s ProjectStoreAdapter) HasWorkItems(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM work_items WHERE project_id = $1 AND deleted_at IS NULL)`,
			projectID).Scan(&exists)
	})
	return exists, err
}
