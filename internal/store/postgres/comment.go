package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/r3e-network/pmserver/internal/core/handlers"
)

type commentRow struct {
	ID         string       `db:"id"`
	WorkItemID string       `db:"work_item_id"`
	Content    string       `db:"content"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	CreatedBy  string       `db:"created_by"`
	DeletedAt  sql.NullTime `db:"deleted_at"`
}

func (r commentRow) toDomain() *handlers.Comment {
	return &handlers.Comment{
		ID: r.ID, WorkItemID: r.WorkItemID, Content: r.Content, CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt, CreatedBy: r.CreatedBy, DeletedAt: ptrTime(r.DeletedAt),
	}
}

func commentRowFrom(c *handlers.Comment) commentRow {
	return commentRow{
		ID: c.ID, WorkItemID: c.WorkItemID, Content: c.Content, CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt, CreatedBy: c.CreatedBy, DeletedAt: nullTime(c.DeletedAt),
	}
}

const commentColumns = `id, work_item_id, content, created_at, updated_at, created_by, deleted_at`

// CommentStoreAdapter satisfies handlers.CommentStore.
type CommentStoreAdapter struct{ *Store }

func (s CommentStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.Comment, error) {
	var row commentRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+commentColumns+` FROM comments WHERE id = $1 AND deleted_at IS NULL`, id)
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s CommentStoreAdapter) WorkItemProjectID(ctx context.Context, workItemID string) (string, error) {
	var projectID string
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT project_id FROM work_items WHERE id = $1 AND deleted_at IS NULL`, workItemID).Scan(&projectID)
	})
	return projectID, err
}

func (s CommentStoreAdapter) Create(ctx context.Context, c *handlers.Comment, log handlers.ActivityLog) error {
	row := commentRowFrom(c)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := sqlxNamedExec(ctx, s.querier(ctx),
				`INSERT INTO comments (`+commentColumns+`)
				 VALUES (:id, :work_item_id, :content, :created_at, :updated_at, :created_by, :deleted_at)`,
				row); err != nil {
				return err
			}
			return insertActivityLog(ctx, s.querier(ctx), log)
		})
	})
}

func (s CommentStoreAdapter) Update(ctx context.Context, c *handlers.Comment, log handlers.ActivityLog) error {
	row := commentRowFrom(c)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := sqlxNamedExec(ctx, s.querier(ctx),
				`UPDATE comments SET content = :content, updated_at = :updated_at
				 WHERE id = :id AND deleted_at IS NULL`, row)
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

func (s CommentStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := s.querier(ctx).ExecContext(ctx,
				`UPDATE comments SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, time.Now().UTC(), id)
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

func (s CommentStoreAdapter) List(ctx context.Context, workItemID string) ([]handlers.Comment, error) {
	var rows []commentRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxSelect(ctx, s.querier(ctx), &rows,
			`SELECT `+commentColumns+` FROM comments WHERE work_item_id = $1 AND deleted_at IS NULL ORDER BY created_at`,
			workItemID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]handlers.Comment, len(rows))
	for i, r := range rows {
		out[i] = *r.toDomain()
	}
	return out, nil
}
