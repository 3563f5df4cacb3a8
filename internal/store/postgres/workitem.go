package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/r3e-network/pmserver/internal/core/handlers"
)

type workItemRow struct {
	ID          string        `db:"id"`
	ItemType    string        `db:"item_type"`
	ParentID    sql.NullString `db:"parent_id"`
	ProjectID   string        `db:"project_id"`
	Position    int           `db:"position"`
	Title       string        `db:"title"`
	Description string        `db:"description"`
	Status      string        `db:"status"`
	Priority    string        `db:"priority"`
	AssigneeID  sql.NullString `db:"assignee_id"`
	StoryPoints sql.NullInt64 `db:"story_points"`
	SprintID    sql.NullString `db:"sprint_id"`
	ItemNumber  int           `db:"item_number"`
	Version     int           `db:"version"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
	CreatedBy   string        `db:"created_by"`
	UpdatedBy   string        `db:"updated_by"`
	DeletedAt   sql.NullTime  `db:"deleted_at"`
}

func (r workItemRow) toDomain() *handlers.WorkItem {
	return &handlers.WorkItem{
		ID: r.ID, ItemType: r.ItemType, ParentID: stringOrEmpty(r.ParentID),
		ProjectID: r.ProjectID, Position: r.Position, Title: r.Title,
		Description: r.Description, Status: r.Status, Priority: r.Priority,
		AssigneeID: stringOrEmpty(r.AssigneeID), StoryPoints: ptrInt(r.StoryPoints),
		SprintID: stringOrEmpty(r.SprintID), ItemNumber: r.ItemNumber, Version: r.Version,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, CreatedBy: r.CreatedBy,
		UpdatedBy: r.UpdatedBy, DeletedAt: ptrTime(r.DeletedAt),
	}
}

func workItemRowFrom(w *handlers.WorkItem) workItemRow {
	return workItemRow{
		ID: w.ID, ItemType: w.ItemType, ParentID: nullString(w.ParentID),
		ProjectID: w.ProjectID, Position: w.Position, Title: w.Title,
		Description: w.Description, Status: w.Status, Priority: w.Priority,
		AssigneeID: nullString(w.AssigneeID), StoryPoints: nullInt(w.StoryPoints),
		SprintID: nullString(w.SprintID), ItemNumber: w.ItemNumber, Version: w.Version,
		CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt, CreatedBy: w.CreatedBy,
		UpdatedBy: w.UpdatedBy, DeletedAt: nullTime(w.DeletedAt),
	}
}

const workItemColumns = `id, item_type, parent_id, project_id, position, title, description,
	status, priority, assignee_id, story_points, sprint_id, item_number, version,
	created_at, updated_at, created_by, updated_by, deleted_at`

// WorkItemStoreAdapter satisfies handlers.WorkItemStore.
type WorkItemStoreAdapter struct{ *Store }

func (s WorkItemStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.WorkItem, error) {
	var row workItemRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+workItemColumns+` FROM work_items WHERE id = $1 AND deleted_at IS NULL`, id)
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s WorkItemStoreAdapter) NextItemNumber(ctx context.Context, projectID string) (int, error) {
	var next int
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT COALESCE(MAX(item_number), 0) + 1 FROM work_items WHERE project_id = $1`,
			projectID).Scan(&next)
	})
	return next, err
}

func (s WorkItemStoreAdapter) NextPosition(ctx context.Context, projectID, parentID string) (int, error) {
	var next int
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM work_items
			 WHERE project_id = $1 AND parent_id IS NOT DISTINCT FROM $2`,
			projectID, nullString(parentID)).Scan(&next)
	})
	return next, err
}

func (s WorkItemStoreAdapter) Create(ctx context.Context, item *handlers.WorkItem, log handlers.ActivityLog) error {
	row := workItemRowFrom(item)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := sqlxNamedExec(ctx, s.querier(ctx),
				`INSERT INTO work_items (`+workItemColumns+`)
				 VALUES (:id, :item_type, :parent_id, :project_id, :position, :title, :description,
				 :status, :priority, :assignee_id, :story_points, :sprint_id, :item_number, :version,
				 :created_at, :updated_at, :created_by, :updated_by, :deleted_at)`,
				row); err != nil {
				return err
			}
			return insertActivityLog(ctx, s.querier(ctx), log)
		})
	})
}

func (s WorkItemStoreAdapter) Update(ctx context.Context, item *handlers.WorkItem, log handlers.ActivityLog) error {
	row := workItemRowFrom(item)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := sqlxNamedExec(ctx, s.querier(ctx),
				`UPDATE work_items SET title = :title, description = :description, status = :status,
				 priority = :priority, assignee_id = :assignee_id, story_points = :story_points,
				 sprint_id = :sprint_id, version = :version, updated_at = :updated_at, updated_by = :updated_by
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

func (s WorkItemStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := s.querier(ctx).ExecContext(ctx,
				`UPDATE work_items SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, time.Now().UTC(), id)
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

func (s WorkItemStoreAdapter) List(ctx context.Context, projectID string) ([]handlers.WorkItem, error) {
	var rows []workItemRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxSelect(ctx, s.querier(ctx), &rows,
			`SELECT `+workItemColumns+` FROM work_items WHERE project_id = $1 AND deleted_at IS NULL ORDER BY position`,
			projectID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]handlers.WorkItem, len(rows))
	for i, r := range rows {
		out[i] = *r.toDomain()
	}
	return out, nil
}

// HasChildren reports whether any non-deleted work item has id as its
// parent. Not part of handlers.WorkItemStore, and internal/wiring calls
// neither this nor HasDependencies below: its deleteWorkItem derives both
// of WorkItemHandler.Delete's hasChildren/hasDependencies arguments from
// WorkItemStore.List and DependencyStore.List.
func (s *Store) HasChildren(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM work_items WHERE parent_id = $1 AND deleted_at IS NULL)`, id).Scan(&exists)
	})
	return exists, err
}

// HasDependencies reports whether id participates in any non-deleted
// dependency edge, in either direction.
func (s *Store) HasDependencies(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM dependencies
			 WHERE (blocking_item_id = $1 OR blocked_item_id = $1) AND deleted_at IS NULL)`, id).Scan(&exists)
	})
	return exists, err
}
