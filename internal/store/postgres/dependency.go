package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/r3e-network/pmserver/internal/core/dependency"
	"github.com/r3e-network/pmserver/internal/core/handlers"
)

type dependencyRow struct {
	ID         string       `db:"id"`
	BlockingID string       `db:"blocking_item_id"`
	BlockedID  string       `db:"blocked_item_id"`
	Kind       string       `db:"kind"`
	CreatedAt  time.Time    `db:"created_at"`
	CreatedBy  string       `db:"created_by"`
	DeletedAt  sql.NullTime `db:"deleted_at"`
}

func (r dependencyRow) toDomain() *handlers.Dependency {
	return &handlers.Dependency{
		ID: r.ID, BlockingID: r.BlockingID, BlockedID: r.BlockedID, Kind: dependency.Kind(r.Kind),
		CreatedAt: r.CreatedAt, CreatedBy: r.CreatedBy, DeletedAt: ptrTime(r.DeletedAt),
	}
}

func dependencyRowFrom(d *handlers.Dependency) dependencyRow {
	return dependencyRow{
		ID: d.ID, BlockingID: d.BlockingID, BlockedID: d.BlockedID, Kind: string(d.Kind),
		CreatedAt: d.CreatedAt, CreatedBy: d.CreatedBy, DeletedAt: nullTime(d.DeletedAt),
	}
}

const dependencyColumns = `id, blocking_item_id, blocked_item_id, kind, created_at, created_by, deleted_at`

// DependencyStoreAdapter satisfies handlers.DependencyStore, which in turn
// embeds dependency.ItemLookup and dependency.Graph so internal/core/
// dependency's precondition and cycle checks run directly against it.
type DependencyStoreAdapter struct{ *Store }

func (s DependencyStoreAdapter) GetItem(ctx context.Context, id string) (*dependency.Item, error) {
	var item dependency.Item
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT id, project_id FROM work_items WHERE id = $1 AND deleted_at IS NULL`, id).
			Scan(&item.ID, &item.ProjectID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s DependencyStoreAdapter) ExistingEdge(ctx context.Context, blockingID, blockedID string, kind dependency.Kind) (bool, error) {
	var exists bool
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM dependencies
			 WHERE blocking_item_id = $1 AND blocked_item_id = $2 AND kind = $3 AND deleted_at IS NULL)`,
			blockingID, blockedID, string(kind)).Scan(&exists)
	})
	return exists, err
}

func (s DependencyStoreAdapter) InboundCount(ctx context.Context, blockedID string) (int, error) {
	var n int
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM dependencies WHERE blocked_item_id = $1 AND deleted_at IS NULL`, blockedID).Scan(&n)
	})
	return n, err
}

func (s DependencyStoreAdapter) OutboundCount(ctx context.Context, blockingID string) (int, error) {
	var n int
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM dependencies WHERE blocking_item_id = $1 AND deleted_at IS NULL`, blockingID).Scan(&n)
	})
	return n, err
}

func (s DependencyStoreAdapter) OutboundBlocks(ctx context.Context, blockingID string) ([]string, error) {
	var ids []string
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxSelect(ctx, s.querier(ctx), &ids,
			`SELECT blocked_item_id FROM dependencies
			 WHERE blocking_item_id = $1 AND kind = $2 AND deleted_at IS NULL`,
			blockingID, string(dependency.KindBlocks))
	})
	return ids, err
}

func (s DependencyStoreAdapter) Create(ctx context.Context, d *handlers.Dependency, log handlers.ActivityLog) error {
	row := dependencyRowFrom(d)
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := sqlxNamedExec(ctx, s.querier(ctx),
				`INSERT INTO dependencies (`+dependencyColumns+`)
				 VALUES (:id, :blocking_item_id, :blocked_item_id, :kind, :created_at, :created_by, :deleted_at)`,
				row); err != nil {
				return err
			}
			return insertActivityLog(ctx, s.querier(ctx), log)
		})
	})
}

func (s DependencyStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			res, err := s.querier(ctx).ExecContext(ctx,
				`UPDATE dependencies SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, time.Now().UTC(), id)
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

func (s DependencyStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.Dependency, error) {
	var row dependencyRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxGet(ctx, s.querier(ctx), &row,
			`SELECT `+dependencyColumns+` FROM dependencies WHERE id = $1 AND deleted_at IS NULL`, id)
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s DependencyStoreAdapter) List(ctx context.Context, workItemID string) ([]handlers.Dependency, error) {
	var rows []dependencyRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxSelect(ctx, s.querier(ctx), &rows,
			`SELECT `+dependencyColumns+` FROM dependencies
			 WHERE (blocking_item_id = $1 OR blocked_item_id = $1) AND deleted_at IS NULL`, workItemID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]handlers.Dependency, len(rows))
	for i, r := range rows {
		out[i] = *r.toDomain()
	}
	return out, nil
}
