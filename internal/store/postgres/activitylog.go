package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/r3e-network/pmserver/internal/core/handlers"
)

// activityLogRow is the wire shape of the activity_log table; changes is
// stored as jsonb so FieldChange's null OldValue/NewValue round-trip
// without a pile of nullable columns.
type activityLogRow struct {
	ID         string    `db:"id"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Action     string    `db:"action"`
	Changes    []byte    `db:"changes"`
	ActorID    string    `db:"actor_id"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r activityLogRow) toDomain() (handlers.ActivityLog, error) {
	var changes []handlers.FieldChange
	if len(r.Changes) > 0 {
		if err := json.Unmarshal(r.Changes, &changes); err != nil {
			return handlers.ActivityLog{}, err
		}
	}
	return handlers.ActivityLog{
		ID: r.ID, EntityType: r.EntityType, EntityID: r.EntityID,
		Action: r.Action, Changes: changes, ActorID: r.ActorID, CreatedAt: r.CreatedAt,
	}, nil
}

// ActivityLogStoreAdapter satisfies handlers.ActivityLogStore. A project's
// activity log spans six entity tables (work items, projects, sprints,
// comments, dependencies, time entries); rather than join all of them,
// entity_id membership is resolved through a lateral union of each table's
// (id, project_id) pair.
type ActivityLogStoreAdapter struct{ *Store }

const activityLogProjectScopeQuery = `
	SELECT id FROM work_items WHERE project_id = $1
	UNION ALL SELECT id FROM projects WHERE id = $1
	UNION ALL SELECT id FROM sprints WHERE project_id = $1
	UNION ALL SELECT c.id FROM comments c JOIN work_items w ON w.id = c.work_item_id WHERE w.project_id = $1
	UNION ALL SELECT d.id FROM dependencies d JOIN work_items w ON w.id = d.blocking_item_id WHERE w.project_id = $1
	UNION ALL SELECT t.id FROM time_entries t JOIN work_items w ON w.id = t.work_item_id WHERE w.project_id = $1
`

func (s ActivityLogStoreAdapter) ListForProject(ctx context.Context, projectID string, limit int) ([]handlers.ActivityLog, error) {
	var rows []activityLogRow
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return sqlxSelect(ctx, s.querier(ctx), &rows,
			`SELECT id, entity_type, entity_id, action, changes, actor_id, created_at
			 FROM activity_log
			 WHERE entity_id IN (`+activityLogProjectScopeQuery+`)
			 ORDER BY created_at DESC
			 LIMIT $2`, projectID, limit)
	})
	if err != nil {
		return nil, err
	}
	out := make([]handlers.ActivityLog, len(rows))
	for i, r := range rows {
		log, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = log
	}
	return out, nil
}
