package postgres

import (
	"context"

	"github.com/r3e-network/pmserver/internal/core/authz"
)

// RoleOn satisfies authz.MembershipResolver. A caller with no membership row
// resolves to authz.RoleNone rather than an error, per authz.go's contract.
func (s *Store) RoleOn(ctx context.Context, caller, projectID string) (authz.Role, error) {
	var role int
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`,
			projectID, caller).Scan(&role)
	})
	if isNoRows(err) {
		return authz.RoleNone, nil
	}
	if err != nil {
		return authz.RoleNone, err
	}
	return authz.Role(role), nil
}

// Grant upserts a caller's role on a project. Nothing in this repository
// calls it; ProjectStoreAdapter.Create inserts the creator's RoleAdmin
// membership row itself.
func (s *Store) Grant(ctx context.Context, projectID, userID string, role authz.Role) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		_, err := s.querier(ctx).ExecContext(ctx,
			`INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, $3)
			 ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
			projectID, userID, int(role))
		return err
	})
}

// WorkItemProject satisfies authz.ProjectResolver.WorkItemProject. It is
// also the accessor authz.Resolver.ProjectOf reuses for KindSprint, so a
// miss against work_items falls through to sprints before reporting
// sql.ErrNoRows.
func (s *Store) WorkItemProject(ctx context.Context, id string) (string, error) {
	var projectID string
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		qerr := s.querier(ctx).QueryRowxContext(ctx,
			`SELECT project_id FROM work_items WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&projectID)
		if isNoRows(qerr) {
			return s.querier(ctx).QueryRowxContext(ctx,
				`SELECT project_id FROM sprints WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&projectID)
		}
		return qerr
	})
	return projectID, err
}

// CommentWorkItem satisfies authz.ProjectResolver.CommentWorkItem.
func (s *Store) CommentWorkItem(ctx context.Context, commentID string) (string, error) {
	var workItemID string
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT work_item_id FROM comments WHERE id = $1 AND deleted_at IS NULL`, commentID).Scan(&workItemID)
	})
	return workItemID, err
}

// TimeEntryWorkItem satisfies authz.ProjectResolver.TimeEntryWorkItem.
func (s *Store) TimeEntryWorkItem(ctx context.Context, timeEntryID string) (string, error) {
	var workItemID string
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT work_item_id FROM time_entries WHERE id = $1 AND deleted_at IS NULL`, timeEntryID).Scan(&workItemID)
	})
	return workItemID, err
}

// DependencyBlockingWorkItem satisfies authz.ProjectResolver.DependencyBlockingWorkItem.
func (s *Store) DependencyBlockingWorkItem(ctx context.Context, dependencyID string) (string, error) {
	var blockingID string
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT blocking_item_id FROM dependencies WHERE id = $1 AND deleted_at IS NULL`, dependencyID).Scan(&blockingID)
	})
	return blockingID, err
}

// ProjectExists satisfies authz.ProjectResolver.ProjectExists.
func (s *Store) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		return s.querier(ctx).QueryRowxContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1 AND deleted_at IS NULL)`, projectID).Scan(&exists)
	})
	return exists, err
}
