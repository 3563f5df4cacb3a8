package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/subscription"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// SprintStore is the persistence seam for sprint handlers. Ported from
// original_source's handlers/sprint.rs.
type SprintStore interface {
	GetByID(ctx context.Context, id string) (*Sprint, error)
	FindActiveByProject(ctx context.Context, projectID string) (*Sprint, error)
	Create(ctx context.Context, s *Sprint, log ActivityLog) error
	Update(ctx context.Context, s *Sprint, log ActivityLog) error
	SoftDelete(ctx context.Context, id string, log ActivityLog) error
	Get(ctx context.Context, projectID string) ([]Sprint, error)
}

// SprintHandler groups the sprint handlers and their store dependency.
type SprintHandler struct {
	Store SprintStore
}

var validSprintStatuses = map[string]bool{"planned": true, "active": true, "completed": true, "cancelled": true}

// sprintTransitionAllowed implements the Planned -> Active -> Completed /
// Planned|Active -> Cancelled state machine from the original's
// validate_sprint_status_transition.
func sprintTransitionAllowed(from, to string) bool {
	if from == to {
		return true
	}
	switch {
	case from == "planned" && to == "active":
		return true
	case from == "planned" && to == "cancelled":
		return true
	case from == "active" && to == "completed":
		return true
	case from == "active" && to == "cancelled":
		return true
	default:
		return false
	}
}

// CreateSprintRequest is the decoded wire payload for KindCreateSprint.
type CreateSprintRequest struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	StartDate int64  `json:"start_date"`
	EndDate   int64  `json:"end_date"`
}

// Create validates the sprint window and authorizes Edit before inserting
// a Planned sprint.
func (h *SprintHandler) Create(ctx context.Context, rc *RequestContext, req CreateSprintRequest) (*wsproto.Envelope, error) {
	if err := rc.Validator.SprintName(req.Name); err != nil {
		return nil, err
	}
	if err := validate.UUID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	start := unixToTime(req.StartDate)
	end := unixToTime(req.EndDate)
	if err := validate.SprintWindow(start, end); err != nil {
		return nil, err
	}

	var cached Sprint
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindCreateSprint, &cached)
	}

	if err := rc.Authz.CheckPermission(ctx, rc.UserID, req.ProjectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	ts := now()
	sprint := &Sprint{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Name:      validate.TrimmedString(req.Name),
		StartDate: start,
		EndDate:   end,
		Status:    "planned",
		Version:   1,
		CreatedAt: ts,
		UpdatedAt: ts,
		CreatedBy: rc.UserID,
	}
	log := ActivityLog{ID: uuid.NewString(), EntityType: "sprint", EntityID: sprint.ID, Action: "created", ActorID: rc.UserID, CreatedAt: ts}

	if err := h.Store.Create(ctx, sprint, log); err != nil {
		return nil, wsproto.Internal("could not create sprint", true, err)
	}

	broadcastActivityLog(rc, sprint.ProjectID, log)
	broadcastEvent(rc, wsproto.KindCreateSprint, subscription.ResourceSprint, sprint.ProjectID, sprint)
	storeIdempotency(ctx, rc, sprint)

	return wsproto.Reply(rc.MessageID, wsproto.KindCreateSprint, sprint)
}

// UpdateSprintRequest is the decoded wire payload for KindUpdateSprint.
type UpdateSprintRequest struct {
	SprintID        string `json:"sprint_id"`
	ExpectedVersion int    `json:"expected_version"`
	Name            string `json:"name,omitempty"`
	Status          string `json:"status,omitempty"`
}

// Update enforces the sprint status state machine and the "one active
// sprint per project" rule before applying the change.
func (h *SprintHandler) Update(ctx context.Context, rc *RequestContext, req UpdateSprintRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("sprint_id", req.SprintID); err != nil {
		return nil, err
	}
	if req.Status != "" && !validSprintStatuses[req.Status] {
		return nil, wsproto.Validation("invalid sprint status").WithField("status")
	}

	var cached Sprint
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindUpdateSprint, &cached)
	}

	sprint, err := h.Store.GetByID(ctx, req.SprintID)
	if err != nil {
		return nil, wsproto.NotFound("sprint")
	}

	if err := rc.Authz.CheckPermission(ctx, rc.UserID, sprint.ProjectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	if sprint.Status == "completed" {
		return nil, wsproto.Validation("a completed sprint cannot be modified").WithField("status")
	}

	if sprint.Version != req.ExpectedVersion {
		return nil, wsproto.Conflict("sprint was modified by someone else; refetch and retry")
	}

	var changes []FieldChange
	if req.Name != "" && req.Name != sprint.Name {
		if err := rc.Validator.SprintName(req.Name); err != nil {
			return nil, err
		}
		old := sprint.Name
		newVal := validate.TrimmedString(req.Name)
		changes = append(changes, FieldChange{FieldName: "name", OldValue: &old, NewValue: &newVal})
		sprint.Name = newVal
	}

	if req.Status != "" && req.Status != sprint.Status {
		if !sprintTransitionAllowed(sprint.Status, req.Status) {
			return nil, wsproto.Validation("invalid status transition: " + sprint.Status + " -> " + req.Status).WithField("status")
		}
		if req.Status == "active" {
			active, err := h.Store.FindActiveByProject(ctx, sprint.ProjectID)
			if err != nil {
				return nil, wsproto.Internal("could not check for an active sprint", true, err)
			}
			if active != nil && active.ID != sprint.ID {
				return nil, wsproto.Conflict("project already has an active sprint")
			}
		}
		old := sprint.Status
		changes = append(changes, FieldChange{FieldName: "status", OldValue: &old, NewValue: &req.Status})
		sprint.Status = req.Status
	}
	sprint.Version++
	sprint.UpdatedAt = now()

	log := ActivityLog{ID: uuid.NewString(), EntityType: "sprint", EntityID: sprint.ID, Action: "updated", Changes: changes, ActorID: rc.UserID, CreatedAt: sprint.UpdatedAt}

	if err := h.Store.Update(ctx, sprint, log); err != nil {
		return nil, wsproto.Internal("could not update sprint", true, err)
	}

	broadcastActivityLog(rc, sprint.ProjectID, log)
	broadcastEvent(rc, wsproto.KindUpdateSprint, subscription.ResourceSprint, sprint.ProjectID, sprint)
	storeIdempotency(ctx, rc, sprint)

	return wsproto.Reply(rc.MessageID, wsproto.KindUpdateSprint, sprint)
}

// DeleteSprintRequest is the decoded wire payload for KindDeleteSprint.
type DeleteSprintRequest struct {
	SprintID string `json:"sprint_id"`
}

// Delete is a soft delete, blocked for completed sprints (their history
// must stay intact).
func (h *SprintHandler) Delete(ctx context.Context, rc *RequestContext, req DeleteSprintRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("sprint_id", req.SprintID); err != nil {
		return nil, err
	}

	var cached struct {
		SprintID string `json:"sprint_id"`
	}
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindDeleteSprint, &cached)
	}

	sprint, err := h.Store.GetByID(ctx, req.SprintID)
	if err != nil {
		return nil, wsproto.NotFound("sprint")
	}

	if err := rc.Authz.CheckPermission(ctx, rc.UserID, sprint.ProjectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	if sprint.Status == "completed" {
		return nil, wsproto.DeleteBlocked("a completed sprint cannot be deleted")
	}

	log := ActivityLog{ID: uuid.NewString(), EntityType: "sprint", EntityID: sprint.ID, Action: "deleted", ActorID: rc.UserID, CreatedAt: now()}
	if err := h.Store.SoftDelete(ctx, sprint.ID, log); err != nil {
		return nil, wsproto.Internal("could not delete sprint", true, err)
	}

	broadcastActivityLog(rc, sprint.ProjectID, log)

	resp := struct {
		SprintID string `json:"sprint_id"`
	}{SprintID: sprint.ID}
	storeIdempotency(ctx, rc, resp)

	return wsproto.Reply(rc.MessageID, wsproto.KindDeleteSprint, resp)
}

// GetSprintRequest is the decoded wire payload for KindGetSprint.
type GetSprintRequest struct {
	ProjectID string `json:"project_id"`
}

// Get lists the sprints for a project, requiring View.
func (h *SprintHandler) Get(ctx context.Context, rc *RequestContext, req GetSprintRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, req.ProjectID, authz.RoleView); err != nil {
		return nil, err
	}
	sprints, err := h.Store.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, wsproto.Internal("could not list sprints", true, err)
	}
	return wsproto.Reply(rc.MessageID, wsproto.KindGetSprint, struct {
		Sprints []Sprint `json:"sprints"`
	}{Sprints: sprints})
}
