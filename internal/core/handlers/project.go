package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/subscription"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// ProjectStore is the persistence seam for project handlers. Ported from
// original_source's handlers/project.rs.
type ProjectStore interface {
	FindByKey(ctx context.Context, key string) (*Project, error)
	GetByID(ctx context.Context, id string) (*Project, error)
	Create(ctx context.Context, p *Project, log ActivityLog) error
	Update(ctx context.Context, p *Project, log ActivityLog) error
	SoftDelete(ctx context.Context, id string, log ActivityLog) error
	ListForMember(ctx context.Context, userID string) ([]Project, error)
	HasWorkItems(ctx context.Context, projectID string) (bool, error)
}

// ProjectHandler groups the project handlers and their store dependency.
type ProjectHandler struct {
	Store ProjectStore
}

// CreateProjectRequest is the decoded wire payload for KindCreateProject.
type CreateProjectRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Create builds a new project and makes the caller its first Admin member.
// Any caller may create a project (there is no pre-existing project to
// check permission against); project_key is uppercased and must be unique.
func (h *ProjectHandler) Create(ctx context.Context, rc *RequestContext, req CreateProjectRequest) (*wsproto.Envelope, error) {
	if err := rc.Validator.Title(req.Name); err != nil {
		return nil, err
	}
	if req.Description != "" {
		if err := rc.Validator.Description(req.Description); err != nil {
			return nil, err
		}
	}
	key, err := validate.ProjectKey(req.Key)
	if err != nil {
		return nil, err
	}

	var cached Project
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindCreateProject, &cached)
	}

	if existing, err := h.Store.FindByKey(ctx, key); err != nil {
		return nil, wsproto.Internal("could not check project key uniqueness", true, err)
	} else if existing != nil {
		return nil, wsproto.Validation("project key '" + key + "' already exists").WithField("key")
	}

	ts := now()
	project := &Project{
		ID:          uuid.NewString(),
		Key:         key,
		Name:        validate.TrimmedString(req.Name),
		Description: validate.TrimmedString(req.Description),
		Status:      "active",
		Version:     1,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		CreatedBy:   rc.UserID,
	}
	log := ActivityLog{ID: uuid.NewString(), EntityType: "project", EntityID: project.ID, Action: "created", ActorID: rc.UserID, CreatedAt: ts}

	if err := h.Store.Create(ctx, project, log); err != nil {
		return nil, wsproto.Internal("could not create project", true, err)
	}

	broadcastActivityLog(rc, project.ID, log)
	storeIdempotency(ctx, rc, project)

	return wsproto.Reply(rc.MessageID, wsproto.KindCreateProject, project)
}

// UpdateProjectRequest is the decoded wire payload for KindUpdateProject.
type UpdateProjectRequest struct {
	ProjectID       string `json:"project_id"`
	ExpectedVersion int    `json:"expected_version"`
	Name            string `json:"name,omitempty"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status,omitempty"`
}

var validProjectStatuses = map[string]bool{"active": true, "archived": true}

// Update requires Admin on the project.
func (h *ProjectHandler) Update(ctx context.Context, rc *RequestContext, req UpdateProjectRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	if req.Name != "" {
		if err := rc.Validator.Title(req.Name); err != nil {
			return nil, err
		}
	}
	if req.Status != "" && !validProjectStatuses[req.Status] {
		return nil, wsproto.Validation("invalid project status").WithField("status")
	}

	var cached Project
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindUpdateProject, &cached)
	}

	project, err := h.Store.GetByID(ctx, req.ProjectID)
	if err != nil {
		return nil, wsproto.NotFound("project")
	}

	if err := rc.Authz.CheckPermission(ctx, rc.UserID, project.ID, authz.RoleAdmin); err != nil {
		return nil, err
	}

	if project.Version != req.ExpectedVersion {
		return nil, wsproto.Conflict("project was modified by someone else; refetch and retry")
	}

	var changes []FieldChange
	if req.Name != "" && req.Name != project.Name {
		old := project.Name
		newVal := validate.TrimmedString(req.Name)
		changes = append(changes, FieldChange{FieldName: "name", OldValue: &old, NewValue: &newVal})
		project.Name = newVal
	}
	if req.Description != "" && req.Description != project.Description {
		old := project.Description
		newVal := validate.TrimmedString(req.Description)
		changes = append(changes, FieldChange{FieldName: "description", OldValue: &old, NewValue: &newVal})
		project.Description = newVal
	}
	if req.Status != "" && req.Status != project.Status {
		old := project.Status
		changes = append(changes, FieldChange{FieldName: "status", OldValue: &old, NewValue: &req.Status})
		project.Status = req.Status
	}
	project.Version++
	project.UpdatedAt = now()

	log := ActivityLog{ID: uuid.NewString(), EntityType: "project", EntityID: project.ID, Action: "updated", Changes: changes, ActorID: rc.UserID, CreatedAt: project.UpdatedAt}

	if err := h.Store.Update(ctx, project, log); err != nil {
		return nil, wsproto.Internal("could not update project", true, err)
	}

	broadcastActivityLog(rc, project.ID, log)
	broadcastEvent(rc, wsproto.KindUpdateProject, subscription.ResourceProject, project.ID, project)
	storeIdempotency(ctx, rc, project)

	return wsproto.Reply(rc.MessageID, wsproto.KindUpdateProject, project)
}

// DeleteProjectRequest is the decoded wire payload for KindDeleteProject.
type DeleteProjectRequest struct {
	ProjectID string `json:"project_id"`
}

// Delete requires Admin and is blocked while the project still has work
// items.
func (h *ProjectHandler) Delete(ctx context.Context, rc *RequestContext, req DeleteProjectRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("project_id", req.ProjectID); err != nil {
		return nil, err
	}

	var cached struct {
		ProjectID string `json:"project_id"`
	}
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindDeleteProject, &cached)
	}

	project, err := h.Store.GetByID(ctx, req.ProjectID)
	if err != nil {
		return nil, wsproto.NotFound("project")
	}

	if err := rc.Authz.CheckPermission(ctx, rc.UserID, project.ID, authz.RoleAdmin); err != nil {
		return nil, err
	}

	hasItems, err := h.Store.HasWorkItems(ctx, project.ID)
	if err != nil {
		return nil, wsproto.Internal("could not check for work items", true, err)
	}
	if hasItems {
		return nil, wsproto.DeleteBlocked("project still has work items; delete them first")
	}

	log := ActivityLog{ID: uuid.NewString(), EntityType: "project", EntityID: project.ID, Action: "deleted", ActorID: rc.UserID, CreatedAt: now()}
	if err := h.Store.SoftDelete(ctx, project.ID, log); err != nil {
		return nil, wsproto.Internal("could not delete project", true, err)
	}

	broadcastActivityLog(rc, project.ID, log)

	resp := struct {
		ProjectID string `json:"project_id"`
	}{ProjectID: project.ID}
	storeIdempotency(ctx, rc, resp)

	return wsproto.Reply(rc.MessageID, wsproto.KindDeleteProject, resp)
}

// List returns every project the caller is a member of.
func (h *ProjectHandler) List(ctx context.Context, rc *RequestContext) (*wsproto.Envelope, error) {
	projects, err := h.Store.ListForMember(ctx, rc.UserID)
	if err != nil {
		return nil, wsproto.Internal("could not list projects", true, err)
	}
	return wsproto.Reply(rc.MessageID, wsproto.KindListProjects, struct {
		Projects []Project `json:"projects"`
	}{Projects: projects})
}
