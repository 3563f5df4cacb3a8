package handlers

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/subscription"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// WorkItemStore is the persistence seam for work item handlers.
type WorkItemStore interface {
	GetByID(ctx context.Context, id string) (*WorkItem, error)
	NextItemNumber(ctx context.Context, projectID string) (int, error)
	NextPosition(ctx context.Context, projectID, parentID string) (int, error)
	Create(ctx context.Context, item *WorkItem, log ActivityLog) error
	Update(ctx context.Context, item *WorkItem, log ActivityLog) error
	SoftDelete(ctx context.Context, id string, log ActivityLog) error
	List(ctx context.Context, projectID string) ([]WorkItem, error)
}

var validItemTypes = map[string]bool{"epic": true, "story": true, "task": true}

// CreateWorkItemRequest is the decoded wire payload for KindCreateWorkItem.
type CreateWorkItemRequest struct {
	ProjectID   string `json:"project_id"`
	ParentID    string `json:"parent_id,omitempty"`
	ItemType    string `json:"item_type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// WorkItemHandler groups the work item handlers and their store dependency.
type WorkItemHandler struct {
	Store WorkItemStore
}

// Create implements the CreateWorkItem handler following spec.md §4.9's
// fixed sequence, ported from original_source's handlers/work_item.rs
// handle_create.
func (h *WorkItemHandler) Create(ctx context.Context, rc *RequestContext, req CreateWorkItemRequest) (*wsproto.Envelope, error) {
	// 1. Validate
	if !validItemTypes[req.ItemType] {
		return nil, wsproto.Validation("invalid item_type").WithField("item_type")
	}
	if err := rc.Validator.Title(req.Title); err != nil {
		return nil, err
	}
	if req.Description != "" {
		if err := rc.Validator.Description(req.Description); err != nil {
			return nil, err
		}
	}
	status := req.Status
	if status == "" {
		status = "backlog"
	}
	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}
	if err := validate.Status(status); err != nil {
		return nil, err
	}
	if err := validate.Priority(priority); err != nil {
		return nil, err
	}

	// 2. Parse identifiers
	if err := validate.UUID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	if req.ParentID != "" {
		if err := validate.UUID("parent_id", req.ParentID); err != nil {
			return nil, err
		}
	}

	// 3. Idempotency
	var cached WorkItem
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindCreateWorkItem, &cached)
	}

	// 4. Load context: parent, if any, must belong to the same project (a
	// full hierarchy-rule check lives in internal/core/hierarchy once the
	// parent's item_type is known; here we only need its existence).
	if req.ParentID != "" {
		parent, err := h.Store.GetByID(ctx, req.ParentID)
		if err != nil {
			return nil, wsproto.NotFound("parent work item")
		}
		if parent.ProjectID != req.ProjectID {
			return nil, wsproto.Validation("parent work item belongs to a different project").WithField("parent_id")
		}
	}

	// 5. Authorize
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, req.ProjectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	// 6. Preconditions: none beyond the parent check above for a create.

	// 7. Transaction: assign position + item_number, insert row + ActivityLog.
	position, err := h.Store.NextPosition(ctx, req.ProjectID, req.ParentID)
	if err != nil {
		return nil, wsproto.Internal("could not compute position", true, err)
	}
	itemNumber, err := h.Store.NextItemNumber(ctx, req.ProjectID)
	if err != nil {
		return nil, wsproto.Internal("could not allocate item number", true, err)
	}

	ts := now()
	item := &WorkItem{
		ID:          uuid.NewString(),
		ItemType:    req.ItemType,
		ParentID:    req.ParentID,
		ProjectID:   req.ProjectID,
		Position:    position,
		Title:       validate.TrimmedString(req.Title),
		Description: validate.TrimmedString(req.Description),
		Status:      status,
		Priority:    priority,
		ItemNumber:  itemNumber,
		Version:     1,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		CreatedBy:   rc.UserID,
		UpdatedBy:   rc.UserID,
	}
	log := ActivityLog{ID: uuid.NewString(), EntityType: "work_item", EntityID: item.ID, Action: "created", ActorID: rc.UserID, CreatedAt: ts}

	if err := h.Store.Create(ctx, item, log); err != nil {
		return nil, wsproto.Internal("could not create work item", true, err)
	}

	// 8. Broadcast
	broadcastActivityLog(rc, item.ProjectID, log)
	broadcastEvent(rc, wsproto.KindCreateWorkItem, subscription.ResourceWorkItem, item.ProjectID, item)

	// 9. Idempotency store
	storeIdempotency(ctx, rc, item)

	rc.logPrefix("CreateWorkItem").WithField("item_number", item.ItemNumber).Info("created work item")

	// 10. Reply
	return wsproto.Reply(rc.MessageID, wsproto.KindCreateWorkItem, item)
}

// UpdateWorkItemRequest is the decoded wire payload for KindUpdateWorkItem.
type UpdateWorkItemRequest struct {
	WorkItemID  string `json:"work_item_id"`
	Version     int    `json:"version"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	StoryPoints *int   `json:"story_points,omitempty"`
}

// Update implements the UpdateWorkItem handler, enforcing optimistic
// concurrency via the version field per spec.md §4.9 step 6.
func (h *WorkItemHandler) Update(ctx context.Context, rc *RequestContext, req UpdateWorkItemRequest) (*wsproto.Envelope, error) {
	if req.Title != "" {
		if err := rc.Validator.Title(req.Title); err != nil {
			return nil, err
		}
	}
	if req.Description != "" {
		if err := rc.Validator.Description(req.Description); err != nil {
			return nil, err
		}
	}
	if req.Status != "" {
		if err := validate.Status(req.Status); err != nil {
			return nil, err
		}
	}
	if req.Priority != "" {
		if err := validate.Priority(req.Priority); err != nil {
			return nil, err
		}
	}
	if err := rc.Validator.StoryPoints(req.StoryPoints); err != nil {
		return nil, err
	}

	if err := validate.UUID("work_item_id", req.WorkItemID); err != nil {
		return nil, err
	}

	var cached WorkItem
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindUpdateWorkItem, &cached)
	}

	item, err := h.Store.GetByID(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}

	if err := rc.Authz.CheckPermission(ctx, rc.UserID, item.ProjectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	if item.Version != req.Version {
		return nil, wsproto.Conflict("work item was modified by someone else; refetch and retry")
	}

	changes := applyWorkItemChanges(item, req, rc)
	item.Version++
	item.UpdatedAt = now()
	item.UpdatedBy = rc.UserID

	log := ActivityLog{ID: uuid.NewString(), EntityType: "work_item", EntityID: item.ID, Action: "updated", Changes: changes, ActorID: rc.UserID, CreatedAt: item.UpdatedAt}

	if err := h.Store.Update(ctx, item, log); err != nil {
		return nil, wsproto.Internal("could not update work item", true, err)
	}

	broadcastActivityLog(rc, item.ProjectID, log)
	broadcastEvent(rc, wsproto.KindUpdateWorkItem, subscription.ResourceWorkItem, item.ProjectID, item)
	storeIdempotency(ctx, rc, item)

	return wsproto.Reply(rc.MessageID, wsproto.KindUpdateWorkItem, item)
}

func applyWorkItemChanges(item *WorkItem, req UpdateWorkItemRequest, rc *RequestContext) []FieldChange {
	var changes []FieldChange
	if req.Title != "" && req.Title != item.Title {
		oldTitle := item.Title
		title := validate.TrimmedString(req.Title)
		changes = append(changes, FieldChange{FieldName: "title", OldValue: &oldTitle, NewValue: &title})
		item.Title = title
	}
	if req.Description != "" && req.Description != item.Description {
		oldDesc := item.Description
		desc := validate.TrimmedString(req.Description)
		changes = append(changes, FieldChange{FieldName: "description", OldValue: &oldDesc, NewValue: &desc})
		item.Description = desc
	}
	if req.Status != "" && req.Status != item.Status {
		oldStatus := item.Status
		changes = append(changes, FieldChange{FieldName: "status", OldValue: &oldStatus, NewValue: &req.Status})
		item.Status = req.Status
	}
	if req.Priority != "" && req.Priority != item.Priority {
		oldPriority := item.Priority
		changes = append(changes, FieldChange{FieldName: "priority", OldValue: &oldPriority, NewValue: &req.Priority})
		item.Priority = req.Priority
	}
	if req.AssigneeID != "" && req.AssigneeID != item.AssigneeID {
		oldAssignee := item.AssigneeID
		changes = append(changes, FieldChange{FieldName: "assignee_id", OldValue: &oldAssignee, NewValue: &req.AssigneeID})
		item.AssigneeID = req.AssigneeID
	}
	if req.StoryPoints != nil && (item.StoryPoints == nil || *item.StoryPoints != *req.StoryPoints) {
		var oldVal *string
		if item.StoryPoints != nil {
			s := strconv.Itoa(*item.StoryPoints)
			oldVal = &s
		}
		newVal := strconv.Itoa(*req.StoryPoints)
		changes = append(changes, FieldChange{FieldName: "story_points", OldValue: oldVal, NewValue: &newVal})
		item.StoryPoints = req.StoryPoints
	}
	return changes
}

// DeleteWorkItemRequest is the decoded wire payload for KindDeleteWorkItem.
type DeleteWorkItemRequest struct {
	WorkItemID string `json:"work_item_id"`
}

// Delete soft-deletes a work item. Delete is blocked while the item has
// non-deleted dependency edges or children, reported as DELETE_BLOCKED.
func (h *WorkItemHandler) Delete(ctx context.Context, rc *RequestContext, req DeleteWorkItemRequest, hasChildren, hasDependencies bool) (*wsproto.Envelope, error) {
	if err := validate.UUID("work_item_id", req.WorkItemID); err != nil {
		return nil, err
	}

	var cached struct {
		WorkItemID string `json:"work_item_id"`
	}
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindDeleteWorkItem, &cached)
	}

	item, err := h.Store.GetByID(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}

	if err := rc.Authz.CheckPermission(ctx, rc.UserID, item.ProjectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	if hasChildren {
		return nil, wsproto.DeleteBlocked("work item has child items; delete or reparent them first")
	}
	if hasDependencies {
		return nil, wsproto.DeleteBlocked("work item has dependency edges; delete them first")
	}

	log := ActivityLog{ID: uuid.NewString(), EntityType: "work_item", EntityID: item.ID, Action: "deleted", ActorID: rc.UserID, CreatedAt: now()}
	if err := h.Store.SoftDelete(ctx, item.ID, log); err != nil {
		return nil, wsproto.Internal("could not delete work item", true, err)
	}

	broadcastActivityLog(rc, item.ProjectID, log)
	broadcastEvent(rc, wsproto.KindDeleteWorkItem, subscription.ResourceWorkItem, item.ProjectID, struct {
		WorkItemID string `json:"work_item_id"`
	}{WorkItemID: item.ID})

	resp := struct {
		WorkItemID string `json:"work_item_id"`
	}{WorkItemID: item.ID}
	storeIdempotency(ctx, rc, resp)

	return wsproto.Reply(rc.MessageID, wsproto.KindDeleteWorkItem, resp)
}

// GetWorkItemsRequest is the decoded wire payload for KindGetWorkItems.
type GetWorkItemsRequest struct {
	ProjectID string `json:"project_id"`
}

// Get is a read-only query: authorize View, list, and reply. It does not
// run the mutation skeleton (no idempotency, no transaction, no broadcast).
func (h *WorkItemHandler) Get(ctx context.Context, rc *RequestContext, req GetWorkItemsRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, req.ProjectID, authz.RoleView); err != nil {
		return nil, err
	}
	items, err := h.Store.List(ctx, req.ProjectID)
	if err != nil {
		return nil, wsproto.Internal("could not list work items", true, err)
	}
	return wsproto.Reply(rc.MessageID, wsproto.KindGetWorkItems, struct {
		WorkItems []WorkItem `json:"work_items"`
		AsOf      int64      `json:"as_of_timestamp"`
	}{WorkItems: items, AsOf: wsproto.Now()})
}
