package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/subscription"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// CommentStore is the persistence seam for comment handlers. Ported from
// original_source's handlers/comment.rs.
type CommentStore interface {
	GetByID(ctx context.Context, id string) (*Comment, error)
	WorkItemProjectID(ctx context.Context, workItemID string) (string, error)
	Create(ctx context.Context, c *Comment, log ActivityLog) error
	Update(ctx context.Context, c *Comment, log ActivityLog) error
	SoftDelete(ctx context.Context, id string, log ActivityLog) error
	List(ctx context.Context, workItemID string) ([]Comment, error)
}

// CommentHandler groups the comment handlers and their store dependency.
type CommentHandler struct {
	Store CommentStore
}

// CreateCommentRequest is the decoded wire payload for KindCreateComment.
type CreateCommentRequest struct {
	WorkItemID string `json:"work_item_id"`
	Content    string `json:"content"`
}

// Create requires View on the owning project (commenting is not a write to
// the work item itself, per spec.md §4.7's comment permission mapping
// inherited from its work item's project).
func (h *CommentHandler) Create(ctx context.Context, rc *RequestContext, req CreateCommentRequest) (*wsproto.Envelope, error) {
	if err := rc.Validator.CommentContent(req.Content); err != nil {
		return nil, err
	}
	if err := validate.UUID("work_item_id", req.WorkItemID); err != nil {
		return nil, err
	}

	var cached Comment
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindCreateComment, &cached)
	}

	projectID, err := h.Store.WorkItemProjectID(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}

	if err := rc.Authz.CheckPermission(ctx, rc.UserID, projectID, authz.RoleView); err != nil {
		return nil, err
	}

	ts := now()
	comment := &Comment{
		ID:         uuid.NewString(),
		WorkItemID: req.WorkItemID,
		Content:    validate.TrimmedString(req.Content),
		CreatedAt:  ts,
		UpdatedAt:  ts,
		CreatedBy:  rc.UserID,
	}
	log := ActivityLog{ID: uuid.NewString(), EntityType: "comment", EntityID: comment.ID, Action: "created", ActorID: rc.UserID, CreatedAt: ts}

	if err := h.Store.Create(ctx, comment, log); err != nil {
		return nil, wsproto.Internal("could not create comment", true, err)
	}

	broadcastActivityLog(rc, projectID, log)
	broadcastEvent(rc, wsproto.KindCreateComment, subscription.ResourceWorkItem, projectID, comment)
	storeIdempotency(ctx, rc, comment)

	return wsproto.Reply(rc.MessageID, wsproto.KindCreateComment, comment)
}

// UpdateCommentRequest is the decoded wire payload for KindUpdateComment.
type UpdateCommentRequest struct {
	CommentID string `json:"comment_id"`
	Content   string `json:"content"`
}

// Update is author-only: only the original commenter may edit it.
func (h *CommentHandler) Update(ctx context.Context, rc *RequestContext, req UpdateCommentRequest) (*wsproto.Envelope, error) {
	if err := rc.Validator.CommentContent(req.Content); err != nil {
		return nil, err
	}
	if err := validate.UUID("comment_id", req.CommentID); err != nil {
		return nil, err
	}

	var cached Comment
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindUpdateComment, &cached)
	}

	comment, err := h.Store.GetByID(ctx, req.CommentID)
	if err != nil {
		return nil, wsproto.NotFound("comment")
	}

	projectID, err := h.Store.WorkItemProjectID(ctx, comment.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, projectID, authz.RoleView); err != nil {
		return nil, err
	}
	if err := authz.CheckOwner(rc.UserID, comment.CreatedBy); err != nil {
		return nil, err
	}

	comment.Content = validate.TrimmedString(req.Content)
	comment.UpdatedAt = now()

	log := ActivityLog{ID: uuid.NewString(), EntityType: "comment", EntityID: comment.ID, Action: "updated", ActorID: rc.UserID, CreatedAt: comment.UpdatedAt}

	if err := h.Store.Update(ctx, comment, log); err != nil {
		return nil, wsproto.Internal("could not update comment", true, err)
	}

	broadcastActivityLog(rc, projectID, log)
	broadcastEvent(rc, wsproto.KindUpdateComment, subscription.ResourceWorkItem, projectID, comment)
	storeIdempotency(ctx, rc, comment)

	return wsproto.Reply(rc.MessageID, wsproto.KindUpdateComment, comment)
}

// DeleteCommentRequest is the decoded wire payload for KindDeleteComment.
type DeleteCommentRequest struct {
	CommentID string `json:"comment_id"`
}

// Delete is author-only and soft-deletes, preserving the audit trail.
func (h *CommentHandler) Delete(ctx context.Context, rc *RequestContext, req DeleteCommentRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("comment_id", req.CommentID); err != nil {
		return nil, err
	}

	var cached struct {
		CommentID string `json:"comment_id"`
	}
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindDeleteComment, &cached)
	}

	comment, err := h.Store.GetByID(ctx, req.CommentID)
	if err != nil {
		return nil, wsproto.NotFound("comment")
	}

	projectID, err := h.Store.WorkItemProjectID(ctx, comment.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, projectID, authz.RoleView); err != nil {
		return nil, err
	}
	if err := authz.CheckOwner(rc.UserID, comment.CreatedBy); err != nil {
		return nil, err
	}

	log := ActivityLog{ID: uuid.NewString(), EntityType: "comment", EntityID: comment.ID, Action: "deleted", ActorID: rc.UserID, CreatedAt: now()}
	if err := h.Store.SoftDelete(ctx, comment.ID, log); err != nil {
		return nil, wsproto.Internal("could not delete comment", true, err)
	}

	broadcastActivityLog(rc, projectID, log)

	resp := struct {
		CommentID string `json:"comment_id"`
	}{CommentID: comment.ID}
	storeIdempotency(ctx, rc, resp)

	return wsproto.Reply(rc.MessageID, wsproto.KindDeleteComment, resp)
}

// GetCommentsRequest is the decoded wire payload for KindGetComments.
type GetCommentsRequest struct {
	WorkItemID string `json:"work_item_id"`
}

// Get lists a work item's comments, requiring View on its project.
func (h *CommentHandler) Get(ctx context.Context, rc *RequestContext, req GetCommentsRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("work_item_id", req.WorkItemID); err != nil {
		return nil, err
	}
	projectID, err := h.Store.WorkItemProjectID(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, projectID, authz.RoleView); err != nil {
		return nil, err
	}
	comments, err := h.Store.List(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.Internal("could not list comments", true, err)
	}
	return wsproto.Reply(rc.MessageID, wsproto.KindGetComments, struct {
		Comments []Comment `json:"comments"`
	}{Comments: comments})
}
