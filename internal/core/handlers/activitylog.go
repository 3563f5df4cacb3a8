package handlers

import (
	"context"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// ActivityLogStore is the persistence seam for the activity log query
// handler. Every mutating handler writes its own ActivityLog row as part
// of its own transaction (see workitem.go, project.go, sprint.go,
// comment.go, dependency.go, timer.go); this store only reads them back.
type ActivityLogStore interface {
	ListForProject(ctx context.Context, projectID string, limit int) ([]ActivityLog, error)
}

// ActivityLogHandler serves GetActivityLog, the append-only audit trail
// query.
type ActivityLogHandler struct {
	Store ActivityLogStore
}

const defaultActivityLogLimit = 100

// GetActivityLogRequest is the decoded wire payload for KindGetActivityLog.
type GetActivityLogRequest struct {
	ProjectID string `json:"project_id"`
	Limit     int    `json:"limit,omitempty"`
}

// Get is a read-only query: authorize View on the project, then list its
// ActivityLog rows newest first.
func (h *ActivityLogHandler) Get(ctx context.Context, rc *RequestContext, req GetActivityLogRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, req.ProjectID, authz.RoleView); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultActivityLogLimit
	}

	entries, err := h.Store.ListForProject(ctx, req.ProjectID, limit)
	if err != nil {
		return nil, wsproto.Internal("could not list activity log", true, err)
	}
	return wsproto.Reply(rc.MessageID, wsproto.KindGetActivityLog, struct {
		Entries []ActivityLog `json:"entries"`
	}{Entries: entries})
}
