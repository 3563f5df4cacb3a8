package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/dependency"
	"github.com/r3e-network/pmserver/internal/core/subscription"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// Dependency is the wire/storage shape of a directed dependency edge.
type Dependency struct {
	ID         string          `json:"id"`
	BlockingID string          `json:"blocking_item_id"`
	BlockedID  string          `json:"blocked_item_id"`
	Kind       dependency.Kind `json:"kind"`
	CreatedAt  time.Time       `json:"created_at"`
	CreatedBy  string          `json:"created_by"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
}

// DependencyStore is the persistence seam for dependency handlers. It
// satisfies both dependency.ItemLookup and dependency.Graph so the package
// built for cycle detection and precondition checks can run directly
// against it.
type DependencyStore interface {
	dependency.ItemLookup
	dependency.Graph

	Create(ctx context.Context, d *Dependency, log ActivityLog) error
	SoftDelete(ctx context.Context, id string, log ActivityLog) error
	GetByID(ctx context.Context, id string) (*Dependency, error)
	List(ctx context.Context, workItemID string) ([]Dependency, error)
}

// DependencyHandler groups the dependency handlers and their store.
type DependencyHandler struct {
	Store DependencyStore
}

var validDependencyKinds = map[dependency.Kind]bool{dependency.KindBlocks: true, dependency.KindRelatesTo: true}

// CreateDependencyRequest is the decoded wire payload for KindCreateDependency.
type CreateDependencyRequest struct {
	BlockingID string          `json:"blocking_item_id"`
	BlockedID  string          `json:"blocked_item_id"`
	Kind       dependency.Kind `json:"kind"`
}

// Create follows spec.md §4.9's fixed skeleton: load the blocking item to
// resolve its project, authorize Edit on it, and only then run §4.11's
// ordered precondition checks (self-edge, cross-project, duplicate edge,
// fanout caps, then — for Blocks edges only — the BFS cycle check) before
// inserting the edge. Authorizing before any precondition check, rather
// than after, matches workitem.go's Create/Update and
// _examples/original_source/backend/crates/pm-ws/src/handlers/dependency.rs's
// handle_create_dependency order — an unauthorized caller must not learn
// whether an edge already exists or how close an item is to its fanout cap.
func (h *DependencyHandler) Create(ctx context.Context, rc *RequestContext, req CreateDependencyRequest) (*wsproto.Envelope, error) {
	if !validDependencyKinds[req.Kind] {
		return nil, wsproto.Validation("invalid dependency kind").WithField("kind")
	}
	if err := validate.UUID("blocking_item_id", req.BlockingID); err != nil {
		return nil, err
	}
	if err := validate.UUID("blocked_item_id", req.BlockedID); err != nil {
		return nil, err
	}

	var cached Dependency
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindCreateDependency, &cached)
	}

	blocking, err := h.Store.GetItem(ctx, req.BlockingID)
	if err != nil {
		return nil, wsproto.NotFound("blocking item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, blocking.ProjectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	if err := dependency.CheckPreconditions(ctx, h.Store, req.BlockingID, req.BlockedID, req.Kind); err != nil {
		return nil, err
	}

	if req.Kind == dependency.KindBlocks {
		if err := dependency.CheckCycle(ctx, h.Store, req.BlockingID, req.BlockedID); err != nil {
			return nil, err
		}
	}

	ts := now()
	edge := &Dependency{
		ID:         uuid.NewString(),
		BlockingID: req.BlockingID,
		BlockedID:  req.BlockedID,
		Kind:       req.Kind,
		CreatedAt:  ts,
		CreatedBy:  rc.UserID,
	}
	log := ActivityLog{ID: uuid.NewString(), EntityType: "dependency", EntityID: edge.ID, Action: "created", ActorID: rc.UserID, CreatedAt: ts}

	if err := h.Store.Create(ctx, edge, log); err != nil {
		return nil, wsproto.Internal("could not create dependency", true, err)
	}

	broadcastActivityLog(rc, blocking.ProjectID, log)
	broadcastEvent(rc, wsproto.KindCreateDependency, subscription.ResourceWorkItem, blocking.ProjectID, edge)
	storeIdempotency(ctx, rc, edge)

	return wsproto.Reply(rc.MessageID, wsproto.KindCreateDependency, edge)
}

// DeleteDependencyRequest is the decoded wire payload for KindDeleteDependency.
type DeleteDependencyRequest struct {
	DependencyID string `json:"dependency_id"`
}

// Delete is a soft delete; dependencies are otherwise immutable (create or
// delete only, per spec.md's Dependency type table).
func (h *DependencyHandler) Delete(ctx context.Context, rc *RequestContext, req DeleteDependencyRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("dependency_id", req.DependencyID); err != nil {
		return nil, err
	}

	var cached struct {
		DependencyID string `json:"dependency_id"`
	}
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindDeleteDependency, &cached)
	}

	edge, err := h.Store.GetByID(ctx, req.DependencyID)
	if err != nil {
		return nil, wsproto.NotFound("dependency")
	}

	blocking, err := h.Store.GetItem(ctx, edge.BlockingID)
	if err != nil {
		return nil, wsproto.NotFound("blocking item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, blocking.ProjectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	log := ActivityLog{ID: uuid.NewString(), EntityType: "dependency", EntityID: edge.ID, Action: "deleted", ActorID: rc.UserID, CreatedAt: now()}
	if err := h.Store.SoftDelete(ctx, edge.ID, log); err != nil {
		return nil, wsproto.Internal("could not delete dependency", true, err)
	}

	broadcastActivityLog(rc, blocking.ProjectID, log)

	resp := struct {
		DependencyID string `json:"dependency_id"`
	}{DependencyID: edge.ID}
	storeIdempotency(ctx, rc, resp)

	return wsproto.Reply(rc.MessageID, wsproto.KindDeleteDependency, resp)
}

// GetDependenciesRequest is the decoded wire payload for KindGetDependencies.
type GetDependenciesRequest struct {
	WorkItemID string `json:"work_item_id"`
}

// Get lists the dependency edges touching a work item (either direction),
// requiring View on its project.
func (h *DependencyHandler) Get(ctx context.Context, rc *RequestContext, req GetDependenciesRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("work_item_id", req.WorkItemID); err != nil {
		return nil, err
	}
	item, err := h.Store.GetItem(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, item.ProjectID, authz.RoleView); err != nil {
		return nil, err
	}
	deps, err := h.Store.List(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.Internal("could not list dependencies", true, err)
	}
	return wsproto.Reply(rc.MessageID, wsproto.KindGetDependencies, struct {
		Dependencies []Dependency `json:"dependencies"`
	}{Dependencies: deps})
}
