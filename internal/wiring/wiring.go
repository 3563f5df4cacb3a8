// Package wiring builds the single dispatch.Dispatcher shared by every
// connection: one Services bundle of the shared singletons every handler
// needs, a RequestContext built fresh per dispatched envelope from the
// caller identity internal/transport/wsocket attaches to the context via
// internal/core/conn, and a Register call per wsproto.Kind that decodes
// the envelope payload and calls the matching handlers.XHandler method.
package wiring

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/broadcast"
	"github.com/r3e-network/pmserver/internal/core/conn"
	"github.com/r3e-network/pmserver/internal/core/dispatch"
	"github.com/r3e-network/pmserver/internal/core/handlers"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// Services is every shared singleton a dispatched handler call can reach.
// Tenant and UserID are not here: they vary per connection and travel on
// the context instead, attached by internal/core/conn.
type Services struct {
	DB          *sql.DB
	Idempotency handlers.IdempotencyStore
	Authz       *authz.Resolver
	Validator   *validate.Validator
	Broadcaster *broadcast.Broadcaster
	Log         *logrus.Logger

	Projects     *handlers.ProjectHandler
	WorkItems    *handlers.WorkItemHandler
	Sprints      *handlers.SprintHandler
	Comments     *handlers.CommentHandler
	Dependencies *handlers.DependencyHandler
	Timers       *handlers.TimerHandler
	ActivityLog  *handlers.ActivityLogHandler

	WorkItemStore   handlers.WorkItemStore
	DependencyStore handlers.DependencyStore
}

func (s *Services) requestContext(ctx context.Context, env *wsproto.Envelope) *handlers.RequestContext {
	id := conn.FromContext(ctx)
	return &handlers.RequestContext{
		MessageID:   env.MessageID,
		Tenant:      id.Tenant,
		UserID:      id.UserID,
		DB:          s.DB,
		Idempotency: s.Idempotency,
		Authz:       s.Authz,
		Validator:   s.Validator,
		Broadcaster: s.Broadcaster,
		Log:         s.Log,
	}
}

func decode[T any](env *wsproto.Envelope) (T, error) {
	var req T
	if len(env.Payload) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		var zero T
		return zero, wsproto.DecodeError(err)
	}
	return req, nil
}

// withReq adapts a handler method taking a decoded request payload into a
// dispatch.Handler.
func withReq[T any](s *Services, fn func(ctx context.Context, rc *handlers.RequestContext, req T) (*wsproto.Envelope, error)) dispatch.Handler {
	return func(ctx context.Context, env *wsproto.Envelope) (*wsproto.Envelope, error) {
		req, err := decode[T](env)
		if err != nil {
			return nil, err
		}
		return fn(ctx, s.requestContext(ctx, env), req)
	}
}

// noReq adapts a handler method with no request payload (a bare list/query)
// into a dispatch.Handler.
func noReq(s *Services, fn func(ctx context.Context, rc *handlers.RequestContext) (*wsproto.Envelope, error)) dispatch.Handler {
	return func(ctx context.Context, env *wsproto.Envelope) (*wsproto.Envelope, error) {
		return fn(ctx, s.requestContext(ctx, env))
	}
}

// deleteWorkItem resolves the precondition booleans handlers.WorkItemHandler.Delete
// needs (it has no store access of its own to compute them) before calling
// through: whether the item has any live children or live dependency edges.
func (s *Services) deleteWorkItem(ctx context.Context, rc *handlers.RequestContext, req handlers.DeleteWorkItemRequest) (*wsproto.Envelope, error) {
	item, err := s.WorkItemStore.GetByID(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}

	hasChildren := false
	siblings, err := s.WorkItemStore.List(ctx, item.ProjectID)
	if err != nil {
		return nil, wsproto.Internal("could not check for child work items", true, err)
	}
	for _, w := range siblings {
		if w.ParentID == item.ID {
			hasChildren = true
			break
		}
	}

	edges, err := s.DependencyStore.List(ctx, item.ID)
	if err != nil {
		return nil, wsproto.Internal("could not check for dependency edges", true, err)
	}
	hasDependencies := len(edges) > 0

	return s.WorkItems.Delete(ctx, rc, req, hasChildren, hasDependencies)
}

// BuildDispatcher registers every wsproto.Kind the wire protocol defines
// against its handler, closing over s for the shared services each
// handler call needs. One Dispatcher is built and shared across every
// connection: this is what lets its singleflight.Group collapse a
// client's retried message_id across a reconnect, not just within one
// socket's lifetime.
func BuildDispatcher(s *Services) *dispatch.Dispatcher {
	d := dispatch.New(s.Log)

	d.Register(wsproto.KindCreateWorkItem, withReq(s, s.WorkItems.Create))
	d.Register(wsproto.KindUpdateWorkItem, withReq(s, s.WorkItems.Update))
	d.Register(wsproto.KindDeleteWorkItem, withReq(s, s.deleteWorkItem))
	d.Register(wsproto.KindGetWorkItems, withReq(s, s.WorkItems.Get))

	d.Register(wsproto.KindCreateProject, withReq(s, s.Projects.Create))
	d.Register(wsproto.KindUpdateProject, withReq(s, s.Projects.Update))
	d.Register(wsproto.KindDeleteProject, withReq(s, s.Projects.Delete))
	d.Register(wsproto.KindListProjects, noReq(s, s.Projects.List))

	d.Register(wsproto.KindCreateSprint, withReq(s, s.Sprints.Create))
	d.Register(wsproto.KindUpdateSprint, withReq(s, s.Sprints.Update))
	d.Register(wsproto.KindDeleteSprint, withReq(s, s.Sprints.Delete))
	d.Register(wsproto.KindGetSprint, withReq(s, s.Sprints.Get))

	d.Register(wsproto.KindCreateComment, withReq(s, s.Comments.Create))
	d.Register(wsproto.KindUpdateComment, withReq(s, s.Comments.Update))
	d.Register(wsproto.KindDeleteComment, withReq(s, s.Comments.Delete))
	d.Register(wsproto.KindGetComments, withReq(s, s.Comments.Get))

	d.Register(wsproto.KindCreateDependency, withReq(s, s.Dependencies.Create))
	d.Register(wsproto.KindDeleteDependency, withReq(s, s.Dependencies.Delete))
	d.Register(wsproto.KindGetDependencies, withReq(s, s.Dependencies.Get))

	d.Register(wsproto.KindStartTimer, withReq(s, s.Timers.Start))
	d.Register(wsproto.KindStopTimer, withReq(s, s.Timers.Stop))
	d.Register(wsproto.KindCreateTimeEntry, withReq(s, s.Timers.Create))
	d.Register(wsproto.KindUpdateTimeEntry, withReq(s, s.Timers.Update))
	d.Register(wsproto.KindDeleteTimeEntry, withReq(s, s.Timers.Delete))
	d.Register(wsproto.KindGetTimeEntries, withReq(s, s.Timers.Get))
	d.Register(wsproto.KindGetRunningTimer, noReq(s, s.Timers.GetRunning))

	d.Register(wsproto.KindGetActivityLog, withReq(s, s.ActivityLog.Get))

	return d
}
