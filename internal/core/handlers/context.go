package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/broadcast"
	"github.com/r3e-network/pmserver/internal/core/subscription"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// IdempotencyStore is the narrow seam handlers need from
// internal/core/idempotency: no transaction handle, since each handler's
// entity write and idempotency row are committed independently (the row is
// written after commit, non-fatally, per spec.md §4.9 step 9). Satisfied by
// idempotency.Direct.
type IdempotencyStore interface {
	Get(ctx context.Context, messageID string) ([]byte, bool, error)
	Put(ctx context.Context, messageID string, response []byte) error
}

// RequestContext carries everything one handler invocation needs beyond its
// own decoded payload: caller identity, the envelope's own message id (the
// idempotency key), and the shared services every handler's fixed sequence touches.
type RequestContext struct {
	MessageID string
	Tenant    string
	UserID    string

	DB          *sql.DB
	Idempotency IdempotencyStore
	Authz       *authz.Resolver
	Validator   *validate.Validator
	Broadcaster *broadcast.Broadcaster

	Log *logrus.Logger
}

func (c *RequestContext) logPrefix(handler string) *logrus.Entry {
	return c.Log.WithFields(logrus.Fields{
		"handler":    handler,
		"message_id": c.MessageID,
		"user_id":    c.UserID,
	})
}

// checkIdempotency is step 3 of spec.md §4.9: look up a cached response for
// this message_id and, if present, decode and return it so the caller gets
// an identical reply to their original request.
func checkIdempotency(ctx context.Context, rc *RequestContext, out any) (bool, error) {
	cached, ok, err := rc.Idempotency.Get(ctx, rc.MessageID)
	if err != nil {
		return false, wsproto.Internal("idempotency lookup failed", true, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(cached, out); err != nil {
		return false, wsproto.Internal("could not decode cached response", false, err)
	}
	return true, nil
}

// storeIdempotency is step 9: persist the encoded response, non-fatally.
func storeIdempotency(ctx context.Context, rc *RequestContext, response any) {
	raw, err := json.Marshal(response)
	if err != nil {
		rc.logPrefix("idempotency").WithError(err).Warn("failed to encode response for idempotency store")
		return
	}
	if err := rc.Idempotency.Put(ctx, rc.MessageID, raw); err != nil {
		rc.logPrefix("idempotency").WithError(err).Warn("failed to store idempotent response")
	}
}

// broadcastEvent is step 8: emit a domain event on the tenant bus, tagged
// with the (project_id, resource_kind) filter tuple a subscribed
// connection matches against (spec.md §4.4). Errors are logged, never
// propagated to the caller, per spec.md §4.9.
func broadcastEvent(rc *RequestContext, kind wsproto.Kind, resourceKind subscription.ResourceKind, projectID string, payload any) {
	env, err := wsproto.Event(kind, payload)
	if err != nil {
		rc.logPrefix("broadcast").WithError(err).Warn("failed to encode broadcast event")
		return
	}
	env.ProjectID = projectID
	env.ResourceKind = string(resourceKind)
	rc.Broadcaster.Broadcast(rc.Tenant, env)
}

// broadcastActivityLog is the ActivityLogCreated half of step 8. It always
// carries the work_item resource kind's broader sibling, project, since an
// activity log entry is relevant to anyone watching the project itself
// regardless of which entity kind changed.
func broadcastActivityLog(rc *RequestContext, projectID string, log ActivityLog) {
	broadcastEvent(rc, wsproto.Kind("ActivityLogCreated"), subscription.ResourceProject, projectID, log)
}

func now() time.Time { return time.Now().UTC() }

func unixToTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }
