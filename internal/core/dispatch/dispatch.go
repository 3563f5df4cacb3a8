// Package dispatch routes a decoded wsproto.Envelope to its handler under a
// hard timeout, logs the elapsed handler time, and frames whatever error the
// handler returns. Grounded on original_source's
// handlers/dispatcher.rs (dispatch/dispatch_inner split, the 30s
// tokio::time::timeout wrapper, and the Ping/Pong fast path that bypasses
// the handler pipeline entirely).
package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// HandlerTimeout is the hard ceiling spec.md §4.8 places on every handler
// invocation.
const HandlerTimeout = 30 * time.Second

// Handler processes one decoded envelope and returns the response envelope
// to send back, or an error to be framed by the dispatcher.
type Handler func(ctx context.Context, env *wsproto.Envelope) (*wsproto.Envelope, error)

// Dispatcher routes by Kind and enforces the handler timeout. group
// collapses concurrent dispatches that share a message_id (a client retry
// racing its own original request on a reconnect) so the handler only runs
// once and every caller gets the same response.
type Dispatcher struct {
	handlers map[wsproto.Kind]Handler
	log      *logrus.Logger
	group    singleflight.Group
}

// New builds a Dispatcher with no routes registered; call Register for
// each Kind the server supports.
func New(log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{handlers: make(map[wsproto.Kind]Handler), log: log}
}

// Register binds a handler to a Kind. Registering Ping is a no-op since it
// is handled inline before routing.
func (d *Dispatcher) Register(kind wsproto.Kind, h Handler) {
	d.handlers[kind] = h
}

// Dispatch runs the registered handler for env.Kind under HandlerTimeout,
// framing any returned error (or a TIMEOUT error on expiry) into a response
// envelope. Ping is answered directly without touching the handler table,
// idempotency, or authorization, matching the original's fast path.
func (d *Dispatcher) Dispatch(ctx context.Context, env *wsproto.Envelope) *wsproto.Envelope {
	start := time.Now()

	if env.Kind == wsproto.KindPing {
		resp, _ := wsproto.Reply(env.MessageID, wsproto.KindPong, struct {
			Timestamp int64 `json:"timestamp"`
		}{Timestamp: wsproto.Now()})
		return resp
	}

	handler, ok := d.handlers[env.Kind]
	if !ok {
		return wsproto.ReplyError(env.MessageID, wsproto.InvalidMessage("unsupported or missing message payload"))
	}

	resp := d.runWithTimeout(ctx, env, handler)

	d.log.WithFields(logrus.Fields{
		"handler":    string(env.Kind),
		"message_id": env.MessageID,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("dispatch completed")

	return resp
}

func (d *Dispatcher) runWithTimeout(ctx context.Context, env *wsproto.Envelope, handler Handler) *wsproto.Envelope {
	ctx, cancel := context.WithTimeout(ctx, HandlerTimeout)
	defer cancel()

	type result struct {
		resp *wsproto.Envelope
		err  error
	}

	// singleflight collapses duplicate in-flight dispatches for the same
	// message_id; every caller blocks on the one call and shares its result.
	// The inner func always returns a nil error (its outcome travels through
	// result.err instead), so group.Do's own error return is never non-nil.
	v, _, _ := d.group.Do(env.MessageID, func() (any, error) {
		resp, herr := handler(ctx, env)
		return result{resp: resp, err: herr}, nil
	})

	r := v.(result)
	if r.err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			d.log.WithFields(logrus.Fields{
				"handler":    string(env.Kind),
				"message_id": env.MessageID,
			}).Error("handler timed out after 30s")
			return wsproto.ReplyError(env.MessageID, wsproto.Timeout())
		}
		if wsErr, ok := wsproto.As(r.err); ok {
			return wsproto.ReplyError(env.MessageID, wsErr)
		}
		return wsproto.ReplyError(env.MessageID, wsproto.Internal("unexpected handler error", false, r.err))
	}

	return r.resp
}
