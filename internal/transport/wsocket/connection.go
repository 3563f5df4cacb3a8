package wsocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/r3e-network/pmserver/internal/core/conn"
	"github.com/r3e-network/pmserver/internal/core/ratelimit"
	"github.com/r3e-network/pmserver/internal/core/registry"
	"github.com/r3e-network/pmserver/internal/core/subscription"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// connection runs one socket's lifecycle: a read pump that decodes client
// frames and a write pump that is the sole writer to ws (gorilla/websocket
// permits at most one concurrent writer) and the sole owner of subs, so
// subscription.Set needs no locking of its own, per its package doc.
type connection struct {
	id     registry.ConnectionID
	tenant string
	userID string

	ws   *websocket.Conn
	deps Deps

	send        chan *wsproto.Envelope
	subscribeCh chan subscribeRequest
	stop        chan struct{}
	stopOnce    sync.Once

	broadcastCh <-chan *wsproto.Envelope
}

// subscribeRequest is a decoded Subscribe/Unsubscribe frame forwarded from
// the read pump to the write pump, which alone mutates the connection's
// subscription.Set.
type subscribeRequest struct {
	requestID string
	kind      wsproto.Kind
	filter    subscription.Filter
}

// subscribePayload is the wire shape of both KindSubscribe and
// KindUnsubscribe requests, per spec.md §4.4.
type subscribePayload struct {
	ProjectID    string `json:"project_id"`
	ResourceKind string `json:"resource_kind"`
}

func newConnection(id registry.ConnectionID, tenant, userID string, ws *websocket.Conn, deps Deps) *connection {
	return &connection{
		id:          id,
		tenant:      tenant,
		userID:      userID,
		ws:          ws,
		deps:        deps,
		send:        make(chan *wsproto.Envelope, deps.Config.SendBufferSize),
		subscribeCh: make(chan subscribeRequest, deps.Config.SendBufferSize),
		stop:        make(chan struct{}),
		broadcastCh: deps.Broadcaster.Subscribe(tenant, string(id)),
	}
}

func (c *connection) close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// run drives one connection end to end: race the read and write pumps
// under an errgroup.Group so whichever exits first (a read error, a
// write error, or a clean close) is captured, then unwind every resource
// the connection accumulated. Neither pump needs the group's derived
// context: both already watch c.stop, closed by whichever pump's defer
// runs first, which is what actually tears down the other side.
func (c *connection) run() {
	c.deps.Log.WithFields(logrus.Fields{"connection_id": c.id, "tenant": c.tenant, "user_id": c.userID}).Info("websocket connection established")
	if c.deps.Metrics != nil {
		c.deps.Metrics.SetConnections(c.deps.Registry.TotalCount(), nil)
	}

	var g errgroup.Group
	g.Go(c.writePump)
	g.Go(c.readPump)

	if err := g.Wait(); err != nil {
		c.deps.Log.WithFields(logrus.Fields{"connection_id": c.id}).WithError(err).Debug("connection pump exited with error")
	}

	c.deps.Broadcaster.Unsubscribe(c.tenant, string(c.id))
	c.deps.Registry.Unregister(c.id)
	c.ws.Close()

	c.deps.Log.WithFields(logrus.Fields{"connection_id": c.id, "tenant": c.tenant}).Info("websocket connection closed")
}

// readPump decodes inbound frames, enforces the rate limiter before any
// other work, and either applies Subscribe/Unsubscribe locally or
// dispatches the envelope through the shared dispatcher. It never writes
// to c.ws directly: every outbound frame goes through c.send or
// c.subscribeCh so the write pump remains the sole writer. Its return
// error (nil on a clean close) is what run's errgroup.Group reports.
func (c *connection) readPump() error {
	defer c.close()

	limiter := ratelimit.New(c.deps.RateLimit)
	c.ws.SetReadLimit(c.deps.Config.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(c.deps.Config.HeartbeatTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.deps.Config.HeartbeatTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}

		switch limiter.Check(time.Now()) {
		case ratelimit.OutcomeWarn:
			if c.deps.Metrics != nil {
				c.deps.Metrics.RecordRateLimitWarning()
			}
			c.trySend(wsproto.ReplyError("", wsproto.Validation("rate limit exceeded, slow down")))
			continue
		case ratelimit.OutcomeClose:
			if c.deps.Metrics != nil {
				c.deps.Metrics.RecordRateLimitClose()
			}
			c.deps.Log.WithFields(logrus.Fields{"connection_id": c.id}).Warn("connection closed for sustained rate limit violations")
			c.sendPolicyClose("rate limit exceeded too many times")
			return nil
		}

		// Peek the discriminant before paying for a full json.Unmarshal: an
		// obviously kind-less frame is rejected here, and a well-formed one
		// gets its handler name into the access log without waiting for
		// dispatch to report it.
		peekedKind := gjson.GetBytes(data, "kind").String()
		if peekedKind == "" {
			c.trySend(wsproto.ReplyError("", wsproto.InvalidMessage("missing \"kind\" discriminant")))
			continue
		}
		c.deps.Log.WithFields(logrus.Fields{"connection_id": c.id, "kind": peekedKind}).Debug("frame received")

		var env wsproto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.trySend(wsproto.ReplyError("", wsproto.DecodeError(err)))
			continue
		}

		switch env.Kind {
		case wsproto.KindSubscribe, wsproto.KindUnsubscribe:
			c.handleSubscription(env)
		default:
			ctx := conn.WithIdentity(context.Background(), conn.Identity{Tenant: c.tenant, UserID: c.userID})
			resp := c.deps.Dispatcher.Dispatch(ctx, &env)
			c.trySend(resp)
		}
	}
}

// handleSubscription validates a Subscribe/Unsubscribe frame and forwards
// it to the write pump, the sole owner of the connection's subscription
// set.
func (c *connection) handleSubscription(env wsproto.Envelope) {
	var payload subscribePayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.trySend(wsproto.ReplyError(env.MessageID, wsproto.DecodeError(err)))
			return
		}
	}
	if err := validate.Subscribe(payload.ProjectID, payload.ResourceKind); err != nil {
		if wsErr, ok := wsproto.As(err); ok {
			c.trySend(wsproto.ReplyError(env.MessageID, wsErr))
		}
		return
	}

	req := subscribeRequest{
		requestID: env.MessageID,
		kind:      env.Kind,
		filter:    subscription.Filter{ProjectID: payload.ProjectID, Kind: subscription.ResourceKind(payload.ResourceKind)},
	}
	select {
	case c.subscribeCh <- req:
	case <-c.stop:
	}
}

// trySend enqueues an outbound envelope for the write pump without
// blocking forever if the connection is already shutting down.
func (c *connection) trySend(env *wsproto.Envelope) {
	if env == nil {
		return
	}
	select {
	case c.send <- env:
	case <-c.stop:
	}
}

// sendPolicyClose asks the write pump to send a close frame and stops the
// connection; used for the rate limiter's terminal escalation.
func (c *connection) sendPolicyClose(reason string) {
	select {
	case c.send <- policyCloseEnvelope(reason):
	case <-c.stop:
	}
	c.close()
}

// policyCloseEnvelope is a sentinel the write pump recognizes by Kind to
// send a close frame instead of a normal JSON frame.
func policyCloseEnvelope(reason string) *wsproto.Envelope {
	return &wsproto.Envelope{MessageID: "", Timestamp: wsproto.Now(), Kind: kindPolicyClose, ProjectID: reason}
}

const kindPolicyClose wsproto.Kind = "_PolicyClose"

// writePump is the sole writer to c.ws and the sole owner of subs: it
// applies subscribe/unsubscribe mutations, filters broadcaster deliveries
// against the current subscription set, relays direct dispatch replies,
// and sends heartbeat pings on deps.Config.HeartbeatInterval. Its return
// error (nil on a clean close) is what run's errgroup.Group reports, and
// it always closes c.stop on the way out so the read pump is never left
// blocked on a read once the write side has given up.
func (c *connection) writePump() error {
	defer c.close()

	subs := subscription.NewSet()
	ticker := time.NewTicker(c.deps.Config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return nil
			}
			if env.Kind == kindPolicyClose {
				c.writeClose(websocket.ClosePolicyViolation, env.ProjectID)
				return nil
			}
			if err := c.writeJSON(env); err != nil {
				return err
			}

		case req := <-c.subscribeCh:
			c.applySubscription(subs, req)

		case env, ok := <-c.broadcastCh:
			if !ok {
				continue
			}
			filter := subscription.Filter{ProjectID: env.ProjectID, Kind: subscription.ResourceKind(env.ResourceKind)}
			if !subs.Matches(filter) {
				continue
			}
			if err := c.writeJSON(env); err != nil {
				return err
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}

		case <-c.stop:
			c.writeClose(websocket.CloseNormalClosure, "server shutting down")
			return nil
		}
	}
}

// writeWait bounds every write, including heartbeat pings, so a stalled
// TCP peer cannot pin a write pump goroutine forever.
const writeWait = 10 * time.Second

func (c *connection) writeJSON(env *wsproto.Envelope) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}

func (c *connection) writeClose(code int, reason string) {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// applySubscription mutates subs per spec.md §4.4's idempotent
// subscribe/unsubscribe semantics and replies with a SubscriptionAck
// regardless of whether the filter was already present, so the client
// always gets a terminal response to its request.
func (c *connection) applySubscription(subs *subscription.Set, req subscribeRequest) {
	switch req.kind {
	case wsproto.KindSubscribe:
		subs.Subscribe(req.filter)
	case wsproto.KindUnsubscribe:
		subs.Unsubscribe(req.filter)
	}
	ack, err := wsproto.Reply(req.requestID, wsproto.KindSubscriptionAck, struct {
		ProjectID    string `json:"project_id"`
		ResourceKind string `json:"resource_kind"`
		Active       bool   `json:"active"`
	}{
		ProjectID:    req.filter.ProjectID,
		ResourceKind: string(req.filter.Kind),
		Active:       subs.Matches(req.filter),
	})
	if err != nil {
		c.deps.Log.WithError(err).Warn("failed to encode subscription ack")
		return
	}
	c.writeJSON(ack)
}
