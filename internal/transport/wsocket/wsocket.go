// Package wsocket is the live duplex transport: it upgrades an HTTP
// request to a websocket, resolves the caller's identity the same way the
// REST mirror's identity middleware does, registers the connection, and
// hands it off to a paired read/write pump. Grounded on
// original_source's backend/crates/pm-ws/src/web_socket_connection.rs
// (split sender/receiver, a bounded outbound channel for backpressure,
// rate-limit check before any other work) adapted from axum's
// extractor-based upgrade to gorilla/websocket's http.Handler-based one.
package wsocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/pmserver/internal/core/authn"
	"github.com/r3e-network/pmserver/internal/core/broadcast"
	"github.com/r3e-network/pmserver/internal/core/dispatch"
	"github.com/r3e-network/pmserver/internal/core/ratelimit"
	"github.com/r3e-network/pmserver/internal/core/registry"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
	"github.com/r3e-network/pmserver/internal/obs/metrics"
)

// Config controls the per-connection pump, mirroring
// pkg/config.WebSocketConfig's field names.
type Config struct {
	SendBufferSize       int
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	MaxMessageBytes       int64
}

// DefaultConfig matches spec.md §6's websocket.* defaults.
func DefaultConfig() Config {
	return Config{
		SendBufferSize:    100,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		MaxMessageBytes:   1 << 20,
	}
}

// Deps is everything the transport needs to accept and run a connection.
type Deps struct {
	Registry    *registry.Registry
	Broadcaster *broadcast.Broadcaster
	Dispatcher  *dispatch.Dispatcher
	Authn       *authn.Resolver
	RateLimit   ratelimit.Config
	Config      Config
	Log         *logrus.Logger
	Metrics     *metrics.Metrics
}

// Server upgrades incoming HTTP requests to websocket connections.
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
}

// New builds a Server. CheckOrigin accepts every origin: this transport
// authenticates by bearer token, not by browser same-origin policy, so an
// origin check adds no security and would only break native/CLI clients
// that send no Origin header at all.
func New(deps Deps) *Server {
	def := DefaultConfig()
	if deps.Config.SendBufferSize <= 0 {
		deps.Config.SendBufferSize = def.SendBufferSize
	}
	if deps.Config.HeartbeatInterval <= 0 {
		deps.Config.HeartbeatInterval = def.HeartbeatInterval
	}
	if deps.Config.HeartbeatTimeout <= 0 {
		deps.Config.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if deps.Config.MaxMessageBytes <= 0 {
		deps.Config.MaxMessageBytes = def.MaxMessageBytes
	}
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP resolves identity and enforces the connection registry's caps
// before upgrading, so a rejected connection gets a plain HTTP status
// instead of an upgraded socket immediately slammed shut, per spec.md
// §4.2's "an over-cap connection attempt never completes the handshake."
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	id, err := s.deps.Authn.ResolveToken(token)
	if err != nil {
		writeUpgradeError(w, http.StatusUnauthorized, wsproto.Unauthorized())
		return
	}
	if userID := r.URL.Query().Get("user_id"); userID != "" && token == "" {
		id.UserID = userID
	}

	connID, err := s.deps.Registry.Register(id.Tenant, id.UserID)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordConnectionRejected()
		}
		wsErr, _ := wsproto.As(err)
		writeUpgradeError(w, http.StatusServiceUnavailable, wsErr)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Registry.Unregister(connID)
		s.deps.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newConnection(connID, id.Tenant, id.UserID, ws, s.deps)
	c.run()
}

// bearerToken prefers the Authorization header (matching the REST
// mirror's identity middleware) but falls back to a ?token= query
// parameter, since browser WebSocket clients cannot set custom headers on
// the handshake request.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

// writeUpgradeError writes a plain JSON error body for a handshake that
// never reaches the upgrade call, framed the same way wsproto.Error marshals
// on the wire so clients parse pre- and post-upgrade errors identically.
func writeUpgradeError(w http.ResponseWriter, status int, err *wsproto.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err == nil {
		w.Write([]byte(`{"code":"INTERNAL_ERROR","message":"connection rejected"}`))
		return
	}
	body, _ := err.MarshalJSON()
	w.Write(body)
}
