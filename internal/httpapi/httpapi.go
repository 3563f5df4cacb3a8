// Package httpapi exposes the chi-routed REST mirror of the wire protocol
// (spec.md §6), plus health, readiness, and admin endpoints. Every REST
// route builds the same wsproto.Envelope a websocket client would send
// and runs it through the shared dispatch.Dispatcher, so both transports
// share one handler implementation end to end, grounded on
// internal/app/httpapi/service.go's Service{addr,server,handler,log}
// shape and middleware ordering (auth, then CORS, then metrics).
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/pmserver/internal/core/authn"
	"github.com/r3e-network/pmserver/internal/core/breaker"
	"github.com/r3e-network/pmserver/internal/core/dispatch"
	"github.com/r3e-network/pmserver/internal/obs/metrics"
)

// Server bundles the chi router and the singletons its handlers need.
type Server struct {
	router *chi.Mux

	dispatcher *dispatch.Dispatcher
	breaker    *breaker.Breaker
	db         *sql.DB
	version    string

	onShutdown   func()
	onCheckpoint func(ctx context.Context) (int64, error)
}

// Deps is every dependency New needs to build the router.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Authn      *authn.Resolver
	Breaker    *breaker.Breaker
	DB         *sql.DB // nil in desktop/no-DSN mode
	Metrics    *metrics.Metrics
	Log        *logrus.Logger
	AccessLog  zerolog.Logger
	Version    string
	CORSOrigins []string

	// WebSocket, when set, is mounted at GET /ws: the live duplex
	// transport alongside this REST mirror, sharing one listening port.
	WebSocket http.HandlerFunc

	// OnShutdown, when set, is invoked by POST /admin/shutdown just before
	// the 202 response is written. OnCheckpoint, when set, backs POST
	// /admin/checkpoint.
	OnShutdown   func()
	OnCheckpoint func(ctx context.Context) (int64, error)
}

// New builds the HTTP handler: CORS, access logging, panic recovery, and
// Prometheus instrumentation wrap every route in that order; identity
// resolution wraps only the /api/v1 and /admin routes, inside those four,
// matching the teacher's "auth sees real requests, CORS
// short-circuits preflight before auth, metrics wraps the final handler"
// ordering note.
func New(deps Deps) *Server {
	s := &Server{
		dispatcher:   deps.Dispatcher,
		breaker:      deps.Breaker,
		db:           deps.DB,
		version:      deps.Version,
		onShutdown:   deps.OnShutdown,
		onCheckpoint: deps.OnCheckpoint,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(deps.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(accessLog(deps.AccessLog))
	r.Use(recovery(deps.Log))
	r.Use(instrument(deps.Metrics))

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(identity(deps.Authn))
		s.mountProjects(api)
		s.mountWorkItems(api)
		s.mountSprints(api)
		s.mountComments(api)
		s.mountDependencies(api)
		s.mountTimers(api)
		s.mountActivityLog(api)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(identity(deps.Authn))
		admin.Post("/shutdown", s.shutdown)
		admin.Post("/checkpoint", s.checkpoint)
	})

	s.router = r
	return s
}

func corsOrigins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Service adapts Server into the long-running process the teacher's
// internal/app/httpapi.Service represents: an http.Server this process
// starts and stops as one unit, addressed by host:port.
type Service struct {
	addr   string
	server *http.Server
	log    *logrus.Logger
}

// NewService wraps handler in an *http.Server bound to addr.
func NewService(addr string, handler http.Handler, log *logrus.Logger) *Service {
	return &Service{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		log: log,
	}
}

// Start begins serving in a background goroutine.
func (s *Service) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
