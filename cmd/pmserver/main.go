// Command pmserver is the connection-and-messaging core's entry point: it
// loads configuration, opens a database (or falls back to the in-memory
// store when no DSN is configured), wires every shared singleton, and
// serves the REST mirror and the live websocket transport on one port,
// grounded on cmd/appserver/main.go's flag/config/signal-handling shape.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/pmserver/internal/core/authn"
	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/breaker"
	"github.com/r3e-network/pmserver/internal/core/broadcast"
	"github.com/r3e-network/pmserver/internal/core/handlers"
	"github.com/r3e-network/pmserver/internal/core/idempotency"
	"github.com/r3e-network/pmserver/internal/core/ratelimit"
	"github.com/r3e-network/pmserver/internal/core/registry"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/httpapi"
	"github.com/r3e-network/pmserver/internal/platform/lifecycle"
	"github.com/r3e-network/pmserver/internal/platform/migrations"
	"github.com/r3e-network/pmserver/internal/store/memory"
	"github.com/r3e-network/pmserver/internal/store/postgres"
	"github.com/r3e-network/pmserver/internal/transport/wsocket"
	"github.com/r3e-network/pmserver/internal/wiring"
	"github.com/r3e-network/pmserver/internal/obs/metrics"
	"github.com/r3e-network/pmserver/pkg/config"
	applog "github.com/r3e-network/pmserver/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "HTTP/websocket listen address (overrides config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	runMigrations := flag.Bool("migrate", true, "apply embedded database migrations on startup")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := applog.New(applog.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	accessLog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	dsnVal := resolveDSN(*dsn, cfg)

	services, db, cb, closeStore, err := buildServices(rootCtx, cfg, dsnVal, *runMigrations, log.Logger)
	if err != nil {
		log.Fatalf("build services: %v", err)
	}
	defer closeStore()

	dispatcher := wiring.BuildDispatcher(services)

	m := metrics.New("pmserver")

	authnResolver := authn.New(authn.Config{
		Enabled:       cfg.Auth.Enabled,
		JWTSecret:     cfg.Auth.JWTSecret,
		DesktopUserID: cfg.Auth.DesktopUserID,
		DesktopTenant: cfg.Auth.DesktopTenant,
	})

	wsServer := wsocket.New(wsocket.Deps{
		Registry:    registry.New(registry.Config{MaxTotal: cfg.Server.MaxConnections, MaxPerTenant: cfg.Server.MaxConnections}),
		Broadcaster: services.Broadcaster,
		Dispatcher:  dispatcher,
		Authn:       authnResolver,
		RateLimit: ratelimit.Config{
			MaxRequests:        cfg.RateLimit.MaxRequests,
			WindowSecs:         cfg.RateLimit.WindowSecs,
			ViolationThreshold: cfg.RateLimit.ViolationThreshold,
		},
		Config: wsocket.Config{
			SendBufferSize:    cfg.WebSocket.SendBufferSize,
			HeartbeatInterval: time.Duration(cfg.WebSocket.HeartbeatIntervalSec) * time.Second,
			HeartbeatTimeout:  time.Duration(cfg.WebSocket.HeartbeatTimeoutSec) * time.Second,
		},
		Log:     log.Logger,
		Metrics: m,
	})

	api := httpapi.New(httpapi.Deps{
		Dispatcher:  dispatcher,
		Authn:       authnResolver,
		Breaker:     cb,
		DB:          db,
		Metrics:     m,
		Log:         log.Logger,
		AccessLog:   accessLog,
		Version:     "1.0.0",
		CORSOrigins: nil,
		WebSocket:   wsServer.ServeHTTP,
		OnShutdown: func() {
			cancelRoot()
		},
		OnCheckpoint: func(ctx context.Context) (int64, error) {
			if direct, ok := services.Idempotency.(idempotency.Direct); ok {
				return direct.Reap(ctx)
			}
			return 0, nil
		},
	})

	listenAddr := determineAddr(*addr, cfg)
	httpService := httpapi.NewService(listenAddr, api, log.Logger)
	httpService.Start()

	configDir := configDirectory()
	lock, err := lifecycle.AcquireLock(configDir, cfg.Server.Port)
	if err != nil {
		log.Fatalf("acquire lock file: %v", err)
	}
	defer lock.Release()

	portFilePath, err := lifecycle.WritePortFile(configDir, lifecycle.NewPortFileInfo(cfg.Server.Port, cfg.Server.Host, "1.0.0"))
	if err != nil {
		log.Fatalf("write port file: %v", err)
	}
	defer lifecycle.RemovePortFile(configDir)

	log.WithField("addr", listenAddr).WithField("port_file", portFilePath).Info("pmserver listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("received shutdown signal")
	case <-rootCtx.Done():
		log.Info("shutdown requested via admin endpoint")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpService.Stop(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown: %v", err)
	}
}

// buildServices opens the configured store (postgres when a DSN is
// present, the in-memory desktop store otherwise) and wires every shared
// singleton every handler needs into a *wiring.Services. The returned
// close func releases the database pool, if one was opened.
func buildServices(ctx context.Context, cfg *config.Config, dsn string, migrate bool, log *logrus.Logger) (*wiring.Services, *sql.DB, *breaker.Breaker, func(), error) {
	cb := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           time.Duration(cfg.Breaker.WindowSecs) * time.Second,
		OpenDuration:     time.Duration(cfg.Breaker.OpenDurationSecs) * time.Second,
		HalfOpenSuccess:  cfg.Breaker.HalfOpenSuccess,
	})

	validator := validate.New(validate.Config{
		MaxTitle:        cfg.Validation.MaxTitle,
		MaxDescription:  cfg.Validation.MaxDescription,
		MaxComment:      cfg.Validation.MaxComment,
		MaxSprintName:   cfg.Validation.MaxSprintName,
		MaxStoryPoints:  cfg.Validation.MaxStoryPoints,
		MaxErrorMessage: cfg.Validation.MaxErrorMessage,
	})
	bc := broadcast.New(broadcast.DefaultCapacity, func(tenant, subscriberID string, dropped int) {
		log.WithField("tenant", tenant).WithField("subscriber", subscriberID).WithField("dropped", dropped).Warn("broadcast subscriber lagging, message dropped")
	})

	if strings.TrimSpace(dsn) == "" {
		store := memory.New()
		services := &wiring.Services{
			DB:          nil,
			Idempotency: memory.IdempotencyAdapter{Store: store},
			Authz:       authz.New(store, store),
			Validator:   validator,
			Broadcaster: bc,
			Log:         log,
			Projects:     &handlers.ProjectHandler{Store: memory.ProjectStoreAdapter{Store: store}},
			WorkItems:    &handlers.WorkItemHandler{Store: memory.WorkItemStoreAdapter{Store: store}},
			Sprints:      &handlers.SprintHandler{Store: memory.SprintStoreAdapter{Store: store}},
			Comments:     &handlers.CommentHandler{Store: memory.CommentStoreAdapter{Store: store}},
			Dependencies: &handlers.DependencyHandler{Store: memory.DependencyStoreAdapter{Store: store}},
			Timers:       &handlers.TimerHandler{Store: memory.TimeEntryStoreAdapter{Store: store}},
			ActivityLog:  &handlers.ActivityLogHandler{Store: memory.ActivityLogStoreAdapter{Store: store}},
			WorkItemStore:   memory.WorkItemStoreAdapter{Store: store},
			DependencyStore: memory.DependencyStoreAdapter{Store: store},
		}
		return services, nil, cb, func() {}, nil
	}

	db, err := postgres.Open(dsn, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, time.Duration(cfg.Database.ConnMaxLifetime)*time.Second)
	if err != nil {
		return nil, nil, nil, func() {}, fmt.Errorf("open postgres: %w", err)
	}
	if migrate && cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, db.DB); err != nil {
			db.Close()
			return nil, nil, nil, func() {}, fmt.Errorf("apply migrations: %w", err)
		}
	}

	store := postgres.New(db, cb)
	idem := idempotency.New(db.DB, idempotency.DefaultRetentionWindow)

	services := &wiring.Services{
		DB:          db.DB,
		Idempotency: idempotency.Direct{Store: idem},
		Authz:       authz.New(store, store),
		Validator:   validator,
		Broadcaster: bc,
		Log:         log,
		Projects:     &handlers.ProjectHandler{Store: postgres.ProjectStoreAdapter{Store: store}},
		WorkItems:    &handlers.WorkItemHandler{Store: postgres.WorkItemStoreAdapter{Store: store}},
		Sprints:      &handlers.SprintHandler{Store: postgres.SprintStoreAdapter{Store: store}},
		Comments:     &handlers.CommentHandler{Store: postgres.CommentStoreAdapter{Store: store}},
		Dependencies: &handlers.DependencyHandler{Store: postgres.DependencyStoreAdapter{Store: store}},
		Timers:       &handlers.TimerHandler{Store: postgres.TimeEntryStoreAdapter{Store: store}},
		ActivityLog:  &handlers.ActivityLogHandler{Store: postgres.ActivityLogStoreAdapter{Store: store}},
		WorkItemStore:   postgres.WorkItemStoreAdapter{Store: store},
		DependencyStore: postgres.DependencyStoreAdapter{Store: store},
	}
	return services, db.DB, cb, func() { db.Close() }, nil
}

func loadConfig(path string) (*config.Config, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return config.LoadFile(trimmed)
	}
	return config.Load()
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	return strings.TrimSpace(cfg.Database.DSN)
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagAddr); trimmed != "" {
		return trimmed
	}
	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8000
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func configDirectory() string {
	if dir := strings.TrimSpace(os.Getenv("PMSERVER_CONFIG_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/.pmserver"
}
