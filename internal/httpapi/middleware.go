package httpapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/pmserver/internal/core/authn"
	"github.com/r3e-network/pmserver/internal/core/conn"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
	"github.com/r3e-network/pmserver/internal/obs/metrics"
)

// recovery recovers a panicking handler, logs the stack at error level,
// and writes an INTERNAL_ERROR envelope instead of letting net/http close
// the connection bare, grounded on infrastructure/middleware/recovery.go's
// RecoveryMiddleware.Handler shape.
func recovery(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(logrus.Fields{
						"panic":  fmt.Sprintf("%v", rec),
						"stack":  string(debug.Stack()),
						"path":   r.URL.Path,
						"method": r.Method,
					}).Error("panic recovered in http handler")
					writeJSON(w, http.StatusInternalServerError, errorResponse{Error: wsproto.Frame{
						Code:    wsproto.CodeInternalError,
						Message: "internal server error",
					}})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// accessLog emits one structured zerolog line per request with status and
// elapsed time, separate from the application's logrus logger per
// SPEC_FULL's domain stack entry for zerolog.
func accessLog(access zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			access.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		})
	}
}

// instrument records every request's outcome into Prometheus, grounded on
// infrastructure/metrics.Metrics.RecordHTTPRequest's shape.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			m.RecordHTTPRequest(r.Method, routePattern(r), fmt.Sprintf("%d", ww.Status()), time.Since(start))
		})
	}
}

// routePattern prefers chi's matched route template ("/api/v1/projects/{id}")
// over the raw path so metric label cardinality doesn't explode on ids.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// identity resolves the caller (tenant, user) for an HTTP request: a
// bearer token when auth is enabled, or the X-User-Id header overriding
// the desktop identity when auth is disabled, per spec.md §6 ("An
// X-User-Id header supplies the caller when auth is disabled").
func identity(resolver *authn.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			id, err := resolver.ResolveToken(token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: wsproto.Frame{
					Code:    wsproto.CodeUnauthorized,
					Message: "missing or invalid bearer token",
				}})
				return
			}
			if userID := r.Header.Get("X-User-Id"); userID != "" && token == "" {
				id.UserID = userID
			}
			ctx := conn.WithIdentity(r.Context(), conn.Identity{Tenant: id.Tenant, UserID: id.UserID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
