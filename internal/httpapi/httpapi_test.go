package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/pmserver/internal/core/authn"
	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/breaker"
	"github.com/r3e-network/pmserver/internal/core/broadcast"
	"github.com/r3e-network/pmserver/internal/core/handlers"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/obs/metrics"
	"github.com/r3e-network/pmserver/internal/store/memory"
	"github.com/r3e-network/pmserver/internal/wiring"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	store := memory.New()
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})

	svc := &wiring.Services{
		Idempotency: memory.IdempotencyAdapter{Store: store},
		Authz:       authz.New(store, store),
		Validator:   validate.New(validate.DefaultConfig()),
		Broadcaster: broadcast.New(broadcast.DefaultCapacity, func(string, string, int) {}),
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

	deps := Deps{
		Dispatcher: wiring.BuildDispatcher(svc),
		Authn:      authn.New(authn.Config{Enabled: false, DesktopUserID: "local-user", DesktopTenant: "local"}),
		Breaker:    breaker.New(breaker.DefaultConfig()),
		DB:         nil,
		Metrics:    metrics.NewWithRegistry("pmserver-test", nil),
		Log:        log,
		AccessLog:  zerolog.Nop(),
		Version:    "test",
	}
	return New(deps)
}

func TestHealthAndReady(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /ready with no database configured, got %d", rec.Code)
	}
}

func TestCreateAndListProjects(t *testing.T) {
	s := testServer(t)

	body, _ := json.Marshal(map[string]string{
		"key": "ENG", "name": "Engineering", "description": "core team",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 creating project, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing projects, got %d", rec.Code)
	}

	var listed struct {
		Projects []handlers.Project `json:"projects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode projects: %v", err)
	}
	if len(listed.Projects) != 1 || listed.Projects[0].Key != "ENG" {
		t.Fatalf("expected one ENG project, got %+v", listed.Projects)
	}
}

func TestCreateProjectValidationError(t *testing.T) {
	s := testServer(t)

	body, _ := json.Marshal(map[string]string{"key": "", "name": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty project fields, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %q", resp.Error.Code)
	}
}

func TestDeleteMissingProjectIsNotFound(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/projects/00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
