package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/r3e-network/pmserver/internal/core/handlers"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// dispatchJSON marshals req (nil for a bare query), wraps it in a fresh
// envelope of kind, runs it through the shared dispatcher, and writes the
// resulting envelope as the HTTP response. This is the one seam every
// REST route in this package goes through, so the websocket and REST
// surfaces can never drift: both call the same handlers.
func (s *Server) dispatchJSON(w http.ResponseWriter, r *http.Request, kind wsproto.Kind, req any) {
	var payload json.RawMessage
	if req != nil {
		raw, err := json.Marshal(req)
		if err != nil {
			writeDecodeError(w, "", err)
			return
		}
		payload = raw
	}
	env := &wsproto.Envelope{
		MessageID: wsproto.NewMessageID(),
		Timestamp: wsproto.Now(),
		Kind:      kind,
		Payload:   payload,
	}
	writeEnvelope(w, s.dispatcher.Dispatch(r.Context(), env))
}

// decodeBody decodes the request body into a value of type T, writing a
// DECODE_ERROR response and returning ok=false on failure.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if r.Body == nil || r.ContentLength == 0 {
		return v, true
	}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeDecodeError(w, "", err)
		return v, false
	}
	return v, true
}

func (s *Server) mountProjects(api chi.Router) {
	api.Get("/projects", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindListProjects, nil)
	})
	api.Post("/projects", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.CreateProjectRequest](w, r)
		if !ok {
			return
		}
		s.dispatchJSON(w, r, wsproto.KindCreateProject, req)
	})
	api.Put("/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.UpdateProjectRequest](w, r)
		if !ok {
			return
		}
		req.ProjectID = chi.URLParam(r, "id")
		s.dispatchJSON(w, r, wsproto.KindUpdateProject, req)
	})
	api.Delete("/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindDeleteProject, handlers.DeleteProjectRequest{
			ProjectID: chi.URLParam(r, "id"),
		})
	})
}

func (s *Server) mountWorkItems(api chi.Router) {
	api.Get("/work-items", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindGetWorkItems, handlers.GetWorkItemsRequest{
			ProjectID: r.URL.Query().Get("project_id"),
		})
	})
	api.Post("/work-items", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.CreateWorkItemRequest](w, r)
		if !ok {
			return
		}
		s.dispatchJSON(w, r, wsproto.KindCreateWorkItem, req)
	})
	api.Put("/work-items/{id}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.UpdateWorkItemRequest](w, r)
		if !ok {
			return
		}
		req.WorkItemID = chi.URLParam(r, "id")
		s.dispatchJSON(w, r, wsproto.KindUpdateWorkItem, req)
	})
	api.Delete("/work-items/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindDeleteWorkItem, handlers.DeleteWorkItemRequest{
			WorkItemID: chi.URLParam(r, "id"),
		})
	})
}

func (s *Server) mountSprints(api chi.Router) {
	api.Get("/sprints", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindGetSprint, handlers.GetSprintRequest{
			ProjectID: r.URL.Query().Get("project_id"),
		})
	})
	api.Post("/sprints", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.CreateSprintRequest](w, r)
		if !ok {
			return
		}
		s.dispatchJSON(w, r, wsproto.KindCreateSprint, req)
	})
	api.Put("/sprints/{id}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.UpdateSprintRequest](w, r)
		if !ok {
			return
		}
		req.SprintID = chi.URLParam(r, "id")
		s.dispatchJSON(w, r, wsproto.KindUpdateSprint, req)
	})
	api.Delete("/sprints/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindDeleteSprint, handlers.DeleteSprintRequest{
			SprintID: chi.URLParam(r, "id"),
		})
	})
}

func (s *Server) mountComments(api chi.Router) {
	api.Get("/comments", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindGetComments, handlers.GetCommentsRequest{
			WorkItemID: r.URL.Query().Get("work_item_id"),
		})
	})
	api.Post("/comments", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.CreateCommentRequest](w, r)
		if !ok {
			return
		}
		s.dispatchJSON(w, r, wsproto.KindCreateComment, req)
	})
	api.Put("/comments/{id}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.UpdateCommentRequest](w, r)
		if !ok {
			return
		}
		req.CommentID = chi.URLParam(r, "id")
		s.dispatchJSON(w, r, wsproto.KindUpdateComment, req)
	})
	api.Delete("/comments/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindDeleteComment, handlers.DeleteCommentRequest{
			CommentID: chi.URLParam(r, "id"),
		})
	})
}

func (s *Server) mountDependencies(api chi.Router) {
	api.Get("/dependencies", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindGetDependencies, handlers.GetDependenciesRequest{
			WorkItemID: r.URL.Query().Get("work_item_id"),
		})
	})
	api.Post("/dependencies", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.CreateDependencyRequest](w, r)
		if !ok {
			return
		}
		s.dispatchJSON(w, r, wsproto.KindCreateDependency, req)
	})
	api.Delete("/dependencies/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindDeleteDependency, handlers.DeleteDependencyRequest{
			DependencyID: chi.URLParam(r, "id"),
		})
	})
}

func (s *Server) mountTimers(api chi.Router) {
	api.Get("/time-entries", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindGetTimeEntries, handlers.GetTimeEntriesRequest{
			WorkItemID: r.URL.Query().Get("work_item_id"),
		})
	})
	api.Get("/time-entries/running", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindGetRunningTimer, nil)
	})
	api.Post("/time-entries", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.CreateTimeEntryRequest](w, r)
		if !ok {
			return
		}
		s.dispatchJSON(w, r, wsproto.KindCreateTimeEntry, req)
	})
	api.Put("/time-entries/{id}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.UpdateTimeEntryRequest](w, r)
		if !ok {
			return
		}
		req.TimeEntryID = chi.URLParam(r, "id")
		s.dispatchJSON(w, r, wsproto.KindUpdateTimeEntry, req)
	})
	api.Delete("/time-entries/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindDeleteTimeEntry, handlers.DeleteTimeEntryRequest{
			TimeEntryID: chi.URLParam(r, "id"),
		})
	})
	api.Post("/timers/start", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[handlers.StartTimerRequest](w, r)
		if !ok {
			return
		}
		s.dispatchJSON(w, r, wsproto.KindStartTimer, req)
	})
	api.Post("/timers/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		s.dispatchJSON(w, r, wsproto.KindStopTimer, handlers.StopTimerRequest{
			TimeEntryID: chi.URLParam(r, "id"),
		})
	})
}

func (s *Server) mountActivityLog(api chi.Router) {
	api.Get("/activity-log", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		s.dispatchJSON(w, r, wsproto.KindGetActivityLog, handlers.GetActivityLogRequest{
			ProjectID: r.URL.Query().Get("project_id"),
			Limit:     limit,
		})
	})
}
