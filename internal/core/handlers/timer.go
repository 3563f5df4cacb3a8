package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/subscription"
	"github.com/r3e-network/pmserver/internal/core/timer"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// TimeEntryStore is the persistence seam for timer/time-entry handlers. It
// embeds timer.Store so internal/core/timer's Start/Stop can run directly
// against it.
type TimeEntryStore interface {
	timer.Store

	GetByID(ctx context.Context, id string) (*timer.Entry, error)
	WorkItemProjectID(ctx context.Context, workItemID string) (string, error)
	SoftDelete(ctx context.Context, id string, log ActivityLog) error
	List(ctx context.Context, workItemID string) ([]timer.Entry, error)
	LogActivity(ctx context.Context, log ActivityLog) error
}

// TimerHandler groups the timer/time-entry handlers and their store.
type TimerHandler struct {
	Store TimeEntryStore
}

// StartTimerRequest is the decoded wire payload for KindStartTimer.
type StartTimerRequest struct {
	WorkItemID  string `json:"work_item_id"`
	Description string `json:"description,omitempty"`
}

// Start implements spec.md §4.12's start(work_item): authorize Edit, then
// atomically stop any timer already running for the caller and start a
// new one, returning both entries.
func (h *TimerHandler) Start(ctx context.Context, rc *RequestContext, req StartTimerRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("work_item_id", req.WorkItemID); err != nil {
		return nil, err
	}
	if req.Description != "" {
		if err := rc.Validator.TimeEntryDescription(req.Description); err != nil {
			return nil, err
		}
	}

	projectID, err := h.Store.WorkItemProjectID(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, projectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	ts := now()
	entry, stopped, err := timer.Start(ctx, h.Store, uuid.NewString(), req.WorkItemID, rc.UserID, validate.TrimmedString(req.Description), ts)
	if err != nil {
		return nil, err
	}

	if stopped != nil {
		h.Store.LogActivity(ctx, ActivityLog{
			ID: uuid.NewString(), EntityType: "time_entry", EntityID: stopped.ID,
			Action: "auto_stopped", ActorID: rc.UserID, CreatedAt: ts,
		})
	}
	startLog := ActivityLog{ID: uuid.NewString(), EntityType: "time_entry", EntityID: entry.ID, Action: "started", ActorID: rc.UserID, CreatedAt: ts}
	h.Store.LogActivity(ctx, startLog)

	broadcastActivityLog(rc, projectID, startLog)
	broadcastEvent(rc, wsproto.KindStartTimer, subscription.ResourceWorkItem, projectID, struct {
		Entry   *timer.Entry `json:"entry"`
		Stopped *timer.Entry `json:"auto_stopped,omitempty"`
	}{Entry: entry, Stopped: stopped})

	return wsproto.Reply(rc.MessageID, wsproto.KindStartTimer, struct {
		Entry   *timer.Entry `json:"entry"`
		Stopped *timer.Entry `json:"auto_stopped,omitempty"`
	}{Entry: entry, Stopped: stopped})
}

// StopTimerRequest is the decoded wire payload for KindStopTimer.
type StopTimerRequest struct {
	TimeEntryID string `json:"time_entry_id"`
}

// Stop is owner-only and rejects an already-stopped timer as a conflict.
func (h *TimerHandler) Stop(ctx context.Context, rc *RequestContext, req StopTimerRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("time_entry_id", req.TimeEntryID); err != nil {
		return nil, err
	}

	var cached timer.Entry
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindStopTimer, &cached)
	}

	entry, err := h.Store.GetByID(ctx, req.TimeEntryID)
	if err != nil {
		return nil, wsproto.NotFound("time entry")
	}

	if err := timer.Stop(ctx, h.Store, entry, rc.UserID, now()); err != nil {
		return nil, err
	}

	projectID, _ := h.Store.WorkItemProjectID(ctx, entry.WorkItemID)

	log := ActivityLog{ID: uuid.NewString(), EntityType: "time_entry", EntityID: entry.ID, Action: "stopped", ActorID: rc.UserID, CreatedAt: now()}
	h.Store.LogActivity(ctx, log)
	broadcastActivityLog(rc, projectID, log)
	broadcastEvent(rc, wsproto.KindStopTimer, subscription.ResourceWorkItem, projectID, entry)
	storeIdempotency(ctx, rc, entry)

	return wsproto.Reply(rc.MessageID, wsproto.KindStopTimer, entry)
}

// CreateTimeEntryRequest is the decoded wire payload for KindCreateTimeEntry
// (manual time entry, fully bounded).
type CreateTimeEntryRequest struct {
	WorkItemID  string `json:"work_item_id"`
	Description string `json:"description,omitempty"`
	StartedAt   int64  `json:"started_at"`
	EndedAt     int64  `json:"ended_at"`
}

// Create implements spec.md §4.12's create_manual: both ends present,
// started < ended, duration ≤ 24h, ended within 60s of the future.
func (h *TimerHandler) Create(ctx context.Context, rc *RequestContext, req CreateTimeEntryRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("work_item_id", req.WorkItemID); err != nil {
		return nil, err
	}
	if req.Description != "" {
		if err := rc.Validator.TimeEntryDescription(req.Description); err != nil {
			return nil, err
		}
	}
	start := unixToTime(req.StartedAt)
	end := unixToTime(req.EndedAt)
	if err := validate.ManualTimeEntry(start, end); err != nil {
		return nil, err
	}

	var cached timer.Entry
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindCreateTimeEntry, &cached)
	}

	projectID, err := h.Store.WorkItemProjectID(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, projectID, authz.RoleEdit); err != nil {
		return nil, err
	}

	duration := int(end.Sub(start).Seconds())
	entry := &timer.Entry{
		ID:              uuid.NewString(),
		WorkItemID:      req.WorkItemID,
		UserID:          rc.UserID,
		Description:     validate.TrimmedString(req.Description),
		StartedAt:       start,
		EndedAt:         &end,
		DurationSeconds: &duration,
	}
	if err := h.Store.Create(ctx, entry); err != nil {
		return nil, wsproto.Internal("could not create time entry", true, err)
	}

	log := ActivityLog{ID: uuid.NewString(), EntityType: "time_entry", EntityID: entry.ID, Action: "created", ActorID: rc.UserID, CreatedAt: now()}
	h.Store.LogActivity(ctx, log)
	broadcastActivityLog(rc, projectID, log)
	broadcastEvent(rc, wsproto.KindCreateTimeEntry, subscription.ResourceWorkItem, projectID, entry)
	storeIdempotency(ctx, rc, entry)

	return wsproto.Reply(rc.MessageID, wsproto.KindCreateTimeEntry, entry)
}

// UpdateTimeEntryRequest is the decoded wire payload for KindUpdateTimeEntry.
type UpdateTimeEntryRequest struct {
	TimeEntryID string `json:"time_entry_id"`
	Description string `json:"description,omitempty"`
	StartedAt   int64  `json:"started_at,omitempty"`
	EndedAt     int64  `json:"ended_at,omitempty"`
}

// Update is owner-only; validation is rerun on the full final tuple.
func (h *TimerHandler) Update(ctx context.Context, rc *RequestContext, req UpdateTimeEntryRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("time_entry_id", req.TimeEntryID); err != nil {
		return nil, err
	}

	var cached timer.Entry
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindUpdateTimeEntry, &cached)
	}

	entry, err := h.Store.GetByID(ctx, req.TimeEntryID)
	if err != nil {
		return nil, wsproto.NotFound("time entry")
	}
	if err := authz.CheckOwner(rc.UserID, entry.UserID); err != nil {
		return nil, err
	}

	projectID, _ := h.Store.WorkItemProjectID(ctx, entry.WorkItemID)

	start := entry.StartedAt
	if req.StartedAt != 0 {
		start = unixToTime(req.StartedAt)
	}
	end := start
	if entry.EndedAt != nil {
		end = *entry.EndedAt
	}
	if req.EndedAt != 0 {
		end = unixToTime(req.EndedAt)
	}
	if err := validate.ManualTimeEntry(start, end); err != nil {
		return nil, err
	}
	description := entry.Description
	if req.Description != "" {
		if err := rc.Validator.TimeEntryDescription(req.Description); err != nil {
			return nil, err
		}
		description = validate.TrimmedString(req.Description)
	}

	duration := int(end.Sub(start).Seconds())
	entry.StartedAt = start
	entry.EndedAt = &end
	entry.DurationSeconds = &duration
	entry.Description = description

	if err := h.Store.Update(ctx, entry); err != nil {
		return nil, wsproto.Internal("could not update time entry", true, err)
	}

	log := ActivityLog{ID: uuid.NewString(), EntityType: "time_entry", EntityID: entry.ID, Action: "updated", ActorID: rc.UserID, CreatedAt: now()}
	h.Store.LogActivity(ctx, log)
	broadcastActivityLog(rc, projectID, log)
	broadcastEvent(rc, wsproto.KindUpdateTimeEntry, subscription.ResourceWorkItem, projectID, entry)
	storeIdempotency(ctx, rc, entry)

	return wsproto.Reply(rc.MessageID, wsproto.KindUpdateTimeEntry, entry)
}

// DeleteTimeEntryRequest is the decoded wire payload for KindDeleteTimeEntry.
type DeleteTimeEntryRequest struct {
	TimeEntryID string `json:"time_entry_id"`
}

// Delete is owner-only and soft-deletes.
func (h *TimerHandler) Delete(ctx context.Context, rc *RequestContext, req DeleteTimeEntryRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("time_entry_id", req.TimeEntryID); err != nil {
		return nil, err
	}

	var cached struct {
		TimeEntryID string `json:"time_entry_id"`
	}
	if hit, err := checkIdempotency(ctx, rc, &cached); err != nil {
		return nil, err
	} else if hit {
		return wsproto.Reply(rc.MessageID, wsproto.KindDeleteTimeEntry, &cached)
	}

	entry, err := h.Store.GetByID(ctx, req.TimeEntryID)
	if err != nil {
		return nil, wsproto.NotFound("time entry")
	}
	if err := authz.CheckOwner(rc.UserID, entry.UserID); err != nil {
		return nil, err
	}

	projectID, _ := h.Store.WorkItemProjectID(ctx, entry.WorkItemID)

	log := ActivityLog{ID: uuid.NewString(), EntityType: "time_entry", EntityID: entry.ID, Action: "deleted", ActorID: rc.UserID, CreatedAt: now()}
	if err := h.Store.SoftDelete(ctx, entry.ID, log); err != nil {
		return nil, wsproto.Internal("could not delete time entry", true, err)
	}

	broadcastActivityLog(rc, projectID, log)

	resp := struct {
		TimeEntryID string `json:"time_entry_id"`
	}{TimeEntryID: entry.ID}
	storeIdempotency(ctx, rc, resp)

	return wsproto.Reply(rc.MessageID, wsproto.KindDeleteTimeEntry, resp)
}

// GetTimeEntriesRequest is the decoded wire payload for KindGetTimeEntries.
type GetTimeEntriesRequest struct {
	WorkItemID string `json:"work_item_id"`
}

// Get lists a work item's time entries, requiring View on its project.
func (h *TimerHandler) Get(ctx context.Context, rc *RequestContext, req GetTimeEntriesRequest) (*wsproto.Envelope, error) {
	if err := validate.UUID("work_item_id", req.WorkItemID); err != nil {
		return nil, err
	}
	projectID, err := h.Store.WorkItemProjectID(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.NotFound("work item")
	}
	if err := rc.Authz.CheckPermission(ctx, rc.UserID, projectID, authz.RoleView); err != nil {
		return nil, err
	}
	entries, err := h.Store.List(ctx, req.WorkItemID)
	if err != nil {
		return nil, wsproto.Internal("could not list time entries", true, err)
	}
	return wsproto.Reply(rc.MessageID, wsproto.KindGetTimeEntries, struct {
		TimeEntries []timer.Entry `json:"time_entries"`
	}{TimeEntries: entries})
}

// GetRunning replies with the caller's own running timer, if any. It
// needs no project authorization: it is always scoped to the caller.
func (h *TimerHandler) GetRunning(ctx context.Context, rc *RequestContext) (*wsproto.Envelope, error) {
	entry, err := h.Store.FindRunning(ctx, rc.UserID)
	if err != nil {
		return nil, wsproto.Internal("could not look up running timer", true, err)
	}
	return wsproto.Reply(rc.MessageID, wsproto.KindGetRunningTimer, struct {
		Entry *timer.Entry `json:"entry"`
	}{Entry: entry})
}
