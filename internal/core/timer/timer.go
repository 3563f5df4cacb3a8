// Package timer implements the start/stop semantics for running time
// entries, per spec.md §4.14. Grounded on original_source's
// handlers/time_entry.rs (handle_start_timer, handle_stop_timer): starting
// a new timer atomically stops any timer already running for that user,
// and only the owning user may stop their own timer.
package timer

import (
	"context"
	"time"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// Entry is the minimal time-entry shape this package operates on. Tags
// match spec.md §6's snake_case wire convention since handlers marshal
// this struct directly into reply/broadcast payloads.
type Entry struct {
	ID              string     `json:"id"`
	WorkItemID      string     `json:"work_item_id"`
	UserID          string     `json:"user_id"`
	Description     string     `json:"description,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
}

// Running reports whether the entry is still an open timer.
func (e *Entry) Running() bool { return e.EndedAt == nil }

// Store is the persistence seam this package needs. Implementations live in
// internal/store and are expected to run FindRunning+Update+Create inside a
// single transaction for Start, mirroring the original's db_write block.
type Store interface {
	FindRunning(ctx context.Context, userID string) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	Create(ctx context.Context, e *Entry) error
}

// Start stops any timer already running for userID and creates a new one on
// workItemID, returning the new entry and the stopped entry (nil if none was
// running). Callers are expected to run this inside a transaction via the
// Store implementation so the stop-then-start is atomic.
func Start(ctx context.Context, store Store, newID, workItemID, userID, description string, now time.Time) (*Entry, *Entry, error) {
	running, err := store.FindRunning(ctx, userID)
	if err != nil {
		return nil, nil, wsproto.Internal("could not look up running timer", true, err)
	}

	var stopped *Entry
	if running != nil {
		endedAt := now
		duration := int(endedAt.Sub(running.StartedAt).Seconds())
		running.EndedAt = &endedAt
		running.DurationSeconds = &duration
		if err := store.Update(ctx, running); err != nil {
			return nil, nil, wsproto.Internal("could not auto-stop previous timer", true, err)
		}
		stopped = running
	}

	entry := &Entry{
		ID:          newID,
		WorkItemID:  workItemID,
		UserID:      userID,
		Description: description,
		StartedAt:   now,
	}
	if err := store.Create(ctx, entry); err != nil {
		return nil, nil, wsproto.Internal("could not create timer", true, err)
	}

	return entry, stopped, nil
}

// Stop ends a running timer. Only the user who started it may stop it, and
// a timer that is already stopped is rejected as a conflict rather than
// silently accepted (duplicate StopTimer messages are instead absorbed by
// the idempotency store keyed on message_id, one layer up).
func Stop(ctx context.Context, store Store, entry *Entry, callerUserID string, now time.Time) error {
	if entry.UserID != callerUserID {
		return wsproto.Unauthorized()
	}
	if !entry.Running() {
		return wsproto.Conflict("this timer is already stopped")
	}

	endedAt := now
	duration := int(endedAt.Sub(entry.StartedAt).Seconds())
	entry.EndedAt = &endedAt
	entry.DurationSeconds = &duration

	if err := store.Update(ctx, entry); err != nil {
		return wsproto.Internal("could not stop timer", true, err)
	}
	return nil
}
