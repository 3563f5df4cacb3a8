// Package handlers implements one handler per wire message kind, each
// following the fixed write-path sequence from spec.md §4.9: validate,
// parse ids, idempotency check, load context, authorize, preconditions,
// transaction, broadcast, idempotency store, reply. Grounded on
// original_source's backend/crates/pm-ws/src/handlers/*.rs, one file per
// entity mirroring that crate's layout (work_item.rs, project.rs,
// sprint.rs, comment.rs, dependency.rs, time_entry.rs, activity_log.rs).
package handlers

import "time"

// WorkItem is the domain shape ported from pm-core's WorkItem model. Field
// tags match spec.md §6's snake_case wire convention since these structs
// are marshaled directly into reply/broadcast payloads, not just requests.
type WorkItem struct {
	ID          string     `json:"id"`
	ItemType    string     `json:"item_type"` // epic | story | task
	ParentID    string     `json:"parent_id,omitempty"`
	ProjectID   string     `json:"project_id"`
	Position    int        `json:"position"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	StoryPoints *int       `json:"story_points,omitempty"`
	SprintID    string     `json:"sprint_id,omitempty"`
	ItemNumber  int        `json:"item_number"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CreatedBy   string     `json:"created_by"`
	UpdatedBy   string     `json:"updated_by"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Project is the domain shape ported from pm-core's Project model.
type Project struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"` // active | archived
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CreatedBy   string     `json:"created_by"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Sprint is the domain shape ported from pm-core's Sprint model.
type Sprint struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	Status    string     `json:"status"` // planned | active | completed | cancelled
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	CreatedBy string     `json:"created_by"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Comment is the domain shape ported from pm-core's Comment model.
type Comment struct {
	ID         string     `json:"id"`
	WorkItemID string     `json:"work_item_id"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	CreatedBy  string     `json:"created_by"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// FieldChange records one field's before/after value for an ActivityLog row.
type FieldChange struct {
	FieldName string  `json:"field_name"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
}

// ActivityLog is the audit row written alongside every mutation.
type ActivityLog struct {
	ID         string        `json:"id"`
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Action     string        `json:"action"` // created | updated | deleted
	Changes    []FieldChange `json:"changes"`
	ActorID    string        `json:"actor_id"`
	CreatedAt  time.Time     `json:"created_at"`
}
