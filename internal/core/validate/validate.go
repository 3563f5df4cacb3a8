// Package validate implements the length, charset, and range checks run
// against every external input before any database work happens, per
// spec.md §4.13. Ported from original_source's message_validator.rs.
package validate

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// Config holds the configurable bound caps from spec.md §6's
// validation.max_* options.
type Config struct {
	MaxTitle       int
	MaxDescription int
	MaxComment     int
	MaxSprintName  int
	MaxStoryPoints int
	MaxErrorMessage int
}

// DefaultConfig matches spec.md §4.13's default caps.
func DefaultConfig() Config {
	return Config{
		MaxTitle:        200,
		MaxDescription:  10000,
		MaxComment:      5000,
		MaxSprintName:   100,
		MaxStoryPoints:  100,
		MaxErrorMessage: 200,
	}
}

const maxTimeEntryDescription = 1000
const maxDependencyDepth = 100
const maxDependencyFanout = 50

// Status and priority are closed sets, per spec.md §4.13.
var validStatuses = map[string]bool{
	"backlog": true, "todo": true, "in_progress": true,
	"review": true, "done": true, "blocked": true,
}

var validPriorities = map[string]bool{
	"low": true, "medium": true, "high": true, "critical": true,
}

// Validator runs the bounded checks for every wire request shape.
type Validator struct {
	cfg Config
}

// New builds a Validator with cfg; zero fields fall back to DefaultConfig.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MaxTitle <= 0 {
		cfg.MaxTitle = def.MaxTitle
	}
	if cfg.MaxDescription <= 0 {
		cfg.MaxDescription = def.MaxDescription
	}
	if cfg.MaxComment <= 0 {
		cfg.MaxComment = def.MaxComment
	}
	if cfg.MaxSprintName <= 0 {
		cfg.MaxSprintName = def.MaxSprintName
	}
	if cfg.MaxStoryPoints <= 0 {
		cfg.MaxStoryPoints = def.MaxStoryPoints
	}
	if cfg.MaxErrorMessage <= 0 {
		cfg.MaxErrorMessage = def.MaxErrorMessage
	}
	return &Validator{cfg: cfg}
}

// TrimmedString trims leading/trailing whitespace, per spec.md §4.13's
// "all strings are trimmed of leading/trailing whitespace before storage".
func TrimmedString(s string) string {
	return strings.TrimSpace(s)
}

// UUID validates that s parses as a UUID, matching the original's 36-char
// string check but using a real parser instead of a length check alone.
func UUID(field, s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return wsproto.Validation("invalid id format").WithField(field)
	}
	return nil
}

// boundedString enforces [min, max] length in Unicode scalar count, not
// bytes, per spec.md §4.13.
func boundedString(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min {
		return wsproto.Validation(field + " is too short").WithField(field)
	}
	if n > max {
		return wsproto.Validation(field + " exceeds maximum length").WithField(field)
	}
	return nil
}

// Title validates a work item / project title: 1-MaxTitle runes.
func (v *Validator) Title(title string) error {
	return boundedString("title", TrimmedString(title), 1, v.cfg.MaxTitle)
}

// Description validates an optional description field.
func (v *Validator) Description(description string) error {
	if description == "" {
		return nil
	}
	return boundedString("description", description, 0, v.cfg.MaxDescription)
}

// CommentContent validates comment body text.
func (v *Validator) CommentContent(content string) error {
	return boundedString("content", TrimmedString(content), 1, v.cfg.MaxComment)
}

// SprintName validates a sprint name.
func (v *Validator) SprintName(name string) error {
	return boundedString("name", TrimmedString(name), 1, v.cfg.MaxSprintName)
}

// TimeEntryDescription validates a time entry's optional description.
func (v *Validator) TimeEntryDescription(description string) error {
	if description == "" {
		return nil
	}
	return boundedString("description", description, 0, maxTimeEntryDescription)
}

// ErrorMessage validates the message field of a framed error, mostly
// useful when constructing one server-side for consistency.
func (v *Validator) ErrorMessage(message string) error {
	return boundedString("message", message, 0, v.cfg.MaxErrorMessage)
}

// StoryPoints validates the optional story point estimate is in [0, cap].
func (v *Validator) StoryPoints(points *int) error {
	if points == nil {
		return nil
	}
	if *points < 0 || *points > v.cfg.MaxStoryPoints {
		return wsproto.Validation("story points out of range").WithField("story_points")
	}
	return nil
}

// Status validates status is one of the closed enum values.
func Status(status string) error {
	if !validStatuses[status] {
		return wsproto.Validation("unrecognized status value").WithField("status")
	}
	return nil
}

// Priority validates priority is one of the closed enum values.
func Priority(priority string) error {
	if !validPriorities[priority] {
		return wsproto.Validation("unrecognized priority value").WithField("priority")
	}
	return nil
}

// SprintWindow validates start < end and both fall within
// [now-1y, now+5y], per spec.md §4.13.
func SprintWindow(start, end time.Time) error {
	if !start.Before(end) {
		return wsproto.Validation("sprint start must be before end").WithField("end")
	}
	now := time.Now()
	low := now.AddDate(-1, 0, 0)
	high := now.AddDate(5, 0, 0)
	if start.Before(low) || end.After(high) {
		return wsproto.Validation("sprint window out of bounds").WithField("start")
	}
	return nil
}

// ProjectKey uppercases a candidate project key server-side before the
// uniqueness check, per spec.md §4.13.
func ProjectKey(key string) (string, error) {
	key = strings.ToUpper(TrimmedString(key))
	if err := boundedString("key", key, 1, 20); err != nil {
		return "", err
	}
	return key, nil
}

// Subscribe validates a Subscribe/Unsubscribe request's project_id and
// resource_type, matching original_source's validate_subscribe: project_id
// non-empty and <= 128 chars, resource_type in the closed set.
func Subscribe(projectID, resourceType string) error {
	n := utf8.RuneCountInString(projectID)
	if n == 0 || n > 128 {
		return wsproto.Validation("project_id must be 1-128 characters").WithField("project_id")
	}
	switch resourceType {
	case "project", "sprint", "work_item":
		return nil
	default:
		return wsproto.Validation("unrecognized resource_type").WithField("resource_type")
	}
}

// ManualTimeEntry enforces spec.md §4.12's create_manual bounds: both ends
// present, start < end, duration <= 24h, end within 60s of future wall
// clock (guards against client clock skew submitting entries "from the
// future").
func ManualTimeEntry(start, end time.Time) error {
	if !start.Before(end) {
		return wsproto.Validation("started_at must be before ended_at").WithField("ended_at")
	}
	if end.Sub(start) > 24*time.Hour {
		return wsproto.Validation("duration exceeds 24 hours").WithField("ended_at")
	}
	if end.After(time.Now().Add(60 * time.Second)) {
		return wsproto.Validation("ended_at is too far in the future").WithField("ended_at")
	}
	return nil
}

// DependencyFanout reports whether adding one more outbound/inbound edge
// would exceed the 50-per-item cap from spec.md §4.11.
func DependencyFanout(current int) bool {
	return current < maxDependencyFanout
}

// ParentDepth reports whether a parent chain of the given length is within
// the 100-deep cap from spec.md §3.
func ParentDepth(depth int) bool {
	return depth <= maxDependencyDepth
}
