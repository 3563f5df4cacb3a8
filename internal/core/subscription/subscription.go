// Package subscription tracks the per-connection filter set used to decide
// whether a tenant broadcast should be delivered to a given socket.
package subscription

// ResourceKind is a closed set of broadcastable resource kinds, per
// spec.md §4.4.
type ResourceKind string

const (
	ResourceProject  ResourceKind = "project"
	ResourceSprint   ResourceKind = "sprint"
	ResourceWorkItem ResourceKind = "work_item"
)

// Valid reports whether k is one of the recognized resource kinds.
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceProject, ResourceSprint, ResourceWorkItem:
		return true
	}
	return false
}

// Filter is one (project_id, resource_kind) subscription tuple.
type Filter struct {
	ProjectID string
	Kind      ResourceKind
}

// Set is a single connection's subscription bookkeeping. It is owned
// exclusively by that connection's goroutine (spec.md §5) so it needs no
// internal locking.
type Set struct {
	filters map[Filter]struct{}
}

// NewSet creates an empty subscription set.
func NewSet() *Set {
	return &Set{filters: make(map[Filter]struct{})}
}

// Subscribe adds a filter. Subscribing an already-subscribed filter is a
// no-op and returns false to let the caller skip sending a redundant ack.
func (s *Set) Subscribe(f Filter) (added bool) {
	if _, ok := s.filters[f]; ok {
		return false
	}
	s.filters[f] = struct{}{}
	return true
}

// Unsubscribe removes a filter. Unsubscribing an unknown filter is a no-op.
func (s *Set) Unsubscribe(f Filter) (removed bool) {
	if _, ok := s.filters[f]; !ok {
		return false
	}
	delete(s.filters, f)
	return true
}

// Matches reports whether f is in the set, meaning a broadcast carrying f
// should be delivered to this connection's socket.
func (s *Set) Matches(f Filter) bool {
	_, ok := s.filters[f]
	return ok
}

// Len returns the number of active filters.
func (s *Set) Len() int { return len(s.filters) }
