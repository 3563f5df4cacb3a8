// Package memory implements every persistence seam internal/core/handlers
// and internal/core/authz need, entirely in process memory. It is the
// store cmd/pmserver wires up when no database DSN is configured (desktop
// single-user mode) and the store internal/core/handlers' own tests would
// use if they reached past their narrow per-file fakes; grounded on the
// same "accept a transaction handle" shape internal/store/postgres
// exposes, minus the transaction itself, since an in-process map commit is
// already atomic with respect to this process's own goroutines.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/dependency"
	"github.com/r3e-network/pmserver/internal/core/handlers"
	"github.com/r3e-network/pmserver/internal/core/timer"
)

// Store backs every handler Store interface and the authz resolver with
// plain Go maps behind one mutex. Soft-deleted rows are never physically
// removed (per spec.md §3's "rows never physically removed once
// referenced"); every read path filters deleted_at, mirroring the
// "helpers that apply it" requirement from spec.md §9.
type Store struct {
	mu sync.RWMutex

	projects  map[string]*handlers.Project
	workItems map[string]*handlers.WorkItem
	sprints   map[string]*handlers.Sprint
	comments  map[string]*handlers.Comment
	deps      map[string]*handlers.Dependency
	entries   map[string]*timer.Entry
	logs      []handlers.ActivityLog

	members map[string]map[string]authz.Role // projectID -> userID -> role

	itemCounters map[string]int            // projectID -> last item_number
	positions    map[string]int            // projectID|parentID -> last position

	idempotency map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		projects:     make(map[string]*handlers.Project),
		workItems:    make(map[string]*handlers.WorkItem),
		sprints:      make(map[string]*handlers.Sprint),
		comments:     make(map[string]*handlers.Comment),
		deps:         make(map[string]*handlers.Dependency),
		entries:      make(map[string]*timer.Entry),
		members:      make(map[string]map[string]authz.Role),
		itemCounters: make(map[string]int),
		positions:    make(map[string]int),
		idempotency:  make(map[string][]byte),
	}
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// --- membership -------------------------------------------------------

// Grant sets caller's role on project directly, bypassing any further
// check. Project creation grants the creator Admin automatically; every
// other grant (inviting a teammate) is expected to go through an external
// collaborator this core treats as out of scope (spec.md §1).
func (s *Store) Grant(projectID, userID string, role authz.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.members[projectID]
	if !ok {
		bucket = make(map[string]authz.Role)
		s.members[projectID] = bucket
	}
	bucket[userID] = role
}

// RoleOn implements authz.MembershipResolver.
func (s *Store) RoleOn(ctx context.Context, caller, projectID string) (authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.members[projectID]
	if !ok {
		return authz.RoleNone, nil
	}
	return bucket[caller], nil
}

// --- authz.ProjectResolver ---------------------------------------------

// WorkItemProject resolves project_id for either a work item id or a
// sprint id, matching authz.Resolver.ProjectOf's reuse of this single
// accessor for both entity kinds.
func (s *Store) WorkItemProject(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.workItems[id]; ok && item.DeletedAt == nil {
		return item.ProjectID, nil
	}
	if sprint, ok := s.sprints[id]; ok && sprint.DeletedAt == nil {
		return sprint.ProjectID, nil
	}
	return "", fmt.Errorf("not found")
}

func (s *Store) CommentWorkItem(ctx context.Context, commentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[commentID]
	if !ok || c.DeletedAt != nil {
		return "", fmt.Errorf("not found")
	}
	return c.WorkItemID, nil
}

func (s *Store) TimeEntryWorkItem(ctx context.Context, timeEntryID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[timeEntryID]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return e.WorkItemID, nil
}

func (s *Store) DependencyBlockingWorkItem(ctx context.Context, dependencyID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deps[dependencyID]
	if !ok || d.DeletedAt != nil {
		return "", fmt.Errorf("not found")
	}
	return d.BlockingID, nil
}

func (s *Store) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	return ok && p.DeletedAt == nil, nil
}

// --- ProjectStore -------------------------------------------------------

func (s *Store) FindByKey(ctx context.Context, key string) (*handlers.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.DeletedAt == nil && p.Key == key {
			return clonePtr(p), nil
		}
	}
	return nil, nil
}

func (s *Store) projectByID(id string) (*handlers.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok || p.DeletedAt != nil {
		return nil, fmt.Errorf("not found")
	}
	return clonePtr(p), nil
}

// ProjectStoreAdapter narrows Store to handlers.ProjectStore: Go method
// sets cannot overload GetByID across multiple handler interfaces on one
// receiver, so each entity gets its own thin adapter embedding *Store.
type ProjectStoreAdapter struct{ *Store }

func (a ProjectStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.Project, error) {
	return a.Store.projectByID(id)
}
func (a ProjectStoreAdapter) Create(ctx context.Context, p *handlers.Project, log handlers.ActivityLog) error {
	return a.Store.createProject(p, log)
}
func (a ProjectStoreAdapter) Update(ctx context.Context, p *handlers.Project, log handlers.ActivityLog) error {
	return a.Store.updateProject(p, log)
}
func (a ProjectStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return a.Store.softDeleteProject(id, log)
}
func (a ProjectStoreAdapter) ListForMember(ctx context.Context, userID string) ([]handlers.Project, error) {
	return a.Store.listProjectsForMember(userID)
}
func (a ProjectStoreAdapter) HasWorkItems(ctx context.Context, projectID string) (bool, error) {
	return a.Store.hasWorkItems(projectID)
}
func (a ProjectStoreAdapter) FindByKey(ctx context.Context, key string) (*handlers.Project, error) {
	return a.Store.FindByKey(ctx, key)
}

func (s *Store) createProject(p *handlers.Project, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = clonePtr(p)
	if s.members[p.ID] == nil {
		s.members[p.ID] = make(map[string]authz.Role)
	}
	s.members[p.ID][p.CreatedBy] = authz.RoleAdmin
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) updateProject(p *handlers.Project, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return fmt.Errorf("not found")
	}
	s.projects[p.ID] = clonePtr(p)
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) softDeleteProject(id string, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	ts := log.CreatedAt
	p.DeletedAt = &ts
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) listProjectsForMember(userID string) ([]handlers.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []handlers.Project
	for projectID, bucket := range s.members {
		if _, ok := bucket[userID]; !ok {
			continue
		}
		p, ok := s.projects[projectID]
		if !ok || p.DeletedAt != nil {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) hasWorkItems(projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.workItems {
		if item.ProjectID == projectID && item.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// --- WorkItemStore -------------------------------------------------------

type WorkItemStoreAdapter struct{ *Store }

func (a WorkItemStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.WorkItem, error) {
	return a.Store.workItemByID(id)
}
func (a WorkItemStoreAdapter) NextItemNumber(ctx context.Context, projectID string) (int, error) {
	return a.Store.nextItemNumber(projectID), nil
}
func (a WorkItemStoreAdapter) NextPosition(ctx context.Context, projectID, parentID string) (int, error) {
	return a.Store.nextPosition(projectID, parentID), nil
}
func (a WorkItemStoreAdapter) Create(ctx context.Context, item *handlers.WorkItem, log handlers.ActivityLog) error {
	return a.Store.createWorkItem(item, log)
}
func (a WorkItemStoreAdapter) Update(ctx context.Context, item *handlers.WorkItem, log handlers.ActivityLog) error {
	return a.Store.updateWorkItem(item, log)
}
func (a WorkItemStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return a.Store.softDeleteWorkItem(id, log)
}
func (a WorkItemStoreAdapter) List(ctx context.Context, projectID string) ([]handlers.WorkItem, error) {
	return a.Store.listWorkItems(projectID), nil
}

func (s *Store) workItemByID(id string) (*handlers.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.workItems[id]
	if !ok || item.DeletedAt != nil {
		return nil, fmt.Errorf("not found")
	}
	return clonePtr(item), nil
}

// nextItemNumber allocates the next monotone item_number for a project.
// Production code allocates this inside the same transaction that inserts
// the row (spec.md §3); here the counter only ever advances under the
// store's single coarse lock, so no two creates receive the same number.
func (s *Store) nextItemNumber(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemCounters[projectID]++
	return s.itemCounters[projectID]
}

func (s *Store) nextPosition(projectID, parentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := projectID + "|" + parentID
	s.positions[key]++
	return s.positions[key]
}

func (s *Store) createWorkItem(item *handlers.WorkItem, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ItemNumber == 0 {
		s.itemCounters[item.ProjectID]++
		item.ItemNumber = s.itemCounters[item.ProjectID]
	}
	s.workItems[item.ID] = clonePtr(item)
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) updateWorkItem(item *handlers.WorkItem, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workItems[item.ID]; !ok {
		return fmt.Errorf("not found")
	}
	s.workItems[item.ID] = clonePtr(item)
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) softDeleteWorkItem(id string, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.workItems[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	ts := log.CreatedAt
	item.DeletedAt = &ts
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) listWorkItems(projectID string) []handlers.WorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []handlers.WorkItem
	for _, item := range s.workItems {
		if item.ProjectID == projectID && item.DeletedAt == nil {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNumber < out[j].ItemNumber })
	return out
}

// HasChildren reports whether a work item has any non-deleted children
// (spec.md §3's "work item has children"). internal/wiring does not call
// it: its deleteWorkItem derives the same answer from WorkItemStore.List.
func (s *Store) HasChildren(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.workItems {
		if item.ParentID == id && item.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// HasDependencies reports whether a work item still has live dependency
// edges touching it, in either direction.
func (s *Store) HasDependencies(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deps {
		if d.DeletedAt == nil && (d.BlockingID == id || d.BlockedID == id) {
			return true, nil
		}
	}
	return false, nil
}

// --- SprintStore ----------------------------------------------------------

type SprintStoreAdapter struct{ *Store }

func (a SprintStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.Sprint, error) {
	return a.Store.sprintByID(id)
}
func (a SprintStoreAdapter) FindActiveByProject(ctx context.Context, projectID string) (*handlers.Sprint, error) {
	return a.Store.findActiveSprint(projectID), nil
}
func (a SprintStoreAdapter) Create(ctx context.Context, sp *handlers.Sprint, log handlers.ActivityLog) error {
	return a.Store.createSprint(sp, log)
}
func (a SprintStoreAdapter) Update(ctx context.Context, sp *handlers.Sprint, log handlers.ActivityLog) error {
	return a.Store.updateSprint(sp, log)
}
func (a SprintStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return a.Store.softDeleteSprint(id, log)
}
func (a SprintStoreAdapter) Get(ctx context.Context, projectID string) ([]handlers.Sprint, error) {
	return a.Store.listSprints(projectID), nil
}

func (s *Store) sprintByID(id string) (*handlers.Sprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.sprints[id]
	if !ok || sp.DeletedAt != nil {
		return nil, fmt.Errorf("not found")
	}
	return clonePtr(sp), nil
}

func (s *Store) findActiveSprint(projectID string) *handlers.Sprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sp := range s.sprints {
		if sp.ProjectID == projectID && sp.Status == "active" && sp.DeletedAt == nil {
			return clonePtr(sp)
		}
	}
	return nil
}

func (s *Store) createSprint(sp *handlers.Sprint, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sprints[sp.ID] = clonePtr(sp)
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) updateSprint(sp *handlers.Sprint, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sprints[sp.ID]; !ok {
		return fmt.Errorf("not found")
	}
	s.sprints[sp.ID] = clonePtr(sp)
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) softDeleteSprint(id string, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.sprints[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	ts := log.CreatedAt
	sp.DeletedAt = &ts
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) listSprints(projectID string) []handlers.Sprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []handlers.Sprint
	for _, sp := range s.sprints {
		if sp.ProjectID == projectID && sp.DeletedAt == nil {
			out = append(out, *sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out
}

// --- CommentStore -----------------------------------------------------

type CommentStoreAdapter struct{ *Store }

func (a CommentStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.Comment, error) {
	return a.Store.commentByID(id)
}
func (a CommentStoreAdapter) WorkItemProjectID(ctx context.Context, workItemID string) (string, error) {
	return a.Store.WorkItemProject(ctx, workItemID)
}
func (a CommentStoreAdapter) Create(ctx context.Context, c *handlers.Comment, log handlers.ActivityLog) error {
	return a.Store.createComment(c, log)
}
func (a CommentStoreAdapter) Update(ctx context.Context, c *handlers.Comment, log handlers.ActivityLog) error {
	return a.Store.updateComment(c, log)
}
func (a CommentStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	return a.Store.softDeleteComment(id, log)
}
func (a CommentStoreAdapter) List(ctx context.Context, workItemID string) ([]handlers.Comment, error) {
	return a.Store.listComments(workItemID), nil
}

func (s *Store) commentByID(id string) (*handlers.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok || c.DeletedAt != nil {
		return nil, fmt.Errorf("not found")
	}
	return clonePtr(c), nil
}

func (s *Store) createComment(c *handlers.Comment, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = clonePtr(c)
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) updateComment(c *handlers.Comment, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[c.ID]; !ok {
		return fmt.Errorf("not found")
	}
	s.comments[c.ID] = clonePtr(c)
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) softDeleteComment(id string, log handlers.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	ts := log.CreatedAt
	c.DeletedAt = &ts
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) listComments(workItemID string) []handlers.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []handlers.Comment
	for _, c := range s.comments {
		if c.WorkItemID == workItemID && c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- DependencyStore (dependency.ItemLookup + dependency.Graph) --------

type DependencyStoreAdapter struct{ *Store }

func (a DependencyStoreAdapter) GetItem(ctx context.Context, id string) (*dependency.Item, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	item, ok := a.Store.workItems[id]
	if !ok || item.DeletedAt != nil {
		return nil, fmt.Errorf("not found")
	}
	return &dependency.Item{ID: item.ID, ProjectID: item.ProjectID}, nil
}

func (a DependencyStoreAdapter) ExistingEdge(ctx context.Context, blockingID, blockedID string, kind dependency.Kind) (bool, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	for _, d := range a.Store.deps {
		if d.DeletedAt == nil && d.BlockingID == blockingID && d.BlockedID == blockedID && d.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (a DependencyStoreAdapter) InboundCount(ctx context.Context, blockedID string) (int, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	n := 0
	for _, d := range a.Store.deps {
		if d.DeletedAt == nil && d.BlockedID == blockedID {
			n++
		}
	}
	return n, nil
}

func (a DependencyStoreAdapter) OutboundCount(ctx context.Context, blockingID string) (int, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	n := 0
	for _, d := range a.Store.deps {
		if d.DeletedAt == nil && d.BlockingID == blockingID {
			n++
		}
	}
	return n, nil
}

func (a DependencyStoreAdapter) OutboundBlocks(ctx context.Context, blockingID string) ([]string, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	var out []string
	for _, d := range a.Store.deps {
		if d.DeletedAt == nil && d.Kind == dependency.KindBlocks && d.BlockingID == blockingID {
			out = append(out, d.BlockedID)
		}
	}
	return out, nil
}

func (a DependencyStoreAdapter) Create(ctx context.Context, d *handlers.Dependency, log handlers.ActivityLog) error {
	a.Store.mu.Lock()
	defer a.Store.mu.Unlock()
	a.Store.deps[d.ID] = clonePtr(d)
	a.Store.logs = append(a.Store.logs, log)
	return nil
}

func (a DependencyStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	a.Store.mu.Lock()
	defer a.Store.mu.Unlock()
	d, ok := a.Store.deps[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	ts := log.CreatedAt
	d.DeletedAt = &ts
	a.Store.logs = append(a.Store.logs, log)
	return nil
}

func (a DependencyStoreAdapter) GetByID(ctx context.Context, id string) (*handlers.Dependency, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	d, ok := a.Store.deps[id]
	if !ok || d.DeletedAt != nil {
		return nil, fmt.Errorf("not found")
	}
	return clonePtr(d), nil
}

func (a DependencyStoreAdapter) List(ctx context.Context, workItemID string) ([]handlers.Dependency, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	var out []handlers.Dependency
	for _, d := range a.Store.deps {
		if d.DeletedAt == nil && (d.BlockingID == workItemID || d.BlockedID == workItemID) {
			out = append(out, *d)
		}
	}
	return out, nil
}

// --- TimeEntryStore (timer.Store) ----------------------------------------

type TimeEntryStoreAdapter struct{ *Store }

func (a TimeEntryStoreAdapter) FindRunning(ctx context.Context, userID string) (*timer.Entry, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	for _, e := range a.Store.entries {
		if e.UserID == userID && e.Running() {
			return clonePtr(e), nil
		}
	}
	return nil, nil
}

func (a TimeEntryStoreAdapter) Update(ctx context.Context, e *timer.Entry) error {
	a.Store.mu.Lock()
	defer a.Store.mu.Unlock()
	if _, ok := a.Store.entries[e.ID]; !ok {
		return fmt.Errorf("not found")
	}
	a.Store.entries[e.ID] = clonePtr(e)
	return nil
}

func (a TimeEntryStoreAdapter) Create(ctx context.Context, e *timer.Entry) error {
	a.Store.mu.Lock()
	defer a.Store.mu.Unlock()
	a.Store.entries[e.ID] = clonePtr(e)
	return nil
}

func (a TimeEntryStoreAdapter) GetByID(ctx context.Context, id string) (*timer.Entry, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	e, ok := a.Store.entries[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return clonePtr(e), nil
}

func (a TimeEntryStoreAdapter) WorkItemProjectID(ctx context.Context, workItemID string) (string, error) {
	return a.Store.WorkItemProject(ctx, workItemID)
}

func (a TimeEntryStoreAdapter) SoftDelete(ctx context.Context, id string, log handlers.ActivityLog) error {
	a.Store.mu.Lock()
	defer a.Store.mu.Unlock()
	if _, ok := a.Store.entries[id]; !ok {
		return fmt.Errorf("not found")
	}
	delete(a.Store.entries, id)
	a.Store.logs = append(a.Store.logs, log)
	return nil
}

func (a TimeEntryStoreAdapter) List(ctx context.Context, workItemID string) ([]timer.Entry, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	var out []timer.Entry
	for _, e := range a.Store.entries {
		if e.WorkItemID == workItemID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (a TimeEntryStoreAdapter) LogActivity(ctx context.Context, log handlers.ActivityLog) error {
	a.Store.mu.Lock()
	defer a.Store.mu.Unlock()
	a.Store.logs = append(a.Store.logs, log)
	return nil
}

// --- ActivityLogStore ---------------------------------------------------

type ActivityLogStoreAdapter struct{ *Store }

func (a ActivityLogStoreAdapter) ListForProject(ctx context.Context, projectID string, limit int) ([]handlers.ActivityLog, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()

	ids := a.Store.entityIDsForProject(projectID)
	var out []handlers.ActivityLog
	for i := len(a.Store.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if ids[a.Store.logs[i].EntityID] {
			out = append(out, a.Store.logs[i])
		}
	}
	return out, nil
}

// entityIDsForProject returns every entity id (project, work items,
// sprints, comments, dependencies, time entries) that belongs to
// projectID, so ListForProject can filter the flat activity log slice
// without a dedicated project_id column on every row (mirroring how a
// relational schema would instead JOIN through each entity table).
func (s *Store) entityIDsForProject(projectID string) map[string]bool {
	ids := map[string]bool{projectID: true}
	for _, item := range s.workItems {
		if item.ProjectID == projectID {
			ids[item.ID] = true
		}
	}
	for _, sp := range s.sprints {
		if sp.ProjectID == projectID {
			ids[sp.ID] = true
		}
	}
	for _, c := range s.comments {
		if ids[workItemProjectUnsafe(s, c.WorkItemID)] {
			ids[c.ID] = true
		}
	}
	for _, d := range s.deps {
		if ids[workItemProjectUnsafe(s, d.BlockingID)] {
			ids[d.ID] = true
		}
	}
	for _, e := range s.entries {
		if ids[workItemProjectUnsafe(s, e.WorkItemID)] {
			ids[e.ID] = true
		}
	}
	return ids
}

// workItemProjectUnsafe looks up a work item's project_id without taking
// the lock; callers already hold it.
func workItemProjectUnsafe(s *Store, workItemID string) string {
	if item, ok := s.workItems[workItemID]; ok {
		return item.ProjectID
	}
	return ""
}

// --- handlers.IdempotencyStore ------------------------------------------

type IdempotencyAdapter struct{ *Store }

func (a IdempotencyAdapter) Get(ctx context.Context, messageID string) ([]byte, bool, error) {
	a.Store.mu.RLock()
	defer a.Store.mu.RUnlock()
	v, ok := a.Store.idempotency[messageID]
	return v, ok, nil
}

func (a IdempotencyAdapter) Put(ctx context.Context, messageID string, response []byte) error {
	a.Store.mu.Lock()
	defer a.Store.mu.Unlock()
	a.Store.idempotency[messageID] = response
	return nil
}

// DesktopUserID resolves the attribution identity for a connection running
// in auth-disabled desktop mode, per spec.md Open Question 4: a fixed
// configured string is honored verbatim; an empty configuration mints a
// fresh session id so ActivityLog attribution stays meaningful for the
// duration of that one connection.
func DesktopUserID(fixed string, sessionID string) string {
	if strings.TrimSpace(fixed) != "" {
		return fixed
	}
	return sessionID
}
