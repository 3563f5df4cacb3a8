package handlers

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/broadcast"
	"github.com/r3e-network/pmserver/internal/core/validate"
)

type fakeWorkItemStore struct {
	items   map[string]*WorkItem
	created []*WorkItem
	updated []*WorkItem
	deleted []string
}

func newFakeWorkItemStore() *fakeWorkItemStore {
	return &fakeWorkItemStore{items: map[string]*WorkItem{}}
}

func (s *fakeWorkItemStore) GetByID(ctx context.Context, id string) (*WorkItem, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, assertErr{}
	}
	return it, nil
}
func (s *fakeWorkItemStore) NextItemNumber(ctx context.Context, projectID string) (int, error) {
	return len(s.items) + 1, nil
}
func (s *fakeWorkItemStore) NextPosition(ctx context.Context, projectID, parentID string) (int, error) {
	return len(s.items), nil
}
func (s *fakeWorkItemStore) Create(ctx context.Context, item *WorkItem, log ActivityLog) error {
	s.items[item.ID] = item
	s.created = append(s.created, item)
	return nil
}
func (s *fakeWorkItemStore) Update(ctx context.Context, item *WorkItem, log ActivityLog) error {
	s.items[item.ID] = item
	s.updated = append(s.updated, item)
	return nil
}
func (s *fakeWorkItemStore) SoftDelete(ctx context.Context, id string, log ActivityLog) error {
	delete(s.items, id)
	s.deleted = append(s.deleted, id)
	return nil
}
func (s *fakeWorkItemStore) List(ctx context.Context, projectID string) ([]WorkItem, error) {
	var out []WorkItem
	for _, it := range s.items {
		if it.ProjectID == projectID {
			out = append(out, *it)
		}
	}
	return out, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "not found" }

type fakeIdempotency struct {
	cache map[string][]byte
}

func newFakeIdempotency() *fakeIdempotency { return &fakeIdempotency{cache: map[string][]byte{}} }

func (f *fakeIdempotency) Get(ctx context.Context, messageID string) ([]byte, bool, error) {
	v, ok := f.cache[messageID]
	return v, ok, nil
}
func (f *fakeIdempotency) Put(ctx context.Context, messageID string, response []byte) error {
	f.cache[messageID] = response
	return nil
}

type fakeProjects struct{}

func (fakeProjects) WorkItemProject(ctx context.Context, workItemID string) (string, error) {
	return "proj-1", nil
}
func (fakeProjects) CommentWorkItem(ctx context.Context, commentID string) (string, error) {
	return "", nil
}
func (fakeProjects) TimeEntryWorkItem(ctx context.Context, timeEntryID string) (string, error) {
	return "", nil
}
func (fakeProjects) DependencyBlockingWorkItem(ctx context.Context, dependencyID string) (string, error) {
	return "", nil
}
func (fakeProjects) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	return true, nil
}

type fakeMemberships struct{ role authz.Role }

func (f fakeMemberships) RoleOn(ctx context.Context, caller, projectID string) (authz.Role, error) {
	return f.role, nil
}

func newTestRC(role authz.Role) *RequestContext {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &RequestContext{
		MessageID:   "msg-1",
		Tenant:      "tenant-1",
		UserID:      "user-1",
		Idempotency: newFakeIdempotency(),
		Authz:       authz.New(fakeProjects{}, fakeMemberships{role: role}),
		Validator:   validate.New(validate.DefaultConfig()),
		Broadcaster: broadcast.New(broadcast.DefaultCapacity, nil),
		Log:         log,
	}
}

func TestWorkItemCreateHappyPath(t *testing.T) {
	store := newFakeWorkItemStore()
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	req := CreateWorkItemRequest{
		ProjectID: "11111111-1111-1111-1111-111111111111",
		ItemType:  "task",
		Title:     "write tests",
	}

	env, err := h.Create(context.Background(), rc, req)

	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Len(t, store.created, 1)
	assert.Equal(t, "backlog", store.created[0].Status)
}

func TestWorkItemCreateRejectsInvalidItemType(t *testing.T) {
	store := newFakeWorkItemStore()
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Create(context.Background(), rc, CreateWorkItemRequest{
		ProjectID: "11111111-1111-1111-1111-111111111111",
		ItemType:  "bogus",
		Title:     "t",
	})

	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestWorkItemCreateRejectsInsufficientRole(t *testing.T) {
	store := newFakeWorkItemStore()
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleView)

	_, err := h.Create(context.Background(), rc, CreateWorkItemRequest{
		ProjectID: "11111111-1111-1111-1111-111111111111",
		ItemType:  "task",
		Title:     "t",
	})

	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestWorkItemCreateIsIdempotent(t *testing.T) {
	store := newFakeWorkItemStore()
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	req := CreateWorkItemRequest{ProjectID: "11111111-1111-1111-1111-111111111111", ItemType: "task", Title: "t"}

	_, err := h.Create(context.Background(), rc, req)
	require.NoError(t, err)
	require.Len(t, store.created, 1)

	_, err = h.Create(context.Background(), rc, req)
	require.NoError(t, err)
	assert.Len(t, store.created, 1, "second dispatch of the same message_id must not create twice")
}

func TestWorkItemUpdateRejectsStaleVersion(t *testing.T) {
	store := newFakeWorkItemStore()
	store.items["33333333-3333-3333-3333-333333333333"] = &WorkItem{ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Version: 2, Title: "old"}
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Update(context.Background(), rc, UpdateWorkItemRequest{WorkItemID: "33333333-3333-3333-3333-333333333333", Version: 1, Title: "new"})

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestWorkItemUpdateAppliesChanges(t *testing.T) {
	store := newFakeWorkItemStore()
	store.items["33333333-3333-3333-3333-333333333333"] = &WorkItem{ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Version: 1, Title: "old"}
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	env, err := h.Update(context.Background(), rc, UpdateWorkItemRequest{WorkItemID: "33333333-3333-3333-3333-333333333333", Version: 1, Title: "new title"})

	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, store.updated, 1)
	assert.Equal(t, "new title", store.updated[0].Title)
	assert.Equal(t, 2, store.updated[0].Version)
}

func TestWorkItemDeleteBlockedByChildren(t *testing.T) {
	store := newFakeWorkItemStore()
	store.items["33333333-3333-3333-3333-333333333333"] = &WorkItem{ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1"}
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Delete(context.Background(), rc, DeleteWorkItemRequest{WorkItemID: "33333333-3333-3333-3333-333333333333"}, true, false)

	require.Error(t, err)
	assert.Empty(t, store.deleted)
}

func TestWorkItemDeleteSucceeds(t *testing.T) {
	store := newFakeWorkItemStore()
	store.items["33333333-3333-3333-3333-333333333333"] = &WorkItem{ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1"}
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Delete(context.Background(), rc, DeleteWorkItemRequest{WorkItemID: "33333333-3333-3333-3333-333333333333"}, false, false)

	require.NoError(t, err)
	assert.Len(t, store.deleted, 1)
}

func TestWorkItemGetRequiresView(t *testing.T) {
	store := newFakeWorkItemStore()
	projectID := "22222222-2222-2222-2222-222222222222"
	store.items["33333333-3333-3333-3333-333333333333"] = &WorkItem{ID: "33333333-3333-3333-3333-333333333333", ProjectID: projectID}
	h := &WorkItemHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	_, err := h.Get(context.Background(), rc, GetWorkItemsRequest{ProjectID: projectID})

	require.Error(t, err)
}
