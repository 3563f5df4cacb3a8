package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/authz"
)

type fakeProjectStore struct {
	byKey     map[string]*Project
	byID      map[string]*Project
	hasItems  bool
	created   []*Project
	updated   []*Project
	deleted   []string
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{byKey: map[string]*Project{}, byID: map[string]*Project{}}
}

func (s *fakeProjectStore) FindByKey(ctx context.Context, key string) (*Project, error) {
	return s.byKey[key], nil
}
func (s *fakeProjectStore) GetByID(ctx context.Context, id string) (*Project, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, assertErr{}
	}
	return p, nil
}
func (s *fakeProjectStore) Create(ctx context.Context, p *Project, log ActivityLog) error {
	s.byKey[p.Key] = p
	s.byID[p.ID] = p
	s.created = append(s.created, p)
	return nil
}
func (s *fakeProjectStore) Update(ctx context.Context, p *Project, log ActivityLog) error {
	s.byID[p.ID] = p
	s.updated = append(s.updated, p)
	return nil
}
func (s *fakeProjectStore) SoftDelete(ctx context.Context, id string, log ActivityLog) error {
	delete(s.byID, id)
	s.deleted = append(s.deleted, id)
	return nil
}
func (s *fakeProjectStore) ListForMember(ctx context.Context, userID string) ([]Project, error) {
	var out []Project
	for _, p := range s.byID {
		out = append(out, *p)
	}
	return out, nil
}
func (s *fakeProjectStore) HasWorkItems(ctx context.Context, projectID string) (bool, error) {
	return s.hasItems, nil
}

func TestProjectCreateHappyPath(t *testing.T) {
	store := newFakeProjectStore()
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	env, err := h.Create(context.Background(), rc, CreateProjectRequest{Key: "proj", Name: "Project One"})

	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, store.created, 1)
	assert.Equal(t, "PROJ", store.created[0].Key)
}

func TestProjectCreateRejectsDuplicateKey(t *testing.T) {
	store := newFakeProjectStore()
	store.byKey["PROJ"] = &Project{ID: "11111111-1111-1111-1111-111111111111", Key: "PROJ"}
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	_, err := h.Create(context.Background(), rc, CreateProjectRequest{Key: "proj", Name: "Project One"})

	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestProjectCreateIsIdempotent(t *testing.T) {
	store := newFakeProjectStore()
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	req := CreateProjectRequest{Key: "proj", Name: "Project One"}

	_, err := h.Create(context.Background(), rc, req)
	require.NoError(t, err)
	require.Len(t, store.created, 1)

	_, err = h.Create(context.Background(), rc, req)
	require.NoError(t, err)
	assert.Len(t, store.created, 1, "second dispatch of the same message_id must not create twice")
}

func TestProjectUpdateRequiresAdmin(t *testing.T) {
	store := newFakeProjectStore()
	store.byID["11111111-1111-1111-1111-111111111111"] = &Project{ID: "11111111-1111-1111-1111-111111111111", Key: "PROJ", Name: "old"}
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Update(context.Background(), rc, UpdateProjectRequest{ProjectID: "11111111-1111-1111-1111-111111111111", Name: "new"})

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestProjectUpdateAppliesChanges(t *testing.T) {
	store := newFakeProjectStore()
	store.byID["11111111-1111-1111-1111-111111111111"] = &Project{ID: "11111111-1111-1111-1111-111111111111", Key: "PROJ", Name: "old"}
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleAdmin)

	env, err := h.Update(context.Background(), rc, UpdateProjectRequest{ProjectID: "11111111-1111-1111-1111-111111111111", Name: "new name"})

	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, store.updated, 1)
	assert.Equal(t, "new name", store.updated[0].Name)
	assert.Equal(t, 1, store.updated[0].Version)
}

func TestProjectUpdateRejectsStaleVersion(t *testing.T) {
	store := newFakeProjectStore()
	store.byID["11111111-1111-1111-1111-111111111111"] = &Project{ID: "11111111-1111-1111-1111-111111111111", Key: "PROJ", Name: "old", Version: 2}
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleAdmin)

	_, err := h.Update(context.Background(), rc, UpdateProjectRequest{ProjectID: "11111111-1111-1111-1111-111111111111", ExpectedVersion: 1, Name: "new"})

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestProjectDeleteBlockedByWorkItems(t *testing.T) {
	store := newFakeProjectStore()
	store.byID["11111111-1111-1111-1111-111111111111"] = &Project{ID: "11111111-1111-1111-1111-111111111111", Key: "PROJ"}
	store.hasItems = true
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleAdmin)

	_, err := h.Delete(context.Background(), rc, DeleteProjectRequest{ProjectID: "11111111-1111-1111-1111-111111111111"})

	require.Error(t, err)
	assert.Empty(t, store.deleted)
}

func TestProjectDeleteSucceeds(t *testing.T) {
	store := newFakeProjectStore()
	store.byID["11111111-1111-1111-1111-111111111111"] = &Project{ID: "11111111-1111-1111-1111-111111111111", Key: "PROJ"}
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleAdmin)

	_, err := h.Delete(context.Background(), rc, DeleteProjectRequest{ProjectID: "11111111-1111-1111-1111-111111111111"})

	require.NoError(t, err)
	assert.Len(t, store.deleted, 1)
}

func TestProjectListReturnsMemberProjects(t *testing.T) {
	store := newFakeProjectStore()
	store.byID["11111111-1111-1111-1111-111111111111"] = &Project{ID: "11111111-1111-1111-1111-111111111111", Key: "PROJ"}
	h := &ProjectHandler{Store: store}
	rc := newTestRC(authz.RoleView)

	env, err := h.List(context.Background(), rc)

	require.NoError(t, err)
	require.NotNil(t, env)
}
