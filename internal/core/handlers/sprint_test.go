package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/authz"
)

type fakeSprintStore struct {
	byID    map[string]*Sprint
	active  map[string]*Sprint
	created []*Sprint
	updated []*Sprint
	deleted []string
}

func newFakeSprintStore() *fakeSprintStore {
	return &fakeSprintStore{byID: map[string]*Sprint{}, active: map[string]*Sprint{}}
}

func (s *fakeSprintStore) GetByID(ctx context.Context, id string) (*Sprint, error) {
	sp, ok := s.byID[id]
	if !ok {
		return nil, assertErr{}
	}
	return sp, nil
}
func (s *fakeSprintStore) FindActiveByProject(ctx context.Context, projectID string) (*Sprint, error) {
	return s.active[projectID], nil
}
func (s *fakeSprintStore) Create(ctx context.Context, sp *Sprint, log ActivityLog) error {
	s.byID[sp.ID] = sp
	s.created = append(s.created, sp)
	return nil
}
func (s *fakeSprintStore) Update(ctx context.Context, sp *Sprint, log ActivityLog) error {
	s.byID[sp.ID] = sp
	if sp.Status == "active" {
		s.active[sp.ProjectID] = sp
	} else if s.active[sp.ProjectID] != nil && s.active[sp.ProjectID].ID == sp.ID {
		delete(s.active, sp.ProjectID)
	}
	s.updated = append(s.updated, sp)
	return nil
}
func (s *fakeSprintStore) SoftDelete(ctx context.Context, id string, log ActivityLog) error {
	delete(s.byID, id)
	s.deleted = append(s.deleted, id)
	return nil
}
func (s *fakeSprintStore) Get(ctx context.Context, projectID string) ([]Sprint, error) {
	var out []Sprint
	for _, sp := range s.byID {
		if sp.ProjectID == projectID {
			out = append(out, *sp)
		}
	}
	return out, nil
}

func TestSprintCreateHappyPath(t *testing.T) {
	store := newFakeSprintStore()
	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	start := time.Now().Add(24 * time.Hour).Unix()
	end := time.Now().Add(14 * 24 * time.Hour).Unix()

	env, err := h.Create(context.Background(), rc, CreateSprintRequest{
		ProjectID: "11111111-1111-1111-1111-111111111111",
		Name:      "Sprint 1",
		StartDate: start,
		EndDate:   end,
	})

	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, store.created, 1)
	assert.Equal(t, "planned", store.created[0].Status)
}

func TestSprintCreateRejectsBackwardsWindow(t *testing.T) {
	store := newFakeSprintStore()
	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	start := time.Now().Add(14 * 24 * time.Hour).Unix()
	end := time.Now().Add(24 * time.Hour).Unix()

	_, err := h.Create(context.Background(), rc, CreateSprintRequest{
		ProjectID: "11111111-1111-1111-1111-111111111111",
		Name:      "Sprint 1",
		StartDate: start,
		EndDate:   end,
	})

	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestSprintUpdateBlocksCompletedSprint(t *testing.T) {
	store := newFakeSprintStore()
	store.byID["33333333-3333-3333-3333-333333333333"] = &Sprint{
		ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Name: "Sprint 1", Status: "completed",
	}
	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Update(context.Background(), rc, UpdateSprintRequest{SprintID: "33333333-3333-3333-3333-333333333333", Name: "renamed"})

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestSprintUpdateRejectsInvalidTransition(t *testing.T) {
	store := newFakeSprintStore()
	store.byID["33333333-3333-3333-3333-333333333333"] = &Sprint{
		ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Name: "Sprint 1", Status: "planned",
	}
	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Update(context.Background(), rc, UpdateSprintRequest{SprintID: "33333333-3333-3333-3333-333333333333", Status: "completed"})

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestSprintUpdateRejectsStaleVersion(t *testing.T) {
	store := newFakeSprintStore()
	store.byID["33333333-3333-3333-3333-333333333333"] = &Sprint{
		ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Name: "Sprint 1", Status: "planned", Version: 3,
	}
	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Update(context.Background(), rc, UpdateSprintRequest{SprintID: "33333333-3333-3333-3333-333333333333", ExpectedVersion: 1, Name: "renamed"})

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestSprintUpdateRejectsSecondActiveSprint(t *testing.T) {
	store := newFakeSprintStore()
	existing := &Sprint{ID: "44444444-4444-4444-4444-444444444444", ProjectID: "proj-1", Name: "Sprint 0", Status: "active"}
	store.byID[existing.ID] = existing
	store.active["proj-1"] = existing

	candidate := &Sprint{ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Name: "Sprint 1", Status: "planned"}
	store.byID[candidate.ID] = candidate

	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Update(context.Background(), rc, UpdateSprintRequest{SprintID: candidate.ID, Status: "active"})

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestSprintUpdateAllowsReactivatingSameSprint(t *testing.T) {
	store := newFakeSprintStore()
	sprint := &Sprint{ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Name: "Sprint 1", Status: "active"}
	store.byID[sprint.ID] = sprint
	store.active["proj-1"] = sprint

	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Update(context.Background(), rc, UpdateSprintRequest{SprintID: sprint.ID, Status: "active"})

	require.NoError(t, err)
	require.Len(t, store.updated, 1)
}

func TestSprintUpdateAllowsValidTransition(t *testing.T) {
	store := newFakeSprintStore()
	sprint := &Sprint{ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Name: "Sprint 1", Status: "active"}
	store.byID[sprint.ID] = sprint
	store.active["proj-1"] = sprint

	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	env, err := h.Update(context.Background(), rc, UpdateSprintRequest{SprintID: sprint.ID, Status: "completed"})

	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, store.updated, 1)
	assert.Equal(t, "completed", store.updated[0].Status)
}

func TestSprintDeleteBlocksCompletedSprint(t *testing.T) {
	store := newFakeSprintStore()
	store.byID["33333333-3333-3333-3333-333333333333"] = &Sprint{
		ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Status: "completed",
	}
	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Delete(context.Background(), rc, DeleteSprintRequest{SprintID: "33333333-3333-3333-3333-333333333333"})

	require.Error(t, err)
	assert.Empty(t, store.deleted)
}

func TestSprintDeleteSucceeds(t *testing.T) {
	store := newFakeSprintStore()
	store.byID["33333333-3333-3333-3333-333333333333"] = &Sprint{
		ID: "33333333-3333-3333-3333-333333333333", ProjectID: "proj-1", Status: "planned",
	}
	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Delete(context.Background(), rc, DeleteSprintRequest{SprintID: "33333333-3333-3333-3333-333333333333"})

	require.NoError(t, err)
	assert.Len(t, store.deleted, 1)
}

func TestSprintGetRequiresView(t *testing.T) {
	store := newFakeSprintStore()
	h := &SprintHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	_, err := h.Get(context.Background(), rc, GetSprintRequest{ProjectID: "11111111-1111-1111-1111-111111111111"})

	require.Error(t, err)
}
