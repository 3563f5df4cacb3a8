package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProjects struct {
	workItemProject map[string]string
	commentWorkItem map[string]string
	projects        map[string]bool
}

func (f *fakeProjects) WorkItemProject(ctx context.Context, id string) (string, error) {
	if p, ok := f.workItemProject[id]; ok {
		return p, nil
	}
	return "", errors.New("not found")
}
func (f *fakeProjects) CommentWorkItem(ctx context.Context, id string) (string, error) {
	if w, ok := f.commentWorkItem[id]; ok {
		return w, nil
	}
	return "", errors.New("not found")
}
func (f *fakeProjects) TimeEntryWorkItem(ctx context.Context, id string) (string, error) {
	return "", errors.New("not found")
}
func (f *fakeProjects) DependencyBlockingWorkItem(ctx context.Context, id string) (string, error) {
	return "", errors.New("not found")
}
func (f *fakeProjects) ProjectExists(ctx context.Context, id string) (bool, error) {
	return f.projects[id], nil
}

type fakeMemberships struct {
	roles map[string]Role
}

func (f *fakeMemberships) RoleOn(ctx context.Context, caller, project string) (Role, error) {
	return f.roles[caller+"@"+project], nil
}

func TestProjectOfWorkItem(t *testing.T) {
	r := New(&fakeProjects{workItemProject: map[string]string{"w1": "p1"}}, &fakeMemberships{})
	projectID, err := r.ProjectOf(context.Background(), KindWorkItem, "w1")
	require.NoError(t, err)
	assert.Equal(t, "p1", projectID)
}

func TestProjectOfCommentWalksThroughWorkItem(t *testing.T) {
	r := New(&fakeProjects{
		workItemProject: map[string]string{"w1": "p1"},
		commentWorkItem: map[string]string{"c1": "w1"},
	}, &fakeMemberships{})

	projectID, err := r.ProjectOf(context.Background(), KindComment, "c1")
	require.NoError(t, err)
	assert.Equal(t, "p1", projectID)
}

func TestProjectOfMissingEntityIsNotFound(t *testing.T) {
	r := New(&fakeProjects{}, &fakeMemberships{})
	_, err := r.ProjectOf(context.Background(), KindWorkItem, "missing")
	require.Error(t, err)
}

func TestCheckPermissionRoleHierarchy(t *testing.T) {
	mem := &fakeMemberships{roles: map[string]Role{"u1@p1": RoleEdit}}
	r := New(&fakeProjects{}, mem)

	require.NoError(t, r.CheckPermission(context.Background(), "u1", "p1", RoleView))
	require.NoError(t, r.CheckPermission(context.Background(), "u1", "p1", RoleEdit))
	require.Error(t, r.CheckPermission(context.Background(), "u1", "p1", RoleAdmin))
}

func TestCheckPermissionMissingMembership(t *testing.T) {
	r := New(&fakeProjects{}, &fakeMemberships{roles: map[string]Role{}})
	require.Error(t, r.CheckPermission(context.Background(), "stranger", "p1", RoleView))
}

func TestCheckOwner(t *testing.T) {
	require.NoError(t, CheckOwner("u1", "u1"))
	require.Error(t, CheckOwner("u1", "u2"))
}
