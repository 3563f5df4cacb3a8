package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/authz"
)

type fakeActivityLogStore struct {
	entries   []ActivityLog
	lastLimit int
}

func (s *fakeActivityLogStore) ListForProject(ctx context.Context, projectID string, limit int) ([]ActivityLog, error) {
	s.lastLimit = limit
	if limit < len(s.entries) {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func TestActivityLogGetRequiresView(t *testing.T) {
	store := &fakeActivityLogStore{}
	h := &ActivityLogHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	_, err := h.Get(context.Background(), rc, GetActivityLogRequest{ProjectID: "11111111-1111-1111-1111-111111111111"})

	require.Error(t, err)
}

func TestActivityLogGetAppliesDefaultLimit(t *testing.T) {
	store := &fakeActivityLogStore{entries: make([]ActivityLog, 5)}
	h := &ActivityLogHandler{Store: store}
	rc := newTestRC(authz.RoleView)

	env, err := h.Get(context.Background(), rc, GetActivityLogRequest{ProjectID: "11111111-1111-1111-1111-111111111111"})

	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, defaultActivityLogLimit, store.lastLimit)
}

func TestActivityLogGetRespectsExplicitLimit(t *testing.T) {
	store := &fakeActivityLogStore{entries: make([]ActivityLog, 10)}
	h := &ActivityLogHandler{Store: store}
	rc := newTestRC(authz.RoleView)

	env, err := h.Get(context.Background(), rc, GetActivityLogRequest{ProjectID: "11111111-1111-1111-1111-111111111111", Limit: 3})

	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Len(t, store.entries, 10)
	assert.Equal(t, 3, store.lastLimit)
}
