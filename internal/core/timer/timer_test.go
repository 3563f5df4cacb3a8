package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	running map[string]*Entry
	created []*Entry
	updated []*Entry
}

func (s *fakeStore) FindRunning(ctx context.Context, userID string) (*Entry, error) {
	return s.running[userID], nil
}
func (s *fakeStore) Update(ctx context.Context, e *Entry) error {
	s.updated = append(s.updated, e)
	return nil
}
func (s *fakeStore) Create(ctx context.Context, e *Entry) error {
	s.created = append(s.created, e)
	return nil
}

func TestStartWithNoRunningTimer(t *testing.T) {
	store := &fakeStore{running: map[string]*Entry{}}
	now := time.Now()

	newEntry, stopped, err := Start(context.Background(), store, "new-id", "wi-1", "user-1", "", now)

	require.NoError(t, err)
	assert.Nil(t, stopped)
	assert.Equal(t, "new-id", newEntry.ID)
	assert.True(t, newEntry.Running())
	assert.Len(t, store.created, 1)
	assert.Empty(t, store.updated)
}

func TestStartAtomicallyStopsPreviousTimer(t *testing.T) {
	startedAt := time.Now().Add(-30 * time.Minute)
	store := &fakeStore{running: map[string]*Entry{
		"user-1": {ID: "old-id", WorkItemID: "wi-0", UserID: "user-1", StartedAt: startedAt},
	}}
	now := time.Now()

	newEntry, stopped, err := Start(context.Background(), store, "new-id", "wi-1", "user-1", "", now)

	require.NoError(t, err)
	require.NotNil(t, stopped)
	assert.Equal(t, "old-id", stopped.ID)
	assert.False(t, stopped.Running())
	assert.NotNil(t, stopped.DurationSeconds)
	assert.Equal(t, "new-id", newEntry.ID)
	assert.Len(t, store.updated, 1)
	assert.Len(t, store.created, 1)
}

func TestStopRejectsNonOwner(t *testing.T) {
	store := &fakeStore{}
	entry := &Entry{ID: "e1", UserID: "user-1", StartedAt: time.Now().Add(-time.Hour)}

	err := Stop(context.Background(), store, entry, "user-2", time.Now())

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestStopRejectsAlreadyStopped(t *testing.T) {
	store := &fakeStore{}
	ended := time.Now().Add(-time.Minute)
	entry := &Entry{ID: "e1", UserID: "user-1", StartedAt: time.Now().Add(-time.Hour), EndedAt: &ended}

	err := Stop(context.Background(), store, entry, "user-1", time.Now())

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestStopSetsEndedAtAndDuration(t *testing.T) {
	store := &fakeStore{}
	started := time.Now().Add(-2 * time.Hour)
	entry := &Entry{ID: "e1", UserID: "user-1", StartedAt: started}
	now := time.Now()

	err := Stop(context.Background(), store, entry, "user-1", now)

	require.NoError(t, err)
	require.NotNil(t, entry.EndedAt)
	require.NotNil(t, entry.DurationSeconds)
	assert.InDelta(t, 2*3600, *entry.DurationSeconds, 2)
	assert.Len(t, store.updated, 1)
}
