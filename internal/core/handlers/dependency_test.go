package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/authz"
	"github.com/r3e-network/pmserver/internal/core/dependency"
)

type fakeDependencyStore struct {
	items   map[string]*dependency.Item
	edges   map[string]*Dependency
	blocks  map[string][]string
	created []*Dependency
	deleted []string
}

func newFakeDependencyStore() *fakeDependencyStore {
	return &fakeDependencyStore{
		items:  map[string]*dependency.Item{},
		edges:  map[string]*Dependency{},
		blocks: map[string][]string{},
	}
}

func (s *fakeDependencyStore) GetItem(ctx context.Context, id string) (*dependency.Item, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, assertErr{}
	}
	return it, nil
}
func (s *fakeDependencyStore) ExistingEdge(ctx context.Context, blockingID, blockedID string, kind dependency.Kind) (bool, error) {
	for _, e := range s.edges {
		if e.BlockingID == blockingID && e.BlockedID == blockedID && e.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}
func (s *fakeDependencyStore) InboundCount(ctx context.Context, blockedID string) (int, error) {
	n := 0
	for _, e := range s.edges {
		if e.BlockedID == blockedID {
			n++
		}
	}
	return n, nil
}
func (s *fakeDependencyStore) OutboundCount(ctx context.Context, blockingID string) (int, error) {
	n := 0
	for _, e := range s.edges {
		if e.BlockingID == blockingID {
			n++
		}
	}
	return n, nil
}
func (s *fakeDependencyStore) OutboundBlocks(ctx context.Context, blockingID string) ([]string, error) {
	return s.blocks[blockingID], nil
}
func (s *fakeDependencyStore) Create(ctx context.Context, d *Dependency, log ActivityLog) error {
	s.edges[d.ID] = d
	s.blocks[d.BlockingID] = append(s.blocks[d.BlockingID], d.BlockedID)
	s.created = append(s.created, d)
	return nil
}
func (s *fakeDependencyStore) SoftDelete(ctx context.Context, id string, log ActivityLog) error {
	delete(s.edges, id)
	s.deleted = append(s.deleted, id)
	return nil
}
func (s *fakeDependencyStore) GetByID(ctx context.Context, id string) (*Dependency, error) {
	e, ok := s.edges[id]
	if !ok {
		return nil, assertErr{}
	}
	return e, nil
}
func (s *fakeDependencyStore) List(ctx context.Context, workItemID string) ([]Dependency, error) {
	var out []Dependency
	for _, e := range s.edges {
		if e.BlockingID == workItemID || e.BlockedID == workItemID {
			out = append(out, *e)
		}
	}
	return out, nil
}

const projA = "11111111-1111-1111-1111-111111111111"

func TestDependencyCreateHappyPath(t *testing.T) {
	store := newFakeDependencyStore()
	store.items["aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"] = &dependency.Item{ID: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", ProjectID: projA}
	store.items["bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"] = &dependency.Item{ID: "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", ProjectID: projA}
	h := &DependencyHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	env, err := h.Create(context.Background(), rc, CreateDependencyRequest{
		BlockingID: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		BlockedID:  "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb",
		Kind:       dependency.KindBlocks,
	})

	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Len(t, store.created, 1)
}

func TestDependencyCreateRejectsSelfEdge(t *testing.T) {
	store := newFakeDependencyStore()
	store.items["aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"] = &dependency.Item{ID: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", ProjectID: projA}
	h := &DependencyHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Create(context.Background(), rc, CreateDependencyRequest{
		BlockingID: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		BlockedID:  "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		Kind:       dependency.KindBlocks,
	})

	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestDependencyCreateRejectsCycle(t *testing.T) {
	store := newFakeDependencyStore()
	a := "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	b := "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	c := "cccccccc-cccc-cccc-cccc-cccccccccccc"
	store.items[a] = &dependency.Item{ID: a, ProjectID: projA}
	store.items[b] = &dependency.Item{ID: b, ProjectID: projA}
	store.items[c] = &dependency.Item{ID: c, ProjectID: projA}
	// A Blocks B, B Blocks C already exist.
	store.edges["dddddddd-dddd-dddd-dddd-dddddddddddd"] = &Dependency{ID: "dddddddd-dddd-dddd-dddd-dddddddddddd", BlockingID: a, BlockedID: b, Kind: dependency.KindBlocks}
	store.edges["eeeeeeee-eeee-eeee-eeee-eeeeeeeeeeee"] = &Dependency{ID: "eeeeeeee-eeee-eeee-eeee-eeeeeeeeeeee", BlockingID: b, BlockedID: c, Kind: dependency.KindBlocks}
	store.blocks[a] = []string{b}
	store.blocks[b] = []string{c}

	h := &DependencyHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Create(context.Background(), rc, CreateDependencyRequest{
		BlockingID: c,
		BlockedID:  a,
		Kind:       dependency.KindBlocks,
	})

	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestDependencyCreateIsIdempotent(t *testing.T) {
	store := newFakeDependencyStore()
	a := "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	b := "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	store.items[a] = &dependency.Item{ID: a, ProjectID: projA}
	store.items[b] = &dependency.Item{ID: b, ProjectID: projA}
	h := &DependencyHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	req := CreateDependencyRequest{BlockingID: a, BlockedID: b, Kind: dependency.KindBlocks}

	_, err := h.Create(context.Background(), rc, req)
	require.NoError(t, err)
	require.Len(t, store.created, 1)

	_, err = h.Create(context.Background(), rc, req)
	require.NoError(t, err)
	assert.Len(t, store.created, 1, "second dispatch of the same message_id must not create twice")
}

func TestDependencyDeleteSucceeds(t *testing.T) {
	store := newFakeDependencyStore()
	a := "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	b := "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	store.items[a] = &dependency.Item{ID: a, ProjectID: projA}
	store.edges["ffffffff-ffff-ffff-ffff-ffffffffffff"] = &Dependency{ID: "ffffffff-ffff-ffff-ffff-ffffffffffff", BlockingID: a, BlockedID: b, Kind: dependency.KindBlocks}
	h := &DependencyHandler{Store: store}
	rc := newTestRC(authz.RoleEdit)

	_, err := h.Delete(context.Background(), rc, DeleteDependencyRequest{DependencyID: "ffffffff-ffff-ffff-ffff-ffffffffffff"})

	require.NoError(t, err)
	assert.Len(t, store.deleted, 1)
}

func TestDependencyGetRequiresView(t *testing.T) {
	store := newFakeDependencyStore()
	a := "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	store.items[a] = &dependency.Item{ID: a, ProjectID: projA}
	h := &DependencyHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	_, err := h.Get(context.Background(), rc, GetDependenciesRequest{WorkItemID: a})

	require.Error(t, err)
}
