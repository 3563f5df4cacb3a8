package dependency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph implements Graph over a static adjacency map, modeling
// A Blocks B, B Blocks C.
type fakeGraph struct {
	blocks map[string][]string
}

func (g *fakeGraph) OutboundBlocks(ctx context.Context, blockingID string) ([]string, error) {
	return g.blocks[blockingID], nil
}

func TestCheckCycleDetectsS3Scenario(t *testing.T) {
	graph := &fakeGraph{blocks: map[string][]string{
		"aaaaaaaa-0000-0000-0000-000000000001": {"bbbbbbbb-0000-0000-0000-000000000002"},
		"bbbbbbbb-0000-0000-0000-000000000002": {"cccccccc-0000-0000-0000-000000000003"},
	}}

	// Request: CreateDependency{blocking: C, blocked: A}
	err := CheckCycle(context.Background(), graph,
		"cccccccc-0000-0000-0000-000000000003", "aaaaaaaa-0000-0000-0000-000000000001")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cccccccc → aaaaaaaa → bbbbbbbb → cccccccc")
}

func TestCheckCycleAllowsAcyclicEdge(t *testing.T) {
	graph := &fakeGraph{blocks: map[string][]string{
		"a": {"b"},
	}}
	err := CheckCycle(context.Background(), graph, "c", "a")
	require.NoError(t, err)
}

type fakeLookup struct {
	items    map[string]*Item
	edges    map[string]bool
	inbound  map[string]int
	outbound map[string]int
}

func (l *fakeLookup) GetItem(ctx context.Context, id string) (*Item, error) {
	if it, ok := l.items[id]; ok {
		return it, nil
	}
	return nil, assertErr{}
}
func (l *fakeLookup) ExistingEdge(ctx context.Context, blockingID, blockedID string, kind Kind) (bool, error) {
	return l.edges[blockingID+"->"+blockedID], nil
}
func (l *fakeLookup) InboundCount(ctx context.Context, blockedID string) (int, error) {
	return l.inbound[blockedID], nil
}
func (l *fakeLookup) OutboundCount(ctx context.Context, blockingID string) (int, error) {
	return l.outbound[blockingID], nil
}

type assertErr struct{}

func (assertErr) Error() string { return "not found" }

func TestCheckPreconditionsRejectsSelfEdge(t *testing.T) {
	err := CheckPreconditions(context.Background(), &fakeLookup{}, "a", "a", KindBlocks)
	require.Error(t, err)
}

func TestCheckPreconditionsRejectsCrossProject(t *testing.T) {
	lookup := &fakeLookup{items: map[string]*Item{
		"a": {ID: "a", ProjectID: "p1"},
		"b": {ID: "b", ProjectID: "p2"},
	}}
	err := CheckPreconditions(context.Background(), lookup, "a", "b", KindBlocks)
	require.Error(t, err)
}

func TestCheckPreconditionsRejectsDuplicateEdge(t *testing.T) {
	lookup := &fakeLookup{
		items: map[string]*Item{
			"a": {ID: "a", ProjectID: "p1"},
			"b": {ID: "b", ProjectID: "p1"},
		},
		edges: map[string]bool{"a->b": true},
	}
	err := CheckPreconditions(context.Background(), lookup, "a", "b", KindBlocks)
	require.Error(t, err)
}

func TestCheckPreconditionsRejectsFanoutOverCap(t *testing.T) {
	lookup := &fakeLookup{
		items: map[string]*Item{
			"a": {ID: "a", ProjectID: "p1"},
			"b": {ID: "b", ProjectID: "p1"},
		},
		inbound: map[string]int{"b": 50},
	}
	err := CheckPreconditions(context.Background(), lookup, "a", "b", KindBlocks)
	require.Error(t, err)
}

func TestCheckPreconditionsPasses(t *testing.T) {
	lookup := &fakeLookup{
		items: map[string]*Item{
			"a": {ID: "a", ProjectID: "p1"},
			"b": {ID: "b", ProjectID: "p1"},
		},
	}
	err := CheckPreconditions(context.Background(), lookup, "a", "b", KindBlocks)
	require.NoError(t, err)
}
