package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeIsIdempotent(t *testing.T) {
	s := NewSet()
	f := Filter{ProjectID: "p1", Kind: ResourceWorkItem}

	assert.True(t, s.Subscribe(f))
	assert.False(t, s.Subscribe(f))
	assert.Equal(t, 1, s.Len())
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	s := NewSet()
	assert.False(t, s.Unsubscribe(Filter{ProjectID: "p1", Kind: ResourceProject}))
}

func TestMatchesOnlyExactFilter(t *testing.T) {
	s := NewSet()
	s.Subscribe(Filter{ProjectID: "p1", Kind: ResourceWorkItem})

	assert.True(t, s.Matches(Filter{ProjectID: "p1", Kind: ResourceWorkItem}))
	assert.False(t, s.Matches(Filter{ProjectID: "p2", Kind: ResourceWorkItem}))
	assert.False(t, s.Matches(Filter{ProjectID: "p1", Kind: ResourceSprint}))
}

func TestResourceKindValid(t *testing.T) {
	assert.True(t, ResourceKind("project").Valid())
	assert.False(t, ResourceKind("bogus").Valid())
}
