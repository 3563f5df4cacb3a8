package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAncestorsAndDescendants(t *testing.T) {
	// epic -> story -> task1, task2
	r := Build([]Node{
		{ID: "epic"},
		{ID: "story", ParentID: "epic"},
		{ID: "task1", ParentID: "story"},
		{ID: "task2", ParentID: "story"},
	})

	assert.ElementsMatch(t, []string{"story", "epic"}, r.Ancestors("task1"))
	assert.ElementsMatch(t, []string{"story", "task1", "task2"}, r.Descendants("epic"))
	assert.Empty(t, r.Ancestors("epic"))
	assert.Empty(t, r.Descendants("task1"))
}

func TestCorruptedCycleTerminates(t *testing.T) {
	// a -> b -> a, a corrupted cycle that should never occur on the write
	// path but must not hang a read.
	r := Build([]Node{
		{ID: "a", ParentID: "b"},
		{ID: "b", ParentID: "a"},
	})

	ancestors := r.Ancestors("a")
	assert.NotEmpty(t, ancestors)
	assert.LessOrEqual(t, len(ancestors), 2)
}
