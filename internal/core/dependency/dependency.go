// Package dependency validates dependency creation and detects would-be
// cycles in the Blocks subgraph via BFS, per spec.md §4.11. Ported from
// original_source's handlers/dependency.rs (detect_circular_dependency).
package dependency

import (
	"context"
	"fmt"
	"strings"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// Kind is the dependency edge kind.
type Kind string

const (
	KindBlocks    Kind = "Blocks"
	KindRelatesTo Kind = "RelatesTo"
)

const maxFanout = 50

// Edge is a directed dependency edge.
type Edge struct {
	ID          string
	BlockingID  string
	BlockedID   string
	Kind        Kind
}

// Graph is read by the cycle detector: it must answer "what does X block?"
// for the Blocks-only subgraph. Implementations live in internal/store.
type Graph interface {
	// OutboundBlocks returns the item ids that blockingID blocks (the
	// Blocks-kind outbound edges from blockingID).
	OutboundBlocks(ctx context.Context, blockingID string) ([]string, error)
}

// Item is the minimal shape needed to check preconditions 1-4.
type Item struct {
	ID        string
	ProjectID string
}

// ItemLookup resolves work item existence and project, and existing edge /
// fanout counts.
type ItemLookup interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	ExistingEdge(ctx context.Context, blockingID, blockedID string, kind Kind) (bool, error)
	InboundCount(ctx context.Context, blockedID string) (int, error)
	OutboundCount(ctx context.Context, blockingID string) (int, error)
}

// CheckPreconditions runs the ordered precondition checks from spec.md
// §4.11, steps 1-4 (step 5, the cycle check, is CheckCycle below since it
// needs the full Graph, not just ItemLookup).
func CheckPreconditions(ctx context.Context, lookup ItemLookup, blockingID, blockedID string, kind Kind) error {
	if blockingID == blockedID {
		return wsproto.Validation("an item cannot depend on itself").WithField("blocked_id")
	}

	blocking, err := lookup.GetItem(ctx, blockingID)
	if err != nil {
		return wsproto.NotFound("blocking item")
	}
	blocked, err := lookup.GetItem(ctx, blockedID)
	if err != nil {
		return wsproto.NotFound("blocked item")
	}
	if blocking.ProjectID != blocked.ProjectID {
		return wsproto.Validation("dependencies must stay within one project").WithField("blocked_id")
	}

	exists, err := lookup.ExistingEdge(ctx, blockingID, blockedID, kind)
	if err != nil {
		return wsproto.Internal("could not check for an existing dependency", true, err)
	}
	if exists {
		return wsproto.Conflict("this dependency already exists")
	}

	inbound, err := lookup.InboundCount(ctx, blockedID)
	if err != nil {
		return wsproto.Internal("could not count inbound dependencies", true, err)
	}
	if inbound >= maxFanout {
		return wsproto.Validation("blocked item already has 50 inbound dependencies").WithField("blocked_id")
	}

	outbound, err := lookup.OutboundCount(ctx, blockingID)
	if err != nil {
		return wsproto.Internal("could not count outbound dependencies", true, err)
	}
	if outbound >= maxFanout {
		return wsproto.Validation("blocking item already has 50 outbound dependencies").WithField("blocking_id")
	}

	return nil
}

// CheckCycle runs step 5 for Blocks-kind edges only: a BFS from blockedID
// following outbound Blocks edges must not reach blockingID. On finding a
// cycle, it reconstructs a human-readable path using the first 8 hex
// digits of each id, in the "A → B → C → A" style spec.md's S3 scenario
// expects.
func CheckCycle(ctx context.Context, graph Graph, blockingID, blockedID string) error {
	visited := map[string]bool{blockedID: true}
	parent := map[string]string{}
	queue := []string{blockedID}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		next, err := graph.OutboundBlocks(ctx, node)
		if err != nil {
			return wsproto.Internal("could not walk dependency graph", true, err)
		}
		for _, n := range next {
			if visited[n] {
				continue
			}
			visited[n] = true
			parent[n] = node
			if n == blockingID {
				path := reconstructPath(parent, blockedID, blockingID)
				return wsproto.Validation(fmt.Sprintf(
					"creating this dependency would introduce a cycle: %s", path,
				)).WithField("blocked_id")
			}
			queue = append(queue, n)
		}
	}
	return nil
}

// reconstructPath walks the parent map from blockingID back to blockedID
// (the path BFS already found through existing edges), then prepends
// blockingID once more at the front to represent the would-be new edge
// that closes the loop, rendering each id as its first 8 hex characters
// joined by " → ". For A Blocks B, B Blocks C and a proposed C Blocks A,
// this yields "C → A → B → C".
func reconstructPath(parent map[string]string, blockedID, blockingID string) string {
	var chain []string
	cur := blockingID
	for {
		chain = append([]string{cur}, chain...)
		if cur == blockedID {
			break
		}
		p, ok := parent[cur]
		if !ok {
			break
		}
		cur = p
	}
	chain = append([]string{blockingID}, chain...)

	short := make([]string, len(chain))
	for i, id := range chain {
		short[i] = shortID(id)
	}
	return strings.Join(short, " → ")
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
