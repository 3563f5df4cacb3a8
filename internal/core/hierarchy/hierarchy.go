// Package hierarchy computes ancestor/descendant closures over the
// work-item parent tree for read responses, per spec.md §4.10. The write
// path enforces that cycles cannot be introduced; this package guards
// against corrupted data with a visited set rather than assuming the tree
// is always well-formed.
package hierarchy

// Node is the minimal shape this package needs from a work item.
type Node struct {
	ID       string
	ParentID string // empty means no parent
}

// Closure holds the computed ancestor and descendant id lists for one item.
type Closure struct {
	Ancestors   []string
	Descendants []string
}

// Resolver builds parent->children and child->parent adjacency maps once
// and answers closure queries against them in linear time per query.
type Resolver struct {
	parentOf   map[string]string
	childrenOf map[string][]string
}

// Build constructs a Resolver from a flat set of nodes in linear time.
func Build(nodes []Node) *Resolver {
	r := &Resolver{
		parentOf:   make(map[string]string, len(nodes)),
		childrenOf: make(map[string][]string, len(nodes)),
	}
	for _, n := range nodes {
		if n.ParentID != "" {
			r.parentOf[n.ID] = n.ParentID
			r.childrenOf[n.ParentID] = append(r.childrenOf[n.ParentID], n.ID)
		}
	}
	return r
}

// Ancestors walks up via child->parent, carrying a visited set to guard
// against a corrupted cycle looping forever.
func (r *Resolver) Ancestors(id string) []string {
	visited := map[string]bool{id: true}
	var out []string
	cur := id
	for {
		parent, ok := r.parentOf[cur]
		if !ok || visited[parent] {
			break
		}
		visited[parent] = true
		out = append(out, parent)
		cur = parent
	}
	return out
}

// Descendants does a BFS via parent->children, carrying a visited set for
// the same reason.
func (r *Resolver) Descendants(id string) []string {
	visited := map[string]bool{id: true}
	queue := append([]string{}, r.childrenOf[id]...)
	var out []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		out = append(out, next)
		queue = append(queue, r.childrenOf[next]...)
	}
	return out
}

// Closures computes ancestor and descendant lists for every node passed to
// Build that has a parent or at least one child; a node with neither is not
// a key of the returned map.
func (r *Resolver) Closures() map[string]Closure {
	out := make(map[string]Closure)
	seen := make(map[string]bool)
	for id := range r.parentOf {
		seen[id] = true
	}
	for id := range r.childrenOf {
		seen[id] = true
	}
	for id := range seen {
		out[id] = Closure{Ancestors: r.Ancestors(id), Descendants: r.Descendants(id)}
	}
	return out
}
