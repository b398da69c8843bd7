package dagexec

import (
	"github.com/overseer-dev/overseer/internal/core"
)

// validateGraph checks that every edge endpoint names a node and that the
// graph is acyclic. Runs on creation and again on every dynamic insert.
func validateGraph(nodes []*core.Node, edges []core.Edge) error {
	index := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return core.Validation("node with empty id")
		}
		if index[n.ID] {
			return core.Validation("duplicate node id: %s", n.ID)
		}
		index[n.ID] = true
	}
	adj := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if !index[e.From] {
			return core.Validation("edge references unknown node: %s", e.From)
		}
		if !index[e.To] {
			return core.Validation("edge references unknown node: %s", e.To)
		}
		adj[e.From] = append(adj[e.From], e.To)
	}
	return checkAcyclic(nodes, adj)
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the DFS stack
	colorBlack        // finished
)

// checkAcyclic runs a depth-first search with in-stack coloring; a gray
// node reached again closes a cycle.
func checkAcyclic(nodes []*core.Node, adj map[string][]string) error {
	color := make(map[string]int, len(nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = colorGray
		for _, next := range adj[id] {
			switch color[next] {
			case colorGray:
				return false
			case colorWhite:
				if !visit(next) {
					return false
				}
			}
		}
		color[id] = colorBlack
		return true
	}
	for _, n := range nodes {
		if color[n.ID] == colorWhite && !visit(n.ID) {
			return core.Validation("graph contains a cycle through node %s", n.ID)
		}
	}
	return nil
}

// hasFailedAncestor reports whether any transitive predecessor of nodeID
// is in the failed state.
func hasFailedAncestor(d *core.DAG, nodeID string) bool {
	seen := map[string]bool{nodeID: true}
	stack := d.Predecessors(nodeID)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		n := d.NodeByID(id)
		if n == nil {
			continue
		}
		if n.Status == core.NodeFailed {
			return true
		}
		stack = append(stack, d.Predecessors(id)...)
	}
	return false
}
