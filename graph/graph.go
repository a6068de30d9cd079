package graph

import "github.com/flowforge/workflow-go/model"

// Graph is a declarative DAG: nodes plus edges, a start node, and a set of
// terminal nodes. It is built once (via Builder or FromLinearSteps) and
// then read-only for the lifetime of a workflow run.
type Graph struct {
	Nodes     map[string]*Node
	Edges     []Edge
	StartNode string
	EndNodes  []string
}

// node looks up a node by id, or nil if absent.
func (g *Graph) node(id string) *Node {
	if g.Nodes == nil {
		return nil
	}
	return g.Nodes[id]
}

// outEdges returns the edges leading out of id, in the order they were
// added to the graph.
func (g *Graph) outEdges(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// IsEnd reports whether id is one of the graph's declared end nodes, or
// has no outgoing edges at all (an implicit terminal).
func (g *Graph) IsEnd(id string) bool {
	for _, e := range g.EndNodes {
		if e == id {
			return true
		}
	}
	return len(g.outEdges(id)) == 0
}

// Resolve computes the next node id(s) to execute given the current node
// and workflow state:
//
//   - step node: its outgoing targets, in edge-insertion order.
//   - branch node: evaluate Predicate(state); follow the edge whose Tag
//     matches the result, falling back to the DefaultTag edge, failing
//     with ErrNoMatchingBranch if neither exists.
//   - join node: its outgoing targets (transparent advance).
func Resolve(g *Graph, currentID string, state model.State) ([]string, error) {
	n := g.node(currentID)
	if n == nil {
		return nil, ErrNodeNotFound
	}

	switch n.Kind {
	case KindStep, KindJoin:
		return targets(g.outEdges(currentID)), nil

	case KindBranch:
		tag := ""
		if n.Predicate != nil {
			tag = n.Predicate(state)
		}
		edges := g.outEdges(currentID)
		var defaultEdge *Edge
		for i := range edges {
			if edges[i].Tag == tag {
				return []string{edges[i].To}, nil
			}
			if edges[i].Tag == DefaultTag {
				defaultEdge = &edges[i]
			}
		}
		if defaultEdge != nil {
			return []string{defaultEdge.To}, nil
		}
		return nil, ErrNoMatchingBranch

	default:
		return nil, ErrNodeNotFound
	}
}

func targets(edges []Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.To)
	}
	return out
}
