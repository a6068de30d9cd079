package graph

import "fmt"

// stepNodeID formats a linear step's node id. Ids are zero-padded to a
// fixed width so that lexicographic comparisons (used by tooling that
// lists or diffs nodes) agree with numeric order past the tenth step —
// unpadded ids would sort "step_10", "step_11" ahead of "step_2".
func stepNodeID(i int) string {
	return fmt.Sprintf("step_%04d", i)
}

// FromLinearSteps builds a graph out of an ordered list of step module
// names: step_0000 -> step_0001 -> ... -> step_NNNN, with the last step as
// the sole end node. This is the adapter used when a workflow definition
// implements Steps() instead of Graph().
func FromLinearSteps(stepNames []string) *Graph {
	g := &Graph{Nodes: make(map[string]*Node, len(stepNames))}
	if len(stepNames) == 0 {
		return g
	}

	ids := make([]string, len(stepNames))
	for i, name := range stepNames {
		id := stepNodeID(i)
		ids[i] = id
		g.Nodes[id] = &Node{ID: id, Kind: KindStep, StepName: name}
	}
	for i := 0; i < len(ids)-1; i++ {
		g.Edges = append(g.Edges, Edge{From: ids[i], To: ids[i+1]})
	}
	g.StartNode = ids[0]
	g.EndNodes = []string{ids[len(ids)-1]}
	return g
}

// Linearize recovers the ordered step-module list from a graph built by
// FromLinearSteps. It walks from StartNode following each node's single
// outgoing plain edge, and fails if the graph isn't actually linear
// (branches, joins, or fan-out make it not round-trippable). This makes
// FromLinearSteps lossless for the inputs it can produce:
// Linearize(FromLinearSteps(steps)) == steps.
func Linearize(g *Graph) ([]string, error) {
	if g.StartNode == "" {
		return nil, nil
	}

	var out []string
	seen := make(map[string]bool)
	id := g.StartNode
	for {
		n := g.node(id)
		if n == nil {
			return nil, ErrNodeNotFound
		}
		if n.Kind != KindStep {
			return nil, fmt.Errorf("graph: node %q is not a step node, graph is not linear", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("graph: cycle detected at %q, graph is not linear", id)
		}
		seen[id] = true
		out = append(out, n.StepName)

		edges := g.outEdges(id)
		if len(edges) == 0 {
			break
		}
		if len(edges) > 1 {
			return nil, fmt.Errorf("graph: node %q fans out, graph is not linear", id)
		}
		id = edges[0].To
	}
	return out, nil
}
