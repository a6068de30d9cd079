package graph

// Builder constructs a Graph programmatically out of step, branch, and
// join nodes with typed edges. Unlike FromLinearSteps, it supports
// branching and joining.
type Builder struct {
	g *Graph
}

// NewBuilder starts an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{g: &Graph{Nodes: make(map[string]*Node)}}
}

// Step registers a step node that invokes the named step module.
func (b *Builder) Step(id, stepName string) *Builder {
	b.g.Nodes[id] = &Node{ID: id, Kind: KindStep, StepName: stepName}
	return b
}

// Branch registers a branch node evaluated by predicate.
func (b *Builder) Branch(id string, predicate Predicate) *Builder {
	b.g.Nodes[id] = &Node{ID: id, Kind: KindBranch, Predicate: predicate}
	return b
}

// Join registers a structural join node.
func (b *Builder) Join(id string) *Builder {
	b.g.Nodes[id] = &Node{ID: id, Kind: KindJoin}
	return b
}

// Edge adds a plain (unconditional) edge from a step or join node.
func (b *Builder) Edge(from, to string) *Builder {
	b.g.Edges = append(b.g.Edges, Edge{From: from, To: to})
	return b
}

// BranchEdge adds a tagged edge out of a branch node. Use DefaultTag for
// the fallback arm.
func (b *Builder) BranchEdge(from, to, tag string) *Builder {
	b.g.Edges = append(b.g.Edges, Edge{From: from, To: to, Tag: tag})
	return b
}

// Start sets the graph's entry node.
func (b *Builder) Start(id string) *Builder {
	b.g.StartNode = id
	return b
}

// End appends to the graph's declared terminal nodes.
func (b *Builder) End(ids ...string) *Builder {
	b.g.EndNodes = append(b.g.EndNodes, ids...)
	return b
}

// Build returns the assembled graph.
func (b *Builder) Build() *Graph {
	return b.g
}
