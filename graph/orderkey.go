package graph

import (
	"crypto/sha256"
	"encoding/binary"
)

// OrderKey derives a deterministic sort key for one outgoing edge of a
// fan-out node, from the parent node id and the edge's index in
// Graph.Edges. When a step node has more than one outgoing edge, an actor
// walking the graph sorts the next-node ids by OrderKey before queuing
// them, so the order those branches run in is stable across replays
// instead of dependent on goroutine scheduling.
func OrderKey(parentNodeID string, edgeIndex int) uint64 {
	h := sha256.New()
	h.Write([]byte(parentNodeID))
	edgeBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(edgeBytes, uint32(edgeIndex))
	h.Write(edgeBytes)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// OrderedTargets returns the outgoing targets of nodeID sorted by
// OrderKey, for deterministic traversal of a fan-out step.
func OrderedTargets(g *Graph, nodeID string) []string {
	edges := g.outEdges(nodeID)
	type keyed struct {
		key uint64
		to  string
	}
	ks := make([]keyed, len(edges))
	for i, e := range edges {
		ks[i] = keyed{key: OrderKey(nodeID, i), to: e.To}
	}
	for i := 1; i < len(ks); i++ {
		for j := i; j > 0 && ks[j].key < ks[j-1].key; j-- {
			ks[j], ks[j-1] = ks[j-1], ks[j]
		}
	}
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.to
	}
	return out
}
