package graph

import "testing"

func TestOrderKeyIsDeterministic(t *testing.T) {
	a := OrderKey("step_0000", 2)
	b := OrderKey("step_0000", 2)
	if a != b {
		t.Fatalf("expected OrderKey to be deterministic, got %d and %d", a, b)
	}
	if OrderKey("step_0000", 0) == OrderKey("step_0000", 1) {
		t.Fatal("expected distinct edge indices to produce distinct keys (with overwhelming probability)")
	}
}

func TestOrderedTargetsIsStableAcrossCalls(t *testing.T) {
	g := &Graph{
		Nodes: map[string]*Node{
			"fan":  {ID: "fan", Kind: KindStep, StepName: "fan"},
			"a":    {ID: "a", Kind: KindStep, StepName: "a"},
			"b":    {ID: "b", Kind: KindStep, StepName: "b"},
			"c":    {ID: "c", Kind: KindStep, StepName: "c"},
		},
		Edges: []Edge{
			{From: "fan", To: "a"},
			{From: "fan", To: "b"},
			{From: "fan", To: "c"},
		},
		StartNode: "fan",
	}
	first := OrderedTargets(g, "fan")
	second := OrderedTargets(g, "fan")
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 targets, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected stable ordering across calls, got %v then %v", first, second)
		}
	}
}
