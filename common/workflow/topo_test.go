package workflow

import (
	"errors"
	"testing"
)

func linearDef(ids ...string) *Definition {
	def := &Definition{ID: "wf"}
	for _, id := range ids {
		def.Nodes = append(def.Nodes, Node{ID: id, Type: NodeTypeTransformer})
	}
	for i := 1; i < len(ids); i++ {
		def.Edges = append(def.Edges, Edge{
			ID:     ids[i-1] + "-" + ids[i],
			Source: ids[i-1],
			Target: ids[i],
		})
	}
	return def
}

func TestLevels_Linear(t *testing.T) {
	def := linearDef("a", "b", "c")

	levels, err := Levels(def)
	if err != nil {
		t.Fatalf("Levels failed: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	for i, want := range []string{"a", "b", "c"} {
		if len(levels[i]) != 1 || levels[i][0] != want {
			t.Errorf("level %d: expected [%s], got %v", i, want, levels[i])
		}
	}
}

func TestLevels_Diamond(t *testing.T) {
	def := &Definition{
		ID: "wf",
		Nodes: []Node{
			{ID: "a", Type: NodeTypeInput},
			{ID: "b", Type: NodeTypeTransformer},
			{ID: "c", Type: NodeTypeTransformer},
			{ID: "d", Type: NodeTypeOutput},
		},
		Edges: []Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "a", Target: "c"},
			{ID: "e3", Source: "b", Target: "d"},
			{ID: "e4", Source: "c", Target: "d"},
		},
	}

	levels, err := Levels(def)
	if err != nil {
		t.Fatalf("Levels failed: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	// middle level is sorted for determinism
	if levels[1][0] != "b" || levels[1][1] != "c" {
		t.Errorf("expected middle level [b c], got %v", levels[1])
	}
}

func TestLevels_CycleDetected(t *testing.T) {
	def := linearDef("a", "b", "c")
	def.Edges = append(def.Edges, Edge{ID: "back", Source: "c", Target: "a"})

	if _, err := Levels(def); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestLevels_SelfLoop(t *testing.T) {
	def := linearDef("a")
	def.Edges = append(def.Edges, Edge{ID: "self", Source: "a", Target: "a"})

	if _, err := Levels(def); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle for self loop, got %v", err)
	}
}

func TestLevels_Empty(t *testing.T) {
	levels, err := Levels(&Definition{ID: "empty"})
	if err != nil {
		t.Fatalf("Levels failed on empty graph: %v", err)
	}
	if len(levels) != 0 {
		t.Errorf("expected no levels, got %v", levels)
	}
}

func TestDescendants(t *testing.T) {
	def := linearDef("a", "b", "c", "d")
	def.Nodes = append(def.Nodes, Node{ID: "x", Type: NodeTypeTransformer})

	desc := Descendants(def, "b")
	if desc["a"] || desc["b"] {
		t.Errorf("descendants of b must not include a or b: %v", desc)
	}
	if !desc["c"] || !desc["d"] {
		t.Errorf("descendants of b must include c and d: %v", desc)
	}
	if desc["x"] {
		t.Errorf("isolated node x must not be a descendant: %v", desc)
	}
}

func TestOrder_RespectsEdges(t *testing.T) {
	def := linearDef("c", "a", "b")

	order, err := Order(def)
	if err != nil {
		t.Fatalf("Order failed: %v", err)
	}
	index := map[string]int{}
	for i, id := range order {
		index[id] = i
	}
	for _, edge := range def.Edges {
		if index[edge.Source] >= index[edge.Target] {
			t.Errorf("edge %s violated: %s at %d, %s at %d",
				edge.ID, edge.Source, index[edge.Source], edge.Target, index[edge.Target])
		}
	}
}
