package workflow

import (
	"fmt"
	"sort"
)

// ErrCycle is returned when the graph is not a DAG
var ErrCycle = fmt.Errorf("workflow contains a cycle")

// Adjacency holds the dependency structure derived from edges.
// Predecessors[n] is the set of nodes n depends on; Successors[n] the
// set of nodes depending on n.
type Adjacency struct {
	Predecessors map[string]map[string]bool
	Successors   map[string]map[string]bool
}

// BuildAdjacency derives predecessor/successor sets from the definition
func BuildAdjacency(def *Definition) *Adjacency {
	adj := &Adjacency{
		Predecessors: make(map[string]map[string]bool, len(def.Nodes)),
		Successors:   make(map[string]map[string]bool, len(def.Nodes)),
	}

	for i := range def.Nodes {
		id := def.Nodes[i].ID
		adj.Predecessors[id] = make(map[string]bool)
		adj.Successors[id] = make(map[string]bool)
	}

	for _, edge := range def.Edges {
		if _, ok := adj.Predecessors[edge.Target]; !ok {
			continue
		}
		if _, ok := adj.Successors[edge.Source]; !ok {
			continue
		}
		adj.Predecessors[edge.Target][edge.Source] = true
		adj.Successors[edge.Source][edge.Target] = true
	}

	return adj
}

// Levels computes topological levels via Kahn's algorithm. Each level is a
// set of nodes whose predecessors are all in earlier levels. Node ids within
// a level are sorted for deterministic iteration. Cycle detection is a side
// effect: a non-empty remainder with no zero in-degree node means a cycle.
func Levels(def *Definition) ([][]string, error) {
	adj := BuildAdjacency(def)

	inDegree := make(map[string]int, len(def.Nodes))
	for i := range def.Nodes {
		inDegree[def.Nodes[i].ID] = len(adj.Predecessors[def.Nodes[i].ID])
	}

	var levels [][]string
	remaining := len(inDegree)

	for remaining > 0 {
		var level []string
		for id, deg := range inDegree {
			if deg == 0 {
				level = append(level, id)
			}
		}

		if len(level) == 0 {
			return nil, ErrCycle
		}

		sort.Strings(level)

		for _, id := range level {
			delete(inDegree, id)
			for succ := range adj.Successors[id] {
				if _, ok := inDegree[succ]; ok {
					inDegree[succ]--
				}
			}
		}

		remaining -= len(level)
		levels = append(levels, level)
	}

	return levels, nil
}

// Order returns a full topological order of the node ids
func Order(def *Definition) ([]string, error) {
	levels, err := Levels(def)
	if err != nil {
		return nil, err
	}

	var order []string
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

// Descendants returns the set of nodes reachable from start (excluding
// start itself). Iterative BFS; workflows may be deep.
func Descendants(def *Definition, start string) map[string]bool {
	adj := BuildAdjacency(def)

	visited := make(map[string]bool)
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for succ := range adj.Successors[current] {
			if !visited[succ] {
				visited[succ] = true
				queue = append(queue, succ)
			}
		}
	}

	return visited
}
