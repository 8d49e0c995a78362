package scheduler

import (
	"sort"
)

// Batch is a set of nodes that run concurrently. Requirement is the
// combined resource vector reserved from the pool for the batch.
type Batch struct {
	Members     []*Profile
	Requirement Resources
}

func (b *Batch) add(p *Profile) {
	b.Members = append(b.Members, p)
	b.Requirement = b.Requirement.Add(p.Resources)
}

// compatible reports whether two nodes may share a batch
func compatible(a, b *Profile) bool {
	if a.Resources.CPUCores > 1.5 && b.Resources.CPUCores > 1.5 {
		return false
	}
	if a.Exclusive && b.Exclusive && a.Node.Type == b.Node.Type {
		return false
	}
	if a.BatchGroup != "" && b.BatchGroup != "" && a.BatchGroup != b.BatchGroup {
		return false
	}
	return true
}

func compatibleWithAll(p *Profile, members []*Profile) bool {
	for _, member := range members {
		if !compatible(p, member) {
			return false
		}
	}
	return true
}

// BuildBatches packs one topological level into batches. Nodes are sorted
// by priority, then longest duration, then highest CPU, so expensive work
// leads its batch. A non-parallelizable node only ever opens a batch.
func BuildBatches(levelIDs []string, profiles map[string]*Profile, pool *ResourcePool, maxWorkers int) []*Batch {
	nodes := make([]*Profile, 0, len(levelIDs))
	for _, id := range levelIDs {
		if p, ok := profiles[id]; ok {
			nodes = append(nodes, p)
		}
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Priority != nodes[j].Priority {
			return nodes[i].Priority < nodes[j].Priority
		}
		if nodes[i].Duration != nodes[j].Duration {
			return nodes[i].Duration > nodes[j].Duration
		}
		return nodes[i].Resources.CPUCores > nodes[j].Resources.CPUCores
	})

	var batches []*Batch
	current := &Batch{}

	for _, node := range nodes {
		fitsCurrent := len(current.Members) < maxWorkers &&
			pool.CanAllocate(current.Requirement.Add(node.Resources)) &&
			(node.Parallelizable || len(current.Members) == 0) &&
			compatibleWithAll(node, current.Members)

		if !fitsCurrent && len(current.Members) > 0 {
			batches = append(batches, current)
			current = &Batch{}
		}
		current.add(node)

		// a non-parallelizable node seals its batch immediately
		if !node.Parallelizable {
			batches = append(batches, current)
			current = &Batch{}
		}
	}
	if len(current.Members) > 0 {
		batches = append(batches, current)
	}

	return mergeBatches(batches, pool, maxWorkers)
}

// mergeBatches combines adjacent batches when the union still fits the
// worker cap, the pool, and every cross-pair compatibility check.
func mergeBatches(batches []*Batch, pool *ResourcePool, maxWorkers int) []*Batch {
	if len(batches) < 2 {
		return batches
	}

	merged := []*Batch{batches[0]}
	for _, next := range batches[1:] {
		last := merged[len(merged)-1]
		if canMerge(last, next, pool, maxWorkers) {
			for _, member := range next.Members {
				last.add(member)
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

func canMerge(a, b *Batch, pool *ResourcePool, maxWorkers int) bool {
	if len(a.Members)+len(b.Members) > maxWorkers {
		return false
	}
	if !pool.CanAllocate(a.Requirement.Add(b.Requirement)) {
		return false
	}
	for _, member := range a.Members {
		if !member.Parallelizable {
			return false
		}
		if !compatibleWithAll(member, b.Members) {
			return false
		}
	}
	for _, member := range b.Members {
		if !member.Parallelizable {
			return false
		}
	}
	return true
}
