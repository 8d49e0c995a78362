package scheduler

import (
	"github.com/lyzr/ragflow/common/metrics"
	"github.com/lyzr/ragflow/common/workflow"
)

// Priority orders nodes within a level. Lower values sort first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

var priorityNames = map[string]Priority{
	"critical": PriorityCritical,
	"high":     PriorityHigh,
	"normal":   PriorityNormal,
	"low":      PriorityLow,
}

// exclusiveTypes never share a batch with another node of the same type
var exclusiveTypes = map[string]bool{
	workflow.NodeTypeLLM:          true,
	workflow.NodeTypeRAGRetriever: true,
}

// typePriorities hold the per-type default priority
var typePriorities = map[string]Priority{
	workflow.NodeTypeInput:        PriorityHigh,
	workflow.NodeTypeOutput:       PriorityHigh,
	workflow.NodeTypeLLM:          PriorityHigh,
	workflow.NodeTypeRAGRetriever: PriorityNormal,
	workflow.NodeTypeClassifier:   PriorityNormal,
	workflow.NodeTypeCondition:    PriorityNormal,
	workflow.NodeTypeTransformer:  PriorityLow,
	workflow.NodeTypeCodeExecutor: PriorityLow,
}

// typeResources hold the per-type baseline estimates; duration in seconds
var typeResources = map[string]struct {
	res      Resources
	duration float64
}{
	workflow.NodeTypeInput:           {Resources{CPUCores: 0.1, MemoryMB: 16}, 0.01},
	workflow.NodeTypeOutput:          {Resources{CPUCores: 0.1, MemoryMB: 16}, 0.01},
	workflow.NodeTypeLLM:             {Resources{CPUCores: 0.5, MemoryMB: 128, NetworkMbps: 10}, 2.0},
	workflow.NodeTypeRAGRetriever:    {Resources{CPUCores: 0.5, MemoryMB: 256, NetworkMbps: 20}, 1.0},
	workflow.NodeTypeHybridRetriever: {Resources{CPUCores: 1.0, MemoryMB: 256, NetworkMbps: 30}, 1.0},
	workflow.NodeTypeRetriever:       {Resources{CPUCores: 0.5, MemoryMB: 256, NetworkMbps: 20}, 1.0},
	workflow.NodeTypeReranker:        {Resources{CPUCores: 0.5, MemoryMB: 128, NetworkMbps: 10}, 0.5},
	workflow.NodeTypeClassifier:      {Resources{CPUCores: 0.5, MemoryMB: 128, NetworkMbps: 10}, 1.0},
	workflow.NodeTypeParser:          {Resources{CPUCores: 0.3, MemoryMB: 64}, 0.05},
	workflow.NodeTypeCondition:       {Resources{CPUCores: 0.1, MemoryMB: 16}, 0.01},
	workflow.NodeTypeTransformer:     {Resources{CPUCores: 0.3, MemoryMB: 64}, 0.05},
	workflow.NodeTypeEmbeddings:      {Resources{CPUCores: 0.5, MemoryMB: 128, NetworkMbps: 10}, 0.5},
	workflow.NodeTypeHTTPRequest:     {Resources{CPUCores: 0.2, MemoryMB: 32, NetworkMbps: 10}, 1.0},
	workflow.NodeTypeCodeExecutor:    {Resources{CPUCores: 1.0, MemoryMB: 256, StorageIOMBps: 10}, 1.0},
}

var defaultResources = Resources{CPUCores: 0.3, MemoryMB: 64, NetworkMbps: 5}

const defaultDurationEstimate = 0.5

// Profile is the scheduling view of one node
type Profile struct {
	Node           *workflow.Node
	Priority       Priority
	Resources      Resources
	Duration       float64
	Parallelizable bool
	BatchGroup     string
	Exclusive      bool
}

// Analyze profiles every node in the definition. Duration estimates prefer
// the observed mean for the node id over the type default.
func Analyze(def *workflow.Definition, monitor *metrics.Monitor) map[string]*Profile {
	profiles := make(map[string]*Profile, len(def.Nodes))
	for i := range def.Nodes {
		node := &def.Nodes[i]
		profiles[node.ID] = profileNode(node, monitor)
	}
	return profiles
}

func profileNode(node *workflow.Node, monitor *metrics.Monitor) *Profile {
	priority := PriorityNormal
	if p, ok := typePriorities[node.Type]; ok {
		priority = p
	}
	if name, ok := node.Config["priority"].(string); ok {
		if p, ok := priorityNames[name]; ok {
			priority = p
		}
	}

	res := defaultResources
	duration := defaultDurationEstimate
	if defaults, ok := typeResources[node.Type]; ok {
		res = defaults.res
		duration = defaults.duration
	}

	if flag, _ := node.Config["cpu_intensive"].(bool); flag {
		res.CPUCores *= 2
	}
	if flag, _ := node.Config["memory_intensive"].(bool); flag {
		res.MemoryMB *= 2
	}
	if flag, _ := node.Config["network_intensive"].(bool); flag {
		res.NetworkMbps *= 2
	}

	if monitor != nil {
		if mean, ok := monitor.MeanDuration(node.ID); ok {
			duration = mean
		}
	}

	parallelizable := true
	if node.Type == workflow.NodeTypeInput || node.Type == workflow.NodeTypeOutput {
		parallelizable = false
	}
	if flag, _ := node.Config["sequential_only"].(bool); flag {
		parallelizable = false
	}
	if flag, _ := node.Config["stateful"].(bool); flag {
		parallelizable = false
	}

	group, _ := node.Config["batch_group"].(string)

	return &Profile{
		Node:           node,
		Priority:       priority,
		Resources:      res,
		Duration:       duration,
		Parallelizable: parallelizable,
		BatchGroup:     group,
		Exclusive:      exclusiveTypes[node.Type],
	}
}
