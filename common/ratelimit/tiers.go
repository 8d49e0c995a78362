package ratelimit

import "github.com/lyzr/ragflow/common/workflow"

// Tier buckets workflow submissions by cost, so tenants running cheap
// transform pipelines are not starved by tenants running model-heavy ones.
// Each tier has its own window counter.
type Tier string

const (
	TierLight    Tier = "light"    // no model, sandbox, or retrieval nodes
	TierStandard Tier = "standard" // 1-2 costly nodes
	TierHeavy    Tier = "heavy"    // 3+ costly nodes
)

const windowSeconds = 60

// per-tenant submissions per window, by tier
var tierLimits = map[Tier]int64{
	TierLight:    120,
	TierStandard: 30,
	TierHeavy:    10,
}

// GlobalLimit caps total submissions per window across all tenants
const GlobalLimit int64 = 1000

// costlyTypes hold a model call, a sandbox slot, or an embedding pass
var costlyTypes = map[string]bool{
	workflow.NodeTypeLLM:             true,
	workflow.NodeTypeClassifier:      true,
	workflow.NodeTypeCodeExecutor:    true,
	workflow.NodeTypeEmbeddings:      true,
	workflow.NodeTypeRAGRetriever:    true,
	workflow.NodeTypeHybridRetriever: true,
}

// ClassifyDefinition derives the rate tier from the definition's node mix
func ClassifyDefinition(def *workflow.Definition) Tier {
	costly := 0
	for _, node := range def.Nodes {
		if costlyTypes[node.Type] {
			costly++
		}
	}
	switch {
	case costly == 0:
		return TierLight
	case costly <= 2:
		return TierStandard
	default:
		return TierHeavy
	}
}

// LimitForTier returns the per-window submission cap for a tier
func LimitForTier(tier Tier) int64 {
	if limit, ok := tierLimits[tier]; ok {
		return limit
	}
	return tierLimits[TierHeavy]
}
