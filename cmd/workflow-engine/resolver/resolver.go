// Package resolver builds the input mapping delivered to a node: edge
// consumption with condition gating and transforms, alias resolution
// against node signatures, config overrides, and template rendering.
package resolver

import (
	"strings"

	"github.com/lyzr/ragflow/common/expr"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/template"
	"github.com/lyzr/ragflow/common/workflow"
)

// sourceAliasPriority orders the output keys tried when an edge uses the
// universal output alias.
var sourceAliasPriority = []string{"content", "result", "documents", "data"}

// targetAliasPriority and targetAliasFallback order the input keys tried
// when an edge uses the universal input alias.
var (
	targetAliasPriority = []string{"prompt", "query", "text"}
	targetAliasFallback = []string{"data", "prompt", "text"}
)

// Resolver resolves node inputs from upstream outputs per edges
type Resolver struct {
	conditions *expr.ConditionEvaluator
	transforms *expr.TransformEvaluator
	log        *logger.Logger
}

// New creates a resolver
func New(conditions *expr.ConditionEvaluator, transforms *expr.TransformEvaluator, log *logger.Logger) *Resolver {
	return &Resolver{
		conditions: conditions,
		transforms: transforms,
		log:        log,
	}
}

// Resolve gathers the input for one node. nodeData maps node id to its
// published output. Called once per node per execution.
func (r *Resolver) Resolve(
	def *workflow.Definition,
	node *workflow.Node,
	nodeData map[string]map[string]interface{},
	ec *workflow.ExecutionContext,
) map[string]interface{} {
	input := make(map[string]interface{})
	contributed := false

	for _, edge := range def.Edges {
		if edge.Target != node.ID {
			continue
		}

		output, ok := nodeData[edge.Source]
		if !ok {
			continue
		}

		// Gate the edge on its condition. Evaluation failures are
		// fail-open; compile failures were caught at validation.
		if edge.Condition != "" {
			pass, err := r.conditions.Evaluate(edge.Condition, output, ec.InputData, ec.GlobalContext)
			if err != nil {
				r.log.Warn("edge condition failed to compile at runtime, contributing anyway",
					"edge", edge.ID, "error", err)
			} else if !pass {
				continue
			}
		}

		sourceKey := resolveSourceKey(def.NodeByID(edge.Source), edge.SourceOutput, output)

		var value interface{}
		switch {
		case wantsWholePayload(node, edge):
			// output nodes consume the full upstream payload so their
			// templates and select_path see the original key names
			value = output
		case keyPresent(output, sourceKey):
			// A present key whose value is null stays null
			value = output[sourceKey]
		default:
			// Whole-payload fallback for legacy configs
			value = output
		}

		if edge.Transform != "" {
			transformed, err := r.transforms.Apply(edge.Transform, value, ec.GlobalContext)
			if err != nil {
				r.log.Warn("edge transform failed, keeping original value",
					"edge", edge.ID, "error", err)
			} else {
				value = transformed
			}
		}

		targetKey := resolveTargetKey(node, edge.TargetInput)
		assign(input, targetKey, value)
		contributed = true
	}

	if !contributed {
		for k, v := range ec.InputData {
			input[k] = v
		}
	}

	r.applyOverrides(node, input, ec)

	return input
}

// wantsWholePayload reports whether the edge should carry the entire
// source output. True for output-type targets unless the edge names an
// explicit non-alias source port.
func wantsWholePayload(target *workflow.Node, edge workflow.Edge) bool {
	if target.Type != workflow.NodeTypeOutput {
		return false
	}
	return edge.SourceOutput == "" || edge.SourceOutput == "output" || edge.SourceOutput == "output-0"
}

func keyPresent(output map[string]interface{}, key string) bool {
	_, present := output[key]
	return present
}

// resolveSourceKey maps the edge's source_output to a concrete key of the
// published output map.
func resolveSourceKey(source *workflow.Node, key string, output map[string]interface{}) string {
	if key == "" {
		key = "output"
	}

	if !strings.HasPrefix(key, "output") {
		return key
	}
	if _, present := output[key]; present {
		return key
	}

	for _, candidate := range sourceAliasPriority {
		if _, present := output[candidate]; present {
			return candidate
		}
	}

	if source != nil && source.Signature != nil && len(source.Signature.Outputs) > 0 {
		return source.Signature.Outputs[0].Name
	}

	return key
}

// resolveTargetKey maps the edge's target_input to a concrete input key of
// the target node.
func resolveTargetKey(target *workflow.Node, key string) string {
	if key != "" && key != "input" && key != "input-0" {
		return key
	}

	declared := make(map[string]bool)
	if target.Signature != nil {
		for _, port := range target.Signature.Inputs {
			declared[port.Name] = true
		}
	}

	for _, candidate := range targetAliasPriority {
		if declared[candidate] {
			return candidate
		}
	}
	for _, candidate := range targetAliasFallback {
		if declared[candidate] {
			return candidate
		}
	}
	if target.Signature != nil && len(target.Signature.Inputs) > 0 {
		return target.Signature.Inputs[0].Name
	}

	return "data"
}

// assign writes a value into the input map. When the target key is "data"
// and both sides are objects, the new object is shallow-merged; otherwise
// last write wins in edge iteration order.
func assign(input map[string]interface{}, key string, value interface{}) {
	if key == "data" {
		existing, haveOld := input[key].(map[string]interface{})
		incoming, haveNew := value.(map[string]interface{})
		if haveOld && haveNew {
			for k, v := range incoming {
				existing[k] = v
			}
			return
		}
	}
	input[key] = value
}

// applyOverrides applies node.config.overrides: each key missing or empty
// in the input is set, rendering {{...}} templates against the execution
// scope first.
func (r *Resolver) applyOverrides(node *workflow.Node, input map[string]interface{}, ec *workflow.ExecutionContext) {
	overrides, ok := node.Config["overrides"].(map[string]interface{})
	if !ok {
		return
	}

	scope := template.Scope{
		Data:    input,
		Input:   ec.InputData,
		Context: ec.GlobalContext,
	}

	for key, value := range overrides {
		if !isEmpty(input[key]) {
			continue
		}

		if s, isString := value.(string); isString && strings.Contains(s, "{{") {
			input[key] = template.Render(s, scope)
			continue
		}
		input[key] = value
	}
}

// isEmpty reports whether an input slot is considered unset for override
// purposes.
func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}
