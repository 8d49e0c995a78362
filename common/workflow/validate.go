package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/lyzr/ragflow/common/expr"
)

// Report is the result of validating a definition. The validator never
// mutates its input; it only produces this report.
type Report struct {
	OK          bool     `json:"ok"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (r *Report) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator validates workflow definitions
type Validator struct {
	conditions *expr.ConditionEvaluator
	transforms *expr.TransformEvaluator
}

// NewValidator creates a validator
func NewValidator() (*Validator, error) {
	conditions, err := expr.NewConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Validator{
		conditions: conditions,
		transforms: expr.NewTransformEvaluator(),
	}, nil
}

// Validate runs all structural checks against a definition
func (v *Validator) Validate(def *Definition) *Report {
	report := &Report{}

	nodeIDs := make(map[string]*Node, len(def.Nodes))
	for i := range def.Nodes {
		node := &def.Nodes[i]
		if _, dup := nodeIDs[node.ID]; dup {
			report.addError("duplicate node id: %s", node.ID)
			continue
		}
		nodeIDs[node.ID] = node

		if !KnownNodeTypes[node.Type] {
			report.addError("node %s has unknown type: %s", node.ID, node.Type)
		}
	}

	// 1. Edge endpoints must reference existing nodes
	incident := make(map[string]bool)
	for _, edge := range def.Edges {
		source, sourceOK := nodeIDs[edge.Source]
		target, targetOK := nodeIDs[edge.Target]

		if !sourceOK {
			report.addError("edge %s references non-existent source node: %s", edge.ID, edge.Source)
		}
		if !targetOK {
			report.addError("edge %s references non-existent target node: %s", edge.ID, edge.Target)
		}
		if !sourceOK || !targetOK {
			continue
		}

		incident[edge.Source] = true
		incident[edge.Target] = true

		// 4. Port names must match declared signatures or the universal aliases
		if edge.SourceOutput != "" && !isOutputAlias(edge.SourceOutput) && !hasOutput(source, edge.SourceOutput) {
			report.addError("edge %s: source_output %q is not an output of node %s",
				edge.ID, edge.SourceOutput, edge.Source)
		}
		if edge.TargetInput != "" && !isInputAlias(edge.TargetInput) && !hasInput(target, edge.TargetInput) {
			report.addError("edge %s: target_input %q is not an input of node %s",
				edge.ID, edge.TargetInput, edge.Target)
		}

		// Unsupported expression syntax is a definition error, not a
		// runtime one
		if edge.Condition != "" {
			if err := v.conditions.Check(edge.Condition); err != nil {
				report.addError("edge %s: invalid condition: %v", edge.ID, err)
			}
		}
		if edge.Transform != "" {
			if err := v.transforms.Check(edge.Transform); err != nil {
				report.addError("edge %s: invalid transform: %v", edge.ID, err)
			}
		}
	}

	// 2. Isolated nodes are a warning, not an error
	if len(def.Nodes) > 1 {
		for i := range def.Nodes {
			if !incident[def.Nodes[i].ID] {
				report.addWarning("node %s has no incident edges", def.Nodes[i].ID)
			}
		}
	}

	// 3. The graph must be a DAG
	if len(report.Errors) == 0 {
		if _, err := Levels(def); err != nil {
			report.addError("workflow graph is not a DAG: %v", err)
		}
	}

	report.OK = len(report.Errors) == 0
	return report
}

// ValidateInputs checks the caller payload against the definition's
// declared variable panel (metadata.ui.inputs). Declared required fields
// missing from the payload are a pre-execution validation error.
func (v *Validator) ValidateInputs(def *Definition, input map[string]interface{}) error {
	declared := declaredInputs(def)
	for _, d := range declared {
		if !d.Required {
			continue
		}
		value, present := input[d.Name]
		if !present || value == nil || value == "" {
			return fmt.Errorf("required workflow input %q is missing", d.Name)
		}
	}
	return nil
}

type declaredInput struct {
	Name     string
	Required bool
}

func declaredInputs(def *Definition) []declaredInput {
	ui, ok := def.Metadata["ui"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := ui["inputs"].([]interface{})
	if !ok {
		return nil
	}

	var out []declaredInput
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if name == "" {
			continue
		}
		required, _ := entry["required"].(bool)
		out = append(out, declaredInput{Name: name, Required: required})
	}
	return out
}

func isOutputAlias(name string) bool {
	return name == "output" || name == "output-0"
}

func isInputAlias(name string) bool {
	return name == "input" || name == "input-0"
}

func hasOutput(node *Node, name string) bool {
	if node.Signature == nil || len(node.Signature.Outputs) == 0 {
		// No declared signature, accept any port name
		return true
	}
	for _, port := range node.Signature.Outputs {
		if port.Name == name {
			return true
		}
	}
	return false
}

func hasInput(node *Node, name string) bool {
	if node.Signature == nil || len(node.Signature.Inputs) == 0 {
		return true
	}
	for _, port := range node.Signature.Inputs {
		if port.Name == name {
			return true
		}
	}
	return false
}

// ParseDefinition validates raw JSON against the definition schema and
// unmarshals it. Shape errors are reported before structural validation.
func ParseDefinition(raw []byte) (*Definition, error) {
	if err := checkSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return &def, nil
}
