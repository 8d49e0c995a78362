package nodes

import (
	"context"

	"github.com/lyzr/ragflow/common/template"
	"github.com/lyzr/ragflow/common/workflow"
)

// stringAliases are the keys the input node fills so downstream
// string-valued edges resolve deterministically.
var stringAliases = []string{"input", "prompt", "query", "text"}

// inputRunner flattens the caller payload and fills the string aliases.
// Never emits nulls: absent values become empty strings / empty objects.
type inputRunner struct{}

func (r *inputRunner) Type() string { return workflow.NodeTypeInput }

func (r *inputRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	payload := inv.Input
	if payload == nil {
		payload = map[string]interface{}{}
	}

	out := make(map[string]interface{}, len(payload)+len(stringAliases)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["data"] = payload

	representative := inputString(payload, stringAliases...)
	for _, alias := range stringAliases {
		if s, ok := payload[alias].(string); ok {
			out[alias] = s
			continue
		}
		out[alias] = representative
	}

	return out, nil
}

// outputRunner shapes the final result: select_path projection, template
// rendering, or payload passthrough.
type outputRunner struct{}

func (r *outputRunner) Type() string { return workflow.NodeTypeOutput }

func (r *outputRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	payload, ok := inv.Input["data"].(map[string]interface{})
	if !ok {
		payload = inv.Input
	}

	scope := template.Scope{
		Data:    payload,
		Input:   inv.Execution.InputData,
		Context: inv.Execution.GlobalContext,
	}

	selectPath := configString(inv.Node, "select_path", "")
	tmpl := configString(inv.Node, "template", "")

	var result interface{}
	switch {
	case selectPath != "" && tmpl == "":
		if value, found := template.Lookup(selectPath, scope); found {
			result = value
		} else {
			result = payload
		}
	case tmpl != "":
		rendered := template.Render(tmpl, scope)
		if rendered == "" {
			// empty render falls back to the raw payload
			result = payload
		} else {
			result = rendered
		}
	default:
		result = payload
	}

	return map[string]interface{}{"result": result}, nil
}
