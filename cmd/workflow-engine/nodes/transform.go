package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lyzr/ragflow/common/workflow"
)

// parserRunner extracts structure from text: JSON decoding or field
// extraction via regex patterns / containment.
type parserRunner struct{}

func (r *parserRunner) Type() string { return workflow.NodeTypeParser }

func (r *parserRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	text := inputString(inv.Input, "text", "content", "result")
	mode := configString(inv.Node, "mode", "json")

	switch mode {
	case "json":
		var parsed interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
			return map[string]interface{}{
				"parsed_data": nil,
				"success":     false,
				"error":       fmt.Sprintf("json parse failed: %s", err.Error()),
			}, nil
		}
		return map[string]interface{}{
			"parsed_data": parsed,
			"success":     true,
		}, nil

	case "extract_fields":
		fields, ok := inv.Node.Config["fields"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("parser node in extract_fields mode missing fields config")
		}
		extracted := make(map[string]interface{}, len(fields))
		for name, rawPattern := range fields {
			pattern, _ := rawPattern.(string)
			extracted[name] = extractField(text, pattern)
		}
		return map[string]interface{}{
			"parsed_data": extracted,
			"success":     true,
		}, nil

	default:
		return nil, fmt.Errorf("parser node has invalid mode: %s", mode)
	}
}

// extractField applies the pattern as a regex when it compiles; the first
// capture group wins, else the whole match. Non-regex patterns fall back to
// containment, yielding a boolean.
func extractField(text, pattern string) interface{} {
	if pattern == "" {
		return nil
	}
	if re, err := regexp.Compile(pattern); err == nil {
		match := re.FindStringSubmatch(text)
		if match == nil {
			return nil
		}
		if len(match) > 1 {
			return match[1]
		}
		return match[0]
	}
	return strings.Contains(text, pattern)
}

// conditionRunner evaluates a comparison against a value or an extracted
// field and passes data through for branch continuation.
type conditionRunner struct{}

func (r *conditionRunner) Type() string { return workflow.NodeTypeCondition }

func (r *conditionRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	evaluated, ok := inv.Input["value"]
	if !ok {
		fieldPath := configString(inv.Node, "field_path", "")
		if fieldPath != "" {
			data := inv.Input["data"]
			if data == nil {
				data = inv.Input
			}
			if encoded, err := json.Marshal(data); err == nil {
				if result := gjson.GetBytes(encoded, fieldPath); result.Exists() {
					evaluated = result.Value()
				}
			}
		} else {
			evaluated = inv.Input["data"]
		}
	}

	conditionType := configString(inv.Node, "condition_type", "truthy")
	conditionValue := inv.Node.Config["condition_value"]

	result := evaluateCondition(conditionType, evaluated, conditionValue)

	out := map[string]interface{}{
		"condition_result": result,
		"evaluated_value":  evaluated,
		"condition_type":   conditionType,
		"condition_value":  conditionValue,
	}
	if data, ok := inv.Input["data"]; ok {
		out["data"] = data
	} else {
		out["data"] = inv.Input
	}
	return out, nil
}

func evaluateCondition(conditionType string, value, expected interface{}) bool {
	switch conditionType {
	case "equals":
		return asComparable(value) == asComparable(expected)
	case "contains":
		return strings.Contains(asString(value), asString(expected))
	case "greater_than":
		left, okL := asNumber(value)
		right, okR := asNumber(expected)
		return okL && okR && left > right
	case "less_than":
		left, okL := asNumber(value)
		right, okR := asNumber(expected)
		return okL && okR && left < right
	default:
		return truthy(value)
	}
}

// asComparable normalizes numbers to float64 and everything else to its
// string form so equals behaves sanely across JSON decodings.
func asComparable(v interface{}) interface{} {
	if n, ok := asNumber(v); ok {
		return n
	}
	return asString(v)
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(encoded)
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}

// transformerRunner reshapes data: json mode serializes, extract mode
// projects a field list.
type transformerRunner struct{}

func (r *transformerRunner) Type() string { return workflow.NodeTypeTransformer }

func (r *transformerRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	data, ok := inv.Input["data"]
	if !ok {
		data = inv.Input
	}

	mode := configString(inv.Node, "mode", "json")
	switch mode {
	case "json":
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("transformer serialization failed: %w", err)
		}
		return map[string]interface{}{"json_output": string(encoded)}, nil

	case "extract":
		fields := configStrings(inv.Node, "fields")
		if len(fields) == 0 {
			return nil, fmt.Errorf("transformer node in extract mode missing fields config")
		}
		source, _ := data.(map[string]interface{})
		out := make(map[string]interface{}, len(fields))
		for _, field := range fields {
			if source != nil {
				out[field] = source[field]
			} else {
				out[field] = nil
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("transformer node has invalid mode: %s", mode)
	}
}
