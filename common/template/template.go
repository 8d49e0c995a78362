// Package template implements the minimal {{path}} substitution used in
// node configs, prompts, and output templates. Paths are dotted sequences
// with optional [i] indexing and resolve against three rooted namespaces:
// data, input, context. The surface is intentionally tiny and never
// evaluates code.
package template

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// Scope holds the three namespaces a template resolves against
type Scope struct {
	Data    map[string]interface{}
	Input   map[string]interface{}
	Context map[string]interface{}
}

// Render substitutes every {{path}} in the template. Missing paths render
// as the empty string; non-string values are JSON-serialized. A string
// without {{ is returned unchanged, so rendering is idempotent on
// already-rendered output.
func Render(tmpl string, scope Scope) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		if path == "" {
			return ""
		}

		value, found := Lookup(path, scope)
		if !found {
			return ""
		}
		return stringify(value)
	})
}

// Lookup resolves a single dotted path. An explicit root prefix (data.,
// input., context.) pins the namespace; otherwise data, input, and context
// are searched in that order.
func Lookup(path string, scope Scope) (interface{}, bool) {
	path = normalize(path)

	switch {
	case path == "data":
		return scope.Data, scope.Data != nil
	case path == "input":
		return scope.Input, scope.Input != nil
	case path == "context":
		return scope.Context, scope.Context != nil
	case strings.HasPrefix(path, "data."):
		return lookupIn(scope.Data, strings.TrimPrefix(path, "data."))
	case strings.HasPrefix(path, "input."):
		return lookupIn(scope.Input, strings.TrimPrefix(path, "input."))
	case strings.HasPrefix(path, "context."):
		return lookupIn(scope.Context, strings.TrimPrefix(path, "context."))
	}

	if v, ok := lookupIn(scope.Data, path); ok {
		return v, true
	}
	if v, ok := lookupIn(scope.Input, path); ok {
		return v, true
	}
	return lookupIn(scope.Context, path)
}

// normalize rewrites [i] indexing to gjson's .i form
func normalize(path string) string {
	path = indexPattern.ReplaceAllString(path, ".$1")
	return strings.TrimPrefix(path, ".")
}

// lookupIn resolves a normalized path inside one namespace via gjson
func lookupIn(ns map[string]interface{}, path string) (interface{}, bool) {
	if ns == nil || path == "" {
		return nil, false
	}

	raw, err := json.Marshal(ns)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// stringify renders a resolved value for substitution
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
