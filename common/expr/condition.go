// Package expr provides the two expression sandboxes used on workflow
// edges: boolean conditions gating edge traversal (CEL) and value
// transforms applied to edge payloads (expr-lang).
//
// Both environments declare a fixed set of variables and nothing else.
// No host objects, attribute access, or user-defined functions are
// reachable from an expression.
package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
)

// ConditionEvaluator evaluates edge conditions using CEL with a compiled
// program cache. Variables available to an expression: value (the source
// node output), input (the execution input), context (the global context).
type ConditionEvaluator struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewConditionEvaluator creates a condition evaluator with caching
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	// ClearMacros removes comprehension macros (exists, map, filter...);
	// conditions are plain boolean expressions over the three variables.
	env, err := cel.NewEnv(
		cel.ClearMacros(),
		cel.Variable("value", cel.DynType),
		cel.Variable("input", cel.DynType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	return &ConditionEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// trivialLiteral resolves the case-insensitive truthy/falsy literals that
// short-circuit without compilation.
func trivialLiteral(expression string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(expression)) {
	case "true", "yes", "y", "1":
		return true, true
	case "false", "no", "n", "0":
		return false, true
	}
	return false, false
}

// Check compiles an expression without evaluating it. Used by the
// validator: unsupported syntax is a definition error, not a runtime one.
func (e *ConditionEvaluator) Check(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	if _, ok := trivialLiteral(expression); ok {
		return nil
	}
	_, err := e.program(expression)
	return err
}

// Evaluate evaluates a condition against the three namespaces.
//
// Compile failures are returned as errors. Evaluation failures fail open:
// the edge contributes, and the caller may log the reason.
func (e *ConditionEvaluator) Evaluate(expression string, value, input, context interface{}) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	if result, ok := trivialLiteral(expression); ok {
		return result, nil
	}

	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"value":   nilToMap(value),
		"input":   nilToMap(input),
		"context": nilToMap(context),
	})
	if err != nil {
		// fail-open for edge gating
		return true, nil
	}

	result, ok := out.Value().(bool)
	if !ok {
		return true, nil
	}

	return result, nil
}

// conditionOps are the only functions a condition may invoke: boolean
// operators, comparisons, membership, and subscripting. CEL models all
// of these as call expressions.
var conditionOps = map[string]bool{
	operators.LogicalAnd:    true,
	operators.LogicalOr:     true,
	operators.LogicalNot:    true,
	operators.Equals:        true,
	operators.NotEquals:     true,
	operators.Less:          true,
	operators.LessEquals:    true,
	operators.Greater:       true,
	operators.GreaterEquals: true,
	operators.In:            true,
	operators.Index:         true,
}

// checkSyntax walks the compiled expression and rejects what CEL accepts
// but conditions must not: function calls, arithmetic, attribute access,
// and comprehensions.
func checkSyntax(a *celast.AST) error {
	var bad error
	celast.PreOrderVisit(a.Expr(), celast.NewExprVisitor(func(e celast.Expr) {
		if bad != nil {
			return
		}
		switch e.Kind() {
		case celast.CallKind:
			if fn := e.AsCall().FunctionName(); !conditionOps[fn] {
				bad = fmt.Errorf("operation %q is not allowed in conditions", fn)
			}
		case celast.ComprehensionKind:
			bad = fmt.Errorf("comprehensions are not allowed in conditions")
		case celast.SelectKind:
			bad = fmt.Errorf("attribute access is not allowed in conditions, use subscripts")
		}
	}))
	return bad
}

// program returns a compiled program from the cache, compiling on miss
func (e *ConditionEvaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, exists := e.cache[expression]
	e.mu.RUnlock()

	if exists {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compile error: %w", issues.Err())
	}
	if err := checkSyntax(ast.NativeRep()); err != nil {
		return nil, fmt.Errorf("condition compile error: %w", err)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition program: %w", err)
	}

	e.mu.Lock()
	e.cache[expression] = prg
	e.mu.Unlock()

	return prg, nil
}

// ClearCache clears the compiled expression cache
func (e *ConditionEvaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached expressions
func (e *ConditionEvaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// nilToMap substitutes an empty map for nil so that subscript expressions
// on absent namespaces raise inside CEL (and fail open) instead of
// panicking on conversion.
func nilToMap(v interface{}) interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}
