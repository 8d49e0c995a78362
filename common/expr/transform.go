package expr

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// TransformEvaluator evaluates edge transform expressions. A transform
// receives the edge payload as `value` plus the global `context` and
// returns a replacement value.
//
// The environment is closed: the two variables, expr's builtin collection
// operators, and json_encode/json_decode. Nothing else.
type TransformEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewTransformEvaluator creates a transform evaluator with caching
func NewTransformEvaluator() *TransformEvaluator {
	return &TransformEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// transformEnv builds the sandbox environment for one evaluation
func transformEnv(value, context interface{}) map[string]interface{} {
	return map[string]interface{}{
		"value":   value,
		"context": nilToMap(context),
		"json_encode": func(v interface{}) string {
			b, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(b)
		},
		"json_decode": func(s string) interface{} {
			var out interface{}
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil
			}
			return out
		},
	}
}

// Check compiles a transform without running it
func (e *TransformEvaluator) Check(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := e.program(expression)
	return err
}

// Apply evaluates the transform. On any failure the error is returned so
// the caller can log it and keep the original value.
func (e *TransformEvaluator) Apply(expression string, value, context interface{}) (interface{}, error) {
	if strings.TrimSpace(expression) == "" {
		return value, nil
	}

	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	out, err := exprlang.Run(prg, transformEnv(value, context))
	if err != nil {
		return nil, fmt.Errorf("transform evaluation error: %w", err)
	}

	return out, nil
}

// program returns a compiled program from the cache, compiling on miss
func (e *TransformEvaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prg, exists := e.cache[expression]
	e.mu.RUnlock()

	if exists {
		return prg, nil
	}

	prg, err := exprlang.Compile(expression, exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("transform compile error: %w", err)
	}

	e.mu.Lock()
	e.cache[expression] = prg
	e.mu.Unlock()

	return prg, nil
}

// ClearCache clears the compiled expression cache
func (e *TransformEvaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*vm.Program)
}
