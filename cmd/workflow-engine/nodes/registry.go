// Package nodes implements the per-node execution runtime: one runner per
// node type, dispatched through a registry keyed by the type tag. Runners
// receive resolved inputs and produce typed output maps; failures surface
// as errors for the recovery layer.
package nodes

import (
	"fmt"

	"context"

	"github.com/lyzr/ragflow/cmd/workflow-engine/netguard"
	"github.com/lyzr/ragflow/cmd/workflow-engine/sandbox"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/providers"
	"github.com/lyzr/ragflow/common/workflow"
)

// Invocation carries everything a runner needs for one node execution
type Invocation struct {
	Node      *workflow.Node
	Input     map[string]interface{}
	Execution *workflow.ExecutionContext
}

// TenantID returns the engine-enforced tenant id from the execution input
func (inv *Invocation) TenantID() string {
	s, _ := inv.Execution.InputData["tenant_id"].(string)
	return s
}

// UserID returns the engine-enforced user id from the execution input
func (inv *Invocation) UserID() string {
	s, _ := inv.Execution.InputData["user_id"].(string)
	return s
}

// Runner executes one node type
type Runner interface {
	Type() string
	Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error)
}

// Registry dispatches node executions by type tag. The variant set is
// closed at validation time but open here for extension.
type Registry struct {
	runners   map[string]Runner
	providers *providers.Set
	log       *logger.Logger
}

// NewRegistry creates a registry with all built-in runners registered
func NewRegistry(set *providers.Set, sb *sandbox.Sandbox, log *logger.Logger) *Registry {
	r := &Registry{
		runners:   make(map[string]Runner),
		providers: set,
		log:       log,
	}

	r.Register(&inputRunner{})
	r.Register(&outputRunner{})
	r.Register(&llmRunner{providers: set})
	r.Register(&classifierRunner{providers: set})
	r.Register(&embeddingsRunner{providers: set})
	r.Register(&ragRetrieverRunner{providers: set})
	r.Register(&hybridRetrieverRunner{providers: set, log: log})
	r.Register(&retrieverRunner{providers: set, log: log})
	r.Register(&rerankerRunner{providers: set})
	r.Register(&parserRunner{})
	r.Register(&conditionRunner{})
	r.Register(&transformerRunner{})
	r.Register(&httpRunner{guard: netguard.New()})
	r.Register(&codeRunner{sandbox: sb})

	return r
}

// Register adds (or replaces) a runner for its type tag
func (r *Registry) Register(runner Runner) {
	r.runners[runner.Type()] = runner
}

// Run dispatches one node execution
func (r *Registry) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	runner, ok := r.runners[inv.Node.Type]
	if !ok {
		return nil, fmt.Errorf("no runner registered for node type: %s", inv.Node.Type)
	}
	return runner.Run(ctx, inv)
}

// Has reports whether a runner exists for a type tag
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.runners[nodeType]
	return ok
}

// config helpers shared by runners

func configString(node *workflow.Node, key, fallback string) string {
	if s, ok := node.Config[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func configBool(node *workflow.Node, key string, fallback bool) bool {
	if b, ok := node.Config[key].(bool); ok {
		return b
	}
	return fallback
}

func configInt(node *workflow.Node, key string, fallback int) int {
	switch v := node.Config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func configFloat(node *workflow.Node, key string, fallback float64) float64 {
	switch v := node.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

// inputString finds the first non-empty string among the keys, checking
// the top level first and then a nested data payload.
func inputString(input map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := input[key].(string); ok && s != "" {
			return s
		}
	}
	if data, ok := input["data"].(map[string]interface{}); ok {
		for _, key := range keys {
			if s, ok := data[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func inputDocuments(input map[string]interface{}) []map[string]interface{} {
	raw, ok := input["documents"]
	if !ok {
		if data, nested := input["data"].(map[string]interface{}); nested {
			raw = data["documents"]
		}
	}

	switch typed := raw.(type) {
	case []map[string]interface{}:
		return typed
	case []interface{}:
		docs := make([]map[string]interface{}, 0, len(typed))
		for _, item := range typed {
			if doc, ok := item.(map[string]interface{}); ok {
				docs = append(docs, doc)
			}
		}
		return docs
	}
	return nil
}
