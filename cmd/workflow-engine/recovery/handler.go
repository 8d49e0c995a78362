package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/providers"
	"github.com/lyzr/ragflow/common/workflow"
)

// defaultMaxAttempts bounds the recovery loop around one node execution
// when the active policy does not carry a larger retry budget
const defaultMaxAttempts = 3

// NodeFunc runs the node once and returns its output
type NodeFunc func(ctx context.Context) (map[string]interface{}, error)

// CacheLookup retrieves a previously cached output for a node, if any.
// Consulted by the use_cached_result action.
type CacheLookup func(nodeID string) (map[string]interface{}, bool)

// Handler applies recovery policies around node executions
type Handler struct {
	policies map[Kind]Policy
	breakers *BreakerManager
	history  *ErrorHistory
	clock       providers.Clock
	log         *logger.Logger
	maxAttempts int

	cache CacheLookup

	mu          sync.Mutex
	retryCounts map[string]int
}

// SetCacheLookup installs the cache consulted by use_cached_result
func (h *Handler) SetCacheLookup(lookup CacheLookup) {
	h.cache = lookup
}

// NewHandler creates a recovery handler
func NewHandler(breakers *BreakerManager, history *ErrorHistory, clock providers.Clock, log *logger.Logger) *Handler {
	return &Handler{
		policies:    DefaultPolicies(),
		breakers:    breakers,
		history:     history,
		clock:       clock,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		retryCounts: make(map[string]int),
	}
}

// SetMaxAttempts overrides the default attempt cap
func (h *Handler) SetMaxAttempts(n int) {
	if n > 0 {
		h.maxAttempts = n
	}
}

// Breakers exposes the breaker manager for admin endpoints
func (h *Handler) Breakers() *BreakerManager { return h.breakers }

// History exposes the error history for stats endpoints
func (h *Handler) History() *ErrorHistory { return h.history }

// ClearRetryCounts resets all retry counters. Admin operation; also called
// by the engine when an execution finishes.
func (h *Handler) ClearRetryCounts() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retryCounts = make(map[string]int)
}

func (h *Handler) retryKey(nodeID, stepID string) string {
	return nodeID + ":" + stepID
}

func (h *Handler) incrementRetry(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retryCounts[key]++
	return h.retryCounts[key]
}

// policyFor selects the policy: a per-node override wins over the default
// for the classified kind.
func (h *Handler) policyFor(node *workflow.Node, kind Kind) Policy {
	if override := nodePolicy(node.Config); override != nil {
		return *override
	}
	if policy, ok := h.policies[kind]; ok {
		return policy
	}
	return h.policies[KindExecution]
}

// Run executes a node under the recovery loop. On success the node output
// is returned. Recoverable failures finalize the step as recovered (or
// ignored) and return the fallback; fatal failures propagate the original
// error.
func (h *Handler) Run(ctx context.Context, node *workflow.Node, step *workflow.ExecutionStep, fn NodeFunc) (map[string]interface{}, error) {
	// An open breaker short-circuits before the runtime is invoked; once
	// the cooldown elapses Allow admits a half-open probe call.
	if !h.breakers.Allow(node.ID) {
		policy := h.policyFor(node, KindQuota)
		fallback := policy.FallbackValue
		if fallback == nil {
			fallback = map[string]interface{}{"success": false}
		}
		h.recover(step, ActionCircuitBreak, fmt.Sprintf("circuit breaker open for node %s", node.ID), fallback)
		step.Error = fmt.Sprintf("circuit breaker open for node %s", node.ID)
		return fallback, nil
	}

	var lastErr error

	for attempt := 1; ; attempt++ {
		output, err := fn(ctx)
		if err == nil {
			h.breakers.RecordSuccess(node.ID)
			return output, nil
		}

		lastErr = err
		kind := Classify(err)
		h.history.Record(kind, node.ID, err.Error())
		policy := h.policyFor(node, kind)

		h.log.Warn("node execution failed",
			"node_id", node.ID,
			"attempt", attempt,
			"error_kind", string(kind),
			"action", string(policy.Action),
			"error", err.Error())

		// a retry policy may carry a budget above the default cap
		limit := h.maxAttempts
		if policy.Retry != nil && policy.Retry.MaxRetries+1 > limit {
			limit = policy.Retry.MaxRetries + 1
		}
		if attempt >= limit {
			return h.propagate(node, step, lastErr)
		}

		switch policy.Action {
		case ActionRetry:
			exhausted, wait := h.planRetry(node.ID, step.StepID, policy.Retry)
			if exhausted {
				if fallback := policy.FallbackValue; fallback != nil {
					h.recover(step, ActionMaxRetriesExceeded, err.Error(), fallback)
					return fallback, nil
				}
				return h.propagate(node, step, lastErr)
			}
			h.clock.Sleep(ctx, wait)
			continue

		case ActionCircuitBreak:
			opened := h.breakers.RecordFailure(node.ID)
			if opened {
				fallback := policy.FallbackValue
				if fallback == nil {
					fallback = map[string]interface{}{"success": false}
				}
				h.recover(step, ActionCircuitBreak, fmt.Sprintf("circuit open: %s", err.Error()), fallback)
				step.Error = fmt.Sprintf("circuit breaker opened: %s", err.Error())
				return fallback, nil
			}
			exhausted, wait := h.planRetry(node.ID, step.StepID, policy.Retry)
			if exhausted {
				return h.propagate(node, step, lastErr)
			}
			h.clock.Sleep(ctx, wait)
			continue

		case ActionSkipNode, ActionUseFallback, ActionUseCachedResult, ActionUseDefaultValue:
			fallback := policy.FallbackValue
			if policy.Action == ActionUseCachedResult && h.cache != nil {
				if cached, ok := h.cache(node.ID); ok {
					fallback = cached
				}
			}
			if fallback == nil {
				fallback = map[string]interface{}{}
			}
			h.recover(step, policy.Action, err.Error(), fallback)
			return fallback, nil

		default: // fail_fast, rollback
			return h.propagate(node, step, lastErr)
		}
	}
}

// planRetry bumps the retry counter and returns whether retries are
// exhausted and, if not, the backoff delay before the next attempt.
func (h *Handler) planRetry(nodeID, stepID string, cfg *RetryConfig) (bool, time.Duration) {
	if cfg == nil || cfg.Strategy == RetryNone {
		return true, 0
	}

	count := h.incrementRetry(h.retryKey(nodeID, stepID))
	if count > cfg.MaxRetries {
		return true, 0
	}
	return false, cfg.Delay(count - 1)
}

// recover finalizes a step as recovered, preserving the original error
// text and attaching the recovery metadata.
func (h *Handler) recover(step *workflow.ExecutionStep, action Action, message string, fallback map[string]interface{}) {
	step.OutputData = fallback
	step.Error = message
	if step.Metrics == nil {
		step.Metrics = make(map[string]interface{})
	}
	step.Metrics["recovery"] = map[string]interface{}{
		"action":  string(action),
		"message": message,
	}
	step.Finalize(workflow.StepRecovered)
}

// propagate re-raises unless the node opts into ignore_errors, in which
// case the step is marked ignored and an empty object is returned.
func (h *Handler) propagate(node *workflow.Node, step *workflow.ExecutionStep, err error) (map[string]interface{}, error) {
	if ignore, _ := node.Config["ignore_errors"].(bool); ignore {
		step.Error = err.Error()
		step.OutputData = map[string]interface{}{}
		step.Finalize(workflow.StepIgnored)
		return map[string]interface{}{}, nil
	}
	return nil, err
}
