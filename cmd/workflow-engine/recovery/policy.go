package recovery

import (
	"math"
	"math/rand"
	"time"
)

// Action is the recovery strategy applied when a node fails
type Action string

const (
	ActionRetry              Action = "retry"
	ActionSkipNode           Action = "skip_node"
	ActionUseFallback        Action = "use_fallback"
	ActionUseCachedResult    Action = "use_cached_result"
	ActionUseDefaultValue    Action = "use_default_value"
	ActionFailFast           Action = "fail_fast"
	ActionRollback           Action = "rollback"
	ActionCircuitBreak       Action = "circuit_break"
	ActionMaxRetriesExceeded Action = "max_retries_exceeded"
)

// RetryStrategy selects the backoff delay formula
type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential_backoff"
	RetryLinear      RetryStrategy = "linear_backoff"
	RetryFixed       RetryStrategy = "fixed_delay"
	RetryImmediate   RetryStrategy = "immediate"
	RetryNone        RetryStrategy = "no_retry"
)

// RetryConfig parametrizes a retry policy
type RetryConfig struct {
	Strategy          RetryStrategy `json:"strategy"`
	MaxRetries        int           `json:"max_retries"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay,omitempty"`
	BackoffMultiplier float64       `json:"backoff_multiplier,omitempty"`
	Jitter            bool          `json:"jitter,omitempty"`
	TimeoutMultiplier float64       `json:"timeout_multiplier,omitempty"`
}

// Delay computes the backoff before retry attempt k (0-based), clamped to
// MaxDelay. With jitter enabled a positive delay is multiplied by a
// uniform factor in [0.5, 1.0].
func (c *RetryConfig) Delay(attempt int) time.Duration {
	base := c.InitialDelay.Seconds()
	mult := c.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}

	var seconds float64
	switch c.Strategy {
	case RetryExponential:
		seconds = base * math.Pow(mult, float64(attempt))
	case RetryLinear:
		seconds = base * float64(attempt+1)
	case RetryFixed:
		seconds = base
	case RetryImmediate, RetryNone:
		seconds = 0
	default:
		seconds = base
	}

	if c.MaxDelay > 0 && seconds > c.MaxDelay.Seconds() {
		seconds = c.MaxDelay.Seconds()
	}

	if c.Jitter && seconds > 0 {
		seconds *= 0.5 + rand.Float64()*0.5
	}

	return time.Duration(seconds * float64(time.Second))
}

// Policy is the recovery decision for one error kind (or one node)
type Policy struct {
	Action        Action                 `json:"action"`
	Retry         *RetryConfig           `json:"retry,omitempty"`
	FallbackValue map[string]interface{} `json:"fallback_value,omitempty"`
}

// DefaultPolicies maps each error kind to its default recovery policy
func DefaultPolicies() map[Kind]Policy {
	return map[Kind]Policy{
		KindTimeout: {
			Action: ActionRetry,
			Retry:  &RetryConfig{Strategy: RetryLinear, MaxRetries: 3, InitialDelay: 2 * time.Second},
		},
		KindNetwork: {
			Action: ActionRetry,
			Retry: &RetryConfig{
				Strategy: RetryExponential, MaxRetries: 5,
				InitialDelay: 1 * time.Second, MaxDelay: 30 * time.Second,
			},
		},
		KindResource: {
			Action: ActionRetry,
			Retry: &RetryConfig{
				Strategy: RetryLinear, MaxRetries: 3,
				InitialDelay: 5 * time.Second, MaxDelay: 60 * time.Second,
			},
		},
		KindDependency: {
			Action:        ActionUseFallback,
			FallbackValue: map[string]interface{}{"error": "dependency_unavailable", "data": nil},
		},
		KindData: {
			Action:        ActionUseDefaultValue,
			FallbackValue: map[string]interface{}{"error": "data_format_error", "data": map[string]interface{}{}},
		},
		KindValidation: {
			Action: ActionFailFast,
		},
		KindExecution: {
			Action: ActionRetry,
			Retry:  &RetryConfig{Strategy: RetryFixed, MaxRetries: 2, InitialDelay: 1 * time.Second},
		},
		KindConfiguration: {
			Action:        ActionUseDefaultValue,
			FallbackValue: map[string]interface{}{"error": "config_error", "data": map[string]interface{}{}},
		},
		KindPermission: {
			Action: ActionFailFast,
		},
		KindQuota: {
			Action: ActionCircuitBreak,
			Retry:  &RetryConfig{Strategy: RetryExponential, MaxRetries: 2, InitialDelay: 30 * time.Second},
		},
	}
}

// nodePolicy extracts a per-node policy override from node config, e.g.
//
//	"recovery": {
//	  "action": "retry",
//	  "max_retries": 4,
//	  "strategy": "exponential_backoff",
//	  "initial_delay": 0.5,
//	  "fallback_value": {...}
//	}
func nodePolicy(config map[string]interface{}) *Policy {
	raw, ok := config["recovery"].(map[string]interface{})
	if !ok {
		return nil
	}

	action, _ := raw["action"].(string)
	if action == "" {
		return nil
	}

	policy := &Policy{Action: Action(action)}

	if fallback, ok := raw["fallback_value"].(map[string]interface{}); ok {
		policy.FallbackValue = fallback
	}

	if policy.Action == ActionRetry || policy.Action == ActionCircuitBreak {
		retry := &RetryConfig{
			Strategy:     RetryExponential,
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
		}
		if s, ok := raw["strategy"].(string); ok && s != "" {
			retry.Strategy = RetryStrategy(s)
		}
		if v, ok := raw["max_retries"].(float64); ok {
			retry.MaxRetries = int(v)
		}
		if v, ok := raw["initial_delay"].(float64); ok {
			retry.InitialDelay = time.Duration(v * float64(time.Second))
		}
		if v, ok := raw["max_delay"].(float64); ok {
			retry.MaxDelay = time.Duration(v * float64(time.Second))
		}
		if v, ok := raw["backoff_multiplier"].(float64); ok {
			retry.BackoffMultiplier = v
		}
		if v, ok := raw["jitter"].(bool); ok {
			retry.Jitter = v
		}
		policy.Retry = retry
	}

	return policy
}
