package metrics

import (
	"fmt"
	"sync"
	"time"
)

// AlertRule fires when a node's aggregate stats cross a threshold.
// MaxErrorRate is a fraction of executions; MaxMeanDuration is in seconds.
// Zero disables the corresponding check.
type AlertRule struct {
	Name            string        `json:"name"`
	MaxErrorRate    float64       `json:"max_error_rate,omitempty"`
	MaxMeanDuration float64       `json:"max_mean_duration,omitempty"`
	MinExecutions   int           `json:"min_executions,omitempty"`
	Cooldown        time.Duration `json:"cooldown,omitempty"`
}

// Alert is one fired rule instance
type Alert struct {
	Rule    string    `json:"rule"`
	NodeID  string    `json:"node_id"`
	Message string    `json:"message"`
	FiredAt time.Time `json:"fired_at"`
}

// AlertEvaluator evaluates rules against monitor snapshots
type AlertEvaluator struct {
	monitor *Monitor

	mu        sync.Mutex
	rules     []AlertRule
	lastFired map[string]time.Time
	recent    []Alert
}

// NewAlertEvaluator creates an evaluator with the default rules
func NewAlertEvaluator(monitor *Monitor) *AlertEvaluator {
	return &AlertEvaluator{
		monitor: monitor,
		rules: []AlertRule{
			{Name: "node_error_rate", MaxErrorRate: 0.5, MinExecutions: 5, Cooldown: time.Minute},
			{Name: "node_slow", MaxMeanDuration: 30.0, MinExecutions: 3, Cooldown: time.Minute},
		},
		lastFired: make(map[string]time.Time),
	}
}

// AddRule appends a rule
func (a *AlertEvaluator) AddRule(rule AlertRule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append(a.rules, rule)
}

// Evaluate checks all rules against the current snapshot and returns newly
// fired alerts. Called by the engine after each workflow completes.
func (a *AlertEvaluator) Evaluate() []Alert {
	snapshot := a.monitor.Snapshot()
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	var fired []Alert
	for nodeID, stats := range snapshot {
		for _, rule := range a.rules {
			if stats.Executions < rule.MinExecutions {
				continue
			}

			key := rule.Name + ":" + nodeID
			if last, ok := a.lastFired[key]; ok && rule.Cooldown > 0 && now.Sub(last) < rule.Cooldown {
				continue
			}

			var message string
			if rule.MaxErrorRate > 0 {
				rate := float64(stats.Errors) / float64(stats.Executions)
				if rate > rule.MaxErrorRate {
					message = fmt.Sprintf("error rate %.2f exceeds %.2f", rate, rule.MaxErrorRate)
				}
			}
			if message == "" && rule.MaxMeanDuration > 0 && len(stats.Durations) > 0 {
				var sum float64
				for _, d := range stats.Durations {
					sum += d
				}
				mean := sum / float64(len(stats.Durations))
				if mean > rule.MaxMeanDuration {
					message = fmt.Sprintf("mean duration %.2fs exceeds %.2fs", mean, rule.MaxMeanDuration)
				}
			}

			if message == "" {
				continue
			}

			alert := Alert{Rule: rule.Name, NodeID: nodeID, Message: message, FiredAt: now}
			a.lastFired[key] = now
			fired = append(fired, alert)
			a.recent = append(a.recent, alert)
			if len(a.recent) > 100 {
				a.recent = a.recent[len(a.recent)-100:]
			}
		}
	}

	return fired
}

// Recent returns the recently fired alerts
func (a *AlertEvaluator) Recent() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Alert, len(a.recent))
	copy(out, a.recent)
	return out
}
