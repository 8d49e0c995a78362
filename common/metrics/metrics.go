// Package metrics implements per-node and per-workflow monitoring:
// prometheus collectors for the scrape endpoint, bounded in-memory
// duration history feeding scheduler estimates, and alert rules evaluated
// on emitted metrics.
package metrics

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const historySize = 100

// NodeStats aggregates observations for one node id
type NodeStats struct {
	Executions int       `json:"executions"`
	Errors     int       `json:"errors"`
	Durations  []float64 `json:"durations"` // seconds, bounded ring
	TotalTime  float64   `json:"total_time"`
}

// Monitor records node and workflow observations
type Monitor struct {
	mu    sync.RWMutex
	nodes map[string]*NodeStats

	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	nodeErrors     *prometheus.CounterVec
	wfExecutions   *prometheus.CounterVec
	wfDuration     prometheus.Histogram
	liveExecutions prometheus.Gauge
}

// NewMonitor creates a monitor and registers its collectors
func NewMonitor(reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		nodes: make(map[string]*NodeStats),
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragflow",
			Name:      "node_executions_total",
			Help:      "Node executions by type and terminal status",
		}, []string{"node_type", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragflow",
			Name:      "node_duration_seconds",
			Help:      "Node execution duration by type",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"node_type"}),
		nodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragflow",
			Name:      "node_errors_total",
			Help:      "Node errors by type and classified error kind",
		}, []string{"node_type", "error_kind"}),
		wfExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragflow",
			Name:      "workflow_executions_total",
			Help:      "Workflow executions by terminal status",
		}, []string{"status"}),
		wfDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragflow",
			Name:      "workflow_duration_seconds",
			Help:      "End-to-end workflow execution duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		liveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragflow",
			Name:      "live_executions",
			Help:      "Executions currently registered in the live map",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.nodeExecutions,
			m.nodeDuration,
			m.nodeErrors,
			m.wfExecutions,
			m.wfDuration,
			m.liveExecutions,
		)
	}

	return m
}

// ObserveNode records one node completion
func (m *Monitor) ObserveNode(nodeID, nodeType, status string, durationSeconds float64) {
	m.nodeExecutions.WithLabelValues(nodeType, status).Inc()
	m.nodeDuration.WithLabelValues(nodeType).Observe(durationSeconds)

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.nodes[nodeID]
	if !ok {
		stats = &NodeStats{}
		m.nodes[nodeID] = stats
	}
	stats.Executions++
	stats.TotalTime += durationSeconds
	stats.Durations = append(stats.Durations, durationSeconds)
	if len(stats.Durations) > historySize {
		stats.Durations = stats.Durations[len(stats.Durations)-historySize:]
	}
	if status == "error" {
		stats.Errors++
	}
}

// ObserveNodeError records a classified node error
func (m *Monitor) ObserveNodeError(nodeType, errorKind string) {
	m.nodeErrors.WithLabelValues(nodeType, errorKind).Inc()
}

// ObserveWorkflow records one workflow completion
func (m *Monitor) ObserveWorkflow(status string, durationSeconds float64) {
	m.wfExecutions.WithLabelValues(status).Inc()
	m.wfDuration.Observe(durationSeconds)
}

// SetLiveExecutions updates the live-execution gauge
func (m *Monitor) SetLiveExecutions(n int) {
	m.liveExecutions.Set(float64(n))
}

// MeanDuration returns the mean of the recorded durations for a node id
// (up to the last 100). ok is false when no history exists.
func (m *Monitor) MeanDuration(nodeID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.nodes[nodeID]
	if !exists || len(stats.Durations) == 0 {
		return 0, false
	}

	var sum float64
	for _, d := range stats.Durations {
		sum += d
	}
	return sum / float64(len(stats.Durations)), true
}

// Snapshot returns a copy of the per-node aggregates
func (m *Monitor) Snapshot() map[string]NodeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]NodeStats, len(m.nodes))
	for id, stats := range m.nodes {
		durations := make([]float64, len(stats.Durations))
		copy(durations, stats.Durations)
		out[id] = NodeStats{
			Executions: stats.Executions,
			Errors:     stats.Errors,
			Durations:  durations,
			TotalTime:  stats.TotalTime,
		}
	}
	return out
}

// HeapAllocBytes reports current heap allocation, recorded per step as
// memory_usage.
func HeapAllocBytes() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc)
}
