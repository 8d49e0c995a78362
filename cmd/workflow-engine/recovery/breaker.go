package recovery

import (
	"sync"
	"time"

	"github.com/lyzr/ragflow/common/providers"
)

// BreakerState is the per-node circuit breaker state. Created lazily on
// first failure under a circuit-break policy; process-lifetime until an
// admin reset.
type BreakerState struct {
	IsOpen          bool      `json:"is_open"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	SuccessCount    int       `json:"success_count"`
	TotalCalls      int       `json:"total_calls"`
}

// BreakerManager maintains the circuit breakers keyed by node id
type BreakerManager struct {
	mu        sync.Mutex
	breakers  map[string]*BreakerState
	threshold int
	timeout   time.Duration
	clock     providers.Clock
}

// NewBreakerManager creates a breaker manager
func NewBreakerManager(threshold int, timeout time.Duration, clock providers.Clock) *BreakerManager {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BreakerManager{
		breakers:  make(map[string]*BreakerState),
		threshold: threshold,
		timeout:   timeout,
		clock:     clock,
	}
}

// Allow reports whether a call to the node may proceed. An open breaker
// short-circuits until the cooldown elapses; the first call after the
// cooldown is the half-open probe, which resets the failure count.
func (m *BreakerManager) Allow(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.breakers[nodeID]
	if !exists {
		return true
	}

	state.TotalCalls++

	if !state.IsOpen {
		return true
	}

	if m.clock.Now().Sub(state.LastFailureTime) >= m.timeout {
		// half-open probe
		state.IsOpen = false
		state.FailureCount = 0
		return true
	}

	return false
}

// RecordFailure increments the failure count, opening the breaker at the
// threshold. Returns true when this failure leaves the breaker open.
func (m *BreakerManager) RecordFailure(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.breakers[nodeID]
	if !exists {
		state = &BreakerState{}
		m.breakers[nodeID] = state
	}

	state.FailureCount++
	if state.FailureCount >= m.threshold {
		state.IsOpen = true
		state.LastFailureTime = m.clock.Now()
	}

	return state.FailureCount >= m.threshold
}

// RecordSuccess resets the failure count for a node
func (m *BreakerManager) RecordSuccess(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.breakers[nodeID]
	if !exists {
		return
	}
	state.SuccessCount++
	state.FailureCount = 0
}

// IsOpen reports whether the breaker for a node is currently open
func (m *BreakerManager) IsOpen(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.breakers[nodeID]
	if !exists || !state.IsOpen {
		return false
	}
	return m.clock.Now().Sub(state.LastFailureTime) < m.timeout
}

// Reset clears all breaker state. Admin operation.
func (m *BreakerManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers = make(map[string]*BreakerState)
}

// States returns a snapshot of all breaker states
func (m *BreakerManager) States() map[string]BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]BreakerState, len(m.breakers))
	for id, state := range m.breakers {
		out[id] = *state
	}
	return out
}
