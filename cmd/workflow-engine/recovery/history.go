package recovery

import (
	"sync"
	"time"
)

// ErrorRecord is one classified failure kept for stats endpoints
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	NodeID    string    `json:"node_id"`
	Message   string    `json:"message"`
}

// ErrorHistory is a bounded ring of recent classified errors
type ErrorHistory struct {
	mu       sync.Mutex
	records  []ErrorRecord
	capacity int
	next     int
	full     bool
}

// NewErrorHistory creates a history ring with the given capacity
func NewErrorHistory(capacity int) *ErrorHistory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ErrorHistory{
		records:  make([]ErrorRecord, capacity),
		capacity: capacity,
	}
}

// Record appends one error, evicting the oldest entry when full
func (h *ErrorHistory) Record(kind Kind, nodeID, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[h.next] = ErrorRecord{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		NodeID:    nodeID,
		Message:   message,
	}
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns the stored records, oldest first
func (h *ErrorHistory) Recent() []ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		out := make([]ErrorRecord, h.next)
		copy(out, h.records[:h.next])
		return out
	}

	out := make([]ErrorRecord, 0, h.capacity)
	out = append(out, h.records[h.next:]...)
	out = append(out, h.records[:h.next]...)
	return out
}

// Stats returns per-kind error counts
func (h *ErrorHistory) Stats() map[Kind]int {
	stats := make(map[Kind]int)
	for _, record := range h.Recent() {
		stats[record.Kind]++
	}
	return stats
}

// Clear empties the history. Admin operation.
func (h *ErrorHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = make([]ErrorRecord, h.capacity)
	h.next = 0
	h.full = false
}
