package health

import (
	"sync"
	"time"
)

// Monitor holds the latest status of named components. It is safe for
// concurrent use.
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]Status
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{entries: make(map[string]Status)}
}

// Update replaces the status of name. Failure counts recorded earlier are
// carried over when status has none.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	if prev, ok := m.entries[name]; ok && status.Metrics == nil {
		status.Metrics = prev.Metrics
	}
	m.entries[name] = status
}

// RecordError counts a failure of name and stores its sanitized message.
// The level is left as is; an unknown component starts out degraded.
func (m *Monitor) RecordError(name string, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.entries[name]
	if !ok {
		status = NewDegraded(name, "")
	}
	var metrics Metrics
	if status.Metrics != nil {
		metrics = *status.Metrics
	}
	now := time.Now()
	metrics.ErrorCount++
	metrics.LastErrorAt = now

	status.Message = sanitizeErrorMessage(err.Error())
	status.Timestamp = now
	status.Metrics = &metrics
	m.entries[name] = status
}

// Get returns the status of name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.entries[name]
	return status, ok
}

// AggregateHealth rolls every tracked component up under system
func (m *Monitor) AggregateHealth(system string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.entries))
	for _, status := range m.entries {
		subs = append(subs, status)
	}
	m.mu.RUnlock()
	return Aggregate(system, subs)
}
