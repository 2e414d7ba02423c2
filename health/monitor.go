package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check reports a component's current status when the monitor is read.
type Check func() Status

// Monitor holds pushed statuses and pull checks, keyed by component name.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]Check
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]Check),
	}
}

// Set records the status for name, replacing any check of the same name.
func (m *Monitor) Set(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
	m.statuses[name] = status
}

// Watch registers fn to be called for name on every read.
func (m *Monitor) Watch(name string, fn Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	m.checks[name] = fn
}

// Remove stops reporting name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checks, name)
}

// Get returns the status for name, running its check if it has one.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	s, ok := m.statuses[name]
	fn, checked := m.checks[name]
	m.mu.RUnlock()

	if checked {
		return m.run(name, fn), true
	}
	return s, ok
}

// All returns every status sorted by component name. Checks run outside the lock.
func (m *Monitor) All() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.statuses)+len(m.checks))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	checks := make(map[string]Check, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	for name, fn := range checks {
		out = append(out, m.run(name, fn))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// Aggregate rolls every status up under system.
func (m *Monitor) Aggregate(system string) Status {
	return Aggregate(system, m.All())
}

func (m *Monitor) run(name string, fn Check) Status {
	s := fn()
	s.Component = name
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return s
}

// Handler serves the aggregate status of m as JSON, answering 503 while it is unhealthy.
func Handler(m *Monitor, system string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s := m.Aggregate(system)
		w.Header().Set("Content-Type", "application/json")
		if s.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(s)
	})
}
