package provider

import (
	"sort"
	"sync"
	"time"
)

// Status is a provider health classification.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Code maps a status to the gauge value published in metrics.
func (s Status) Code() float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 3
	}
	return 0
}

const (
	unhealthyAfter     = 5
	degradedAfter      = 3
	degradedBelowRate  = 0.5
	healthyAtLeastRate = 0.7
)

// Health is a point-in-time view of one provider's call record.
type Health struct {
	Name                string
	Status              Status
	Successes           int
	Failures            int
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	ErrorTypes          []string
}

// SuccessRate is successes over all calls, or 0 with no calls.
func (h Health) SuccessRate() float64 {
	total := h.Successes + h.Failures
	if total == 0 {
		return 0
	}
	return float64(h.Successes) / float64(total)
}

func (h *Health) classify() {
	switch {
	case h.ConsecutiveFailures >= unhealthyAfter:
		h.Status = StatusUnhealthy
	case h.ConsecutiveFailures >= degradedAfter || h.SuccessRate() < degradedBelowRate:
		h.Status = StatusDegraded
	case h.SuccessRate() >= healthyAtLeastRate:
		h.Status = StatusHealthy
	default:
		h.Status = StatusUnknown
	}
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Monitor tracks per-provider success and failure counts.
type Monitor struct {
	clock    Clock
	onChange func(name string, s Status)

	mu     sync.Mutex
	health map[string]*health
}

type health struct {
	Health
	errorTypes map[string]struct{}
}

// NewMonitor creates an empty monitor. onChange, when non-nil, is called
// after every update with the provider's new status.
func NewMonitor(onChange func(name string, s Status)) *Monitor {
	return NewMonitorWithClock(realClock{}, onChange)
}

// NewMonitorWithClock creates a monitor with a custom clock (for testing).
func NewMonitorWithClock(clock Clock, onChange func(name string, s Status)) *Monitor {
	return &Monitor{clock: clock, onChange: onChange, health: make(map[string]*health)}
}

func (m *Monitor) entry(name string) *health {
	h, ok := m.health[name]
	if !ok {
		h = &health{Health: Health{Name: name, Status: StatusUnknown}, errorTypes: make(map[string]struct{})}
		m.health[name] = h
	}
	return h
}

// RecordSuccess records a successful call.
func (m *Monitor) RecordSuccess(name string) {
	m.mu.Lock()
	h := m.entry(name)
	h.Successes++
	h.LastSuccess = m.clock.Now()
	h.ConsecutiveFailures = 0
	h.classify()
	status := h.Status
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(name, status)
	}
}

// RecordFailure records a failed call classified as errType.
func (m *Monitor) RecordFailure(name, errType string) {
	m.mu.Lock()
	h := m.entry(name)
	h.Failures++
	h.LastFailure = m.clock.Now()
	h.ConsecutiveFailures++
	if errType != "" {
		h.errorTypes[errType] = struct{}{}
	}
	h.classify()
	status := h.Status
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(name, status)
	}
}

// Health returns the current view of name. Unseen providers are unknown.
func (m *Monitor) Health(name string) Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry(name).snapshot()
}

// Snapshot returns every tracked provider ordered by name.
func (m *Monitor) Snapshot() []Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Health, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, h.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Candidates filters providers down to those worth trying, keeping order.
// Unhealthy providers are skipped; degraded ones are kept only while their
// consecutive failure streak is short.
func (m *Monitor) Candidates(providers []Provider) []Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Provider
	for _, p := range providers {
		h := m.entry(p.Name)
		switch h.Status {
		case StatusHealthy, StatusUnknown:
			out = append(out, p)
		case StatusDegraded:
			if h.ConsecutiveFailures < degradedAfter {
				out = append(out, p)
			}
		}
	}
	return out
}

func (h *health) snapshot() Health {
	s := h.Health
	s.ErrorTypes = make([]string, 0, len(h.errorTypes))
	for t := range h.errorTypes {
		s.ErrorTypes = append(s.ErrorTypes, t)
	}
	sort.Strings(s.ErrorTypes)
	return s
}
