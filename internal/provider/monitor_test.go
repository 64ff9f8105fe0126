package provider

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func TestMonitor_Thresholds(t *testing.T) {
	m := NewMonitor(nil)

	if s := m.Health("p").Status; s != StatusUnknown {
		t.Fatalf("initial status = %s, want unknown", s)
	}

	m.RecordSuccess("p")
	if s := m.Health("p").Status; s != StatusHealthy {
		t.Errorf("after 1 success status = %s, want healthy", s)
	}

	// 1 success, 1 failure: rate 0.5, streak 1 -> neither degraded nor healthy.
	m.RecordFailure("p", "server")
	if s := m.Health("p").Status; s != StatusUnknown {
		t.Errorf("at rate 0.5 status = %s, want unknown", s)
	}

	m.RecordFailure("p", "server")
	m.RecordFailure("p", "timeout")
	if h := m.Health("p"); h.Status != StatusDegraded || h.ConsecutiveFailures != 3 {
		t.Errorf("after 3 failures health = %+v, want degraded", h)
	}

	m.RecordFailure("p", "server")
	m.RecordFailure("p", "server")
	h := m.Health("p")
	if h.Status != StatusUnhealthy {
		t.Errorf("after 5 consecutive failures status = %s, want unhealthy", h.Status)
	}
	if len(h.ErrorTypes) != 2 || h.ErrorTypes[0] != "server" || h.ErrorTypes[1] != "timeout" {
		t.Errorf("ErrorTypes = %v", h.ErrorTypes)
	}

	// A success resets the streak; rate 2/7 keeps it degraded.
	m.RecordSuccess("p")
	if h := m.Health("p"); h.Status != StatusDegraded || h.ConsecutiveFailures != 0 {
		t.Errorf("after recovery health = %+v, want degraded with no streak", h)
	}
}

func TestMonitor_Candidates(t *testing.T) {
	m := NewMonitor(nil)
	providers := []Provider{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	for range 5 {
		m.RecordFailure("b", "server")
	}
	m.RecordFailure("c", "server")

	got := m.Candidates(providers)
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Errorf("Candidates = %v, want [a c]", got)
	}
}

func TestMonitor_ClockAndCallback(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	var changes []Status
	m := NewMonitorWithClock(clock, func(name string, s Status) { changes = append(changes, s) })

	m.RecordSuccess("p")
	m.RecordFailure("p", "")

	h := m.Health("p")
	if !h.LastSuccess.Equal(clock.now) || !h.LastFailure.Equal(clock.now) {
		t.Errorf("timestamps = %v / %v, want %v", h.LastSuccess, h.LastFailure, clock.now)
	}
	if len(h.ErrorTypes) != 0 {
		t.Errorf("empty error type should not be recorded: %v", h.ErrorTypes)
	}
	if len(changes) != 2 || changes[0] != StatusHealthy {
		t.Errorf("changes = %v", changes)
	}
	if snap := m.Snapshot(); len(snap) != 1 || snap[0].Name != "p" {
		t.Errorf("Snapshot = %+v", snap)
	}
}

func TestStatusCode(t *testing.T) {
	if StatusUnknown.Code() != 0 || StatusHealthy.Code() != 1 || StatusDegraded.Code() != 2 || StatusUnhealthy.Code() != 3 {
		t.Error("unexpected status codes")
	}
}
