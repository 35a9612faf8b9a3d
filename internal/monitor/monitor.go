package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"funnel-service/internal/util"
)

// EventType classifies a security event.
type EventType string

const (
	EventAuthFailure        EventType = "auth_failure"
	EventRateLimit          EventType = "rate_limit"
	EventInvalidInput       EventType = "invalid_input"
	EventSuspiciousActivity EventType = "suspicious_activity"
)

// Severity ranks a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is a single recorded security observation.
type Event struct {
	Type      EventType
	Severity  Severity
	Message   string
	Details   map[string]string
	Timestamp time.Time
}

// Sink receives events for durable audit storage.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

const (
	maxEvents   = 1000
	alertWindow = 5 * time.Minute
)

// Alert thresholds per event type over the alert window.
var alertThresholds = map[EventType]int{
	EventAuthFailure:        5,
	EventRateLimit:          3,
	EventInvalidInput:       10,
	EventSuspiciousActivity: 1,
}

// Monitor keeps a bounded in-memory log of security events, raises an
// alert when a type crosses its threshold within the window, and
// forwards every event to an optional audit sink asynchronously.
type Monitor struct {
	mu     sync.Mutex
	events []Event
	sink   Sink
	group  *errgroup.Group
	now    func() time.Time
}

// New creates a Monitor. sink may be nil when no audit store is
// available.
func New(sink Sink) *Monitor {
	group := &errgroup.Group{}
	group.SetLimit(8)
	return &Monitor{
		events: make([]Event, 0, maxEvents),
		sink:   sink,
		group:  group,
		now:    time.Now,
	}
}

// Record logs a security event.
func (m *Monitor) Record(event Event) {
	event.Timestamp = m.now()

	m.mu.Lock()
	m.events = append(m.events, event)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
	recent := m.countRecentLocked(event.Type)
	m.mu.Unlock()

	util.Info("security event",
		util.String("type", string(event.Type)),
		util.String("severity", string(event.Severity)),
		util.String("message", event.Message))

	if threshold, ok := alertThresholds[event.Type]; ok && recent >= threshold {
		util.Warn("security alert threshold reached",
			util.String("type", string(event.Type)),
			util.Int("count", recent),
			util.Duration("window", alertWindow))
	}

	if m.sink != nil {
		m.group.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.sink.Write(ctx, event); err != nil {
				util.Error("failed to write security event to audit sink",
					zap.Error(err),
					util.String("type", string(event.Type)))
			}
			return nil
		})
	}
}

// countRecentLocked counts events of the given type inside the alert
// window. Caller holds m.mu.
func (m *Monitor) countRecentLocked(eventType EventType) int {
	cutoff := m.now().Add(-alertWindow)
	count := 0
	for _, e := range m.events {
		if e.Type == eventType && e.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// Summary returns per-type counts of events inside the alert window.
func (m *Monitor) Summary() map[EventType]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-alertWindow)
	summary := make(map[EventType]int)
	for _, e := range m.events {
		if e.Timestamp.After(cutoff) {
			summary[e.Type]++
		}
	}
	return summary
}

// Recent returns up to n most recent events, newest last.
func (m *Monitor) Recent(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > len(m.events) {
		n = len(m.events)
	}
	out := make([]Event, n)
	copy(out, m.events[len(m.events)-n:])
	return out
}

// Close waits for in-flight sink writes to finish.
func (m *Monitor) Close() error {
	return m.group.Wait()
}
