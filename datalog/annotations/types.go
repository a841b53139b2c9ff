// Package annotations provides a low-overhead event system for tracing
// query evaluation and the transaction pipeline.
package annotations

import (
	"sync"
	"time"
)

// Event names follow a hierarchical subject/verb pattern
const (
	// Query lifecycle
	QueryBegin     = "query/begin"
	QueryPlanned   = "query/planned"
	QueryComplete  = "query/complete"
	ClauseEvaluate = "clause/evaluated"

	// Evaluation details
	OrBranches   = "or/branches"
	RuleFixpoint = "rule/fixpoint"
	Aggregated   = "aggregation/executed"
	IndexScan    = "index/scan"

	// Transaction pipeline
	TxReceived  = "tx/received"
	TxValidated = "tx/validated"
	TxResolved  = "tx/resolved"
	TxApplied   = "tx/applied"
	TxCommitted = "tx/committed"
	TxRejected  = "tx/rejected"

	// Report delivery
	ReportDropped = "report/dropped"
)

// Event is a single annotation.
type Event struct {
	Name    string                 // one of the constants above
	Start   time.Time              // start timestamp
	End     time.Time              // end timestamp
	Latency time.Duration          // End - Start
	Data    map[string]interface{} // event-specific data
}

// Handler processes annotation events as they occur.
type Handler func(event Event)

// Collector accumulates events. A nil *Collector is valid and records
// nothing, so callers never need to check for one.
type Collector struct {
	handler Handler
	mu      sync.Mutex
	events  []Event
}

// NewCollector creates a collector. A nil handler still records events.
func NewCollector(handler Handler) *Collector {
	return &Collector{handler: handler, events: make([]Event, 0, 64)}
}

// Enabled reports whether events are recorded
func (c *Collector) Enabled() bool { return c != nil }

// Handler returns the underlying event handler.
func (c *Collector) Handler() Handler {
	if c == nil {
		return nil
	}
	return c.handler
}

// Add records a new event. Safe for concurrent use.
func (c *Collector) Add(event Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()

	// outside the lock: handlers may add events
	if c.handler != nil {
		c.handler(event)
	}
}

// AddTiming records an event that started at start and ends now.
func (c *Collector) AddTiming(name string, start time.Time, data map[string]interface{}) {
	if c == nil {
		return
	}
	end := time.Now()
	c.Add(Event{Name: name, Start: start, End: end, Latency: end.Sub(start), Data: data})
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Named returns the collected events with the given name
func (c *Collector) Named(name string) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the collected events, keeping the handler.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
