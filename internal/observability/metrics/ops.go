// Package metrics emits StatsD counters and gauges for the ops dashboard
// core: run transitions, invoice decisions, event fan-out, and session churn.
package metrics

import (
	obserrors "github.com/telbill/robo-ops/internal/observability/errors"
	"github.com/telbill/robo-ops/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Recorder wraps a statsd sink with the metric names this service emits.
// A nil Recorder (or nil sink) is safe to call and emits nothing.
type Recorder struct {
	sink statsd.Sink
}

// NewRecorder creates a Recorder over the given sink. The sink may be nil.
func NewRecorder(sink statsd.Sink) *Recorder {
	return &Recorder{sink: sink}
}

// RunTransition counts a run state change attempt.
func (r *Recorder) RunTransition(state, result string, err error) {
	if r == nil || r.sink == nil {
		return
	}
	tags := map[string]string{"state": state, "result": result}
	if err != nil && result == ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	r.sink.Count("run.transition", 1, tags)
}

// InvoiceDecision counts an approve/reject decision attempt.
func (r *Recorder) InvoiceDecision(action, result string) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Count("invoice.decision", 1, map[string]string{"action": action, "result": result})
}

// EventPublished counts an event delivered to the bus, tagged by kind.
func (r *Recorder) EventPublished(kind string) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Count("event.published", 1, map[string]string{"kind": kind})
}

// SessionDropped counts a subscriber removed because its buffer overflowed.
func (r *Recorder) SessionDropped() {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Count("stream.session.dropped", 1, nil)
}

// SessionCount records the current number of connected dashboard sessions.
func (r *Recorder) SessionCount(n int) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Gauge("stream.sessions", float64(n), nil)
}
