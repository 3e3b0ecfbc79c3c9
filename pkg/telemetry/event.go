// Package telemetry implements the fire-and-forget reporting pipeline and
// the Control Tower aggregator. Report never blocks and never surfaces an
// error to the instrumented operation; telemetry loss is bounded and
// observable through a dedicated dropped-event counter.
package telemetry

import (
	"context"
	"time"
)

// Event is one ephemeral telemetry sample. Events are aggregated, not
// individually persisted.
type Event struct {
	ComponentID string            `json:"component_id"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Metric      string            `json:"metric_name"`
	Value       float64           `json:"value"`
	Unit        string            `json:"unit,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// MetricDroppedEvents is reported by the pipeline itself whenever buffer
// overflow or retry exhaustion discarded events.
const MetricDroppedEvents = "telemetry.dropped_events"

// Transport delivers batches toward the Control Tower.
type Transport interface {
	Send(ctx context.Context, batch []Event) error
}

// Sink is the reporting face handed to instrumented components.
type Sink interface {
	Report(e Event)
}
