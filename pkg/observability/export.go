package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/odysseyhq/odyssey/pkg/telemetry"
)

// RegisterTowerGauges bridges control tower aggregates into OTLP export.
// On every metric collection the current window snapshot is observed as
// count, sum, and last-value gauges keyed by component and metric.
func RegisterTowerGauges(meter metric.Meter, tower *telemetry.ControlTower, window time.Duration) error {
	count, err := meter.Float64ObservableGauge("odyssey.tower.count",
		metric.WithDescription("Events observed in the rolling window"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return fmt.Errorf("tower count gauge: %w", err)
	}
	sum, err := meter.Float64ObservableGauge("odyssey.tower.sum",
		metric.WithDescription("Sum of values in the rolling window"),
	)
	if err != nil {
		return fmt.Errorf("tower sum gauge: %w", err)
	}
	last, err := meter.Float64ObservableGauge("odyssey.tower.last",
		metric.WithDescription("Most recent value per series"),
	)
	if err != nil {
		return fmt.Errorf("tower last gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, agg := range tower.Snapshot(window) {
			attrs := metric.WithAttributes(
				attribute.String("component", agg.Component),
				attribute.String("metric", agg.Metric),
			)
			o.ObserveFloat64(count, float64(agg.Count), attrs)
			o.ObserveFloat64(sum, agg.Sum, attrs)
			o.ObserveFloat64(last, agg.Last, attrs)
		}
		return nil
	}, count, sum, last)
	if err != nil {
		return fmt.Errorf("register tower callback: %w", err)
	}
	return nil
}
