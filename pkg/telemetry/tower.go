package telemetry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// DefaultHistogramBounds are the upper bucket bounds, in the unit of the
// recorded metric.
var DefaultHistogramBounds = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// Aggregate is a rolling-window summary for one (component, metric) series.
type Aggregate struct {
	Component string             `json:"component_id"`
	Metric    string             `json:"metric_name"`
	Window    time.Duration      `json:"window"`
	Count     uint64             `json:"count"`
	Sum       float64            `json:"sum"`
	Min       float64            `json:"min"`
	Max       float64            `json:"max"`
	Last      float64            `json:"last"`
	LastAt    time.Time          `json:"last_at"`
	Histogram map[float64]uint64 `json:"histogram,omitempty"`
}

// Rate returns events per second over the window.
func (a Aggregate) Rate() float64 {
	if a.Window <= 0 {
		return 0
	}
	return float64(a.Count) / a.Window.Seconds()
}

// Mean returns the average value over the window.
func (a Aggregate) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// TowerConfig tunes aggregation resolution and retention.
type TowerConfig struct {
	BucketInterval time.Duration // default 1s
	MaxWindow      time.Duration // default 5m
	Bounds         []float64     // histogram bounds, default DefaultHistogramBounds
	Clock          func() time.Time
}

func (c TowerConfig) withDefaults() TowerConfig {
	if c.BucketInterval <= 0 {
		c.BucketInterval = time.Second
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = 5 * time.Minute
	}
	if c.MaxWindow < c.BucketInterval {
		c.MaxWindow = c.BucketInterval
	}
	if len(c.Bounds) == 0 {
		c.Bounds = DefaultHistogramBounds
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

type seriesKey struct {
	component string
	metric    string
}

// bucket accumulates commutative statistics for one time slot, so
// concurrent reporters only contend on the owning series lock.
type bucket struct {
	start time.Time
	count uint64
	sum   float64
	min   float64
	max   float64
	hist  []uint64
}

type series struct {
	mu      sync.Mutex
	buckets []bucket // ring, len == slots
	last    float64
	lastAt  time.Time
}

// ControlTower aggregates telemetry fleet-wide. It is an explicitly
// constructed, explicitly closed service instance passed by reference to
// reporters; there is no ambient singleton.
type ControlTower struct {
	cfg   TowerConfig
	slots int

	mu     sync.RWMutex
	series map[seriesKey]*series
}

// NewControlTower creates an aggregator.
func NewControlTower(cfg TowerConfig) *ControlTower {
	cfg = cfg.withDefaults()
	return &ControlTower{
		cfg:    cfg,
		slots:  int(cfg.MaxWindow/cfg.BucketInterval) + 1,
		series: make(map[seriesKey]*series),
	}
}

// Send implements Transport, making the tower directly usable as an
// in-process telemetry destination.
func (ct *ControlTower) Send(ctx context.Context, batch []Event) error {
	ct.Ingest(batch...)
	return nil
}

// Ingest folds events into the rolling aggregates.
func (ct *ControlTower) Ingest(events ...Event) {
	for _, e := range events {
		if e.ComponentID == "" || e.Metric == "" {
			continue
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = ct.cfg.Clock()
		}
		s := ct.seriesFor(seriesKey{e.ComponentID, e.Metric})
		s.record(ct, ts, e.Value)
	}
}

func (ct *ControlTower) seriesFor(key seriesKey) *series {
	ct.mu.RLock()
	s, ok := ct.series[key]
	ct.mu.RUnlock()
	if ok {
		return s
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()
	if s, ok = ct.series[key]; ok {
		return s
	}
	s = &series{buckets: make([]bucket, ct.slots)}
	ct.series[key] = s
	return s
}

func (s *series) record(ct *ControlTower, ts time.Time, value float64) {
	slotStart := ts.Truncate(ct.cfg.BucketInterval)
	idx := int(slotStart.UnixNano()/int64(ct.cfg.BucketInterval)) % ct.slots
	if idx < 0 {
		idx += ct.slots
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := &s.buckets[idx]
	if !b.start.Equal(slotStart) {
		*b = bucket{start: slotStart, hist: make([]uint64, len(ct.cfg.Bounds)+1)}
	}
	b.count++
	b.sum += value
	if b.count == 1 || value < b.min {
		b.min = value
	}
	if b.count == 1 || value > b.max {
		b.max = value
	}
	b.hist[boundIndex(ct.cfg.Bounds, value)]++

	if ts.After(s.lastAt) || s.lastAt.IsZero() {
		s.last = value
		s.lastAt = ts
	}
}

func boundIndex(bounds []float64, v float64) int {
	for i, b := range bounds {
		if v <= b {
			return i
		}
	}
	return len(bounds)
}

// Query returns the aggregate for one series over the trailing window.
func (ct *ControlTower) Query(component, metric string, window time.Duration) (Aggregate, error) {
	if window <= 0 || window > ct.cfg.MaxWindow {
		window = ct.cfg.MaxWindow
	}

	ct.mu.RLock()
	s, ok := ct.series[seriesKey{component, metric}]
	ct.mu.RUnlock()
	if !ok {
		return Aggregate{}, fmt.Errorf("telemetry: series %s/%s: %w", component, metric, contracts.ErrNotFound)
	}

	now := ct.cfg.Clock()
	cutoff := now.Add(-window)

	agg := Aggregate{
		Component: component,
		Metric:    metric,
		Window:    window,
		Histogram: make(map[float64]uint64),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agg.Last = s.last
	agg.LastAt = s.lastAt
	first := true
	for i := range s.buckets {
		b := &s.buckets[i]
		if b.count == 0 || b.start.Before(cutoff.Truncate(ct.cfg.BucketInterval)) || b.start.After(now) {
			continue
		}
		agg.Count += b.count
		agg.Sum += b.sum
		if first || b.min < agg.Min {
			agg.Min = b.min
		}
		if first || b.max > agg.Max {
			agg.Max = b.max
		}
		first = false
		for j, n := range b.hist {
			if n == 0 {
				continue
			}
			bound := histBound(ct.cfg.Bounds, j)
			agg.Histogram[bound] += n
		}
	}
	return agg, nil
}

// histBound maps the overflow bucket to +Inf-like sentinel using the last
// bound doubled; finite keys keep snapshots JSON-encodable.
func histBound(bounds []float64, idx int) float64 {
	if idx < len(bounds) {
		return bounds[idx]
	}
	return bounds[len(bounds)-1] * 2
}

// Snapshot returns aggregates for every known series over the window,
// ordered by component then metric.
func (ct *ControlTower) Snapshot(window time.Duration) []Aggregate {
	ct.mu.RLock()
	keys := make([]seriesKey, 0, len(ct.series))
	for k := range ct.series {
		keys = append(keys, k)
	}
	ct.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].component != keys[j].component {
			return keys[i].component < keys[j].component
		}
		return keys[i].metric < keys[j].metric
	})

	out := make([]Aggregate, 0, len(keys))
	for _, k := range keys {
		agg, err := ct.Query(k.component, k.metric, window)
		if err != nil {
			continue
		}
		out = append(out, agg)
	}
	return out
}
