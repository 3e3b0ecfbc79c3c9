package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odysseyhq/odyssey/pkg/backoff"
)

// ReporterConfig tunes one component-local reporter.
type ReporterConfig struct {
	ComponentID   string
	BufferSize    int           // local ring capacity, default 1024
	BatchSize     int           // flush threshold, default 64
	FlushInterval time.Duration // flush cadence, default 1s
	Backoff       backoff.Policy
	Clock         func() time.Time
}

func (c ReporterConfig) withDefaults() ReporterConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.BatchSize > c.BufferSize {
		c.BatchSize = c.BufferSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff = backoff.DefaultPolicy()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Reporter buffers events locally and flushes batches in the background.
// Report returns immediately in every situation, including a dead
// transport: once the buffer is full the oldest events are dropped and the
// dropped-event counter is incremented, which is itself reported.
type Reporter struct {
	cfg       ReporterConfig
	transport Transport
	logger    *slog.Logger

	mu  sync.Mutex
	buf []Event

	dropped       atomic.Uint64
	droppedSeen   uint64
	droppedSeenMu sync.Mutex

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewReporter creates and starts a reporter flushing to transport.
func NewReporter(cfg ReporterConfig, transport Transport) *Reporter {
	cfg = cfg.withDefaults()
	r := &Reporter{
		cfg:       cfg,
		transport: transport,
		logger:    slog.Default().With("component", "telemetry", "reporter", cfg.ComponentID),
		buf:       make([]Event, 0, cfg.BufferSize),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	r.wg.Add(1)
	go r.flushLoop()
	return r
}

// Report implements Sink. Fire-and-forget: it enqueues into the bounded
// local buffer and returns.
func (r *Reporter) Report(e Event) {
	if e.ComponentID == "" {
		e.ComponentID = r.cfg.ComponentID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.cfg.Clock()
	}

	r.mu.Lock()
	if len(r.buf) >= r.cfg.BufferSize {
		// Drop oldest; loss is bounded and observable, never blocking.
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
		r.dropped.Add(1)
	}
	r.buf = append(r.buf, e)
	full := len(r.buf) >= r.cfg.BatchSize
	r.mu.Unlock()

	if full {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// Dropped returns the total number of events discarded so far.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Close flushes remaining events and stops the background loop.
func (r *Reporter) Close(ctx context.Context) error {
	close(r.done)
	r.wg.Wait()
	r.flush(ctx)
	return nil
}

func (r *Reporter) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.flush(context.Background())
		case <-r.wake:
			r.flush(context.Background())
		}
	}
}

func (r *Reporter) flush(ctx context.Context) {
	for {
		batch := r.take()
		if len(batch) == 0 {
			return
		}
		err := backoff.Retry(ctx, r.cfg.Backoff, "telemetry:"+r.cfg.ComponentID, nil, func() error {
			return r.transport.Send(ctx, batch)
		})
		if err != nil {
			// Retries exhausted: the batch is lost. Count it so the loss
			// stays observable and move on without blocking anyone.
			r.dropped.Add(uint64(len(batch)))
			r.logger.Warn("telemetry batch dropped after retries",
				"events", len(batch), "error", err)
			return
		}
	}
}

// take removes up to BatchSize events, prefixed with a dropped-counter
// event when drops happened since the last flush.
func (r *Reporter) take() []Event {
	var batch []Event

	r.droppedSeenMu.Lock()
	total := r.dropped.Load()
	if delta := total - r.droppedSeen; delta > 0 {
		r.droppedSeen = total
		batch = append(batch, Event{
			ComponentID: r.cfg.ComponentID,
			Metric:      MetricDroppedEvents,
			Value:       float64(delta),
			Unit:        "{event}",
			Timestamp:   r.cfg.Clock(),
		})
	}
	r.droppedSeenMu.Unlock()

	r.mu.Lock()
	n := len(r.buf)
	if n > r.cfg.BatchSize {
		n = r.cfg.BatchSize
	}
	if n > 0 {
		batch = append(batch, r.buf[:n]...)
		rest := copy(r.buf, r.buf[n:])
		r.buf = r.buf[:rest]
	}
	r.mu.Unlock()

	return batch
}
