// Package engine implements the runtime execution engine: it admits
// submissions, anchors every execution on the state surface before any work
// runs, supervises orchestrator runs against a deadline, and writes the
// single terminal record per execution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odysseyhq/odyssey/pkg/backoff"
	"github.com/odysseyhq/odyssey/pkg/capability"
	"github.com/odysseyhq/odyssey/pkg/contracts"
	"github.com/odysseyhq/odyssey/pkg/limiter"
	"github.com/odysseyhq/odyssey/pkg/surface"
	"github.com/odysseyhq/odyssey/pkg/telemetry"
)

// Config tunes the engine.
type Config struct {
	// Deadline bounds each execution end to end; past it the run is failed
	// with OrchestratorTimeout.
	Deadline time.Duration
	// Limit is the per-tenant submission policy.
	Limit limiter.Policy
	// Backoff governs retries of transient surface outages.
	Backoff backoff.Policy
	Clock   func() time.Time
	Logger  *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Deadline <= 0 {
		c.Deadline = 5 * time.Minute
	}
	if c.Limit == (limiter.Policy{}) {
		c.Limit = limiter.DefaultPolicy()
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff = backoff.DefaultPolicy()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine coordinates executions. All state lives on the surface; the maps
// here only track in-flight cancel handles.
type Engine struct {
	cfg       Config
	surface   surface.Surface
	catalog   *contracts.Catalog
	registry  *capability.Registry
	limits    limiter.Store
	telemetry telemetry.Sink

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine.
func New(cfg Config, s surface.Surface, catalog *contracts.Catalog, registry *capability.Registry, limits limiter.Store, sink telemetry.Sink) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		surface:   s,
		catalog:   catalog,
		registry:  registry,
		limits:    limits,
		telemetry: sink,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SubmitRequest describes one execution to run.
type SubmitRequest struct {
	TenantID   string
	SolutionID string
	JourneyID  string
	Input      map[string]any
	// ExecutionID lets callers retry a submission idempotently; left empty
	// a fresh id is assigned.
	ExecutionID string
}

// StatusReport is the replay-derived view of one execution.
type StatusReport struct {
	ExecutionID string           `json:"execution_id"`
	Status      contracts.Status `json:"status"`
	Reason      contracts.Reason `json:"reason,omitempty"`
	Frontier    []string         `json:"frontier,omitempty"`
	RecordCount int              `json:"record_count"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// CancelAck reports the outcome of a cancellation request.
type CancelAck struct {
	ExecutionID string           `json:"execution_id"`
	Accepted    bool             `json:"accepted"`
	Status      contracts.Status `json:"status"`
}

// Submit admits and starts one execution. The PENDING record is committed
// before Submit returns, so an accepted submission survives a crash of this
// process; the rest of the run happens asynchronously.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	tenant := req.TenantID
	if tenant == "" {
		tenant = "default"
	}

	// A blind retry of an already-accepted submission must not burn an
	// admission token; detect the replay before charging the limiter.
	if req.ExecutionID != "" {
		if records, err := e.surface.Read(ctx, req.ExecutionID); err == nil && len(records) > 1 {
			return req.ExecutionID, nil
		}
	}

	if err := limiter.Check(ctx, e.limits, tenant, e.cfg.Limit); err != nil {
		return "", err
	}

	journey, err := e.catalog.Journey(req.SolutionID, req.JourneyID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contracts.ErrContractResolution, err)
	}
	orch, err := e.registry.Resolve(journey.Type)
	if err != nil {
		return "", err
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	rec, err := surface.ProposeWithRetry(ctx, e.surface, surface.Transition{
		ExecutionID:    executionID,
		SequenceNo:     0,
		NewState:       contracts.StatusPending,
		Actor:          surface.ActorEngine,
		IdempotencyKey: executionID + ":pending",
	}, e.cfg.Backoff)
	if err != nil {
		return "", fmt.Errorf("anchor execution: %w", err)
	}
	// A replayed PENDING means this submission was accepted before; the
	// original dispatch owns the run.
	if rec.SequenceNo == 0 && req.ExecutionID != "" {
		if records, rerr := e.surface.Read(ctx, executionID); rerr == nil && len(records) > 1 {
			return executionID, nil
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[executionID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.supervise(runCtx, executionID, journey, orch, req.Input)

	e.report(executionID, "engine.submissions", 1, "count", map[string]string{"journey": journey.ID})
	return executionID, nil
}

// supervise drives one execution to a terminal record.
func (e *Engine) supervise(ctx context.Context, executionID string, journey *contracts.Journey, orch capability.Orchestrator, input map[string]any) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		if cancel, ok := e.cancels[executionID]; ok {
			cancel()
			delete(e.cancels, executionID)
		}
		e.mu.Unlock()
	}()

	log := e.cfg.Logger.With("execution_id", executionID, "journey_id", journey.ID)
	started := e.cfg.Clock()

	if _, err := surface.ProposeWithRetry(ctx, e.surface, surface.Transition{
		ExecutionID:    executionID,
		SequenceNo:     1,
		PriorState:     contracts.StatusPending,
		NewState:       contracts.StatusRunning,
		Actor:          surface.ActorEngine,
		IdempotencyKey: executionID + ":running",
	}, e.cfg.Backoff); err != nil {
		result := contracts.TerminalResult{
			Status: contracts.StatusFailed,
			Reason: reasonOrDefault(contracts.ReasonForError(err), contracts.ReasonStepFailed),
			Err:    err,
		}
		if ctx.Err() != nil {
			result = contracts.TerminalResult{
				Status: contracts.StatusCancelled,
				Reason: contracts.ReasonCancelled,
				Err:    ctx.Err(),
			}
		} else {
			log.Error("failed to start execution", "error", err)
		}
		e.finalize(executionID, result, log)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	result, err := orch.Run(runCtx, executionID, journey, input)
	if err != nil {
		result = contracts.TerminalResult{
			Status: contracts.StatusFailed,
			Reason: reasonOrDefault(contracts.ReasonForError(err), contracts.ReasonStepFailed),
			Err:    err,
		}
	}
	// A deadline hit surfaces as a cancelled run; reclassify it. A run that
	// still completed at the wire keeps its result.
	if result.Status != contracts.StatusSucceeded && runCtx.Err() != nil && ctx.Err() == nil {
		result = contracts.TerminalResult{
			Status: contracts.StatusFailed,
			Reason: contracts.ReasonOrchestratorTimeout,
			Err:    fmt.Errorf("%w: execution exceeded %s", contracts.ErrOrchestratorTimeout, e.cfg.Deadline),
		}
	}

	e.finalize(executionID, result, log)
	e.report(executionID, "engine.execution_duration_ms",
		float64(e.cfg.Clock().Sub(started).Milliseconds()), "ms",
		map[string]string{"status": string(result.Status)})
}

// finalize writes the terminal record. The idempotency key makes the write
// exactly-once even when a retry races a competing writer.
func (e *Engine) finalize(executionID string, result contracts.TerminalResult, log *slog.Logger) {
	status := result.Status
	if !status.Terminal() {
		status = contracts.StatusFailed
	}
	reason := result.Reason
	if status == contracts.StatusFailed && reason == contracts.ReasonNone {
		reason = contracts.ReasonStepFailed
	}

	// The run context may already be cancelled; terminal records must land
	// regardless, so finalization gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := e.surface.Read(ctx, executionID)
	if err != nil {
		log.Error("terminal write failed: cannot read chain", "error", err)
		return
	}
	if surface.LastState(records).Terminal() {
		return
	}

	_, err = surface.ProposeWithRetry(ctx, e.surface, surface.Transition{
		ExecutionID:    executionID,
		SequenceNo:     surface.NextSequence(records),
		PriorState:     surface.LastState(records),
		NewState:       status,
		Actor:          surface.ActorEngine,
		Reason:         reason,
		IdempotencyKey: executionID + ":terminal",
	}, e.cfg.Backoff)
	if err != nil {
		if errors.Is(err, contracts.ErrExecutionTerminal) {
			return
		}
		log.Error("terminal write failed", "status", status, "error", err)
		return
	}
	log.Info("execution finished", "status", status, "reason", reason)
}

// GetStatus derives the current view of an execution from its chain.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (StatusReport, error) {
	records, err := e.surface.Read(ctx, executionID)
	if err != nil {
		return StatusReport{}, err
	}
	ec, err := surface.Replay(executionID, records)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		ExecutionID: executionID,
		Status:      ec.Status,
		Reason:      ec.Reason,
		Frontier:    ec.Frontier,
		RecordCount: ec.RecordCount,
		CreatedAt:   ec.CreatedAt,
		UpdatedAt:   ec.UpdatedAt,
	}, nil
}

// Cancel requests cooperative cancellation. Terminal executions are left
// untouched and reported as such.
func (e *Engine) Cancel(ctx context.Context, executionID string) (CancelAck, error) {
	records, err := e.surface.Read(ctx, executionID)
	if err != nil {
		return CancelAck{}, err
	}
	if len(records) == 0 {
		return CancelAck{}, fmt.Errorf("execution %s: %w", executionID, contracts.ErrNotFound)
	}
	state := surface.LastState(records)
	if state.Terminal() {
		return CancelAck{ExecutionID: executionID, Accepted: false, Status: state}, nil
	}

	e.mu.Lock()
	cancel, ok := e.cancels[executionID]
	e.mu.Unlock()
	if ok {
		cancel()
	} else {
		// No in-process handle: never dispatched here, or the owner died.
		// The terminal record closes it out and fences any writer that
		// comes back, since terminal states are absorbing.
		e.finalize(executionID, contracts.TerminalResult{
			Status: contracts.StatusCancelled,
			Reason: contracts.ReasonCancelled,
		}, e.cfg.Logger.With("execution_id", executionID))
	}
	e.report(executionID, "engine.cancellations", 1, "count", nil)
	return CancelAck{ExecutionID: executionID, Accepted: true, Status: state}, nil
}

// Drain waits for all in-flight executions to reach a terminal record.
func (e *Engine) Drain() {
	e.wg.Wait()
}

func (e *Engine) report(executionID, metric string, value float64, unit string, tags map[string]string) {
	if e.telemetry == nil {
		return
	}
	e.telemetry.Report(telemetry.Event{
		ComponentID: "engine",
		ExecutionID: executionID,
		Metric:      metric,
		Value:       value,
		Unit:        unit,
		Timestamp:   e.cfg.Clock(),
		Tags:        tags,
	})
}

func reasonOrDefault(r, def contracts.Reason) contracts.Reason {
	if r == contracts.ReasonNone {
		return def
	}
	return r
}
