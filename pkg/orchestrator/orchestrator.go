// Package orchestrator walks journey intent graphs to a terminal outcome,
// writing the write-ahead step discipline onto the state surface.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odysseyhq/odyssey/pkg/agent"
	"github.com/odysseyhq/odyssey/pkg/artifacts"
	"github.com/odysseyhq/odyssey/pkg/backoff"
	"github.com/odysseyhq/odyssey/pkg/canonicalize"
	"github.com/odysseyhq/odyssey/pkg/capability"
	"github.com/odysseyhq/odyssey/pkg/connector"
	"github.com/odysseyhq/odyssey/pkg/contracts"
	"github.com/odysseyhq/odyssey/pkg/surface"
	"github.com/odysseyhq/odyssey/pkg/telemetry"
)

// Deps are the capabilities a graph orchestrator drives. All are required
// except Telemetry and Clock.
type Deps struct {
	Surface    surface.Surface
	Agents     *agent.Registry
	Connectors *connector.Registry
	Checker    *capability.Checker
	Artifacts  artifacts.Store
	Telemetry  telemetry.Sink
	Backoff    backoff.Policy
	Clock      func() time.Time
}

// Graph executes intents in dependency order. Intents whose dependencies
// are all complete run concurrently; each wave joins before the next
// starts. One Graph serves one execution.
type Graph struct {
	deps Deps

	mu      sync.Mutex // serializes ledger writes for this run
	nextSeq uint64
}

// NewGraph creates an orchestrator for a single execution.
func NewGraph(deps Deps) *Graph {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Backoff.MaxAttempts == 0 {
		deps.Backoff = backoff.DefaultPolicy()
	}
	return &Graph{deps: deps}
}

// Factory adapts NewGraph to the registry contract.
func Factory(deps Deps) capability.Factory {
	return func() capability.Orchestrator { return NewGraph(deps) }
}

// stepError carries the classified reason for a failed step.
type stepError struct {
	intentID string
	reason   contracts.Reason
	err      error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("intent %s: %v", e.intentID, e.err)
}

func (e *stepError) Unwrap() error { return e.err }

// Run drives the journey to a terminal outcome. It never writes terminal
// lifecycle records itself; the engine owns those. On resume, intents with
// committed post records are skipped.
func (g *Graph) Run(ctx context.Context, executionID string, journey *contracts.Journey, input map[string]any) (contracts.TerminalResult, error) {
	if err := journey.Validate(); err != nil {
		return contracts.TerminalResult{
			Status: contracts.StatusFailed,
			Reason: contracts.ReasonContractResolution,
			Err:    err,
		}, nil
	}

	records, err := g.deps.Surface.Read(ctx, executionID)
	if err != nil {
		return contracts.TerminalResult{}, fmt.Errorf("read chain: %w", err)
	}
	if got := surface.LastState(records); got != contracts.StatusRunning {
		return contracts.TerminalResult{}, fmt.Errorf("execution %s is %s, want RUNNING", executionID, got)
	}
	g.nextSeq = surface.NextSequence(records)
	done := surface.CompletedIntents(records)

	byID := make(map[string]*contracts.Intent, len(journey.Intents))
	for _, in := range journey.Intents {
		byID[in.ID] = in
	}
	// Intents referenced as OnFailure targets run only when their primary
	// fails; they are never scheduled as wave members.
	fallbackOnly := make(map[string]bool)
	for _, in := range journey.Intents {
		if in.OnFailure != "" {
			fallbackOnly[in.OnFailure] = true
		}
	}
	scheduled := 0
	for id := range byID {
		if !fallbackOnly[id] {
			scheduled++
		}
	}
	completed := func() int {
		n := 0
		for id := range byID {
			if done[id] && !fallbackOnly[id] {
				n++
			}
		}
		return n
	}

	for completed() < scheduled {
		// Cancellation is cooperative: checked at intent boundaries, never
		// mid-step.
		if err := ctx.Err(); err != nil {
			return contracts.TerminalResult{
				Status: contracts.StatusCancelled,
				Reason: contracts.ReasonCancelled,
				Err:    err,
			}, nil
		}

		wave := readyIntents(journey, done, fallbackOnly)
		if len(wave) == 0 {
			return contracts.TerminalResult{
				Status: contracts.StatusFailed,
				Reason: contracts.ReasonContractResolution,
				Err:    fmt.Errorf("journey %s: no runnable intents with %d pending", journey.ID, scheduled-completed()),
			}, nil
		}

		var (
			wg      sync.WaitGroup
			failMu  sync.Mutex
			failure *stepError
		)
		for _, intent := range wave {
			wg.Add(1)
			go func(it *contracts.Intent) {
				defer wg.Done()
				if err := g.runWithFallback(ctx, executionID, byID, it, input); err != nil {
					var se *stepError
					if !errors.As(err, &se) {
						se = &stepError{intentID: it.ID, reason: contracts.ReasonStepFailed, err: err}
					}
					failMu.Lock()
					if failure == nil {
						failure = se
					}
					failMu.Unlock()
				}
			}(intent)
		}
		wg.Wait()

		if failure != nil {
			return contracts.TerminalResult{
				Status: contracts.StatusFailed,
				Reason: failure.reason,
				Err:    failure,
			}, nil
		}
		for _, intent := range wave {
			done[intent.ID] = true
		}
	}

	return contracts.TerminalResult{Status: contracts.StatusSucceeded}, nil
}

// readyIntents returns intents whose dependencies are all complete and that
// have no committed post record yet.
func readyIntents(journey *contracts.Journey, done, fallbackOnly map[string]bool) []*contracts.Intent {
	var ready []*contracts.Intent
	for _, intent := range journey.Intents {
		if done[intent.ID] || fallbackOnly[intent.ID] {
			continue
		}
		ok := true
		for _, dep := range intent.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, intent)
		}
	}
	return ready
}

// runWithFallback executes an intent, walking its OnFailure chain when it
// fails. The chain's first success satisfies the original node.
func (g *Graph) runWithFallback(ctx context.Context, executionID string, byID map[string]*contracts.Intent, intent *contracts.Intent, input map[string]any) error {
	visited := make(map[string]bool)
	current := intent
	for {
		err := g.runStep(ctx, executionID, current, input)
		if err == nil {
			return nil
		}
		visited[current.ID] = true

		var se *stepError
		if !errors.As(err, &se) {
			return err
		}
		// Capability violations and cancellation are not recoverable by
		// fallback.
		if se.reason == contracts.ReasonCapabilityViolation || se.reason == contracts.ReasonCancelled {
			return err
		}
		next, ok := byID[current.OnFailure]
		if current.OnFailure == "" || !ok || visited[current.OnFailure] {
			return err
		}
		g.report(executionID, "orchestrator.fallbacks", 1, "count", map[string]string{
			"intent":   current.ID,
			"fallback": next.ID,
		})
		current = next
	}
}

// runStep performs one intent: propose, check capabilities, then the
// pre-execute-post discipline. The capability check happens before the pre
// record so a rejected proposal leaves no step trace on the ledger.
func (g *Graph) runStep(ctx context.Context, executionID string, intent *contracts.Intent, input map[string]any) error {
	started := g.deps.Clock()

	ag, err := g.deps.Agents.Resolve(intent.AgentID)
	if err != nil {
		return &stepError{intentID: intent.ID, reason: contracts.ReasonContractResolution, err: err}
	}
	proposal, err := ag.Propose(ctx, agent.ProposalRequest{
		ExecutionID: executionID,
		Intent:      intent,
		Input:       input,
	})
	if err != nil {
		return &stepError{intentID: intent.ID, reason: contracts.ReasonStepFailed, err: fmt.Errorf("propose: %w", err)}
	}
	if err := g.deps.Checker.Check(intent, proposal); err != nil {
		g.report(executionID, "orchestrator.capability_violations", 1, "count", map[string]string{"intent": intent.ID})
		return &stepError{intentID: intent.ID, reason: contracts.ReasonCapabilityViolation, err: err}
	}
	conn, err := g.deps.Connectors.Resolve(proposal.ConnectorID)
	if err != nil {
		return &stepError{intentID: intent.ID, reason: contracts.ReasonContractResolution, err: err}
	}

	payloadAddr, err := g.archive(ctx, proposal.Action)
	if err != nil {
		return &stepError{intentID: intent.ID, reason: contracts.ReasonStorageUnavailable, err: err}
	}
	if err := g.commitStep(ctx, executionID, intent.ID, surface.PhasePre, payloadAddr); err != nil {
		return &stepError{intentID: intent.ID, reason: contracts.ReasonForError(err), err: err}
	}

	result, err := conn.Execute(ctx, proposal.Action)
	if err != nil {
		reason := contracts.ReasonForError(err)
		if reason == "" || reason == contracts.ReasonStepFailed {
			reason = classifyExecuteError(err)
		}
		return &stepError{intentID: intent.ID, reason: reason, err: fmt.Errorf("execute: %w", err)}
	}
	if !result.Success {
		return &stepError{intentID: intent.ID, reason: contracts.ReasonStepFailed,
			err: fmt.Errorf("connector %s rejected action: %s", proposal.ConnectorID, result.Error)}
	}

	resultAddr, err := g.archive(ctx, result)
	if err != nil {
		return &stepError{intentID: intent.ID, reason: contracts.ReasonStorageUnavailable, err: err}
	}
	if err := g.commitStep(ctx, executionID, intent.ID, surface.PhasePost, resultAddr); err != nil {
		return &stepError{intentID: intent.ID, reason: contracts.ReasonForError(err), err: err}
	}

	g.report(executionID, "orchestrator.step_duration_ms",
		float64(g.deps.Clock().Sub(started).Milliseconds()), "ms",
		map[string]string{"intent": intent.ID})
	return nil
}

func classifyExecuteError(err error) contracts.Reason {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return contracts.ReasonCancelled
	}
	if errors.Is(err, contracts.ErrTransportFailure) {
		return contracts.ReasonTransportFailure
	}
	return contracts.ReasonStepFailed
}

// archive canonicalizes and stores a step payload, returning its address.
func (g *Graph) archive(ctx context.Context, v any) (string, error) {
	data, err := canonicalize.JCS(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	addr, err := g.deps.Artifacts.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("archive payload: %w", err)
	}
	return addr, nil
}

// commitStep appends one step record. The run mutex serializes sequence
// allocation across concurrent branches; transient storage failures are
// retried with the committed idempotency key so a retry after a lost ack
// converges on the already committed record.
func (g *Graph) commitStep(ctx context.Context, executionID, intentID string, phase surface.StepPhase, payloadAddr string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := surface.Transition{
		ExecutionID:    executionID,
		SequenceNo:     g.nextSeq,
		PriorState:     contracts.StatusRunning,
		NewState:       contracts.StatusRunning,
		Phase:          phase,
		IntentID:       intentID,
		Actor:          surface.ActorOrchestrator,
		PayloadHash:    payloadAddr,
		IdempotencyKey: fmt.Sprintf("%s:%s:%s", executionID, intentID, phase),
	}
	rec, err := surface.ProposeWithRetry(ctx, g.deps.Surface, t, g.deps.Backoff)
	if err != nil {
		return err
	}
	// An idempotent replay returns an earlier record; the chain did not
	// advance, so the cursor must not either.
	if rec.SequenceNo == g.nextSeq {
		g.nextSeq++
	}
	return nil
}

func (g *Graph) report(executionID, metric string, value float64, unit string, tags map[string]string) {
	if g.deps.Telemetry == nil {
		return
	}
	g.deps.Telemetry.Report(telemetry.Event{
		ComponentID: "orchestrator",
		ExecutionID: executionID,
		Metric:      metric,
		Value:       value,
		Unit:        unit,
		Timestamp:   g.deps.Clock(),
		Tags:        tags,
	})
}
