package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odysseyhq/odyssey/pkg/agent"
	"github.com/odysseyhq/odyssey/pkg/artifacts"
	"github.com/odysseyhq/odyssey/pkg/capability"
	"github.com/odysseyhq/odyssey/pkg/connector"
	"github.com/odysseyhq/odyssey/pkg/contracts"
	"github.com/odysseyhq/odyssey/pkg/surface"
)

// scriptedConnector runs a closure per action, counting invocations.
type scriptedConnector struct {
	id    string
	calls atomic.Int64
	run   func(ctx context.Context, action agent.Action) (connector.Result, error)
}

func (c *scriptedConnector) ID() string { return c.id }

func (c *scriptedConnector) Execute(ctx context.Context, action agent.Action) (connector.Result, error) {
	c.calls.Add(1)
	if c.run != nil {
		return c.run(ctx, action)
	}
	return connector.Result{Success: true, Output: map[string]any{"action": action.Name}}, nil
}

func okConnector(id string) *scriptedConnector {
	return &scriptedConnector{id: id}
}

func testDeps(t *testing.T, conns ...connector.Connector) (Deps, *surface.Memory) {
	t.Helper()
	checker, err := capability.NewChecker()
	require.NoError(t, err)

	agents := agent.NewRegistry()
	agents.Register(&agent.Static{})

	connectors := connector.NewRegistry()
	for _, c := range conns {
		connectors.Register(c)
	}

	mem := surface.NewMemory()
	return Deps{
		Surface:    mem,
		Agents:     agents,
		Connectors: connectors,
		Checker:    checker,
		Artifacts:  artifacts.NewMemory(),
	}, mem
}

// startExecution seeds the PENDING and RUNNING lifecycle records the engine
// would write before handing off.
func startExecution(t *testing.T, s surface.Surface, executionID string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Propose(ctx, surface.Transition{
		ExecutionID: executionID,
		SequenceNo:  0,
		NewState:    contracts.StatusPending,
		Actor:       surface.ActorEngine,
	})
	require.NoError(t, err)
	_, err = s.Propose(ctx, surface.Transition{
		ExecutionID: executionID,
		SequenceNo:  1,
		PriorState:  contracts.StatusPending,
		NewState:    contracts.StatusRunning,
		Actor:       surface.ActorEngine,
	})
	require.NoError(t, err)
}

func intentFor(id, connectorID, action string, deps ...string) *contracts.Intent {
	return &contracts.Intent{
		ID:      id,
		Name:    id,
		AgentID: "static",
		Capabilities: contracts.CapabilitySet{
			Actions:    []string{action},
			Connectors: []string{connectorID},
		},
		DependsOn: deps,
	}
}

func TestRun_LinearJourneySucceeds(t *testing.T) {
	conn := okConnector("echo")
	deps, mem := testDeps(t, conn)
	startExecution(t, mem, "exec-1")

	journey := &contracts.Journey{
		ID:   "j1",
		Type: "graph",
		Intents: []*contracts.Intent{
			intentFor("i1", "echo", "say"),
			intentFor("i2", "echo", "say", "i1"),
		},
	}

	res, err := NewGraph(deps).Run(context.Background(), "exec-1", journey, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSucceeded, res.Status)
	assert.EqualValues(t, 2, conn.calls.Load())

	records, err := mem.Read(context.Background(), "exec-1")
	require.NoError(t, err)
	// PENDING, RUNNING, then pre/post per intent.
	require.Len(t, records, 6)
	assert.Equal(t, surface.PhasePre, records[2].Phase)
	assert.Equal(t, "i1", records[2].IntentID)
	assert.Equal(t, surface.PhasePost, records[3].Phase)
	assert.Equal(t, "i1", records[3].IntentID)
	assert.Equal(t, "i2", records[4].IntentID)
	assert.Equal(t, "i2", records[5].IntentID)
	assert.NoError(t, surface.Verify(records))
}

func TestRun_CapabilityViolationLeavesNoStepTrace(t *testing.T) {
	conn := okConnector("echo")
	deps, mem := testDeps(t, conn)
	startExecution(t, mem, "exec-1")

	blocked := intentFor("i2", "echo", "say", "i1")
	blocked.Capabilities.Guard = "false"

	journey := &contracts.Journey{
		ID:   "j1",
		Type: "graph",
		Intents: []*contracts.Intent{
			intentFor("i1", "echo", "say"),
			blocked,
		},
	}

	res, err := NewGraph(deps).Run(context.Background(), "exec-1", journey, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusFailed, res.Status)
	assert.Equal(t, contracts.ReasonCapabilityViolation, res.Reason)
	assert.EqualValues(t, 1, conn.calls.Load())

	records, err := mem.Read(context.Background(), "exec-1")
	require.NoError(t, err)
	// The rejected intent must not appear: PENDING, RUNNING, i1 pre, i1 post.
	require.Len(t, records, 4)
	for _, r := range records {
		assert.NotEqual(t, "i2", r.IntentID)
	}
}

func TestRun_IndependentBranchesRunConcurrently(t *testing.T) {
	const stepDelay = 50 * time.Millisecond
	slow := &scriptedConnector{id: "slow", run: func(ctx context.Context, _ agent.Action) (connector.Result, error) {
		select {
		case <-time.After(stepDelay):
		case <-ctx.Done():
			return connector.Result{}, ctx.Err()
		}
		return connector.Result{Success: true}, nil
	}}
	deps, mem := testDeps(t, slow)
	startExecution(t, mem, "exec-1")

	journey := &contracts.Journey{
		ID:   "j1",
		Type: "graph",
		Intents: []*contracts.Intent{
			intentFor("i1", "slow", "work"),
			intentFor("i2", "slow", "work", "i1"),
			intentFor("i3", "slow", "work", "i1"),
		},
	}

	start := time.Now()
	res, err := NewGraph(deps).Run(context.Background(), "exec-1", journey, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSucceeded, res.Status)
	// Two waves of 50ms each, not three serial steps.
	assert.Less(t, elapsed, 3*stepDelay, "branches i2 and i3 should overlap")

	records, err := mem.Read(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.NoError(t, surface.Verify(records))
	assert.Len(t, records, 8)
}

func TestRun_FallbackChainSatisfiesFailedIntent(t *testing.T) {
	flaky := &scriptedConnector{id: "flaky", run: func(context.Context, agent.Action) (connector.Result, error) {
		return connector.Result{Success: false, Error: "upstream 503"}, nil
	}}
	echo := okConnector("echo")
	deps, mem := testDeps(t, flaky, echo)
	startExecution(t, mem, "exec-1")

	primary := intentFor("i1", "flaky", "push")
	primary.OnFailure = "i1b"

	journey := &contracts.Journey{
		ID:   "j1",
		Type: "graph",
		Intents: []*contracts.Intent{
			primary,
			intentFor("i1b", "echo", "queue"),
			intentFor("i2", "echo", "notify", "i1"),
		},
	}

	res, err := NewGraph(deps).Run(context.Background(), "exec-1", journey, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSucceeded, res.Status)

	records, err := mem.Read(context.Background(), "exec-1")
	require.NoError(t, err)
	done := surface.CompletedIntents(records)
	assert.True(t, done["i1b"], "fallback should have completed")
	assert.True(t, done["i2"])
	assert.False(t, done["i1"], "failed primary has a pre record but no post")
}

func TestRun_FallbackExhaustedFails(t *testing.T) {
	flaky := &scriptedConnector{id: "flaky", run: func(context.Context, agent.Action) (connector.Result, error) {
		return connector.Result{Success: false, Error: "down"}, nil
	}}
	deps, mem := testDeps(t, flaky)
	startExecution(t, mem, "exec-1")

	primary := intentFor("i1", "flaky", "push")
	primary.OnFailure = "i1b"
	fallback := intentFor("i1b", "flaky", "push")

	journey := &contracts.Journey{
		ID:      "j1",
		Type:    "graph",
		Intents: []*contracts.Intent{primary, fallback},
	}

	res, err := NewGraph(deps).Run(context.Background(), "exec-1", journey, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusFailed, res.Status)
	assert.Equal(t, contracts.ReasonStepFailed, res.Reason)
}

func TestRun_ResumeSkipsCompletedIntents(t *testing.T) {
	conn := okConnector("echo")
	deps, mem := testDeps(t, conn)
	startExecution(t, mem, "exec-1")

	journey := &contracts.Journey{
		ID:   "j1",
		Type: "graph",
		Intents: []*contracts.Intent{
			intentFor("i1", "echo", "say"),
			intentFor("i2", "echo", "say", "i1"),
		},
	}

	// Simulate a crash after i1: its pre and post records are committed.
	ctx := context.Background()
	for i, phase := range []surface.StepPhase{surface.PhasePre, surface.PhasePost} {
		_, err := mem.Propose(ctx, surface.Transition{
			ExecutionID:    "exec-1",
			SequenceNo:     uint64(2 + i),
			PriorState:     contracts.StatusRunning,
			NewState:       contracts.StatusRunning,
			Phase:          phase,
			IntentID:       "i1",
			Actor:          surface.ActorOrchestrator,
			IdempotencyKey: "exec-1:i1:" + string(phase),
		})
		require.NoError(t, err)
	}

	res, err := NewGraph(deps).Run(ctx, "exec-1", journey, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSucceeded, res.Status)
	assert.EqualValues(t, 1, conn.calls.Load(), "i1 must not re-run")
}

func TestRun_CancellationAtIntentBoundary(t *testing.T) {
	conn := okConnector("echo")
	deps, mem := testDeps(t, conn)
	startExecution(t, mem, "exec-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	journey := &contracts.Journey{
		ID:      "j1",
		Type:    "graph",
		Intents: []*contracts.Intent{intentFor("i1", "echo", "say")},
	}

	res, err := NewGraph(deps).Run(ctx, "exec-1", journey, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusCancelled, res.Status)
	assert.Equal(t, contracts.ReasonCancelled, res.Reason)
	assert.EqualValues(t, 0, conn.calls.Load())
}

func TestRun_RejectsNonRunningExecution(t *testing.T) {
	deps, mem := testDeps(t, okConnector("echo"))
	ctx := context.Background()
	_, err := mem.Propose(ctx, surface.Transition{
		ExecutionID: "exec-1",
		SequenceNo:  0,
		NewState:    contracts.StatusPending,
		Actor:       surface.ActorEngine,
	})
	require.NoError(t, err)

	journey := &contracts.Journey{
		ID:      "j1",
		Type:    "graph",
		Intents: []*contracts.Intent{intentFor("i1", "echo", "say")},
	}
	_, err = NewGraph(deps).Run(ctx, "exec-1", journey, nil)
	assert.Error(t, err)
}

func TestRun_InvalidJourneyFailsWithResolutionReason(t *testing.T) {
	deps, mem := testDeps(t, okConnector("echo"))
	startExecution(t, mem, "exec-1")

	journey := &contracts.Journey{
		ID:   "j1",
		Type: "graph",
		Intents: []*contracts.Intent{
			intentFor("i1", "echo", "say", "i2"),
			intentFor("i2", "echo", "say", "i1"),
		},
	}
	res, err := NewGraph(deps).Run(context.Background(), "exec-1", journey, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusFailed, res.Status)
	assert.Equal(t, contracts.ReasonContractResolution, res.Reason)
	assert.True(t, res.Err != nil && !errors.Is(res.Err, context.Canceled))
}
