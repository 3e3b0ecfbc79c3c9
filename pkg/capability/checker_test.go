package capability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odysseyhq/odyssey/pkg/agent"
	"github.com/odysseyhq/odyssey/pkg/contracts"
)

func testIntent(caps contracts.CapabilitySet) *contracts.Intent {
	return &contracts.Intent{
		ID:           "i1",
		Name:         "fetch",
		AgentID:      "static",
		Capabilities: caps,
	}
}

func TestChecker_AllowsDeclaredAction(t *testing.T) {
	c, err := NewChecker()
	require.NoError(t, err)

	intent := testIntent(contracts.CapabilitySet{
		Actions:    []string{"http.get"},
		Connectors: []string{"http"},
	})
	err = c.Check(intent, agent.Proposal{
		Action:      agent.Action{Name: "http.get"},
		ConnectorID: "http",
	})
	assert.NoError(t, err)
}

func TestChecker_RejectsUndeclaredAction(t *testing.T) {
	c, err := NewChecker()
	require.NoError(t, err)

	intent := testIntent(contracts.CapabilitySet{
		Actions:    []string{"http.get"},
		Connectors: []string{"http"},
	})
	err = c.Check(intent, agent.Proposal{
		Action:      agent.Action{Name: "http.delete"},
		ConnectorID: "http",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrCapabilityViolation))
}

func TestChecker_RejectsUndeclaredConnector(t *testing.T) {
	c, err := NewChecker()
	require.NoError(t, err)

	intent := testIntent(contracts.CapabilitySet{
		Actions:    []string{"http.get"},
		Connectors: []string{"http"},
	})
	err = c.Check(intent, agent.Proposal{
		Action:      agent.Action{Name: "http.get"},
		ConnectorID: "shell",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrCapabilityViolation))
}

func TestChecker_GuardAllows(t *testing.T) {
	c, err := NewChecker()
	require.NoError(t, err)

	intent := testIntent(contracts.CapabilitySet{
		Actions:    []string{"http.get"},
		Connectors: []string{"http"},
		Guard:      `params.host == "api.internal"`,
	})
	err = c.Check(intent, agent.Proposal{
		Action:      agent.Action{Name: "http.get", Params: map[string]any{"host": "api.internal"}},
		ConnectorID: "http",
	})
	assert.NoError(t, err)
}

func TestChecker_GuardDenies(t *testing.T) {
	c, err := NewChecker()
	require.NoError(t, err)

	intent := testIntent(contracts.CapabilitySet{
		Actions:    []string{"http.get"},
		Connectors: []string{"http"},
		Guard:      `params.host == "api.internal"`,
	})
	err = c.Check(intent, agent.Proposal{
		Action:      agent.Action{Name: "http.get", Params: map[string]any{"host": "evil.example"}},
		ConnectorID: "http",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrCapabilityViolation))
}

func TestChecker_BrokenGuardFailsClosed(t *testing.T) {
	c, err := NewChecker()
	require.NoError(t, err)

	intent := testIntent(contracts.CapabilitySet{
		Actions:    []string{"http.get"},
		Connectors: []string{"http"},
		Guard:      `this is not CEL`,
	})
	err = c.Check(intent, agent.Proposal{
		Action:      agent.Action{Name: "http.get"},
		ConnectorID: "http",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrCapabilityViolation))
}

func TestRegistry_ResolveUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("sequential")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrContractResolution))
}

func TestRegistry_ResolveBuildsFresh(t *testing.T) {
	r := NewRegistry()
	count := 0
	r.Register("sequential", func() Orchestrator {
		count++
		return nil
	})

	_, err := r.Resolve("sequential")
	require.NoError(t, err)
	_, err = r.Resolve("sequential")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
