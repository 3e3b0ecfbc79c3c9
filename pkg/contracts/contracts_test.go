package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intent(id string, deps ...string) *Intent {
	return &Intent{
		ID:        id,
		AgentID:   "static",
		DependsOn: deps,
		Capabilities: CapabilitySet{
			Actions:    []string{"echo"},
			Connectors: []string{"echo"},
		},
	}
}

func journey(intents ...*Intent) *Journey {
	return &Journey{ID: "j1", Type: "graph", Intents: intents}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, Status("").Terminal())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{Status(""), StatusPending, true},
		{Status(""), StatusRunning, false},
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusSucceeded, false},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusSucceeded, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, false},
		{StatusSucceeded, StatusRunning, false},
		{StatusFailed, StatusFailed, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%q -> %q", c.from, c.to)
	}
}

func TestJourney_Validate(t *testing.T) {
	require.NoError(t, journey(intent("a"), intent("b", "a")).Validate())
}

func TestJourney_Validate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		journey *Journey
		wantSub string
	}{
		{"empty id", &Journey{Type: "graph", Intents: []*Intent{intent("a")}}, "journey id"},
		{"empty type", &Journey{ID: "j1", Intents: []*Intent{intent("a")}}, "type must not be empty"},
		{"no intents", &Journey{ID: "j1", Type: "graph"}, "at least one intent"},
		{"duplicate intent", journey(intent("a"), intent("a")), "duplicate intent id"},
		{"unknown dependency", journey(intent("a", "ghost")), "unknown intent"},
		{"self dependency", journey(intent("a", "a")), "depends on itself"},
		{"cycle", journey(intent("a", "b"), intent("b", "a")), "dependency cycle"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.journey.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.wantSub)
		})
	}
}

func TestJourney_Validate_Fallbacks(t *testing.T) {
	bad := journey(intent("a"))
	bad.Intents[0].OnFailure = "ghost"
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fallback")

	self := journey(intent("a"))
	self.Intents[0].OnFailure = "a"
	err = self.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "falls back to itself")

	ok := journey(intent("a"), intent("a-retry"))
	ok.Intents[0].OnFailure = "a-retry"
	require.NoError(t, ok.Validate())
}

func TestCapabilitySet_Membership(t *testing.T) {
	caps := CapabilitySet{Actions: []string{"fetch"}, Connectors: []string{"http"}}
	assert.True(t, caps.AllowsAction("fetch"))
	assert.False(t, caps.AllowsAction("delete"))
	assert.True(t, caps.AllowsConnector("http"))
	assert.False(t, caps.AllowsConnector("smtp"))

	var empty CapabilitySet
	assert.False(t, empty.AllowsAction("fetch"), "empty set allows nothing")
	assert.False(t, empty.AllowsConnector("http"))
}

func solution(version string) *Solution {
	return &Solution{
		ID:       "sol-1",
		Version:  version,
		Journeys: []*Journey{journey(intent("a"))},
	}
}

func TestSolution_Publish(t *testing.T) {
	s := solution("1.0.0")
	require.False(t, s.Published())
	require.NoError(t, s.Publish())
	require.True(t, s.Published())

	// Publishing twice is a no-op.
	require.NoError(t, s.Publish())
}

func TestSolution_Publish_InvalidVersion(t *testing.T) {
	err := solution("not-semver").Publish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestSolution_Publish_DuplicateJourney(t *testing.T) {
	s := solution("1.0.0")
	s.Journeys = append(s.Journeys, journey(intent("a")))
	err := s.Publish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate journey id")
}

func TestSolution_Publish_InvalidJourney(t *testing.T) {
	s := solution("1.0.0")
	s.Journeys[0].Intents = append(s.Journeys[0].Intents, intent("a"))
	require.Error(t, s.Publish())
}

func TestCatalog_RejectsUnpublished(t *testing.T) {
	c := NewCatalog()
	err := c.Register(solution("1.0.0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not published")
}

func TestCatalog_VersionSupersession(t *testing.T) {
	c := NewCatalog()

	v1 := solution("1.0.0")
	require.NoError(t, v1.Publish())
	require.NoError(t, c.Register(v1))

	same := solution("1.0.0")
	require.NoError(t, same.Publish())
	require.Error(t, c.Register(same), "same version does not supersede")

	older := solution("0.9.0")
	require.NoError(t, older.Publish())
	require.Error(t, c.Register(older), "older version does not supersede")

	v2 := solution("1.1.0")
	require.NoError(t, v2.Publish())
	require.NoError(t, c.Register(v2))

	got, err := c.Solution("sol-1")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.Version)
}

func TestCatalog_Lookups(t *testing.T) {
	c := NewCatalog()
	s := solution("1.0.0")
	require.NoError(t, s.Publish())
	require.NoError(t, c.Register(s))

	j, err := c.Journey("sol-1", "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", j.ID)

	_, err = c.Solution("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Journey("sol-1", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Journey("ghost", "j1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReasonForError(t *testing.T) {
	cases := []struct {
		err  error
		want Reason
	}{
		{nil, ReasonNone},
		{ErrContractResolution, ReasonContractResolution},
		{ErrCapabilityViolation, ReasonCapabilityViolation},
		{ErrSequenceConflict, ReasonSequenceConflict},
		{ErrOrchestratorTimeout, ReasonOrchestratorTimeout},
		{ErrTransportFailure, ReasonTransportFailure},
		{ErrStorageUnavailable, ReasonStorageUnavailable},
		{errors.New("anything else"), ReasonStepFailed},
		{fmt.Errorf("wrapped: %w", ErrCapabilityViolation), ReasonCapabilityViolation},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ReasonForError(c.err))
	}
}
