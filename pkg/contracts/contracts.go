// Package contracts defines the versioned Solution -> Journey -> Intent
// hierarchy, the execution state machine, and the failure taxonomy shared by
// every other package.
package contracts

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// CapabilitySet declares which connector actions and connectors an intent is
// permitted to use. An empty Actions or Connectors list means nothing is
// allowed; capabilities are declared, never inferred.
type CapabilitySet struct {
	Actions    []string `yaml:"actions" json:"actions"`
	Connectors []string `yaml:"connectors" json:"connectors"`

	// Guard is an optional CEL expression over the proposal params. When set
	// it must evaluate to true for the proposal to be in contract.
	Guard string `yaml:"guard,omitempty" json:"guard,omitempty"`
}

// AllowsAction reports whether the action name is in the declared set.
func (c CapabilitySet) AllowsAction(action string) bool {
	for _, a := range c.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// AllowsConnector reports whether the connector id is in the declared set.
func (c CapabilitySet) AllowsConnector(id string) bool {
	for _, cn := range c.Connectors {
		if cn == id {
			return true
		}
	}
	return false
}

// Intent is one unit of work inside a journey's directed graph.
type Intent struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	AgentID string `yaml:"agent" json:"agent"`

	// DependsOn lists intent ids that must complete before this intent
	// starts. Intents with no declared dependency on each other run
	// concurrently.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// OnFailure names a declared fallback intent. Without it, any step
	// failure fails the whole execution.
	OnFailure string `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`

	Capabilities CapabilitySet `yaml:"capabilities" json:"capabilities"`

	// Defaults carries default action parameters for agents that propose
	// straight from the contract.
	Defaults map[string]any `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// Journey is a directed graph of intents executed as one workflow.
type Journey struct {
	ID      string    `yaml:"id" json:"id"`
	Name    string    `yaml:"name,omitempty" json:"name,omitempty"`
	Type    string    `yaml:"type" json:"type"`
	Intents []*Intent `yaml:"intents" json:"intents"`
}

// Intent returns the intent with the given id, or nil.
func (j *Journey) Intent(id string) *Intent {
	for _, in := range j.Intents {
		if in.ID == id {
			return in
		}
	}
	return nil
}

// Validate checks structural integrity of the intent graph: unique ids,
// known dependency and fallback references, and acyclicity.
func (j *Journey) Validate() error {
	if j.ID == "" {
		return errors.New("journey id must not be empty")
	}
	if j.Type == "" {
		return fmt.Errorf("journey %s: type must not be empty", j.ID)
	}
	if len(j.Intents) == 0 {
		return fmt.Errorf("journey %s: at least one intent required", j.ID)
	}

	seen := make(map[string]bool, len(j.Intents))
	for _, in := range j.Intents {
		if in.ID == "" {
			return fmt.Errorf("journey %s: intent id must not be empty", j.ID)
		}
		if seen[in.ID] {
			return fmt.Errorf("journey %s: duplicate intent id %q", j.ID, in.ID)
		}
		seen[in.ID] = true
	}
	for _, in := range j.Intents {
		for _, dep := range in.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("journey %s: intent %q depends on unknown intent %q", j.ID, in.ID, dep)
			}
			if dep == in.ID {
				return fmt.Errorf("journey %s: intent %q depends on itself", j.ID, in.ID)
			}
		}
		if in.OnFailure != "" {
			if !seen[in.OnFailure] {
				return fmt.Errorf("journey %s: intent %q declares unknown fallback %q", j.ID, in.ID, in.OnFailure)
			}
			if in.OnFailure == in.ID {
				return fmt.Errorf("journey %s: intent %q falls back to itself", j.ID, in.ID)
			}
		}
	}

	return j.checkAcyclic()
}

func (j *Journey) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(j.Intents))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("journey %s: dependency cycle through intent %q", j.ID, id)
		case black:
			return nil
		}
		color[id] = grey
		for _, dep := range j.Intent(id).DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, in := range j.Intents {
		if err := visit(in.ID); err != nil {
			return err
		}
	}
	return nil
}

// Solution names a business goal and groups its journeys. Once published a
// solution is immutable; the catalog refuses unpublished solutions.
type Solution struct {
	ID       string     `yaml:"id" json:"id"`
	Name     string     `yaml:"name,omitempty" json:"name,omitempty"`
	Version  string     `yaml:"version" json:"version"`
	Journeys []*Journey `yaml:"journeys" json:"journeys"`

	published bool
}

// Publish validates the solution and freezes it. A published solution must
// not be mutated; Publish on an already-published solution is a no-op.
func (s *Solution) Publish() error {
	if s.published {
		return nil
	}
	if s.ID == "" {
		return errors.New("solution id must not be empty")
	}
	if _, err := semver.NewVersion(s.Version); err != nil {
		return fmt.Errorf("solution %s: invalid version %q: %w", s.ID, s.Version, err)
	}
	if len(s.Journeys) == 0 {
		return fmt.Errorf("solution %s: at least one journey required", s.ID)
	}
	ids := make(map[string]bool, len(s.Journeys))
	for _, j := range s.Journeys {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("solution %s: %w", s.ID, err)
		}
		if ids[j.ID] {
			return fmt.Errorf("solution %s: duplicate journey id %q", s.ID, j.ID)
		}
		ids[j.ID] = true
	}
	s.published = true
	return nil
}

// Published reports whether the solution has been frozen.
func (s *Solution) Published() bool { return s.published }

// Journey returns the journey with the given id, or nil.
func (s *Solution) Journey(id string) *Journey {
	for _, j := range s.Journeys {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// ExecutionContext is the transient in-memory view of one journey
// invocation, derived by replaying committed state records. The ledger owns
// the canonical state; this view is never a divergent private copy.
type ExecutionContext struct {
	ID         string    `json:"id"`
	SolutionID string    `json:"solution_id"`
	JourneyID  string    `json:"journey_id"`
	Status     Status    `json:"status"`
	Reason     Reason    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Frontier lists intents whose post records are committed.
	Frontier    []string `json:"frontier,omitempty"`
	RecordCount int      `json:"record_count"`
}

// TerminalResult is what an orchestrator run resolves to.
type TerminalResult struct {
	Status Status
	Reason Reason
	Err    error
}
