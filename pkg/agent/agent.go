// Package agent defines the pluggable reasoning capability. The reasoning
// itself (model invocation, planning) lives outside this core; orchestrators
// only depend on the Propose contract.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// ProposalRequest carries everything an agent may reason over for one step.
type ProposalRequest struct {
	ExecutionID string
	Intent      *contracts.Intent
	Input       map[string]any
}

// Proposal is an action an agent wants executed for an intent. It is
// validated against the intent's declared capability set before any
// connector sees it.
type Proposal struct {
	Action      Action
	ConnectorID string
	Rationale   string
}

// Action is the connector-facing unit of work.
type Action struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Agent proposes actions for intents.
type Agent interface {
	ID() string
	Propose(ctx context.Context, req ProposalRequest) (Proposal, error)
}

// Registry holds the agents available to orchestrators.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent, replacing any previous one with the same id.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID()] = a
}

// Resolve returns the agent an intent declares.
func (r *Registry) Resolve(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", id, contracts.ErrNotFound)
	}
	return a, nil
}

// Static proposes the intent's declared default action verbatim. It is the
// degenerate no-reasoning agent used by contract-driven journeys and tests.
type Static struct {
	AgentID string
}

// ID implements Agent.
func (s *Static) ID() string {
	if s.AgentID == "" {
		return "static"
	}
	return s.AgentID
}

// Propose implements Agent.
func (s *Static) Propose(ctx context.Context, req ProposalRequest) (Proposal, error) {
	caps := req.Intent.Capabilities
	if len(caps.Actions) == 0 || len(caps.Connectors) == 0 {
		return Proposal{}, fmt.Errorf("static agent: intent %s declares no capabilities", req.Intent.ID)
	}
	params := make(map[string]any, len(req.Intent.Defaults)+len(req.Input))
	for k, v := range req.Input {
		params[k] = v
	}
	for k, v := range req.Intent.Defaults {
		params[k] = v
	}
	return Proposal{
		Action:      Action{Name: caps.Actions[0], Params: params},
		ConnectorID: caps.Connectors[0],
		Rationale:   "declared default action",
	}, nil
}
