// Package connector defines the pluggable external-action capability.
// Connectors execute side effects against external systems; implementations
// live outside this core.
package connector

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/odysseyhq/odyssey/pkg/agent"
	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// Result is the outcome of one executed action.
type Result struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Connector executes actions. Execute must honor ctx cancellation; a
// cancelled context is the best-effort stop used during cooperative
// execution cancellation.
type Connector interface {
	ID() string
	Execute(ctx context.Context, action agent.Action) (Result, error)
}

// Base provides identity and rate limiting for connector implementations.
type Base struct {
	id      string
	version string
	limiter *rate.Limiter
}

// NewBase creates a Base with the given rate limit.
func NewBase(id, version string, r rate.Limit, burst int) *Base {
	return &Base{id: id, version: version, limiter: rate.NewLimiter(r, burst)}
}

// ID returns the connector id.
func (b *Base) ID() string { return b.id }

// Version returns the connector version.
func (b *Base) Version() string { return b.version }

// Wait blocks until the rate limiter allows an action.
func (b *Base) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Registry holds the connectors available to orchestrators.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector, replacing any previous one with the same id.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.ID()] = c
}

// Resolve returns the connector with the given id.
func (r *Registry) Resolve(id string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	if !ok {
		return nil, fmt.Errorf("connector %q: %w", id, contracts.ErrNotFound)
	}
	return c, nil
}

// Echo is a builtin connector that reflects action params back as output.
// Useful for contract smoke tests and the CLI demo path.
type Echo struct {
	*Base
}

// NewEcho creates an Echo connector.
func NewEcho() *Echo {
	return &Echo{Base: NewBase("echo", "1.0.0", rate.Limit(100), 100)}
}

// Execute implements Connector.
func (e *Echo) Execute(ctx context.Context, action agent.Action) (Result, error) {
	if err := e.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("echo connector: %w", err)
	}
	out := map[string]any{"action": action.Name}
	for k, v := range action.Params {
		out[k] = v
	}
	return Result{Success: true, Output: out}, nil
}
