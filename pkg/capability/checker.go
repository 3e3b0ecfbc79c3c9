package capability

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/odysseyhq/odyssey/pkg/agent"
	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// Checker validates agent proposals against the capability set declared on
// the proposing intent. Checks are fail-closed: a guard that cannot be
// compiled or evaluated denies the proposal.
type Checker struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewChecker creates a checker with the guard evaluation environment.
// Guards see the proposed action, its params, and the target connector.
func NewChecker() (*Checker, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("connector", cel.StringType),
		cel.Variable("params", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("capability checker env: %w", err)
	}
	return &Checker{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Check returns nil when the proposal is permitted by the intent's
// capability set, or an error wrapping contracts.ErrCapabilityViolation.
// The check runs before any state record or side effect for the step.
func (c *Checker) Check(intent *contracts.Intent, p agent.Proposal) error {
	caps := intent.Capabilities
	if !caps.AllowsAction(p.Action.Name) {
		return fmt.Errorf("intent %s: action %q not in capability set: %w",
			intent.ID, p.Action.Name, contracts.ErrCapabilityViolation)
	}
	if !caps.AllowsConnector(p.ConnectorID) {
		return fmt.Errorf("intent %s: connector %q not in capability set: %w",
			intent.ID, p.ConnectorID, contracts.ErrCapabilityViolation)
	}
	if caps.Guard == "" {
		return nil
	}

	input := map[string]any{
		"action":    p.Action.Name,
		"connector": p.ConnectorID,
		"params":    guardParams(p.Action.Params),
	}
	allowed, err := c.evaluate(caps.Guard, input)
	if err != nil {
		// Fail closed: a broken guard denies.
		return fmt.Errorf("intent %s: guard error (%v): %w",
			intent.ID, err, contracts.ErrCapabilityViolation)
	}
	if !allowed {
		return fmt.Errorf("intent %s: guard denied action %q: %w",
			intent.ID, p.Action.Name, contracts.ErrCapabilityViolation)
	}
	return nil
}

func (c *Checker) evaluate(expr string, input map[string]any) (bool, error) {
	c.mu.RLock()
	prg, hit := c.prgCache[expr]
	c.mu.RUnlock()

	if !hit {
		c.mu.Lock()
		if prg, hit = c.prgCache[expr]; !hit {
			ast, issues := c.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				c.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := c.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				c.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			c.prgCache[expr] = p
			prg = p
		}
		c.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard result is not bool")
	}
	return val, nil
}

func guardParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}
