package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/odysseyhq/odyssey/pkg/agent"
	"github.com/odysseyhq/odyssey/pkg/contracts"
)

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(NewEcho())

	c, err := r.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", c.ID())
}

func TestEcho_ReflectsParams(t *testing.T) {
	e := NewEcho()
	res, err := e.Execute(context.Background(), agent.Action{
		Name:   "say",
		Params: map[string]any{"text": "hello"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "say", res.Output["action"])
	assert.Equal(t, "hello", res.Output["text"])
}

func TestBase_RateLimitRespectsContext(t *testing.T) {
	// A zero-rate limiter never admits; Wait must fail once ctx expires.
	b := NewBase("slow", "0.1.0", rate.Limit(0), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	require.Error(t, err)
}
