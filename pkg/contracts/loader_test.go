package contracts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSolutionYAML = `
id: sol-demo
name: Demo solution
version: 1.2.3
journeys:
  - id: onboard
    name: Onboarding
    type: graph
    intents:
      - id: fetch
        agent: static
        capabilities:
          actions: [echo]
          connectors: [echo]
        defaults:
          action: echo
          message: hello
      - id: notify
        agent: static
        depends_on: [fetch]
        on_failure: notify-fallback
        capabilities:
          actions: [echo]
          connectors: [echo]
          guard: 'params.message != ""'
      - id: notify-fallback
        agent: static
        capabilities:
          actions: [echo]
          connectors: [echo]
`

func TestLoadSolution(t *testing.T) {
	s, err := LoadSolution([]byte(validSolutionYAML))
	require.NoError(t, err)

	assert.Equal(t, "sol-demo", s.ID)
	assert.Equal(t, "1.2.3", s.Version)
	assert.True(t, s.Published())

	j := s.Journey("onboard")
	require.NotNil(t, j)
	assert.Equal(t, "graph", j.Type)
	require.Len(t, j.Intents, 3)

	notify := j.Intent("notify")
	require.NotNil(t, notify)
	assert.Equal(t, []string{"fetch"}, notify.DependsOn)
	assert.Equal(t, "notify-fallback", notify.OnFailure)
	assert.Equal(t, `params.message != ""`, notify.Capabilities.Guard)

	fetch := j.Intent("fetch")
	require.NotNil(t, fetch)
	assert.Equal(t, "hello", fetch.Defaults["message"])
}

func TestLoadSolution_InvalidYAML(t *testing.T) {
	_, err := LoadSolution([]byte("id: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid yaml")
}

func TestLoadSolution_SchemaViolations(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing version", `
id: sol-1
journeys:
  - id: j1
    type: graph
    intents:
      - id: a
        agent: static
        capabilities: {actions: [echo], connectors: [echo]}
`},
		{"missing agent", `
id: sol-1
version: 1.0.0
journeys:
  - id: j1
    type: graph
    intents:
      - id: a
        capabilities: {actions: [echo], connectors: [echo]}
`},
		{"missing capabilities", `
id: sol-1
version: 1.0.0
journeys:
  - id: j1
    type: graph
    intents:
      - id: a
        agent: static
`},
		{"capabilities without connectors", `
id: sol-1
version: 1.0.0
journeys:
  - id: j1
    type: graph
    intents:
      - id: a
        agent: static
        capabilities: {actions: [echo]}
`},
		{"empty journeys", `
id: sol-1
version: 1.0.0
journeys: []
`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadSolution([]byte(c.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema violation")
		})
	}
}

func TestLoadSolution_SemanticRejection(t *testing.T) {
	// Schema-valid but semantically broken: the dependency is unknown.
	_, err := LoadSolution([]byte(`
id: sol-1
version: 1.0.0
journeys:
  - id: j1
    type: graph
    intents:
      - id: a
        agent: static
        depends_on: [ghost]
        capabilities: {actions: [echo], connectors: [echo]}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown intent")
}

func TestLoadSolutionDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(validSolutionYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	catalog := NewCatalog()
	require.NoError(t, LoadSolutionDir(dir, catalog))

	_, err := catalog.Journey("sol-demo", "onboard")
	require.NoError(t, err)
}

func TestLoadSolutionDir_PropagatesParseError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: [unclosed"), 0o644))

	err := LoadSolutionDir(dir, NewCatalog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoadSolutionDir_MissingDir(t *testing.T) {
	err := LoadSolutionDir(filepath.Join(t.TempDir(), "nope"), NewCatalog())
	require.Error(t, err)
}
