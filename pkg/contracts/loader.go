package contracts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// solutionSchema is the structural contract every solution definition must
// satisfy before it is decoded. Semantic checks (graph integrity, semver)
// happen in Publish.
const solutionSchema = `{
  "type": "object",
  "required": ["id", "version", "journeys"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "version": {"type": "string", "minLength": 1},
    "journeys": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type", "intents"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "type": {"type": "string", "minLength": 1},
          "intents": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["id", "agent", "capabilities"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "name": {"type": "string"},
                "agent": {"type": "string", "minLength": 1},
                "depends_on": {"type": "array", "items": {"type": "string"}},
                "on_failure": {"type": "string"},
                "capabilities": {
                  "type": "object",
                  "required": ["actions", "connectors"],
                  "properties": {
                    "actions": {"type": "array", "items": {"type": "string"}},
                    "connectors": {"type": "array", "items": {"type": "string"}},
                    "guard": {"type": "string"}
                  }
                },
                "defaults": {"type": "object"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSolutionSchema = jsonschema.MustCompileString("solution.schema.json", solutionSchema)

// LoadSolution parses, schema-validates, and publishes a solution
// definition from YAML.
func LoadSolution(data []byte) (*Solution, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("solution definition: invalid yaml: %w", err)
	}

	// Roundtrip through JSON so the schema validator sees canonical types.
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("solution definition: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(jsonBytes, &jsonDoc); err != nil {
		return nil, fmt.Errorf("solution definition: %w", err)
	}
	if err := compiledSolutionSchema.Validate(jsonDoc); err != nil {
		return nil, fmt.Errorf("solution definition: schema violation: %w", err)
	}

	var s Solution
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("solution definition: %w", err)
	}
	if err := s.Publish(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSolutionFile reads and loads one solution definition file.
func LoadSolutionFile(path string) (*Solution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("solution definition %s: %w", path, err)
	}
	s, err := LoadSolution(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadSolutionDir loads every *.yaml/*.yml solution definition in dir into
// the catalog.
func LoadSolutionDir(dir string, catalog *Catalog) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("solution dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		s, err := LoadSolutionFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if err := catalog.Register(s); err != nil {
			return err
		}
	}
	return nil
}
