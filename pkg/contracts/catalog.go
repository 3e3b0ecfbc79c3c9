package contracts

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Catalog holds published solutions. Registering a solution id again
// requires a strictly greater semantic version; published versions are never
// overwritten in place.
type Catalog struct {
	mu        sync.RWMutex
	solutions map[string]*Solution
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{solutions: make(map[string]*Solution)}
}

// Register adds a published solution to the catalog.
func (c *Catalog) Register(s *Solution) error {
	if !s.Published() {
		return fmt.Errorf("catalog: solution %s is not published", s.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.solutions[s.ID]; ok {
		prevV := semver.MustParse(prev.Version)
		newV := semver.MustParse(s.Version)
		if !newV.GreaterThan(prevV) {
			return fmt.Errorf("catalog: solution %s version %s does not supersede %s", s.ID, s.Version, prev.Version)
		}
	}
	c.solutions[s.ID] = s
	return nil
}

// Solution returns the registered solution, or ErrNotFound.
func (c *Catalog) Solution(id string) (*Solution, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.solutions[id]
	if !ok {
		return nil, fmt.Errorf("catalog: solution %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// Journey resolves a journey inside a registered solution.
func (c *Catalog) Journey(solutionID, journeyID string) (*Journey, error) {
	s, err := c.Solution(solutionID)
	if err != nil {
		return nil, err
	}
	j := s.Journey(journeyID)
	if j == nil {
		return nil, fmt.Errorf("catalog: journey %s in solution %s: %w", journeyID, solutionID, ErrNotFound)
	}
	return j, nil
}
