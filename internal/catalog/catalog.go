// Package catalog registers the reaction-network models available for analysis.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"reactsens/internal/report"
	"reactsens/internal/simulation"
)

var (
	ErrModelExists   = errors.New("model already registered")
	ErrModelNotFound = errors.New("model not found")
)

// Model bundles the independent capability roles of one reaction-network model.
type Model struct {
	Name          string
	Description   string
	Observable    simulation.Observable
	Network       simulation.ReactionNetwork
	Simulation    simulation.NumericalSimulation
	Search        simulation.SearchParam
	Visualization report.Visualization
}

func (m Model) validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("model name is required")
	case m.Observable == nil:
		return fmt.Errorf("model %s: observable role is required", m.Name)
	case m.Network == nil:
		return fmt.Errorf("model %s: reaction network role is required", m.Name)
	case m.Simulation == nil:
		return fmt.Errorf("model %s: numerical simulation role is required", m.Name)
	case m.Search == nil:
		return fmt.Errorf("model %s: search param role is required", m.Name)
	}
	return m.Network.Group().Validate(m.Network.ReactionCount())
}

var registry = struct {
	mu sync.RWMutex
	m  map[string]func() Model
}{
	m: make(map[string]func() Model),
}

func init() {
	MustRegister(ERKFeedbackName, NewERKFeedback)
}

// Register adds a model constructor. Constructors run on every Get so that
// callers never share mutable model state.
func Register(name string, ctor func() Model) error {
	if name == "" || ctor == nil {
		return fmt.Errorf("model name and constructor are required")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.m[name]; ok {
		return fmt.Errorf("%w: %s", ErrModelExists, name)
	}
	registry.m[name] = ctor
	return nil
}

func MustRegister(name string, ctor func() Model) {
	if err := Register(name, ctor); err != nil {
		panic(err)
	}
}

func Get(name string) (Model, error) {
	registry.mu.RLock()
	ctor, ok := registry.m[name]
	registry.mu.RUnlock()
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	m := ctor()
	if err := m.validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.m))
	for name := range registry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
