// Package simulation defines the simulator contract consumed by the sensitivity engine
// and the capability roles a model provides.
package simulation

import (
	"context"
	"errors"

	"reactsens/internal/model"
)

var ErrSimulationFailed = errors.New("simulation failed")

// Perturbation maps a reaction index to a multiplicative factor on its flux.
// Reactions absent from the map run unchanged.
type Perturbation map[int]float64

// Neutral returns a map with factor 1 for every listed reaction.
func Neutral(reactions []int) Perturbation {
	p := make(Perturbation, len(reactions))
	for _, idx := range reactions {
		p[idx] = 1
	}
	return p
}

// Factor returns the multiplier for reaction idx.
func (p Perturbation) Factor(idx int) float64 {
	if f, ok := p[idx]; ok {
		return f
	}
	return 1
}

// Result holds the traces of one successful simulation. Traces are owned by
// the simulator and must not be modified by callers.
type Result struct {
	Times  []float64
	traces [][][]float64 // [observable][condition][time]
}

func NewResult(times []float64, traces [][][]float64) *Result {
	return &Result{Times: times, traces: traces}
}

func (r *Result) Observables() int {
	return len(r.traces)
}

func (r *Result) Conditions() int {
	if len(r.traces) == 0 {
		return 0
	}
	return len(r.traces[0])
}

func (r *Result) Trace(observable, condition int) []float64 {
	return r.traces[observable][condition]
}

// Observable names the measured outputs and the experimental conditions.
type Observable interface {
	Observables() []string
	Conditions() []string
}

// ReactionNetwork exposes the flux count and the biological-process grouping.
type ReactionNetwork interface {
	ReactionCount() int
	Group() model.ReactionGrouping
}

// NumericalSimulation runs the model once. Failures wrap ErrSimulationFailed.
// Implementations must be safe for concurrent use.
type NumericalSimulation interface {
	Simulate(ctx context.Context, x, y0 []float64, p Perturbation) (*Result, error)
}

// SearchParam maps the searched values of a fit onto full parameter and initial-state vectors.
type SearchParam interface {
	Defaults() (x, y0 []float64)
	Update(parameters, initial map[string]float64) (x, y0 []float64, err error)
}
