package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"reactsens/internal/ode"
)

// Kinetics describes an ODE right-hand side split into fluxes and their stoichiometric sum.
type Kinetics interface {
	NumSpecies() int
	NumReactions() int
	// Flux writes every reaction rate v_i at (t, y) under parameters x into v.
	Flux(t float64, y, x, v []float64)
	// Rates combines fluxes into dy/dt.
	Rates(v, dydt []float64)
}

// Condition adjusts copies of the parameter and initial-state vectors for one experiment.
type Condition struct {
	Name  string
	Apply func(x, y0 []float64)
}

type ObservableFunc struct {
	Name string
	Eval func(y, x []float64) float64
}

// KineticSimulator simulates Kinetics under every condition and samples every observable.
type KineticSimulator struct {
	Kinetics    Kinetics
	Conditions  []Condition
	Outputs     []ObservableFunc
	Times       []float64
	Integrator  ode.Integrator
	ParamCount  int
	NonNegative bool
}

func (s *KineticSimulator) Observables() []string {
	names := make([]string, len(s.Outputs))
	for i, o := range s.Outputs {
		names[i] = o.Name
	}
	return names
}

func (s *KineticSimulator) ConditionNames() []string {
	names := make([]string, len(s.Conditions))
	for i, c := range s.Conditions {
		names[i] = c.Name
	}
	return names
}

func (s *KineticSimulator) Simulate(ctx context.Context, x, y0 []float64, p Perturbation) (*Result, error) {
	if s.ParamCount > 0 && len(x) != s.ParamCount {
		return nil, fmt.Errorf("%w: expected %d parameters, got %d", ErrSimulationFailed, s.ParamCount, len(x))
	}
	if len(y0) != s.Kinetics.NumSpecies() {
		return nil, fmt.Errorf("%w: expected %d initial values, got %d", ErrSimulationFailed, s.Kinetics.NumSpecies(), len(y0))
	}
	for i, v := range x {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: infeasible parameter %d = %g", ErrSimulationFailed, i, v)
		}
	}

	factors := make([]float64, s.Kinetics.NumReactions())
	for i := range factors {
		factors[i] = p.Factor(i)
	}

	traces := make([][][]float64, len(s.Outputs))
	for o := range traces {
		traces[o] = make([][]float64, len(s.Conditions))
	}

	for c, cond := range s.Conditions {
		xc := append([]float64(nil), x...)
		yc := append([]float64(nil), y0...)
		if cond.Apply != nil {
			cond.Apply(xc, yc)
		}

		v := make([]float64, s.Kinetics.NumReactions())
		rhs := func(t float64, y, dydt []float64) {
			s.Kinetics.Flux(t, y, xc, v)
			for i := range v {
				v[i] *= factors[i]
			}
			s.Kinetics.Rates(v, dydt)
		}

		states, err := s.Integrator.Integrate(ctx, rhs, yc, s.Times)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: condition %s: %v", ErrSimulationFailed, cond.Name, err)
		}
		if s.NonNegative {
			for _, state := range states {
				for j, val := range state {
					if val < -1e-6 {
						return nil, fmt.Errorf("%w: condition %s: negative concentration in species %d", ErrSimulationFailed, cond.Name, j)
					}
				}
			}
		}

		for o, out := range s.Outputs {
			trace := make([]float64, len(states))
			for k, state := range states {
				trace[k] = out.Eval(state, xc)
			}
			traces[o][c] = trace
		}
	}

	return NewResult(s.Times, traces), nil
}
