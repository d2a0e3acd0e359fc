// Package ode integrates systems of ordinary differential equations.
package ode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrUnstable   = errors.New("ode: state diverged")
	ErrInvalidArg = errors.New("ode: invalid argument")
)

// DivergenceLimit bounds |y| before a run is declared unstable.
const DivergenceLimit = 1e12

// RHS writes dy/dt at (t, y) into dydt.
type RHS func(t float64, y, dydt []float64)

type Integrator interface {
	// Integrate returns the state at each requested time. times[0] is the initial time.
	Integrate(ctx context.Context, rhs RHS, y0 []float64, times []float64) ([][]float64, error)
}

// RK4 is a classic fourth-order Runge-Kutta stepper with a fixed maximum step.
type RK4 struct {
	Step float64
}

func NewRK4(step float64) RK4 {
	if step <= 0 {
		step = 0.01
	}
	return RK4{Step: step}
}

func (r RK4) Integrate(ctx context.Context, rhs RHS, y0 []float64, times []float64) ([][]float64, error) {
	if rhs == nil {
		return nil, fmt.Errorf("%w: rhs is required", ErrInvalidArg)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: at least one output time is required", ErrInvalidArg)
	}
	if !sort.Float64sAreSorted(times) {
		return nil, fmt.Errorf("%w: output times must be sorted", ErrInvalidArg)
	}
	step := r.Step
	if step <= 0 {
		step = 0.01
	}

	n := len(y0)
	y := append([]float64(nil), y0...)
	k1 := make([]float64, n)
	k2 := make([]float64, n)
	k3 := make([]float64, n)
	k4 := make([]float64, n)
	tmp := make([]float64, n)

	out := make([][]float64, len(times))
	out[0] = append([]float64(nil), y...)
	t := times[0]
	for i := 1; i < len(times); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target := times[i]
		for t < target {
			h := math.Min(step, target-t)
			rhs(t, y, k1)
			for j := range y {
				tmp[j] = y[j] + 0.5*h*k1[j]
			}
			rhs(t+0.5*h, tmp, k2)
			for j := range y {
				tmp[j] = y[j] + 0.5*h*k2[j]
			}
			rhs(t+0.5*h, tmp, k3)
			for j := range y {
				tmp[j] = y[j] + h*k3[j]
			}
			rhs(t+h, tmp, k4)
			for j := range y {
				y[j] += h / 6 * (k1[j] + 2*k2[j] + 2*k3[j] + k4[j])
				if math.IsNaN(y[j]) || math.IsInf(y[j], 0) || math.Abs(y[j]) > DivergenceLimit {
					return nil, fmt.Errorf("%w at t=%.4f (species %d)", ErrUnstable, t+h, j)
				}
			}
			t += h
		}
		out[i] = append([]float64(nil), y...)
	}
	return out, nil
}
