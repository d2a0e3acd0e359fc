package catalog

import (
	"fmt"
	"math"

	"reactsens/internal/model"
	"reactsens/internal/ode"
	"reactsens/internal/report"
	"reactsens/internal/simulation"
)

const ERKFeedbackName = "erk_feedback"

// Species of the ERK cascade with DUSP-mediated negative feedback.
const (
	spL = iota
	spR
	spLR
	spRasGDP
	spRasGTP
	spMEK
	spPMEK
	spERK
	spPERK
	spDUSP
	numSpecies
)

// Kinetic constants.
const (
	kf1 = iota
	kr1
	kd1
	kcat2
	km2
	vmax3
	km3
	kcat4
	km4
	vmax5
	km5
	kcat6
	km6
	vmax7
	km7
	ks8
	k8
	n8
	kd9
	kcat10
	km10
	numParams
)

const numReactions = 11

var erkSpeciesNames = [numSpecies]string{
	"L", "R", "LR", "RasGDP", "RasGTP", "MEK", "pMEK", "ERK", "pERK", "DUSP",
}

var erkParamNames = [numParams]string{
	"kf1", "kr1", "kd1", "kcat2", "Km2", "V3", "Km3", "kcat4", "Km4", "V5", "Km5",
	"kcat6", "Km6", "V7", "Km7", "ks8", "K8", "n8", "kd9", "kcat10", "Km10",
}

var erkDefaultParams = [numParams]float64{
	kf1: 0.1, kr1: 0.05, kd1: 0.01,
	kcat2: 0.5, km2: 10, vmax3: 1.0, km3: 10,
	kcat4: 0.3, km4: 20, vmax5: 2.0, km5: 20,
	kcat6: 0.5, km6: 50, vmax7: 3.0, km7: 50,
	ks8: 0.2, k8: 20, n8: 2, kd9: 0.05,
	kcat10: 0.5, km10: 50,
}

var erkDefaultInitial = [numSpecies]float64{
	spL: 0, spR: 50, spLR: 0, spRasGDP: 20, spRasGTP: 0,
	spMEK: 100, spPMEK: 0, spERK: 200, spPERK: 0, spDUSP: 0,
}

type erkKinetics struct{}

func (erkKinetics) NumSpecies() int   { return numSpecies }
func (erkKinetics) NumReactions() int { return numReactions }

func (erkKinetics) Flux(_ float64, y, x, v []float64) {
	v[0] = x[kf1]*y[spL]*y[spR] - x[kr1]*y[spLR]
	v[1] = x[kd1] * y[spLR]
	v[2] = x[kcat2] * y[spLR] * y[spRasGDP] / (x[km2] + y[spRasGDP])
	v[3] = x[vmax3] * y[spRasGTP] / (x[km3] + y[spRasGTP])
	v[4] = x[kcat4] * y[spRasGTP] * y[spMEK] / (x[km4] + y[spMEK])
	v[5] = x[vmax5] * y[spPMEK] / (x[km5] + y[spPMEK])
	v[6] = x[kcat6] * y[spPMEK] * y[spERK] / (x[km6] + y[spERK])
	v[7] = x[vmax7] * y[spPERK] / (x[km7] + y[spPERK])
	act := math.Pow(math.Max(y[spPERK], 0), x[n8])
	v[8] = x[ks8] * act / (math.Pow(x[k8], x[n8]) + act)
	v[9] = x[kd9] * y[spDUSP]
	v[10] = x[kcat10] * y[spDUSP] * y[spPERK] / (x[km10] + y[spPERK])
}

func (erkKinetics) Rates(v, dydt []float64) {
	dydt[spL] = -v[0]
	dydt[spR] = -v[0]
	dydt[spLR] = v[0] - v[1]
	dydt[spRasGDP] = -v[2] + v[3]
	dydt[spRasGTP] = v[2] - v[3]
	dydt[spMEK] = -v[4] + v[5]
	dydt[spPMEK] = v[4] - v[5]
	dydt[spERK] = -v[6] + v[7] + v[10]
	dydt[spPERK] = v[6] - v[7] - v[10]
	dydt[spDUSP] = v[8] - v[9]
}

type erkFeedback struct {
	sim *simulation.KineticSimulator
}

// NewERKFeedback builds a ligand-receptor / Ras / MEK / ERK cascade with
// transcriptional DUSP feedback under EGF and HRG stimulation.
func NewERKFeedback() Model {
	times := make([]float64, 61)
	for i := range times {
		times[i] = float64(i)
	}
	m := &erkFeedback{
		sim: &simulation.KineticSimulator{
			Kinetics: erkKinetics{},
			Conditions: []simulation.Condition{
				{Name: "EGF", Apply: func(_, y0 []float64) { y0[spL] = 10 }},
				{Name: "HRG", Apply: func(x, y0 []float64) {
					y0[spL] = 10
					x[kf1] *= 0.2
					x[kd1] *= 0.2
				}},
			},
			Outputs: []simulation.ObservableFunc{
				{Name: "Phosphorylated_MEK", Eval: func(y, _ []float64) float64 { return y[spPMEK] }},
				{Name: "Phosphorylated_ERK", Eval: func(y, _ []float64) float64 { return y[spPERK] }},
				{Name: "DUSP", Eval: func(y, _ []float64) float64 { return y[spDUSP] }},
			},
			Times:       times,
			Integrator:  ode.NewRK4(0.01),
			ParamCount:  numParams,
			NonNegative: true,
		},
	}
	return Model{
		Name:          ERKFeedbackName,
		Description:   "EGF/HRG-stimulated ERK cascade with DUSP negative feedback (11 reactions, 3 observables, 2 conditions)",
		Observable:    m,
		Network:       m,
		Simulation:    m.sim,
		Search:        m,
		Visualization: m,
	}
}

// SetStep overrides the integrator step of the built-in model.
func SetStep(m Model, step float64) {
	if e, ok := m.Network.(*erkFeedback); ok && step > 0 {
		e.sim.Integrator = ode.NewRK4(step)
	}
}

func (m *erkFeedback) Observables() []string { return m.sim.Observables() }
func (m *erkFeedback) Conditions() []string  { return m.sim.ConditionNames() }
func (m *erkFeedback) ReactionCount() int    { return numReactions }

func (m *erkFeedback) Group() model.ReactionGrouping {
	return model.ReactionGrouping{
		{Name: "Receptor binding", Reactions: []int{0, 1}},
		{Name: "Ras activation", Reactions: []int{2, 3}},
		{Name: "MEK phosphorylation", Reactions: []int{4, 5}},
		{Name: "ERK phosphorylation", Reactions: []int{6, 7}},
		{Name: "DUSP feedback", Reactions: []int{8, 9, 10}},
	}
}

func (m *erkFeedback) Defaults() ([]float64, []float64) {
	x := append([]float64(nil), erkDefaultParams[:]...)
	y0 := append([]float64(nil), erkDefaultInitial[:]...)
	return x, y0
}

func (m *erkFeedback) Update(parameters, initial map[string]float64) ([]float64, []float64, error) {
	x, y0 := m.Defaults()
	for name, value := range parameters {
		idx := indexOf(erkParamNames[:], name)
		if idx < 0 {
			return nil, nil, fmt.Errorf("unknown parameter %q for %s", name, ERKFeedbackName)
		}
		x[idx] = value
	}
	for name, value := range initial {
		idx := indexOf(erkSpeciesNames[:], name)
		if idx < 0 {
			return nil, nil, fmt.Errorf("unknown species %q for %s", name, ERKFeedbackName)
		}
		y0[idx] = value
	}
	return x, y0, nil
}

// ParameterNames and SpeciesNames let generators address the search space by name.
func (m *erkFeedback) ParameterNames() []string { return append([]string(nil), erkParamNames[:]...) }
func (m *erkFeedback) SpeciesNames() []string   { return append([]string(nil), erkSpeciesNames[:]...) }

func (m *erkFeedback) SensitivityOptions() report.Options {
	opts := report.DefaultOptions()
	opts.Palette = []string{"#1f77b4", "#ff7f0e"}
	return opts
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
