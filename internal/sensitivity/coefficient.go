package sensitivity

import (
	"fmt"
	"math"

	"reactsens/internal/model"
)

// PerturbationRatio is the multiplicative factor applied to one reaction rate.
const PerturbationRatio = 1.01

// Coefficient is the log-log sensitivity ln(perturbed/baseline)/ln(ratio).
// A NaN input gives NaN, 0/0 gives 0, and any other ratio that is zero, negative,
// infinite or undefined gives NaN.
func Coefficient(perturbed, baseline, ratio float64) float64 {
	switch {
	case math.IsNaN(perturbed) || math.IsNaN(baseline):
		return math.NaN()
	case baseline == 0 && perturbed == 0:
		return 0
	case baseline == 0:
		return math.NaN()
	}
	q := perturbed / baseline
	if !(q > 0) || math.IsInf(q, 0) {
		return math.NaN()
	}
	c := math.Log(q) / math.Log(ratio)
	if math.IsInf(c, 0) {
		return math.NaN()
	}
	return c
}

// Coefficients turns a [P, R+1, O, C] metric tensor, whose last reaction slot holds
// the unperturbed baseline, into a [P, R, O, C] coefficient tensor.
func Coefficients(metrics model.Tensor4, ratio float64) (model.Tensor4, error) {
	if err := metrics.Validate(); err != nil {
		return model.Tensor4{}, err
	}
	if !(ratio > 0) || ratio == 1 || math.IsInf(ratio, 0) {
		return model.Tensor4{}, fmt.Errorf("perturbation ratio must be positive and != 1, got %v", ratio)
	}
	p, slots, o, c := metrics.Dims[0], metrics.Dims[1], metrics.Dims[2], metrics.Dims[3]
	if slots < 2 {
		return model.Tensor4{}, fmt.Errorf("%w: metric tensor needs at least one reaction plus baseline, has %d slots", model.ErrDimensionMismatch, slots)
	}
	r := slots - 1

	out := model.NewTensor4(p, r, o, c)
	for i := 0; i < p; i++ {
		for j := 0; j < r; j++ {
			for k := 0; k < o; k++ {
				for l := 0; l < c; l++ {
					out.Set(i, j, k, l, Coefficient(metrics.At(i, j, k, l), metrics.At(i, r, k, l), ratio))
				}
			}
		}
	}
	return out, nil
}

// CountNaN returns the number of NaN cells in t.
func CountNaN(t model.Tensor4) int {
	n := 0
	for _, v := range t.Data {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
