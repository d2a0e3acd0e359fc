// Package metric reduces a simulated time course to a scalar signaling metric.
package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

type Kind string

const (
	Amplitude Kind = "amplitude"
	Duration  Kind = "duration"
	Integral  Kind = "integral"
)

// DurationThreshold is the fraction of the peak below which a signal counts as terminated.
const DurationThreshold = 0.1

var ErrUnknownKind = errors.New("unknown signaling metric")

func Kinds() []Kind {
	return []Kind{Amplitude, Duration, Integral}
}

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Amplitude:
		return Amplitude, nil
	case Duration:
		return Duration, nil
	case Integral:
		return Integral, nil
	default:
		return "", fmt.Errorf("%w: %q (available: amplitude|duration|integral)", ErrUnknownKind, s)
	}
}

// Extract computes the metric of one trace sampled at times. Undefined results are NaN.
func Extract(kind Kind, times, values []float64) (float64, error) {
	switch kind {
	case Amplitude, Duration, Integral:
	default:
		return math.NaN(), fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(values) == 0 || len(times) != len(values) {
		return math.NaN(), nil
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.NaN(), nil
		}
	}

	switch kind {
	case Amplitude:
		return floats.Max(values), nil
	case Duration:
		return duration(times, values), nil
	default:
		return integral(times, values), nil
	}
}

func duration(times, values []float64) float64 {
	peakIdx := floats.MaxIdx(values)
	peak := values[peakIdx]
	if peak <= 0 {
		return math.NaN()
	}
	threshold := DurationThreshold * peak
	for i := peakIdx; i < len(values); i++ {
		if values[i] < threshold {
			return times[i]
		}
	}
	// Sustained through the whole window.
	return times[len(times)-1]
}

func integral(times, values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	if !sort.Float64sAreSorted(times) {
		return math.NaN()
	}
	return integrate.Trapezoidal(times, values)
}
