package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"reactsens/internal/model"
)

var ErrNoCompleteRows = errors.New("no parameter set without NaN")

// RemoveIncomplete drops every row that contains a NaN and, when normalize is set,
// scales each surviving row by its maximum absolute value. All-zero rows stay zero.
// The input is not modified.
func RemoveIncomplete(rows [][]float64, normalize bool) [][]float64 {
	kept, _ := removeIncomplete(rows, normalize)
	return kept
}

func removeIncomplete(rows [][]float64, normalize bool) ([][]float64, []int) {
	kept := make([][]float64, 0, len(rows))
	idx := make([]int, 0, len(rows))
	for i, row := range rows {
		if hasNaN(row) {
			continue
		}
		out := append([]float64(nil), row...)
		if normalize {
			NormalizeRow(out)
		}
		kept = append(kept, out)
		idx = append(idx, i)
	}
	return kept, idx
}

// NormalizeRow divides row in place by its maximum absolute value unless that value is zero.
func NormalizeRow(row []float64) {
	maxAbs := floats.Norm(row, math.Inf(1))
	if maxAbs == 0 {
		return
	}
	floats.Scale(1/maxAbs, row)
}

type Summary struct {
	N     int       `json:"n"`
	Mean  []float64 `json:"mean"`
	Stdev []float64 `json:"stdev"`
}

// Summarize returns the column mean and sample standard deviation across rows.
// A single row has zero deviation.
func Summarize(rows [][]float64) (Summary, error) {
	if len(rows) == 0 {
		return Summary{}, ErrNoCompleteRows
	}
	width := len(rows[0])
	for i, row := range rows {
		if len(row) != width {
			return Summary{}, fmt.Errorf("%w: row %d has %d columns, want %d", model.ErrDimensionMismatch, i, len(row), width)
		}
	}

	summary := Summary{
		N:     len(rows),
		Mean:  make([]float64, width),
		Stdev: make([]float64, width),
	}
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		summary.Mean[j] = stat.Mean(col, nil)
		if len(rows) > 1 {
			summary.Stdev[j] = stat.StdDev(col, nil)
		}
	}
	return summary, nil
}

// ObservableSummary aggregates one observable across parameter sets for every reaction and condition.
type ObservableSummary struct {
	Observable int         `json:"observable"`
	Retained   []int       `json:"retained"`
	Mean       [][]float64 `json:"mean"`  // [reaction][condition]
	Stdev      [][]float64 `json:"stdev"` // [reaction][condition]
}

// SummarizeObservable drops parameter sets with a NaN in any reaction or condition of
// the observable, then summarizes the rest.
func SummarizeObservable(t model.Tensor4, obs int) (ObservableSummary, error) {
	if err := t.Validate(); err != nil {
		return ObservableSummary{}, err
	}
	if obs < 0 || obs >= t.Dims[2] {
		return ObservableSummary{}, fmt.Errorf("%w: observable %d outside [0, %d)", model.ErrDimensionMismatch, obs, t.Dims[2])
	}
	reactions, conditions := t.Dims[1], t.Dims[3]

	rows := make([][]float64, t.Dims[0])
	for p := range rows {
		row := make([]float64, 0, reactions*conditions)
		for r := 0; r < reactions; r++ {
			for c := 0; c < conditions; c++ {
				row = append(row, t.At(p, r, obs, c))
			}
		}
		rows[p] = row
	}

	kept, retained := removeIncomplete(rows, false)
	summary, err := Summarize(kept)
	if err != nil {
		return ObservableSummary{Observable: obs, Retained: retained}, err
	}

	out := ObservableSummary{
		Observable: obs,
		Retained:   retained,
		Mean:       make([][]float64, reactions),
		Stdev:      make([][]float64, reactions),
	}
	for r := 0; r < reactions; r++ {
		out.Mean[r] = append([]float64(nil), summary.Mean[r*conditions:(r+1)*conditions]...)
		out.Stdev[r] = append([]float64(nil), summary.Stdev[r*conditions:(r+1)*conditions]...)
	}
	return out, nil
}

// Heatmap is the cleaned [parameter set, reaction] matrix of one observable and condition.
type Heatmap struct {
	Observable int         `json:"observable"`
	Condition  int         `json:"condition"`
	Normalized bool        `json:"normalized"`
	Retained   []int       `json:"retained"`
	Rows       [][]float64 `json:"rows"`
}

func HeatmapMatrix(t model.Tensor4, obs, cond int, normalize bool) (Heatmap, error) {
	if err := t.Validate(); err != nil {
		return Heatmap{}, err
	}
	if obs < 0 || obs >= t.Dims[2] || cond < 0 || cond >= t.Dims[3] {
		return Heatmap{}, fmt.Errorf("%w: cell (%d, %d) outside observables=%d conditions=%d", model.ErrDimensionMismatch, obs, cond, t.Dims[2], t.Dims[3])
	}
	rows, retained := removeIncomplete(t.Slice2D(obs, cond), normalize)
	return Heatmap{
		Observable: obs,
		Condition:  cond,
		Normalized: normalize,
		Retained:   retained,
		Rows:       rows,
	}, nil
}

// Renderable reports whether clustering the matrix is meaningful: more than one
// parameter set and at least one nonzero coefficient.
func (h Heatmap) Renderable() bool {
	if len(h.Rows) <= 1 {
		return false
	}
	for _, row := range h.Rows {
		for _, v := range row {
			if v != 0 {
				return true
			}
		}
	}
	return false
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
