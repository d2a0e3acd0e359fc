package model

import (
	"errors"
	"fmt"
	"math"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

var (
	ErrInvalidGrouping    = errors.New("invalid reaction grouping")
	ErrDimensionMismatch  = errors.New("dimension mismatch")
	ErrParameterSetLength = errors.New("parameter set length mismatch")
)

// ParameterSet is one accepted solution of an external parameter search.
// Callers treat the slices as read-only.
type ParameterSet struct {
	Index      int       `json:"index"`
	Parameters []float64 `json:"parameters"`
	Initial    []float64 `json:"initial"`
}

func (p ParameterSet) Clone() ParameterSet {
	return ParameterSet{
		Index:      p.Index,
		Parameters: append([]float64(nil), p.Parameters...),
		Initial:    append([]float64(nil), p.Initial...),
	}
}

// ParameterSetRecord is the persisted form of a ParameterSet.
type ParameterSetRecord struct {
	VersionedRecord
	Model string       `json:"model"`
	Set   ParameterSet `json:"set"`
}

type BiologicalProcess struct {
	Name      string `json:"name"`
	Reactions []int  `json:"reactions"`
}

// ReactionGrouping is an ordered partition of all reaction indices of a network.
type ReactionGrouping []BiologicalProcess

// Validate checks that every reaction in [0, reactionCount) appears in exactly one group.
func (g ReactionGrouping) Validate(reactionCount int) error {
	if reactionCount <= 0 {
		return fmt.Errorf("%w: reaction count must be > 0", ErrInvalidGrouping)
	}
	if len(g) == 0 {
		return fmt.Errorf("%w: no biological processes", ErrInvalidGrouping)
	}
	seen := make([]bool, reactionCount)
	total := 0
	for _, proc := range g {
		if len(proc.Reactions) == 0 {
			return fmt.Errorf("%w: process %q is empty", ErrInvalidGrouping, proc.Name)
		}
		for _, idx := range proc.Reactions {
			if idx < 0 || idx >= reactionCount {
				return fmt.Errorf("%w: reaction %d in %q outside [0, %d)", ErrInvalidGrouping, idx, proc.Name, reactionCount)
			}
			if seen[idx] {
				return fmt.Errorf("%w: reaction %d assigned more than once", ErrInvalidGrouping, idx)
			}
			seen[idx] = true
			total++
		}
	}
	if total != reactionCount {
		for idx, ok := range seen {
			if !ok {
				return fmt.Errorf("%w: reaction %d not assigned to any process", ErrInvalidGrouping, idx)
			}
		}
	}
	return nil
}

// Reactions flattens the grouping into the display order of the reaction axis.
func (g ReactionGrouping) Reactions() []int {
	out := make([]int, 0, 16)
	for _, proc := range g {
		out = append(out, proc.Reactions...)
	}
	return out
}

type CacheKey struct {
	Model  string `json:"model"`
	Metric string `json:"metric"`
}

func (k CacheKey) String() string {
	return k.Model + "/" + k.Metric
}

// RunRecord summarizes one completed analysis.
type RunRecord struct {
	VersionedRecord
	RunID         string `json:"run_id"`
	Model         string `json:"model"`
	Metric        string `json:"metric"`
	Style         string `json:"style"`
	ParameterSets int    `json:"parameter_sets"`
	Reactions     int    `json:"reactions"`
	NaNCells      int    `json:"nan_cells"`
	CacheHit      bool   `json:"cache_hit"`
	CreatedAtUTC  string `json:"created_at_utc"`
}

// Tensor4 is a dense row-major [parameter set, reaction, observable, condition] array.
type Tensor4 struct {
	Dims [4]int    `json:"dims"`
	Data []float64 `json:"-"`
}

// NewTensor4 allocates a tensor with every cell set to NaN.
func NewTensor4(p, r, o, c int) Tensor4 {
	t := Tensor4{Dims: [4]int{p, r, o, c}}
	t.Data = make([]float64, p*r*o*c)
	nan := math.NaN()
	for i := range t.Data {
		t.Data[i] = nan
	}
	return t
}

func (t Tensor4) Len() int {
	return t.Dims[0] * t.Dims[1] * t.Dims[2] * t.Dims[3]
}

func (t Tensor4) offset(p, r, o, c int) int {
	return ((p*t.Dims[1]+r)*t.Dims[2]+o)*t.Dims[3] + c
}

func (t Tensor4) At(p, r, o, c int) float64 {
	return t.Data[t.offset(p, r, o, c)]
}

func (t Tensor4) Set(p, r, o, c int, v float64) {
	t.Data[t.offset(p, r, o, c)] = v
}

// Validate reports whether the backing slice matches Dims.
func (t Tensor4) Validate() error {
	for i, d := range t.Dims {
		if d < 0 {
			return fmt.Errorf("%w: negative dim %d at axis %d", ErrDimensionMismatch, d, i)
		}
	}
	if len(t.Data) != t.Len() {
		return fmt.Errorf("%w: dims %v need %d values, have %d", ErrDimensionMismatch, t.Dims, t.Len(), len(t.Data))
	}
	return nil
}

func (t Tensor4) Clone() Tensor4 {
	return Tensor4{Dims: t.Dims, Data: append([]float64(nil), t.Data...)}
}

// Slice2D copies the [parameter set, reaction] plane for one observable and condition.
func (t Tensor4) Slice2D(o, c int) [][]float64 {
	rows := make([][]float64, t.Dims[0])
	for p := range rows {
		row := make([]float64, t.Dims[1])
		for r := range row {
			row[r] = t.At(p, r, o, c)
		}
		rows[p] = row
	}
	return rows
}

// Equal compares dims and bit patterns, so NaN cells compare equal to NaN cells.
func (t Tensor4) Equal(other Tensor4) bool {
	if t.Dims != other.Dims || len(t.Data) != len(other.Data) {
		return false
	}
	for i := range t.Data {
		if math.Float64bits(t.Data[i]) != math.Float64bits(other.Data[i]) {
			return false
		}
	}
	return true
}
