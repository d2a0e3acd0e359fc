package model

import (
	"errors"
	"math"
	"testing"
)

func TestReactionGroupingValidate(t *testing.T) {
	grouping := ReactionGrouping{
		{Name: "binding", Reactions: []int{0, 1}},
		{Name: "feedback", Reactions: []int{3, 2}},
	}
	if err := grouping.Validate(4); err != nil {
		t.Fatalf("validate: %v", err)
	}
	got := grouping.Reactions()
	want := []int{0, 1, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected reaction order: %v", got)
		}
	}
}

func TestReactionGroupingRejectsDuplicatesAndGaps(t *testing.T) {
	dup := ReactionGrouping{
		{Name: "a", Reactions: []int{0, 1}},
		{Name: "b", Reactions: []int{1, 2}},
	}
	if err := dup.Validate(3); !errors.Is(err, ErrInvalidGrouping) {
		t.Fatalf("expected grouping error for duplicate, got %v", err)
	}
	gap := ReactionGrouping{{Name: "a", Reactions: []int{0, 2}}}
	if err := gap.Validate(3); !errors.Is(err, ErrInvalidGrouping) {
		t.Fatalf("expected grouping error for gap, got %v", err)
	}
	outside := ReactionGrouping{{Name: "a", Reactions: []int{0, 5}}}
	if err := outside.Validate(2); !errors.Is(err, ErrInvalidGrouping) {
		t.Fatalf("expected grouping error for out-of-range index, got %v", err)
	}
}

func TestTensor4IndexingAndSlice(t *testing.T) {
	tensor := NewTensor4(2, 3, 2, 2)
	if !math.IsNaN(tensor.At(1, 2, 1, 1)) {
		t.Fatal("expected new tensor cells to be NaN")
	}
	tensor.Set(1, 2, 0, 1, 4.5)
	tensor.Set(0, 1, 0, 1, -1)
	plane := tensor.Slice2D(0, 1)
	if len(plane) != 2 || len(plane[0]) != 3 {
		t.Fatalf("unexpected plane shape: %d x %d", len(plane), len(plane[0]))
	}
	if plane[1][2] != 4.5 || plane[0][1] != -1 {
		t.Fatalf("unexpected plane values: %v", plane)
	}
	plane[1][2] = 0
	if tensor.At(1, 2, 0, 1) != 4.5 {
		t.Fatal("slice must not alias tensor storage")
	}
}

func TestTensor4EqualTreatsNaNAsEqual(t *testing.T) {
	a := NewTensor4(1, 2, 1, 1)
	a.Set(0, 0, 0, 0, 1.25)
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatal("expected clone to be equal")
	}
	b.Set(0, 1, 0, 0, 0)
	if a.Equal(b) {
		t.Fatal("expected NaN vs 0 to differ")
	}
	if err := (Tensor4{Dims: [4]int{1, 1, 1, 2}, Data: []float64{1}}).Validate(); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}
