package de

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestConstraintsValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Constraints
		dims    int
		wantErr bool
	}{
		{"valid", Uniform(3, -1, 1), 3, false},
		{"degenerate bound", Constraints{{Min: 2, Max: 2}}, 1, false},
		{"count mismatch", Uniform(2, -1, 1), 3, true},
		{"min above max", Constraints{{Min: 1, Max: -1}}, 1, true},
		{"infinite", Constraints{{Min: math.Inf(-1), Max: 0}}, 1, true},
		{"NaN", Constraints{{Min: 0, Max: math.NaN()}}, 1, true},
		{"unknown kind", Constraints{{Min: 0, Max: 1, Kind: Kind(7)}}, 1, true},
		{"integer without integers", Constraints{{Min: 0.2, Max: 0.8, Kind: Integer}}, 1, true},
		{"integer with one integer", Constraints{{Min: 0.5, Max: 1.5, Kind: Integer}}, 1, false},
		{"full float range", Uniform(2, -math.MaxFloat64, math.MaxFloat64), 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate(tt.dims)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfig) {
				t.Errorf("Expected a configuration error, got %T", err)
			}
		})
	}
}

func TestNewConstraints(t *testing.T) {
	c, err := NewConstraints([]float64{-1, 0}, []float64{1, 10})
	if err != nil {
		t.Fatalf("NewConstraints failed: %v", err)
	}
	if c[1].Max != 10 || c[0].Min != -1 {
		t.Errorf("Unexpected constraints: %+v", c)
	}

	if _, err := NewConstraints([]float64{0}, []float64{1, 2}); err == nil {
		t.Error("Expected error for mismatched bound slices")
	}
}

func TestRandomGenesWithinBounds(t *testing.T) {
	c := Constraints{
		{Min: -5, Max: 5},
		{Min: 0, Max: 0.001},
		{Min: -3, Max: 3, Kind: Integer},
		{Min: 7, Max: 7},
	}

	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < 100; i++ {
			genes := c.RandomGenes(rng)
			if !c.Contains(genes) {
				t.Fatalf("seed %d: genes %v outside bounds", seed, genes)
			}
			if genes[2] != math.Round(genes[2]) {
				t.Fatalf("seed %d: integer gene %v is not integral", seed, genes[2])
			}
		}
	}

	extreme := Constraints{
		{Min: -math.MaxFloat64, Max: math.MaxFloat64},
		{Min: 0, Max: math.MaxFloat64},
		{Min: 0.2, Max: 1.9, Kind: Integer},
	}
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		genes := extreme.RandomGenes(rng)
		if !extreme.Contains(genes) {
			t.Fatalf("genes %v outside extreme bounds", genes)
		}
		if genes[2] != 1 {
			t.Fatalf("integer gene in [0.2, 1.9] must be 1, got %v", genes[2])
		}
	}
}

func TestRepairRandomExtremeBounds(t *testing.T) {
	c := Uniform(3, -math.MaxFloat64, math.MaxFloat64)
	rng := rand.New(rand.NewSource(5))
	genes := []float64{math.Inf(1), math.Inf(-1), 0}

	c.Repair(genes, RepairRandom, rng)

	if !c.Contains(genes) {
		t.Fatalf("Repaired genes outside bounds: %v", genes)
	}
}

func TestRepairIntegerFractionalBounds(t *testing.T) {
	c := Constraints{
		{Min: 0.5, Max: 3.7, Kind: Integer},
		{Min: 0.5, Max: 3.7, Kind: Integer},
		{Min: 0.5, Max: 3.7, Kind: Integer},
	}
	genes := []float64{9, -4, 2.2}

	c.Repair(genes, RepairClip, nil)

	want := []float64{3, 1, 2}
	for i := range want {
		if genes[i] != want[i] {
			t.Errorf("gene %d: expected %v, got %v", i, want[i], genes[i])
		}
	}
}

func TestRepairClip(t *testing.T) {
	c := Constraints{
		{Min: -1, Max: 1},
		{Min: -1, Max: 1},
		{Min: -1, Max: 1},
		{Min: 0, Max: 10, Kind: Integer},
		{Min: -1, Max: 1},
	}
	genes := []float64{-3, 0.5, 7, 4.6, math.NaN()}

	c.Repair(genes, RepairClip, nil)

	want := []float64{-1, 0.5, 1, 5, -1}
	for i := range want {
		if genes[i] != want[i] {
			t.Errorf("gene %d: expected %v, got %v", i, want[i], genes[i])
		}
	}
}

func TestRepairRandom(t *testing.T) {
	c := Uniform(4, 0, 1)
	rng := rand.New(rand.NewSource(3))
	genes := []float64{-5, 0.25, 5, 0.75}

	c.Repair(genes, RepairRandom, rng)

	if !c.Contains(genes) {
		t.Fatalf("Repaired genes outside bounds: %v", genes)
	}
	if genes[1] != 0.25 || genes[3] != 0.75 {
		t.Errorf("In-range genes should not change: %v", genes)
	}
}

func TestContainsLengthMismatch(t *testing.T) {
	if Uniform(2, 0, 1).Contains([]float64{0.5}) {
		t.Error("Contains should reject vectors of the wrong length")
	}
}

func TestRepairByName(t *testing.T) {
	for name, want := range map[string]RepairPolicy{"": RepairClip, "clip": RepairClip, "random": RepairRandom} {
		got, err := RepairByName(name)
		if err != nil || got != want {
			t.Errorf("RepairByName(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := RepairByName("wrap"); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected config error, got %v", err)
	}
}
