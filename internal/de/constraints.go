package de

import (
	"fmt"
	"math"
	"math/rand"
)

// Kind selects the value domain of a Constraint.
type Kind int

const (
	Real Kind = iota
	Integer
)

func (k Kind) String() string {
	switch k {
	case Real:
		return "real"
	case Integer:
		return "integer"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RepairPolicy decides what happens to a gene that left its bounds.
type RepairPolicy int

const (
	// RepairClip moves the gene to the nearest bound.
	RepairClip RepairPolicy = iota
	// RepairRandom resamples the gene uniformly within its bounds.
	RepairRandom
)

// RepairByName maps "clip" (or "") and "random" to a policy.
func RepairByName(name string) (RepairPolicy, error) {
	switch name {
	case "", "clip":
		return RepairClip, nil
	case "random":
		return RepairRandom, nil
	}
	return RepairClip, configErrorf("Repair", "unknown policy %q (available: [clip random])", name)
}

// Constraint bounds a single gene dimension to [Min, Max].
type Constraint struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Kind Kind    `json:"kind,omitempty"`
}

// Random draws a value uniformly within the bounds. The interpolation
// form stays finite even when Max-Min overflows.
func (c Constraint) Random(rng *rand.Rand) float64 {
	u := rng.Float64()
	v := c.Min*(1-u) + c.Max*u
	if c.Kind == Integer {
		return c.Clip(math.Round(v))
	}
	return c.Clip(v)
}

// limits returns the bounds values may take: for Integer kinds the
// innermost integers of [Min, Max].
func (c Constraint) limits() (lo, hi float64) {
	if c.Kind == Integer {
		return math.Ceil(c.Min), math.Floor(c.Max)
	}
	return c.Min, c.Max
}

// Contains reports whether v lies in [Min, Max].
func (c Constraint) Contains(v float64) bool {
	return v >= c.Min && v <= c.Max
}

// Clip returns v moved into the bounds. NaN maps to the lower bound.
// Integer kinds clip to the innermost integers.
func (c Constraint) Clip(v float64) float64 {
	lo, hi := c.limits()
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// Constraints holds one Constraint per gene dimension.
type Constraints []Constraint

// Uniform returns dims constraints sharing the same real bounds.
func Uniform(dims int, lo, hi float64) Constraints {
	c := make(Constraints, dims)
	for i := range c {
		c[i] = Constraint{Min: lo, Max: hi}
	}
	return c
}

// NewConstraints builds real constraints from parallel bound slices.
func NewConstraints(lower, upper []float64) (Constraints, error) {
	if len(lower) != len(upper) {
		return nil, configErrorf("Constraints", "lower has %d bounds, upper has %d", len(lower), len(upper))
	}
	c := make(Constraints, len(lower))
	for i := range lower {
		c[i] = Constraint{Min: lower[i], Max: upper[i]}
	}
	if err := c.Validate(len(c)); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that there is one finite, ordered bound pair per dimension.
func (c Constraints) Validate(dims int) error {
	if len(c) != dims {
		return configErrorf("Constraints", "has %d bounds, expected %d", len(c), dims)
	}
	for i, b := range c {
		if math.IsNaN(b.Min) || math.IsNaN(b.Max) || math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) {
			return configErrorf(fmt.Sprintf("Constraints[%d]", i), "must be finite")
		}
		if b.Min > b.Max {
			return configErrorf(fmt.Sprintf("Constraints[%d]", i), "min %g is greater than max %g", b.Min, b.Max)
		}
		if b.Kind != Real && b.Kind != Integer {
			return configErrorf(fmt.Sprintf("Constraints[%d]", i), "unknown kind %v", b.Kind)
		}
		if lo, hi := b.limits(); lo > hi {
			return configErrorf(fmt.Sprintf("Constraints[%d]", i), "no integer in [%g, %g]", b.Min, b.Max)
		}
	}
	return nil
}

// RandomGenes samples a gene vector uniformly within the bounds.
func (c Constraints) RandomGenes(rng *rand.Rand) []float64 {
	genes := make([]float64, len(c))
	for i, b := range c {
		genes[i] = b.Random(rng)
	}
	return genes
}

// Contains reports whether every gene lies within its bounds.
func (c Constraints) Contains(genes []float64) bool {
	if len(genes) != len(c) {
		return false
	}
	for i, b := range c {
		if !b.Contains(genes[i]) {
			return false
		}
	}
	return true
}

// Repair brings genes back inside the bounds in place and rounds integer
// dimensions. rng is only used by RepairRandom.
func (c Constraints) Repair(genes []float64, policy RepairPolicy, rng *rand.Rand) {
	for i, b := range c {
		v := genes[i]
		if b.Kind == Integer && !math.IsNaN(v) {
			v = math.Round(v)
		}
		if !b.Contains(v) {
			if policy == RepairRandom {
				v = b.Random(rng)
			} else {
				v = b.Clip(v)
			}
		}
		genes[i] = v
	}
}

// Lower returns the lower bounds.
func (c Constraints) Lower() []float64 {
	l := make([]float64, len(c))
	for i, b := range c {
		l[i] = b.Min
	}
	return l
}

// Upper returns the upper bounds.
func (c Constraints) Upper() []float64 {
	u := make([]float64, len(c))
	for i, b := range c {
		u[i] = b.Max
	}
	return u
}
