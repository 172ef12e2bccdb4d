package de

import (
	"fmt"
	"math"
	"strings"
)

// Individual is one candidate solution: a gene vector and its cost.
// Cost is NaN and Valid is false until the individual has been evaluated
// successfully.
type Individual struct {
	Genes []float64 `json:"genes"`
	Cost  float64   `json:"cost"`
	Valid bool      `json:"valid"`
}

// NewIndividual creates an unevaluated individual holding a copy of genes.
func NewIndividual(genes []float64) *Individual {
	g := make([]float64, len(genes))
	copy(g, genes)
	return newIndividual(g)
}

// newIndividual takes ownership of genes.
func newIndividual(genes []float64) *Individual {
	return &Individual{Genes: genes, Cost: math.NaN()}
}

// Len returns the number of genes.
func (ind *Individual) Len() int { return len(ind.Genes) }

// Clone returns a deep copy of the individual.
func (ind *Individual) Clone() *Individual {
	if ind == nil {
		return nil
	}
	c := NewIndividual(ind.Genes)
	c.Cost = ind.Cost
	c.Valid = ind.Valid
	return c
}

// Invalidate marks the individual as unevaluated.
func (ind *Individual) Invalidate() {
	ind.Cost = math.NaN()
	ind.Valid = false
}

// Comparable reports whether the cost can take part in a comparison.
func (ind *Individual) Comparable() bool {
	return ind != nil && ind.Valid && !math.IsNaN(ind.Cost)
}

func (ind *Individual) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, g := range ind.Genes {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", g)
	}
	sb.WriteByte(']')
	if ind.Valid {
		fmt.Fprintf(&sb, " cost=%g", ind.Cost)
	} else {
		sb.WriteString(" cost=invalid")
	}
	return sb.String()
}

// Better reports whether a is strictly better than b. Invalid and NaN costs
// rank below every real cost, and two such costs are never better than each
// other, so the order is total and NaN never wins.
func Better(a, b *Individual, minimize bool) bool {
	if !a.Comparable() {
		return false
	}
	if !b.Comparable() {
		return true
	}
	if minimize {
		return a.Cost < b.Cost
	}
	return a.Cost > b.Cost
}

// Population is the fixed-size, order-stable set of individuals under
// evolution. Slot i always competes against the trial built for slot i.
type Population []*Individual

// Best returns the index of the best individual, or -1 when none has a
// comparable cost. Ties resolve to the lowest index.
func (p Population) Best(minimize bool) int {
	best := -1
	for i, ind := range p {
		if !ind.Comparable() {
			continue
		}
		if best < 0 || Better(ind, p[best], minimize) {
			best = i
		}
	}
	return best
}

// Costs returns the costs of all comparable individuals in slot order.
func (p Population) Costs() []float64 {
	costs := make([]float64, 0, len(p))
	for _, ind := range p {
		if ind.Comparable() {
			costs = append(costs, ind.Cost)
		}
	}
	return costs
}

// Invalid counts individuals without a comparable cost.
func (p Population) Invalid() int {
	n := 0
	for _, ind := range p {
		if !ind.Comparable() {
			n++
		}
	}
	return n
}

// Clone deep-copies every individual.
func (p Population) Clone() Population {
	c := make(Population, len(p))
	for i, ind := range p {
		c[i] = ind.Clone()
	}
	return c
}
