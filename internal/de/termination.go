package de

import (
	"log/slog"
	"math"
	"time"
)

// TerminationStrategy is consulted once after every completed generation.
// completed is the index of that generation (the first evolved generation is
// 1) and best the best individual found so far. Implementations see costs
// only, never the population.
type TerminationStrategy interface {
	Terminate(completed int, best *Individual) bool
}

// MaxGenerations stops after N generations.
type MaxGenerations struct {
	N int
}

func (m MaxGenerations) Terminate(completed int, _ *Individual) bool {
	return completed >= m.N
}

// CostPlateau stops once the best cost has failed to improve by at least
// Threshold (relative) for Patience consecutive generations.
type CostPlateau struct {
	Patience  int
	Threshold float64
	Minimize  bool

	lastSignificant float64
	staleCount      int
	seen            bool
}

// NewCostPlateau creates a plateau detector.
func NewCostPlateau(patience int, threshold float64, minimize bool) *CostPlateau {
	return &CostPlateau{Patience: patience, Threshold: threshold, Minimize: minimize}
}

func (c *CostPlateau) Terminate(completed int, best *Individual) bool {
	if !best.Comparable() {
		return false
	}
	cost := best.Cost
	if !c.seen {
		c.seen = true
		c.lastSignificant = cost
		return false
	}

	improvement := cost - c.lastSignificant
	if c.Minimize {
		improvement = -improvement
	}
	if scale := math.Abs(c.lastSignificant); scale > 0 {
		improvement /= scale
	}

	if improvement >= c.Threshold && improvement > 0 {
		c.lastSignificant = cost
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("No significant cost improvement",
		"generation", completed,
		"cost", cost,
		"last_significant", c.lastSignificant,
		"stale_count", c.staleCount,
		"patience", c.Patience,
	)
	if c.staleCount >= c.Patience {
		slog.Info("Convergence detected, stopping early",
			"generation", completed,
			"stale_count", c.staleCount,
			"best_cost", cost,
		)
		return true
	}
	return false
}

// StaleCount returns the number of generations without significant improvement.
func (c *CostPlateau) StaleCount() int { return c.staleCount }

// TargetCost stops once the best cost reaches Target.
type TargetCost struct {
	Target   float64
	Minimize bool
}

func (t TargetCost) Terminate(_ int, best *Individual) bool {
	if !best.Comparable() {
		return false
	}
	if t.Minimize {
		return best.Cost <= t.Target
	}
	return best.Cost >= t.Target
}

// Deadline stops once Budget has elapsed since its first consultation.
type Deadline struct {
	Budget time.Duration
	Now    func() time.Time // defaults to time.Now

	start time.Time
}

// NewDeadline creates a wall-clock budget.
func NewDeadline(budget time.Duration) *Deadline {
	return &Deadline{Budget: budget}
}

func (d *Deadline) Terminate(int, *Individual) bool {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	if d.start.IsZero() {
		d.start = now()
		return d.Budget <= 0
	}
	return now().Sub(d.start) >= d.Budget
}

type anyTermination []TerminationStrategy

// Any stops when at least one strategy says so. Every strategy is consulted
// on each call so that stateful ones keep counting.
func Any(ts ...TerminationStrategy) TerminationStrategy {
	var a anyTermination
	for _, t := range ts {
		if t != nil {
			a = append(a, t)
		}
	}
	return a
}

func (a anyTermination) Terminate(completed int, best *Individual) bool {
	stop := false
	for _, t := range a {
		if t.Terminate(completed, best) {
			stop = true
		}
	}
	return stop
}
