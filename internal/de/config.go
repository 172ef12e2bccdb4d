package de

import (
	"math"
	"runtime"
)

// MinPopulation is the smallest population the default mutation strategy
// accepts: the target plus three distinct donors.
const MinPopulation = 4

// Config holds the immutable scalars of a run. It is copied into the Engine
// at construction and never changed afterwards.
type Config struct {
	Dimensions     int     `json:"dimensions"`
	PopulationSize int     `json:"populationSize"`
	Weight         float64 `json:"weight"`    // differential weight F
	Crossover      float64 `json:"crossover"` // crossover probability CR
	Workers        int     `json:"workers"`
	MaxGenerations int     `json:"maxGenerations"`
	Minimize       bool    `json:"minimize"`
	Seed           int64   `json:"seed"`
}

// DefaultConfig returns a configuration suited to small problems.
func DefaultConfig() Config {
	return Config{
		Dimensions:     2,
		PopulationSize: 20,
		Weight:         0.8,
		Crossover:      0.9,
		Workers:        runtime.NumCPU(),
		MaxGenerations: 1000,
		Minimize:       true,
		Seed:           1,
	}
}

// Validate checks the scalar settings. It returns a *ConfigError.
func (c Config) Validate() error {
	if c.Dimensions <= 0 {
		return configErrorf("Dimensions", "must be positive, got %d", c.Dimensions)
	}
	if c.PopulationSize < MinPopulation {
		return configErrorf("PopulationSize", "must be at least %d, got %d", MinPopulation, c.PopulationSize)
	}
	if !inUnit(c.Weight) {
		return configErrorf("Weight", "must be in [0,1], got %g", c.Weight)
	}
	if !inUnit(c.Crossover) {
		return configErrorf("Crossover", "must be in [0,1], got %g", c.Crossover)
	}
	if c.Workers < 1 {
		return configErrorf("Workers", "must be at least 1, got %d", c.Workers)
	}
	if c.MaxGenerations < 1 {
		return configErrorf("MaxGenerations", "must be at least 1, got %d", c.MaxGenerations)
	}
	return nil
}

// ValidateObjective checks that the objective accepts vectors of the
// configured length.
func (c Config) ValidateObjective(of ObjectiveFunction) error {
	if of == nil {
		return configErrorf("Objective", "is required")
	}
	if a := of.Arity(); a != 0 && a != c.Dimensions {
		return configErrorf("Objective", "%q takes %d arguments, configured for %d", of.Name(), a, c.Dimensions)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
