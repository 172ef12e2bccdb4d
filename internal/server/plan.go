package server

import (
	"context"
	"fmt"
	"time"

	"github.com/cwbudde/diffevo/internal/de"
	"github.com/cwbudde/diffevo/internal/store"
	"github.com/cwbudde/diffevo/internal/testfuncs"
)

// DefaultPlateauThreshold is the relative improvement below which a
// generation counts as stale when Patience is set.
const DefaultPlateauThreshold = 1e-9

// JobConfig describes one optimization. The embedded de.Config fields are
// inlined in JSON, so a request body looks like
// {"function":"rastrigin","dimensions":5,"populationSize":40,...}.
type JobConfig struct {
	store.RunConfig

	// Repair is "clip" (default) or "random".
	Repair string `json:"repair,omitempty"`

	// Target stops the run once the best cost reaches it.
	Target *float64 `json:"target,omitempty"`

	// Patience stops the run after this many generations without relative
	// improvement above PlateauThreshold. 0 disables the check.
	Patience         int     `json:"patience,omitempty"`
	PlateauThreshold float64 `json:"plateauThreshold,omitempty"`

	// TimeoutSeconds bounds the wall-clock time of the run. 0 means none.
	TimeoutSeconds float64 `json:"timeoutSeconds,omitempty"`
}

// DefaultJobConfig returns a config for the sphere function with
// de.DefaultConfig control parameters. Request bodies are decoded on top of
// it, so omitted fields keep these values.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		RunConfig: store.RunConfig{
			Function:  "sphere",
			Mutation:  "rand1bin",
			Selection: "greedy",
			Config:    de.DefaultConfig(),
		},
	}
}

// Plan is a validated JobConfig, ready to run.
type Plan struct {
	Config      de.Config
	Function    testfuncs.Function
	Constraints de.Constraints
	Options     []de.Option

	// RunConfig is the normalized configuration as it is persisted.
	RunConfig store.RunConfig
}

// NewPlan resolves names and bounds and validates everything the engine
// would reject, so that a bad request fails before a job exists. All
// returned errors match de.ErrConfig.
func NewPlan(cfg JobConfig) (*Plan, error) {
	fn, err := testfuncs.Lookup(cfg.Function)
	if err != nil {
		return nil, &de.ConfigError{Field: "Function", Reason: err.Error()}
	}

	dc := cfg.Config
	if fn.Arity > 0 && dc.Dimensions == 0 {
		dc.Dimensions = fn.Arity
	}
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	objective := fn.Objective()
	if err := dc.ValidateObjective(objective); err != nil {
		return nil, err
	}

	constraints := fn.Constraints(dc.Dimensions)
	if len(cfg.Lower) > 0 || len(cfg.Upper) > 0 {
		constraints, err = de.NewConstraints(cfg.Lower, cfg.Upper)
		if err != nil {
			return nil, err
		}
	}
	if err := constraints.Validate(dc.Dimensions); err != nil {
		return nil, err
	}

	repair, err := de.RepairByName(cfg.Repair)
	if err != nil {
		return nil, err
	}
	mutationName := cfg.Mutation
	if mutationName == "" {
		mutationName = "rand1bin"
	}
	mutation, err := de.MutationByName(mutationName, de.Mutation{Weight: dc.Weight, Crossover: dc.Crossover, Repair: repair})
	if err != nil {
		return nil, err
	}
	if need := mutation.MinPopulation(); dc.PopulationSize < need {
		return nil, &de.ConfigError{
			Field:  "PopulationSize",
			Reason: fmt.Sprintf("must be at least %d for %s, got %d", need, mutationName, dc.PopulationSize),
		}
	}
	selection, err := de.SelectionByName(cfg.Selection)
	if err != nil {
		return nil, err
	}

	var stops []de.TerminationStrategy
	if cfg.Target != nil {
		stops = append(stops, de.TargetCost{Target: *cfg.Target, Minimize: dc.Minimize})
	}
	if cfg.Patience < 0 {
		return nil, &de.ConfigError{Field: "Patience", Reason: "cannot be negative"}
	}
	if cfg.Patience > 0 {
		threshold := cfg.PlateauThreshold
		if threshold <= 0 {
			threshold = DefaultPlateauThreshold
		}
		stops = append(stops, de.NewCostPlateau(cfg.Patience, threshold, dc.Minimize))
	}
	if cfg.TimeoutSeconds < 0 {
		return nil, &de.ConfigError{Field: "TimeoutSeconds", Reason: "cannot be negative"}
	}
	if cfg.TimeoutSeconds > 0 {
		stops = append(stops, de.NewDeadline(time.Duration(cfg.TimeoutSeconds*float64(time.Second))))
	}

	opts := []de.Option{de.WithMutation(mutation), de.WithSelection(selection), de.WithRepair(repair)}
	if len(stops) > 0 {
		opts = append(opts, de.WithTermination(de.Any(stops...)))
	}

	rc := cfg.RunConfig
	rc.Function = fn.Name
	rc.Mutation = mutationName
	rc.Selection = cfg.Selection
	if rc.Selection == "" {
		rc.Selection = "greedy"
	}
	rc.Lower, rc.Upper = constraints.Lower(), constraints.Upper()
	rc.Config = dc

	return &Plan{
		Config:      dc,
		Function:    fn,
		Constraints: constraints,
		Options:     opts,
		RunConfig:   rc,
	}, nil
}

// Run optimizes the plan's function on a fresh worker pool. A Plan holds
// stateful termination strategies and must be run only once.
func (p *Plan) Run(ctx context.Context, pl de.ProcessorListener, listeners ...de.Listener) (*de.Result, error) {
	opts := append(append([]de.Option(nil), p.Options...), de.WithListener(de.Listeners(listeners...)))
	return de.Optimize(ctx, p.Config, p.Constraints, p.Function.Objective(), pl, opts...)
}
