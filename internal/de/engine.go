package de

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"
)

// GenerationStats summarizes the costs of the population after a generation.
type GenerationStats struct {
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stdDev"`
	Invalid int     `json:"invalid"`
}

// GenerationRecord describes one completed generation. Generation 0 is the
// evaluation of the initial population.
type GenerationRecord struct {
	Generation       int             `json:"generation"`
	BestOfGeneration *Individual     `json:"bestOfGeneration"`
	Best             *Individual     `json:"best"`
	Stats            GenerationStats `json:"stats"`
}

// Result is the outcome of a run. On failure Best holds the best individual
// of the last fully evaluated generation, or nil if there was none.
type Result struct {
	Best        *Individual        `json:"best"`
	Generations int                `json:"generations"`
	Evaluations int                `json:"evaluations"`
	Failures    int                `json:"failures"`
	Elapsed     time.Duration      `json:"elapsed"`
	History     []GenerationRecord `json:"history"`
}

// Engine runs Differential Evolution over a fixed population.
type Engine struct {
	cfg         Config
	constraints Constraints
	evaluator   Evaluator

	mutation    MutationStrategy
	selection   SelectionStrategy
	termination TerminationStrategy
	listener    Listener
	repair      RepairPolicy

	rng        *rand.Rand
	population Population
	best       *Individual
	ran        bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMutation replaces the default DE/rand/1/bin strategy.
func WithMutation(m MutationStrategy) Option {
	return func(e *Engine) { e.mutation = m }
}

// WithSelection replaces the default greedy selection.
func WithSelection(s SelectionStrategy) Option {
	return func(e *Engine) { e.selection = s }
}

// WithTermination adds a termination strategy. The engine still stops after
// Config.MaxGenerations.
func WithTermination(t TerminationStrategy) Option {
	return func(e *Engine) { e.termination = t }
}

// WithListener sets the lifecycle listener.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithRepair sets the repair policy of the default mutation strategy.
func WithRepair(p RepairPolicy) Option {
	return func(e *Engine) { e.repair = p }
}

// NewEngine validates the configuration and builds an engine. No evaluation
// happens and no listener fires until Run.
func NewEngine(cfg Config, constraints Constraints, evaluator Evaluator, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := constraints.Validate(cfg.Dimensions); err != nil {
		return nil, err
	}
	if evaluator == nil {
		return nil, configErrorf("Evaluator", "is required")
	}

	e := &Engine{
		cfg:         cfg,
		constraints: append(Constraints(nil), constraints...),
		evaluator:   evaluator,
		selection:   Greedy{},
		listener:    NopListener{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.mutation == nil {
		e.mutation = RandOneBin{Mutation{Weight: cfg.Weight, Crossover: cfg.Crossover, Repair: e.repair}}
	}
	if need := e.mutation.MinPopulation(); cfg.PopulationSize < need {
		return nil, configErrorf("PopulationSize", "must be at least %d for the mutation strategy, got %d", need, cfg.PopulationSize)
	}
	if e.selection == nil {
		e.selection = Greedy{}
	}
	if e.listener == nil {
		e.listener = NopListener{}
	}
	maxGen := MaxGenerations{N: cfg.MaxGenerations}
	if e.termination == nil {
		e.termination = maxGen
	} else {
		e.termination = Any(e.termination, maxGen)
	}

	e.rng = rand.New(rand.NewSource(cfg.Seed))
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Population returns a copy of the current population.
func (e *Engine) Population() Population { return e.population.Clone() }

// Best returns a copy of the best individual found so far, or nil.
func (e *Engine) Best() *Individual { return e.best.Clone() }

// Run executes the generation loop until the termination strategy stops it
// or a batch fails entirely. ctx is checked between generations; a batch in
// flight always runs to completion.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.ran {
		return nil, ErrAlreadyRun
	}
	e.ran = true

	start := time.Now()
	result := &Result{}
	defer func() { result.Elapsed = time.Since(start) }()

	e.listener.Start()
	slog.Info("Starting differential evolution",
		"dimensions", e.cfg.Dimensions,
		"population", e.cfg.PopulationSize,
		"weight", e.cfg.Weight,
		"crossover", e.cfg.Crossover,
		"minimize", e.cfg.Minimize,
		"max_generations", e.cfg.MaxGenerations,
	)

	e.population = make(Population, e.cfg.PopulationSize)
	for i := range e.population {
		e.population[i] = newIndividual(e.constraints.RandomGenes(e.rng))
	}

	e.listener.StartGeneration(0)
	if err := e.evaluate(0, e.population, result); err != nil {
		return e.fail(result, err)
	}
	e.best = e.population[e.population.Best(e.cfg.Minimize)].Clone()
	e.endGeneration(0, e.best.Clone(), result)

	for g := 1; ; g++ {
		if err := ctx.Err(); err != nil {
			return e.fail(result, fmt.Errorf("run cancelled before generation %d: %w", g, err))
		}

		e.listener.StartGeneration(g)
		trials := make(Population, len(e.population))
		for i := range trials {
			trials[i] = e.mutation.Mutate(e.population, i, e.best, e.constraints, e.rng)
		}

		if err := e.evaluate(g, trials, result); err != nil {
			return e.fail(result, err)
		}

		e.listener.StartSelection(g)
		for i, trial := range trials {
			if e.selection.Select(e.population[i], trial, e.cfg.Minimize) {
				e.population[i] = trial
			}
		}
		e.listener.EndSelection(g)

		genBest := e.population[e.population.Best(e.cfg.Minimize)]
		if Better(genBest, e.best, e.cfg.Minimize) {
			e.best = genBest.Clone()
		}
		e.endGeneration(g, genBest.Clone(), result)

		if e.termination.Terminate(g, e.best) {
			break
		}
	}

	e.listener.End()
	result.Best = e.best.Clone()
	slog.Info("Differential evolution finished",
		"generations", result.Generations,
		"evaluations", result.Evaluations,
		"failures", result.Failures,
		"best_cost", e.best.Cost,
		"elapsed", time.Since(start),
	)
	return result, nil
}

func (e *Engine) evaluate(g int, batch Population, result *Result) error {
	e.listener.StartProcessors(g)
	res, err := e.evaluator.Evaluate(batch)
	e.listener.EndProcessors(g)
	if err != nil {
		return fmt.Errorf("evaluating generation %d: %w", g, err)
	}

	result.Evaluations += res.Evaluated
	result.Failures += res.Failed
	if res.Failed == len(batch) {
		return &BatchFailureError{Generation: g, Size: len(batch)}
	}
	return nil
}

func (e *Engine) endGeneration(g int, genBest *Individual, result *Result) {
	stats := e.stats()
	best := e.best.Clone()
	result.Generations = g
	result.History = append(result.History, GenerationRecord{
		Generation:       g,
		BestOfGeneration: genBest,
		Best:             best,
		Stats:            stats,
	})

	slog.Debug("Generation complete",
		"generation", g,
		"generation_cost", genBest.Cost,
		"best_cost", best.Cost,
		"mean_cost", stats.Mean,
		"invalid", stats.Invalid,
	)
	e.listener.EndGeneration(g, genBest, best)
}

func (e *Engine) stats() GenerationStats {
	costs := e.population.Costs()
	s := GenerationStats{Invalid: len(e.population) - len(costs)}
	switch len(costs) {
	case 0:
		s.Mean, s.StdDev = math.NaN(), math.NaN()
	case 1:
		s.Mean = costs[0]
	default:
		s.Mean, s.StdDev = stat.MeanStdDev(costs, nil)
	}
	return s
}

func (e *Engine) fail(result *Result, err error) (*Result, error) {
	result.Best = e.best.Clone()
	slog.Error("Differential evolution failed", "generations", result.Generations, "error", err)
	e.listener.Error(err)
	return result, err
}

// Optimize is a convenience wrapper that starts Processors for the
// objective, runs an engine and stops the workers again.
func Optimize(ctx context.Context, cfg Config, constraints Constraints, objective ObjectiveFunction, pl ProcessorListener, opts ...Option) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateObjective(objective); err != nil {
		return nil, err
	}

	procs, err := NewProcessors(cfg.Workers, objective, pl)
	if err != nil {
		return nil, err
	}
	defer procs.Close()

	engine, err := NewEngine(cfg, constraints, procs, opts...)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx)
}
