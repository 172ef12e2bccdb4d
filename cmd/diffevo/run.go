package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/diffevo/internal/de"
	"github.com/cwbudde/diffevo/internal/server"
	"github.com/cwbudde/diffevo/internal/store"
	"github.com/cwbudde/diffevo/internal/testfuncs"
)

var (
	function   string
	dims       int
	popSize    int
	weight     float64
	crossover  float64
	workers    int
	gens       int
	maximize   bool
	seed       int64
	mutation   string
	selection  string
	repair     string
	lowerBound float64
	upperBound float64
	target     float64
	patience   int
	timeout    time.Duration
	runDataDir string
	traceGenes bool
	logEvery   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization",
	Long: `Optimizes one of the built-in test functions and prints the best
individual found. With --data-dir the result and a per-generation trace are
saved under <data-dir>/runs/<run-id>/.`,
	Args: cobra.NoArgs,
	RunE: runOptimization,
}

func init() {
	defaults := de.DefaultConfig()

	runCmd.Flags().StringVar(&function, "function", "sphere", "Objective function (see 'diffevo functions')")
	runCmd.Flags().IntVar(&dims, "dims", defaults.Dimensions, "Number of dimensions (fixed-arity functions use their own)")
	runCmd.Flags().IntVar(&popSize, "pop", defaults.PopulationSize, "Population size")
	runCmd.Flags().Float64Var(&weight, "weight", defaults.Weight, "Differential weight F in [0,1]")
	runCmd.Flags().Float64Var(&crossover, "crossover", defaults.Crossover, "Crossover probability CR in [0,1]")
	runCmd.Flags().IntVar(&workers, "workers", defaults.Workers, "Number of evaluation workers")
	runCmd.Flags().IntVar(&gens, "gens", defaults.MaxGenerations, "Maximum number of generations")
	runCmd.Flags().BoolVar(&maximize, "maximize", false, "Maximize instead of minimize")
	runCmd.Flags().Int64Var(&seed, "seed", defaults.Seed, "Random seed")
	runCmd.Flags().StringVar(&mutation, "mutation", "rand1bin", fmt.Sprintf("Mutation strategy %v", de.MutationNames()))
	runCmd.Flags().StringVar(&selection, "selection", "greedy", fmt.Sprintf("Selection strategy %v", de.SelectionNames()))
	runCmd.Flags().StringVar(&repair, "repair", "clip", "Out-of-bounds repair: clip, random")
	runCmd.Flags().Float64Var(&lowerBound, "min", 0, "Lower bound for every dimension (default: function bounds)")
	runCmd.Flags().Float64Var(&upperBound, "max", 0, "Upper bound for every dimension (default: function bounds)")
	runCmd.Flags().Float64Var(&target, "target", 0, "Stop once the best cost reaches this value")
	runCmd.Flags().IntVar(&patience, "patience", 0, "Stop after N generations without improvement (0 = off)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop after this wall-clock time (0 = off)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Save result and trace below this directory")
	runCmd.Flags().BoolVar(&traceGenes, "trace-genes", false, "Include best genes in every trace entry")
	runCmd.Flags().IntVar(&logEvery, "log-every", 100, "Log progress every N generations")

	rootCmd.AddCommand(runCmd)
}

// buildJobConfig turns the run flags into a job configuration. Without
// --dims, fixed-arity functions use their own dimension count.
func buildJobConfig(cmd *cobra.Command) (server.JobConfig, error) {
	cfg := server.DefaultJobConfig()
	cfg.Function = function
	cfg.Mutation = mutation
	cfg.Selection = selection
	cfg.Repair = repair

	cfg.Dimensions = dims
	cfg.PopulationSize = popSize
	cfg.Weight = weight
	cfg.Crossover = crossover
	cfg.Workers = workers
	cfg.MaxGenerations = gens
	cfg.Minimize = !maximize
	cfg.Seed = seed

	flags := cmd.Flags()
	if !flags.Changed("dims") {
		cfg.Dimensions = dimensionsFor(function, dims)
	}
	if flags.Changed("min") != flags.Changed("max") {
		return cfg, &usageError{err: fmt.Errorf("--min and --max must be given together")}
	}
	if flags.Changed("min") {
		cfg.Lower = make([]float64, cfg.Dimensions)
		cfg.Upper = make([]float64, cfg.Dimensions)
		for i := range cfg.Lower {
			cfg.Lower[i], cfg.Upper[i] = lowerBound, upperBound
		}
	}
	if flags.Changed("target") {
		t := target
		cfg.Target = &t
	}
	cfg.Patience = patience
	cfg.TimeoutSeconds = timeout.Seconds()
	return cfg, nil
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := buildJobConfig(cmd)
	if err != nil {
		return err
	}
	plan, err := server.NewPlan(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listeners := []de.Listener{&de.LogListener{Every: logEvery}}
	counts := de.NewCountingProcessorListener()

	runID := uuid.New().String()
	var st *store.FSStore
	var trace *store.TraceWriter
	if runDataDir != "" {
		st, err = store.NewFSStore(runDataDir)
		if err != nil {
			return fmt.Errorf("failed to open data directory: %w", err)
		}
		trace, err = store.NewTraceWriter(runDataDir, runID, false)
		if err != nil {
			return fmt.Errorf("failed to create trace: %w", err)
		}
		listeners = append(listeners, &store.TraceListener{Writer: trace, IncludeGenes: traceGenes})
	}

	slog.Info("Starting optimization",
		"run_id", runID,
		"function", plan.Function.Name,
		"dimensions", plan.Config.Dimensions,
		"mutation", plan.RunConfig.Mutation,
		"workers", plan.Config.Workers,
	)

	res, runErr := plan.Run(ctx, counts, listeners...)

	if trace != nil {
		if err := trace.Close(); err != nil {
			slog.Warn("Failed to close trace", "error", err)
		}
	}
	if st != nil {
		record := store.NewRunRecord(runID, plan.RunConfig, res, runErr)
		if err := st.SaveResult(runID, record); err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		slog.Info("Result saved", "run_id", runID, "dir", st.RunDir(runID))
	}

	if runErr != nil {
		if res != nil && res.Best != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Best before failure: cost %g at %v\n", res.Best.Cost, res.Best.Genes)
		}
		return fmt.Errorf("optimization failed: %w", runErr)
	}

	printResult(cmd.OutOrStdout(), plan, res, counts, runID, st != nil)
	return nil
}

func printResult(w io.Writer, plan *server.Plan, res *de.Result, counts *de.CountingProcessorListener, runID string, saved bool) {
	dims := plan.Config.Dimensions
	fmt.Fprintf(w, "\nFunction:     %s (%d dimensions)\n", plan.Function.Name, dims)
	fmt.Fprintf(w, "Best cost:    %.10g\n", res.Best.Cost)
	if plan.Config.Minimize {
		fmt.Fprintf(w, "Optimum:      %.10g (gap %.3g)\n", plan.Function.OptimumFor(dims), res.Best.Cost-plan.Function.OptimumFor(dims))
	}
	fmt.Fprintf(w, "Best genes:   %v\n", res.Best.Genes)
	fmt.Fprintf(w, "Generations:  %d\n", res.Generations)
	fmt.Fprintf(w, "Evaluations:  %d (%d failed)\n", res.Evaluations, res.Failures)
	fmt.Fprintf(w, "Elapsed:      %s\n", res.Elapsed.Round(time.Millisecond))
	if secs := res.Elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "Throughput:   %.0f evals/s\n", float64(res.Evaluations)/secs)
	}
	for i := 0; i < plan.Config.Workers; i++ {
		ws := counts.Worker(i)
		fmt.Fprintf(w, "  worker %-3d  %d batches, %d evaluated, %d errors\n", i, ws.Batches, ws.Succeeded(), ws.Errors)
	}
	if saved {
		fmt.Fprintf(w, "Run ID:       %s\n", runID)
	}
}

// commandContext returns the command's context, which is nil when a RunE
// function is called directly.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// dimensionsFor returns the arity of a fixed-arity function, fallback
// otherwise. Unknown names are left for NewPlan to report.
func dimensionsFor(name string, fallback int) int {
	f, err := testfuncs.Lookup(name)
	if err != nil {
		return fallback
	}
	return f.Dimensions(fallback)
}
