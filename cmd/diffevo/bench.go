package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/cwbudde/diffevo/internal/de"
	"github.com/cwbudde/diffevo/internal/opt"
	"github.com/cwbudde/diffevo/internal/testfuncs"
)

var (
	benchFunctions []string
	benchDims      int
	benchPop       int
	benchGens      int
	benchSeed      int64
	benchWorkers   int
	benchParallel  int
	benchCompare   bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the optimizer on the built-in functions",
	Long: `Runs differential evolution on every catalog function (or the ones
given with --function) and reports the best cost against the known optimum.
Functions are optimized concurrently. With --compare, the mayfly optimizer
runs on the same problems with the same population and iteration budget.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringSliceVar(&benchFunctions, "function", nil, "Functions to run (default: all)")
	benchCmd.Flags().IntVar(&benchDims, "dims", 5, "Dimensions for variadic functions")
	benchCmd.Flags().IntVar(&benchPop, "pop", 40, "Population size")
	benchCmd.Flags().IntVar(&benchGens, "gens", 500, "Generations (iterations for mayfly)")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 1, "Random seed")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 1, "Evaluation workers per run")
	benchCmd.Flags().IntVar(&benchParallel, "parallel", 4, "Runs executed concurrently")
	benchCmd.Flags().BoolVar(&benchCompare, "compare", false, "Also run the mayfly optimizer")

	rootCmd.AddCommand(benchCmd)
}

// benchRow is one optimizer on one function.
type benchRow struct {
	Function  string
	Dims      int
	Optimizer string
	Cost      float64
	Optimum   float64
	Elapsed   time.Duration
}

func (r benchRow) Gap() float64 { return r.Cost - r.Optimum }

func runBench(cmd *cobra.Command, args []string) error {
	fns, err := benchCatalog(benchFunctions)
	if err != nil {
		return err
	}
	if benchParallel < 1 {
		return &usageError{err: fmt.Errorf("--parallel must be at least 1")}
	}

	cfg := de.DefaultConfig()
	cfg.PopulationSize = benchPop
	cfg.MaxGenerations = benchGens
	cfg.Workers = benchWorkers
	cfg.Seed = benchSeed
	cfg.Dimensions = benchDims
	if err := cfg.Validate(); err != nil {
		return err
	}

	optimizers := []func() opt.Optimizer{
		func() opt.Optimizer { return opt.NewDE(cfg) },
	}
	if benchCompare {
		optimizers = append(optimizers, func() opt.Optimizer {
			return opt.NewMayfly(benchGens, benchPop, benchSeed)
		})
	}

	rows, err := runBenchmarks(commandContext(cmd), fns, optimizers, benchDims, benchParallel)
	if err != nil {
		return err
	}
	return printBench(cmd.OutOrStdout(), rows)
}

func benchCatalog(names []string) ([]testfuncs.Function, error) {
	if len(names) == 0 {
		return testfuncs.All(), nil
	}
	fns := make([]testfuncs.Function, 0, len(names))
	for _, name := range names {
		f, err := testfuncs.Lookup(name)
		if err != nil {
			return nil, &usageError{err: err}
		}
		fns = append(fns, f)
	}
	return fns, nil
}

// runBenchmarks runs every optimizer on every function with at most
// parallel runs in flight. Rows are sorted by function, then optimizer.
func runBenchmarks(ctx context.Context, fns []testfuncs.Function, optimizers []func() opt.Optimizer, dims, parallel int) ([]benchRow, error) {
	p := pool.NewWithResults[benchRow]().WithContext(ctx).WithMaxGoroutines(parallel)

	for _, f := range fns {
		for _, newOptimizer := range optimizers {
			p.Go(func(ctx context.Context) (benchRow, error) {
				if err := ctx.Err(); err != nil {
					return benchRow{}, err
				}
				return benchOne(f, newOptimizer(), f.Dimensions(dims)), nil
			})
		}
	}

	rows, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Function != rows[j].Function {
			return rows[i].Function < rows[j].Function
		}
		return rows[i].Optimizer < rows[j].Optimizer
	})
	return rows, nil
}

func benchOne(f testfuncs.Function, o opt.Optimizer, dims int) benchRow {
	c := f.Constraints(dims)
	start := time.Now()
	_, cost := o.Run(f.Eval, c.Lower(), c.Upper(), dims)
	row := benchRow{
		Function:  f.Name,
		Dims:      dims,
		Optimizer: o.Name(),
		Cost:      cost,
		Optimum:   f.OptimumFor(dims),
		Elapsed:   time.Since(start),
	}
	slog.Debug("Benchmark finished", "function", f.Name, "optimizer", o.Name(), "cost", cost, "elapsed", row.Elapsed)
	return row
}

func printBench(out io.Writer, rows []benchRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FUNCTION\tDIMS\tOPTIMIZER\tBEST COST\tOPTIMUM\tGAP\tTIME")
	fmt.Fprintln(w, "--------\t----\t---------\t---------\t-------\t---\t----")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%s\t%.6g\t%.6g\t%.3g\t%s\n",
			r.Function, r.Dims, r.Optimizer, r.Cost, r.Optimum, math.Abs(r.Gap()), r.Elapsed.Round(time.Millisecond))
	}
	return w.Flush()
}
