package opt

import (
	"context"
	"log/slog"
	"math"

	"github.com/cwbudde/diffevo/internal/de"
)

// DEAdapter runs the differential evolution engine behind the Optimizer
// interface. Dimensions in the configuration are taken from Run.
type DEAdapter struct {
	cfg  de.Config
	opts []de.Option
}

// NewDE creates a differential evolution optimizer.
func NewDE(cfg de.Config, opts ...de.Option) Optimizer {
	return &DEAdapter{cfg: cfg, opts: opts}
}

func (d *DEAdapter) Name() string { return "differential-evolution" }

// Run always minimizes, matching the Optimizer contract.
func (d *DEAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	cfg := d.cfg
	cfg.Dimensions = dim
	cfg.Minimize = true

	constraints, err := de.NewConstraints(lower[:dim], upper[:dim])
	if err != nil {
		slog.Error("Invalid bounds for differential evolution", "error", err)
		return make([]float64, dim), math.Inf(1)
	}

	result, err := de.Optimize(context.Background(), cfg, constraints, de.NewObjective("eval", dim, eval), nil, d.opts...)
	if err != nil {
		slog.Error("Differential evolution failed", "error", err)
		if result == nil || result.Best == nil {
			return make([]float64, dim), math.Inf(1)
		}
	}
	return result.Best.Genes, result.Best.Cost
}
