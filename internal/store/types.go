package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cwbudde/diffevo/internal/de"
)

// RunState is the final state of a stored run.
type RunState string

const (
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// RunConfig describes what was optimized and how.
type RunConfig struct {
	Function  string    `json:"function"`
	Mutation  string    `json:"mutation,omitempty"`
	Selection string    `json:"selection,omitempty"`
	Lower     []float64 `json:"lower"`
	Upper     []float64 `json:"upper"`
	de.Config
}

// RunRecord is the persisted outcome of one optimization run. Only the final
// result is stored; the population is not, so a run cannot be resumed.
type RunRecord struct {
	ID          string        `json:"id"`
	State       RunState      `json:"state"`
	Config      RunConfig     `json:"config"`
	BestGenes   []float64     `json:"bestGenes,omitempty"`
	BestCost    float64       `json:"bestCost"`
	Generations int           `json:"generations"`
	Evaluations int           `json:"evaluations"`
	Failures    int           `json:"failures"`
	Elapsed     time.Duration `json:"elapsed"`
	Timestamp   time.Time     `json:"timestamp"`
	Error       string        `json:"error,omitempty"`
}

// RunInfo contains the summary of a run without the best gene vector.
type RunInfo struct {
	ID          string    `json:"id"`
	State       RunState  `json:"state"`
	Function    string    `json:"function"`
	Dimensions  int       `json:"dimensions"`
	BestCost    float64   `json:"bestCost"`
	Generations int       `json:"generations"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewRunRecord builds a record from the outcome of de.Optimize or
// Engine.Run. res may be nil when the run failed before starting.
func NewRunRecord(runID string, config RunConfig, res *de.Result, runErr error) *RunRecord {
	r := &RunRecord{
		ID:        runID,
		State:     StateCompleted,
		Config:    config,
		Timestamp: time.Now(),
	}
	if res != nil {
		r.Generations = res.Generations
		r.Evaluations = res.Evaluations
		r.Failures = res.Failures
		r.Elapsed = res.Elapsed
		if res.Best != nil && res.Best.Comparable() {
			r.BestGenes = append([]float64(nil), res.Best.Genes...)
			r.BestCost = res.Best.Cost
		}
	}
	if runErr != nil {
		r.State = StateFailed
		if errors.Is(runErr, context.Canceled) {
			r.State = StateCancelled
		}
		r.Error = runErr.Error()
	}
	return r
}

// ToInfo converts a full record to its summary.
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		ID:          r.ID,
		State:       r.State,
		Function:    r.Config.Function,
		Dimensions:  r.Config.Dimensions,
		BestCost:    r.BestCost,
		Generations: r.Generations,
		Timestamp:   r.Timestamp,
	}
}

// Validate checks that the record is complete and consistent.
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	switch r.State {
	case StateCompleted, StateFailed, StateCancelled:
	default:
		return &ValidationError{Field: "State", Reason: "unknown state " + string(r.State)}
	}
	if r.Config.Function == "" {
		return &ValidationError{Field: "Config.Function", Reason: "cannot be empty"}
	}
	if r.Config.Dimensions <= 0 {
		return &ValidationError{Field: "Config.Dimensions", Reason: "must be positive"}
	}
	if r.State == StateCompleted && len(r.BestGenes) == 0 {
		return &ValidationError{Field: "BestGenes", Reason: "cannot be empty for a completed run"}
	}
	if len(r.BestGenes) > 0 && len(r.BestGenes) != r.Config.Dimensions {
		return &ValidationError{Field: "BestGenes", Reason: "length does not match Config.Dimensions"}
	}
	if math.IsNaN(r.BestCost) || math.IsInf(r.BestCost, 0) {
		return &ValidationError{Field: "BestCost", Reason: "must be finite"}
	}
	if r.Generations < 0 || r.Evaluations < 0 || r.Failures < 0 {
		return &ValidationError{Field: "Generations", Reason: "counters cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
