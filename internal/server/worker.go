package server

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cwbudde/diffevo/internal/de"
	"github.com/cwbudde/diffevo/internal/store"
)

// StartJob runs the plan for a job created by CreateJob in the background.
// It fails with ErrShuttingDown once the manager is closed.
func (jm *JobManager) StartJob(ctx context.Context, jobID string, plan *Plan) error {
	jm.mu.Lock()
	if jm.closed {
		jm.mu.Unlock()
		return ErrShuttingDown
	}
	jm.running.Add(1)
	jm.mu.Unlock()

	go func() {
		defer jm.running.Done()
		if err := runJob(ctx, jm, jobID, plan); err != nil {
			slog.Debug("Job ended with error", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

// runJob executes an optimization job. When the manager has a store, the
// final record and a per-generation trace are persisted under the job ID.
func runJob(ctx context.Context, jm *JobManager, jobID string, plan *Plan) error {
	if err := jm.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}

	slog.Info("Starting job",
		"job_id", jobID,
		"function", plan.Function.Name,
		"dimensions", plan.Config.Dimensions,
		"population", plan.Config.PopulationSize,
	)

	progress := &jobListener{
		jm:      jm,
		jobID:   jobID,
		start:   time.Now(),
		limiter: rate.NewLimiter(rate.Every(jm.progressEvery), 1),
	}
	listeners := []de.Listener{progress}
	processors := []de.ProcessorListener{&progress.counts}

	if jm.metrics != nil {
		listeners = append(listeners, jm.metrics.Listener())
		processors = append(processors, jm.metrics.ProcessorListener())
	}

	var trace *store.TraceWriter
	if jm.store != nil {
		tw, err := store.NewTraceWriter(jm.store.BaseDir(), jobID, false)
		if err != nil {
			slog.Warn("Trace disabled", "job_id", jobID, "error", err)
		} else {
			trace = tw
			listeners = append(listeners, &store.TraceListener{Writer: tw, FlushEvery: jm.traceFlushEvery})
		}
	}

	res, runErr := plan.Run(ctx, de.ProcessorListeners(processors...), listeners...)

	if trace != nil {
		if err := trace.Close(); err != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", err)
		}
	}

	record := store.NewRunRecord(jobID, plan.RunConfig, res, runErr)
	if jm.store != nil {
		if err := jm.store.SaveResult(jobID, record); err != nil {
			slog.Error("Failed to save result", "job_id", jobID, "error", err)
		}
	}

	finishJob(jm, jobID, record)
	return runErr
}

// finishJob copies the final record into the job and broadcasts the
// terminal event.
func finishJob(jm *JobManager, jobID string, record *store.RunRecord) {
	endTime := time.Now()
	var final *Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = JobState(record.State)
		j.Generation = record.Generations
		j.Evaluations = record.Evaluations
		j.Failures = record.Failures
		if len(record.BestGenes) > 0 {
			j.BestGenes = record.BestGenes
			j.BestCost = record.BestCost
		}
		j.Error = record.Error
		j.EndTime = &endTime
		if j.cancel != nil {
			j.cancel()
		}
		final = j.snapshot()
	})
	if final == nil {
		return
	}

	switch final.State {
	case StateCompleted:
		slog.Info("Job completed",
			"job_id", jobID,
			"elapsed", final.Elapsed(),
			"generations", final.Generation,
			"evaluations", final.Evaluations,
			"best_cost", final.BestCost,
		)
	case StateCancelled:
		slog.Info("Job cancelled", "job_id", jobID, "generations", final.Generation)
	default:
		slog.Error("Job failed", "job_id", jobID, "error", final.Error)
	}

	jm.broadcaster.Broadcast(newProgressEvent(final))
}

// jobListener mirrors engine progress into the job record and broadcasts
// it, throttled by the limiter. It runs on the engine goroutine.
type jobListener struct {
	de.NopListener
	jm      *JobManager
	jobID   string
	start   time.Time
	limiter *rate.Limiter
	counts  evalCounter
}

func (l *jobListener) EndGeneration(g int, bestOfGeneration, best *de.Individual) {
	evaluated, failed := l.counts.load()
	var snap *Job
	l.jm.UpdateJob(l.jobID, func(j *Job) {
		j.Generation = g
		j.Evaluations = evaluated
		j.Failures = failed
		if best != nil && best.Comparable() {
			j.BestGenes = append([]float64(nil), best.Genes...)
			j.BestCost = best.Cost
		}
		if l.limiter.Allow() {
			snap = j.snapshot()
		}
	})
	if snap == nil {
		return
	}

	event := newProgressEvent(snap)
	if bestOfGeneration != nil && bestOfGeneration.Comparable() {
		event.GenerationCost = bestOfGeneration.Cost
	}
	l.jm.broadcaster.Broadcast(event)
}

// evalCounter counts evaluations across workers.
type evalCounter struct {
	de.NopProcessorListener
	ended  atomic.Int64
	failed atomic.Int64
}

func (c *evalCounter) EndOf(int, *de.Individual) { c.ended.Add(1) }

func (c *evalCounter) Error(int, string) { c.failed.Add(1) }

func (c *evalCounter) load() (evaluated, failed int) {
	f := int(c.failed.Load())
	return int(c.ended.Load()) - f, f
}
