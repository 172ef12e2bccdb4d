package de

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// Evaluator computes the cost of every individual in a batch, writing the
// result back into the same individual.
type Evaluator interface {
	Evaluate(batch []*Individual) (BatchResult, error)
}

// BatchResult summarizes one Evaluate call.
type BatchResult struct {
	Evaluated int // individuals with a valid cost
	Failed    int // individuals whose evaluation failed
}

type task struct {
	batch  []*Individual
	lo, hi int
	done   *sync.WaitGroup
}

// Processors is a fixed pool of worker goroutines that evaluate batches of
// individuals against an ObjectiveFunction. The goroutines are started once
// by NewProcessors and reused by every Evaluate call until Close.
//
// A batch is split into contiguous, near-equal index ranges, one per worker.
// Each worker only reads the genes and writes the cost of the individuals in
// its own range, so no per-individual locking is needed.
type Processors struct {
	objective ObjectiveFunction
	listener  ProcessorListener

	mu     sync.Mutex // serializes Evaluate and Close
	closed bool
	tasks  []chan task
	failed []int // per worker, for the batch in flight
	exited sync.WaitGroup
}

// NewProcessors starts count workers. listener may be nil.
func NewProcessors(count int, objective ObjectiveFunction, listener ProcessorListener) (*Processors, error) {
	if count < 1 {
		return nil, configErrorf("Workers", "must be at least 1, got %d", count)
	}
	if objective == nil {
		return nil, configErrorf("Objective", "is required")
	}
	if listener == nil {
		listener = NopProcessorListener{}
	}

	p := &Processors{
		objective: objective,
		listener:  listener,
		tasks:     make([]chan task, count),
		failed:    make([]int, count),
	}
	for w := range p.tasks {
		p.tasks[w] = make(chan task)
		p.exited.Add(1)
		go p.work(w)
	}

	slog.Debug("Processors started", "workers", count, "objective", objective.Name())
	return p, nil
}

// Count returns the number of workers.
func (p *Processors) Count() int { return len(p.tasks) }

// Evaluate blocks until every individual of the batch has been evaluated.
// A failing evaluation marks only that individual invalid and is reported
// through the listener; it never aborts the rest of the batch.
func (p *Processors) Evaluate(batch []*Individual) (BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return BatchResult{}, ErrProcessorsClosed
	}

	n := len(batch)
	if n == 0 {
		return BatchResult{}, nil
	}

	var done sync.WaitGroup
	workers := len(p.tasks)
	for w := 0; w < workers; w++ {
		lo, hi := w*n/workers, (w+1)*n/workers
		p.failed[w] = 0
		if lo == hi {
			continue
		}
		done.Add(1)
		p.tasks[w] <- task{batch: batch, lo: lo, hi: hi, done: &done}
	}
	done.Wait()

	failed := 0
	for _, f := range p.failed {
		failed += f
	}
	return BatchResult{Evaluated: n - failed, Failed: failed}, nil
}

// Close stops the workers and waits for them to exit. It is safe to call
// more than once.
func (p *Processors) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for _, ch := range p.tasks {
		close(ch)
	}
	p.exited.Wait()

	slog.Debug("Processors stopped", "workers", len(p.tasks))
	return nil
}

func (p *Processors) work(w int) {
	defer p.exited.Done()

	for t := range p.tasks[w] {
		p.listener.Start(w)
		for i := t.lo; i < t.hi; i++ {
			if !p.evaluateOne(w, i, t.batch[i]) {
				p.failed[w]++
			}
		}
		p.listener.End(w)
		t.done.Done()
	}
}

func (p *Processors) evaluateOne(w, index int, ind *Individual) bool {
	p.listener.StartOf(w, ind)
	defer p.listener.EndOf(w, ind)

	var (
		cost float64
		err  error
		pc   panics.Catcher
	)
	pc.Try(func() { cost, err = p.objective.Evaluate(ind.Genes) })
	if r := pc.Recovered(); r != nil {
		err = fmt.Errorf("objective panicked: %w", r.AsError())
	}
	if err == nil && math.IsNaN(cost) {
		err = fmt.Errorf("objective returned NaN")
	}

	if err != nil {
		ind.Invalidate()
		evalErr := &EvaluationError{Index: index, Worker: w, Err: err}
		slog.Warn("Evaluation failed", "worker", w, "index", index, "objective", p.objective.Name(), "error", err)
		p.listener.Error(w, evalErr.Error())
		return false
	}

	ind.Cost = cost
	ind.Valid = true
	return true
}
