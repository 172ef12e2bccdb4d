package de

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func batchOf(n int) []*Individual {
	batch := make([]*Individual, n)
	for i := range batch {
		batch[i] = NewIndividual([]float64{float64(i), 1})
	}
	return batch
}

func TestProcessorsPreserveSlotOrder(t *testing.T) {
	// Later slots finish first so completion order is the reverse of
	// dispatch order.
	of := NewObjective("slow-first", 0, func(x []float64) float64 {
		time.Sleep(time.Duration(20-int(x[0])) * time.Millisecond)
		return x[0] * 10
	})

	procs, err := NewProcessors(4, of, nil)
	if err != nil {
		t.Fatalf("NewProcessors failed: %v", err)
	}
	defer procs.Close()

	batch := batchOf(17)
	res, err := procs.Evaluate(batch)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Evaluated != 17 || res.Failed != 0 {
		t.Errorf("Unexpected batch result: %+v", res)
	}
	for i, ind := range batch {
		if !ind.Valid || ind.Cost != float64(i)*10 {
			t.Errorf("Slot %d: expected cost %v, got %v", i, float64(i)*10, ind)
		}
	}
}

func TestProcessorsReusedAcrossBatches(t *testing.T) {
	counter := NewCountingProcessorListener()
	procs, err := NewProcessors(3, NewObjective("sphere", 0, sphere), counter)
	if err != nil {
		t.Fatalf("NewProcessors failed: %v", err)
	}
	defer procs.Close()

	for i := 0; i < 5; i++ {
		if _, err := procs.Evaluate(batchOf(9)); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}

	total := counter.Total()
	if total.Processed != 45 || total.Succeeded() != 45 {
		t.Errorf("Expected 45 evaluations, got %+v", total)
	}
	if total.Batches != 15 {
		t.Errorf("Expected 15 worker batches (3 workers x 5), got %d", total.Batches)
	}
	for w := 0; w < 3; w++ {
		if got := counter.Worker(w).Processed; got != 15 {
			t.Errorf("Worker %d: expected 15 evaluations from static partitioning, got %d", w, got)
		}
	}
}

func TestProcessorsMoreWorkersThanIndividuals(t *testing.T) {
	counter := NewCountingProcessorListener()
	procs, err := NewProcessors(8, NewObjective("sphere", 0, sphere), counter)
	if err != nil {
		t.Fatalf("NewProcessors failed: %v", err)
	}
	defer procs.Close()

	batch := batchOf(3)
	if _, err := procs.Evaluate(batch); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for i, ind := range batch {
		if !ind.Valid {
			t.Errorf("Slot %d not evaluated", i)
		}
	}
	if got := counter.Total().Batches; got != 3 {
		t.Errorf("Expected only non-empty ranges to be dispatched, got %d worker batches", got)
	}

	if res, err := procs.Evaluate(nil); err != nil || res.Evaluated != 0 {
		t.Errorf("Empty batch: got %+v, %v", res, err)
	}
}

func TestProcessorsIsolateFailures(t *testing.T) {
	errBoom := errors.New("boom")
	of := NewFallibleObjective("flaky", 0, func(x []float64) (float64, error) {
		switch int(x[0]) % 4 {
		case 1:
			return 0, errBoom
		case 2:
			panic("objective exploded")
		case 3:
			return math.NaN(), nil
		}
		return x[0], nil
	})

	counter := NewCountingProcessorListener()
	procs, err := NewProcessors(2, of, counter)
	if err != nil {
		t.Fatalf("NewProcessors failed: %v", err)
	}
	defer procs.Close()

	batch := batchOf(8)
	res, err := procs.Evaluate(batch)
	if err != nil {
		t.Fatalf("A failing objective must not fail the batch: %v", err)
	}
	if res.Evaluated != 2 || res.Failed != 6 {
		t.Errorf("Expected 2 evaluated and 6 failed, got %+v", res)
	}

	for i, ind := range batch {
		if i%4 == 0 {
			if !ind.Valid || ind.Cost != float64(i) {
				t.Errorf("Slot %d should be valid, got %v", i, ind)
			}
			continue
		}
		if ind.Valid || !math.IsNaN(ind.Cost) {
			t.Errorf("Slot %d should be invalid, got %v", i, ind)
		}
	}

	total := counter.Total()
	if total.Errors != 6 {
		t.Errorf("Expected 6 error events, got %d", total.Errors)
	}
	if total.Processed != 8 {
		t.Errorf("Expected EndOf for every individual, got %d", total.Processed)
	}
	if total.Succeeded() != res.Evaluated {
		t.Errorf("Succeeded() = %d, want %d", total.Succeeded(), res.Evaluated)
	}
}

// orderListener checks that per-task events nest correctly for every worker.
type orderListener struct {
	mu       sync.Mutex
	inBatch  map[int]bool
	inTask   map[int]bool
	problems []string
}

func newOrderListener() *orderListener {
	return &orderListener{inBatch: map[int]bool{}, inTask: map[int]bool{}}
}

func (l *orderListener) fail(msg string) {
	l.problems = append(l.problems, msg)
}

func (l *orderListener) Start(w int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inBatch[w] {
		l.fail("Start while batch open")
	}
	l.inBatch[w] = true
}

func (l *orderListener) StartOf(w int, _ *Individual) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inBatch[w] || l.inTask[w] {
		l.fail("StartOf outside batch or inside task")
	}
	l.inTask[w] = true
}

func (l *orderListener) EndOf(w int, _ *Individual) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inTask[w] {
		l.fail("EndOf without StartOf")
	}
	l.inTask[w] = false
}

func (l *orderListener) Error(w int, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inTask[w] {
		l.fail("Error outside task")
	}
}

func (l *orderListener) End(w int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inBatch[w] || l.inTask[w] {
		l.fail("End without Start or with open task")
	}
	l.inBatch[w] = false
}

func TestProcessorListenerEventNesting(t *testing.T) {
	of := NewFallibleObjective("half", 0, func(x []float64) (float64, error) {
		if int(x[0])%2 == 1 {
			return 0, errors.New("odd")
		}
		return 0, nil
	})
	l := newOrderListener()
	procs, err := NewProcessors(3, of, l)
	if err != nil {
		t.Fatalf("NewProcessors failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		procs.Evaluate(batchOf(10))
	}
	procs.Close()

	if len(l.problems) > 0 {
		t.Errorf("Listener events out of order: %v", l.problems)
	}
}

func TestProcessorsClose(t *testing.T) {
	procs, err := NewProcessors(2, NewObjective("sphere", 0, sphere), nil)
	if err != nil {
		t.Fatalf("NewProcessors failed: %v", err)
	}
	if err := procs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := procs.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if _, err := procs.Evaluate(batchOf(2)); !errors.Is(err, ErrProcessorsClosed) {
		t.Errorf("Expected ErrProcessorsClosed, got %v", err)
	}
}

func TestNewProcessorsValidation(t *testing.T) {
	if _, err := NewProcessors(0, NewObjective("sphere", 0, sphere), nil); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected configuration error for zero workers, got %v", err)
	}
	if _, err := NewProcessors(1, nil, nil); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected configuration error for nil objective, got %v", err)
	}
}

func TestCountingProcessorListenerZeroValue(t *testing.T) {
	var counter CountingProcessorListener
	procs, err := NewProcessors(2, NewObjective("sphere", 0, sphere), &counter)
	if err != nil {
		t.Fatalf("NewProcessors failed: %v", err)
	}
	defer procs.Close()

	if _, err := procs.Evaluate(batchOf(4)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got := counter.Total(); got.Processed != 4 || got.Batches != 2 {
		t.Errorf("Unexpected totals %+v", got)
	}
}
