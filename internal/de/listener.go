package de

import (
	"log/slog"
	"sync"
)

// Listener receives engine lifecycle events. All methods are called from the
// engine goroutine, so implementations need no synchronization of their own
// unless they share state with other goroutines.
//
// Events fire in this order:
//
//	Start
//	StartGeneration(0) StartProcessors(0) EndProcessors(0) EndGeneration(0)
//	for g = 1..: StartGeneration(g) StartProcessors(g) EndProcessors(g)
//	             StartSelection(g) EndSelection(g) EndGeneration(g)
//	End | Error
type Listener interface {
	Start()
	End()
	Error(err error)
	StartGeneration(generation int)
	EndGeneration(generation int, bestOfGeneration, best *Individual)
	StartSelection(generation int)
	EndSelection(generation int)
	StartProcessors(generation int)
	EndProcessors(generation int)
}

// ProcessorListener receives per-task events from the worker goroutines.
// Methods may be called concurrently and implementations must provide their
// own synchronization.
type ProcessorListener interface {
	Start(worker int)
	StartOf(worker int, ind *Individual)
	EndOf(worker int, ind *Individual)
	Error(worker int, message string)
	End(worker int)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) Start()                                      {}
func (NopListener) End()                                        {}
func (NopListener) Error(error)                                 {}
func (NopListener) StartGeneration(int)                         {}
func (NopListener) EndGeneration(int, *Individual, *Individual) {}
func (NopListener) StartSelection(int)                          {}
func (NopListener) EndSelection(int)                            {}
func (NopListener) StartProcessors(int)                         {}
func (NopListener) EndProcessors(int)                           {}

// NopProcessorListener ignores every event. Embed it to implement a subset.
type NopProcessorListener struct{}

func (NopProcessorListener) Start(int)                {}
func (NopProcessorListener) StartOf(int, *Individual) {}
func (NopProcessorListener) EndOf(int, *Individual)   {}
func (NopProcessorListener) Error(int, string)        {}
func (NopProcessorListener) End(int)                  {}

type multiListener []Listener

// Listeners fans events out to every non-nil listener in order.
func Listeners(ls ...Listener) Listener {
	var m multiListener
	for _, l := range ls {
		if l != nil {
			m = append(m, l)
		}
	}
	return m
}

func (m multiListener) Start() {
	for _, l := range m {
		l.Start()
	}
}

func (m multiListener) End() {
	for _, l := range m {
		l.End()
	}
}

func (m multiListener) Error(err error) {
	for _, l := range m {
		l.Error(err)
	}
}

func (m multiListener) StartGeneration(g int) {
	for _, l := range m {
		l.StartGeneration(g)
	}
}

func (m multiListener) EndGeneration(g int, bestOfGeneration, best *Individual) {
	for _, l := range m {
		l.EndGeneration(g, bestOfGeneration, best)
	}
}

func (m multiListener) StartSelection(g int) {
	for _, l := range m {
		l.StartSelection(g)
	}
}

func (m multiListener) EndSelection(g int) {
	for _, l := range m {
		l.EndSelection(g)
	}
}

func (m multiListener) StartProcessors(g int) {
	for _, l := range m {
		l.StartProcessors(g)
	}
}

func (m multiListener) EndProcessors(g int) {
	for _, l := range m {
		l.EndProcessors(g)
	}
}

type multiProcessorListener []ProcessorListener

// ProcessorListeners fans per-task events out to every non-nil listener.
func ProcessorListeners(ls ...ProcessorListener) ProcessorListener {
	var m multiProcessorListener
	for _, l := range ls {
		if l != nil {
			m = append(m, l)
		}
	}
	return m
}

func (m multiProcessorListener) Start(w int) {
	for _, l := range m {
		l.Start(w)
	}
}

func (m multiProcessorListener) StartOf(w int, ind *Individual) {
	for _, l := range m {
		l.StartOf(w, ind)
	}
}

func (m multiProcessorListener) EndOf(w int, ind *Individual) {
	for _, l := range m {
		l.EndOf(w, ind)
	}
}

func (m multiProcessorListener) Error(w int, message string) {
	for _, l := range m {
		l.Error(w, message)
	}
}

func (m multiProcessorListener) End(w int) {
	for _, l := range m {
		l.End(w)
	}
}

// LogListener reports progress through slog: the best cost every Every
// generations (every generation when Every <= 1), run start, end and failure.
type LogListener struct {
	NopListener
	Logger *slog.Logger
	Every  int
}

func (l *LogListener) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *LogListener) Start() {
	l.logger().Info("Optimization started")
}

func (l *LogListener) End() {
	l.logger().Info("Optimization finished")
}

func (l *LogListener) Error(err error) {
	l.logger().Error("Optimization failed", "error", err)
}

func (l *LogListener) EndGeneration(g int, bestOfGeneration, best *Individual) {
	if l.Every > 1 && g%l.Every != 0 {
		return
	}
	l.logger().Info("Generation complete",
		"generation", g,
		"generation_cost", bestOfGeneration.Cost,
		"best_cost", best.Cost,
	)
}

// WorkerStats counts per-task events of a single worker. Processed counts
// every finished task, failed ones included.
type WorkerStats struct {
	Batches   int
	Processed int
	Errors    int
}

// Succeeded returns the tasks that produced a valid cost.
func (s WorkerStats) Succeeded() int { return s.Processed - s.Errors }

// CountingProcessorListener tallies per-task events per worker. It is safe
// for concurrent use; the zero value is ready to use.
type CountingProcessorListener struct {
	mu      sync.Mutex
	workers map[int]*WorkerStats
	errors  []string
}

// NewCountingProcessorListener creates an empty counter.
func NewCountingProcessorListener() *CountingProcessorListener {
	return &CountingProcessorListener{workers: make(map[int]*WorkerStats)}
}

func (c *CountingProcessorListener) stats(w int) *WorkerStats {
	if c.workers == nil {
		c.workers = make(map[int]*WorkerStats)
	}
	s, ok := c.workers[w]
	if !ok {
		s = &WorkerStats{}
		c.workers[w] = s
	}
	return s
}

func (c *CountingProcessorListener) Start(w int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats(w).Batches++
}

func (c *CountingProcessorListener) StartOf(int, *Individual) {}

func (c *CountingProcessorListener) EndOf(w int, _ *Individual) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats(w).Processed++
}

func (c *CountingProcessorListener) Error(w int, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats(w).Errors++
	c.errors = append(c.errors, message)
}

func (c *CountingProcessorListener) End(int) {}

// Worker returns a snapshot of the counters of worker w.
func (c *CountingProcessorListener) Worker(w int) WorkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.workers[w]; ok {
		return *s
	}
	return WorkerStats{}
}

// Total sums the counters of all workers.
func (c *CountingProcessorListener) Total() WorkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var t WorkerStats
	for _, s := range c.workers {
		t.Batches += s.Batches
		t.Processed += s.Processed
		t.Errors += s.Errors
	}
	return t
}

// Errors returns the recorded error messages.
func (c *CountingProcessorListener) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}
