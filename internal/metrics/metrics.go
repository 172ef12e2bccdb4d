// Package metrics exposes optimizer progress as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cwbudde/diffevo/internal/de"
)

// Metrics holds the collectors shared by every run of a process.
type Metrics struct {
	Runs          *prometheus.CounterVec
	Generations   prometheus.Counter
	Evaluations   prometheus.Counter
	EvalErrors    prometheus.Counter
	BestCost      prometheus.Gauge
	BatchDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diffevo_runs_total",
			Help: "Optimization runs by outcome.",
		}, []string{"outcome"}),
		Generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diffevo_generations_total",
			Help: "Completed generations across all runs.",
		}),
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diffevo_evaluations_total",
			Help: "Objective function evaluations.",
		}),
		EvalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diffevo_evaluation_errors_total",
			Help: "Objective function evaluations that failed.",
		}),
		BestCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "diffevo_best_cost",
			Help: "Best cost of the most recently completed generation.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "diffevo_batch_duration_seconds",
			Help:    "Wall-clock time of one parallel evaluation batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Generations, m.Evaluations, m.EvalErrors, m.BestCost, m.BatchDuration)
	}
	return m
}

// Listener returns an engine listener feeding the collectors. Use one per
// run; it is driven from the engine goroutine only.
func (m *Metrics) Listener() de.Listener {
	return &engineListener{m: m}
}

// ProcessorListener returns a worker listener feeding the collectors.
// Prometheus collectors are safe for concurrent use, so it needs no lock.
func (m *Metrics) ProcessorListener() de.ProcessorListener {
	return processorListener{m: m}
}

type engineListener struct {
	de.NopListener
	m          *Metrics
	batchStart time.Time
}

func (l *engineListener) End() {
	l.m.Runs.WithLabelValues("completed").Inc()
}

func (l *engineListener) Error(error) {
	l.m.Runs.WithLabelValues("failed").Inc()
}

func (l *engineListener) StartProcessors(int) {
	l.batchStart = time.Now()
}

func (l *engineListener) EndProcessors(int) {
	l.m.BatchDuration.Observe(time.Since(l.batchStart).Seconds())
}

func (l *engineListener) EndGeneration(g int, _ *de.Individual, best *de.Individual) {
	if g > 0 {
		l.m.Generations.Inc()
	}
	l.m.BestCost.Set(best.Cost)
}

type processorListener struct {
	de.NopProcessorListener
	m *Metrics
}

func (l processorListener) EndOf(int, *de.Individual) {
	l.m.Evaluations.Inc()
}

func (l processorListener) Error(int, string) {
	l.m.EvalErrors.Inc()
}
