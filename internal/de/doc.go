// Package de implements Differential Evolution, a population-based
// stochastic optimizer for bounded real-valued search spaces.
//
// An Engine owns a fixed-size Population and drives the generation loop:
// trial vectors are built by a MutationStrategy, evaluated in parallel by
// Processors, merged back slot by slot by a SelectionStrategy, and the loop
// stops when a TerminationStrategy says so. Lifecycle events are reported to
// a Listener from the engine goroutine and to a ProcessorListener from the
// worker goroutines.
//
// The engine goroutine is the only one that touches the random source, so a
// run is reproducible for a fixed seed regardless of the worker count.
package de
