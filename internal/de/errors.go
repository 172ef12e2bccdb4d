package de

import (
	"errors"
	"fmt"
)

// ErrConfig matches any *ConfigError.
// Use errors.Is(err, ErrConfig) to check for configuration failures.
var ErrConfig = &ConfigError{}

// ErrBatchFailure matches any *BatchFailureError.
var ErrBatchFailure = &BatchFailureError{}

// ErrAlreadyRun is returned when Run is called twice on the same Engine.
var ErrAlreadyRun = errors.New("engine has already been run")

// ErrProcessorsClosed is returned by Processors.Evaluate after Close.
var ErrProcessorsClosed = errors.New("processors are closed")

// ConfigError reports an invalid configuration value. It is returned before
// any evaluation takes place.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration error"
	}
	return "configuration error: " + e.Field + " " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// EvaluationError describes a single failed objective evaluation. It is
// recovered by the worker that produced it and only surfaces through
// ProcessorListener.Error.
type EvaluationError struct {
	Index  int // position of the individual in the batch
	Worker int
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("worker %d: evaluation of individual %d failed: %v", e.Worker, e.Index, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// BatchFailureError is returned when every individual of a batch failed to
// evaluate. It aborts the run.
type BatchFailureError struct {
	Generation int
	Size       int
}

func (e *BatchFailureError) Error() string {
	if e.Size == 0 {
		return "batch failure"
	}
	return fmt.Sprintf("batch failure: all %d evaluations failed in generation %d", e.Size, e.Generation)
}

func (e *BatchFailureError) Is(target error) bool {
	_, ok := target.(*BatchFailureError)
	return ok
}
