package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cwbudde/diffevo/internal/de"
)

// Exit statuses.
const (
	exitOK      = 0
	exitError   = 1
	exitConfig  = 2
	exitFailure = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error returned by a command to the process exit status.
func exitCode(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, de.ErrConfig), errors.As(err, &usage):
		return exitConfig
	case errors.Is(err, de.ErrBatchFailure):
		return exitFailure
	default:
		return exitError
	}
}

// usageError marks invalid flags or arguments.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
