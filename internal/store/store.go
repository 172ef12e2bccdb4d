package store

// Store defines the interface for run result persistence.
// Implementations must be thread-safe.
//
// Error handling conventions:
//   - Return ErrNotFound if a result doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveResult atomically saves the record of a finished run, replacing
	// any previous record with the same ID.
	SaveResult(runID string, record *RunRecord) error

	// LoadResult retrieves the record of a run.
	// Returns ErrNotFound if no record exists for this runID.
	LoadResult(runID string) (*RunRecord, error)

	// ListResults returns summaries of all stored runs, newest first.
	ListResults() ([]RunInfo, error)

	// DeleteResult removes the record and all associated artifacts
	// (result.json, trace.jsonl) of a run.
	// Returns ErrNotFound if no record exists for this runID.
	DeleteResult(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
