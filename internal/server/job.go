package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/diffevo/internal/metrics"
	"github.com/cwbudde/diffevo/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
	// ErrShuttingDown is returned when a job is started after Close.
	ErrShuttingDown = errors.New("server is shutting down")
)

// Job represents an optimization job
type Job struct {
	ID          string     `json:"id"`
	State       JobState   `json:"state"`
	Config      JobConfig  `json:"config"`
	BestGenes   []float64  `json:"bestGenes,omitempty"`
	BestCost    float64    `json:"bestCost"`
	Generation  int        `json:"generation"`
	Evaluations int        `json:"evaluations"`
	Failures    int        `json:"failures"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Error       string     `json:"error,omitempty"`

	cancel context.CancelFunc
}

// Elapsed returns the run time so far, or the total run time once finished.
func (j *Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
	running     sync.WaitGroup
	closed      bool // guarded by mu; no job starts once set

	// Optional collaborators used by runJob.
	store           *store.FSStore
	metrics         *metrics.Metrics
	progressEvery   time.Duration
	traceFlushEvery int
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:          make(map[string]*Job),
		broadcaster:   NewEventBroadcaster(),
		progressEvery: 500 * time.Millisecond,
	}
}

// CreateJob registers a pending job and returns a snapshot of it together
// with the context that cancels it.
func (jm *JobManager) CreateJob(parent context.Context, config JobConfig) (*Job, context.Context) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
		cancel:    cancel,
	}

	jm.jobs[job.ID] = job
	return job.snapshot(), ctx
}

// snapshot copies the job so it can be read without holding the lock.
// BestGenes is replaced, never mutated, so sharing it is safe.
func (j *Job) snapshot() *Job {
	c := *j
	c.cancel = nil
	return &c
}

// GetJob returns a snapshot of the job with the given ID.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].StartTime.Equal(jobs[k].StartTime) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return ErrJobNotFound
	}

	updateFn(job)
	return nil
}

// CancelJob requests cancellation. The engine notices it between
// generations, so the job stays running for up to one more batch.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State.Terminal() {
		return ErrJobFinished
	}
	job.cancel()
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.snapshot())
		}
	}
	return runningJobs
}

// Wait blocks until every started job has finished.
func (jm *JobManager) Wait() {
	jm.running.Wait()
}

// Close stops StartJob from accepting jobs and waits for the started ones.
func (jm *JobManager) Close() {
	jm.mu.Lock()
	jm.closed = true
	jm.mu.Unlock()
	jm.running.Wait()
}

// removeJob forgets a job that was created but never started.
func (jm *JobManager) removeJob(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	if job, ok := jm.jobs[id]; ok {
		job.cancel()
		delete(jm.jobs, id)
	}
}
