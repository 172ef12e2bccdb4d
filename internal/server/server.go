package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/diffevo/internal/de"
	"github.com/cwbudde/diffevo/internal/metrics"
	"github.com/cwbudde/diffevo/internal/store"
	"github.com/cwbudde/diffevo/internal/testfuncs"
)

// maxBodyBytes limits job creation requests.
const maxBodyBytes = 1 << 20

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      *store.FSStore
	registry   *prometheus.Registry
	addr       string
	server     *http.Server
	pingEvery  time.Duration

	// jobs run under this context so Shutdown can stop them.
	jobsCtx  context.Context
	stopJobs context.CancelFunc
}

// NewServer creates a new HTTP server. st may be nil, in which case job
// results only live in memory.
func NewServer(addr string, st *store.FSStore) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	jm := NewJobManager()
	jm.store = st
	jm.metrics = metrics.New(registry)
	jm.traceFlushEvery = 10

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: jm,
		store:      st,
		registry:   registry,
		addr:       addr,
		pingEvery:  30 * time.Second,
		jobsCtx:    ctx,
		stopJobs:   cancel,
	}
}

// SetProgressInterval sets the minimum time between two progress events of
// one job.
func (s *Server) SetProgressInterval(d time.Duration) {
	s.jobManager.progressEvery = d
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/results", s.handleListResults)
	mux.HandleFunc("/api/v1/results/", s.handleGetResult)
	mux.HandleFunc("/api/v1/functions", s.handleListFunctions)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs, waits for them to record their final
// state and then shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.stopJobs()

	done := make(chan struct{})
	go func() {
		s.jobManager.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Jobs did not stop before shutdown deadline")
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobsWithID handles /api/v1/jobs/:id and /api/v1/jobs/:id/stream
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}
	jobID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetJob(w, r, jobID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleCancelJob(w, r, jobID)
	case len(parts) == 1:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	case len(parts) == 2 && parts[1] == "stream" && r.Method == http.MethodGet:
		s.handleJobStream(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleCreateJob handles POST /api/v1/jobs. The configuration is fully
// validated before a job is created.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	config := DefaultJobConfig()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	plan, err := NewPlan(config)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, de.ErrConfig) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	job, ctx := s.jobManager.CreateJob(s.jobsCtx, config)
	if err := s.jobManager.StartJob(ctx, job.ID, plan); err != nil {
		s.jobManager.removeJob(job.ID)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// JobStatus is the response of GET /api/v1/jobs/:id.
type JobStatus struct {
	*Job
	ElapsedSeconds float64 `json:"elapsed"`
	EvalsPerSecond float64 `json:"evalsPerSecond"`
}

func newJobStatus(job *Job) JobStatus {
	st := JobStatus{Job: job, ElapsedSeconds: job.Elapsed().Seconds()}
	if st.ElapsedSeconds > 0 {
		st.EvalsPerSecond = float64(job.Evaluations) / st.ElapsedSeconds
	}
	return st
}

// handleGetJob handles GET /api/v1/jobs/:id
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, newJobStatus(job))
}

// handleCancelJob handles DELETE /api/v1/jobs/:id
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	switch err := s.jobManager.CancelJob(jobID); {
	case errors.Is(err, ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, _ := s.jobManager.GetJob(jobID)
	slog.Info("Job cancellation requested", "job_id", jobID)
	writeJSON(w, http.StatusAccepted, newJobStatus(job))
}

// handleListResults handles GET /api/v1/results
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.RunInfo{})
		return
	}
	infos, err := s.store.ListResults()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleGetResult handles GET /api/v1/results/:id and /api/v1/results/:id/trace
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/results/"), "/")
	if parts[0] == "" || s.store == nil {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}

	if len(parts) == 2 && parts[1] == "trace" {
		s.handleGetTrace(w, parts[0])
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	record, err := s.store.LoadResult(parts[0])
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, runID string) {
	reader, err := store.NewTraceReader(s.store.BaseDir(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// FunctionInfo describes a catalog function for GET /api/v1/functions.
type FunctionInfo struct {
	Name    string  `json:"name"`
	Arity   int     `json:"arity"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Optimum float64 `json:"optimum"`
}

func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	all := testfuncs.All()
	infos := make([]FunctionInfo, 0, len(all))
	for _, f := range all {
		infos = append(infos, FunctionInfo{
			Name:    f.Name,
			Arity:   f.Arity,
			Min:     f.Min,
			Max:     f.Max,
			Optimum: f.OptimumFor(f.Dimensions(2)),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
