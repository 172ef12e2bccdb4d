package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/diffevo/internal/store"
)

func postJob(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(data))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitForState(t *testing.T, s *Server, jobID string, timeout time.Duration) *Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, ok := s.jobManager.GetJob(jobID)
		if !ok {
			t.Fatalf("Job %s disappeared", jobID)
		}
		if job.State.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish within %v", jobID, timeout)
	return nil
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	w := postJob(t, h, testJobConfig())
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}

	final := waitForState(t, s, job.ID, 10*time.Second)
	if final.State != StateCompleted {
		t.Errorf("Expected completed, got %s (%s)", final.State, final.Error)
	}
}

func TestServer_CreateJob_PartialBody(t *testing.T) {
	s := NewServer(":0", nil)

	// Omitted fields keep their defaults
	w := postJob(t, s.Handler(), map[string]any{"function": "booth", "maxGenerations": 5, "workers": 1})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	if job.Config.PopulationSize != 20 || job.Config.Weight != 0.8 {
		t.Errorf("Expected default control parameters, got %+v", job.Config.Config)
	}
	waitForState(t, s, job.ID, 10*time.Second)
}

func TestServer_CreateJob_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"function":`},
		{"unknown field", `{"function":"sphere","circles":3}`},
		{"unknown function", `{"function":"nope"}`},
		{"population of three", `{"populationSize":3}`},
		{"bad crossover", `{"crossover":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":0", nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("Expected error body, got %q", w.Body.String())
			}
			if n := len(s.jobManager.ListJobs()); n != 0 {
				t.Errorf("No job should be created, got %d", n)
			}
		})
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":0", nil)

	s.jobManager.CreateJob(context.Background(), testJobConfig())
	s.jobManager.CreateJob(context.Background(), testJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJob(t *testing.T) {
	s := NewServer(":0", nil)
	job, _ := s.jobManager.CreateJob(context.Background(), testJobConfig())
	s.jobManager.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Evaluations = 100
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var status map[string]any
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status["id"] != job.ID || status["state"] != string(StateRunning) {
		t.Errorf("Unexpected status %v", status)
	}
	for _, key := range []string{"elapsed", "evalsPerSecond", "config", "evaluations"} {
		if _, ok := status[key]; !ok {
			t.Errorf("Missing %q in status response", key)
		}
	}
}

func TestServer_GetJob_NotFound(t *testing.T) {
	s := NewServer(":0", nil)

	for _, path := range []string{"/api/v1/jobs/nonexistent", "/api/v1/jobs/nonexistent/stream", "/api/v1/jobs/x/unknown"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, w.Code)
		}
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(":0", nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPut, "/api/v1/jobs"},
		{http.MethodPost, "/api/v1/jobs/abc"},
		{http.MethodPost, "/api/v1/results"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	cfg := testJobConfig()
	cfg.MaxGenerations = 1000000
	w := postJob(t, h, cfg)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	final := waitForState(t, s, job.ID, 10*time.Second)
	if final.State != StateCancelled {
		t.Errorf("Expected cancelled, got %s", final.State)
	}

	// A finished job cannot be cancelled again
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	s := NewServer(":0", nil)
	s.SetProgressInterval(time.Millisecond)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	cfg := testJobConfig()
	cfg.MaxGenerations = 200
	job, ctx := s.jobManager.CreateJob(context.Background(), cfg)
	plan, err := NewPlan(cfg)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %s", ct)
	}

	if err := s.jobManager.StartJob(ctx, job.ID, plan); err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}

	var events []ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("Bad event %q: %v", line, err)
		}
		events = append(events, ev)
	}

	// The handler closes the stream after the terminal event
	if len(events) < 2 {
		t.Fatalf("Expected initial and terminal events, got %d", len(events))
	}
	if events[0].JobID != job.ID {
		t.Errorf("Wrong job in first event: %s", events[0].JobID)
	}
	last := events[len(events)-1]
	if last.State != StateCompleted || last.Generation != cfg.MaxGenerations {
		t.Errorf("Expected completed terminal event, got %+v", last)
	}
}

func TestServer_JobStream_FinishedJob(t *testing.T) {
	s := NewServer(":0", nil)
	job, _ := s.jobManager.CreateJob(context.Background(), testJobConfig())
	s.jobManager.UpdateJob(job.ID, func(j *Job) { j.State = StateFailed })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/stream", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Count(body, "data: ") != 1 || !strings.Contains(body, `"state":"failed"`) {
		t.Errorf("Expected a single failed event, got %q", body)
	}
}

func TestServer_Metrics(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	w := postJob(t, h, testJobConfig())
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	waitForState(t, s, job.ID, 10*time.Second)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{`diffevo_runs_total{outcome="completed"} 1`, "diffevo_evaluations_total", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected %q in metrics output", name)
		}
	}
}

func TestServer_Results(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(":0", st)
	h := s.Handler()

	w := postJob(t, h, testJobConfig())
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	waitForState(t, s, job.ID, 10*time.Second)
	s.jobManager.Wait()

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results", nil))
	var infos []store.RunInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].ID != job.ID {
		t.Fatalf("Expected the job's result, got %+v", infos)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results/"+job.ID, nil))
	var record store.RunRecord
	if err := json.NewDecoder(w.Body).Decode(&record); err != nil {
		t.Fatal(err)
	}
	if record.State != store.StateCompleted || len(record.BestGenes) != 3 {
		t.Errorf("Unexpected record %+v", record)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results/"+job.ID+"/trace", nil))
	var trace []store.TraceEntry
	if err := json.NewDecoder(w.Body).Decode(&trace); err != nil {
		t.Fatal(err)
	}
	if len(trace) != testJobConfig().MaxGenerations+1 {
		t.Errorf("Expected full trace, got %d entries", len(trace))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestServer_Functions(t *testing.T) {
	s := NewServer(":0", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/functions", nil))

	var infos []FunctionInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range infos {
		if f.Name == "rastrigin" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected rastrigin in %+v", infos)
	}
}

func TestServer_Shutdown_StopsJobs(t *testing.T) {
	s := NewServer(":0", nil)

	cfg := testJobConfig()
	cfg.MaxGenerations = 1000000
	w := postJob(t, s.Handler(), cfg)
	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	final, _ := s.jobManager.GetJob(job.ID)
	if final.State != StateCancelled {
		t.Errorf("Expected cancelled after shutdown, got %s", final.State)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch1 := eb.Subscribe("job-1")
	ch2 := eb.Subscribe("job-1")
	other := eb.Subscribe("job-2")

	eb.Broadcast(ProgressEvent{JobID: "job-1", Generation: 5})

	for i, ch := range []chan ProgressEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Generation != 5 {
				t.Errorf("Client %d: expected generation 5, got %d", i, ev.Generation)
			}
		case <-time.After(time.Second):
			t.Errorf("Client %d: no event", i)
		}
	}
	if len(other) != 0 {
		t.Error("Event leaked to another job")
	}

	// Late subscribers get the last event
	late := eb.Subscribe("job-1")
	if ev := <-late; ev.Generation != 5 {
		t.Errorf("Expected replayed generation 5, got %d", ev.Generation)
	}

	eb.Unsubscribe("job-1", ch1)
	if _, ok := <-ch1; ok {
		t.Error("Unsubscribed channel should be closed")
	}
	// Unsubscribing twice is harmless
	eb.Unsubscribe("job-1", ch1)

	eb.CleanupJob("job-1")
	if _, ok := <-ch2; ok {
		t.Error("CleanupJob should close remaining channels")
	}
	eb.Unsubscribe("job-1", ch2)
}

func TestWriteSSEEvent(t *testing.T) {
	w := httptest.NewRecorder()
	if err := writeSSEEvent(w, ProgressEvent{JobID: "j", State: StateRunning}); err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.HasPrefix(string(body), "event: progress\ndata: {") || !strings.HasSuffix(string(body), "}\n\n") {
		t.Errorf("Unexpected SSE framing %q", body)
	}
}

func TestServer_CreateJobAfterShutdown(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	w := postJob(t, h, testJobConfig())
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 after shutdown, got %d: %s", w.Code, w.Body.String())
	}
	if jobs := s.jobManager.ListJobs(); len(jobs) != 0 {
		t.Errorf("Rejected job should not be listed, got %d jobs", len(jobs))
	}
}
