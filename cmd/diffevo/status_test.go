package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/diffevo/internal/server"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := server.NewServer(":0", nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
	})
	return ts
}

func submitJob(t *testing.T, baseURL string) string {
	t.Helper()
	body := `{"function":"sphere","dimensions":3,"populationSize":12,"maxGenerations":20,"workers":2,"seed":7}`
	resp, err := http.Post(baseURL+"/api/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var job server.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var status jobStatusResponse
		if _, err := getJSON(baseURL+"/api/v1/jobs/"+job.ID, &status); err != nil {
			t.Fatal(err)
		}
		if status.State.Terminal() {
			return job.ID
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", job.ID)
	return ""
}

func TestListJobs_Empty(t *testing.T) {
	ts := startTestServer(t)

	var out bytes.Buffer
	if err := listJobs(&out, ts.URL+"/api/v1/jobs"); err != nil {
		t.Fatalf("listJobs failed: %v", err)
	}
	if !strings.Contains(out.String(), "No jobs found") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestListJobs_WithJob(t *testing.T) {
	ts := startTestServer(t)
	jobID := submitJob(t, ts.URL)

	var out bytes.Buffer
	if err := listJobs(&out, ts.URL+"/api/v1/jobs"); err != nil {
		t.Fatalf("listJobs failed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, jobID) || !strings.Contains(text, "sphere") || !strings.Contains(text, "Total jobs: 1") {
		t.Errorf("Unexpected output:\n%s", text)
	}
}

func TestGetJobStatus(t *testing.T) {
	ts := startTestServer(t)
	jobID := submitJob(t, ts.URL)

	var out bytes.Buffer
	if err := getJobStatus(&out, ts.URL+"/api/v1/jobs/"+jobID, jobID); err != nil {
		t.Fatalf("getJobStatus failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Job: " + jobID, "State: completed", "Function: sphere (3 dimensions)", "Generation: 20", "Best genes:"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output:\n%s", want, text)
		}
	}
}

func TestGetJobStatus_NotFound(t *testing.T) {
	ts := startTestServer(t)

	var out bytes.Buffer
	err := getJobStatus(&out, ts.URL+"/api/v1/jobs/nope", "nope")
	if err == nil || !strings.Contains(err.Error(), "job not found") {
		t.Errorf("Expected job not found error, got %v", err)
	}
}

func TestGetJSON_DecodesServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(server.ErrorResponse{Error: "bad things"})
	}))
	defer ts.Close()

	var v any
	code, err := getJSON(ts.URL, &v)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", code)
	}
	if err == nil || !strings.Contains(err.Error(), "bad things") {
		t.Errorf("Expected server error message, got %v", err)
	}
}
