package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/diffevo/internal/server"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listJobs(out, serverURL+"/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(out, serverURL+"/api/v1/jobs/"+url.PathEscape(jobID), jobID)
}

// getJSON fetches url and decodes the body into v.
func getJSON(rawURL string, v any) (int, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr server.ErrorResponse
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return resp.StatusCode, fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return resp.StatusCode, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, rawURL string) error {
	var jobs []server.Job
	if _, err := getJSON(rawURL, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tFUNCTION\tDIMS\tGENERATION\tBEST COST")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6g\n",
			job.ID, job.State, job.Config.Function, job.Config.Dimensions, job.Generation, job.BestCost)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal jobs: %d\n", len(jobs))
	return nil
}

// jobStatusResponse mirrors server.JobStatus for decoding.
type jobStatusResponse struct {
	server.Job
	Elapsed        float64 `json:"elapsed"`
	EvalsPerSecond float64 `json:"evalsPerSecond"`
}

func getJobStatus(out io.Writer, rawURL, jobID string) error {
	var status jobStatusResponse
	code, err := getJSON(rawURL, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	cfg := status.Config
	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Function: %s (%d dimensions)\n", cfg.Function, cfg.Dimensions)
	fmt.Fprintf(out, "  Strategy: %s / %s\n", cfg.Mutation, cfg.Selection)
	fmt.Fprintf(out, "  Population: %d, F=%g, CR=%g\n", cfg.PopulationSize, cfg.Weight, cfg.Crossover)
	fmt.Fprintf(out, "  Max generations: %d, workers: %d, seed: %d\n", cfg.MaxGenerations, cfg.Workers, cfg.Seed)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Generation: %d\n", status.Generation)
	fmt.Fprintf(out, "  Evaluations: %d (%d failed)\n", status.Evaluations, status.Failures)
	if len(status.BestGenes) > 0 {
		fmt.Fprintf(out, "  Best cost: %.10g\n", status.BestCost)
		fmt.Fprintf(out, "  Best genes: %v\n", status.BestGenes)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.EvalsPerSecond > 0 {
		fmt.Fprintf(out, "  Throughput: %.0f evals/s\n", status.EvalsPerSecond)
	}

	if status.Error != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Error: %s\n", status.Error)
	}
	return nil
}
