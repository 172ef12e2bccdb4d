package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/diffevo/internal/server"
	"github.com/cwbudde/diffevo/internal/store"
)

var (
	serveAddr     string
	serveDataDir  string
	serveProgress time.Duration
	serveGrace    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Serves the job API:

  POST   /api/v1/jobs              start an optimization
  GET    /api/v1/jobs              list jobs
  GET    /api/v1/jobs/{id}         job status
  DELETE /api/v1/jobs/{id}         cancel a job
  GET    /api/v1/jobs/{id}/stream  progress as server-sent events
  GET    /api/v1/results[/{id}[/trace]]
  GET    /api/v1/functions
  GET    /metrics                  Prometheus metrics

Finished jobs are saved below --data-dir unless it is empty.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Result storage directory (empty = memory only)")
	serveCmd.Flags().DurationVar(&serveProgress, "progress-interval", 500*time.Millisecond, "Minimum time between progress events of a job")
	serveCmd.Flags().DurationVar(&serveGrace, "shutdown-timeout", 30*time.Second, "Time allowed for running jobs to stop")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var st *store.FSStore
	if serveDataDir != "" {
		var err error
		st, err = store.NewFSStore(serveDataDir)
		if err != nil {
			return fmt.Errorf("failed to open data directory: %w", err)
		}
	}

	s := server.NewServer(serveAddr, st)
	s.SetProgressInterval(serveProgress)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Signal received, shutting down", "timeout", serveGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveGrace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
