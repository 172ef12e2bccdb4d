package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/diffevo/internal/store"
)

var (
	resultsDataDir string
	showTrace      bool
	keepLast       int
	olderThanDays  int
	forceClean     bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Manage saved optimization results",
	Long: `Manage results saved by 'diffevo run --data-dir' and 'diffevo serve'.
Each result directory holds result.json and the generation trace trace.jsonl.`,
}

var listResultsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved results",
	Args:  cobra.NoArgs,
	RunE:  runListResults,
}

var showResultCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one result",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowResult,
}

var deleteResultCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete results",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDeleteResults,
}

var cleanResultsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old results",
	Long: `Delete old results based on a retention policy.
You can keep only the newest N results or delete results older than N days.`,
	Args: cobra.NoArgs,
	RunE: runCleanResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(listResultsCmd, showResultCmd, deleteResultCmd, cleanResultsCmd)

	resultsCmd.PersistentFlags().StringVar(&resultsDataDir, "data-dir", "./data", "Base directory for result storage")

	showResultCmd.Flags().BoolVar(&showTrace, "trace", false, "Also print the generation trace")

	cleanResultsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N results (0 = keep all)")
	cleanResultsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete results older than N days (0 = no age limit)")
	cleanResultsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openResultStore() (*store.FSStore, error) {
	st, err := store.NewFSStore(resultsDataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	return st, nil
}

func runListResults(cmd *cobra.Command, args []string) error {
	st, err := openResultStore()
	if err != nil {
		return err
	}
	infos, err := st.ListResults()
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tSTATE\tFUNCTION\tDIMS\tGENERATIONS\tBEST COST\tSIZE")
	fmt.Fprintln(w, "------\t---------\t-----\t--------\t----\t-----------\t---------\t----")

	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getDirSize(st.RunDir(info.ID)); err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.6g\t%s\n",
			shortID(info.ID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.State,
			info.Function,
			info.Dimensions,
			info.Generations,
			info.BestCost,
			sizeStr,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal results: %d\n", len(infos))
	return nil
}

func runShowResult(cmd *cobra.Command, args []string) error {
	st, err := openResultStore()
	if err != nil {
		return err
	}
	runID := args[0]
	record, err := st.LoadResult(runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cfg := record.Config
	fmt.Fprintf(out, "Run: %s\n", record.ID)
	fmt.Fprintf(out, "State: %s\n", record.State)
	fmt.Fprintf(out, "Saved: %s\n", record.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "Function: %s (%d dimensions)\n", cfg.Function, cfg.Dimensions)
	fmt.Fprintf(out, "Strategy: %s / %s, population %d, F=%g, CR=%g, seed %d\n",
		cfg.Mutation, cfg.Selection, cfg.PopulationSize, cfg.Weight, cfg.Crossover, cfg.Seed)
	fmt.Fprintf(out, "Generations: %d, evaluations: %d (%d failed), elapsed %s\n",
		record.Generations, record.Evaluations, record.Failures, record.Elapsed.Round(time.Millisecond))
	if len(record.BestGenes) > 0 {
		fmt.Fprintf(out, "Best cost: %.10g\n", record.BestCost)
		fmt.Fprintf(out, "Best genes: %v\n", record.BestGenes)
	}
	if record.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", record.Error)
	}

	if !showTrace {
		return nil
	}
	return printTrace(out, resultsDataDir, runID)
}

func printTrace(out io.Writer, baseDir, runID string) error {
	reader, err := store.NewTraceReader(baseDir, runID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintln(out, "\nNo trace recorded.")
		return nil
	} else if err != nil {
		return err
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GENERATION\tBEST COST\tGENERATION COST")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%.10g\t%.10g\n", e.Generation, e.BestCost, e.GenerationCost)
	}
	return w.Flush()
}

func runDeleteResults(cmd *cobra.Command, args []string) error {
	st, err := openResultStore()
	if err != nil {
		return err
	}
	var errs []error
	for _, runID := range args {
		if err := st.DeleteResult(runID); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("Deleted result", "run_id", runID)
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", runID)
	}
	return errors.Join(errs...)
}

func runCleanResults(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return &usageError{err: fmt.Errorf("must specify either --keep-last or --older-than")}
	}

	st, err := openResultStore()
	if err != nil {
		return err
	}
	infos, err := st.ListResults()
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No results to clean.")
		return nil
	}

	toDelete := selectResultsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No results match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d result(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n", shortID(info.ID), info.Function, info.Timestamp.Format("2006-01-02 15:04:05"))
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := st.DeleteResult(info.ID); err != nil {
			slog.Error("Failed to delete result", "run_id", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted result", "run_id", info.ID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d result(s), %d failed.\n", deleted, failed)
	return nil
}

// selectResultsForDeletion applies the retention policy: everything older
// than olderThanDays, plus everything beyond the newest keepLast.
func selectResultsForDeletion(infos []store.RunInfo, keepLast, olderThanDays int, now time.Time) []store.RunInfo {
	sorted := make([]store.RunInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	cutoff := now.AddDate(0, 0, -olderThanDays)
	var toDelete []store.RunInfo
	for i, info := range sorted {
		tooOld := olderThanDays > 0 && info.Timestamp.Before(cutoff)
		beyondKeep := keepLast > 0 && i >= keepLast
		if tooOld || beyondKeep {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
