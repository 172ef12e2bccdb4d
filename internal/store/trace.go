package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/diffevo/internal/de"
)

// TraceEntry is one line of trace.jsonl and describes one generation.
type TraceEntry struct {
	Generation int `json:"generation"`

	// BestCost is the best cost found so far.
	BestCost float64 `json:"bestCost"`

	// GenerationCost is the best cost within this generation alone.
	GenerationCost float64 `json:"generationCost"`

	// Population statistics. Only present for entries built from a
	// GenerationRecord.
	MeanCost float64 `json:"meanCost,omitempty"`
	StdDev   float64 `json:"stdDev,omitempty"`
	Invalid  int     `json:"invalid,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Genes of the best-so-far individual (optional, can be nil to save space)
	Genes []float64 `json:"genes,omitempty"`
}

// EntryFromRecord converts a generation record into a trace entry.
func EntryFromRecord(rec de.GenerationRecord, includeGenes bool) TraceEntry {
	e := TraceEntry{
		Generation: rec.Generation,
		Invalid:    rec.Stats.Invalid,
		Timestamp:  time.Now(),
	}
	if !math.IsNaN(rec.Stats.Mean) {
		e.MeanCost = rec.Stats.Mean
		e.StdDev = rec.Stats.StdDev
	}
	fillCosts(&e, rec.BestOfGeneration, rec.Best, includeGenes)
	return e
}

func fillCosts(e *TraceEntry, bestOfGeneration, best *de.Individual, includeGenes bool) {
	if bestOfGeneration != nil {
		e.GenerationCost = bestOfGeneration.Cost
	}
	if best != nil {
		e.BestCost = best.Cost
		if includeGenes {
			e.Genes = append([]float64(nil), best.Genes...)
		}
	}
}

func tracePath(baseDir, runID string) string {
	return filepath.Join(runDir(baseDir, runID), "trace.jsonl")
}

// TraceWriter writes trace entries to a JSONL file.
// It uses buffered I/O and is safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewTraceWriter creates a trace writer for the given run at
// <baseDir>/runs/<runID>/trace.jsonl. If append is true, new entries are
// appended to an existing file.
func NewTraceWriter(baseDir, runID string, append bool) (*TraceWriter, error) {
	if err := os.MkdirAll(runDir(baseDir, runID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := tracePath(baseDir, runID)

	var file *os.File
	var err error
	if append {
		file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	} else {
		file, err = os.Create(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write appends a trace entry. The entry is buffered until Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// WriteHistory writes one entry per generation record.
func (tw *TraceWriter) WriteHistory(history []de.GenerationRecord, includeGenes bool) error {
	for _, rec := range history {
		if err := tw.Write(EntryFromRecord(rec, includeGenes)); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered data and syncs the file to disk.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace of the given run.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	file, err := os.Open(tracePath(baseDir, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// Genes make lines long in high dimensions
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	return &TraceReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// Read returns the next entry, or io.EOF when no entries are left.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads all remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// DeleteTrace removes the trace file of the given run.
// Returns nil if the file doesn't exist.
func DeleteTrace(baseDir, runID string) error {
	err := os.Remove(tracePath(baseDir, runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}

// TraceListener is a de.Listener that writes one trace entry per completed
// generation while the run is in progress. Write errors are logged and do
// not stop the run.
type TraceListener struct {
	de.NopListener

	Writer *TraceWriter

	// IncludeGenes adds the best-so-far genes to each entry.
	IncludeGenes bool

	// FlushEvery flushes the writer every n generations; 0 only flushes at
	// the end of the run.
	FlushEvery int
}

func (l *TraceListener) EndGeneration(g int, bestOfGeneration, best *de.Individual) {
	e := TraceEntry{Generation: g, Timestamp: time.Now()}
	fillCosts(&e, bestOfGeneration, best, l.IncludeGenes)
	if err := l.Writer.Write(e); err != nil {
		slog.Warn("Failed to write trace entry", "generation", g, "error", err)
		return
	}
	if l.FlushEvery > 0 && g%l.FlushEvery == 0 {
		if err := l.Writer.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "generation", g, "error", err)
		}
	}
}

func (l *TraceListener) End() { l.flush() }

func (l *TraceListener) Error(error) { l.flush() }

func (l *TraceListener) flush() {
	if err := l.Writer.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "error", err)
	}
}
