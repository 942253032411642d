/*
PURPOSE:
  Writes per-stimulus benchmark results to a CSV file.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - Output to CSV, one row per stimulus.
  - Keep file handle open for flushing.

  Implementation-discovered:
  - Each run overwrites its own file; runs are told apart by run_id and
    compared through the history database instead.
  - Unobserved hops are written as empty cells, not zeros.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Consumes: internal/model.Breakdown

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).
  - Mutex guarded.

USAGE:
  w, err := output.NewCSVWriter("results.csv")
  w.Write(runID, breakdown)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If CSV format changes, update header and record conversion.

RELATED FILES:
  - internal/output/record.go

MAINTENANCE:
  - Keep the header in the same order as stimulusRecord.fields().
*/

package output

import (
	"encoding/csv"
	"os"
	"sync"

	"github.com/daryltucker/voicebench/internal/model"
)

var csvHeader = []string{
	"run_id", "prompt", "sent_at", "response_at",
	"total_s", "network_s", "processing_s",
}

// CSVWriter handles writing stimulus rows to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes a single stimulus to the CSV file.
// It is thread-safe.
func (cw *CSVWriter) Write(runID string, b model.Breakdown) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.writer.Write(newStimulusRecord(runID, b).fields()); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
