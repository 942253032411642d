/*
PURPOSE:
  results.jsonl: one JSON object per stimulus, the same fields as the CSV
  (see record.go) with real nulls for hops that were not observed.

REQUIREMENTS:
  Implementation-discovered:
  - Prompts are user text; HTML escaping turned "<" into "\u003c" and broke
    grep on the file, so it is off.
  - Rows are synced as they are written. A run killed during output still
    leaves complete lines behind.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (writeFiles)

USAGE:
  w, err := output.NewJSONWriter("results.jsonl")
  w.Write(runID, breakdown)
  w.Close()
*/

package output

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/daryltucker/voicebench/internal/model"
)

// JSONWriter appends stimulus records to a JSON Lines file.
type JSONWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONWriter truncates path and returns a writer for it.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONWriter{file: f, enc: enc}, nil
}

func (jw *JSONWriter) Write(runID string, b model.Breakdown) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.enc.Encode(newStimulusRecord(runID, b)); err != nil {
		return err
	}
	return jw.file.Sync()
}

func (jw *JSONWriter) Close() error {
	return jw.file.Close()
}
