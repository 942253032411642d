/*
PURPOSE:
  The line protocol between an agent's metric emitter and the supervisor.
  One event per stdout line: [METRIC] <TYPE> <float-seconds> <token>...

REQUIREMENTS:
  User-specified:
  - Parse TYPE, timestamp (float) and the remaining tokens.
  - Malformed lines are dropped, never fatal.

  Implementation-discovered:
  - Fields are whitespace separated; runs of spaces/tabs are tolerated.
  - NaN / Inf timestamps are rejected (strconv accepts them).

ARCHITECTURE INTEGRATION:
  - Used by: internal/supervisor (Parse), internal/emitter (Format)

ERROR HANDLING:
  - ErrNotMetric when the marker is missing.
  - ErrMalformed (wrapped with detail) for short lines or bad timestamps.

IMPLEMENTATION RULES:
  - Never panic on any input.

USAGE:
  m, err := metricline.Parse("[METRIC] AGENT_STATE 12.5 speaking")

SELF-HEALING INSTRUCTIONS:
  - If the grammar changes, bump Version and keep Parse accepting old lines.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update when adding metric types.
*/

package metricline

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/daryltucker/voicebench/internal/model"
)

const (
	// Marker prefixes every machine-parseable line.
	Marker = "[METRIC]"

	// Version of the line grammar, printed by emitters as a VERSION record.
	Version = "1"
)

var (
	ErrNotMetric = errors.New("not a metric line")
	ErrMalformed = errors.New("malformed metric line")
)

// IsMetric reports whether the line carries the metric marker.
func IsMetric(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), Marker)
}

// Parse turns one metric line into an AgentMetric.
func Parse(line string) (model.AgentMetric, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, Marker) {
		return model.AgentMetric{}, ErrNotMetric
	}

	fields := strings.Fields(line)
	// [METRIC] TYPE TIMESTAMP ...
	if len(fields) < 3 || fields[0] != Marker {
		return model.AgentMetric{}, fmt.Errorf("%w: expected at least 3 fields, got %d", ErrMalformed, len(fields))
	}

	ts, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return model.AgentMetric{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformed, fields[2], err)
	}
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return model.AgentMetric{}, fmt.Errorf("%w: timestamp %q is not finite", ErrMalformed, fields[2])
	}

	data := make([]string, 0, len(fields)-3)
	data = append(data, fields[3:]...)

	return model.AgentMetric{
		Timestamp: ts,
		Type:      model.MetricType(fields[1]),
		Data:      data,
	}, nil
}

// Format renders a metric line without the trailing newline.
// Tokens containing whitespace are split by the consumer, so callers should
// only pass single-word tokens.
func Format(typ model.MetricType, ts float64, tokens ...string) string {
	var b strings.Builder
	b.WriteString(Marker)
	b.WriteByte(' ')
	b.WriteString(string(typ))
	b.WriteByte(' ')
	b.WriteString(FormatTimestamp(ts))
	for _, t := range tokens {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	return b.String()
}

// FormatTimestamp prints seconds with microsecond precision.
func FormatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', 6, 64)
}
