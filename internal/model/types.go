/*
PURPOSE:
  Defines the core data structures used throughout voicebench.
  These models represent what the harness observes during one benchmark run:
  internal agent events, resource samples, driven stimuli and the final report.

REQUIREMENTS:
  User-specified:
  - Record every [METRIC] line the agent prints (timestamp, type, tokens).
  - Record CPU / memory / GPU samples for the agent PID.
  - Record send and response times for every stimulus.

  Implementation-discovered:
  - Missing data is a first-class value (nil), never a zero.
  - Need JSON tags for the JSONL output and the history store.

ARCHITECTURE INTEGRATION:
  - Used by: internal/supervisor, internal/sampler, internal/driver,
    internal/correlate, internal/output
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Use time.Time and time.Duration for high precision, except AgentMetric
    which keeps the float seconds it was printed with.

USAGE:
  res := model.NewStimulusResult("Hello", sent, &resp)

SELF-HEALING INSTRUCTIONS:
  - If new metrics are needed, add field and update CSV/JSON writers.

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go
  - internal/output/report.go

MAINTENANCE:
  - Update when adding new metric types to the line protocol.
*/

package model

import (
	"math"
	"time"
)

// MetricType identifies the kind of an AgentMetric record.
type MetricType string

const (
	AgentReceived MetricType = "AGENT_RECEIVED"
	AgentState    MetricType = "AGENT_STATE"

	// ProtocolVersion is printed once by an emitter when it attaches.
	ProtocolVersion MetricType = "VERSION"
)

// AgentMetric is one event printed by the agent's metric emitter.
// Timestamp is in seconds on the agent's wall clock.
type AgentMetric struct {
	Timestamp float64    `json:"timestamp"`
	Type      MetricType `json:"type"`
	Data      []string   `json:"data"`
}

// Time converts the float timestamp to a time.Time.
func (m AgentMetric) Time() time.Time {
	return SecondsToTime(m.Timestamp)
}

// ChatMessage is the stimulus payload published on the side-channel topic.
// Timestamp is the sender's wall clock in Unix milliseconds.
type ChatMessage struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// SystemMetrics is one resource sample of the supervised process.
type SystemMetrics struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	GPUUtil       *float64  `json:"gpu_util,omitempty"`   // nil = unavailable
	GPUMemMB      *float64  `json:"gpu_mem_mb,omitempty"` // nil = unavailable
}

// StimulusResult is one driven conversational turn.
type StimulusResult struct {
	Prompt       string         `json:"prompt"`
	SentAt       time.Time      `json:"sent_at"`
	ResponseAt   *time.Time     `json:"response_at,omitempty"`
	TotalLatency *time.Duration `json:"total_latency,omitempty"`
}

// NewStimulusResult builds a result and derives TotalLatency from the two
// timestamps. A nil response means the stimulus timed out.
func NewStimulusResult(prompt string, sent time.Time, response *time.Time) StimulusResult {
	res := StimulusResult{Prompt: prompt, SentAt: sent}
	if response != nil {
		r := *response
		total := r.Sub(sent)
		res.ResponseAt = &r
		res.TotalLatency = &total
	}
	return res
}

// Responded reports whether an external response was observed.
func (r StimulusResult) Responded() bool {
	return r.ResponseAt != nil
}

// Breakdown is the per-stimulus latency decomposition produced by the
// correlator. Each component is nil when the hop was not observed.
type Breakdown struct {
	Prompt     string         `json:"prompt"`
	SentAt     time.Time      `json:"sent_at"`
	Network    *time.Duration `json:"network,omitempty"`
	Processing *time.Duration `json:"processing,omitempty"`
	Total      *time.Duration `json:"total,omitempty"`
}

// Stat aggregates one latency series. Count == 0 means "N/A".
type Stat struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Available reports whether the series had any samples.
func (s Stat) Available() bool { return s.Count > 0 }

// SystemSummary aggregates the resource samples of a run.
type SystemSummary struct {
	Samples      int      `json:"samples"`
	AvgCPU       float64  `json:"avg_cpu_percent"`
	PeakCPU      float64  `json:"peak_cpu_percent"`
	AvgMemMB     float64  `json:"avg_mem_mb"`
	PeakMemMB    float64  `json:"peak_mem_mb"`
	PeakGPUMemMB *float64 `json:"peak_gpu_mem_mb,omitempty"`
}

// Report is everything the reporter prints at the end of a run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Stimuli    []Breakdown   `json:"stimuli"`
	Network    Stat          `json:"network"`
	Processing Stat          `json:"processing"`
	Total      Stat          `json:"total"`
	System     SystemSummary `json:"system"`
}

// SecondsToTime converts float Unix seconds to time.Time.
func SecondsToTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

// TimeToSeconds converts a time.Time to float Unix seconds.
func TimeToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
