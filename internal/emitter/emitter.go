/*
PURPOSE:
  The agent-side half of the metric protocol. Prints [METRIC] lines to the
  agent's stdout when a stimulus arrives and whenever its conversational
  state changes.

REQUIREMENTS:
  User-specified:
  - AGENT_RECEIVED on every inbound chat packet, carrying the receive time.
  - AGENT_STATE only when the observed state differs from the last one.
  - Every line is flushed immediately so the supervisor sees it in time.

  Implementation-discovered:
  - The sender's millisecond timestamp is echoed as an extra token when the
    payload decodes, so the correlator can match on it.
  - A VERSION record is printed once when the emitter is created.
  - State is polled, so the finest detectable change equals PollInterval.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/mock-agent
  - Uses: internal/metricline, internal/model

ERROR HANDLING:
  - Write and flush errors are ignored. Instrumentation must never take the
    agent down.

IMPLEMENTATION RULES:
  - One mutex per emitter; lines never interleave.

USAGE:
  em := emitter.New(os.Stdout)
  em.Received(packet.Payload)
  go em.WatchState(ctx, agent)

SELF-HEALING INSTRUCTIONS:
  - No metrics in the run log: confirm the agent is not block-buffering
    stdout (python needs -u or PYTHONUNBUFFERED=1).

RELATED FILES:
  - internal/metricline/metricline.go
  - internal/supervisor/supervisor.go

MAINTENANCE:
  - Bump metricline.Version if the record layout changes.
*/

package emitter

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/daryltucker/voicebench/internal/metricline"
	"github.com/daryltucker/voicebench/internal/model"
)

// DefaultPollInterval is how often WatchState samples the agent state.
const DefaultPollInterval = 10 * time.Millisecond

// StateReader exposes the agent's current conversational state.
type StateReader interface {
	State() string
}

type flusher interface{ Flush() error }

type syncer interface{ Sync() error }

// Emitter writes metric records to w.
type Emitter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time

	PollInterval time.Duration
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

// WithPollInterval sets the state poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.PollInterval = d
		}
	}
}

// New creates an Emitter and announces the protocol version on w.
func New(w io.Writer, opts ...Option) *Emitter {
	e := &Emitter{w: w, now: time.Now, PollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(e)
	}
	e.emit(model.ProtocolVersion, metricline.Version)
	return e
}

// Received records the arrival of one chat payload.
func (e *Emitter) Received(payload []byte) {
	recv := model.TimeToSeconds(e.now())
	tokens := []string{metricline.FormatTimestamp(recv)}

	var msg model.ChatMessage
	if err := json.Unmarshal(payload, &msg); err == nil && msg.Timestamp > 0 {
		tokens = append(tokens, strconv.FormatInt(msg.Timestamp, 10))
	}
	e.emitAt(recv, model.AgentReceived, tokens...)
}

// State records a state transition directly.
func (e *Emitter) State(state string) {
	e.emit(model.AgentState, token(state))
}

// WatchState polls r and records every change until ctx ends. The state
// current at the call is the baseline and is not recorded.
func (e *Emitter) WatchState(ctx context.Context, r StateReader) error {
	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()

	last := r.State()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if cur := r.State(); cur != last {
			e.State(cur)
			last = cur
		}
	}
}

func (e *Emitter) emit(typ model.MetricType, tokens ...string) {
	e.emitAt(model.TimeToSeconds(e.now()), typ, tokens...)
}

func (e *Emitter) emitAt(ts float64, typ model.MetricType, tokens ...string) {
	line := metricline.Format(typ, ts, tokens...) + "\n"

	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = io.WriteString(e.w, line)
	switch w := e.w.(type) {
	case flusher:
		_ = w.Flush()
	case syncer:
		_ = w.Sync()
	}
}

// token collapses whitespace so a value stays a single field.
func token(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return "unknown"
	}
	return strings.Join(f, "_")
}
