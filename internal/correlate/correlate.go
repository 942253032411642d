/*
PURPOSE:
  Joins the driver's external observations with the agent's own metric
  stream and breaks total latency down into network and processing time.

REQUIREMENTS:
  User-specified:
  - AGENT_RECEIVED matches a stimulus when it is within the tolerance
    (strictly less than, default 200ms) of the send time. First match wins.
  - Processing ends at the first AGENT_STATE "speaking" strictly after the
    matched receive time.
  - Every series is aggregated on its own; empty series stay N/A.

  Implementation-discovered:
  - When the emitter echoed the sender's timestamp, matching uses it. It is
    on the driver's clock, so clock skew between the processes cannot push a
    record out of the window.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Uses: internal/model

ERROR HANDLING:
  - None. Unmatched hops are nil in the Breakdown.

IMPLEMENTATION RULES:
  - Pure functions over the three sequences. Never mutate inputs.

USAGE:
  rep := correlate.Build(results, sup.Metrics(), smp.Samples(), correlate.Options{})

SELF-HEALING INSTRUCTIONS:
  - Network and processing always N/A: the agent's clock is off by more than
    the tolerance and it is not echoing the sender timestamp.

RELATED FILES:
  - internal/output/report.go

MAINTENANCE:
  - Assumes stimuli never overlap. Concurrent stimuli would be misattributed.
*/

package correlate

import (
	"strconv"
	"time"

	"github.com/daryltucker/voicebench/internal/model"
)

// DefaultTolerance is the maximum distance between a stimulus send time and
// the agent's receive record.
const DefaultTolerance = 200 * time.Millisecond

// Speaking is the AGENT_STATE value that marks the start of a response.
const Speaking = "speaking"

// Options tunes the correlation.
type Options struct {
	Tolerance time.Duration
}

func (o Options) tolerance() time.Duration {
	if o.Tolerance <= 0 {
		return DefaultTolerance
	}
	return o.Tolerance
}

// Correlate produces one Breakdown per stimulus, in order.
func Correlate(results []model.StimulusResult, metrics []model.AgentMetric, opts Options) []model.Breakdown {
	tol := opts.tolerance().Seconds()

	out := make([]model.Breakdown, 0, len(results))
	for _, res := range results {
		b := model.Breakdown{Prompt: res.Prompt, SentAt: res.SentAt}
		if !res.Responded() {
			out = append(out, b)
			continue
		}
		total := *res.TotalLatency
		b.Total = &total

		sent := model.TimeToSeconds(res.SentAt)
		recv, ok := matchReceived(metrics, sent, tol)
		if ok {
			network := seconds(recv - sent)
			b.Network = &network

			if speak, ok := firstSpeakingAfter(metrics, recv); ok {
				processing := seconds(speak - recv)
				b.Processing = &processing
			}
		}
		out = append(out, b)
	}
	return out
}

// matchReceived returns the receive time of the first AGENT_RECEIVED record
// belonging to a stimulus sent at sent.
func matchReceived(metrics []model.AgentMetric, sent, tol float64) (float64, bool) {
	for _, m := range metrics {
		if m.Type != model.AgentReceived {
			continue
		}
		recv := receiveTime(m)
		key := recv
		if echo, ok := echoedSent(m); ok {
			key = echo
		}
		if abs(key-sent) < tol {
			return recv, true
		}
	}
	return 0, false
}

func firstSpeakingAfter(metrics []model.AgentMetric, after float64) (float64, bool) {
	for _, m := range metrics {
		if m.Type != model.AgentState || len(m.Data) == 0 || m.Data[0] != Speaking {
			continue
		}
		if m.Timestamp > after {
			return m.Timestamp, true
		}
	}
	return 0, false
}

// receiveTime is the first token when it parses, the record time otherwise.
func receiveTime(m model.AgentMetric) float64 {
	if len(m.Data) > 0 {
		if v, err := strconv.ParseFloat(m.Data[0], 64); err == nil {
			return v
		}
	}
	return m.Timestamp
}

// echoedSent reads the optional sender timestamp (Unix ms) as seconds.
func echoedSent(m model.AgentMetric) (float64, bool) {
	if len(m.Data) < 2 {
		return 0, false
	}
	ms, err := strconv.ParseInt(m.Data[1], 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return float64(ms) / 1000, true
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
