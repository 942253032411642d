package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/daryltucker/voicebench/internal/metricline"
	"github.com/daryltucker/voicebench/internal/model"
)

const base = 1700000000.0

func at(sec float64) time.Time { return model.SecondsToTime(sec) }

func responded(prompt string, sent, resp float64) model.StimulusResult {
	r := at(resp)
	return model.NewStimulusResult(prompt, at(sent), &r)
}

func received(ts float64, tokens ...string) model.AgentMetric {
	return model.AgentMetric{Timestamp: ts, Type: model.AgentReceived, Data: tokens}
}

func state(ts float64, s string) model.AgentMetric {
	return model.AgentMetric{Timestamp: ts, Type: model.AgentState, Data: []string{s}}
}

func TestCorrelate_Tolerance(t *testing.T) {
	results := []model.StimulusResult{responded("p", base, base+1)}

	got := Correlate(results, []model.AgentMetric{received(base + 0.15)}, Options{})
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Network)
	assert.InDelta(t, 150*time.Millisecond, *got[0].Network, float64(time.Millisecond))

	got = Correlate(results, []model.AgentMetric{received(base + 0.25)}, Options{})
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Network)
	assert.Nil(t, got[0].Processing)
	require.NotNil(t, got[0].Total)
	assert.InDelta(t, time.Second, *got[0].Total, float64(time.Millisecond))
}

func TestCorrelate_ToleranceIsConfigurable(t *testing.T) {
	results := []model.StimulusResult{responded("p", base, base+1)}
	metrics := []model.AgentMetric{received(base + 0.25)}

	got := Correlate(results, metrics, Options{Tolerance: 300 * time.Millisecond})
	assert.NotNil(t, got[0].Network)

	got = Correlate(results, metrics, Options{Tolerance: 100 * time.Millisecond})
	assert.Nil(t, got[0].Network)
}

func TestCorrelate_FullBreakdown(t *testing.T) {
	results := []model.StimulusResult{
		responded("one", base, base+1.2),
		responded("two", base+10, base+11.0),
	}
	metrics := []model.AgentMetric{
		state(base-1, "listening"),
		received(base+0.04, metricline.FormatTimestamp(base+0.04)),
		state(base+0.05, "thinking"),
		state(base+0.9, "speaking"),
		state(base+3, "listening"),
		{Timestamp: base + 5, Type: "SOMETHING_ELSE", Data: []string{"x"}},
		received(base+10.03, metricline.FormatTimestamp(base+10.03)),
		state(base+10.5, "speaking"),
	}

	got := Correlate(results, metrics, Options{})
	require.Len(t, got, 2)

	assert.Equal(t, "one", got[0].Prompt)
	require.NotNil(t, got[0].Network)
	require.NotNil(t, got[0].Processing)
	assert.InDelta(t, 40*time.Millisecond, *got[0].Network, float64(time.Millisecond))
	assert.InDelta(t, 860*time.Millisecond, *got[0].Processing, float64(time.Millisecond))

	require.NotNil(t, got[1].Network)
	require.NotNil(t, got[1].Processing)
	assert.InDelta(t, 30*time.Millisecond, *got[1].Network, float64(time.Millisecond))
	assert.InDelta(t, 470*time.Millisecond, *got[1].Processing, float64(time.Millisecond))
}

func TestCorrelate_SpeakingMustFollowReceive(t *testing.T) {
	results := []model.StimulusResult{responded("p", base, base+1)}
	metrics := []model.AgentMetric{
		state(base+0.05, "speaking"),
		received(base + 0.05),
	}

	got := Correlate(results, metrics, Options{})
	require.NotNil(t, got[0].Network)
	assert.Nil(t, got[0].Processing)
}

func TestCorrelate_EchoedTimestampWinsOverSkew(t *testing.T) {
	// Agent clock runs 2s ahead; the echoed driver timestamp still matches.
	results := []model.StimulusResult{responded("p", base, base+1)}
	metrics := []model.AgentMetric{
		received(base+2.05, metricline.FormatTimestamp(base+2.05), "1700000000000"),
		state(base+2.5, "speaking"),
	}

	got := Correlate(results, metrics, Options{})
	require.NotNil(t, got[0].Network)
	require.NotNil(t, got[0].Processing)
	assert.InDelta(t, 450*time.Millisecond, *got[0].Processing, float64(time.Millisecond))
}

func TestCorrelate_FirstMatchWins(t *testing.T) {
	results := []model.StimulusResult{responded("p", base, base+1)}
	metrics := []model.AgentMetric{
		received(base + 0.10),
		received(base + 0.01),
	}

	got := Correlate(results, metrics, Options{})
	require.NotNil(t, got[0].Network)
	assert.InDelta(t, 100*time.Millisecond, *got[0].Network, float64(time.Millisecond))
}

func TestCorrelate_UnansweredStimulus(t *testing.T) {
	results := []model.StimulusResult{model.NewStimulusResult("p", at(base), nil)}
	metrics := []model.AgentMetric{received(base + 0.01), state(base+0.5, "speaking")}

	got := Correlate(results, metrics, Options{})
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Total)
	assert.Nil(t, got[0].Network)
	assert.Nil(t, got[0].Processing)
}

func TestAggregate(t *testing.T) {
	st := Aggregate(nil)
	assert.False(t, st.Available())
	assert.Zero(t, st.Mean)

	st = Aggregate([]time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 200 * time.Millisecond})
	assert.True(t, st.Available())
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 200*time.Millisecond, st.Mean)
	assert.Equal(t, 100*time.Millisecond, st.Min)
	assert.Equal(t, 300*time.Millisecond, st.Max)
}

func TestAggregate_Bounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := rapid.SliceOfN(rapid.Int64Range(-10_000, 60_000), 1, 50).Draw(t, "ms")
		values := make([]time.Duration, len(ms))
		for i, v := range ms {
			values[i] = time.Duration(v) * time.Millisecond
		}

		st := Aggregate(values)
		if st.Count != len(values) {
			t.Fatalf("count %d, want %d", st.Count, len(values))
		}
		if st.Min > st.Mean || st.Mean > st.Max {
			t.Fatalf("min %s mean %s max %s out of order", st.Min, st.Mean, st.Max)
		}
	})
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, model.SystemSummary{}, Summarize(nil))

	gpu := 512.0
	s := Summarize([]model.SystemMetrics{
		{CPUPercent: 10, MemoryMB: 100},
		{CPUPercent: 30, MemoryMB: 300, GPUMemMB: &gpu},
		{CPUPercent: 20, MemoryMB: 200},
	})
	assert.Equal(t, 3, s.Samples)
	assert.InDelta(t, 20, s.AvgCPU, 1e-9)
	assert.InDelta(t, 30, s.PeakCPU, 1e-9)
	assert.InDelta(t, 200, s.AvgMemMB, 1e-9)
	assert.InDelta(t, 300, s.PeakMemMB, 1e-9)
	require.NotNil(t, s.PeakGPUMemMB)
	assert.InDelta(t, 512, *s.PeakGPUMemMB, 1e-9)

	s = Summarize([]model.SystemMetrics{{CPUPercent: 1, MemoryMB: 1}})
	assert.Nil(t, s.PeakGPUMemMB)
}

func TestBuild(t *testing.T) {
	results := []model.StimulusResult{
		responded("one", base, base+1),
		model.NewStimulusResult("two", at(base+10), nil),
	}
	metrics := []model.AgentMetric{received(base + 0.02), state(base+0.6, "speaking")}

	rep := Build(results, metrics, nil, Options{})
	require.Len(t, rep.Stimuli, 2)
	assert.Equal(t, 1, rep.Network.Count)
	assert.Equal(t, 1, rep.Processing.Count)
	assert.Equal(t, 1, rep.Total.Count)
	assert.Equal(t, 0, rep.System.Samples)
	assert.Empty(t, rep.RunID)
}
