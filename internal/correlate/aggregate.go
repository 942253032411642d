package correlate

import (
	"time"

	"github.com/daryltucker/voicebench/internal/model"
)

// Aggregate computes mean/min/max over values. An empty series yields a
// zero Stat whose Available() is false.
func Aggregate(values []time.Duration) model.Stat {
	if len(values) == 0 {
		return model.Stat{}
	}
	st := model.Stat{Count: len(values), Min: values[0], Max: values[0]}
	var sum time.Duration
	for _, v := range values {
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Mean = sum / time.Duration(len(values))
	return st
}

// Summarize reduces the resource samples of a run.
func Summarize(samples []model.SystemMetrics) model.SystemSummary {
	sum := model.SystemSummary{Samples: len(samples)}
	if len(samples) == 0 {
		return sum
	}

	var cpu, mem float64
	for _, s := range samples {
		cpu += s.CPUPercent
		mem += s.MemoryMB
		if s.CPUPercent > sum.PeakCPU {
			sum.PeakCPU = s.CPUPercent
		}
		if s.MemoryMB > sum.PeakMemMB {
			sum.PeakMemMB = s.MemoryMB
		}
		if s.GPUMemMB != nil && (sum.PeakGPUMemMB == nil || *s.GPUMemMB > *sum.PeakGPUMemMB) {
			v := *s.GPUMemMB
			sum.PeakGPUMemMB = &v
		}
	}
	n := float64(len(samples))
	sum.AvgCPU = cpu / n
	sum.AvgMemMB = mem / n
	return sum
}

// Build correlates a finished run into a Report. RunID and StartedAt are
// left for the caller.
func Build(results []model.StimulusResult, metrics []model.AgentMetric, samples []model.SystemMetrics, opts Options) model.Report {
	stimuli := Correlate(results, metrics, opts)

	var network, processing, total []time.Duration
	for _, b := range stimuli {
		if b.Network != nil {
			network = append(network, *b.Network)
		}
		if b.Processing != nil {
			processing = append(processing, *b.Processing)
		}
		if b.Total != nil {
			total = append(total, *b.Total)
		}
	}

	return model.Report{
		Stimuli:    stimuli,
		Network:    Aggregate(network),
		Processing: Aggregate(processing),
		Total:      Aggregate(total),
		System:     Summarize(samples),
	}
}
