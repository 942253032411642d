/*
PURPOSE:
  Live Prometheus view of a running benchmark so long runs can be watched
  (and scraped next to the agent's own metrics) before the report prints.

REQUIREMENTS:
  Implementation-discovered:
  - Own registry per run; the default registry would panic on re-register
    in tests.
  - Only exposed when --metrics-addr is set.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (hooks on supervisor, sampler, driver)
  - Uses: github.com/prometheus/client_golang

ERROR HANDLING:
  - Listen errors are returned from Serve; the engine logs them and carries on.

IMPLEMENTATION RULES:
  - Collector methods are safe on a nil *Collector so callers need no guards.

USAGE:
  c := telemetry.NewCollector("voicebench")
  go c.Serve(ctx, ":9108")
  c.ObserveStimulus(res)

SELF-HEALING INSTRUCTIONS:
  - "address already in use": pick another --metrics-addr.

RELATED FILES:
  - internal/engine/runner.go

MAINTENANCE:
  - Keep metric names stable; dashboards depend on them.
*/

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daryltucker/voicebench/internal/model"
)

// Collector holds the run's metrics.
type Collector struct {
	Registry *prometheus.Registry

	stimuli      *prometheus.CounterVec
	latency      prometheus.Histogram
	agentMetrics *prometheus.CounterVec
	cpu          prometheus.Gauge
	memory       prometheus.Gauge
	gpuMemory    prometheus.Gauge
	agentUp      prometheus.Gauge
}

// NewCollector registers all metrics under namespace on a fresh registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		Registry: reg,
		stimuli: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stimuli_total",
			Help:      "Stimuli sent, by outcome.",
		}, []string{"outcome"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Externally observed time from stimulus to agent speech.",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10, 15},
		}),
		agentMetrics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_metric_records_total",
			Help:      "Metric records parsed from the agent's stdout, by type.",
		}, []string{"type"}),
		cpu: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_cpu_percent",
			Help:      "Last sampled CPU usage of the agent process.",
		}),
		memory: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_memory_mb",
			Help:      "Last sampled resident memory of the agent process.",
		}),
		gpuMemory: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_gpu_memory_mb",
			Help:      "Last sampled GPU memory of the agent process.",
		}),
		agentUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_up",
			Help:      "1 while the supervised agent process is running.",
		}),
	}
}

// ObserveStimulus counts one finished stimulus.
func (c *Collector) ObserveStimulus(r model.StimulusResult) {
	if c == nil {
		return
	}
	if !r.Responded() {
		c.stimuli.WithLabelValues("timeout").Inc()
		return
	}
	c.stimuli.WithLabelValues("answered").Inc()
	c.latency.Observe(r.TotalLatency.Seconds())
}

// ObserveAgentMetric counts one parsed agent record.
func (c *Collector) ObserveAgentMetric(m model.AgentMetric) {
	if c == nil {
		return
	}
	c.agentMetrics.WithLabelValues(string(m.Type)).Inc()
}

// ObserveSample updates the resource gauges.
func (c *Collector) ObserveSample(s model.SystemMetrics) {
	if c == nil {
		return
	}
	c.cpu.Set(s.CPUPercent)
	c.memory.Set(s.MemoryMB)
	if s.GPUMemMB != nil {
		c.gpuMemory.Set(*s.GPUMemMB)
	}
}

// SetAgentUp flips the agent_up gauge.
func (c *Collector) SetAgentUp(up bool) {
	if c == nil {
		return
	}
	if up {
		c.agentUp.Set(1)
	} else {
		c.agentUp.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// Serve exposes /metrics on addr until ctx ends.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
