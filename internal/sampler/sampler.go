/*
PURPOSE:
  Polls OS-level resource usage of the supervised agent process on a fixed
  interval, independent of the output reader and the conversation driver.

REQUIREMENTS:
  User-specified:
  - CPU percent, resident memory (MB and % of system memory), best-effort GPU
    memory per PID.
  - Unknown PID -> no-op sampler, never a failed run.
  - Stop() joins the loop with a bounded timeout; safe when nothing started.

  Implementation-discovered:
  - CPU% is the CPU-time delta over the wall-clock delta between ticks
    (100% = one full core), like psutil's cpu_percent().
  - /proc is read through prometheus/procfs; on systems without /proc the
    PID never resolves and the sampler is a no-op.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Uses: internal/model, internal/output, github.com/prometheus/procfs

ERROR HANDLING:
  - Per-tick read errors skip the tick.
  - A vanished process ends the loop.
  - GPU probe failures are "unavailable" (nil), never errors.

IMPLEMENTATION RULES:
  - The loop goroutine is the only writer of samples; Samples() copies
    under mu.

USAGE:
  s := sampler.New(pid, cfg.Sampler)
  s.Start()
  defer s.Stop()

SELF-HEALING INSTRUCTIONS:
  - If memory_percent is always 0, /proc/meminfo could not be read.

RELATED FILES:
  - internal/sampler/gpu.go

MAINTENANCE:
  - None.
*/

package sampler

import (
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/model"
	"github.com/daryltucker/voicebench/internal/output"
)

const stopTimeout = 2 * time.Second

// Sampler samples one process.
type Sampler struct {
	PID      int
	Interval time.Duration
	GPU      GPUProbe // nil disables GPU sampling

	// OnSample, if set, is called from the loop goroutine after every sample.
	OnSample func(model.SystemMetrics)

	proc     *procfs.Proc
	memTotal uint64 // bytes, 0 if unknown

	mu      sync.Mutex
	samples []model.SystemMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}

	prevCPU  float64
	prevWall time.Time
}

// New resolves pid through the default /proc mount.
func New(pid int, cfg config.Sampler) *Sampler {
	s := newSampler(pid, cfg.Interval)
	if cfg.GPU {
		s.GPU = NewNvidiaSMI()
	}

	fsys, err := procfs.NewDefaultFS()
	if err != nil {
		output.Logger.Warn("Resource sampling disabled: no procfs", "error", err)
		return s
	}
	s.resolve(fsys)
	return s
}

// NewWithFS is New against an explicit procfs mount (tests, containers).
func NewWithFS(pid int, interval time.Duration, fsys procfs.FS) *Sampler {
	s := newSampler(pid, interval)
	s.resolve(fsys)
	return s
}

func newSampler(pid int, interval time.Duration) *Sampler {
	return &Sampler{
		PID:      pid,
		Interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sampler) resolve(fsys procfs.FS) {
	p, err := fsys.Proc(s.PID)
	if err != nil {
		output.Logger.Warn("Resource sampling disabled: process not found", "pid", s.PID, "error", err)
		return
	}
	s.proc = &p

	if mi, err := fsys.Meminfo(); err == nil && mi.MemTotal != nil {
		s.memTotal = *mi.MemTotal * 1024
	}
}

// Active reports whether the PID resolved.
func (s *Sampler) Active() bool {
	return s.proc != nil
}

// Start launches the poll loop. No-op when the PID did not resolve.
func (s *Sampler) Start() {
	s.startOnce.Do(func() {
		if !s.Active() {
			return
		}
		if st, err := s.proc.Stat(); err == nil {
			s.prevCPU = st.CPUTime()
		}
		s.prevWall = time.Now()
		s.started = true
		go s.loop()
	})
}

// Stop ends the loop and waits for it, at most two seconds.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	// A Start after Stop must not launch the loop.
	s.startOnce.Do(func() {})
	if !s.started {
		return
	}

	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		output.Logger.Warn("Resource sampler did not stop in time", "pid", s.PID)
	}
}

// Samples returns a copy of the collected series.
func (s *Sampler) Samples() []model.SystemMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SystemMetrics, len(s.samples))
	copy(out, s.samples)
	return out
}

func (s *Sampler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		m, err := s.sample()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				output.Logger.Info("Sampled process is gone, stopping sampler", "pid", s.PID)
				return
			}
			output.Logger.Debug("Resource sample failed", "pid", s.PID, "error", err)
			continue
		}

		s.mu.Lock()
		s.samples = append(s.samples, m)
		s.mu.Unlock()
		if s.OnSample != nil {
			s.OnSample(m)
		}
	}
}

// sample reads one SystemMetrics record.
func (s *Sampler) sample() (model.SystemMetrics, error) {
	st, err := s.proc.Stat()
	if err != nil {
		return model.SystemMetrics{}, err
	}
	now := time.Now()

	cpuTime := st.CPUTime()
	var cpu float64
	if wall := now.Sub(s.prevWall).Seconds(); wall > 0 {
		cpu = (cpuTime - s.prevCPU) / wall * 100
	}
	if cpu < 0 {
		cpu = 0
	}
	s.prevCPU, s.prevWall = cpuTime, now

	rss := uint64(st.ResidentMemory())
	m := model.SystemMetrics{
		Timestamp:  now,
		CPUPercent: cpu,
		MemoryMB:   float64(rss) / 1024 / 1024,
	}
	if s.memTotal > 0 {
		m.MemoryPercent = float64(rss) / float64(s.memTotal) * 100
	}
	if s.GPU != nil {
		m.GPUUtil, m.GPUMemMB = s.GPU.Sample(s.PID)
	}
	return m, nil
}
