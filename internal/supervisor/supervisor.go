/*
PURPOSE:
  Launches the agent under test as a child process, captures its output on a
  background goroutine and owns its shutdown.

REQUIREMENTS:
  User-specified:
  - Spawn the target, read its stdout line by line in real time.
  - Parse [METRIC] lines into AgentMetric records; drop malformed ones.
  - Stop(): SIGTERM, bounded grace period, then SIGKILL. Idempotent.

  Implementation-discovered:
  - stderr is merged into the same pipe (agents log there).
  - The child gets its own process group so helper processes it spawns
    (python workers, ffmpeg...) are signalled with it.
  - bufio.Reader instead of Scanner: no line length limit, the pipe must
    never back up into the child.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Uses: internal/metricline, internal/model, internal/output

ERROR HANDLING:
  - Start errors are returned.
  - Stop never fails on "already exited"; signal errors are logged.
  - Reader errors end the reader goroutine only.

IMPLEMENTATION RULES:
  - The process handle is only touched under mu.
  - Exactly one goroutine calls cmd.Wait.

USAGE:
  sup := supervisor.New(supervisor.BuildCommand("./agent.py"), cfg.Supervisor)
  pid, err := sup.Start()
  defer sup.Stop()

SELF-HEALING INSTRUCTIONS:
  - If the agent output looks truncated, check the agent flushes stdout.

RELATED FILES:
  - internal/supervisor/proc_unix.go
  - internal/supervisor/proc_other.go

MAINTENANCE:
  - None.
*/

package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/metricline"
	"github.com/daryltucker/voicebench/internal/model"
	"github.com/daryltucker/voicebench/internal/output"
)

// MetricLog is the append-only sequence of parsed agent metrics.
// One writer (the reader goroutine), readers take snapshots.
type MetricLog struct {
	mu    sync.Mutex
	items []model.AgentMetric
}

// Append adds a record at the end.
func (l *MetricLog) Append(m model.AgentMetric) {
	l.mu.Lock()
	l.items = append(l.items, m)
	l.mu.Unlock()
}

// Snapshot returns a copy of the records in emission order.
func (l *MetricLog) Snapshot() []model.AgentMetric {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.AgentMetric, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of records.
func (l *MetricLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Supervisor runs one agent process.
type Supervisor struct {
	Command []string
	Env     []string // appended to os.Environ()
	Config  config.Supervisor

	// OnMetric, if set, is called from the reader goroutine for every
	// parsed record.
	OnMetric func(model.AgentMetric)

	metrics MetricLog

	mu         sync.Mutex
	cmd        *exec.Cmd
	out        *os.File
	exited     chan struct{}
	readerDone chan struct{}
	waitErr    error
}

// New creates a Supervisor. Nothing runs until Start.
func New(command []string, cfg config.Supervisor) *Supervisor {
	return &Supervisor{
		Command: command,
		Config:  cfg,
	}
}

// BuildCommand turns the --agent argument into an argv.
// Python entry points are run unbuffered in dev mode, like the agents
// this harness was written for; anything else is split on whitespace and
// executed directly.
func BuildCommand(agent string) []string {
	agent = strings.TrimSpace(agent)
	if strings.HasSuffix(agent, ".py") {
		return []string{"python3", "-u", agent, "dev"}
	}
	return strings.Fields(agent)
}

// Start spawns the process and the reader goroutine. It returns the PID.
func (s *Supervisor) Start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return 0, fmt.Errorf("agent already running (pid %d)", s.cmd.Process.Pid)
	}
	if len(s.Command) == 0 {
		return 0, errors.New("empty agent command")
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, s.Env...)
	cmd.SysProcAttr = sysProcAttr()

	output.Logger.Info("Starting agent", "command", strings.Join(s.Command, " "))
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return 0, fmt.Errorf("failed to start agent %s: %w", s.Command[0], err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	s.cmd = cmd
	s.out = pr
	s.exited = make(chan struct{})
	s.readerDone = make(chan struct{})
	s.waitErr = nil

	go s.readLoop(pr, s.readerDone)
	go s.wait(cmd, s.exited)

	return cmd.Process.Pid, nil
}

func (s *Supervisor) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	output.Logger.Info("Agent exited", "pid", cmd.Process.Pid, "status", cmd.ProcessState.String())
	close(exited)
}

func (s *Supervisor) readLoop(r io.Reader, done chan struct{}) {
	defer close(done)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.handleLine(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				output.Logger.Debug("Agent output reader stopped", "error", err)
			}
			return
		}
	}
}

func (s *Supervisor) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if s.Config.Echo {
		output.Logger.Info("[AGENT] " + line)
	}
	if !metricline.IsMetric(line) {
		return
	}

	m, err := metricline.Parse(line)
	if err != nil {
		output.Logger.Warn("Dropping malformed metric line", "line", line, "error", err)
		return
	}
	s.metrics.Append(m)
	if s.OnMetric != nil {
		s.OnMetric(m)
	}
}

// Stop terminates the agent: SIGTERM, wait GracePeriod, SIGKILL, wait
// KillWait. Safe to call any number of times, before or after the process
// exited on its own.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}
	cmd, exited := s.cmd, s.exited
	s.cmd = nil

	select {
	case <-exited:
		// Already gone.
	default:
		pid := cmd.Process.Pid
		output.Logger.Info("Stopping agent", "pid", pid)
		if err := terminate(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			output.Logger.Warn("Failed to signal agent", "pid", pid, "error", err)
		}

		s.mu.Unlock()
		select {
		case <-exited:
		case <-time.After(s.Config.GracePeriod):
			output.Logger.Warn("Agent did not stop politely, killing", "pid", pid)
			if err := kill(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
				output.Logger.Warn("Failed to kill agent", "pid", pid, "error", err)
			}
			select {
			case <-exited:
			case <-time.After(s.Config.KillWait):
				output.Logger.Error("Agent still running after kill", "pid", pid)
			}
		}
		s.mu.Lock()
	}

	s.closeOutput()
	return nil
}

// closeOutput lets the reader drain what the child wrote before it exited,
// then closes the pipe. Called with mu held.
func (s *Supervisor) closeOutput() {
	if s.out == nil {
		return
	}
	select {
	case <-s.readerDone:
	case <-time.After(time.Second):
		// A grandchild may still hold the write end open.
	}
	s.out.Close()
	s.out = nil
}

// Running reports whether a process handle is held.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// PID returns the current child PID or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Exited is closed when the most recently started process exits.
// It is nil before the first Start.
func (s *Supervisor) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// ExitErr returns the error cmd.Wait reported, if the process has exited.
func (s *Supervisor) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// Metrics returns a snapshot of the parsed records in emission order.
func (s *Supervisor) Metrics() []model.AgentMetric {
	return s.metrics.Snapshot()
}
