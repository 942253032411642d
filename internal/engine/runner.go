/*
PURPOSE:
  Orchestrates one benchmark run.
  Supervisor -> sampler -> driver -> correlator -> reporter.

REQUIREMENTS:
  User-specified:
  - Start the agent, sample it, drive stimuli at it, then report the
    latency breakdown and resource usage.
  - Connection failure, peer timeout and an agent that dies mid-run abort
    the run with no report.
  - Cleanup (sampler stop, agent stop) runs exactly once whatever path
    triggers it: normal return, error, signal.

  Implementation-discovered:
  - Warm-up wait before connecting so the agent has registered with the
    server. Without it the first stimulus lands before the agent subscribes.
  - Sampler and supervisor are stopped before correlating so the reader has
    drained the agent's last lines.
  - Ctrl-C reports whatever stimuli completed instead of throwing them away.
  - --room/--url only reach the driver's config, so the agent gets them as
    VOICEBENCH_ROOM / LIVEKIT_* (AgentEnv). Otherwise both sides can end up
    in different rooms and the run dies on peer timeout.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (run)
  - Uses: internal/supervisor, internal/sampler, internal/driver,
    internal/correlate, internal/output, internal/telemetry

ERROR HANDLING:
  - Fatal errors are returned wrapped.
  - Output file and history failures are logged; the report still prints.

IMPLEMENTATION RULES:
  - The driver phase and the agent watchdog share one errgroup; whichever
    fails first cancels the other.
  - Signal handling only cancels ctx (see internal/cli/run.go).

USAGE:
  err := engine.Run(ctx, cfg, "agent/main.py")

SELF-HEALING INSTRUCTIONS:
  - "agent exited": run the agent by hand with the same command; it most
    likely crashed on missing credentials.
  - Peer timeout: the agent never joined the room. Check --room and warmup.

RELATED FILES:
  - internal/engine/check.go
  - internal/cli/run.go

MAINTENANCE:
  - New outputs go in writeOutputs.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/correlate"
	"github.com/daryltucker/voicebench/internal/driver"
	"github.com/daryltucker/voicebench/internal/model"
	"github.com/daryltucker/voicebench/internal/output"
	"github.com/daryltucker/voicebench/internal/sampler"
	"github.com/daryltucker/voicebench/internal/supervisor"
	"github.com/daryltucker/voicebench/internal/telemetry"
)

// ErrAgentExited means the supervised agent died before the run finished.
var ErrAgentExited = errors.New("agent exited during the run")

// Output file names inside Config.OutputDir.
const (
	CSVFile  = "results.csv"
	JSONFile = "results.jsonl"
)

// Dialer joins the room as identity.
type Dialer func(ctx context.Context, lk config.LiveKit, identity string) (driver.Room, error)

// DialLiveKit is the production Dialer.
func DialLiveKit(ctx context.Context, lk config.LiveKit, identity string) (driver.Room, error) {
	room, err := driver.Connect(ctx, lk, identity)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// AgentEnv is the environment that puts the agent in the same room as the
// driver. Empty credentials are left to the agent's own environment.
func AgentEnv(lk config.LiveKit) []string {
	env := []string{"VOICEBENCH_ROOM=" + lk.Room}
	for _, kv := range [][2]string{
		{"LIVEKIT_URL", lk.URL},
		{"LIVEKIT_API_KEY", lk.APIKey},
		{"LIVEKIT_API_SECRET", lk.APISecret},
	} {
		if kv[1] != "" {
			env = append(env, kv[0]+"="+kv[1])
		}
	}
	return env
}

// Runner holds everything one run needs. Zero-value fields get defaults in
// Run.
type Runner struct {
	Config  *config.Config
	Command []string
	Env     []string // extra agent environment, after AgentEnv
	Label   string   // what the history records as the agent

	Dial      Dialer
	Out       io.Writer // report destination, default os.Stdout
	Telemetry *telemetry.Collector
}

// NewRunner builds a Runner for the --agent argument.
func NewRunner(cfg *config.Config, agent string) *Runner {
	return &Runner{
		Config:  cfg,
		Command: supervisor.BuildCommand(agent),
		Label:   agent,
		Dial:    DialLiveKit,
		Out:     os.Stdout,
	}
}

// Run executes the full benchmark against agent.
func Run(ctx context.Context, cfg *config.Config, agent string) error {
	r := NewRunner(cfg, agent)
	if cfg.MetricsAddr != "" {
		r.Telemetry = telemetry.NewCollector("voicebench")
	}
	_, err := r.Run(ctx)
	return err
}

// Run executes the benchmark and returns the printed report.
func (r *Runner) Run(ctx context.Context) (model.Report, error) {
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return model.Report{}, err
	}
	if r.Dial == nil {
		r.Dial = DialLiveKit
	}
	if r.Out == nil {
		r.Out = os.Stdout
	}
	prompts := cfg.Prompts
	if len(prompts) == 0 {
		prompts = config.DefaultPrompts
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	output.Logger.Info("Starting benchmark run", "run_id", runID, "prompts", len(prompts))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MetricsAddr != "" && r.Telemetry != nil {
		go func() {
			if err := r.Telemetry.Serve(runCtx, cfg.MetricsAddr); err != nil {
				output.Logger.Warn("Metrics endpoint failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	sup := supervisor.New(r.Command, cfg.Supervisor)
	sup.Env = append(AgentEnv(cfg.LiveKit), r.Env...)
	sup.OnMetric = r.Telemetry.ObserveAgentMetric

	var (
		smp  *sampler.Sampler
		once sync.Once
	)
	cleanup := func() {
		once.Do(func() {
			output.Logger.Info("Cleaning up")
			if smp != nil {
				smp.Stop()
			}
			if err := sup.Stop(); err != nil {
				output.Logger.Warn("Failed to stop agent", "error", err)
			}
			r.Telemetry.SetAgentUp(false)
		})
	}
	defer cleanup()

	pid, err := sup.Start()
	if err != nil {
		return model.Report{}, err
	}
	r.Telemetry.SetAgentUp(true)
	output.Logger.Info("Agent started", "pid", pid)

	smp = sampler.New(pid, cfg.Sampler)
	smp.OnSample = r.Telemetry.ObserveSample
	smp.Start()

	results, err := r.drive(runCtx, sup, prompts)
	if err != nil {
		if !errors.Is(err, context.Canceled) || ctx.Err() == nil {
			return model.Report{}, err
		}
		output.Logger.Warn("Interrupted, reporting completed stimuli", "completed", len(results))
	}

	cleanup()

	rep := correlate.Build(results, sup.Metrics(), smp.Samples(), correlate.Options{Tolerance: cfg.Tolerance})
	rep.RunID = runID
	rep.StartedAt = startedAt

	if err := output.WriteReport(r.Out, rep); err != nil {
		return rep, fmt.Errorf("failed to print report: %w", err)
	}
	r.writeOutputs(context.WithoutCancel(ctx), rep)
	return rep, nil
}

// drive runs the driver phase next to a watchdog on the agent process.
func (r *Runner) drive(ctx context.Context, sup *supervisor.Supervisor, prompts []string) ([]model.StimulusResult, error) {
	cfg := r.Config
	g, gctx := errgroup.WithContext(ctx)
	driving, finished := context.WithCancel(gctx)
	exited := sup.Exited()

	g.Go(func() error {
		select {
		case <-exited:
			if err := sup.ExitErr(); err != nil {
				return fmt.Errorf("%w: %v", ErrAgentExited, err)
			}
			return ErrAgentExited
		case <-driving.Done():
			return nil
		}
	})

	var results []model.StimulusResult
	g.Go(func() error {
		defer finished()

		if cfg.Supervisor.Warmup > 0 {
			output.Logger.Info("Waiting for agent to warm up", "warmup", cfg.Supervisor.Warmup)
			select {
			case <-driving.Done():
				return driving.Err()
			case <-time.After(cfg.Supervisor.Warmup):
			}
		}

		room, err := r.Dial(driving, cfg.LiveKit, cfg.LiveKit.Identity)
		if err != nil {
			return err
		}
		defer room.Disconnect()

		d := driver.New(room, cfg.Driver)
		d.OnResult = r.Telemetry.ObserveStimulus
		if err := d.AwaitPeer(driving); err != nil {
			return err
		}
		results, err = d.RunStimuli(driving, prompts)
		return err
	})

	err := g.Wait()
	return results, err
}

func (r *Runner) writeOutputs(ctx context.Context, rep model.Report) {
	cfg := r.Config

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			output.Logger.Error("Failed to create output directory", "dir", cfg.OutputDir, "error", err)
		} else {
			r.writeFiles(rep)
		}
	}

	if cfg.HistoryDB != "" {
		h, err := output.OpenHistory(cfg.HistoryDB)
		if err != nil {
			output.Logger.Error("Failed to open history", "path", cfg.HistoryDB, "error", err)
			return
		}
		defer h.Close()
		meta := output.RunMeta{Agent: r.Label, Room: cfg.LiveKit.Room}
		if err := h.SaveRun(ctx, meta, rep); err != nil {
			output.Logger.Error("Failed to save run to history", "path", cfg.HistoryDB, "error", err)
			return
		}
		output.Logger.Info("Run saved to history", "path", cfg.HistoryDB, "run_id", rep.RunID)
	}
}

func (r *Runner) writeFiles(rep model.Report) {
	csvPath := filepath.Join(r.Config.OutputDir, CSVFile)
	csvWriter, err := output.NewCSVWriter(csvPath)
	if err != nil {
		output.Logger.Error("Failed to init CSV writer", "path", csvPath, "error", err)
		return
	}
	defer csvWriter.Close()

	jsonPath := filepath.Join(r.Config.OutputDir, JSONFile)
	jsonWriter, err := output.NewJSONWriter(jsonPath)
	if err != nil {
		output.Logger.Error("Failed to init JSON writer", "path", jsonPath, "error", err)
		return
	}
	defer jsonWriter.Close()

	for _, b := range rep.Stimuli {
		if err := csvWriter.Write(rep.RunID, b); err != nil {
			output.Logger.Error("Failed to write result to CSV", "error", err)
		}
		if err := jsonWriter.Write(rep.RunID, b); err != nil {
			output.Logger.Error("Failed to write result to JSON", "error", err)
		}
	}
	output.Logger.Info("Results written", "csv", csvPath, "jsonl", jsonPath)
}
