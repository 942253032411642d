/*
PURPOSE:
  Defines the 'run' subcommand.
  Executes one benchmark run against an agent.

REQUIREMENTS:
  User-specified:
  - Required path to the agent entry point.
  - Zero or more repeatable --text prompts (two built-in prompts otherwise).
  - Ctrl-C stops the run cleanly: the agent is terminated, completed
    stimuli are still reported.

  Implementation-discovered:
  - Need to load config first.
  - Apply flag overrides to config.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run()
  - Uses: internal/config

ERROR HANDLING:
  - Returns error if config load fails or engine run fails.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Engine.Run.
  - Signals only cancel the context. Cleanup belongs to the engine.

USAGE:
  voicebench run --agent agent/main.py --text "Hello?"

SELF-HEALING INSTRUCTIONS:
  - Check flag names match Config struct fields generally.

RELATED FILES:
  - internal/cli/root.go
  - internal/engine/runner.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/engine"
)

var (
	agentPath         string
	textPrompts       []string
	roomOverride      string
	urlOverride       string
	outputOverride    string
	toleranceOverride time.Duration
	historyOverride   string
	metricsAddr       string
	warmupOverride    time.Duration
	quietAgent        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the latency benchmark against an agent",
	Long: `Starts the agent as a child process, waits for it to join the room, sends each
prompt as a chat message and measures how long the agent takes to start
speaking. The agent's own [METRIC] lines split that time into network uplink
and processing.

The run aborts without a report if the room cannot be reached, the agent never
joins, or the agent process exits before the last prompt.`,
	Example: `  # Python agent, default prompts
  voicebench run --agent agent/main.py

  # Custom prompts, results to ./bench
  voicebench run --agent ./mock-agent --text "Hi" --text "Tell me a joke" -o ./bench

  # Compare against earlier runs
  voicebench run --agent agent/main.py --history-db voicebench.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyRunOverrides(cmd, cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return engine.Run(ctx, cfg, agentPath)
	},
}

func applyRunOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if agentPath == "" {
		return errors.New("--agent is required")
	}
	if len(textPrompts) > 0 {
		cfg.Prompts = textPrompts
	}
	if roomOverride != "" {
		cfg.LiveKit.Room = roomOverride
	}
	if urlOverride != "" {
		cfg.LiveKit.URL = urlOverride
	}
	if outputOverride != "" {
		cfg.OutputDir = outputOverride
	}
	if historyOverride != "" {
		cfg.HistoryDB = historyOverride
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if cmd.Flags().Changed("tolerance") {
		cfg.Tolerance = toleranceOverride
	}
	if cmd.Flags().Changed("warmup") {
		cfg.Supervisor.Warmup = warmupOverride
	}
	if quietAgent {
		cfg.Supervisor.Echo = false
	}
	return cfg.Validate()
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&agentPath, "agent", "a", "", "Agent entry point (.py runs with python3 -u <path> dev; anything else is executed)")
	runCmd.Flags().StringArrayVarP(&textPrompts, "text", "t", nil, "Prompt to send (repeatable; default: two built-in prompts)")
	runCmd.Flags().StringVar(&roomOverride, "room", "", "LiveKit room name")
	runCmd.Flags().StringVar(&urlOverride, "url", "", "LiveKit server URL")
	runCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for results (CSV/JSONL)")
	runCmd.Flags().DurationVar(&toleranceOverride, "tolerance", 200*time.Millisecond, "Correlation window between send time and agent receive time")
	runCmd.Flags().StringVar(&historyOverride, "history-db", "", "sqlite file to append the run summary to")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9108)")
	runCmd.Flags().DurationVar(&warmupOverride, "warmup", 10*time.Second, "Wait after starting the agent before connecting")
	runCmd.Flags().BoolVarP(&quietAgent, "quiet-agent", "q", false, "Do not echo the agent's output")
	_ = runCmd.MarkFlagRequired("agent")
}

