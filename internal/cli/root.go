/*
PURPOSE:
  Defines the root Cobra command for the voicebench CLI.
  Handles global flags and command initialization.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Log level/format must be applied before any subcommand logs.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/voicebench/main.go
  - Calls: Child commands (run, check, token, history)
  - Modifies: output.Logger (PersistentPreRunE).

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands, Root is usually empty or helps.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to init().

RELATED FILES:
  - cmd/voicebench/main.go
  - internal/output/logger.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile   string
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:   "voicebench",
		Short: "Latency and resource benchmark for real-time voice agents",
		Long: `voicebench starts a voice agent, drives a synthetic conversation at it through
a LiveKit room and reports where the response time goes: network uplink,
agent processing and total time to first speech, plus the agent's CPU,
memory and GPU usage. Use 'run --help' for benchmark options.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return output.Configure(os.Stderr, logLevel, logFormat)
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the file named by --config (or the default search path).
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./voicebench.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
}
