/*
PURPOSE:
  Defines the 'check' subcommand.
  Verifies the room is reachable and an agent is in it before a full run.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Check()

ERROR HANDLING:
  - Non-zero exit when the room is unreachable or no agent shows up.

USAGE:
  voicebench check --timeout 10s
*/

package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/voicebench/internal/driver"
	"github.com/daryltucker/voicebench/internal/engine"
)

var (
	checkTimeout time.Duration
	checkRoom    string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that an agent is connected to the benchmark room",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if checkRoom != "" {
			cfg.LiveKit.Room = checkRoom
		}

		out := cmd.OutOrStdout()
		res, err := engine.Check(cmd.Context(), cfg, engine.DialLiveKit, checkTimeout)
		for _, p := range res.Participants {
			fmt.Fprintf(out, "Participant: %s\n", p)
		}
		if errors.Is(err, driver.ErrPeerTimeout) {
			fmt.Fprintf(out, "\nFAILURE: Agent did not connect within %s.\n", checkTimeout)
			return err
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nSUCCESS: Agent %s connected to room %s.\n", res.Agent, cfg.LiveKit.Room)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "How long to wait for an agent")
	checkCmd.Flags().StringVar(&checkRoom, "room", "", "LiveKit room name")
}
