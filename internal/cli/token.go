package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/voicebench/internal/token"
)

var (
	tokenIdentity string
	tokenRoom     string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a room-join token for manual testing",
	Example: `  # Join the benchmark room from the LiveKit playground
  voicebench token --identity manual_tester`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if tokenRoom != "" {
			cfg.LiveKit.Room = tokenRoom
		}

		jwt, err := token.New(cfg.LiveKit, tokenIdentity, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), jwt)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenIdentity, "identity", "manual_tester", "Participant identity")
	tokenCmd.Flags().StringVar(&tokenRoom, "room", "", "LiveKit room name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", token.DefaultTTL, "Token validity")
}
