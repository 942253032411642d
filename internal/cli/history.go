/*
PURPOSE:
  Defines the 'history' subcommand.
  Lists previous runs stored in the sqlite history.

REQUIREMENTS:
  Implementation-discovered:
  - Quick comparison between agent builds without opening the database.

ARCHITECTURE INTEGRATION:
  - Calls: internal/output.History.Runs()

ERROR HANDLING:
  - Missing --history-db (and no history_db in config) is an error.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  voicebench history --history-db voicebench.db --limit 10

RELATED FILES:
  - internal/output/history.go
*/

package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/voicebench/internal/output"
)

var (
	historyPath  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previous benchmark runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if historyPath != "" {
			cfg.HistoryDB = historyPath
		}
		if cfg.HistoryDB == "" {
			return errors.New("no history database: pass --history-db or set history_db")
		}

		h, err := output.OpenHistory(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer h.Close()

		runs, err := h.Runs(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	},
}

func printRuns(w io.Writer, runs []output.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tAGENT\tANSWERED\tTOTAL\tNETWORK\tPROCESSING\tPEAK CPU\tPEAK MEM")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.DateTime), r.Agent, r.Answered, r.Stimuli,
			cell(r.TotalAvgS, "%.3fs"), cell(r.NetworkAvgS, "%.3fs"), cell(r.ProcessAvgS, "%.3fs"),
			cell(r.PeakCPU, "%.1f%%"), cell(r.PeakMemMB, "%.0fMB"),
		)
	}
	return tw.Flush()
}

func cell(v *float64, format string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf(format, *v)
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyPath, "history-db", "", "sqlite history file")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
}
