/*
PURPOSE:
  Prints the end-of-run report: latency breakdown table and system usage.

REQUIREMENTS:
  User-specified:
  - Rows: network uplink, agent processing, total response. Avg/Min/Max.
  - "N/A" for a series without samples, never a division by zero.
  - System usage only when the sampler produced anything.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Consumes: internal/model.Report

ERROR HANDLING:
  - Returns the first write error.

USAGE:
  output.WriteReport(os.Stdout, rep)

RELATED FILES:
  - internal/correlate/aggregate.go
*/

package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/daryltucker/voicebench/internal/model"
)

const (
	ruleWidth = 60
	na        = "N/A"
)

// WriteReport renders rep as plain text.
func WriteReport(w io.Writer, rep model.Report) error {
	rw := &reportWriter{w: w}
	rule := strings.Repeat("=", ruleWidth)

	answered := 0
	for _, s := range rep.Stimuli {
		if s.Total != nil {
			answered++
		}
	}

	rw.printf("\n%s\n", rule)
	rw.printf("BENCHMARK RESULTS - LATENCY BREAKDOWN\n")
	rw.printf("%s\n", rule)
	if rep.RunID != "" {
		rw.printf("Run:      %s\n", rep.RunID)
	}
	rw.printf("Stimuli:  %d sent, %d answered\n\n", len(rep.Stimuli), answered)

	rw.printf("%-30s | %-8s | %-8s | %-8s\n", "Metric", "Avg", "Min", "Max")
	rw.printf("%s\n", strings.Repeat("-", ruleWidth))
	rw.stat("Network uplink", rep.Network)
	rw.stat("Agent processing", rep.Processing)
	rw.stat("Total response", rep.Total)

	if sys := rep.System; sys.Samples > 0 {
		rw.printf("\n%s\n", rule)
		rw.printf("SYSTEM USAGE (%d samples)\n", sys.Samples)
		rw.printf("%s\n", rule)
		rw.printf("CPU Usage (avg): %.1f%%\n", sys.AvgCPU)
		rw.printf("CPU Usage (max): %.1f%%\n", sys.PeakCPU)
		rw.printf("Memory (avg):    %.1f MB\n", sys.AvgMemMB)
		rw.printf("Memory (max):    %.1f MB\n", sys.PeakMemMB)
		if sys.PeakGPUMemMB != nil {
			rw.printf("GPU Mem (max):   %.1f MB\n", *sys.PeakGPUMemMB)
		} else {
			rw.printf("GPU Mem:         %s\n", na)
		}
	}
	return rw.err
}

// FormatStat renders one series as avg, min and max cells.
func FormatStat(st model.Stat) (avg, min, max string) {
	if !st.Available() {
		return na, na, na
	}
	return seconds(st.Mean), seconds(st.Min), seconds(st.Max)
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f s", d.Seconds())
}

type reportWriter struct {
	w   io.Writer
	err error
}

func (rw *reportWriter) printf(format string, args ...any) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}

func (rw *reportWriter) stat(name string, st model.Stat) {
	avg, min, max := FormatStat(st)
	rw.printf("%-30s | %-8s | %-8s | %-8s\n", name, avg, min, max)
}
