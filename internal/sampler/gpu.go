package sampler

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// GPUProbe reports GPU utilisation (percent) and the GPU memory (MB) used by
// pid. Either value is nil when unavailable.
type GPUProbe interface {
	Sample(pid int) (util, memMB *float64)
}

// NvidiaSMI queries nvidia-smi. A missing binary, a non-zero exit or
// unparseable output all mean "unavailable".
type NvidiaSMI struct {
	Path    string
	Timeout time.Duration
}

func NewNvidiaSMI() *NvidiaSMI {
	return &NvidiaSMI{Path: "nvidia-smi", Timeout: 2 * time.Second}
}

func (n *NvidiaSMI) Sample(pid int) (util, memMB *float64) {
	if out, err := n.run("--query-compute-apps=pid,used_memory", "--format=csv,noheader,nounits"); err == nil {
		memMB = parseComputeApps(out, pid)
	}
	if out, err := n.run("--query-gpu=utilization.gpu", "--format=csv,noheader,nounits"); err == nil {
		util = parseUtilization(out)
	}
	return util, memMB
}

func (n *NvidiaSMI) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.Timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, n.Path, args...).Output()
	return string(out), err
}

// parseComputeApps reads "pid, used_memory" rows. nvidia-smi answering but not
// listing pid means the process holds no GPU memory: 0, not unavailable.
func parseComputeApps(out string, pid int) *float64 {
	var total float64
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		p, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || p != pid {
			continue
		}
		mb, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		// One row per GPU the process uses.
		total += mb
	}
	return &total
}

// parseUtilization returns the busiest GPU's utilisation.
func parseUtilization(out string) *float64 {
	var best *float64
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			continue
		}
		if best == nil || v > *best {
			v := v
			best = &v
		}
	}
	return best
}
