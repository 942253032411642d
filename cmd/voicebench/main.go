/*
PURPOSE:
  voicebench binary. Measures how fast a LiveKit voice agent answers: it
  starts the agent, talks to it over the room and prints where the latency
  went (network, agent processing, total) plus the agent's resource usage.

REQUIREMENTS:
  User-specified:
  - One binary for run, check, token and history.
  - Non-zero exit when a run aborts (no peer, agent died, bad config).

ARCHITECTURE INTEGRATION:
  - Calls: internal/cli.Execute()

ERROR HANDLING:
  - The command's error is printed once as "Error: ..." and the process
    exits 1. Cobra's own usage dump is silenced in internal/cli/root.go.

USAGE:
  go build -o voicebench ./cmd/voicebench
  ./voicebench run --agent agent/main.py
  ./voicebench check

RELATED FILES:
  - internal/cli/root.go
  - cmd/mock-agent/main.go (a target to run against)
*/

package main

import (
	"fmt"
	"os"

	"github.com/daryltucker/voicebench/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
