/*
PURPOSE:
  Pre-flight check: join the benchmark room and report whether an agent is
  in it, without starting or stopping anything.

REQUIREMENTS:
  User-specified:
  - Useful validation step before a full run.
  - Same identity matching the driver uses to detect the agent.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (check)
  - Uses: internal/driver

ERROR HANDLING:
  - Connection failure is returned (driver.ErrConnect).
  - No agent within the timeout returns driver.ErrPeerTimeout together with
    the participants that were seen.

USAGE:
  res, err := engine.Check(ctx, cfg, engine.DialLiveKit, 10*time.Second)

SELF-HEALING INSTRUCTIONS:
  - Participants listed but no agent: the agent identity does not contain
    any of driver.agent_identities.

RELATED FILES:
  - internal/engine/runner.go
*/

package engine

import (
	"context"
	"time"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/driver"
	"github.com/daryltucker/voicebench/internal/output"
)

// CheckIdentity is the participant the check joins as, so it never collides
// with a running benchmark driver.
const CheckIdentity = "bench_check"

// CheckResult is what Check saw in the room.
type CheckResult struct {
	Participants []string
	Agent        string // empty when none matched
}

// Check joins the configured room and waits up to timeout for an agent.
func Check(ctx context.Context, cfg *config.Config, dial Dialer, timeout time.Duration) (CheckResult, error) {
	if dial == nil {
		dial = DialLiveKit
	}
	output.Logger.Info("Connecting", "url", cfg.LiveKit.URL, "room", cfg.LiveKit.Room)

	room, err := dial(ctx, cfg.LiveKit, CheckIdentity)
	if err != nil {
		return CheckResult{}, err
	}
	defer room.Disconnect()

	d := driver.New(room, cfg.Driver)
	agent, err := d.FindAgent(ctx, timeout)
	return CheckResult{Participants: room.RemoteIdentities(), Agent: agent}, err
}
