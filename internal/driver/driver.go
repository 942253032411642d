/*
PURPOSE:
  The synthetic end-user. Sends chat stimuli into the room and watches the
  active-speaker set for the agent's answer.

REQUIREMENTS:
  User-specified:
  - Wait for a remote participant (30s) or abort the run.
  - Per prompt: record send time, publish {"message","timestamp"} reliably on
    the chat topic, poll every 50ms up to 15s for an agent-like active
    speaker, record the response time, cool down 5s.
  - Stimuli are strictly sequential.

  Implementation-discovered:
  - The room is an interface so the loop can be tested without a server.
  - A publish failure is recorded as "no response" for that stimulus.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine, internal/cli (check)
  - Uses: internal/config, internal/model, internal/output

ERROR HANDLING:
  - ErrPeerTimeout when nobody joins.
  - ctx cancellation returns the results gathered so far plus ctx.Err().

IMPLEMENTATION RULES:
  - Every wait is bounded and takes ctx.

USAGE:
  d := driver.New(room, cfg.Driver)
  if err := d.AwaitPeer(ctx); err != nil { ... }
  results, err := d.RunStimuli(ctx, prompts)

SELF-HEALING INSTRUCTIONS:
  - All responses time out: check the agent identity matches one of
    driver.agent_identities and that it publishes audio.

RELATED FILES:
  - internal/driver/livekit.go

MAINTENANCE:
  - Concurrent stimuli are unsupported; the correlator depends on it.
*/

package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/model"
	"github.com/daryltucker/voicebench/internal/output"
)

var (
	ErrConnect     = errors.New("room connection failed")
	ErrPeerTimeout = errors.New("timed out waiting for a remote participant")
)

// Room is the part of a conferencing room the driver needs.
type Room interface {
	RemoteIdentities() []string
	ActiveSpeakers() []string
	PublishData(ctx context.Context, topic string, payload []byte) error
	Disconnect()
}

// Driver runs the stimulus loop against one room.
type Driver struct {
	Room   Room
	Config config.Driver

	// Now is the driver clock. Defaults to time.Now.
	Now func() time.Time

	// OnResult, if set, is called after every stimulus.
	OnResult func(model.StimulusResult)
}

// New creates a Driver.
func New(room Room, cfg config.Driver) *Driver {
	return &Driver{Room: room, Config: cfg, Now: time.Now}
}

// AwaitPeer blocks until at least one remote participant is in the room.
func (d *Driver) AwaitPeer(ctx context.Context) error {
	output.Logger.Info("Waiting for agent to join...")
	ok, err := pollUntil(ctx, d.Config.PeerTimeout, d.Config.PeerPoll, func() bool {
		return len(d.Room.RemoteIdentities()) > 0
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w after %s", ErrPeerTimeout, d.Config.PeerTimeout)
	}
	output.Logger.Info("Agent found", "participants", d.Room.RemoteIdentities())
	return nil
}

// FindAgent waits up to timeout for a participant whose identity looks like
// an agent and returns it.
func (d *Driver) FindAgent(ctx context.Context, timeout time.Duration) (string, error) {
	var found string
	ok, err := pollUntil(ctx, timeout, d.Config.PeerPoll, func() bool {
		for _, id := range d.Room.RemoteIdentities() {
			if d.isAgent(id) {
				found = id
				return true
			}
		}
		return false
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w after %s", ErrPeerTimeout, timeout)
	}
	return found, nil
}

// RunStimuli sends every prompt in order and records when the agent started
// answering. It never pipelines stimuli.
func (d *Driver) RunStimuli(ctx context.Context, prompts []string) ([]model.StimulusResult, error) {
	results := make([]model.StimulusResult, 0, len(prompts))

	// Give the agent's subscriptions a moment after it joined.
	if err := sleep(ctx, d.Config.Settle); err != nil {
		return results, err
	}

	for _, prompt := range prompts {
		res, err := d.stimulus(ctx, prompt)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if d.OnResult != nil {
			d.OnResult(res)
		}

		// Also after the last one, so samples cover the final answer.
		if err := sleep(ctx, d.Config.Cooldown); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (d *Driver) stimulus(ctx context.Context, prompt string) (model.StimulusResult, error) {
	output.Logger.Info("Sending stimulus", "prompt", prompt)

	sent := d.Now()
	payload, err := json.Marshal(model.ChatMessage{Message: prompt, Timestamp: sent.UnixMilli()})
	if err != nil {
		return model.StimulusResult{}, fmt.Errorf("encode stimulus: %w", err)
	}

	if err := d.Room.PublishData(ctx, d.Config.Topic, payload); err != nil {
		if ctx.Err() != nil {
			return model.StimulusResult{}, ctx.Err()
		}
		output.Logger.Error("Failed to publish stimulus", "prompt", prompt, "error", err)
		return model.NewStimulusResult(prompt, sent, nil), nil
	}

	var respondedAt time.Time
	ok, err := pollUntil(ctx, d.Config.ResponseTimeout, d.Config.ResponsePoll, func() bool {
		if d.agentSpeaking() {
			respondedAt = d.Now()
			return true
		}
		return false
	})
	if err != nil {
		return model.StimulusResult{}, err
	}
	if !ok {
		output.Logger.Warn("Timeout waiting for response", "prompt", prompt, "timeout", d.Config.ResponseTimeout)
		return model.NewStimulusResult(prompt, sent, nil), nil
	}

	res := model.NewStimulusResult(prompt, sent, &respondedAt)
	output.Logger.Info("Response detected", "prompt", prompt, "latency", res.TotalLatency.String())
	return res, nil
}

func (d *Driver) agentSpeaking() bool {
	for _, id := range d.Room.ActiveSpeakers() {
		if d.isAgent(id) {
			return true
		}
	}
	return false
}

func (d *Driver) isAgent(identity string) bool {
	for _, frag := range d.Config.AgentIdentities {
		if frag != "" && strings.Contains(identity, frag) {
			return true
		}
	}
	return false
}

// pollUntil evaluates cond immediately and then every interval until it is
// true (true, nil), timeout elapses (false, nil) or ctx ends (false, err).
func pollUntil(ctx context.Context, timeout, interval time.Duration, cond func() bool) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if cond() {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return cond(), nil
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
