/*
PURPOSE:
  Reference target for voicebench. A scripted "voice agent" that joins the
  benchmark room, prints [METRIC] lines for every chat stimulus and every
  state change, and answers after a fixed delay.

REQUIREMENTS:
  User-specified:
  - Startable as a single child process, exits on SIGTERM within the grace
    period.
  - AGENT_RECEIVED on stimulus arrival, AGENT_STATE on change (polled).

  Implementation-discovered:
  - Without --speech the agent never publishes audio, so the driver sees no
    active speaker and every stimulus times out externally. The metric lines
    are still complete. Pass an Ogg/Opus file to make it audible.
  - Accepts and ignores positional args so it can stand in for agents
    started as `<entry> dev`.

ARCHITECTURE INTEGRATION:
  - Uses: internal/emitter, internal/token, internal/config
  - Started by: internal/supervisor (voicebench run --agent ./mock-agent)

ERROR HANDLING:
  - Connection failure exits 1. Everything after that is logged.

IMPLEMENTATION RULES:
  - Metrics go to stdout, logs to stderr.

USAGE:
  go build -o mock-agent ./cmd/mock-agent
  voicebench run --agent "./mock-agent --think 400ms --speech hello.ogg"

SELF-HEALING INSTRUCTIONS:
  - Not detected as the agent: keep "agent" in --identity.

RELATED FILES:
  - cmd/mock-agent/agent.go
  - internal/emitter/emitter.go

MAINTENANCE:
  - None.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/spf13/cobra"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/emitter"
	"github.com/daryltucker/voicebench/internal/output"
	"github.com/daryltucker/voicebench/internal/token"
)

var (
	cfgFile    string
	identity   string
	roomName   string
	url        string
	thinkDelay time.Duration
	speakFor   time.Duration
	speechFile string
)

var rootCmd = &cobra.Command{
	Use:          "mock-agent",
	Short:        "Scripted voice agent that speaks the voicebench metric protocol",
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		lk := cfg.LiveKit
		if roomName != "" {
			lk.Room = roomName
		}
		if url != "" {
			lk.URL = url
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, lk, cfg.Driver.Topic)
	},
}

func run(ctx context.Context, lk config.LiveKit, topic string) error {
	a := newAgent(emitter.New(os.Stdout), thinkDelay, speakFor)

	jwt, err := token.New(lk, identity, 0)
	if err != nil {
		return err
	}

	cb := lksdk.NewRoomCallback()
	cb.OnDataPacket = func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
		pkt, ok := data.(*lksdk.UserDataPacket)
		if !ok || pkt.Topic != topic {
			return
		}
		output.Logger.Debug("Stimulus received", "from", params.SenderIdentity, "bytes", len(pkt.Payload))
		a.OnMessage(pkt.Payload)
	}

	room, err := lksdk.ConnectToRoomWithToken(lk.URL, jwt, cb)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", lk.URL, err)
	}
	defer room.Disconnect()
	output.Logger.Info("Mock agent joined", "room", lk.Room, "identity", identity)

	if speechFile != "" {
		a.speaker = &fileSpeaker{room: room, path: speechFile}
	}

	a.Run(ctx)
	output.Logger.Info("Mock agent stopping")
	return nil
}

// fileSpeaker publishes an Ogg/Opus file as a microphone track for the
// duration of each answer.
type fileSpeaker struct {
	room *lksdk.Room
	path string

	mu  sync.Mutex
	sid string
}

func (s *fileSpeaker) StartSpeaking() error {
	track, err := lksdk.NewLocalFileTrack(s.path)
	if err != nil {
		return err
	}
	pub, err := s.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "mock-agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sid = pub.SID()
	s.mu.Unlock()
	return nil
}

func (s *fileSpeaker) StopSpeaking() error {
	s.mu.Lock()
	sid := s.sid
	s.sid = ""
	s.mu.Unlock()
	if sid == "" {
		return nil
	}
	return s.room.LocalParticipant.UnpublishTrack(sid)
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "voicebench config file for LiveKit credentials")
	rootCmd.Flags().StringVar(&identity, "identity", "agent-mock", "Participant identity")
	rootCmd.Flags().StringVar(&roomName, "room", "", "LiveKit room name")
	rootCmd.Flags().StringVar(&url, "url", "", "LiveKit server URL")
	rootCmd.Flags().DurationVar(&thinkDelay, "think", 300*time.Millisecond, "Delay between a stimulus and speaking")
	rootCmd.Flags().DurationVar(&speakFor, "speak", 2*time.Second, "How long each answer lasts")
	rootCmd.Flags().StringVar(&speechFile, "speech", "", "Ogg/Opus file to publish while speaking")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
