package driver

import (
	"context"
	"fmt"
	"sync/atomic"

	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/output"
	"github.com/daryltucker/voicebench/internal/token"
)

// LiveKitRoom adapts an lksdk.Room to Room.
type LiveKitRoom struct {
	room *lksdk.Room

	// Written by the SDK callback goroutine, read by the driver loop.
	speakers atomic.Pointer[[]string]
}

// Connect joins lk.Room as identity. Failure wraps ErrConnect and is not
// retried.
func Connect(ctx context.Context, lk config.LiveKit, identity string) (*LiveKitRoom, error) {
	jwt, err := token.New(lk, identity, token.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	r := &LiveKitRoom{}
	empty := []string{}
	r.speakers.Store(&empty)

	cb := lksdk.NewRoomCallback()
	cb.OnActiveSpeakersChanged = r.setSpeakers
	cb.OnParticipantConnected = func(rp *lksdk.RemoteParticipant) {
		output.Logger.Info("Participant connected", "identity", rp.Identity())
	}
	cb.OnParticipantDisconnected = func(rp *lksdk.RemoteParticipant) {
		output.Logger.Info("Participant disconnected", "identity", rp.Identity())
	}
	cb.OnDisconnected = func() {
		output.Logger.Info("Disconnected from room", "room", lk.Room)
	}

	type result struct {
		room *lksdk.Room
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(lk.URL, jwt, cb, lksdk.WithAutoSubscribe(false))
		ch <- result{room, err}
	}()

	select {
	case <-ctx.Done():
		// Don't leak a late connection.
		go func() {
			if res := <-ch; res.err == nil {
				res.room.Disconnect()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrConnect, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConnect, lk.URL, res.err)
		}
		r.room = res.room
	}

	output.Logger.Info("Connected to room", "room", lk.Room, "identity", identity)
	return r, nil
}

func (r *LiveKitRoom) setSpeakers(speakers []lksdk.Participant) {
	ids := make([]string, 0, len(speakers))
	for _, p := range speakers {
		ids = append(ids, p.Identity())
	}
	r.speakers.Store(&ids)
}

// RemoteIdentities lists the identities of everyone else in the room.
func (r *LiveKitRoom) RemoteIdentities() []string {
	rps := r.room.GetRemoteParticipants()
	ids := make([]string, 0, len(rps))
	for _, rp := range rps {
		ids = append(ids, rp.Identity())
	}
	return ids
}

// ActiveSpeakers returns the identities from the last speaker update.
func (r *LiveKitRoom) ActiveSpeakers() []string {
	return *r.speakers.Load()
}

// PublishData sends a reliable data packet on topic.
func (r *LiveKitRoom) PublishData(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.room.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishTopic(topic),
		lksdk.WithDataPublishReliable(true),
	)
}

// Disconnect leaves the room.
func (r *LiveKitRoom) Disconnect() {
	if r.room != nil {
		r.room.Disconnect()
	}
}
