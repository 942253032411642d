package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daryltucker/voicebench/internal/emitter"
	"github.com/daryltucker/voicebench/internal/output"
)

const (
	stateListening = "listening"
	stateThinking  = "thinking"
	stateSpeaking  = "speaking"
)

// Speaker makes the agent audible in the room while it is speaking.
type Speaker interface {
	StartSpeaking() error
	StopSpeaking() error
}

// agent is a scripted voice agent: every chat message is answered after
// Think, and the answer lasts Speak.
type agent struct {
	em      *emitter.Emitter
	speaker Speaker // optional
	think   time.Duration
	speak   time.Duration

	state   atomic.Value // string
	pending chan struct{}
	wg      sync.WaitGroup
}

func newAgent(em *emitter.Emitter, think, speak time.Duration) *agent {
	a := &agent{
		em:      em,
		think:   think,
		speak:   speak,
		pending: make(chan struct{}, 16),
	}
	a.state.Store(stateListening)
	return a
}

// State implements emitter.StateReader.
func (a *agent) State() string {
	return a.state.Load().(string)
}

func (a *agent) setState(s string) {
	a.state.Store(s)
}

// OnMessage is called for every stimulus payload.
func (a *agent) OnMessage(payload []byte) {
	a.em.Received(payload)
	select {
	case a.pending <- struct{}{}:
	default:
		output.Logger.Warn("Too many queued messages, dropping one")
	}
}

// Run answers queued messages one at a time and watches the state until ctx
// ends.
func (a *agent) Run(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.em.WatchState(ctx, a)
	}()

	defer a.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.pending:
			a.respond(ctx)
		}
	}
}

func (a *agent) respond(ctx context.Context) {
	a.setState(stateThinking)
	if !wait(ctx, a.think) {
		return
	}

	a.setState(stateSpeaking)
	if a.speaker != nil {
		if err := a.speaker.StartSpeaking(); err != nil {
			output.Logger.Error("Failed to start speaking", "error", err)
		}
	}
	ok := wait(ctx, a.speak)
	if a.speaker != nil {
		if err := a.speaker.StopSpeaking(); err != nil {
			output.Logger.Error("Failed to stop speaking", "error", err)
		}
	}
	if ok {
		a.setState(stateListening)
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
