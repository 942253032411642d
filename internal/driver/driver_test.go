package driver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/voicebench/internal/config"
	"github.com/daryltucker/voicebench/internal/model"
)

type fakeRoom struct {
	mu         sync.Mutex
	remotes    []string
	speakers   []string
	topics     []string
	messages   []model.ChatMessage
	publishErr error

	// onPublish runs after each successful publish, outside the lock.
	onPublish func(model.ChatMessage)
}

func (f *fakeRoom) RemoteIdentities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.remotes...)
}

func (f *fakeRoom) ActiveSpeakers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.speakers...)
}

func (f *fakeRoom) PublishData(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	if f.publishErr != nil {
		f.mu.Unlock()
		return f.publishErr
	}
	var msg model.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.mu.Unlock()
		return err
	}
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, msg)
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

func (f *fakeRoom) Disconnect() {}

func (f *fakeRoom) setSpeakers(ids ...string) {
	f.mu.Lock()
	f.speakers = ids
	f.mu.Unlock()
}

func (f *fakeRoom) setRemotes(ids ...string) {
	f.mu.Lock()
	f.remotes = ids
	f.mu.Unlock()
}

func testConfig() config.Driver {
	cfg := config.DefaultConfig().Driver
	cfg.PeerTimeout = 200 * time.Millisecond
	cfg.PeerPoll = 10 * time.Millisecond
	cfg.Settle = 0
	cfg.ResponseTimeout = 300 * time.Millisecond
	cfg.ResponsePoll = 5 * time.Millisecond
	cfg.Cooldown = 10 * time.Millisecond
	return cfg
}

// respondAfter makes the agent show up as active speaker delay after every
// stimulus.
func respondAfter(room *fakeRoom, identity string, delay time.Duration) {
	room.onPublish = func(model.ChatMessage) {
		room.setSpeakers()
		time.AfterFunc(delay, func() { room.setSpeakers(identity) })
	}
}

func TestAwaitPeer_Timeout(t *testing.T) {
	d := New(&fakeRoom{}, testConfig())

	start := time.Now()
	err := d.AwaitPeer(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPeerTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestAwaitPeer_LateJoin(t *testing.T) {
	room := &fakeRoom{}
	d := New(room, testConfig())
	time.AfterFunc(50*time.Millisecond, func() { room.setRemotes("agent-xyz") })

	require.NoError(t, d.AwaitPeer(context.Background()))
}

func TestAwaitPeer_Cancelled(t *testing.T) {
	cfg := testConfig()
	cfg.PeerTimeout = time.Minute
	d := New(&fakeRoom{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	err := d.AwaitPeer(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindAgent(t *testing.T) {
	room := &fakeRoom{remotes: []string{"someone", "tavus-replica-1"}}
	d := New(room, testConfig())

	id, err := d.FindAgent(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "tavus-replica-1", id)

	room.setRemotes("someone")
	_, err = d.FindAgent(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrPeerTimeout)
}

func TestRunStimuli_Responses(t *testing.T) {
	room := &fakeRoom{remotes: []string{"agent-AJ_1"}}
	respondAfter(room, "agent-AJ_1", 40*time.Millisecond)

	d := New(room, testConfig())
	var hooked []model.StimulusResult
	d.OnResult = func(r model.StimulusResult) { hooked = append(hooked, r) }

	prompts := []string{"Hello, are you there?", "What is the capital of France?"}
	results, err := d.RunStimuli(context.Background(), prompts)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results, hooked)

	for i, res := range results {
		assert.Equal(t, prompts[i], res.Prompt)
		require.True(t, res.Responded(), "stimulus %d", i)
		require.NotNil(t, res.TotalLatency)
		assert.Equal(t, res.ResponseAt.Sub(res.SentAt), *res.TotalLatency)
		assert.GreaterOrEqual(t, *res.TotalLatency, 40*time.Millisecond)
		assert.Less(t, *res.TotalLatency, 300*time.Millisecond)
	}
	assert.True(t, results[1].SentAt.After(*results[0].ResponseAt))

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, []string{"lk-chat-topic", "lk-chat-topic"}, room.topics)
	for i, msg := range room.messages {
		assert.Equal(t, prompts[i], msg.Message)
		assert.Equal(t, results[i].SentAt.UnixMilli(), msg.Timestamp)
	}
}

func TestRunStimuli_TimeoutLeavesResponseAbsent(t *testing.T) {
	room := &fakeRoom{remotes: []string{"agent-1"}, speakers: []string{"bench_driver", "someone-else"}}
	d := New(room, testConfig())

	start := time.Now()
	results, err := d.RunStimuli(context.Background(), []string{"ping"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].Responded())
	assert.Nil(t, results[0].ResponseAt)
	assert.Nil(t, results[0].TotalLatency)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestRunStimuli_PublishFailureIsRecorded(t *testing.T) {
	room := &fakeRoom{remotes: []string{"agent-1"}, publishErr: errors.New("data channel closed")}
	d := New(room, testConfig())

	results, err := d.RunStimuli(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Responded())
	assert.False(t, results[1].Responded())
}

func TestRunStimuli_CancelReturnsPartial(t *testing.T) {
	room := &fakeRoom{remotes: []string{"agent-1"}}
	respondAfter(room, "agent-1", 10*time.Millisecond)

	cfg := testConfig()
	cfg.Cooldown = time.Minute
	d := New(room, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	d.OnResult = func(model.StimulusResult) { cancel() }

	results, err := d.RunStimuli(ctx, []string{"a", "b", "c"})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.True(t, results[0].Responded())
}

func TestRunStimuli_CooldownAfterLastStimulus(t *testing.T) {
	room := &fakeRoom{remotes: []string{"agent-1"}}
	respondAfter(room, "agent-1", 10*time.Millisecond)

	cfg := testConfig()
	cfg.Cooldown = 150 * time.Millisecond
	d := New(room, cfg)

	var answeredAt time.Time
	d.OnResult = func(model.StimulusResult) { answeredAt = time.Now() }

	results, err := d.RunStimuli(context.Background(), []string{"only"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.GreaterOrEqual(t, time.Since(answeredAt), 150*time.Millisecond)
}

func TestIsAgent(t *testing.T) {
	d := New(&fakeRoom{}, testConfig())
	assert.True(t, d.isAgent("agent-AJ_abc"))
	assert.True(t, d.isAgent("bithuman-avatar"))
	assert.True(t, d.isAgent("tavus"))
	assert.False(t, d.isAgent("bench_driver"))
	assert.False(t, d.isAgent(""))
}
