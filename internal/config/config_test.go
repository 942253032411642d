package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200*time.Millisecond, cfg.Tolerance)
	assert.Equal(t, "lk-chat-topic", cfg.Driver.Topic)
	assert.Equal(t, DefaultPrompts, cfg.Prompts)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	body := `
livekit:
  url: ws://lk.example:7880
  room: perf-room
prompts:
  - "ping"
tolerance: 150ms
driver:
  response_timeout: 3s
  agent_identities: [bot]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "perf-room", cfg.LiveKit.Room)
	assert.Equal(t, []string{"ping"}, cfg.Prompts)
	assert.Equal(t, 150*time.Millisecond, cfg.Tolerance)
	assert.Equal(t, 3*time.Second, cfg.Driver.ResponseTimeout)
	assert.Equal(t, []string{"bot"}, cfg.Driver.AgentIdentities)
	// untouched fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Driver.Cooldown)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompts: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LIVEKIT_URL":          "wss://cloud.example",
		"LIVEKIT_API_KEY":      "k",
		"LIVEKIT_API_SECRET":   "s",
		"VOICEBENCH_TOLERANCE": "250",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "wss://cloud.example", cfg.LiveKit.URL)
	assert.Equal(t, "k", cfg.LiveKit.APIKey)
	assert.Equal(t, "s", cfg.LiveKit.APISecret)
	assert.Equal(t, 250*time.Millisecond, cfg.Tolerance)

	env["VOICEBENCH_TOLERANCE"] = "soon"
	err := cfg.ApplyEnv(lookup)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }},
		{"negative cooldown", func(c *Config) { c.Driver.Cooldown = -time.Second }},
		{"no response timeout", func(c *Config) { c.Driver.ResponseTimeout = 0 }},
		{"no room", func(c *Config) { c.LiveKit.Room = "" }},
		{"no identities", func(c *Config) { c.Driver.AgentIdentities = nil }},
		{"zero interval", func(c *Config) { c.Sampler.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
