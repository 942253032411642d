/*
PURPOSE:
  Defines the configuration structure and loading logic for voicebench.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Allow configuration of the LiveKit endpoint, room, prompts and timeouts.
  - Correlation tolerance is a tunable, not a hidden constant.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Needs to support .env files and environment overrides (LIVEKIT_*, VOICEBENCH_*).

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine, internal/driver, cmd/mock-agent
  - Dependencies: gopkg.in/yaml.v3, github.com/joho/godotenv

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - Missing default files fall back to defaults.
  - Validate() returns ErrInvalid wrapped with the offending field.

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Defaults mirror the timings the benchmark was tuned with (5s cooldown,
    15s response timeout, 30s peer timeout, 200ms tolerance).

USAGE:
  cfg, err := config.Load("voicebench.yaml")

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct and update DefaultConfig().

RELATED FILES:
  - internal/cli/root.go
  - internal/cli/run.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

// LiveKit holds the room connection settings.
type LiveKit struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Room      string `yaml:"room"`
	Identity  string `yaml:"identity"`
	Name      string `yaml:"name"`
}

// Driver holds the conversation driver timings.
type Driver struct {
	Topic           string        `yaml:"topic"`
	AgentIdentities []string      `yaml:"agent_identities"` // substring match
	PeerTimeout     time.Duration `yaml:"peer_timeout"`
	PeerPoll        time.Duration `yaml:"peer_poll"`
	Settle          time.Duration `yaml:"settle"` // pause after the peer shows up
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ResponsePoll    time.Duration `yaml:"response_poll"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// Supervisor holds the child process settings.
type Supervisor struct {
	GracePeriod time.Duration `yaml:"grace_period"`
	KillWait    time.Duration `yaml:"kill_wait"`
	Warmup      time.Duration `yaml:"warmup"`
	Echo        bool          `yaml:"echo"` // log every agent line
}

// Sampler holds the resource sampler settings.
type Sampler struct {
	Interval time.Duration `yaml:"interval"`
	GPU      bool          `yaml:"gpu"`
}

// Config represents the full configuration for voicebench.
type Config struct {
	LiveKit     LiveKit       `yaml:"livekit"`
	Prompts     []string      `yaml:"prompts"`
	Tolerance   time.Duration `yaml:"tolerance"`
	Driver      Driver        `yaml:"driver"`
	Supervisor  Supervisor    `yaml:"supervisor"`
	Sampler     Sampler       `yaml:"sampler"`
	OutputDir   string        `yaml:"output_dir"` // empty disables CSV/JSON files
	HistoryDB   string        `yaml:"history_db"` // empty disables the sqlite store
	MetricsAddr string        `yaml:"metrics_addr"`
}

// DefaultPrompts are sent when neither config nor flags provide any.
var DefaultPrompts = []string{"Hello, are you there?", "What is the capital of France?"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LiveKit: LiveKit{
			URL:       "ws://localhost:7880",
			APIKey:    "devkey",
			APISecret: "secret",
			Room:      "benchmark-room",
			Identity:  "bench_driver",
			Name:      "Benchmark Driver",
		},
		Prompts:   append([]string(nil), DefaultPrompts...),
		Tolerance: 200 * time.Millisecond,
		Driver: Driver{
			Topic:           "lk-chat-topic",
			AgentIdentities: []string{"agent", "tavus", "avatar"},
			PeerTimeout:     30 * time.Second,
			PeerPoll:        500 * time.Millisecond,
			Settle:          2 * time.Second,
			ResponseTimeout: 15 * time.Second,
			ResponsePoll:    50 * time.Millisecond,
			Cooldown:        5 * time.Second,
		},
		Supervisor: Supervisor{
			GracePeriod: 5 * time.Second,
			KillWait:    1 * time.Second,
			Warmup:      10 * time.Second,
			Echo:        true,
		},
		Sampler: Sampler{
			Interval: 500 * time.Millisecond,
			GPU:      true,
		},
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches for default files in order.
// If no file found, returns default config.
// Environment overrides are applied on top in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional; real environment wins over it.
	_ = godotenv.Load()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		defaults := []string{"voicebench.yaml", "voicebench.yml", ".voicebench.yaml"}
		for _, name := range defaults {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production and a map in tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LIVEKIT_URL", &c.LiveKit.URL)
	str("LIVEKIT_API_KEY", &c.LiveKit.APIKey)
	str("LIVEKIT_API_SECRET", &c.LiveKit.APISecret)
	str("VOICEBENCH_ROOM", &c.LiveKit.Room)
	str("VOICEBENCH_OUTPUT_DIR", &c.OutputDir)
	str("VOICEBENCH_HISTORY_DB", &c.HistoryDB)
	str("VOICEBENCH_METRICS_ADDR", &c.MetricsAddr)

	if v, ok := lookup("VOICEBENCH_TOLERANCE"); ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: VOICEBENCH_TOLERANCE: %v", ErrInvalid, err)
		}
		c.Tolerance = d
	}
	return nil
}

// parseDuration accepts Go durations ("250ms") and bare milliseconds ("250").
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the invariants the run depends on.
func (c *Config) Validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"tolerance", c.Tolerance},
		{"driver.peer_timeout", c.Driver.PeerTimeout},
		{"driver.peer_poll", c.Driver.PeerPoll},
		{"driver.response_timeout", c.Driver.ResponseTimeout},
		{"driver.response_poll", c.Driver.ResponsePoll},
		{"supervisor.grace_period", c.Supervisor.GracePeriod},
		{"supervisor.kill_wait", c.Supervisor.KillWait},
		{"sampler.interval", c.Sampler.Interval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, p.name, p.d)
		}
	}
	if c.Driver.Cooldown < 0 || c.Driver.Settle < 0 || c.Supervisor.Warmup < 0 {
		return fmt.Errorf("%w: cooldown, settle and warmup must not be negative", ErrInvalid)
	}
	if c.LiveKit.URL == "" || c.LiveKit.Room == "" {
		return fmt.Errorf("%w: livekit.url and livekit.room are required", ErrInvalid)
	}
	if c.Driver.Topic == "" {
		return fmt.Errorf("%w: driver.topic is required", ErrInvalid)
	}
	if len(c.Driver.AgentIdentities) == 0 {
		return fmt.Errorf("%w: driver.agent_identities must not be empty", ErrInvalid)
	}
	return nil
}
