package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dyluth/arena/internal/journal"
	"github.com/dyluth/arena/internal/session"
	"github.com/dyluth/arena/pkg/tuplespace"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "arena.yml"

// ArenaConfig represents the top-level arena.yml configuration
type ArenaConfig struct {
	Version   string          `yaml:"version"`
	Player    PlayerConfig    `yaml:"player"`
	Network   NetworkConfig   `yaml:"network"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Roster    RosterConfig    `yaml:"roster"`
	Journal   *JournalConfig  `yaml:"journal,omitempty"`
	Retry     RetryConfig     `yaml:"retry"`
}

// PlayerConfig identifies the local player
type PlayerConfig struct {
	Name string `yaml:"name"`
}

// NetworkConfig specifies where the host is and how peers reach it
type NetworkConfig struct {
	HostAddress   string `yaml:"host_address"`
	ListenAddress string `yaml:"listen_address,omitempty"` // Defaults to host_address
	Port          *int   `yaml:"port,omitempty"`           // Default: 9001
	ProbeAddress  string `yaml:"probe_address,omitempty"`
	HealthAddress string `yaml:"health_address,omitempty"` // Empty disables the health endpoint
}

// BroadcastConfig specifies movement broadcast throttling
type BroadcastConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"` // Default: 25ms
}

// RosterConfig specifies how the roster is kept in sync
type RosterConfig struct {
	Hardened     bool          `yaml:"hardened"`
	Mode         string        `yaml:"mode,omitempty"` // "poll" (default) or "push"
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// JournalConfig enables the Redis space journal
type JournalConfig struct {
	RedisURL string `yaml:"redis_url"`
	Instance string `yaml:"instance,omitempty"` // Default: "default"
}

// RetryConfig bounds remote dial retries
type RetryConfig struct {
	MaxAttempts     *int          `yaml:"max_attempts,omitempty"` // Default: 5
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
}

// Default returns a validated configuration with every default applied.
func Default() *ArenaConfig {
	c := &ArenaConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// Validate performs strict validation on the configuration and fills in
// defaults for omitted fields
func (c *ArenaConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Network.HostAddress != "" && net.ParseIP(c.Network.HostAddress) == nil {
		return fmt.Errorf("network.host_address must be an IP address, got %q", c.Network.HostAddress)
	}
	if c.Network.Port == nil {
		port := tuplespace.DefaultPort
		c.Network.Port = &port
	}
	if *c.Network.Port < 0 || *c.Network.Port > 65535 {
		return fmt.Errorf("network.port must be between 0 and 65535, got %d", *c.Network.Port)
	}
	if c.Network.ProbeAddress == "" {
		c.Network.ProbeAddress = session.DefaultProbeAddress
	}
	if _, _, err := net.SplitHostPort(c.Network.ProbeAddress); err != nil {
		return fmt.Errorf("network.probe_address must be host:port: %w", err)
	}

	if c.Broadcast.Interval == 0 {
		c.Broadcast.Interval = session.DefaultBroadcastInterval
	}
	if c.Broadcast.Interval < 0 {
		return fmt.Errorf("broadcast.interval must be positive, got %s", c.Broadcast.Interval)
	}

	if c.Roster.Mode == "" {
		c.Roster.Mode = session.ListenPoll.String()
	}
	if c.Roster.Mode != "poll" && c.Roster.Mode != "push" {
		return fmt.Errorf("invalid roster.mode: %s (must be 'poll' or 'push')", c.Roster.Mode)
	}
	if c.Roster.PollInterval < 0 {
		return fmt.Errorf("roster.poll_interval must be >= 0, got %s", c.Roster.PollInterval)
	}

	if c.Journal != nil {
		if c.Journal.RedisURL == "" {
			return fmt.Errorf("journal.redis_url is required when journal is configured")
		}
		if c.Journal.Instance == "" {
			c.Journal.Instance = "default"
		}
		if err := journal.ValidateInstance(c.Journal.Instance); err != nil {
			return fmt.Errorf("journal.instance: %w", err)
		}
	}

	if c.Retry.MaxAttempts == nil {
		attempts := 5
		c.Retry.MaxAttempts = &attempts
	}
	if *c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", *c.Retry.MaxAttempts)
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = 200 * time.Millisecond
	}
	if c.Retry.InitialInterval < 0 {
		return fmt.Errorf("retry.initial_interval must be positive, got %s", c.Retry.InitialInterval)
	}

	return nil
}

// Load reads and validates arena.yml from the specified path
func Load(path string) (*ArenaConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config ArenaConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path when it exists and falls back to Default.
func LoadOrDefault(path string) (*ArenaConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// ApplyEnv overrides fields from ARENA_* variables found by lookup, then
// re-validates. Pass os.LookupEnv in production.
func (c *ArenaConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	integer := func(key string, dst **int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = &n
		return nil
	}

	str("ARENA_PLAYER_NAME", &c.Player.Name)
	str("ARENA_HOST_ADDRESS", &c.Network.HostAddress)
	str("ARENA_LISTEN_ADDRESS", &c.Network.ListenAddress)
	str("ARENA_PROBE_ADDRESS", &c.Network.ProbeAddress)
	str("ARENA_HEALTH_ADDRESS", &c.Network.HealthAddress)
	str("ARENA_ROSTER_MODE", &c.Roster.Mode)
	if err := integer("ARENA_PORT", &c.Network.Port); err != nil {
		return err
	}
	if err := integer("ARENA_RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts); err != nil {
		return err
	}
	if err := dur("ARENA_BROADCAST_INTERVAL", &c.Broadcast.Interval); err != nil {
		return err
	}
	if err := dur("ARENA_POLL_INTERVAL", &c.Roster.PollInterval); err != nil {
		return err
	}
	if err := dur("ARENA_RETRY_INITIAL_INTERVAL", &c.Retry.InitialInterval); err != nil {
		return err
	}
	if v, ok := lookup("ARENA_ROSTER_HARDENED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ARENA_ROSTER_HARDENED: %w", err)
		}
		c.Roster.Hardened = b
	}
	if v, ok := lookup("ARENA_REDIS_URL"); ok && v != "" {
		if c.Journal == nil {
			c.Journal = &JournalConfig{}
		}
		c.Journal.RedisURL = v
	}
	if c.Journal != nil {
		str("ARENA_JOURNAL_INSTANCE", &c.Journal.Instance)
	}

	return c.Validate()
}

// Session converts the configuration into the options of a session.App.
func (c *ArenaConfig) Session() session.Config {
	mode := session.ListenPoll
	if c.Roster.Mode == "push" {
		mode = session.ListenPush
	}
	return session.Config{
		PlayerName:        c.Player.Name,
		HostAddress:       c.Network.HostAddress,
		ListenAddress:     c.Network.ListenAddress,
		Port:              *c.Network.Port,
		ProbeAddress:      c.Network.ProbeAddress,
		BroadcastInterval: c.Broadcast.Interval,
		HardenedRoster:    c.Roster.Hardened,
		ListenMode:        mode,
		PollInterval:      c.Roster.PollInterval,
		Retry: session.RetryPolicy{
			MaxAttempts:     *c.Retry.MaxAttempts,
			InitialInterval: c.Retry.InitialInterval,
		},
	}
}
