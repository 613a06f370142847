package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/arena/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
player:
  name: alice
network:
  host_address: 192.168.1.10
  port: 9100
broadcast:
  interval: 40ms
roster:
  hardened: true
  mode: push
  poll_interval: 10ms
journal:
  redis_url: redis://localhost:6379
retry:
  max_attempts: 3
  initial_interval: 1s
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", config.Player.Name)
	assert.Equal(t, "192.168.1.10", config.Network.HostAddress)
	assert.Equal(t, 9100, *config.Network.Port)
	assert.Equal(t, 40*time.Millisecond, config.Broadcast.Interval)
	assert.True(t, config.Roster.Hardened)
	assert.Equal(t, "push", config.Roster.Mode)
	assert.Equal(t, 10*time.Millisecond, config.Roster.PollInterval)
	require.NotNil(t, config.Journal)
	assert.Equal(t, "default", config.Journal.Instance)
	assert.Equal(t, 3, *config.Retry.MaxAttempts)
	assert.Equal(t, time.Second, config.Retry.InitialInterval)
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load(writeConfig(t, `version: "1.0"`))
	require.NoError(t, err)

	assert.Equal(t, 9001, *config.Network.Port)
	assert.Equal(t, session.DefaultProbeAddress, config.Network.ProbeAddress)
	assert.Equal(t, session.DefaultBroadcastInterval, config.Broadcast.Interval)
	assert.Equal(t, "poll", config.Roster.Mode)
	assert.False(t, config.Roster.Hardened)
	assert.Nil(t, config.Journal)
	assert.Equal(t, 5, *config.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, config.Retry.InitialInterval)

	assert.Equal(t, config, Default())
}

func TestLoad_PortZeroIsKept(t *testing.T) {
	config, err := Load(writeConfig(t, "version: \"1.0\"\nnetwork:\n  port: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, *config.Network.Port)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/arena.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	config, err := Load(writeConfig(t, `version: "1.0"
player:
  - this is invalid
    yaml syntax
`))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadOrDefault(t *testing.T) {
	config, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), config)

	config, err = LoadOrDefault(writeConfig(t, "version: \"1.0\"\nplayer:\n  name: bob\n"))
	require.NoError(t, err)
	assert.Equal(t, "bob", config.Player.Name)
}

func TestValidate(t *testing.T) {
	port := func(n int) *int { return &n }

	tests := []struct {
		name    string
		config  ArenaConfig
		wantErr string
	}{
		{
			name:    "unsupported version",
			config:  ArenaConfig{Version: "2.0"},
			wantErr: "unsupported version: 2.0",
		},
		{
			name:    "host address is not an ip",
			config:  ArenaConfig{Version: "1.0", Network: NetworkConfig{HostAddress: "arena.local"}},
			wantErr: "network.host_address must be an IP address",
		},
		{
			name:    "port out of range",
			config:  ArenaConfig{Version: "1.0", Network: NetworkConfig{Port: port(70000)}},
			wantErr: "network.port must be between 0 and 65535",
		},
		{
			name:    "probe without port",
			config:  ArenaConfig{Version: "1.0", Network: NetworkConfig{ProbeAddress: "8.8.8.8"}},
			wantErr: "network.probe_address must be host:port",
		},
		{
			name:    "negative broadcast interval",
			config:  ArenaConfig{Version: "1.0", Broadcast: BroadcastConfig{Interval: -time.Millisecond}},
			wantErr: "broadcast.interval must be positive",
		},
		{
			name:    "unknown roster mode",
			config:  ArenaConfig{Version: "1.0", Roster: RosterConfig{Mode: "gossip"}},
			wantErr: "invalid roster.mode: gossip",
		},
		{
			name:    "journal without url",
			config:  ArenaConfig{Version: "1.0", Journal: &JournalConfig{}},
			wantErr: "journal.redis_url is required",
		},
		{
			name:    "journal instance with colon",
			config:  ArenaConfig{Version: "1.0", Journal: &JournalConfig{RedisURL: "redis://localhost:6379", Instance: "lan:party"}},
			wantErr: "journal.instance: invalid instance name 'lan:party'",
		},
		{
			name:    "zero retry attempts",
			config:  ArenaConfig{Version: "1.0", Retry: RetryConfig{MaxAttempts: port(0)}},
			wantErr: "retry.max_attempts must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	config := Default()
	err := config.ApplyEnv(envMap(map[string]string{
		"ARENA_PLAYER_NAME":        "carol",
		"ARENA_HOST_ADDRESS":       "10.0.0.1",
		"ARENA_PORT":               "9200",
		"ARENA_ROSTER_HARDENED":    "true",
		"ARENA_ROSTER_MODE":        "push",
		"ARENA_BROADCAST_INTERVAL": "10ms",
		"ARENA_REDIS_URL":          "redis://cache:6379/0",
		"ARENA_JOURNAL_INSTANCE":   "lan-party",
		"ARENA_RETRY_MAX_ATTEMPTS": "2",
		"ARENA_HEALTH_ADDRESS":     "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "carol", config.Player.Name)
	assert.Equal(t, "10.0.0.1", config.Network.HostAddress)
	assert.Equal(t, 9200, *config.Network.Port)
	assert.True(t, config.Roster.Hardened)
	assert.Equal(t, 10*time.Millisecond, config.Broadcast.Interval)
	require.NotNil(t, config.Journal)
	assert.Equal(t, "redis://cache:6379/0", config.Journal.RedisURL)
	assert.Equal(t, "lan-party", config.Journal.Instance)
	assert.Empty(t, config.Network.HealthAddress)

	sc := config.Session()
	assert.Equal(t, session.ListenPush, sc.ListenMode)
	assert.Equal(t, 9200, sc.Port)
	assert.Equal(t, 2, sc.Retry.MaxAttempts)
	assert.True(t, sc.HardenedRoster)
}

func TestApplyEnv_Invalid(t *testing.T) {
	for key, value := range map[string]string{
		"ARENA_PORT":               "ninety",
		"ARENA_ROSTER_HARDENED":    "maybe",
		"ARENA_POLL_INTERVAL":      "soon",
		"ARENA_RETRY_MAX_ATTEMPTS": "0",
	} {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(envMap(map[string]string{key: value}))
			assert.Error(t, err)
		})
	}
}
