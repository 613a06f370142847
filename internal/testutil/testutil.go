// Package testutil starts an isolated arena server for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/arena/internal/config"
	"github.com/dyluth/arena/internal/journal"
	"github.com/dyluth/arena/internal/server"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// Env is a loopback server with a miniredis journal and a matching
// arena.yml in a temporary directory.
type Env struct {
	T          *testing.T
	TmpDir     string
	ConfigPath string
	Config     *config.ArenaConfig
	Redis      *miniredis.Miniredis
	Server     *server.Server
	Ctx        context.Context
}

// Setup starts a server for spaces on 127.0.0.1 with an ephemeral port and
// writes the arena.yml a CLI would need to reach it. Everything is torn
// down with the test.
func Setup(t *testing.T, spaces ...string) *Env {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	port := 0
	cfg := &config.ArenaConfig{
		Version: "1.0",
		Player:  config.PlayerConfig{Name: "tester"},
		Network: config.NetworkConfig{HostAddress: "127.0.0.1", Port: &port},
		Journal: &config.JournalConfig{RedisURL: fmt.Sprintf("redis://%s", mr.Addr()), Instance: "e2e"},
	}
	require.NoError(t, cfg.Validate())

	s, err := server.Start(ctx, server.Options{Config: cfg, Spaces: spaces})
	require.NoError(t, err, "Failed to start server")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	// Clients dial the port the gate actually bound.
	bound := s.Port()
	cfg.Network.Port = &bound

	env := &Env{
		T:      t,
		TmpDir: t.TempDir(),
		Config: cfg,
		Redis:  mr,
		Server: s,
		Ctx:    ctx,
	}
	env.ConfigPath = env.WriteConfig(cfg)
	return env
}

// WriteConfig marshals cfg into arena.yml under TmpDir and returns its path.
func (env *Env) WriteConfig(cfg *config.ArenaConfig) string {
	env.T.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(env.T, err)
	path := filepath.Join(env.TmpDir, config.DefaultFile)
	require.NoError(env.T, os.WriteFile(path, data, 0o644))
	return path
}

// SpaceURI addresses one of the server's spaces.
func (env *Env) SpaceURI(space string) string {
	return tuplespace.SpaceURI("127.0.0.1", env.Server.Port(), space)
}

// WaitForEntry polls the journal history of space until an entry with op
// appears, failing the test after 5 seconds.
func (env *Env) WaitForEntry(space string, op tuplespace.Op) journal.Entry {
	env.T.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := env.Server.Journal.History(env.Ctx, space, 100)
		require.NoError(env.T, err)
		for _, e := range entries {
			if e.Op == string(op) {
				return e
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	env.T.Fatalf("Timeout waiting for %s entry in space %q", op, space)
	return journal.Entry{}
}
