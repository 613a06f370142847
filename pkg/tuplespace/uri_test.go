package tuplespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	t.Run("client uri with keep", func(t *testing.T) {
		u, err := ParseURI("tcp://192.168.1.107:9001/room?keep")
		require.NoError(t, err)
		assert.Equal(t, URI{Host: "192.168.1.107", Port: 9001, Space: "room", Keep: true}, u)
		assert.Equal(t, "192.168.1.107:9001", u.Address())
	})

	t.Run("gate uri has no space", func(t *testing.T) {
		u, err := ParseURI("tcp://127.0.0.1:9001/?keep")
		require.NoError(t, err)
		assert.Empty(t, u.Space)
		assert.True(t, u.Keep)
	})

	t.Run("default port and no keep", func(t *testing.T) {
		u, err := ParseURI("tcp://localhost/lobby")
		require.NoError(t, err)
		assert.Equal(t, DefaultPort, u.Port)
		assert.False(t, u.Keep)
	})

	t.Run("round trips through String", func(t *testing.T) {
		raw := SpaceURI("10.0.0.2", 9100, "lobby")
		u, err := ParseURI(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, u.String())
	})

	for _, raw := range []string{
		"http://host:9001/room",
		"tcp://:9001/room",
		"tcp://host:notaport/room",
		"tcp://host:9001/a/b",
	} {
		t.Run("rejects "+raw, func(t *testing.T) {
			_, err := ParseURI(raw)
			assert.ErrorIs(t, err, ErrInvalidURI)
		})
	}
}
