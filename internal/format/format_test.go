package format

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/arena/internal/journal"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "short", in: "hello", expected: "hello"},
		{name: "exactly 60 chars", in: strings.Repeat("a", 60), expected: strings.Repeat("a", 60)},
		{name: "61 chars - should truncate", in: strings.Repeat("a", 61), expected: strings.Repeat("a", 57) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, truncate(tt.in, 60))
		})
	}
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "-", formatAge(time.Time{}))
	assert.Equal(t, "5m ago", formatAge(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "2h ago", formatAge(time.Now().Add(-2*time.Hour-time.Second)))
	assert.Equal(t, "3d ago", formatAge(time.Now().Add(-72*time.Hour-time.Second)))
}

func TestFormatTable(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, 0, FormatTable(&buf, nil, "room"))
		assert.Equal(t, "No tuples found in space 'room'\n", buf.String())
	})

	t.Run("rows", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatTable(&buf, []tuplespace.Tuple{
			tuplespace.NewTuple(tuplespace.String("turn"), tuplespace.Int(1)),
			tuplespace.NewTuple(tuplespace.String("playerNameList"), tuplespace.Strings("alice", "bob")),
		}, "room")

		assert.Equal(t, 2, n)
		out := buf.String()
		assert.Contains(t, out, "Tuples in space 'room':")
		assert.Contains(t, out, `("turn", 1)`)
		assert.Contains(t, out, `("playerNameList", ["alice" "bob"])`)
		assert.Contains(t, out, "2 tuples found")
	})
}

func TestFormatJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatJSONL(&buf, []tuplespace.Tuple{
		tuplespace.NewTuple(tuplespace.String("state"), tuplespace.Int(2), tuplespace.Blob([]byte{1, 2})),
		tuplespace.NewTuple(tuplespace.String("ready"), tuplespace.Bool(true)),
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first []FieldJSON
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Len(t, first, 3)
	assert.Equal(t, "str", first[0].Kind)
	assert.Equal(t, "state", first[0].Value)
	assert.Equal(t, "int", first[1].Kind)
	assert.Equal(t, float64(2), first[1].Value)
	assert.Equal(t, "blob", first[2].Kind)
	assert.Equal(t, "AQI=", first[2].Value)

	assert.Equal(t, `[{"kind":"str","value":"ready"},{"kind":"bool","value":true}]`, lines[1])
}

func TestFormatEntry(t *testing.T) {
	var buf bytes.Buffer
	FormatEntry(&buf, journal.Entry{
		Space:  "room",
		Op:     "GETALL",
		Tuples: []string{`("name", "bob")`, `("name", "carol")`},
		At:     time.Now(),
	})
	assert.Contains(t, buf.String(), "room")
	assert.Contains(t, buf.String(), "GETALL")
	assert.Contains(t, buf.String(), `("name", "bob") (+1 more)`)

	buf.Reset()
	require.NoError(t, FormatEntryJSON(&buf, journal.Entry{ID: "e1", Space: "room", Op: "PUT"}))
	assert.True(t, strings.HasPrefix(buf.String(), `{"id":"e1"`))
}
