// Package format renders tuples and journal entries for the arena CLI.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/arena/internal/journal"
	"github.com/dyluth/arena/pkg/tuplespace"
)

// FieldJSON is the JSON form of one field: its kind name and value.
type FieldJSON struct {
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

// TupleJSON converts t to its JSON form. Blobs become base64 strings.
func TupleJSON(t tuplespace.Tuple) []FieldJSON {
	out := make([]FieldJSON, len(t))
	for i, f := range t {
		var v any
		switch f.Kind() {
		case tuplespace.KindString:
			v = f.StringValue()
		case tuplespace.KindInt:
			v = f.IntValue()
		case tuplespace.KindBool:
			v = f.BoolValue()
		case tuplespace.KindBlob:
			v = f.BlobValue()
		case tuplespace.KindStrings:
			v = f.StringsValue()
		case tuplespace.KindInts:
			v = f.IntsValue()
		}
		out[i] = FieldJSON{Kind: f.Kind().String(), Value: v}
	}
	return out
}

// FormatTable writes tuples as a table with columns: #, ARITY and TUPLE
// (truncated). Returns the number of tuples formatted.
func FormatTable(w io.Writer, tuples []tuplespace.Tuple, space string) int {
	if len(tuples) == 0 {
		fmt.Fprintf(w, "No tuples found in space '%s'\n", space)
		return 0
	}

	fmt.Fprintf(w, "Tuples in space '%s':\n\n", space)
	fmt.Fprintf(w, "%-4s %-5s %s\n", "#", "ARITY", "TUPLE")
	fmt.Fprintf(w, "%-4s %-5s %s\n", "----", "-----", "------------------------------------------------------------")

	for i, t := range tuples {
		fmt.Fprintf(w, "%-4d %-5d %s\n", i+1, len(t), truncate(t.String(), 60))
	}

	noun := "tuple"
	if len(tuples) != 1 {
		noun = "tuples"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(tuples), noun)
	return len(tuples)
}

// FormatJSONL writes one JSON array per tuple, one per line.
func FormatJSONL(w io.Writer, tuples []tuplespace.Tuple) error {
	for _, t := range tuples {
		data, err := json.Marshal(TupleJSON(t))
		if err != nil {
			return fmt.Errorf("failed to marshal tuple to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatEntry writes one journal entry as a single human-readable line.
func FormatEntry(w io.Writer, e journal.Entry) {
	tuples := "-"
	if len(e.Tuples) > 0 {
		tuples = e.Tuples[0]
		if len(e.Tuples) > 1 {
			tuples = fmt.Sprintf("%s (+%d more)", tuples, len(e.Tuples)-1)
		}
	}
	fmt.Fprintf(w, "%-8s %-10s %-8s %s\n", formatAge(e.At), truncate(e.Space, 10), e.Op, truncate(tuples, 60))
}

// FormatEntryJSON writes one journal entry as a JSON line.
func FormatEntryJSON(w io.Writer, e journal.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry to JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// formatAge shows how long ago t was, like "2m ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
