package tuplespace

import (
	"fmt"
	"strings"
)

// Tuple is an ordered sequence of fields. Tuples stored in a Space are never
// mutated; "updating" one is always a Get followed by a Put.
type Tuple []Field

// NewTuple builds a tuple from fields.
func NewTuple(fields ...Field) Tuple {
	return Tuple(fields)
}

// Validate rejects empty tuples and tuples holding invalid fields.
func (t Tuple) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: empty tuple", ErrInvalidTuple)
	}
	for i, f := range t {
		if !f.Valid() {
			return fmt.Errorf("%w: field %d has no kind", ErrInvalidTuple, i)
		}
	}
	return nil
}

// Equal compares tuples by value.
func (t Tuple) Equal(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if !t[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (t Tuple) Clone() Tuple {
	if t == nil {
		return nil
	}
	out := make(Tuple, len(t))
	for i, f := range t {
		switch f.kind {
		case KindBlob:
			out[i] = Blob(f.blob)
		case KindStrings:
			out[i] = Strings(f.strs...)
		case KindInts:
			out[i] = Ints(f.ints...)
		default:
			out[i] = f
		}
	}
	return out
}

// Str returns field i as a string, or "" when out of range or of another kind.
func (t Tuple) Str(i int) string {
	if i < 0 || i >= len(t) {
		return ""
	}
	return t[i].StringValue()
}

func (t Tuple) Int(i int) int64 {
	if i < 0 || i >= len(t) {
		return 0
	}
	return t[i].IntValue()
}

func (t Tuple) Bool(i int) bool {
	if i < 0 || i >= len(t) {
		return false
	}
	return t[i].BoolValue()
}

func (t Tuple) Blob(i int) []byte {
	if i < 0 || i >= len(t) {
		return nil
	}
	return t[i].BlobValue()
}

func (t Tuple) Strings(i int) []string {
	if i < 0 || i >= len(t) {
		return nil
	}
	return t[i].StringsValue()
}

func (t Tuple) Ints(i int) []int64 {
	if i < 0 || i >= len(t) {
		return nil
	}
	return t[i].IntsValue()
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, f := range t {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
