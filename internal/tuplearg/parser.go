package tuplearg

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/dyluth/arena/pkg/tuplespace"
)

// ParseField parses one field literal of the form kind:value.
// Supported kinds:
//   - str:alice (a bare word without a kind is also a string)
//   - int:42
//   - bool:true
//   - blob:0aff (hex)
//   - strs:alice,bob (empty value for an empty list)
//   - ints:1,2,3
func ParseField(literal string) (tuplespace.Field, error) {
	kind, value, ok := strings.Cut(literal, ":")
	if !ok {
		return tuplespace.String(literal), nil
	}

	switch kind {
	case "str":
		return tuplespace.String(value), nil
	case "int":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return tuplespace.Field{}, fmt.Errorf("invalid int literal %q", value)
		}
		return tuplespace.Int(n), nil
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return tuplespace.Field{}, fmt.Errorf("invalid bool literal %q", value)
		}
		return tuplespace.Bool(b), nil
	case "blob":
		b, err := hex.DecodeString(value)
		if err != nil {
			return tuplespace.Field{}, fmt.Errorf("invalid blob literal %q (use hex)", value)
		}
		return tuplespace.Blob(b), nil
	case "strs":
		if value == "" {
			return tuplespace.Strings(), nil
		}
		return tuplespace.Strings(strings.Split(value, ",")...), nil
	case "ints":
		if value == "" {
			return tuplespace.Ints(), nil
		}
		parts := strings.Split(value, ",")
		ints := make([]int64, len(parts))
		for i, p := range parts {
			n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return tuplespace.Field{}, fmt.Errorf("invalid ints literal %q", value)
			}
			ints[i] = n
		}
		return tuplespace.Ints(ints...), nil
	}

	// Not a known kind: the colon is part of a bare string.
	return tuplespace.String(literal), nil
}

// ParseTuple parses every argument as a field literal.
func ParseTuple(args []string) (tuplespace.Tuple, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty tuple")
	}
	fields := make([]tuplespace.Field, len(args))
	for i, a := range args {
		f, err := ParseField(a)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		fields[i] = f
	}
	t := tuplespace.NewTuple(fields...)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParsePattern parses arguments as templates. ?kind is a formal of that
// kind; anything else is an actual field literal.
func ParsePattern(args []string) (tuplespace.Pattern, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty pattern")
	}
	templates := make([]tuplespace.Template, len(args))
	for i, a := range args {
		if name, ok := strings.CutPrefix(a, "?"); ok {
			k, err := tuplespace.ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("template %d: %w", i+1, err)
			}
			templates[i] = tuplespace.Formal(k)
			continue
		}
		f, err := ParseField(a)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i+1, err)
		}
		templates[i] = tuplespace.Actual(f)
	}
	p := tuplespace.NewPattern(templates...)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
