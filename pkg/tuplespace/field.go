package tuplespace

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind tags the runtime type of a Field. The set is closed: matching never
// relies on reflection, only on Kind and value equality.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindBool
	KindBlob
	KindStrings
	KindInts
)

var kindNames = map[Kind]string{
	KindString:  "str",
	KindInt:     "int",
	KindBool:    "bool",
	KindBlob:    "blob",
	KindStrings: "strs",
	KindInts:    "ints",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// ParseKind resolves the short kind names used by String().
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown field kind %q", s)
}

// Field is one typed value of a Tuple. The zero Field is invalid.
// Fields are values: constructors copy slices so callers may reuse
// their buffers.
type Field struct {
	kind Kind
	str  string
	num  int64
	flag bool
	blob []byte
	strs []string
	ints []int64
}

func String(s string) Field { return Field{kind: KindString, str: s} }

func Int(n int64) Field { return Field{kind: KindInt, num: n} }

func Bool(b bool) Field { return Field{kind: KindBool, flag: b} }

func Blob(b []byte) Field { return Field{kind: KindBlob, blob: slices.Clone(b)} }

// Strings builds an aggregate string list field.
func Strings(s ...string) Field { return Field{kind: KindStrings, strs: slices.Clone(s)} }

// Ints builds an aggregate integer list field.
func Ints(n ...int64) Field { return Field{kind: KindInts, ints: slices.Clone(n)} }

func (f Field) Kind() Kind { return f.kind }

func (f Field) Valid() bool { return f.kind != KindInvalid }

// StringValue returns the value of a KindString field, "" otherwise.
func (f Field) StringValue() string { return f.str }

func (f Field) IntValue() int64 { return f.num }

func (f Field) BoolValue() bool { return f.flag }

// BlobValue returns a copy of the blob payload.
func (f Field) BlobValue() []byte { return slices.Clone(f.blob) }

func (f Field) StringsValue() []string { return slices.Clone(f.strs) }

func (f Field) IntsValue() []int64 { return slices.Clone(f.ints) }

// Equal reports whether both fields carry the same kind and value.
func (f Field) Equal(o Field) bool {
	if f.kind != o.kind {
		return false
	}
	switch f.kind {
	case KindString:
		return f.str == o.str
	case KindInt:
		return f.num == o.num
	case KindBool:
		return f.flag == o.flag
	case KindBlob:
		return bytes.Equal(f.blob, o.blob)
	case KindStrings:
		return slices.Equal(f.strs, o.strs)
	case KindInts:
		return slices.Equal(f.ints, o.ints)
	}
	return true
}

func (f Field) String() string {
	switch f.kind {
	case KindString:
		return strconv.Quote(f.str)
	case KindInt:
		return strconv.FormatInt(f.num, 10)
	case KindBool:
		return strconv.FormatBool(f.flag)
	case KindBlob:
		return fmt.Sprintf("blob[%d]", len(f.blob))
	case KindStrings:
		quoted := make([]string, len(f.strs))
		for i, s := range f.strs {
			quoted[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(quoted, " ") + "]"
	case KindInts:
		return fmt.Sprint(f.ints)
	}
	return "<invalid>"
}
