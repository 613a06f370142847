package tuplespace

import (
	"fmt"
	"strings"
)

// Template is one position of a Pattern: either an actual value that must be
// equal, or a formal that only constrains the kind.
type Template struct {
	formal bool
	kind   Kind
	value  Field
}

// Actual matches fields equal to f.
func Actual(f Field) Template {
	return Template{kind: f.kind, value: f}
}

// Formal matches any field of kind k.
func Formal(k Kind) Template {
	return Template{formal: true, kind: k}
}

func (tp Template) IsFormal() bool { return tp.formal }

func (tp Template) Kind() Kind { return tp.kind }

// Value returns the actual value; it is the zero Field for formals.
func (tp Template) Value() Field { return tp.value }

func (tp Template) matches(f Field) bool {
	if tp.formal {
		return tp.kind == f.kind
	}
	return tp.value.Equal(f)
}

func (tp Template) String() string {
	if tp.formal {
		return "?" + tp.kind.String()
	}
	return tp.value.String()
}

// Pattern selects tuples of the same arity whose fields satisfy every
// template position.
type Pattern []Template

// NewPattern builds a pattern from templates.
func NewPattern(templates ...Template) Pattern {
	return Pattern(templates)
}

// Match is shorthand for the common ("label", ?kind...) pattern.
func Match(label string, formals ...Kind) Pattern {
	p := make(Pattern, 0, len(formals)+1)
	p = append(p, Actual(String(label)))
	for _, k := range formals {
		p = append(p, Formal(k))
	}
	return p
}

// Validate rejects empty patterns and positions with no kind.
func (p Pattern) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	for i, tp := range p {
		if tp.kind == KindInvalid {
			return fmt.Errorf("%w: position %d has no kind", ErrInvalidPattern, i)
		}
	}
	return nil
}

// Matches reports whether t satisfies p.
func (p Pattern) Matches(t Tuple) bool {
	if len(p) != len(t) {
		return false
	}
	for i, tp := range p {
		if !tp.matches(t[i]) {
			return false
		}
	}
	return true
}

func (p Pattern) String() string {
	parts := make([]string, len(p))
	for i, tp := range p {
		parts[i] = tp.String()
	}
	return "<" + strings.Join(parts, ", ") + ">"
}
