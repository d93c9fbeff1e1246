package planner

import (
	"fmt"
	"strings"
)

// Comparator is the comparison operator applied by a filter.
type Comparator string

const (
	CmpGT    Comparator = ">"
	CmpLT    Comparator = "<"
	CmpEq    Comparator = "="
	CmpGTE   Comparator = ">="
	CmpLTE   Comparator = "<="
	CmpNot   Comparator = "!="
	CmpLike  Comparator = "LIKE"
	CmpIs    Comparator = "IS"
	CmpIsNot Comparator = "IS_NOT"
)

// DefaultComparator is used when a filter omits or misspells its comparator.
const DefaultComparator = CmpEq

var comparators = map[Comparator]struct{}{
	CmpGT: {}, CmpLT: {}, CmpEq: {}, CmpGTE: {}, CmpLTE: {},
	CmpNot: {}, CmpLike: {}, CmpIs: {}, CmpIsNot: {},
}

// ParseComparator normalizes raw comparator input. Unknown values fall back to
// DefaultComparator instead of failing.
func ParseComparator(raw string) Comparator {
	cmp := Comparator(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := comparators[cmp]; !ok {
		return DefaultComparator
	}
	return cmp
}

// AllowsList reports whether the comparator can be applied to a list value.
func (c Comparator) AllowsList() bool {
	return c == CmpEq || c == CmpNot
}

// Condition joins a filter onto the predicates that precede it.
type Condition string

const (
	CondAnd Condition = "AND"
	CondOr  Condition = "OR"
)

// DefaultCondition is used when a filter omits or misspells its condition.
const DefaultCondition = CondAnd

// ParseCondition normalizes raw condition input, falling back to DefaultCondition.
func ParseCondition(raw string) Condition {
	switch cond := Condition(strings.ToUpper(strings.TrimSpace(raw))); cond {
	case CondAnd, CondOr:
		return cond
	default:
		return DefaultCondition
	}
}

// Value is a filter operand: either a single scalar or a list of scalars.
// The zero Value is empty.
type Value struct {
	scalar any
	list   []any
	isList bool
}

// Scalar wraps a single operand.
func Scalar(v any) Value {
	return Value{scalar: v}
}

// List wraps a list operand. The slice is copied.
func List(values ...any) Value {
	return Value{list: append([]any(nil), values...), isList: true}
}

// IsList reports whether the value holds a list.
func (v Value) IsList() bool {
	return v.isList
}

// Scalar returns the scalar operand (nil for list values).
func (v Value) Scalar() any {
	return v.scalar
}

// List returns a copy of the list operand (nil for scalar values).
func (v Value) List() []any {
	if !v.isList {
		return nil
	}
	return append([]any(nil), v.list...)
}

// IsEmpty reports whether the value carries nothing to compare against:
// nil, the empty string or an empty list.
func (v Value) IsEmpty() bool {
	if v.isList {
		return len(v.list) == 0
	}
	switch s := v.scalar.(type) {
	case nil:
		return true
	case string:
		return s == ""
	default:
		return false
	}
}

// Arg returns the value in the shape squirrel expects for a bound argument.
func (v Value) Arg() any {
	if v.isList {
		return v.List()
	}
	return v.scalar
}

func (v Value) String() string {
	if v.isList {
		return fmt.Sprint(v.list)
	}
	return fmt.Sprint(v.scalar)
}

// Filter is a normalized predicate over a field of the main entity or of a
// related entity reached through a dotted path.
type Filter struct {
	Field      string
	Comparator Comparator
	Condition  Condition
	Value      Value
}

// Path returns the relation hops named by the field, i.e. every dot segment
// but the last. Plain fields have no path.
func (f Filter) Path() []string {
	parts := strings.Split(f.Field, ".")
	if len(parts) < 2 {
		return nil
	}
	return parts[:len(parts)-1]
}

// Valid reports whether the filter can be turned into a predicate.
func (f Filter) Valid() bool {
	if strings.TrimSpace(f.Field) == "" || f.Value.IsEmpty() {
		return false
	}
	if f.Value.IsList() && !ParseComparator(string(f.Comparator)).AllowsList() {
		return false
	}
	return true
}
