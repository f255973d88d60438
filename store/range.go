package store

import "fmt"

// ValueRange is a byte-ordered interval over indexed values. The lower
// bound is inclusive, the upper bound exclusive, and either side may be
// infinite. Values compare lexicographically as raw bytes.
type ValueRange struct {
	Begin       string
	End         string
	MinInfinite bool
	MaxInfinite bool
}

// successor returns the immediate next value at row granularity.
func successor(v string) string { return v + "\x00" }

// Exact returns the range denoting precisely value.
func Exact(value string) ValueRange {
	return ValueRange{Begin: value, End: successor(value)}
}

// Between returns the range [begin, end] with both ends inclusive.
func Between(begin, end string) ValueRange {
	return ValueRange{Begin: begin, End: successor(end)}
}

// AtLeast returns the range [begin, +inf).
func AtLeast(begin string) ValueRange {
	return ValueRange{Begin: begin, MaxInfinite: true}
}

// LessThan returns the range (-inf, end).
func LessThan(end string) ValueRange {
	return ValueRange{End: end, MinInfinite: true}
}

// All returns the unbounded range.
func All() ValueRange {
	return ValueRange{MinInfinite: true, MaxInfinite: true}
}

// IsExact reports whether the range denotes precisely one value: both
// bounds finite and the upper bound the immediate successor of the lower.
func (r ValueRange) IsExact() bool {
	return !r.MinInfinite && !r.MaxInfinite && r.End == successor(r.Begin)
}

// Value returns the single value an exact range denotes. Meaningless for
// non-exact ranges.
func (r ValueRange) Value() string { return r.Begin }

// Contains reports whether value falls inside the range.
func (r ValueRange) Contains(value string) bool {
	if !r.MinInfinite && value < r.Begin {
		return false
	}
	if !r.MaxInfinite && value >= r.End {
		return false
	}
	return true
}

func (r ValueRange) String() string {
	lo, hi := r.Begin, r.End
	if r.MinInfinite {
		lo = "-inf"
	}
	if r.MaxInfinite {
		hi = "+inf"
	}
	return fmt.Sprintf("[%q,%q)", lo, hi)
}
