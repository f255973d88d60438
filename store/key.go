package store

import (
	"sort"
	"strings"
)

// Authorizations is a canonicalized set of visibility labels a reader is
// entitled to see. The zero value is the empty set. Authorizations are
// comparable and participate in CacheKey equality, so two readers with
// different label sets never share a cached count.
type Authorizations struct {
	joined string // sorted labels joined with ","
}

// NewAuthorizations builds a canonical label set. Labels are sorted and
// deduplicated; empty labels are dropped. Labels must not contain ",".
func NewAuthorizations(labels ...string) Authorizations {
	if len(labels) == 0 {
		return Authorizations{}
	}
	s := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != "" {
			s = append(s, l)
		}
	}
	sort.Strings(s)
	out := s[:0]
	for i, l := range s {
		if i == 0 || s[i-1] != l {
			out = append(out, l)
		}
	}
	return Authorizations{joined: strings.Join(out, ",")}
}

// IsEmpty reports whether the reader holds no labels.
func (a Authorizations) IsEmpty() bool { return a.joined == "" }

// Labels returns the labels in canonical order.
func (a Authorizations) Labels() []string {
	if a.joined == "" {
		return nil
	}
	return strings.Split(a.joined, ",")
}

// Contains reports whether label is part of the set.
func (a Authorizations) Contains(label string) bool {
	if a.joined == "" || label == "" {
		return false
	}
	for _, l := range a.Labels() {
		if l == label {
			return true
		}
	}
	return false
}

// Visible reports whether an increment stored under visibility is
// readable by this authorization set. An empty visibility means the
// increment is visible to everyone.
func (a Authorizations) Visible(visibility string) bool {
	return visibility == "" || a.Contains(visibility)
}

func (a Authorizations) String() string { return a.joined }

// CacheKey identifies one counter-store query: a value range within one
// column family of one table, read under a specific authorization set.
// CacheKeys are comparable; two keys are equal iff every field matches,
// including the full authorization set. Immutable by convention.
type CacheKey struct {
	Schema string
	Table  string
	Family string
	Auths  Authorizations
	Range  ValueRange
}

// IsExact reports whether the key's range denotes precisely one value.
// Only exact keys are memoized.
func (k CacheKey) IsExact() bool { return k.Range.IsExact() }

func (k CacheKey) String() string {
	return k.Schema + "." + k.Table + "/" + k.Family + "/" + k.Auths.joined + "/" + k.Range.String()
}
