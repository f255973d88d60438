package cardcache

import (
	"errors"
	"fmt"
)

// ErrClosed reports work submitted to a closed aggregator/executor.
var ErrClosed = errors.New("cardcache: closed")

// AggregateError is the single error an awaiting caller receives when
// any awaited task fails. Failures in tasks abandoned to the background
// after an early return are never part of it.
type AggregateError struct {
	Errs []error
}

func (e *AggregateError) Error() string {
	switch len(e.Errs) {
	case 0:
		return "cardinality aggregation failed"
	case 1:
		return fmt.Sprintf("cardinality aggregation failed: %v", e.Errs[0])
	default:
		return fmt.Sprintf("cardinality aggregation failed: %d errors, first: %v", len(e.Errs), e.Errs[0])
	}
}

func (e *AggregateError) Unwrap() []error { return e.Errs }
