package cardcache

import (
	"context"
	"time"

	pr "github.com/unkn0wn-root/cardcache/provider"
	"github.com/unkn0wn-root/cardcache/store"
)

// Aggregator resolves the cardinality of candidate index-column probes
// and ranks them ascending. Safe for concurrent use; the memoizing
// cache behind it is shared across all concurrent calls.
type Aggregator interface {
	// Cardinalities resolves every probe in req and returns them ranked
	// by cardinality, smallest first. Each resolved probe's cardinality
	// slot is filled as a side effect. With early return enabled the
	// result may be partial; see Request.
	Cardinalities(ctx context.Context, req Request) (*RankedResult, error)

	// Close stops the executor and releases the memo provider. Queued
	// work is abandoned; in-flight work is not interrupted.
	Close(ctx context.Context) error
}

// Request is one aggregation call.
type Request struct {
	Schema string
	Table  string

	// Auths is the caller's authorization set; counts are restricted to
	// increments visible under it.
	Auths store.Authorizations

	// Probes are resolved in parallel. Each probe's cardinality slot is
	// mutated with its resolved value, including probes abandoned to
	// the background by an early return.
	Probes []*Probe

	// EarlyReturn permits returning a partial ranking once the smallest
	// resolved cardinality is <= Threshold. When false, Threshold and
	// PollInterval are ignored and the call blocks for every probe.
	EarlyReturn  bool
	Threshold    int64
	PollInterval time.Duration // 0 => 10ms when EarlyReturn
}

// Options tune a new Aggregator.
// Reader and Provider are required; others have defaults.
type Options struct {
	// Required
	Reader   store.Reader // counter store, bound for this aggregator's lifetime
	Provider pr.Provider  // bounded byte store for memoized point lookups

	Logger      Logger        // if nil, NopLogger
	Hooks       Hooks         // if nil, NopHooks
	EntryTTL    time.Duration // memo max entry age; 0 => 5m
	Concurrency int           // admission bound; 0 => 4 x GOMAXPROCS
}

func New(opts Options) (Aggregator, error) {
	return newAggregator(opts)
}
