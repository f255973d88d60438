package cardcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/cardcache/store"
)

const (
	defaultEntryTTL     = 5 * time.Minute
	defaultPollInterval = 10 * time.Millisecond
)

type aggregator struct {
	memo  *memoCache
	exec  *executor
	log   Logger
	hooks Hooks
}

func newAggregator(opts Options) (*aggregator, error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("cardcache: reader is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("cardcache: provider is required")
	}

	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	ttl := coalesce[time.Duration](opts.EntryTTL, defaultEntryTTL)

	return &aggregator{
		memo:  newMemoCache(opts.Provider, opts.Reader, ttl, log, hooks),
		exec:  newExecutor(opts.Concurrency),
		log:   log,
		hooks: hooks,
	}, nil
}

func (a *aggregator) Close(ctx context.Context) error {
	a.exec.Close()
	return a.memo.provider.Close(ctx)
}

type colResult struct {
	probe *Probe
	card  int64
	err   error
}

// Cardinalities implements the poll-and-rank protocol: one task per
// probe, a completion channel sized so background publishes never
// block, rounds of sleep-then-drain, and an optional early return once
// the smallest resolved cardinality is at or below the threshold.
func (a *aggregator) Cardinalities(ctx context.Context, req Request) (*RankedResult, error) {
	ranked := NewRankedResult()
	if len(req.Probes) == 0 {
		return ranked, nil
	}

	threshold := req.Threshold
	poll := req.PollInterval
	if req.EarlyReturn {
		if poll <= 0 {
			poll = defaultPollInterval
		}
	} else {
		// block until every probe completes
		threshold = 0
		poll = 0
	}

	results := make(chan colResult, len(req.Probes))
	for _, p := range req.Probes {
		p := p
		if err := a.exec.Spawn(func() {
			start := time.Now()
			card, err := a.columnCardinality(ctx, req, p)
			if err == nil {
				p.setCardinality(card)
				a.log.Debug("resolved column cardinality", Fields{
					"column":      p.Column,
					"cardinality": card,
					"took":        time.Since(start),
				})
			}
			results <- colResult{probe: p, card: card, err: err}
		}); err != nil {
			results <- colResult{probe: p, err: err}
		}
	}

	remaining := len(req.Probes)
	var errs []error
	for remaining > 0 {
		if poll > 0 {
			// let concurrent tasks run for one polling round
			select {
			case <-time.After(poll):
			case <-ctx.Done():
				a.reap(results, remaining)
				return nil, &AggregateError{Errs: append(errs, ctx.Err())}
			}
		} else {
			select {
			case r := <-results:
				remaining--
				a.collect(ranked, r, &errs)
			case <-ctx.Done():
				a.reap(results, remaining)
				return nil, &AggregateError{Errs: append(errs, ctx.Err())}
			}
		}

		// drain everything that completed in the meantime
		for drained := false; !drained; {
			select {
			case r := <-results:
				remaining--
				a.collect(ranked, r, &errs)
			default:
				drained = true
			}
		}

		// a missing counter table or any awaited failure surfaces now,
		// as one aggregate error; remaining tasks are left running
		if len(errs) > 0 {
			a.reap(results, remaining)
			return nil, &AggregateError{Errs: errs}
		}

		if req.EarlyReturn {
			if min, probes, ok := ranked.Min(); ok && min <= threshold {
				a.hooks.EarlyReturn(probes[0].Column, min, threshold)
				a.log.Debug("smallest cardinality below threshold, returning early", Fields{
					"column":      probes[0].Column,
					"cardinality": min,
					"threshold":   threshold,
					"outstanding": remaining,
				})
				a.reap(results, remaining)
				return ranked, nil
			}
		}
	}
	return ranked, nil
}

func (a *aggregator) collect(ranked *RankedResult, r colResult, errs *[]error) {
	if r.err != nil {
		*errs = append(*errs, fmt.Errorf("column %s: %w", r.probe.Column, r.err))
		return
	}
	ranked.add(r.card, r.probe)
}

// reap drains results the caller stopped awaiting. Background tasks
// still write through to the shared memo; their failures are recorded
// for diagnostics only and never reach any caller.
func (a *aggregator) reap(results <-chan colResult, remaining int) {
	if remaining <= 0 {
		return
	}
	go func() {
		for i := 0; i < remaining; i++ {
			r := <-results
			if r.err != nil {
				a.hooks.BackgroundFailure(r.probe.Column, r.err)
				a.log.Warn("background cardinality task failed", Fields{
					"column": r.probe.Column,
					"err":    r.err,
				})
			}
		}
	}()
}

type famResult struct {
	card int64
	err  error
}

// columnCardinality fans one admission-gated sub-task out per column
// family and sums their counts.
func (a *aggregator) columnCardinality(ctx context.Context, req Request, p *Probe) (int64, error) {
	fams := make(chan famResult, len(p.ranges))
	n := 0
	for family, ranges := range p.ranges {
		family, ranges := family, ranges
		n++
		if err := a.exec.Submit(func() {
			card, err := a.familyCardinality(ctx, req, family, ranges)
			fams <- famResult{card: card, err: err}
		}); err != nil {
			fams <- famResult{err: err}
		}
	}

	var sum int64
	var errs []error
	for i := 0; i < n; i++ {
		select {
		case r := <-fams:
			if r.err != nil {
				errs = append(errs, r.err)
				continue
			}
			sum += r.card
		case <-a.exec.closing():
			return 0, ErrClosed
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return sum, nil
}

// familyCardinality partitions the family's ranges into exact and
// non-exact keys. Exact keys resolve through the memo (batched when
// more than one); non-exact keys resolve with one direct, uncached
// summed read.
func (a *aggregator) familyCardinality(ctx context.Context, req Request, family string, ranges []store.ValueRange) (int64, error) {
	var exact, nonExact []store.CacheKey
	for _, vr := range ranges {
		key := store.CacheKey{
			Schema: req.Schema,
			Table:  req.Table,
			Family: family,
			Auths:  req.Auths,
			Range:  vr,
		}
		if vr.IsExact() {
			exact = append(exact, key)
		} else {
			nonExact = append(nonExact, key)
		}
	}

	var sum int64
	switch len(exact) {
	case 0:
	case 1:
		n, err := a.memo.Load(ctx, exact[0])
		if err != nil {
			return 0, err
		}
		sum += n
	default:
		counts, err := a.memo.LoadAll(ctx, exact)
		if err != nil {
			return 0, err
		}
		for _, n := range counts {
			sum += n
		}
	}

	if len(nonExact) > 0 {
		n, err := a.memo.reader.SumCardinalities(ctx, nonExact)
		if err != nil {
			return 0, err
		}
		sum += n
	}
	return sum, nil
}
