// Package cardcache estimates, at query-planning time, how selective
// each candidate indexed column predicate is, so a planner can scan the
// index whose value ranges match the fewest rows.
//
// Components:
//   - store.Reader: authorization-aware counter store (Memory, Redis).
//   - provider.Provider: bounded byte store memoizing exact point
//     lookups (e.g. Ristretto, BigCache).
//   - Aggregator: fans one task out per probed column (and one per
//     column family inside it) under a single admission bound, merges
//     completed counts into a cardinality-ascending ranking, and can
//     return early once the smallest count drops below a threshold.
//
// Only exact ranges (denoting precisely one value) are memoized;
// unbounded or multi-value ranges always read through to the store,
// since their key space is effectively unbounded and their result is
// cheap to recompute.
//
// Early return trades completeness for latency: outstanding column
// tasks are never cancelled, keep warming the shared memo, and report
// failures through Hooks only.
package cardcache
