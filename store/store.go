// Package store defines the counter-store contract the cardinality
// aggregator reads from, plus two implementations: an in-process
// MemoryStore and a Redis-backed RedisStore.
//
// The store keeps, per (table, column family, value, visibility label),
// the number of rows whose indexed column holds that value. Writers
// buffer increments until an explicit Flush; the flush boundary is the
// only cross-writer visibility guarantee. Readers sum counts over a
// value range, restricted to increments whose visibility label is empty
// or contained in the reader's authorization set.
package store

import (
	"context"
	"errors"
)

var (
	// ErrTableNotFound reports that the counter table for a read or
	// flush does not exist. Callers treat this as a configuration
	// error and never retry.
	ErrTableNotFound = errors.New("store: table not found")

	// ErrTableExists reports a Create against an existing table or a
	// Rename onto an existing table.
	ErrTableExists = errors.New("store: table already exists")
)

// Store manages counter-table lifecycle and hands out writers/readers.
type Store interface {
	// Create provisions the counter table for schema.table.
	Create(ctx context.Context, schema, table string) error

	// Drop removes the counter table and all of its counts.
	Drop(ctx context.Context, schema, table string) error

	// Rename moves all counts of schema.oldName under schema.newName.
	Rename(ctx context.Context, schema, oldName, newName string) error

	// Exists reports whether the counter table is provisioned.
	Exists(ctx context.Context, schema, table string) (bool, error)

	// Writer returns a buffering writer for schema.table.
	Writer(schema, table string) Writer

	// Reader returns a reader over the whole store.
	Reader() Reader
}

// Writer buffers increments for one table. Increments are not guaranteed
// visible to any reader until Flush returns. Writers are not safe for
// concurrent use.
type Writer interface {
	// IncrementCardinality buffers a +1 for (value, family) under the
	// given visibility label. An empty label is visible to everyone.
	IncrementCardinality(value, family, visibility string)

	// IncrementRowCount buffers a +1 to the table's total row count.
	IncrementRowCount()

	// Flush makes all buffered increments visible to subsequent reads.
	Flush(ctx context.Context) error

	// Close flushes any remaining increments and releases the writer.
	Close(ctx context.Context) error
}

// Reader resolves cardinalities. Implementations must be safe for
// concurrent use.
type Reader interface {
	// GetCardinality sums the counts within the key's range and family,
	// restricted to the key's authorization set.
	GetCardinality(ctx context.Context, key CacheKey) (int64, error)

	// SumCardinalities returns the summed cardinality over a key
	// collection in one call. Used for the uncached non-exact path.
	SumCardinalities(ctx context.Context, keys []CacheKey) (int64, error)

	// GetCardinalities resolves a batch of keys. The result has exactly
	// one entry per requested key, zero for keys never incremented; no
	// key is ever omitted.
	GetCardinalities(ctx context.Context, keys []CacheKey) (map[CacheKey]int64, error)

	// NumRows returns the table's total row count.
	NumRows(ctx context.Context, schema, table string) (int64, error)
}

// IndexFamily returns the counter column family for an indexed column,
// e.g. IndexFamily("cf", "firstname") == "cf_firstname".
func IndexFamily(family, qualifier string) string {
	return family + "_" + qualifier
}
