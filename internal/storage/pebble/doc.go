// Package pebblestore wraps cockroachdb/pebble with the durability policy and
// helpers used by the queue engine.
//
// The wrapper owns the fsync decision: callers build batches and commit them
// through CommitBatch without knowing whether the WAL is synced per commit,
// on an interval, or not at all.
package pebblestore
