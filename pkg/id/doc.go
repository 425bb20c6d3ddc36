// Package id provides 128-bit, time-ordered identifiers.
//
// IDs embed a millisecond timestamp followed by a per-process sequence, so
// their byte order matches creation order. The queue engine relies on this
// property to tie-break messages enqueued within the same millisecond.
package id
