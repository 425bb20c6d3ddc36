// Package serverrun boots a taskqd instance: it opens the runtime, starts the
// sweeper, the HTTP API, and optionally the in-process consumer loop, and
// blocks until the context is cancelled or a termination signal arrives.
package serverrun
