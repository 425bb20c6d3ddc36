package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
	"github.com/taskqd/taskqd/pkg/id"
	"github.com/taskqd/taskqd/pkg/log"
)

// ErrQueueFull is returned by Enqueue when the store is at capacity. Callers
// should surface it as a retryable condition.
var ErrQueueFull = errors.New("queue: full")

// Options are the engine policy knobs.
type Options struct {
	// Capacity bounds admitted, unresolved messages. 0 means unbounded.
	Capacity int
	// RetryBudget is the number of deliveries before a failing message is
	// dead-lettered.
	RetryBudget int
	// DedupWindow is how long a content fingerprint suppresses resubmission.
	DedupWindow time.Duration
	// DLQRetention is how long dead letters are kept for inspection.
	DLQRetention time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryBudget <= 0 {
		o.RetryBudget = 3
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 5 * time.Minute
	}
	if o.DLQRetention <= 0 {
		o.DLQRetention = 14 * 24 * time.Hour
	}
	return o
}

// Engine orchestrates enqueue, receive, ack, and fail against the store, the
// dedup index, and the dead-letter sink. It is the only writer of message
// state; consumers hold a transient lease reference, never mutation rights.
type Engine struct {
	db     *pebblestore.DB
	queue  string
	store  *Store
	dedup  *DedupIndex
	dlq    *DeadLetters
	gen    *id.Generator
	logger log.Logger

	retryBudget int
	nowMs       func() int64

	sweepMu   sync.Mutex
	sweepStop chan struct{}
}

// NewEngine opens the queue engine on the given database.
func NewEngine(db *pebblestore.DB, queue string, opts Options, logger log.Logger) (*Engine, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue: name is required")
	}
	opts = opts.withDefaults()
	store, err := OpenStore(db, queue, opts.Capacity)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Engine{
		db:          db,
		queue:       queue,
		store:       store,
		dedup:       NewDedupIndex(db, queue, opts.DedupWindow),
		dlq:         NewDeadLetters(db, queue, opts.DLQRetention),
		gen:         id.NewGenerator(),
		logger:      logger.WithComponent("queue"),
		retryBudget: opts.RetryBudget,
		nowMs:       func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Queue returns the queue name.
func (e *Engine) Queue() string { return e.queue }

// DeadLetters exposes the sink for operator inspection.
func (e *Engine) DeadLetters() *DeadLetters { return e.dlq }

// Close stops background work. The underlying database is owned by the caller.
func (e *Engine) Close() {
	e.StopSweeper()
}

func validGroup(group string) error {
	if group == "" {
		return fmt.Errorf("queue: group id is required")
	}
	if strings.Contains(group, "/") {
		return fmt.Errorf("queue: group id must not contain '/': %q", group)
	}
	return nil
}

// EnqueueResult reports the outcome of an admission attempt.
type EnqueueResult struct {
	// MessageID identifies the admitted message, or the original admission
	// when the submission was a duplicate.
	MessageID id.ID
	// Duplicate is true when the fingerprint was seen within the dedup window
	// and no new message was admitted.
	Duplicate bool
}

// Enqueue admits a message at the tail of the group, fingerprinting the body
// itself for duplicate suppression.
func (e *Engine) Enqueue(ctx context.Context, group string, body []byte) (id.ID, error) {
	res, err := e.EnqueueKeyed(ctx, group, Fingerprint(body), body)
	return res.MessageID, err
}

// EnqueueKeyed admits a message using an explicit dedup fingerprint instead of
// the body hash. Producers use this when the stored body carries
// server-assigned fields that must not defeat duplicate detection. A
// fingerprint recorded within the dedup window suppresses the admission and
// returns the original message id.
func (e *Engine) EnqueueKeyed(ctx context.Context, group, fingerprint string, body []byte) (EnqueueResult, error) {
	if err := validGroup(group); err != nil {
		return EnqueueResult{}, err
	}
	now := e.nowMs()

	mu := e.store.lockGroup(group)
	mu.Lock()
	defer mu.Unlock()

	if prev, ok := e.dedup.Lookup(fingerprint, now); ok {
		e.logger.Debug("duplicate submission suppressed",
			log.Str("group", group), log.Str("message_id", prev.String()))
		return EnqueueResult{MessageID: prev, Duplicate: true}, nil
	}

	m := &Message{
		ID:           e.gen.Next(),
		GroupID:      group,
		DedupKey:     fingerprint,
		Body:         append([]byte(nil), body...),
		EnqueuedAtMs: now,
	}
	if err := e.store.Push(ctx, m); err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			return EnqueueResult{}, ErrQueueFull
		}
		return EnqueueResult{}, err
	}
	if err := e.dedup.Record(fingerprint, m.ID, now); err != nil {
		// Dedup is best effort; a lost record only widens the duplicate window.
		e.logger.Warn("dedup record failed", log.Err(err), log.Str("group", group))
	}
	e.logger.Debug("message enqueued",
		log.Str("group", group), log.Str("message_id", m.ID.String()), log.Int64("seq", int64(m.Seq)))
	return EnqueueResult{MessageID: m.ID}, nil
}

// Get returns a message by id. ErrNotFound after it was acked or
// dead-lettered.
func (e *Engine) Get(msgID id.ID) (*Message, error) {
	r, err := e.store.resolve(msgID)
	if err != nil {
		return nil, err
	}
	return e.store.load(r)
}

// Receive leases the group's head message for leaseDur and returns it, or nil
// when the group is empty or its head is already in flight. Peek and lease
// run under the group lock, so two consumers can never lease the same head.
// Receive never blocks waiting for work; idle waiting is the caller's loop.
func (e *Engine) Receive(ctx context.Context, group string, leaseDur time.Duration) (*Message, error) {
	if err := validGroup(group); err != nil {
		return nil, err
	}
	if leaseDur <= 0 {
		leaseDur = 30 * time.Second
	}

	mu := e.store.lockGroup(group)
	mu.Lock()
	defer mu.Unlock()

	m, err := e.store.PeekNextAvailable(group)
	if err != nil || m == nil {
		return nil, err
	}
	if err := e.store.Lease(ctx, m, leaseDur, e.nowMs()); err != nil {
		return nil, err
	}
	e.logger.Debug("message leased",
		log.Str("group", group), log.Str("message_id", m.ID.String()),
		log.Int("receive_count", m.ReceiveCount))
	return m, nil
}

// Ack confirms successful processing and deletes the message. An ack for a
// message that was already resolved is expected under redelivery and is a
// logged no-op, never an error.
func (e *Engine) Ack(ctx context.Context, msgID id.ID) error {
	r, err := e.store.resolve(msgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.logger.Debug("ack for already resolved message", log.Str("message_id", msgID.String()))
			return nil
		}
		return err
	}

	mu := e.store.lockGroup(r.group)
	mu.Lock()
	defer mu.Unlock()

	if err := e.store.Delete(ctx, msgID); err != nil {
		if errors.Is(err, ErrNotFound) {
			e.logger.Debug("ack for already resolved message", log.Str("message_id", msgID.String()))
			return nil
		}
		return err
	}
	return nil
}

// Fail reports consumer failure. Under the retry budget the message returns
// to the head of its group; at or past the budget it is dead-lettered. The
// sweeper applies the identical decision to expired leases, so a crashed
// consumer and an explicit failure are handled the same way.
func (e *Engine) Fail(ctx context.Context, msgID id.ID, reason string) error {
	r, err := e.store.resolve(msgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.logger.Debug("fail for already resolved message", log.Str("message_id", msgID.String()))
			return nil
		}
		return err
	}

	mu := e.store.lockGroup(r.group)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; the sweeper may have raced us here.
	m, err := e.store.load(r)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return e.failLocked(ctx, m, reason)
}

// failLocked applies the shared retry-or-dead-letter decision. The caller
// holds the group lock.
func (e *Engine) failLocked(ctx context.Context, m *Message, reason string) error {
	if m.ReceiveCount >= e.retryBudget {
		now := e.nowMs()
		if err := e.deadLetter(ctx, m, reason, now); err != nil {
			return err
		}
		e.logger.Warn("message dead-lettered",
			log.Str("group", m.GroupID), log.Str("message_id", m.ID.String()),
			log.Int("receive_count", m.ReceiveCount), log.Str("reason", reason))
		return nil
	}
	if err := e.store.ReleaseForRetry(ctx, m.ID); err != nil {
		return err
	}
	e.logger.Info("message released for retry",
		log.Str("group", m.GroupID), log.Str("message_id", m.ID.String()),
		log.Int("receive_count", m.ReceiveCount), log.Str("reason", reason))
	return nil
}

// deadLetter atomically records the dead-letter entry and removes the message
// from the live keyspace.
func (e *Engine) deadLetter(ctx context.Context, m *Message, reason string, nowMs int64) error {
	b := e.db.NewBatch()
	defer b.Close()
	if err := e.dlq.stage(b, m, reason, nowMs); err != nil {
		return err
	}
	if err := b.Delete(msgKey(e.queue, m.GroupID, m.Seq), nil); err != nil {
		return err
	}
	if err := b.Delete(refKey(e.queue, m.ID), nil); err != nil {
		return err
	}
	if err := e.store.clearLease(b, m.GroupID, m.ID); err != nil {
		return err
	}

	e.store.mu.Lock()
	if e.store.size > 0 {
		e.store.size--
	}
	metaVal := e.store.metaValue()
	e.store.mu.Unlock()
	if err := b.Set(metaKey(e.queue), metaVal, nil); err != nil {
		return err
	}
	return e.db.CommitBatch(ctx, b)
}

// Stats summarizes one group's state.
type Stats struct {
	Available    int `json:"available"`
	InFlight     int `json:"in_flight"`
	DeadLettered int `json:"dead_lettered"`
}

// GroupStats reports queue depth, in-flight count, and dead-letter count for
// a group.
func (e *Engine) GroupStats(group string) (Stats, error) {
	if err := validGroup(group); err != nil {
		return Stats{}, err
	}
	depth, err := e.store.GroupDepth(group)
	if err != nil {
		return Stats{}, err
	}
	lr, err := e.store.getLease(group)
	if err != nil {
		return Stats{}, err
	}
	inFlight := 0
	if lr != nil {
		inFlight = 1
	}
	dead, err := e.dlq.Count(group)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Available: depth - inFlight, InFlight: inFlight, DeadLettered: dead}, nil
}
