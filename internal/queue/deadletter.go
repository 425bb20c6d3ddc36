package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
)

// Dead-letter reasons recorded by the engine.
const (
	ReasonHandlerFailed = "handler failed"
	ReasonLeaseExpired  = "lease expired"
)

// DeadLetter is a terminal record of a message that exhausted its retry
// budget. Nothing consumes these automatically; they exist for operator
// inspection and manual replay.
type DeadLetter struct {
	MessageID    string `json:"message_id"`
	GroupID      string `json:"group_id"`
	DedupKey     string `json:"dedup_key"`
	Body         []byte `json:"body"`
	EnqueuedAtMs int64  `json:"enqueued_ms"`
	DeadAtMs     int64  `json:"dead_ms"`
	ReceiveCount int    `json:"receive_count"`
	Reason       string `json:"reason"`
}

// DeadLetters is the append-only sink for exhausted messages. Entries are
// keyed by group and original sequence, so per-group arrival order is
// preserved for forensic replay. Entries are purged after the retention
// window.
type DeadLetters struct {
	db        *pebblestore.DB
	queue     string
	retention time.Duration
}

// NewDeadLetters creates the sink for a queue.
func NewDeadLetters(db *pebblestore.DB, queue string, retention time.Duration) *DeadLetters {
	return &DeadLetters{db: db, queue: queue, retention: retention}
}

// stage writes the entry for m into an existing batch so dead-lettering
// commits atomically with the message deletion.
func (dl *DeadLetters) stage(b *pebble.Batch, m *Message, reason string, nowMs int64) error {
	entry := DeadLetter{
		MessageID:    m.ID.String(),
		GroupID:      m.GroupID,
		DedupKey:     m.DedupKey,
		Body:         m.Body,
		EnqueuedAtMs: m.EnqueuedAtMs,
		DeadAtMs:     nowMs,
		ReceiveCount: m.ReceiveCount,
		Reason:       reason,
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.Set(dlqKey(dl.queue, m.GroupID, m.Seq), val, nil)
}

// List returns dead letters in per-group arrival order. An empty group lists
// entries across all groups. limit <= 0 means no limit.
func (dl *DeadLetters) List(group string, limit int) ([]DeadLetter, error) {
	var prefix []byte
	if group == "" {
		prefix = dlqPrefix(dl.queue)
	} else {
		prefix = dlqGroupPrefix(dl.queue, group)
	}
	lo, hi := keyRange(prefix)
	iter, err := dl.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []DeadLetter
	for ok := iter.First(); ok; ok = iter.Next() {
		var entry DeadLetter
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of dead letters for a group (all groups when empty).
func (dl *DeadLetters) Count(group string) (int, error) {
	entries, err := dl.List(group, 0)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// PurgeExpired removes up to max entries older than the retention window.
func (dl *DeadLetters) PurgeExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	lo, hi := keyRange(dlqPrefix(dl.queue))
	iter, err := dl.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := dl.db.NewBatch()
	defer b.Close()
	purged := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		var entry DeadLetter
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		if nowMs-entry.DeadAtMs <= dl.retention.Milliseconds() {
			continue
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return purged, err
		}
		purged++
		if max > 0 && purged >= max {
			break
		}
	}
	if purged == 0 {
		return 0, nil
	}
	if err := dl.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return purged, nil
}
