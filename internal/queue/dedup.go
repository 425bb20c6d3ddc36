package queue

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
	"github.com/taskqd/taskqd/pkg/id"
)

// Fingerprint derives the content fingerprint used for duplicate suppression.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// DedupIndex maps content fingerprints to the message id of their first
// admission. A fingerprint seen again within the window suppresses a new
// enqueue. The check is best effort under concurrency: two near-simultaneous
// identical submissions may both pass, which the contract accepts.
type DedupIndex struct {
	db     *pebblestore.DB
	queue  string
	window time.Duration
}

// NewDedupIndex creates a dedup index for a queue.
func NewDedupIndex(db *pebblestore.DB, queue string, window time.Duration) *DedupIndex {
	return &DedupIndex{db: db, queue: queue, window: window}
}

// Entry value: message id (16B) | first-seen ms (8B BE)

func encodeDedupEntry(msgID id.ID, seenMs int64) []byte {
	out := make([]byte, 24)
	copy(out[:16], msgID[:])
	binary.BigEndian.PutUint64(out[16:], uint64(seenMs))
	return out
}

// Lookup reports whether the fingerprint was recorded within the window and,
// if so, the message id of the original admission. Entries past the window
// are evicted lazily on lookup.
func (d *DedupIndex) Lookup(fingerprint string, nowMs int64) (id.ID, bool) {
	key := dedupKey(d.queue, fingerprint)
	val, err := d.db.Get(key)
	if err != nil || len(val) < 24 {
		return id.Zero, false
	}
	seenMs := int64(binary.BigEndian.Uint64(val[16:24]))
	if nowMs-seenMs > d.window.Milliseconds() {
		_ = d.db.Delete(key)
		return id.Zero, false
	}
	msgID, err := id.FromBytes(val[:16])
	if err != nil {
		return id.Zero, false
	}
	return msgID, true
}

// Record stores the fingerprint with its first-seen timestamp.
func (d *DedupIndex) Record(fingerprint string, msgID id.ID, nowMs int64) error {
	return d.db.Set(dedupKey(d.queue, fingerprint), encodeDedupEntry(msgID, nowMs))
}

// EvictExpired removes up to max entries older than the window. Called by the
// sweeper so the index does not grow without bound.
func (d *DedupIndex) EvictExpired(nowMs int64, max int) (int, error) {
	lo, hi := keyRange(dedupPrefix(d.queue))
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := d.db.NewBatch()
	defer b.Close()
	evicted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		val := iter.Value()
		if len(val) < 24 {
			continue
		}
		seenMs := int64(binary.BigEndian.Uint64(val[16:24]))
		if nowMs-seenMs <= d.window.Milliseconds() {
			continue
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return evicted, err
		}
		evicted++
		if max > 0 && evicted >= max {
			break
		}
	}
	if evicted == 0 {
		return 0, nil
	}
	if err := d.db.CommitBatch(context.Background(), b); err != nil {
		return 0, err
	}
	return evicted, nil
}
