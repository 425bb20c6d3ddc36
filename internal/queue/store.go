package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
	"github.com/taskqd/taskqd/pkg/id"
)

var (
	// ErrCapacityExceeded is returned by Push when the queue is at capacity.
	ErrCapacityExceeded = errors.New("queue: capacity exceeded")
	// ErrNotFound is returned for operations on a message that was already
	// acknowledged or dead-lettered.
	ErrNotFound = errors.New("queue: message not found")
)

// leaseRecord is persisted at lease/{group}. Its presence is what blocks the
// rest of the group: at most one lease key exists per group.
type leaseRecord struct {
	ID          string `json:"id"`
	Seq         uint64 `json:"seq"`
	ExpiresAtMs int64  `json:"expires_ms"`
}

// ref locates a message from its id.
type ref struct {
	group string
	seq   uint64
}

// Store owns all message records for one queue. Mutations touching a group
// must run under that group's lock (see lockGroup); the Engine is the only
// caller and holds it across peek-then-lease so the pair is atomic.
type Store struct {
	db       *pebblestore.DB
	queue    string
	capacity int

	mu      sync.Mutex // guards lastSeq and size
	lastSeq uint64
	size    int

	gmu    sync.Mutex
	groups map[string]*sync.Mutex
}

// OpenStore initializes a Store and restores lastSeq and the live message
// count from queue metadata if present.
func OpenStore(db *pebblestore.DB, queue string, capacity int) (*Store, error) {
	s := &Store{db: db, queue: queue, capacity: capacity, groups: make(map[string]*sync.Mutex)}
	meta, err := db.Get(metaKey(queue))
	if err == nil && len(meta) >= 12 {
		s.lastSeq = binary.BigEndian.Uint64(meta[:8])
		s.size = int(binary.BigEndian.Uint32(meta[8:12]))
	}
	return s, nil
}

// lockGroup returns the mutex serializing mutations for one group. Distinct
// groups get distinct locks and never block each other.
func (s *Store) lockGroup(group string) *sync.Mutex {
	s.gmu.Lock()
	defer s.gmu.Unlock()
	mu, ok := s.groups[group]
	if !ok {
		mu = &sync.Mutex{}
		s.groups[group] = mu
	}
	return mu
}

func (s *Store) metaValue() []byte {
	var meta [12]byte
	binary.BigEndian.PutUint64(meta[0:8], s.lastSeq)
	binary.BigEndian.PutUint32(meta[8:12], uint32(s.size))
	return meta[:]
}

func encodeRef(r ref) []byte {
	out := make([]byte, 8+len(r.group))
	binary.BigEndian.PutUint64(out[:8], r.seq)
	copy(out[8:], r.group)
	return out
}

func decodeRef(b []byte) (ref, error) {
	if len(b) < 9 {
		return ref{}, fmt.Errorf("queue: ref value too short")
	}
	return ref{seq: binary.BigEndian.Uint64(b[:8]), group: string(b[8:])}, nil
}

// resolve maps a message id to its group and sequence.
func (s *Store) resolve(msgID id.ID) (ref, error) {
	val, err := s.db.Get(refKey(s.queue, msgID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return ref{}, ErrNotFound
		}
		return ref{}, err
	}
	return decodeRef(val)
}

// Push appends a message to the tail of its group. The caller must have set
// ID, GroupID, DedupKey, Body, and EnqueuedAtMs; Push assigns Seq.
func (s *Store) Push(ctx context.Context, m *Message) error {
	s.mu.Lock()
	if s.capacity > 0 && s.size >= s.capacity {
		s.mu.Unlock()
		return ErrCapacityExceeded
	}
	s.lastSeq++
	s.size++
	m.Seq = s.lastSeq
	metaVal := s.metaValue()
	s.mu.Unlock()

	val, err := encodeMessage(m)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(s.queue, m.GroupID, m.Seq), val, nil); err != nil {
		return err
	}
	if err := b.Set(refKey(s.queue, m.ID), encodeRef(ref{group: m.GroupID, seq: m.Seq}), nil); err != nil {
		return err
	}
	if err := b.Set(metaKey(s.queue), metaVal, nil); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		s.mu.Lock()
		s.size--
		s.mu.Unlock()
		return err
	}
	return nil
}

// getLease returns the group's active lease record, or nil when unleased.
func (s *Store) getLease(group string) (*leaseRecord, error) {
	val, err := s.db.Get(leaseKey(s.queue, group))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var lr leaseRecord
	if err := json.Unmarshal(val, &lr); err != nil {
		return nil, fmt.Errorf("queue: decode lease: %w", err)
	}
	return &lr, nil
}

// PeekNextAvailable returns the oldest available message in the group, or nil
// if the group is empty or its head is currently leased. This is the ordering
// enforcement point: nothing behind an in-flight head is ever returned.
func (s *Store) PeekNextAvailable(group string) (*Message, error) {
	lr, err := s.getLease(group)
	if err != nil {
		return nil, err
	}
	if lr != nil {
		return nil, nil
	}

	lo, hi := keyRange(msgPrefix(s.queue, group))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.First() {
		return nil, nil
	}
	m, err := decodeMessage(iter.Value())
	if err != nil {
		return nil, err
	}
	k := iter.Key()
	m.Seq = binary.BigEndian.Uint64(k[len(k)-8:])
	return m, nil
}

// Lease marks a message in-flight for the given duration and increments its
// receive count. Must be called under the group lock, with m the group head.
func (s *Store) Lease(ctx context.Context, m *Message, d time.Duration, nowMs int64) error {
	m.ReceiveCount++
	m.LeaseExpiresAtMs = nowMs + d.Milliseconds()

	val, err := encodeMessage(m)
	if err != nil {
		return err
	}
	lr, err := json.Marshal(leaseRecord{ID: m.ID.String(), Seq: m.Seq, ExpiresAtMs: m.LeaseExpiresAtMs})
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(s.queue, m.GroupID, m.Seq), val, nil); err != nil {
		return err
	}
	if err := b.Set(leaseKey(s.queue, m.GroupID), lr, nil); err != nil {
		return err
	}
	if err := b.Set(leaseIdxKey(s.queue, m.LeaseExpiresAtMs, m.GroupID), m.ID.Bytes(), nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// load reads and decodes the message at a ref.
func (s *Store) load(r ref) (*Message, error) {
	val, err := s.db.Get(msgKey(s.queue, r.group, r.seq))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m, err := decodeMessage(val)
	if err != nil {
		return nil, err
	}
	m.Seq = r.seq
	return m, nil
}

// clearLease stages deletion of the group's lease key and its expiry index
// entry into an existing batch, but only when the lease belongs to msgID.
func (s *Store) clearLease(b *pebble.Batch, group string, msgID id.ID) error {
	lr, err := s.getLease(group)
	if err != nil {
		return err
	}
	if lr == nil || lr.ID != msgID.String() {
		return nil
	}
	if err := b.Delete(leaseKey(s.queue, group), nil); err != nil {
		return err
	}
	return b.Delete(leaseIdxKey(s.queue, lr.ExpiresAtMs, group), nil)
}

// Delete permanently removes an acknowledged message, along with its ref and
// any lease it still holds. Must be called under the group lock.
func (s *Store) Delete(ctx context.Context, msgID id.ID) error {
	r, err := s.resolve(msgID)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(msgKey(s.queue, r.group, r.seq), nil); err != nil {
		return err
	}
	if err := b.Delete(refKey(s.queue, msgID), nil); err != nil {
		return err
	}
	if err := s.clearLease(b, r.group, msgID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.size > 0 {
		s.size--
	}
	metaVal := s.metaValue()
	s.mu.Unlock()
	if err := b.Set(metaKey(s.queue), metaVal, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// ReleaseForRetry clears the lease so the message becomes available again at
// the head of its group. The message record is untouched, so original order
// is preserved. A release for a message that no longer holds the lease is a
// no-op. Must be called under the group lock.
func (s *Store) ReleaseForRetry(ctx context.Context, msgID id.ID) error {
	r, err := s.resolve(msgID)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.clearLease(b, r.group, msgID); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	return s.db.CommitBatch(ctx, b)
}

// ExpiredLease identifies a leased message whose lease ran out.
type ExpiredLease struct {
	Group       string
	MsgID       id.ID
	ExpiresAtMs int64
}

// ScanExpiredLeases returns up to max leases that expired at or before nowMs,
// in expiry order. The expiry index is sorted, so the scan stops at the first
// unexpired entry.
func (s *Store) ScanExpiredLeases(nowMs int64, max int) ([]ExpiredLease, error) {
	lo, hi := keyRange(leaseIdxPrefix(s.queue))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	prefixLen := len(lo)
	var out []ExpiredLease
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < prefixLen+8+1 {
			continue
		}
		exp := int64(binary.BigEndian.Uint64(k[prefixLen : prefixLen+8]))
		if exp > nowMs {
			break
		}
		msgID, err := id.FromBytes(iter.Value())
		if err != nil {
			continue
		}
		out = append(out, ExpiredLease{
			Group:       string(k[prefixLen+8:]),
			MsgID:       msgID,
			ExpiresAtMs: exp,
		})
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// GroupDepth counts the messages currently held for a group, including a
// leased head.
func (s *Store) GroupDepth(group string) (int, error) {
	lo, hi := keyRange(msgPrefix(s.queue, group))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, nil
}

// Size returns the live message count across all groups.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
