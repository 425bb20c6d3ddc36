package queue

import (
	"context"
	"testing"
	"time"

	"github.com/taskqd/taskqd/pkg/id"
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := OpenStore(openTestDB(t), "tasks", capacity)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func pushMsg(t *testing.T, s *Store, group, body string, enqueuedMs int64) *Message {
	t.Helper()
	m := &Message{
		ID:           id.Make(enqueuedMs, uint64(len(body))),
		GroupID:      group,
		DedupKey:     Fingerprint([]byte(body)),
		Body:         []byte(body),
		EnqueuedAtMs: enqueuedMs,
	}
	if err := s.Push(context.Background(), m); err != nil {
		t.Fatalf("push %q: %v", body, err)
	}
	return m
}

func TestPeekReturnsOldestPerGroup(t *testing.T) {
	s := newTestStore(t, 0)

	if m, err := s.PeekNextAvailable("g1"); err != nil || m != nil {
		t.Fatalf("peek empty: m=%v err=%v", m, err)
	}

	pushMsg(t, s, "g1", "first", 1000)
	pushMsg(t, s, "g1", "second", 2000)
	pushMsg(t, s, "g2", "other", 1500)

	m, err := s.PeekNextAvailable("g1")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if string(m.Body) != "first" {
		t.Fatalf("head = %q", m.Body)
	}
	// Peek does not consume.
	again, _ := s.PeekNextAvailable("g1")
	if again == nil || again.Seq != m.Seq {
		t.Fatalf("second peek moved the head")
	}
}

func TestLeaseHidesGroup(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	m1 := pushMsg(t, s, "g1", "first", 1000)
	pushMsg(t, s, "g1", "second", 2000)

	if err := s.Lease(ctx, m1, 30*time.Second, 1000); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if m1.ReceiveCount != 1 || m1.LeaseExpiresAtMs != 31000 {
		t.Fatalf("lease fields: %+v", m1)
	}

	// The whole group is hidden while the head is leased.
	if m, err := s.PeekNextAvailable("g1"); err != nil || m != nil {
		t.Fatalf("peek during lease: m=%v err=%v", m, err)
	}

	if err := s.ReleaseForRetry(ctx, m1.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	m, err := s.PeekNextAvailable("g1")
	if err != nil || m == nil {
		t.Fatalf("peek after release: m=%v err=%v", m, err)
	}
	if m.ID != m1.ID || m.ReceiveCount != 1 {
		t.Fatalf("release moved or reset the head: %+v", m)
	}
}

func TestReleaseIgnoresStaleHolder(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	m1 := pushMsg(t, s, "g1", "first", 1000)
	if err := s.Lease(ctx, m1, time.Second, 1000); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := s.Delete(ctx, m1.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	m2 := pushMsg(t, s, "g1", "second", 2000)
	if err := s.Lease(ctx, m2, time.Second, 2000); err != nil {
		t.Fatalf("lease second: %v", err)
	}
	// A release naming a resolved predecessor must not clear the active lease.
	if err := s.ReleaseForRetry(ctx, m1.ID); err != ErrNotFound {
		t.Fatalf("stale release: %v", err)
	}
	lr, err := s.getLease("g1")
	if err != nil || lr == nil || lr.ID != m2.ID.String() {
		t.Fatalf("active lease lost: lr=%+v err=%v", lr, err)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	m := pushMsg(t, s, "g1", "only", 1000)
	if err := s.Lease(ctx, m, time.Second, 1000); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.resolve(m.ID); err != ErrNotFound {
		t.Fatalf("resolve after delete: %v", err)
	}
	if lr, _ := s.getLease("g1"); lr != nil {
		t.Fatalf("lease survived delete")
	}
	if s.Size() != 0 {
		t.Fatalf("size = %d", s.Size())
	}
	if exp, _ := s.ScanExpiredLeases(1_000_000, 10); len(exp) != 0 {
		t.Fatalf("expiry index survived delete: %v", exp)
	}
}

func TestScanExpiredLeasesOrderAndCutoff(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	m1 := pushMsg(t, s, "g1", "a", 1000)
	m2 := pushMsg(t, s, "g2", "b", 1000)
	m3 := pushMsg(t, s, "g3", "c", 1000)
	if err := s.Lease(ctx, m2, 5*time.Second, 1000); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := s.Lease(ctx, m1, 2*time.Second, 1000); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := s.Lease(ctx, m3, time.Minute, 1000); err != nil {
		t.Fatalf("lease: %v", err)
	}

	expired, err := s.ScanExpiredLeases(10_000, 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expired = %d, want 2", len(expired))
	}
	// Earliest expiry first, and the unexpired lease is never returned.
	if expired[0].Group != "g1" || expired[1].Group != "g2" {
		t.Fatalf("order: %+v", expired)
	}
	if expired[0].MsgID != m1.ID {
		t.Fatalf("wrong message id in index")
	}

	limited, _ := s.ScanExpiredLeases(10_000, 1)
	if len(limited) != 1 || limited[0].Group != "g1" {
		t.Fatalf("limited scan: %+v", limited)
	}
}

func TestPushCapacity(t *testing.T) {
	s := newTestStore(t, 1)
	pushMsg(t, s, "g1", "a", 1000)

	m := &Message{ID: id.Make(2000, 1), GroupID: "g1", Body: []byte("b"), EnqueuedAtMs: 2000}
	if err := s.Push(context.Background(), m); err != ErrCapacityExceeded {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
}
