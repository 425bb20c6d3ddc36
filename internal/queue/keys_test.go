package queue

import (
	"bytes"
	"testing"
)

func TestMsgKeysSortBySeq(t *testing.T) {
	prev := msgKey("tasks", "g1", 0)
	for _, seq := range []uint64{1, 2, 255, 256, 1 << 32} {
		k := msgKey("tasks", "g1", seq)
		if bytes.Compare(prev, k) >= 0 {
			t.Fatalf("seq %d does not sort after its predecessor", seq)
		}
		prev = k
	}
}

func TestLeaseIdxKeysSortByExpiry(t *testing.T) {
	a := leaseIdxKey("tasks", 1000, "g2")
	b := leaseIdxKey("tasks", 2000, "g1")
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expiry order lost: group must not dominate timestamp")
	}
}

func TestKeyRangeBoundsPrefix(t *testing.T) {
	lo, hi := keyRange(msgPrefix("tasks", "g1"))
	inside := msgKey("tasks", "g1", 42)
	if bytes.Compare(inside, lo) < 0 || bytes.Compare(inside, hi) >= 0 {
		t.Fatalf("key outside its own prefix range")
	}
	other := msgKey("tasks", "g2", 42)
	if bytes.Compare(other, lo) >= 0 && bytes.Compare(other, hi) < 0 {
		t.Fatalf("foreign group inside range")
	}
}
