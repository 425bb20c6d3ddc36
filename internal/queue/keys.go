package queue

import (
	"encoding/binary"

	"github.com/taskqd/taskqd/pkg/id"
)

// Key prefixes under q/{queue}/.
const (
	prefixMsg      = "msg/"
	prefixRef      = "ref/"
	prefixLease    = "lease/"
	prefixLeaseIdx = "lease_idx/"
	prefixDedup    = "dedup/"
	prefixDLQ      = "dlq/"
)

// queuePrefix returns the base prefix for a queue.
// Format: q/{queue}/
func queuePrefix(queue string) string {
	return "q/" + queue + "/"
}

// metaKey returns the queue metadata key.
// Format: q/{queue}/meta
func metaKey(queue string) []byte {
	return []byte(queuePrefix(queue) + "meta")
}

// msgKey returns the message key for a group and sequence.
// Format: q/{queue}/msg/{group}/{seq 8B BE}
func msgKey(queue, group string, seq uint64) []byte {
	prefix := queuePrefix(queue) + prefixMsg + group + "/"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// msgPrefix returns the prefix for scanning a group's messages in FIFO order.
func msgPrefix(queue, group string) []byte {
	return []byte(queuePrefix(queue) + prefixMsg + group + "/")
}

// refKey returns the id-to-location key for a message.
// Format: q/{queue}/ref/{id 16B}
func refKey(queue string, msgID id.ID) []byte {
	prefix := queuePrefix(queue) + prefixRef
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], msgID[:])
	return key
}

// leaseKey returns the single lease key for a group.
// Format: q/{queue}/lease/{group}
func leaseKey(queue, group string) []byte {
	return []byte(queuePrefix(queue) + prefixLease + group)
}

// leaseIdxKey returns the lease expiry index key.
// Format: q/{queue}/lease_idx/{expires_ms 8B BE}/{group}
func leaseIdxKey(queue string, expiresMs int64, group string) []byte {
	prefix := queuePrefix(queue) + prefixLeaseIdx
	key := make([]byte, len(prefix)+8+len(group))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(expiresMs))
	copy(key[len(prefix)+8:], group)
	return key
}

// leaseIdxPrefix returns the prefix for lease expiry scanning.
func leaseIdxPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixLeaseIdx)
}

// dedupKey returns the dedup index key for a content fingerprint.
// Format: q/{queue}/dedup/{fingerprint}
func dedupKey(queue, fingerprint string) []byte {
	return []byte(queuePrefix(queue) + prefixDedup + fingerprint)
}

// dedupPrefix returns the prefix for dedup eviction scanning.
func dedupPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDedup)
}

// dlqKey returns the dead-letter key for a message.
// Format: q/{queue}/dlq/{group}/{seq 8B BE}
func dlqKey(queue, group string, seq uint64) []byte {
	prefix := queuePrefix(queue) + prefixDLQ + group + "/"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// dlqGroupPrefix returns the prefix for one group's dead letters.
func dlqGroupPrefix(queue, group string) []byte {
	return []byte(queuePrefix(queue) + prefixDLQ + group + "/")
}

// dlqPrefix returns the prefix for all dead letters in a queue.
func dlqPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDLQ)
}

// keyRange returns inclusive lower and exclusive upper bounds for a prefix scan.
func keyRange(prefix []byte) ([]byte, []byte) {
	hi := make([]byte, len(prefix)+1)
	copy(hi, prefix)
	hi[len(prefix)] = 0xFF
	return prefix, hi
}
