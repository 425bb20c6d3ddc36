package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/taskqd/taskqd/pkg/id"
)

// Message is the unit of work held by the queue.
type Message struct {
	// ID is assigned at enqueue time and is stable across redeliveries.
	ID id.ID
	// Seq is the queue-wide insertion sequence; it tie-breaks messages
	// enqueued within the same millisecond.
	Seq uint64
	// GroupID is the ordering key.
	GroupID string
	// DedupKey is the content fingerprint used for duplicate suppression.
	DedupKey string
	// Body is the opaque task payload.
	Body []byte
	// EnqueuedAtMs is the admission timestamp.
	EnqueuedAtMs int64
	// ReceiveCount is the number of times the message has been handed to a
	// consumer. Monotonic; incremented on each lease.
	ReceiveCount int
	// LeaseExpiresAtMs is set while the message is leased, 0 otherwise.
	LeaseExpiresAtMs int64
}

// msgMeta is the persisted metadata portion of a message record.
type msgMeta struct {
	ID           string `json:"id"`
	GroupID      string `json:"group_id"`
	DedupKey     string `json:"dedup_key"`
	EnqueuedAtMs int64  `json:"enqueued_ms"`
	ReceiveCount int    `json:"receive_count"`
}

// Record layout: metaLen(4B BE) | meta JSON | body | crc32c(meta|body)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeMessage serializes a message for storage.
func encodeMessage(m *Message) ([]byte, error) {
	meta, err := json.Marshal(msgMeta{
		ID:           m.ID.String(),
		GroupID:      m.GroupID,
		DedupKey:     m.DedupKey,
		EnqueuedAtMs: m.EnqueuedAtMs,
		ReceiveCount: m.ReceiveCount,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: encode meta: %w", err)
	}
	out := make([]byte, 0, 4+len(meta)+len(m.Body)+4)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(meta)))
	out = append(out, lb[:]...)
	out = append(out, meta...)
	out = append(out, m.Body...)
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, m.Body)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	out = append(out, cb[:]...)
	return out, nil
}

// decodeMessage deserializes a stored record. Seq and lease state are not part
// of the record; the caller fills them in from the key and lease lookup.
func decodeMessage(b []byte) (*Message, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("queue: record too short: %d bytes", len(b))
	}
	metaLen := binary.BigEndian.Uint32(b[:4])
	if int(4+metaLen+4) > len(b) {
		return nil, fmt.Errorf("queue: record meta length out of range")
	}
	metaEnd := 4 + int(metaLen)
	meta := b[4:metaEnd]
	body := b[metaEnd : len(b)-4]

	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != expect {
		return nil, fmt.Errorf("queue: record checksum mismatch")
	}

	var mm msgMeta
	if err := json.Unmarshal(meta, &mm); err != nil {
		return nil, fmt.Errorf("queue: decode meta: %w", err)
	}
	msgID, err := id.Parse(mm.ID)
	if err != nil {
		return nil, fmt.Errorf("queue: decode meta id: %w", err)
	}
	return &Message{
		ID:           msgID,
		GroupID:      mm.GroupID,
		DedupKey:     mm.DedupKey,
		Body:         append([]byte(nil), body...),
		EnqueuedAtMs: mm.EnqueuedAtMs,
		ReceiveCount: mm.ReceiveCount,
	}, nil
}
