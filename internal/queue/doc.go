// Package queue implements a durable task queue with strict per-group FIFO
// ordering and lease-based, at-least-once delivery.
//
// Messages sharing a group id form one FIFO sequence. The store admits a
// message at the tail, and delivery always happens from the head: a group's
// head must be acknowledged, returned for retry, or dead-lettered before the
// next message becomes visible. At most one message per group is leased at
// any time, which is what makes the ordering guarantee hold with a single
// consumer per group.
//
// # Keyspace
//
// All keys are prefixed with q/{queue}/:
//
//	meta                        last sequence (8B) | live message count (4B)
//	msg/{group}/{seq}           message record, FIFO by sequence
//	ref/{id}                    message id -> sequence (8B) | group
//	lease/{group}               active lease (single key per group)
//	lease_idx/{expires_ms}/{group}  lease expiry index for the sweeper
//	dedup/{fingerprint}         message id (16B) | first-seen ms (8B)
//	dlq/{group}/{seq}           dead-letter entry, per-group arrival order
//
// # Message lifecycle
//
//  1. Enqueue: fingerprint checked against the dedup window; new messages are
//     written at the group tail.
//  2. Receive: the group head is leased, receive_count incremented.
//  3. Ack deletes the message; Fail either releases it back to the head or,
//     once the retry budget is spent, moves it to the dead-letter keyspace.
//  4. Lease expiry: the sweeper routes expired leases through the same
//     retry-or-dead-letter decision as an explicit Fail.
//
// Delivery is at-least-once: a consumer crash after processing but before
// Ack, or a lease expiring mid-handler, causes redelivery. Handlers must be
// idempotent.
package queue
