// Package engine implements the offline-tolerant check-in/check-out core.
//
// ARCHITECTURE:
//
// Optimistic Write, Then Reconcile:
// CheckIn and CheckOut validate against the local store, write the
// optimistic result immediately, then call the authority. The remote answer
// is classified into one of three outcomes:
//   - Applied: authoritative state overwrites the optimistic write
//   - Reverted: the authority refused; the optimistic write is undone and
//     the child and session are re-fetched
//   - Deferred: the authority was unreachable; the optimistic write stays
//     and the record is queued for SyncPending
//
// Per-Child Serialization:
// Precondition checks and the optimistic write are a read-then-write on the
// store. A keyed mutex serializes operations on the same child so two
// near-simultaneous check-ins cannot both pass the "not checked in" check.
// Different children proceed concurrently.
//
// Inbound Events:
// ApplyInboundEvent is called from the connection manager's single pump
// goroutine. Each event carries an entity's full authoritative state, so
// applying it is a last-writer-wins upsert. Replays are detected by content
// fingerprint and leave the store and the notification stream untouched.
//
// Cancellation:
// Once validation passes, the optimistic write and the remote call run to
// completion even if the caller's context is cancelled.
package engine
