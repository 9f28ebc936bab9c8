// Package store provides SQLite-backed local storage for the check-in client.
//
// The store is the device's copy of three entity kinds:
//   - children: registered children and their attendance status
//   - sessions: supervised time slots with capacity counters
//   - checkin_records: one row per visit, including offline ones awaiting replay
//
// The store has no opinion on who is authoritative. It offers point
// lookups, predicate listing, last-writer-wins upserts and deletes by key.
// Check-in invariants (one active record per child, capacity bounds) are
// enforced by the engine, not by constraints here.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as RFC 3339 TEXT in UTC. Nested values
// (emergency contact, staff lists) are stored as JSON TEXT.
package store
