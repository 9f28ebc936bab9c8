// Package model defines the entities the check-in client keeps on device.
//
// Three kinds of entity are synchronized with the authority:
//   - Child: a registered child and their current attendance status
//   - Session: a capacity-limited, age-bounded supervised time slot
//   - CheckInRecord: one visit of a child to a session
//
// This package holds types and pure helpers only. Every other internal
// package imports model; model imports nothing internal.
//
// Key constraints:
//   - Child.CurrentSessionID is non-nil iff Child.Status == StatusCheckedIn
//   - 0 <= Session.CurrentCapacity <= Session.MaxCapacity
//   - LastSyncedAt == nil means the entity was never reconciled with the authority
//   - All JSON tags use snake_case (the authority's wire format)
package model
