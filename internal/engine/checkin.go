package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/remote"
	"github.com/roach88/rollcall/internal/store"
)

// CheckIn checks a child into a session.
//
// Preconditions are checked against the local store in order: the child
// exists and is not checked in, the session exists and accepts check-ins,
// the session has spare capacity, and the child's age is in range. A
// failure returns a *ValidationError and changes nothing.
//
// Otherwise the check-in is written locally and sent to the authority:
//   - accepted: the authoritative record is stored and returned
//   - rejected: the local write is undone and a *RejectionError returned
//   - unreachable: the local record is returned, queued for SyncPending
func (e *Engine) CheckIn(ctx context.Context, childID, sessionID, requestedBy, notes string) (model.CheckInRecord, error) {
	unlock := e.locks.Lock(childID)
	defer unlock()

	// Past this point the write and the remote call always complete.
	ctx = context.WithoutCancel(ctx)

	child, err := e.store.GetChild(ctx, childID)
	if errors.Is(err, store.ErrNotFound) {
		return model.CheckInRecord{}, newValidationError(ErrCodeChildNotFound, childID, sessionID, "child %s not found", childID)
	}
	if err != nil {
		return model.CheckInRecord{}, fmt.Errorf("check in: %w", err)
	}
	if child.Status == model.StatusCheckedIn {
		return model.CheckInRecord{}, newValidationError(ErrCodeAlreadyCheckedIn, childID, sessionID, "%s is already checked in", child.DisplayName())
	}

	session, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return model.CheckInRecord{}, newValidationError(ErrCodeSessionNotFound, childID, sessionID, "session %s not found", sessionID)
	}
	if err != nil {
		return model.CheckInRecord{}, fmt.Errorf("check in: %w", err)
	}
	if !session.AcceptingCheckIns {
		return model.CheckInRecord{}, newValidationError(ErrCodeSessionClosed, childID, sessionID, "%s is not accepting check-ins", session.Name)
	}
	if !session.HasCapacity() {
		return model.CheckInRecord{}, newValidationError(ErrCodeSessionFull, childID, sessionID,
			"%s is full (%d/%d)", session.Name, session.CurrentCapacity, session.MaxCapacity)
	}

	now := e.now().UTC()
	if age := model.AgeAt(child.DateOfBirth, now); !session.AcceptsAge(age) {
		return model.CheckInRecord{}, newValidationError(ErrCodeAgeIneligible, childID, sessionID,
			"%s is %d; %s is for ages %d-%d", child.DisplayName(), age, session.Name, session.MinAge, session.MaxAge)
	}

	// Optimistic phase.
	record := model.CheckInRecord{
		ID:          e.ids.Generate(),
		ChildID:     childID,
		SessionID:   sessionID,
		CheckInTime: now,
		CheckedInBy: requestedBy,
		Notes:       notes,
		Status:      model.RecordCheckedIn,
		Pending:     model.PendingCheckIn,
	}

	optChild := child
	optChild.Status = model.StatusCheckedIn
	optChild.CurrentSessionID = model.StringPtr(sessionID)
	optChild.CheckInTime = &now
	optChild.CheckOutTime = nil
	optChild.UpdatedAt = now

	// The capacity check above is advisory. The enforced relative change
	// is what holds when children race for a session's last spot.
	err = e.store.Apply(ctx, store.Mutation{
		Children: []model.Child{optChild},
		Capacity: []store.CapacityChange{{SessionID: sessionID, Delta: 1, Enforce: true, UpdatedAt: now}},
		Records:  []model.CheckInRecord{record},
	})
	if errors.Is(err, store.ErrSessionFull) {
		return model.CheckInRecord{}, newValidationError(ErrCodeSessionFull, childID, sessionID, "%s is full", session.Name)
	}
	if err != nil {
		return model.CheckInRecord{}, fmt.Errorf("check in: optimistic write: %w", err)
	}

	slog.Debug("optimistic check-in written", "child_id", childID, "session_id", sessionID, "record_id", record.ID)

	res, err := e.remote.CheckIn(ctx, remote.CheckInRequest{
		ChildID:        childID,
		SessionID:      sessionID,
		CheckedInBy:    requestedBy,
		Notes:          notes,
		ClientRecordID: record.ID,
	})

	switch Classify(err) {
	case OutcomeApplied:
		authoritative, err := e.applyAuthoritative(ctx, record.ID, res)
		if err != nil {
			return model.CheckInRecord{}, fmt.Errorf("check in: %w", err)
		}
		slog.Info("check-in confirmed", "child_id", childID, "session_id", sessionID, "record_id", authoritative.ID)
		return authoritative, nil

	case OutcomeReverted:
		slog.Info("check-in rejected", "child_id", childID, "session_id", sessionID, "error", err)
		snap := snapshot{child: child, sessionID: sessionID, capacityUndo: -1, createdRecordID: record.ID}
		if rerr := e.resolveConflict(ctx, snap); rerr != nil {
			return model.CheckInRecord{}, fmt.Errorf("check in: %w", rerr)
		}
		return model.CheckInRecord{}, rejection("check in", childID, sessionID, err)

	default:
		slog.Warn("check-in kept offline", "child_id", childID, "session_id", sessionID, "record_id", record.ID, "error", err)
		return record, nil
	}
}

// CheckOut checks a child out of its current session.
//
// The child must have an active record (*ValidationError NOT_CHECKED_IN
// otherwise). The three remote outcomes are handled as in CheckIn. If the
// active record's check-in has not reached the authority yet, the
// check-out is queued behind it and the authority is not called.
func (e *Engine) CheckOut(ctx context.Context, childID, checkedOutBy, notes string) (model.CheckInRecord, error) {
	unlock := e.locks.Lock(childID)
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	child, err := e.store.GetChild(ctx, childID)
	if errors.Is(err, store.ErrNotFound) {
		return model.CheckInRecord{}, newValidationError(ErrCodeChildNotFound, childID, "", "child %s not found", childID)
	}
	if err != nil {
		return model.CheckInRecord{}, fmt.Errorf("check out: %w", err)
	}

	record, err := e.store.ActiveRecordForChild(ctx, childID)
	if errors.Is(err, store.ErrNotFound) {
		return model.CheckInRecord{}, newValidationError(ErrCodeNotCheckedIn, childID, "", "%s is not checked in", child.DisplayName())
	}
	if err != nil {
		return model.CheckInRecord{}, fmt.Errorf("check out: %w", err)
	}

	now := e.now().UTC()

	optRecord := record
	optRecord.Status = model.RecordCheckedOut
	optRecord.CheckOutTime = &now
	optRecord.CheckedOutBy = model.StringPtr(checkedOutBy)
	if notes != "" {
		optRecord.Notes = notes
	}
	queuedBehindCheckIn := record.Pending.NeedsCheckIn()
	if queuedBehindCheckIn {
		optRecord.Pending = model.PendingCheckInAndOut
	} else {
		optRecord.Pending = model.PendingCheckOut
	}

	optChild := child
	optChild.Status = model.StatusCheckedOut
	optChild.CurrentSessionID = nil
	optChild.CheckOutTime = &now
	optChild.UpdatedAt = now

	m := store.Mutation{
		Children: []model.Child{optChild},
		Capacity: []store.CapacityChange{{SessionID: record.SessionID, Delta: -1, UpdatedAt: now}},
		Records:  []model.CheckInRecord{optRecord},
	}
	if err := e.store.Apply(ctx, m); err != nil {
		return model.CheckInRecord{}, fmt.Errorf("check out: optimistic write: %w", err)
	}

	if queuedBehindCheckIn {
		slog.Info("check-out queued behind unsynced check-in", "child_id", childID, "record_id", record.ID)
		return optRecord, nil
	}

	res, err := e.remote.CheckOut(ctx, remote.CheckOutRequest{
		ChildID:      childID,
		CheckedOutBy: checkedOutBy,
		Notes:        notes,
	})

	switch Classify(err) {
	case OutcomeApplied:
		authoritative, err := e.applyAuthoritative(ctx, record.ID, res)
		if err != nil {
			return model.CheckInRecord{}, fmt.Errorf("check out: %w", err)
		}
		slog.Info("check-out confirmed", "child_id", childID, "record_id", authoritative.ID)
		return authoritative, nil

	case OutcomeReverted:
		slog.Info("check-out rejected", "child_id", childID, "record_id", record.ID, "error", err)
		snap := snapshot{child: child, sessionID: record.SessionID, capacityUndo: 1, record: &record}
		if rerr := e.resolveConflict(ctx, snap); rerr != nil {
			return model.CheckInRecord{}, fmt.Errorf("check out: %w", rerr)
		}
		return model.CheckInRecord{}, rejection("check out", childID, record.SessionID, err)

	default:
		slog.Warn("check-out kept offline", "child_id", childID, "record_id", record.ID, "error", err)
		return optRecord, nil
	}
}
