package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/remote"
	"github.com/roach88/rollcall/internal/store"
)

// SyncSummary counts what SyncPending did with each pending record.
type SyncSummary struct {
	Applied  int
	Reverted int
	Deferred int
	// Remaining is how many records were left untouched after the
	// authority became unreachable mid-replay.
	Remaining int
}

func (s SyncSummary) String() string {
	return fmt.Sprintf("applied=%d reverted=%d deferred=%d remaining=%d", s.Applied, s.Reverted, s.Deferred, s.Remaining)
}

// SyncPending replays offline work against the authority, oldest
// check-in first. For each record the check-in is replayed, then a
// queued check-out. A rejection undoes the record locally and re-fetches
// the child and session. The first transport failure stops the replay;
// that record and every later one stay pending.
func (e *Engine) SyncPending(ctx context.Context) (SyncSummary, error) {
	var summary SyncSummary

	pending, err := e.store.PendingRecords(ctx)
	if err != nil {
		return summary, fmt.Errorf("sync pending: %w", err)
	}
	if len(pending) == 0 {
		return summary, nil
	}

	slog.Info("replaying pending records", "count", len(pending))

	for i, r := range pending {
		outcome, err := e.replay(ctx, r.ID, r.ChildID)
		if err != nil {
			return summary, fmt.Errorf("sync pending: record %s: %w", r.ID, err)
		}
		switch outcome {
		case OutcomeApplied:
			summary.Applied++
		case OutcomeReverted:
			summary.Reverted++
		case OutcomeDeferred:
			summary.Deferred++
			summary.Remaining = len(pending) - i - 1
			slog.Warn("authority unreachable; replay stopped", "record_id", r.ID, "remaining", summary.Remaining)
			return summary, nil
		}
	}

	slog.Info("pending records replayed", "summary", summary.String())
	return summary, nil
}

// replay pushes one record's pending operations. A record that vanished
// or has nothing pending counts as applied.
func (e *Engine) replay(ctx context.Context, recordID, childID string) (Outcome, error) {
	unlock := e.locks.Lock(childID)
	defer unlock()

	r, err := e.store.GetRecord(ctx, recordID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeApplied, nil
	}
	if err != nil {
		return 0, err
	}

	if r.Pending.NeedsCheckIn() {
		res, err := e.remote.CheckIn(ctx, remote.CheckInRequest{
			ChildID:        r.ChildID,
			SessionID:      r.SessionID,
			CheckedInBy:    r.CheckedInBy,
			Notes:          r.Notes,
			ClientRecordID: r.ID,
		})
		switch Classify(err) {
		case OutcomeDeferred:
			return OutcomeDeferred, nil

		case OutcomeReverted:
			slog.Info("offline check-in rejected", "record_id", r.ID, "child_id", r.ChildID, "error", err)
			if derr := e.discardOffline(ctx, r); derr != nil {
				return 0, derr
			}
			e.notifyReverted("check-in", r, err)
			return OutcomeReverted, nil
		}

		if !r.Pending.NeedsCheckOut() {
			if _, err := e.applyAuthoritative(ctx, r.ID, res); err != nil {
				return 0, err
			}
			return OutcomeApplied, nil
		}

		// The check-in landed but the local check-out has not. Adopt the
		// authoritative id and keep the local checked-out state.
		r, err = e.rekeyPendingCheckOut(ctx, r, res.Record.ID)
		if err != nil {
			return 0, err
		}
	}

	if !r.Pending.NeedsCheckOut() {
		return OutcomeApplied, nil
	}

	checkedOutBy := ""
	if r.CheckedOutBy != nil {
		checkedOutBy = *r.CheckedOutBy
	}
	res, err := e.remote.CheckOut(ctx, remote.CheckOutRequest{
		ChildID:      r.ChildID,
		CheckedOutBy: checkedOutBy,
		Notes:        r.Notes,
	})
	switch Classify(err) {
	case OutcomeDeferred:
		return OutcomeDeferred, nil
	case OutcomeReverted:
		slog.Info("offline check-out rejected", "record_id", r.ID, "child_id", r.ChildID, "error", err)
		if derr := e.discardOfflineCheckOut(ctx, r); derr != nil {
			return 0, derr
		}
		e.notifyReverted("check-out", r, err)
		return OutcomeReverted, nil
	}
	if _, err := e.applyAuthoritative(ctx, r.ID, res); err != nil {
		return 0, err
	}
	return OutcomeApplied, nil
}

// notifyReverted tells staff that offline work they saw succeed was undone.
func (e *Engine) notifyReverted(op string, r model.CheckInRecord, cause error) {
	reason := rejection(op, r.ChildID, r.SessionID, cause).Reason()
	e.fanout.Emit(e.fanout.Generator().Reverted(op, r.ChildID, r.SessionID, reason, e.now()))
}

func (e *Engine) rekeyPendingCheckOut(ctx context.Context, r model.CheckInRecord, authoritativeID string) (model.CheckInRecord, error) {
	now := e.now().UTC()
	localID := r.ID

	r.Pending = model.PendingCheckOut
	r.LastSyncedAt = &now
	m := store.Mutation{}
	if authoritativeID != "" && authoritativeID != localID {
		r.ID = authoritativeID
		m.DeleteRecords = []string{localID}
	}
	m.Records = []model.CheckInRecord{r}
	if err := e.store.Apply(ctx, m); err != nil {
		return model.CheckInRecord{}, fmt.Errorf("rekey record %s: %w", localID, err)
	}
	return r, nil
}

// discardOffline removes a check-in the authority refused. The local child
// and session are rolled back first so the store is consistent even if the
// re-fetch fails.
func (e *Engine) discardOffline(ctx context.Context, r model.CheckInRecord) error {
	now := e.now().UTC()
	m := store.Mutation{DeleteRecords: []string{r.ID}}

	child, err := e.store.GetChild(ctx, r.ChildID)
	switch {
	case err == nil:
		if child.Status == model.StatusCheckedIn && child.CurrentSessionID != nil && *child.CurrentSessionID == r.SessionID {
			child.Status = model.StatusNotInSession
			child.CurrentSessionID = nil
			child.UpdatedAt = now
			m.Children = []model.Child{child}
		}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	// A record still checked in holds a spot; a checked-out one already gave it back.
	if r.Status == model.RecordCheckedIn {
		m.Capacity = []store.CapacityChange{{SessionID: r.SessionID, Delta: -1, UpdatedAt: now}}
	}

	if err := e.store.Apply(ctx, m); err != nil {
		return fmt.Errorf("discard record %s: %w", r.ID, err)
	}
	e.refetch(ctx, r.ChildID, r.SessionID)
	return nil
}

// discardOfflineCheckOut clears a check-out the authority refused. The
// authority's view of the child decides whether the record is still active.
func (e *Engine) discardOfflineCheckOut(ctx context.Context, r model.CheckInRecord) error {
	now := e.now().UTC()
	r.Pending = model.PendingNone
	r.LastSyncedAt = &now

	child, err := e.remote.FetchChild(ctx, r.ChildID)
	if err == nil && child.Status == model.StatusCheckedIn &&
		child.CurrentSessionID != nil && *child.CurrentSessionID == r.SessionID {
		r.Status = model.RecordCheckedIn
		r.CheckOutTime = nil
		r.CheckedOutBy = nil
	}

	if err := e.store.UpsertRecord(ctx, r); err != nil {
		return fmt.Errorf("discard check-out %s: %w", r.ID, err)
	}
	e.refetch(ctx, r.ChildID, r.SessionID)
	return nil
}

// RefreshSessions pulls every session from the authority into the store.
func (e *Engine) RefreshSessions(ctx context.Context) ([]model.Session, error) {
	sessions, err := e.remote.FetchSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh sessions: %w", err)
	}

	now := e.now().UTC()
	for i := range sessions {
		sessions[i].LastSyncedAt = &now
	}
	if err := e.store.Apply(ctx, store.Mutation{Sessions: sessions}); err != nil {
		return nil, fmt.Errorf("refresh sessions: %w", err)
	}
	return sessions, nil
}

// RefreshChild pulls one child from the authority into the store.
func (e *Engine) RefreshChild(ctx context.Context, id string) (model.Child, error) {
	child, err := e.remote.FetchChild(ctx, id)
	if err != nil {
		return model.Child{}, fmt.Errorf("refresh child %s: %w", id, err)
	}

	now := e.now().UTC()
	child.LastSyncedAt = &now
	if err := e.store.UpsertChild(ctx, child); err != nil {
		return model.Child{}, fmt.Errorf("refresh child %s: %w", id, err)
	}
	return child, nil
}

// RegisterChild validates a registration, submits it to the authority and
// stores the child it creates. Registration needs the authority; there is
// no offline path.
func (e *Engine) RegisterChild(ctx context.Context, reg model.Registration) (model.Child, error) {
	if err := e.validate.Struct(reg); err != nil {
		return model.Child{}, newValidationError(ErrCodeInvalidRegistration, "", "", "%s", describeValidation(err))
	}
	if reg.DateOfBirth.After(e.now()) {
		return model.Child{}, newValidationError(ErrCodeInvalidRegistration, "", "", "date of birth is in the future")
	}

	child, err := e.remote.Register(ctx, reg)
	if err != nil {
		return model.Child{}, fmt.Errorf("register child: %w", err)
	}

	now := e.now().UTC()
	child.LastSyncedAt = &now
	if err := e.store.UpsertChild(ctx, child); err != nil {
		return model.Child{}, fmt.Errorf("register child: %w", err)
	}
	slog.Info("child registered", "child_id", child.ID, "guardian_id", child.GuardianID)
	return child, nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
