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

// Outcome is how a remote call's result is reconciled with an optimistic write.
type Outcome int

const (
	// OutcomeApplied means the authority accepted; its state replaces ours.
	OutcomeApplied Outcome = iota + 1
	// OutcomeReverted means the authority refused; our write is undone.
	OutcomeReverted
	// OutcomeDeferred means the authority was unreachable; our write stands.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeReverted:
		return "reverted"
	case OutcomeDeferred:
		return "deferred"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Classify maps a remote call's error to an Outcome. Only an explicit
// rejection reverts; any other failure, typed or not, is treated as the
// authority being unreachable.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeApplied
	}
	if remote.IsRejection(err) {
		return OutcomeReverted
	}
	return OutcomeDeferred
}

// snapshot is the pre-mutation state needed to undo an optimistic write.
type snapshot struct {
	child model.Child

	// sessionID is the session whose capacity the write changed;
	// capacityUndo is the relative change that reverses it.
	sessionID    string
	capacityUndo int

	// createdRecordID is set when the optimistic write created a record.
	createdRecordID string
	// record is set when the optimistic write modified an existing record.
	record *model.CheckInRecord
}

// applyAuthoritative stores the authority's copies, replacing the record
// stored under localID.
func (e *Engine) applyAuthoritative(ctx context.Context, localID string, res remote.Result) (model.CheckInRecord, error) {
	now := e.now().UTC()

	rec := res.Record
	if rec.ID == "" {
		rec.ID = localID
	}
	rec.Pending = model.PendingNone
	rec.LastSyncedAt = &now

	m := store.Mutation{Records: []model.CheckInRecord{rec}}
	if rec.ID != localID {
		m.DeleteRecords = []string{localID}
	}
	if res.Child.ID != "" {
		child := res.Child
		child.LastSyncedAt = &now
		m.Children = []model.Child{child}
	}
	if res.Session.ID != "" {
		session := res.Session
		session.LastSyncedAt = &now
		m.Sessions = []model.Session{session}
	}

	if err := e.store.Apply(ctx, m); err != nil {
		return model.CheckInRecord{}, fmt.Errorf("store authoritative state: %w", err)
	}
	return rec, nil
}

// resolveConflict undoes an optimistic write, then pulls the authority's
// view of the child and session so the store reflects what actually won.
func (e *Engine) resolveConflict(ctx context.Context, snap snapshot) error {
	m := store.Mutation{Children: []model.Child{snap.child}}
	if snap.sessionID != "" && snap.capacityUndo != 0 {
		m.Capacity = []store.CapacityChange{{SessionID: snap.sessionID, Delta: snap.capacityUndo, UpdatedAt: e.now().UTC()}}
	}
	if snap.createdRecordID != "" {
		m.DeleteRecords = []string{snap.createdRecordID}
	}
	if snap.record != nil {
		m.Records = []model.CheckInRecord{*snap.record}
	}
	if err := e.store.Apply(ctx, m); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	e.refetch(ctx, snap.child.ID, snap.sessionID)
	return nil
}

// refetch overwrites the local child and session with the authority's
// copies. Failures are logged; the caller has already restored a
// consistent local state.
func (e *Engine) refetch(ctx context.Context, childID, sessionID string) {
	now := e.now().UTC()
	var m store.Mutation

	if childID != "" {
		child, err := e.remote.FetchChild(ctx, childID)
		if err != nil {
			slog.Warn("refetch child failed", "child_id", childID, "error", err)
		} else {
			child.LastSyncedAt = &now
			m.Children = append(m.Children, child)
		}
	}
	if sessionID != "" {
		session, err := e.remote.FetchSession(ctx, sessionID)
		if err != nil {
			slog.Warn("refetch session failed", "session_id", sessionID, "error", err)
		} else {
			session.LastSyncedAt = &now
			m.Sessions = append(m.Sessions, session)
		}
	}

	if len(m.Children) == 0 && len(m.Sessions) == 0 {
		return
	}
	if err := e.store.Apply(ctx, m); err != nil {
		slog.Warn("store refetched state failed", "child_id", childID, "session_id", sessionID, "error", err)
	}
}

// rejection wraps the remote refusal carried by err.
func rejection(op, childID, sessionID string, err error) *RejectionError {
	var re *remote.RejectionError
	if !errors.As(err, &re) {
		re = &remote.RejectionError{Op: op, Reason: err.Error()}
	}
	return &RejectionError{Op: op, ChildID: childID, SessionID: sessionID, Err: re}
}
