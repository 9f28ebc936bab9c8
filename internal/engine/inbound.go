package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// ApplyInboundEvent merges one live event into the local store and fans
// it out. Entity events are last-writer-wins upserts; an event whose
// entities already match the store byte for byte (by fingerprint) is a
// replay and is dropped without touching the store or notifying anyone.
// Lifecycle and error events go straight to the fan-out.
func (e *Engine) ApplyInboundEvent(ctx context.Context, ev live.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("apply inbound event: %w", err)
	}

	var changed bool
	var err error

	switch ev.Type {
	case live.EventChildStatusChanged:
		changed, err = e.mergeChildEvent(ctx, *ev.Child)

	case live.EventSessionCapacityChanged:
		changed, err = e.mergeSession(ctx, *ev.Session)

	case live.EventCheckedIn, live.EventCheckedOut:
		changed, err = e.mergeRecordEvent(ctx, ev)

	default:
		e.fanout.Publish(ev)
		return nil
	}

	if err != nil {
		return fmt.Errorf("apply %s: %w", ev.Type, err)
	}
	if !changed {
		slog.Debug("inbound event already applied", "type", ev.Type)
		return nil
	}

	e.fanout.Publish(ev)
	return nil
}

// mergeChildEvent holds the child's lock so the merge cannot land between
// a CheckIn or CheckOut's read and its optimistic write.
func (e *Engine) mergeChildEvent(ctx context.Context, incoming model.Child) (bool, error) {
	unlock := e.locks.Lock(incoming.ID)
	defer unlock()
	return e.mergeChild(ctx, incoming)
}

func (e *Engine) mergeRecordEvent(ctx context.Context, ev live.Event) (bool, error) {
	unlock := e.locks.Lock(ev.Record.ChildID)
	defer unlock()

	changed, err := e.mergeRecord(ctx, *ev.Record)
	if err != nil {
		return false, err
	}
	if ev.Child != nil {
		c, err := e.mergeChild(ctx, *ev.Child)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	if ev.Session != nil {
		s, err := e.mergeSession(ctx, *ev.Session)
		if err != nil {
			return false, err
		}
		changed = changed || s
	}
	return changed, nil
}

func (e *Engine) mergeChild(ctx context.Context, incoming model.Child) (bool, error) {
	existing, err := e.store.GetChild(ctx, incoming.ID)
	switch {
	case err == nil:
		same, err := sameFingerprint(model.ChildFingerprint, existing, incoming)
		if err != nil || same {
			return false, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return false, err
	}

	now := e.now().UTC()
	incoming.LastSyncedAt = &now
	if err := e.store.UpsertChild(ctx, incoming); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) mergeSession(ctx context.Context, incoming model.Session) (bool, error) {
	existing, err := e.store.GetSession(ctx, incoming.ID)
	switch {
	case err == nil:
		same, err := sameFingerprint(model.SessionFingerprint, existing, incoming)
		if err != nil || same {
			return false, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return false, err
	}

	now := e.now().UTC()
	incoming.LastSyncedAt = &now
	if err := e.store.UpsertSession(ctx, incoming); err != nil {
		return false, err
	}
	return true, nil
}

// mergeRecord upserts an authoritative record. A check-out still queued
// locally survives an inbound copy that shows the record checked in, so
// SyncPending replays it. A checked-in record supersedes every other
// active record held for the child, in the same write.
func (e *Engine) mergeRecord(ctx context.Context, incoming model.CheckInRecord) (bool, error) {
	incoming.Pending = model.PendingNone

	existing, err := e.store.GetRecord(ctx, incoming.ID)
	switch {
	case err == nil:
		if existing.Pending.NeedsCheckOut() && incoming.Status == model.RecordCheckedIn {
			incoming.Pending = model.PendingCheckOut
		}
		same, err := sameFingerprint(model.RecordFingerprint, existing, incoming)
		if err != nil {
			return false, err
		}
		if same && existing.Pending == incoming.Pending {
			return false, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return false, err
	}

	now := e.now().UTC()
	incoming.LastSyncedAt = &now
	m := store.Mutation{Records: []model.CheckInRecord{incoming}}
	if incoming.Status == model.RecordCheckedIn {
		if err := e.supersede(ctx, incoming, &m); err != nil {
			return false, err
		}
	}
	if err := e.store.Apply(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

// supersede adds to m whatever retires the child's other active records.
// One the authority never saw is deleted. One it did see was closed
// elsewhere, so it is marked checked out as of the incoming check-in.
// Either way its spot is given back and the child moves to the incoming
// record's session.
func (e *Engine) supersede(ctx context.Context, incoming model.CheckInRecord, m *store.Mutation) error {
	others, err := e.store.ListRecords(ctx, func(r model.CheckInRecord) bool {
		return r.ChildID == incoming.ChildID && r.ID != incoming.ID && r.Status == model.RecordCheckedIn
	})
	if err != nil {
		return err
	}
	if len(others) == 0 {
		return nil
	}

	now := e.now().UTC()
	for _, r := range others {
		slog.Info("active record superseded", "record_id", r.ID, "superseded_by", incoming.ID, "child_id", r.ChildID)
		m.Capacity = append(m.Capacity, store.CapacityChange{SessionID: r.SessionID, Delta: -1, UpdatedAt: now})
		if r.Pending.NeedsCheckIn() {
			m.DeleteRecords = append(m.DeleteRecords, r.ID)
			continue
		}
		r.Status = model.RecordCheckedOut
		r.CheckOutTime = model.TimePtr(incoming.CheckInTime)
		r.Pending = model.PendingNone
		r.LastSyncedAt = &now
		m.Records = append(m.Records, r)
	}

	child, err := e.store.GetChild(ctx, incoming.ChildID)
	switch {
	case err == nil:
		child.Status = model.StatusCheckedIn
		child.CurrentSessionID = model.StringPtr(incoming.SessionID)
		child.CheckInTime = model.TimePtr(incoming.CheckInTime)
		child.CheckOutTime = nil
		child.UpdatedAt = now
		m.Children = []model.Child{child}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return nil
}

func sameFingerprint[T any](fp func(T) (string, error), a, b T) (bool, error) {
	fa, err := fp(a)
	if err != nil {
		return false, err
	}
	fb, err := fp(b)
	if err != nil {
		return false, err
	}
	return fa == fb, nil
}
