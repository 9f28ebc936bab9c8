package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/rollcall/internal/model"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertChild inserts or replaces a child keyed by ID (last writer wins).
func (s *Store) UpsertChild(ctx context.Context, c model.Child) error {
	return upsertChild(ctx, s.db, c)
}

// UpsertSession inserts or replaces a session keyed by ID (last writer wins).
func (s *Store) UpsertSession(ctx context.Context, sess model.Session) error {
	return upsertSession(ctx, s.db, sess)
}

// UpsertRecord inserts or replaces a check-in record keyed by ID (last writer wins).
func (s *Store) UpsertRecord(ctx context.Context, r model.CheckInRecord) error {
	return upsertRecord(ctx, s.db, r)
}

// DeleteChild removes a child. Deleting a missing child is not an error.
//
// Children referenced by records are normally soft-deactivated instead
// (Active=false); hard delete exists for purging test and demo data.
func (s *Store) DeleteChild(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM children WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete child %s: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// DeleteRecord removes a check-in record. Deleting a missing record is not an error.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkin_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func upsertChild(ctx context.Context, db execer, c model.Child) error {
	contact, err := marshalContact(c.EmergencyContact)
	if err != nil {
		return fmt.Errorf("write child %s: %w", c.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO children
		(id, guardian_id, first_name, last_name, date_of_birth, medical_notes, dietary_notes,
		 emergency_contact, status, current_session_id, check_in_time, check_out_time,
		 active, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			guardian_id = excluded.guardian_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			date_of_birth = excluded.date_of_birth,
			medical_notes = excluded.medical_notes,
			dietary_notes = excluded.dietary_notes,
			emergency_contact = excluded.emergency_contact,
			status = excluded.status,
			current_session_id = excluded.current_session_id,
			check_in_time = excluded.check_in_time,
			check_out_time = excluded.check_out_time,
			active = excluded.active,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`,
		c.ID,
		c.GuardianID,
		c.FirstName,
		c.LastName,
		formatTime(c.DateOfBirth),
		c.MedicalNotes,
		c.DietaryNotes,
		contact,
		string(c.Status),
		formatNullString(c.CurrentSessionID),
		formatNullTime(c.CheckInTime),
		formatNullTime(c.CheckOutTime),
		boolToInt(c.Active),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
		formatNullTime(c.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("write child %s: %w", c.ID, err)
	}
	return nil
}

func upsertSession(ctx context.Context, db execer, sess model.Session) error {
	staff, err := marshalStaff(sess.StaffIDs)
	if err != nil {
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions
		(id, name, min_age, max_age, max_capacity, current_capacity, accepting_check_ins,
		 location, staff_ids, starts_at, ends_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			min_age = excluded.min_age,
			max_age = excluded.max_age,
			max_capacity = excluded.max_capacity,
			current_capacity = excluded.current_capacity,
			accepting_check_ins = excluded.accepting_check_ins,
			location = excluded.location,
			staff_ids = excluded.staff_ids,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`,
		sess.ID,
		sess.Name,
		sess.MinAge,
		sess.MaxAge,
		sess.MaxCapacity,
		sess.CurrentCapacity,
		boolToInt(sess.AcceptingCheckIns),
		sess.Location,
		staff,
		formatTime(sess.StartsAt),
		formatTime(sess.EndsAt),
		formatTime(sess.UpdatedAt),
		formatNullTime(sess.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	return nil
}

func upsertRecord(ctx context.Context, db execer, r model.CheckInRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO checkin_records
		(id, child_id, session_id, check_in_time, checked_in_by, check_out_time,
		 checked_out_by, notes, status, last_synced_at, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			child_id = excluded.child_id,
			session_id = excluded.session_id,
			check_in_time = excluded.check_in_time,
			checked_in_by = excluded.checked_in_by,
			check_out_time = excluded.check_out_time,
			checked_out_by = excluded.checked_out_by,
			notes = excluded.notes,
			status = excluded.status,
			last_synced_at = excluded.last_synced_at,
			pending = excluded.pending
	`,
		r.ID,
		r.ChildID,
		r.SessionID,
		formatTime(r.CheckInTime),
		r.CheckedInBy,
		formatNullTime(r.CheckOutTime),
		formatNullString(r.CheckedOutBy),
		r.Notes,
		string(r.Status),
		formatNullTime(r.LastSyncedAt),
		string(r.Pending),
	)
	if err != nil {
		return fmt.Errorf("write record %s: %w", r.ID, err)
	}
	return nil
}

func changeCapacity(ctx context.Context, db execer, c CapacityChange) error {
	query := `
		UPDATE sessions
		SET current_capacity = MAX(current_capacity + ?, 0), updated_at = ?
		WHERE id = ?`
	if c.Enforce {
		query += ` AND current_capacity + ? <= max_capacity`
	}
	args := []any{c.Delta, formatTime(c.UpdatedAt), c.SessionID}
	if c.Enforce {
		args = append(args, c.Delta)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("change capacity of session %s: %w", c.SessionID, err)
	}
	if !c.Enforce {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("change capacity of session %s: %w", c.SessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("change capacity of session %s by %d: %w", c.SessionID, c.Delta, ErrSessionFull)
	}
	return nil
}
