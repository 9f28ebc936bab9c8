package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rollcall/internal/model"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const childColumns = `id, guardian_id, first_name, last_name, date_of_birth, medical_notes,
	dietary_notes, emergency_contact, status, current_session_id, check_in_time,
	check_out_time, active, created_at, updated_at, last_synced_at`

const sessionColumns = `id, name, min_age, max_age, max_capacity, current_capacity,
	accepting_check_ins, location, staff_ids, starts_at, ends_at, updated_at, last_synced_at`

const recordColumns = `id, child_id, session_id, check_in_time, checked_in_by, check_out_time,
	checked_out_by, notes, status, last_synced_at, pending`

// GetChild retrieves a child by ID.
// Returns an error wrapping ErrNotFound if no such child exists.
func (s *Store) GetChild(ctx context.Context, id string) (model.Child, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+childColumns+` FROM children WHERE id = ?`, id)
	c, err := scanChild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Child{}, fmt.Errorf("read child %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Child{}, fmt.Errorf("read child %s: %w", id, err)
	}
	return c, nil
}

// GetSession retrieves a session by ID.
// Returns an error wrapping ErrNotFound if no such session exists.
func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("read session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return sess, nil
}

// GetRecord retrieves a check-in record by ID.
// Returns an error wrapping ErrNotFound if no such record exists.
func (s *Store) GetRecord(ctx context.Context, id string) (model.CheckInRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM checkin_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckInRecord{}, fmt.Errorf("read record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.CheckInRecord{}, fmt.Errorf("read record %s: %w", id, err)
	}
	return r, nil
}

// ActiveRecordForChild returns the child's CHECKED_IN record.
// If storage somehow holds several, the most recent check-in wins.
// Returns an error wrapping ErrNotFound if the child has no active record.
func (s *Store) ActiveRecordForChild(ctx context.Context, childID string) (model.CheckInRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM checkin_records
		WHERE child_id = ? AND status = ?
		ORDER BY check_in_time DESC, id DESC
		LIMIT 1
	`, childID, string(model.RecordCheckedIn))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckInRecord{}, fmt.Errorf("active record for child %s: %w", childID, ErrNotFound)
	}
	if err != nil {
		return model.CheckInRecord{}, fmt.Errorf("active record for child %s: %w", childID, err)
	}
	return r, nil
}

// PendingRecords returns every record with remote operations awaiting replay,
// oldest check-in first so replay preserves the order they happened.
//
// Returns empty slice (not nil) if nothing is pending.
func (s *Store) PendingRecords(ctx context.Context) ([]model.CheckInRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM checkin_records
		WHERE pending != ''
		ORDER BY check_in_time ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending records: %w", err)
	}
	return collectRecords(rows, nil)
}

// ListChildren returns every child for which pred returns true, ordered by ID.
// A nil pred matches everything.
func (s *Store) ListChildren(ctx context.Context, pred func(model.Child) bool) ([]model.Child, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+childColumns+` FROM children ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	children := []model.Child{}
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		if pred == nil || pred(c) {
			children = append(children, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return children, nil
}

// ListSessions returns every session for which pred returns true, ordered by start time.
// A nil pred matches everything.
func (s *Store) ListSessions(ctx context.Context, pred func(model.Session) bool) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY starts_at ASC, id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if pred == nil || pred(sess) {
			sessions = append(sessions, sess)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListRecords returns every record for which pred returns true, oldest check-in first.
// A nil pred matches everything.
func (s *Store) ListRecords(ctx context.Context, pred func(model.CheckInRecord) bool) ([]model.CheckInRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM checkin_records
		ORDER BY check_in_time ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return collectRecords(rows, pred)
}

func collectRecords(rows *sql.Rows, pred func(model.CheckInRecord) bool) ([]model.CheckInRecord, error) {
	defer rows.Close()

	records := []model.CheckInRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if pred == nil || pred(r) {
			records = append(records, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func scanChild(row scanner) (model.Child, error) {
	var c model.Child
	var dob, contact, status, createdAt, updatedAt string
	var sessionID, checkIn, checkOut, syncedAt sql.NullString
	var active int

	if err := row.Scan(
		&c.ID, &c.GuardianID, &c.FirstName, &c.LastName, &dob, &c.MedicalNotes,
		&c.DietaryNotes, &contact, &status, &sessionID, &checkIn,
		&checkOut, &active, &createdAt, &updatedAt, &syncedAt,
	); err != nil {
		return model.Child{}, err
	}

	var err error
	if c.DateOfBirth, err = parseTime(dob); err != nil {
		return model.Child{}, err
	}
	if c.EmergencyContact, err = unmarshalContact(contact); err != nil {
		return model.Child{}, err
	}
	if c.CheckInTime, err = parseNullTime(checkIn); err != nil {
		return model.Child{}, err
	}
	if c.CheckOutTime, err = parseNullTime(checkOut); err != nil {
		return model.Child{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Child{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Child{}, err
	}
	if c.LastSyncedAt, err = parseNullTime(syncedAt); err != nil {
		return model.Child{}, err
	}
	c.Status = model.ChildStatus(status)
	c.CurrentSessionID = parseNullString(sessionID)
	c.Active = active != 0

	return c, nil
}

func scanSession(row scanner) (model.Session, error) {
	var sess model.Session
	var staff, startsAt, endsAt, updatedAt string
	var syncedAt sql.NullString
	var accepting int

	if err := row.Scan(
		&sess.ID, &sess.Name, &sess.MinAge, &sess.MaxAge, &sess.MaxCapacity, &sess.CurrentCapacity,
		&accepting, &sess.Location, &staff, &startsAt, &endsAt, &updatedAt, &syncedAt,
	); err != nil {
		return model.Session{}, err
	}

	var err error
	if sess.StaffIDs, err = unmarshalStaff(staff); err != nil {
		return model.Session{}, err
	}
	if sess.StartsAt, err = parseTime(startsAt); err != nil {
		return model.Session{}, err
	}
	if sess.EndsAt, err = parseTime(endsAt); err != nil {
		return model.Session{}, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Session{}, err
	}
	if sess.LastSyncedAt, err = parseNullTime(syncedAt); err != nil {
		return model.Session{}, err
	}
	sess.AcceptingCheckIns = accepting != 0

	return sess, nil
}

func scanRecord(row scanner) (model.CheckInRecord, error) {
	var r model.CheckInRecord
	var checkIn, status, pending string
	var checkOut, checkedOutBy, syncedAt sql.NullString

	if err := row.Scan(
		&r.ID, &r.ChildID, &r.SessionID, &checkIn, &r.CheckedInBy, &checkOut,
		&checkedOutBy, &r.Notes, &status, &syncedAt, &pending,
	); err != nil {
		return model.CheckInRecord{}, err
	}

	var err error
	if r.CheckInTime, err = parseTime(checkIn); err != nil {
		return model.CheckInRecord{}, err
	}
	if r.CheckOutTime, err = parseNullTime(checkOut); err != nil {
		return model.CheckInRecord{}, err
	}
	if r.LastSyncedAt, err = parseNullTime(syncedAt); err != nil {
		return model.CheckInRecord{}, err
	}
	r.CheckedOutBy = parseNullString(checkedOutBy)
	r.Status = model.RecordStatus(status)
	r.Pending = model.PendingOp(pending)

	return r, nil
}
