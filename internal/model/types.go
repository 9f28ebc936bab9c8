package model

import (
	"fmt"
	"time"
)

// Kind identifies one of the entity kinds held in the local store.
type Kind string

const (
	KindChild   Kind = "child"
	KindSession Kind = "session"
	KindRecord  Kind = "record"
)

// ChildStatus is the attendance status of a child.
type ChildStatus string

const (
	StatusNotInSession ChildStatus = "NOT_IN_SESSION"
	StatusCheckedIn    ChildStatus = "CHECKED_IN"
	StatusCheckedOut   ChildStatus = "CHECKED_OUT"
)

// RecordStatus is the state of a single check-in record.
type RecordStatus string

const (
	RecordCheckedIn  RecordStatus = "CHECKED_IN"
	RecordCheckedOut RecordStatus = "CHECKED_OUT"
)

// PendingOp lists the remote operations a record still needs replayed
// against the authority. Empty means the record is in sync.
type PendingOp string

const (
	PendingNone          PendingOp = ""
	PendingCheckIn       PendingOp = "check_in"
	PendingCheckOut      PendingOp = "check_out"
	PendingCheckInAndOut PendingOp = "check_in+check_out"
)

// NeedsCheckIn reports whether the check-in half has not reached the authority.
func (p PendingOp) NeedsCheckIn() bool {
	return p == PendingCheckIn || p == PendingCheckInAndOut
}

// NeedsCheckOut reports whether the check-out half has not reached the authority.
func (p PendingOp) NeedsCheckOut() bool {
	return p == PendingCheckOut || p == PendingCheckInAndOut
}

// EmergencyContact is who to call when the guardian cannot be reached.
type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship,omitempty"`
}

// Child is a registered child.
type Child struct {
	ID               string           `json:"id"`
	GuardianID       string           `json:"guardian_id"`
	FirstName        string           `json:"first_name"`
	LastName         string           `json:"last_name"`
	DateOfBirth      time.Time        `json:"date_of_birth"`
	MedicalNotes     string           `json:"medical_notes,omitempty"`
	DietaryNotes     string           `json:"dietary_notes,omitempty"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
	Status           ChildStatus      `json:"status"`
	CurrentSessionID *string          `json:"current_session_id,omitempty"`
	CheckInTime      *time.Time       `json:"check_in_time,omitempty"`
	CheckOutTime     *time.Time       `json:"check_out_time,omitempty"`
	Active           bool             `json:"active"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	LastSyncedAt     *time.Time       `json:"last_synced_at,omitempty"`
}

// DisplayName is the child's name as shown in notifications.
func (c Child) DisplayName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Validate checks the status/session invariant.
func (c Child) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("child: empty id")
	}
	checkedIn := c.Status == StatusCheckedIn
	if checkedIn && c.CurrentSessionID == nil {
		return fmt.Errorf("child %s: checked in without a current session", c.ID)
	}
	if !checkedIn && c.CurrentSessionID != nil {
		return fmt.Errorf("child %s: status %s with current session %s", c.ID, c.Status, *c.CurrentSessionID)
	}
	return nil
}

// Session is a supervised time slot children are checked into.
type Session struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	MinAge            int        `json:"min_age"`
	MaxAge            int        `json:"max_age"`
	MaxCapacity       int        `json:"max_capacity"`
	CurrentCapacity   int        `json:"current_capacity"`
	AcceptingCheckIns bool       `json:"accepting_check_ins"`
	Location          string     `json:"location,omitempty"`
	StaffIDs          []string   `json:"staff_ids,omitempty"`
	StartsAt          time.Time  `json:"starts_at"`
	EndsAt            time.Time  `json:"ends_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
}

// HasCapacity reports whether one more child fits.
func (s Session) HasCapacity() bool {
	return s.CurrentCapacity < s.MaxCapacity
}

// IsFull reports whether the session is at (or somehow beyond) capacity.
func (s Session) IsFull() bool {
	return s.CurrentCapacity >= s.MaxCapacity
}

// AcceptsAge reports whether age falls inside [MinAge, MaxAge].
func (s Session) AcceptsAge(age int) bool {
	return age >= s.MinAge && age <= s.MaxAge
}

// Validate checks the capacity invariant.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session: empty id")
	}
	if s.CurrentCapacity < 0 || s.CurrentCapacity > s.MaxCapacity {
		return fmt.Errorf("session %s: capacity %d outside [0, %d]", s.ID, s.CurrentCapacity, s.MaxCapacity)
	}
	if s.MinAge > s.MaxAge {
		return fmt.Errorf("session %s: min age %d > max age %d", s.ID, s.MinAge, s.MaxAge)
	}
	return nil
}

// CheckInRecord is one visit of a child to a session.
type CheckInRecord struct {
	ID           string       `json:"id"`
	ChildID      string       `json:"child_id"`
	SessionID    string       `json:"session_id"`
	CheckInTime  time.Time    `json:"check_in_time"`
	CheckedInBy  string       `json:"checked_in_by"`
	CheckOutTime *time.Time   `json:"check_out_time,omitempty"`
	CheckedOutBy *string      `json:"checked_out_by,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	Status       RecordStatus `json:"status"`
	LastSyncedAt *time.Time   `json:"last_synced_at,omitempty"`

	// Pending is device-local bookkeeping; the authority never sends it.
	Pending PendingOp `json:"-"`
}

// Synced reports whether the record has been reconciled and has nothing queued.
func (r CheckInRecord) Synced() bool {
	return r.LastSyncedAt != nil && r.Pending == PendingNone
}

// Registration is what a guardian submits to register a child.
type Registration struct {
	GuardianID       string           `json:"guardian_id" validate:"required"`
	FirstName        string           `json:"first_name" validate:"required,max=100"`
	LastName         string           `json:"last_name" validate:"max=100"`
	DateOfBirth      time.Time        `json:"date_of_birth" validate:"required"`
	MedicalNotes     string           `json:"medical_notes,omitempty" validate:"max=2000"`
	DietaryNotes     string           `json:"dietary_notes,omitempty" validate:"max=2000"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
