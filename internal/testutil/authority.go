package testutil

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/remote"
)

// Authority is an in-memory backend with the real admission rules: one
// active record per child and no check-in past capacity. Share one between
// engines to simulate several devices.
type Authority struct {
	mu       sync.Mutex
	clock    *Clock
	children map[string]model.Child
	sessions map[string]model.Session
	records  map[string]model.CheckInRecord
	nextID   int
	offline  bool
	calls    map[string]int
}

// NewAuthority creates an empty, reachable authority on clock.
func NewAuthority(clock *Clock) *Authority {
	return &Authority{
		clock:    clock,
		children: make(map[string]model.Child),
		sessions: make(map[string]model.Session),
		records:  make(map[string]model.CheckInRecord),
		calls:    make(map[string]int),
	}
}

// Clock returns the clock stamping authoritative writes.
func (a *Authority) Clock() *Clock {
	return a.clock
}

// SetOffline makes every call fail with a transport error.
func (a *Authority) SetOffline(offline bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offline = offline
}

// CallCount reports how many times op was attempted, including failures.
func (a *Authority) CallCount(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *Authority) PutChild(c model.Child) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.children[c.ID] = c
}

func (a *Authority) PutSession(s model.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.ID] = s
}

// Session returns the authoritative copy of a session.
func (a *Authority) Session(id string) model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[id]
}

func (a *Authority) Child(id string) model.Child {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.children[id]
}

// Record returns the authoritative copy of a record.
func (a *Authority) Record(id string) model.CheckInRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[id]
}

// Children returns every child ordered by id.
func (a *Authority) Children() []model.Child {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedValues(a.children)
}

// Sessions returns every session ordered by id.
func (a *Authority) Sessions() []model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedValues(a.sessions)
}

// Records returns every record ordered by id.
func (a *Authority) Records() []model.CheckInRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedValues(a.records)
}

func sortedValues[V any](m map[string]V) []V {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// begin counts the call and fails it if the authority is unreachable.
// Caller holds a.mu.
func (a *Authority) begin(ctx context.Context, op string) error {
	a.calls[op]++
	if a.offline {
		return &remote.TransportError{Op: op, Err: errors.New("connection refused")}
	}
	if err := ctx.Err(); err != nil {
		return &remote.TransportError{Op: op, Err: err}
	}
	return nil
}

func reject(op string, status int, code, reason string) error {
	return &remote.RejectionError{Op: op, Status: status, Code: code, Reason: reason}
}

func (a *Authority) CheckIn(ctx context.Context, req remote.CheckInRequest) (remote.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "check in"); err != nil {
		return remote.Result{}, err
	}

	child, ok := a.children[req.ChildID]
	if !ok {
		return remote.Result{}, reject("check in", http.StatusNotFound, "CHILD_NOT_FOUND", "unknown child")
	}
	if child.Status == model.StatusCheckedIn {
		return remote.Result{}, reject("check in", http.StatusConflict, "ALREADY_CHECKED_IN", "already checked in")
	}
	session, ok := a.sessions[req.SessionID]
	if !ok {
		return remote.Result{}, reject("check in", http.StatusNotFound, "SESSION_NOT_FOUND", "unknown session")
	}
	if session.IsFull() {
		return remote.Result{}, reject("check in", http.StatusConflict, "SESSION_FULL", "session is full")
	}

	now := a.clock.Now()
	a.nextID++
	rec := model.CheckInRecord{
		ID:          fmt.Sprintf("srv-%d", a.nextID),
		ChildID:     req.ChildID,
		SessionID:   req.SessionID,
		CheckInTime: now,
		CheckedInBy: req.CheckedInBy,
		Notes:       req.Notes,
		Status:      model.RecordCheckedIn,
	}
	child.Status = model.StatusCheckedIn
	child.CurrentSessionID = model.StringPtr(req.SessionID)
	child.CheckInTime = &now
	child.UpdatedAt = now
	session.CurrentCapacity++
	session.UpdatedAt = now

	a.records[rec.ID] = rec
	a.children[child.ID] = child
	a.sessions[session.ID] = session
	return remote.Result{Record: rec, Child: child, Session: session}, nil
}

func (a *Authority) CheckOut(ctx context.Context, req remote.CheckOutRequest) (remote.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "check out"); err != nil {
		return remote.Result{}, err
	}

	var rec model.CheckInRecord
	found := false
	for _, r := range a.records {
		if r.ChildID == req.ChildID && r.Status == model.RecordCheckedIn {
			rec, found = r, true
			break
		}
	}
	if !found {
		return remote.Result{}, reject("check out", http.StatusConflict, "NOT_CHECKED_IN", "not checked in")
	}

	now := a.clock.Now()
	rec.Status = model.RecordCheckedOut
	rec.CheckOutTime = &now
	rec.CheckedOutBy = model.StringPtr(req.CheckedOutBy)

	child := a.children[req.ChildID]
	child.Status = model.StatusCheckedOut
	child.CurrentSessionID = nil
	child.CheckOutTime = &now
	child.UpdatedAt = now

	session := a.sessions[rec.SessionID]
	if session.CurrentCapacity > 0 {
		session.CurrentCapacity--
	}
	session.UpdatedAt = now

	a.records[rec.ID] = rec
	a.children[child.ID] = child
	a.sessions[session.ID] = session
	return remote.Result{Record: rec, Child: child, Session: session}, nil
}

func (a *Authority) FetchChild(ctx context.Context, id string) (model.Child, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "fetch child"); err != nil {
		return model.Child{}, err
	}
	c, ok := a.children[id]
	if !ok {
		return model.Child{}, reject("fetch child", http.StatusNotFound, "", "not found")
	}
	return c, nil
}

func (a *Authority) FetchSession(ctx context.Context, id string) (model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "fetch session"); err != nil {
		return model.Session{}, err
	}
	s, ok := a.sessions[id]
	if !ok {
		return model.Session{}, reject("fetch session", http.StatusNotFound, "", "not found")
	}
	return s, nil
}

func (a *Authority) FetchSessions(ctx context.Context) ([]model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "fetch sessions"); err != nil {
		return nil, err
	}
	return sortedValues(a.sessions), nil
}

func (a *Authority) Register(ctx context.Context, reg model.Registration) (model.Child, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "register child"); err != nil {
		return model.Child{}, err
	}
	now := a.clock.Now()
	a.nextID++
	c := model.Child{
		ID:               fmt.Sprintf("child-srv-%d", a.nextID),
		GuardianID:       reg.GuardianID,
		FirstName:        reg.FirstName,
		LastName:         reg.LastName,
		DateOfBirth:      reg.DateOfBirth,
		MedicalNotes:     reg.MedicalNotes,
		DietaryNotes:     reg.DietaryNotes,
		EmergencyContact: reg.EmergencyContact,
		Status:           model.StatusNotInSession,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	a.children[c.ID] = c
	return c, nil
}
