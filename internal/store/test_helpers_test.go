package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/rollcall/internal/model"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, time.September, 2, 8, 30, 0, 0, time.UTC)

// createTestChild creates a child that is not in any session.
func createTestChild(id string) model.Child {
	return model.Child{
		ID:          id,
		GuardianID:  "guardian-1",
		FirstName:   "Test",
		LastName:    "Child",
		DateOfBirth: time.Date(2019, time.April, 10, 0, 0, 0, 0, time.UTC),
		EmergencyContact: model.EmergencyContact{
			Name:  "Grandparent",
			Phone: "555-0100",
		},
		Status:    model.StatusNotInSession,
		Active:    true,
		CreatedAt: testEpoch,
		UpdatedAt: testEpoch,
	}
}

// createTestSession creates a session with the given capacity counters.
func createTestSession(id string, current, max int) model.Session {
	return model.Session{
		ID:                id,
		Name:              "Morning Club",
		MinAge:            3,
		MaxAge:            8,
		MaxCapacity:       max,
		CurrentCapacity:   current,
		AcceptingCheckIns: true,
		Location:          "Room 1",
		StaffIDs:          []string{"staff-1"},
		StartsAt:          testEpoch,
		EndsAt:            testEpoch.Add(3 * time.Hour),
		UpdatedAt:         testEpoch,
	}
}

// createTestRecord creates an active check-in record.
func createTestRecord(id, childID, sessionID string, checkIn time.Time) model.CheckInRecord {
	return model.CheckInRecord{
		ID:          id,
		ChildID:     childID,
		SessionID:   sessionID,
		CheckInTime: checkIn,
		CheckedInBy: "guardian-1",
		Status:      model.RecordCheckedIn,
	}
}
