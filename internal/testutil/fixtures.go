package testutil

import (
	"time"

	"github.com/roach88/rollcall/internal/model"
)

// Epoch is the default "now" for fixtures: a Monday morning drop-off.
var Epoch = time.Date(2024, time.September, 2, 8, 30, 0, 0, time.UTC)

// BornYearsAgo returns a date of birth making a child exactly years old at
// Epoch, with the birthday a few months behind.
func BornYearsAgo(years int) time.Time {
	return time.Date(Epoch.Year()-years, time.April, 10, 0, 0, 0, 0, time.UTC)
}

// Child returns an active child, not in any session, born on dob.
func Child(id string, dob time.Time) model.Child {
	return model.Child{
		ID:          id,
		GuardianID:  "guardian-1",
		FirstName:   "Kid",
		LastName:    id,
		DateOfBirth: dob,
		EmergencyContact: model.EmergencyContact{
			Name:  "Grandparent",
			Phone: "555-0100",
		},
		Status:    model.StatusNotInSession,
		Active:    true,
		CreatedAt: Epoch.Add(-30 * 24 * time.Hour),
		UpdatedAt: Epoch.Add(-30 * 24 * time.Hour),
	}
}

// Session returns an open session for ages 3 to 8 with the given capacity.
func Session(id string, current, max int) model.Session {
	return model.Session{
		ID:                id,
		Name:              "Session " + id,
		MinAge:            3,
		MaxAge:            8,
		MaxCapacity:       max,
		CurrentCapacity:   current,
		AcceptingCheckIns: true,
		Location:          "Room 1",
		StaffIDs:          []string{"staff-1"},
		StartsAt:          Epoch,
		EndsAt:            Epoch.Add(3 * time.Hour),
		UpdatedAt:         Epoch.Add(-time.Hour),
	}
}
