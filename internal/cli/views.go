package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/model"
)

// recordView is the output of checkin and checkout.
type recordView struct {
	Record model.CheckInRecord `json:"record"`
	Synced bool                `json:"synced"`
	// Pending is the queued operation, empty once the authority confirmed.
	Pending model.PendingOp `json:"pending,omitempty"`
}

func newRecordView(r model.CheckInRecord) recordView {
	return recordView{Record: r, Synced: r.Synced(), Pending: r.Pending}
}

func (v recordView) String() string {
	verb := "Checked in"
	prep := "to"
	if v.Record.Status == model.RecordCheckedOut {
		verb, prep = "Checked out", "of"
	}
	state := "confirmed"
	if !v.Synced {
		state = "queued for sync"
	}
	return fmt.Sprintf("%s %s %s %s (record %s, %s)", verb, v.Record.ChildID, prep, v.Record.SessionID, v.Record.ID, state)
}

type syncView struct {
	engine.SyncSummary
}

func (v syncView) String() string {
	s := fmt.Sprintf("Synced: %d applied, %d rejected", v.Applied, v.Reverted)
	if v.Deferred > 0 {
		s += fmt.Sprintf("; backend unreachable, %d record(s) still pending", v.Deferred+v.Remaining)
	}
	return s
}

type sessionsView []model.Session

func (v sessionsView) String() string {
	if len(v) == 0 {
		return "No sessions"
	}
	var b strings.Builder
	for i, s := range v {
		if i > 0 {
			b.WriteByte('\n')
		}
		state := "open"
		switch {
		case !s.AcceptingCheckIns:
			state = "closed"
		case s.IsFull():
			state = "full"
		}
		fmt.Fprintf(&b, "%-12s %-24s %2d/%-2d ages %d-%d  %s", s.ID, s.Name, s.CurrentCapacity, s.MaxCapacity, s.MinAge, s.MaxAge, state)
	}
	return b.String()
}

type childView struct {
	model.Child
}

func (v childView) String() string {
	return fmt.Sprintf("Registered %s (%s)", v.DisplayName(), v.ID)
}

type statusView struct {
	DeviceID      string                `json:"device_id"`
	Staff         string                `json:"staff,omitempty"`
	Sessions      int                   `json:"sessions"`
	CheckedIn     []model.Child         `json:"checked_in"`
	Pending       []model.CheckInRecord `json:"pending"`
	OldestPending string                `json:"oldest_pending,omitempty"`
}

func (v statusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Device:     %s\n", v.DeviceID)
	if v.Staff != "" {
		fmt.Fprintf(&b, "Signed in:  %s\n", v.Staff)
	}
	fmt.Fprintf(&b, "Sessions:   %d\n", v.Sessions)
	fmt.Fprintf(&b, "Checked in: %d\n", len(v.CheckedIn))
	fmt.Fprintf(&b, "Pending:    %d", len(v.Pending))
	if v.OldestPending != "" {
		fmt.Fprintf(&b, " (oldest %s)", v.OldestPending)
	}
	return b.String()
}
