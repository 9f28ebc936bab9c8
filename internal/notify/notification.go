package notify

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/model"
)

// Type is the category of a user-facing notification.
type Type string

const (
	TypeCheckIn        Type = "check_in"
	TypeCheckOut       Type = "check_out"
	TypeStatusChange   Type = "status_change"
	TypeCapacityUpdate Type = "capacity_update"
	TypeSessionFull    Type = "session_full"
	TypeConnection     Type = "connection"
	TypeError          Type = "error"
	TypeReverted       Type = "reverted"
)

// Notification is a human-readable record of something that happened.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ChildID   string    `json:"child_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Generator turns inbound events into notifications. Apart from minting
// ids it has no side effects.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewGenerator creates a generator reading id entropy from entropy.
// A nil reader uses crypto/rand with monotonic ordering within a millisecond.
func NewGenerator(entropy io.Reader) *Generator {
	if entropy == nil {
		entropy = ulid.Monotonic(rand.Reader, 0)
	}
	return &Generator{entropy: entropy}
}

// Generate maps one event to its notifications. Heartbeats produce none.
// A capacity update that leaves the session full yields a second,
// session_full notification.
func (g *Generator) Generate(e live.Event, now time.Time) []Notification {
	now = now.UTC()
	switch e.Type {
	case live.EventCheckedIn:
		r := e.Record
		return []Notification{g.build(now, TypeCheckIn, "Checked In",
			fmt.Sprintf("%s checked in to %s", childName(e, r.ChildID), sessionName(e, r.SessionID)),
			r.ChildID, r.SessionID)}

	case live.EventCheckedOut:
		r := e.Record
		return []Notification{g.build(now, TypeCheckOut, "Checked Out",
			fmt.Sprintf("%s checked out of %s", childName(e, r.ChildID), sessionName(e, r.SessionID)),
			r.ChildID, r.SessionID)}

	case live.EventChildStatusChanged:
		c := e.Child
		sessionID := ""
		if c.CurrentSessionID != nil {
			sessionID = *c.CurrentSessionID
		}
		return []Notification{g.build(now, TypeStatusChange, "Status Updated",
			fmt.Sprintf("%s is now %s", c.DisplayName(), describeStatus(c.Status)),
			c.ID, sessionID)}

	case live.EventSessionCapacityChanged:
		s := e.Session
		out := []Notification{g.build(now, TypeCapacityUpdate, "Capacity Updated",
			fmt.Sprintf("%s now has %d of %d spots filled", s.Name, s.CurrentCapacity, s.MaxCapacity),
			"", s.ID)}
		if s.IsFull() {
			out = append(out, g.build(now, TypeSessionFull, "Session Full",
				fmt.Sprintf("%s is full (%d/%d)", s.Name, s.CurrentCapacity, s.MaxCapacity),
				"", s.ID))
		}
		return out

	case live.EventConnectionEstablished:
		return []Notification{g.Connection("Connected", "Live updates connected", now)}

	case live.EventError:
		msg := e.Message
		if e.Code != "" {
			msg = fmt.Sprintf("%s (%s)", e.Message, e.Code)
		}
		return []Notification{g.build(now, TypeError, "Live Update Error", msg, "", "")}
	}
	return nil
}

// Connection builds a connection-lifecycle notification.
func (g *Generator) Connection(title, message string, now time.Time) Notification {
	return g.build(now.UTC(), TypeConnection, title, message, "", "")
}

// Reverted builds a notification for offline work the authority refused
// when it was replayed. op is "check-in" or "check-out".
func (g *Generator) Reverted(op, childID, sessionID, reason string, now time.Time) Notification {
	return g.build(now.UTC(), TypeReverted, "Offline Change Undone",
		fmt.Sprintf("Offline %s for %s was refused: %s", op, childID, reason),
		childID, sessionID)
}

func (g *Generator) build(now time.Time, typ Type, title, message, childID, sessionID string) Notification {
	return Notification{
		ID:        g.newID(now),
		Type:      typ,
		Title:     title,
		Message:   message,
		ChildID:   childID,
		SessionID: sessionID,
		Timestamp: now,
	}
}

func (g *Generator) newID(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		// Entropy exhausted or the monotonic counter overflowed; the
		// timestamp alone still orders the notification.
		id, _ = ulid.New(ulid.Timestamp(now), nil)
	}
	return id.String()
}

func childName(e live.Event, fallback string) string {
	if e.Child != nil {
		if name := e.Child.DisplayName(); name != "" {
			return name
		}
	}
	return fallback
}

func sessionName(e live.Event, fallback string) string {
	if e.Session != nil && e.Session.Name != "" {
		return e.Session.Name
	}
	return fallback
}

func describeStatus(s model.ChildStatus) string {
	switch s {
	case model.StatusCheckedIn:
		return "checked in"
	case model.StatusCheckedOut:
		return "checked out"
	case model.StatusNotInSession:
		return "not in a session"
	}
	return string(s)
}
