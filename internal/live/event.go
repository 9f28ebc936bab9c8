package live

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/rollcall/internal/model"
)

// EventType names an inbound event on the wire.
type EventType string

const (
	EventChildStatusChanged     EventType = "child_status_changed"
	EventSessionCapacityChanged EventType = "session_capacity_changed"
	EventCheckedIn              EventType = "checked_in"
	EventCheckedOut             EventType = "checked_out"
	EventConnectionEstablished  EventType = "connection_established"
	EventHeartbeat              EventType = "heartbeat"
	EventError                  EventType = "error"
)

// Event is one inbound message. Entity-carrying events hold the full
// authoritative state of the entity, never a delta.
type Event struct {
	Type      EventType            `json:"type"`
	Child     *model.Child         `json:"child,omitempty"`
	Session   *model.Session       `json:"session,omitempty"`
	Record    *model.CheckInRecord `json:"record,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
	Message   string               `json:"message,omitempty"`
	Code      string               `json:"code,omitempty"`
}

// Validate checks that the payload the event type requires is present.
func (e Event) Validate() error {
	switch e.Type {
	case EventChildStatusChanged:
		if e.Child == nil {
			return fmt.Errorf("%s: missing child", e.Type)
		}
	case EventSessionCapacityChanged:
		if e.Session == nil {
			return fmt.Errorf("%s: missing session", e.Type)
		}
	case EventCheckedIn, EventCheckedOut:
		if e.Record == nil {
			return fmt.Errorf("%s: missing record", e.Type)
		}
	case EventConnectionEstablished, EventHeartbeat, EventError:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Decode parses and validates one inbound JSON frame.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Action is what an outbound message asks the server to do.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// Outbound is a subscription control message.
type Outbound struct {
	Action Action     `json:"action"`
	Kind   model.Kind `json:"kind"`
	ID     string     `json:"id"`
}

// Subscribe builds a subscribe message for one entity.
func Subscribe(kind model.Kind, id string) Outbound {
	return Outbound{Action: ActionSubscribe, Kind: kind, ID: id}
}

// Unsubscribe builds an unsubscribe message for one entity.
func Unsubscribe(kind model.Kind, id string) Outbound {
	return Outbound{Action: ActionUnsubscribe, Kind: kind, ID: id}
}
