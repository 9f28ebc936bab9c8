package live

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/model"
)

func TestDecode_EntityEvents(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  EventType
	}{
		{"child", `{"type":"child_status_changed","child":{"id":"c1","status":"CHECKED_IN","current_session_id":"s1"}}`, EventChildStatusChanged},
		{"session", `{"type":"session_capacity_changed","session":{"id":"s1"}}`, EventSessionCapacityChanged},
		{"checked in", `{"type":"checked_in","record":{"id":"r1","status":"CHECKED_IN"}}`, EventCheckedIn},
		{"checked out", `{"type":"checked_out","record":{"id":"r1","status":"CHECKED_OUT"}}`, EventCheckedOut},
		{"error", `{"type":"error","message":"boom","code":"E1"}`, EventError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Type)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, frame := range []string{
		`{"type":"child_status_changed"}`,
		`{"type":"session_capacity_changed"}`,
		`{"type":"checked_out"}`,
		`{"type":"mystery"}`,
		`[]`,
	} {
		_, err := Decode([]byte(frame))
		assert.Error(t, err, frame)
	}
}

func TestDecode_ChildPayload(t *testing.T) {
	e, err := Decode([]byte(`{"type":"child_status_changed","child":{"id":"c1","first_name":"Ada","status":"CHECKED_IN","current_session_id":"s1"}}`))
	require.NoError(t, err)
	require.NotNil(t, e.Child)
	assert.Equal(t, "Ada", e.Child.FirstName)
	assert.Equal(t, model.StatusCheckedIn, e.Child.Status)
	require.NotNil(t, e.Child.CurrentSessionID)
	assert.Equal(t, "s1", *e.Child.CurrentSessionID)
}

func TestOutbound_WireFormat(t *testing.T) {
	data, err := json.Marshal(Subscribe(model.KindSession, "s1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"subscribe","kind":"session","id":"s1"}`, string(data))

	data, err = json.Marshal(Unsubscribe(model.KindChild, "c1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"unsubscribe","kind":"child","id":"c1"}`, string(data))
}
