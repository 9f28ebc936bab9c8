package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAgeAt(t *testing.T) {
	dob := date(2018, time.June, 15)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"day before birthday", date(2024, time.June, 14), 5},
		{"on birthday", date(2024, time.June, 15), 6},
		{"after birthday", date(2024, time.December, 1), 6},
		{"earlier month", date(2024, time.January, 20), 5},
		{"before birth", date(2017, time.January, 1), 0},
		{"newborn", date(2018, time.June, 15), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AgeAt(dob, tt.now))
		})
	}
}

func TestAgeAt_LeapDay(t *testing.T) {
	dob := date(2016, time.February, 29)

	assert.Equal(t, 6, AgeAt(dob, date(2023, time.February, 28)))
	assert.Equal(t, 7, AgeAt(dob, date(2023, time.March, 1)))
}

func TestChild_Validate(t *testing.T) {
	c := Child{ID: "c1", Status: StatusNotInSession}
	require.NoError(t, c.Validate())

	c.Status = StatusCheckedIn
	assert.Error(t, c.Validate(), "checked in without session")

	c.CurrentSessionID = StringPtr("s1")
	assert.NoError(t, c.Validate())

	c.Status = StatusCheckedOut
	assert.Error(t, c.Validate(), "checked out but still holding a session")

	assert.Error(t, Child{}.Validate())
}

func TestSession_Capacity(t *testing.T) {
	s := Session{ID: "s1", MaxCapacity: 2, CurrentCapacity: 1, MinAge: 3, MaxAge: 8}
	assert.True(t, s.HasCapacity())
	assert.False(t, s.IsFull())
	require.NoError(t, s.Validate())

	s.CurrentCapacity = 2
	assert.False(t, s.HasCapacity())
	assert.True(t, s.IsFull())
	assert.NoError(t, s.Validate())

	s.CurrentCapacity = 3
	assert.Error(t, s.Validate())

	s.CurrentCapacity = -1
	assert.Error(t, s.Validate())
}

func TestSession_AcceptsAge(t *testing.T) {
	s := Session{MinAge: 3, MaxAge: 5}
	assert.False(t, s.AcceptsAge(2))
	assert.True(t, s.AcceptsAge(3))
	assert.True(t, s.AcceptsAge(5))
	assert.False(t, s.AcceptsAge(6))
}

func TestPendingOp(t *testing.T) {
	assert.False(t, PendingNone.NeedsCheckIn())
	assert.False(t, PendingNone.NeedsCheckOut())
	assert.True(t, PendingCheckIn.NeedsCheckIn())
	assert.False(t, PendingCheckIn.NeedsCheckOut())
	assert.True(t, PendingCheckOut.NeedsCheckOut())
	assert.True(t, PendingCheckInAndOut.NeedsCheckIn())
	assert.True(t, PendingCheckInAndOut.NeedsCheckOut())
}

func TestRecord_Synced(t *testing.T) {
	r := CheckInRecord{ID: "r1"}
	assert.False(t, r.Synced())

	r.LastSyncedAt = TimePtr(date(2024, time.May, 1))
	assert.True(t, r.Synced())

	r.Pending = PendingCheckOut
	assert.False(t, r.Synced())
}

func TestChildFingerprint_IgnoresSyncBookkeeping(t *testing.T) {
	c := Child{ID: "c1", FirstName: "Ada", Status: StatusNotInSession, DateOfBirth: date(2019, time.March, 3)}

	a, err := ChildFingerprint(c)
	require.NoError(t, err)

	c.LastSyncedAt = TimePtr(time.Now())
	b, err := ChildFingerprint(c)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c.Status = StatusCheckedIn
	c.CurrentSessionID = StringPtr("s1")
	d, err := ChildFingerprint(c)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestChildFingerprint_SameInstantDifferentZone(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := date(2024, time.May, 1)

	a, err := ChildFingerprint(Child{ID: "c1", UpdatedAt: at})
	require.NoError(t, err)
	b, err := ChildFingerprint(Child{ID: "c1", UpdatedAt: at.In(loc)})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestChildFingerprint_NFCNormalization(t *testing.T) {
	composed := "Zo\u00eb"
	decomposed := "Zoe\u0308"

	a, err := ChildFingerprint(Child{ID: "c1", FirstName: composed})
	require.NoError(t, err)
	b, err := ChildFingerprint(Child{ID: "c1", FirstName: decomposed})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSessionFingerprint(t *testing.T) {
	s := Session{ID: "s1", MaxCapacity: 20, CurrentCapacity: 5, StaffIDs: []string{"st1"}}
	a, err := SessionFingerprint(s)
	require.NoError(t, err)
	assert.Len(t, a, 64)

	s.CurrentCapacity = 6
	b, err := SessionFingerprint(s)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRecordFingerprint_ExcludesPending(t *testing.T) {
	r := CheckInRecord{ID: "r1", ChildID: "c1", SessionID: "s1", Status: RecordCheckedIn}
	a, err := RecordFingerprint(r)
	require.NoError(t, err)

	r.Pending = PendingCheckIn
	b, err := RecordFingerprint(r)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	r.Status = RecordCheckedOut
	r.CheckedOutBy = StringPtr("staff-1")
	c, err := RecordFingerprint(r)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestMarshalCanonical_SortsKeysAndSkipsHTMLEscaping(t *testing.T) {
	out, err := marshalCanonical(map[string]any{"b": 1, "a": "<x>", "c": []any{true, false}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1,"c":[true,false]}`, string(out))

	_, err = marshalCanonical(map[string]any{"f": 1.5})
	assert.Error(t, err)
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a := gen.Generate()
	b := gen.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestChild_DisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", Child{FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	assert.Equal(t, "Ada", Child{FirstName: "Ada"}.DisplayName())
}
