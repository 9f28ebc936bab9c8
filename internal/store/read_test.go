package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/model"
)

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetChild(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, err = s.GetSession(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, err = s.GetRecord(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, err = s.ActiveRecordForChild(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestActiveRecordForChild_IgnoresCheckedOut(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	old := createTestRecord("rec-1", "child-1", "session-1", testEpoch)
	old.Status = model.RecordCheckedOut
	old.CheckOutTime = model.TimePtr(testEpoch.Add(time.Hour))
	require.NoError(t, s.UpsertRecord(ctx, old))

	_, err := s.ActiveRecordForChild(ctx, "child-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	active := createTestRecord("rec-2", "child-1", "session-1", testEpoch.Add(2*time.Hour))
	require.NoError(t, s.UpsertRecord(ctx, active))

	got, err := s.ActiveRecordForChild(ctx, "child-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-2", got.ID)
}

func TestActiveRecordForChild_MostRecentWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, createTestRecord("rec-a", "child-1", "session-1", testEpoch)))
	require.NoError(t, s.UpsertRecord(ctx, createTestRecord("rec-b", "child-1", "session-2", testEpoch.Add(time.Minute))))

	got, err := s.ActiveRecordForChild(ctx, "child-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-b", got.ID)
}

func TestPendingRecords_OrderedByCheckIn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	late := createTestRecord("rec-late", "child-2", "session-1", testEpoch.Add(time.Hour))
	late.Pending = model.PendingCheckInAndOut
	early := createTestRecord("rec-early", "child-1", "session-1", testEpoch)
	early.Pending = model.PendingCheckIn
	synced := createTestRecord("rec-synced", "child-3", "session-1", testEpoch)
	synced.LastSyncedAt = model.TimePtr(testEpoch)

	for _, r := range []model.CheckInRecord{late, early, synced} {
		require.NoError(t, s.UpsertRecord(ctx, r))
	}

	pending, err := s.PendingRecords(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "rec-early", pending[0].ID)
	assert.Equal(t, "rec-late", pending[1].ID)
	assert.Equal(t, model.PendingCheckInAndOut, pending[1].Pending)
}

func TestPendingRecords_SubSecondCheckInsInTimeOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	offsets := map[string]time.Duration{
		"rec-d": time.Second,
		"rec-c": 500 * time.Millisecond,
		"rec-b": 120 * time.Millisecond,
		"rec-a": 100 * time.Millisecond,
		"rec-0": 0,
	}
	for id, off := range offsets {
		r := createTestRecord(id, "child-"+id, "session-1", testEpoch.Add(off))
		r.Pending = model.PendingCheckIn
		require.NoError(t, s.UpsertRecord(ctx, r))
	}

	pending, err := s.PendingRecords(ctx)
	require.NoError(t, err)
	ids := make([]string, len(pending))
	for i, r := range pending {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"rec-0", "rec-a", "rec-b", "rec-c", "rec-d"}, ids)
}

func TestActiveRecordForChild_SubSecondMostRecentWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, createTestRecord("rec-a", "child-1", "session-1", testEpoch.Add(500*time.Millisecond))))
	require.NoError(t, s.UpsertRecord(ctx, createTestRecord("rec-b", "child-1", "session-2", testEpoch.Add(time.Second))))

	got, err := s.ActiveRecordForChild(ctx, "child-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-b", got.ID)
}

func TestPendingRecords_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	pending, err := s.PendingRecords(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
}

func TestListChildren_Predicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestChild("child-a")
	b := createTestChild("child-b")
	b.GuardianID = "guardian-2"
	c := createTestChild("child-c")
	for _, child := range []model.Child{c, a, b} {
		require.NoError(t, s.UpsertChild(ctx, child))
	}

	got, err := s.ListChildren(ctx, func(c model.Child) bool { return c.GuardianID == "guardian-1" })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "child-a", got[0].ID)
	assert.Equal(t, "child-c", got[1].ID)
}

func TestListSessions_PredicateAndOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	later := createTestSession("session-later", 0, 10)
	later.StartsAt = testEpoch.Add(24 * time.Hour)
	full := createTestSession("session-full", 10, 10)
	open := createTestSession("session-open", 2, 10)

	for _, sess := range []model.Session{later, full, open} {
		require.NoError(t, s.UpsertSession(ctx, sess))
	}

	all, err := s.ListSessions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "session-later", all[2].ID)

	available, err := s.ListSessions(ctx, model.Session.HasCapacity)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, "session-open", available[0].ID)
	assert.Equal(t, "session-later", available[1].ID)
}

func TestListRecords_Predicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, createTestRecord("rec-1", "child-1", "session-1", testEpoch)))
	require.NoError(t, s.UpsertRecord(ctx, createTestRecord("rec-2", "child-2", "session-2", testEpoch)))

	got, err := s.ListRecords(ctx, func(r model.CheckInRecord) bool { return r.SessionID == "session-2" })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rec-2", got[0].ID)
}
