package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/remote"
	"github.com/roach88/rollcall/internal/testutil"
)

func TestCheckIn_Online(t *testing.T) {
	auth, dev := newTestSetup(t, "local-1")
	dev.seed(t, auth,
		[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(5))},
		[]model.Session{testutil.Session("sess-1", 5, 20)})

	rec, err := dev.engine.CheckIn(context.Background(), "child-1", "sess-1", "staff-1", "drop-off")
	require.NoError(t, err)

	assert.Equal(t, "srv-1", rec.ID)
	assert.Equal(t, model.RecordCheckedIn, rec.Status)
	assert.True(t, rec.Synced())

	child := dev.child(t, "child-1")
	assert.Equal(t, model.StatusCheckedIn, child.Status)
	require.NotNil(t, child.CurrentSessionID)
	assert.Equal(t, "sess-1", *child.CurrentSessionID)
	assert.NotNil(t, child.LastSyncedAt)

	assert.Equal(t, 6, dev.session(t, "sess-1").CurrentCapacity)

	// The optimistic record was re-keyed to the authority's id.
	records := dev.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "srv-1", records[0].ID)
	assert.Equal(t, model.PendingNone, records[0].Pending)
}

func TestCheckIn_Offline(t *testing.T) {
	auth, dev := newTestSetup(t, "local-1")
	dev.seed(t, auth,
		[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(5))},
		[]model.Session{testutil.Session("sess-1", 5, 20)})
	auth.SetOffline(true)

	rec, err := dev.engine.CheckIn(context.Background(), "child-1", "sess-1", "staff-1", "")
	require.NoError(t, err)

	assert.Equal(t, "local-1", rec.ID)
	assert.Equal(t, model.PendingCheckIn, rec.Pending)
	assert.Nil(t, rec.LastSyncedAt)
	assert.False(t, rec.Synced())

	assert.Equal(t, model.StatusCheckedIn, dev.child(t, "child-1").Status)
	assert.Equal(t, 6, dev.session(t, "sess-1").CurrentCapacity)

	pending, err := dev.store.PendingRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "local-1", pending[0].ID)

	// Authority never saw it.
	assert.Equal(t, 5, auth.Session("sess-1").CurrentCapacity)
}

func TestCheckIn_Preconditions(t *testing.T) {
	checkedIn := testutil.Child("child-in", testutil.BornYearsAgo(5))
	checkedIn.Status = model.StatusCheckedIn
	checkedIn.CurrentSessionID = model.StringPtr("sess-open")

	closed := testutil.Session("sess-closed", 0, 20)
	closed.AcceptingCheckIns = false

	tests := []struct {
		name      string
		childID   string
		sessionID string
		code      ErrorCode
	}{
		{"unknown child", "nobody", "sess-open", ErrCodeChildNotFound},
		{"already checked in", "child-in", "sess-open", ErrCodeAlreadyCheckedIn},
		{"unknown session", "child-5", "nowhere", ErrCodeSessionNotFound},
		{"closed session", "child-5", "sess-closed", ErrCodeSessionClosed},
		{"full session", "child-5", "sess-full", ErrCodeSessionFull},
		{"too young", "child-2", "sess-open", ErrCodeAgeIneligible},
		{"too old", "child-9", "sess-open", ErrCodeAgeIneligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, dev := newTestSetup(t)
			dev.seed(t, auth,
				[]model.Child{
					checkedIn,
					testutil.Child("child-2", testutil.BornYearsAgo(2)),
					testutil.Child("child-5", testutil.BornYearsAgo(5)),
					testutil.Child("child-9", testutil.BornYearsAgo(9)),
				},
				[]model.Session{
					testutil.Session("sess-open", 3, 20),
					testutil.Session("sess-full", 20, 20),
					closed,
				})

			before := dev.records(t)

			_, err := dev.engine.CheckIn(context.Background(), tt.childID, tt.sessionID, "staff-1", "")
			require.Error(t, err)
			assert.True(t, IsValidationError(err, tt.code), "got %v", err)

			assert.Equal(t, before, dev.records(t))
			assert.Equal(t, 3, dev.session(t, "sess-open").CurrentCapacity)
			assert.Equal(t, 20, dev.session(t, "sess-full").CurrentCapacity)
			assert.Zero(t, auth.CallCount("check in"))
		})
	}
}

func TestCheckIn_AgeBoundaries(t *testing.T) {
	for _, age := range []int{3, 8} {
		auth, dev := newTestSetup(t, "local-1")
		dev.seed(t, auth,
			[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(age))},
			[]model.Session{testutil.Session("sess-1", 0, 20)})

		_, err := dev.engine.CheckIn(context.Background(), "child-1", "sess-1", "staff-1", "")
		assert.NoError(t, err, "age %d", age)
	}
}

func TestCheckIn_LastSpotTakenByAnotherDevice(t *testing.T) {
	auth := testutil.NewAuthority(testutil.NewClock(testutil.Epoch))
	devA := newDevice(t, auth, "a-1")
	devB := newDevice(t, auth, "b-1")

	childA := testutil.Child("child-a", testutil.BornYearsAgo(5))
	childB := testutil.Child("child-b", testutil.BornYearsAgo(6))
	devA.seed(t, auth, []model.Child{childA, childB}, []model.Session{testutil.Session("sess-1", 19, 20)})
	devB.seed(t, auth, []model.Child{childA, childB}, []model.Session{testutil.Session("sess-1", 19, 20)})

	_, err := devA.engine.CheckIn(context.Background(), "child-a", "sess-1", "staff-a", "")
	require.NoError(t, err)
	assert.Equal(t, 20, auth.Session("sess-1").CurrentCapacity)

	// B still believes there is one spot left.
	assert.Equal(t, 19, devB.session(t, "sess-1").CurrentCapacity)

	_, err = devB.engine.CheckIn(context.Background(), "child-b", "sess-1", "staff-b", "")
	require.Error(t, err)
	require.True(t, IsRejection(err))

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "SESSION_FULL", rej.Err.Code)

	session := devB.session(t, "sess-1")
	assert.Equal(t, 20, session.CurrentCapacity)
	assert.True(t, session.IsFull())

	child := devB.child(t, "child-b")
	assert.Equal(t, model.StatusNotInSession, child.Status)
	assert.Nil(t, child.CurrentSessionID)

	assert.Empty(t, devB.records(t))
}

func TestCheckIn_CancelledContextStillCompletes(t *testing.T) {
	auth, dev := newTestSetup(t, "local-1")
	dev.seed(t, auth,
		[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(5))},
		[]model.Session{testutil.Session("sess-1", 0, 20)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := dev.engine.CheckIn(ctx, "child-1", "sess-1", "staff-1", "")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", rec.ID)
	assert.True(t, rec.Synced())
	assert.Equal(t, 1, auth.Session("sess-1").CurrentCapacity)
}

func TestCheckIn_ConcurrentSameChild(t *testing.T) {
	auth, dev := newTestSetup(t, "local-1", "local-2", "local-3", "local-4")
	dev.seed(t, auth,
		[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(5))},
		[]model.Session{testutil.Session("sess-1", 0, 20)})

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = dev.engine.CheckIn(context.Background(), "child-1", "sess-1", "staff-1", "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, IsValidationError(err, ErrCodeAlreadyCheckedIn), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, dev.session(t, "sess-1").CurrentCapacity)
	assert.Len(t, dev.records(t), 1)
	assert.Equal(t, 0, dev.engine.locks.held())
}

func TestCheckIn_ConcurrentDifferentChildrenOffline(t *testing.T) {
	const n = 6
	ids := make([]string, n)
	children := make([]model.Child, n)
	for i := range n {
		ids[i] = fmt.Sprintf("local-%d", i)
		children[i] = testutil.Child(fmt.Sprintf("child-%d", i), testutil.BornYearsAgo(5))
	}
	auth, dev := newTestSetup(t, ids...)
	dev.seed(t, auth, children, []model.Session{testutil.Session("sess-1", 17, 20)})
	auth.SetOffline(true)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = dev.engine.CheckIn(context.Background(), children[i].ID, "sess-1", "staff-1", "")
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		assert.True(t, IsValidationError(err, ErrCodeSessionFull), "got %v", err)
	}
	assert.Equal(t, 3, admitted)

	active := 0
	for _, r := range dev.records(t) {
		if r.Status == model.RecordCheckedIn {
			active++
		}
	}
	assert.Equal(t, 3, active)
	assert.Equal(t, 20, dev.session(t, "sess-1").CurrentCapacity)
	assert.Equal(t, 0, dev.engine.locks.held())
}

func TestCheckIn_ExpiredCredentialsKeptOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	s := setupTestStore(t)
	e := New(s, remote.NewClient(srv.URL, "expired", nil),
		WithClock(testutil.NewClock(testutil.Epoch).Now),
		WithIDGenerator(model.NewFixedGenerator("local-1")),
	)
	ctx := context.Background()
	require.NoError(t, s.UpsertChild(ctx, testutil.Child("child-1", testutil.BornYearsAgo(5))))
	require.NoError(t, s.UpsertSession(ctx, testutil.Session("sess-1", 5, 20)))

	rec, err := e.CheckIn(ctx, "child-1", "sess-1", "staff-1", "")
	require.NoError(t, err)
	assert.Equal(t, "local-1", rec.ID)
	assert.Equal(t, model.PendingCheckIn, rec.Pending)

	stored, err := s.GetRecord(ctx, "local-1")
	require.NoError(t, err)
	assert.Equal(t, model.RecordCheckedIn, stored.Status)

	child, err := s.GetChild(ctx, "child-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCheckedIn, child.Status)

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 6, sess.CurrentCapacity)
}

func TestCheckOut_Online(t *testing.T) {
	auth, dev := newTestSetup(t, "local-1")
	dev.seed(t, auth,
		[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(5))},
		[]model.Session{testutil.Session("sess-1", 5, 20)})

	_, err := dev.engine.CheckIn(context.Background(), "child-1", "sess-1", "staff-1", "")
	require.NoError(t, err)

	rec, err := dev.engine.CheckOut(context.Background(), "child-1", "guardian-1", "")
	require.NoError(t, err)

	assert.Equal(t, "srv-1", rec.ID)
	assert.Equal(t, model.RecordCheckedOut, rec.Status)
	require.NotNil(t, rec.CheckedOutBy)
	assert.Equal(t, "guardian-1", *rec.CheckedOutBy)
	assert.True(t, rec.Synced())

	assert.Equal(t, model.StatusCheckedOut, dev.child(t, "child-1").Status)
	assert.Equal(t, 5, dev.session(t, "sess-1").CurrentCapacity)
	assert.Equal(t, 5, auth.Session("sess-1").CurrentCapacity)
}

func TestCheckOut_NotCheckedIn(t *testing.T) {
	auth, dev := newTestSetup(t)
	dev.seed(t, auth,
		[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(5))},
		[]model.Session{testutil.Session("sess-1", 5, 20)})

	_, err := dev.engine.CheckOut(context.Background(), "child-1", "guardian-1", "")
	assert.True(t, IsValidationError(err, ErrCodeNotCheckedIn))

	_, err = dev.engine.CheckOut(context.Background(), "nobody", "guardian-1", "")
	assert.True(t, IsValidationError(err, ErrCodeChildNotFound))

	assert.Zero(t, auth.CallCount("check out"))
}

func TestCheckOut_OfflineQueuesBehindCheckIn(t *testing.T) {
	auth, dev := newTestSetup(t, "local-1")
	dev.seed(t, auth,
		[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(5))},
		[]model.Session{testutil.Session("sess-1", 5, 20)})
	auth.SetOffline(true)

	_, err := dev.engine.CheckIn(context.Background(), "child-1", "sess-1", "staff-1", "")
	require.NoError(t, err)
	assert.Equal(t, 6, dev.session(t, "sess-1").CurrentCapacity)

	rec, err := dev.engine.CheckOut(context.Background(), "child-1", "guardian-1", "")
	require.NoError(t, err)

	assert.Equal(t, "local-1", rec.ID)
	assert.Equal(t, model.RecordCheckedOut, rec.Status)
	assert.Equal(t, model.PendingCheckInAndOut, rec.Pending)

	assert.Equal(t, 5, dev.session(t, "sess-1").CurrentCapacity)
	assert.Equal(t, model.StatusCheckedOut, dev.child(t, "child-1").Status)

	// Nothing was attempted for the check-out; its check-in is still queued.
	assert.Zero(t, auth.CallCount("check out"))
}

func TestCheckOut_OfflineAfterSyncedCheckIn(t *testing.T) {
	auth, dev := newTestSetup(t, "local-1")
	dev.seed(t, auth,
		[]model.Child{testutil.Child("child-1", testutil.BornYearsAgo(5))},
		[]model.Session{testutil.Session("sess-1", 5, 20)})

	_, err := dev.engine.CheckIn(context.Background(), "child-1", "sess-1", "staff-1", "")
	require.NoError(t, err)

	auth.SetOffline(true)
	rec, err := dev.engine.CheckOut(context.Background(), "child-1", "guardian-1", "")
	require.NoError(t, err)

	assert.Equal(t, "srv-1", rec.ID)
	assert.Equal(t, model.PendingCheckOut, rec.Pending)
	assert.Equal(t, 1, auth.CallCount("check out"))
	assert.Equal(t, 5, dev.session(t, "sess-1").CurrentCapacity)
}

func TestCheckOut_RejectionRestoresState(t *testing.T) {
	auth, dev := newTestSetup(t)

	// Locally checked in; the authority disagrees.
	local := testutil.Child("child-1", testutil.BornYearsAgo(5))
	local.Status = model.StatusCheckedIn
	local.CurrentSessionID = model.StringPtr("sess-1")
	local.CheckInTime = model.TimePtr(testutil.Epoch)

	synced := testutil.Epoch
	record := model.CheckInRecord{
		ID:           "srv-9",
		ChildID:      "child-1",
		SessionID:    "sess-1",
		CheckInTime:  testutil.Epoch,
		CheckedInBy:  "staff-1",
		Status:       model.RecordCheckedIn,
		LastSyncedAt: &synced,
	}

	ctx := context.Background()
	require.NoError(t, dev.store.UpsertChild(ctx, local))
	require.NoError(t, dev.store.UpsertSession(ctx, testutil.Session("sess-1", 6, 20)))
	require.NoError(t, dev.store.UpsertRecord(ctx, record))
	auth.PutChild(testutil.Child("child-1", testutil.BornYearsAgo(5)))
	auth.PutSession(testutil.Session("sess-1", 5, 20))

	_, err := dev.engine.CheckOut(ctx, "child-1", "guardian-1", "")
	require.Error(t, err)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "NOT_CHECKED_IN", rej.Err.Code)
	assert.Equal(t, "not checked in", rej.Reason())

	got, err := dev.store.GetRecord(ctx, "srv-9")
	require.NoError(t, err)
	assert.Equal(t, model.RecordCheckedIn, got.Status)
	assert.Nil(t, got.CheckOutTime)
	assert.Equal(t, model.PendingNone, got.Pending)

	// The authority's view of the child and session wins.
	assert.Equal(t, model.StatusNotInSession, dev.child(t, "child-1").Status)
	assert.Equal(t, 5, dev.session(t, "sess-1").CurrentCapacity)
}
