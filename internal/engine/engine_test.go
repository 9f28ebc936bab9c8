package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/testutil"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// device is one client: its own store and engine, talking to a shared authority.
type device struct {
	store  *store.Store
	engine *Engine
}

func newDevice(t *testing.T, auth *testutil.Authority, ids ...string) *device {
	t.Helper()
	s := setupTestStore(t)
	e := New(s, auth,
		WithClock(auth.Clock().Now),
		WithIDGenerator(model.NewFixedGenerator(ids...)),
	)
	return &device{store: s, engine: e}
}

// seed puts the same child and session on the device and the authority.
func (d *device) seed(t *testing.T, auth *testutil.Authority, children []model.Child, sessions []model.Session) {
	t.Helper()
	ctx := context.Background()
	for _, c := range children {
		require.NoError(t, d.store.UpsertChild(ctx, c))
		auth.PutChild(c)
	}
	for _, s := range sessions {
		require.NoError(t, d.store.UpsertSession(ctx, s))
		auth.PutSession(s)
	}
}

func (d *device) child(t *testing.T, id string) model.Child {
	t.Helper()
	c, err := d.store.GetChild(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (d *device) session(t *testing.T, id string) model.Session {
	t.Helper()
	s, err := d.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (d *device) records(t *testing.T) []model.CheckInRecord {
	t.Helper()
	rs, err := d.store.ListRecords(context.Background(), nil)
	require.NoError(t, err)
	return rs
}

func newTestSetup(t *testing.T, ids ...string) (*testutil.Authority, *device) {
	t.Helper()
	auth := testutil.NewAuthority(testutil.NewClock(testutil.Epoch))
	return auth, newDevice(t, auth, ids...)
}
