package membership

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rcelha/grain/internal/dbutil"
	"github.com/stretchr/testify/require"
)

func newTestSqlStore(t *testing.T) *SqlStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "membership.db")
	db, err := dbutil.OpenSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewSqlStore(db)
	require.NoError(t, store.Migrate(nil))

	return store
}

// TestSqlStorePushAndMembers verifies pushed members are returned by
// Members.
func TestSqlStorePushAndMembers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestSqlStore(t)

	require.NoError(t, store.Push(ctx, Member{Addr: "0.0.0.0:5000"}))
	require.NoError(t, store.Push(ctx, Member{Addr: "0.0.0.0:5001"}))

	members, err := store.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
}

// TestSqlStoreSetActiveAndIsActive verifies the active flag round-trips
// through the database.
func TestSqlStoreSetActiveAndIsActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestSqlStore(t)

	require.NoError(t, store.Push(ctx, Member{Addr: "0.0.0.0:5000"}))

	active, err := store.IsActive(ctx, "0.0.0.0:5000")
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, store.SetActive(ctx, "0.0.0.0:5000", true))

	active, err = store.IsActive(ctx, "0.0.0.0:5000")
	require.NoError(t, err)
	require.True(t, active)

	activeMembers, err := store.ActiveMembers(ctx)
	require.NoError(t, err)
	require.Len(t, activeMembers, 1)
}

// TestSqlStoreNotifyFailureBoundsHistory verifies the failure log keeps at
// most MaxFailureHistory rows per address.
func TestSqlStoreNotifyFailureBoundsHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestSqlStore(t)

	for i := 0; i < MaxFailureHistory+10; i++ {
		require.NoError(t, store.NotifyFailure(ctx, "0.0.0.0:5000"))
	}

	failures, err := store.MemberFailures(ctx, "0.0.0.0:5000")
	require.NoError(t, err)
	require.Len(t, failures, MaxFailureHistory)
}

// TestSqlStoreRemove verifies Remove deletes every row for an address.
func TestSqlStoreRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestSqlStore(t)

	require.NoError(t, store.Push(ctx, Member{Addr: "0.0.0.0:5000"}))
	require.NoError(t, store.Remove(ctx, "0.0.0.0:5000"))

	members, err := store.Members(ctx)
	require.NoError(t, err)
	require.Empty(t, members)
}
