package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedMembers(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	for _, addr := range []string{
		"0.0.0.0:5000", "0.0.0.0:5001", "0.0.0.0:5002",
		"0.0.0.0:5003", "0.0.0.0:5004", "0.0.0.0:5005",
	} {
		require.NoError(t, store.Push(ctx, Member{Addr: addr}))
	}
}

// TestLocalStorePushAndMembers verifies pushed members are all returned by
// Members.
func TestLocalStorePushAndMembers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()
	seedMembers(t, store)

	members, err := store.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 6)
}

// TestLocalStoreRemove verifies Remove deletes all entries for an address.
func TestLocalStoreRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()
	seedMembers(t, store)

	require.NoError(t, store.Remove(ctx, "0.0.0.0:5005"))

	members, err := store.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 5)
}

// TestLocalStoreSetActiveAndIsActive verifies the active flag round-trips.
func TestLocalStoreSetActiveAndIsActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()
	seedMembers(t, store)

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

// TestLocalStoreNotifyFailureAndMemberFailures verifies recorded failures
// accumulate and are retrievable per address.
func TestLocalStoreNotifyFailureAndMemberFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.NotifyFailure(ctx, "0.0.0.0:5000"))
	}

	failures, err := store.MemberFailures(ctx, "0.0.0.0:5000")
	require.NoError(t, err)
	require.Len(t, failures, 3)

	other, err := store.MemberFailures(ctx, "0.0.0.0:5001")
	require.NoError(t, err)
	require.Empty(t, other)
}

// TestLocalStoreMemberFailuresBounded verifies the failure log caps at
// MaxFailureHistory entries instead of growing without bound.
func TestLocalStoreMemberFailuresBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()

	for i := 0; i < MaxFailureHistory+20; i++ {
		require.NoError(t, store.NotifyFailure(ctx, "0.0.0.0:5000"))
	}

	failures, err := store.MemberFailures(ctx, "0.0.0.0:5000")
	require.NoError(t, err)
	require.Len(t, failures, MaxFailureHistory)
}
