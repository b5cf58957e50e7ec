package placement

import (
	"context"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/stretchr/testify/require"
)

// TestLocalStoreUpdateAndLookup verifies a placement written via Update is
// visible via Lookup.
func TestLocalStoreUpdateAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()

	id := objectid.New("Test", "1")

	placement, err := store.Lookup(ctx, id)
	require.NoError(t, err)
	require.True(t, placement.IsNone())

	require.NoError(t, store.Update(ctx, id, fn.Some(objectid.Address("0.0.0.0:80"))))

	placement, err = store.Lookup(ctx, id)
	require.NoError(t, err)
	require.True(t, placement.IsSome())
	require.Equal(t, objectid.Address("0.0.0.0:80"), placement.UnwrapOr(""))
}

// TestLocalStoreCleanServer verifies CleanServer removes only the entries
// pointing at the given address.
func TestLocalStoreCleanServer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()

	id1 := objectid.New("Test", "1")
	id2 := objectid.New("Test", "2")

	require.NoError(t, store.Update(ctx, id1, fn.Some(objectid.Address("0.0.0.0:80"))))
	require.NoError(t, store.Update(ctx, id2, fn.Some(objectid.Address("0.0.0.0:81"))))

	require.NoError(t, store.CleanServer(ctx, "0.0.0.0:80"))

	placement, err := store.Lookup(ctx, id1)
	require.NoError(t, err)
	require.True(t, placement.IsNone())

	placement, err = store.Lookup(ctx, id2)
	require.NoError(t, err)
	require.True(t, placement.IsSome())
}

// TestLocalStoreUpdateIfAbsent verifies the conditional write only succeeds
// the first time, modeling the activation race every server resolves
// before claiming an object.
func TestLocalStoreUpdateIfAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()
	id := objectid.New("Test", "1")

	claimed, err := store.UpdateIfAbsent(ctx, id, "0.0.0.0:80")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = store.UpdateIfAbsent(ctx, id, "0.0.0.0:81")
	require.NoError(t, err)
	require.False(t, claimed)

	placement, err := store.Lookup(ctx, id)
	require.NoError(t, err)
	require.Equal(t, objectid.Address("0.0.0.0:80"), placement.UnwrapOr(""))
}

// TestLocalStoreRemove verifies Remove deletes an entry regardless of what
// it currently points at.
func TestLocalStoreRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLocalStore()
	id := objectid.New("Test", "1")

	require.NoError(t, store.Update(ctx, id, fn.Some(objectid.Address("0.0.0.0:80"))))
	require.NoError(t, store.Remove(ctx, id))

	placement, err := store.Lookup(ctx, id)
	require.NoError(t, err)
	require.True(t, placement.IsNone())
}
