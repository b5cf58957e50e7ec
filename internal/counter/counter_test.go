package counter

import (
	"context"
	"testing"

	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/objectsvc"
	"github.com/rcelha/grain/internal/placement"
	"github.com/rcelha/grain/internal/registry"
	"github.com/rcelha/grain/internal/statestore"
	"github.com/rcelha/grain/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *registry.Registry {
	reg := registry.New()
	registry.RegisterType[*Counter](reg, Kind, New)
	registry.RegisterHandler[*Counter, IncrementMessage, int64](reg, Kind, "Increment", IncrementHandler{})
	return reg
}

func TestIncrementAccumulatesAndPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newTestRegistry()
	placeStore := placement.NewLocalStore()
	data := appdata.New()
	appdata.Set[statestore.Store](data, statestore.NewLocalStore())

	_, err := objectsvc.Activate(ctx, reg, placeStore, data, Kind, "a")
	require.NoError(t, err)

	payload, err := wire.Encode(IncrementMessage{By: 3})
	require.NoError(t, err)

	result, err := reg.Send(ctx, Kind, "a", "Increment", payload, data)
	require.NoError(t, err)

	var count int64
	require.NoError(t, wire.Decode(result, &count))
	require.Equal(t, int64(3), count)

	result, err = reg.Send(ctx, Kind, "a", "Increment", payload, data)
	require.NoError(t, err)
	require.NoError(t, wire.Decode(result, &count))
	require.Equal(t, int64(6), count)
}

func TestActivateRestoresPersistedCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := statestore.NewLocalStore()
	data := appdata.New()
	appdata.Set[statestore.Store](data, store)

	saved, err := wire.Encode(int64(41))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, Kind, "b", stateName, saved))

	reg := newTestRegistry()
	placeStore := placement.NewLocalStore()

	_, err = objectsvc.Activate(ctx, reg, placeStore, data, Kind, "b")
	require.NoError(t, err)

	payload, err := wire.Encode(IncrementMessage{By: 1})
	require.NoError(t, err)

	result, err := reg.Send(ctx, Kind, "b", "Increment", payload, data)
	require.NoError(t, err)

	var count int64
	require.NoError(t, wire.Decode(result, &count))
	require.Equal(t, int64(42), count)
}
