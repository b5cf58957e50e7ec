package counter

import (
	"context"
	"testing"

	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/objectsvc"
	"github.com/rcelha/grain/internal/placement"
	"github.com/rcelha/grain/internal/statestore"
	"github.com/rcelha/grain/internal/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestIncrementSumMatchesSequentialDeltas draws a random sequence of
// deltas and checks the count each Increment returns always equals their
// running sum, starting from a fresh activation.
func TestIncrementSumMatchesSequentialDeltas(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		deltas := rapid.SliceOfN(rapid.Int64Range(-100, 100), 0, 30).Draw(rt, "deltas")

		ctx := context.Background()
		reg := newTestRegistry()
		placeStore := placement.NewLocalStore()
		data := appdata.New()
		appdata.Set[statestore.Store](data, statestore.NewLocalStore())

		_, err := objectsvc.Activate(ctx, reg, placeStore, data, Kind, "rapid")
		require.NoError(rt, err)

		var want int64
		for _, delta := range deltas {
			want += delta

			payload, err := wire.Encode(IncrementMessage{By: delta})
			require.NoError(rt, err)

			result, err := reg.Send(ctx, Kind, "rapid", "Increment", payload, data)
			require.NoError(rt, err)

			var got int64
			require.NoError(rt, wire.Decode(result, &got))
			require.Equal(rt, want, got)
		}
	})
}
