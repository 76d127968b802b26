package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outblock/swaps-core/internal/collection"
	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/types"
	"github.com/outblock/swaps-core/internal/unifiedgraph"
)

func threeCycleGraph(t *testing.T) (*unifiedgraph.Graph, []types.WalletID) {
	t.Helper()
	g := graphindex.New()
	_, err := g.UpsertInventory("A", []*types.NFT{{ID: "n1"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertInventory("B", []*types.NFT{{ID: "n2"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertInventory("C", []*types.NFT{{ID: "n3"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("B", []types.NftID{"n1"}, nil)
	require.NoError(t, err)
	_, err = g.UpsertWants("C", []types.NftID{"n2"}, nil)
	require.NoError(t, err)
	_, err = g.UpsertWants("A", []types.NftID{"n3"}, nil)
	require.NoError(t, err)
	ug := unifiedgraph.New(g.Snapshot(), collection.New(0, 0), true)
	return ug, []types.WalletID{"A", "B", "C"}
}

func TestEnumerate_FindsExactlyOneThreeCycle(t *testing.T) {
	ug, scc := threeCycleGraph(t)
	result := Enumerate(ug, scc, Options{MaxDepth: 10})

	require.False(t, result.Truncated)
	require.Len(t, result.Cycles, 1)
	require.Len(t, result.Cycles[0], 3)
}

func TestEnumerate_CanonicalRotationStartsAtSmallestWallet(t *testing.T) {
	ug, scc := threeCycleGraph(t)
	result := Enumerate(ug, scc, Options{MaxDepth: 10})
	require.Len(t, result.Cycles, 1)
	require.Equal(t, types.WalletID("A"), result.Cycles[0][0])
}

func TestEnumerate_MaxDepthForbidsLongerCycle(t *testing.T) {
	ug, scc := threeCycleGraph(t)
	result := Enumerate(ug, scc, Options{MaxDepth: 2})
	require.Empty(t, result.Cycles, "a depth-2 cap must forbid the 3-participant cycle")
}

func TestEnumerate_TooFewMembersReturnsEmpty(t *testing.T) {
	ug, _ := threeCycleGraph(t)
	result := Enumerate(ug, []types.WalletID{"A"}, Options{MaxDepth: 10})
	require.Empty(t, result.Cycles)
}

func TestEnumerate_DeadlineTruncates(t *testing.T) {
	ug, scc := threeCycleGraph(t)
	past := time.Now().Add(-time.Minute)
	result := Enumerate(ug, scc, Options{MaxDepth: 10, Deadline: past})
	require.True(t, result.Truncated)
}

func TestEnumerate_MaxLoopsPerSCCCaps(t *testing.T) {
	ug, scc := threeCycleGraph(t)

	unbounded := Enumerate(ug, scc, Options{MaxDepth: 10, MaxLoopsPerSCC: 0})
	require.NotEmpty(t, unbounded.Cycles)

	capped := Enumerate(ug, scc, Options{MaxDepth: 10, MaxLoopsPerSCC: 1})
	require.LessOrEqual(t, len(capped.Cycles), 1)
}

func TestEnumerate_SixPartyRing(t *testing.T) {
	g := graphindex.New()
	ids := []types.WalletID{"A", "B", "C", "D", "E", "F"}
	for i, id := range ids {
		_, err := g.UpsertInventory(id, []*types.NFT{{ID: types.NftID(rune('0' + i))}}, graphindex.MergeStrict)
		require.NoError(t, err)
	}
	for i := range ids {
		next := (i + 1) % len(ids)
		_, err := g.UpsertWants(ids[next], []types.NftID{types.NftID(rune('0' + i))}, nil)
		require.NoError(t, err)
	}
	ug := unifiedgraph.New(g.Snapshot(), collection.New(0, 0), true)

	result := Enumerate(ug, ids, Options{MaxDepth: 10})
	require.Len(t, result.Cycles, 1)
	require.Len(t, result.Cycles[0], 6)
}
