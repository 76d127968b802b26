package cycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/outblock/swaps-core/internal/collection"
	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/types"
	"github.com/outblock/swaps-core/internal/unifiedgraph"
)

func TestResolveNfts_SpecificWantsResolveDeterministically(t *testing.T) {
	g := graphindex.New()
	_, err := g.UpsertInventory("A", []*types.NFT{{ID: "n1"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertInventory("B", []*types.NFT{{ID: "n2"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("B", []types.NftID{"n1"}, nil)
	require.NoError(t, err)
	_, err = g.UpsertWants("A", []types.NftID{"n2"}, nil)
	require.NoError(t, err)
	snap := g.Snapshot()
	ug := unifiedgraph.New(snap, collection.New(0, 0), true)

	resolved, ok := ResolveNfts(ug, snap, []types.WalletID{"A", "B"})
	require.True(t, ok)
	require.Equal(t, []types.TradeStep{
		{From: "A", To: "B", Nft: "n1"},
		{From: "B", To: "A", Nft: "n2"},
	}, resolved.Steps)
}

func TestResolveNfts_NoCandidateFails(t *testing.T) {
	g := graphindex.New()
	_, err := g.UpsertInventory("A", []*types.NFT{{ID: "n1"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertInventory("B", []*types.NFT{{ID: "n2"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	// B never wants anything A owns.
	snap := g.Snapshot()
	ug := unifiedgraph.New(snap, collection.New(0, 0), true)

	_, ok := ResolveNfts(ug, snap, []types.WalletID{"A", "B"})
	require.False(t, ok)
}

func TestResolveNfts_DegenerateCycleFails(t *testing.T) {
	g := graphindex.New()
	snap := g.Snapshot()
	ug := unifiedgraph.New(snap, collection.New(0, 0), true)

	_, ok := ResolveNfts(ug, snap, []types.WalletID{"A"})
	require.False(t, ok)
}

func TestPickMinImbalance_ChoosesClosestToMean(t *testing.T) {
	values := fakeValues{"n1": 1.0, "n2": 5.0, "n3": 10.0}
	chosen := pickMinImbalance(values, "A", "B", []types.NftID{"n3", "n1", "n2"})
	// mean = 16/3 ~= 5.33; n2 (5.0) is closest.
	require.Equal(t, types.NftID("n2"), chosen)
}

func TestPickMinImbalance_TiesBreakLexicographically(t *testing.T) {
	values := fakeValues{"n2": 1.0, "n1": 1.0}
	chosen := pickMinImbalance(values, "A", "B", []types.NftID{"n2", "n1"})
	require.Equal(t, types.NftID("n1"), chosen)
}

func TestPickMinImbalance_NoValuationDataFallsBackLexicographic(t *testing.T) {
	chosen := pickMinImbalance(fakeValues{}, "A", "B", []types.NftID{"n9", "n2"})
	require.Equal(t, types.NftID("n2"), chosen)
}

type fakeValues map[types.NftID]float64

func (f fakeValues) ValueOf(nft types.NftID) (decimal.Decimal, bool) {
	v, ok := f[nft]
	return decimal.NewFromFloat(v), ok
}
