package unifiedgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outblock/swaps-core/internal/collection"
	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/types"
)

func buildSnapshot(t *testing.T) *graphindex.Snapshot {
	t.Helper()
	g := graphindex.New()
	_, err := g.UpsertInventory("A", []*types.NFT{{ID: "n1"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertInventory("B", []*types.NFT{{ID: "n2"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("B", []types.NftID{"n1"}, nil)
	require.NoError(t, err)
	_, err = g.UpsertWants("A", []types.NftID{"n2"}, nil)
	require.NoError(t, err)
	return g.Snapshot()
}

func TestWanters_SpecificOnly(t *testing.T) {
	snap := buildSnapshot(t)
	ug := New(snap, collection.New(0, 0), true)

	wanters := ug.Wanters("n1")
	_, ok := wanters["B"]
	require.True(t, ok)
}

func TestWalletEdges_BuildsProjectionBothDirections(t *testing.T) {
	snap := buildSnapshot(t)
	ug := New(snap, collection.New(0, 0), true)

	aEdges := ug.WalletEdges("A")
	_, ok := aEdges["B"]
	require.True(t, ok, "A owns n1 which B wants, so A->B must be an edge")

	bEdges := ug.WalletEdges("B")
	_, ok = bEdges["A"]
	require.True(t, ok, "B owns n2 which A wants, so B->A must be an edge")
}

func TestWalletEdges_NeverSelfLoop(t *testing.T) {
	g := graphindex.New()
	_, err := g.UpsertInventory("A", []*types.NFT{{ID: "n1"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("A", []types.NftID{"n1"}, nil)
	require.NoError(t, err)
	snap := g.Snapshot()
	ug := New(snap, collection.New(0, 0), true)

	edges := ug.WalletEdges("A")
	_, ok := edges["A"]
	require.False(t, ok, "a wallet must never trade with itself")
}

func TestCandidateNfts_Sorted(t *testing.T) {
	g := graphindex.New()
	_, err := g.UpsertInventory("A", []*types.NFT{{ID: "n2"}, {ID: "n1"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("B", []types.NftID{"n1", "n2"}, nil)
	require.NoError(t, err)
	snap := g.Snapshot()
	ug := New(snap, collection.New(0, 0), true)

	got := ug.CandidateNfts("A", "B")
	require.Equal(t, []types.NftID{"n1", "n2"}, got)
}

func TestWanters_CollectionExpansionDisabled(t *testing.T) {
	g := graphindex.New()
	_, err := g.UpsertInventory("A", []*types.NFT{{ID: "n1", CollectionID: "colX"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("B", nil, []types.CollectionID{"colX"})
	require.NoError(t, err)
	snap := g.Snapshot()

	disabled := New(snap, collection.New(0, 0), false)
	require.Empty(t, disabled.Wanters("n1"))

	enabled := New(snap, collection.New(0, 0), true)
	_, ok := enabled.Wanters("n1")["B"]
	require.True(t, ok)
}

// TestWanters_EagerAndLazyAgree pins the expansion policy down to a
// performance choice only: a collection resolved through the eager
// (below-threshold) path and the same collection resolved lazily must
// produce identical wanter sets.
func TestWanters_EagerAndLazyAgree(t *testing.T) {
	g := graphindex.New()
	_, err := g.UpsertInventory("A", []*types.NFT{
		{ID: "c1", CollectionID: "colX"},
		{ID: "c2", CollectionID: "colX"},
		{ID: "c3", CollectionID: "colX"},
	}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("B", nil, []types.CollectionID{"colX"})
	require.NoError(t, err)
	_, err = g.UpsertWants("C", []types.NftID{"c2"}, nil)
	require.NoError(t, err)
	snap := g.Snapshot()

	// Threshold 100 >> 3 members: eager. Threshold 1 < 3 members: lazy.
	eager := New(snap, collection.New(100, 0), true)
	lazy := New(snap, collection.New(1, 0), true)

	for _, nft := range []types.NftID{"c1", "c2", "c3"} {
		require.Equal(t, eager.Wanters(nft), lazy.Wanters(nft), "policy must not change semantics for %s", nft)
	}
	_, ok := eager.Wanters("c2")["C"]
	require.True(t, ok, "specific want must union with collection want")
}

func TestOwnerOf_And_OwnedBy(t *testing.T) {
	snap := buildSnapshot(t)
	ug := New(snap, collection.New(0, 0), true)

	owner, ok := ug.OwnerOf("n1")
	require.True(t, ok)
	require.Equal(t, types.WalletID("A"), owner)

	owned := ug.OwnedBy("A")
	_, ok = owned["n1"]
	require.True(t, ok)
}
