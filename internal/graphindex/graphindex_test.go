package graphindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outblock/swaps-core/internal/types"
)

func nft(id string) *types.NFT {
	return &types.NFT{ID: types.NftID(id)}
}

func TestUpsertInventory_StrictRejectsDoubleOwnership(t *testing.T) {
	g := New()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1")}, MergeStrict)
	require.NoError(t, err)

	_, err = g.UpsertInventory("walletB", []*types.NFT{nft("n1")}, MergeStrict)
	require.ErrorIs(t, err, types.ErrInvalidOwnership)
}

func TestUpsertInventory_StealTransfersAtomically(t *testing.T) {
	g := New()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1")}, MergeStrict)
	require.NoError(t, err)

	delta, err := g.UpsertInventory("walletB", []*types.NFT{nft("n1")}, MergeSteal)
	require.NoError(t, err)
	require.Equal(t, []types.NftID{"n1"}, delta.Moved)

	snap := g.Snapshot()
	require.Equal(t, types.WalletID("walletB"), snap.NftOwner["n1"])
	_, stillOwnedByA := snap.Wallets["walletA"].Owned["n1"]
	require.False(t, stillOwnedByA)
}

// TestUpsertInventory_StrictFailureLeavesGraphUnchanged checks the
// atomicity contract: a strict-policy conflict anywhere in the batch
// must not apply the batch's earlier entries either.
func TestUpsertInventory_StrictFailureLeavesGraphUnchanged(t *testing.T) {
	g := New()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1")}, MergeStrict)
	require.NoError(t, err)
	v := g.Version()

	_, err = g.UpsertInventory("walletB", []*types.NFT{nft("n9"), nft("n1")}, MergeStrict)
	require.ErrorIs(t, err, types.ErrInvalidOwnership)

	snap := g.Snapshot()
	_, n9Owned := snap.NftOwner["n9"]
	require.False(t, n9Owned, "no entry of a rejected batch may be applied")
	require.Equal(t, v, g.Version())
}

func TestReplaceInventory_ReleasesAbsentNfts(t *testing.T) {
	g := New()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1"), nft("n2")}, MergeStrict)
	require.NoError(t, err)

	delta, err := g.ReplaceInventory("walletA", []*types.NFT{nft("n2"), nft("n3")}, MergeStrict)
	require.NoError(t, err)
	require.Equal(t, []types.NftID{"n1"}, delta.Removed)
	require.Equal(t, []types.NftID{"n3"}, delta.Added)

	snap := g.Snapshot()
	_, n1Owned := snap.NftOwner["n1"]
	require.False(t, n1Owned, "released nft must have no owner")
	require.Equal(t, types.WalletID("walletA"), snap.NftOwner["n2"])
	require.Equal(t, types.WalletID("walletA"), snap.NftOwner["n3"])
	require.Len(t, snap.Wallets["walletA"].Owned, 2)
}

func TestReplaceInventory_StrictFailureLeavesGraphUnchanged(t *testing.T) {
	g := New()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1")}, MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertInventory("walletB", []*types.NFT{nft("n2")}, MergeStrict)
	require.NoError(t, err)

	_, err = g.ReplaceInventory("walletB", []*types.NFT{nft("n1")}, MergeStrict)
	require.ErrorIs(t, err, types.ErrInvalidOwnership)

	snap := g.Snapshot()
	require.Equal(t, types.WalletID("walletB"), snap.NftOwner["n2"], "rejected replace must not release anything")
}

func TestUpsertWants_DuplicatesAreIdempotent(t *testing.T) {
	g := New()
	d1, err := g.UpsertWants("walletA", []types.NftID{"n1"}, nil)
	require.NoError(t, err)
	require.Equal(t, []types.NftID{"n1"}, d1.AddedNfts)

	d2, err := g.UpsertWants("walletA", []types.NftID{"n1"}, nil)
	require.NoError(t, err)
	require.Empty(t, d2.AddedNfts)
}

func TestRemoveWallet_ClearsInverseIndices(t *testing.T) {
	g := New()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1")}, MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("walletB", []types.NftID{"n1"}, nil)
	require.NoError(t, err)

	_, err = g.RemoveWallet("walletA")
	require.NoError(t, err)

	snap := g.Snapshot()
	_, ownerExists := snap.NftOwner["n1"]
	require.False(t, ownerExists, "nft owner index must be cleared")

	_, err = g.RemoveWallet("walletA")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestRemoveNft_ClearsOwnerAndWanters(t *testing.T) {
	g := New()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1")}, MergeStrict)
	require.NoError(t, err)
	_, err = g.UpsertWants("walletB", []types.NftID{"n1"}, nil)
	require.NoError(t, err)

	_, err = g.RemoveNft("n1")
	require.NoError(t, err)

	snap := g.Snapshot()
	require.Empty(t, snap.Wallets["walletA"].Owned)
	require.Empty(t, snap.Wallets["walletB"].WantedNfts)
}

func TestRemoveCollection_ClearsWants(t *testing.T) {
	g := New()
	_, err := g.UpsertWants("walletA", nil, []types.CollectionID{"col1"})
	require.NoError(t, err)

	_, err = g.RemoveCollection("col1")
	require.NoError(t, err)

	snap := g.Snapshot()
	require.Empty(t, snap.Wallets["walletA"].WantedCollections)
}

func TestVersion_IncrementsOnMutation(t *testing.T) {
	g := New()
	v0 := g.Version()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1")}, MergeStrict)
	require.NoError(t, err)
	require.Greater(t, g.Version(), v0)

	v1 := g.Version()
	_, err = g.UpsertWants("walletA", []types.NftID{"n1"}, nil) // duplicate-free no-op want on self doesn't matter here
	require.NoError(t, err)
	require.GreaterOrEqual(t, g.Version(), v1)
}

func TestSnapshot_IsIndependentOfLaterMutation(t *testing.T) {
	g := New()
	_, err := g.UpsertInventory("walletA", []*types.NFT{nft("n1")}, MergeStrict)
	require.NoError(t, err)

	snap := g.Snapshot()
	_, err = g.UpsertInventory("walletA", []*types.NFT{nft("n2")}, MergeStrict)
	require.NoError(t, err)

	_, hasN2 := snap.Wallets["walletA"].Owned["n2"]
	require.False(t, hasN2, "snapshot must not observe mutations made after it was taken")
}

func TestWalletIDs_SortedDeterministic(t *testing.T) {
	g := New()
	for _, id := range []types.WalletID{"z", "a", "m"} {
		_, err := g.UpsertWants(id, []types.NftID{"n1"}, nil)
		require.NoError(t, err)
	}
	require.Equal(t, []types.WalletID{"a", "m", "z"}, g.WalletIDs())
}
