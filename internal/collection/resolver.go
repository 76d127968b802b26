// Package collection resolves collection-level wants into effective
// NFT-level want sets during discovery.
package collection

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/types"
)

// DefaultExpansionThreshold is the collection size below which wants are
// eagerly materialized as specific wants.
const DefaultExpansionThreshold = 100

// Resolver memoizes collection membership and wanter lookups across
// discovery runs; MutationPipeline drops entries that a mutation makes
// stale. It never errors: unknown NFTs have no collection and
// unknown collections have an empty wanter set, so unknown inputs
// degrade to no edges.
type Resolver struct {
	expansionThreshold int

	nftToCollection *lru.Cache[types.NftID, types.CollectionID]
	collectionWant  *lru.Cache[types.CollectionID, map[types.WalletID]struct{}]

	group singleflight.Group
}

// New returns a Resolver with bounded memoization caches. cacheSize
// bounds both caches; pass 0 to use a sensible default.
func New(expansionThreshold, cacheSize int) *Resolver {
	if expansionThreshold <= 0 {
		expansionThreshold = DefaultExpansionThreshold
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	nftCache, _ := lru.New[types.NftID, types.CollectionID](cacheSize)
	collCache, _ := lru.New[types.CollectionID, map[types.WalletID]struct{}](cacheSize)
	return &Resolver{
		expansionThreshold: expansionThreshold,
		nftToCollection:    nftCache,
		collectionWant:     collCache,
	}
}

// Invalidate drops memoized entries for a collection; called by
// MutationPipeline whenever the collection's wanters change or the
// collection is removed.
func (r *Resolver) Invalidate(collectionID types.CollectionID) {
	r.collectionWant.Remove(collectionID)
}

// InvalidateNft drops the memoized collection mapping for one NFT.
func (r *Resolver) InvalidateNft(nftID types.NftID) {
	r.nftToCollection.Remove(nftID)
}

// CollectionOf returns the collection an NFT belongs to, memoized until
// invalidated. Unknown NFTs degrade to "no collection" rather than an error.
func (r *Resolver) CollectionOf(snap *graphindex.Snapshot, nftID types.NftID) (types.CollectionID, bool) {
	if cid, ok := r.nftToCollection.Get(nftID); ok {
		if cid == "" {
			return "", false
		}
		return cid, true
	}
	nft, ok := snap.Nfts[nftID]
	if !ok || nft.CollectionID == "" {
		r.nftToCollection.Add(nftID, "")
		return "", false
	}
	r.nftToCollection.Add(nftID, nft.CollectionID)
	return nft.CollectionID, true
}

// ShouldExpandEagerly reports whether a collection is small enough to
// materialize every member as a specific want.
func (r *Resolver) ShouldExpandEagerly(snap *graphindex.Snapshot, collectionID types.CollectionID) bool {
	members := snap.CollectionMembers[collectionID]
	return len(members) <= r.expansionThreshold
}

// WantersOfCollection returns every wallet with a want on the given
// collection, as recorded in the snapshot. A cold key is loaded via
// single-flight to avoid a cache stampede when many callers race on the
// same key.
func (r *Resolver) WantersOfCollection(snap *graphindex.Snapshot, collectionID types.CollectionID) map[types.WalletID]struct{} {
	if cached, ok := r.collectionWant.Get(collectionID); ok {
		return cached
	}

	v, _, _ := r.group.Do(string(collectionID), func() (interface{}, error) {
		if cached, ok := r.collectionWant.Get(collectionID); ok {
			return cached, nil
		}
		wanters := snap.CollectionWanters[collectionID]
		cp := make(map[types.WalletID]struct{}, len(wanters))
		for w := range wanters {
			cp[w] = struct{}{}
		}
		r.collectionWant.Add(collectionID, cp)
		return cp, nil
	})
	return v.(map[types.WalletID]struct{})
}

// WantersOfNft unions wallets with a specific want on nftID with wallets
// that want its collection (if any). Collections at or below the expansion
// threshold are treated as already-expanded by the caller (unifiedgraph.New
// materializes those eagerly when it builds the graph); this method
// covers the lazy, large-collection path.
func (r *Resolver) WantersOfNft(snap *graphindex.Snapshot, nftID types.NftID) map[types.WalletID]struct{} {
	specific := snap.NftWanters[nftID]
	collectionID, hasCollection := r.CollectionOf(snap, nftID)

	if !hasCollection {
		out := make(map[types.WalletID]struct{}, len(specific))
		for w := range specific {
			out[w] = struct{}{}
		}
		return out
	}

	viaCollection := r.WantersOfCollection(snap, collectionID)
	out := make(map[types.WalletID]struct{}, len(specific)+len(viaCollection))
	for w := range specific {
		out[w] = struct{}{}
	}
	for w := range viaCollection {
		out[w] = struct{}{}
	}
	return out
}
