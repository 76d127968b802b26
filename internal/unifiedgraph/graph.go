// Package unifiedgraph presents algorithms with a single read-only
// wanters(nft) relation that hides whether a want is specific or
// collection-sourced.
package unifiedgraph

import (
	"sort"
	"sync"

	"github.com/outblock/swaps-core/internal/collection"
	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/types"
)

// Graph is stable for the lifetime of one discovery run: it holds a
// Snapshot and a Resolver, and never mutates either. The wallet-level
// adjacency projection used by SCC/cycle enumeration is computed lazily
// on first use and memoized for the rest of the run.
type Graph struct {
	snap     *graphindex.Snapshot
	resolver *collection.Resolver

	considerCollections bool

	// eager holds per-NFT wanter sets pre-materialized from collections
	// at or below the resolver's expansion threshold. Larger collections
	// stay lazy and are
	// resolved per-lookup through the resolver's memoized union path.
	eager map[types.NftID]map[types.WalletID]struct{}

	projOnce sync.Once
	proj     map[types.WalletID]map[types.WalletID]struct{}
}

// New builds a Graph over a stable snapshot. considerCollections
// disables collection-want expansion entirely when false.
func New(snap *graphindex.Snapshot, resolver *collection.Resolver, considerCollections bool) *Graph {
	g := &Graph{snap: snap, resolver: resolver, considerCollections: considerCollections}
	if considerCollections {
		g.eager = materializeEagerWants(snap, resolver)
	}
	return g
}

// materializeEagerWants expands every small-enough collection's wants
// into per-member specific wanter sets, once, at graph construction.
func materializeEagerWants(snap *graphindex.Snapshot, resolver *collection.Resolver) map[types.NftID]map[types.WalletID]struct{} {
	eager := make(map[types.NftID]map[types.WalletID]struct{})
	for cid, wanters := range snap.CollectionWanters {
		if len(wanters) == 0 || !resolver.ShouldExpandEagerly(snap, cid) {
			continue
		}
		for member := range snap.CollectionMembers[cid] {
			set := eager[member]
			if set == nil {
				set = make(map[types.WalletID]struct{}, len(wanters))
				eager[member] = set
			}
			for w := range wanters {
				set[w] = struct{}{}
			}
		}
	}
	return eager
}

// Wanters returns every wallet that wants nft, specifically or (when
// enabled) via a wanted collection containing it.
func (g *Graph) Wanters(nft types.NftID) map[types.WalletID]struct{} {
	specific := g.snap.NftWanters[nft]
	out := make(map[types.WalletID]struct{}, len(specific))
	for w := range specific {
		out[w] = struct{}{}
	}
	if !g.considerCollections {
		return out
	}

	if viaEager, ok := g.eager[nft]; ok {
		for w := range viaEager {
			out[w] = struct{}{}
		}
		return out
	}

	// Lazy path: the NFT's collection (if any) was too large to expand
	// eagerly; union its wanters through the resolver's memoized lookup.
	if cid, ok := g.resolver.CollectionOf(g.snap, nft); ok && !g.resolver.ShouldExpandEagerly(g.snap, cid) {
		for w := range g.resolver.WantersOfCollection(g.snap, cid) {
			out[w] = struct{}{}
		}
	}
	return out
}

// OwnedBy returns the set of NFTs a wallet currently owns under this
// snapshot.
func (g *Graph) OwnedBy(wallet types.WalletID) map[types.NftID]struct{} {
	w, ok := g.snap.Wallets[wallet]
	if !ok {
		return nil
	}
	return w.Owned
}

// OwnerOf returns the current owner of an NFT, if any.
func (g *Graph) OwnerOf(nft types.NftID) (types.WalletID, bool) {
	owner, ok := g.snap.NftOwner[nft]
	return owner, ok
}

// Wallets returns every wallet id in the snapshot, sorted, for
// deterministic iteration.
func (g *Graph) Wallets() []types.WalletID {
	ids := make([]types.WalletID, 0, len(g.snap.Wallets))
	for id := range g.snap.Wallets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WalletEdges returns the set of wallets B such that A→B is an edge in
// the wallet-level projection: some NFT owned by A is wanted by B. The
// full projection is computed once per run and memoized.
func (g *Graph) WalletEdges(from types.WalletID) map[types.WalletID]struct{} {
	g.projOnce.Do(g.buildProjection)
	return g.proj[from]
}

// Projection returns the full memoized wallet-level adjacency, computing
// it on first call.
func (g *Graph) Projection() map[types.WalletID]map[types.WalletID]struct{} {
	g.projOnce.Do(g.buildProjection)
	return g.proj
}

func (g *Graph) buildProjection() {
	proj := make(map[types.WalletID]map[types.WalletID]struct{}, len(g.snap.Wallets))
	for from, wallet := range g.snap.Wallets {
		edges := make(map[types.WalletID]struct{})
		for nft := range wallet.Owned {
			for to := range g.Wanters(nft) {
				if to == from {
					continue // a wallet never trades with itself
				}
				edges[to] = struct{}{}
			}
		}
		if len(edges) > 0 {
			proj[from] = edges
		}
	}
	g.proj = proj
}

// CandidateNfts returns every NFT owned by `from` that `to` wants under
// this graph's unified relation, in deterministic (sorted) order. Used
// by the cycle enumerator's collection-edge resolution step to pick a
// concrete NFT for an edge that could be satisfied multiple ways.
func (g *Graph) CandidateNfts(from, to types.WalletID) []types.NftID {
	owned := g.OwnedBy(from)
	var out []types.NftID
	for nft := range owned {
		if _, wants := g.Wanters(nft)[to]; wants {
			out = append(out, nft)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
