package graphindex

import (
	"github.com/shopspring/decimal"

	"github.com/outblock/swaps-core/internal/types"
)

// Snapshot is an immutable, versioned view of a tenant's graph, valid
// for the duration of one discovery run. It never shares mutable state
// with the GraphIndex it was taken from: every map is copied under the
// read lock, so a concurrent writer cannot observe or corrupt it.
type Snapshot struct {
	Version int64

	Wallets map[types.WalletID]*types.Wallet
	Nfts    map[types.NftID]*types.NFT

	NftOwner          map[types.NftID]types.WalletID
	NftWanters        map[types.NftID]map[types.WalletID]struct{}
	CollectionMembers map[types.CollectionID]map[types.NftID]struct{}
	CollectionWanters map[types.CollectionID]map[types.WalletID]struct{}
}

// ValueOf returns the advisory estimated value of an NFT, or false if
// unknown. Implements the value lookups in the cycle and scoring
// packages.
func (s *Snapshot) ValueOf(nft types.NftID) (decimal.Decimal, bool) {
	n, ok := s.Nfts[nft]
	if !ok || !n.HasValue {
		return decimal.Decimal{}, false
	}
	return n.EstimatedValue, true
}

// Snapshot copies the current state of the tenant's graph under a brief
// read lock. The copy is deep enough that the caller can safely read it
// for as long as it needs, including across goroutines, without taking
// any further lock on the GraphIndex.
func (g *GraphIndex) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := &Snapshot{
		Version:           g.version,
		Wallets:           make(map[types.WalletID]*types.Wallet, len(g.wallets)),
		Nfts:              make(map[types.NftID]*types.NFT, len(g.nfts)),
		NftOwner:          make(map[types.NftID]types.WalletID, len(g.nftOwner)),
		NftWanters:        make(map[types.NftID]map[types.WalletID]struct{}, len(g.nftWanters)),
		CollectionMembers: make(map[types.CollectionID]map[types.NftID]struct{}, len(g.collectionMembers)),
		CollectionWanters: make(map[types.CollectionID]map[types.WalletID]struct{}, len(g.collectionWanters)),
	}

	for id, w := range g.wallets {
		s.Wallets[id] = w.Clone()
	}
	for id, n := range g.nfts {
		cp := *n
		s.Nfts[id] = &cp
	}
	for id, owner := range g.nftOwner {
		s.NftOwner[id] = owner
	}
	for id, wanters := range g.nftWanters {
		cp := make(map[types.WalletID]struct{}, len(wanters))
		for w := range wanters {
			cp[w] = struct{}{}
		}
		s.NftWanters[id] = cp
	}
	for id, members := range g.collectionMembers {
		cp := make(map[types.NftID]struct{}, len(members))
		for m := range members {
			cp[m] = struct{}{}
		}
		s.CollectionMembers[id] = cp
	}
	for id, wanters := range g.collectionWanters {
		cp := make(map[types.WalletID]struct{}, len(wanters))
		for w := range wanters {
			cp[w] = struct{}{}
		}
		s.CollectionWanters[id] = cp
	}

	return s
}

// SubgraphAround returns a restricted snapshot containing only the given
// wallets and the wallets within `hops` steps of them over the want
// relation (specific and collection wants, followed in both directions),
// used by MutationPipeline to scope incremental rediscovery without
// copying an entire large tenant graph.
func (s *Snapshot) SubgraphAround(wallets []types.WalletID, hops int) *Snapshot {
	include := make(map[types.WalletID]struct{}, len(wallets))
	frontier := append([]types.WalletID{}, wallets...)
	for h := 0; h <= hops; h++ {
		var next []types.WalletID
		for _, w := range frontier {
			if _, ok := include[w]; ok {
				continue
			}
			include[w] = struct{}{}
			wallet, ok := s.Wallets[w]
			if !ok {
				continue
			}
			for nft := range wallet.WantedNfts {
				if owner, ok := s.NftOwner[nft]; ok {
					next = append(next, owner)
				}
			}
			for cid := range wallet.WantedCollections {
				for nft := range s.CollectionMembers[cid] {
					if owner, ok := s.NftOwner[nft]; ok {
						next = append(next, owner)
					}
				}
			}
			for nft := range wallet.Owned {
				for wanter := range s.NftWanters[nft] {
					next = append(next, wanter)
				}
				if nftData, ok := s.Nfts[nft]; ok && nftData.CollectionID != "" {
					for wanter := range s.CollectionWanters[nftData.CollectionID] {
						next = append(next, wanter)
					}
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	out := &Snapshot{
		Version:           s.Version,
		Wallets:           make(map[types.WalletID]*types.Wallet, len(include)),
		Nfts:              make(map[types.NftID]*types.NFT),
		NftOwner:          make(map[types.NftID]types.WalletID),
		NftWanters:        make(map[types.NftID]map[types.WalletID]struct{}),
		CollectionMembers: s.CollectionMembers,
		CollectionWanters: s.CollectionWanters,
	}
	for w := range include {
		wallet, ok := s.Wallets[w]
		if !ok {
			continue
		}
		out.Wallets[w] = wallet
		for nft := range wallet.Owned {
			out.NftOwner[nft] = w
			if nftData, ok := s.Nfts[nft]; ok {
				out.Nfts[nft] = nftData
			}
		}
		for nft := range wallet.WantedNfts {
			wanters := out.NftWanters[nft]
			if wanters == nil {
				wanters = make(map[types.WalletID]struct{})
				out.NftWanters[nft] = wanters
			}
			wanters[w] = struct{}{}
		}
	}
	return out
}
