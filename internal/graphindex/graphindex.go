// Package graphindex is the per-tenant source of truth for wallets,
// NFTs, wants and collection memberships. It is the only component
// that ever mutates that state; every other component reads through an
// immutable Snapshot.
package graphindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/outblock/swaps-core/internal/types"
)

// MergePolicy controls what upsertInventory does when an NFT is already
// owned by a different wallet in the tenant.
type MergePolicy int

const (
	// MergeStrict rejects the upsert with ErrInvalidOwnership.
	MergeStrict MergePolicy = iota
	// MergeSteal atomically transfers ownership to the new wallet.
	MergeSteal
)

// InventoryDelta describes what changed as a result of an upsertInventory
// call, used by MutationPipeline to compute invalidations.
type InventoryDelta struct {
	Wallet  types.WalletID
	Added   []types.NftID
	Removed []types.NftID
	Moved   []types.NftID // NFTs that changed owner under MergeSteal
}

// WantDelta describes newly added wants; duplicates are idempotent and
// never appear here.
type WantDelta struct {
	Wallet           types.WalletID
	AddedNfts        []types.NftID
	AddedCollections []types.CollectionID
}

// InvalidationDelta is emitted by remove(); it names every entity whose
// removal should invalidate dependent loops.
type InvalidationDelta struct {
	Wallets     []types.WalletID
	Nfts        []types.NftID
	Collections []types.CollectionID
}

// GraphIndex is safe for concurrent use: one writer at a time (callers
// serialize writes, typically via MutationPipeline), many concurrent
// readers via Snapshot.
type GraphIndex struct {
	mu sync.RWMutex

	wallets map[types.WalletID]*types.Wallet
	nfts    map[types.NftID]*types.NFT

	// inverse indices, always consistent with the forward maps above
	// after any operation returns.
	nftOwner          map[types.NftID]types.WalletID
	nftWanters        map[types.NftID]map[types.WalletID]struct{}
	collectionMembers map[types.CollectionID]map[types.NftID]struct{}
	collectionWanters map[types.CollectionID]map[types.WalletID]struct{}

	version int64
}

// New returns an empty GraphIndex for one tenant.
func New() *GraphIndex {
	return &GraphIndex{
		wallets:           make(map[types.WalletID]*types.Wallet),
		nfts:              make(map[types.NftID]*types.NFT),
		nftOwner:          make(map[types.NftID]types.WalletID),
		nftWanters:        make(map[types.NftID]map[types.WalletID]struct{}),
		collectionMembers: make(map[types.CollectionID]map[types.NftID]struct{}),
		collectionWanters: make(map[types.CollectionID]map[types.WalletID]struct{}),
	}
}

func (g *GraphIndex) walletLocked(id types.WalletID) *types.Wallet {
	w, ok := g.wallets[id]
	if !ok {
		w = types.NewWallet(id)
		g.wallets[id] = w
	}
	return w
}

// UpsertInventory merges nfts into the wallet's owned set (ReplaceInventory
// is the replacing variant); policy decides what happens when an NFT is
// already owned by another wallet. Returns the delta of what actually
// changed.
func (g *GraphIndex) UpsertInventory(walletID types.WalletID, nfts []*types.NFT, policy MergePolicy) (InventoryDelta, error) {
	if walletID == "" {
		return InventoryDelta{}, fmt.Errorf("upsert inventory: empty wallet id: %w", types.ErrInvalidInput)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Validate before mutating anything: a strict-policy conflict must
	// leave the graph unchanged.
	if policy == MergeStrict {
		for _, n := range nfts {
			if n == nil || n.ID == "" {
				continue
			}
			if existingOwner, ok := g.nftOwner[n.ID]; ok && existingOwner != walletID {
				return InventoryDelta{}, fmt.Errorf("upsert inventory: nft %s already owned by %s: %w", n.ID, existingOwner, types.ErrInvalidOwnership)
			}
		}
	}

	w := g.walletLocked(walletID)
	delta := InventoryDelta{Wallet: walletID}

	for _, n := range nfts {
		if n == nil || n.ID == "" {
			continue
		}
		if existingOwner, ok := g.nftOwner[n.ID]; ok && existingOwner != walletID {
			// MergeSteal: atomically move ownership.
			if prev, ok := g.wallets[existingOwner]; ok {
				delete(prev.Owned, n.ID)
			}
			delta.Moved = append(delta.Moved, n.ID)
		} else if !ok {
			delta.Added = append(delta.Added, n.ID)
		}

		g.nfts[n.ID] = n
		w.Owned[n.ID] = struct{}{}
		g.nftOwner[n.ID] = walletID
		if n.CollectionID != "" {
			members := g.collectionMembers[n.CollectionID]
			if members == nil {
				members = make(map[types.NftID]struct{})
				g.collectionMembers[n.CollectionID] = members
			}
			members[n.ID] = struct{}{}
		}
	}

	g.version++
	return delta, nil
}

// ReplaceInventory sets the wallet's owned set to exactly nfts: NFTs the
// wallet owned that are absent from the new list are released (they stay
// known to the tenant but become ownerless until another upsert claims
// them), and appear in the delta's Removed list so the caller can
// invalidate loops that traded them. Conflicts on incoming NFTs follow
// the same policy rules as UpsertInventory.
func (g *GraphIndex) ReplaceInventory(walletID types.WalletID, nfts []*types.NFT, policy MergePolicy) (InventoryDelta, error) {
	if walletID == "" {
		return InventoryDelta{}, fmt.Errorf("replace inventory: empty wallet id: %w", types.ErrInvalidInput)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.walletLocked(walletID)
	delta := InventoryDelta{Wallet: walletID}

	keep := make(map[types.NftID]struct{}, len(nfts))
	for _, n := range nfts {
		if n == nil || n.ID == "" {
			continue
		}
		keep[n.ID] = struct{}{}
		if existingOwner, ok := g.nftOwner[n.ID]; ok && existingOwner != walletID {
			if policy == MergeStrict {
				return InventoryDelta{}, fmt.Errorf("replace inventory: nft %s already owned by %s: %w", n.ID, existingOwner, types.ErrInvalidOwnership)
			}
		}
	}

	for nft := range w.Owned {
		if _, kept := keep[nft]; kept {
			continue
		}
		delete(w.Owned, nft)
		delete(g.nftOwner, nft)
		delta.Removed = append(delta.Removed, nft)
	}

	for _, n := range nfts {
		if n == nil || n.ID == "" {
			continue
		}
		if existingOwner, ok := g.nftOwner[n.ID]; ok && existingOwner != walletID {
			if prev, ok := g.wallets[existingOwner]; ok {
				delete(prev.Owned, n.ID)
			}
			delta.Moved = append(delta.Moved, n.ID)
		} else if !ok {
			delta.Added = append(delta.Added, n.ID)
		}

		g.nfts[n.ID] = n
		w.Owned[n.ID] = struct{}{}
		g.nftOwner[n.ID] = walletID
		if n.CollectionID != "" {
			members := g.collectionMembers[n.CollectionID]
			if members == nil {
				members = make(map[types.NftID]struct{})
				g.collectionMembers[n.CollectionID] = members
			}
			members[n.ID] = struct{}{}
		}
	}

	g.version++
	return delta, nil
}

// UpsertWants adds to the wallet's want sets. Duplicates are idempotent:
// only newly added wants are returned in the delta.
func (g *GraphIndex) UpsertWants(walletID types.WalletID, nftIDs []types.NftID, collectionIDs []types.CollectionID) (WantDelta, error) {
	if walletID == "" {
		return WantDelta{}, fmt.Errorf("upsert wants: empty wallet id: %w", types.ErrInvalidInput)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.walletLocked(walletID)
	delta := WantDelta{Wallet: walletID}

	for _, n := range nftIDs {
		if n == "" {
			continue
		}
		if _, exists := w.WantedNfts[n]; exists {
			continue
		}
		w.WantedNfts[n] = struct{}{}
		wanters := g.nftWanters[n]
		if wanters == nil {
			wanters = make(map[types.WalletID]struct{})
			g.nftWanters[n] = wanters
		}
		wanters[walletID] = struct{}{}
		delta.AddedNfts = append(delta.AddedNfts, n)
	}

	for _, c := range collectionIDs {
		if c == "" {
			continue
		}
		if _, exists := w.WantedCollections[c]; exists {
			continue
		}
		w.WantedCollections[c] = struct{}{}
		wanters := g.collectionWanters[c]
		if wanters == nil {
			wanters = make(map[types.WalletID]struct{})
			g.collectionWanters[c] = wanters
		}
		wanters[walletID] = struct{}{}
		delta.AddedCollections = append(delta.AddedCollections, c)
	}

	if len(delta.AddedNfts) > 0 || len(delta.AddedCollections) > 0 {
		g.version++
	}
	return delta, nil
}

// RemoveWallet deletes a wallet and every reference to it, returning the
// set of entities whose removal should invalidate dependent loops.
func (g *GraphIndex) RemoveWallet(id types.WalletID) (InvalidationDelta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.wallets[id]
	if !ok {
		return InvalidationDelta{}, fmt.Errorf("remove wallet %s: %w", id, types.ErrNotFound)
	}

	var delta InvalidationDelta
	delta.Wallets = []types.WalletID{id}

	for nft := range w.Owned {
		delete(g.nftOwner, nft)
		delta.Nfts = append(delta.Nfts, nft)
	}
	for nft := range w.WantedNfts {
		if wanters := g.nftWanters[nft]; wanters != nil {
			delete(wanters, id)
		}
	}
	for col := range w.WantedCollections {
		if wanters := g.collectionWanters[col]; wanters != nil {
			delete(wanters, id)
		}
		// Not removed, but its wanter set changed; callers drop memoized
		// resolver entries for it.
		delta.Collections = append(delta.Collections, col)
	}
	delete(g.wallets, id)
	g.version++
	return delta, nil
}

// RemoveNft deletes an NFT and every reference to it.
func (g *GraphIndex) RemoveNft(id types.NftID) (InvalidationDelta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nfts[id]; !ok {
		return InvalidationDelta{}, fmt.Errorf("remove nft %s: %w", id, types.ErrNotFound)
	}

	delta := InvalidationDelta{Nfts: []types.NftID{id}}

	if owner, ok := g.nftOwner[id]; ok {
		if w, ok := g.wallets[owner]; ok {
			delete(w.Owned, id)
		}
		delete(g.nftOwner, id)
	}
	for wanter := range g.nftWanters[id] {
		if w, ok := g.wallets[wanter]; ok {
			delete(w.WantedNfts, id)
		}
	}
	delete(g.nftWanters, id)

	nft := g.nfts[id]
	if nft.CollectionID != "" {
		if members := g.collectionMembers[nft.CollectionID]; members != nil {
			delete(members, id)
		}
	}
	delete(g.nfts, id)
	g.version++
	return delta, nil
}

// RemoveCollection deletes a collection and clears every want that
// referenced it.
func (g *GraphIndex) RemoveCollection(id types.CollectionID) (InvalidationDelta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.collectionMembers[id]; !ok {
		if _, ok := g.collectionWanters[id]; !ok {
			return InvalidationDelta{}, fmt.Errorf("remove collection %s: %w", id, types.ErrNotFound)
		}
	}

	delta := InvalidationDelta{Collections: []types.CollectionID{id}}

	for wanter := range g.collectionWanters[id] {
		if w, ok := g.wallets[wanter]; ok {
			delete(w.WantedCollections, id)
		}
	}
	delete(g.collectionWanters, id)
	delete(g.collectionMembers, id)
	g.version++
	return delta, nil
}

// Version returns the current mutation version, used to stamp snapshots
// for the per-tenant read-your-writes ordering guarantee.
func (g *GraphIndex) Version() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// WalletIDs returns every wallet id currently known, sorted, for
// deterministic iteration by downstream algorithms.
func (g *GraphIndex) WalletIDs() []types.WalletID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]types.WalletID, 0, len(g.wallets))
	for id := range g.wallets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
