// Package loopcache is the per-tenant store of active TradeLoops, keyed
// by canonical id with byWallet/byNft secondary indices. Insertion and
// invalidation are linearizable with respect to each other within a
// tenant: both hold the same mutex for their whole critical section.
package loopcache

import (
	"sync"
	"sync/atomic"

	"github.com/outblock/swaps-core/internal/types"
)

// Cache holds one tenant's active loops.
type Cache struct {
	mu sync.RWMutex

	byID     map[string]*types.TradeLoop
	byWallet map[types.WalletID]map[string]struct{}
	byNft    map[types.NftID]map[string]struct{}

	version atomic.Int64
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		byID:     make(map[string]*types.TradeLoop),
		byWallet: make(map[types.WalletID]map[string]struct{}),
		byNft:    make(map[types.NftID]map[string]struct{}),
	}
}

// Insert is idempotent on canonical id: re-inserting an already-present
// loop is a no-op other than bumping its version counter, so a repeat
// discovery can reinsert an equivalent loop harmlessly.
func (c *Cache) Insert(loop *types.TradeLoop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(loop)
}

// InsertBatch inserts every loop under one critical section, so a
// discovery run's end-of-run commit is all-or-none with respect to
// concurrent readers and invalidations: no reader ever observes a
// partially committed run.
func (c *Cache) InsertBatch(loops []*types.TradeLoop) {
	if len(loops) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, loop := range loops {
		c.insertLocked(loop)
	}
}

func (c *Cache) insertLocked(loop *types.TradeLoop) {
	if existing, ok := c.byID[loop.CanonicalID]; ok {
		existing.Version = c.version.Add(1)
		return
	}

	loop.Version = c.version.Add(1)
	c.byID[loop.CanonicalID] = loop

	for w := range loop.Participants {
		set := c.byWallet[w]
		if set == nil {
			set = make(map[string]struct{})
			c.byWallet[w] = set
		}
		set[loop.CanonicalID] = struct{}{}
	}
	for _, s := range loop.Steps {
		set := c.byNft[s.Nft]
		if set == nil {
			set = make(map[string]struct{})
			c.byNft[s.Nft] = set
		}
		set[loop.CanonicalID] = struct{}{}
	}
}

// Get returns a loop by canonical id.
func (c *Cache) Get(canonicalID string) (*types.TradeLoop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.byID[canonicalID]
	return l, ok
}

// ByWallet returns every loop whose participants include walletID.
func (c *Cache) ByWallet(walletID types.WalletID) []*types.TradeLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byWallet[walletID]
	out := make([]*types.TradeLoop, 0, len(ids))
	for id := range ids {
		if l, ok := c.byID[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

// ByNft returns every loop referencing nftID in any step.
func (c *Cache) ByNft(nftID types.NftID) []*types.TradeLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byNft[nftID]
	out := make([]*types.TradeLoop, 0, len(ids))
	for id := range ids {
		if l, ok := c.byID[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Remove deletes a loop by canonical id, if present.
func (c *Cache) Remove(canonicalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(canonicalID)
}

func (c *Cache) removeLocked(canonicalID string) {
	loop, ok := c.byID[canonicalID]
	if !ok {
		return
	}
	delete(c.byID, canonicalID)
	for w := range loop.Participants {
		if set := c.byWallet[w]; set != nil {
			delete(set, canonicalID)
			if len(set) == 0 {
				delete(c.byWallet, w)
			}
		}
	}
	for _, s := range loop.Steps {
		if set := c.byNft[s.Nft]; set != nil {
			delete(set, canonicalID)
			if len(set) == 0 {
				delete(c.byNft, s.Nft)
			}
		}
	}
}

// Predicate reports whether a loop should be invalidated.
type Predicate func(*types.TradeLoop) bool

// Invalidate removes every loop matching pred, used on graph mutation.
// It returns the canonical ids removed, so callers can also purge the
// Deduper's Bloom-filter fast path expectations if needed (the filter
// itself is append-only; LoopCache remaining authoritative is what
// keeps that safe).
func (c *Cache) Invalidate(pred Predicate) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for id, loop := range c.byID {
		if pred(loop) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		c.removeLocked(id)
	}
	return removed
}

// InvalidateWallet removes every loop referencing walletID, the coarse
// predicate used when a wallet itself is removed entirely.
func (c *Cache) InvalidateWallet(walletID types.WalletID) []string {
	return c.Invalidate(func(l *types.TradeLoop) bool { return l.InvolvesWallet(walletID) })
}

// InvalidateNft removes every loop referencing nftID.
func (c *Cache) InvalidateNft(nftID types.NftID) []string {
	return c.Invalidate(func(l *types.TradeLoop) bool { return l.InvolvesNft(nftID) })
}

// All returns every active loop. Order is unspecified; callers sort.
func (c *Cache) All() []*types.TradeLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.TradeLoop, 0, len(c.byID))
	for _, l := range c.byID {
		out = append(out, l)
	}
	return out
}

// Len returns the number of active loops, mostly for stats/tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
