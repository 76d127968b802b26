// Package dedup computes rotation-invariant canonical ids for trade
// loops and maintains a scalable Bloom filter that suppresses
// cross-request re-emission of already-known loops. The Bloom filter is
// a probabilistic fast path only: the
// authoritative membership check remains the caller's LoopCache lookup
// keyed by canonical id, so a false positive only costs that lookup.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/outblock/swaps-core/internal/types"
)

// CanonicalID rotates steps so the cycle starts at its lexicographically
// smallest participant wallet, then hashes the ordered (from,to,nft)
// triples with SHA-256. Two cycles that traverse the same wallets with
// the same NFT choices in the same cyclic order always produce the same
// id, regardless of starting index; cycles with different NFT choices
// are distinct.
func CanonicalID(steps []types.TradeStep) string {
	rotated := rotateToSmallest(steps)

	h := sha256.New()
	for _, s := range rotated {
		fmt.Fprintf(h, "%s>%s:%s|", s.From, s.To, s.Nft)
	}
	sum := h.Sum(nil)
	// Truncate to 128 bits; collision risk at that width is negligible
	// for any realistic per-tenant loop population.
	return hex.EncodeToString(sum[:16])
}

func rotateToSmallest(steps []types.TradeStep) []types.TradeStep {
	if len(steps) == 0 {
		return steps
	}
	startIdx := 0
	smallest := steps[0].From
	for i, s := range steps {
		if s.From < smallest {
			smallest = s.From
			startIdx = i
		}
	}
	if startIdx == 0 {
		return steps
	}
	out := make([]types.TradeStep, len(steps))
	for i := range steps {
		out[i] = steps[(startIdx+i)%len(steps)]
	}
	return out
}

// Filter is a per-tenant, thread-safe scalable Bloom filter over
// canonical loop ids.
type Filter struct {
	mu  sync.Mutex
	bf  *bloom.BloomFilter
	old []*bloom.BloomFilter // filters outgrown by Add, still consulted
	n   uint
	fp  float64
	add uint // number of ids added so far, to decide when to scale up
}

// DefaultFalsePositiveRate is the default Bloom false-positive rate.
const DefaultFalsePositiveRate = 0.01

// NewFilter returns a Bloom filter sized for an expected number of
// loops, with the given false-positive rate (0 uses the 1% default).
func NewFilter(expectedLoops uint, falsePositiveRate float64) *Filter {
	if expectedLoops == 0 {
		expectedLoops = 1024
	}
	if falsePositiveRate <= 0 {
		falsePositiveRate = DefaultFalsePositiveRate
	}
	return &Filter{
		bf: bloom.NewWithEstimates(expectedLoops, falsePositiveRate),
		n:  expectedLoops,
		fp: falsePositiveRate,
	}
}

// MaybeNew reports whether canonicalID is definitely not recorded (true)
// or probably already known (false). A false result is not a guarantee,
// since Bloom filters have false positives: callers must still check
// the authoritative LoopCache.
func (f *Filter) MaybeNew(canonicalID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bf.TestString(canonicalID) {
		return false
	}
	for _, o := range f.old {
		if o.TestString(canonicalID) {
			return false
		}
	}
	return true
}

// Add records canonicalID as now-known, scaling the underlying filter up
// (append-only, never resetting what's already recorded) once the
// number of additions approaches the size it was built for, so the
// false-positive rate stays bounded as a tenant's loop population grows.
func (f *Filter) Add(canonicalID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bf.AddString(canonicalID)
	f.add++
	if f.add > f.n {
		// Bloom filters can't be losslessly merged across different m/k
		// parameterizations, so the full filter is kept read-only and
		// new ids go into a fresh filter twice its size; MaybeNew
		// consults all of them.
		f.old = append(f.old, f.bf)
		f.bf = bloom.NewWithEstimates(f.n*2, f.fp)
		f.n *= 2
	}
}

// SortedParticipants returns a deterministic, sorted list of a loop's
// participant wallets, useful for logging/debugging canonical ids.
func SortedParticipants(steps []types.TradeStep) []types.WalletID {
	seen := make(map[types.WalletID]struct{}, len(steps))
	for _, s := range steps {
		seen[s.From] = struct{}{}
	}
	out := make([]types.WalletID, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
