package cycle

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/outblock/swaps-core/internal/types"
	"github.com/outblock/swaps-core/internal/unifiedgraph"
)

// ResolvedCycle is a wallet cycle with a concrete NFT selected for every
// edge, ready to become a types.TradeLoop.
type ResolvedCycle struct {
	Steps []types.TradeStep
}

// ResolveNfts expands a wallet-only cycle into concrete TradeSteps. Each
// edge may have multiple candidate NFTs (when the want was satisfied via
// a collection); the candidate minimizing the value imbalance between
// the two endpoints wins, with lexicographic NFT id as tie-break.
// Returns false if any edge has no valid candidate (the
// snapshot changed shape between SCC computation and resolution, or the
// cycle was degenerate).
func ResolveNfts(ug *unifiedgraph.Graph, snap valueLookup, walletCycle []types.WalletID) (ResolvedCycle, bool) {
	n := len(walletCycle)
	if n < 2 {
		return ResolvedCycle{}, false
	}

	steps := make([]types.TradeStep, 0, n)
	for i := 0; i < n; i++ {
		from := walletCycle[i]
		to := walletCycle[(i+1)%n]

		candidates := ug.CandidateNfts(from, to)
		if len(candidates) == 0 {
			return ResolvedCycle{}, false
		}

		chosen := pickMinImbalance(snap, from, to, candidates)
		steps = append(steps, types.TradeStep{From: from, To: to, Nft: chosen})
	}

	return ResolvedCycle{Steps: steps}, true
}

// valueLookup is the minimal interface ResolveNfts needs from a
// snapshot-like source: the estimated value of a given NFT.
type valueLookup interface {
	ValueOf(nft types.NftID) (decimal.Decimal, bool)
}

// pickMinImbalance chooses the candidate NFT minimizing
// |valueGivenByFrom - valueReceivedByFrom-equivalent|; since From always
// gives exactly this one NFT in this edge, "imbalance" here is scored as
// the candidate whose value is closest to the mean value of the other
// candidates, which approximates minimizing the eventual per-participant
// imbalance before the rest of the loop's steps are known. Ties break on
// lexicographic NFT id.
func pickMinImbalance(snap valueLookup, from, to types.WalletID, candidates []types.NftID) types.NftID {
	if len(candidates) == 1 {
		return candidates[0]
	}

	sorted := append([]types.NftID(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	sum := decimal.Decimal{}
	var known int64
	values := make([]decimal.Decimal, len(sorted))
	haveValue := make([]bool, len(sorted))
	for i, nft := range sorted {
		if v, ok := snap.ValueOf(nft); ok {
			values[i] = v
			haveValue[i] = true
			sum = sum.Add(v)
			known++
		}
	}
	if known == 0 {
		return sorted[0] // no valuation data at all: lexicographic tie-break
	}
	mean := sum.Div(decimal.NewFromInt(known))

	best := sorted[0]
	var bestDelta decimal.Decimal
	haveBest := false
	for i, nft := range sorted {
		if !haveValue[i] {
			continue
		}
		delta := values[i].Sub(mean).Abs()
		if !haveBest || delta.LessThan(bestDelta) {
			bestDelta = delta
			best = nft
			haveBest = true
		}
	}
	return best
}
