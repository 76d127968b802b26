// Package scoring assigns a normalized quality score to a TradeLoop.
package scoring

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/outblock/swaps-core/internal/types"
)

// Weights must sum to 1; see the tenant scoring.weights config.
type Weights struct {
	Efficiency decimal.Decimal
	Size       decimal.Decimal
	Fairness   decimal.Decimal
}

// DefaultWeights weights efficiency three times as heavily as size or
// fairness, since that's the dimension trade quality is usually judged on.
func DefaultWeights() Weights {
	return Weights{
		Efficiency: decimal.NewFromFloat(0.6),
		Size:       decimal.NewFromFloat(0.2),
		Fairness:   decimal.NewFromFloat(0.2),
	}
}

// Options configures one Score call.
type Options struct {
	Weights Weights
	// NeutralEfficiency is used when any step's value is unknown.
	NeutralEfficiency float64
	// FairnessThreshold is the per-participant imbalance fraction above
	// which fairness is penalized.
	FairnessThreshold float64
	// SizeBonusCap bounds how much size_bonus can contribute regardless
	// of how many participants a loop has.
	SizeBonusCap  float64
	MinEfficiency float64
}

// DefaultOptions matches the tenant-config defaults.
// NeutralEfficiency defaults to 1.0: a loop with no valuation data is
// treated as balanced (and flagged valuationIncomplete) rather than
// silently filtered out by the minEfficiency bar, since most tenants
// never supply values at all. Tenants that prefer to quarantine
// unvalued loops lower it below their minEfficiency.
func DefaultOptions() Options {
	return Options{
		Weights:           DefaultWeights(),
		NeutralEfficiency: 1.0,
		FairnessThreshold: 0.25,
		SizeBonusCap:      1.0,
		MinEfficiency:     0.6,
	}
}

// ValueLookup supplies a per-NFT advisory value; loops whose steps all
// resolve through a snapshot implement this directly.
type ValueLookup interface {
	ValueOf(nft types.NftID) (decimal.Decimal, bool)
}

// Score computes efficiency and score for a loop and reports whether it
// passes opts.MinEfficiency. It never errors: a loop with entirely
// unknown valuations still scores, at the neutral efficiency.
func Score(loop *types.TradeLoop, values ValueLookup, opts Options) (passesFilter bool) {
	efficiency, incomplete := computeEfficiency(loop, values, opts.NeutralEfficiency)
	fairness := computeFairness(loop, values, opts.FairnessThreshold)
	sizeBonus := computeSizeBonus(loop.Size(), opts.SizeBonusCap)

	score := opts.Weights.Efficiency.InexactFloat64()*efficiency +
		opts.Weights.Size.InexactFloat64()*sizeBonus +
		opts.Weights.Fairness.InexactFloat64()*fairness

	loop.Efficiency = efficiency
	loop.Score = clamp01(score)
	loop.ValuationIncomplete = incomplete

	return efficiency >= opts.MinEfficiency
}

// computeEfficiency is 1 minus the normalized value imbalance: the
// coefficient of variation of each participant's (received - given)
// value, scaled into [0,1]. If any step's value is unknown, efficiency
// defaults to the configured neutral value and the loop is flagged.
//
// Sums, means and squared deviations accumulate in decimal so long
// loops over high-precision valuations don't drift; only the final
// square root and ratio drop to float64.
func computeEfficiency(loop *types.TradeLoop, values ValueLookup, neutral float64) (float64, bool) {
	n := len(loop.Steps)
	if n == 0 {
		return neutral, true
	}

	given := make(map[types.WalletID]decimal.Decimal, n)
	received := make(map[types.WalletID]decimal.Decimal, n)
	for _, s := range loop.Steps {
		v, ok := values.ValueOf(s.Nft)
		if !ok {
			return neutral, true
		}
		given[s.From] = given[s.From].Add(v)
		received[s.To] = received[s.To].Add(v)
	}

	imbalances := make([]decimal.Decimal, 0, n)
	sum := decimal.Decimal{}
	for w := range given {
		d := received[w].Sub(given[w])
		imbalances = append(imbalances, d)
		sum = sum.Add(d)
	}
	count := decimal.NewFromInt(int64(len(imbalances)))
	mean := sum.Div(count)

	variance := decimal.Decimal{}
	for _, d := range imbalances {
		diff := d.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(count)
	stddev := math.Sqrt(variance.InexactFloat64())

	// In a closed loop every value given is received by someone, so the
	// imbalances sum to zero and the mean is ~0, where the coefficient of
	// variation is undefined. A zero spread is maximal efficiency;
	// otherwise the standard deviation is used unscaled, in value units.
	scale := math.Abs(mean.InexactFloat64())
	if scale < 1e-9 {
		if stddev < 1e-9 {
			return 1.0, false
		}
		scale = 1.0
	}
	cv := stddev / scale
	return clamp01(1 - cv), false
}

// computeFairness penalizes loops where any single participant's
// absolute imbalance fraction exceeds threshold; 1.0 means no
// participant crossed it.
func computeFairness(loop *types.TradeLoop, values ValueLookup, threshold float64) float64 {
	given := make(map[types.WalletID]decimal.Decimal)
	received := make(map[types.WalletID]decimal.Decimal)
	anyValue := false
	for _, s := range loop.Steps {
		v, ok := values.ValueOf(s.Nft)
		if !ok {
			continue
		}
		anyValue = true
		given[s.From] = given[s.From].Add(v)
		received[s.To] = received[s.To].Add(v)
	}
	if !anyValue {
		return 0.5 // neutral: no step has a known value
	}

	worst := 0.0
	for w, g := range given {
		r := received[w]
		total := g.Add(r)
		if !total.IsPositive() {
			continue
		}
		frac := r.Sub(g).Abs().Div(total).InexactFloat64()
		if frac > worst {
			worst = frac
		}
	}
	if worst <= threshold {
		return 1.0
	}
	// Linearly decay past the threshold, floored at 0.
	excess := (worst - threshold) / (1 - threshold)
	return clamp01(1 - excess)
}

// computeSizeBonus rewards larger multi-party loops, capped.
func computeSizeBonus(size int, cap float64) float64 {
	if size <= 2 {
		return 0
	}
	bonus := float64(size-2) * 0.25
	if bonus > cap {
		bonus = cap
	}
	return bonus
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
