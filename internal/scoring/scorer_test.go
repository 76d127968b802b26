package scoring

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/outblock/swaps-core/internal/types"
)

type fakeValues map[types.NftID]float64

func (f fakeValues) ValueOf(nft types.NftID) (decimal.Decimal, bool) {
	v, ok := f[nft]
	return decimal.NewFromFloat(v), ok
}

func TestScore_EqualValues_FullEfficiency(t *testing.T) {
	loop := types.NewTradeLoop([]types.TradeStep{
		{From: "A", To: "B", Nft: "n1"},
		{From: "B", To: "A", Nft: "n2"},
	})
	values := fakeValues{"n1": 1.0, "n2": 1.0}

	passes := Score(loop, values, DefaultOptions())
	require.True(t, passes)
	require.InDelta(t, 1.0, loop.Efficiency, 1e-9)
	require.False(t, loop.ValuationIncomplete)
}

func TestScore_UnknownValues_NeutralEfficiency(t *testing.T) {
	loop := types.NewTradeLoop([]types.TradeStep{
		{From: "A", To: "B", Nft: "n1"},
		{From: "B", To: "A", Nft: "n2"},
	})
	opts := DefaultOptions()
	opts.MinEfficiency = 0 // allow the neutral score through to inspect it

	passes := Score(loop, fakeValues{}, opts)
	require.True(t, passes)
	require.InDelta(t, opts.NeutralEfficiency, loop.Efficiency, 1e-9)
	require.True(t, loop.ValuationIncomplete)
}

func TestScore_MinEfficiencyFilter(t *testing.T) {
	loop := types.NewTradeLoop([]types.TradeStep{
		{From: "A", To: "B", Nft: "n1"},
		{From: "B", To: "A", Nft: "n2"},
	})
	values := fakeValues{"n1": 1.0, "n2": 2.0}

	opts := DefaultOptions()
	opts.MinEfficiency = 0.99
	passes := Score(loop, values, opts)
	require.False(t, passes, "imbalanced 1.0/2.0 loop must fail a 0.99 efficiency bar")
}

func TestScore_SizeBonusRewardsLargerLoops(t *testing.T) {
	two := types.NewTradeLoop([]types.TradeStep{
		{From: "A", To: "B", Nft: "n1"},
		{From: "B", To: "A", Nft: "n2"},
	})
	six := types.NewTradeLoop([]types.TradeStep{
		{From: "A", To: "B", Nft: "n1"},
		{From: "B", To: "C", Nft: "n2"},
		{From: "C", To: "D", Nft: "n3"},
		{From: "D", To: "E", Nft: "n4"},
		{From: "E", To: "F", Nft: "n5"},
		{From: "F", To: "A", Nft: "n6"},
	})
	values := fakeValues{"n1": 1, "n2": 1, "n3": 1, "n4": 1, "n5": 1, "n6": 1}

	Score(two, values, DefaultOptions())
	Score(six, values, DefaultOptions())

	require.Greater(t, six.Score, two.Score)
}

func TestScore_FairnessPenalizesSkewedLoop(t *testing.T) {
	fair := types.NewTradeLoop([]types.TradeStep{
		{From: "A", To: "B", Nft: "n1"},
		{From: "B", To: "C", Nft: "n2"},
		{From: "C", To: "A", Nft: "n3"},
	})
	skewed := types.NewTradeLoop([]types.TradeStep{
		{From: "A", To: "B", Nft: "n1"},
		{From: "B", To: "C", Nft: "n2"},
		{From: "C", To: "A", Nft: "n3"},
	})
	fairValues := fakeValues{"n1": 1, "n2": 1, "n3": 1}
	skewedValues := fakeValues{"n1": 1, "n2": 100, "n3": 1}

	opts := DefaultOptions()
	opts.MinEfficiency = 0

	Score(fair, fairValues, opts)
	Score(skewed, skewedValues, opts)

	require.Greater(t, fair.Score, skewed.Score)
}
