package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/outblock/swaps-core/internal/config"
	"github.com/outblock/swaps-core/internal/eventbus"
	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/types"
)

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	s := New(opts)
	t.Cleanup(s.Close)
	return s
}

// submitTwoPartyRing sets up spec scenario S1 (A owns n1 wants n2, B
// owns n2 wants n1) under the given tenant.
func submitTwoPartyRing(t *testing.T, s *Service, tenant types.TenantID, n1Value, n2Value float64) {
	t.Helper()
	ctx := context.Background()

	n1 := &types.NFT{ID: "n1"}
	n2 := &types.NFT{ID: "n2"}
	if n1Value > 0 {
		n1.HasValue = true
		n1.EstimatedValue = decimal.NewFromFloat(n1Value)
	}
	if n2Value > 0 {
		n2.HasValue = true
		n2.EstimatedValue = decimal.NewFromFloat(n2Value)
	}

	_, err := s.SubmitInventory(ctx, tenant, "A", []*types.NFT{n1}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = s.SubmitInventory(ctx, tenant, "B", []*types.NFT{n2}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = s.SubmitWants(ctx, tenant, "A", []types.NftID{"n2"}, nil)
	require.NoError(t, err)
	_, err = s.SubmitWants(ctx, tenant, "B", []types.NftID{"n1"}, nil)
	require.NoError(t, err)
}

func TestDiscover_UnknownTenantIsNotFound(t *testing.T) {
	s := newTestService(t, Options{})
	_, err := s.Discover(context.Background(), "nobody", DiscoverRequest{})
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestDiscover_EmptyTenantIDIsInvalidInput(t *testing.T) {
	s := newTestService(t, Options{})
	_, err := s.Discover(context.Background(), "", DiscoverRequest{})
	require.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestDiscover_TwoPartyLoop(t *testing.T) {
	s := newTestService(t, Options{})
	submitTwoPartyRing(t, s, "t1", 0, 0)

	res, err := s.Discover(context.Background(), "t1", DiscoverRequest{})
	require.NoError(t, err)
	require.Len(t, res.Loops, 1)
	require.Len(t, res.Loops[0].Steps, 2)
	require.True(t, res.Loops[0].ValuationIncomplete)
}

// TestDiscover_ScopedToWallet checks that a scoped query only returns
// loops the named wallet participates in.
func TestDiscover_ScopedToWallet(t *testing.T) {
	s := newTestService(t, Options{})
	ctx := context.Background()
	submitTwoPartyRing(t, s, "t1", 0, 0)

	// A disjoint second ring C<->D in the same tenant.
	_, err := s.SubmitInventory(ctx, "t1", "C", []*types.NFT{{ID: "n3"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = s.SubmitInventory(ctx, "t1", "D", []*types.NFT{{ID: "n4"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = s.SubmitWants(ctx, "t1", "C", []types.NftID{"n4"}, nil)
	require.NoError(t, err)
	_, err = s.SubmitWants(ctx, "t1", "D", []types.NftID{"n3"}, nil)
	require.NoError(t, err)

	res, err := s.Discover(ctx, "t1", DiscoverRequest{Scope: "A"})
	require.NoError(t, err)
	require.Len(t, res.Loops, 1)
	require.True(t, res.Loops[0].InvolvesWallet("A"))

	all, err := s.Discover(ctx, "t1", DiscoverRequest{})
	require.NoError(t, err)
	require.Len(t, all.Loops, 2)
}

// TestNoCrossTenantLeakage mirrors spec property 9: identical wallet and
// NFT ids in two tenants never mix.
func TestNoCrossTenantLeakage(t *testing.T) {
	s := newTestService(t, Options{})
	ctx := context.Background()

	submitTwoPartyRing(t, s, "alpha", 0, 0)

	// Tenant beta reuses the same ids but has no closing want edge.
	_, err := s.SubmitInventory(ctx, "beta", "A", []*types.NFT{{ID: "n1"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = s.SubmitWants(ctx, "beta", "A", []types.NftID{"n2"}, nil)
	require.NoError(t, err)

	alphaRes, err := s.Discover(ctx, "alpha", DiscoverRequest{})
	require.NoError(t, err)
	require.Len(t, alphaRes.Loops, 1)

	betaRes, err := s.Discover(ctx, "beta", DiscoverRequest{})
	require.NoError(t, err)
	require.Empty(t, betaRes.Loops, "beta must not see alpha's loops")
}

// TestDiscover_RepeatedReadsAreStable mirrors S5 at the service layer:
// two discovers with no intervening mutation return the same canonical
// ids.
func TestDiscover_RepeatedReadsAreStable(t *testing.T) {
	s := newTestService(t, Options{})
	submitTwoPartyRing(t, s, "t1", 1.0, 1.0)
	ctx := context.Background()

	first, err := s.Discover(ctx, "t1", DiscoverRequest{})
	require.NoError(t, err)
	require.Len(t, first.Loops, 1)

	second, err := s.Discover(ctx, "t1", DiscoverRequest{ForceRefresh: true})
	require.NoError(t, err)
	require.Len(t, second.Loops, 1)
	require.Equal(t, first.Loops[0].CanonicalID, second.Loops[0].CanonicalID)
}

// TestDiscover_MinEfficiencyOverride: a per-call minEfficiency of 0.99
// with mismatched values (1.0 vs 2.0) drops the 2-party loop that a
// permissive tenant config admits.
func TestDiscover_MinEfficiencyOverride(t *testing.T) {
	s := newTestService(t, Options{
		ConfigFor: func(id types.TenantID) config.TenantConfig {
			cfg := config.Default(string(id))
			cfg.Algorithm.MinEfficiency = 0
			return cfg
		},
	})
	submitTwoPartyRing(t, s, "t1", 1.0, 2.0)
	ctx := context.Background()

	permissive, err := s.Discover(ctx, "t1", DiscoverRequest{})
	require.NoError(t, err)
	require.Len(t, permissive.Loops, 1)

	strict := 0.99
	res, err := s.Discover(ctx, "t1", DiscoverRequest{Settings: Settings{MinEfficiency: &strict}})
	require.NoError(t, err)
	require.Empty(t, res.Loops)
}

func TestDiscover_MaxResultsOverrideTruncates(t *testing.T) {
	s := newTestService(t, Options{})
	ctx := context.Background()
	submitTwoPartyRing(t, s, "t1", 0, 0)

	_, err := s.SubmitInventory(ctx, "t1", "C", []*types.NFT{{ID: "n3"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = s.SubmitInventory(ctx, "t1", "D", []*types.NFT{{ID: "n4"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	_, err = s.SubmitWants(ctx, "t1", "C", []types.NftID{"n4"}, nil)
	require.NoError(t, err)
	_, err = s.SubmitWants(ctx, "t1", "D", []types.NftID{"n3"}, nil)
	require.NoError(t, err)

	one := 1
	res, err := s.Discover(ctx, "t1", DiscoverRequest{Settings: Settings{MaxResults: &one}})
	require.NoError(t, err)
	require.Len(t, res.Loops, 1)
	require.True(t, res.Truncated)
}

func TestDiscover_SettingsValidation(t *testing.T) {
	s := newTestService(t, Options{})
	submitTwoPartyRing(t, s, "t1", 0, 0)
	ctx := context.Background()

	badDepth := 1
	_, err := s.Discover(ctx, "t1", DiscoverRequest{Settings: Settings{MaxDepth: &badDepth}})
	require.ErrorIs(t, err, types.ErrInvalidInput)

	badEff := 1.5
	_, err = s.Discover(ctx, "t1", DiscoverRequest{Settings: Settings{MinEfficiency: &badEff}})
	require.ErrorIs(t, err, types.ErrInvalidInput)
}

// TestDiscover_ExecutableModeRevalidates plants a stale loop directly in
// a tenant's cache (a loop whose steps no longer hold under the graph)
// and checks that informational reads still serve it while an executable
// read drops it and purges it from the cache.
func TestDiscover_ExecutableModeRevalidates(t *testing.T) {
	s := newTestService(t, Options{})
	submitTwoPartyRing(t, s, "t1", 0, 0)
	ctx := context.Background()

	sh, err := s.shard("t1", false)
	require.NoError(t, err)

	stale := types.NewTradeLoop([]types.TradeStep{
		{From: "X", To: "Y", Nft: "ghost1"},
		{From: "Y", To: "X", Nft: "ghost2"},
	})
	stale.CanonicalID = "stale-loop"
	stale.Efficiency = 1.0
	sh.cache.Insert(stale)

	info, err := s.Discover(ctx, "t1", DiscoverRequest{Mode: ModeInformational})
	require.NoError(t, err)
	require.Len(t, info.Loops, 2)

	exec, err := s.Discover(ctx, "t1", DiscoverRequest{Mode: ModeExecutable})
	require.NoError(t, err)
	require.Len(t, exec.Loops, 1)
	require.NotEqual(t, "stale-loop", exec.Loops[0].CanonicalID)

	_, stillCached := sh.cache.Get("stale-loop")
	require.False(t, stillCached, "executable read must purge the stale loop")
}

// TestRemoveEntity_InvalidationSoundness mirrors spec property 6 at the
// service layer: after removing an NFT, no loop referencing it remains.
func TestRemoveEntity_InvalidationSoundness(t *testing.T) {
	s := newTestService(t, Options{})
	submitTwoPartyRing(t, s, "t1", 0, 0)
	ctx := context.Background()

	res, err := s.Discover(ctx, "t1", DiscoverRequest{})
	require.NoError(t, err)
	require.Len(t, res.Loops, 1)

	_, err = s.RemoveEntity(ctx, "t1", EntityRef{Nft: "n2"})
	require.NoError(t, err)

	after, err := s.Discover(ctx, "t1", DiscoverRequest{})
	require.NoError(t, err)
	require.Empty(t, after.Loops)
}

func TestRemoveEntity_EmptyRefIsInvalidInput(t *testing.T) {
	s := newTestService(t, Options{})
	submitTwoPartyRing(t, s, "t1", 0, 0)
	_, err := s.RemoveEntity(context.Background(), "t1", EntityRef{})
	require.ErrorIs(t, err, types.ErrInvalidInput)
}

// TestSubscribe_DeliversNewLoopEvents checks the push-notification path:
// completing a ring publishes a new-loop event to subscribers.
func TestSubscribe_DeliversNewLoopEvents(t *testing.T) {
	s := newTestService(t, Options{})

	sub, err := s.Subscribe("t1", 16)
	require.NoError(t, err)

	submitTwoPartyRing(t, s, "t1", 0, 0)

	var sawNewLoop bool
	for len(sub.Ch) > 0 {
		evt := <-sub.Ch
		if evt.Kind == eventbus.KindNewLoop {
			sawNewLoop = true
			require.NotNil(t, evt.Loop)
		}
	}
	require.True(t, sawNewLoop, "completing the ring must publish a new-loop event")
}

// TestGraphVersion_MonotonicUnderMutations mirrors spec property 8's
// read-your-writes versioning: each mutation advances the version a
// subsequent discover snapshot reflects.
func TestGraphVersion_MonotonicUnderMutations(t *testing.T) {
	s := newTestService(t, Options{})
	ctx := context.Background()

	_, err := s.SubmitInventory(ctx, "t1", "A", []*types.NFT{{ID: "n1"}}, graphindex.MergeStrict)
	require.NoError(t, err)
	v1, err := s.GraphVersion("t1")
	require.NoError(t, err)

	_, err = s.SubmitWants(ctx, "t1", "A", []types.NftID{"n9"}, nil)
	require.NoError(t, err)
	v2, err := s.GraphVersion("t1")
	require.NoError(t, err)
	require.Greater(t, v2, v1)

	res, err := s.Discover(ctx, "t1", DiscoverRequest{ForceRefresh: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Stats.SnapshotVersion, v2)
}
