package engine

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/outblock/swaps-core/internal/collection"
	"github.com/outblock/swaps-core/internal/community"
	"github.com/outblock/swaps-core/internal/config"
	"github.com/outblock/swaps-core/internal/cycle"
	"github.com/outblock/swaps-core/internal/dedup"
	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/loopcache"
	"github.com/outblock/swaps-core/internal/scc"
	"github.com/outblock/swaps-core/internal/scoring"
	"github.com/outblock/swaps-core/internal/types"
	"github.com/outblock/swaps-core/internal/unifiedgraph"
)

// Stats describes what one discovery run actually did, exposed so
// callers (and tests) can observe the pipeline's behavior without
// instrumenting it.
type Stats struct {
	WalletCount     int
	EdgeCount       int
	Communities     int
	RawCycles       int
	DedupSuppressed int
	ScoreFiltered   int
	SnapshotVersion int64
}

// Result is the outcome of one discovery run.
type Result struct {
	NewLoops  []*types.TradeLoop
	Policy    Policy
	Truncated bool
	Duration  time.Duration
	Stats     Stats
}

// DiscoveryEngine runs one tenant's full discovery pipeline: unify the
// graph, pick a Policy, find candidate cycles, resolve them into
// TradeLoops, deduplicate, score and cache. One DiscoveryEngine belongs
// to exactly one tenant, matching that tenant's GraphIndex/LoopCache.
type DiscoveryEngine struct {
	resolver *collection.Resolver
	cache    *loopcache.Cache
	filter   *dedup.Filter
	selector Selector

	mu              sync.Mutex
	lastRunDuration time.Duration
}

// New builds a DiscoveryEngine over the given tenant's shared
// CollectionResolver and LoopCache. selector may be nil to use
// DefaultSelector.
func New(resolver *collection.Resolver, cache *loopcache.Cache, filter *dedup.Filter, selector Selector) *DiscoveryEngine {
	if selector == nil {
		selector = NewDefaultSelector()
	}
	return &DiscoveryEngine{resolver: resolver, cache: cache, filter: filter, selector: selector}
}

// Run executes one discovery pass over snap, scoped to the wallets in
// scope (nil means the whole snapshot). It never returns an error:
// algorithmic subcomponents are all total functions, and a deadline
// exceeded partway through surfaces as Result.Truncated rather than a
// failure.
//
// New loops are staged during the run and committed to the LoopCache in
// one batch at the end; if ctx is cancelled before commit, nothing is
// written and the run's result is discarded as truncated.
func (e *DiscoveryEngine) Run(ctx context.Context, snap *graphindex.Snapshot, cfg config.TenantConfig, scope []types.WalletID) Result {
	start := time.Now()

	var runSnap *graphindex.Snapshot = snap
	if len(scope) > 0 {
		hops := cfg.Algorithm.IncrementalScopeHops
		if hops <= 0 {
			hops = 2
		}
		runSnap = snap.SubgraphAround(scope, hops)
	}

	ug := unifiedgraph.New(runSnap, e.resolver, cfg.Algorithm.EnableCollectionExpansion)
	wallets := ug.Wallets()

	var edgeCount int
	for _, edges := range ug.Projection() {
		edgeCount += len(edges)
	}

	e.mu.Lock()
	lastDuration := e.lastRunDuration
	e.mu.Unlock()

	policy := e.selector.Select(PolicyInputs{
		WalletCount:     len(wallets),
		EdgeCount:       edgeCount,
		LastRunDuration: lastDuration,
	})

	deadline := runDeadline(ctx, start, cfg)

	stats := Stats{
		WalletCount:     len(wallets),
		EdgeCount:       edgeCount,
		Communities:     1,
		SnapshotVersion: runSnap.Version,
	}

	var walletCycles [][]types.WalletID
	var truncated bool

	switch policy {
	case PolicyFull:
		walletCycles, truncated = e.runFull(ug, cfg, deadline)
	case PolicyPartitioned:
		walletCycles, truncated, stats.Communities = e.runPartitioned(ug, runSnap, cfg, deadline)
	case PolicySampled:
		walletCycles, truncated = e.runSampled(ug, cfg, deadline)
	}
	stats.RawCycles = len(walletCycles)

	newLoops := e.resolveAndScore(ug, runSnap, walletCycles, cfg, &stats)

	if cfg.Algorithm.MaxResults > 0 && len(newLoops) > cfg.Algorithm.MaxResults {
		truncated = true
		newLoops = newLoops[:cfg.Algorithm.MaxResults]
	}

	// End-of-run commit: a cancelled run writes nothing, so the cache
	// never holds a partial run's output.
	if ctx.Err() != nil {
		duration := time.Since(start)
		return Result{Policy: policy, Truncated: true, Duration: duration, Stats: stats}
	}
	e.cache.InsertBatch(newLoops)
	for _, loop := range newLoops {
		e.filter.Add(loop.CanonicalID)
	}

	duration := time.Since(start)
	e.mu.Lock()
	e.lastRunDuration = duration
	e.mu.Unlock()

	return Result{NewLoops: newLoops, Policy: policy, Truncated: truncated, Duration: duration, Stats: stats}
}

// runDeadline combines the tenant's configured per-run timeout with any
// earlier deadline the caller's context carries.
func runDeadline(ctx context.Context, start time.Time, cfg config.TenantConfig) time.Time {
	var deadline time.Time
	if cfg.Algorithm.TimeoutMs > 0 {
		deadline = start.Add(time.Duration(cfg.Algorithm.TimeoutMs) * time.Millisecond)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if deadline.IsZero() || ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
	}
	return deadline
}

func (e *DiscoveryEngine) runFull(ug *unifiedgraph.Graph, cfg config.TenantConfig, deadline time.Time) ([][]types.WalletID, bool) {
	sccResult := scc.Find(ug, scc.Options{Deadline: deadline, Prune: true})
	var cycles [][]types.WalletID
	truncated := sccResult.Truncated

	for _, comp := range sccResult.Components {
		if len(comp) < 2 {
			continue
		}
		res := cycle.Enumerate(ug, comp, cycle.Options{
			MaxDepth:       cfg.Algorithm.MaxDepth,
			MaxLoopsPerSCC: perSCCLoopCap(cfg),
			Deadline:       deadline,
		})
		cycles = append(cycles, res.Cycles...)
		truncated = truncated || res.Truncated
	}
	return cycles, truncated
}

// runPartitioned shards the graph via Louvain modularity first, then
// runs the exact full path within each community. Communities below
// community.DefaultSequentialCeiling members run inline; larger ones
// fan out through a bounded errgroup.
// sccWorkers bounds in-flight parallel community workers across every
// tenant's engine in the process, so a burst of concurrent large-tenant
// runs cannot oversubscribe the CPU.
var sccWorkers = make(chan struct{}, 16)

func (e *DiscoveryEngine) runPartitioned(ug *unifiedgraph.Graph, snap *graphindex.Snapshot, cfg config.TenantConfig, deadline time.Time) ([][]types.WalletID, bool, int) {
	communities := community.Partition(ug, 1.0)

	var mu sync.Mutex
	var cycles [][]types.WalletID
	var truncated bool

	g := new(errgroup.Group)
	g.SetLimit(8)

	for _, members := range communities {
		members := members
		if len(members) < 2 {
			continue
		}
		run := func() error {
			subSnap := snap.SubgraphAround(members, 0)
			subUg := unifiedgraph.New(subSnap, e.resolver, cfg.Algorithm.EnableCollectionExpansion)
			found, trunc := e.runFull(subUg, cfg, deadline)

			mu.Lock()
			cycles = append(cycles, found...)
			truncated = truncated || trunc
			mu.Unlock()
			return nil
		}
		if len(members) < community.DefaultSequentialCeiling {
			_ = run()
		} else {
			g.Go(func() error {
				sccWorkers <- struct{}{}
				defer func() { <-sccWorkers }()
				return run()
			})
		}
	}
	_ = g.Wait()

	return cycles, truncated, len(communities)
}

// runSampled is the best-effort fallback for graphs too large to
// enumerate exactly even after partitioning: it takes bounded random
// walks from random wallets, stopping a walk as soon as it returns to
// its own start (a discovered cycle) or exceeds MaxDepth. It is
// deliberately not exhaustive: a last resort that trades completeness
// for a bounded running time.
func (e *DiscoveryEngine) runSampled(ug *unifiedgraph.Graph, cfg config.TenantConfig, deadline time.Time) ([][]types.WalletID, bool) {
	wallets := ug.Wallets()
	if len(wallets) == 0 {
		return nil, false
	}

	maxDepth := cfg.Algorithm.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	attempts := len(wallets) * 4
	if attempts > 20000 {
		attempts = 20000
	}

	rng := rand.New(rand.NewSource(1))
	seen := make(map[string]struct{})
	var cycles [][]types.WalletID
	truncated := false

	for i := 0; i < attempts; i++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			truncated = true
			break
		}
		start := wallets[rng.Intn(len(wallets))]
		walk := []types.WalletID{start}
		current := start
		visited := map[types.WalletID]struct{}{start: {}}

		for depth := 0; depth < maxDepth; depth++ {
			edges := ug.WalletEdges(current)
			if len(edges) == 0 {
				break
			}
			candidates := make([]types.WalletID, 0, len(edges))
			for to := range edges {
				candidates = append(candidates, to)
			}
			sort.Slice(candidates, func(a, b int) bool { return candidates[a] < candidates[b] })
			next := candidates[rng.Intn(len(candidates))]

			if next == start && len(walk) >= 2 {
				key := dedup.CanonicalID(walkToSteps(walk))
				if _, ok := seen[key]; !ok {
					seen[key] = struct{}{}
					cycles = append(cycles, append([]types.WalletID(nil), walk...))
				}
				break
			}
			if _, ok := visited[next]; ok {
				break // would revisit a non-start wallet; abandon this walk
			}
			visited[next] = struct{}{}
			walk = append(walk, next)
			current = next
		}
	}

	return cycles, truncated
}

// walkToSteps produces a placeholder step sequence (NFT unresolved) used
// only to compute a wallet-rotation-stable dedup key during sampling;
// the real steps are resolved later by resolveAndScore.
func walkToSteps(walk []types.WalletID) []types.TradeStep {
	n := len(walk)
	steps := make([]types.TradeStep, n)
	for i := 0; i < n; i++ {
		steps[i] = types.TradeStep{From: walk[i], To: walk[(i+1)%n]}
	}
	return steps
}

func perSCCLoopCap(cfg config.TenantConfig) int {
	if cfg.Algorithm.MaxResults <= 0 {
		return 0
	}
	return cfg.Algorithm.MaxResults
}

// resolveAndScore turns raw wallet cycles into scored TradeLoops,
// deduplicating against the Bloom filter fast path and the
// authoritative LoopCache. It stages new loops without writing to the
// cache; Run commits them in one batch at end-of-run.
func (e *DiscoveryEngine) resolveAndScore(ug *unifiedgraph.Graph, snap *graphindex.Snapshot, walletCycles [][]types.WalletID, cfg config.TenantConfig, stats *Stats) []*types.TradeLoop {
	var newLoops []*types.TradeLoop
	staged := make(map[string]struct{})
	scoringOpts := cfg.ScoringOptions()

	for _, wc := range walletCycles {
		resolved, ok := cycle.ResolveNfts(ug, snap, wc)
		if !ok {
			continue
		}

		loop := types.NewTradeLoop(resolved.Steps)
		loop.CanonicalID = dedup.CanonicalID(resolved.Steps)

		if _, dup := staged[loop.CanonicalID]; dup {
			stats.DedupSuppressed++
			continue
		}
		if cfg.Algorithm.EnableCanonicalDiscovery && !e.filter.MaybeNew(loop.CanonicalID) {
			if _, exists := e.cache.Get(loop.CanonicalID); exists {
				stats.DedupSuppressed++
				continue // already known and active, nothing to emit
			}
			// Bloom false positive: fall through and treat as new.
		}

		if !scoring.Score(loop, snap, scoringOpts) {
			stats.ScoreFiltered++
			continue
		}

		staged[loop.CanonicalID] = struct{}{}
		newLoops = append(newLoops, loop)
	}

	sort.Slice(newLoops, func(i, j int) bool {
		if newLoops[i].Score != newLoops[j].Score {
			return newLoops[i].Score > newLoops[j].Score
		}
		return newLoops[i].CanonicalID < newLoops[j].CanonicalID
	})

	return newLoops
}
