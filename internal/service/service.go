// Package service is the composition root of the SWAPS core: it shards
// every component by tenant and exposes the in-process API
// (SubmitInventory, SubmitWants, RemoveEntity, Discover, Subscribe).
// Tenants never share mutable state; a tenant's GraphIndex,
// CollectionResolver, LoopCache, Bloom filter, DiscoveryEngine, event
// bus and MutationPipeline are constructed together and only ever
// reachable through that tenant's shard.
package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/outblock/swaps-core/internal/collection"
	"github.com/outblock/swaps-core/internal/config"
	"github.com/outblock/swaps-core/internal/dedup"
	"github.com/outblock/swaps-core/internal/engine"
	"github.com/outblock/swaps-core/internal/eventbus"
	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/loopcache"
	"github.com/outblock/swaps-core/internal/mutation"
	"github.com/outblock/swaps-core/internal/persistence"
	"github.com/outblock/swaps-core/internal/types"
)

// Mode selects what a discover call's results are for. Informational
// reads serve whatever the cache holds for the snapshot it was built
// from; executable reads additionally revalidate every returned loop
// against the current graph, dropping (and invalidating) loops whose
// steps no longer hold, since the caller intends to hand them to an
// on-chain executor.
type Mode int

const (
	ModeInformational Mode = iota
	ModeExecutable
)

// Settings overrides a tenant's configured algorithm parameters for a
// single discover call. Nil pointer fields inherit the tenant config.
type Settings struct {
	MaxDepth            *int
	MinEfficiency       *float64
	MaxResults          *int
	TimeoutMs           *int
	ConsiderCollections *bool
}

// DiscoverRequest scopes one discover call. An empty Scope means the
// whole tenant graph.
type DiscoverRequest struct {
	Scope        types.WalletID
	Mode         Mode
	ForceRefresh bool
	Settings     Settings
}

// DiscoverResult is the caller-facing result envelope.
type DiscoverResult struct {
	Loops     []*types.TradeLoop
	Truncated bool
	Stats     engine.Stats
	Policy    engine.Policy
}

// EntityRef is the sum-typed argument to RemoveEntity: exactly one
// field is set.
type EntityRef struct {
	Wallet     types.WalletID
	Nft        types.NftID
	Collection types.CollectionID
}

// Options configures a Service. The zero value is usable.
type Options struct {
	// ConfigFor supplies a tenant's configuration; nil falls back to
	// config.Default for every tenant.
	ConfigFor func(types.TenantID) config.TenantConfig
	// QueueDepth bounds each tenant's mutation queue (0 = pipeline
	// default).
	QueueDepth int
	// MutationsPerSecond > 0 installs a per-tenant token-bucket admission
	// limit ahead of the queue.
	MutationsPerSecond float64
	MutationBurst      int
	// ExpectedLoopsPerTenant sizes each tenant's Bloom filter.
	ExpectedLoopsPerTenant uint
	// Store, when set, is loaded from at startup via Load. Write-through
	// on mutations is the boundary adapter's job; the core only reads the
	// persisted state back.
	Store *persistence.Store
	// Logger receives one line per significant event. Nil uses a stderr
	// logger; the global logger is never touched.
	Logger *log.Logger
}

type tenantShard struct {
	id       types.TenantID
	cfg      config.TenantConfig
	graph    *graphindex.GraphIndex
	cache    *loopcache.Cache
	resolver *collection.Resolver
	filter   *dedup.Filter
	eng      *engine.DiscoveryEngine
	bus      *eventbus.Bus
	pipeline *mutation.Pipeline
}

// Service is the multi-tenant core facade. Safe for concurrent use.
type Service struct {
	opts   Options
	logger *log.Logger

	mu      sync.RWMutex
	tenants map[types.TenantID]*tenantShard
	closed  bool
}

// New builds an empty Service. Call Load afterwards when a persistence
// store is configured.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Service{
		opts:    opts,
		logger:  logger,
		tenants: make(map[types.TenantID]*tenantShard),
	}
}

// Load rebuilds every persisted tenant's GraphIndex (and its inverse
// indices) from the store before the service serves requests. A nil
// store makes Load a no-op.
func (s *Service) Load(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	ids, err := s.opts.Store.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("service: load tenants: %w", err)
	}
	for _, id := range ids {
		tenantID := types.TenantID(id)
		idx, err := s.opts.Store.LoadTenant(ctx, id)
		if err != nil {
			return fmt.Errorf("service: load tenant %s: %w", id, err)
		}
		shard := s.newShard(tenantID, idx)
		s.mu.Lock()
		s.tenants[tenantID] = shard
		s.mu.Unlock()
		s.logger.Printf("[tenant:%s] loaded from store, version=%d", id, idx.Version())
	}
	return nil
}

// Close shuts down every tenant's pipeline and bus. The Service rejects
// all calls afterwards.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	shards := make([]*tenantShard, 0, len(s.tenants))
	for _, sh := range s.tenants {
		shards = append(shards, sh)
	}
	s.mu.Unlock()

	for _, sh := range shards {
		sh.pipeline.Close()
		sh.bus.Close()
	}
}

func (s *Service) configFor(tenantID types.TenantID) config.TenantConfig {
	if s.opts.ConfigFor != nil {
		return s.opts.ConfigFor(tenantID)
	}
	return config.Default(string(tenantID))
}

func (s *Service) newShard(tenantID types.TenantID, idx *graphindex.GraphIndex) *tenantShard {
	cfg := s.configFor(tenantID)
	if idx == nil {
		idx = graphindex.New()
	}
	cache := loopcache.New()
	resolver := collection.New(cfg.Algorithm.ExpansionThreshold, 0)
	filter := dedup.NewFilter(s.opts.ExpectedLoopsPerTenant, 0)
	eng := engine.New(resolver, cache, filter, nil)
	bus := eventbus.New(0)

	var limiter *rate.Limiter
	if s.opts.MutationsPerSecond > 0 {
		burst := s.opts.MutationBurst
		if burst <= 0 {
			burst = int(s.opts.MutationsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.MutationsPerSecond), burst)
	}

	pipeline := mutation.New(idx, cache, resolver, eng, bus, cfg, s.opts.QueueDepth, limiter, s.logger)

	return &tenantShard{
		id:       tenantID,
		cfg:      cfg,
		graph:    idx,
		cache:    cache,
		resolver: resolver,
		filter:   filter,
		eng:      eng,
		bus:      bus,
		pipeline: pipeline,
	}
}

// shard returns tenantID's shard. Writes create the shard on first use;
// reads on an unknown tenant return ErrNotFound instead, so a query on
// tenant A can never observe (or create) state under tenant B's id by
// accident.
func (s *Service) shard(tenantID types.TenantID, createIfMissing bool) (*tenantShard, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("service: empty tenant id: %w", types.ErrInvalidInput)
	}

	s.mu.RLock()
	sh, ok := s.tenants[tenantID]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("service: closed: %w", types.ErrInternal)
	}
	if ok {
		return sh, nil
	}
	if !createIfMissing {
		return nil, fmt.Errorf("service: tenant %s: %w", tenantID, types.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("service: closed: %w", types.ErrInternal)
	}
	if sh, ok := s.tenants[tenantID]; ok {
		return sh, nil
	}
	sh = s.newShard(tenantID, nil)
	s.tenants[tenantID] = sh
	s.logger.Printf("[tenant:%s] created", tenantID)
	return sh, nil
}

// SubmitInventory upserts a wallet's owned NFTs under the tenant's
// serialized mutation queue.
func (s *Service) SubmitInventory(ctx context.Context, tenantID types.TenantID, walletID types.WalletID, nfts []*types.NFT, policy graphindex.MergePolicy) (engine.Result, error) {
	sh, err := s.shard(tenantID, true)
	if err != nil {
		return engine.Result{}, err
	}
	return sh.pipeline.SubmitInventory(ctx, walletID, nfts, policy)
}

// ReplaceInventory sets a wallet's owned set to exactly nfts, releasing
// (and invalidating loops over) anything absent from the list.
func (s *Service) ReplaceInventory(ctx context.Context, tenantID types.TenantID, walletID types.WalletID, nfts []*types.NFT, policy graphindex.MergePolicy) (engine.Result, error) {
	sh, err := s.shard(tenantID, true)
	if err != nil {
		return engine.Result{}, err
	}
	return sh.pipeline.ReplaceInventory(ctx, walletID, nfts, policy)
}

// SubmitWants upserts a wallet's want sets.
func (s *Service) SubmitWants(ctx context.Context, tenantID types.TenantID, walletID types.WalletID, nftIDs []types.NftID, collectionIDs []types.CollectionID) (engine.Result, error) {
	sh, err := s.shard(tenantID, true)
	if err != nil {
		return engine.Result{}, err
	}
	return sh.pipeline.SubmitWants(ctx, walletID, nftIDs, collectionIDs)
}

// RemoveEntity removes the one entity named by ref and invalidates every
// loop that depended on it.
func (s *Service) RemoveEntity(ctx context.Context, tenantID types.TenantID, ref EntityRef) (engine.Result, error) {
	sh, err := s.shard(tenantID, false)
	if err != nil {
		return engine.Result{}, err
	}
	switch {
	case ref.Wallet != "":
		return sh.pipeline.RemoveWallet(ctx, ref.Wallet)
	case ref.Nft != "":
		return sh.pipeline.RemoveNft(ctx, ref.Nft)
	case ref.Collection != "":
		return sh.pipeline.RemoveCollection(ctx, ref.Collection)
	default:
		return engine.Result{}, fmt.Errorf("service: empty entity ref: %w", types.ErrInvalidInput)
	}
}

// GraphVersion reads a tenant's current mutation version, for callers
// using the optimistic SubmitInventoryAtVersion path on the pipeline.
func (s *Service) GraphVersion(tenantID types.TenantID) (int64, error) {
	sh, err := s.shard(tenantID, false)
	if err != nil {
		return 0, err
	}
	return sh.graph.Version(), nil
}

// Subscribe attaches a push-notification subscriber to a tenant's
// new-loop and invalidation events, with the bus's bounded at-least-once
// replay semantics.
func (s *Service) Subscribe(tenantID types.TenantID, bufferSize int) (*eventbus.Subscription, error) {
	sh, err := s.shard(tenantID, true)
	if err != nil {
		return nil, err
	}
	return sh.bus.Subscribe(bufferSize), nil
}

// Discover returns trade loops for a tenant. The cache serves repeat
// reads; a cache miss for the requested scope (or
// ForceRefresh) triggers a synchronous discovery run over the current
// snapshot first.
func (s *Service) Discover(ctx context.Context, tenantID types.TenantID, req DiscoverRequest) (DiscoverResult, error) {
	if err := validateSettings(req.Settings); err != nil {
		return DiscoverResult{}, err
	}
	sh, err := s.shard(tenantID, false)
	if err != nil {
		return DiscoverResult{}, err
	}

	cfg := effectiveConfig(sh.cfg, req.Settings)

	var result DiscoverResult
	cached := sh.cachedLoops(req.Scope)
	if req.ForceRefresh || len(cached) == 0 {
		var scope []types.WalletID
		if req.Scope != "" {
			scope = []types.WalletID{req.Scope}
		}
		runCtx := ctx
		if cfg.Algorithm.TimeoutMs > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Algorithm.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		run := sh.eng.Run(runCtx, sh.graph.Snapshot(), cfg, scope)
		result.Truncated = run.Truncated
		result.Stats = run.Stats
		result.Policy = run.Policy
		cached = sh.cachedLoops(req.Scope)
	}

	if req.Mode == ModeExecutable {
		cached = sh.revalidate(cached)
	}

	loops := filterByEfficiency(cached, cfg.Algorithm.MinEfficiency)
	sort.Slice(loops, func(i, j int) bool {
		if loops[i].Score != loops[j].Score {
			return loops[i].Score > loops[j].Score
		}
		return loops[i].CanonicalID < loops[j].CanonicalID
	})
	if cfg.Algorithm.MaxResults > 0 && len(loops) > cfg.Algorithm.MaxResults {
		loops = loops[:cfg.Algorithm.MaxResults]
		result.Truncated = true
	}
	result.Loops = loops
	return result, nil
}

func (sh *tenantShard) cachedLoops(scope types.WalletID) []*types.TradeLoop {
	if scope != "" {
		return sh.cache.ByWallet(scope)
	}
	return sh.cache.All()
}

// revalidate drops (and invalidates from the cache) every loop whose
// steps no longer hold under the current graph: the giving wallet must
// still own the NFT and the receiving wallet must still want it. This is
// the executable-mode guarantee; informational reads skip it.
func (sh *tenantShard) revalidate(loops []*types.TradeLoop) []*types.TradeLoop {
	if len(loops) == 0 {
		return loops
	}
	snap := sh.graph.Snapshot()

	stale := make(map[string]struct{})
	valid := loops[:0:0]
	for _, l := range loops {
		if loopStillValid(l, snap, sh.resolver) {
			valid = append(valid, l)
		} else {
			stale[l.CanonicalID] = struct{}{}
		}
	}
	if len(stale) > 0 {
		sh.cache.Invalidate(func(l *types.TradeLoop) bool {
			_, ok := stale[l.CanonicalID]
			return ok
		})
	}
	return valid
}

func loopStillValid(l *types.TradeLoop, snap *graphindex.Snapshot, resolver *collection.Resolver) bool {
	for _, step := range l.Steps {
		owner, ok := snap.NftOwner[step.Nft]
		if !ok || owner != step.From {
			return false
		}
		if _, wants := snap.NftWanters[step.Nft][step.To]; wants {
			continue
		}
		cid, ok := resolver.CollectionOf(snap, step.Nft)
		if !ok {
			return false
		}
		if _, wants := snap.CollectionWanters[cid][step.To]; !wants {
			return false
		}
	}
	return true
}

func filterByEfficiency(loops []*types.TradeLoop, minEfficiency float64) []*types.TradeLoop {
	out := make([]*types.TradeLoop, 0, len(loops))
	for _, l := range loops {
		if l.Efficiency >= minEfficiency {
			out = append(out, l)
		}
	}
	return out
}

func validateSettings(st Settings) error {
	if st.MaxDepth != nil && *st.MaxDepth < 2 {
		return fmt.Errorf("service: maxDepth %d below minimum cycle length: %w", *st.MaxDepth, types.ErrInvalidInput)
	}
	if st.MinEfficiency != nil && (*st.MinEfficiency < 0 || *st.MinEfficiency > 1) {
		return fmt.Errorf("service: minEfficiency %v outside [0,1]: %w", *st.MinEfficiency, types.ErrInvalidInput)
	}
	if st.MaxResults != nil && *st.MaxResults < 0 {
		return fmt.Errorf("service: negative maxResults: %w", types.ErrInvalidInput)
	}
	if st.TimeoutMs != nil && *st.TimeoutMs < 0 {
		return fmt.Errorf("service: negative timeoutMs: %w", types.ErrInvalidInput)
	}
	return nil
}

func effectiveConfig(base config.TenantConfig, st Settings) config.TenantConfig {
	cfg := base
	if st.MaxDepth != nil {
		cfg.Algorithm.MaxDepth = *st.MaxDepth
	}
	if st.MinEfficiency != nil {
		cfg.Algorithm.MinEfficiency = *st.MinEfficiency
	}
	if st.MaxResults != nil {
		cfg.Algorithm.MaxResults = *st.MaxResults
	}
	if st.TimeoutMs != nil {
		cfg.Algorithm.TimeoutMs = *st.TimeoutMs
	}
	if st.ConsiderCollections != nil {
		cfg.Algorithm.EnableCollectionExpansion = *st.ConsiderCollections
	}
	return cfg
}
