// Package mutation serializes every write to one tenant's graph through
// a single queue, so GraphIndex mutation, invalidation and incremental
// rediscovery happen in a fixed, linearizable order per tenant: one
// goroutine drains a channel of jobs in submission order.
package mutation

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/outblock/swaps-core/internal/collection"
	"github.com/outblock/swaps-core/internal/config"
	"github.com/outblock/swaps-core/internal/engine"
	"github.com/outblock/swaps-core/internal/eventbus"
	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/loopcache"
	"github.com/outblock/swaps-core/internal/types"
	"github.com/outblock/swaps-core/internal/unifiedgraph"
)

// Kind discriminates the mutation job shapes the pipeline accepts.
type Kind int

const (
	KindUpsertInventory Kind = iota
	KindUpsertWants
	KindRemoveWallet
	KindRemoveNft
	KindRemoveCollection
)

func (k Kind) String() string {
	switch k {
	case KindUpsertInventory:
		return "upsert-inventory"
	case KindUpsertWants:
		return "upsert-wants"
	case KindRemoveWallet:
		return "remove-wallet"
	case KindRemoveNft:
		return "remove-nft"
	case KindRemoveCollection:
		return "remove-collection"
	default:
		return "unknown"
	}
}

// job is one unit of serialized work.
type job struct {
	id   string
	kind Kind

	walletID    types.WalletID
	nfts        []*types.NFT
	mergePolicy graphindex.MergePolicy
	replace     bool

	wantNfts        []types.NftID
	wantCollections []types.CollectionID

	nftID        types.NftID
	collectionID types.CollectionID

	// expectVersion < 0 means unconditional; otherwise the job is
	// rejected with ErrConflict unless the graph's mutation version still
	// equals it when the job reaches the front of the queue.
	expectVersion int64

	result chan jobResult
}

type jobResult struct {
	engine engine.Result
	err    error
}

// Pipeline is one tenant's serialized mutation queue. Submissions are
// first gated by a token-bucket rate.Limiter admission check, then
// enqueued on a bounded channel drained by a single goroutine, so
// GraphIndex never sees concurrent writers.
type Pipeline struct {
	graph    *graphindex.GraphIndex
	cache    *loopcache.Cache
	resolver *collection.Resolver
	eng      *engine.DiscoveryEngine
	bus      *eventbus.Bus
	cfg      config.TenantConfig

	limiter *rate.Limiter
	logger  *log.Logger
	queue   chan *job
	done    chan struct{}
}

// New starts a Pipeline's consumer goroutine. queueDepth <= 0 uses a
// default of 256. limiter may be nil to admit every submission; logger
// may be nil to discard the per-job log lines.
func New(graph *graphindex.GraphIndex, cache *loopcache.Cache, resolver *collection.Resolver, eng *engine.DiscoveryEngine, bus *eventbus.Bus, cfg config.TenantConfig, queueDepth int, limiter *rate.Limiter, logger *log.Logger) *Pipeline {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Pipeline{
		graph:    graph,
		cache:    cache,
		resolver: resolver,
		eng:      eng,
		bus:      bus,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
		queue:    make(chan *job, queueDepth),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

// Close stops accepting new work and waits for the queue to drain.
func (p *Pipeline) Close() {
	close(p.queue)
	<-p.done
}

func (p *Pipeline) loop() {
	defer close(p.done)
	for j := range p.queue {
		j.result <- p.apply(j)
	}
}

// admit applies the backpressure check; a nil limiter always admits.
func (p *Pipeline) admit() error {
	if p.limiter == nil {
		return nil
	}
	if !p.limiter.Allow() {
		return fmt.Errorf("mutation pipeline: admission rejected: %w", types.ErrBackpressure)
	}
	return nil
}

func (p *Pipeline) submit(ctx context.Context, j *job) (engine.Result, error) {
	if err := p.admit(); err != nil {
		return engine.Result{}, err
	}
	j.id = uuid.NewString()
	j.result = make(chan jobResult, 1)

	select {
	case p.queue <- j:
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	default:
		return engine.Result{}, fmt.Errorf("mutation pipeline: queue full: %w", types.ErrBackpressure)
	}

	select {
	case r := <-j.result:
		return r.engine, r.err
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
}

// SubmitInventory upserts a wallet's owned NFTs and triggers incremental
// rediscovery scoped to the affected wallets.
func (p *Pipeline) SubmitInventory(ctx context.Context, walletID types.WalletID, nfts []*types.NFT, policy graphindex.MergePolicy) (engine.Result, error) {
	return p.submit(ctx, &job{kind: KindUpsertInventory, walletID: walletID, nfts: nfts, mergePolicy: policy, expectVersion: -1})
}

// SubmitInventoryAtVersion is SubmitInventory with an optimistic
// precondition: the upsert only applies if the graph's mutation version
// still equals version when this job is dequeued; otherwise ErrConflict
// is returned and the caller re-reads and retries. Pair with
// GraphVersion.
func (p *Pipeline) SubmitInventoryAtVersion(ctx context.Context, version int64, walletID types.WalletID, nfts []*types.NFT, policy graphindex.MergePolicy) (engine.Result, error) {
	return p.submit(ctx, &job{kind: KindUpsertInventory, walletID: walletID, nfts: nfts, mergePolicy: policy, expectVersion: version})
}

// ReplaceInventory sets a wallet's owned set to exactly nfts, releasing
// anything it owned that is absent from the list, and invalidates loops
// that traded the released NFTs.
func (p *Pipeline) ReplaceInventory(ctx context.Context, walletID types.WalletID, nfts []*types.NFT, policy graphindex.MergePolicy) (engine.Result, error) {
	return p.submit(ctx, &job{kind: KindUpsertInventory, walletID: walletID, nfts: nfts, mergePolicy: policy, replace: true, expectVersion: -1})
}

// SubmitWants upserts a wallet's want sets and triggers incremental
// rediscovery.
func (p *Pipeline) SubmitWants(ctx context.Context, walletID types.WalletID, nftIDs []types.NftID, collectionIDs []types.CollectionID) (engine.Result, error) {
	return p.submit(ctx, &job{kind: KindUpsertWants, walletID: walletID, wantNfts: nftIDs, wantCollections: collectionIDs, expectVersion: -1})
}

// SubmitWantsAtVersion is SubmitWants with the same optimistic
// precondition as SubmitInventoryAtVersion.
func (p *Pipeline) SubmitWantsAtVersion(ctx context.Context, version int64, walletID types.WalletID, nftIDs []types.NftID, collectionIDs []types.CollectionID) (engine.Result, error) {
	return p.submit(ctx, &job{kind: KindUpsertWants, walletID: walletID, wantNfts: nftIDs, wantCollections: collectionIDs, expectVersion: version})
}

// GraphVersion reads the tenant graph's current mutation version, the
// token SubmitInventoryAtVersion/SubmitWantsAtVersion check against.
func (p *Pipeline) GraphVersion() int64 {
	return p.graph.Version()
}

// RemoveWallet deletes a wallet and invalidates every loop that depended
// on it.
func (p *Pipeline) RemoveWallet(ctx context.Context, walletID types.WalletID) (engine.Result, error) {
	return p.submit(ctx, &job{kind: KindRemoveWallet, walletID: walletID, expectVersion: -1})
}

// RemoveNft deletes an NFT and invalidates every loop that depended on
// it.
func (p *Pipeline) RemoveNft(ctx context.Context, nftID types.NftID) (engine.Result, error) {
	return p.submit(ctx, &job{kind: KindRemoveNft, nftID: nftID, expectVersion: -1})
}

// RemoveCollection deletes a collection and invalidates every loop that
// depended on a want routed through it.
func (p *Pipeline) RemoveCollection(ctx context.Context, collectionID types.CollectionID) (engine.Result, error) {
	return p.submit(ctx, &job{kind: KindRemoveCollection, collectionID: collectionID, expectVersion: -1})
}

// apply runs on the single consumer goroutine: mutate GraphIndex,
// invalidate dependent loops (scoped to exactly what the delta names,
// never the whole wallet's full loop set), then run incremental
// rediscovery and publish both kinds of event.
func (p *Pipeline) apply(j *job) jobResult {
	if j.expectVersion >= 0 {
		if current := p.graph.Version(); current != j.expectVersion {
			p.logger.Printf("[mutation:%s] %s rejected: graph at version %d, expected %d", j.id, j.kind, current, j.expectVersion)
			return jobResult{err: fmt.Errorf("mutation pipeline: graph at version %d, expected %d: %w", current, j.expectVersion, types.ErrConflict)}
		}
	}

	var invalidated []string

	switch j.kind {
	case KindUpsertInventory:
		var delta graphindex.InventoryDelta
		var err error
		if j.replace {
			delta, err = p.graph.ReplaceInventory(j.walletID, j.nfts, j.mergePolicy)
		} else {
			delta, err = p.graph.UpsertInventory(j.walletID, j.nfts, j.mergePolicy)
		}
		if err != nil {
			return p.failed(j, err)
		}
		for _, nft := range delta.Moved {
			invalidated = append(invalidated, p.cache.InvalidateNft(nft)...)
			p.resolver.InvalidateNft(nft)
		}
		for _, nft := range delta.Removed {
			invalidated = append(invalidated, p.cache.InvalidateNft(nft)...)
			p.resolver.InvalidateNft(nft)
		}
		// Added NFTs can supersede a memoized "no collection" entry from
		// an earlier lookup on the then-unknown id.
		for _, nft := range delta.Added {
			p.resolver.InvalidateNft(nft)
		}

	case KindUpsertWants:
		delta, err := p.graph.UpsertWants(j.walletID, j.wantNfts, j.wantCollections)
		if err != nil {
			return p.failed(j, err)
		}
		// A new collection want changes that collection's wanter set; drop
		// the memoized entry so the next discovery run sees the wallet.
		for _, cid := range delta.AddedCollections {
			p.resolver.Invalidate(cid)
		}

	case KindRemoveWallet:
		delta, err := p.graph.RemoveWallet(j.walletID)
		if err != nil {
			return p.failed(j, err)
		}
		invalidated = append(invalidated, p.cache.InvalidateWallet(j.walletID)...)
		for _, nft := range delta.Nfts {
			p.resolver.InvalidateNft(nft)
		}
		for _, cid := range delta.Collections {
			p.resolver.Invalidate(cid)
		}

	case KindRemoveNft:
		if _, err := p.graph.RemoveNft(j.nftID); err != nil {
			return p.failed(j, err)
		}
		invalidated = append(invalidated, p.cache.InvalidateNft(j.nftID)...)
		p.resolver.InvalidateNft(j.nftID)

	case KindRemoveCollection:
		if _, err := p.graph.RemoveCollection(j.collectionID); err != nil {
			return p.failed(j, err)
		}
		p.resolver.Invalidate(j.collectionID)
		// A loop's step only records the resolved (from, to, nft) triple,
		// not whether "to" wanted it specifically or via this collection,
		// so there's no cheap delta here. Fall back to revalidating every
		// active loop's steps against the post-removal graph; rare enough
		// an operation that the O(loops) scan is acceptable.
		invalidated = append(invalidated, p.revalidateAgainst(p.graph.Snapshot())...)
	}

	now := time.Now()
	if len(invalidated) > 0 {
		p.bus.PublishInvalidation(invalidated, now)
	}

	scope := p.affectedWallets(j)
	snap := p.graph.Snapshot()
	// Rediscovery runs under a background context on purpose: once a
	// mutation has been applied, its incremental rediscovery must finish
	// even if the submitting caller has gone away, or the cache would
	// lag the graph.
	result := p.eng.Run(context.Background(), snap, p.cfg, scope)
	for _, loop := range result.NewLoops {
		p.bus.PublishNewLoop(loop, now)
	}

	p.logger.Printf("[mutation:%s] %s applied at version %d: %d loops invalidated, %d discovered",
		j.id, j.kind, snap.Version, len(invalidated), len(result.NewLoops))

	return jobResult{engine: result}
}

// failed logs a rejected job with its id and passes the error through.
func (p *Pipeline) failed(j *job, err error) jobResult {
	p.logger.Printf("[mutation:%s] %s failed: %v", j.id, j.kind, err)
	return jobResult{err: err}
}

// affectedWallets names the wallets a mutation's incremental rediscovery
// should be scoped around.
func (p *Pipeline) affectedWallets(j *job) []types.WalletID {
	switch j.kind {
	case KindUpsertInventory, KindUpsertWants, KindRemoveWallet:
		return []types.WalletID{j.walletID}
	default:
		return nil // nft/collection removal can touch many wallets; run unscoped
	}
}

// revalidateAgainst scans every active loop and invalidates the ones
// whose steps no longer hold under snap: the "from" wallet must still
// own the nft, and the "to" wallet must still want it (specifically or
// via collection).
func (p *Pipeline) revalidateAgainst(snap *graphindex.Snapshot) []string {
	ug := unifiedgraph.New(snap, p.resolver, p.cfg.Algorithm.EnableCollectionExpansion)

	return p.cache.Invalidate(func(l *types.TradeLoop) bool {
		for _, s := range l.Steps {
			owner, owns := ug.OwnerOf(s.Nft)
			if !owns || owner != s.From {
				return true
			}
			if _, wants := ug.Wanters(s.Nft)[s.To]; !wants {
				return true
			}
		}
		return false
	})
}
