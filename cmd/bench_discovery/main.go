// bench_discovery drives the core discovery pipeline through the
// in-process service API against a synthetic multi-tenant graph,
// entirely in memory, and prints timing/throughput stats: a table of
// scenarios, each timed and reported independently, with no HTTP
// surface involved.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/service"
	"github.com/outblock/swaps-core/internal/types"
)

type scenario struct {
	name      string
	tenants   int
	ringSize  int
	ringCount int
}

func main() {
	ctx := context.Background()

	scenarios := []scenario{
		{"small-rings", 1, 3, 20},
		{"medium-rings", 1, 6, 50},
		{"large-rings", 1, 10, 200},
		{"multi-tenant", 8, 5, 25},
		{"single-giant-ring", 1, 500, 1},
	}

	for _, sc := range scenarios {
		fmt.Printf("\n========== %s (tenants=%d ringSize=%d count=%d) ==========\n",
			sc.name, sc.tenants, sc.ringSize, sc.ringCount)
		runScenario(ctx, sc)
	}
}

func runScenario(ctx context.Context, sc scenario) {
	svc := service.New(service.Options{
		Logger: log.New(os.Stderr, "", 0),
	})
	defer svc.Close()

	t0 := time.Now()
	var inventoryOps, wantOps int
	for tn := 0; tn < sc.tenants; tn++ {
		tenant := types.TenantID(fmt.Sprintf("bench-%d", tn))
		for r := 0; r < sc.ringCount; r++ {
			wallets := make([]types.WalletID, sc.ringSize)
			nfts := make([]types.NftID, sc.ringSize)
			for i := 0; i < sc.ringSize; i++ {
				wallets[i] = types.WalletID(fmt.Sprintf("r%d-w%d", r, i))
				nfts[i] = types.NftID(fmt.Sprintf("r%d-n%d", r, i))
			}
			for i, w := range wallets {
				if _, err := svc.SubmitInventory(ctx, tenant, w, []*types.NFT{{ID: nfts[i]}}, graphindex.MergeStrict); err != nil {
					log.Fatalf("submit inventory: %v", err)
				}
				inventoryOps++
			}
			for i, w := range wallets {
				prev := (i - 1 + sc.ringSize) % sc.ringSize
				if _, err := svc.SubmitWants(ctx, tenant, w, []types.NftID{nfts[prev]}, nil); err != nil {
					log.Fatalf("submit wants: %v", err)
				}
				wantOps++
			}
		}
	}
	buildElapsed := time.Since(t0)
	fmt.Printf("  build: %d inventory ops, %d want ops in %v (%.0f ops/s)\n",
		inventoryOps, wantOps, buildElapsed, float64(inventoryOps+wantOps)/buildElapsed.Seconds())

	var totalLoops int
	t1 := time.Now()
	for tn := 0; tn < sc.tenants; tn++ {
		tenant := types.TenantID(fmt.Sprintf("bench-%d", tn))
		res, err := svc.Discover(ctx, tenant, service.DiscoverRequest{ForceRefresh: true})
		if err != nil {
			log.Fatalf("discover: %v", err)
		}
		totalLoops += len(res.Loops)
		if tn == 0 {
			fmt.Printf("  policy=%v wallets=%d edges=%d rawCycles=%d truncated=%v\n",
				res.Policy, res.Stats.WalletCount, res.Stats.EdgeCount, res.Stats.RawCycles, res.Truncated)
		}
	}
	fullRunElapsed := time.Since(t1)
	fmt.Printf("  full rediscovery pass: %v, %d active loops across %d tenant(s)\n",
		fullRunElapsed, totalLoops, sc.tenants)
}
