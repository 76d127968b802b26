// Package community shards very large wallet graphs into communities
// before SCC/Johnson, using Louvain modularity optimization. This
// trades completeness (a cycle spanning two
// communities is lost) for latency on graphs too large to run
// exhaustive enumeration over directly; it is only ever invoked above
// partitionThreshold.
package community

import (
	"math/rand"
	"sort"

	gonumCommunity "gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/outblock/swaps-core/internal/types"
	"github.com/outblock/swaps-core/internal/unifiedgraph"
)

// DefaultThreshold is the wallet count above which partitioning engages.
const DefaultThreshold = 1000

// DefaultSequentialCeiling is the community size below which communities
// are processed sequentially rather than handed to a parallel worker.
const DefaultSequentialCeiling = 50

type walletNode int64

func (n walletNode) ID() int64 { return int64(n) }

// Partition splits the wallet-level projection into communities. The
// resolution parameter follows gonum's community.Modularize signature
// (1.0 is the standard Louvain resolution); callers rarely need to
// change it.
func Partition(ug *unifiedgraph.Graph, resolution float64) [][]types.WalletID {
	wallets := ug.Wallets()
	if len(wallets) == 0 {
		return nil
	}

	idxOf := make(map[types.WalletID]int64, len(wallets))
	walletOf := make(map[int64]types.WalletID, len(wallets))
	for i, w := range wallets {
		idxOf[w] = int64(i)
		walletOf[int64(i)] = w
	}

	g := simple.NewUndirectedGraph()
	for _, w := range wallets {
		g.AddNode(walletNode(idxOf[w]))
	}
	proj := ug.Projection()
	for from, edges := range proj {
		for to := range edges {
			fa, tb := idxOf[from], idxOf[to]
			if fa == tb {
				continue
			}
			if g.HasEdgeBetween(fa, tb) {
				continue
			}
			g.SetEdge(simple.Edge{F: walletNode(fa), T: walletNode(tb)})
		}
	}

	if resolution <= 0 {
		resolution = 1.0
	}
	reduced := gonumCommunity.Modularize(g, resolution, rand.New(rand.NewSource(1)))

	groups := reduced.Communities()
	out := make([][]types.WalletID, 0, len(groups))
	for _, grp := range groups {
		ids := make([]types.WalletID, 0, len(grp))
		for _, n := range grp {
			ids = append(ids, walletOf[n.ID()])
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) == 0 || len(out[j]) == 0 {
			return len(out[i]) < len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}
