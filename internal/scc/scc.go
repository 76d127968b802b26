// Package scc finds strongly connected components of the wallet-level
// want graph using Tarjan's algorithm, via gonum's graph/topo package.
package scc

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/outblock/swaps-core/internal/types"
	"github.com/outblock/swaps-core/internal/unifiedgraph"
)

// Result is the output of one SCC run: components in reverse-topological
// order, each a sorted slice of wallet ids, plus whether the run hit its
// deadline before finishing.
type Result struct {
	Components [][]types.WalletID
	Truncated  bool
}

// Options bounds one SCC run.
type Options struct {
	Deadline time.Time // zero means no deadline
	Prune    bool      // drop zero in/out-degree wallets before running Tarjan
}

// walletNode adapts a WalletID into a gonum graph.Node via a stable
// integer index assigned at graph-construction time (mirrors the
// tokenToIndex/poolToIndex lookup-map pattern used for fast id→index
// mapping in pool-graph style adjacency builders).
type walletNode int64

func (n walletNode) ID() int64 { return int64(n) }

// Find partitions g's wallet-level projection into SCCs. Deterministic:
// nodes are inserted in sorted wallet-id order, and each returned
// component's wallet ids are themselves sorted, so repeated runs over
// unchanged input produce identical output.
func Find(ug *unifiedgraph.Graph, opts Options) Result {
	wallets := ug.Wallets()

	if opts.Prune {
		wallets = pruneZeroDegree(ug, wallets)
	}

	idxOf := make(map[types.WalletID]int64, len(wallets))
	walletOf := make(map[int64]types.WalletID, len(wallets))
	for i, w := range wallets {
		idxOf[w] = int64(i)
		walletOf[int64(i)] = w
	}

	dg := simple.NewDirectedGraph()
	for _, w := range wallets {
		dg.AddNode(walletNode(idxOf[w]))
	}

	truncated := false
	for _, from := range wallets {
		if !opts.Deadline.IsZero() && time.Now().After(opts.Deadline) {
			truncated = true
			break
		}
		for to := range ug.WalletEdges(from) {
			toIdx, ok := idxOf[to]
			if !ok {
				continue // pruned away
			}
			fromIdx := idxOf[from]
			if !dg.HasEdgeFromTo(fromIdx, toIdx) {
				dg.SetEdge(simple.Edge{F: walletNode(fromIdx), T: walletNode(toIdx)})
			}
		}
	}

	components := topo.TarjanSCC(dg)

	comps := make([][]types.WalletID, 0, len(components))
	compOf := make(map[types.WalletID]int, len(wallets))
	for _, comp := range components {
		ids := make([]types.WalletID, 0, len(comp))
		for _, n := range comp {
			ids = append(ids, walletOf[n.ID()])
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			compOf[id] = len(comps)
		}
		comps = append(comps, ids)
	}

	return Result{Components: reverseTopological(ug, comps, compOf), Truncated: truncated}
}

// reverseTopological orders the components so that every component
// precedes the components with edges into it (sinks of the condensation
// first). gonum's Tarjan emits such an order too, but its node
// iteration is map-driven, so ties between incomparable components come
// out differently run to run; a Kahn pass over the condensation with a
// smallest-member tie-break makes the full ordering a stable function
// of input order.
func reverseTopological(ug *unifiedgraph.Graph, comps [][]types.WalletID, compOf map[types.WalletID]int) [][]types.WalletID {
	n := len(comps)
	if n < 2 {
		return comps
	}

	succs := make([]map[int]struct{}, n)
	indegree := make([]int, n)
	for _, members := range comps {
		for _, from := range members {
			for to := range ug.WalletEdges(from) {
				cj, ok := compOf[to]
				if !ok {
					continue // pruned away
				}
				ci := compOf[from]
				if ci == cj {
					continue
				}
				if succs[ci] == nil {
					succs[ci] = make(map[int]struct{})
				}
				if _, seen := succs[ci][cj]; !seen {
					succs[ci][cj] = struct{}{}
					indegree[cj]++
				}
			}
		}
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		// Pick the ready component with the smallest member id so the
		// order is deterministic regardless of discovery order.
		best := 0
		for i := 1; i < len(ready); i++ {
			if comps[ready[i]][0] < comps[ready[best]][0] {
				best = i
			}
		}
		c := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, c)
		for next := range succs[c] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	out := make([][]types.WalletID, 0, n)
	for i := len(order) - 1; i >= 0; i-- {
		out = append(out, comps[order[i]])
	}
	return out
}

// pruneZeroDegree drops wallets with no outgoing or incoming edges in
// the projection; they can never participate in a cycle.
func pruneZeroDegree(ug *unifiedgraph.Graph, wallets []types.WalletID) []types.WalletID {
	proj := ug.Projection()
	inDegree := make(map[types.WalletID]int, len(wallets))
	for _, edges := range proj {
		for to := range edges {
			inDegree[to]++
		}
	}

	kept := wallets[:0:0]
	for _, w := range wallets {
		if len(proj[w]) > 0 && inDegree[w] > 0 {
			kept = append(kept, w)
		}
	}
	return kept
}

var _ graph.Directed = (*simple.DirectedGraph)(nil)
