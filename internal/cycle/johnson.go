// Package cycle enumerates elementary cycles within one strongly
// connected component using Johnson's algorithm. gonum's graph/topo
// stops at SCC/topological-sort/cyclic checks, so the enumeration
// itself is implemented here.
package cycle

import (
	"sort"
	"time"

	"github.com/outblock/swaps-core/internal/types"
	"github.com/outblock/swaps-core/internal/unifiedgraph"
)

// Options bounds one enumeration run over a single SCC.
type Options struct {
	MaxDepth       int // maximum cycle length (participant count)
	MaxLoopsPerSCC int // 0 means unbounded
	Deadline       time.Time
}

// Result holds the raw wallet cycles found in one SCC and whether the
// run stopped early.
type Result struct {
	Cycles    [][]types.WalletID // each cycle starts at its lexicographically smallest wallet
	Truncated bool
}

// enumerator holds the mutable state of one Johnson run over a fixed
// vertex set (a single SCC, indexed locally).
type enumerator struct {
	adj      [][]int // adjacency restricted to the current least-vertex subgraph
	n        int
	blocked  []bool
	blockMap [][]int // B sets, indexed by vertex
	stack    []int

	maxDepth  int
	maxLoops  int
	deadline  time.Time
	truncated bool

	cycles [][]int
}

// Enumerate finds elementary cycles among the given SCC members (which
// must all belong to the same strongly connected component of ug's
// wallet-level projection). Cycles are emitted starting from the
// lexicographically smallest participating wallet id, so downstream
// dedup sees a canonical rotation.
func Enumerate(ug *unifiedgraph.Graph, scc []types.WalletID, opts Options) Result {
	if len(scc) < 2 {
		return Result{}
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 10
	}

	members := append([]types.WalletID(nil), scc...)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	idxOf := make(map[types.WalletID]int, len(members))
	for i, w := range members {
		idxOf[w] = i
	}

	fullAdj := make([][]int, len(members))
	memberSet := make(map[types.WalletID]struct{}, len(members))
	for _, w := range members {
		memberSet[w] = struct{}{}
	}
	for _, from := range members {
		for to := range ug.WalletEdges(from) {
			if _, ok := memberSet[to]; !ok {
				continue
			}
			fullAdj[idxOf[from]] = append(fullAdj[idxOf[from]], idxOf[to])
		}
	}
	for i := range fullAdj {
		sort.Ints(fullAdj[i])
	}

	e := &enumerator{
		n:        len(members),
		maxDepth: opts.MaxDepth,
		maxLoops: opts.MaxLoopsPerSCC,
		deadline: opts.Deadline,
	}

	// Johnson's outer loop: progressively remove the least vertex and
	// recompute the SCCs of the remaining induced subgraph, since
	// removing a vertex can split the component further.
	for least := 0; least < e.n; least++ {
		if e.deadlineExceeded() || e.loopCapReached() {
			e.truncated = true
			break
		}

		sub := inducedSCCContaining(fullAdj, least, e.n)
		if len(sub) < 2 {
			continue
		}

		e.blocked = make([]bool, e.n)
		e.blockMap = make([][]int, e.n)
		e.stack = e.stack[:0]
		e.adj = restrict(fullAdj, sub)

		e.circuit(least, least)
	}

	out := make([][]types.WalletID, 0, len(e.cycles))
	for _, c := range e.cycles {
		wallets := make([]types.WalletID, len(c))
		for i, idx := range c {
			wallets[i] = members[idx]
		}
		out = append(out, wallets)
	}

	return Result{Cycles: out, Truncated: e.truncated}
}

func (e *enumerator) deadlineExceeded() bool {
	return !e.deadline.IsZero() && time.Now().After(e.deadline)
}

func (e *enumerator) loopCapReached() bool {
	return e.maxLoops > 0 && len(e.cycles) >= e.maxLoops
}

// circuit is the recursive core of Johnson's algorithm: depth-first
// search from v looking for a path back to s, with a blocked-set to
// avoid revisiting unproductive vertices until a cycle is found through
// them.
func (e *enumerator) circuit(v, s int) bool {
	if e.deadlineExceeded() || e.loopCapReached() {
		e.truncated = true
		return false
	}
	if len(e.stack)+1 > e.maxDepth {
		return false
	}

	found := false
	e.stack = append(e.stack, v)
	e.blocked[v] = true

	for _, w := range e.adj[v] {
		if e.deadlineExceeded() || e.loopCapReached() {
			e.truncated = true
			break
		}
		if w == s {
			cyc := make([]int, len(e.stack))
			copy(cyc, e.stack)
			e.cycles = append(e.cycles, cyc)
			found = true
		} else if !e.blocked[w] {
			if e.circuit(w, s) {
				found = true
			}
		}
	}

	if found {
		e.unblock(v)
	} else {
		for _, w := range e.adj[v] {
			if !contains(e.blockMap[w], v) {
				e.blockMap[w] = append(e.blockMap[w], v)
			}
		}
	}

	e.stack = e.stack[:len(e.stack)-1]
	return found
}

func (e *enumerator) unblock(v int) {
	e.blocked[v] = false
	bset := e.blockMap[v]
	e.blockMap[v] = nil
	for _, w := range bset {
		if e.blocked[w] {
			e.unblock(w)
		}
	}
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// inducedSCCContaining computes the strongly connected component
// containing `least`, within the subgraph induced by vertices whose
// index is >= least (Johnson's "least vertex" restriction). It uses a
// small recursive Tarjan implementation local to this index space,
// since pulling in gonum here would mean rebuilding a gonum graph on
// every outer-loop iteration, which is pure overhead for a subgraph this
// small.
func inducedSCCContaining(adj [][]int, least, n int) []int {
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	counter := 0
	var sccOfLeast []int

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if w < least {
				continue
			}
			if index[w] == -1 {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			for _, m := range comp {
				if m == least {
					sccOfLeast = comp
				}
			}
		}
	}

	strongconnect(least)
	return sccOfLeast
}

// restrict returns an adjacency list containing only edges between
// members of sub, keeping the original index space (sub indices are
// already global to this enumerator's member set); edges to vertices
// outside sub are dropped.
func restrict(adj [][]int, sub []int) [][]int {
	inSub := make(map[int]struct{}, len(sub))
	for _, v := range sub {
		inSub[v] = struct{}{}
	}
	out := make([][]int, len(adj))
	for v := range adj {
		if _, ok := inSub[v]; !ok {
			continue
		}
		for _, w := range adj[v] {
			if _, ok := inSub[w]; ok {
				out[v] = append(out[v], w)
			}
		}
	}
	return out
}
