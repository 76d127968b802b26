// Package engine assembles the collection resolver, unified trade
// graph, SCC finder, cycle enumerator, community partitioner, deduper
// and scorer into one discovery run.
package engine

import "time"

// Policy selects which algorithmic path a discovery run takes, as a
// deterministic function of graph size and recent run timing. It is
// observable and injectable so tests can force a specific path without
// needing to construct a graph large enough to trigger it naturally.
type Policy int

const (
	// PolicyFull runs SCC + Johnson over the whole tenant graph: exact,
	// used while the graph is small enough to stay within budget.
	PolicyFull Policy = iota
	// PolicyPartitioned shards the graph into Louvain communities first,
	// running SCC + Johnson within each community independently. Exact
	// within a community, incomplete across community boundaries.
	PolicyPartitioned
	// PolicySampled falls back to bounded random-walk cycle sampling when
	// even partitioned exact enumeration would exceed the time budget.
	// Neither exact nor exhaustive: a best-effort path for graphs beyond
	// what either exact mode can finish in time.
	PolicySampled
)

func (p Policy) String() string {
	switch p {
	case PolicyFull:
		return "full"
	case PolicyPartitioned:
		return "partitioned"
	case PolicySampled:
		return "sampled"
	default:
		return "unknown"
	}
}

// PolicyInputs is the observed state a Selector chooses from.
type PolicyInputs struct {
	WalletCount     int
	EdgeCount       int
	LastRunDuration time.Duration
}

// Selector chooses a Policy for the next run. DefaultSelector applies
// size/timing thresholds; tests can substitute their own Selector to
// force a specific path.
type Selector interface {
	Select(PolicyInputs) Policy
}

// Thresholds configures DefaultSelector.
type Thresholds struct {
	PartitionWalletCount int           // above this, partition before SCC/Johnson
	SampledWalletCount   int           // above this, skip exact enumeration entirely
	SlowRunDuration      time.Duration // a prior run this slow also forces partitioning
}

// DefaultThresholds matches the default partition threshold, plus a
// sampled-fallback ceiling fifty times above it and a
// run-duration escalation trigger.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PartitionWalletCount: 1000,
		SampledWalletCount:   50000,
		SlowRunDuration:      10 * time.Second,
	}
}

// DefaultSelector implements Selector using Thresholds.
type DefaultSelector struct {
	Thresholds Thresholds
}

// NewDefaultSelector returns a DefaultSelector using DefaultThresholds.
func NewDefaultSelector() *DefaultSelector {
	return &DefaultSelector{Thresholds: DefaultThresholds()}
}

// Select implements Selector.
func (s *DefaultSelector) Select(in PolicyInputs) Policy {
	t := s.Thresholds
	if in.WalletCount > t.SampledWalletCount {
		return PolicySampled
	}
	if in.WalletCount > t.PartitionWalletCount {
		return PolicyPartitioned
	}
	if t.SlowRunDuration > 0 && in.LastRunDuration > t.SlowRunDuration {
		return PolicyPartitioned
	}
	return PolicyFull
}
