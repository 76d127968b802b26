// Package types holds the closed data model shared by every SWAPS core
// component: wallets, NFTs, collections, trade steps and loops, and the
// sum types used to resolve specific-vs-collection wants.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletID, NftID and CollectionID are opaque per-tenant identifiers.
// They are plain strings rather than wrapped types so callers can use
// map keys directly; algorithms never dereference them.
type WalletID string
type NftID string
type CollectionID string
type TenantID string

// NFT is advisory: EstimatedValue/Currency may be absent, in which case
// the Scorer treats the loop's valuation as incomplete rather than
// failing.
type NFT struct {
	ID             NftID
	CollectionID   CollectionID // empty if the NFT does not belong to a collection
	EstimatedValue decimal.Decimal
	HasValue       bool // false means EstimatedValue is unknown, not zero
	Currency       string
}

// Collection tracks only what the resolver needs to make an
// eager-vs-lazy expansion decision.
type Collection struct {
	ID   CollectionID
	Size int
}

// Wallet is the per-tenant owner of NFTs and holder of wants. All three
// sets are keyed by ID for O(1) membership tests.
type Wallet struct {
	ID                WalletID
	Owned             map[NftID]struct{}
	WantedNfts        map[NftID]struct{}
	WantedCollections map[CollectionID]struct{}
}

// NewWallet returns an empty wallet ready for use.
func NewWallet(id WalletID) *Wallet {
	return &Wallet{
		ID:                id,
		Owned:             make(map[NftID]struct{}),
		WantedNfts:        make(map[NftID]struct{}),
		WantedCollections: make(map[CollectionID]struct{}),
	}
}

// Clone returns a deep copy, used when GraphIndex hands out a snapshot.
func (w *Wallet) Clone() *Wallet {
	c := &Wallet{
		ID:                w.ID,
		Owned:             make(map[NftID]struct{}, len(w.Owned)),
		WantedNfts:        make(map[NftID]struct{}, len(w.WantedNfts)),
		WantedCollections: make(map[CollectionID]struct{}, len(w.WantedCollections)),
	}
	for k := range w.Owned {
		c.Owned[k] = struct{}{}
	}
	for k := range w.WantedNfts {
		c.WantedNfts[k] = struct{}{}
	}
	for k := range w.WantedCollections {
		c.WantedCollections[k] = struct{}{}
	}
	return c
}

// WantKind distinguishes a specific-NFT want from a collection want.
type WantKind int

const (
	WantSpecificNft WantKind = iota
	WantAnyOfCollection
)

// Want is the boundary-facing sum type: exactly one of Nft/Collection is
// meaningful, selected by Kind.
type Want struct {
	Kind       WantKind
	Nft        NftID
	Collection CollectionID
}

// EdgeKind mirrors WantKind for resolved graph edges.
type EdgeKind int

const (
	EdgeSpecific EdgeKind = iota
	EdgeCollection
)

// Edge is a resolved wallet-to-wallet want relation: From owns (or could
// own) an NFT that To wants, either specifically or via collection.
type Edge struct {
	Kind       EdgeKind
	From       WalletID
	To         WalletID
	Nft        NftID        // set when Kind == EdgeSpecific
	Collection CollectionID // set when Kind == EdgeCollection
}

// TradeStep is one leg of a TradeLoop: From gives Nft to To.
type TradeStep struct {
	From WalletID
	To   WalletID
	Nft  NftID
}

// TradeLoop is a closed, scored, deduplicated cycle of TradeSteps: every
// participant gives exactly one NFT and receives exactly one, and
// consecutive steps chain from == previous to.
type TradeLoop struct {
	CanonicalID         string
	Steps               []TradeStep
	Participants        map[WalletID]struct{}
	Score               float64
	Efficiency          float64
	ValuationIncomplete bool
	CreatedAt           time.Time
	Version             int64
}

// NewTradeLoop builds a TradeLoop from an ordered, already-closed step
// sequence. It does not score or canonicalize; callers (the dedup and
// scoring stages) do that explicitly so each stage stays independently
// testable.
func NewTradeLoop(steps []TradeStep) *TradeLoop {
	participants := make(map[WalletID]struct{}, len(steps))
	for _, s := range steps {
		participants[s.From] = struct{}{}
	}
	return &TradeLoop{
		Steps:        steps,
		Participants: participants,
		CreatedAt:    time.Now(),
	}
}

// Size returns the number of participants/steps in the loop.
func (l *TradeLoop) Size() int {
	return len(l.Steps)
}

// InvolvesWallet reports whether w is a participant of the loop.
func (l *TradeLoop) InvolvesWallet(w WalletID) bool {
	_, ok := l.Participants[w]
	return ok
}

// InvolvesNft reports whether n appears as the traded asset of any step.
func (l *TradeLoop) InvolvesNft(n NftID) bool {
	for _, s := range l.Steps {
		if s.Nft == n {
			return true
		}
	}
	return false
}
