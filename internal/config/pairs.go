package config

import (
	"fmt"

	fpmath "PerpCore/internal/math"
)

// Feed identifies the primary price feed for a pair and the validation bounds
// applied to submitted evidence.
type Feed struct {
	FeedID        string      // Primary feed identifier
	MaxDeviationP int64       // Max confidence-width/price ratio, Precision percent units
	Backup        *BackupFeed // Optional secondary feed cross-check
}

// BackupFeed is an independent secondary feed; the primary price must stay
// within MaxDeviationP of it in either direction.
type BackupFeed struct {
	FeedID        string
	MaxDeviationP int64
}

// Pair is the static per-pair trading configuration. Read-only at runtime.
type Pair struct {
	Index      uint16
	Name       string // e.g. "BTC/USD"
	GroupIndex uint16
	FeeIndex   uint16

	Feed    Feed
	SpreadP int64 // Precision percent units

	// OnePercentDepth is the quote-scaled notional that moves the execution
	// price by 1%. Zero disables price impact for the pair.
	OnePercentDepth int64

	// MaxOpenInterest caps leveraged notional per side, quote units.
	MaxOpenInterest int64

	GuaranteedSlEnabled bool

	// Loss-protection tables, monotonic in SkewP, scanned from the top.
	LossTiersLong  []fpmath.LossTier
	LossTiersShort []fpmath.LossTier

	Listed bool
}

// Group bounds leverage and open interest for a set of pairs.
type Group struct {
	Index       uint16
	Name        string
	MinLeverage int64 // Precision scale
	MaxLeverage int64 // Precision scale

	// MaxOpenInterest caps total leveraged notional across the group's pairs
	// and feeds the funding utilization multiplier.
	MaxOpenInterest int64
}

// Fee is a per-pair fee schedule.
type Fee struct {
	Index    uint16
	OpenFeeP int64 // Percent of leveraged notional, Precision percent units

	CloseFeeP int64

	// LimitOrderFeeP applies to resting-order fills in place of OpenFeeP.
	LimitOrderFeeP int64

	// ExecutionFee is the flat quote amount prepaid with an order and paid to
	// the winning trigger bot on execution.
	ExecutionFee int64

	// CancelFee is charged when an order is cancelled by oracle failure.
	CancelFee int64

	// MinLevPos is the minimum leveraged notional (quote units) per position.
	MinLevPos int64
}

// TradingParams are the engine-level settlement knobs.
type TradingParams struct {
	MaxTradesPerPair       int   // Open + pending + resting per (trader, pair)
	MaxPendingMarketOrders int   // Global in-flight market orders
	MaxSlP                 int64 // Widest allowed stop-loss, percent of collateral
	SlTimelock             int64 // Heights between stop-loss updates
	TpTimelock             int64 // Heights between take-profit updates
	TriggerTimeout         int64 // Heights before a trigger claim expires
	MaxWalletOI            int64 // Per-wallet leveraged notional cap, quote units
	MaxPoolOIP             int64 // Pool exposure cap, percent of vault balance

	FundingInterval       int64 // Accrue lazily after this many heights
	FundingRatePerHeightP int64 // Precision percent units per height
	FundingFloorP         int64 // Skew multiplier floor, Precision scale
	FundingCeilP          int64 // Skew multiplier ceiling, Precision scale

	MinObservations int // Oracle observations required before consensus
}

// Store is the read-only configuration collaborator handed to the engine and
// the oracle. Construct via Load or Default; not mutated after startup except
// through the operator surface in admin.go.
type Store struct {
	pairs  map[uint16]*Pair
	groups map[uint16]*Group
	fees   map[uint16]*Fee
	params TradingParams

	operatorKey string
	paused      bool
}

// NewStore assembles a Store from explicit tables (used by Load and tests).
func NewStore(pairs []*Pair, groups []*Group, fees []*Fee, params TradingParams) (*Store, error) {
	s := &Store{
		pairs:  make(map[uint16]*Pair, len(pairs)),
		groups: make(map[uint16]*Group, len(groups)),
		fees:   make(map[uint16]*Fee, len(fees)),
		params: params,
	}

	for _, g := range groups {
		if g.MinLeverage <= 0 || g.MaxLeverage < g.MinLeverage {
			return nil, fmt.Errorf("group %d: bad leverage bounds [%d, %d]", g.Index, g.MinLeverage, g.MaxLeverage)
		}
		s.groups[g.Index] = g
	}
	for _, f := range fees {
		s.fees[f.Index] = f
	}
	for _, pr := range pairs {
		if _, ok := s.groups[pr.GroupIndex]; !ok {
			return nil, fmt.Errorf("pair %d (%s): unknown group %d", pr.Index, pr.Name, pr.GroupIndex)
		}
		if _, ok := s.fees[pr.FeeIndex]; !ok {
			return nil, fmt.Errorf("pair %d (%s): unknown fee schedule %d", pr.Index, pr.Name, pr.FeeIndex)
		}
		s.pairs[pr.Index] = pr
	}

	return s, nil
}

// Pair returns the pair config, or false when the pair is not listed.
func (s *Store) Pair(index uint16) (*Pair, bool) {
	pr, ok := s.pairs[index]
	if !ok || !pr.Listed {
		return nil, false
	}
	return pr, true
}

// Group returns the group config for a pair.
func (s *Store) Group(index uint16) (*Group, bool) {
	g, ok := s.groups[index]
	return g, ok
}

// Fee returns the fee schedule for a pair.
func (s *Store) Fee(index uint16) (*Fee, bool) {
	f, ok := s.fees[index]
	return f, ok
}

// GroupOf resolves a pair's group directly.
func (s *Store) GroupOf(pair *Pair) *Group {
	return s.groups[pair.GroupIndex]
}

// FeeOf resolves a pair's fee schedule directly.
func (s *Store) FeeOf(pair *Pair) *Fee {
	return s.fees[pair.FeeIndex]
}

// Params returns the engine-level trading parameters.
func (s *Store) Params() TradingParams {
	return s.params
}

// PairCount returns the number of configured pairs (listed or not).
func (s *Store) PairCount() int {
	return len(s.pairs)
}

// GroupPairs returns the indices of every pair in a group.
func (s *Store) GroupPairs(group uint16) []uint16 {
	var out []uint16
	for idx, p := range s.pairs {
		if p.GroupIndex == group {
			out = append(out, idx)
		}
	}
	return out
}

// LossTiers returns the loss-protection table for a pair and direction.
func (p *Pair) LossTiers(long bool) []fpmath.LossTier {
	if long {
		return p.LossTiersLong
	}
	return p.LossTiersShort
}
