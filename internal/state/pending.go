package state

import (
	"github.com/google/uuid"
)

// Pending requests are keyed by the request id assigned when a price was
// requested; the id space is shared with the oracle's live requests so the
// two are paired 1:1. Each pending entry is consumed exactly once.

// PendingMarketOrder holds everything needed to finish a market open or
// market close once a consensus price arrives.
type PendingMarketOrder struct {
	// Trade is the full draft for opens. For closes only Trader/Pair/Index
	// are meaningful and CloseAmount carries the collateral to close.
	Trade Trade

	Close       bool
	CloseAmount int64 // Quote units; ignored for opens

	WantedPrice  int64 // Precision scale
	SlippageP    int64 // Precision percent units
	ExecutionFee int64 // Escrowed alongside collateral for opens
	Height       int64
}

// PendingLimitExec records a bot-claimed trigger awaiting price confirmation.
type PendingLimitExec struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int
	Kind   TriggerKind
	Caller uuid.UUID // First claimant, paid the execution reward
	Height int64
}

// TriggerKey identifies a trigger-race claim.
func (p *PendingLimitExec) TriggerKey() TriggerKey {
	return TriggerKey{Trader: p.Trader, Pair: p.Pair, Index: p.Index, Kind: p.Kind}
}

// TriggerKey is the (owner, pair, slot, kind) tuple bots race on.
type TriggerKey struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int
	Kind   TriggerKind
}

// PendingSlUpdate awaits price confirmation for a guaranteed stop-loss move.
// OpenPrice and Long fingerprint the position at request time so a slot that
// was closed and reopened in between is detected as stale.
type PendingSlUpdate struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int

	NewSl     int64
	OpenPrice int64
	Long      bool
}

// PendingMarginUpdate awaits price confirmation for a collateral change.
// The position was already rewritten at intake; Old* allow the post-hoc
// revert when a withdrawal would breach the unrealized-loss threshold.
type PendingMarginUpdate struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int

	Withdraw bool
	Amount   int64 // Quote units

	OldLeverage   int64
	OldCollateral int64
	FundingFee    int64 // Deducted at intake, quote units
}
