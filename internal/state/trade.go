package state

import (
	"github.com/google/uuid"
)

// OrderKind classifies order intake: immediate market execution or one of the
// resting limit flavors.
type OrderKind uint8

const (
	OrderMarket OrderKind = iota
	OrderLimit            // Plain resting limit (min == max price)
	OrderReversal         // Executes when price crosses back through the bound
	OrderMomentum         // Executes when price breaks through the bound
)

func (k OrderKind) String() string {
	switch k {
	case OrderMarket:
		return "market"
	case OrderLimit:
		return "limit"
	case OrderReversal:
		return "reversal"
	case OrderMomentum:
		return "momentum"
	default:
		return "unknown"
	}
}

// TriggerKind identifies a bot-triggered event on an existing position or
// resting order.
type TriggerKind uint8

const (
	TriggerTP TriggerKind = iota
	TriggerSL
	TriggerLiq
	TriggerLimitOpen
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerTP:
		return "tp"
	case TriggerSL:
		return "sl"
	case TriggerLiq:
		return "liq"
	case TriggerLimitOpen:
		return "limit_open"
	default:
		return "unknown"
	}
}

// TradeKey identifies a position slot.
type TradeKey struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int
}

// Trade is an open leveraged position.
// Invariant: Leverage > 0 if and only if the slot is occupied.
type Trade struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int

	Long       bool
	Leverage   int64 // Precision scale, >= 1x
	Collateral int64 // Initial collateral in quote units
	OpenPrice  int64 // Precision scale
	TP         int64 // Precision scale, 0 = unset
	SL         int64 // Precision scale, 0 = unset
	OpenHeight int64
}

// Key returns the slot key for this trade.
func (t *Trade) Key() TradeKey {
	return TradeKey{Trader: t.Trader, Pair: t.Pair, Index: t.Index}
}

// IsOpen reports whether the slot is occupied.
func (t *Trade) IsOpen() bool {
	return t != nil && t.Leverage > 0
}

// TradeInfo is the per-position derived state kept alongside a Trade.
type TradeInfo struct {
	// OpenInterest is the current leveraged notional in quote units.
	OpenInterest int64

	TpLastUpdated int64 // Height of the last take-profit change
	SlLastUpdated int64 // Height of the last stop-loss change

	// BeingMarketClosed guards against two concurrent close requests on the
	// same slot; set at intake, cleared at settlement.
	BeingMarketClosed bool

	// LossProtectionTier is frozen at open from the OI skew at that moment.
	LossProtectionTier int

	// InitialAccFundingP is the pair's side funding accumulator value at
	// open (Precision percent units); the fee owed is the delta since then.
	InitialAccFundingP int64
}

// OpenLimitOrder is a resting order awaiting a trigger.
type OpenLimitOrder struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int

	PositionSize int64 // Collateral in quote units
	Long         bool
	Leverage     int64
	TP           int64
	SL           int64

	// Price bounds: equal for a pure limit, asymmetric for trigger kinds.
	MinPrice int64
	MaxPrice int64

	Kind         OrderKind
	PlacedHeight int64
	ExecutionFee int64 // Prepaid, quote units
}

// Key returns the slot key for this resting order.
func (o *OpenLimitOrder) Key() TradeKey {
	return TradeKey{Trader: o.Trader, Pair: o.Pair, Index: o.Index}
}
