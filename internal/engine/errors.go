package engine

import "errors"

// Intake validation failures. All are reported synchronously and leave the
// ledger untouched.
var (
	ErrPaused              = errors.New("trading paused")
	ErrPairNotListed       = errors.New("pair not listed")
	ErrTooManyOrders       = errors.New("max orders per pair reached")
	ErrTooManyPending      = errors.New("max pending market orders reached")
	ErrPositionTooSmall    = errors.New("position below minimum leveraged size")
	ErrLeverageOutOfBounds = errors.New("leverage outside pair bounds")
	ErrWrongTp             = errors.New("take profit on wrong side of price")
	ErrWrongSl             = errors.New("stop loss on wrong side of price")
	ErrSlTooFar            = errors.New("stop loss beyond max loss distance")
	ErrNoTrade             = errors.New("no open trade at slot")
	ErrNoLimitOrder        = errors.New("no resting order at slot")
	ErrBeingClosed         = errors.New("close already in flight for slot")
	ErrTimelock            = errors.New("update timelock not elapsed")
	ErrZeroLeverage        = errors.New("resulting leverage is zero")
	ErrWithdrawTooLarge    = errors.New("withdrawal exceeds collateral")
)
