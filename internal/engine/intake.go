package engine

import (
	"fmt"

	"github.com/google/uuid"

	"PerpCore/internal/config"
	fpmath "PerpCore/internal/math"
	"PerpCore/internal/oracle"
	"PerpCore/internal/state"
)

// OpenOrder is the intake draft for a new position.
type OpenOrder struct {
	Trader     uuid.UUID
	Pair       uint16
	Long       bool
	Leverage   int64 // Precision scale
	Collateral int64 // Quote units
	TP         int64 // Precision scale, 0 = unset
	SL         int64 // Precision scale, 0 = unset

	Kind state.OrderKind

	// WantedPrice is the target price for market orders and the lower bound
	// for resting kinds; MaxPrice is the upper bound for resting kinds (equal
	// to WantedPrice for a pure limit).
	WantedPrice int64
	MaxPrice    int64
	SlippageP   int64 // Precision percent units, market orders only
}

// OpenTrade validates a draft and either issues a price request (market kind,
// returns the request id) or parks it as a resting order (returns 0).
// Collateral and the execution fee are escrowed either way.
func (e *Engine) OpenTrade(o OpenOrder) (uint64, error) {
	pair, group, fee, err := e.tradableP(o.Pair)
	if err != nil {
		return 0, err
	}
	params := e.cfg.Params()

	if e.ledger.TotalOrderCount(o.Trader, o.Pair) >= params.MaxTradesPerPair {
		e.rejectOrder("max_orders")
		return 0, ErrTooManyOrders
	}
	if o.Kind == state.OrderMarket && e.ledger.PendingMarketCount() >= params.MaxPendingMarketOrders {
		e.rejectOrder("max_pending")
		return 0, ErrTooManyPending
	}

	notional := fpmath.LeveragedNotional(o.Collateral, o.Leverage)
	if notional < fee.MinLevPos {
		e.rejectOrder("too_small")
		return 0, ErrPositionTooSmall
	}
	if o.Leverage < group.MinLeverage || o.Leverage > group.MaxLeverage {
		e.rejectOrder("leverage")
		return 0, ErrLeverageOutOfBounds
	}
	if err := checkTpSlSides(o.Long, o.WantedPrice, o.TP, o.SL); err != nil {
		e.rejectOrder("tp_sl_side")
		return 0, err
	}

	if err := e.vault.ReserveBalance(o.Trader, o.Collateral+fee.ExecutionFee); err != nil {
		e.rejectOrder("balance")
		return 0, err
	}

	if o.Kind != state.OrderMarket {
		slot, ok := e.ledger.FirstEmptySlot(o.Trader, o.Pair, params.MaxTradesPerPair)
		if !ok {
			e.vault.ReleaseBalance(o.Trader, o.Collateral+fee.ExecutionFee)
			e.rejectOrder("max_orders")
			return 0, ErrTooManyOrders
		}
		e.ledger.StoreLimitOrder(state.OpenLimitOrder{
			Trader:       o.Trader,
			Pair:         o.Pair,
			Index:        slot,
			PositionSize: o.Collateral,
			Long:         o.Long,
			Leverage:     o.Leverage,
			TP:           o.TP,
			SL:           o.SL,
			MinPrice:     o.WantedPrice,
			MaxPrice:     o.MaxPrice,
			Kind:         o.Kind,
			PlacedHeight: e.height,
			ExecutionFee: fee.ExecutionFee,
		})
		e.countOrder(o.Kind)
		return 0, nil
	}

	id := e.oracle.RequestPrice(oracle.MarketOpen, pair.Feed, params.MinObservations)
	e.ledger.StorePendingMarketOrder(id, &state.PendingMarketOrder{
		Trade: state.Trade{
			Trader:     o.Trader,
			Pair:       o.Pair,
			Long:       o.Long,
			Leverage:   o.Leverage,
			Collateral: o.Collateral,
			OpenPrice:  o.WantedPrice,
			TP:         o.TP,
			SL:         o.SL,
		},
		WantedPrice:  o.WantedPrice,
		SlippageP:    o.SlippageP,
		ExecutionFee: fee.ExecutionFee,
		Height:       e.height,
	})
	e.countOrder(o.Kind)
	return id, nil
}

// CancelLimitOrder removes a resting order and refunds its escrow minus the
// cancellation fee.
func (e *Engine) CancelLimitOrder(trader uuid.UUID, pair uint16, index int) error {
	order := e.ledger.LimitOrder(trader, pair, index)
	if order == nil {
		return ErrNoLimitOrder
	}
	p, ok := e.cfg.Pair(pair)
	if !ok {
		return ErrPairNotListed
	}
	fee := e.cfg.FeeOf(p)

	e.ledger.RemoveLimitOrder(trader, pair, index)

	cancelFee := minQuote(fee.CancelFee, order.PositionSize)
	e.vault.ReceiveAssets(trader, cancelFee)
	e.vault.ReleaseBalance(trader, order.PositionSize-cancelFee+order.ExecutionFee)
	return nil
}

// CloseTradeMarket requests a market close of amount collateral at slot.
// Amounts above the position's collateral close it in full.
func (e *Engine) CloseTradeMarket(trader uuid.UUID, pair uint16, index int, amount int64) (uint64, error) {
	p, _, _, err := e.tradableP(pair)
	if err != nil {
		return 0, err
	}
	t := e.ledger.Trade(trader, pair, index)
	if !t.IsOpen() {
		return 0, ErrNoTrade
	}
	info := e.ledger.Info(trader, pair, index)
	if info.BeingMarketClosed {
		return 0, ErrBeingClosed
	}
	if amount <= 0 || amount > t.Collateral {
		amount = t.Collateral
	}

	info.BeingMarketClosed = true

	id := e.oracle.RequestPrice(oracle.MarketClose, p.Feed, e.cfg.Params().MinObservations)
	e.ledger.StorePendingMarketOrder(id, &state.PendingMarketOrder{
		Trade:       state.Trade{Trader: trader, Pair: pair, Index: index},
		Close:       true,
		CloseAmount: amount,
		Height:      e.height,
	})
	return id, nil
}

// UpdateMargin deposits into or withdraws from a position's collateral. The
// position is rewritten immediately at the recomputed leverage; a withdrawal
// is additionally confirmed against a delivered price and reverted post-hoc
// if the remaining collateral could not absorb the unrealized loss.
func (e *Engine) UpdateMargin(trader uuid.UUID, pair uint16, index int, withdraw bool, amount int64) (uint64, error) {
	p, group, _, err := e.tradableP(pair)
	if err != nil {
		return 0, err
	}
	t := e.ledger.Trade(trader, pair, index)
	if !t.IsOpen() {
		return 0, ErrNoTrade
	}
	info := e.ledger.Info(trader, pair, index)
	if info.BeingMarketClosed {
		return 0, ErrBeingClosed
	}
	if amount <= 0 {
		return 0, fmt.Errorf("margin amount must be positive")
	}
	if withdraw && amount >= t.Collateral {
		return 0, ErrWithdrawTooLarge
	}

	e.accrueFunding(p)
	fundingFee := e.funding.FeeOwed(pair, t.Long, info.OpenInterest, info.InitialAccFundingP)

	newCollateral := t.Collateral - fundingFee
	if withdraw {
		newCollateral -= amount
	} else {
		newCollateral += amount
	}
	if newCollateral <= 0 {
		return 0, ErrWithdrawTooLarge
	}

	newLeverage := fpmath.LeverageFromNotional(info.OpenInterest, newCollateral)
	if newLeverage == 0 {
		return 0, ErrZeroLeverage
	}
	if newLeverage < group.MinLeverage || newLeverage > group.MaxLeverage {
		return 0, ErrLeverageOutOfBounds
	}

	if !withdraw {
		if err := e.vault.ReserveBalance(trader, amount); err != nil {
			return 0, err
		}
	}
	if fundingFee > 0 {
		e.vault.ReceiveAssets(trader, fundingFee)
	}

	oldLeverage, oldCollateral := t.Leverage, t.Collateral
	t.Collateral = newCollateral
	t.Leverage = newLeverage
	info.InitialAccFundingP = e.funding.Acc(pair, t.Long)

	id := e.oracle.RequestPrice(oracle.MarginUpdate, p.Feed, e.cfg.Params().MinObservations)
	e.ledger.StorePendingMarginUpdate(id, &state.PendingMarginUpdate{
		Trader:        trader,
		Pair:          pair,
		Index:         index,
		Withdraw:      withdraw,
		Amount:        amount,
		OldLeverage:   oldLeverage,
		OldCollateral: oldCollateral,
		FundingFee:    fundingFee,
	})
	return id, nil
}

// UpdateTp moves a position's take-profit. Immediate, no price round-trip.
func (e *Engine) UpdateTp(trader uuid.UUID, pair uint16, index int, newTp int64) error {
	if _, _, _, err := e.tradableP(pair); err != nil {
		return err
	}
	t := e.ledger.Trade(trader, pair, index)
	if !t.IsOpen() {
		return ErrNoTrade
	}
	info := e.ledger.Info(trader, pair, index)

	params := e.cfg.Params()
	if info.TpLastUpdated > 0 && e.height-info.TpLastUpdated < params.TpTimelock {
		return ErrTimelock
	}
	if newTp != 0 {
		if (t.Long && newTp <= t.OpenPrice) || (!t.Long && newTp >= t.OpenPrice) {
			return ErrWrongTp
		}
	}

	t.TP = newTp
	info.TpLastUpdated = e.height
	return nil
}

// UpdateSl moves a position's stop-loss. On pairs with guaranteed stops the
// move is itself priced: half the would-be liquidation fee is charged up
// front and the new value only commits once a price confirms it.
func (e *Engine) UpdateSl(trader uuid.UUID, pair uint16, index int, newSl int64) (uint64, error) {
	p, _, fee, err := e.tradableP(pair)
	if err != nil {
		return 0, err
	}
	t := e.ledger.Trade(trader, pair, index)
	if !t.IsOpen() {
		return 0, ErrNoTrade
	}
	info := e.ledger.Info(trader, pair, index)

	params := e.cfg.Params()
	if info.SlLastUpdated > 0 && e.height-info.SlLastUpdated < params.SlTimelock {
		return 0, ErrTimelock
	}
	if newSl != 0 {
		if (t.Long && newSl >= t.OpenPrice) || (!t.Long && newSl <= t.OpenPrice) {
			return 0, ErrWrongSl
		}
		maxDist := fpmath.MaxSlDistance(t.OpenPrice, t.Leverage, params.MaxSlP)
		dist := t.OpenPrice - newSl
		if !t.Long {
			dist = newSl - t.OpenPrice
		}
		if dist > maxDist {
			return 0, ErrSlTooFar
		}
	}

	if !p.GuaranteedSlEnabled || newSl == 0 {
		t.SL = newSl
		info.SlLastUpdated = e.height
		return 0, nil
	}

	// Guaranteed stop: moving it is half a liquidation-fee event, paid now.
	halfLiqFee := fpmath.PercentOf(info.OpenInterest, fee.CloseFeeP) / 2
	halfLiqFee = minQuote(halfLiqFee, t.Collateral)
	t.Collateral -= halfLiqFee
	e.vault.ReceiveAssets(trader, halfLiqFee)

	info.SlLastUpdated = e.height

	id := e.oracle.RequestPrice(oracle.SlUpdate, p.Feed, params.MinObservations)
	e.ledger.StorePendingSlUpdate(id, &state.PendingSlUpdate{
		Trader:    trader,
		Pair:      pair,
		Index:     index,
		NewSl:     newSl,
		OpenPrice: t.OpenPrice,
		Long:      t.Long,
	})
	return id, nil
}

// ExecuteLimitTrigger flags a trigger condition as met. Callable by anyone;
// the first live claimant per trigger key wins the execution reward and
// later callers are silently ignored until the claim times out.
func (e *Engine) ExecuteLimitTrigger(caller uuid.UUID, kind state.TriggerKind, trader uuid.UUID, pair uint16, index int) (uint64, error) {
	p, _, _, err := e.tradableP(pair)
	if err != nil {
		return 0, err
	}

	if kind == state.TriggerLimitOpen {
		if !e.ledger.HasLimitOrder(trader, pair, index) {
			return 0, ErrNoLimitOrder
		}
	} else {
		if !e.ledger.Trade(trader, pair, index).IsOpen() {
			return 0, ErrNoTrade
		}
	}

	key := state.TriggerKey{Trader: trader, Pair: pair, Index: index, Kind: kind}
	if !e.triggers.Claim(key, caller, e.height) {
		// Another executor holds a live claim. Not an error: simultaneous
		// submissions are expected.
		return 0, nil
	}

	oracleKind := oracle.Automation
	if kind == state.TriggerLimitOpen {
		oracleKind = oracle.LimitOpen
	}

	id := e.oracle.RequestPrice(oracleKind, p.Feed, e.cfg.Params().MinObservations)
	e.ledger.StorePendingLimitExec(id, &state.PendingLimitExec{
		Trader: trader,
		Pair:   pair,
		Index:  index,
		Kind:   kind,
		Caller: caller,
		Height: e.height,
	})
	return id, nil
}

func (e *Engine) tradableP(pairIndex uint16) (*config.Pair, *config.Group, *config.Fee, error) {
	if e.cfg.Paused() {
		return nil, nil, nil, ErrPaused
	}
	p, ok := e.cfg.Pair(pairIndex)
	if !ok || !p.Listed {
		return nil, nil, nil, ErrPairNotListed
	}
	return p, e.cfg.GroupOf(p), e.cfg.FeeOf(p), nil
}

func checkTpSlSides(long bool, price, tp, sl int64) error {
	if tp != 0 {
		if (long && tp <= price) || (!long && tp >= price) {
			return ErrWrongTp
		}
	}
	if sl != 0 {
		if (long && sl >= price) || (!long && sl <= price) {
			return ErrWrongSl
		}
	}
	return nil
}

func (e *Engine) countOrder(kind state.OrderKind) {
	if e.metrics != nil {
		e.metrics.OrdersSubmitted.WithLabelValues(kind.String()).Inc()
	}
}

func minQuote(a, b int64) int64 {
	if a > b {
		a = b
	}
	if a < 0 {
		return 0
	}
	return a
}
