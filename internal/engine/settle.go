package engine

import (
	"github.com/google/uuid"

	"PerpCore/internal/config"
	fpmath "PerpCore/internal/math"
	"PerpCore/internal/state"
)

// The six callbacks below are the only settlement entry points; each consumes
// its pending entry exactly once, so a duplicate delivery finds nothing and
// returns without mutation.

// MarketOpenSettled finalizes a pending market open at the consensus price.
func (e *Engine) MarketOpenSettled(id uint64, price int64) {
	o := e.ledger.ConsumePendingMarketOrder(id)
	if o == nil || o.Close {
		return
	}
	t := o.Trade
	pair, ok := e.cfg.Pair(t.Pair)
	if !ok {
		return
	}
	fee := e.cfg.FeeOf(pair)
	escrow := t.Collateral + o.ExecutionFee

	cancel := func(reason string) {
		e.refundCancelledOpen(t.Trader, t.Collateral, t.Leverage, escrow, fee)
		e.emit(SettlementRecord{
			RequestID: id, Kind: "market_open", Outcome: "cancelled", Reason: reason,
			Trader: t.Trader, Pair: t.Pair, Price: price,
		})
	}

	if price == 0 {
		cancel("feed_failure")
		return
	}

	notional := fpmath.LeveragedNotional(t.Collateral, t.Leverage)
	execPrice := fpmath.PriceAfterImpact(
		fpmath.MarketExecutionPrice(price, pair.SpreadP, t.Long, true),
		fpmath.PriceImpactP(notional, pair.OnePercentDepth),
		t.Long,
	)

	if slippageExceeded(t.Long, o.WantedPrice, o.SlippageP, execPrice) {
		cancel("slippage")
		return
	}
	if tpSlCrossed(t.Long, execPrice, t.TP, t.SL) {
		cancel("tp_sl_crossed")
		return
	}

	key, reason := e.finalizeOpen(openExec{
		trader:     t.Trader,
		pair:       t.Pair,
		long:       t.Long,
		leverage:   t.Leverage,
		collateral: t.Collateral,
		tp:         t.TP,
		sl:         t.SL,
		execPrice:  execPrice,
		feeP:       fee.OpenFeeP,
		execFee:    o.ExecutionFee,
	}, pair, fee)
	if reason != "" {
		cancel(reason)
		return
	}

	stored := e.ledger.Trade(key.Trader, key.Pair, key.Index)
	e.emit(SettlementRecord{
		RequestID: id, Kind: "market_open", Outcome: "executed",
		Trader: key.Trader, Pair: key.Pair, Index: key.Index,
		Price: execPrice, Collateral: stored.Collateral,
	})
}

// MarketCloseSettled finalizes a pending market close at the consensus price.
func (e *Engine) MarketCloseSettled(id uint64, price int64) {
	o := e.ledger.ConsumePendingMarketOrder(id)
	if o == nil || !o.Close {
		return
	}
	trader, pairIdx, index := o.Trade.Trader, o.Trade.Pair, o.Trade.Index

	t := e.ledger.Trade(trader, pairIdx, index)
	if !t.IsOpen() {
		e.emit(SettlementRecord{
			RequestID: id, Kind: "market_close", Outcome: "noop", Reason: "stale",
			Trader: trader, Pair: pairIdx, Index: index, Price: price,
		})
		return
	}
	info := e.ledger.Info(trader, pairIdx, index)
	pair, _ := e.cfg.Pair(pairIdx)
	fee := e.cfg.FeeOf(pair)

	if price == 0 {
		// Feed failure on a non-liquidation close: settle flat at the stored
		// entry price. The escrow comes back minus the cancellation fee and
		// the slot is freed rather than left stranded behind a dead feed.
		cancelFee := minQuote(fee.CancelFee, t.Collateral)
		refund := t.Collateral - cancelFee
		e.vault.ReceiveAssets(trader, cancelFee)
		e.vault.ReleaseBalance(trader, refund)
		e.ledger.RemoveOpenInterest(pairIdx, t.Long, trader, info.OpenInterest)
		e.ledger.RemoveTrade(trader, pairIdx, index)
		e.emit(SettlementRecord{
			RequestID: id, Kind: "market_close", Outcome: "cancelled", Reason: "feed_failure",
			Trader: trader, Pair: pairIdx, Index: index, Price: t.OpenPrice, Payout: refund,
		})
		return
	}

	closeAmount := minQuote(o.CloseAmount, t.Collateral)
	payout, execPrice := e.settleClose(t, info, closeAmount, price, pair, fee.CloseFeeP)

	remaining := e.ledger.Trade(trader, pairIdx, index)
	var collateralAfter int64
	if remaining.IsOpen() {
		collateralAfter = remaining.Collateral
		e.ledger.Info(trader, pairIdx, index).BeingMarketClosed = false
	}

	e.emit(SettlementRecord{
		RequestID: id, Kind: "market_close", Outcome: "executed",
		Trader: trader, Pair: pairIdx, Index: index,
		Price: execPrice, Collateral: collateralAfter, Payout: payout,
	})
}

// LimitOpenSettled fills a resting order at the consensus price.
func (e *Engine) LimitOpenSettled(id uint64, price int64) {
	pend := e.ledger.ConsumePendingLimitExec(id)
	if pend == nil {
		return
	}
	e.triggers.Release(pend.TriggerKey())

	order := e.ledger.LimitOrder(pend.Trader, pend.Pair, pend.Index)
	if order == nil {
		e.emit(SettlementRecord{
			RequestID: id, Kind: "limit_open", Outcome: "noop", Reason: "stale",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
		})
		return
	}
	pair, _ := e.cfg.Pair(pend.Pair)
	fee := e.cfg.FeeOf(pair)

	if price == 0 {
		// Order stays resting; the trigger may be re-run.
		e.emit(SettlementRecord{
			RequestID: id, Kind: "limit_open", Outcome: "cancelled", Reason: "feed_failure",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
		})
		return
	}

	notional := fpmath.LeveragedNotional(order.PositionSize, order.Leverage)
	execPrice := fpmath.PriceAfterImpact(
		fpmath.MarketExecutionPrice(price, pair.SpreadP, order.Long, true),
		fpmath.PriceImpactP(notional, pair.OnePercentDepth),
		order.Long,
	)

	if !limitBoundsMet(order, execPrice) {
		e.emit(SettlementRecord{
			RequestID: id, Kind: "limit_open", Outcome: "noop", Reason: "price_out_of_bounds",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index, Price: execPrice,
		})
		return
	}
	if tpSlCrossed(order.Long, execPrice, order.TP, order.SL) {
		e.ledger.RemoveLimitOrder(pend.Trader, pend.Pair, pend.Index)
		e.refundCancelledOpen(pend.Trader, order.PositionSize, order.Leverage,
			order.PositionSize+order.ExecutionFee, e.cfg.FeeOf(pair))
		e.emit(SettlementRecord{
			RequestID: id, Kind: "limit_open", Outcome: "cancelled", Reason: "tp_sl_crossed",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index, Price: execPrice,
		})
		return
	}

	e.ledger.RemoveLimitOrder(pend.Trader, pend.Pair, pend.Index)

	key, reason := e.finalizeOpen(openExec{
		trader:       pend.Trader,
		pair:         pend.Pair,
		slot:         pend.Index,
		haveSlot:     true,
		long:         order.Long,
		leverage:     order.Leverage,
		collateral:   order.PositionSize,
		tp:           order.TP,
		sl:           order.SL,
		execPrice:    execPrice,
		feeP:         fee.LimitOrderFeeP,
		execFee:      order.ExecutionFee,
		execFeeTo:    pend.Caller,
		rewardCaller: true,
	}, pair, fee)
	if reason != "" {
		e.refundCancelledOpen(pend.Trader, order.PositionSize, order.Leverage,
			order.PositionSize+order.ExecutionFee, fee)
		e.emit(SettlementRecord{
			RequestID: id, Kind: "limit_open", Outcome: "cancelled", Reason: reason,
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index, Price: execPrice,
		})
		return
	}

	stored := e.ledger.Trade(key.Trader, key.Pair, key.Index)
	e.emit(SettlementRecord{
		RequestID: id, Kind: "limit_open", Outcome: "executed",
		Trader: key.Trader, Pair: key.Pair, Index: key.Index,
		Price: execPrice, Collateral: stored.Collateral,
	})
}

// AutomationSettled resolves a TP, SL or liquidation trigger at the
// consensus price. The trigger-race claim is released whether or not the
// close executes; stale claims must never block future attempts.
func (e *Engine) AutomationSettled(id uint64, price int64) {
	pend := e.ledger.ConsumePendingLimitExec(id)
	if pend == nil {
		return
	}
	e.triggers.Release(pend.TriggerKey())

	t := e.ledger.Trade(pend.Trader, pend.Pair, pend.Index)
	if !t.IsOpen() {
		e.emit(SettlementRecord{
			RequestID: id, Kind: "automation", Outcome: "noop", Reason: "stale",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
		})
		return
	}
	pair, _ := e.cfg.Pair(pend.Pair)
	fee := e.cfg.FeeOf(pair)
	info := e.ledger.Info(pend.Trader, pend.Pair, pend.Index)

	if price == 0 {
		// A liquidation must never be cancellable through feed failure: no
		// fee, no mutation, the executor simply retries.
		e.emit(SettlementRecord{
			RequestID: id, Kind: "automation", Outcome: "noop", Reason: "feed_failure",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
		})
		return
	}

	e.accrueFunding(pair)
	fundingFee := e.funding.FeeOwed(pend.Pair, t.Long, info.OpenInterest, info.InitialAccFundingP)

	if !triggerConditionMet(pend.Kind, t, fundingFee, price) {
		e.emit(SettlementRecord{
			RequestID: id, Kind: "automation", Outcome: "noop", Reason: "not_triggered",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index, Price: price,
		})
		return
	}

	// Execution reward to the first claimant, out of the position.
	reward := minQuote(fee.ExecutionFee, t.Collateral)
	t.Collateral -= reward
	e.vault.AccrueRewards(pend.Trader, pend.Caller, reward)

	payout, execPrice := e.settleClose(t, info, t.Collateral, price, pair, fee.CloseFeeP)

	e.emit(SettlementRecord{
		RequestID: id, Kind: "automation", Outcome: "executed", Reason: pend.Kind.String(),
		Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
		Price: execPrice, Payout: payout,
	})
}

// SlUpdateSettled commits a guaranteed stop-loss move if the position is
// unchanged since the request and the new stop is still on the right side of
// the delivered price.
func (e *Engine) SlUpdateSettled(id uint64, price int64) {
	pend := e.ledger.ConsumePendingSlUpdate(id)
	if pend == nil {
		return
	}

	t := e.ledger.Trade(pend.Trader, pend.Pair, pend.Index)
	noop := func(reason string) {
		e.emit(SettlementRecord{
			RequestID: id, Kind: "sl_update", Outcome: "noop", Reason: reason,
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index, Price: price,
		})
	}

	if !t.IsOpen() || t.OpenPrice != pend.OpenPrice || t.Long != pend.Long {
		// Slot was closed or recycled since the request was issued.
		noop("stale")
		return
	}
	if price == 0 {
		noop("feed_failure")
		return
	}
	if (t.Long && pend.NewSl >= price) || (!t.Long && pend.NewSl <= price) {
		noop("sl_crossed")
		return
	}

	t.SL = pend.NewSl
	e.emit(SettlementRecord{
		RequestID: id, Kind: "sl_update", Outcome: "executed",
		Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index, Price: price,
	})
}

// MarginUpdateSettled confirms a collateral change. Deposits were final at
// intake; withdrawals are reverted post-hoc when the delivered price shows an
// unrealized loss the remaining collateral could not absorb.
func (e *Engine) MarginUpdateSettled(id uint64, price int64) {
	pend := e.ledger.ConsumePendingMarginUpdate(id)
	if pend == nil {
		return
	}

	t := e.ledger.Trade(pend.Trader, pend.Pair, pend.Index)
	if !t.IsOpen() {
		if !pend.Withdraw {
			// Deposit raced a close; the escrowed amount goes back.
			e.vault.ReleaseBalance(pend.Trader, pend.Amount)
		}
		e.emit(SettlementRecord{
			RequestID: id, Kind: "margin_update", Outcome: "noop", Reason: "stale",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
		})
		return
	}
	info := e.ledger.Info(pend.Trader, pend.Pair, pend.Index)

	if !pend.Withdraw {
		e.emit(SettlementRecord{
			RequestID: id, Kind: "margin_update", Outcome: "executed",
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
			Collateral: t.Collateral,
		})
		return
	}

	revert := func(reason string) {
		t.Collateral += pend.Amount
		t.Leverage = fpmath.LeverageFromNotional(info.OpenInterest, t.Collateral)
		e.emit(SettlementRecord{
			RequestID: id, Kind: "margin_update", Outcome: "cancelled", Reason: reason,
			Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
			Collateral: t.Collateral,
		})
	}

	if price == 0 {
		revert("feed_failure")
		return
	}

	profitP := fpmath.CurrentPercentProfit(t.OpenPrice, price, t.Long, t.Leverage)
	if profitP < 0 {
		loss := -fpmath.PercentOf(t.Collateral, profitP)
		if loss >= fpmath.PercentOf(t.Collateral, 80*fpmath.Precision) {
			revert("loss_threshold")
			return
		}
	}

	e.vault.ReleaseBalance(pend.Trader, pend.Amount)
	e.emit(SettlementRecord{
		RequestID: id, Kind: "margin_update", Outcome: "executed",
		Trader: pend.Trader, Pair: pend.Pair, Index: pend.Index,
		Collateral: t.Collateral, Payout: pend.Amount,
	})
}

// === Shared settlement steps ===

type openExec struct {
	trader     uuid.UUID
	pair       uint16
	slot       int
	haveSlot   bool
	long       bool
	leverage   int64
	collateral int64
	tp, sl     int64
	execPrice  int64
	feeP       int64

	execFee      int64
	execFeeTo    uuid.UUID
	rewardCaller bool
}

// finalizeOpen runs the exposure checks and registers the position. Returns
// the stored key and an empty reason, or a cancel reason with no mutation.
func (e *Engine) finalizeOpen(x openExec, pair *config.Pair, fee *config.Fee) (state.TradeKey, string) {
	openFee := fpmath.PercentOf(fpmath.LeveragedNotional(x.collateral, x.leverage), x.feeP)
	discount, rebate := e.referral.DiscountAndRebate(x.trader, openFee)
	feeNet := openFee - discount
	rebate = minQuote(rebate, feeNet)

	collateralAfter := x.collateral - feeNet
	if collateralAfter <= 0 {
		return state.TradeKey{}, "fee_exceeds_collateral"
	}
	notional := fpmath.LeveragedNotional(collateralAfter, x.leverage)

	params := e.cfg.Params()
	group := e.cfg.GroupOf(pair)
	oi := e.ledger.PairOI(x.pair)

	side := oi.Long
	if !x.long {
		side = oi.Short
	}
	switch {
	case side+notional > pair.MaxOpenInterest:
		return state.TradeKey{}, "pair_oi_cap"
	case e.ledger.GroupOI(e.cfg.GroupPairs(pair.GroupIndex))+notional > group.MaxOpenInterest:
		return state.TradeKey{}, "group_oi_cap"
	case e.ledger.WalletOI(x.trader)+notional > params.MaxWalletOI:
		return state.TradeKey{}, "wallet_oi_cap"
	case e.ledger.GlobalOI()+notional > fpmath.PercentOf(e.vault.CurrentBalance(), params.MaxPoolOIP):
		return state.TradeKey{}, "pool_cap"
	}

	slot := x.slot
	if !x.haveSlot {
		var ok bool
		slot, ok = e.ledger.FirstEmptySlot(x.trader, x.pair, params.MaxTradesPerPair)
		if !ok {
			return state.TradeKey{}, "no_slot"
		}
	}

	// Money movement: fee to the pool minus the referrer's cut, rebate and
	// execution reward out of escrow.
	e.vault.ReceiveAssets(x.trader, feeNet-rebate)
	if rebate > 0 {
		if referrer, ok := e.referral.Referrer(x.trader); ok {
			e.vault.AccrueRewards(x.trader, referrer, rebate)
		}
	}
	if x.execFee > 0 {
		if x.rewardCaller {
			e.vault.AccrueRewards(x.trader, x.execFeeTo, x.execFee)
		} else {
			e.vault.ReceiveAssets(x.trader, x.execFee)
		}
	}

	// Funding baseline and loss-protection tier are frozen now, before this
	// position's own notional shifts the skew.
	e.accrueFunding(pair)
	acc := e.funding.Acc(x.pair, x.long)
	tier, _ := fpmath.HighestQualifyingTier(pair.LossTiers(x.long), oi.SideShareP(!x.long))

	t := &state.Trade{
		Trader:     x.trader,
		Pair:       x.pair,
		Index:      slot,
		Long:       x.long,
		Leverage:   x.leverage,
		Collateral: collateralAfter,
		OpenPrice:  x.execPrice,
		TP:         x.tp,
		SL:         x.sl,
		OpenHeight: e.height,
	}
	e.ledger.StoreTrade(t, &state.TradeInfo{
		OpenInterest:       notional,
		TpLastUpdated:      e.height,
		SlLastUpdated:      e.height,
		LossProtectionTier: tier,
		InitialAccFundingP: acc,
	})
	e.ledger.AddOpenInterest(x.pair, x.long, x.trader, notional)

	return t.Key(), ""
}

// settleClose realizes closeCollateral worth of t at the delivered price and
// returns the payout and the impact-adjusted execution price. Handles both
// partial and full closes, including slot removal and open-interest release.
func (e *Engine) settleClose(t *state.Trade, info *state.TradeInfo, closeCollateral, price int64, pair *config.Pair, closeFeeP int64) (int64, int64) {
	trader, pairIdx, index := t.Trader, t.Pair, t.Index
	full := closeCollateral >= t.Collateral

	closedNotional := info.OpenInterest
	if !full {
		closedNotional = fpmath.MulDiv(info.OpenInterest, closeCollateral, t.Collateral)
	}

	execPrice := fpmath.PriceAfterImpact(
		fpmath.MarketExecutionPrice(price, pair.SpreadP, t.Long, false),
		fpmath.PriceImpactP(closedNotional, pair.OnePercentDepth),
		!t.Long,
	)

	e.accrueFunding(pair)
	fundingFee := e.funding.FeeOwed(pairIdx, t.Long, closedNotional, info.InitialAccFundingP)

	profitP := fpmath.CurrentPercentProfit(t.OpenPrice, execPrice, t.Long, t.Leverage)
	if profitP < 0 && info.LossProtectionTier > 0 {
		tiers := pair.LossTiers(t.Long)
		if info.LossProtectionTier <= len(tiers) {
			profitP = fpmath.ApplyLossProtection(profitP, tiers[info.LossProtectionTier-1].RebateP)
		}
	}

	closeFee := fpmath.PercentOf(closedNotional, closeFeeP)
	value := fpmath.NetCloseValue(closeCollateral, profitP, fundingFee, closeFee)

	if value <= closeCollateral {
		e.vault.ReleaseBalance(trader, value)
		e.vault.ReceiveAssets(trader, closeCollateral-value)
	} else {
		e.vault.ReleaseBalance(trader, closeCollateral)
		if err := e.vault.SendAssets(trader, value-closeCollateral); err != nil {
			e.log.Error().Err(err).
				Str("trader", trader.String()).
				Int64("payout", value-closeCollateral).
				Msg("pool payout failed")
		}
	}

	e.ledger.RemoveOpenInterest(pairIdx, t.Long, trader, closedNotional)

	if full {
		e.ledger.RemoveTrade(trader, pairIdx, index)
	} else {
		t.Collateral -= closeCollateral
		if info.OpenInterest > closedNotional {
			info.OpenInterest -= closedNotional
		} else {
			info.OpenInterest = 0
		}
	}
	return value, execPrice
}

func slippageExceeded(long bool, wanted, slippageP, execPrice int64) bool {
	if wanted == 0 {
		return false
	}
	tolerance := fpmath.PercentOf(wanted, slippageP)
	if long {
		return execPrice > wanted+tolerance
	}
	return execPrice < wanted-tolerance
}

func tpSlCrossed(long bool, execPrice, tp, sl int64) bool {
	if long {
		return (tp > 0 && execPrice >= tp) || (sl > 0 && execPrice <= sl)
	}
	return (tp > 0 && execPrice <= tp) || (sl > 0 && execPrice >= sl)
}

func limitBoundsMet(o *state.OpenLimitOrder, execPrice int64) bool {
	switch o.Kind {
	case state.OrderMomentum:
		// Breakout entry: fills once price moves through the bound.
		if o.Long {
			return execPrice >= o.MinPrice
		}
		return execPrice <= o.MaxPrice
	default:
		return execPrice >= o.MinPrice && execPrice <= o.MaxPrice
	}
}

func triggerConditionMet(kind state.TriggerKind, t *state.Trade, fundingFee, price int64) bool {
	switch kind {
	case state.TriggerTP:
		if t.TP == 0 {
			return false
		}
		if t.Long {
			return price >= t.TP
		}
		return price <= t.TP
	case state.TriggerSL:
		if t.SL == 0 {
			return false
		}
		if t.Long {
			return price <= t.SL
		}
		return price >= t.SL
	case state.TriggerLiq:
		liqPrice := fpmath.LiquidationPrice(t.OpenPrice, t.Long, t.Collateral, t.Leverage, fundingFee)
		if t.Long {
			return price <= liqPrice
		}
		return price >= liqPrice
	default:
		return false
	}
}

// refundCancelledOpen returns an order's escrow minus half the open fee,
// the processing cost of a cancelled open.
func (e *Engine) refundCancelledOpen(trader uuid.UUID, collateral, leverage, escrow int64, fee *config.Fee) {
	cost := fpmath.PercentOf(fpmath.LeveragedNotional(collateral, leverage), fee.OpenFeeP) / 2
	cost = minQuote(cost, escrow)
	e.vault.ReceiveAssets(trader, cost)
	e.vault.ReleaseBalance(trader, escrow-cost)
}
