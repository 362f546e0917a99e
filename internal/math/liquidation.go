package math

const (
	// MaxGainP caps percent-profit at +900% of collateral.
	MaxGainP int64 = 900 * Precision

	// LiqThresholdP is the loss fraction of collateral at which a close pays
	// out nothing: a payout at or below (100% - LiqThresholdP) of collateral
	// is floored to zero.
	LiqThresholdP int64 = 90 * Precision
)

// LiquidationPrice solves for the price at which a position's remaining value
// hits the liquidation threshold: collateral x 90% minus the funding fee
// accrued since open, distributed linearly over collateral x leverage.
//
// openPrice is Precision-scaled, collateral and fundingFee are quote-scaled,
// leverage is Precision-scaled. The result is floored at zero.
func LiquidationPrice(openPrice int64, long bool, collateral, leverage, fundingFee int64) int64 {
	if collateral <= 0 || leverage <= 0 {
		return 0
	}

	target := PercentOf(collateral, 90*Precision) - fundingFee
	distance := MulDiv(MulDiv(openPrice, target, collateral), Precision, leverage)

	var liqPrice int64
	if long {
		liqPrice = openPrice - distance
	} else {
		liqPrice = openPrice + distance
	}

	if liqPrice < 0 {
		return 0
	}
	return liqPrice
}

// CurrentPercentProfit returns the position's profit as a percentage of
// collateral (Precision percent units), clamped to [-100%, +900%].
func CurrentPercentProfit(openPrice, currentPrice int64, long bool, leverage int64) int64 {
	if openPrice == 0 {
		return 0
	}

	var diff int64
	if long {
		diff = currentPrice - openPrice
	} else {
		diff = openPrice - currentPrice
	}

	p := MulDiv(diff, leverage*100, openPrice)

	if p < -PercentBase {
		return -PercentBase
	}
	if p > MaxGainP {
		return MaxGainP
	}
	return p
}

// MaxSlDistance returns the widest stop-loss distance from the open price
// allowed by maxSlP (maximum tolerated loss as a percent of collateral).
// A loss of maxSlP% at the given leverage corresponds to a price move of
// maxSlP/leverage percent.
func MaxSlDistance(openPrice, leverage, maxSlP int64) int64 {
	if leverage <= 0 {
		return 0
	}
	return MulDiv(PercentOf(openPrice, maxSlP), Precision, leverage)
}

// NetCloseValue computes the quote-asset payout for closing collateral worth
// of a position at the given percent-profit, after funding and closing fees.
// A payout at or below the liquidation threshold fraction of collateral is
// floored to zero, as is any negative result.
func NetCloseValue(collateral, profitP, fundingFee, closingFee int64) int64 {
	value := collateral + PercentOf(collateral, profitP) - fundingFee - closingFee

	threshold := PercentOf(collateral, PercentBase-LiqThresholdP)
	if value <= threshold {
		return 0
	}
	return value
}

// LossTier is one row of a pair's loss-protection table: positions opened
// while the opposing side's share of pair open interest is at least SkewP
// qualify for a RebateP reduction of realized losses.
type LossTier struct {
	SkewP   int64 // Opposing-side OI share threshold, Precision percent units
	RebateP int64 // Loss rebate, Precision percent units
}

// HighestQualifyingTier scans a monotonic tier table from the top and returns
// the index and rebate of the highest tier whose threshold is met. Tier 0 with
// no rebate is returned when no tier qualifies or the table is empty.
func HighestQualifyingTier(tiers []LossTier, skewP int64) (tier int, rebateP int64) {
	for i := len(tiers) - 1; i >= 0; i-- {
		if skewP >= tiers[i].SkewP {
			return i + 1, tiers[i].RebateP
		}
	}
	return 0, 0
}

// ApplyLossProtection reduces a negative PnL by the tier rebate percentage.
// Positive PnL is returned unchanged: protection only softens losses.
func ApplyLossProtection(pnl, rebateP int64) int64 {
	if pnl >= 0 || rebateP == 0 {
		return pnl
	}
	return pnl - PercentOf(pnl, rebateP)
}
