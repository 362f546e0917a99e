package math

// MarketExecutionPrice computes the effective execution price for an order:
// the delivered consensus price adjusted by the pair spread and, when the pair
// has configured depth, by open-interest price impact.
//
// spreadP is in Precision percent units (1% == Precision). Opens pay the
// spread against themselves (long opens above, short opens below); closes pay
// it the other way.
func MarketExecutionPrice(price, spreadP int64, long, open bool) int64 {
	if spreadP == 0 {
		return price
	}

	delta := PercentOf(price, spreadP)
	if long == open {
		return price + delta
	}
	return price - delta
}

// PriceImpactP returns the impact percentage (Precision percent units) for a
// leveraged notional (quote units) against a pair's one-percent depth (quote
// units). A notional equal to the depth moves the price by exactly 1%.
// Zero depth disables impact.
func PriceImpactP(notional, onePercentDepth int64) int64 {
	if onePercentDepth == 0 {
		return 0
	}
	return MulDiv(notional, Precision, onePercentDepth)
}

// PriceAfterImpact applies an impact percentage to an execution price.
// Longs open worse (higher), shorts open worse (lower).
func PriceAfterImpact(price, impactP int64, long bool) int64 {
	if impactP == 0 {
		return price
	}

	delta := PercentOf(price, impactP)
	if long {
		return price + delta
	}
	return price - delta
}
