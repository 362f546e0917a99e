package math

import "math/big"

const (
	// Skew multiplier regime boundaries: a side whose share of pair open
	// interest exceeds 60% pays quadratically escalating funding; a side
	// below 31% pays the configured floor rate.
	skewEscalationP int64 = 60 * Precision
	skewDiscountP   int64 = 31 * Precision
)

// UtilizationMultiplier returns pair open interest over the group's max open
// interest as a Precision-scaled multiplier, capped at 1.0. Both inputs are
// quote-scaled notionals.
func UtilizationMultiplier(pairOI, groupMaxOI int64) int64 {
	if groupMaxOI <= 0 {
		return 0
	}

	m := MulDiv(pairOI, Precision, groupMaxOI)
	if m > Precision {
		return Precision
	}
	return m
}

// SkewMultiplier returns the long-or-short funding multiplier for a side
// holding sideShareP of the pair's open interest.
//
// Base is 1.0. Above 60% share the multiplier escalates quadratically over
// the remaining 40% span up to ceilingP; below 31% it drops to floorP.
func SkewMultiplier(sideShareP, floorP, ceilingP int64) int64 {
	if sideShareP < skewDiscountP {
		return floorP
	}
	if sideShareP <= skewEscalationP {
		return Precision
	}

	over := sideShareP - skewEscalationP
	span := PercentBase - skewEscalationP
	// quadratic ramp: (over/span)^2 scaled into [1.0, ceiling]
	ramp := MulDiv(MulDiv(over, Precision, span), MulDiv(over, Precision, span), Precision)
	m := Precision + MulDiv(ceilingP-Precision, ramp, Precision)

	if m > ceilingP {
		return ceilingP
	}
	return m
}

// FundingAccrualDelta computes the accumulator increment for one side over
// elapsed height units:
//
//	sideMult x utilMult x elapsed x ratePerHeight / Precision^2
//
// sideMult and utilMult are Precision-scaled multipliers, ratePerHeight is in
// Precision percent units per height; the result is in Precision percent
// units of leveraged notional.
func FundingAccrualDelta(elapsed, ratePerHeight, utilMult, sideMult int64) int64 {
	if elapsed <= 0 {
		return 0
	}

	// Full int128 chain: sideMult * utilMult * elapsed * rate can exceed
	// int64 long before the final division brings it back into range.
	num := getInt128()
	num.Mul(big.NewInt(sideMult), big.NewInt(utilMult))
	num.Mul(num, big.NewInt(elapsed))
	num.Mul(num, big.NewInt(ratePerHeight))

	denom := getInt128()
	denom.Mul(big.NewInt(Precision), big.NewInt(Precision))
	num.Quo(num, denom)

	result := num.Int64()
	putInt128(num)
	putInt128(denom)

	return result
}

// FundingFee converts an accumulator delta (Precision percent units) into a
// quote-asset fee against a position's leveraged notional.
func FundingFee(leveragedNotional, accDelta int64) int64 {
	return PercentOf(leveragedNotional, accDelta)
}
