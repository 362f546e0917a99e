package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs. Prices, percentages and leverage share the 10-decimal
	// scale; quote-asset amounts (collateral, fees, payouts) use the 6-decimal
	// scale. Conversions between the two are explicit at every formula boundary.
	PriceConfig = DecimalConfig{DecimalPrecision: 10, Scale: 10_000_000_000}
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

const (
	// Precision is the price/percent/leverage scale (1.0 == 1e10).
	Precision int64 = 10_000_000_000

	// QuoteScale is the quote-asset amount scale (1.0 == 1e6).
	QuoteScale int64 = 1_000_000

	// PercentBase represents 100% at Precision scale.
	PercentBase int64 = 100 * Precision
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulDiv computes a * b / denom using int128 intermediates to prevent overflow.
// Truncates toward zero: every scale conversion in the settlement math must be
// exact and replay-consistent, so rounding direction never depends on magnitude.
func MulDiv(a, b, denom int64) int64 {
	if denom == 0 {
		return 0
	}

	product := getInt128()
	product.Mul(big.NewInt(a), big.NewInt(b))
	product.Quo(product, big.NewInt(denom))

	result := product.Int64()
	putInt128(product)

	return result
}

// MulDiv2 computes a * b / (d1 * d2) in one int128 pass.
// Used where d1*d2 would itself overflow int64 (e.g. Precision * Precision).
func MulDiv2(a, b, d1, d2 int64) int64 {
	if d1 == 0 || d2 == 0 {
		return 0
	}

	product := getInt128()
	denom := getInt128()
	product.Mul(big.NewInt(a), big.NewInt(b))
	denom.Mul(big.NewInt(d1), big.NewInt(d2))
	product.Quo(product, denom)

	result := product.Int64()
	putInt128(product)
	putInt128(denom)

	return result
}

// PercentOf applies a percentage (Precision percent units, 1% == Precision)
// to an amount, preserving the amount's scale.
func PercentOf(amount, percentP int64) int64 {
	return MulDiv(amount, percentP, PercentBase)
}

// LeveragedNotional converts collateral (quote scale) and leverage
// (Precision scale) into leveraged notional in quote units.
func LeveragedNotional(collateral, leverage int64) int64 {
	return MulDiv(collateral, leverage, Precision)
}

// LeverageFromNotional derives leverage (Precision scale) from a leveraged
// notional and a collateral amount, both in quote units. Returns 0 when the
// collateral is not positive.
func LeverageFromNotional(notional, collateral int64) int64 {
	if collateral <= 0 {
		return 0
	}
	return MulDiv(notional, Precision, collateral)
}
