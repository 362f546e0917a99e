package state

import (
	fpmath "PerpCore/internal/math"
)

// FundingTracker keeps the per-pair rollover accumulators: two running totals
// (long side, short side) in Precision percent units of leveraged notional.
// Accrual is lazy: the first access after the configured interval has
// elapsed rolls the accumulators forward before any read.
type FundingTracker struct {
	pairs map[uint16]*pairFunding
}

type pairFunding struct {
	AccLongP     int64 // Precision percent units
	AccShortP    int64
	LastAccruedH int64
}

// FundingParams are the accrual knobs, sourced from the config collaborator.
type FundingParams struct {
	Interval      int64 // Minimum elapsed heights before an accrual step
	RatePerHeight int64 // Precision percent units
	FloorP        int64 // Skew multiplier floor
	CeilP         int64 // Skew multiplier ceiling
}

func NewFundingTracker() *FundingTracker {
	return &FundingTracker{pairs: make(map[uint16]*pairFunding)}
}

func (f *FundingTracker) pair(pairIndex uint16) *pairFunding {
	p, ok := f.pairs[pairIndex]
	if !ok {
		p = &pairFunding{}
		f.pairs[pairIndex] = p
	}
	return p
}

// Accrue rolls the pair's accumulators forward to the given height if at
// least params.Interval heights have elapsed since the last step. The open
// interest and the group cap feed the utilization and skew multipliers.
func (f *FundingTracker) Accrue(pairIndex uint16, height int64, params FundingParams, oi *PairOpenInterest, groupMaxOI int64) {
	p := f.pair(pairIndex)

	if p.LastAccruedH == 0 {
		// First contact for the pair: start the clock, accrue nothing.
		p.LastAccruedH = height
		return
	}

	elapsed := height - p.LastAccruedH
	if elapsed < params.Interval {
		return
	}

	utilMult := fpmath.UtilizationMultiplier(oi.Total(), groupMaxOI)
	longMult := fpmath.SkewMultiplier(oi.SideShareP(true), params.FloorP, params.CeilP)
	shortMult := fpmath.SkewMultiplier(oi.SideShareP(false), params.FloorP, params.CeilP)

	p.AccLongP += fpmath.FundingAccrualDelta(elapsed, params.RatePerHeight, utilMult, longMult)
	p.AccShortP += fpmath.FundingAccrualDelta(elapsed, params.RatePerHeight, utilMult, shortMult)
	p.LastAccruedH = height
}

// Acc returns the current accumulator for a side, in Precision percent units.
func (f *FundingTracker) Acc(pairIndex uint16, long bool) int64 {
	p := f.pair(pairIndex)
	if long {
		return p.AccLongP
	}
	return p.AccShortP
}

// FeeOwed converts the accumulator delta since a position's baseline into the
// quote-asset funding fee against its leveraged notional.
func (f *FundingTracker) FeeOwed(pairIndex uint16, long bool, leveragedNotional, baselineAccP int64) int64 {
	delta := f.Acc(pairIndex, long) - baselineAccP
	if delta <= 0 {
		return 0
	}
	return fpmath.FundingFee(leveragedNotional, delta)
}

// RestorePair loads accumulator state on warm restart.
func (f *FundingTracker) RestorePair(pairIndex uint16, accLongP, accShortP, lastAccruedH int64) {
	f.pairs[pairIndex] = &pairFunding{
		AccLongP:     accLongP,
		AccShortP:    accShortP,
		LastAccruedH: lastAccruedH,
	}
}

// FundingPairState is the serializable accumulator state for one pair.
type FundingPairState struct {
	AccLongP     int64
	AccShortP    int64
	LastAccruedH int64
}

// Export copies every pair's accumulators for snapshotting.
func (f *FundingTracker) Export() map[uint16]FundingPairState {
	out := make(map[uint16]FundingPairState, len(f.pairs))
	for k, p := range f.pairs {
		out[k] = FundingPairState{
			AccLongP:     p.AccLongP,
			AccShortP:    p.AccShortP,
			LastAccruedH: p.LastAccruedH,
		}
	}
	return out
}
