package config

import (
	fpmath "PerpCore/internal/math"
)

// Default returns a single-group, two-pair configuration used when no config
// file is present and by the test suites. Values mirror the documented
// defaults: crypto group at 1x-150x, 0.08%/0.06% open/close fees, 2% max
// primary feed deviation.
func Default() *Store {
	p := fpmath.Precision

	groups := []*Group{
		{
			Index:           0,
			Name:            "crypto",
			MinLeverage:     1 * p,
			MaxLeverage:     150 * p,
			MaxOpenInterest: 50_000_000 * fpmath.QuoteScale,
		},
	}

	fees := []*Fee{
		{
			Index:          0,
			OpenFeeP:       scale(0.08),
			CloseFeeP:      scale(0.06),
			LimitOrderFeeP: scale(0.05),
			ExecutionFee:   2 * fpmath.QuoteScale,
			CancelFee:      1 * fpmath.QuoteScale,
			MinLevPos:      1_500 * fpmath.QuoteScale,
		},
	}

	pairs := []*Pair{
		{
			Index:      0,
			Name:       "BTC/USD",
			GroupIndex: 0,
			FeeIndex:   0,
			Feed: Feed{
				FeedID:        "btc-usd",
				MaxDeviationP: 2 * p,
			},
			SpreadP:         scale(0.04),
			OnePercentDepth: 10_000_000 * fpmath.QuoteScale,
			MaxOpenInterest: 20_000_000 * fpmath.QuoteScale,
			Listed:          true,
		},
		{
			Index:      1,
			Name:       "ETH/USD",
			GroupIndex: 0,
			FeeIndex:   0,
			Feed: Feed{
				FeedID:        "eth-usd",
				MaxDeviationP: 2 * p,
			},
			SpreadP:         scale(0.06),
			OnePercentDepth: 5_000_000 * fpmath.QuoteScale,
			MaxOpenInterest: 10_000_000 * fpmath.QuoteScale,
			Listed:          true,
		},
	}

	params := TradingParams{
		MaxTradesPerPair:       3,
		MaxPendingMarketOrders: 5,
		MaxSlP:                 75 * p,
		SlTimelock:             10,
		TpTimelock:             10,
		TriggerTimeout:         30,
		MaxWalletOI:            5_000_000 * fpmath.QuoteScale,
		MaxPoolOIP:             80 * p,
		FundingInterval:        50,
		FundingRatePerHeightP:  scale(0.000025),
		FundingFloorP:          p / 2,
		FundingCeilP:           5 * p,
		MinObservations:        1,
	}

	s, err := NewStore(pairs, groups, fees, params)
	if err != nil {
		// Static tables above are internally consistent.
		panic(err)
	}
	return s
}
