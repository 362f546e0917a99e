package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	fpmath "PerpCore/internal/math"
)

const configFilePathENV = "PERP_CONFIG_FILE"

// fileSchema is the YAML wire format. All percent and leverage fields are
// plain decimals in the file (e.g. leverage 100 means 100x, percent 0.1 means
// 0.1%) and are rescaled to Precision units on load.
type fileSchema struct {
	Operator string `yaml:"operator_key"`

	Params struct {
		MaxTradesPerPair       int     `yaml:"max_trades_per_pair"`
		MaxPendingMarketOrders int     `yaml:"max_pending_market_orders"`
		MaxSlPct               float64 `yaml:"max_sl_pct"`
		SlTimelock             int64   `yaml:"sl_timelock"`
		TpTimelock             int64   `yaml:"tp_timelock"`
		TriggerTimeout         int64   `yaml:"trigger_timeout"`
		MaxWalletOI            int64   `yaml:"max_wallet_oi"`
		MaxPoolOIPct           float64 `yaml:"max_pool_oi_pct"`
		FundingInterval        int64   `yaml:"funding_interval"`
		FundingRatePctPerBlock float64 `yaml:"funding_rate_pct_per_block"`
		FundingFloor           float64 `yaml:"funding_floor"`
		FundingCeil            float64 `yaml:"funding_ceil"`
		MinObservations        int     `yaml:"min_observations"`
	} `yaml:"params"`

	Groups []struct {
		Index       uint16  `yaml:"index"`
		Name        string  `yaml:"name"`
		MinLeverage float64 `yaml:"min_leverage"`
		MaxLeverage float64 `yaml:"max_leverage"`
		MaxOI       int64   `yaml:"max_oi"`
	} `yaml:"groups"`

	Fees []struct {
		Index        uint16  `yaml:"index"`
		OpenPct      float64 `yaml:"open_pct"`
		ClosePct     float64 `yaml:"close_pct"`
		LimitPct     float64 `yaml:"limit_pct"`
		ExecutionFee int64   `yaml:"execution_fee"`
		CancelFee    int64   `yaml:"cancel_fee"`
		MinLevPos    int64   `yaml:"min_lev_pos"`
	} `yaml:"fees"`

	Pairs []struct {
		Index           uint16  `yaml:"index"`
		Name            string  `yaml:"name"`
		Group           uint16  `yaml:"group"`
		Fee             uint16  `yaml:"fee"`
		FeedID          string  `yaml:"feed_id"`
		MaxDeviationPct float64 `yaml:"max_deviation_pct"`
		BackupFeedID    string  `yaml:"backup_feed_id"`
		BackupDevPct    float64 `yaml:"backup_deviation_pct"`
		SpreadPct       float64 `yaml:"spread_pct"`
		OnePercentDepth int64   `yaml:"one_percent_depth"`
		MaxOI           int64   `yaml:"max_oi"`
		GuaranteedSl    bool    `yaml:"guaranteed_sl"`
		Listed          bool    `yaml:"listed"`

		LossTiersLong []struct {
			SkewPct   float64 `yaml:"skew_pct"`
			RebatePct float64 `yaml:"rebate_pct"`
		} `yaml:"loss_tiers_long"`
		LossTiersShort []struct {
			SkewPct   float64 `yaml:"skew_pct"`
			RebatePct float64 `yaml:"rebate_pct"`
		} `yaml:"loss_tiers_short"`
	} `yaml:"pairs"`
}

// Load reads the pair/group/fee configuration from the YAML file named by
// PERP_CONFIG_FILE, or from the given path when non-empty.
func Load(path string) (*Store, error) {
	if path == "" {
		path = os.Getenv(configFilePathENV)
	}
	if path == "" {
		return nil, fmt.Errorf("no config file: set %s or pass a path", configFilePathENV)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f fileSchema
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return fromSchema(&f)
}

func fromSchema(f *fileSchema) (*Store, error) {
	groups := make([]*Group, 0, len(f.Groups))
	for _, g := range f.Groups {
		groups = append(groups, &Group{
			Index:           g.Index,
			Name:            g.Name,
			MinLeverage:     scale(g.MinLeverage),
			MaxLeverage:     scale(g.MaxLeverage),
			MaxOpenInterest: g.MaxOI,
		})
	}

	fees := make([]*Fee, 0, len(f.Fees))
	for _, fe := range f.Fees {
		fees = append(fees, &Fee{
			Index:          fe.Index,
			OpenFeeP:       scale(fe.OpenPct),
			CloseFeeP:      scale(fe.ClosePct),
			LimitOrderFeeP: scale(fe.LimitPct),
			ExecutionFee:   fe.ExecutionFee,
			CancelFee:      fe.CancelFee,
			MinLevPos:      fe.MinLevPos,
		})
	}

	pairs := make([]*Pair, 0, len(f.Pairs))
	for _, pr := range f.Pairs {
		p := &Pair{
			Index:      pr.Index,
			Name:       pr.Name,
			GroupIndex: pr.Group,
			FeeIndex:   pr.Fee,
			Feed: Feed{
				FeedID:        pr.FeedID,
				MaxDeviationP: scale(pr.MaxDeviationPct),
			},
			SpreadP:             scale(pr.SpreadPct),
			OnePercentDepth:     pr.OnePercentDepth,
			MaxOpenInterest:     pr.MaxOI,
			GuaranteedSlEnabled: pr.GuaranteedSl,
			Listed:              pr.Listed,
		}
		if pr.BackupFeedID != "" {
			p.Feed.Backup = &BackupFeed{
				FeedID:        pr.BackupFeedID,
				MaxDeviationP: scale(pr.BackupDevPct),
			}
		}
		for _, t := range pr.LossTiersLong {
			p.LossTiersLong = append(p.LossTiersLong, fpmath.LossTier{
				SkewP: scale(t.SkewPct), RebateP: scale(t.RebatePct),
			})
		}
		for _, t := range pr.LossTiersShort {
			p.LossTiersShort = append(p.LossTiersShort, fpmath.LossTier{
				SkewP: scale(t.SkewPct), RebateP: scale(t.RebatePct),
			})
		}
		pairs = append(pairs, p)
	}

	params := TradingParams{
		MaxTradesPerPair:       f.Params.MaxTradesPerPair,
		MaxPendingMarketOrders: f.Params.MaxPendingMarketOrders,
		MaxSlP:                 scale(f.Params.MaxSlPct),
		SlTimelock:             f.Params.SlTimelock,
		TpTimelock:             f.Params.TpTimelock,
		TriggerTimeout:         f.Params.TriggerTimeout,
		MaxWalletOI:            f.Params.MaxWalletOI,
		MaxPoolOIP:             scale(f.Params.MaxPoolOIPct),
		FundingInterval:        f.Params.FundingInterval,
		FundingRatePerHeightP:  scale(f.Params.FundingRatePctPerBlock),
		FundingFloorP:          scale(f.Params.FundingFloor),
		FundingCeilP:           scale(f.Params.FundingCeil),
		MinObservations:        f.Params.MinObservations,
	}

	s, err := NewStore(pairs, groups, fees, params)
	if err != nil {
		return nil, err
	}
	s.operatorKey = f.Operator
	return s, nil
}

// scale converts a plain decimal (percent or leverage-x) to Precision units.
// Values in config files are small, so float conversion is exact enough; all
// runtime arithmetic stays in int64.
func scale(v float64) int64 {
	return int64(v * float64(fpmath.Precision))
}
