package query

// Every response carries AsOfHeight so clients can reason about freshness:
// projections lag the settlement loop by whatever sits in the publish
// channel.

// TraderStatsResponse aggregates a trader's settlement activity.
type TraderStatsResponse struct {
	TraderID    string `json:"trader_id"`
	Settlements int64  `json:"settlements"`
	Executed    int64  `json:"executed"`
	PayoutTotal int64  `json:"payout_total"`
	AsOfHeight  int64  `json:"as_of_height"`
}

// PairStatsResponse aggregates settlement activity on one pair.
type PairStatsResponse struct {
	Pair        uint16 `json:"pair"`
	Settlements int64  `json:"settlements"`
	Executed    int64  `json:"executed"`
	Cancelled   int64  `json:"cancelled"`
	PayoutTotal int64  `json:"payout_total"`
	LastPrice   int64  `json:"last_price"`
	AsOfHeight  int64  `json:"as_of_height"`
}

// SettlementEntry is one row of a trader's settlement history.
type SettlementEntry struct {
	RequestID  uint64 `json:"request_id"`
	Kind       string `json:"kind"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	Pair       uint16 `json:"pair"`
	Slot       int    `json:"slot"`
	Price      int64  `json:"price"`
	Collateral int64  `json:"collateral"`
	Payout     int64  `json:"payout"`
	Height     int64  `json:"height"`
}

// SettlementHistoryResponse is a page of settlement history.
type SettlementHistoryResponse struct {
	TraderID   string            `json:"trader_id"`
	Entries    []SettlementEntry `json:"entries"`
	AsOfHeight int64             `json:"as_of_height"`
}

// PricePointResponse is one recent execution price.
type PricePointResponse struct {
	Height int64 `json:"height"`
	Price  int64 `json:"price"`
}

// PriceHistoryResponse is the recent execution prices for a pair,
// newest first.
type PriceHistoryResponse struct {
	Pair   uint16               `json:"pair"`
	Points []PricePointResponse `json:"points"`
}
