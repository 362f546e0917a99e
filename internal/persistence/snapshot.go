package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpCore/internal/state"
)

// SnapshotManager periodically persists the ledger state so a restart can
// skip replaying the full settlement log. Pending oracle requests are not
// part of a snapshot: their price requests die with the process and their
// escrow is reconciled when the order is re-submitted.
//
// Vault balances are likewise excluded. They are derivable from the
// settlement log and the deposit ledger upstream of this service.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of a ledger snapshot.
type SnapshotData struct {
	Height    int64              `json:"height"`
	GlobalOI  int64              `json:"global_oi"`
	Positions []positionJSON     `json:"positions"`
	Resting   []restingOrderJSON `json:"resting_orders"`
	PairOI    []pairOIJSON       `json:"pair_oi"`
	WalletOI  []walletOIJSON     `json:"wallet_oi"`
	Funding   []fundingJSON      `json:"funding"`
	CreatedAt time.Time          `json:"created_at"`

	// Checksum covers the rest of the snapshot; set at save, verified at
	// load.
	Checksum string `json:"checksum,omitempty"`
}

type positionJSON struct {
	TraderID   string `json:"trader_id"`
	Pair       uint16 `json:"pair"`
	Index      int    `json:"index"`
	Long       bool   `json:"long"`
	Leverage   int64  `json:"leverage"`
	Collateral int64  `json:"collateral"`
	OpenPrice  int64  `json:"open_price"`
	TP         int64  `json:"tp"`
	SL         int64  `json:"sl"`
	OpenHeight int64  `json:"open_height"`

	OpenInterest       int64 `json:"open_interest"`
	TpLastUpdated      int64 `json:"tp_last_updated"`
	SlLastUpdated      int64 `json:"sl_last_updated"`
	LossProtectionTier int   `json:"loss_protection_tier"`
	InitialAccFundingP int64 `json:"initial_acc_funding_p"`
}

type restingOrderJSON struct {
	TraderID     string `json:"trader_id"`
	Pair         uint16 `json:"pair"`
	Index        int    `json:"index"`
	PositionSize int64  `json:"position_size"`
	Long         bool   `json:"long"`
	Leverage     int64  `json:"leverage"`
	TP           int64  `json:"tp"`
	SL           int64  `json:"sl"`
	MinPrice     int64  `json:"min_price"`
	MaxPrice     int64  `json:"max_price"`
	Kind         uint8  `json:"kind"`
	PlacedHeight int64  `json:"placed_height"`
	ExecutionFee int64  `json:"execution_fee"`
}

type pairOIJSON struct {
	Pair  uint16 `json:"pair"`
	Long  int64  `json:"long"`
	Short int64  `json:"short"`
}

type walletOIJSON struct {
	TraderID string `json:"trader_id"`
	Notional int64  `json:"notional"`
}

type fundingJSON struct {
	Pair         uint16 `json:"pair"`
	AccLongP     int64  `json:"acc_long_p"`
	AccShortP    int64  `json:"acc_short_p"`
	LastAccruedH int64  `json:"last_accrued_h"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// BuildSnapshot converts live ledger and funding state into serializable form.
func BuildSnapshot(height int64, snap *state.SnapshotState, funding map[uint16]state.FundingPairState) *SnapshotData {
	out := &SnapshotData{
		Height:    height,
		GlobalOI:  snap.GlobalOI,
		CreatedAt: time.Now(),
	}

	for _, t := range snap.Trades {
		info := snap.Infos[t.Key()]
		p := positionJSON{
			TraderID:   t.Trader.String(),
			Pair:       t.Pair,
			Index:      t.Index,
			Long:       t.Long,
			Leverage:   t.Leverage,
			Collateral: t.Collateral,
			OpenPrice:  t.OpenPrice,
			TP:         t.TP,
			SL:         t.SL,
			OpenHeight: t.OpenHeight,
		}
		if info != nil {
			p.OpenInterest = info.OpenInterest
			p.TpLastUpdated = info.TpLastUpdated
			p.SlLastUpdated = info.SlLastUpdated
			p.LossProtectionTier = info.LossProtectionTier
			p.InitialAccFundingP = info.InitialAccFundingP
		}
		out.Positions = append(out.Positions, p)
	}

	for _, o := range snap.LimitOrders {
		out.Resting = append(out.Resting, restingOrderJSON{
			TraderID:     o.Trader.String(),
			Pair:         o.Pair,
			Index:        o.Index,
			PositionSize: o.PositionSize,
			Long:         o.Long,
			Leverage:     o.Leverage,
			TP:           o.TP,
			SL:           o.SL,
			MinPrice:     o.MinPrice,
			MaxPrice:     o.MaxPrice,
			Kind:         uint8(o.Kind),
			PlacedHeight: o.PlacedHeight,
			ExecutionFee: o.ExecutionFee,
		})
	}

	for pair, oi := range snap.OI {
		out.PairOI = append(out.PairOI, pairOIJSON{Pair: pair, Long: oi.Long, Short: oi.Short})
	}
	for trader, notional := range snap.WalletOI {
		out.WalletOI = append(out.WalletOI, walletOIJSON{TraderID: trader.String(), Notional: notional})
	}
	for pair, f := range funding {
		out.Funding = append(out.Funding, fundingJSON{
			Pair:         pair,
			AccLongP:     f.AccLongP,
			AccShortP:    f.AccShortP,
			LastAccruedH: f.LastAccruedH,
		})
	}

	return out
}

// RestoreInto loads a snapshot back into an empty ledger and funding tracker.
func (d *SnapshotData) RestoreInto(ledger *state.Ledger, funding *state.FundingTracker) error {
	snap := &state.SnapshotState{
		Infos:    make(map[state.TradeKey]*state.TradeInfo, len(d.Positions)),
		OI:       make(map[uint16]*state.PairOpenInterest, len(d.PairOI)),
		WalletOI: make(map[uuid.UUID]int64, len(d.WalletOI)),
		GlobalOI: d.GlobalOI,
	}

	for _, p := range d.Positions {
		trader, err := uuid.Parse(p.TraderID)
		if err != nil {
			return fmt.Errorf("snapshot position trader_id: %w", err)
		}
		t := &state.Trade{
			Trader:     trader,
			Pair:       p.Pair,
			Index:      p.Index,
			Long:       p.Long,
			Leverage:   p.Leverage,
			Collateral: p.Collateral,
			OpenPrice:  p.OpenPrice,
			TP:         p.TP,
			SL:         p.SL,
			OpenHeight: p.OpenHeight,
		}
		snap.Trades = append(snap.Trades, t)
		snap.Infos[t.Key()] = &state.TradeInfo{
			OpenInterest:       p.OpenInterest,
			TpLastUpdated:      p.TpLastUpdated,
			SlLastUpdated:      p.SlLastUpdated,
			LossProtectionTier: p.LossProtectionTier,
			InitialAccFundingP: p.InitialAccFundingP,
		}
	}

	for _, o := range d.Resting {
		trader, err := uuid.Parse(o.TraderID)
		if err != nil {
			return fmt.Errorf("snapshot resting order trader_id: %w", err)
		}
		snap.LimitOrders = append(snap.LimitOrders, state.OpenLimitOrder{
			Trader:       trader,
			Pair:         o.Pair,
			Index:        o.Index,
			PositionSize: o.PositionSize,
			Long:         o.Long,
			Leverage:     o.Leverage,
			TP:           o.TP,
			SL:           o.SL,
			MinPrice:     o.MinPrice,
			MaxPrice:     o.MaxPrice,
			Kind:         state.OrderKind(o.Kind),
			PlacedHeight: o.PlacedHeight,
			ExecutionFee: o.ExecutionFee,
		})
	}

	for _, oi := range d.PairOI {
		snap.OI[oi.Pair] = &state.PairOpenInterest{Long: oi.Long, Short: oi.Short}
	}
	for _, w := range d.WalletOI {
		trader, err := uuid.Parse(w.TraderID)
		if err != nil {
			return fmt.Errorf("snapshot wallet_oi trader_id: %w", err)
		}
		snap.WalletOI[trader] = w.Notional
	}

	ledger.Restore(snap)
	for _, f := range d.Funding {
		funding.RestorePair(f.Pair, f.AccLongP, f.AccShortP, f.LastAccruedH)
	}
	return nil
}

// Save persists a snapshot, replacing any prior snapshot at the same height.
func (sm *SnapshotManager) Save(ctx context.Context, snap *SnapshotData) error {
	snap.Checksum = ""
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	snap.Checksum = snapshotChecksum(snap.Height, body)

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO settlement_log.snapshots (snapshot_id, height, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (height) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), snap.Height, data, len(data), snap.CreatedAt)

	return err
}

// LoadLatest returns the most recent snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM settlement_log.snapshots
		ORDER BY height DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	want := snap.Checksum
	if want != "" {
		snap.Checksum = ""
		body, err := json.Marshal(&snap)
		if err != nil {
			return nil, fmt.Errorf("remarshal snapshot: %w", err)
		}
		if got := snapshotChecksum(snap.Height, body); got != want {
			return nil, fmt.Errorf("snapshot checksum mismatch at height %d", snap.Height)
		}
		snap.Checksum = want
	}
	return &snap, nil
}
