package persistence_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"PerpCore/internal/persistence"
	"PerpCore/internal/state"
)

func TestSnapshotRoundTrip(t *testing.T) {
	trader := uuid.New()
	other := uuid.New()

	src := state.NewLedger()
	src.StoreTrade(&state.Trade{
		Trader:     trader,
		Pair:       1,
		Index:      0,
		Long:       true,
		Leverage:   100_000_000_000,
		Collateral: 1_000_000_000,
		OpenPrice:  1_000_000_000_000,
		TP:         1_100_000_000_000,
		OpenHeight: 42,
	}, &state.TradeInfo{
		OpenInterest:       10_000_000_000,
		TpLastUpdated:      42,
		LossProtectionTier: 2,
		InitialAccFundingP: 7,
	})
	src.StoreLimitOrder(state.OpenLimitOrder{
		Trader:       other,
		Pair:         1,
		Index:        1,
		PositionSize: 500_000_000,
		Leverage:     50_000_000_000,
		MinPrice:     900_000_000_000,
		MaxPrice:     950_000_000_000,
		Kind:         state.OrderReversal,
		PlacedHeight: 40,
		ExecutionFee: 2_000_000,
	})
	src.AddOpenInterest(1, true, trader, 10_000_000_000)

	srcFunding := state.NewFundingTracker()
	srcFunding.RestorePair(1, 300, 150, 42)

	snap := persistence.BuildSnapshot(42, src.Snapshot(), srcFunding.Export())

	// Through the wire format, as Save/LoadLatest would.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var loaded persistence.SnapshotData
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	dst := state.NewLedger()
	dstFunding := state.NewFundingTracker()
	if err := loaded.RestoreInto(dst, dstFunding); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got := dst.Trade(trader, 1, 0)
	if !got.IsOpen() {
		t.Fatal("restored position not open")
	}
	if got.OpenPrice != 1_000_000_000_000 || got.Leverage != 100_000_000_000 {
		t.Errorf("position: got price=%d lev=%d", got.OpenPrice, got.Leverage)
	}
	info := dst.Info(trader, 1, 0)
	if info == nil || info.LossProtectionTier != 2 || info.InitialAccFundingP != 7 {
		t.Errorf("info not restored: %+v", info)
	}

	order := dst.LimitOrder(other, 1, 1)
	if order == nil {
		t.Fatal("restored resting order missing")
	}
	if order.Kind != state.OrderReversal || order.ExecutionFee != 2_000_000 {
		t.Errorf("resting order: got kind=%v fee=%d", order.Kind, order.ExecutionFee)
	}

	if oi := dst.PairOI(1); oi.Long != 10_000_000_000 {
		t.Errorf("pair oi: got %d, want 10_000_000_000", oi.Long)
	}
	if dst.GlobalOI() != 10_000_000_000 {
		t.Errorf("global oi: got %d", dst.GlobalOI())
	}
	if dst.WalletOI(trader) != 10_000_000_000 {
		t.Errorf("wallet oi: got %d", dst.WalletOI(trader))
	}

	f := dstFunding.Export()[1]
	if f.AccLongP != 300 || f.AccShortP != 150 || f.LastAccruedH != 42 {
		t.Errorf("funding: got %+v", f)
	}
}

func TestSnapshotInvalidTraderID(t *testing.T) {
	snap := persistence.SnapshotData{}
	data := []byte(`{"positions":[{"trader_id":"garbage","pair":1}]}`)
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := snap.RestoreInto(state.NewLedger(), state.NewFundingTracker()); err == nil {
		t.Error("bad trader_id: want error, got nil")
	}
}
