package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PerpCore/internal/ingestion"
	"PerpCore/internal/state"
)

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseOpenOrder(t *testing.T) {
	payload := map[string]interface{}{
		"trader_id":    "550e8400-e29b-41d4-a716-446655440000",
		"pair":         uint16(1),
		"side":         "long",
		"leverage":     int64(100_000_000_000), // 10x
		"collateral":   int64(1_000_000_000),
		"tp":           int64(0),
		"sl":           int64(0),
		"kind":         "market",
		"wanted_price": int64(500_000_000_000_000),
		"max_price":    int64(0),
		"slippage_p":   int64(10_000_000_000),
	}

	raw := rawFromJSON(t, "perp.orders.open", payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	open, ok := cmd.(ingestion.OpenCommand)
	if !ok {
		t.Fatalf("expected OpenCommand, got %T", cmd)
	}
	if open.Order.Trader.String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("trader: got %s", open.Order.Trader)
	}
	if !open.Order.Long {
		t.Error("side: got short, want long")
	}
	if open.Order.Kind != state.OrderMarket {
		t.Errorf("kind: got %v, want market", open.Order.Kind)
	}
	if open.Order.Leverage != 100_000_000_000 {
		t.Errorf("leverage: got %d, want 100_000_000_000", open.Order.Leverage)
	}
	if open.Order.WantedPrice != 500_000_000_000_000 {
		t.Errorf("wanted_price: got %d", open.Order.WantedPrice)
	}
}

func TestParseOpenOrderRestingKinds(t *testing.T) {
	for _, tc := range []struct {
		wire string
		want state.OrderKind
	}{
		{"limit", state.OrderLimit},
		{"reversal", state.OrderReversal},
		{"momentum", state.OrderMomentum},
	} {
		payload := map[string]interface{}{
			"trader_id":    "550e8400-e29b-41d4-a716-446655440000",
			"pair":         uint16(1),
			"side":         "short",
			"leverage":     int64(50_000_000_000),
			"collateral":   int64(500_000_000),
			"kind":         tc.wire,
			"wanted_price": int64(490_000_000_000_000),
			"max_price":    int64(510_000_000_000_000),
		}
		cmd, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.open", payload))
		if err != nil {
			t.Fatalf("parse %s failed: %v", tc.wire, err)
		}
		open := cmd.(ingestion.OpenCommand)
		if open.Order.Kind != tc.want {
			t.Errorf("kind %s: got %v, want %v", tc.wire, open.Order.Kind, tc.want)
		}
		if open.Order.Long {
			t.Errorf("kind %s: got long, want short", tc.wire)
		}
	}
}

func TestParseOpenOrderRejectsBadInput(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"trader_id":  "550e8400-e29b-41d4-a716-446655440000",
			"pair":       uint16(1),
			"side":       "long",
			"leverage":   int64(100_000_000_000),
			"collateral": int64(1_000_000_000),
			"kind":       "market",
		}
	}

	badTrader := base()
	badTrader["trader_id"] = "not-a-uuid"
	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.open", badTrader)); err == nil {
		t.Error("bad trader_id: want error, got nil")
	}

	badKind := base()
	badKind["kind"] = "stop"
	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.open", badKind)); err == nil {
		t.Error("unknown kind: want error, got nil")
	}

	badSide := base()
	badSide["side"] = "both"
	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.open", badSide)); err == nil {
		t.Error("unknown side: want error, got nil")
	}
}

func TestParseCloseAndMargin(t *testing.T) {
	closeCmd, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.close", map[string]interface{}{
		"trader_id": "660e8400-e29b-41d4-a716-446655440001",
		"pair":      uint16(2),
		"index":     1,
		"amount":    int64(250_000_000),
	}))
	if err != nil {
		t.Fatalf("parse close failed: %v", err)
	}
	cl := closeCmd.(ingestion.CloseCommand)
	if cl.Pair != 2 || cl.Index != 1 || cl.Amount != 250_000_000 {
		t.Errorf("close: got pair=%d index=%d amount=%d", cl.Pair, cl.Index, cl.Amount)
	}

	marginCmd, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.margin", map[string]interface{}{
		"trader_id": "660e8400-e29b-41d4-a716-446655440001",
		"pair":      uint16(2),
		"index":     0,
		"direction": "withdraw",
		"amount":    int64(100_000_000),
	}))
	if err != nil {
		t.Fatalf("parse margin failed: %v", err)
	}
	mg := marginCmd.(ingestion.MarginCommand)
	if !mg.Withdraw {
		t.Error("margin: got deposit, want withdraw")
	}
	if mg.Amount != 100_000_000 {
		t.Errorf("margin amount: got %d, want 100_000_000", mg.Amount)
	}

	badDir := map[string]interface{}{
		"trader_id": "660e8400-e29b-41d4-a716-446655440001",
		"pair":      uint16(2),
		"direction": "sideways",
		"amount":    int64(1),
	}
	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.margin", badDir)); err == nil {
		t.Error("bad direction: want error, got nil")
	}
}

func TestParseTrigger(t *testing.T) {
	for _, tc := range []struct {
		wire string
		want state.TriggerKind
	}{
		{"tp", state.TriggerTP},
		{"sl", state.TriggerSL},
		{"liq", state.TriggerLiq},
		{"limit_open", state.TriggerLimitOpen},
	} {
		cmd, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.trigger", map[string]interface{}{
			"caller_id": "770e8400-e29b-41d4-a716-446655440002",
			"kind":      tc.wire,
			"trader_id": "660e8400-e29b-41d4-a716-446655440001",
			"pair":      uint16(1),
			"index":     2,
		}))
		if err != nil {
			t.Fatalf("parse trigger %s failed: %v", tc.wire, err)
		}
		tr := cmd.(ingestion.TriggerCommand)
		if tr.Kind != tc.want {
			t.Errorf("trigger %s: got %v, want %v", tc.wire, tr.Kind, tc.want)
		}
	}

	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.trigger", map[string]interface{}{
		"caller_id": "770e8400-e29b-41d4-a716-446655440002",
		"kind":      "margin_call",
		"trader_id": "660e8400-e29b-41d4-a716-446655440001",
		"pair":      uint16(1),
	})); err == nil {
		t.Error("unknown trigger kind: want error, got nil")
	}
}

func TestParseEvidenceNormalizesExponent(t *testing.T) {
	// Pyth-style payload: price 50_000.00 with expo -2 should land on the
	// internal 1e10 scale.
	cmd, err := ingestion.ParseCommand(rawFromJSON(t, "perp.oracle.evidence.btc-usd", map[string]interface{}{
		"request_id":   uint64(7),
		"feed_id":      "btc-usd",
		"price":        int64(5_000_000),
		"expo":         int32(-2),
		"conf":         int64(1_000),
		"backup_price": int64(50_010),
		"backup_expo":  int32(0),
	}))
	if err != nil {
		t.Fatalf("parse evidence failed: %v", err)
	}
	ev := cmd.(ingestion.EvidenceCommand).Evidence
	if ev.RequestID != 7 {
		t.Errorf("request_id: got %d, want 7", ev.RequestID)
	}
	if ev.Price != 50_000*10_000_000_000 {
		t.Errorf("price: got %d, want %d", ev.Price, int64(50_000)*10_000_000_000)
	}
	if ev.Conf != 10*10_000_000_000 {
		t.Errorf("conf: got %d, want %d", ev.Conf, int64(10)*10_000_000_000)
	}
	if ev.BackupPrice != 50_010*10_000_000_000 {
		t.Errorf("backup_price: got %d, want %d", ev.BackupPrice, int64(50_010)*10_000_000_000)
	}

	missing := map[string]interface{}{
		"request_id": uint64(8),
		"price":      int64(1),
	}
	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.oracle.evidence.btc-usd", missing)); err == nil {
		t.Error("missing feed_id: want error, got nil")
	}
}

func TestParseHeight(t *testing.T) {
	cmd, err := ingestion.ParseCommand(rawFromJSON(t, "perp.heights", map[string]interface{}{
		"height": int64(12_345),
	}))
	if err != nil {
		t.Fatalf("parse height failed: %v", err)
	}
	if h := cmd.(ingestion.HeightCommand).Height; h != 12_345 {
		t.Errorf("height: got %d, want 12_345", h)
	}

	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.heights", map[string]interface{}{
		"height": int64(0),
	})); err == nil {
		t.Error("zero height: want error, got nil")
	}
}

func TestParseUnknownSubject(t *testing.T) {
	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.orders.freeze", map[string]interface{}{})); err == nil {
		t.Error("unknown order op: want error, got nil")
	}
	if _, err := ingestion.ParseCommand(rawFromJSON(t, "perp.unrelated", map[string]interface{}{})); err == nil {
		t.Error("unknown subject: want error, got nil")
	}
}
