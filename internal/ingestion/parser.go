package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"PerpCore/internal/engine"
	"PerpCore/internal/oracle"
	"PerpCore/internal/state"
)

// Command is a parsed inbound message ready for the settlement loop.
type Command interface {
	CommandType() string
}

type OpenCommand struct{ Order engine.OpenOrder }
type CloseCommand struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int
	Amount int64
}
type CancelCommand struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int
}
type MarginCommand struct {
	Trader   uuid.UUID
	Pair     uint16
	Index    int
	Withdraw bool
	Amount   int64
}
type TpCommand struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int
	Price  int64
}
type SlCommand struct {
	Trader uuid.UUID
	Pair   uint16
	Index  int
	Price  int64
}
type TriggerCommand struct {
	Caller uuid.UUID
	Kind   state.TriggerKind
	Trader uuid.UUID
	Pair   uint16
	Index  int
}
type EvidenceCommand struct{ Evidence oracle.Evidence }
type HeightCommand struct{ Height int64 }

func (OpenCommand) CommandType() string     { return "open" }
func (CloseCommand) CommandType() string    { return "close" }
func (CancelCommand) CommandType() string   { return "cancel" }
func (MarginCommand) CommandType() string   { return "margin" }
func (TpCommand) CommandType() string       { return "tp" }
func (SlCommand) CommandType() string       { return "sl" }
func (TriggerCommand) CommandType() string  { return "trigger" }
func (EvidenceCommand) CommandType() string { return "evidence" }
func (HeightCommand) CommandType() string   { return "height" }

// ParseCommand converts a RawEvent into a typed Command. The subject encodes
// the command type: perp.orders.<op>, perp.oracle.evidence.<feed>, and
// perp.heights. The shell validates and parses here so the settlement loop
// only ever sees well-formed input.
func ParseCommand(raw RawEvent) (Command, error) {
	switch {
	case raw.Subject == SubjectHeights:
		return parseHeight(raw.Data)
	case strings.HasPrefix(raw.Subject, "perp.oracle.evidence."):
		return parseEvidence(raw.Data)
	case strings.HasPrefix(raw.Subject, "perp.orders."):
		op := strings.TrimPrefix(raw.Subject, "perp.orders.")
		switch op {
		case "open":
			return parseOpen(raw.Data)
		case "close":
			return parseClose(raw.Data)
		case "cancel":
			return parseCancel(raw.Data)
		case "margin":
			return parseMargin(raw.Data)
		case "tp":
			return parseTp(raw.Data)
		case "sl":
			return parseSl(raw.Data)
		case "trigger":
			return parseTrigger(raw.Data)
		default:
			return nil, fmt.Errorf("unknown order op: %s", op)
		}
	default:
		return nil, fmt.Errorf("unknown subject: %s", raw.Subject)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type openOrderJSON struct {
	TraderID    string `json:"trader_id"`
	Pair        uint16 `json:"pair"`
	Side        string `json:"side"` // "long" or "short"
	Leverage    int64  `json:"leverage"`
	Collateral  int64  `json:"collateral"`
	TP          int64  `json:"tp"`
	SL          int64  `json:"sl"`
	Kind        string `json:"kind"` // "market", "limit", "reversal", "momentum"
	WantedPrice int64  `json:"wanted_price"`
	MaxPrice    int64  `json:"max_price"`
	SlippageP   int64  `json:"slippage_p"`
}

func parseOpen(data []byte) (OpenCommand, error) {
	var j openOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return OpenCommand{}, fmt.Errorf("parse open order: %w", err)
	}
	trader, err := uuid.Parse(j.TraderID)
	if err != nil {
		return OpenCommand{}, fmt.Errorf("parse trader_id: %w", err)
	}
	kind, err := orderKindFrom(j.Kind)
	if err != nil {
		return OpenCommand{}, err
	}
	if j.Side != "long" && j.Side != "short" {
		return OpenCommand{}, fmt.Errorf("unknown side: %s", j.Side)
	}
	return OpenCommand{Order: engine.OpenOrder{
		Trader:      trader,
		Pair:        j.Pair,
		Long:        j.Side == "long",
		Leverage:    j.Leverage,
		Collateral:  j.Collateral,
		TP:          j.TP,
		SL:          j.SL,
		Kind:        kind,
		WantedPrice: j.WantedPrice,
		MaxPrice:    j.MaxPrice,
		SlippageP:   j.SlippageP,
	}}, nil
}

func orderKindFrom(s string) (state.OrderKind, error) {
	switch s {
	case "market":
		return state.OrderMarket, nil
	case "limit":
		return state.OrderLimit, nil
	case "reversal":
		return state.OrderReversal, nil
	case "momentum":
		return state.OrderMomentum, nil
	default:
		return 0, fmt.Errorf("unknown order kind: %s", s)
	}
}

type positionRefJSON struct {
	TraderID string `json:"trader_id"`
	Pair     uint16 `json:"pair"`
	Index    int    `json:"index"`
	Amount   int64  `json:"amount"`
	Price    int64  `json:"price"`
}

func parsePositionRef(data []byte, what string) (positionRefJSON, uuid.UUID, error) {
	var j positionRefJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return j, uuid.Nil, fmt.Errorf("parse %s: %w", what, err)
	}
	trader, err := uuid.Parse(j.TraderID)
	if err != nil {
		return j, uuid.Nil, fmt.Errorf("parse trader_id: %w", err)
	}
	return j, trader, nil
}

func parseClose(data []byte) (CloseCommand, error) {
	j, trader, err := parsePositionRef(data, "close")
	if err != nil {
		return CloseCommand{}, err
	}
	return CloseCommand{Trader: trader, Pair: j.Pair, Index: j.Index, Amount: j.Amount}, nil
}

func parseCancel(data []byte) (CancelCommand, error) {
	j, trader, err := parsePositionRef(data, "cancel")
	if err != nil {
		return CancelCommand{}, err
	}
	return CancelCommand{Trader: trader, Pair: j.Pair, Index: j.Index}, nil
}

func parseTp(data []byte) (TpCommand, error) {
	j, trader, err := parsePositionRef(data, "tp update")
	if err != nil {
		return TpCommand{}, err
	}
	return TpCommand{Trader: trader, Pair: j.Pair, Index: j.Index, Price: j.Price}, nil
}

func parseSl(data []byte) (SlCommand, error) {
	j, trader, err := parsePositionRef(data, "sl update")
	if err != nil {
		return SlCommand{}, err
	}
	return SlCommand{Trader: trader, Pair: j.Pair, Index: j.Index, Price: j.Price}, nil
}

type marginJSON struct {
	TraderID  string `json:"trader_id"`
	Pair      uint16 `json:"pair"`
	Index     int    `json:"index"`
	Direction string `json:"direction"` // "deposit" or "withdraw"
	Amount    int64  `json:"amount"`
}

func parseMargin(data []byte) (MarginCommand, error) {
	var j marginJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return MarginCommand{}, fmt.Errorf("parse margin update: %w", err)
	}
	trader, err := uuid.Parse(j.TraderID)
	if err != nil {
		return MarginCommand{}, fmt.Errorf("parse trader_id: %w", err)
	}
	if j.Direction != "deposit" && j.Direction != "withdraw" {
		return MarginCommand{}, fmt.Errorf("unknown margin direction: %s", j.Direction)
	}
	return MarginCommand{
		Trader:   trader,
		Pair:     j.Pair,
		Index:    j.Index,
		Withdraw: j.Direction == "withdraw",
		Amount:   j.Amount,
	}, nil
}

type triggerJSON struct {
	CallerID string `json:"caller_id"`
	Kind     string `json:"kind"` // "tp", "sl", "liq", "limit_open"
	TraderID string `json:"trader_id"`
	Pair     uint16 `json:"pair"`
	Index    int    `json:"index"`
}

func parseTrigger(data []byte) (TriggerCommand, error) {
	var j triggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return TriggerCommand{}, fmt.Errorf("parse trigger: %w", err)
	}
	caller, err := uuid.Parse(j.CallerID)
	if err != nil {
		return TriggerCommand{}, fmt.Errorf("parse caller_id: %w", err)
	}
	trader, err := uuid.Parse(j.TraderID)
	if err != nil {
		return TriggerCommand{}, fmt.Errorf("parse trader_id: %w", err)
	}
	var kind state.TriggerKind
	switch j.Kind {
	case "tp":
		kind = state.TriggerTP
	case "sl":
		kind = state.TriggerSL
	case "liq":
		kind = state.TriggerLiq
	case "limit_open":
		kind = state.TriggerLimitOpen
	default:
		return TriggerCommand{}, fmt.Errorf("unknown trigger kind: %s", j.Kind)
	}
	return TriggerCommand{Caller: caller, Kind: kind, Trader: trader, Pair: j.Pair, Index: j.Index}, nil
}

type evidenceJSON struct {
	RequestID   uint64 `json:"request_id"`
	FeedID      string `json:"feed_id"`
	Price       int64  `json:"price"`
	Expo        int32  `json:"expo"`
	Conf        int64  `json:"conf"`
	BackupPrice int64  `json:"backup_price"`
	BackupExpo  int32  `json:"backup_expo"`
}

// parseEvidence normalizes the raw feed units (price * 10^expo) into the
// internal fixed-point scale before the evidence reaches the protocol.
func parseEvidence(data []byte) (EvidenceCommand, error) {
	var j evidenceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return EvidenceCommand{}, fmt.Errorf("parse evidence: %w", err)
	}
	if j.FeedID == "" {
		return EvidenceCommand{}, fmt.Errorf("evidence missing feed_id")
	}
	return EvidenceCommand{Evidence: oracle.Evidence{
		RequestID:   j.RequestID,
		FeedID:      j.FeedID,
		Price:       oracle.NormalizePrice(j.Price, j.Expo),
		Conf:        oracle.NormalizePrice(j.Conf, j.Expo),
		BackupPrice: oracle.NormalizePrice(j.BackupPrice, j.BackupExpo),
	}}, nil
}

type heightJSON struct {
	Height int64 `json:"height"`
}

func parseHeight(data []byte) (HeightCommand, error) {
	var j heightJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return HeightCommand{}, fmt.Errorf("parse height: %w", err)
	}
	if j.Height <= 0 {
		return HeightCommand{}, fmt.Errorf("non-positive height: %d", j.Height)
	}
	return HeightCommand{Height: j.Height}, nil
}
