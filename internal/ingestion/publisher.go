package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"PerpCore/internal/engine"
)

// OutboundPublisher publishes settlement records to NATS for downstream
// consumers (risk dashboards, trader notifications, analytics).
// Subjects follow the pattern: perp.settlements.{kind}.{pair} so consumers
// can filter by settlement kind, by pair, or take the firehose.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan engine.SettlementRecord
}

// settlementJSON is the outbound wire format for a settlement record.
type settlementJSON struct {
	RequestID  uint64 `json:"request_id"`
	Kind       string `json:"kind"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	TraderID   string `json:"trader_id"`
	Pair       uint16 `json:"pair"`
	Index      int    `json:"index"`
	Price      int64  `json:"price"`
	Collateral int64  `json:"collateral"`
	Payout     int64  `json:"payout"`
	Height     int64  `json:"height"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan engine.SettlementRecord) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, rec); err != nil {
				log.Printf("WARN: outbound publish failed request=%d: %v", rec.RequestID, err)
				// Non-fatal: downstream consumers can query the settlement log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, rec engine.SettlementRecord) error {
	data, err := json.Marshal(settlementJSON{
		RequestID:  rec.RequestID,
		Kind:       rec.Kind,
		Outcome:    rec.Outcome,
		Reason:     rec.Reason,
		TraderID:   rec.Trader.String(),
		Pair:       rec.Pair,
		Index:      rec.Index,
		Price:      rec.Price,
		Collateral: rec.Collateral,
		Payout:     rec.Payout,
		Height:     rec.Height,
	})
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}

	subject := fmt.Sprintf("perp.settlements.%s.%d", rec.Kind, rec.Pair)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound settlements stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_SETTLEMENTS",
		Subjects:  []string{"perp.settlements.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream PERP_SETTLEMENTS")
	return nil
}
