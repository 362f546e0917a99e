package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpCore/internal/state"
)

// GRPCIngestService provides admin/manual message injection via gRPC.
// It is for operator intervention (evidence replay, height catch-up,
// forced trigger attempts), not for high-throughput ingestion; use NATS
// for that. Injected messages take the same parse path as NATS traffic.
type GRPCIngestService struct {
	eventChan chan<- RawEvent
}

func NewGRPCIngestService(eventChan chan<- RawEvent) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

func (s *GRPCIngestService) inject(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal injected message: %w", err)
	}
	raw := RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
	}
	select {
	case s.eventChan <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectEvidence manually submits price evidence for a pending request.
// Used to unstick a request whose feed relay dropped the response.
func (s *GRPCIngestService) InjectEvidence(
	ctx context.Context,
	requestID uint64,
	feedID string,
	price int64,
	expo int32,
	conf int64,
	backupPrice int64,
	backupExpo int32,
) error {
	if feedID == "" {
		return fmt.Errorf("feed id must be set")
	}
	return s.inject(ctx, "perp.oracle.evidence."+feedID, evidenceJSON{
		RequestID:   requestID,
		FeedID:      feedID,
		Price:       price,
		Expo:        expo,
		Conf:        conf,
		BackupPrice: backupPrice,
		BackupExpo:  backupExpo,
	})
}

// InjectHeight manually advances the settlement clock.
func (s *GRPCIngestService) InjectHeight(ctx context.Context, height int64) error {
	if height <= 0 {
		return fmt.Errorf("height must be positive")
	}
	return s.inject(ctx, SubjectHeights, heightJSON{Height: height})
}

// InjectTrigger manually attempts a trigger execution on a position or
// resting order, claiming it for the given operator id.
func (s *GRPCIngestService) InjectTrigger(
	ctx context.Context,
	caller uuid.UUID,
	kind state.TriggerKind,
	trader uuid.UUID,
	pair uint16,
	index int,
) error {
	if kind.String() == "unknown" {
		return fmt.Errorf("unknown trigger kind")
	}
	return s.inject(ctx, "perp.orders.trigger", triggerJSON{
		CallerID: caller.String(),
		Kind:     kind.String(),
		TraderID: trader.String(),
		Pair:     pair,
		Index:    index,
	})
}
