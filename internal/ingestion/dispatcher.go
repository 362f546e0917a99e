package ingestion

import (
	"context"
	"log"
	"time"

	"PerpCore/internal/engine"
	"PerpCore/internal/observability"
	"PerpCore/internal/oracle"
)

// Dispatcher drains the raw event channel and applies each message to the
// settlement engine and the oracle protocol. It is the single writer: all
// state mutation funnels through Run, so the engine needs no locking.
type Dispatcher struct {
	eng     *engine.Engine
	proto   *oracle.Protocol
	metrics *observability.Metrics

	snapshotEvery int64
	snapshot      func()
	lastSnapshotH int64
}

func NewDispatcher(eng *engine.Engine, proto *oracle.Protocol, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{eng: eng, proto: proto, metrics: metrics}
}

// WithSnapshots arranges for fn to run on the dispatch goroutine every
// `every` heights. State capture has to happen here: the engine has no
// locks, so only its single writer may read it consistently.
func (d *Dispatcher) WithSnapshots(every int64, fn func()) {
	d.snapshotEvery = every
	d.snapshot = fn
	d.lastSnapshotH = d.eng.Height()
}

// Run processes events until ctx is cancelled or the channel closes.
//
// Malformed and rejected messages are ACKed: redelivery cannot fix a bad
// payload or a failed validation, and NAKing them would wedge the stream.
func (d *Dispatcher) Run(ctx context.Context, events <-chan RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			d.handle(raw)
			if d.metrics != nil {
				d.metrics.ChannelSize.WithLabelValues("raw_events").Set(float64(len(events)))
			}
		}
	}
}

func (d *Dispatcher) handle(raw RawEvent) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		log.Printf("WARN: drop unparseable message on %s: %v", raw.Subject, err)
		d.ack(raw)
		return
	}

	if err := d.apply(cmd); err != nil {
		log.Printf("INFO: %s rejected: %v", cmd.CommandType(), err)
	}
	d.ack(raw)

	if d.metrics != nil {
		d.metrics.IngestLatency.WithLabelValues(raw.Subject).
			Observe(time.Since(raw.Timestamp).Seconds())
	}
}

func (d *Dispatcher) apply(cmd Command) error {
	switch c := cmd.(type) {
	case OpenCommand:
		_, err := d.eng.OpenTrade(c.Order)
		return err
	case CloseCommand:
		_, err := d.eng.CloseTradeMarket(c.Trader, c.Pair, c.Index, c.Amount)
		return err
	case CancelCommand:
		return d.eng.CancelLimitOrder(c.Trader, c.Pair, c.Index)
	case MarginCommand:
		_, err := d.eng.UpdateMargin(c.Trader, c.Pair, c.Index, c.Withdraw, c.Amount)
		return err
	case TpCommand:
		return d.eng.UpdateTp(c.Trader, c.Pair, c.Index, c.Price)
	case SlCommand:
		_, err := d.eng.UpdateSl(c.Trader, c.Pair, c.Index, c.Price)
		return err
	case TriggerCommand:
		_, err := d.eng.ExecuteLimitTrigger(c.Caller, c.Kind, c.Trader, c.Pair, c.Index)
		return err
	case EvidenceCommand:
		if d.metrics != nil {
			d.metrics.EvidenceReceived.WithLabelValues(c.Evidence.FeedID).Inc()
		}
		kind, known := d.proto.RequestKind(c.Evidence.RequestID)
		start := time.Now()
		if err := d.proto.SubmitEvidence(c.Evidence); err != nil {
			if d.metrics != nil {
				d.metrics.EvidenceRejected.WithLabelValues(rejectionLabel(err)).Inc()
			}
			return err
		}
		if d.metrics != nil {
			if known && !d.proto.Pending(c.Evidence.RequestID) {
				// The request closed, so this observation ran a settlement.
				d.metrics.SettlementDuration.WithLabelValues(kind.String()).
					Observe(time.Since(start).Seconds())
			}
			d.metrics.PendingRequests.Set(float64(d.proto.PendingCount()))
		}
		return nil
	case HeightCommand:
		d.eng.AdvanceHeight(c.Height)
		if d.snapshotEvery > 0 && c.Height-d.lastSnapshotH >= d.snapshotEvery {
			d.snapshot()
			d.lastSnapshotH = c.Height
		}
		return nil
	default:
		// Parser and dispatcher enumerate the same set; unreachable.
		log.Printf("ERROR: no handler for command type %s", cmd.CommandType())
		return nil
	}
}

func rejectionLabel(err error) string {
	switch err {
	case oracle.ErrFeedMismatch:
		return "feed_mismatch"
	case oracle.ErrPriceDeviation:
		return "price_deviation"
	case oracle.ErrBackupDeviation:
		return "backup_deviation"
	default:
		return "other"
	}
}

func (d *Dispatcher) ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
