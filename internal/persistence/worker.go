package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"PerpCore/internal/engine"
	"PerpCore/internal/observability"
)

// Worker drains the persist channel and batch-writes settlement records to
// Postgres. It runs on its own goroutine, decoupled from the settlement
// loop; the channel send in the engine blocks when the worker falls behind,
// so no record is ever dropped.
type Worker struct {
	writer       *SettlementLogWriter
	db           *sql.DB
	inputChan    <-chan engine.SettlementRecord
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan engine.SettlementRecord,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewSettlementLogWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Writer exposes the underlying log writer for restart reconciliation.
func (w *Worker) Writer() *SettlementLogWriter {
	return w.writer
}

// Run batches incoming records and flushes when the batch fills or the
// flush timeout expires. Blocks until ctx is cancelled or the channel
// closes; remaining records are flushed on the way out.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]SettlementRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			batch = append(batch, rowFromRecord(rec))

			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func rowFromRecord(rec engine.SettlementRecord) SettlementRow {
	return SettlementRow{
		RequestID:  rec.RequestID,
		Kind:       rec.Kind,
		Outcome:    rec.Outcome,
		Reason:     rec.Reason,
		TraderID:   rec.Trader.String(),
		Pair:       rec.Pair,
		Slot:       rec.Index,
		Price:      rec.Price,
		Collateral: rec.Collateral,
		Payout:     rec.Payout,
		Height:     rec.Height,
		Timestamp:  time.Now(),
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. The settlement log is the durable record of money
// movement; dropping a batch is never an option.
func (w *Worker) flushWithRetry(ctx context.Context, rows []SettlementRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: settlement log retry attempt %d (backoff=%v, rows=%d)",
				attempt, backoff, len(rows))
			select {
			case <-ctx.Done():
				// One last attempt off the cancelled context so the batch
				// survives a graceful shutdown.
				if err := w.flush(context.Background(), rows); err != nil {
					log.Printf("ERROR: final flush on shutdown failed: %v", err)
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, rows); err == nil {
			if attempt > 0 {
				log.Printf("INFO: settlement log flush succeeded after %d retries", attempt)
			}
			return
		} else if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, rows []SettlementRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistRowsWritten.Add(float64(len(rows)))
	}
	return nil
}
