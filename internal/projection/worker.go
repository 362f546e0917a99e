package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"PerpCore/internal/engine"
)

// Worker updates projection tables from settlement records. Projections are
// eventually consistent: a failed update is logged and skipped, since every
// table can be rebuilt from the settlement log.
type Worker struct {
	db         *sql.DB
	inputChan  <-chan engine.SettlementRecord
	prices     *PriceHistory
	lastHeight int64
}

func NewWorker(db *sql.DB, inputChan <-chan engine.SettlementRecord, prices *PriceHistory) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		prices:    prices,
	}
}

// Run starts the projection worker loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if rec.Outcome == "executed" && rec.Price > 0 {
				w.prices.Record(rec.Pair, rec.Height, rec.Price)
			}

			if err := w.apply(ctx, rec); err != nil {
				log.Printf("WARN: projection update failed at height=%d: %v", rec.Height, err)
			}
			w.lastHeight = rec.Height
		}
	}
}

func (w *Worker) apply(ctx context.Context, rec engine.SettlementRecord) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	executed := 0
	cancelled := 0
	switch rec.Outcome {
	case "executed":
		executed = 1
	case "cancelled":
		cancelled = 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pair_stats
			(pair, settlements, executed, cancelled, payout_total, last_price, last_height)
		VALUES ($1, 1, $2, $3, $4, $5, $6)
		ON CONFLICT (pair) DO UPDATE SET
			settlements  = projections.pair_stats.settlements + 1,
			executed     = projections.pair_stats.executed + $2,
			cancelled    = projections.pair_stats.cancelled + $3,
			payout_total = projections.pair_stats.payout_total + $4,
			last_price   = CASE WHEN $5 > 0 THEN $5 ELSE projections.pair_stats.last_price END,
			last_height  = $6
	`, int32(rec.Pair), executed, cancelled, rec.Payout, rec.Price, rec.Height); err != nil {
		return fmt.Errorf("pair stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.trader_stats
			(trader_id, settlements, executed, payout_total, last_height)
		VALUES ($1, 1, $2, $3, $4)
		ON CONFLICT (trader_id) DO UPDATE SET
			settlements  = projections.trader_stats.settlements + 1,
			executed     = projections.trader_stats.executed + $2,
			payout_total = projections.trader_stats.payout_total + $3,
			last_height  = $4
	`, rec.Trader.String(), executed, rec.Payout, rec.Height); err != nil {
		return fmt.Errorf("trader stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_height, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_height = $1, updated_at = NOW()
	`, rec.Height); err != nil {
		return fmt.Errorf("watermark: %w", err)
	}

	return tx.Commit()
}

// Rebuild recomputes all projection tables from the settlement log.
func Rebuild(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		`TRUNCATE projections.pair_stats`,
		`TRUNCATE projections.trader_stats`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.pair_stats
			(pair, settlements, executed, cancelled, payout_total, last_price, last_height)
		SELECT
			pair,
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'executed'),
			COUNT(*) FILTER (WHERE outcome = 'cancelled'),
			COALESCE(SUM(payout), 0),
			COALESCE((array_agg(price ORDER BY height DESC) FILTER (WHERE price > 0))[1], 0),
			MAX(height)
		FROM settlement_log.settlements
		GROUP BY pair
	`); err != nil {
		return fmt.Errorf("rebuild pair stats: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.trader_stats
			(trader_id, settlements, executed, payout_total, last_height)
		SELECT
			trader_id,
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'executed'),
			COALESCE(SUM(payout), 0),
			MAX(height)
		FROM settlement_log.settlements
		GROUP BY trader_id
	`); err != nil {
		return fmt.Errorf("rebuild trader stats: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
