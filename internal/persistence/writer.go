package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SettlementRow represents a row in settlement_log.settlements.
type SettlementRow struct {
	RequestID  uint64
	Kind       string
	Outcome    string
	Reason     string
	TraderID   string
	Pair       uint16
	Slot       int
	Price      int64
	Collateral int64
	Payout     int64
	Height     int64
	Timestamp  time.Time
}

// SettlementLogWriter writes settlement records to Postgres using multi-row
// INSERT. The (request_id, kind) pair is unique for oracle-driven steps, so
// redelivered batches are absorbed by ON CONFLICT DO NOTHING.
type SettlementLogWriter struct {
	db *sql.DB
}

func NewSettlementLogWriter(db *sql.DB) *SettlementLogWriter {
	return &SettlementLogWriter{db: db}
}

// WriteBatch inserts a batch of settlement rows inside the given transaction.
func (w *SettlementLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []SettlementRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 12
	query := `INSERT INTO settlement_log.settlements
		(request_id, kind, outcome, reason, trader_id, pair, slot, price, collateral, payout, height, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)

	for i, r := range rows {
		base := i * cols
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			int64(r.RequestID), r.Kind, r.Outcome, r.Reason, r.TraderID, int32(r.Pair),
			r.Slot, r.Price, r.Collateral, r.Payout, r.Height, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (request_id, kind) WHERE request_id > 0 DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// IsApplied reports whether a settlement for the given request and kind has
// already been written. Used on warm restart to skip replayed evidence whose
// settlement is durable.
func (w *SettlementLogWriter) IsApplied(ctx context.Context, requestID uint64, kind string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var one int
	err := w.db.QueryRowContext(ctx, `
		SELECT 1 FROM settlement_log.settlements
		WHERE request_id = $1 AND kind = $2
		LIMIT 1
	`, int64(requestID), kind).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LatestHeight returns the highest settled height in the log, 0 when empty.
func (w *SettlementLogWriter) LatestHeight(ctx context.Context) (int64, error) {
	var h sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(height) FROM settlement_log.settlements`,
	).Scan(&h)
	if err != nil {
		return 0, err
	}
	if !h.Valid {
		return 0, nil
	}
	return h.Int64, nil
}
