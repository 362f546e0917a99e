package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const maxHistoryLimit = 500

// TraderHistory returns a trader's settlement history, newest first,
// read directly from the settlement log.
func (s *Service) TraderHistory(ctx context.Context, trader uuid.UUID, limit int) (*SettlementHistoryResponse, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, kind, outcome, reason, pair, slot, price, collateral, payout, height
		FROM settlement_log.settlements
		WHERE trader_id = $1
		ORDER BY height DESC, id DESC
		LIMIT $2
	`, trader.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("trader history: %w", err)
	}
	defer rows.Close()

	resp := &SettlementHistoryResponse{
		TraderID:   trader.String(),
		AsOfHeight: s.watermark(ctx),
	}

	for rows.Next() {
		var e SettlementEntry
		var requestID int64
		var pair int32
		if err := rows.Scan(
			&requestID, &e.Kind, &e.Outcome, &e.Reason, &pair,
			&e.Slot, &e.Price, &e.Collateral, &e.Payout, &e.Height,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.RequestID = uint64(requestID)
		e.Pair = uint16(pair)
		resp.Entries = append(resp.Entries, e)
	}
	return resp, rows.Err()
}
