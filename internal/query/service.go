package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"PerpCore/internal/projection"
)

// Service provides read-only access to the projection tables and the
// settlement log. It never touches live engine state: reads go through
// the read side, so the settlement loop keeps its single-writer contract.
type Service struct {
	db     *sql.DB
	prices *projection.PriceHistory
}

func NewService(db *sql.DB, prices *projection.PriceHistory) *Service {
	return &Service{db: db, prices: prices}
}

// watermark returns the projection worker's last processed height.
func (s *Service) watermark(ctx context.Context) int64 {
	var h sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_height FROM projections.watermark WHERE worker_id = 'main'`,
	).Scan(&h)
	if err != nil || !h.Valid {
		return 0
	}
	return h.Int64
}

// TraderStats returns a trader's aggregate settlement stats. A trader with
// no settlements gets a zero-valued response, not an error.
func (s *Service) TraderStats(ctx context.Context, trader uuid.UUID) (*TraderStatsResponse, error) {
	resp := &TraderStatsResponse{
		TraderID:   trader.String(),
		AsOfHeight: s.watermark(ctx),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT settlements, executed, payout_total
		FROM projections.trader_stats
		WHERE trader_id = $1
	`, trader.String()).Scan(&resp.Settlements, &resp.Executed, &resp.PayoutTotal)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trader stats: %w", err)
	}
	return resp, nil
}

// PairStats returns aggregate settlement stats for a pair.
func (s *Service) PairStats(ctx context.Context, pair uint16) (*PairStatsResponse, error) {
	resp := &PairStatsResponse{
		Pair:       pair,
		AsOfHeight: s.watermark(ctx),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT settlements, executed, cancelled, payout_total, last_price
		FROM projections.pair_stats
		WHERE pair = $1
	`, int32(pair)).Scan(
		&resp.Settlements, &resp.Executed, &resp.Cancelled,
		&resp.PayoutTotal, &resp.LastPrice,
	)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pair stats: %w", err)
	}
	return resp, nil
}

// RecentPrices returns up to limit recent execution prices for a pair,
// newest first, from the in-memory ring.
func (s *Service) RecentPrices(pair uint16, limit int) *PriceHistoryResponse {
	points := s.prices.Recent(pair, limit)
	resp := &PriceHistoryResponse{
		Pair:   pair,
		Points: make([]PricePointResponse, 0, len(points)),
	}
	for _, p := range points {
		resp.Points = append(resp.Points, PricePointResponse{Height: p.Height, Price: p.Price})
	}
	return resp
}
