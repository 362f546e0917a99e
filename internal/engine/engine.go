package engine

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpCore/internal/config"
	"PerpCore/internal/observability"
	"PerpCore/internal/oracle"
	"PerpCore/internal/state"
	"PerpCore/internal/treasury"
)

// PriceRequester is the slice of the oracle protocol the engine drives.
type PriceRequester interface {
	RequestPrice(kind oracle.Kind, feed config.Feed, minObs int) uint64
}

// SettlementRecord is the outcome of one settlement step, emitted to the
// persistence and publication pipelines.
type SettlementRecord struct {
	RequestID uint64
	Kind      string // market_open, market_close, limit_open, automation, sl_update, margin_update
	Outcome   string // executed, cancelled, noop
	Reason    string // cancellation/noop cause, empty on execution

	Trader uuid.UUID
	Pair   uint16
	Index  int

	Price      int64 // Execution price, Precision scale
	Collateral int64 // Position collateral after the step, quote units
	Payout     int64 // Quote units paid to the trader, 0 if none
	Height     int64
}

// Engine is the order-intake and settlement controller. It owns all ledger
// mutation: orders enter through the intake methods, prices come back through
// the oracle.Settler callbacks. Single-threaded by contract, like the ledger
// it drives.
type Engine struct {
	log      zerolog.Logger
	cfg      *config.Store
	ledger   *state.Ledger
	funding  *state.FundingTracker
	vault    treasury.Vault
	referral treasury.Referral
	triggers *treasury.TriggerRegistry
	oracle   PriceRequester
	metrics  *observability.Metrics

	height int64

	persistChan chan<- SettlementRecord
	publishChan chan<- SettlementRecord
}

func NewEngine(
	cfg *config.Store,
	ledger *state.Ledger,
	vault treasury.Vault,
	referral treasury.Referral,
	metrics *observability.Metrics,
	persistChan, publishChan chan<- SettlementRecord,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		log:         log.With().Str("component", "engine").Logger(),
		cfg:         cfg,
		ledger:      ledger,
		funding:     state.NewFundingTracker(),
		vault:       vault,
		referral:    referral,
		triggers:    treasury.NewTriggerRegistry(cfg.Params().TriggerTimeout),
		metrics:     metrics,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// BindOracle attaches the price requester. Done after construction because
// the oracle protocol needs the engine as its settler.
func (e *Engine) BindOracle(o PriceRequester) {
	e.oracle = o
}

// AdvanceHeight moves the engine clock. Heights are a versioned input, never
// read from a wall clock, so replaying the same input stream reproduces the
// same settlement decisions.
func (e *Engine) AdvanceHeight(h int64) {
	if h > e.height {
		e.height = h
	}
}

// Height returns the engine clock.
func (e *Engine) Height() int64 {
	return e.height
}

// Ledger exposes the position store for read-only query surfaces.
func (e *Engine) Ledger() *state.Ledger {
	return e.ledger
}

// Funding exposes the funding tracker for read-only query surfaces.
func (e *Engine) Funding() *state.FundingTracker {
	return e.funding
}

// Triggers exposes the trigger-claim registry.
func (e *Engine) Triggers() *treasury.TriggerRegistry {
	return e.triggers
}

func (e *Engine) fundingParams() state.FundingParams {
	p := e.cfg.Params()
	return state.FundingParams{
		Interval:      p.FundingInterval,
		RatePerHeight: p.FundingRatePerHeightP,
		FloorP:        p.FundingFloorP,
		CeilP:         p.FundingCeilP,
	}
}

// accrueFunding brings a pair's funding accumulators up to the current
// height before any read of them.
func (e *Engine) accrueFunding(pair *config.Pair) {
	group := e.cfg.GroupOf(pair)
	e.funding.Accrue(pair.Index, e.height, e.fundingParams(), e.ledger.PairOI(pair.Index), group.MaxOpenInterest)
}

func (e *Engine) emit(rec SettlementRecord) {
	rec.Height = e.height
	if e.metrics != nil {
		e.metrics.Settlements.WithLabelValues(rec.Kind, rec.Outcome).Inc()
		e.refreshGauges(rec.Pair)
	}
	if e.persistChan != nil {
		e.persistChan <- rec
	}
	if e.publishChan != nil {
		e.publishChan <- rec
	}
	e.log.Info().
		Uint64("request_id", rec.RequestID).
		Str("kind", rec.Kind).
		Str("outcome", rec.Outcome).
		Str("reason", rec.Reason).
		Str("trader", rec.Trader.String()).
		Uint16("pair", rec.Pair).
		Int64("price", rec.Price).
		Int64("payout", rec.Payout).
		Msg("settlement")
}

// refreshGauges re-derives the exposure gauges after a settlement touched
// pair. Settlements are the only writers of positions, OI and the pool, so
// this keeps the gauges exact without a scrape-time collector.
func (e *Engine) refreshGauges(pair uint16) {
	e.metrics.OpenPositions.Set(float64(e.ledger.OpenPositionsLen()))
	e.metrics.PoolBalance.Set(float64(e.vault.CurrentBalance()))

	oi := e.ledger.PairOI(pair)
	label := strconv.Itoa(int(pair))
	e.metrics.OpenInterest.WithLabelValues(label, "long").Set(float64(oi.Long))
	e.metrics.OpenInterest.WithLabelValues(label, "short").Set(float64(oi.Short))
}

func (e *Engine) rejectOrder(reason string) {
	if e.metrics != nil {
		e.metrics.OrdersRejected.WithLabelValues(reason).Inc()
	}
}
