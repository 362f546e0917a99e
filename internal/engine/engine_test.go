package engine_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpCore/internal/config"
	"PerpCore/internal/engine"
	fpmath "PerpCore/internal/math"
	"PerpCore/internal/oracle"
	"PerpCore/internal/state"
	"PerpCore/internal/treasury"
)

const (
	p  = fpmath.Precision
	q  = fpmath.QuoteScale
	pb = fpmath.PercentBase
)

// rigOptions tune the test configuration. The zero value is the clean
// setup: no fees, no spread, no depth impact, no funding.
type rigOptions struct {
	spreadP   int64
	depth     int64
	openFeeP  int64
	closeFeeP int64
	cancelFee int64
	execFee   int64
	minLevPos int64

	pairMaxOI   int64
	groupMaxOI  int64
	walletMaxOI int64
	poolBalance int64

	fundingRateP int64

	guaranteedSl bool
	lossTiers    []fpmath.LossTier
}

type rig struct {
	cfg    *config.Store
	vault  *treasury.PoolVault
	eng    *engine.Engine
	proto  *oracle.Protocol
	trader uuid.UUID
}

func newRig(t *testing.T, opts rigOptions) *rig {
	t.Helper()

	if opts.pairMaxOI == 0 {
		opts.pairMaxOI = 20_000_000 * q
	}
	if opts.groupMaxOI == 0 {
		opts.groupMaxOI = 50_000_000 * q
	}
	if opts.walletMaxOI == 0 {
		opts.walletMaxOI = 5_000_000 * q
	}
	if opts.poolBalance == 0 {
		opts.poolBalance = 100_000_000 * q
	}

	groups := []*config.Group{{
		Index:           0,
		Name:            "crypto",
		MinLeverage:     1 * p,
		MaxLeverage:     150 * p,
		MaxOpenInterest: opts.groupMaxOI,
	}}
	fees := []*config.Fee{{
		Index:          0,
		OpenFeeP:       opts.openFeeP,
		CloseFeeP:      opts.closeFeeP,
		LimitOrderFeeP: opts.openFeeP,
		ExecutionFee:   opts.execFee,
		CancelFee:      opts.cancelFee,
		MinLevPos:      opts.minLevPos,
	}}
	pairs := []*config.Pair{{
		Index:               0,
		Name:                "BTC/USD",
		GroupIndex:          0,
		FeeIndex:            0,
		Feed:                config.Feed{FeedID: "btc-usd", MaxDeviationP: 2 * p},
		SpreadP:             opts.spreadP,
		OnePercentDepth:     opts.depth,
		MaxOpenInterest:     opts.pairMaxOI,
		GuaranteedSlEnabled: opts.guaranteedSl,
		LossTiersLong:       opts.lossTiers,
		LossTiersShort:      opts.lossTiers,
		Listed:              true,
	}}
	params := config.TradingParams{
		MaxTradesPerPair:       3,
		MaxPendingMarketOrders: 5,
		MaxSlP:                 75 * p,
		SlTimelock:             10,
		TpTimelock:             10,
		TriggerTimeout:         30,
		MaxWalletOI:            opts.walletMaxOI,
		MaxPoolOIP:             80 * p,
		FundingInterval:        50,
		FundingRatePerHeightP:  opts.fundingRateP,
		FundingFloorP:          p / 2,
		FundingCeilP:           5 * p,
		MinObservations:        1,
	}

	cfg, err := config.NewStore(pairs, groups, fees, params)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	vault := treasury.NewPoolVault(opts.poolBalance)
	eng := engine.NewEngine(cfg, state.NewLedger(), vault, treasury.NopReferral{}, nil, nil, nil, zerolog.Nop())
	proto := oracle.NewProtocol(eng, zerolog.Nop())
	eng.BindOracle(proto)
	eng.AdvanceHeight(100)

	trader := uuid.New()
	vault.Deposit(trader, 1_000_000*q)

	return &rig{cfg: cfg, vault: vault, eng: eng, proto: proto, trader: trader}
}

func (r *rig) deliver(t *testing.T, id uint64, price int64) {
	t.Helper()
	if err := r.proto.SubmitEvidence(oracle.Evidence{RequestID: id, FeedID: "btc-usd", Price: price}); err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
}

// openLong opens a market long and settles it at price. Returns the slot.
func (r *rig) openLong(t *testing.T, collateral, leverage, price int64) int {
	t.Helper()
	id, err := r.eng.OpenTrade(engine.OpenOrder{
		Trader:      r.trader,
		Pair:        0,
		Long:        true,
		Leverage:    leverage,
		Collateral:  collateral,
		Kind:        state.OrderMarket,
		WantedPrice: price,
		SlippageP:   1 * p,
	})
	if err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	r.deliver(t, id, price)

	for i := 0; i < 3; i++ {
		if r.eng.Ledger().Trade(r.trader, 0, i).IsOpen() {
			return i
		}
	}
	t.Fatal("open did not register a position")
	return -1
}

// ============================================================================
// Test: end-to-end open
// ============================================================================

func TestEngine_OpenLong_CleanFill(t *testing.T) {
	r := newRig(t, rigOptions{})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)

	tr := r.eng.Ledger().Trade(r.trader, 0, slot)
	if tr.OpenPrice != 100*p {
		t.Errorf("open price: got %d, want %d", tr.OpenPrice, 100*p)
	}
	if tr.Collateral != 1_000*q {
		t.Errorf("collateral: got %d, want %d", tr.Collateral, 1_000*q)
	}

	info := r.eng.Ledger().Info(r.trader, 0, slot)
	if info.OpenInterest != 10_000*q {
		t.Errorf("notional: got %d, want %d", info.OpenInterest, 10_000*q)
	}
	if info.LossProtectionTier != 0 {
		t.Errorf("tier: got %d, want 0 (empty tier table)", info.LossProtectionTier)
	}

	if got := r.eng.Ledger().PairOI(0).Long; got != 10_000*q {
		t.Errorf("pair long OI: got %d, want %d", got, 10_000*q)
	}
	if r.eng.Ledger().PendingMarketCount() != 0 {
		t.Error("pending order not consumed")
	}
}

func TestEngine_OpenLong_SpreadWorsensPrice(t *testing.T) {
	r := newRig(t, rigOptions{spreadP: p / 10}) // 0.1% spread

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)

	want := 100*p + fpmath.PercentOf(100*p, p/10)
	if got := r.eng.Ledger().Trade(r.trader, 0, slot).OpenPrice; got != want {
		t.Errorf("open price: got %d, want %d", got, want)
	}
}

func TestEngine_OpenFee_ReducesCollateral(t *testing.T) {
	r := newRig(t, rigOptions{openFeeP: scalePct(0.08)})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)

	// 0.08% of 10,000 notional = 8 quote units
	wantCollateral := 1_000*q - 8*q
	tr := r.eng.Ledger().Trade(r.trader, 0, slot)
	if tr.Collateral != wantCollateral {
		t.Errorf("collateral: got %d, want %d", tr.Collateral, wantCollateral)
	}
	if got := r.vault.CurrentBalance() - 100_000_000*q; got != 8*q {
		t.Errorf("pool fee income: got %d, want %d", got, 8*q)
	}
}

func TestEngine_OpenCancelled_SlippageExceeded(t *testing.T) {
	r := newRig(t, rigOptions{})

	id, err := r.eng.OpenTrade(engine.OpenOrder{
		Trader: r.trader, Pair: 0, Long: true,
		Leverage: 10 * p, Collateral: 1_000 * q,
		Kind: state.OrderMarket, WantedPrice: 100 * p, SlippageP: p, // 1%
	})
	if err != nil {
		t.Fatal(err)
	}

	r.deliver(t, id, 102*p) // 2% above wanted

	if r.eng.Ledger().Trade(r.trader, 0, 0).IsOpen() {
		t.Error("slippage-cancelled order opened a position")
	}
	// No fees configured: full escrow returned.
	if got := r.vault.FreeBalance(r.trader); got != 1_000_000*q {
		t.Errorf("balance after refund: got %d, want %d", got, 1_000_000*q)
	}
}

func TestEngine_OpenCancelled_ZeroPrice(t *testing.T) {
	r := newRig(t, rigOptions{})

	id, err := r.eng.OpenTrade(engine.OpenOrder{
		Trader: r.trader, Pair: 0, Long: true,
		Leverage: 10 * p, Collateral: 1_000 * q,
		Kind: state.OrderMarket, WantedPrice: 100 * p, SlippageP: p,
	})
	if err != nil {
		t.Fatal(err)
	}

	r.deliver(t, id, 0)

	if r.eng.Ledger().Trade(r.trader, 0, 0).IsOpen() {
		t.Error("feed failure still opened a position")
	}
	if got := r.vault.FreeBalance(r.trader); got != 1_000_000*q {
		t.Errorf("balance after refund: got %d, want %d", got, 1_000_000*q)
	}
}

func TestEngine_OpenCancelled_PairCapBreached(t *testing.T) {
	r := newRig(t, rigOptions{pairMaxOI: 15_000 * q})

	r.openLong(t, 1_000*q, 10*p, 100*p) // 10,000 OI

	id, err := r.eng.OpenTrade(engine.OpenOrder{
		Trader: r.trader, Pair: 0, Long: true,
		Leverage: 10 * p, Collateral: 1_000 * q,
		Kind: state.OrderMarket, WantedPrice: 100 * p, SlippageP: p,
	})
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 100*p)

	if got := r.eng.Ledger().PairOI(0).Long; got > 15_000*q {
		t.Errorf("pair OI above cap: %d", got)
	}
	if r.eng.Ledger().Trade(r.trader, 0, 1).IsOpen() {
		t.Error("cap-breaching open registered a position")
	}
}

func TestEngine_OpenCancelled_WalletCapBreached(t *testing.T) {
	r := newRig(t, rigOptions{walletMaxOI: 25_000 * q})

	r.openLong(t, 1_000*q, 10*p, 100*p) // 10,000 OI
	r.openLong(t, 1_000*q, 10*p, 100*p) // 20,000 OI

	id, err := r.eng.OpenTrade(engine.OpenOrder{
		Trader: r.trader, Pair: 0, Long: true,
		Leverage: 10 * p, Collateral: 1_000 * q,
		Kind: state.OrderMarket, WantedPrice: 100 * p, SlippageP: p,
	})
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 100*p)

	if got := r.eng.Ledger().WalletOI(r.trader); got != 20_000*q {
		t.Errorf("wallet OI: got %d, want %d", got, 20_000*q)
	}
	if r.eng.Ledger().Trade(r.trader, 0, 2).IsOpen() {
		t.Error("cap-breaching open registered a position")
	}
}

func TestEngine_OpenCancelled_GroupCapBreached(t *testing.T) {
	r := newRig(t, rigOptions{groupMaxOI: 15_000 * q})

	r.openLong(t, 1_000*q, 10*p, 100*p) // 10,000 OI

	id, err := r.eng.OpenTrade(engine.OpenOrder{
		Trader: r.trader, Pair: 0, Long: true,
		Leverage: 10 * p, Collateral: 1_000 * q,
		Kind: state.OrderMarket, WantedPrice: 100 * p, SlippageP: p,
	})
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 100*p)

	if got := r.eng.Ledger().GlobalOI(); got != 10_000*q {
		t.Errorf("group OI above cap: %d", got)
	}
	if r.eng.Ledger().Trade(r.trader, 0, 1).IsOpen() {
		t.Error("cap-breaching open registered a position")
	}
}

func TestEngine_OpenCancelled_PoolCapBreached(t *testing.T) {
	// Pool cap is 80% of the vault balance: 10,000 OI exactly fills it.
	r := newRig(t, rigOptions{poolBalance: 12_500 * q})

	r.openLong(t, 1_000*q, 10*p, 100*p)

	id, err := r.eng.OpenTrade(engine.OpenOrder{
		Trader: r.trader, Pair: 0, Long: true,
		Leverage: 10 * p, Collateral: 1_000 * q,
		Kind: state.OrderMarket, WantedPrice: 100 * p, SlippageP: p,
	})
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 100*p)

	if got := r.eng.Ledger().GlobalOI(); got != 10_000*q {
		t.Errorf("global OI above pool cap: %d", got)
	}
	if r.eng.Ledger().Trade(r.trader, 0, 1).IsOpen() {
		t.Error("cap-breaching open registered a position")
	}
}

// ============================================================================
// Test: intake validation
// ============================================================================

func TestEngine_OpenTrade_IntakeRejections(t *testing.T) {
	r := newRig(t, rigOptions{minLevPos: 1_500 * q})

	base := engine.OpenOrder{
		Trader: r.trader, Pair: 0, Long: true,
		Leverage: 10 * p, Collateral: 1_000 * q,
		Kind: state.OrderMarket, WantedPrice: 100 * p, SlippageP: p,
	}

	tests := []struct {
		name    string
		mutate  func(*engine.OpenOrder)
		wantErr error
	}{
		{"leverage too high", func(o *engine.OpenOrder) { o.Leverage = 200 * p }, engine.ErrLeverageOutOfBounds},
		{"leverage too low", func(o *engine.OpenOrder) { o.Leverage = p / 2; o.Collateral = 10_000 * q }, engine.ErrLeverageOutOfBounds},
		{"below min size", func(o *engine.OpenOrder) { o.Collateral = 100 * q }, engine.ErrPositionTooSmall},
		{"tp below open for long", func(o *engine.OpenOrder) { o.TP = 90 * p }, engine.ErrWrongTp},
		{"sl above open for long", func(o *engine.OpenOrder) { o.SL = 110 * p }, engine.ErrWrongSl},
		{"unknown pair", func(o *engine.OpenOrder) { o.Pair = 9 }, engine.ErrPairNotListed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.mutate(&o)
			if _, err := r.eng.OpenTrade(o); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	if r.eng.Ledger().PendingMarketCount() != 0 {
		t.Error("rejected orders left pending state behind")
	}
}

func TestEngine_OpenTrade_PerPairOrderCap(t *testing.T) {
	r := newRig(t, rigOptions{})

	for i := 0; i < 3; i++ {
		r.openLong(t, 1_000*q, 10*p, 100*p)
	}

	_, err := r.eng.OpenTrade(engine.OpenOrder{
		Trader: r.trader, Pair: 0, Long: true,
		Leverage: 10 * p, Collateral: 1_000 * q,
		Kind: state.OrderMarket, WantedPrice: 100 * p, SlippageP: p,
	})
	if !errors.Is(err, engine.ErrTooManyOrders) {
		t.Errorf("got %v, want ErrTooManyOrders", err)
	}
}

// ============================================================================
// Test: market close
// ============================================================================

func TestEngine_Close_FiftyPercentProfit(t *testing.T) {
	r := newRig(t, rigOptions{})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)
	balanceBefore := r.vault.FreeBalance(r.trader)

	id, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 105*p) // +5% price at 10x = +50%

	wantPayout := 1_500 * q // collateral x 1.5, no fees
	if got := r.vault.FreeBalance(r.trader) - balanceBefore; got != wantPayout {
		t.Errorf("payout: got %d, want %d", got, wantPayout)
	}
	if r.eng.Ledger().Trade(r.trader, 0, slot).IsOpen() {
		t.Error("full close left the slot occupied")
	}
	if got := r.eng.Ledger().PairOI(0).Long; got != 0 {
		t.Errorf("OI after close: got %d, want 0", got)
	}
}

func TestEngine_Close_ProfitMinusClosingFee(t *testing.T) {
	r := newRig(t, rigOptions{closeFeeP: scalePct(0.06)})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)
	balanceBefore := r.vault.FreeBalance(r.trader)

	id, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 105*p)

	// 0.06% of 10,000 notional = 6 quote units of closing fee
	wantPayout := 1_500*q - 6*q
	if got := r.vault.FreeBalance(r.trader) - balanceBefore; got != wantPayout {
		t.Errorf("payout: got %d, want %d", got, wantPayout)
	}
}

func TestEngine_Close_ZeroPriceSettlesFlatMinusCancelFee(t *testing.T) {
	r := newRig(t, rigOptions{cancelFee: 1 * q})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)
	balanceBefore := r.vault.FreeBalance(r.trader)

	id, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 0)

	if r.eng.Ledger().Trade(r.trader, 0, slot).IsOpen() {
		t.Fatal("feed failure must settle the position flat, not leave it open")
	}
	if got := r.vault.FreeBalance(r.trader) - balanceBefore; got != 1_000*q-1*q {
		t.Errorf("refund: got %d, want %d (escrow minus exactly the cancel fee)", got, 1_000*q-1*q)
	}
	if got := r.eng.Ledger().PairOI(0).Long; got != 0 {
		t.Errorf("residual OI after flat close: %d", got)
	}

	// The slot is genuinely freed, not parked behind the close guard.
	if _, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0); !errors.Is(err, engine.ErrNoTrade) {
		t.Errorf("got %v, want ErrNoTrade for the freed slot", err)
	}
}

func TestEngine_Close_GuardBlocksSecondRequest(t *testing.T) {
	r := newRig(t, rigOptions{})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)

	if _, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0); !errors.Is(err, engine.ErrBeingClosed) {
		t.Errorf("got %v, want ErrBeingClosed", err)
	}
}

func TestEngine_PartialCloseConservation(t *testing.T) {
	r := newRig(t, rigOptions{})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)

	// Four quarters at flat price must drain the OI exactly like one full
	// close would.
	for i := 0; i < 4; i++ {
		amount := int64(250 * q)
		if i == 3 {
			amount = 0 // remainder
		}
		id, err := r.eng.CloseTradeMarket(r.trader, 0, slot, amount)
		if err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
		r.deliver(t, id, 100*p)
	}

	if r.eng.Ledger().Trade(r.trader, 0, slot).IsOpen() {
		t.Error("position still open after closing 100%")
	}
	if got := r.eng.Ledger().PairOI(0).Long; got != 0 {
		t.Errorf("residual OI after partial closes: %d", got)
	}
	if got := r.eng.Ledger().GlobalOI(); got != 0 {
		t.Errorf("residual global OI: %d", got)
	}
}

func TestEngine_Close_LossFlowsToPool(t *testing.T) {
	r := newRig(t, rigOptions{})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)
	poolBefore := r.vault.CurrentBalance()
	balanceBefore := r.vault.FreeBalance(r.trader)

	id, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 98*p) // -2% at 10x = -20%

	if got := r.vault.FreeBalance(r.trader) - balanceBefore; got != 800*q {
		t.Errorf("payout: got %d, want %d", got, 800*q)
	}
	if got := r.vault.CurrentBalance() - poolBefore; got != 200*q {
		t.Errorf("pool gain: got %d, want %d", got, 200*q)
	}
}

func TestEngine_Close_PayoutFlooredAtLiqThreshold(t *testing.T) {
	r := newRig(t, rigOptions{})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)
	balanceBefore := r.vault.FreeBalance(r.trader)

	id, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 91*p) // -9% at 10x = -90%: at the liquidation threshold

	if got := r.vault.FreeBalance(r.trader) - balanceBefore; got != 0 {
		t.Errorf("payout at liq threshold: got %d, want 0", got)
	}
}

// ============================================================================
// Test: duplicate settlement delivery
// ============================================================================

func TestEngine_DuplicateFulfillmentIsNoop(t *testing.T) {
	r := newRig(t, rigOptions{})

	slot := r.openLong(t, 1_000*q, 10*p, 100*p)

	id, err := r.eng.CloseTradeMarket(r.trader, 0, slot, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.deliver(t, id, 105*p)
	balanceAfterFirst := r.vault.FreeBalance(r.trader)

	// Direct duplicate callback: the pending entry is gone, nothing moves.
	r.eng.MarketCloseSettled(id, 105*p)

	if got := r.vault.FreeBalance(r.trader); got != balanceAfterFirst {
		t.Errorf("duplicate settlement moved funds: got %d, want %d", got, balanceAfterFirst)
	}
}

func scalePct(pct float64) int64 {
	return int64(pct * float64(p))
}
