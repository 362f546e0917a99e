package treasury_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	fpmath "PerpCore/internal/math"
	"PerpCore/internal/state"
	"PerpCore/internal/treasury"
)

// ============================================================================
// Test: vault escrow accounting
// ============================================================================

func TestPoolVault_EscrowRoundTrip(t *testing.T) {
	v := treasury.NewPoolVault(0)
	trader := uuid.New()
	v.Deposit(trader, 1_000)

	if err := v.ReserveBalance(trader, 600); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := v.FreeBalance(trader); got != 400 {
		t.Errorf("free after reserve: got %d, want 400", got)
	}
	if got := v.Escrowed(trader); got != 600 {
		t.Errorf("escrow: got %d, want 600", got)
	}

	v.ReleaseBalance(trader, 600)
	if got := v.FreeBalance(trader); got != 1_000 {
		t.Errorf("free after release: got %d, want 1000", got)
	}
}

func TestPoolVault_ReserveInsufficient(t *testing.T) {
	v := treasury.NewPoolVault(0)
	trader := uuid.New()
	v.Deposit(trader, 100)

	err := v.ReserveBalance(trader, 101)
	if !errors.Is(err, treasury.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	if got := v.FreeBalance(trader); got != 100 {
		t.Errorf("failed reserve must not move funds: got %d", got)
	}
}

func TestPoolVault_LossFlowsToPool(t *testing.T) {
	v := treasury.NewPoolVault(10_000)
	trader := uuid.New()
	v.Deposit(trader, 1_000)
	if err := v.ReserveBalance(trader, 1_000); err != nil {
		t.Fatal(err)
	}

	v.ReceiveAssets(trader, 1_000)
	if got := v.CurrentBalance(); got != 11_000 {
		t.Errorf("pool: got %d, want 11000", got)
	}
	if got := v.Escrowed(trader); got != 0 {
		t.Errorf("escrow: got %d, want 0", got)
	}
}

func TestPoolVault_ReceiveCappedAtEscrow(t *testing.T) {
	v := treasury.NewPoolVault(0)
	trader := uuid.New()
	v.Deposit(trader, 500)
	if err := v.ReserveBalance(trader, 500); err != nil {
		t.Fatal(err)
	}

	// Rounding overshoot must not invent assets.
	v.ReceiveAssets(trader, 600)
	if got := v.CurrentBalance(); got != 500 {
		t.Errorf("pool: got %d, want 500", got)
	}
}

func TestPoolVault_SendInsufficientPool(t *testing.T) {
	v := treasury.NewPoolVault(100)
	trader := uuid.New()

	if err := v.SendAssets(trader, 101); !errors.Is(err, treasury.ErrInsufficientPool) {
		t.Errorf("got %v, want ErrInsufficientPool", err)
	}
	if err := v.SendAssets(trader, 100); err != nil {
		t.Errorf("full-pool send: %v", err)
	}
	if got := v.FreeBalance(trader); got != 100 {
		t.Errorf("trader balance: got %d, want 100", got)
	}
}

func TestPoolVault_RewardsComeFromEscrow(t *testing.T) {
	v := treasury.NewPoolVault(0)
	trader, bot := uuid.New(), uuid.New()
	v.Deposit(trader, 10)
	if err := v.ReserveBalance(trader, 10); err != nil {
		t.Fatal(err)
	}

	v.AccrueRewards(trader, bot, 2)
	if got := v.Rewards(bot); got != 2 {
		t.Errorf("rewards: got %d, want 2", got)
	}
	if got := v.Escrowed(trader); got != 8 {
		t.Errorf("escrow: got %d, want 8", got)
	}
}

// ============================================================================
// Test: referral tiers
// ============================================================================

func testTiers() []treasury.ReferralTier {
	return []treasury.ReferralTier{
		{MinVolume: 0, DiscountP: 5 * fpmath.Precision, RebateP: 10 * fpmath.Precision},
		{MinVolume: 10_000, DiscountP: 10 * fpmath.Precision, RebateP: 20 * fpmath.Precision},
	}
}

func TestTieredReferral_UnreferredTraderGetsNothing(t *testing.T) {
	r := treasury.NewTieredReferral(testTiers())

	discount, rebate := r.DiscountAndRebate(uuid.New(), 1_000)
	if discount != 0 || rebate != 0 {
		t.Errorf("got discount=%d rebate=%d, want 0/0", discount, rebate)
	}
}

func TestTieredReferral_BaseTierSplit(t *testing.T) {
	r := treasury.NewTieredReferral(testTiers())
	trader, referrer := uuid.New(), uuid.New()
	r.Register(trader, referrer)

	discount, rebate := r.DiscountAndRebate(trader, 1_000)
	if discount != 50 || rebate != 100 {
		t.Errorf("got discount=%d rebate=%d, want 50/100", discount, rebate)
	}
}

func TestTieredReferral_VolumePromotesTier(t *testing.T) {
	r := treasury.NewTieredReferral(testTiers())
	trader, referrer := uuid.New(), uuid.New()
	r.Register(trader, referrer)

	// Accumulate volume past the second tier's threshold.
	r.DiscountAndRebate(trader, 10_000)

	discount, rebate := r.DiscountAndRebate(trader, 1_000)
	if discount != 100 || rebate != 200 {
		t.Errorf("got discount=%d rebate=%d, want 100/200", discount, rebate)
	}
}

func TestTieredReferral_FirstReferrerSticks(t *testing.T) {
	r := treasury.NewTieredReferral(testTiers())
	trader, first, second := uuid.New(), uuid.New(), uuid.New()
	r.Register(trader, first)
	r.Register(trader, second)

	r.DiscountAndRebate(trader, 10_000)
	// Volume accrued to the first referrer promotes the tier; with the second
	// referrer it would still be at base.
	discount, _ := r.DiscountAndRebate(trader, 1_000)
	if discount != 100 {
		t.Errorf("got discount=%d, want 100 (first referrer's tier)", discount)
	}
}

// ============================================================================
// Test: trigger claim races
// ============================================================================

func TestTriggerRegistry_FirstClaimantWins(t *testing.T) {
	r := treasury.NewTriggerRegistry(30)
	key := state.TriggerKey{Trader: uuid.New(), Pair: 0, Index: 0, Kind: state.TriggerLiq}
	botA, botB := uuid.New(), uuid.New()

	if !r.Claim(key, botA, 100) {
		t.Fatal("first claim rejected")
	}
	if r.Claim(key, botB, 110) {
		t.Error("second claim inside timeout must be rejected")
	}

	got, ok := r.Claimant(key, 110)
	if !ok || got != botA {
		t.Errorf("claimant: got %v ok=%v, want botA", got, ok)
	}
}

func TestTriggerRegistry_StaleClaimSuperseded(t *testing.T) {
	r := treasury.NewTriggerRegistry(30)
	key := state.TriggerKey{Trader: uuid.New(), Kind: state.TriggerTP}
	botA, botB := uuid.New(), uuid.New()

	r.Claim(key, botA, 100)
	if !r.Claim(key, botB, 130) {
		t.Error("claim at exactly the timeout must supersede")
	}

	got, _ := r.Claimant(key, 130)
	if got != botB {
		t.Errorf("claimant: got %v, want botB", got)
	}
}

func TestTriggerRegistry_ReleaseFreesKey(t *testing.T) {
	r := treasury.NewTriggerRegistry(30)
	key := state.TriggerKey{Trader: uuid.New(), Kind: state.TriggerSL}
	botA, botB := uuid.New(), uuid.New()

	r.Claim(key, botA, 100)
	r.Release(key)

	if !r.Claim(key, botB, 101) {
		t.Error("claim after release rejected")
	}
}

func TestTriggerRegistry_DistinctKeysIndependent(t *testing.T) {
	r := treasury.NewTriggerRegistry(30)
	trader := uuid.New()
	bot := uuid.New()

	tp := state.TriggerKey{Trader: trader, Pair: 1, Index: 0, Kind: state.TriggerTP}
	sl := state.TriggerKey{Trader: trader, Pair: 1, Index: 0, Kind: state.TriggerSL}

	if !r.Claim(tp, bot, 100) || !r.Claim(sl, bot, 100) {
		t.Error("claims on distinct trigger kinds must not collide")
	}
}
