package treasury

import (
	"github.com/google/uuid"

	fpmath "PerpCore/internal/math"
)

// Referral splits an opening fee between the trader's discount and the
// referrer's rebate. Both returned values are quote amounts already deducted
// from the fee by the caller.
type Referral interface {
	DiscountAndRebate(trader uuid.UUID, openFee int64) (discount, rebate int64)

	// Referrer resolves the rebate recipient for a trader.
	Referrer(trader uuid.UUID) (uuid.UUID, bool)
}

// NopReferral grants nothing. Used when the referral program is disabled.
type NopReferral struct{}

func (NopReferral) DiscountAndRebate(uuid.UUID, int64) (int64, int64) { return 0, 0 }

func (NopReferral) Referrer(uuid.UUID) (uuid.UUID, bool) { return uuid.UUID{}, false }

// ReferralTier grants a fee discount to the referred trader and a rebate to
// the referrer once the referrer's accumulated referred volume reaches
// MinVolume.
type ReferralTier struct {
	MinVolume int64 // quote units
	DiscountP int64 // percent of the open fee, Precision percent units
	RebateP   int64
}

// TieredReferral is the in-memory reference Referral. Tiers must be sorted
// ascending by MinVolume; the highest tier the referrer qualifies for wins.
type TieredReferral struct {
	tiers     []ReferralTier
	referrers map[uuid.UUID]uuid.UUID // trader -> referrer
	volume    map[uuid.UUID]int64     // referrer -> accumulated referred fee volume
}

func NewTieredReferral(tiers []ReferralTier) *TieredReferral {
	return &TieredReferral{
		tiers:     tiers,
		referrers: make(map[uuid.UUID]uuid.UUID),
		volume:    make(map[uuid.UUID]int64),
	}
}

// Register links a trader to a referrer. A trader's referrer is permanent;
// later registrations are ignored.
func (r *TieredReferral) Register(trader, referrer uuid.UUID) {
	if _, ok := r.referrers[trader]; ok {
		return
	}
	if trader == referrer {
		return
	}
	r.referrers[trader] = referrer
}

func (r *TieredReferral) DiscountAndRebate(trader uuid.UUID, openFee int64) (int64, int64) {
	referrer, ok := r.referrers[trader]
	if !ok || openFee <= 0 {
		return 0, 0
	}

	tier, ok := r.qualifyingTier(referrer)
	r.volume[referrer] += openFee
	if !ok {
		return 0, 0
	}

	discount := fpmath.PercentOf(openFee, tier.DiscountP)
	rebate := fpmath.PercentOf(openFee, tier.RebateP)
	return discount, rebate
}

func (r *TieredReferral) Referrer(trader uuid.UUID) (uuid.UUID, bool) {
	referrer, ok := r.referrers[trader]
	return referrer, ok
}

func (r *TieredReferral) qualifyingTier(referrer uuid.UUID) (ReferralTier, bool) {
	vol := r.volume[referrer]
	for i := len(r.tiers) - 1; i >= 0; i-- {
		if vol >= r.tiers[i].MinVolume {
			return r.tiers[i], true
		}
	}
	return ReferralTier{}, false
}
