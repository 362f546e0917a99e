package state

import (
	"github.com/google/uuid"

	fpmath "PerpCore/internal/math"
)

// PairOpenInterest is the per-pair, per-side aggregate of leveraged notional
// currently held, in quote units.
type PairOpenInterest struct {
	Long  int64
	Short int64
}

// Total returns both sides combined.
func (p *PairOpenInterest) Total() int64 {
	return p.Long + p.Short
}

// SideShareP returns a side's share of pair open interest in Precision
// percent units; 0 for an empty pair.
func (p *PairOpenInterest) SideShareP(long bool) int64 {
	total := p.Total()
	if total == 0 {
		return 0
	}
	side := p.Short
	if long {
		side = p.Long
	}
	return fpmath.MulDiv(side, fpmath.PercentBase, total)
}

// PairOI returns the aggregate for a pair, creating a zero entry on first use.
func (l *Ledger) PairOI(pair uint16) *PairOpenInterest {
	oi, ok := l.oi[pair]
	if !ok {
		oi = &PairOpenInterest{}
		l.oi[pair] = oi
	}
	return oi
}

// WalletOI returns a trader's total leveraged exposure across all pairs.
func (l *Ledger) WalletOI(trader uuid.UUID) int64 {
	return l.walletOI[trader]
}

// GlobalOI returns the system-wide leveraged exposure.
func (l *Ledger) GlobalOI() int64 {
	return l.globalOI
}

// GroupOI sums pair open interest across a set of pair indices (a group).
func (l *Ledger) GroupOI(pairs []uint16) int64 {
	var total int64
	for _, p := range pairs {
		if oi, ok := l.oi[p]; ok {
			total += oi.Total()
		}
	}
	return total
}

// AddOpenInterest records newly opened leveraged notional.
func (l *Ledger) AddOpenInterest(pair uint16, long bool, trader uuid.UUID, amount int64) {
	oi := l.PairOI(pair)
	if long {
		oi.Long += amount
	} else {
		oi.Short += amount
	}
	l.walletOI[trader] += amount
	l.globalOI += amount
}

// RemoveOpenInterest releases leveraged notional on close or partial reduce.
// Every reduction is clamped to the current balance: partial closes truncate
// at each step, and the final close must absorb the dust rather than
// underflow the aggregate.
func (l *Ledger) RemoveOpenInterest(pair uint16, long bool, trader uuid.UUID, amount int64) {
	oi := l.PairOI(pair)
	if long {
		oi.Long -= clamp(amount, oi.Long)
	} else {
		oi.Short -= clamp(amount, oi.Short)
	}
	l.walletOI[trader] -= clamp(amount, l.walletOI[trader])
	if l.walletOI[trader] == 0 {
		delete(l.walletOI, trader)
	}
	l.globalOI -= clamp(amount, l.globalOI)
}

func clamp(amount, balance int64) int64 {
	if amount > balance {
		return balance
	}
	return amount
}
