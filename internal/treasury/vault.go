package treasury

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientPool    = errors.New("insufficient pool balance")
)

// Vault custodies trader balances and the counterparty pool. All amounts are
// quote-scaled. The settlement layer is the only caller, so implementations
// may be single-threaded.
type Vault interface {
	// ReserveBalance escrows quote assets from a trader's free balance for an
	// in-flight order.
	ReserveBalance(trader uuid.UUID, amount int64) error

	// ReleaseBalance returns previously escrowed assets to the trader's free
	// balance.
	ReleaseBalance(trader uuid.UUID, amount int64)

	// ReceiveAssets moves escrowed trader assets into the pool. Fees and
	// realized trader losses land here.
	ReceiveAssets(trader uuid.UUID, amount int64)

	// SendAssets pays quote assets from the pool to a trader's free balance.
	SendAssets(trader uuid.UUID, amount int64) error

	// AccrueRewards credits a trigger executor's reward balance from escrow.
	AccrueRewards(payer, recipient uuid.UUID, amount int64)

	// CurrentBalance returns the pool's quote balance.
	CurrentBalance() int64

	// FreeBalance returns a trader's unescrowed quote balance.
	FreeBalance(trader uuid.UUID) int64
}

// PoolVault is the in-memory reference Vault. Escrow is tracked per trader so
// a cancellation can only refund what the order actually locked.
type PoolVault struct {
	pool    int64
	free    map[uuid.UUID]int64
	escrow  map[uuid.UUID]int64
	rewards map[uuid.UUID]int64
}

func NewPoolVault(initialPool int64) *PoolVault {
	return &PoolVault{
		pool:    initialPool,
		free:    make(map[uuid.UUID]int64),
		escrow:  make(map[uuid.UUID]int64),
		rewards: make(map[uuid.UUID]int64),
	}
}

// Deposit credits a trader's free balance. Test and bootstrap entry point.
func (v *PoolVault) Deposit(trader uuid.UUID, amount int64) {
	v.free[trader] += amount
}

func (v *PoolVault) ReserveBalance(trader uuid.UUID, amount int64) error {
	if v.free[trader] < amount {
		return fmt.Errorf("reserve %d for %s: %w", amount, trader, ErrInsufficientBalance)
	}
	v.free[trader] -= amount
	v.escrow[trader] += amount
	return nil
}

func (v *PoolVault) ReleaseBalance(trader uuid.UUID, amount int64) {
	amount = capTo(amount, v.escrow[trader])
	v.escrow[trader] -= amount
	v.free[trader] += amount
}

func (v *PoolVault) ReceiveAssets(trader uuid.UUID, amount int64) {
	amount = capTo(amount, v.escrow[trader])
	v.escrow[trader] -= amount
	v.pool += amount
}

func (v *PoolVault) SendAssets(trader uuid.UUID, amount int64) error {
	if v.pool < amount {
		return fmt.Errorf("send %d: %w", amount, ErrInsufficientPool)
	}
	v.pool -= amount
	v.free[trader] += amount
	return nil
}

func (v *PoolVault) AccrueRewards(payer, recipient uuid.UUID, amount int64) {
	amount = capTo(amount, v.escrow[payer])
	v.escrow[payer] -= amount
	v.rewards[recipient] += amount
}

func (v *PoolVault) CurrentBalance() int64 {
	return v.pool
}

func (v *PoolVault) FreeBalance(trader uuid.UUID) int64 {
	return v.free[trader]
}

// Rewards returns a trigger executor's accrued reward balance.
func (v *PoolVault) Rewards(recipient uuid.UUID) int64 {
	return v.rewards[recipient]
}

// Escrowed returns a trader's locked quote balance.
func (v *PoolVault) Escrowed(trader uuid.UUID) int64 {
	return v.escrow[trader]
}

func capTo(amount, limit int64) int64 {
	if amount > limit {
		return limit
	}
	if amount < 0 {
		return 0
	}
	return amount
}
