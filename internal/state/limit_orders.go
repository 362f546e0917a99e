package state

import (
	"github.com/google/uuid"
)

// Resting limit orders live in a dense arena with a side index mapping each
// (trader, pair, slot) key to its arena position. Removal swaps the last
// element into the freed position and rewrites the moved element's index
// entry, so the index always points back at the element holding the same key.

// LimitOrder returns the resting order at a slot, or nil.
func (l *Ledger) LimitOrder(trader uuid.UUID, pair uint16, index int) *OpenLimitOrder {
	pos, ok := l.limitIndex[TradeKey{Trader: trader, Pair: pair, Index: index}]
	if !ok {
		return nil
	}
	return &l.limitOrders[pos]
}

// HasLimitOrder reports whether a slot holds a resting order.
func (l *Ledger) HasLimitOrder(trader uuid.UUID, pair uint16, index int) bool {
	_, ok := l.limitIndex[TradeKey{Trader: trader, Pair: pair, Index: index}]
	return ok
}

// StoreLimitOrder appends a resting order to the arena.
func (l *Ledger) StoreLimitOrder(o OpenLimitOrder) {
	l.limitOrders = append(l.limitOrders, o)
	l.limitIndex[o.Key()] = len(l.limitOrders) - 1
}

// RemoveLimitOrder swap-removes a resting order. No-op for unknown keys.
func (l *Ledger) RemoveLimitOrder(trader uuid.UUID, pair uint16, index int) {
	key := TradeKey{Trader: trader, Pair: pair, Index: index}
	pos, ok := l.limitIndex[key]
	if !ok {
		return
	}

	last := len(l.limitOrders) - 1
	if pos != last {
		moved := l.limitOrders[last]
		l.limitOrders[pos] = moved
		l.limitIndex[moved.Key()] = pos
	}
	l.limitOrders = l.limitOrders[:last]
	delete(l.limitIndex, key)
}

// LimitOrdersCount returns the number of resting orders for a (trader, pair).
func (l *Ledger) LimitOrdersCount(trader uuid.UUID, pair uint16) int {
	n := 0
	for key := range l.limitIndex {
		if key.Trader == trader && key.Pair == pair {
			n++
		}
	}
	return n
}

// LimitOrdersLen returns the total arena size (all traders, all pairs).
func (l *Ledger) LimitOrdersLen() int {
	return len(l.limitOrders)
}
