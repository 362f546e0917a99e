package state

import (
	"github.com/google/uuid"
)

// Ledger is the authoritative store of open positions, resting orders,
// pending requests and derived open-interest aggregates. It is owned by the
// intake/settlement controller pair; nothing else mutates it.
//
// Not thread-safe: all access happens from the single-threaded engine.
type Ledger struct {
	trades map[TradeKey]*Trade
	infos  map[TradeKey]*TradeInfo

	// Resting orders: dense arena with a back-reference index for O(1)
	// swap-remove.
	limitOrders []OpenLimitOrder
	limitIndex  map[TradeKey]int

	pendingMarket    map[uint64]*PendingMarketOrder
	pendingLimitExec map[uint64]*PendingLimitExec
	pendingSl        map[uint64]*PendingSlUpdate
	pendingMargin    map[uint64]*PendingMarginUpdate

	// execByKey maps a trigger key to its most recent pending request so a
	// re-request after timeout expires the predecessor.
	execByKey map[TriggerKey]uint64

	// pendingMarketCount is the global in-flight market order count.
	pendingMarketCount int

	// pendingPerPair counts pending market orders per (trader, pair) for
	// the combined per-pair order cap.
	pendingPerPair map[traderPair]int

	oi       map[uint16]*PairOpenInterest
	walletOI map[uuid.UUID]int64
	globalOI int64
}

type traderPair struct {
	Trader uuid.UUID
	Pair   uint16
}

func NewLedger() *Ledger {
	return &Ledger{
		trades:           make(map[TradeKey]*Trade),
		infos:            make(map[TradeKey]*TradeInfo),
		limitIndex:       make(map[TradeKey]int),
		pendingMarket:    make(map[uint64]*PendingMarketOrder),
		pendingLimitExec: make(map[uint64]*PendingLimitExec),
		pendingSl:        make(map[uint64]*PendingSlUpdate),
		pendingMargin:    make(map[uint64]*PendingMarginUpdate),
		execByKey:        make(map[TriggerKey]uint64),
		pendingPerPair:   make(map[traderPair]int),
		oi:               make(map[uint16]*PairOpenInterest),
		walletOI:         make(map[uuid.UUID]int64),
	}
}

// === Trades ===

// Trade returns the position at a slot, or nil when the slot is empty.
func (l *Ledger) Trade(trader uuid.UUID, pair uint16, index int) *Trade {
	return l.trades[TradeKey{Trader: trader, Pair: pair, Index: index}]
}

// OpenPositionsLen returns the number of open positions across all traders.
func (l *Ledger) OpenPositionsLen() int {
	return len(l.trades)
}

// Info returns the auxiliary state for a slot, or nil.
func (l *Ledger) Info(trader uuid.UUID, pair uint16, index int) *TradeInfo {
	return l.infos[TradeKey{Trader: trader, Pair: pair, Index: index}]
}

// StoreTrade registers a position and its auxiliary state at its slot.
func (l *Ledger) StoreTrade(t *Trade, info *TradeInfo) {
	key := t.Key()
	l.trades[key] = t
	l.infos[key] = info
}

// RemoveTrade clears a slot entirely.
func (l *Ledger) RemoveTrade(trader uuid.UUID, pair uint16, index int) {
	key := TradeKey{Trader: trader, Pair: pair, Index: index}
	delete(l.trades, key)
	delete(l.infos, key)
}

// FirstEmptySlot scans for the lowest slot index under max that holds neither
// a position nor a resting order for (trader, pair). Slots are reused.
func (l *Ledger) FirstEmptySlot(trader uuid.UUID, pair uint16, max int) (int, bool) {
	for i := 0; i < max; i++ {
		key := TradeKey{Trader: trader, Pair: pair, Index: i}
		if _, occupied := l.trades[key]; occupied {
			continue
		}
		if _, resting := l.limitIndex[key]; resting {
			continue
		}
		return i, true
	}
	return 0, false
}

// OpenTradesCount returns the number of occupied position slots for a
// (trader, pair).
func (l *Ledger) OpenTradesCount(trader uuid.UUID, pair uint16) int {
	n := 0
	for key := range l.trades {
		if key.Trader == trader && key.Pair == pair {
			n++
		}
	}
	return n
}

// TotalOrderCount is the combined open + pending + resting count used for the
// per-pair order cap.
func (l *Ledger) TotalOrderCount(trader uuid.UUID, pair uint16) int {
	return l.OpenTradesCount(trader, pair) +
		l.LimitOrdersCount(trader, pair) +
		l.pendingPerPair[traderPair{Trader: trader, Pair: pair}]
}

// === Pending market orders ===

// PendingMarketCount is the global in-flight market order count.
func (l *Ledger) PendingMarketCount() int {
	return l.pendingMarketCount
}

// StorePendingMarketOrder registers an in-flight market order under its
// request id.
func (l *Ledger) StorePendingMarketOrder(id uint64, o *PendingMarketOrder) {
	l.pendingMarket[id] = o
	l.pendingMarketCount++
	l.pendingPerPair[traderPair{Trader: o.Trade.Trader, Pair: o.Trade.Pair}]++
}

// ConsumePendingMarketOrder removes and returns the pending order for a
// request id; nil when already consumed or never created.
func (l *Ledger) ConsumePendingMarketOrder(id uint64) *PendingMarketOrder {
	o, ok := l.pendingMarket[id]
	if !ok {
		return nil
	}
	delete(l.pendingMarket, id)
	l.pendingMarketCount--

	tp := traderPair{Trader: o.Trade.Trader, Pair: o.Trade.Pair}
	if l.pendingPerPair[tp] > 0 {
		l.pendingPerPair[tp]--
	}
	return o
}

// === Pending trigger executions ===

// StorePendingLimitExec registers a claimed trigger; any older pending
// request for the same trigger key is expired so a stale price delivery for
// it becomes a no-op.
func (l *Ledger) StorePendingLimitExec(id uint64, p *PendingLimitExec) {
	key := p.TriggerKey()
	if prev, ok := l.execByKey[key]; ok {
		delete(l.pendingLimitExec, prev)
	}
	l.pendingLimitExec[id] = p
	l.execByKey[key] = id
}

// ConsumePendingLimitExec removes and returns the pending trigger execution.
func (l *Ledger) ConsumePendingLimitExec(id uint64) *PendingLimitExec {
	p, ok := l.pendingLimitExec[id]
	if !ok {
		return nil
	}
	delete(l.pendingLimitExec, id)
	if l.execByKey[p.TriggerKey()] == id {
		delete(l.execByKey, p.TriggerKey())
	}
	return p
}

// === Pending stop-loss updates ===

func (l *Ledger) StorePendingSlUpdate(id uint64, p *PendingSlUpdate) {
	l.pendingSl[id] = p
}

func (l *Ledger) ConsumePendingSlUpdate(id uint64) *PendingSlUpdate {
	p, ok := l.pendingSl[id]
	if !ok {
		return nil
	}
	delete(l.pendingSl, id)
	return p
}

// === Pending margin updates ===

func (l *Ledger) StorePendingMarginUpdate(id uint64, p *PendingMarginUpdate) {
	l.pendingMargin[id] = p
}

func (l *Ledger) ConsumePendingMarginUpdate(id uint64) *PendingMarginUpdate {
	p, ok := l.pendingMargin[id]
	if !ok {
		return nil
	}
	delete(l.pendingMargin, id)
	return p
}

// === Snapshot ===

// SnapshotState is the serializable ledger state for warm restarts.
type SnapshotState struct {
	Trades      []*Trade
	Infos       map[TradeKey]*TradeInfo
	LimitOrders []OpenLimitOrder
	OI          map[uint16]*PairOpenInterest
	WalletOI    map[uuid.UUID]int64
	GlobalOI    int64
}

// Snapshot captures the durable subset of the ledger. Pending requests are
// deliberately excluded: they pair with oracle requests that do not survive
// a restart, and their escrow is reconciled by re-request.
func (l *Ledger) Snapshot() *SnapshotState {
	snap := &SnapshotState{
		Trades:      make([]*Trade, 0, len(l.trades)),
		Infos:       make(map[TradeKey]*TradeInfo, len(l.infos)),
		LimitOrders: append([]OpenLimitOrder(nil), l.limitOrders...),
		OI:          make(map[uint16]*PairOpenInterest, len(l.oi)),
		WalletOI:    make(map[uuid.UUID]int64, len(l.walletOI)),
		GlobalOI:    l.globalOI,
	}
	for _, t := range l.trades {
		snap.Trades = append(snap.Trades, t)
	}
	for k, v := range l.infos {
		snap.Infos[k] = v
	}
	for k, v := range l.oi {
		cp := *v
		snap.OI[k] = &cp
	}
	for k, v := range l.walletOI {
		snap.WalletOI[k] = v
	}
	return snap
}

// Restore loads a snapshot into an empty ledger.
func (l *Ledger) Restore(snap *SnapshotState) {
	for _, t := range snap.Trades {
		l.trades[t.Key()] = t
	}
	for k, v := range snap.Infos {
		l.infos[k] = v
	}
	for _, o := range snap.LimitOrders {
		l.limitOrders = append(l.limitOrders, o)
		l.limitIndex[o.Key()] = len(l.limitOrders) - 1
	}
	for k, v := range snap.OI {
		cp := *v
		l.oi[k] = &cp
	}
	for k, v := range snap.WalletOI {
		l.walletOI[k] = v
	}
	l.globalOI = snap.GlobalOI
}
