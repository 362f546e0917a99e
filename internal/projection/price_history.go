package projection

import "sync"

// PricePoint is one observed execution price.
type PricePoint struct {
	Height int64
	Price  int64
}

// PriceHistory keeps a bounded in-memory ring of recent execution prices per
// pair for the query surface. It is written by the projection worker and read
// by HTTP handlers, hence the lock.
type PriceHistory struct {
	mu    sync.RWMutex
	cap   int
	pairs map[uint16][]PricePoint
}

func NewPriceHistory(capPerPair int) *PriceHistory {
	if capPerPair <= 0 {
		capPerPair = 256
	}
	return &PriceHistory{
		cap:   capPerPair,
		pairs: make(map[uint16][]PricePoint),
	}
}

// Record appends an execution price, evicting the oldest point when full.
func (h *PriceHistory) Record(pair uint16, height, price int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	points := h.pairs[pair]
	if len(points) >= h.cap {
		copy(points, points[1:])
		points = points[:len(points)-1]
	}
	h.pairs[pair] = append(points, PricePoint{Height: height, Price: price})
}

// Recent returns up to limit points for a pair, newest first.
func (h *PriceHistory) Recent(pair uint16, limit int) []PricePoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	points := h.pairs[pair]
	if limit <= 0 || limit > len(points) {
		limit = len(points)
	}
	out := make([]PricePoint, 0, limit)
	for i := len(points) - 1; i >= len(points)-limit; i-- {
		out = append(out, points[i])
	}
	return out
}

// Last returns the most recent execution price for a pair, 0 when unseen.
func (h *PriceHistory) Last(pair uint16) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	points := h.pairs[pair]
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].Price
}
