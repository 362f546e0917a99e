package projection_test

import (
	"testing"

	"PerpCore/internal/projection"
)

func TestPriceHistoryEvictsOldest(t *testing.T) {
	h := projection.NewPriceHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.Record(1, i, i*100)
	}

	recent := h.Recent(1, 10)
	if len(recent) != 3 {
		t.Fatalf("len: got %d, want 3", len(recent))
	}
	if recent[0].Height != 5 || recent[2].Height != 3 {
		t.Errorf("window: got heights %d..%d, want 5..3", recent[0].Height, recent[2].Height)
	}
	if h.Last(1) != 500 {
		t.Errorf("last: got %d, want 500", h.Last(1))
	}
}

func TestPriceHistoryPairsIndependent(t *testing.T) {
	h := projection.NewPriceHistory(8)
	h.Record(1, 10, 100)
	h.Record(2, 10, 999)

	if h.Last(1) != 100 || h.Last(2) != 999 {
		t.Errorf("cross-pair leak: got %d and %d", h.Last(1), h.Last(2))
	}
	if got := h.Recent(3, 5); len(got) != 0 {
		t.Errorf("unseen pair: got %d points, want 0", len(got))
	}
}

func TestPriceHistoryLimit(t *testing.T) {
	h := projection.NewPriceHistory(8)
	for i := int64(1); i <= 6; i++ {
		h.Record(1, i, i)
	}
	if got := h.Recent(1, 2); len(got) != 2 || got[0].Height != 6 {
		t.Errorf("limited window: got %+v", got)
	}
}
