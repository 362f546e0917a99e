package oracle

import (
	"errors"

	"github.com/rs/zerolog"

	"PerpCore/internal/config"
	fpmath "PerpCore/internal/math"
)

// Kind tags a price request with the settlement action that consumes it.
type Kind uint8

const (
	MarketOpen Kind = iota
	MarketClose
	LimitOpen
	Automation
	SlUpdate
	MarginUpdate
)

func (k Kind) String() string {
	switch k {
	case MarketOpen:
		return "market_open"
	case MarketClose:
		return "market_close"
	case LimitOpen:
		return "limit_open"
	case Automation:
		return "automation"
	case SlUpdate:
		return "sl_update"
	case MarginUpdate:
		return "margin_update"
	default:
		return "unknown"
	}
}

// Settler receives the consensus price for a fulfilled request. Each request
// id is delivered exactly once, on the callback matching its Kind.
type Settler interface {
	MarketOpenSettled(id uint64, price int64)
	MarketCloseSettled(id uint64, price int64)
	LimitOpenSettled(id uint64, price int64)
	AutomationSettled(id uint64, price int64)
	SlUpdateSettled(id uint64, price int64)
	MarginUpdateSettled(id uint64, price int64)
}

var (
	ErrFeedMismatch    = errors.New("evidence feed does not match request")
	ErrPriceDeviation  = errors.New("price deviation too high")
	ErrBackupDeviation = errors.New("backup deviation too high")
)

// Evidence is one reporter observation for an open request. Prices and
// confidence are Precision-scaled; BackupPrice is zero when the pair has no
// secondary feed.
type Evidence struct {
	RequestID   uint64
	FeedID      string
	Price       int64
	Conf        int64
	BackupPrice int64
}

type request struct {
	kind         Kind
	feed         config.Feed
	minObs       int
	observations []int64
}

// Protocol is the two-phase price request/fulfill state machine. Request ids
// are monotonic and never reused, so a delivery for a consumed or unknown id
// is always a no-op. Single-threaded like the rest of the core.
type Protocol struct {
	log      zerolog.Logger
	settler  Settler
	nextID   uint64
	requests map[uint64]*request
}

func NewProtocol(settler Settler, log zerolog.Logger) *Protocol {
	return &Protocol{
		log:      log.With().Str("component", "oracle").Logger(),
		settler:  settler,
		requests: make(map[uint64]*request),
	}
}

// RequestPrice opens a price request and returns its id.
func (p *Protocol) RequestPrice(kind Kind, feed config.Feed, minObs int) uint64 {
	if minObs < 1 {
		minObs = 1
	}
	p.nextID++
	id := p.nextID
	p.requests[id] = &request{kind: kind, feed: feed, minObs: minObs}

	p.log.Debug().
		Uint64("request_id", id).
		Str("kind", kind.String()).
		Str("feed", feed.FeedID).
		Msg("price requested")
	return id
}

// Pending reports whether a request is still awaiting observations.
func (p *Protocol) Pending(id uint64) bool {
	_, ok := p.requests[id]
	return ok
}

// PendingCount returns the number of open requests.
func (p *Protocol) PendingCount() int {
	return len(p.requests)
}

// RequestKind returns the settlement kind a pending request was issued for.
func (p *Protocol) RequestKind(id uint64) (Kind, bool) {
	r, ok := p.requests[id]
	if !ok {
		return 0, false
	}
	return r.kind, true
}

// SubmitEvidence validates and records one observation. Evidence for an
// unknown or already fulfilled request id is dropped silently. A zero price
// bypasses the deviation checks and is recorded as-is: it signals feed
// failure and the settlement layer turns it into a cancellation.
//
// Once the request reaches its minimum observation count the median price is
// delivered to the settler and the request is closed.
func (p *Protocol) SubmitEvidence(ev Evidence) error {
	req, ok := p.requests[ev.RequestID]
	if !ok {
		p.log.Debug().Uint64("request_id", ev.RequestID).Msg("evidence for unknown request dropped")
		return nil
	}
	if ev.FeedID != req.feed.FeedID {
		return ErrFeedMismatch
	}

	if ev.Price != 0 {
		if err := validateEvidence(req.feed, ev); err != nil {
			return err
		}
	}

	req.observations = append(req.observations, ev.Price)
	if len(req.observations) < req.minObs {
		return nil
	}

	price := medianPrice(req.observations)
	delete(p.requests, ev.RequestID)

	p.log.Debug().
		Uint64("request_id", ev.RequestID).
		Str("kind", req.kind.String()).
		Int64("price", price).
		Int("observations", len(req.observations)).
		Msg("price request fulfilled")

	p.dispatch(req.kind, ev.RequestID, price)
	return nil
}

func validateEvidence(feed config.Feed, ev Evidence) error {
	// Confidence half-width as a percent of price.
	confP := fpmath.MulDiv(ev.Conf, fpmath.PercentBase, ev.Price)
	if confP > feed.MaxDeviationP {
		return ErrPriceDeviation
	}

	if feed.Backup == nil {
		return nil
	}
	if ev.BackupPrice <= 0 {
		return ErrBackupDeviation
	}
	diff := ev.Price - ev.BackupPrice
	if diff < 0 {
		diff = -diff
	}
	if fpmath.MulDiv(diff, fpmath.PercentBase, ev.Price) > feed.Backup.MaxDeviationP {
		return ErrBackupDeviation
	}
	return nil
}

func (p *Protocol) dispatch(kind Kind, id uint64, price int64) {
	switch kind {
	case MarketOpen:
		p.settler.MarketOpenSettled(id, price)
	case MarketClose:
		p.settler.MarketCloseSettled(id, price)
	case LimitOpen:
		p.settler.LimitOpenSettled(id, price)
	case Automation:
		p.settler.AutomationSettled(id, price)
	case SlUpdate:
		p.settler.SlUpdateSettled(id, price)
	case MarginUpdate:
		p.settler.MarginUpdateSettled(id, price)
	}
}

// NormalizePrice rescales a raw feed price reported as value*10^expo to the
// Precision scale. Returns 0 when the magnitude does not fit.
func NormalizePrice(raw int64, expo int32) int64 {
	if raw <= 0 {
		return 0
	}
	shift := int(expo) + fpmath.PriceConfig.DecimalPrecision
	switch {
	case shift == 0:
		return raw
	case shift > 0:
		for i := 0; i < shift; i++ {
			if raw > (1<<62)/10 {
				return 0
			}
			raw *= 10
		}
		return raw
	default:
		for i := 0; i < -shift; i++ {
			raw /= 10
		}
		return raw
	}
}
