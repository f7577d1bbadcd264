package engine

import "critbook/internal/book"

// Side re-exports book.Side at the API boundary so callers never need to
// import internal/book directly.
type Side = book.Side

const (
	Bid = book.Bid
	Ask = book.Ask
)

// SelfMatchPolicy re-exports book.SelfMatchPolicy.
type SelfMatchPolicy = book.SelfMatchPolicy

const (
	CancelOldest   = book.CancelOldest
	CancelTaker    = book.CancelTaker
	AbortSelfMatch = book.AbortSelfMatch
)

// Restriction governs how an unfilled remainder of a limit order is
// treated.
type Restriction uint8

const (
	// NoRestriction matches what crosses and rests the remainder.
	NoRestriction Restriction = iota
	// ImmediateOrCancel matches what crosses and drops the remainder.
	ImmediateOrCancel
	// FillOrKill requires the whole requested quantity to be fillable at
	// the given bound or nothing happens at all.
	FillOrKill
	// PostOrAbort requires the order not cross at all; it aborts instead
	// of ever becoming a taker.
	PostOrAbort
)

// Config is a pool's immutable construction-time parameters.
// Validated once by NewPool and never mutated.
type Config struct {
	TickSize       uint64
	LotSize        uint64
	TakerFeeBps    uint64 // scale fixedpoint.Scaling
	MakerRebateBps uint64 // scale fixedpoint.Scaling, must be <= TakerFeeBps
}

// EventKind classifies an emitted event.
type EventKind uint8

const (
	EventPlaced EventKind = iota
	EventFilled
	EventCancelled
	EventExpired
)

// Event is the informational record emitted on every placement, fill,
// cancellation, and expiration. Delivery is best-effort — the
// engine's correctness never depends on a sink observing it.
type Event struct {
	Kind        EventKind
	PoolID      string
	OrderID     uint64
	Account     string
	Price       uint64
	BaseQty     uint64
	QuoteQty    uint64
	MakerRebate uint64
	TakerFee    uint64
	NowMs       uint64
}

// EventSink receives Pool events. A nil sink is valid and simply drops
// them.
type EventSink func(Event)

// PoolStat is the snapshot GetPoolStat returns: configuration plus the
// top of each side of the book and the fee pot accrued so far.
type PoolStat struct {
	Config         Config
	BestBidPrice   uint64
	HasBestBid     bool
	BestAskPrice   uint64
	HasBestAsk     bool
	AccumulatedFee uint64
}

// PlaceResult is returned by the crossing entry points. OrderID is 0 when
// nothing rests (full fill, an IMMEDIATE_OR_CANCEL drop, or a
// FILL_OR_KILL/POST_OR_ABORT abort).
type PlaceResult struct {
	OrderID     uint64
	IsPlaced    bool
	BaseFilled  uint64
	QuoteFilled uint64
}
