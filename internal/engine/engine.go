// Package engine implements the matching engine and public API surface:
// a Pool pairs a book.Book with a custodian.Custodian under one set of
// tick/lot/fee parameters and exposes the crossing and query operations a
// host drives.
package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"critbook/internal/account"
	"critbook/internal/book"
	"critbook/internal/clock"
	"critbook/internal/custodian"
	"critbook/internal/fixedpoint"
)

// maxPrice rejects prices whose high bit is set; that bit is reserved to
// tag ask order ids.
const maxPrice = uint64(1) << 63

// Pool is one base/quote trading pair: the order book, the fund ledger,
// immutable trading parameters, and a fee pot.
type Pool struct {
	id             string
	cfg            Config
	book           *book.Book
	custodian      *custodian.Custodian
	clock          clock.Source
	sink           EventSink
	accumulatedFee uint64 // quote units
}

// NewPool validates cfg and returns an empty pool identified by id (used
// only to stamp emitted events). clock supplies expiration timestamps;
// sink may be nil.
func NewPool(id string, cfg Config, src clock.Source, sink EventSink) (*Pool, error) {
	if cfg.TickSize == 0 || cfg.LotSize == 0 {
		return nil, fmt.Errorf("engine: tick_size and lot_size must be positive: %w", ErrInvalidPrice)
	}
	if cfg.MakerRebateBps > cfg.TakerFeeBps {
		return nil, fmt.Errorf("engine: maker_rebate_bps must not exceed taker_fee_bps: %w", ErrInvariantViolation)
	}
	if src == nil {
		src = clock.System{}
	}
	return &Pool{id: id, cfg: cfg, book: book.New(), custodian: custodian.New(), clock: src, sink: sink}, nil
}

// ID returns the pool's identifier.
func (p *Pool) ID() string { return p.id }

func (p *Pool) emit(e Event) {
	if p.sink == nil {
		return
	}
	e.PoolID = p.id
	p.sink(e)
}

// DepositBase and DepositQuote credit a's available balance for the
// corresponding asset, creating the account on first touch.
func (p *Pool) DepositBase(a account.ID, amount uint64) error { return p.custodian.DepositBase(a, amount) }
func (p *Pool) DepositQuote(a account.ID, amount uint64) error {
	return p.custodian.DepositQuote(a, amount)
}

// WithdrawBase and WithdrawQuote return funds to the caller's custody,
// failing if available balance is insufficient.
func (p *Pool) WithdrawBase(a account.ID, amount uint64) error {
	return p.custodian.WithdrawBase(a, amount)
}
func (p *Pool) WithdrawQuote(a account.ID, amount uint64) error {
	return p.custodian.WithdrawQuote(a, amount)
}

func (p *Pool) validatePrice(price uint64) error {
	if price == 0 || price >= maxPrice {
		return fmt.Errorf("engine: price %d out of range: %w", price, ErrInvalidPrice)
	}
	if price%p.cfg.TickSize != 0 {
		return fmt.Errorf("engine: price %d not a multiple of tick size %d: %w", price, p.cfg.TickSize, ErrInvalidPrice)
	}
	return nil
}

func (p *Pool) validateQuantity(qty uint64) error {
	if qty == 0 || qty%p.cfg.LotSize != 0 {
		return fmt.Errorf("engine: quantity %d invalid for lot size %d: %w", qty, p.cfg.LotSize, ErrInvalidQuantity)
	}
	return nil
}

// PlaceLimitOrder matches price, qty against the book, then — depending on
// restriction — rests whatever remains. The entire operation
// validates before any mutation: a FILL_OR_KILL shortfall or a
// POST_OR_ABORT cross leaves the pool byte-for-byte as it was.
func (p *Pool) PlaceLimitOrder(
	owner account.ID,
	clientID uint64,
	side Side,
	price, qty uint64,
	expireTimestampMs uint64,
	restriction Restriction,
	selfMatchPolicy SelfMatchPolicy,
) (PlaceResult, error) {
	if err := p.validatePrice(price); err != nil {
		return PlaceResult{}, err
	}
	if err := p.validateQuantity(qty); err != nil {
		return PlaceResult{}, err
	}

	nowMs := p.clock.NowMs()
	if restriction == PostOrAbort && p.wouldCross(side, price, nowMs) {
		return PlaceResult{}, fmt.Errorf("engine: limit price %d would cross: %w", price, ErrOrderCannotCross)
	}

	plan := p.plan(side, owner, qty, 0, false, true, price, selfMatchPolicy, nowMs)
	if plan.selfMatchAbort {
		return PlaceResult{}, fmt.Errorf("engine: self-match detected: %w", ErrSelfMatch)
	}
	if restriction == FillOrKill && plan.filledBase < qty {
		return PlaceResult{}, fmt.Errorf("engine: only %d/%d fillable: %w", plan.filledBase, qty, ErrOrderCannotBeFullyFilled)
	}

	remaining := qty - plan.filledBase
	// FillOrKill only ever reaches here fully filled (checked above), so it
	// never rests; ImmediateOrCancel always drops its remainder, as does a
	// taker cancelled by the CancelTaker self-match policy.
	rests := remaining > 0 && !plan.takerCancelled &&
		(restriction == NoRestriction || restriction == PostOrAbort)

	takerFee, err := fixedpoint.FeeBps(plan.filledQuote, p.cfg.TakerFeeBps)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("engine: %v: %w", err, ErrArithmetic)
	}

	var residualLock uint64
	if rests {
		residualLock, err = lockAmount(side, price, remaining)
		if err != nil {
			return PlaceResult{}, fmt.Errorf("engine: %v: %w", err, ErrArithmetic)
		}
	}

	if err := p.lockTaker(side, owner, plan.filledQuote+takerFee, plan.filledBase, residualLock); err != nil {
		return PlaceResult{}, err
	}

	if err := p.commit(plan, side, owner, true, nowMs); err != nil {
		return PlaceResult{}, err
	}

	result := PlaceResult{BaseFilled: plan.filledBase, QuoteFilled: plan.filledQuote}
	if rests {
		id := p.book.NextID(side)
		o := &book.Order{
			ID: id, ClientID: clientID, Price: price, Quantity: remaining, Side: side, Owner: owner,
			ExpireTimestampMs: expireTimestampMs, SelfMatchPrevention: selfMatchPolicy,
		}
		p.book.Insert(o)
		result.OrderID = id
		result.IsPlaced = true
		p.emit(Event{Kind: EventPlaced, OrderID: id, Account: owner.String(), Price: price, BaseQty: remaining, NowMs: nowMs})
	}
	log.Debug().Str("account", owner.String()).Uint64("price", price).Uint64("qty", qty).Uint64("filled", plan.filledBase).Msg("place limit order")
	return result, nil
}

// wouldCross reports whether a resting order at price on side would
// immediately match against the opposite book's best live price. Levels
// holding only expired makers do not count: those makers are never
// matched, only swept, so they cannot block a post-only order.
func (p *Pool) wouldCross(side Side, price, nowMs uint64) bool {
	best, ok := p.bestLiveOpposite(side, nowMs)
	if !ok {
		return false
	}
	if side == book.Bid {
		return best <= price
	}
	return best >= price
}

// bestLiveOpposite returns the price of the best opposite-side level still
// holding at least one unexpired maker, walking past fully-expired levels.
func (p *Pool) bestLiveOpposite(side Side, nowMs uint64) (uint64, bool) {
	opposite := book.Ask
	if side == book.Ask {
		opposite = book.Bid
	}
	lvl, ok := p.bestOf(opposite)
	for ok {
		live := false
		lvl.Walk(func(o *book.Order) bool {
			if !o.Expired(nowMs) {
				live = true
				return false
			}
			return true
		})
		if live {
			return lvl.Price, true
		}
		lvl, ok = p.bookNextLevel(opposite, lvl.Price)
	}
	return 0, false
}

// lockAmount returns the funds a resting order of qty at price locks: ceil
// quote for a bid, exact base for an ask.
func lockAmount(side Side, price, qty uint64) (uint64, error) {
	if side == book.Bid {
		return fixedpoint.QuoteForBaseCeil(qty, price)
	}
	return qty, nil
}

// lockTaker reserves the funds a limit-order taker needs before any
// mutation: filledCost to pay for fills already decided, plus residualLock
// if a remainder is going to rest.
func (p *Pool) lockTaker(side Side, owner account.ID, filledQuoteCost, filledBase, residualLock uint64) error {
	if side == book.Bid {
		total, err := fixedpoint.CheckedAdd(filledQuoteCost, residualLock)
		if err != nil {
			return fmt.Errorf("engine: %v: %w", err, ErrArithmetic)
		}
		if err := p.custodian.LockQuote(owner, total); err != nil {
			return fmt.Errorf("engine: %w", ErrInsufficientFunds)
		}
		return nil
	}
	total, err := fixedpoint.CheckedAdd(filledBase, residualLock)
	if err != nil {
		return fmt.Errorf("engine: %v: %w", err, ErrArithmetic)
	}
	if err := p.custodian.LockBase(owner, total); err != nil {
		return fmt.Errorf("engine: %w", ErrInsufficientFunds)
	}
	return nil
}

// PlaceMarketOrder matches qty base units of side against the opposite
// book with no price bound. It never
// rests: whatever the book cannot supply simply goes unfilled.
func (p *Pool) PlaceMarketOrder(owner account.ID, side Side, qty uint64, selfMatchPolicy SelfMatchPolicy) (PlaceResult, error) {
	if err := p.validateQuantity(qty); err != nil {
		return PlaceResult{}, err
	}
	nowMs := p.clock.NowMs()
	plan := p.plan(side, owner, qty, 0, false, false, 0, selfMatchPolicy, nowMs)
	if plan.selfMatchAbort {
		return PlaceResult{}, fmt.Errorf("engine: self-match detected: %w", ErrSelfMatch)
	}
	if err := p.fundMarketTaker(side, owner, plan); err != nil {
		return PlaceResult{}, err
	}
	if err := p.commit(plan, side, owner, false, nowMs); err != nil {
		return PlaceResult{}, err
	}
	return PlaceResult{BaseFilled: plan.filledBase, QuoteFilled: plan.filledQuote}, nil
}

func (p *Pool) fundMarketTaker(side Side, owner account.ID, plan matchPlan) error {
	if side == book.Bid {
		takerFee, err := fixedpoint.FeeBps(plan.filledQuote, p.cfg.TakerFeeBps)
		if err != nil {
			return fmt.Errorf("engine: %v: %w", err, ErrArithmetic)
		}
		needed := plan.filledQuote + takerFee
		if p.custodian.Balance(owner).AvailableQuote < needed {
			return fmt.Errorf("engine: %w", ErrInsufficientFunds)
		}
		return nil
	}
	if p.custodian.Balance(owner).AvailableBase < plan.filledBase {
		return fmt.Errorf("engine: %w", ErrInsufficientFunds)
	}
	return nil
}

// SwapExactBaseForQuote sells exactly qtyBase of base into the bid side
// with no price bound. It is PlaceMarketOrder(Ask, ...) under the
// base-denominated swap name.
func (p *Pool) SwapExactBaseForQuote(owner account.ID, qtyBase uint64, selfMatchPolicy SelfMatchPolicy) (PlaceResult, error) {
	return p.PlaceMarketOrder(owner, book.Ask, qtyBase, selfMatchPolicy)
}

// SwapExactQuoteForBase spends up to qtyQuote of quote buying base from the
// ask side, no price bound. Fills are
// floored to lot-size multiples; any quote that cannot buy a full lot from
// the next maker is left unspent and simply never locked or withdrawn.
func (p *Pool) SwapExactQuoteForBase(owner account.ID, qtyQuote uint64, selfMatchPolicy SelfMatchPolicy) (PlaceResult, error) {
	if qtyQuote == 0 {
		return PlaceResult{}, fmt.Errorf("engine: %w", ErrInvalidQuantity)
	}
	nowMs := p.clock.NowMs()
	plan := p.plan(book.Bid, owner, 0, qtyQuote, true, false, 0, selfMatchPolicy, nowMs)
	if plan.selfMatchAbort {
		return PlaceResult{}, fmt.Errorf("engine: self-match detected: %w", ErrSelfMatch)
	}
	takerFee, err := fixedpoint.FeeBps(plan.filledQuote, p.cfg.TakerFeeBps)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("engine: %v: %w", err, ErrArithmetic)
	}
	needed := plan.filledQuote + takerFee
	if p.custodian.Balance(owner).AvailableQuote < needed {
		return PlaceResult{}, fmt.Errorf("engine: %w", ErrInsufficientFunds)
	}
	if err := p.commit(plan, book.Bid, owner, false, nowMs); err != nil {
		return PlaceResult{}, err
	}
	return PlaceResult{BaseFilled: plan.filledBase, QuoteFilled: plan.filledQuote}, nil
}

// CancelOrder cancels owner's resting order, refunding its locked funds
// in the same operation. Cancelling an id owned by someone else fails
// with ErrUnauthorized; cancelling an unknown id fails with
// ErrInvalidOrderID.
func (p *Pool) CancelOrder(owner account.ID, orderID uint64) error {
	actualOwner, ok := p.book.OrderOwner(orderID)
	if !ok {
		return fmt.Errorf("engine: order %d: %w", orderID, ErrInvalidOrderID)
	}
	if actualOwner != owner {
		return fmt.Errorf("engine: order %d: %w", orderID, ErrUnauthorized)
	}
	o, ok := p.book.Cancel(orderID)
	if !ok {
		return fmt.Errorf("engine: order %d: %w", orderID, ErrInvalidOrderID)
	}
	if err := p.refundResting(o); err != nil {
		return err
	}
	p.emit(Event{Kind: EventCancelled, OrderID: o.ID, Account: owner.String(), Price: o.Price, BaseQty: o.Quantity, NowMs: p.clock.NowMs()})
	log.Debug().Str("account", owner.String()).Uint64("orderID", orderID).Msg("cancel order")
	return nil
}

// CancelAll cancels every resting order owned by owner, returning the
// first error encountered (if any); it does not stop on error so a single
// stale id cannot block the rest of the sweep.
func (p *Pool) CancelAll(owner account.ID) error {
	var firstErr error
	for _, id := range p.book.ListOpenOrders(owner) {
		if err := p.CancelOrder(owner, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
