package engine

import (
	"critbook/internal/account"
	"critbook/internal/book"
	"critbook/internal/fixedpoint"
)

// planStep is one action the matcher decided on while walking the book —
// either a maker fill, an expired maker being swept, or a self-match
// cancellation. Plans are built read-only and applied in a single commit
// pass so a failed or rejected operation never leaves partial state.
type planStep struct {
	order     *book.Order
	expired   bool
	cancelled bool
	fillBase  uint64
	fillQuote uint64
}

// matchPlan is the result of simulating a crossing operation against the
// book without mutating it.
type matchPlan struct {
	steps          []planStep
	filledBase     uint64
	filledQuote    uint64
	selfMatchAbort bool
	takerCancelled bool
}

// plan walks takerSide's opposite book from best price outward, accumulating
// fills until the taker's bound is exhausted, the price bound is crossed, a
// self-match policy or a partial lot stops it, or the opposite book runs out
// (each level's FIFO is drained before the next level). It never mutates the book
// or custodian — PlaceLimitOrder/PlaceMarketOrder/swap entry points decide
// whether to commit the plan once they see its outcome (dry-run for
// FILL_OR_KILL, abort for self-match under AbortSelfMatch).
//
// quoteBounded switches the walk to be bounded by remainingQuote instead
// of remainingBase, with each fill additionally floored to a multiple of
// the lot size.
func (p *Pool) plan(
	takerSide book.Side,
	takerOwner account.ID,
	remainingBase uint64,
	remainingQuote uint64,
	quoteBounded bool,
	hasPriceBound bool,
	priceBound uint64,
	policy book.SelfMatchPolicy,
	nowMs uint64,
) matchPlan {
	var result matchPlan
	oppositeSide := book.Ask
	if takerSide == book.Ask {
		oppositeSide = book.Bid
	}

	lvl, ok := p.bestOf(oppositeSide)
	for ok {
		if hasPriceBound && !withinBound(takerSide, lvl.Price, priceBound) {
			break
		}

		stop := false
		lvl.Walk(func(o *book.Order) bool {
			if o.Expired(nowMs) {
				result.steps = append(result.steps, planStep{order: o, expired: true})
				return true
			}
			if o.Owner == takerOwner {
				switch policy {
				case book.CancelOldest:
					result.steps = append(result.steps, planStep{order: o, cancelled: true})
					return true
				case book.CancelTaker:
					result.takerCancelled = true
					stop = true
					return false
				case book.AbortSelfMatch:
					result.selfMatchAbort = true
					stop = true
					return false
				}
			}

			var fillBase uint64
			if quoteBounded {
				maxBase, _ := fixedpoint.BaseForQuoteFloor(remainingQuote, o.Price)
				fillBase = min(maxBase, o.Quantity)
				fillBase = fixedpoint.FloorToLot(fillBase, p.cfg.LotSize)
				if fillBase == 0 {
					stop = true
					return false
				}
			} else {
				fillBase = min(remainingBase, o.Quantity)
			}

			fillQuote, _ := fixedpoint.QuoteForBase(fillBase, o.Price)
			result.steps = append(result.steps, planStep{order: o, fillBase: fillBase, fillQuote: fillQuote})
			result.filledBase += fillBase
			result.filledQuote += fillQuote

			if quoteBounded {
				remainingQuote -= fillQuote
				if remainingQuote == 0 {
					stop = true
					return false
				}
			} else {
				remainingBase -= fillBase
				if remainingBase == 0 {
					stop = true
					return false
				}
			}
			return true
		})

		if result.selfMatchAbort || stop {
			break
		}
		lvl, ok = p.bookNextLevel(oppositeSide, lvl.Price)
	}

	return result
}

// withinBound reports whether a maker at price crosses the taker's bound:
// bids cross asks with ask price <= bound; asks cross bids with bid price
// >= bound.
func withinBound(takerSide book.Side, makerPrice, bound uint64) bool {
	if takerSide == book.Bid {
		return makerPrice <= bound
	}
	return makerPrice >= bound
}

func (p *Pool) bestOf(side book.Side) (*book.TickLevel, bool) {
	if side == book.Bid {
		return p.book.BestBid()
	}
	return p.book.BestAsk()
}

func (p *Pool) bookNextLevel(side book.Side, price uint64) (*book.TickLevel, bool) {
	return p.book.NextLevel(side, price)
}

// commit applies a previously-built plan: settling every fill through the
// custodian, sweeping expired/self-matched makers with a refund, and
// removing fully-consumed makers from the book. Maker rebates are credited
// per fill; the taker fee is charged once on the aggregate filled quote,
// after the last fill, and the pot accrues the difference.
// takerIsLimitOrder selects whether the taker's side of each fill debits
// the taker's just-locked funds (limit orders) or the taker's plain
// available balance (market and swap orders, which never rest and so never
// lock).
func (p *Pool) commit(plan matchPlan, takerSide book.Side, takerOwner account.ID, takerIsLimitOrder bool, nowMs uint64) error {
	var rebateTotal uint64
	for _, s := range plan.steps {
		switch {
		case s.expired:
			if err := p.refundResting(s.order); err != nil {
				return err
			}
			p.book.Remove(s.order)
			p.emit(Event{Kind: EventExpired, OrderID: s.order.ID, Account: s.order.Owner.String(), Price: s.order.Price, BaseQty: s.order.Quantity, NowMs: nowMs})
		case s.cancelled:
			if err := p.refundResting(s.order); err != nil {
				return err
			}
			p.book.Remove(s.order)
			p.emit(Event{Kind: EventCancelled, OrderID: s.order.ID, Account: s.order.Owner.String(), Price: s.order.Price, BaseQty: s.order.Quantity, NowMs: nowMs})
		default:
			rebate, err := p.settleFill(s, takerSide, takerOwner, takerIsLimitOrder)
			if err != nil {
				return err
			}
			rebateTotal += rebate
			s.order.Quantity -= s.fillBase
			if s.order.Quantity == 0 {
				p.book.Remove(s.order)
			}
			p.emit(Event{Kind: EventFilled, OrderID: s.order.ID, Account: takerOwner.String(), Price: s.order.Price, BaseQty: s.fillBase, QuoteQty: s.fillQuote, MakerRebate: rebate, NowMs: nowMs})
		}
	}
	if plan.filledQuote == 0 {
		return nil
	}

	takerFee, err := fixedpoint.FeeBps(plan.filledQuote, p.cfg.TakerFeeBps)
	if err != nil {
		return err
	}
	if takerSide == book.Bid && takerIsLimitOrder {
		// The fee was locked alongside the fill cost before matching began.
		if err := p.custodian.DebitLockedQuote(takerOwner, takerFee); err != nil {
			return err
		}
	} else {
		// Ask-side takers pay out of the quote proceeds just credited;
		// market and swap bid takers pay from their available balance,
		// which fundMarketTaker sized before commit began.
		if err := p.custodian.WithdrawQuote(takerOwner, takerFee); err != nil {
			return err
		}
	}
	p.accumulatedFee += takerFee - rebateTotal
	return nil
}

// refundResting returns a maker's locked funds for its full remaining
// quantity back to its own available balance, in the same operation that
// removes the order.
func (p *Pool) refundResting(o *book.Order) error {
	if o.Side == book.Bid {
		refund, err := fixedpoint.QuoteForBaseCeil(o.Quantity, o.Price)
		if err != nil {
			return err
		}
		return p.custodian.UnlockQuote(o.Owner, refund)
	}
	return p.custodian.UnlockBase(o.Owner, o.Quantity)
}

// settleFill moves one fill's funds: the buyer (whichever side is the bid)
// receives base and pays quote; the seller receives quote and pays base.
// The maker's rebate is credited here and returned so commit can net it
// against the aggregate taker fee; the taker fee itself is commit's job.
func (p *Pool) settleFill(s planStep, takerSide book.Side, takerOwner account.ID, takerIsLimitOrder bool) (uint64, error) {
	taker, maker := takerOwner, s.order.Owner
	makerRebate, err := fixedpoint.FeeBps(s.fillQuote, p.cfg.MakerRebateBps)
	if err != nil {
		return 0, err
	}

	if takerSide == book.Bid {
		// Taker buys base from a resting ask.
		if err := p.custodian.DebitLockedBase(maker, s.fillBase); err != nil {
			return 0, err
		}
		if err := p.custodian.CreditAvailableBase(taker, s.fillBase); err != nil {
			return 0, err
		}
		if err := p.custodian.CreditAvailableQuote(maker, s.fillQuote+makerRebate); err != nil {
			return 0, err
		}
		if takerIsLimitOrder {
			return makerRebate, p.custodian.DebitLockedQuote(taker, s.fillQuote)
		}
		return makerRebate, p.custodian.WithdrawQuote(taker, s.fillQuote)
	}

	// Taker sells base into a resting bid. The maker's lock was sized by
	// ceil over its full remaining quantity, so release exactly the lock
	// delta for this fill: the residual lock then still covers the
	// remaining quantity, and the rounding excess over the floor-rounded
	// fill cost goes back to the maker along with its rebate.
	lockBefore, err := fixedpoint.QuoteForBaseCeil(s.order.Quantity, s.order.Price)
	if err != nil {
		return 0, err
	}
	lockAfter, err := fixedpoint.QuoteForBaseCeil(s.order.Quantity-s.fillBase, s.order.Price)
	if err != nil {
		return 0, err
	}
	lockDelta := lockBefore - lockAfter
	if err := p.custodian.DebitLockedQuote(maker, lockDelta); err != nil {
		return 0, err
	}
	if err := p.custodian.CreditAvailableQuote(maker, (lockDelta-s.fillQuote)+makerRebate); err != nil {
		return 0, err
	}
	if err := p.custodian.CreditAvailableBase(maker, s.fillBase); err != nil {
		return 0, err
	}
	if err := p.custodian.CreditAvailableQuote(taker, s.fillQuote); err != nil {
		return 0, err
	}
	if takerIsLimitOrder {
		return makerRebate, p.custodian.DebitLockedBase(taker, s.fillBase)
	}
	return makerRebate, p.custodian.WithdrawBase(taker, s.fillBase)
}
