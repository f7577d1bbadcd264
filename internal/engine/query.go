package engine

import (
	"critbook/internal/account"
	"critbook/internal/book"
	"critbook/internal/custodian"
)

// AccountBalance returns a's available/locked base/quote ledger.
func (p *Pool) AccountBalance(a account.ID) custodian.Balance {
	return p.custodian.Balance(a)
}

// GetPoolStat returns the pool's configuration, top-of-book prices, and
// accrued fee pot.
func (p *Pool) GetPoolStat() PoolStat {
	stat := PoolStat{Config: p.cfg, AccumulatedFee: p.accumulatedFee}
	if lvl, ok := p.book.BestBid(); ok {
		stat.BestBidPrice, stat.HasBestBid = lvl.Price, true
	}
	if lvl, ok := p.book.BestAsk(); ok {
		stat.BestAskPrice, stat.HasBestAsk = lvl.Price, true
	}
	return stat
}

// GetOrderStatus returns the live resting order for id, if any. A filled,
// cancelled, or expired order is simply not found; the pool keeps no
// history.
func (p *Pool) GetOrderStatus(orderID uint64) (*book.Order, bool) {
	return p.book.Order(orderID)
}

// ListOpenOrders returns owner's resting order ids in ascending id order.
func (p *Pool) ListOpenOrders(owner account.ID) []uint64 {
	return p.book.ListOpenOrders(owner)
}

// GetLevel2BookStatus walks side's tree between [priceLow, priceHigh] and
// returns parallel price/depth vectors, skipping expired orders in the
// depth accounting.
func (p *Pool) GetLevel2BookStatus(side Side, priceLow, priceHigh, nowMs uint64) (prices, depths []uint64) {
	return p.book.Level2(side, priceLow, priceHigh, nowMs)
}
