package book

import (
	"github.com/tidwall/btree"

	"critbook/internal/account"
	"critbook/internal/critbit"
)

// openOrderEntry is one row of an account's open-order index, ordered by
// OrderID so ListOpenOrders and cancel-all iterate deterministically.
type openOrderEntry struct {
	OrderID uint64
	Price   uint64
}

// Book is the two-sided crit-bit price index plus order-id allocation and
// the per-account open-order lookup. It has no notion of funds —
// the engine is responsible for wiring a custodian around it.
type Book struct {
	Bids *critbit.Tree[*TickLevel]
	Asks *critbit.Tree[*TickLevel]

	bidSeq uint64
	askSeq uint64

	openOrders map[account.ID]*btree.BTreeG[openOrderEntry]
	owners     map[uint64]account.ID
	orders     map[uint64]*Order
}

// New returns an empty book.
func New() *Book {
	return &Book{
		Bids:       critbit.New[*TickLevel](),
		Asks:       critbit.New[*TickLevel](),
		openOrders: make(map[account.ID]*btree.BTreeG[openOrderEntry]),
		owners:     make(map[uint64]account.ID),
		orders:     make(map[uint64]*Order),
	}
}

func (b *Book) treeFor(side Side) *critbit.Tree[*TickLevel] {
	if side == Bid {
		return b.Bids
	}
	return b.Asks
}

// NextID allocates and returns the next order id for side, advancing that
// side's sequence counter.
func (b *Book) NextID(side Side) uint64 {
	if side == Bid {
		b.bidSeq++
		return MakeOrderID(Bid, b.bidSeq)
	}
	b.askSeq++
	return MakeOrderID(Ask, b.askSeq)
}

func (b *Book) accountIndex(a account.ID) *btree.BTreeG[openOrderEntry] {
	idx, ok := b.openOrders[a]
	if !ok {
		idx = btree.NewBTreeG(func(x, y openOrderEntry) bool { return x.OrderID < y.OrderID })
		b.openOrders[a] = idx
	}
	return idx
}

func (b *Book) level(side Side, price uint64, create bool) *TickLevel {
	tree := b.treeFor(side)
	h, ok := tree.Find(price)
	if ok {
		lp, _ := tree.Borrow(h)
		return *lp
	}
	if !create {
		return nil
	}
	lvl := newTickLevel(price)
	tree.Insert(price, lvl)
	return lvl
}

// Insert adds o to its side's book — creating the tick level if this is
// the first order at that price — and records it in the owner's
// open-order index.
func (b *Book) Insert(o *Order) {
	lvl := b.level(o.Side, o.Price, true)
	lvl.PushBack(o)
	b.owners[o.ID] = o.Owner
	b.orders[o.ID] = o
	b.accountIndex(o.Owner).Set(openOrderEntry{OrderID: o.ID, Price: o.Price})
}

// RemoveOrder detaches the order at (side, price, id) from the book and
// purges every index that referenced it, pruning the tick level (and the
// tree node) if it is left empty.
func (b *Book) RemoveOrder(side Side, price, id uint64) (*Order, bool) {
	tree := b.treeFor(side)
	h, ok := tree.Find(price)
	if !ok {
		return nil, false
	}
	lp, _ := tree.Borrow(h)
	lvl := *lp
	o, ok := lvl.Remove(id)
	if !ok {
		return nil, false
	}
	if lvl.Empty() {
		tree.Remove(h)
	}
	b.purge(o)
	return o, true
}

// Remove is a convenience for matching-loop callers that already hold the
// order (full fill, expiry sweep, self-match cancellation).
func (b *Book) Remove(o *Order) {
	b.RemoveOrder(o.Side, o.Price, o.ID)
}

func (b *Book) purge(o *Order) {
	delete(b.owners, o.ID)
	delete(b.orders, o.ID)
	if idx, ok := b.openOrders[o.Owner]; ok {
		idx.Delete(openOrderEntry{OrderID: o.ID})
	}
}

// Cancel removes the resting order identified by id, regardless of side,
// returning it. Authorization (owner match) is the caller's job — Book
// itself only knows whether the id exists.
func (b *Book) Cancel(id uint64) (*Order, bool) {
	owner, ok := b.owners[id]
	if !ok {
		return nil, false
	}
	price, ok := b.OpenOrderPrice(owner, id)
	if !ok {
		return nil, false
	}
	return b.RemoveOrder(OrderSide(id), price, id)
}

// OrderOwner returns the account that owns a resting order, if any.
func (b *Book) OrderOwner(id uint64) (account.ID, bool) {
	o, ok := b.owners[id]
	return o, ok
}

// Order returns the live *Order for a resting id, if any (read-only
// status lookups; matching mutates through RemoveOrder/Insert only).
func (b *Book) Order(id uint64) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// OpenOrderPrice returns the resting price of owner's order id, if any,
// giving cancellation its O(1) lookup.
func (b *Book) OpenOrderPrice(owner account.ID, id uint64) (uint64, bool) {
	idx, ok := b.openOrders[owner]
	if !ok {
		return 0, false
	}
	e, ok := idx.Get(openOrderEntry{OrderID: id})
	if !ok {
		return 0, false
	}
	return e.Price, true
}

// ListOpenOrders returns owner's resting order ids in ascending id order.
func (b *Book) ListOpenOrders(owner account.ID) []uint64 {
	idx, ok := b.openOrders[owner]
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, idx.Len())
	idx.Scan(func(e openOrderEntry) bool {
		ids = append(ids, e.OrderID)
		return true
	})
	return ids
}

// BestBid returns the highest-priced bid level, if any.
func (b *Book) BestBid() (*TickLevel, bool) {
	return b.bestOf(b.Bids, true)
}

// BestAsk returns the lowest-priced ask level, if any.
func (b *Book) BestAsk() (*TickLevel, bool) {
	return b.bestOf(b.Asks, false)
}

func (b *Book) bestOf(tree *critbit.Tree[*TickLevel], max bool) (*TickLevel, bool) {
	var h uint64
	if max {
		_, h = tree.Max()
	} else {
		_, h = tree.Min()
	}
	if h == critbit.PartitionIndex {
		return nil, false
	}
	lp, _ := tree.Borrow(h)
	return *lp, true
}

// NextLevel returns the next best level strictly past price on side,
// without mutating the tree (used while planning a match across multiple
// price levels).
func (b *Book) NextLevel(side Side, price uint64) (*TickLevel, bool) {
	tree := b.treeFor(side)
	var h uint64
	if side == Bid {
		_, h = tree.Predecessor(price)
	} else {
		_, h = tree.Successor(price)
	}
	if h == critbit.PartitionIndex {
		return nil, false
	}
	lp, _ := tree.Borrow(h)
	return *lp, true
}

// Level2 walks side's tree between [lo, hi] and returns parallel
// price/depth vectors, skipping expired orders in the depth sum.
func (b *Book) Level2(side Side, lo, hi, nowMs uint64) (prices []uint64, depths []uint64) {
	tree := b.treeFor(side)
	tree.Walk(lo, hi, func(key uint64, h uint64) bool {
		lp, _ := tree.Borrow(h)
		lvl := *lp
		var depth uint64
		lvl.Walk(func(o *Order) bool {
			if !o.Expired(nowMs) {
				depth += o.Quantity
			}
			return true
		})
		prices = append(prices, key)
		depths = append(depths, depth)
		return true
	})
	return prices, depths
}
