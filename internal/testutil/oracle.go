// Package testutil supplies an independent price-time-priority oracle
// used only by tests to cross-check the matching engine's fill order. It
// is a plain container/heap priority queue: slower than the production
// book but simple enough to trust on sight.
package testutil

import "container/heap"

// OracleOrder is the minimal record the heap needs: a price, an insertion
// sequence for the time tie-break, and whatever payload the caller wants
// to recover after a Pop.
type OracleOrder struct {
	Price    uint64
	Seq      uint64 // insertion order; lower pops first on a price tie
	Quantity uint64
	OrderID  uint64
}

// oracleHeap is container/heap.Interface over []OracleOrder. highestFirst
// selects bid ordering (highest price, then earliest insertion); clear it
// for ask ordering (lowest price, then earliest insertion).
type oracleHeap struct {
	orders       []OracleOrder
	highestFirst bool
}

func (h *oracleHeap) Len() int { return len(h.orders) }

func (h *oracleHeap) Less(i, j int) bool {
	a, b := h.orders[i], h.orders[j]
	if a.Price == b.Price {
		return a.Seq < b.Seq
	}
	if h.highestFirst {
		return a.Price > b.Price
	}
	return a.Price < b.Price
}

func (h *oracleHeap) Swap(i, j int) { h.orders[i], h.orders[j] = h.orders[j], h.orders[i] }

func (h *oracleHeap) Push(x any) { h.orders = append(h.orders, x.(OracleOrder)) }

func (h *oracleHeap) Pop() any {
	old := h.orders
	n := len(old)
	o := old[n-1]
	h.orders = old[:n-1]
	return o
}

// BuyOracle is a reference best-bid-first priority queue.
type BuyOracle struct{ h oracleHeap }

// NewBuyOracle returns an empty bid-side oracle.
func NewBuyOracle() *BuyOracle { return &BuyOracle{h: oracleHeap{highestFirst: true}} }

// Push inserts o, preserving price-then-insertion-order priority.
func (b *BuyOracle) Push(o OracleOrder) { heap.Push(&b.h, o) }

// Pop removes and returns the current highest-priority bid.
func (b *BuyOracle) Pop() OracleOrder { return heap.Pop(&b.h).(OracleOrder) }

// Len reports how many orders remain.
func (b *BuyOracle) Len() int { return b.h.Len() }

// SellOracle is a reference best-ask-first priority queue.
type SellOracle struct{ h oracleHeap }

// NewSellOracle returns an empty ask-side oracle.
func NewSellOracle() *SellOracle { return &SellOracle{h: oracleHeap{highestFirst: false}} }

// Push inserts o, preserving price-then-insertion-order priority.
func (s *SellOracle) Push(o OracleOrder) { heap.Push(&s.h, o) }

// Pop removes and returns the current lowest-priced ask.
func (s *SellOracle) Pop() OracleOrder { return heap.Pop(&s.h).(OracleOrder) }

// Len reports how many orders remain.
func (s *SellOracle) Len() int { return s.h.Len() }
