// Package fixedpoint implements the checked, scale-1e9 fixed-point
// arithmetic behind price*quantity and fee calculations: every
// multiplication widens through a 256-bit intermediate so a u64*u64
// product can never silently wrap before the division that brings it back
// down to scale.
package fixedpoint

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

// Scaling is the fixed-point scale shared by prices and fee rates.
const Scaling uint64 = 1_000_000_000

// ErrOverflow is returned when a result cannot be represented in uint64.
var ErrOverflow = errors.New("fixedpoint: overflow")

// MulDivFloor computes floor(a*b/d) using a 256-bit intermediate product,
// so a*b never overflows even when a and b are both near math.MaxUint64.
func MulDivFloor(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errors.New("fixedpoint: division by zero")
	}
	prod := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	q := new(uint256.Int).Div(prod, uint256.NewInt(d))
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// MulDivCeil computes ceil(a*b/d) the same way.
func MulDivCeil(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errors.New("fixedpoint: division by zero")
	}
	prod := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	dd := uint256.NewInt(d)
	q, r := new(uint256.Int).DivMod(prod, dd, new(uint256.Int))
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// QuoteForBase returns floor(base * price / Scaling), the quote amount a
// fill of base units at price costs (or pays).
func QuoteForBase(base, price uint64) (uint64, error) {
	return MulDivFloor(base, price, Scaling)
}

// QuoteForBaseCeil returns ceil(base * price / Scaling), used to size the
// quote lock for a resting bid.
func QuoteForBaseCeil(base, price uint64) (uint64, error) {
	return MulDivCeil(base, price, Scaling)
}

// BaseForQuoteFloor returns the largest base such that
// floor(base*price/Scaling) <= quote, i.e. the most base a bounded amount
// of quote can buy at price, before any lot-size rounding. That condition
// is base*price < (quote+1)*Scaling, so the bound is
// floor(((quote+1)*Scaling - 1) / price) — floor(quote*Scaling/price)
// under-counts whenever price does not divide Scaling evenly. A bound too
// large for uint64 clamps to MaxUint64; callers cap it against the maker's
// quantity anyway.
func BaseForQuoteFloor(quote, price uint64) (uint64, error) {
	if price == 0 {
		return 0, errors.New("fixedpoint: zero price")
	}
	limit := new(uint256.Int).Mul(
		new(uint256.Int).AddUint64(uint256.NewInt(quote), 1),
		uint256.NewInt(Scaling),
	)
	limit.SubUint64(limit, 1)
	q := new(uint256.Int).Div(limit, uint256.NewInt(price))
	if !q.IsUint64() {
		return math.MaxUint64, nil
	}
	return q.Uint64(), nil
}

// FeeBps applies a basis-point rate (itself scaled by Scaling) to an
// amount, floor-rounded.
func FeeBps(amount, bps uint64) (uint64, error) {
	return MulDivFloor(amount, bps, Scaling)
}

// FloorToLot rounds base down to the nearest multiple of lot.
func FloorToLot(base, lot uint64) uint64 {
	if lot == 0 {
		return base
	}
	return base - base%lot
}

// CheckedAdd returns a+b, failing on overflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, ErrOverflow
	}
	return s, nil
}

// CheckedSub returns a-b, failing on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}
