package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"critbook/internal/account"
	"critbook/internal/clock"
	"critbook/internal/custodian"
	"critbook/internal/fixedpoint"
)

// Default test parameters: tick=lot=1, taker 0.5%, rebate 0.25%.
func testConfig() Config {
	return Config{TickSize: 1, LotSize: 1, TakerFeeBps: 5_000_000, MakerRebateBps: 2_500_000}
}

func newTestPool(t *testing.T) (*Pool, *[]Event) {
	t.Helper()
	events := &[]Event{}
	p, err := NewPool("TEST", testConfig(), clock.Fixed(1_000), func(e Event) {
		*events = append(*events, e)
	})
	require.NoError(t, err)
	return p, events
}

// price scales a whole-number price onto the fixed-point wire form.
func price(x uint64) uint64 { return x * fixedpoint.Scaling }

func TestNewPoolValidation(t *testing.T) {
	_, err := NewPool("p", Config{TickSize: 0, LotSize: 1}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = NewPool("p", Config{TickSize: 1, LotSize: 0}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = NewPool("p", Config{TickSize: 1, LotSize: 1, TakerFeeBps: 1, MakerRebateBps: 2}, nil, nil)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestPlaceLimitRestsAndLocksFunds(t *testing.T) {
	p, events := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(a, 1_000))

	res, err := p.PlaceLimitOrder(a, 0, Bid, price(2), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	assert.True(t, res.IsPlaced)
	assert.NotZero(t, res.OrderID)
	assert.Zero(t, res.BaseFilled)

	bal := p.AccountBalance(a)
	assert.Equal(t, uint64(800), bal.AvailableQuote)
	assert.Equal(t, uint64(200), bal.LockedQuote)

	o, ok := p.GetOrderStatus(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, uint64(100), o.Quantity)
	assert.Equal(t, []uint64{res.OrderID}, p.ListOpenOrders(a))

	require.Len(t, *events, 1)
	assert.Equal(t, EventPlaced, (*events)[0].Kind)
	assert.Equal(t, "TEST", (*events)[0].PoolID)
}

func TestPlaceLimitValidation(t *testing.T) {
	p, _ := newTestPool(t)
	a := account.NewCap().ID()

	_, err := p.PlaceLimitOrder(a, 0, Bid, 0, 100, clock.Never, NoRestriction, CancelOldest)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = p.PlaceLimitOrder(a, 0, Bid, uint64(1)<<63, 100, clock.Never, NoRestriction, CancelOldest)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = p.PlaceLimitOrder(a, 0, Bid, price(1), 0, clock.Never, NoRestriction, CancelOldest)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	coarse, err2 := NewPool("coarse", Config{TickSize: 10, LotSize: 10, TakerFeeBps: 0, MakerRebateBps: 0}, clock.Fixed(0), nil)
	require.NoError(t, err2)
	_, err = coarse.PlaceLimitOrder(a, 0, Bid, 15, 10, clock.Never, NoRestriction, CancelOldest)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = coarse.PlaceLimitOrder(a, 0, Bid, 20, 15, clock.Never, NoRestriction, CancelOldest)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlaceLimitInsufficientFunds(t *testing.T) {
	p, _ := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(a, 100))

	_, err := p.PlaceLimitOrder(a, 0, Bid, price(2), 100, clock.Never, NoRestriction, CancelOldest)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing rested, nothing locked.
	assert.Empty(t, p.ListOpenOrders(a))
	assert.Equal(t, custodian.Balance{AvailableQuote: 100}, p.AccountBalance(a))
}

func TestLimitCrossFullFill(t *testing.T) {
	p, _ := newTestPool(t)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 100))
	require.NoError(t, p.DepositQuote(taker, 502))

	_, err := p.PlaceLimitOrder(maker, 0, Ask, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	// Fill cost 500, taker fee floor(500*0.5%) = 2, maker rebate floor(500*0.25%) = 1.
	res, err := p.PlaceLimitOrder(taker, 0, Bid, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	assert.False(t, res.IsPlaced)
	assert.Equal(t, uint64(100), res.BaseFilled)
	assert.Equal(t, uint64(500), res.QuoteFilled)

	assert.Equal(t, custodian.Balance{AvailableBase: 100}, p.AccountBalance(taker))
	assert.Equal(t, custodian.Balance{AvailableQuote: 501}, p.AccountBalance(maker))
	assert.Equal(t, uint64(1), p.GetPoolStat().AccumulatedFee)

	// The consumed maker is gone from every index.
	assert.Empty(t, p.ListOpenOrders(maker))
	stat := p.GetPoolStat()
	assert.False(t, stat.HasBestAsk)
}

func TestLimitCrossPartialFillRests(t *testing.T) {
	p, _ := newTestPool(t)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 100))
	require.NoError(t, p.DepositQuote(taker, 1_000))

	_, err := p.PlaceLimitOrder(maker, 0, Ask, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	res, err := p.PlaceLimitOrder(taker, 0, Bid, price(5), 150, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	assert.True(t, res.IsPlaced)
	assert.Equal(t, uint64(100), res.BaseFilled)
	assert.Equal(t, uint64(500), res.QuoteFilled)

	// 500 paid + 2 fee + 250 locked for the resting 50 @ 5.
	bal := p.AccountBalance(taker)
	assert.Equal(t, uint64(248), bal.AvailableQuote)
	assert.Equal(t, uint64(250), bal.LockedQuote)
	assert.Equal(t, uint64(100), bal.AvailableBase)

	o, ok := p.GetOrderStatus(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, uint64(50), o.Quantity)
	stat := p.GetPoolStat()
	assert.True(t, stat.HasBestBid)
	assert.Equal(t, price(5), stat.BestBidPrice)
}

func TestImmediateOrCancelDropsRemainder(t *testing.T) {
	p, _ := newTestPool(t)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 100))
	require.NoError(t, p.DepositQuote(taker, 1_000))

	_, err := p.PlaceLimitOrder(maker, 0, Ask, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	res, err := p.PlaceLimitOrder(taker, 0, Bid, price(5), 150, clock.Never, ImmediateOrCancel, CancelOldest)
	require.NoError(t, err)
	assert.False(t, res.IsPlaced)
	assert.Zero(t, res.OrderID)
	assert.Equal(t, uint64(100), res.BaseFilled)

	bal := p.AccountBalance(taker)
	assert.Zero(t, bal.LockedQuote)
	assert.Empty(t, p.ListOpenOrders(taker))
}

func TestFillOrKillShortfallLeavesNoTrace(t *testing.T) {
	p, events := newTestPool(t)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 400))
	require.NoError(t, p.DepositQuote(taker, 10_000))

	_, err := p.PlaceLimitOrder(maker, 0, Ask, price(5), 400, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	makerBal := p.AccountBalance(maker)
	placedEvents := len(*events)

	res, err := p.PlaceLimitOrder(taker, 0, Bid, price(5), 500, clock.Never, FillOrKill, CancelOldest)
	assert.ErrorIs(t, err, ErrOrderCannotBeFullyFilled)
	assert.Equal(t, PlaceResult{}, res)

	// Dry run only: no fills, no locks, no events, maker untouched.
	assert.Equal(t, makerBal, p.AccountBalance(maker))
	assert.Equal(t, custodian.Balance{AvailableQuote: 10_000}, p.AccountBalance(taker))
	assert.Len(t, *events, placedEvents)

	// The same request with enough depth succeeds atomically.
	require.NoError(t, p.DepositBase(maker, 100))
	_, err = p.PlaceLimitOrder(maker, 0, Ask, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	res, err = p.PlaceLimitOrder(taker, 0, Bid, price(5), 500, clock.Never, FillOrKill, CancelOldest)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), res.BaseFilled)
	assert.False(t, res.IsPlaced)
}

func TestPostOrAbort(t *testing.T) {
	p, _ := newTestPool(t)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 100))
	require.NoError(t, p.DepositQuote(taker, 10_000))

	_, err := p.PlaceLimitOrder(maker, 0, Ask, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	// A post-only bid at 6 would cross the ask at 5.
	_, err = p.PlaceLimitOrder(taker, 0, Bid, price(6), 100, clock.Never, PostOrAbort, CancelOldest)
	assert.ErrorIs(t, err, ErrOrderCannotCross)
	assert.Equal(t, custodian.Balance{AvailableQuote: 10_000}, p.AccountBalance(taker))

	// At 4 it rests as a maker, locking 4*100.
	res, err := p.PlaceLimitOrder(taker, 0, Bid, price(4), 100, clock.Never, PostOrAbort, CancelOldest)
	require.NoError(t, err)
	assert.True(t, res.IsPlaced)
	assert.Zero(t, res.BaseFilled)
	assert.Equal(t, uint64(400), p.AccountBalance(taker).LockedQuote)
}

func TestPostOrAbortIgnoresExpiredBlockingMaker(t *testing.T) {
	p, _ := newTestPool(t)
	stale := account.NewCap().ID()
	live := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(stale, 100))
	require.NoError(t, p.DepositBase(live, 100))
	require.NoError(t, p.DepositQuote(taker, 10_000))

	// The best ask level holds only an expired maker; the best live ask
	// sits behind it at 7.
	_, err := p.PlaceLimitOrder(stale, 0, Ask, price(5), 100, 500, NoRestriction, CancelOldest)
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(live, 0, Ask, price(7), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	// A post-only bid at 6 crosses only the expired level: it must rest,
	// and the expired maker it stepped over is swept and refunded.
	res, err := p.PlaceLimitOrder(taker, 0, Bid, price(6), 100, clock.Never, PostOrAbort, CancelOldest)
	require.NoError(t, err)
	assert.True(t, res.IsPlaced)
	assert.Zero(t, res.BaseFilled)
	assert.Equal(t, custodian.Balance{AvailableBase: 100}, p.AccountBalance(stale))
	assert.Empty(t, p.ListOpenOrders(stale))

	// Against the live ask at 7 the post-only check still aborts.
	_, err = p.PlaceLimitOrder(taker, 0, Bid, price(8), 100, clock.Never, PostOrAbort, CancelOldest)
	assert.ErrorIs(t, err, ErrOrderCannotCross)
}

func TestSwapExactQuoteForBaseNonDividingPrice(t *testing.T) {
	cfg := Config{TickSize: 1, LotSize: 1, TakerFeeBps: 0, MakerRebateBps: 0}
	p, err := NewPool("FRAC", cfg, clock.Fixed(0), nil)
	require.NoError(t, err)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 100))
	require.NoError(t, p.DepositQuote(taker, 10))

	// At price 3.5, 10 quote buys 3 base (floor(3*3.5) = 10), not the 2
	// a plain quote/price division would allow.
	_, err = p.PlaceLimitOrder(maker, 0, Ask, 3_500_000_000, 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	res, err := p.SwapExactQuoteForBase(taker, 10, CancelOldest)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.BaseFilled)
	assert.Equal(t, uint64(10), res.QuoteFilled)
	assert.Equal(t, uint64(3), p.AccountBalance(taker).AvailableBase)
	assert.Zero(t, p.AccountBalance(taker).AvailableQuote)
}

func TestSelfMatchCancelOldest(t *testing.T) {
	p, events := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(a, 300))
	require.NoError(t, p.DepositBase(a, 150))

	bid, err := p.PlaceLimitOrder(a, 0, Bid, price(3), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	res, err := p.PlaceLimitOrder(a, 0, Ask, price(3), 150, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	assert.True(t, res.IsPlaced)
	assert.Zero(t, res.BaseFilled)

	// The resting bid was cancelled with a refund; the ask rests.
	bal := p.AccountBalance(a)
	assert.Equal(t, uint64(300), bal.AvailableQuote)
	assert.Zero(t, bal.LockedQuote)
	assert.Equal(t, uint64(150), bal.LockedBase)
	assert.Equal(t, []uint64{res.OrderID}, p.ListOpenOrders(a))

	var cancelled bool
	for _, e := range *events {
		if e.Kind == EventCancelled && e.OrderID == bid.OrderID {
			cancelled = true
		}
	}
	assert.True(t, cancelled)
}

func TestSelfMatchCancelTaker(t *testing.T) {
	p, _ := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(a, 300))
	require.NoError(t, p.DepositBase(a, 150))

	bid, err := p.PlaceLimitOrder(a, 0, Bid, price(3), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	// The taker is dropped at its own order: nothing fills, nothing rests.
	res, err := p.PlaceLimitOrder(a, 0, Ask, price(3), 150, clock.Never, NoRestriction, CancelTaker)
	require.NoError(t, err)
	assert.False(t, res.IsPlaced)
	assert.Zero(t, res.BaseFilled)

	assert.Equal(t, []uint64{bid.OrderID}, p.ListOpenOrders(a))
	bal := p.AccountBalance(a)
	assert.Equal(t, uint64(300), bal.LockedQuote)
	assert.Zero(t, bal.LockedBase)
}

func TestSelfMatchAbort(t *testing.T) {
	p, _ := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(a, 300))
	require.NoError(t, p.DepositBase(a, 150))

	_, err := p.PlaceLimitOrder(a, 0, Bid, price(3), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	_, err = p.PlaceLimitOrder(a, 0, Ask, price(3), 150, clock.Never, NoRestriction, AbortSelfMatch)
	assert.ErrorIs(t, err, ErrSelfMatch)

	// Abort left the book and ledger untouched.
	bal := p.AccountBalance(a)
	assert.Equal(t, uint64(300), bal.LockedQuote)
	assert.Equal(t, uint64(150), bal.AvailableBase)
	assert.Len(t, p.ListOpenOrders(a), 1)
}

func TestExpiredMakerSweptDuringMatch(t *testing.T) {
	p, events := newTestPool(t)
	stale := account.NewCap().ID()
	live := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(stale, 100))
	require.NoError(t, p.DepositBase(live, 100))
	require.NoError(t, p.DepositQuote(taker, 10_000))

	// The pool clock sits at 1000ms; an order expiring at 500ms is stale.
	staleRes, err := p.PlaceLimitOrder(stale, 0, Ask, price(5), 100, 500, NoRestriction, CancelOldest)
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(live, 0, Ask, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	res, err := p.PlaceLimitOrder(taker, 0, Bid, price(5), 150, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	// The stale maker was removed and refunded, never filled.
	assert.Equal(t, custodian.Balance{AvailableBase: 100}, p.AccountBalance(stale))
	assert.Empty(t, p.ListOpenOrders(stale))

	// The live maker was fully consumed; 50 rests as a new bid.
	assert.Equal(t, uint64(100), res.BaseFilled)
	assert.Equal(t, uint64(500), res.QuoteFilled)
	assert.True(t, res.IsPlaced)
	o, ok := p.GetOrderStatus(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, uint64(50), o.Quantity)

	var expired bool
	for _, e := range *events {
		if e.Kind == EventExpired && e.OrderID == staleRes.OrderID {
			expired = true
		}
	}
	assert.True(t, expired)
}

func TestCancelOrderRoundTrip(t *testing.T) {
	p, _ := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(a, 1_000))
	before := p.AccountBalance(a)

	res, err := p.PlaceLimitOrder(a, 0, Bid, price(2), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	require.NoError(t, p.CancelOrder(a, res.OrderID))

	// Place-then-cancel restores the ledger exactly.
	assert.Equal(t, before, p.AccountBalance(a))
	assert.Empty(t, p.ListOpenOrders(a))
	_, ok := p.GetOrderStatus(res.OrderID)
	assert.False(t, ok)

	// A second cancel of the same id fails cleanly.
	assert.ErrorIs(t, p.CancelOrder(a, res.OrderID), ErrInvalidOrderID)
}

func TestCancelAuthorization(t *testing.T) {
	p, _ := newTestPool(t)
	owner := account.NewCap().ID()
	stranger := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(owner, 1_000))

	res, err := p.PlaceLimitOrder(owner, 0, Bid, price(2), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	assert.ErrorIs(t, p.CancelOrder(stranger, res.OrderID), ErrUnauthorized)
	assert.ErrorIs(t, p.CancelOrder(owner, 424242), ErrInvalidOrderID)
	assert.Len(t, p.ListOpenOrders(owner), 1)
}

func TestCancelAll(t *testing.T) {
	p, _ := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(a, 1_000))
	require.NoError(t, p.DepositBase(a, 1_000))
	before := p.AccountBalance(a)

	for i := uint64(1); i <= 3; i++ {
		_, err := p.PlaceLimitOrder(a, 0, Bid, price(i), 10, clock.Never, NoRestriction, CancelOldest)
		require.NoError(t, err)
	}
	_, err := p.PlaceLimitOrder(a, 0, Ask, price(9), 10, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	require.Len(t, p.ListOpenOrders(a), 4)

	require.NoError(t, p.CancelAll(a))
	assert.Empty(t, p.ListOpenOrders(a))
	assert.Equal(t, before, p.AccountBalance(a))
}

func TestMarketOrderWalksLevels(t *testing.T) {
	p, _ := newTestPool(t)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 200))
	require.NoError(t, p.DepositQuote(taker, 10_000))

	_, err := p.PlaceLimitOrder(maker, 0, Ask, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(maker, 0, Ask, price(7), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	// No price bound: 100@5 then 50@7. Cost 500+350, fee floor(850*0.5%)=4.
	res, err := p.PlaceMarketOrder(taker, Bid, 150, CancelOldest)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), res.BaseFilled)
	assert.Equal(t, uint64(850), res.QuoteFilled)
	assert.False(t, res.IsPlaced)

	bal := p.AccountBalance(taker)
	assert.Equal(t, uint64(150), bal.AvailableBase)
	assert.Equal(t, uint64(10_000-850-4), bal.AvailableQuote)
	assert.Zero(t, bal.LockedQuote)
}

func TestMarketOrderUnderfundedAborts(t *testing.T) {
	p, _ := newTestPool(t)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 100))
	require.NoError(t, p.DepositQuote(taker, 100))

	_, err := p.PlaceLimitOrder(maker, 0, Ask, price(5), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	_, err = p.PlaceMarketOrder(taker, Bid, 100, CancelOldest)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// The maker is untouched.
	o, ok := p.GetOrderStatus(p.ListOpenOrders(maker)[0])
	require.True(t, ok)
	assert.Equal(t, uint64(100), o.Quantity)
}

func TestSwapExactBaseForQuote(t *testing.T) {
	p, _ := newTestPool(t)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(maker, 400))
	require.NoError(t, p.DepositBase(taker, 60))

	_, err := p.PlaceLimitOrder(maker, 0, Bid, price(4), 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	// Sell 60 base into the bid: proceeds 240, fee floor(240*0.5%)=1,
	// maker rebate floor(240*0.25%)=0.
	res, err := p.SwapExactBaseForQuote(taker, 60, CancelOldest)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), res.BaseFilled)
	assert.Equal(t, uint64(240), res.QuoteFilled)

	takerBal := p.AccountBalance(taker)
	assert.Zero(t, takerBal.AvailableBase)
	assert.Equal(t, uint64(239), takerBal.AvailableQuote)

	makerBal := p.AccountBalance(maker)
	assert.Equal(t, uint64(60), makerBal.AvailableBase)
	assert.Equal(t, uint64(160), makerBal.LockedQuote)
	assert.Equal(t, uint64(1), p.GetPoolStat().AccumulatedFee)
}

func TestSwapExactQuoteForBaseLotRounding(t *testing.T) {
	cfg := Config{TickSize: 1, LotSize: 10, TakerFeeBps: 0, MakerRebateBps: 0}
	p, err := NewPool("LOT", cfg, clock.Fixed(0), nil)
	require.NoError(t, err)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 2_000))
	require.NoError(t, p.DepositQuote(taker, 4_500))

	_, err = p.PlaceLimitOrder(maker, 0, Ask, price(2), 1_000, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(maker, 0, Ask, price(5), 500, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(maker, 0, Ask, price(5), 500, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	// 4500 quote buys 1000@2 (2000) then 500@5 (2500) exactly.
	res, err := p.SwapExactQuoteForBase(taker, 4_500, CancelOldest)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500), res.BaseFilled)
	assert.Equal(t, uint64(4_500), res.QuoteFilled)
	assert.Equal(t, uint64(1_500), p.AccountBalance(taker).AvailableBase)
	assert.Zero(t, p.AccountBalance(taker).AvailableQuote)
}

func TestSwapExactQuoteForBasePartialLotStops(t *testing.T) {
	cfg := Config{TickSize: 1, LotSize: 10, TakerFeeBps: 0, MakerRebateBps: 0}
	p, err := NewPool("LOT", cfg, clock.Fixed(0), nil)
	require.NoError(t, err)
	maker := account.NewCap().ID()
	taker := account.NewCap().ID()
	require.NoError(t, p.DepositBase(maker, 100))
	require.NoError(t, p.DepositQuote(taker, 200))

	// One lot of 10 at price 20.1 costs 201; 200 quote cannot buy it.
	_, err = p.PlaceLimitOrder(maker, 0, Ask, 20_100_000_000, 100, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	res, err := p.SwapExactQuoteForBase(taker, 200, CancelOldest)
	require.NoError(t, err)
	assert.Zero(t, res.BaseFilled)
	assert.Zero(t, res.QuoteFilled)

	// The unspent quote was never touched.
	assert.Equal(t, uint64(200), p.AccountBalance(taker).AvailableQuote)
	o, ok := p.GetOrderStatus(p.ListOpenOrders(maker)[0])
	require.True(t, ok)
	assert.Equal(t, uint64(100), o.Quantity)
}

func TestLevel2SkipsExpiredDepth(t *testing.T) {
	p, _ := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositBase(a, 1_000))

	_, err := p.PlaceLimitOrder(a, 0, Ask, price(5), 100, 500, NoRestriction, CancelOldest)
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(a, 0, Ask, price(5), 50, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(a, 0, Ask, price(7), 30, clock.Never, NoRestriction, CancelOldest)
	require.NoError(t, err)

	prices, depths := p.GetLevel2BookStatus(Ask, price(1), price(10), 1_000)
	assert.Equal(t, []uint64{price(5), price(7)}, prices)
	// The expired 100 at price 5 does not count toward depth.
	assert.Equal(t, []uint64{50, 30}, depths)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("A/B", testConfig(), clock.Fixed(0), nil)
	require.NoError(t, err)

	_, err = r.Create("A/B", testConfig(), clock.Fixed(0), nil)
	assert.ErrorIs(t, err, ErrPoolExists)

	p, ok := r.Get("A/B")
	assert.True(t, ok)
	assert.Equal(t, "A/B", p.ID())

	_, err = r.MustGet("C/D")
	assert.ErrorIs(t, err, ErrPoolNotFound)
	assert.Equal(t, []string{"A/B"}, r.List())
}

func TestOrderIDsMonotonicPerSide(t *testing.T) {
	p, _ := newTestPool(t)
	a := account.NewCap().ID()
	require.NoError(t, p.DepositQuote(a, 10_000))
	require.NoError(t, p.DepositBase(a, 10_000))

	var lastBid, lastAsk uint64
	for i := 0; i < 5; i++ {
		rb, err := p.PlaceLimitOrder(a, 0, Bid, price(1), 10, clock.Never, NoRestriction, CancelOldest)
		require.NoError(t, err)
		ra, err := p.PlaceLimitOrder(a, 0, Ask, price(9), 10, clock.Never, NoRestriction, CancelOldest)
		require.NoError(t, err)
		assert.Greater(t, rb.OrderID, lastBid)
		assert.Greater(t, ra.OrderID, lastAsk)
		lastBid, lastAsk = rb.OrderID, ra.OrderID
	}
	// Bid ids stay below the side bit, ask ids above.
	assert.Less(t, lastBid, uint64(1)<<63)
	assert.GreaterOrEqual(t, lastAsk, uint64(1)<<63)
}
