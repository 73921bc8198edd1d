package floor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/book"
	"skoll/internal/common"
)

// --- Setup & Helpers --------------------------------------------------------

type recordingNotifier struct {
	mu    sync.Mutex
	fills map[common.SessionID][]common.Fill
	fail  bool
}

func (r *recordingNotifier) Notify(id common.SessionID, fill common.Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fills == nil {
		r.fills = make(map[common.SessionID][]common.Fill)
	}
	r.fills[id] = append(r.fills[id], fill)
	if r.fail {
		return errors.New("connection gone")
	}
	return nil
}

func (r *recordingNotifier) get(id common.SessionID) []common.Fill {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fills[id]
}

func (r *recordingNotifier) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, fills := range r.fills {
		n += len(fills)
	}
	return n
}

func newTestMatcher(n Notifier) *matcher {
	var fillMu sync.Mutex
	return &matcher{
		ticker:   "AAPL",
		buys:     book.NewList(),
		sells:    book.NewList(),
		fillMu:   &fillMu,
		notifier: n,
		release:  func(string) {},
		interval: time.Millisecond,
		now:      func() int64 { return 42 },
	}
}

func restingOrder(uuid string, side common.Side, price float64, qty uint64, time int64, submitter common.SessionID) common.Order {
	return common.Order{
		UUID:      uuid,
		Ticker:    "AAPL",
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Time:      time,
		Submitter: submitter,
	}
}

// --- Tests ------------------------------------------------------------------

func TestPass_FullFill(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestMatcher(notifier)

	m.sells.Insert(restingOrder("s", common.Sell, 50, 10, 1, "seller"))
	m.buys.Insert(restingOrder("b", common.Buy, 50, 10, 2, "buyer"))

	m.pass()

	assert.True(t, m.buys.Empty())
	assert.True(t, m.sells.Empty())

	buyFills := notifier.get("buyer")
	require.Len(t, buyFills, 1)
	assert.Equal(t, common.Fill{
		Role: common.Buy, Ticker: "AAPL", Quantity: 10, Price: 50, Counterparty: "s", Time: 42,
	}, buyFills[0])

	sellFills := notifier.get("seller")
	require.Len(t, sellFills, 1)
	assert.Equal(t, common.Fill{
		Role: common.Sell, Ticker: "AAPL", Quantity: 10, Price: 50, Counterparty: "b", Time: 42,
	}, sellFills[0])
}

func TestPass_PartialFill(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestMatcher(notifier)

	sellHandle := m.sells.Insert(restingOrder("s", common.Sell, 50, 10, 1, "seller"))
	m.buys.Insert(restingOrder("b", common.Buy, 55, 4, 2, "buyer"))

	m.pass()

	// The buy is consumed; the sell rests on with the remainder.
	assert.True(t, m.buys.Empty())
	remaining, ok := m.sells.Get(sellHandle)
	require.True(t, ok)
	assert.Equal(t, uint64(6), remaining.Quantity)

	// Both parties hear about the same 4 lots at the resting price.
	buyFills := notifier.get("buyer")
	sellFills := notifier.get("seller")
	require.Len(t, buyFills, 1)
	require.Len(t, sellFills, 1)
	assert.Equal(t, uint64(4), buyFills[0].Quantity)
	assert.Equal(t, uint64(4), sellFills[0].Quantity)
	assert.Equal(t, 50.0, buyFills[0].Price)
}

func TestPass_SelfTradePrevented(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestMatcher(notifier)

	m.sells.Insert(restingOrder("s", common.Sell, 50, 10, 1, "trader"))
	m.buys.Insert(restingOrder("b", common.Buy, 55, 10, 2, "trader"))

	m.pass()

	assert.Equal(t, 1, m.buys.Len())
	assert.Equal(t, 1, m.sells.Len())
	assert.Zero(t, notifier.total())
}

func TestPass_NoSpuriousCross(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestMatcher(notifier)

	m.buys.Insert(restingOrder("b", common.Buy, 40, 10, 1, "buyer"))
	m.sells.Insert(restingOrder("s", common.Sell, 50, 10, 2, "seller"))

	m.pass()

	assert.Equal(t, 1, m.buys.Len())
	assert.Equal(t, 1, m.sells.Len())
	assert.Zero(t, notifier.total())
}

func TestPass_OneFillPerPass(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestMatcher(notifier)

	m.sells.Insert(restingOrder("s1", common.Sell, 50, 5, 1, "seller"))
	m.sells.Insert(restingOrder("s2", common.Sell, 50, 5, 2, "seller"))
	m.buys.Insert(restingOrder("b", common.Buy, 50, 10, 3, "buyer"))

	m.pass()
	assert.Equal(t, 1, notifier.total()/2, "a single pass applies at most one fill")
	assert.Equal(t, 1, m.sells.Len())

	m.pass()
	assert.Equal(t, 2, notifier.total()/2)
	assert.True(t, m.buys.Empty())
	assert.True(t, m.sells.Empty())
}

func TestPass_EarliestBuyMatchedFirst(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestMatcher(notifier)

	m.buys.Insert(restingOrder("b-early", common.Buy, 100, 5, 1, "buyer-a"))
	m.buys.Insert(restingOrder("b-late", common.Buy, 100, 5, 2, "buyer-b"))
	m.sells.Insert(restingOrder("s", common.Sell, 50, 5, 3, "seller"))

	m.pass()

	sellFills := notifier.get("seller")
	require.Len(t, sellFills, 1)
	assert.Equal(t, "b-early", sellFills[0].Counterparty)
	assert.NotEmpty(t, notifier.get("buyer-a"))
	assert.Empty(t, notifier.get("buyer-b"))
}

func TestPass_DeliveryFailureDoesNotRollBack(t *testing.T) {
	notifier := &recordingNotifier{fail: true}
	m := newTestMatcher(notifier)

	m.sells.Insert(restingOrder("s", common.Sell, 50, 10, 1, "seller"))
	m.buys.Insert(restingOrder("b", common.Buy, 50, 10, 2, "buyer"))

	m.pass()

	// The fill is final even though both sends failed.
	assert.True(t, m.buys.Empty())
	assert.True(t, m.sells.Empty())
}

func TestFindCross_EmptySides(t *testing.T) {
	_, ok := findCross(nil, nil)
	assert.False(t, ok)

	buys := []book.Entry{{Order: restingOrder("b", common.Buy, 50, 10, 1, "buyer")}}
	_, ok = findCross(buys, nil)
	assert.False(t, ok)
	_, ok = findCross(nil, buys)
	assert.False(t, ok)
}

func TestFindCross_SkipsSelfTradeForLaterCounterparty(t *testing.T) {
	// The earliest sell belongs to the buyer; the walk must move past
	// it and cross with the later sell from someone else.
	buys := []book.Entry{{Order: restingOrder("b", common.Buy, 100, 10, 3, "trader")}}
	sells := []book.Entry{
		{Order: restingOrder("s-own", common.Sell, 50, 10, 1, "trader")},
		{Order: restingOrder("s-other", common.Sell, 50, 10, 2, "counterparty")},
	}

	cross, ok := findCross(buys, sells)
	require.True(t, ok)
	assert.Equal(t, "s-other", cross.sell.Order.UUID)
	assert.Equal(t, "b", cross.buy.Order.UUID)
}

func TestFindCross_RestartsExhaustedBuySide(t *testing.T) {
	// The lone buy is earliest, so it advances first and runs off the
	// end against the expensive sell. Only the restart at the buy head
	// pairs it with the later, cheaper sell.
	buys := []book.Entry{{Order: restingOrder("b", common.Buy, 100, 10, 1, "buyer")}}
	sells := []book.Entry{
		{Order: restingOrder("s-high", common.Sell, 110, 10, 5, "seller")},
		{Order: restingOrder("s-low", common.Sell, 90, 10, 6, "seller")},
	}

	cross, ok := findCross(buys, sells)
	require.True(t, ok)
	assert.Equal(t, "b", cross.buy.Order.UUID)
	assert.Equal(t, "s-low", cross.sell.Order.UUID)
}

func TestFindCross_RestartsExhaustedSellSide(t *testing.T) {
	// Mirror case: the lone sell is earliest and exhausts against the
	// cheap buy; the restart at the sell head finds the later buy that
	// pays enough.
	buys := []book.Entry{
		{Order: restingOrder("b-low", common.Buy, 50, 10, 5, "buyer")},
		{Order: restingOrder("b-high", common.Buy, 70, 10, 6, "buyer")},
	}
	sells := []book.Entry{{Order: restingOrder("s", common.Sell, 60, 10, 1, "seller")}}

	cross, ok := findCross(buys, sells)
	require.True(t, ok)
	assert.Equal(t, "b-high", cross.buy.Order.UUID)
	assert.Equal(t, "s", cross.sell.Order.UUID)
}

func TestFindCross_GivesUpAfterRestart(t *testing.T) {
	// Nothing crosses anywhere: the buy cursor runs off the end, takes
	// its one restart, runs off again and the walk ends empty-handed
	// instead of spinning.
	buys := []book.Entry{{Order: restingOrder("b", common.Buy, 40, 10, 1, "buyer")}}
	sells := []book.Entry{
		{Order: restingOrder("s1", common.Sell, 50, 10, 2, "seller")},
		{Order: restingOrder("s2", common.Sell, 55, 10, 5, "seller")},
	}

	_, ok := findCross(buys, sells)
	assert.False(t, ok)
}

func TestWorker_StateMachine(t *testing.T) {
	m := newTestMatcher(&recordingNotifier{})
	assert.Equal(t, Starting, m.State())

	m.start()
	assert.Eventually(t, func() bool { return m.State() == Running },
		time.Second, time.Millisecond)

	m.stop()
	assert.Equal(t, Stopped, m.State())
}
