// Package floor coordinates the venue: it owns the per-ticker books,
// validates and stamps incoming orders, and manages the lifecycle of
// one matching worker per actively-traded ticker.
package floor

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/oracle"
)

const defaultInterval = time.Millisecond

// Notifier delivers fill reports to the owning sessions. Delivery is
// best-effort; a failed send never unwinds a fill.
type Notifier interface {
	Notify(submitter common.SessionID, fill common.Fill) error
}

// market is everything the floor tracks for one ticker: both sides of
// the book and the worker crossing them. Markets are created lazily on
// the first order for a ticker and only discarded at shutdown.
type market struct {
	buys   *book.List
	sells  *book.List
	fillMu sync.Mutex
	worker *matcher
}

// placement remembers where a resting order lives so cancels are O(1).
type placement struct {
	ticker    string
	side      common.Side
	handle    book.Handle
	submitter common.SessionID
}

type Floor struct {
	mu       sync.Mutex
	markets  map[string]*market
	index    map[string]placement // order UUID -> where it rests
	oracle   oracle.Oracle
	notifier Notifier
	interval time.Duration
	now      func() int64
	closed   bool
}

func New(o oracle.Oracle) *Floor {
	return &Floor{
		markets:  make(map[string]*market),
		index:    make(map[string]placement),
		oracle:   o,
		interval: defaultInterval,
		now:      monotonicMillis,
	}
}

// SetNotifier injects the delivery boundary. Call before the first
// submission; fills matched without a notifier are logged and dropped.
func (f *Floor) SetNotifier(n Notifier) {
	f.notifier = n
}

// Submit validates and enriches a raw request, rests the order in the
// proper side of its ticker's book and makes sure a matching worker is
// running for that ticker. Any validation failure rejects the request
// with ErrMalformedOrder and mutates nothing.
func (f *Floor) Submit(req Request, submitter common.SessionID) (Ack, error) {
	side, err := common.ParseSide(req.Side)
	if err != nil {
		return Ack{}, err
	}
	if req.Ticker == "" {
		return Ack{}, fmt.Errorf("%w: empty ticker", common.ErrMalformedOrder)
	}
	quantity, err := strconv.ParseUint(req.Quantity, 10, 64)
	if err != nil || quantity == 0 {
		return Ack{}, fmt.Errorf("%w: quantity %q is not a positive integer", common.ErrMalformedOrder, req.Quantity)
	}

	order := common.Order{
		UUID:      uuid.NewString(),
		Ticker:    req.Ticker,
		Side:      side,
		Price:     f.oracle.Price(req.Ticker),
		Quantity:  quantity,
		Time:      f.now(),
		Submitter: submitter,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Ack{}, common.ErrShutdown
	}

	mkt := f.marketLocked(order.Ticker)
	list := mkt.buys
	if side == common.Sell {
		list = mkt.sells
	}
	handle := list.Insert(order)
	f.index[order.UUID] = placement{
		ticker:    order.Ticker,
		side:      side,
		handle:    handle,
		submitter: submitter,
	}
	f.ensureWorkerLocked(order.Ticker, mkt)

	log.Debug().
		Str("ticker", order.Ticker).
		Str("side", side.String()).
		Uint64("quantity", quantity).
		Str("uuid", order.UUID).
		Msg("order resting")

	return Ack{
		UUID:     order.UUID,
		Side:     side,
		Ticker:   order.Ticker,
		Quantity: quantity,
		Time:     order.Time,
	}, nil
}

// Cancel pulls a resting order out of its book. Only the submitting
// session may cancel; an order already filled (or never seen) reports
// ErrUnknownOrder.
func (f *Floor) Cancel(orderUUID string, submitter common.SessionID) error {
	f.mu.Lock()
	p, ok := f.index[orderUUID]
	if !ok {
		f.mu.Unlock()
		return common.ErrUnknownOrder
	}
	if p.submitter != submitter {
		f.mu.Unlock()
		return common.ErrNotOwner
	}
	mkt := f.markets[p.ticker]
	f.mu.Unlock()

	// The fill lock keeps the removal from racing a half-applied fill
	// on this ticker. Never taken while holding the floor lock.
	mkt.fillMu.Lock()
	list := mkt.buys
	if p.side == common.Sell {
		list = mkt.sells
	}
	removed := list.Remove(p.handle)
	mkt.fillMu.Unlock()

	f.mu.Lock()
	delete(f.index, orderUUID)
	f.mu.Unlock()

	if !removed {
		// Filled between lookup and removal.
		return common.ErrUnknownOrder
	}
	log.Debug().Str("uuid", orderUUID).Str("ticker", p.ticker).Msg("order cancelled")
	return nil
}

// CurrentPrice asks the oracle; it has no effect on any book.
func (f *Floor) CurrentPrice(ticker string) float64 {
	return f.oracle.Price(ticker)
}

// Depth reports the aggregated resting quantity per price level for a
// ticker, bids highest first and asks lowest first. A ticker with no
// book yet simply has no depth.
func (f *Floor) Depth(ticker string) (bids, asks []book.Level) {
	f.mu.Lock()
	mkt, ok := f.markets[ticker]
	f.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return book.Depth(mkt.buys, common.Buy), book.Depth(mkt.sells, common.Sell)
}

// StopTicker signals the named ticker's worker and blocks until it has
// stopped. Resting orders survive; a later submission restarts the
// worker. Unknown tickers are a no-op.
//
// The worker stays attached to its market while it is joined, so a
// concurrent submission cannot start a replacement until the old
// worker is fully stopped. The slot is only cleared if it still holds
// the worker this call joined.
func (f *Floor) StopTicker(ticker string) {
	f.mu.Lock()
	var w *matcher
	if mkt, ok := f.markets[ticker]; ok {
		w = mkt.worker
	}
	f.mu.Unlock()
	if w == nil {
		return
	}

	w.stop()

	f.mu.Lock()
	if mkt, ok := f.markets[ticker]; ok && mkt.worker == w {
		mkt.worker = nil
	}
	f.mu.Unlock()
}

// StopAll stops every matching worker and joins them, then refuses
// further submissions. It is the one shutdown path and is safe to call
// when no worker was ever started. Workers stay attached until joined,
// for the same single-worker guarantee StopTicker gives.
func (f *Floor) StopAll() {
	f.mu.Lock()
	f.closed = true
	workers := make(map[string]*matcher)
	for ticker, mkt := range f.markets {
		if mkt.worker != nil {
			workers[ticker] = mkt.worker
		}
	}
	f.mu.Unlock()

	for ticker, w := range workers {
		w.stop()
		f.mu.Lock()
		if mkt, ok := f.markets[ticker]; ok && mkt.worker == w {
			mkt.worker = nil
		}
		f.mu.Unlock()
	}
	log.Info().Int("workers", len(workers)).Msg("floor stopped")
}

// marketLocked returns the ticker's market, creating it on first use.
// Caller holds the floor lock.
func (f *Floor) marketLocked(ticker string) *market {
	mkt, ok := f.markets[ticker]
	if !ok {
		mkt = &market{
			buys:  book.NewList(),
			sells: book.NewList(),
		}
		f.markets[ticker] = mkt
	}
	return mkt
}

// ensureWorkerLocked starts a matching worker for the ticker unless a
// live one is already attached; the attachment check under the floor
// lock is what guarantees a ticker never has two concurrent workers. A
// worker that has fully stopped but whose slot has not been cleared
// yet (StopTicker joins outside this lock) is replaced here.
func (f *Floor) ensureWorkerLocked(ticker string, mkt *market) {
	if mkt.worker != nil && mkt.worker.State() != Stopped {
		return
	}
	mkt.worker = &matcher{
		ticker:   ticker,
		buys:     mkt.buys,
		sells:    mkt.sells,
		fillMu:   &mkt.fillMu,
		notifier: f.notifier,
		release:  f.releaseOrder,
		interval: f.interval,
		now:      f.now,
	}
	mkt.worker.start()
}

// releaseOrder drops a fully-filled order from the cancel index.
func (f *Floor) releaseOrder(orderUUID string) {
	f.mu.Lock()
	delete(f.index, orderUUID)
	f.mu.Unlock()
}

// monotonicMillis stamps submission times: epoch milliseconds derived
// from the monotonic clock so stamps never run backwards across wall
// clock adjustments.
var processEpoch = time.Now()

func monotonicMillis() int64 {
	return processEpoch.UnixMilli() + time.Since(processEpoch).Milliseconds()
}
