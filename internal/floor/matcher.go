package floor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"skoll/internal/book"
	"skoll/internal/common"
)

// WorkerState tracks a matching worker through its lifecycle. A worker
// never terminates on its own; Stopped is reached only after the floor
// kills it and joins.
type WorkerState int32

const (
	Starting WorkerState = iota
	Running
	Stopping
	Stopped
)

func (s WorkerState) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// matcher is the long-lived matching worker for one ticker. It
// repeatedly snapshots both sides of the book, looks for the earliest
// crossable pair and applies at most one fill per pass.
type matcher struct {
	ticker   string
	buys     *book.List
	sells    *book.List
	fillMu   *sync.Mutex // serializes fills against cancels for this ticker
	notifier Notifier
	release  func(uuid string)
	interval time.Duration
	now      func() int64
	state    atomic.Int32
	t        *tomb.Tomb
}

func (m *matcher) start() {
	m.t = &tomb.Tomb{}
	m.t.Go(m.run)
	log.Info().Str("ticker", m.ticker).Msg("matching worker started")
}

// stop signals the worker and blocks until it acknowledges. Safe to
// call more than once; a worker already stopped stays stopped.
func (m *matcher) stop() {
	if !m.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		m.state.CompareAndSwap(int32(Starting), int32(Stopping))
	}
	m.t.Kill(nil)
	if err := m.t.Wait(); err != nil {
		log.Error().Err(err).Str("ticker", m.ticker).Msg("matching worker exited with error")
	}
	log.Info().Str("ticker", m.ticker).Msg("matching worker stopped")
}

// State reads the worker's current lifecycle state.
func (m *matcher) State() WorkerState {
	return WorkerState(m.state.Load())
}

func (m *matcher) run() error {
	m.state.CompareAndSwap(int32(Starting), int32(Running))
	defer m.state.Store(int32(Stopped))

	for {
		select {
		case <-m.t.Dying():
			return nil
		default:
		}

		m.pass()

		// Bound CPU usage between passes; Dying cuts the sleep short
		// so shutdown joins promptly.
		select {
		case <-m.t.Dying():
			return nil
		case <-time.After(m.interval):
		}
	}
}

// pass performs one bounded matching pass. A panic inside a pass is
// isolated to this ticker: it is logged and the loop carries on.
func (m *matcher) pass() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("ticker", m.ticker).Any("panic", r).Msg("matching pass aborted")
		}
	}()

	cross, ok := findCross(m.buys.Snapshot(), m.sells.Snapshot())
	if !ok {
		return
	}

	buyFill, sellFill, applied := m.applyFill(cross)
	if !applied {
		return
	}

	// Delivery is best-effort: the fill is final once applied, and no
	// list or fill lock is held across the sends.
	if m.notifier != nil {
		if err := m.notifier.Notify(buyFill.to, buyFill.fill); err != nil {
			log.Warn().Err(err).Str("ticker", m.ticker).Msg("buy fill notification dropped")
		}
		if err := m.notifier.Notify(sellFill.to, sellFill.fill); err != nil {
			log.Warn().Err(err).Str("ticker", m.ticker).Msg("sell fill notification dropped")
		}
	}
}

// crossing is the explicit outcome of a successful walk; order fields
// are only ever read off one of these, never off a dangling cursor.
type crossing struct {
	buy  book.Entry
	sell book.Entry
}

// findCross walks both sides in timestamp order looking for the
// earliest crossable pair: sell price at or below buy price, distinct
// submitters. When a pair does not cross, the cursor holding the
// earlier order advances; a cursor that runs off the end restarts once
// at the head while the other side advances, so interest freed by a
// previous fill is retried before the pass gives up.
func findCross(buys, sells []book.Entry) (crossing, bool) {
	var bi, si int
	var buyWrapped, sellWrapped bool

	for bi < len(buys) && si < len(sells) {
		buy := buys[bi].Order
		sell := sells[si].Order

		if sell.Price <= buy.Price && sell.Submitter != buy.Submitter {
			return crossing{buy: buys[bi], sell: sells[si]}, true
		}

		if buy.Time <= sell.Time {
			bi++
			if bi == len(buys) && !buyWrapped {
				buyWrapped = true
				bi = 0
				si++
			}
		} else {
			si++
			if si == len(sells) && !sellWrapped {
				sellWrapped = true
				si = 0
				bi++
			}
		}
	}
	return crossing{}, false
}

// addressedFill pairs a fill with the session it is owed to.
type addressedFill struct {
	to   common.SessionID
	fill common.Fill
}

// applyFill commits one fill under the ticker's fill lock. The handles
// are revalidated first: a concurrent cancel may have pulled either
// order since the snapshot, in which case nothing is applied. Once
// both orders are confirmed live, the two reductions cannot fail, so
// the fill is applied atomically with respect to cancels.
func (m *matcher) applyFill(c crossing) (buyFill, sellFill addressedFill, applied bool) {
	m.fillMu.Lock()

	buyOrder, ok := m.buys.Get(c.buy.Handle)
	if !ok {
		m.fillMu.Unlock()
		return addressedFill{}, addressedFill{}, false
	}
	sellOrder, ok := m.sells.Get(c.sell.Handle)
	if !ok {
		m.fillMu.Unlock()
		return addressedFill{}, addressedFill{}, false
	}

	fillQty := min(buyOrder.Quantity, sellOrder.Quantity)

	buyRemoved, err := m.buys.Reduce(c.buy.Handle, fillQty)
	if err != nil {
		// Programming error: the handle was validated under the lock.
		m.fillMu.Unlock()
		log.Error().Err(err).Str("ticker", m.ticker).Msg("buy reduction failed after validation")
		return addressedFill{}, addressedFill{}, false
	}
	sellRemoved, err := m.sells.Reduce(c.sell.Handle, fillQty)
	if err != nil {
		m.fillMu.Unlock()
		log.Error().Err(err).Str("ticker", m.ticker).Msg("sell reduction failed after validation")
		return addressedFill{}, addressedFill{}, false
	}
	m.fillMu.Unlock()

	if buyRemoved {
		m.release(buyOrder.UUID)
	}
	if sellRemoved {
		m.release(sellOrder.UUID)
	}

	// Trade prints at the resting (earlier) order's price.
	price := sellOrder.Price
	if buyOrder.Time <= sellOrder.Time {
		price = buyOrder.Price
	}
	now := m.now()

	log.Info().
		Str("ticker", m.ticker).
		Uint64("quantity", fillQty).
		Float64("price", price).
		Str("buy", buyOrder.UUID).
		Str("sell", sellOrder.UUID).
		Msg("orders matched")

	buyFill = addressedFill{
		to: buyOrder.Submitter,
		fill: common.Fill{
			Role:         common.Buy,
			Ticker:       m.ticker,
			Quantity:     fillQty,
			Price:        price,
			Counterparty: sellOrder.UUID,
			Time:         now,
		},
	}
	sellFill = addressedFill{
		to: sellOrder.Submitter,
		fill: common.Fill{
			Role:         common.Sell,
			Ticker:       m.ticker,
			Quantity:     fillQty,
			Price:        price,
			Counterparty: buyOrder.UUID,
			Time:         now,
		},
	}
	return buyFill, sellFill, true
}
