package common

import "fmt"

// SessionID is the opaque identity of the submitting session. It is
// minted by the network layer when a connection is accepted and is
// only ever compared, never interpreted. Matching uses it for
// self-trade prevention.
type SessionID string

// Order is the unit of work on the floor. Everything except Quantity
// is fixed at construction; Quantity is the remaining volume and only
// ever decreases through Reduce.
type Order struct {
	UUID      string    // Order tracked uuid
	Ticker    string    // Specific asset identifier
	Side      Side      // Order side
	Price     float64   // Execution price stamped at submission
	Quantity  uint64    // Remaining quantity
	Time      int64     // Submission time, unix milliseconds; sole priority key
	Submitter SessionID // Who owns this order
}

// Reduce takes amount off the remaining quantity. The amount must be
// positive and no larger than what remains; the quantity can never go
// negative.
func (o *Order) Reduce(amount uint64) error {
	if amount == 0 || amount > o.Quantity {
		return fmt.Errorf("%w: reduce %d of %d", ErrOverfill, amount, o.Quantity)
	}
	o.Quantity -= amount
	return nil
}

// Filled reports whether the order has no remaining quantity. A filled
// order is removed from its book and never mutated again.
func (o *Order) Filled() bool {
	return o.Quantity == 0
}

// Equal compares the economic identity of two orders. The submitter is
// deliberately excluded: the same economic order could in principle be
// resubmitted by someone else.
func (o Order) Equal(other Order) bool {
	return o.Ticker == other.Ticker &&
		o.Price == other.Price &&
		o.Quantity == other.Quantity &&
		o.Time == other.Time
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %d @ %.2f t=%d", o.UUID, o.Side, o.Ticker, o.Quantity, o.Price, o.Time)
}
