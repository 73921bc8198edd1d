package common

import "fmt"

// Fill is the per-party view of a match: each counterparty receives
// one Fill stating its role and the quantity transferred.
type Fill struct {
	Role         Side    // Side of the receiving party
	Ticker       string  //
	Quantity     uint64  // Quantity transferred, partial or full
	Price        float64 // Trade price (the resting order's price)
	Counterparty string  // UUID of the matched order on the other side
	Time         int64   // Match time, unix milliseconds
}

// String renders the single-line wire report handed to the owning
// connection.
func (f Fill) String() string {
	return fmt.Sprintf("fill %s %s %d @ %.2f", f.Role, f.Ticker, f.Quantity, f.Price)
}
