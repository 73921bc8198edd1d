// Package oracle supplies the reference price stamped onto orders at
// submission. The implementations here are stubs; a real market-data
// feed only has to satisfy Oracle to slot in without touching
// matching.
package oracle

import "math/rand"

type Oracle interface {
	// Price returns the current notional price for a ticker. Unknown
	// tickers are not an error; they get the same notional price.
	Price(ticker string) float64
}

// Fixed returns the same price for every ticker.
type Fixed struct {
	Value float64
}

func (f Fixed) Price(string) float64 {
	return f.Value
}

// Jittered returns the base price with a bounded pseudo-random swing,
// useful for exercising non-crossing books in demos.
type Jittered struct {
	Base  float64
	Swing float64
}

func (j Jittered) Price(string) float64 {
	return j.Base + (rand.Float64()*2-1)*j.Swing
}
