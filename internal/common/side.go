package common

import "fmt"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts exactly "buy" or "sell". Anything else is a
// malformed order, not a fallback to a default side.
func ParseSide(raw string) (Side, error) {
	switch raw {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: unknown side %q", ErrMalformedOrder, raw)
}
