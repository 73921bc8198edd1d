package floor

import (
	"fmt"
	"strings"

	"skoll/internal/common"
)

// Request is a raw order submission as received off the wire, before
// any validation.
type Request struct {
	Side     string
	Ticker   string
	Quantity string
}

// ParseRequest splits a raw order line into its three fields, in the
// fixed order "side ticker quantity". Exactly three tokens are
// required; everything else about the fields is Submit's business.
func ParseRequest(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Request{}, fmt.Errorf("%w: want 3 fields, got %d", common.ErrMalformedOrder, len(fields))
	}
	return Request{Side: fields[0], Ticker: fields[1], Quantity: fields[2]}, nil
}

// Ack echoes an accepted order back to its submitter.
type Ack struct {
	UUID     string
	Side     common.Side
	Ticker   string
	Quantity uint64
	Time     int64
}

func (a Ack) String() string {
	return fmt.Sprintf("ack %s %s %d t=%d id=%s", a.Side, a.Ticker, a.Quantity, a.Time, a.UUID)
}
