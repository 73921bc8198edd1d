package book

import (
	"github.com/tidwall/btree"

	"skoll/internal/common"
)

// Level is the aggregate resting quantity at one price.
type Level struct {
	Price    float64
	Quantity uint64
}

// Depth aggregates a list's resting orders into price levels. Bids
// come out highest price first, asks lowest first, matching how a
// quote screen orders them.
func Depth(l *List, side common.Side) []Level {
	var less func(a, b *Level) bool
	if side == common.Buy {
		// Sorted greatest first.
		less = func(a, b *Level) bool { return a.Price > b.Price }
	} else {
		// Sorted least first.
		less = func(a, b *Level) bool { return a.Price < b.Price }
	}
	levels := btree.NewBTreeG(less)

	l.Ascend(func(order common.Order, _ Handle) bool {
		if level, ok := levels.GetMut(&Level{Price: order.Price}); ok {
			level.Quantity += order.Quantity
		} else {
			levels.Set(&Level{Price: order.Price, Quantity: order.Quantity})
		}
		return true
	})

	out := make([]Level, 0, levels.Len())
	levels.Scan(func(level *Level) bool {
		out = append(out, *level)
		return true
	})
	return out
}
