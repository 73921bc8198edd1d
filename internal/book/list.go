// Package book holds the per-ticker, per-side resting order
// containers: a timestamp-ordered list with O(1) removal by handle,
// and an aggregated price-level depth view derived from it.
package book

import (
	"sync"

	"skoll/internal/common"
)

// Handle is a stable reference to a resting order inside one List.
// It stays valid until the order is removed; after that, removal
// through it is a benign no-op. The zero Handle refers to nothing.
type Handle struct {
	idx int
	gen uint64
}

// NoHandle refers to nothing; removing it is a no-op.
var NoHandle = Handle{idx: -1}

const endOfList = -1

type node struct {
	order common.Order
	gen   uint64
	prev  int
	next  int
	used  bool
}

// List is a priority order list for one (ticker, side): a doubly
// linked list of orders keyed by submission time ascending, earliest
// first. Nodes live in a slab and are addressed by index, so a Handle
// survives any amount of unrelated churn and a freed slot cannot be
// confused with its previous occupant (the generation bumps on free).
//
// Every operation takes the list's own mutex and holds it only for
// that single structural operation, never across I/O.
type List struct {
	mu    sync.Mutex
	nodes []node
	free  []int
	head  int
	tail  int
	count int
}

func NewList() *List {
	return &List{head: endOfList, tail: endOfList}
}

// Insert splices the order in keyed by its submission time. The scan
// runs backwards from the tail, so orders with equal timestamps keep
// FIFO: the new node lands after every existing node with the same
// key. Returns a handle for later O(1) removal.
func (l *List) Insert(order common.Order) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.alloc(order)
	n := &l.nodes[idx]

	if l.head == endOfList {
		// Empty list, new node is both endpoints.
		l.head, l.tail = idx, idx
		l.count++
		return Handle{idx: idx, gen: n.gen}
	}

	// Walk back from the tail to the last node whose key does not
	// exceed the new one.
	at := l.tail
	for at != endOfList && l.nodes[at].order.Time > order.Time {
		at = l.nodes[at].prev
	}

	switch {
	case at == endOfList:
		// New earliest order, becomes the head.
		n.next = l.head
		l.nodes[l.head].prev = idx
		l.head = idx
	case at == l.tail:
		n.prev = l.tail
		l.nodes[l.tail].next = idx
		l.tail = idx
	default:
		next := l.nodes[at].next
		n.prev = at
		n.next = next
		l.nodes[at].next = idx
		l.nodes[next].prev = idx
	}
	l.count++
	return Handle{idx: idx, gen: n.gen}
}

// Remove detaches the order the handle refers to, re-linking its
// neighbours. A stale, zero or foreign handle is a no-op returning
// false; matching and cancel paths rely on removal being idempotent.
func (l *List) Remove(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unlink(h)
}

// Get copies out the order behind a handle. Returns false if the
// handle no longer refers to a resting order.
func (l *List) Get(h Handle) (common.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.valid(h) {
		return common.Order{}, false
	}
	return l.nodes[h.idx].order, true
}

// Reduce takes quantity off the order behind the handle and, if that
// empties it, unlinks it. Reports whether the order was removed.
func (l *List) Reduce(h Handle, quantity uint64) (removed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.valid(h) {
		return false, common.ErrUnknownOrder
	}
	if err := l.nodes[h.idx].order.Reduce(quantity); err != nil {
		return false, err
	}
	if l.nodes[h.idx].order.Filled() {
		l.unlink(h)
		return true, nil
	}
	return false, nil
}

// Ascend walks the list head to tail under the lock, calling fn for
// each resting order. fn returns false to stop early. The callback
// must not call back into the list.
func (l *List) Ascend(fn func(order common.Order, h Handle) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for at := l.head; at != endOfList; at = l.nodes[at].next {
		n := &l.nodes[at]
		if !fn(n.order, Handle{idx: at, gen: n.gen}) {
			return
		}
	}
}

// Snapshot copies out the current contents in priority order together
// with their handles. Matching works off snapshots so no list lock is
// held while the crossing walk runs.
func (l *List) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.count)
	for at := l.head; at != endOfList; at = l.nodes[at].next {
		n := &l.nodes[at]
		out = append(out, Entry{Order: n.order, Handle: Handle{idx: at, gen: n.gen}})
	}
	return out
}

// Entry pairs a copied-out order with the handle needed to mutate it.
type Entry struct {
	Order  common.Order
	Handle Handle
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *List) Empty() bool {
	return l.Len() == 0
}

// alloc reserves a slab slot for the order. Caller holds the lock.
func (l *List) alloc(order common.Order) int {
	var idx int
	if n := len(l.free); n > 0 {
		idx = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		l.nodes = append(l.nodes, node{})
		idx = len(l.nodes) - 1
	}
	slot := &l.nodes[idx]
	slot.order = order
	slot.gen++
	slot.prev = endOfList
	slot.next = endOfList
	slot.used = true
	return idx
}

// valid reports whether the handle still refers to a live node.
// Caller holds the lock.
func (l *List) valid(h Handle) bool {
	if h.idx < 0 || h.idx >= len(l.nodes) {
		return false
	}
	slot := &l.nodes[h.idx]
	return slot.used && slot.gen == h.gen
}

// unlink detaches a live node and returns its slot to the free list.
// Caller holds the lock.
func (l *List) unlink(h Handle) bool {
	if !l.valid(h) {
		return false
	}
	n := &l.nodes[h.idx]
	if n.prev != endOfList {
		l.nodes[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != endOfList {
		l.nodes[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.used = false
	n.prev = endOfList
	n.next = endOfList
	n.order = common.Order{}
	l.free = append(l.free, h.idx)
	l.count--
	return true
}
