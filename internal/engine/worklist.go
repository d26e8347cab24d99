package engine

import (
	"github.com/google/btree"

	"papertrade/internal/domain"
)

// worklistEntry keys one open order by its submission sequence.
type worklistEntry struct {
	Seq   uint64
	Order *domain.Order
}

// seqLess orders entries by submission sequence ascending, so Ascend
// visits the oldest order first.
func seqLess(a, b worklistEntry) bool {
	return a.Seq < b.Seq
}

// worklist holds one symbol's open orders in submission order, with a
// secondary index for O(log n) removal by order ID. Not safe for
// concurrent use; the owning shard's lock serializes access.
type worklist struct {
	orders *btree.BTreeG[worklistEntry]
	index  map[string]worklistEntry // order_id → entry
}

func newWorklist() *worklist {
	const degree = 32
	return &worklist{
		orders: btree.NewG[worklistEntry](degree, seqLess),
		index:  make(map[string]worklistEntry),
	}
}

func (w *worklist) insert(order *domain.Order) {
	entry := worklistEntry{Seq: order.Seq, Order: order}
	w.orders.ReplaceOrInsert(entry)
	w.index[order.ID] = entry
}

// remove deletes an order by ID. Removing an ID that is not on the
// worklist is a no-op.
func (w *worklist) remove(orderID string) {
	entry, ok := w.index[orderID]
	if !ok {
		return
	}
	delete(w.index, orderID)
	w.orders.Delete(entry)
}

// ascend visits open orders oldest submission first. The callback
// returns false to stop. Callers must not insert or remove entries
// from inside the callback.
func (w *worklist) ascend(fn func(*domain.Order) bool) {
	w.orders.Ascend(func(entry worklistEntry) bool {
		return fn(entry.Order)
	})
}

func (w *worklist) len() int {
	return w.orders.Len()
}
