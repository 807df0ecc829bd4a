package sim

import (
	"github.com/google/btree"

	"exchange-latency-sim/src/engine"
	"exchange-latency-sim/src/replay"
)

// EventKind discriminates what a SimEvent carries.
type EventKind string

const (
	MarketKind       EventKind = "MARKET"
	OrderArrivalKind EventKind = "ORDER_ARRIVAL"
)

// SimEvent is one entry on the scheduler's timeline. Seq is assigned on
// enqueue and breaks ties between equal timestamps.
type SimEvent struct {
	Time   int64
	Seq    uint64
	Kind   EventKind
	Market replay.MarketEvent
	Order  *engine.Order
}

func eventLess(a, b *SimEvent) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.Seq < b.Seq
}

// eventQueue orders pending events by (Time, Seq), a total order that does
// not depend on the tree's internal layout.
type eventQueue struct {
	tree *btree.BTreeG[*SimEvent]
	seq  uint64
}

func newEventQueue() *eventQueue {
	return &eventQueue{tree: btree.NewG(8, eventLess)}
}

func (q *eventQueue) push(ev *SimEvent) {
	q.seq++
	ev.Seq = q.seq
	q.tree.ReplaceOrInsert(ev)
}

func (q *eventQueue) pop() (*SimEvent, bool) {
	return q.tree.DeleteMin()
}

func (q *eventQueue) Len() int {
	return q.tree.Len()
}
