package engine

import (
	"container/list"
	"fmt"

	"github.com/google/btree"
)

// --- B-Tree Comparators ---

// AsksSort sorts price levels from lowest price to highest price (min-heap)
func AsksSort(a, b *PriceLevel) bool {
	return a.Price < b.Price
}

// BidsSort sorts price levels from highest price to lowest price (max-heap)
func BidsSort(a, b *PriceLevel) bool {
	return a.Price > b.Price
}

// --- PriceLevel ---

// PriceLevel is a FIFO queue of Orders at a specific price.
type PriceLevel struct {
	Price  int64
	Orders *list.List // Queue of *Order
}

// NewPriceLevel creates a new PriceLevel queue
func NewPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		Orders: list.New(),
	}
}

// AddOrder adds an order to the back of the queue (FIFO).
func (pl *PriceLevel) AddOrder(order *Order) {
	order.element = pl.Orders.PushBack(order)
}

// RemoveOrder removes a specific order from the queue.
func (pl *PriceLevel) RemoveOrder(order *Order) {
	if order.element != nil {
		pl.Orders.Remove(order.element)
		order.element = nil
	}
}

// OpenQuantity sums the open quantity resting at this level.
func (pl *PriceLevel) OpenQuantity() int64 {
	var total int64
	for e := pl.Orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*Order).OpenQuantity()
	}
	return total
}

// --- BookSide (Not Thread-Safe) ---

// BookSide holds one side of the book. The price index is cleaned lazily:
// a level drained by matching may linger in the tree until
// RemoveDrainedLevels runs, so every read of the best price reconciles first.
type BookSide struct {
	side   Side
	levels *btree.BTreeG[*PriceLevel] // best price first
	prices map[int64]*PriceLevel
	orders map[OrderID]*list.Element
}

// NewBookSide creates an empty side. Bids are indexed highest first, asks lowest first.
func NewBookSide(side Side) *BookSide {
	less := AsksSort
	if side == Buy {
		less = BidsSort
	}
	return &BookSide{
		side:   side,
		levels: btree.NewG(2, less),
		prices: make(map[int64]*PriceLevel),
		orders: make(map[OrderID]*list.Element),
	}
}

// Side reports which side of the book this is.
func (bs *BookSide) Side() Side {
	return bs.side
}

// Add rests an order at the tail of its price level. It never matches.
func (bs *BookSide) Add(order *Order) {
	level, exists := bs.prices[order.Price]
	if !exists {
		level = NewPriceLevel(order.Price)
		bs.prices[order.Price] = level
		bs.levels.ReplaceOrInsert(level) // O(log N)
	}
	level.AddOrder(order)
	bs.orders[order.ID] = order.element
}

// BestPrice returns the best resting price, or false if the side is empty.
func (bs *BookSide) BestPrice() (int64, bool) {
	level, ok := bs.bestLevel()
	if !ok {
		return 0, false
	}
	return level.Price, true
}

func (bs *BookSide) bestLevel() (*PriceLevel, bool) {
	bs.RemoveDrainedLevels()
	return bs.levels.Min()
}

// RemoveDrainedLevels pops emptied levels off the head of the price index.
func (bs *BookSide) RemoveDrainedLevels() {
	for {
		level, ok := bs.levels.Min()
		if !ok || level.Orders.Len() > 0 {
			return
		}
		bs.levels.DeleteMin()
		delete(bs.prices, level.Price)
	}
}

// QueuePosition returns the open quantity resting ahead of the order in its
// level's queue. The walk is proportional to the order's position.
func (bs *BookSide) QueuePosition(id OrderID) (int64, error) {
	element, ok := bs.orders[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d on %s side", ErrOrderNotFound, id, bs.side)
	}
	var ahead int64
	for e := element.Prev(); e != nil; e = e.Prev() {
		ahead += e.Value.(*Order).OpenQuantity()
	}
	return ahead, nil
}

// Contains reports whether the order is resting on this side.
func (bs *BookSide) Contains(id OrderID) bool {
	_, ok := bs.orders[id]
	return ok
}

// Len is the number of resting orders.
func (bs *BookSide) Len() int {
	return len(bs.orders)
}

// Depth is the number of non-empty price levels.
func (bs *BookSide) Depth() int {
	bs.RemoveDrainedLevels()
	n := 0
	bs.levels.Ascend(func(l *PriceLevel) bool {
		if l.Orders.Len() > 0 {
			n++
		}
		return true
	})
	return n
}

// Levels aggregates the side best-first. depth <= 0 returns every level.
func (bs *BookSide) Levels(depth int) []AggregatedPriceLevel {
	var out []AggregatedPriceLevel
	bs.levels.Ascend(func(l *PriceLevel) bool {
		if depth > 0 && len(out) >= depth {
			return false
		}
		// Quantities at each price level are aggregated
		if total := l.OpenQuantity(); total > 0 {
			out = append(out, AggregatedPriceLevel{Price: l.Price, Quantity: total, Orders: l.Orders.Len()})
		}
		return true
	})
	return out
}

// head returns the oldest order at the best price.
func (bs *BookSide) head() (*Order, bool) {
	level, ok := bs.bestLevel()
	if !ok {
		return nil, false
	}
	return level.Orders.Front().Value.(*Order), true
}

// popHead removes a fully filled maker from the front of the best level.
func (bs *BookSide) popHead(order *Order) {
	bs.detach(order)
	bs.RemoveDrainedLevels()
}

func (bs *BookSide) detach(order *Order) *PriceLevel {
	delete(bs.orders, order.ID)
	level := bs.prices[order.Price]
	level.RemoveOrder(order)
	return level
}

// reduce cancels up to qty of the order's open quantity. qty <= 0 cancels
// everything. A partially cancelled order keeps its place in the queue.
func (bs *BookSide) reduce(order *Order, qty int64) int64 {
	open := order.OpenQuantity()
	if qty <= 0 || qty >= open {
		order.Quantity -= open
		order.Status = StatusCancelled
		level := bs.detach(order)
		if level.Orders.Len() == 0 {
			bs.levels.Delete(level)
			delete(bs.prices, level.Price)
		}
		return open
	}
	order.Quantity -= qty
	return qty
}

// reduceLevel cancels qty from the level at price, oldest order first.
func (bs *BookSide) reduceLevel(price, qty int64) int64 {
	level, ok := bs.prices[price]
	if !ok {
		return 0
	}
	var cancelled int64
	for e := level.Orders.Front(); e != nil && cancelled < qty; {
		next := e.Next()
		cancelled += bs.reduce(e.Value.(*Order), qty-cancelled)
		e = next
	}
	return cancelled
}
