package engine

import (
	"container/list"
	"errors"
	"fmt"
)

// Side defines the side of an order (BUY or SELL).
type Side string
type OrderStatus string
type Placement string

// OrderID identifies an order for the whole lifetime of an engine.
type OrderID uint64

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Placement answers where an order ended up after ProcessOrder, which is a
// different question from its execution status: a PARTIAL order is RESTING.
const (
	Resting Placement = "RESTING"
	Filled  Placement = "FILLED"
)

var (
	ErrInvalidOrder   = errors.New("invalid order")
	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrOrderNotFound  = errors.New("order not found")
	ErrCrossedBook    = errors.New("crossed book")
)

// Order represents a single order in the matching engine.
type Order struct {
	ID             OrderID     `json:"id"`
	Side           Side        `json:"side"`
	Price          int64       `json:"price"`    // ticks
	Quantity       int64       `json:"quantity"` // original quantity, reduced by cancels
	FilledQuantity int64       `json:"filled_quantity"`
	Status         OrderStatus `json:"status"`
	Timestamp      int64       `json:"timestamp"` // arrival, simulation ticks

	// Internal field to store its place in the PriceLevel queue.
	element *list.Element
}

// NewOrder creates an OPEN limit order arriving at ts.
func NewOrder(id OrderID, side Side, price, quantity, ts int64) *Order {
	return &Order{
		ID:        id,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Status:    StatusOpen,
		Timestamp: ts,
	}
}

// Clone returns a detached copy that shares nothing with the book.
func (o *Order) Clone() *Order {
	c := *o
	c.element = nil
	return &c
}

// OpenQuantity calculates the unfilled quantity.
func (o *Order) OpenQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// Validate rejects orders the engine must never accept.
func (o *Order) Validate() error {
	switch {
	case !o.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	case o.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Quantity)
	case o.Price <= 0:
		return fmt.Errorf("%w: price must be positive, got %d", ErrInvalidOrder, o.Price)
	case o.FilledQuantity != 0:
		return fmt.Errorf("%w: order %d already has fills", ErrInvalidOrder, o.ID)
	case o.Status != StatusOpen && o.Status != "":
		return fmt.Errorf("%w: order %d has status %s", ErrInvalidOrder, o.ID, o.Status)
	}
	return nil
}

func (o *Order) fill(qty int64) {
	o.FilledQuantity += qty
	if o.OpenQuantity() == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
}

// Trade represents a single trade that has been executed.
type Trade struct {
	TradeID      string  `json:"trade_id"`
	Sequence     uint64  `json:"sequence"`
	MakerOrderID OrderID `json:"maker_order_id"` // the order that was in the book
	TakerOrderID OrderID `json:"taker_order_id"` // the incoming order
	TakerSide    Side    `json:"taker_side"`
	Price        int64   `json:"price"`
	Quantity     int64   `json:"quantity"`
	Timestamp    int64   `json:"timestamp"`
}

// ProcessResult is the result of processing an order
type ProcessResult struct {
	Placement    Placement
	Trades       []Trade
	FilledMakers []*Order
}

// AggregatedPriceLevel is one row of a depth snapshot.
type AggregatedPriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// BookSnapshot is a read-only copy of the book's aggregated depth.
type BookSnapshot struct {
	Bids []AggregatedPriceLevel `json:"bids"`
	Asks []AggregatedPriceLevel `json:"asks"`
}

// BestBid returns the top bid level of the snapshot, if any.
func (s BookSnapshot) BestBid() (AggregatedPriceLevel, bool) {
	if len(s.Bids) == 0 {
		return AggregatedPriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level of the snapshot, if any.
func (s BookSnapshot) BestAsk() (AggregatedPriceLevel, bool) {
	if len(s.Asks) == 0 {
		return AggregatedPriceLevel{}, false
	}
	return s.Asks[0], true
}
