// Package replay produces market-data records for the simulator, one at a time.
package replay

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"exchange-latency-sim/src/engine"
)

// EventKind is the type of a market-data record.
type EventKind string

const (
	Add    EventKind = "ADD"
	Cancel EventKind = "CANCEL"
	Trade  EventKind = "TRADE"
)

var (
	ErrInvalidRecord = errors.New("invalid market record")
	ErrInvalidPrice  = errors.New("invalid price")
)

// firstSyntheticID is where ids start for records that carry none.
const firstSyntheticID engine.OrderID = 10001

// IDs hands out synthetic order ids, starting at 10001, for records that
// carry none. The zero value is ready to use.
type IDs struct {
	next engine.OrderID
}

func (g *IDs) Next() engine.OrderID {
	if g.next == 0 {
		g.next = firstSyntheticID
	}
	id := g.next
	g.next++
	return id
}

// MarketEvent is one market-data record.
type MarketEvent struct {
	Timestamp int64          `json:"timestamp"`
	Kind      EventKind      `json:"kind"`
	Side      engine.Side    `json:"side"`
	Price     int64          `json:"price"`
	Quantity  int64          `json:"quantity"`
	OrderID   engine.OrderID `json:"order_id"`
}

// ParseKind accepts ADD, CANCEL or TRADE in any case.
func ParseKind(s string) (EventKind, error) {
	switch k := EventKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case Add, Cancel, Trade:
		return k, nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrInvalidRecord, s)
	}
}

// ParseSide accepts buy/sell (and bid/ask) in any case.
func ParseSide(s string) (engine.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BID":
		return engine.Buy, nil
	case "SELL", "ASK":
		return engine.Sell, nil
	default:
		return "", fmt.Errorf("%w: side %q", ErrInvalidRecord, s)
	}
}

var (
	maxTicks = decimal.NewFromInt(math.MaxInt64)
	minTicks = decimal.NewFromInt(math.MinInt64)
)

// ParsePrice converts a decimal price string into integer ticks, where one
// unit of price is scale ticks. Prices that fall between ticks are rejected.
func ParsePrice(s string, scale int64) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidPrice, s, err)
	}
	ticks := d.Mul(decimal.NewFromInt(scale))
	if !ticks.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not a multiple of 1/%d", ErrInvalidPrice, s, scale)
	}
	if ticks.GreaterThan(maxTicks) || ticks.LessThan(minTicks) {
		return 0, fmt.Errorf("%w: %s overflows int64 ticks at scale %d", ErrInvalidPrice, s, scale)
	}
	return ticks.IntPart(), nil
}

// FormatPrice renders ticks back as a decimal string.
func FormatPrice(ticks, scale int64) string {
	return decimal.New(ticks, 0).Div(decimal.NewFromInt(scale)).StringFixed(int32(decimalPlaces(scale)))
}

func decimalPlaces(scale int64) int {
	n := 0
	for scale >= 10 {
		scale /= 10
		n++
	}
	return n
}

// SliceSource replays an in-memory list of records. Like every source it is
// forward-only.
type SliceSource struct {
	events []MarketEvent
	pos    int
}

func NewSliceSource(events []MarketEvent) *SliceSource {
	return &SliceSource{events: events}
}

// Next returns the next record, or false once the slice is exhausted.
func (s *SliceSource) Next() (MarketEvent, bool, error) {
	if s.pos >= len(s.events) {
		return MarketEvent{}, false, nil
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, true, nil
}

// MockEvents is a small ADD-only stream around 100.00 with a price scale of 100.
// The last two bids cross the first ask.
func MockEvents() []MarketEvent {
	return []MarketEvent{
		{Timestamp: 1000, Kind: Add, OrderID: 1, Price: 9995, Quantity: 100, Side: engine.Buy},
		{Timestamp: 1010, Kind: Add, OrderID: 2, Price: 10001, Quantity: 50, Side: engine.Sell},
		{Timestamp: 1020, Kind: Add, OrderID: 3, Price: 10000, Quantity: 20, Side: engine.Buy},
		{Timestamp: 1030, Kind: Add, OrderID: 4, Price: 10002, Quantity: 75, Side: engine.Sell},
		{Timestamp: 1040, Kind: Add, OrderID: 5, Price: 10005, Quantity: 30, Side: engine.Buy},
		{Timestamp: 1050, Kind: Add, OrderID: 6, Price: 10003, Quantity: 30, Side: engine.Buy},
	}
}
