package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// tradeNamespace seeds the name-based trade ids so identical runs produce
// identical ids.
var tradeNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("exchange-latency-sim/trade"))

// MatchingEngine owns both sides of a single-instrument book and the trade log.
// It is NOT thread-safe: the scheduler is its only caller.
type MatchingEngine struct {
	bids *BookSide
	asks *BookSide

	// every order ever accepted, including filled and cancelled ones
	orders map[OrderID]*Order

	trades   []Trade
	tradeSeq uint64
	onTrade  func(Trade)
}

// Option configures a MatchingEngine.
type Option func(*MatchingEngine)

// WithTradeHandler registers fn to receive every trade as it executes.
func WithTradeHandler(fn func(Trade)) Option {
	return func(me *MatchingEngine) {
		me.onTrade = fn
	}
}

// NewMatchingEngine creates an engine with an empty book.
func NewMatchingEngine(opts ...Option) *MatchingEngine {
	me := &MatchingEngine{
		bids:   NewBookSide(Buy),
		asks:   NewBookSide(Sell),
		orders: make(map[OrderID]*Order),
	}
	for _, opt := range opts {
		opt(me)
	}
	return me
}

func (me *MatchingEngine) Bids() *BookSide { return me.bids }
func (me *MatchingEngine) Asks() *BookSide { return me.asks }

func (me *MatchingEngine) side(s Side) *BookSide {
	if s == Buy {
		return me.bids
	}
	return me.asks
}

// ProcessOrder is the single entry point for resting and aggressive orders.
// The order matches while its limit crosses the opposing best price; any
// residual rests on its own side.
func (me *MatchingEngine) ProcessOrder(order *Order) (ProcessResult, error) {
	if err := order.Validate(); err != nil {
		return ProcessResult{}, err
	}
	if _, seen := me.orders[order.ID]; seen {
		return ProcessResult{}, fmt.Errorf("%w: %d", ErrDuplicateOrder, order.ID)
	}
	order.Status = StatusOpen
	me.orders[order.ID] = order

	opposing := me.side(order.Side.Opposite())
	own := me.side(order.Side)

	var result ProcessResult
	for order.OpenQuantity() > 0 {
		best, ok := opposing.BestPrice()
		if !ok || !crosses(order, best) {
			break
		}
		maker, _ := opposing.head()
		qty := min(order.OpenQuantity(), maker.OpenQuantity())
		result.Trades = append(result.Trades, me.execute(maker, order, qty))

		if maker.OpenQuantity() == 0 {
			opposing.popHead(maker)
			result.FilledMakers = append(result.FilledMakers, maker)
		}
	}

	if order.OpenQuantity() > 0 {
		own.Add(order)
		result.Placement = Resting
	} else {
		result.Placement = Filled
	}

	if err := me.CheckInvariants(); err != nil {
		return result, err
	}
	return result, nil
}

func crosses(order *Order, best int64) bool {
	if order.Side == Buy {
		return order.Price >= best
	}
	return order.Price <= best
}

// execute fills both orders at the maker's price.
func (me *MatchingEngine) execute(maker, taker *Order, qty int64) Trade {
	maker.fill(qty)
	taker.fill(qty)

	me.tradeSeq++
	var name [8]byte
	binary.BigEndian.PutUint64(name[:], me.tradeSeq)

	trade := Trade{
		TradeID:      uuid.NewSHA1(tradeNamespace, name[:]).String(),
		Sequence:     me.tradeSeq,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		TakerSide:    taker.Side,
		Price:        maker.Price,
		Quantity:     qty,
		Timestamp:    taker.Timestamp,
	}
	me.trades = append(me.trades, trade)
	if me.onTrade != nil {
		me.onTrade(trade)
	}
	return trade
}

// CancelOrder cancels qty of a resting order; qty <= 0 or at least the open
// quantity cancels it entirely and removes it from the book.
func (me *MatchingEngine) CancelOrder(id OrderID, qty int64) (*Order, error) {
	order, ok := me.orders[id]
	if !ok || !me.side(order.Side).Contains(id) {
		return nil, fmt.Errorf("%w: %d is not resting", ErrOrderNotFound, id)
	}
	me.side(order.Side).reduce(order, qty)
	return order, nil
}

// CancelAtLevel removes qty from the level at price, oldest orders first,
// and reports how much was actually cancelled.
func (me *MatchingEngine) CancelAtLevel(side Side, price, qty int64) int64 {
	if !side.Valid() || qty <= 0 {
		return 0
	}
	return me.side(side).reduceLevel(price, qty)
}

// QueuePosition looks the order up on whichever side it rests.
func (me *MatchingEngine) QueuePosition(id OrderID) (int64, error) {
	if order, ok := me.orders[id]; ok {
		return me.side(order.Side).QueuePosition(id)
	}
	return 0, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
}

// BestBid returns the highest resting bid.
func (me *MatchingEngine) BestBid() (int64, bool) {
	return me.bids.BestPrice()
}

// BestAsk returns the lowest resting ask.
func (me *MatchingEngine) BestAsk() (int64, bool) {
	return me.asks.BestPrice()
}

// Trades returns a copy of the trade log in execution order.
func (me *MatchingEngine) Trades() []Trade {
	out := make([]Trade, len(me.trades))
	copy(out, me.trades)
	return out
}

// Order retrieves a copy of any order the engine has accepted.
func (me *MatchingEngine) Order(id OrderID) (Order, bool) {
	order, ok := me.orders[id]
	if !ok {
		return Order{}, false
	}
	// Return a copy so callers cannot reach into the book
	return *order.Clone(), true
}

// Snapshot aggregates up to depth levels per side; depth <= 0 means all.
func (me *MatchingEngine) Snapshot(depth int) BookSnapshot {
	me.bids.RemoveDrainedLevels()
	me.asks.RemoveDrainedLevels()
	return BookSnapshot{
		Bids: me.bids.Levels(depth),
		Asks: me.asks.Levels(depth),
	}
}

// CheckInvariants fails if the book is crossed.
func (me *MatchingEngine) CheckInvariants() error {
	bid, hasBid := me.bids.BestPrice()
	ask, hasAsk := me.asks.BestPrice()
	if hasBid && hasAsk && bid >= ask {
		return fmt.Errorf("%w: best bid %d >= best ask %d", ErrCrossedBook, bid, ask)
	}
	return nil
}
