package sim

import (
	"exchange-latency-sim/src/engine"
	"exchange-latency-sim/src/latency"
	"exchange-latency-sim/src/replay"
)

// ReplaySource yields market records in non-decreasing timestamp order.
// ok is false once the source is exhausted; exhaustion is not an error.
type ReplaySource interface {
	Next() (ev replay.MarketEvent, ok bool, err error)
}

// LatencyModel decides how long an order takes to reach the exchange, or
// whether it is lost on the way.
type LatencyModel interface {
	Sample() latency.Sample
}

// MarketView is the read-only state a strategy decides on.
type MarketView struct {
	Now       int64
	Event     replay.MarketEvent
	Book      engine.BookSnapshot
	LastTrade *replay.MarketEvent
}

// Strategy returns at most one order per market update. Its only channel to
// the engine is the returned order, which then goes through the latency model.
type Strategy interface {
	OnMarketUpdate(view MarketView) *engine.Order
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(view MarketView) *engine.Order

func (f StrategyFunc) OnMarketUpdate(view MarketView) *engine.Order {
	return f(view)
}

// RecordKind says what happened.
type RecordKind string

const (
	RecordMarket       RecordKind = "market"
	RecordOrderSent    RecordKind = "order_sent"
	RecordOrderDropped RecordKind = "order_dropped"
	RecordOrderArrived RecordKind = "order_arrived"
	RecordOrderReject  RecordKind = "order_rejected"
	RecordTrade        RecordKind = "trade"
)

// Record is the observable trace of a run. Only the fields relevant to Kind
// are set; Order is a copy and safe to retain.
type Record struct {
	Kind        RecordKind
	Time        int64
	Market      *replay.MarketEvent
	Order       *engine.Order
	Trade       *engine.Trade
	LatencyMs   float64
	ArrivalTime int64
	Placement   engine.Placement
	Err         error
}

// Observer receives every record of a run.
type Observer interface {
	Notify(rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec Record)

func (f ObserverFunc) Notify(rec Record) {
	f(rec)
}

type nopObserver struct{}

func (nopObserver) Notify(Record) {}
