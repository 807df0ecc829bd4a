// Package strategy holds reference strategies for the simulator.
package strategy

import (
	"exchange-latency-sim/src/engine"
	"exchange-latency-sim/src/sim"
)

// SimpleMarketMaker sends a single buy order the first time the best bid
// reaches TriggerBid, then stays silent.
type SimpleMarketMaker struct {
	TriggerBid int64
	OrderID    engine.OrderID
	Price      int64
	Quantity   int64

	sent bool
}

// OnMarketUpdate implements sim.Strategy.
func (m *SimpleMarketMaker) OnMarketUpdate(view sim.MarketView) *engine.Order {
	if m.sent {
		return nil
	}
	best, ok := view.Book.BestBid()
	if !ok || best.Price < m.TriggerBid {
		return nil
	}
	m.sent = true
	// the scheduler stamps the arrival time
	return engine.NewOrder(m.OrderID, engine.Buy, m.Price, m.Quantity, 0)
}

// Sent reports whether the signal has fired.
func (m *SimpleMarketMaker) Sent() bool {
	return m.sent
}

var _ sim.Strategy = (*SimpleMarketMaker)(nil)
