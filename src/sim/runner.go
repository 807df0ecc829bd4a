// Package sim drives the matching engine from a replay stream on a single
// virtual clock and routes strategy orders through the latency model.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"exchange-latency-sim/src/engine"
	"exchange-latency-sim/src/replay"
)

var (
	ErrReplayOutOfOrder = errors.New("replay record older than previous record")
	ErrAlreadyRun       = errors.New("runner already started")
)

// DefaultTicksPerMillisecond treats timestamps as microseconds.
const DefaultTicksPerMillisecond = 1000

const defaultViewDepth = 5

// Stats counts what happened during a run.
type Stats struct {
	MarketEvents   uint64 `json:"market_events"`
	OrdersSent     uint64 `json:"orders_sent"` // handed to the network, drops included
	OrdersDropped  uint64 `json:"orders_dropped"`
	OrdersArrived  uint64 `json:"orders_arrived"`
	OrdersRejected uint64 `json:"orders_rejected"`
	Trades         uint64 `json:"trades"`
}

// Runner is the discrete-event scheduler. It is single-threaded: the engine
// is mutated only from Run, one event at a time.
type Runner struct {
	source   ReplaySource
	engine   *engine.MatchingEngine
	latency  LatencyModel
	strategy Strategy
	observer Observer
	logger   *slog.Logger

	ticksPerMs float64
	viewDepth  int

	queue      *eventQueue
	now        int64
	lastReplay int64
	primed     bool
	started    bool
	lastTrade  *replay.MarketEvent
	stats      Stats
}

// Option configures a Runner.
type Option func(*Runner)

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTicksPerMillisecond sets how many timestamp ticks one millisecond of
// latency spans.
func WithTicksPerMillisecond(ticks float64) Option {
	return func(r *Runner) { r.ticksPerMs = ticks }
}

// WithViewDepth sets how many levels per side the strategy sees.
func WithViewDepth(depth int) Option {
	return func(r *Runner) { r.viewDepth = depth }
}

// NewRunner wires a run. strategy may be nil for a pure replay.
func NewRunner(source ReplaySource, eng *engine.MatchingEngine, lat LatencyModel, strategy Strategy, opts ...Option) *Runner {
	r := &Runner{
		source:     source,
		engine:     eng,
		latency:    lat,
		strategy:   strategy,
		observer:   nopObserver{},
		logger:     slog.Default(),
		ticksPerMs: DefaultTicksPerMillisecond,
		viewDepth:  defaultViewDepth,
		queue:      newEventQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes events until the queue is empty. Replay exhaustion stops new
// MARKET events but outstanding arrivals still drain. A crossed book or a
// broken replay aborts the run.
func (r *Runner) Run(ctx context.Context) error {
	if r.started {
		return ErrAlreadyRun
	}
	r.started = true

	if err := r.scheduleNextMarket(); err != nil {
		return err
	}
	for r.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, _ := r.queue.pop()
		r.now = ev.Time

		switch ev.Kind {
		case MarketKind:
			if err := r.handleMarket(ev.Market); err != nil {
				return err
			}
			if err := r.scheduleNextMarket(); err != nil {
				return err
			}
		case OrderArrivalKind:
			if err := r.handleArrival(ev.Order); err != nil {
				return err
			}
		}
	}

	r.logger.Info("simulation finished",
		"clock", r.now,
		"market_events", r.stats.MarketEvents,
		"orders_sent", r.stats.OrdersSent,
		"orders_dropped", r.stats.OrdersDropped,
		"trades", r.stats.Trades,
	)
	return nil
}

func (r *Runner) scheduleNextMarket() error {
	ev, ok, err := r.source.Next()
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if !ok {
		return nil
	}
	if r.primed && ev.Timestamp < r.lastReplay {
		return fmt.Errorf("%w: %d after %d", ErrReplayOutOfOrder, ev.Timestamp, r.lastReplay)
	}
	r.primed = true
	r.lastReplay = ev.Timestamp
	r.queue.push(&SimEvent{Time: ev.Timestamp, Kind: MarketKind, Market: ev})
	return nil
}

func (r *Runner) handleMarket(ev replay.MarketEvent) error {
	r.stats.MarketEvents++

	var (
		trades []engine.Trade
		err    error
	)
	switch ev.Kind {
	case replay.Add:
		// market liquidity goes through the same path as live orders
		var res engine.ProcessResult
		res, err = r.engine.ProcessOrder(engine.NewOrder(ev.OrderID, ev.Side, ev.Price, ev.Quantity, ev.Timestamp))
		if errors.Is(err, engine.ErrCrossedBook) {
			return err
		}
		trades = res.Trades
	case replay.Cancel:
		if _, cerr := r.engine.CancelOrder(ev.OrderID, ev.Quantity); cerr != nil {
			r.engine.CancelAtLevel(ev.Side, ev.Price, ev.Quantity)
		}
	case replay.Trade:
		last := ev
		r.lastTrade = &last
	}
	if err != nil {
		r.logger.Warn("market record rejected", "time", r.now, "order_id", ev.OrderID, "error", err)
	}

	r.emit(Record{Kind: RecordMarket, Time: r.now, Market: &ev, Err: err})
	r.emitTrades(trades)

	if r.strategy == nil {
		return nil
	}
	view := MarketView{
		Now:       r.now,
		Event:     ev,
		Book:      r.engine.Snapshot(r.viewDepth),
		LastTrade: r.lastTrade,
	}
	if order := r.strategy.OnMarketUpdate(view); order != nil {
		r.send(order)
	}
	return nil
}

// send pushes a strategy order through the network. Dropped orders never
// reach the queue.
func (r *Runner) send(order *engine.Order) {
	r.stats.OrdersSent++
	sent := copyOrder(order)

	sample := r.latency.Sample()
	if sample.Dropped {
		r.stats.OrdersDropped++
		r.logger.Debug("order dropped", "time", r.now, "order_id", sent.ID)
		r.emit(Record{Kind: RecordOrderDropped, Time: r.now, Order: copyOrder(sent)})
		return
	}

	arrival := r.now + r.delayTicks(sample.LatencyMs)
	r.queue.push(&SimEvent{Time: arrival, Kind: OrderArrivalKind, Order: sent})

	r.logger.Debug("order sent", "time", r.now, "order_id", sent.ID, "latency_ms", sample.LatencyMs, "arrival", arrival)
	r.emit(Record{
		Kind:        RecordOrderSent,
		Time:        r.now,
		Order:       copyOrder(sent),
		LatencyMs:   sample.LatencyMs,
		ArrivalTime: arrival,
	})
}

// delayTicks converts a latency to clock ticks. It saturates at the end of
// the clock rather than wrapping, so a slow network never looks instant.
func (r *Runner) delayTicks(ms float64) int64 {
	d := ms * r.ticksPerMs
	if !(d > 0) {
		return 0
	}
	limit := math.MaxInt64 - r.now
	if d >= float64(limit) {
		return limit
	}
	return min(int64(d), limit)
}

func (r *Runner) handleArrival(order *engine.Order) error {
	r.stats.OrdersArrived++
	order.Timestamp = r.now

	res, err := r.engine.ProcessOrder(order)
	if errors.Is(err, engine.ErrCrossedBook) {
		return err
	}
	if err != nil {
		r.stats.OrdersRejected++
		r.logger.Warn("order rejected", "time", r.now, "order_id", order.ID, "error", err)
		r.emit(Record{Kind: RecordOrderReject, Time: r.now, Order: copyOrder(order), Err: err})
		return nil
	}

	r.emit(Record{Kind: RecordOrderArrived, Time: r.now, Order: copyOrder(order), Placement: res.Placement})
	r.emitTrades(res.Trades)
	return nil
}

func (r *Runner) emitTrades(trades []engine.Trade) {
	for i := range trades {
		r.stats.Trades++
		tr := trades[i]
		r.emit(Record{Kind: RecordTrade, Time: r.now, Trade: &tr})
	}
}

func (r *Runner) emit(rec Record) {
	r.observer.Notify(rec)
}

func copyOrder(o *engine.Order) *engine.Order {
	return o.Clone()
}

// Now is the virtual clock.
func (r *Runner) Now() int64 {
	return r.now
}

// Stats returns the run counters.
func (r *Runner) Stats() Stats {
	return r.stats
}

// Dropped is the number of strategy orders lost in the network.
func (r *Runner) Dropped() uint64 {
	return r.stats.OrdersDropped
}

// Pending is the number of events still queued.
func (r *Runner) Pending() int {
	return r.queue.Len()
}
