package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-latency-sim/src/engine"
	"exchange-latency-sim/src/latency"
	"exchange-latency-sim/src/replay"
)

type fixedLatency struct {
	ms   float64
	drop bool
}

func (f fixedLatency) Sample() latency.Sample {
	return latency.Sample{LatencyMs: f.ms, Dropped: f.drop}
}

type recorder struct {
	records []Record
}

func (r *recorder) Notify(rec Record) {
	r.records = append(r.records, rec)
}

func (r *recorder) ofKind(kind RecordKind) []Record {
	var out []Record
	for _, rec := range r.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// oncePerEvent sends a small crossing order on every market update.
func oncePerEvent() StrategyFunc {
	next := engine.OrderID(900000)
	return func(view MarketView) *engine.Order {
		next++
		side := engine.Buy
		price := int64(10010)
		if next%2 == 0 {
			side = engine.Sell
			price = 9990
		}
		return engine.NewOrder(next, side, price, 5, 0)
	}
}

func mustSimulator(t *testing.T, cfg latency.NetworkConfig, seed uint64) *latency.Simulator {
	t.Helper()
	s, err := latency.NewSimulator(cfg, seed)
	require.NoError(t, err)
	return s
}

func TestEventQueueBreaksTiesByInsertion(t *testing.T) {
	q := newEventQueue()
	for i := 0; i < 50; i++ {
		q.push(&SimEvent{Time: int64(10 - i%3), Kind: MarketKind, Market: replay.MarketEvent{OrderID: engine.OrderID(i)}})
	}
	var prev *SimEvent
	for q.Len() > 0 {
		ev, ok := q.pop()
		require.True(t, ok)
		if prev != nil {
			require.True(t, prev.Time < ev.Time || (prev.Time == ev.Time && prev.Seq < ev.Seq),
				"event %d@%d popped after %d@%d", ev.Seq, ev.Time, prev.Seq, prev.Time)
		}
		prev = ev
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestReferenceRunWithMarketMaker(t *testing.T) {
	eng := engine.NewMatchingEngine()
	rec := &recorder{}
	sent := false
	strat := StrategyFunc(func(view MarketView) *engine.Order {
		best, ok := view.Book.BestBid()
		if sent || !ok || best.Price < 10000 {
			return nil
		}
		sent = true
		return engine.NewOrder(999, engine.Buy, 10005, 10, 0)
	})
	colo, _ := latency.Profile("colo")
	r := NewRunner(replay.NewSliceSource(replay.MockEvents()), eng, mustSimulator(t, colo, 42), strat, WithObserver(rec))

	require.NoError(t, r.Run(context.Background()))

	assert.Len(t, rec.ofKind(RecordMarket), 6)
	sentRecs := rec.ofKind(RecordOrderSent)
	require.Len(t, sentRecs, 1)
	assert.Equal(t, int64(1020), sentRecs[0].Time, "signal fires on the 100.00 bid")
	assert.GreaterOrEqual(t, sentRecs[0].LatencyMs, 0.5)
	assert.GreaterOrEqual(t, sentRecs[0].ArrivalTime, int64(1520))
	assert.Equal(t, sentRecs[0].ArrivalTime, r.Now(), "the arrival is the last event")

	trades := eng.Trades()
	require.Len(t, trades, 4)
	last := trades[3]
	assert.Equal(t, engine.OrderID(999), last.TakerOrderID)
	assert.Equal(t, engine.OrderID(4), last.MakerOrderID)
	assert.Equal(t, int64(10002), last.Price)
	assert.Equal(t, int64(10), last.Quantity)

	stats := r.Stats()
	assert.Equal(t, Stats{MarketEvents: 6, OrdersSent: 1, OrdersArrived: 1, Trades: 4}, stats)
	assert.Len(t, rec.ofKind(RecordTrade), 4)
	assert.Zero(t, r.Pending())
	assert.NoError(t, eng.CheckInvariants())
}

func runTrace(t *testing.T, seed uint64) ([]Record, []engine.Trade) {
	t.Helper()
	eng := engine.NewMatchingEngine()
	rec := &recorder{}
	cfg := latency.NetworkConfig{Name: "lossy", BaseLatencyMs: 0.02, JitterScaleMs: 0.01, DropProbability: 0.2}
	r := NewRunner(replay.NewSliceSource(replay.MockEvents()), eng, mustSimulator(t, cfg, seed), oncePerEvent(), WithObserver(rec))
	require.NoError(t, r.Run(context.Background()))
	return rec.records, eng.Trades()
}

func arrivals(records []Record) []int64 {
	var out []int64
	for _, rec := range records {
		if rec.Kind == RecordOrderSent {
			out = append(out, rec.ArrivalTime)
		}
	}
	return out
}

func latencies(records []Record) []float64 {
	var out []float64
	for _, rec := range records {
		if rec.Kind == RecordOrderSent {
			out = append(out, rec.LatencyMs)
		}
	}
	return out
}

func TestRunsAreDeterministic(t *testing.T) {
	recA, tradesA := runTrace(t, 42)
	recB, tradesB := runTrace(t, 42)

	assert.Equal(t, recA, recB)
	assert.Equal(t, tradesA, tradesB)
	assert.Equal(t, latencies(recA), latencies(recB))
	assert.Equal(t, arrivals(recA), arrivals(recB))
	assert.NotEmpty(t, arrivals(recA))
}

func TestDifferentSeedsChangeLatency(t *testing.T) {
	recA, _ := runTrace(t, 42)
	recC, _ := runTrace(t, 999)
	assert.NotEqual(t, latencies(recA), latencies(recC))
}

func TestDroppedOrdersNeverReachTheBook(t *testing.T) {
	eng := engine.NewMatchingEngine()
	rec := &recorder{}
	cfg := latency.NetworkConfig{Name: "black-hole", BaseLatencyMs: 1, JitterScaleMs: 1, DropProbability: 1}
	lat := mustSimulator(t, cfg, 7)
	r := NewRunner(replay.NewSliceSource(replay.MockEvents()), eng, lat, oncePerEvent(), WithObserver(rec))

	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, rec.ofKind(RecordOrderSent))
	assert.Empty(t, rec.ofKind(RecordOrderArrived))
	assert.Len(t, rec.ofKind(RecordOrderDropped), 6)
	assert.Equal(t, uint64(6), r.Dropped())
	assert.Equal(t, uint64(6), lat.Drops())
	for id := engine.OrderID(900001); id <= 900006; id++ {
		_, ok := eng.Order(id)
		assert.False(t, ok, "dropped order %d reached the engine", id)
	}
	for _, tr := range eng.Trades() {
		assert.Less(t, tr.TakerOrderID, engine.OrderID(900000))
	}
}

func TestArrivalBeforeSameTimeMarketEvent(t *testing.T) {
	// zero latency: the arrival is enqueued before the next record at the same time
	events := []replay.MarketEvent{
		{Timestamp: 100, Kind: replay.Add, Side: engine.Sell, Price: 500, Quantity: 10, OrderID: 1},
		{Timestamp: 100, Kind: replay.Add, Side: engine.Sell, Price: 500, Quantity: 10, OrderID: 2},
	}
	eng := engine.NewMatchingEngine()
	fired := false
	strat := StrategyFunc(func(view MarketView) *engine.Order {
		if fired {
			return nil
		}
		fired = true
		return engine.NewOrder(50, engine.Buy, 500, 10, 0)
	})
	r := NewRunner(replay.NewSliceSource(events), eng, fixedLatency{}, strat)
	require.NoError(t, r.Run(context.Background()))

	trades := eng.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, engine.OrderID(1), trades[0].MakerOrderID)
	assert.Equal(t, int64(100), trades[0].Timestamp)
	pos, err := eng.QueuePosition(2)
	assert.NoError(t, err)
	assert.Zero(t, pos)
}

func TestArrivalsDrainAfterReplayExhausted(t *testing.T) {
	events := []replay.MarketEvent{
		{Timestamp: 1000, Kind: replay.Add, Side: engine.Sell, Price: 500, Quantity: 10, OrderID: 1},
	}
	eng := engine.NewMatchingEngine()
	strat := StrategyFunc(func(view MarketView) *engine.Order {
		return engine.NewOrder(2, engine.Buy, 500, 4, 0)
	})
	r := NewRunner(replay.NewSliceSource(events), eng, fixedLatency{ms: 3.5}, strat, WithTicksPerMillisecond(1000))
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, int64(4500), r.Now())
	o, ok := eng.Order(2)
	require.True(t, ok)
	assert.Equal(t, int64(4500), o.Timestamp, "arrival time is stamped on the order")
	assert.Equal(t, engine.StatusFilled, o.Status)
}

func TestReplayCancelTargetsOrderID(t *testing.T) {
	events := []replay.MarketEvent{
		{Timestamp: 1, Kind: replay.Add, Side: engine.Buy, Price: 100, Quantity: 30, OrderID: 1},
		{Timestamp: 2, Kind: replay.Add, Side: engine.Buy, Price: 100, Quantity: 30, OrderID: 2},
		{Timestamp: 3, Kind: replay.Cancel, Side: engine.Buy, Price: 100, Quantity: 30, OrderID: 2},
		// unknown id: cancel from the front of the level
		{Timestamp: 4, Kind: replay.Cancel, Side: engine.Buy, Price: 100, Quantity: 10, OrderID: 777},
		{Timestamp: 5, Kind: replay.Trade, Side: engine.Buy, Price: 100, Quantity: 5, OrderID: 778},
	}
	eng := engine.NewMatchingEngine()
	var lastTrade *replay.MarketEvent
	strat := StrategyFunc(func(view MarketView) *engine.Order {
		lastTrade = view.LastTrade
		return nil
	})
	r := NewRunner(replay.NewSliceSource(events), eng, fixedLatency{}, strat)
	require.NoError(t, r.Run(context.Background()))

	o1, _ := eng.Order(1)
	o2, _ := eng.Order(2)
	assert.Equal(t, int64(20), o1.OpenQuantity())
	assert.Equal(t, engine.StatusCancelled, o2.Status)
	require.NotNil(t, lastTrade)
	assert.Equal(t, engine.OrderID(778), lastTrade.OrderID)
	assert.Equal(t, uint64(5), r.Stats().MarketEvents)
}

func TestRejectedStrategyOrderDoesNotStopRun(t *testing.T) {
	events := []replay.MarketEvent{
		{Timestamp: 1, Kind: replay.Add, Side: engine.Buy, Price: 100, Quantity: 30, OrderID: 1},
		{Timestamp: 2, Kind: replay.Add, Side: engine.Buy, Price: 101, Quantity: 30, OrderID: 2},
	}
	rec := &recorder{}
	// reuses a market order id, so it is a duplicate when it arrives
	strat := StrategyFunc(func(view MarketView) *engine.Order {
		if view.Now == 1 {
			return engine.NewOrder(1, engine.Sell, 200, 1, 0)
		}
		return nil
	})
	r := NewRunner(replay.NewSliceSource(events), engine.NewMatchingEngine(), fixedLatency{ms: 0.5}, strat, WithObserver(rec))
	require.NoError(t, r.Run(context.Background()))

	rejects := rec.ofKind(RecordOrderReject)
	require.Len(t, rejects, 1)
	assert.ErrorIs(t, rejects[0].Err, engine.ErrDuplicateOrder)
	assert.Equal(t, uint64(1), r.Stats().OrdersRejected)
	assert.Equal(t, uint64(2), r.Stats().MarketEvents)
}

func TestInvalidMarketRecordIsReported(t *testing.T) {
	events := []replay.MarketEvent{
		{Timestamp: 1, Kind: replay.Add, Side: engine.Buy, Price: 100, Quantity: 0, OrderID: 1},
	}
	rec := &recorder{}
	r := NewRunner(replay.NewSliceSource(events), engine.NewMatchingEngine(), fixedLatency{}, nil, WithObserver(rec))
	require.NoError(t, r.Run(context.Background()))
	markets := rec.ofKind(RecordMarket)
	require.Len(t, markets, 1)
	assert.ErrorIs(t, markets[0].Err, engine.ErrInvalidOrder)
}

func TestOutOfOrderReplayAborts(t *testing.T) {
	events := []replay.MarketEvent{
		{Timestamp: 10, Kind: replay.Add, Side: engine.Buy, Price: 100, Quantity: 1, OrderID: 1},
		{Timestamp: 5, Kind: replay.Add, Side: engine.Buy, Price: 100, Quantity: 1, OrderID: 2},
	}
	r := NewRunner(replay.NewSliceSource(events), engine.NewMatchingEngine(), fixedLatency{}, nil)
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrReplayOutOfOrder)
}

type brokenSource struct{}

func (brokenSource) Next() (replay.MarketEvent, bool, error) {
	return replay.MarketEvent{}, false, errors.New("disk on fire")
}

func TestReplayErrorAborts(t *testing.T) {
	r := NewRunner(brokenSource{}, engine.NewMatchingEngine(), fixedLatency{}, nil)
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestRunHonoursContextAndRunsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(replay.NewSliceSource(replay.MockEvents()), engine.NewMatchingEngine(), fixedLatency{}, nil)
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyRun)
}

func TestSlowNetworkSaturatesInsteadOfWrapping(t *testing.T) {
	for name, tc := range map[string]struct {
		ms      float64
		arrival int64
	}{
		"huge":     {ms: 1e16, arrival: math.MaxInt64},
		"infinite": {ms: math.Inf(1), arrival: math.MaxInt64},
		"negative": {ms: -1, arrival: 1000},
		"nan":      {ms: math.NaN(), arrival: 1000},
	} {
		t.Run(name, func(t *testing.T) {
			events := []replay.MarketEvent{
				{Timestamp: 1000, Kind: replay.Add, Side: engine.Sell, Price: 500, Quantity: 10, OrderID: 1},
				{Timestamp: 2000, Kind: replay.Add, Side: engine.Sell, Price: 500, Quantity: 10, OrderID: 2},
			}
			eng := engine.NewMatchingEngine()
			fired := false
			strat := StrategyFunc(func(view MarketView) *engine.Order {
				if fired {
					return nil
				}
				fired = true
				return engine.NewOrder(50, engine.Buy, 500, 10, 0)
			})
			rec := &recorder{}
			r := NewRunner(replay.NewSliceSource(events), eng, fixedLatency{ms: tc.ms}, strat, WithObserver(rec))
			require.NoError(t, r.Run(context.Background()))

			sent := rec.ofKind(RecordOrderSent)
			require.Len(t, sent, 1)
			assert.Equal(t, tc.arrival, sent[0].ArrivalTime)

			arrived := rec.ofKind(RecordOrderArrived)
			require.Len(t, arrived, 1)
			assert.Equal(t, tc.arrival, arrived[0].Time)
			assert.Equal(t, max(tc.arrival, 2000), r.Now())

			trades := eng.Trades()
			require.Len(t, trades, 1)
			assert.Equal(t, engine.OrderID(1), trades[0].MakerOrderID)
			assert.Equal(t, tc.arrival, trades[0].Timestamp)
		})
	}
}
