package observer

import (
	"github.com/prometheus/client_golang/prometheus"

	"exchange-latency-sim/src/sim"
)

const namespace = "latency_sim"

// Metrics counts simulation records into Prometheus collectors.
type Metrics struct {
	MarketEvents   *prometheus.CounterVec
	Trades         prometheus.Counter
	TradedQuantity prometheus.Counter
	OrdersSent     prometheus.Counter
	OrdersDropped  prometheus.Counter
	OrdersArrived  *prometheus.CounterVec
	OrdersRejected prometheus.Counter
	OrderLatency   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MarketEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_events_total",
			Help:      "Market-data records applied, by kind",
		}, []string{"kind"}),
		Trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades executed",
		}),
		TradedQuantity: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_quantity_total",
			Help:      "Quantity executed across all trades",
		}),
		OrdersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_sent_total",
			Help:      "Strategy orders handed to the network, drops included",
		}),
		OrdersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_dropped_total",
			Help:      "Strategy orders lost in the network",
		}),
		OrdersArrived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_arrived_total",
			Help:      "Strategy orders delivered to the exchange, by placement",
		}, []string{"placement"}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Strategy orders rejected by the exchange",
		}),
		OrderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_latency_ms",
			Help:      "Sampled one-way order latency in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
	}

	collectors := []prometheus.Collector{
		m.MarketEvents,
		m.Trades,
		m.TradedQuantity,
		m.OrdersSent,
		m.OrdersDropped,
		m.OrdersArrived,
		m.OrdersRejected,
		m.OrderLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Notify(rec sim.Record) {
	switch rec.Kind {
	case sim.RecordMarket:
		m.MarketEvents.WithLabelValues(string(rec.Market.Kind)).Inc()
	case sim.RecordOrderSent:
		m.OrdersSent.Inc()
		m.OrderLatency.Observe(rec.LatencyMs)
	case sim.RecordOrderDropped:
		m.OrdersSent.Inc()
		m.OrdersDropped.Inc()
	case sim.RecordOrderArrived:
		m.OrdersArrived.WithLabelValues(string(rec.Placement)).Inc()
	case sim.RecordOrderReject:
		m.OrdersRejected.Inc()
	case sim.RecordTrade:
		m.Trades.Inc()
		m.TradedQuantity.Add(float64(rec.Trade.Quantity))
	}
}

var _ sim.Observer = (*Metrics)(nil)
