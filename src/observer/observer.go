// Package observer provides sinks for the records a simulation emits.
package observer

import (
	"log/slog"

	"exchange-latency-sim/src/sim"
)

// Multi fans a record out to every observer in order.
type Multi []sim.Observer

func (m Multi) Notify(rec sim.Record) {
	for _, o := range m {
		o.Notify(rec)
	}
}

// Recorder keeps every record in memory.
type Recorder struct {
	Records []sim.Record
}

func (r *Recorder) Notify(rec sim.Record) {
	r.Records = append(r.Records, rec)
}

// Kind returns the recorded records of one kind, in emission order.
func (r *Recorder) Kind(kind sim.RecordKind) []sim.Record {
	var out []sim.Record
	for _, rec := range r.Records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Log writes one structured line per record.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("module", "simulation")}
}

func (l *Log) Notify(rec sim.Record) {
	switch rec.Kind {
	case sim.RecordMarket:
		m := rec.Market
		attrs := []any{"time", rec.Time, "kind", m.Kind, "side", m.Side, "price", m.Price, "qty", m.Quantity, "order_id", m.OrderID}
		if rec.Err != nil {
			l.logger.Warn("market record rejected", append(attrs, "error", rec.Err)...)
			return
		}
		l.logger.Info("market", attrs...)
	case sim.RecordOrderSent:
		l.logger.Info("order sent",
			"time", rec.Time,
			"order_id", rec.Order.ID,
			"latency_ms", rec.LatencyMs,
			"arrival", rec.ArrivalTime,
		)
	case sim.RecordOrderDropped:
		l.logger.Warn("order dropped", "time", rec.Time, "order_id", rec.Order.ID)
	case sim.RecordOrderArrived:
		l.logger.Info("order arrived",
			"time", rec.Time,
			"order_id", rec.Order.ID,
			"placement", rec.Placement,
			"status", rec.Order.Status,
		)
	case sim.RecordOrderReject:
		l.logger.Warn("order rejected", "time", rec.Time, "order_id", rec.Order.ID, "error", rec.Err)
	case sim.RecordTrade:
		tr := rec.Trade
		l.logger.Info("trade",
			"time", rec.Time,
			"price", tr.Price,
			"qty", tr.Quantity,
			"maker", tr.MakerOrderID,
			"taker", tr.TakerOrderID,
		)
	}
}

var (
	_ sim.Observer = Multi(nil)
	_ sim.Observer = (*Recorder)(nil)
	_ sim.Observer = (*Log)(nil)
)
