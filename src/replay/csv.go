package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"exchange-latency-sim/src/engine"
)

// SampleCSV is a short microsecond-stamped session used by the CLI when no
// replay file is configured.
const SampleCSV = `timestamp,type,side,price,qty
1000000,ADD,buy,100.00,500
1000050,ADD,sell,100.50,200
1000100,ADD,sell,100.55,300
1005000,CANCEL,sell,100.55,300
1010000,TRADE,buy,100.50,50
`

var requiredColumns = []string{"timestamp", "type", "side", "price", "qty"}

// CSVSource streams records from CSV without loading the whole file. The
// header must name timestamp, type, side, price and qty; an order_id column
// is optional and synthetic ids are assigned when it is absent or empty.
type CSVSource struct {
	r     *csv.Reader
	cols  map[string]int
	scale int64
	ids   IDs
	line  int
}

// NewCSVSource reads the header from r. scale is the number of price ticks
// per unit of price.
func NewCSVSource(r io.Reader, scale int64) (*CSVSource, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("price scale must be positive, got %d", scale)
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidRecord, name)
		}
	}
	return &CSVSource{r: cr, cols: cols, scale: scale, line: 1}, nil
}

// Next parses the next row. io.EOF is reported as exhaustion, not an error.
func (s *CSVSource) Next() (MarketEvent, bool, error) {
	row, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return MarketEvent{}, false, nil
	}
	s.line++
	if err != nil {
		return MarketEvent{}, false, fmt.Errorf("csv line %d: %w", s.line, err)
	}
	ev, err := s.parse(row)
	if err != nil {
		return MarketEvent{}, false, fmt.Errorf("csv line %d: %w", s.line, err)
	}
	return ev, true, nil
}

func (s *CSVSource) parse(row []string) (MarketEvent, error) {
	var (
		ev  MarketEvent
		err error
	)
	if ev.Timestamp, err = strconv.ParseInt(s.field(row, "timestamp"), 10, 64); err != nil {
		return ev, fmt.Errorf("%w: timestamp: %v", ErrInvalidRecord, err)
	}
	if ev.Kind, err = ParseKind(s.field(row, "type")); err != nil {
		return ev, err
	}
	if ev.Side, err = ParseSide(s.field(row, "side")); err != nil {
		return ev, err
	}
	if ev.Price, err = ParsePrice(s.field(row, "price"), s.scale); err != nil {
		return ev, err
	}
	if ev.Quantity, err = strconv.ParseInt(s.field(row, "qty"), 10, 64); err != nil {
		return ev, fmt.Errorf("%w: qty: %v", ErrInvalidRecord, err)
	}

	if raw := s.field(row, "order_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return ev, fmt.Errorf("%w: order_id: %v", ErrInvalidRecord, err)
		}
		ev.OrderID = engine.OrderID(id)
	} else {
		ev.OrderID = s.ids.Next()
	}
	return ev, nil
}

func (s *CSVSource) field(row []string, name string) string {
	i, ok := s.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
