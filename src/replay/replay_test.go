package replay

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-latency-sim/src/engine"
)

func drain(t *testing.T, next func() (MarketEvent, bool, error)) []MarketEvent {
	t.Helper()
	var out []MarketEvent
	for {
		ev, ok, err := next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestCSVSourceStreamsSample(t *testing.T) {
	src, err := NewCSVSource(strings.NewReader(SampleCSV), 100)
	require.NoError(t, err)

	events := drain(t, src.Next)
	require.Len(t, events, 5)

	assert.Equal(t, MarketEvent{
		Timestamp: 1000000, Kind: Add, Side: engine.Buy, Price: 10000, Quantity: 500, OrderID: 10001,
	}, events[0])
	assert.Equal(t, Cancel, events[3].Kind)
	assert.Equal(t, int64(10055), events[3].Price)
	assert.Equal(t, Trade, events[4].Kind)
	assert.Equal(t, engine.OrderID(10005), events[4].OrderID)

	// exhaustion is sticky and not an error
	_, ok, err := src.Next()
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestCSVSourceOrderIDColumn(t *testing.T) {
	data := "timestamp,type,side,price,qty,order_id\n" +
		"1,ADD,sell,101.00,100,1\n" +
		"2,CANCEL,sell,101.00,40,1\n" +
		"3,ADD,buy,100.5,10,\n"
	src, err := NewCSVSource(strings.NewReader(data), 100)
	require.NoError(t, err)

	events := drain(t, src.Next)
	require.Len(t, events, 3)
	assert.Equal(t, engine.OrderID(1), events[0].OrderID)
	assert.Equal(t, engine.OrderID(1), events[1].OrderID)
	assert.Equal(t, engine.OrderID(10001), events[2].OrderID)
	assert.Equal(t, int64(10050), events[2].Price)
}

func TestCSVSourceErrors(t *testing.T) {
	_, err := NewCSVSource(strings.NewReader("timestamp,side,price\n"), 100)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = NewCSVSource(strings.NewReader(SampleCSV), 0)
	assert.Error(t, err)

	cases := map[string]string{
		"bad kind":      "1,MODIFY,buy,1.00,1",
		"bad side":      "1,ADD,hold,1.00,1",
		"bad price":     "1,ADD,buy,abc,1",
		"sub-tick":      "1,ADD,buy,1.001,1",
		"bad timestamp": "x,ADD,buy,1.00,1",
		"bad qty":       "1,ADD,buy,1.00,1.5",
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			src, err := NewCSVSource(strings.NewReader("timestamp,type,side,price,qty\n"+row+"\n"), 100)
			require.NoError(t, err)
			_, ok, err := src.Next()
			assert.False(t, ok)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "csv line 2")
		})
	}
}

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice("101.50", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10150), p)

	p, err = ParsePrice("0.0001", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p)

	_, err = ParsePrice("101.505", 100)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	assert.Equal(t, "101.50", FormatPrice(10150, 100))
	assert.Equal(t, "7", FormatPrice(7, 1))
}

func TestSliceSourceAndMock(t *testing.T) {
	src := NewSliceSource(MockEvents())
	events := drain(t, src.Next)
	require.Len(t, events, 6)
	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].Timestamp, events[i].Timestamp)
	}
	_, ok, _ := src.Next()
	assert.False(t, ok)
}

func TestParseSideAliases(t *testing.T) {
	s, err := ParseSide(" Bid ")
	require.NoError(t, err)
	assert.Equal(t, engine.Buy, s)
	s, err = ParseSide("ASK")
	require.NoError(t, err)
	assert.Equal(t, engine.Sell, s)
}

func TestIDsStartAtFirstSynthetic(t *testing.T) {
	var ids IDs
	assert.Equal(t, engine.OrderID(10001), ids.Next())
	assert.Equal(t, engine.OrderID(10002), ids.Next())
}

func TestParsePriceRejectsOverflow(t *testing.T) {
	for _, s := range []string{"184467440737095516.17", "92233720368547758.08", "-92233720368547758.09", "1e30"} {
		_, err := ParsePrice(s, 100)
		assert.ErrorIs(t, err, ErrInvalidPrice, s)
	}

	p, err := ParsePrice("92233720368547758.07", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), p)
}
