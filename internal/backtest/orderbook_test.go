package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/types"
)

func newBookOrder(t *testing.T, spec types.OrderSpec, id string) *types.Order {
	t.Helper()
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	}
	o, err := types.NewOrder(spec)
	require.NoError(t, err)
	o.ID = id
	return o
}

func TestSubmitRejectsMarketOrders(t *testing.T) {
	book := NewOrderBook()
	o := newBookOrder(t, types.OrderSpec{Symbol: "AAPL", Direction: types.Buy, Quantity: 10, Kind: types.Market}, "o1")
	assert.Error(t, book.Submit(o))
}

func TestLimitBuyBoundary(t *testing.T) {
	now := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	spec := types.OrderSpec{Symbol: "AAPL", Direction: types.Buy, Quantity: 10, Kind: types.Limit, LimitPrice: 95, CreatedAt: now}

	t.Run("fills at min of limit and close", func(t *testing.T) {
		book := NewOrderBook()
		require.NoError(t, book.Submit(newBookOrder(t, spec, "o1")))
		fills := book.Evaluate("AAPL", 96, 94, 95.5, now)
		require.Len(t, fills, 1)
		assert.InDelta(t, 95, fills[0].Price, 1e-9)
		assert.False(t, fills[0].WithSlippage)
		assert.Equal(t, 0, book.PendingCount("AAPL"))
	})

	t.Run("does not fill above limit", func(t *testing.T) {
		book := NewOrderBook()
		require.NoError(t, book.Submit(newBookOrder(t, spec, "o1")))
		fills := book.Evaluate("AAPL", 97, 96, 96.5, now)
		assert.Empty(t, fills)
		assert.Equal(t, 1, book.PendingCount("AAPL"))
	})
}

func TestLimitSell(t *testing.T) {
	now := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	book := NewOrderBook()
	o := newBookOrder(t, types.OrderSpec{Symbol: "AAPL", Direction: types.Sell, Quantity: 10, Kind: types.Limit, LimitPrice: 105, CreatedAt: now}, "o1")
	require.NoError(t, book.Submit(o))

	fills := book.Evaluate("AAPL", 106, 104, 104.5, now)
	require.Len(t, fills, 1)
	assert.InDelta(t, 105, fills[0].Price, 1e-9)
}

func TestStopOrders(t *testing.T) {
	now := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)

	t.Run("stop buy triggers on high", func(t *testing.T) {
		book := NewOrderBook()
		o := newBookOrder(t, types.OrderSpec{Symbol: "AAPL", Direction: types.Buy, Quantity: 10, Kind: types.Stop, StopPrice: 102, CreatedAt: now}, "o1")
		require.NoError(t, book.Submit(o))
		fills := book.Evaluate("AAPL", 103, 100, 101, now)
		require.Len(t, fills, 1)
		assert.InDelta(t, 102, fills[0].Price, 1e-9)
		assert.True(t, fills[0].WithSlippage)
	})

	t.Run("stop sell executes at min of stop and close", func(t *testing.T) {
		book := NewOrderBook()
		o := newBookOrder(t, types.OrderSpec{Symbol: "AAPL", Direction: types.Sell, Quantity: 10, Kind: types.Stop, StopPrice: 98, CreatedAt: now}, "o1")
		require.NoError(t, book.Submit(o))
		fills := book.Evaluate("AAPL", 100, 96, 97, now)
		require.Len(t, fills, 1)
		assert.InDelta(t, 97, fills[0].Price, 1e-9)
	})
}

func TestStopLimitNeedsBothConditionsSameBar(t *testing.T) {
	now := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	spec := types.OrderSpec{Symbol: "AAPL", Direction: types.Buy, Quantity: 10, Kind: types.StopLimit, StopPrice: 102, LimitPrice: 103, CreatedAt: now}

	t.Run("stop not reached stays pending", func(t *testing.T) {
		book := NewOrderBook()
		require.NoError(t, book.Submit(newBookOrder(t, spec, "o1")))
		assert.Empty(t, book.Evaluate("AAPL", 101, 99, 100, now))
		assert.Equal(t, 1, book.PendingCount("AAPL"))
	})

	t.Run("both conditions fill", func(t *testing.T) {
		book := NewOrderBook()
		require.NoError(t, book.Submit(newBookOrder(t, spec, "o1")))
		fills := book.Evaluate("AAPL", 103.5, 101, 102.5, now)
		require.Len(t, fills, 1)
		assert.InDelta(t, 102.5, fills[0].Price, 1e-9)
	})
}

func TestTrailingStopRecomputesFromClose(t *testing.T) {
	now := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	book := NewOrderBook()
	o := newBookOrder(t, types.OrderSpec{Symbol: "AAPL", Direction: types.Sell, Quantity: 10, Kind: types.TrailingStop, TrailingPercent: 0.05, CreatedAt: now}, "o1")
	require.NoError(t, book.Submit(o))

	// close=100 → 触发价 95，low=96 不触发。
	assert.Empty(t, book.Evaluate("AAPL", 101, 96, 100, now))
	// close=100 → 触发价 95，low=94 触发，成交价 min(95, 100)=95。
	fills := book.Evaluate("AAPL", 101, 94, 100, now.Add(time.Minute))
	require.Len(t, fills, 1)
	assert.InDelta(t, 95, fills[0].Price, 1e-9)
}

func TestDayOrderExpiresOnDateRollover(t *testing.T) {
	created := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	book := NewOrderBook()
	o := newBookOrder(t, types.OrderSpec{Symbol: "AAPL", Direction: types.Buy, Quantity: 10, Kind: types.Limit, LimitPrice: 50, TimeInForce: types.Day, CreatedAt: created}, "o1")
	require.NoError(t, book.Submit(o))

	assert.Empty(t, book.Evaluate("AAPL", 100, 99, 99.5, created.Add(time.Hour)))
	assert.Equal(t, 1, book.PendingCount("AAPL"))

	assert.Empty(t, book.Evaluate("AAPL", 100, 99, 99.5, created.Add(24*time.Hour)))
	assert.Equal(t, 0, book.PendingCount("AAPL"))
	assert.Equal(t, types.StatusCancelled, o.Status)
}

func TestImmediateOrCancelExpiresAfterFirstEvaluation(t *testing.T) {
	now := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	book := NewOrderBook()
	o := newBookOrder(t, types.OrderSpec{Symbol: "AAPL", Direction: types.Buy, Quantity: 10, Kind: types.Limit, LimitPrice: 50, TimeInForce: types.ImmediateOrCancel, CreatedAt: now}, "o1")
	require.NoError(t, book.Submit(o))

	assert.Empty(t, book.Evaluate("AAPL", 100, 99, 99.5, now))
	assert.Equal(t, 0, book.PendingCount("AAPL"))
	assert.Equal(t, types.StatusCancelled, o.Status)
}

func TestCancel(t *testing.T) {
	now := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	book := NewOrderBook()
	o := newBookOrder(t, types.OrderSpec{Symbol: "AAPL", Direction: types.Buy, Quantity: 10, Kind: types.Limit, LimitPrice: 95, CreatedAt: now}, "o1")
	require.NoError(t, book.Submit(o))

	assert.True(t, book.Cancel("o1"))
	assert.Equal(t, types.StatusCancelled, o.Status)
	assert.Equal(t, 0, book.PendingCount("AAPL"))
	assert.False(t, book.Cancel("o1"))
}
