package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/backtest"
	"backlab/internal/types"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := NewResultStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pendingRun(id string) RunRecord {
	return RunRecord{
		ID:             id,
		Strategy:       "sma_cross",
		Symbol:         "AAPL",
		Status:         RunStatusPending,
		Params:         map[string]float64{"fast": 10, "slow": 50},
		InitialCapital: 100000,
	}
}

func TestNewResultStoreRequiresRoot(t *testing.T) {
	_, err := NewResultStore("")
	assert.Error(t, err)
}

func TestInsertAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRun(ctx, pendingRun("run-1")))

	rec, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "sma_cross", rec.Strategy)
	assert.Equal(t, RunStatusPending, rec.Status)
	assert.InDelta(t, 10, rec.Params["fast"], 1e-9)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestUpdateRunStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRun(ctx, pendingRun("run-1")))
	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", RunStatusRunning, "窗口 1/2"))

	rec, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, rec.Status)
	assert.Equal(t, "窗口 1/2", rec.Message)
}

func TestFinishRunPersistsTradesAndEquity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRun(ctx, pendingRun("run-1")))

	ts := time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)
	result := &backtest.Result{
		InitialCapital:  100000,
		FinalEquity:     100998,
		TotalReturn:     0.00998,
		TotalCommission: 2,
		NumTrades:       2,
		Trades: []types.Fill{
			{OrderID: "ord-000001", Symbol: "AAPL", Direction: types.Buy, Quantity: 100, Price: 100, Commission: 1, Timestamp: ts},
			{OrderID: "ord-000002", Symbol: "AAPL", Direction: types.Sell, Quantity: 100, Price: 110, Commission: 1, Timestamp: ts.AddDate(0, 0, 1)},
		},
		EquityCurve: []backtest.EquityPoint{
			{At: ts, Equity: 99999},
			{At: ts.AddDate(0, 0, 1), Equity: 100998},
		},
	}
	require.NoError(t, s.FinishRun(ctx, "run-1", result))

	rec, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, rec.Status)
	assert.InDelta(t, 100998, rec.FinalEquity, 1e-9)
	assert.Equal(t, 2, rec.NumTrades)

	trades, err := s.Trades(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "ord-000001", trades[0].OrderID)
	assert.Equal(t, types.Buy, trades[0].Direction)
	assert.InDelta(t, 110, trades[1].Price, 1e-9)
	assert.Equal(t, ts.UnixMilli(), trades[0].Timestamp.UnixMilli())
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRun(ctx, pendingRun("run-1")))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.InsertRun(ctx, pendingRun("run-2")))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSchemaIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewResultStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.InsertRun(context.Background(), pendingRun("run-1")))
	require.NoError(t, s1.Close())

	s2, err := NewResultStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.ID)
}
