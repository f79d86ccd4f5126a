package optimize

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/backtest"
)

func combosOf(scores ...float64) []map[string]float64 {
	out := make([]map[string]float64, len(scores))
	for i, s := range scores {
		out[i] = map[string]float64{"x": s}
	}
	return out
}

func TestExecutorEvaluatesAllCombos(t *testing.T) {
	exec := NewExecutor(4)
	trials, err := exec.Run(context.Background(), combosOf(1, 2, 3, 4, 5), "score",
		func(params map[string]float64) (*backtest.Result, map[string]float64, error) {
			return &backtest.Result{}, map[string]float64{"score": params["x"]}, nil
		})
	require.NoError(t, err)
	require.Len(t, trials, 5)

	p := exec.Progress()
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, 5, p.Completed)
	assert.Equal(t, 0, p.Failed)
	assert.False(t, p.Running)

	best, ok := Best(trials)
	require.True(t, ok)
	assert.InDelta(t, 5, best.Objective, 1e-9)
}

func TestExecutorKeepsFailedTrials(t *testing.T) {
	exec := NewExecutor(2)
	trials, err := exec.Run(context.Background(), combosOf(1, 2, 3), "score",
		func(params map[string]float64) (*backtest.Result, map[string]float64, error) {
			if params["x"] == 2 {
				return nil, nil, errors.New("坏组合")
			}
			return &backtest.Result{}, map[string]float64{"score": params["x"]}, nil
		})
	require.NoError(t, err)
	require.Len(t, trials, 3)

	failed := 0
	for _, tr := range trials {
		if tr.Err != nil {
			failed++
			assert.True(t, math.IsInf(tr.Objective, -1))
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, exec.Progress().Failed)

	best, ok := Best(trials)
	require.True(t, ok)
	assert.InDelta(t, 3, best.Objective, 1e-9)
}

func TestExecutorRecoversTrialPanic(t *testing.T) {
	exec := NewExecutor(1)
	trials, err := exec.Run(context.Background(), combosOf(1, 2), "score",
		func(params map[string]float64) (*backtest.Result, map[string]float64, error) {
			if params["x"] == 1 {
				panic("boom")
			}
			return &backtest.Result{}, map[string]float64{"score": params["x"]}, nil
		})
	require.NoError(t, err)
	require.Len(t, trials, 2)

	best, ok := Best(trials)
	require.True(t, ok)
	assert.InDelta(t, 2, best.Objective, 1e-9)
}

func TestExecutorMissingObjectiveIsFailure(t *testing.T) {
	exec := NewExecutor(1)
	trials, err := exec.Run(context.Background(), combosOf(1), "sharpe",
		func(params map[string]float64) (*backtest.Result, map[string]float64, error) {
			return &backtest.Result{}, map[string]float64{"score": 1}, nil
		})
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Error(t, trials[0].Err)

	_, ok := Best(trials)
	assert.False(t, ok)
}

func TestExecutorStopSkipsRemainingDispatch(t *testing.T) {
	exec := NewExecutor(1)
	var mu sync.Mutex
	ran := 0
	trials, err := exec.Run(context.Background(), combosOf(1, 2, 3, 4, 5), "score",
		func(params map[string]float64) (*backtest.Result, map[string]float64, error) {
			mu.Lock()
			ran++
			if ran == 2 {
				exec.Stop()
			}
			mu.Unlock()
			return &backtest.Result{}, map[string]float64{"score": params["x"]}, nil
		})
	require.NoError(t, err)
	assert.Less(t, len(trials), 5)
	assert.GreaterOrEqual(t, len(trials), 2)
	assert.Equal(t, len(trials), exec.Progress().Total)
}

func TestExecutorRejectsEmptyCombos(t *testing.T) {
	exec := NewExecutor(1)
	_, err := exec.Run(context.Background(), nil, "score",
		func(map[string]float64) (*backtest.Result, map[string]float64, error) {
			return nil, nil, nil
		})
	assert.Error(t, err)
}

func TestBestTieBreaksByIndex(t *testing.T) {
	trials := []Trial{
		{Index: 2, Objective: 1.5},
		{Index: 0, Objective: 1.5},
		{Index: 1, Objective: 1.0},
	}
	best, ok := Best(trials)
	require.True(t, ok)
	assert.Equal(t, 0, best.Index)
}

func TestBestAllFailed(t *testing.T) {
	trials := []Trial{
		{Index: 0, Objective: math.Inf(-1), Err: errors.New("x")},
		{Index: 1, Objective: math.NaN()},
	}
	_, ok := Best(trials)
	assert.False(t, ok)
}
