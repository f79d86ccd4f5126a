package optimize

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"backlab/internal/backtest"
	"backlab/internal/logger"
)

// RunFunc 执行单个 trial：按参数组合构造全新的 Engine/Ledger 并
// 跑完整回测，返回结果与指标表。trial 之间不得共享可变状态。
type RunFunc func(params map[string]float64) (*backtest.Result, map[string]float64, error)

// Trial 记录一次参数组合的评估。失败的 trial 以 -Inf 目标值
// 保留在结果里，不会被静默丢弃。
type Trial struct {
	Index     int                `json:"index"`
	Params    map[string]float64 `json:"params"`
	Result    *backtest.Result   `json:"-"`
	Metrics   map[string]float64 `json:"metrics"`
	Objective float64            `json:"objective"`
	Err       error              `json:"-"`
}

// Progress 是轮询方可见的进度快照。结果列表填充过程中读到
// 部分完成是预期行为（最终汇总只在全部 join 后进行）。
type Progress struct {
	Total     int  `json:"total"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Running   bool `json:"running"`
}

// Executor 把相互独立的 trial 派发到 worker 池。结果与进度由
// 同一把互斥锁保护；停止是协作式的：只在派发间隙检查停止标志，
// 已在跑的 trial 允许跑完。
type Executor struct {
	workers int

	mu       sync.Mutex
	trials   []Trial
	progress Progress

	stopped atomic.Bool
}

// NewExecutor 构造执行器，workers ≤ 0 时退化为串行。
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	return &Executor{workers: workers}
}

// Stop 请求停止派发后续 trial。
func (e *Executor) Stop() { e.stopped.Store(true) }

// Progress 返回进度快照。
func (e *Executor) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// Trials 返回当前已完成的 trial 副本（可能是部分结果）。
func (e *Executor) Trials() []Trial {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Trial(nil), e.trials...)
}

// Run 评估全部组合并等待所有已派发 trial 结束。单个 trial 失败
// 记录为 -Inf 并继续；返回的列表含全部已派发 trial。
func (e *Executor) Run(ctx context.Context, combos []map[string]float64, objective string, run RunFunc) ([]Trial, error) {
	if len(combos) == 0 {
		return nil, fmt.Errorf("参数组合为空")
	}
	if objective == "" {
		objective = "total_return"
	}
	e.mu.Lock()
	e.trials = e.trials[:0]
	e.progress = Progress{Total: len(combos), Running: true}
	e.mu.Unlock()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)
	dispatched := 0
	for i, combo := range combos {
		if e.stopped.Load() || gctx.Err() != nil {
			break
		}
		dispatched++
		i, combo := i, combo
		group.Go(func() error {
			trial := e.evaluate(i, combo, objective, run)
			e.mu.Lock()
			e.trials = append(e.trials, trial)
			e.progress.Completed++
			if trial.Err != nil || math.IsInf(trial.Objective, -1) {
				e.progress.Failed++
			}
			e.mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	e.mu.Lock()
	e.progress.Total = dispatched
	e.progress.Running = false
	out := append([]Trial(nil), e.trials...)
	e.mu.Unlock()
	return out, nil
}

func (e *Executor) evaluate(index int, params map[string]float64, objective string, run RunFunc) (trial Trial) {
	trial = Trial{Index: index, Params: params, Objective: math.Inf(-1)}
	defer func() {
		if r := recover(); r != nil {
			trial.Err = fmt.Errorf("trial panic: %v", r)
			trial.Objective = math.Inf(-1)
			logger.Warnf("[optimize] trial panic（params=%v）: %v", params, r)
		}
	}()
	result, metrics, err := run(params)
	if err != nil {
		trial.Err = err
		logger.Warnf("[optimize] trial 失败（params=%v）: %v", params, err)
		return trial
	}
	trial.Result = result
	trial.Metrics = metrics
	value, ok := metrics[objective]
	if !ok || math.IsNaN(value) {
		trial.Err = fmt.Errorf("目标指标 %q 缺失", objective)
		return trial
	}
	trial.Objective = value
	return trial
}

// Best 在全部 trial join 之后挑选目标值最大的一个；目标值并列时
// 取组合下标最小者，避免并行完成顺序影响选择。全部失败时返回 false。
func Best(trials []Trial) (Trial, bool) {
	best := Trial{Objective: math.Inf(-1)}
	found := false
	for _, t := range trials {
		if t.Err != nil || math.IsInf(t.Objective, -1) || math.IsNaN(t.Objective) {
			continue
		}
		if !found || t.Objective > best.Objective ||
			(t.Objective == best.Objective && t.Index < best.Index) {
			best = t
			found = true
		}
	}
	return best, found
}
