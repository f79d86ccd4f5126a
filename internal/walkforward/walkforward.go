// Package walkforward 实现滚动 train/test 窗口的参数寻优与
// 样本外验证，用 train→test 指标退化度识别过拟合。
package walkforward

import (
	"context"
	"fmt"
	"math"
	"time"

	"backlab/internal/backtest"
	"backlab/internal/logger"
	"backlab/internal/optimize"
	"backlab/internal/strategy"
	"backlab/internal/types"
)

// Config 控制窗口切分与每窗口的网格搜索。
type Config struct {
	TrainSize       int
	TestSize        int
	StepSize        int
	Anchor          bool
	Objective       string
	MaxCombinations int
	Workers         int
	Seed            int64
}

// window 用半开区间下标 [start, end) 描述一个 train/test 对。
type window struct {
	trainStart int
	trainEnd   int
	testStart  int
	testEnd    int
}

// WindowResult 记录单个窗口的寻优与验证结果。
type WindowResult struct {
	TrainStart   time.Time          `json:"train_start"`
	TrainEnd     time.Time          `json:"train_end"`
	TestStart    time.Time          `json:"test_start"`
	TestEnd      time.Time          `json:"test_end"`
	Parameters   map[string]float64 `json:"optimized_parameters"`
	TrainMetrics map[string]float64 `json:"train_metrics"`
	TestMetrics  map[string]float64 `json:"test_metrics"`
	UsedDefaults bool               `json:"used_defaults"`
}

// MetricSummary 汇总某个指标跨窗口的均值/标准差与退化度
//（degradation = train 均值 − test 均值，正值大代表泛化差）。
type MetricSummary struct {
	TrainAvg    float64 `json:"train_avg"`
	TrainStd    float64 `json:"train_std"`
	TestAvg     float64 `json:"test_avg"`
	TestStd     float64 `json:"test_std"`
	Degradation float64 `json:"degradation"`
}

// Report 是一次 walk-forward 分析的完整输出。
type Report struct {
	Windows      []WindowResult           `json:"windows"`
	Summary      map[string]MetricSummary `json:"summary"`
	TrainSize    int                      `json:"train_size"`
	TestSize     int                      `json:"test_size"`
	StepSize     int                      `json:"step_size"`
	Anchor       bool                     `json:"anchor"`
	TotalWindows int                      `json:"total_windows"`
}

// Analyzer 对同一份 K 线数据做滚动寻优。每个 trial、每次 test
// 复跑都构造全新的 Engine/Ledger，窗口之间无共享状态。
type Analyzer struct {
	cfg       Config
	engineCfg backtest.Config
	def       strategy.Definition
	metrics   backtest.MetricFunc
}

// New 校验配置并构造分析器。metrics 是外部风险指标库的协作
// 接口，可为 nil（此时只用引擎基础指标）。
func New(cfg Config, engineCfg backtest.Config, def strategy.Definition, metrics backtest.MetricFunc) (*Analyzer, error) {
	if cfg.TrainSize <= 0 {
		return nil, fmt.Errorf("train_size 必须为正: %d", cfg.TrainSize)
	}
	if cfg.TestSize <= 0 {
		return nil, fmt.Errorf("test_size 必须为正: %d", cfg.TestSize)
	}
	if cfg.StepSize <= 0 {
		cfg.StepSize = cfg.TestSize
	}
	if cfg.Objective == "" {
		cfg.Objective = "total_return"
	}
	if cfg.MaxCombinations <= 0 {
		cfg.MaxCombinations = 200
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if def.New == nil {
		return nil, fmt.Errorf("策略定义缺少工厂")
	}
	return &Analyzer{cfg: cfg, engineCfg: engineCfg, def: def, metrics: metrics}, nil
}

// Run 执行全部窗口。窗口数为零是致命的校验错误。
func (a *Analyzer) Run(ctx context.Context, bars []types.Bar) (*Report, error) {
	if err := types.ValidateBars(bars); err != nil {
		return nil, err
	}
	windows := a.windows(len(bars))
	if len(windows) == 0 {
		return nil, fmt.Errorf("数据量 %d 不足以切出任何窗口（train=%d test=%d step=%d）",
			len(bars), a.cfg.TrainSize, a.cfg.TestSize, a.cfg.StepSize)
	}
	report := &Report{
		Summary:      make(map[string]MetricSummary),
		TrainSize:    a.cfg.TrainSize,
		TestSize:     a.cfg.TestSize,
		StepSize:     a.cfg.StepSize,
		Anchor:       a.cfg.Anchor,
		TotalWindows: len(windows),
	}
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := a.runWindow(ctx, bars, w)
		if err != nil {
			return nil, fmt.Errorf("窗口 %d/%d 失败: %w", i+1, len(windows), err)
		}
		report.Windows = append(report.Windows, result)
		logger.Infof("[walkforward] 窗口 %d/%d 完成: params=%v", i+1, len(windows), result.Parameters)
	}
	report.Summary = summarize(report.Windows)
	return report, nil
}

// windows 在 start+train+test < N 的约束下按 step 推进。
// anchor=true 时训练窗从 0 起逐窗扩张，test 窗不变。
func (a *Analyzer) windows(n int) []window {
	var out []window
	for start := 0; start+a.cfg.TrainSize+a.cfg.TestSize < n; start += a.cfg.StepSize {
		trainStart := start
		if a.cfg.Anchor {
			trainStart = 0
		}
		out = append(out, window{
			trainStart: trainStart,
			trainEnd:   start + a.cfg.TrainSize,
			testStart:  start + a.cfg.TrainSize,
			testEnd:    start + a.cfg.TrainSize + a.cfg.TestSize,
		})
	}
	return out
}

func (a *Analyzer) runWindow(ctx context.Context, bars []types.Bar, w window) (WindowResult, error) {
	trainBars := bars[w.trainStart:w.trainEnd]
	testBars := bars[w.testStart:w.testEnd]

	combos := optimize.Grid(a.def.Params, a.cfg.MaxCombinations, a.cfg.Seed)
	exec := optimize.NewExecutor(a.cfg.Workers)
	trials, err := exec.Run(ctx, combos, a.cfg.Objective, func(params map[string]float64) (*backtest.Result, map[string]float64, error) {
		return a.runOnce(trainBars, params)
	})
	if err != nil {
		return WindowResult{}, err
	}

	var params map[string]float64
	var trainMetrics map[string]float64
	usedDefaults := false
	if best, ok := optimize.Best(trials); ok {
		params = best.Params
		trainMetrics = best.Metrics
	} else {
		// 所有组合都失败：回退到各参数的缺省值。
		usedDefaults = true
		params = defaultParams(a.def)
		logger.Warnf("[walkforward] 网格搜索全部失败，回退缺省参数: %v", params)
		_, trainMetrics, err = a.runOnce(trainBars, params)
		if err != nil {
			return WindowResult{}, fmt.Errorf("缺省参数训练段回测失败: %w", err)
		}
	}

	_, testMetrics, err := a.runOnce(testBars, params)
	if err != nil {
		return WindowResult{}, fmt.Errorf("测试段回测失败: %w", err)
	}

	return WindowResult{
		TrainStart:   bars[w.trainStart].Timestamp,
		TrainEnd:     bars[w.trainEnd-1].Timestamp,
		TestStart:    bars[w.testStart].Timestamp,
		TestEnd:      bars[w.testEnd-1].Timestamp,
		Parameters:   params,
		TrainMetrics: trainMetrics,
		TestMetrics:  testMetrics,
		UsedDefaults: usedDefaults,
	}, nil
}

// runOnce 以给定参数构造全新策略与引擎，跑一段数据并产出指标。
func (a *Analyzer) runOnce(bars []types.Bar, params map[string]float64) (*backtest.Result, map[string]float64, error) {
	anyParams := make(map[string]any, len(params))
	for k, v := range params {
		anyParams[k] = v
	}
	strat, err := a.def.New(anyParams)
	if err != nil {
		return nil, nil, err
	}
	engine, err := backtest.New(a.engineCfg, strat)
	if err != nil {
		return nil, nil, err
	}
	result, err := engine.Run(bars)
	if err != nil {
		return nil, nil, err
	}
	metrics := result.BasicMetrics()
	if a.metrics != nil {
		for k, v := range a.metrics(result.Returns, result.EquityCurve, result.Trades) {
			metrics[k] = v
		}
	}
	return result, metrics, nil
}

func defaultParams(def strategy.Definition) map[string]float64 {
	out := make(map[string]float64, len(def.Params))
	for _, p := range def.Params {
		out[p.Name] = p.Default
	}
	return out
}

func summarize(windows []WindowResult) map[string]MetricSummary {
	keys := make(map[string]bool)
	for _, w := range windows {
		for k := range w.TrainMetrics {
			keys[k] = true
		}
	}
	out := make(map[string]MetricSummary, len(keys))
	for k := range keys {
		var train, test []float64
		for _, w := range windows {
			if v, ok := w.TrainMetrics[k]; ok {
				train = append(train, v)
			}
			if v, ok := w.TestMetrics[k]; ok {
				test = append(test, v)
			}
		}
		trainAvg, trainStd := meanStd(train)
		testAvg, testStd := meanStd(test)
		out[k] = MetricSummary{
			TrainAvg:    trainAvg,
			TrainStd:    trainStd,
			TestAvg:     testAvg,
			TestStd:     testStd,
			Degradation: trainAvg - testAvg,
		}
	}
	return out
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}
