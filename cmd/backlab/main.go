package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"backlab/internal/backtest"
	blcfg "backlab/internal/config"
	"backlab/internal/data"
	"backlab/internal/logger"
	"backlab/internal/store"
	"backlab/internal/strategy"
	"backlab/internal/types"
	"backlab/internal/walkforward"
)

func main() {
	var (
		cfgPath      = flag.String("config", os.Getenv("BACKLAB_CONFIG"), "YAML 配置文件路径（可选）")
		dataPath     = flag.String("data", "", "OHLCV CSV 数据文件")
		symbol       = flag.String("symbol", "", "symbol（CSV 未带 symbol 列时必填）")
		strategyName = flag.String("strategy", "sma_cross", "内置策略名")
		mode         = flag.String("mode", "backtest", "backtest | walkforward")
		storeDir     = flag.String("store", "", "结果库目录（为空则不持久化）")
	)
	flag.Parse()

	cfg := blcfg.Default()
	if *cfgPath != "" {
		loaded, err := blcfg.Load(*cfgPath)
		if err != nil {
			log.Fatalf("读取配置失败: %v", err)
		}
		cfg = loaded
	}
	logger.SetLevel(cfg.App.LogLevel)

	if *dataPath == "" {
		log.Fatalf("缺少 -data 参数")
	}
	bars, err := data.LoadCSV(*dataPath, *symbol)
	if err != nil {
		log.Fatalf("加载数据失败: %v", err)
	}
	logger.Infof("✓ 数据加载成功（%d 根，%s ~ %s）", len(bars),
		bars[0].Timestamp.Format("2006-01-02"), bars[len(bars)-1].Timestamp.Format("2006-01-02"))

	def, err := strategy.Lookup(*strategyName)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engineCfg := backtest.Config{
		InitialCapital: cfg.Engine.InitialCapital,
		Commission:     cfg.Engine.Commission,
		CommissionType: cfg.Engine.CommissionType,
		Slippage:       cfg.Engine.Slippage,
	}

	switch *mode {
	case "backtest":
		if err := runBacktest(ctx, engineCfg, def, bars, *storeDir); err != nil {
			log.Fatalf("回测失败: %v", err)
		}
	case "walkforward":
		if err := runWalkForward(ctx, cfg, engineCfg, def, bars); err != nil {
			log.Fatalf("walk-forward 失败: %v", err)
		}
	default:
		log.Fatalf("未知 mode: %q", *mode)
	}
}

func runBacktest(ctx context.Context, engineCfg backtest.Config, def strategy.Definition, bars []types.Bar, storeDir string) error {
	var results *store.ResultStore
	runID := uuid.NewString()
	if storeDir != "" {
		var err error
		results, err = store.NewResultStore(storeDir)
		if err != nil {
			return err
		}
		defer results.Close()
		rec := store.RunRecord{
			ID:             runID,
			Strategy:       def.Name,
			Symbol:         bars[0].Symbol,
			Status:         store.RunStatusRunning,
			Params:         defaultParams(def),
			InitialCapital: engineCfg.InitialCapital,
		}
		if err := results.InsertRun(ctx, rec); err != nil {
			return err
		}
	}

	strat, err := def.New(def.Defaults())
	if err != nil {
		return err
	}
	engine, err := backtest.New(engineCfg, strat)
	if err != nil {
		return err
	}
	result, err := engine.Run(bars)
	if err != nil {
		if results != nil {
			_ = results.UpdateRunStatus(ctx, runID, store.RunStatusFailed, err.Error())
		}
		return err
	}
	if results != nil {
		if err := results.FinishRun(ctx, runID, result); err != nil {
			return err
		}
	}
	logger.Infof("回测完成: return=%.4f%% final=%.2f trades=%d commission=%.2f maxDD=%.2f%%",
		result.TotalReturn*100, result.FinalEquity, result.NumTrades, result.TotalCommission, result.MaxDrawdown*100)
	return nil
}

func runWalkForward(ctx context.Context, cfg *blcfg.Config, engineCfg backtest.Config, def strategy.Definition, bars []types.Bar) error {
	analyzer, err := walkforward.New(walkforward.Config{
		TrainSize:       cfg.WalkForward.TrainSize,
		TestSize:        cfg.WalkForward.TestSize,
		StepSize:        cfg.WalkForward.StepSize,
		Anchor:          cfg.WalkForward.Anchor,
		Objective:       cfg.WalkForward.Objective,
		MaxCombinations: cfg.Optimize.MaxCombinations,
		Workers:         cfg.Optimize.Workers,
		Seed:            cfg.Optimize.Seed,
	}, engineCfg, def, nil)
	if err != nil {
		return err
	}
	report, err := analyzer.Run(ctx, bars)
	if err != nil {
		return err
	}
	logger.Infof("walk-forward 完成: windows=%d train=%d test=%d step=%d anchor=%v",
		report.TotalWindows, report.TrainSize, report.TestSize, report.StepSize, report.Anchor)
	for name, s := range report.Summary {
		logger.Infof("  %-18s train=%.4f±%.4f test=%.4f±%.4f degradation=%+.4f",
			name, s.TrainAvg, s.TrainStd, s.TestAvg, s.TestStd, s.Degradation)
	}
	return nil
}

func defaultParams(def strategy.Definition) map[string]float64 {
	out := make(map[string]float64, len(def.Params))
	for _, p := range def.Params {
		out[p.Name] = p.Default
	}
	return out
}
