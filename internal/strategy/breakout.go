package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"backlab/internal/backtest"
	"backlab/internal/types"
)

type breakoutConfig struct {
	Lookback     int     `mapstructure:"lookback"`
	TrailPercent float64 `mapstructure:"trail_percent"`
	Size         int64   `mapstructure:"size"`
}

// Breakout 突破策略：在近 N 根最高价上方挂 stop 买单（每根 K 线
// 随区间撤旧挂新），入场后用 trailing stop 离场。主要通过订单簿
// 触发成交，而不是市价单。
type Breakout struct {
	cfg        breakoutConfig
	highs      []float64
	entryOrder string
	exitOrder  string
}

func breakoutDefinition() Definition {
	return Definition{
		Name: "breakout",
		Params: []ParamSpec{
			{Name: "lookback", Min: 10, Max: 60, Step: 10, Default: 20},
			{Name: "trail_percent", Min: 0.02, Max: 0.1, Step: 0.02, Default: 0.05},
		},
		New: NewBreakout,
	}
}

// NewBreakout 构造突破策略。
func NewBreakout(params map[string]any) (backtest.Strategy, error) {
	cfg := breakoutConfig{Lookback: 20, TrailPercent: 0.05, Size: 100}
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Lookback <= 1 {
		return nil, fmt.Errorf("breakout lookback 非法: %d", cfg.Lookback)
	}
	if cfg.TrailPercent <= 0 || cfg.TrailPercent >= 1 {
		return nil, fmt.Errorf("breakout trail_percent 非法: %v", cfg.TrailPercent)
	}
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	return &Breakout{cfg: cfg}, nil
}

func (s *Breakout) Initialize(ctx *backtest.Context) error { return nil }

func (s *Breakout) OnData(ctx *backtest.Context, bar types.Bar) error {
	s.highs = append(s.highs, bar.High)
	if len(s.highs) <= s.cfg.Lookback {
		return nil
	}
	position := ctx.Portfolio().Position(bar.Symbol)
	if position == 0 {
		s.exitOrder = ""
		// 每根 K 线随区间撤旧挂新，入场单始终跟踪最新突破位。
		if s.entryOrder != "" {
			ctx.CancelOrder(s.entryOrder)
			s.entryOrder = ""
		}
		window := s.highs[len(s.highs)-1-s.cfg.Lookback : len(s.highs)-1]
		level := talib.Max(window, len(window))[len(window)-1]
		if level <= bar.Close {
			return nil
		}
		order, err := ctx.PlaceOrder(types.OrderSpec{
			Symbol:    bar.Symbol,
			Direction: types.Buy,
			Quantity:  s.cfg.Size,
			Kind:      types.Stop,
			StopPrice: level,
		})
		if err != nil {
			return err
		}
		s.entryOrder = order.ID
		return nil
	}
	if s.exitOrder == "" {
		order, err := ctx.PlaceOrder(types.OrderSpec{
			Symbol:          bar.Symbol,
			Direction:       types.Sell,
			Quantity:        position,
			Kind:            types.TrailingStop,
			TrailingPercent: s.cfg.TrailPercent,
		})
		if err != nil {
			return err
		}
		s.exitOrder = order.ID
	}
	return nil
}
