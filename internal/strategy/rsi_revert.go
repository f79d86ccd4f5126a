package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"backlab/internal/backtest"
	"backlab/internal/types"
)

type rsiRevertConfig struct {
	Period     int     `mapstructure:"period"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
	Size       int64   `mapstructure:"size"`
}

// RSIRevert 超卖反转策略：RSI 跌破超卖线买入，回到超买线清仓。
type RSIRevert struct {
	cfg    rsiRevertConfig
	closes []float64
}

func rsiRevertDefinition() Definition {
	return Definition{
		Name: "rsi_revert",
		Params: []ParamSpec{
			{Name: "period", Min: 7, Max: 28, Step: 7, Default: 14},
			{Name: "oversold", Min: 20, Max: 40, Step: 5, Default: 30},
			{Name: "overbought", Min: 60, Max: 80, Step: 5, Default: 70},
		},
		New: NewRSIRevert,
	}
}

// NewRSIRevert 构造 RSI 反转策略。
func NewRSIRevert(params map[string]any) (backtest.Strategy, error) {
	cfg := rsiRevertConfig{Period: 14, Oversold: 30, Overbought: 70, Size: 100}
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Period <= 1 {
		return nil, fmt.Errorf("rsi_revert period 非法: %d", cfg.Period)
	}
	if cfg.Oversold >= cfg.Overbought {
		return nil, fmt.Errorf("rsi_revert 阈值非法: oversold=%v overbought=%v", cfg.Oversold, cfg.Overbought)
	}
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	return &RSIRevert{cfg: cfg}, nil
}

func (s *RSIRevert) Initialize(ctx *backtest.Context) error { return nil }

func (s *RSIRevert) OnData(ctx *backtest.Context, bar types.Bar) error {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) <= s.cfg.Period+1 {
		return nil
	}
	rsi := talib.Rsi(s.closes, s.cfg.Period)
	value := rsi[len(rsi)-1]

	position := ctx.Portfolio().Position(bar.Symbol)
	if value < s.cfg.Oversold && position == 0 {
		_, err := ctx.PlaceOrder(types.OrderSpec{
			Symbol:    bar.Symbol,
			Direction: types.Buy,
			Quantity:  s.cfg.Size,
			Kind:      types.Market,
		})
		return err
	}
	if value > s.cfg.Overbought && position > 0 {
		_, err := ctx.PlaceOrder(types.OrderSpec{
			Symbol:    bar.Symbol,
			Direction: types.Sell,
			Quantity:  position,
			Kind:      types.Market,
		})
		return err
	}
	return nil
}
