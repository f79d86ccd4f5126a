package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"backlab/internal/backtest"
	"backlab/internal/types"
)

type smaCrossConfig struct {
	Fast int   `mapstructure:"fast"`
	Slow int   `mapstructure:"slow"`
	Size int64 `mapstructure:"size"`
}

// SMACross 双均线策略：快线上穿慢线买入，下穿清仓。
type SMACross struct {
	cfg    smaCrossConfig
	closes []float64
}

func smaCrossDefinition() Definition {
	return Definition{
		Name: "sma_cross",
		Params: []ParamSpec{
			{Name: "fast", Min: 5, Max: 50, Step: 5, Default: 10},
			{Name: "slow", Min: 20, Max: 200, Step: 20, Default: 50},
		},
		New: NewSMACross,
	}
}

// NewSMACross 构造双均线策略。
func NewSMACross(params map[string]any) (backtest.Strategy, error) {
	cfg := smaCrossConfig{Fast: 10, Slow: 50, Size: 100}
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Fast <= 0 || cfg.Slow <= 0 || cfg.Fast >= cfg.Slow {
		return nil, fmt.Errorf("sma_cross 参数非法: fast=%d slow=%d", cfg.Fast, cfg.Slow)
	}
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	return &SMACross{cfg: cfg}, nil
}

func (s *SMACross) Initialize(ctx *backtest.Context) error { return nil }

func (s *SMACross) OnData(ctx *backtest.Context, bar types.Bar) error {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) <= s.cfg.Slow {
		return nil
	}
	fast := talib.Sma(s.closes, s.cfg.Fast)
	slow := talib.Sma(s.closes, s.cfg.Slow)
	last := len(s.closes) - 1
	crossedUp := fast[last] > slow[last] && fast[last-1] <= slow[last-1]
	crossedDown := fast[last] < slow[last] && fast[last-1] >= slow[last-1]

	position := ctx.Portfolio().Position(bar.Symbol)
	if crossedUp && position == 0 {
		_, err := ctx.PlaceOrder(types.OrderSpec{
			Symbol:    bar.Symbol,
			Direction: types.Buy,
			Quantity:  s.cfg.Size,
			Kind:      types.Market,
		})
		return err
	}
	if crossedDown && position > 0 {
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
