package backtest

import (
	"time"

	"backlab/internal/types"
)

// EquityPoint 资金曲线上的一个点。
type EquityPoint struct {
	At     time.Time `json:"at"`
	Equity float64   `json:"equity"`
}

// Result 是一次回测的产出，供上层风险指标/报表层消费。
type Result struct {
	InitialCapital   float64             `json:"initial_capital"`
	FinalEquity      float64             `json:"final_equity"`
	TotalReturn      float64             `json:"total_return"`
	EquityCurve      []EquityPoint       `json:"equity_curve"`
	Returns          []float64           `json:"returns"`
	Trades           []types.Fill        `json:"trades"`
	NumTrades        int                 `json:"num_trades"`
	TotalCommission  float64             `json:"total_commission"`
	PositionsHistory []EquitySnapshot    `json:"positions_history"`
	RealizedPnL      map[string]float64  `json:"realized_pnl"`
	Transactions     []types.Transaction `json:"transactions"`
	EquityPeak       float64             `json:"equity_peak"`
	MaxDrawdown      float64             `json:"max_drawdown"`
}

// MetricFunc 是风险指标库的协作接口：输入收益序列、资金曲线和
// 成交明细，输出扁平的指标表。本仓库不实现具体公式。
type MetricFunc func(returns []float64, equity []EquityPoint, trades []types.Fill) map[string]float64

// BasicMetrics 返回引擎自身就能给出的基础指标，
// 用于优化目标在未接入外部指标库时的缺省取值。
func (r *Result) BasicMetrics() map[string]float64 {
	realized := 0.0
	for _, v := range r.RealizedPnL {
		realized += v
	}
	return map[string]float64{
		"total_return":     r.TotalReturn,
		"final_equity":     r.FinalEquity,
		"num_trades":       float64(r.NumTrades),
		"total_commission": r.TotalCommission,
		"max_drawdown":     r.MaxDrawdown,
		"realized_pnl":     realized,
	}
}

func buildResult(initialCapital float64, ledger *Ledger, trades []types.Fill, totalCommission float64) *Result {
	snaps := ledger.Snapshots()
	curve := make([]EquityPoint, len(snaps))
	peak := initialCapital
	maxDD := 0.0
	for i, s := range snaps {
		curve[i] = EquityPoint{At: s.At, Equity: s.Equity}
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak > 0 {
			if dd := (peak - s.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	returns := make([]float64, 0, len(curve))
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}
	finalEquity := initialCapital
	if len(curve) > 0 {
		finalEquity = curve[len(curve)-1].Equity
	}
	totalReturn := 0.0
	if initialCapital > 0 {
		totalReturn = finalEquity/initialCapital - 1
	}
	return &Result{
		InitialCapital:   initialCapital,
		FinalEquity:      finalEquity,
		TotalReturn:      totalReturn,
		EquityCurve:      curve,
		Returns:          returns,
		Trades:           append([]types.Fill(nil), trades...),
		NumTrades:        len(trades),
		TotalCommission:  totalCommission,
		PositionsHistory: snaps,
		RealizedPnL:      ledger.RealizedPnLAll(),
		Transactions:     ledger.Transactions(),
		EquityPeak:       peak,
		MaxDrawdown:      maxDD,
	}
}
