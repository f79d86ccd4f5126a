package backtest

import (
	"time"

	"backlab/internal/types"
)

// EquitySnapshot 是每根 K 线落账后的权益快照。
type EquitySnapshot struct {
	At        time.Time        `json:"at"`
	Cash      float64          `json:"cash"`
	Equity    float64          `json:"equity"`
	Positions map[string]int64 `json:"positions"`
}

// Ledger 是账户状态的唯一持有者：现金、持仓、加权平均成本、
// 已实现盈亏与流水。校验（资金是否足够、持仓是否可卖）是
// 引擎在调用 RecordFill 之前的责任，Ledger 假定传入的成交
// 已经合法。
type Ledger struct {
	cash      float64
	positions map[string]int64
	costBasis map[string]float64
	totalCost map[string]float64
	realized  map[string]float64
	log       []types.Transaction
	snapshots []EquitySnapshot
}

func NewLedger(initialCash float64) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[string]int64),
		costBasis: make(map[string]float64),
		totalCost: make(map[string]float64),
		realized:  make(map[string]float64),
	}
}

// RecordFill 落账一笔成交。买入时重算加权平均成本：
// (old_total_cost + qty*price + commission) / (old_qty + qty)；
// 卖出时成本基数不变，total_cost 按比例扣减，
// (卖价 - 成本) * 数量 - 手续费 计入已实现盈亏。
func (l *Ledger) RecordFill(f types.Fill) {
	notional := float64(f.Quantity) * f.Price
	var cashDelta, realizedDelta float64
	if f.Direction == types.Buy {
		cashDelta = -(notional + f.Commission)
		l.cash += cashDelta
		l.totalCost[f.Symbol] += notional + f.Commission
		l.positions[f.Symbol] += f.Quantity
		l.costBasis[f.Symbol] = l.totalCost[f.Symbol] / float64(l.positions[f.Symbol])
	} else {
		cashDelta = notional - f.Commission
		l.cash += cashDelta
		basis := l.costBasis[f.Symbol]
		realizedDelta = (f.Price-basis)*float64(f.Quantity) - f.Commission
		l.realized[f.Symbol] += realizedDelta
		l.totalCost[f.Symbol] -= basis * float64(f.Quantity)
		l.positions[f.Symbol] -= f.Quantity
		if l.positions[f.Symbol] == 0 {
			delete(l.positions, f.Symbol)
			delete(l.costBasis, f.Symbol)
			delete(l.totalCost, f.Symbol)
		}
	}
	l.log = append(l.log, types.Transaction{Fill: f, CashDelta: cashDelta, RealizedPnL: realizedDelta})
}

// Snapshot 追加一条权益快照。
func (l *Ledger) Snapshot(at time.Time, lastPrices map[string]float64) EquitySnapshot {
	positions := make(map[string]int64, len(l.positions))
	for s, q := range l.positions {
		positions[s] = q
	}
	snap := EquitySnapshot{
		At:        at,
		Cash:      l.cash,
		Equity:    l.TotalEquity(lastPrices),
		Positions: positions,
	}
	l.snapshots = append(l.snapshots, snap)
	return snap
}

// Cash 返回当前现金。
func (l *Ledger) Cash() float64 { return l.cash }

// Position 返回某 symbol 的带符号持仓，无持仓为 0。
func (l *Ledger) Position(symbol string) int64 { return l.positions[symbol] }

// Positions 返回持仓副本。
func (l *Ledger) Positions() map[string]int64 {
	out := make(map[string]int64, len(l.positions))
	for s, q := range l.positions {
		out[s] = q
	}
	return out
}

// CostBasis 返回某 symbol 的加权平均成本。
func (l *Ledger) CostBasis(symbol string) float64 { return l.costBasis[symbol] }

// RealizedPnL 返回某 symbol 的累计已实现盈亏。
func (l *Ledger) RealizedPnL(symbol string) float64 { return l.realized[symbol] }

// RealizedPnLAll 返回已实现盈亏副本。
func (l *Ledger) RealizedPnLAll() map[string]float64 {
	out := make(map[string]float64, len(l.realized))
	for s, v := range l.realized {
		out[s] = v
	}
	return out
}

// TotalEquity = cash + Σ position * last_price。
func (l *Ledger) TotalEquity(lastPrices map[string]float64) float64 {
	equity := l.cash
	for s, q := range l.positions {
		equity += float64(q) * lastPrices[s]
	}
	return equity
}

// Weights 返回各 symbol 市值占总权益的比例。
func (l *Ledger) Weights(lastPrices map[string]float64) map[string]float64 {
	equity := l.TotalEquity(lastPrices)
	out := make(map[string]float64, len(l.positions))
	if equity == 0 {
		return out
	}
	for s, q := range l.positions {
		out[s] = float64(q) * lastPrices[s] / equity
	}
	return out
}

// Transactions 返回流水副本。
func (l *Ledger) Transactions() []types.Transaction {
	return append([]types.Transaction(nil), l.log...)
}

// Snapshots 返回权益快照序列副本。
func (l *Ledger) Snapshots() []EquitySnapshot {
	return append([]EquitySnapshot(nil), l.snapshots...)
}
