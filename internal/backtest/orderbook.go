package backtest

import (
	"fmt"
	"time"

	"backlab/internal/types"
)

// PendingFill 是订单簿判定出的候选成交：价格按触发规则给出，
// 资金/持仓校验由引擎在记账前完成。
type PendingFill struct {
	Order        *types.Order
	Price        float64
	WithSlippage bool
}

// OrderBook 持有未成交的非市价订单，按 symbol 分桶，桶内保持
// 提交顺序以保证重放确定性。每根 K 线由引擎调用 Evaluate。
type OrderBook struct {
	pending map[string][]*types.Order
}

func NewOrderBook() *OrderBook {
	return &OrderBook{pending: make(map[string][]*types.Order)}
}

// Submit 登记一笔待触发订单。市价单不进订单簿，由引擎即刻执行。
func (b *OrderBook) Submit(order *types.Order) error {
	if order == nil {
		return fmt.Errorf("订单不能为空")
	}
	if order.Kind == types.Market {
		return fmt.Errorf("市价单不进入订单簿")
	}
	if order.Status != types.StatusPending {
		return fmt.Errorf("订单状态 %s 不可提交", order.Status)
	}
	b.pending[order.Symbol] = append(b.pending[order.Symbol], order)
	return nil
}

// Cancel 撤销指定订单，返回是否找到。
func (b *OrderBook) Cancel(orderID string) bool {
	for symbol, orders := range b.pending {
		for i, o := range orders {
			if o.ID == orderID {
				o.Status = types.StatusCancelled
				b.pending[symbol] = append(orders[:i], orders[i+1:]...)
				return true
			}
		}
	}
	return false
}

// PendingCount 返回某 symbol 的挂单数。
func (b *OrderBook) PendingCount(symbol string) int {
	return len(b.pending[symbol])
}

// Evaluate 用当根 K 线的 High/Low/Close 检查该 symbol 的全部挂单：
// 触发的订单移出订单簿并返回候选成交；day 单跨日失效；
// ioc/fok 单首次评估未成交即撤销。
func (b *OrderBook) Evaluate(symbol string, high, low, close float64, now time.Time) []PendingFill {
	orders := b.pending[symbol]
	if len(orders) == 0 {
		return nil
	}
	var fills []PendingFill
	var keep []*types.Order
	for _, o := range orders {
		if o.TimeInForce == types.Day && !sameDate(o.CreatedAt, now) {
			o.Status = types.StatusCancelled
			continue
		}
		price, slip, triggered := triggerPrice(o, high, low, close)
		if triggered {
			fills = append(fills, PendingFill{Order: o, Price: price, WithSlippage: slip})
			continue
		}
		if o.TimeInForce == types.ImmediateOrCancel || o.TimeInForce == types.FillOrKill {
			o.Status = types.StatusCancelled
			continue
		}
		keep = append(keep, o)
	}
	if len(keep) == 0 {
		delete(b.pending, symbol)
	} else {
		b.pending[symbol] = keep
	}
	return fills
}

// triggerPrice 实现各类型的触发规则。trailing 止损价每根 K 线
// 相对当根 close 重算，不追踪提交以来的极值。
func triggerPrice(o *types.Order, high, low, close float64) (price float64, withSlippage, triggered bool) {
	switch o.Kind {
	case types.Limit:
		return limitPrice(o.Direction, o.LimitPrice, high, low, close)
	case types.Stop:
		return stopPrice(o.Direction, o.StopPrice, high, low, close)
	case types.StopLimit:
		if _, _, ok := stopPrice(o.Direction, o.StopPrice, high, low, close); !ok {
			return 0, false, false
		}
		return limitPrice(o.Direction, o.LimitPrice, high, low, close)
	case types.TrailingStop:
		var stop float64
		if o.Direction == types.Sell {
			if o.TrailingPercent > 0 {
				stop = close * (1 - o.TrailingPercent)
			} else {
				stop = close - o.TrailingAmount
			}
		} else {
			if o.TrailingPercent > 0 {
				stop = close * (1 + o.TrailingPercent)
			} else {
				stop = close + o.TrailingAmount
			}
		}
		return stopPrice(o.Direction, stop, high, low, close)
	default:
		return 0, false, false
	}
}

func limitPrice(dir types.Direction, limit, high, low, close float64) (float64, bool, bool) {
	if dir == types.Buy {
		if low <= limit {
			return min(limit, close), false, true
		}
		return 0, false, false
	}
	if high >= limit {
		return max(limit, close), false, true
	}
	return 0, false, false
}

func stopPrice(dir types.Direction, stop, high, low, close float64) (float64, bool, bool) {
	if dir == types.Buy {
		if high >= stop {
			return max(stop, close), true, true
		}
		return 0, false, false
	}
	if low <= stop {
		return min(stop, close), true, true
	}
	return 0, false, false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
