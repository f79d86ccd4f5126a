package backtest

import (
	"time"

	"backlab/internal/types"
)

// Strategy 是引擎调用策略的能力接口。实现必须是编译期已知的
// 具体类型，引擎不内嵌任何运行时代码执行路径。
type Strategy interface {
	Initialize(ctx *Context) error
	OnData(ctx *Context, bar types.Bar) error
}

// Context 暴露给策略回调：下单、当前时间/价格，以及只读的
// 账户查询句柄。所有方法只能在引擎回调内同步使用。
type Context struct {
	engine *Engine
}

// PlaceOrder 构造并提交订单。校验失败立即返回错误；市价单在
// 当根 K 线收盘价即刻执行（资金/持仓不足时状态为 rejected，
// 不算错误）；其余类型进入订单簿等待触发。
func (c *Context) PlaceOrder(spec types.OrderSpec) (*types.Order, error) {
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = c.engine.now
	}
	order, err := types.NewOrder(spec)
	if err != nil {
		return nil, err
	}
	order.ID = c.engine.nextOrderID()
	if order.Kind == types.Market {
		c.engine.executeMarket(order)
		return order, nil
	}
	if err := c.engine.book.Submit(order); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder 撤销挂单。
func (c *Context) CancelOrder(orderID string) bool {
	return c.engine.book.Cancel(orderID)
}

// Schedule 注册时间规则回调（到期于每根 K 线的事件阶段投递）。
func (c *Context) Schedule(rule ScheduleRule, fn func(*Context)) error {
	_, err := c.engine.sched.add(rule, fn)
	return err
}

// Now 返回当前 K 线时间。
func (c *Context) Now() time.Time { return c.engine.now }

// Price 返回某 symbol 的最新收盘价。
func (c *Context) Price(symbol string) (float64, bool) {
	p, ok := c.engine.lastPrices[symbol]
	return p, ok
}

// Prices 返回最新价格表副本。
func (c *Context) Prices() map[string]float64 {
	out := make(map[string]float64, len(c.engine.lastPrices))
	for s, p := range c.engine.lastPrices {
		out[s] = p
	}
	return out
}

// Portfolio 返回只读账户视图。
func (c *Context) Portfolio() PortfolioView {
	return PortfolioView{ledger: c.engine.ledger, prices: c.engine.lastPrices}
}

// PortfolioView 是账本的查询句柄，不暴露任何改写入口。
type PortfolioView struct {
	ledger *Ledger
	prices map[string]float64
}

func (v PortfolioView) Cash() float64                     { return v.ledger.Cash() }
func (v PortfolioView) Position(symbol string) int64      { return v.ledger.Position(symbol) }
func (v PortfolioView) Positions() map[string]int64       { return v.ledger.Positions() }
func (v PortfolioView) CostBasis(symbol string) float64   { return v.ledger.CostBasis(symbol) }
func (v PortfolioView) RealizedPnL(symbol string) float64 { return v.ledger.RealizedPnL(symbol) }

func (v PortfolioView) Equity() float64 { return v.ledger.TotalEquity(v.prices) }

func (v PortfolioView) Weights() map[string]float64 { return v.ledger.Weights(v.prices) }
