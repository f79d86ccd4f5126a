package backtest

import (
	"fmt"
	"time"

	"backlab/internal/logger"
	"backlab/internal/types"
)

// State 引擎状态机：Idle → Initializing → Running → Finalizing → Done。
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
)

// Config 是单次回测的执行参数。
type Config struct {
	InitialCapital float64
	Commission     float64
	CommissionType string
	Slippage       float64
}

// Engine 逐根 K 线驱动模拟：评估挂单 → 投递定时回调 → 调用策略 →
// 落权益快照。引擎严格单线程，事件队列、订单簿、账本都是每次
// 运行新建的私有值，一个实例只跑一次（WalkForward/优化层每个
// trial 都重新构造）。
type Engine struct {
	cfg      Config
	cost     CostModel
	strategy Strategy

	queue  *EventQueue
	book   *OrderBook
	ledger *Ledger
	sched  *scheduler

	state      State
	now        time.Time
	barIndex   int
	lastPrices map[string]float64

	trades          []types.Fill
	totalCommission float64
	orderSeq        uint64
}

// nextOrderID 按提交顺序分配订单号，重放时逐字节一致。
func (e *Engine) nextOrderID() string {
	e.orderSeq++
	return fmt.Sprintf("ord-%06d", e.orderSeq)
}

// New 校验配置并构造引擎。
func New(cfg Config, strategy Strategy) (*Engine, error) {
	if strategy == nil {
		return nil, fmt.Errorf("strategy 不能为空")
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial_capital 必须为正: %v", cfg.InitialCapital)
	}
	cost, err := NewCostModel(cfg.Commission, cfg.CommissionType, cfg.Slippage)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		cost:       cost,
		strategy:   strategy,
		queue:      NewEventQueue(),
		book:       NewOrderBook(),
		ledger:     NewLedger(cfg.InitialCapital),
		sched:      newScheduler(),
		state:      StateIdle,
		lastPrices: make(map[string]float64),
	}, nil
}

// State 返回当前状态。
func (e *Engine) State() State { return e.state }

// Run 执行一次完整回测。输入校验失败立即返回错误；策略回调
// 抛出（error 或 panic）只丢弃该根 K 线的决策，不中断运行。
func (e *Engine) Run(bars []types.Bar) (*Result, error) {
	if e.state != StateIdle {
		return nil, fmt.Errorf("engine 不可复用（当前状态 %s），每次运行请重新构造", e.state)
	}
	if err := types.ValidateBars(bars); err != nil {
		return nil, err
	}
	e.state = StateInitializing
	ctx := &Context{engine: e}
	e.now = bars[0].Timestamp
	e.lastPrices[bars[0].Symbol] = bars[0].Open
	if err := e.strategy.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("策略初始化失败: %w", err)
	}

	e.state = StateRunning
	for i, bar := range bars {
		e.barIndex = i
		e.now = bar.Timestamp
		e.lastPrices[bar.Symbol] = bar.Close

		for _, pf := range e.book.Evaluate(bar.Symbol, bar.High, bar.Low, bar.Close, bar.Timestamp) {
			price, commission := e.cost.Apply(pf.Order.Direction, pf.Price, pf.Order.Quantity, pf.WithSlippage)
			fill := &types.Fill{
				OrderID:    pf.Order.ID,
				Symbol:     pf.Order.Symbol,
				Direction:  pf.Order.Direction,
				Quantity:   pf.Order.Quantity,
				Price:      price,
				Commission: commission,
				Timestamp:  bar.Timestamp,
			}
			e.queue.Push(&Event{Kind: EventFill, Order: pf.Order, Fill: fill}, bar.Timestamp)
		}
		for _, task := range e.sched.due(bar.Timestamp) {
			e.queue.Push(&Event{Kind: EventCallback, Task: task}, bar.Timestamp)
		}
		for _, ev := range e.queue.PopDue(bar.Timestamp) {
			switch ev.Kind {
			case EventFill:
				e.applyFill(ev.Order, ev.Fill)
			case EventCallback:
				e.invokeCallback(ctx, ev.Task)
			}
		}

		e.invokeOnData(ctx, bar)
		e.ledger.Snapshot(bar.Timestamp, e.lastPrices)
	}

	e.state = StateFinalizing
	res := buildResult(e.cfg.InitialCapital, e.ledger, e.trades, e.totalCommission)
	e.state = StateDone
	return res, nil
}

// executeMarket 在当根收盘价即刻执行市价单（已知的建模简化：
// 回调中下的市价单按同一根 K 线的 Close 成交，无次日开盘模型）。
func (e *Engine) executeMarket(order *types.Order) {
	ref, ok := e.lastPrices[order.Symbol]
	if !ok || ref <= 0 {
		order.Status = types.StatusRejected
		logger.Debugf("[engine] 市价单 %s 无参考价，已拒绝", order.ID)
		return
	}
	price, commission := e.cost.Apply(order.Direction, ref, order.Quantity, true)
	fill := &types.Fill{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Direction:  order.Direction,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: commission,
		Timestamp:  e.now,
	}
	e.applyFill(order, fill)
}

// applyFill 做资金/持仓校验后落账。校验不过不是异常：
// 订单进入 rejected 终态，不产生成交。
func (e *Engine) applyFill(order *types.Order, fill *types.Fill) {
	if order.Status.Terminal() {
		return
	}
	if fill.Direction == types.Buy {
		cost := float64(fill.Quantity)*fill.Price + fill.Commission
		if cost > e.ledger.Cash() {
			order.Status = types.StatusRejected
			logger.Debugf("[engine] 资金不足拒单: %s 需要 %.2f 现金 %.2f", order.ID, cost, e.ledger.Cash())
			return
		}
	} else {
		if fill.Quantity > e.ledger.Position(fill.Symbol) {
			order.Status = types.StatusRejected
			logger.Debugf("[engine] 持仓不足拒单: %s 卖出 %d 持有 %d", order.ID, fill.Quantity, e.ledger.Position(fill.Symbol))
			return
		}
	}
	e.ledger.RecordFill(*fill)
	order.FilledQuantity = fill.Quantity
	order.AvgFillPrice = fill.Price
	order.Status = types.StatusFilled
	e.trades = append(e.trades, *fill)
	e.totalCommission += fill.Commission
}

func (e *Engine) invokeOnData(ctx *Context, bar types.Bar) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[engine] 策略回调 panic（bar=%d ts=%s）: %v", e.barIndex, bar.Timestamp.Format(time.RFC3339), r)
		}
	}()
	if err := e.strategy.OnData(ctx, bar); err != nil {
		logger.Warnf("[engine] 策略回调失败（bar=%d）: %v", e.barIndex, err)
	}
}

func (e *Engine) invokeCallback(ctx *Context, task *scheduledTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[engine] 定时回调 panic（task=%d）: %v", task.id, r)
		}
	}()
	task.fn(ctx)
}
