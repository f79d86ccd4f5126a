package types

import (
	"fmt"
	"time"
)

// Direction 买卖方向。
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// OrderKind 订单类型。
type OrderKind string

const (
	Market       OrderKind = "market"
	Limit        OrderKind = "limit"
	Stop         OrderKind = "stop"
	StopLimit    OrderKind = "stop_limit"
	TrailingStop OrderKind = "trailing_stop"
)

// TimeInForce 订单有效期规则。
type TimeInForce string

const (
	GoodTillCancelled TimeInForce = "gtc"
	Day               TimeInForce = "day"
	ImmediateOrCancel TimeInForce = "ioc"
	FillOrKill        TimeInForce = "fok"
)

// OrderStatus 订单状态。Filled/Cancelled/Rejected 为终态。
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusFilled          OrderStatus = "filled"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal 判断状态是否为终态。
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// OrderSpec 为构造订单的输入，必填字段随 Kind 不同而变化。
type OrderSpec struct {
	Symbol          string
	Direction       Direction
	Quantity        int64
	Kind            OrderKind
	LimitPrice      float64
	StopPrice       float64
	TrailingAmount  float64
	TrailingPercent float64
	TimeInForce     TimeInForce
	CreatedAt       time.Time
}

// Order 表示一笔策略订单。ID 由引擎按提交顺序分配（保证重放
// 逐字节一致）；其余字段在构造后只由引擎/订单簿修改。
type Order struct {
	ID              string
	Symbol          string
	Direction       Direction
	Quantity        int64
	Kind            OrderKind
	LimitPrice      float64
	StopPrice       float64
	TrailingAmount  float64
	TrailingPercent float64
	TimeInForce     TimeInForce
	Status          OrderStatus
	FilledQuantity  int64
	AvgFillPrice    float64
	CreatedAt       time.Time
}

// NewOrder 校验并构造订单。缺少对应类型的价格字段、数量非正、
// trailing 两字段同时出现都会在此处直接失败。
func NewOrder(spec OrderSpec) (*Order, error) {
	if spec.Symbol == "" {
		return nil, fmt.Errorf("订单 symbol 不能为空")
	}
	if spec.Direction != Buy && spec.Direction != Sell {
		return nil, fmt.Errorf("订单方向非法: %q", spec.Direction)
	}
	if spec.Quantity <= 0 {
		return nil, fmt.Errorf("订单数量必须为正整数: %d", spec.Quantity)
	}
	switch spec.Kind {
	case Market:
	case Limit:
		if spec.LimitPrice <= 0 {
			return nil, fmt.Errorf("limit 订单缺少 limit_price")
		}
	case Stop:
		if spec.StopPrice <= 0 {
			return nil, fmt.Errorf("stop 订单缺少 stop_price")
		}
	case StopLimit:
		if spec.StopPrice <= 0 || spec.LimitPrice <= 0 {
			return nil, fmt.Errorf("stop_limit 订单需要 stop_price 和 limit_price")
		}
	case TrailingStop:
		if spec.TrailingAmount > 0 && spec.TrailingPercent > 0 {
			return nil, fmt.Errorf("trailing_amount 与 trailing_percent 只能设置其一")
		}
		if spec.TrailingAmount <= 0 && spec.TrailingPercent <= 0 {
			return nil, fmt.Errorf("trailing_stop 订单需要 trailing_amount 或 trailing_percent")
		}
	default:
		return nil, fmt.Errorf("未知订单类型: %q", spec.Kind)
	}
	tif := spec.TimeInForce
	if tif == "" {
		tif = GoodTillCancelled
	}
	switch tif {
	case GoodTillCancelled, Day, ImmediateOrCancel, FillOrKill:
	default:
		return nil, fmt.Errorf("未知 time_in_force: %q", tif)
	}
	return &Order{
		Symbol:          spec.Symbol,
		Direction:       spec.Direction,
		Quantity:        spec.Quantity,
		Kind:            spec.Kind,
		LimitPrice:      spec.LimitPrice,
		StopPrice:       spec.StopPrice,
		TrailingAmount:  spec.TrailingAmount,
		TrailingPercent: spec.TrailingPercent,
		TimeInForce:     tif,
		Status:          StatusPending,
		CreatedAt:       spec.CreatedAt,
	}, nil
}
