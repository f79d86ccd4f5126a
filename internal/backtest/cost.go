package backtest

import (
	"fmt"

	"github.com/shopspring/decimal"

	"backlab/internal/types"
)

const (
	CommissionFixed      = "fixed"
	CommissionPercentage = "percentage"
)

// CostModel 把 (订单, 参考价) 映射为 (成交价, 手续费)。
// 滑点按方向劣化成交价：买入抬价、卖出压价；限价类成交
// 价格由触发规则给出，不再叠加滑点。
type CostModel struct {
	Commission     float64
	CommissionType string
	Slippage       float64
}

// NewCostModel 校验并构造成本模型。
func NewCostModel(commission float64, commissionType string, slippage float64) (CostModel, error) {
	if commission < 0 {
		return CostModel{}, fmt.Errorf("commission 不能为负: %v", commission)
	}
	if slippage < 0 {
		return CostModel{}, fmt.Errorf("slippage 不能为负: %v", slippage)
	}
	if commissionType == "" {
		commissionType = CommissionFixed
	}
	if commissionType != CommissionFixed && commissionType != CommissionPercentage {
		return CostModel{}, fmt.Errorf("commission_type 非法: %q", commissionType)
	}
	return CostModel{Commission: commission, CommissionType: commissionType, Slippage: slippage}, nil
}

// ExecutionPrice 返回叠加滑点后的成交价，保留 8 位小数。
func (m CostModel) ExecutionPrice(dir types.Direction, refPrice float64) float64 {
	adj := refPrice
	if m.Slippage > 0 {
		if dir == types.Buy {
			adj = refPrice * (1 + m.Slippage)
		} else {
			adj = refPrice * (1 - m.Slippage)
		}
	}
	out, _ := decimal.NewFromFloat(adj).Round(8).Float64()
	return out
}

// CommissionFor 按固定额或成交额比例计算手续费。
func (m CostModel) CommissionFor(quantity int64, price float64) float64 {
	if m.CommissionType == CommissionPercentage {
		fee, _ := decimal.NewFromFloat(float64(quantity) * price * m.Commission).Round(8).Float64()
		return fee
	}
	return m.Commission
}

// Apply 同时计算成交价与手续费。withSlippage 控制是否叠加滑点
//（市价/止损触发走滑点，限价成交不走）。
func (m CostModel) Apply(dir types.Direction, refPrice float64, quantity int64, withSlippage bool) (price, commission float64) {
	if withSlippage {
		price = m.ExecutionPrice(dir, refPrice)
	} else {
		price = refPrice
	}
	return price, m.CommissionFor(quantity, price)
}
