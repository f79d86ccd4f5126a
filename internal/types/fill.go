package types

import "time"

// Fill 记录一次订单成交。
type Fill struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

// Transaction 为账本流水的一条记录（追加写，不修改）。
type Transaction struct {
	Fill        Fill    `json:"fill"`
	CashDelta   float64 `json:"cash_delta"`
	RealizedPnL float64 `json:"realized_pnl"`
}
