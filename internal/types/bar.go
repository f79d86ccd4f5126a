package types

import (
	"fmt"
	"time"
)

// Bar 表示一根 OHLCV K 线，输入后不可变。
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// ValidateBars 校验序列非空且时间戳严格递增。
func ValidateBars(bars []Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("bar 序列不能为空")
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar 时间戳必须严格递增: index=%d ts=%s prev=%s",
				i, bars[i].Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
