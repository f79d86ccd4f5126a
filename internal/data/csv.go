// Package data 负责把磁盘上的 OHLCV CSV 解析成校验过的 K 线序列。
// 行情抓取与缓存不在本仓库范围内，CSV 是唯一的输入边界。
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"backlab/internal/types"
)

// LoadCSV 读取 timestamp,open,high,low,close,volume 格式的文件。
// 首行为表头；timestamp 接受 RFC3339 或 Unix 秒/毫秒；可选第七列
// symbol，缺省用 fallbackSymbol。
func LoadCSV(path, fallbackSymbol string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开数据文件失败: %w", err)
	}
	defer f.Close()
	bars, err := parse(f, fallbackSymbol)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	if err := types.ValidateBars(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func parse(r io.Reader, fallbackSymbol string) ([]types.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	if len(header) < 6 {
		return nil, fmt.Errorf("表头至少需要 6 列: %v", header)
	}
	var bars []types.Bar
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		bar, err := parseRecord(record, fallbackSymbol)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseRecord(record []string, fallbackSymbol string) (types.Bar, error) {
	if len(record) < 6 {
		return types.Bar{}, fmt.Errorf("列数不足: %v", record)
	}
	ts, err := parseTimestamp(record[0])
	if err != nil {
		return types.Bar{}, err
	}
	fields := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return types.Bar{}, fmt.Errorf("数值解析失败 %q: %w", record[i+1], err)
		}
		fields[i] = v
	}
	symbol := fallbackSymbol
	if len(record) >= 7 && strings.TrimSpace(record[6]) != "" {
		symbol = strings.ToUpper(strings.TrimSpace(record[6]))
	}
	if symbol == "" {
		return types.Bar{}, fmt.Errorf("缺少 symbol")
	}
	return types.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// 13 位按毫秒，10 位按秒。
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("无法识别的时间戳: %q", raw)
}
