// Package strategy 提供内置策略族。策略是编译期已知的具体类型，
// 通过参数表驱动；不支持运行时加载用户代码。
package strategy

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"backlab/internal/backtest"
)

// ParamSpec 描述一个可优化参数的离散取值范围与缺省值。
type ParamSpec struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
}

// Factory 按参数表构造一个全新的策略实例。每个回测 trial 都要
// 新建实例，策略内部状态不得跨运行复用。
type Factory func(params map[string]any) (backtest.Strategy, error)

// Definition 把策略名、参数空间和工厂绑在一起，优化器据此
// 生成参数组合。
type Definition struct {
	Name   string
	Params []ParamSpec
	New    Factory
}

// Defaults 返回参数缺省值表。
func (d Definition) Defaults() map[string]any {
	out := make(map[string]any, len(d.Params))
	for _, p := range d.Params {
		out[p.Name] = p.Default
	}
	return out
}

func builtins() map[string]Definition {
	defs := []Definition{smaCrossDefinition(), rsiRevertDefinition(), breakoutDefinition()}
	out := make(map[string]Definition, len(defs))
	for _, d := range defs {
		out[d.Name] = d
	}
	return out
}

// Lookup 按名称取内置策略定义。
func Lookup(name string) (Definition, error) {
	def, ok := builtins()[name]
	if !ok {
		return Definition{}, fmt.Errorf("未知策略: %q（可用: %v）", name, Names())
	}
	return def, nil
}

// Names 返回内置策略名列表。
func Names() []string {
	return []string{"sma_cross", "rsi_revert", "breakout"}
}

// decodeParams 用 mapstructure 弱类型解码参数表到策略配置结构。
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("解析策略参数失败: %w", err)
	}
	return nil
}
