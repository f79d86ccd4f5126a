// Package optimize 实现参数网格搜索与并行回测执行器。
package optimize

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"backlab/internal/strategy"
)

// Grid 生成参数空间的笛卡尔积。组合总数超过 maxCombos 时按
// seed 均匀抽样（给定 seed 结果可复现）。
func Grid(specs []strategy.ParamSpec, maxCombos int, seed int64) []map[string]float64 {
	if len(specs) == 0 {
		return nil
	}
	values := make([][]float64, len(specs))
	for i, spec := range specs {
		values[i] = discretize(spec)
	}
	total := 1
	overflow := false
	for _, vs := range values {
		if total > 1<<30/len(vs) {
			overflow = true
			break
		}
		total *= len(vs)
	}
	if maxCombos <= 0 {
		maxCombos = 1000
	}
	if overflow || total > maxCombos {
		return sampleCombos(specs, values, maxCombos, seed)
	}
	combos := make([]map[string]float64, 0, total)
	for idx := 0; idx < total; idx++ {
		combos = append(combos, comboAt(specs, values, idx))
	}
	return combos
}

func discretize(spec strategy.ParamSpec) []float64 {
	if spec.Step <= 0 || spec.Max < spec.Min {
		return []float64{spec.Default}
	}
	var out []float64
	for v := spec.Min; v <= spec.Max+spec.Step/1e9; v += spec.Step {
		out = append(out, v)
	}
	if len(out) == 0 {
		out = []float64{spec.Default}
	}
	return out
}

// comboAt 把扁平下标按混合进制展开成一个组合。
func comboAt(specs []strategy.ParamSpec, values [][]float64, idx int) map[string]float64 {
	combo := make(map[string]float64, len(specs))
	for i := len(specs) - 1; i >= 0; i-- {
		n := len(values[i])
		combo[specs[i].Name] = values[i][idx%n]
		idx /= n
	}
	return combo
}

func sampleCombos(specs []strategy.ParamSpec, values [][]float64, count int, seed int64) []map[string]float64 {
	rng := rand.New(rand.NewSource(seed))
	seen := make(map[string]bool, count)
	combos := make([]map[string]float64, 0, count)
	for len(combos) < count {
		combo := make(map[string]float64, len(specs))
		for i, spec := range specs {
			combo[spec.Name] = values[i][rng.Intn(len(values[i]))]
		}
		key := comboKey(specs, combo)
		if seen[key] {
			continue
		}
		seen[key] = true
		combos = append(combos, combo)
	}
	return combos
}

func comboKey(specs []strategy.ParamSpec, combo map[string]float64) string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(combo[n], 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}
