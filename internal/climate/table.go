// 包 climate：最近网格单元的气候值查询、季节与年均值计算以及结果导出
package climate

import (
	"math"

	"latlon-utils/internal/worldclim"
)

// Series：单变量的 17 个时段值，顺序同 worldclim.Periods
type Series [worldclim.NumPeriods]float64

// Period：按标签取值；未知标签返回 NaN
func (s Series) Period(name string) float64 {
	if i, ok := worldclim.PeriodIndex(name); ok {
		return s[i]
	}
	return math.NaN()
}

// newSeries：由 12 个月值计算季节均值与年均值；NaN 不参与平均，全为 NaN 时结果为 NaN
func newSeries(months [12]float32) Series {
	var s Series
	for m, v := range months {
		s[m] = float64(v)
	}
	for i, season := range worldclim.Seasons {
		s[12+i] = nanMean(s[season.Months[0]], s[season.Months[1]], s[season.Months[2]])
	}
	s[worldclim.NumPeriods-1] = nanMean(s[:12]...)
	return s
}

func nanMean(vs ...float64) float64 {
	sum, n := 0.0, 0
	for _, v := range vs {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Row：一个输入点的结果
type Row struct {
	Lat     float64
	Lon     float64
	Climate map[string]Series
}

// Value：变量在某时段的值；缺失返回 NaN
func (r Row) Value(variable, period string) float64 {
	s, ok := r.Climate[variable]
	if !ok {
		return math.NaN()
	}
	return s.Period(period)
}

// Table：与输入点一一对应的结果表
type Table struct {
	Variables []string
	Rows      []Row
}

// Column：导出列 (变量, 时段)
type Column struct {
	Variable string
	Period   string
}

// Name：列名，如 tavg_jan
func (c Column) Name() string { return c.Variable + "_" + c.Period }

// Columns：按变量、时段顺序列出全部数据列
func (t *Table) Columns() []Column {
	periods := worldclim.Periods()
	out := make([]Column, 0, len(t.Variables)*len(periods))
	for _, v := range t.Variables {
		for _, p := range periods {
			out = append(out, Column{Variable: v, Period: p})
		}
	}
	return out
}
