package climate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"latlon-utils/internal/geo"
	"latlon-utils/internal/grid"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/metrics"
	"latlon-utils/internal/worldclim"
)

// CellReader：单个变量网格的读取接口
type CellReader interface {
	Index(lat, lon float64) (row, col int)
	Cell(row, col int) ([12]float32, error)
	Close() error
}

// Source：按变量与分辨率打开网格
type Source interface {
	Open(ctx context.Context, variable, res string) (CellReader, error)
}

// EnsureFunc：网格缺失时的获取回调，返回生成的文件路径
type EnsureFunc func(ctx context.Context, dir, variable, res string) (string, error)

// DirSource：从数据目录读取 <var>_<res>.arrow
// 约束：Ensure 非空时网格缺失会触发一次获取后重试；为空时返回 grid.ErrMissing
type DirSource struct {
	Dir    string
	Ensure EnsureFunc
}

func (s DirSource) Open(ctx context.Context, variable, res string) (CellReader, error) {
	p := filepath.Join(s.Dir, worldclim.GridFile(variable, res))
	r, err := grid.Open(p)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, grid.ErrMissing) || s.Ensure == nil {
		return nil, err
	}
	logger.L().Info("grid_missing_download", "variable", variable, "resolution", res, "dir", s.Dir)
	if _, err := s.Ensure(ctx, s.Dir, variable, res); err != nil {
		return nil, err
	}
	if r, err = grid.Open(p); err != nil {
		return nil, err
	}
	return r, nil
}

// Options：查询参数；Variables 为空时使用 tavg 与 prec
type Options struct {
	Resolution string
	Variables  []string
}

// Lookup：对每个点取最近网格单元的 12 个月值并补充季节与年均值
// 约束：越界坐标被夹到边缘单元；结果行顺序与输入一致
func Lookup(ctx context.Context, src Source, points []geo.Point, opts Options) (*Table, error) {
	start := time.Now()
	vars := opts.Variables
	if len(vars) == 0 {
		vars = worldclim.DefaultLookupVariables
	}
	vars, err := worldclim.Expand(vars)
	if err != nil {
		return nil, err
	}
	res := opts.Resolution
	if res == "" {
		res = worldclim.DefaultResolution
	}
	if err := worldclim.ValidateResolution(res); err != nil {
		return nil, err
	}

	t := &Table{Variables: vars, Rows: make([]Row, len(points))}
	for i, p := range points {
		t.Rows[i] = Row{Lat: p.Lat, Lon: geo.NormalizeLon(p.Lon), Climate: make(map[string]Series, len(vars))}
	}
	for _, v := range vars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := fill(ctx, src, t, points, v, res); err != nil {
			return nil, err
		}
	}
	metrics.LookupsTotal.WithLabelValues("climate").Add(float64(len(points)))
	metrics.LookupDurationMs.WithLabelValues("climate").Observe(float64(time.Since(start).Milliseconds()))
	return t, nil
}

func fill(ctx context.Context, src Source, t *Table, points []geo.Point, variable, res string) error {
	r, err := src.Open(ctx, variable, res)
	if err != nil {
		return fmt.Errorf("climate: %s_%s: %w", variable, res, err)
	}
	defer r.Close()

	type cell struct{ i, row, col int }
	cells := make([]cell, len(points))
	for i, p := range points {
		row, col := r.Index(p.Lat, p.Lon)
		cells[i] = cell{i: i, row: row, col: col}
	}
	// 按行排序，使同一批次内的点连续读取
	sort.SliceStable(cells, func(a, b int) bool { return cells[a].row < cells[b].row })
	for _, c := range cells {
		months, err := r.Cell(c.row, c.col)
		if err != nil {
			return fmt.Errorf("climate: %s_%s: %w", variable, res, err)
		}
		t.Rows[c.i].Climate[variable] = newSeries(months)
	}
	return nil
}
