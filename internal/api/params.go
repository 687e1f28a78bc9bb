package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"latlon-utils/internal/geo"
)

// ErrParam：请求参数缺失或无法解析
var ErrParam = errors.New("bad request parameter")

// MaxPoints：单次请求允许的坐标数上限
const MaxPoints = 10000

// 文档注释：解析 lat/lon 参数
// 背景：支持逗号分隔与重复参数两种写法，如 lat=1,2&lon=3,4 或 lat=1&lat=2&lon=3&lon=4
// 约束：两者数量必须一致且不超过 MaxPoints；非数字与 NaN/Inf 直接拒绝
func parsePoints(r *http.Request) ([]geo.Point, error) {
	q := r.URL.Query()
	lats, err := floatList(q["lat"])
	if err != nil {
		return nil, fmt.Errorf("%w: lat: %v", ErrParam, err)
	}
	lons, err := floatList(q["lon"])
	if err != nil {
		return nil, fmt.Errorf("%w: lon: %v", ErrParam, err)
	}
	if len(lats) == 0 {
		return nil, fmt.Errorf("%w: lat and lon are required", ErrParam)
	}
	if len(lats) > MaxPoints {
		return nil, fmt.Errorf("%w: at most %d points per request", ErrParam, MaxPoints)
	}
	pts, ok := geo.Zip(lats, lons)
	if !ok {
		return nil, fmt.Errorf("%w: %d lats, %d lons", ErrParam, len(lats), len(lons))
	}
	return pts, nil
}

func floatList(vals []string) ([]float64, error) {
	var out []float64
	for _, v := range vals {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			f, err := geo.ParseCoord(s)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// parseVars：vars 同样支持逗号与重复参数；为空时返回 nil，由查询层使用缺省变量
func parseVars(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["vars"] {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
