// 包 grid：按变量与分辨率组织的 12 个月规则经纬网格，及其 Arrow IPC 本地存储
package grid

import (
	"errors"
	"fmt"
	"math"

	"latlon-utils/internal/geo"
	"latlon-utils/internal/geotiff"
)

var (
	ErrMissing = errors.New("grid file missing")
	ErrCorrupt = errors.New("grid file corrupt")
)

// Transform：网格仿射参数；Lon0 为西边界，Lat0 为北边界，行自北向南
type Transform struct {
	Rows, Cols int
	Lon0, Lat0 float64
	DLon, DLat float64
}

// Index：坐标到最近网格单元
// 约束：越界坐标夹到边缘单元；恰在单元边界上的点归入坐标较大的一侧（经度向东、纬度向北）
func (t Transform) Index(lat, lon float64) (row, col int) {
	lon = geo.NormalizeLon(lon)
	col = clampIndex(math.Floor((lon-t.Lon0)/t.DLon), t.Cols)
	row = clampIndex(math.Ceil((t.Lat0-lat)/t.DLat)-1, t.Rows)
	return row, col
}

// Center：单元中心坐标
func (t Transform) Center(row, col int) (lat, lon float64) {
	return t.Lat0 - (float64(row)+0.5)*t.DLat, t.Lon0 + (float64(col)+0.5)*t.DLon
}

// Bounds：外边界 minLon, minLat, maxLon, maxLat
func (t Transform) Bounds() [4]float64 {
	return [4]float64{t.Lon0, t.Lat0 - float64(t.Rows)*t.DLat, t.Lon0 + float64(t.Cols)*t.DLon, t.Lat0}
}

func (t Transform) valid() bool {
	return t.Rows > 0 && t.Cols > 0 && t.DLon > 0 && t.DLat > 0 &&
		!math.IsNaN(t.Lon0) && !math.IsNaN(t.Lat0)
}

func clampIndex(f float64, n int) int {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > float64(n-1):
		return n - 1
	}
	return int(f)
}

// Grid：单变量单分辨率的完整内存网格
type Grid struct {
	Transform
	Variable   string
	Resolution string

	// Months[m] 为第 m 月的行优先数据，长度 Rows*Cols；NoData 为 NaN
	Months [12][]float32
	Attrs  map[string]string
}

// Cell：某单元的 12 个月值
func (g *Grid) Cell(row, col int) [12]float32 {
	var out [12]float32
	i := row*g.Cols + col
	for m := range out {
		out[m] = g.Months[m][i]
	}
	return out
}

// FromRasters：把 12 个月的栅格叠成网格
// 约束：各月尺寸与地理参考必须一致
func FromRasters(variable, res string, months [12]*geotiff.Raster) (*Grid, error) {
	first := months[0]
	if first == nil {
		return nil, fmt.Errorf("grid: month 1 missing")
	}
	g := &Grid{
		Transform: Transform{
			Rows: first.Height, Cols: first.Width,
			Lon0: first.OriginX, Lat0: first.OriginY,
			DLon: first.PixelX, DLat: first.PixelY,
		},
		Variable:   variable,
		Resolution: res,
		Attrs:      map[string]string{},
	}
	for m, r := range months {
		if r == nil {
			return nil, fmt.Errorf("grid: month %d missing", m+1)
		}
		if r.Width != first.Width || r.Height != first.Height ||
			!near(r.OriginX, first.OriginX) || !near(r.OriginY, first.OriginY) ||
			!near(r.PixelX, first.PixelX) || !near(r.PixelY, first.PixelY) {
			return nil, fmt.Errorf("grid: month %d shape differs from month 1", m+1)
		}
		g.Months[m] = r.Data
	}
	return g, nil
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(a))
}

// Window：中心落在 [latMin,latMax]x[lonMin,lonMax] 内的单元范围
// 约束：窗口不跨越 180 度经线；不含任何单元时返回错误
func (t Transform) Window(latMin, latMax, lonMin, lonMax float64) (geotiff.Window, error) {
	b := t.Bounds()
	outside := latMax < b[1] || latMin > b[3] || lonMax < b[0] || lonMin > b[2]
	r0 := clampIndex(math.Ceil((t.Lat0-latMax)/t.DLat-0.5), t.Rows)
	r1 := clampIndex(math.Floor((t.Lat0-latMin)/t.DLat-0.5), t.Rows)
	c0 := clampIndex(math.Ceil((lonMin-t.Lon0)/t.DLon-0.5), t.Cols)
	c1 := clampIndex(math.Floor((lonMax-t.Lon0)/t.DLon-0.5), t.Cols)
	if outside || latMin > latMax || lonMin > lonMax || r0 > r1 || c0 > c1 {
		return geotiff.Window{}, fmt.Errorf("grid: subset lat [%g,%g] lon [%g,%g] selects no cells", latMin, latMax, lonMin, lonMax)
	}
	return geotiff.Window{Row: r0, Col: c0, Rows: r1 - r0 + 1, Cols: c1 - c0 + 1}, nil
}
