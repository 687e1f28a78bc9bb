// 包 geo：经纬度点与经度归一化
package geo

import (
	"fmt"
	"math"
	"strconv"
)

// Point：WGS84 十进制度坐标
type Point struct {
	Lat float64
	Lon float64
}

// NormalizeLon：经度大于 180 时减去 360，使 [-180, 360] 落到 [-180, 180]
// 约束：仅折算一次；其余越界值原样返回，由网格夹边处理
func NormalizeLon(lon float64) float64 {
	if lon > 180 {
		return lon - 360
	}
	return lon
}

// Normalized：返回经度归一化后的点
func (p Point) Normalized() Point {
	return Point{Lat: p.Lat, Lon: NormalizeLon(p.Lon)}
}

// Valid：坐标是否为有限数
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) && !math.IsInf(p.Lat, 0) && !math.IsInf(p.Lon, 0)
}

// Key：精确坐标键，用于缓存；不做量化
func (p Point) Key() string {
	return strconv.FormatFloat(p.Lat, 'g', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'g', -1, 64)
}

// ParseCoord：解析十进制度坐标；NaN 与正负无穷视为错误
func ParseCoord(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return f, nil
}

// Zip：将等长的纬度与经度切片组装为点
func Zip(lats, lons []float64) ([]Point, bool) {
	if len(lats) != len(lons) {
		return nil, false
	}
	pts := make([]Point, len(lats))
	for i := range lats {
		pts[i] = Point{Lat: lats[i], Lon: lons[i]}
	}
	return pts, true
}
