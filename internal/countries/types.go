package countries

import "latlon-utils/internal/geo"

// Unknown：点不在任何国家多边形内时的返回值
const Unknown = "unknown"

// 数据目录内的文件名
const (
	GeoJSONFile      = "countries.geojson"
	NaturalEarthBase = "ne_10m_admin_0_countries"
)

// 文档注释：国家与其几何
// 约束：同名国家可对应多个多边形；列表顺序即数据集中的要素顺序，命中时按此顺序取第一个
type Country struct {
	Name  string
	Polys []Polygon
}

// Polygon：环集合，GeoJSON 约定第一环为外环、其后为洞；shapefile 的多外环多洞也按同一集合存放
type Polygon struct {
	Rings [][]geo.Point
	BBox  [4]float64 // minLon, minLat, maxLon, maxLat
}

func newPolygon(rings [][]geo.Point) Polygon {
	p := Polygon{Rings: rings}
	p.BBox = computeBBox(p)
	return p
}

func computeBBox(p Polygon) [4]float64 {
	b := [4]float64{180, 90, -180, -90}
	for _, r := range p.Rings {
		for _, pt := range r {
			b[0] = min(b[0], pt.Lon)
			b[1] = min(b[1], pt.Lat)
			b[2] = max(b[2], pt.Lon)
			b[3] = max(b[3], pt.Lat)
		}
	}
	return b
}
