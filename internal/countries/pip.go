package countries

import (
	"math"

	"latlon-utils/internal/geo"
)

const edgeEps = 1e-12

// 文档注释：点入多边形判定（Even-Odd）
// 背景：对 R 树给出的候选执行精确判定；所有环共同参与奇偶计数，洞与多外环同样适用
// 约束：多边形为闭集，点落在任一环的边或顶点上即视为命中
func containsPoint(poly Polygon, pt geo.Point) bool {
	if !inBBox(pt, poly.BBox) {
		return false
	}
	inside := false
	for _, ring := range poly.Rings {
		if len(ring) < 2 {
			continue
		}
		if onRing(pt, ring) {
			return true
		}
		if pointInRing(pt, ring) {
			inside = !inside
		}
	}
	return inside
}

// 射线法判定点是否在环内；环可闭合也可不闭合
func pointInRing(pt geo.Point, ring []geo.Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt.Lon, pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func onRing(pt geo.Point, ring []geo.Point) bool {
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(pt, ring[j], ring[i]) {
			return true
		}
	}
	return false
}

func onSegment(p, a, b geo.Point) bool {
	if p.Lon < math.Min(a.Lon, b.Lon)-edgeEps || p.Lon > math.Max(a.Lon, b.Lon)+edgeEps ||
		p.Lat < math.Min(a.Lat, b.Lat)-edgeEps || p.Lat > math.Max(a.Lat, b.Lat)+edgeEps {
		return false
	}
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	scale := math.Max(1, math.Abs(b.Lon-a.Lon)+math.Abs(b.Lat-a.Lat))
	return math.Abs(cross) <= edgeEps*scale
}

// 快速包围盒过滤（闭区间）
func inBBox(pt geo.Point, b [4]float64) bool {
	return pt.Lon >= b[0] && pt.Lon <= b[2] && pt.Lat >= b[1] && pt.Lat <= b[3]
}
