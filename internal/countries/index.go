package countries

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"latlon-utils/internal/geo"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/metrics"
)

// DefaultCacheSize：Index 内置 LRU 的默认容量
const DefaultCacheSize = 4096

const queryEps = 1e-9

// shape：R 树条目，几何为多边形的包围盒，order 为数据集顺序
type shape struct {
	geom.Polygonal
	order   int
	country int
	poly    int
}

// Index：只读国家索引；构建后可并发查询
type Index struct {
	countries []Country
	tree      *rtree.Rtree
	cache     *LRU
	shapes    int
}

// NewIndex：为国家列表构建 R 树；cacheSize<=0 时不启用 LRU
func NewIndex(cs []Country, cacheSize int) *Index {
	x := &Index{countries: cs, tree: rtree.NewTree(25, 50)}
	if cacheSize > 0 {
		x.cache = NewLRU(cacheSize)
	}
	for ci, c := range cs {
		for pi, p := range c.Polys {
			b := p.BBox
			rect := geom.Polygon{{
				{X: b[0], Y: b[1]}, {X: b[2], Y: b[1]}, {X: b[2], Y: b[3]}, {X: b[0], Y: b[3]}, {X: b[0], Y: b[1]},
			}}
			x.tree.Insert(&shape{Polygonal: rect, order: x.shapes, country: ci, poly: pi})
			x.shapes++
		}
	}
	return x
}

// Load：按扩展名选择 GeoJSON 或 shapefile 解析
func Load(path string) ([]Country, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path)
	case ".geojson", ".json":
		return LoadGeoJSON(path)
	}
	return nil, fmt.Errorf("countries: unsupported file %s", path)
}

// Open：加载并构建索引
func Open(path string, cacheSize int) (*Index, error) {
	start := time.Now()
	cs, err := Load(path)
	if err != nil {
		return nil, err
	}
	x := NewIndex(cs, cacheSize)
	logger.L().Info("countries_index_built", "path", path, "countries", len(cs), "polygons", x.shapes,
		"duration_ms", time.Since(start).Milliseconds())
	return x, nil
}

// Len：国家条目数
func (x *Index) Len() int { return len(x.countries) }

// Lookup：返回包含该点的第一个国家名；无命中返回 Unknown
func (x *Index) Lookup(p geo.Point) string {
	p = p.Normalized()
	key := p.Key()
	if x.cache != nil {
		if v, ok := x.cache.Get(key); ok {
			metrics.CacheHitsTotal.WithLabelValues("country_lru").Inc()
			return v
		}
		metrics.CacheMissesTotal.WithLabelValues("country_lru").Inc()
	}
	name := x.lookup(p)
	if name == Unknown {
		metrics.UnknownCountryTotal.Inc()
	}
	if x.cache != nil {
		x.cache.Set(key, name)
	}
	return name
}

func (x *Index) lookup(p geo.Point) string {
	if !p.Valid() {
		return Unknown
	}
	bb := &geom.Bounds{
		Min: geom.Point{X: p.Lon - queryEps, Y: p.Lat - queryEps},
		Max: geom.Point{X: p.Lon + queryEps, Y: p.Lat + queryEps},
	}
	var cands []*shape
	for _, it := range x.tree.SearchIntersect(bb) {
		if s, ok := it.(*shape); ok {
			cands = append(cands, s)
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].order < cands[j].order })
	for _, s := range cands {
		if containsPoint(x.countries[s.country].Polys[s.poly], p) {
			return x.countries[s.country].Name
		}
	}
	return Unknown
}

// LookupAll：逐点查询，结果与输入一一对应
func (x *Index) LookupAll(pts []geo.Point) []string {
	start := time.Now()
	out := make([]string, len(pts))
	for i, p := range pts {
		out[i] = x.Lookup(p)
	}
	metrics.LookupsTotal.WithLabelValues("country").Add(float64(len(pts)))
	metrics.LookupDurationMs.WithLabelValues("country").Observe(float64(time.Since(start).Milliseconds()))
	return out
}
