package countries

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"latlon-utils/internal/geo"
	"latlon-utils/internal/logger"
)

// nameKeys：国家名属性，按优先级依次尝试
var nameKeys = []string{"ADMIN", "name", "NAME", "admin"}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   *geometry      `json:"geometry"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Geometries  []geometry      `json:"geometries"`
}

// LoadGeoJSON：从文件读取国家边界
func LoadGeoJSON(path string) ([]Country, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("countries: read %s: %w", path, err)
	}
	cs, err := ParseGeoJSON(b)
	if err != nil {
		return nil, fmt.Errorf("countries: %s: %w", path, err)
	}
	return cs, nil
}

// ParseGeoJSON：解析 FeatureCollection 或单个 Feature
// 约束：无名称或无几何的要素被跳过；仅支持 Polygon/MultiPolygon/GeometryCollection
func ParseGeoJSON(b []byte) ([]Country, error) {
	var fc featureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, err
	}
	feats := fc.Features
	switch strings.ToLower(fc.Type) {
	case "featurecollection":
	case "feature":
		var f feature
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
		feats = []feature{f}
	default:
		return nil, fmt.Errorf("unexpected geojson type %q", fc.Type)
	}
	out := make([]Country, 0, len(feats))
	skipped := 0
	for i, f := range feats {
		name := nameOf(f.Properties)
		if name == "" || f.Geometry == nil {
			skipped++
			continue
		}
		c := Country{Name: name}
		if err := addPolysFromGeometry(&c, *f.Geometry); err != nil {
			return nil, fmt.Errorf("feature %d (%s): %w", i, name, err)
		}
		if len(c.Polys) == 0 {
			skipped++
			continue
		}
		out = append(out, c)
	}
	logger.L().Debug("countries_geojson_parsed", "countries", len(out), "skipped", skipped)
	return out, nil
}

func nameOf(props map[string]any) string {
	for _, k := range nameKeys {
		if v, ok := props[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func addPolysFromGeometry(c *Country, g geometry) error {
	switch strings.ToLower(g.Type) {
	case "polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return err
		}
		if p, ok := polygonFrom(rings); ok {
			c.Polys = append(c.Polys, p)
		}
	case "multipolygon":
		var parts [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
			return err
		}
		for _, rings := range parts {
			if p, ok := polygonFrom(rings); ok {
				c.Polys = append(c.Polys, p)
			}
		}
	case "geometrycollection":
		for _, sub := range g.Geometries {
			if err := addPolysFromGeometry(c, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func polygonFrom(coords [][][]float64) (Polygon, bool) {
	var rings [][]geo.Point
	for _, ring := range coords {
		rr := make([]geo.Point, 0, len(ring))
		for _, p := range ring {
			if len(p) >= 2 {
				rr = append(rr, geo.Point{Lat: p[1], Lon: p[0]})
			}
		}
		if len(rr) >= 3 {
			rings = append(rings, rr)
		}
	}
	if len(rings) == 0 {
		return Polygon{}, false
	}
	return newPolygon(rings), true
}
