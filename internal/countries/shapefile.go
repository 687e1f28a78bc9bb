package countries

import (
	"fmt"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"latlon-utils/internal/geo"
	"latlon-utils/internal/logger"
)

// LoadShapefile：读取 Natural Earth admin-0 shapefile，名称取 ADMIN 字段
// 约束：仅接受面要素；记录顺序即国家顺序
func LoadShapefile(path string) ([]Country, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("countries: open %s: %w", path, err)
	}
	defer d.Close()

	var out []Country
	skipped := 0
	for {
		g, fields, more := d.DecodeRowFields("ADMIN")
		if !more {
			break
		}
		name := strings.TrimSpace(strings.Trim(fields["ADMIN"], "\x00"))
		c := Country{Name: name}
		switch t := g.(type) {
		case geom.Polygon:
			c.Polys = appendGeomPolygon(c.Polys, t)
		case geom.MultiPolygon:
			for _, p := range t {
				c.Polys = appendGeomPolygon(c.Polys, p)
			}
		}
		if name == "" || len(c.Polys) == 0 {
			skipped++
			continue
		}
		out = append(out, c)
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("countries: decode %s: %w", path, err)
	}
	logger.L().Debug("countries_shapefile_parsed", "path", path, "countries", len(out), "skipped", skipped)
	return out, nil
}

// appendGeomPolygon：shapefile 面的全部环（外环与洞混排）放入同一个 Polygon
func appendGeomPolygon(dst []Polygon, p geom.Polygon) []Polygon {
	var rings [][]geo.Point
	for _, ring := range p {
		rr := make([]geo.Point, 0, len(ring))
		for _, pt := range ring {
			rr = append(rr, geo.Point{Lat: pt.Y, Lon: pt.X})
		}
		if len(rr) >= 3 {
			rings = append(rings, rr)
		}
	}
	if len(rings) == 0 {
		return dst
	}
	return append(dst, newPolygon(rings))
}
