// Package countriestest 生成测试用国家边界数据（GeoJSON 与 shapefile）
package countriestest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"latlon-utils/internal/countries"
	"latlon-utils/internal/geo"
)

// Box：矩形外环（逆时针，闭合）
func Box(minLon, minLat, maxLon, maxLat float64) []geo.Point {
	return []geo.Point{
		{Lat: minLat, Lon: minLon}, {Lat: minLat, Lon: maxLon}, {Lat: maxLat, Lon: maxLon},
		{Lat: maxLat, Lon: minLon}, {Lat: minLat, Lon: minLon},
	}
}

func poly(rings ...[]geo.Point) countries.Polygon {
	p := countries.Polygon{Rings: rings, BBox: [4]float64{180, 90, -180, -90}}
	for _, r := range rings {
		for _, pt := range r {
			p.BBox[0] = math.Min(p.BBox[0], pt.Lon)
			p.BBox[1] = math.Min(p.BBox[1], pt.Lat)
			p.BBox[2] = math.Max(p.BBox[2], pt.Lon)
			p.BBox[3] = math.Max(p.BBox[3], pt.Lat)
		}
	}
	return p
}

// World：小型合成世界
//   - Germany 与 France 在 6E 经线共边，Germany 在前
//   - South Africa 带洞，Lesotho 恰好填满该洞且排在其后
//   - Fiji 跨 180 度经线，拆成两块
func World() []countries.Country {
	return []countries.Country{
		{Name: "Germany", Polys: []countries.Polygon{poly(Box(6, 47, 15, 55))}},
		{Name: "France", Polys: []countries.Polygon{poly(Box(-5, 42, 6, 51))}},
		{Name: "South Africa", Polys: []countries.Polygon{poly(Box(16, -35, 33, -22), Box(27, -31, 29, -29))}},
		{Name: "Lesotho", Polys: []countries.Polygon{poly(Box(27, -31, 29, -29))}},
		{Name: "Fiji", Polys: []countries.Polygon{poly(Box(177, -18, 180, -16)), poly(Box(-180, -18, -178, -16))}},
	}
}

type fc struct {
	Type     string `json:"type"`
	Features []ft   `json:"features"`
}

type ft struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   gm             `json:"geometry"`
}

type gm struct {
	Type        string          `json:"type"`
	Coordinates [][][][]float64 `json:"coordinates"`
}

// GeoJSON：以 MultiPolygon 要素编码；名称写入 nameKey 属性（空则为 ADMIN）
func GeoJSON(cs []countries.Country, nameKey string) []byte {
	if nameKey == "" {
		nameKey = "ADMIN"
	}
	out := fc{Type: "FeatureCollection"}
	for _, c := range cs {
		g := gm{Type: "MultiPolygon"}
		for _, p := range c.Polys {
			var rings [][][]float64
			for _, r := range p.Rings {
				var rr [][]float64
				for _, pt := range r {
					rr = append(rr, []float64{pt.Lon, pt.Lat})
				}
				rings = append(rings, rr)
			}
			g.Coordinates = append(g.Coordinates, rings)
		}
		out.Features = append(out.Features, ft{Type: "Feature", Properties: map[string]any{nameKey: c.Name, "ISO_A3": "-99"}, Geometry: g})
	}
	b, err := json.Marshal(out)
	if err != nil {
		panic(err)
	}
	return b
}

// WriteGeoJSON：写出 countries.geojson
func WriteGeoJSON(dir string, cs []countries.Country) (string, error) {
	p := filepath.Join(dir, countries.GeoJSONFile)
	return p, os.WriteFile(p, GeoJSON(cs, ""), 0o644)
}

// Shapefile：生成 .shp/.shx/.dbf 内容；每个 Country 一条面记录，所有环作为 part，ADMIN 为唯一字段
func Shapefile(cs []countries.Country) (shp, shx, dbf []byte) {
	be, le := binary.BigEndian, binary.LittleEndian
	var recs bytes.Buffer
	var index bytes.Buffer
	all := [4]float64{180, 90, -180, -90}
	for i, c := range cs {
		var parts []int32
		var pts []geo.Point
		box := [4]float64{180, 90, -180, -90}
		for _, p := range c.Polys {
			for _, r := range p.Rings {
				parts = append(parts, int32(len(pts)))
				pts = append(pts, r...)
			}
			box[0], box[1] = math.Min(box[0], p.BBox[0]), math.Min(box[1], p.BBox[1])
			box[2], box[3] = math.Max(box[2], p.BBox[2]), math.Max(box[3], p.BBox[3])
		}
		for k := 0; k < 2; k++ {
			all[k] = math.Min(all[k], box[k])
			all[k+2] = math.Max(all[k+2], box[k+2])
		}
		var content bytes.Buffer
		_ = binary.Write(&content, le, int32(5))
		_ = binary.Write(&content, le, box)
		_ = binary.Write(&content, le, int32(len(parts)))
		_ = binary.Write(&content, le, int32(len(pts)))
		_ = binary.Write(&content, le, parts)
		for _, pt := range pts {
			_ = binary.Write(&content, le, [2]float64{pt.Lon, pt.Lat})
		}
		offsetWords := int32((100 + recs.Len()) / 2)
		lenWords := int32(content.Len() / 2)
		_ = binary.Write(&recs, be, int32(i+1))
		_ = binary.Write(&recs, be, lenWords)
		recs.Write(content.Bytes())
		_ = binary.Write(&index, be, offsetWords)
		_ = binary.Write(&index, be, lenWords)
	}
	header := func(totalBytes int) []byte {
		var h bytes.Buffer
		_ = binary.Write(&h, be, int32(9994))
		h.Write(make([]byte, 20))
		_ = binary.Write(&h, be, int32(totalBytes/2))
		_ = binary.Write(&h, le, int32(1000))
		_ = binary.Write(&h, le, int32(5))
		_ = binary.Write(&h, le, all)
		h.Write(make([]byte, 32))
		return h.Bytes()
	}
	shp = append(header(100+recs.Len()), recs.Bytes()...)
	shx = append(header(100+index.Len()), index.Bytes()...)

	const fieldLen = 64
	var d bytes.Buffer
	d.Write([]byte{0x03, 124, 1, 1})
	_ = binary.Write(&d, le, uint32(len(cs)))
	_ = binary.Write(&d, le, uint16(32+32+1))
	_ = binary.Write(&d, le, uint16(1+fieldLen))
	d.Write(make([]byte, 20))
	name := make([]byte, 11)
	copy(name, "ADMIN")
	d.Write(name)
	d.WriteByte('C')
	d.Write(make([]byte, 4))
	d.WriteByte(fieldLen)
	d.WriteByte(0)
	d.Write(make([]byte, 14))
	d.WriteByte(0x0D)
	for _, c := range cs {
		d.WriteByte(' ')
		v := []byte(c.Name)
		for len(v) < fieldLen {
			v = append(v, ' ')
		}
		d.Write(v[:fieldLen])
	}
	d.WriteByte(0x1A)
	return shp, shx, d.Bytes()
}

// WriteShapefile：写出 <dir>/<base>.{shp,shx,dbf,prj}
func WriteShapefile(dir, base string, cs []countries.Country) (string, error) {
	shp, shx, dbf := Shapefile(cs)
	files := map[string][]byte{".shp": shp, ".shx": shx, ".dbf": dbf, ".prj": []byte(wgs84)}
	for ext, b := range files {
		if err := os.WriteFile(filepath.Join(dir, base+ext), b, 0o644); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, base+".shp"), nil
}

// NaturalEarthZip：Natural Earth 风格的 zip，含 shapefile 各分量与一个无关文件
func NaturalEarthZip(cs []countries.Country) []byte {
	shp, shx, dbf := Shapefile(cs)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, b := range map[string][]byte{
		countries.NaturalEarthBase + ".shp": shp,
		countries.NaturalEarthBase + ".shx": shx,
		countries.NaturalEarthBase + ".dbf": dbf,
		countries.NaturalEarthBase + ".prj": []byte(wgs84),
		countries.NaturalEarthBase + ".README.html": []byte("<html></html>"),
		"other_layer.shp": {0},
	} {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		_, _ = w.Write(b)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

const wgs84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
