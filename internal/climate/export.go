package climate

import (
	"io"
	"math"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/csv"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/goccy/go-json"

	"latlon-utils/internal/worldclim"
)

// Schema：lat、lon 两列后接每个 (变量, 时段) 一列，均为 float64；NaN 导出为空值
func (t *Table) Schema() *arrow.Schema {
	cols := t.Columns()
	fields := make([]arrow.Field, 0, 2+len(cols))
	fields = append(fields,
		arrow.Field{Name: "lat", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "lon", Type: arrow.PrimitiveTypes.Float64},
	)
	for _, c := range cols {
		fields = append(fields, arrow.Field{Name: c.Name(), Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// ToRecord：转为单个 Arrow 记录批次；调用方负责 Release
func (t *Table) ToRecord(mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema := t.Schema()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	lat := b.Field(0).(*array.Float64Builder)
	lon := b.Field(1).(*array.Float64Builder)
	for _, r := range t.Rows {
		lat.Append(r.Lat)
		lon.Append(r.Lon)
	}
	for k, c := range t.Columns() {
		fb := b.Field(2 + k).(*array.Float64Builder)
		pi, _ := worldclim.PeriodIndex(c.Period)
		for _, r := range t.Rows {
			s, ok := r.Climate[c.Variable]
			if !ok || math.IsNaN(s[pi]) {
				fb.AppendNull()
				continue
			}
			fb.Append(s[pi])
		}
	}
	return b.NewRecord()
}

// WriteCSV：带表头的 CSV，空值写为空串
func (t *Table) WriteCSV(w io.Writer) error {
	rec := t.ToRecord(nil)
	defer rec.Release()
	return WriteRecordCSV(w, rec)
}

// WriteParquet：Snappy 压缩的 Parquet 文件
func (t *Table) WriteParquet(w io.Writer) error {
	rec := t.ToRecord(nil)
	defer rec.Release()
	return WriteRecordParquet(w, rec)
}

// WriteRecordCSV：任意记录批次的 CSV 输出，格式同 WriteCSV
func WriteRecordCSV(w io.Writer, rec arrow.Record) error {
	cw := csv.NewWriter(w, rec.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))
	if err := cw.Write(rec); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteRecordParquet：任意记录批次的 Parquet 输出，保留 Arrow schema
func WriteRecordParquet(w io.Writer, rec arrow.Record) error {
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	pw, err := pqarrow.NewFileWriter(rec.Schema(), w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return err
	}
	if err := pw.Write(rec); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}

type jsonRow struct {
	Lat     float64                        `json:"lat"`
	Lon     float64                        `json:"lon"`
	Climate map[string]map[string]*float64 `json:"climate"`
}

// jsonRows：JSON 结构，NaN 以 null 表示
func (t *Table) jsonRows() []jsonRow {
	periods := worldclim.Periods()
	out := make([]jsonRow, len(t.Rows))
	for i, r := range t.Rows {
		jr := jsonRow{Lat: r.Lat, Lon: r.Lon, Climate: make(map[string]map[string]*float64, len(t.Variables))}
		for _, v := range t.Variables {
			s, ok := r.Climate[v]
			if !ok {
				continue
			}
			m := make(map[string]*float64, len(periods))
			for k, p := range periods {
				if math.IsNaN(s[k]) {
					m[p] = nil
					continue
				}
				val := s[k]
				m[p] = &val
			}
			jr.Climate[v] = m
		}
		out[i] = jr
	}
	return out
}

// WriteJSON：{"variables":[...],"rows":[{"lat":..,"lon":..,"climate":{"tavg":{"jan":..}}}]}
func (t *Table) WriteJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(struct {
		Variables []string  `json:"variables"`
		Rows      []jsonRow `json:"rows"`
	}{t.Variables, t.jsonRows()})
}
