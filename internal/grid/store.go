package grid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"latlon-utils/internal/logger"
	"latlon-utils/internal/worldclim"
)

// 文档注释：网格文件为 Arrow IPC 文件格式，12 列（jan..dec，float32），每行一个单元，行优先（北到南、西到东）
// 背景：按行块切分记录批次，查询时只解码命中的批次；几何参数与属性写入 schema 元数据
// 约束：写入先落盘到同目录临时文件，fsync 后重命名，读者不会看到半成品

const batchCells = 1 << 18

const (
	mdVariable     = "variable"
	mdResolution   = "resolution"
	mdRows         = "rows"
	mdCols         = "cols"
	mdLon0         = "lon0"
	mdLat0         = "lat0"
	mdDLon         = "dlon"
	mdDLat         = "dlat"
	mdRowsPerBatch = "rows_per_batch"
)

var reserved = map[string]bool{
	mdVariable: true, mdResolution: true, mdRows: true, mdCols: true, mdLon0: true,
	mdLat0: true, mdDLon: true, mdDLat: true, mdRowsPerBatch: true,
}

func rowsPerBatch(cols int) int {
	if n := batchCells / cols; n > 1 {
		return n
	}
	return 1
}

func schemaFor(g *Grid, rpb int) *arrow.Schema {
	fields := make([]arrow.Field, len(worldclim.Months))
	for m, name := range worldclim.Months {
		fields[m] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float32}
	}
	keys := []string{mdVariable, mdResolution, mdRows, mdCols, mdLon0, mdLat0, mdDLon, mdDLat, mdRowsPerBatch}
	vals := []string{
		g.Variable, g.Resolution,
		strconv.Itoa(g.Rows), strconv.Itoa(g.Cols),
		ftoa(g.Lon0), ftoa(g.Lat0), ftoa(g.DLon), ftoa(g.DLat),
		strconv.Itoa(rpb),
	}
	extra := make([]string, 0, len(g.Attrs))
	for k := range g.Attrs {
		if !reserved[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		keys = append(keys, k)
		vals = append(vals, g.Attrs[k])
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(fields, &md)
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// Write：写出网格文件
func Write(path string, g *Grid) (err error) {
	if !g.valid() {
		return fmt.Errorf("grid: write %s: %w: invalid transform", path, ErrCorrupt)
	}
	for m := range g.Months {
		if len(g.Months[m]) != g.Rows*g.Cols {
			return fmt.Errorf("grid: write %s: %w: month %d has %d cells, want %d", path, ErrCorrupt, m+1, len(g.Months[m]), g.Rows*g.Cols)
		}
	}
	l := logger.L()
	rpb := rowsPerBatch(g.Cols)
	schema := schemaFor(g, rpb)

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("grid: write %s: %w", path, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	mem := memory.NewGoAllocator()
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem), ipc.WithZstd())
	if err != nil {
		return fmt.Errorf("grid: write %s: %w", path, err)
	}
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for start := 0; start < g.Rows; start += rpb {
		end := min(start+rpb, g.Rows)
		lo, hi := start*g.Cols, end*g.Cols
		for m := range g.Months {
			b.Field(m).(*array.Float32Builder).AppendValues(g.Months[m][lo:hi], nil)
		}
		rec := b.NewRecord()
		err = w.Write(rec)
		rec.Release()
		if err != nil {
			return fmt.Errorf("grid: write %s: %w", path, err)
		}
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("grid: write %s: %w", path, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("grid: write %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("grid: write %s: %w", path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("grid: write %s: %w", path, err)
	}
	l.Info("grid_write_done", "path", path, "variable", g.Variable, "resolution", g.Resolution,
		"rows", g.Rows, "cols", g.Cols, "batches", (g.Rows+rpb-1)/rpb)
	return nil
}

// Reader：网格文件的惰性读取器
// 约束：非并发安全；仅缓存最近一次解码的批次
type Reader struct {
	Transform
	Variable   string
	Resolution string

	path   string
	attrs  map[string]string
	rpb    int
	f      *os.File
	r      *ipc.FileReader
	cached int
	block  [12][]float32
}

// Open：打开网格文件并校验元数据；文件缺失返回 ErrMissing
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (run latlon-download to fetch it)", ErrMissing, path)
		}
		return nil, fmt.Errorf("grid: open %s: %w", path, err)
	}
	rdr, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	gr := &Reader{path: path, f: f, r: rdr, cached: -1}
	if err := gr.parseMeta(rdr.Schema()); err != nil {
		_ = gr.Close()
		return nil, err
	}
	if want := (gr.Rows + gr.rpb - 1) / gr.rpb; rdr.NumRecords() != want {
		_ = gr.Close()
		return nil, fmt.Errorf("%w: %s: %d batches, want %d", ErrCorrupt, path, rdr.NumRecords(), want)
	}
	logger.L().Debug("grid_open", "path", path, "variable", gr.Variable, "rows", gr.Rows, "cols", gr.Cols)
	return gr, nil
}

func (r *Reader) parseMeta(s *arrow.Schema) error {
	if s.NumFields() != len(worldclim.Months) {
		return fmt.Errorf("%w: %s: %d columns", ErrCorrupt, r.path, s.NumFields())
	}
	md := s.Metadata()
	r.attrs = make(map[string]string, md.Len())
	for i, k := range md.Keys() {
		r.attrs[k] = md.Values()[i]
	}
	var err error
	geti := func(k string) int {
		n, e := strconv.Atoi(r.attrs[k])
		if e != nil && err == nil {
			err = fmt.Errorf("%w: %s: metadata %s=%q", ErrCorrupt, r.path, k, r.attrs[k])
		}
		return n
	}
	getf := func(k string) float64 {
		v, e := strconv.ParseFloat(r.attrs[k], 64)
		if e != nil && err == nil {
			err = fmt.Errorf("%w: %s: metadata %s=%q", ErrCorrupt, r.path, k, r.attrs[k])
		}
		return v
	}
	r.Variable = r.attrs[mdVariable]
	r.Resolution = r.attrs[mdResolution]
	r.Transform = Transform{
		Rows: geti(mdRows), Cols: geti(mdCols),
		Lon0: getf(mdLon0), Lat0: getf(mdLat0),
		DLon: getf(mdDLon), DLat: getf(mdDLat),
	}
	r.rpb = geti(mdRowsPerBatch)
	if err != nil {
		return err
	}
	if !r.Transform.valid() || r.rpb <= 0 {
		return fmt.Errorf("%w: %s: invalid transform", ErrCorrupt, r.path)
	}
	return nil
}

// Attr：schema 元数据中的属性
func (r *Reader) Attr(k string) string { return r.attrs[k] }

// Attrs：非几何属性的副本
func (r *Reader) Attrs() map[string]string {
	out := map[string]string{}
	for k, v := range r.attrs {
		if !reserved[k] {
			out[k] = v
		}
	}
	return out
}

// Cell：读取单元的 12 个月值，必要时解码所在批次
func (r *Reader) Cell(row, col int) ([12]float32, error) {
	var out [12]float32
	if row < 0 || row >= r.Rows || col < 0 || col >= r.Cols {
		return out, fmt.Errorf("grid: cell (%d,%d) outside %dx%d", row, col, r.Rows, r.Cols)
	}
	b := row / r.rpb
	if b != r.cached {
		if err := r.load(b); err != nil {
			return out, err
		}
	}
	i := (row-b*r.rpb)*r.Cols + col
	for m := range out {
		out[m] = r.block[m][i]
	}
	return out, nil
}

func (r *Reader) load(b int) error {
	rec, err := r.r.Record(b)
	if err != nil {
		return fmt.Errorf("%w: %s: batch %d: %v", ErrCorrupt, r.path, b, err)
	}
	want := (min((b+1)*r.rpb, r.Rows) - b*r.rpb) * r.Cols
	if int(rec.NumRows()) != want || int(rec.NumCols()) != len(r.block) {
		return fmt.Errorf("%w: %s: batch %d has %d rows, want %d", ErrCorrupt, r.path, b, rec.NumRows(), want)
	}
	for m := range r.block {
		col, ok := rec.Column(m).(*array.Float32)
		if !ok {
			return fmt.Errorf("%w: %s: column %d is %s", ErrCorrupt, r.path, m, rec.Column(m).DataType())
		}
		r.block[m] = append(r.block[m][:0], col.Float32Values()...)
	}
	r.cached = b
	return nil
}

// Close：关闭读取器与文件
func (r *Reader) Close() error {
	err := r.r.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Load：完整读入网格文件
func Load(path string) (*Grid, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	g := &Grid{Transform: r.Transform, Variable: r.Variable, Resolution: r.Resolution, Attrs: r.Attrs()}
	for m := range g.Months {
		g.Months[m] = make([]float32, 0, g.Rows*g.Cols)
	}
	for b := 0; b*r.rpb < r.Rows; b++ {
		if err := r.load(b); err != nil {
			return nil, err
		}
		for m := range g.Months {
			g.Months[m] = append(g.Months[m], r.block[m]...)
		}
	}
	return g, nil
}
