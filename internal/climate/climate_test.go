package climate

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latlon-utils/internal/geo"
	"latlon-utils/internal/grid"
	"latlon-utils/internal/worldclim"
)

// 10 度全球网格，值为 base + 月份(1..12) + 列号*1000，第 0 行全为 NaN
func testGrid(variable string, base float32) *grid.Grid {
	g := &grid.Grid{
		Transform:  grid.Transform{Rows: 18, Cols: 36, Lon0: -180, Lat0: 90, DLon: 10, DLat: 10},
		Variable:   variable,
		Resolution: "10m",
		Attrs:      map[string]string{},
	}
	for m := range g.Months {
		g.Months[m] = make([]float32, g.Rows*g.Cols)
		for i := range g.Months[m] {
			if i < g.Cols {
				g.Months[m][i] = float32(math.NaN())
				continue
			}
			g.Months[m][i] = base + float32(m+1) + float32(i%g.Cols)*1000
		}
	}
	return g
}

type memReader struct{ g *grid.Grid }

func (r memReader) Index(lat, lon float64) (int, int) { return r.g.Index(lat, lon) }

func (r memReader) Cell(row, col int) ([12]float32, error) { return r.g.Cell(row, col), nil }

func (r memReader) Close() error { return nil }

type memSource map[string]*grid.Grid

func (s memSource) Open(_ context.Context, variable, res string) (CellReader, error) {
	g, ok := s[variable]
	if !ok {
		return nil, grid.ErrMissing
	}
	return memReader{g}, nil
}

func TestNewSeries(t *testing.T) {
	var months [12]float32
	for m := range months {
		months[m] = float32(m + 1)
	}
	s := newSeries(months)
	assert.Equal(t, 5.0, s.Period("mai"))
	assert.InDelta(t, (1+2+12)/3.0, s.Period("djf"), 1e-12)
	assert.InDelta(t, 4.0, s.Period("mam"), 1e-12)
	assert.InDelta(t, 7.0, s.Period("jja"), 1e-12)
	assert.InDelta(t, 10.0, s.Period("son"), 1e-12)
	assert.InDelta(t, 6.5, s.Period("ann"), 1e-12)
	assert.True(t, math.IsNaN(s.Period("may")))

	months[11] = float32(math.NaN())
	s = newSeries(months)
	assert.InDelta(t, 1.5, s.Period("djf"), 1e-12)
	assert.InDelta(t, 6.0, s.Period("ann"), 1e-12)

	var ocean [12]float32
	for m := range ocean {
		ocean[m] = float32(math.NaN())
	}
	assert.True(t, math.IsNaN(newSeries(ocean).Period("ann")))
}

func TestLookup(t *testing.T) {
	src := memSource{"tavg": testGrid("tavg", 0), "prec": testGrid("prec", 0.5)}
	pts := []geo.Point{
		{Lat: 45, Lon: 5},
		{Lat: 45, Lon: 185},
		{Lat: -95, Lon: -200},
		{Lat: 89, Lon: 0},
	}
	tbl, err := Lookup(context.Background(), src, pts, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"tavg", "prec"}, tbl.Variables)
	require.Len(t, tbl.Rows, 4)

	assert.Equal(t, 45.0, tbl.Rows[0].Lat)
	assert.Equal(t, 5.0, tbl.Rows[0].Lon)
	assert.Equal(t, float64(18001), tbl.Rows[0].Value("tavg", "jan"))
	assert.Equal(t, float64(18012.5), tbl.Rows[0].Value("prec", "dec"))
	// 185E 折算为 175W，即第 0 列
	assert.Equal(t, float64(1), tbl.Rows[1].Value("tavg", "jan"))
	assert.Equal(t, -175.0, tbl.Rows[1].Lon)
	// 越界点夹到西南角
	assert.Equal(t, float64(6.5), tbl.Rows[2].Value("tavg", "ann"))
	assert.True(t, math.IsNaN(tbl.Rows[3].Value("tavg", "jja")))
	assert.True(t, math.IsNaN(tbl.Rows[0].Value("wind", "jan")))

	again, err := Lookup(context.Background(), src, pts, Options{})
	require.NoError(t, err)
	assert.Equal(t, tbl.Rows[0], again.Rows[0])
}

func TestLookupErrors(t *testing.T) {
	src := memSource{"tavg": testGrid("tavg", 0)}
	_, err := Lookup(context.Background(), src, []geo.Point{{Lat: 1, Lon: 1}}, Options{Variables: []string{"snow"}})
	assert.ErrorIs(t, err, worldclim.ErrVariable)
	_, err = Lookup(context.Background(), src, []geo.Point{{Lat: 1, Lon: 1}}, Options{Resolution: "1m"})
	assert.ErrorIs(t, err, worldclim.ErrResolution)
	_, err = Lookup(context.Background(), src, []geo.Point{{Lat: 1, Lon: 1}}, Options{Variables: []string{"prec"}})
	assert.ErrorIs(t, err, grid.ErrMissing)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Lookup(ctx, src, []geo.Point{{Lat: 1, Lon: 1}}, Options{Variables: []string{"tavg"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirSourceEnsure(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	src := DirSource{Dir: dir, Ensure: func(ctx context.Context, d, variable, res string) (string, error) {
		calls++
		p := filepath.Join(d, worldclim.GridFile(variable, res))
		return p, grid.Write(p, testGrid(variable, 0))
	}}
	tbl, err := Lookup(context.Background(), src, []geo.Point{{Lat: 45, Lon: 5}}, Options{Variables: []string{"tmin"}})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, float64(18003), tbl.Rows[0].Value("tmin", "mar"))

	_, err = Lookup(context.Background(), src, []geo.Point{{Lat: 45, Lon: 5}}, Options{Variables: []string{"tmin"}})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "present grid is not fetched again")

	_, err = Lookup(context.Background(), DirSource{Dir: dir}, []geo.Point{{Lat: 0, Lon: 0}}, Options{Variables: []string{"vapr"}})
	assert.ErrorIs(t, err, grid.ErrMissing)
}

func sampleTable(t *testing.T) *Table {
	src := memSource{"tavg": testGrid("tavg", 0)}
	tbl, err := Lookup(context.Background(), src, []geo.Point{{Lat: 45, Lon: 5}, {Lat: 89, Lon: 0}}, Options{Variables: []string{"tavg"}})
	require.NoError(t, err)
	return tbl
}

func TestToRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)
	rec := sampleTable(t).ToRecord(mem)
	defer rec.Release()
	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, int64(2+worldclim.NumPeriods), rec.NumCols())
	assert.Equal(t, "tavg_mai", rec.ColumnName(2+4))
	assert.True(t, rec.Column(2).IsNull(1))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleTable(t).WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "lat,lon,tavg_jan,tavg_feb"))
	assert.True(t, strings.HasSuffix(lines[0], "tavg_son,tavg_ann"))
	assert.True(t, strings.HasPrefix(lines[1], "45,5,18001,18002"))
	assert.True(t, strings.HasPrefix(lines[2], "89,0,,"))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleTable(t).WriteJSON(&buf))
	var out struct {
		Variables []string `json:"variables"`
		Rows      []struct {
			Lat     float64                        `json:"lat"`
			Climate map[string]map[string]*float64 `json:"climate"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Rows, 2)
	assert.Equal(t, 18001.0, *out.Rows[0].Climate["tavg"]["jan"])
	assert.Nil(t, out.Rows[1].Climate["tavg"]["jan"])
}

func TestWriteParquet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleTable(t).WriteParquet(&buf))
	b := buf.Bytes()
	require.Greater(t, len(b), 8)
	assert.Equal(t, "PAR1", string(b[:4]))
	assert.Equal(t, "PAR1", string(b[len(b)-4:]))
}
