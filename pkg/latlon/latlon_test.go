package latlon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latlon-utils/internal/countries/countriestest"
	"latlon-utils/internal/geotiff/geotifftest"
	"latlon-utils/internal/grid"
	"latlon-utils/internal/worldclim"
	"latlon-utils/pkg/latlon"
)

func isolate(t *testing.T) {
	for _, k := range []string{"LATLONDATA", "LATLONRES", "WORLDCLIM_BASE_URL", "WORLDCLIM_VERSION", "COUNTRIES_URL", "NATURAL_EARTH_URL", "HTTP_TIMEOUT"} {
		t.Setenv(k, "")
	}
}

// 36x18 全球网格：值为 月份 + 列号*100
func fixtureGrid(variable string) *grid.Grid {
	g := &grid.Grid{
		Transform:  grid.Transform{Rows: 18, Cols: 36, Lon0: -180, Lat0: 90, DLon: 10, DLat: 10},
		Variable:   variable,
		Resolution: "10m",
		Attrs:      map[string]string{},
	}
	for m := range g.Months {
		g.Months[m] = make([]float32, g.Rows*g.Cols)
		for i := range g.Months[m] {
			g.Months[m][i] = float32(m+1) + float32(i%g.Cols)*100
		}
	}
	return g
}

func fixtureDir(t *testing.T) string {
	dir := t.TempDir()
	for _, v := range []string{"tavg", "prec"} {
		require.NoError(t, grid.Write(filepath.Join(dir, worldclim.GridFile(v, "10m")), fixtureGrid(v)))
	}
	_, err := countriestest.WriteGeoJSON(dir, countriestest.World())
	require.NoError(t, err)
	return dir
}

func TestGetClimate(t *testing.T) {
	isolate(t)
	dir := fixtureDir(t)
	row, err := latlon.GetClimate(context.Background(), 50, 10, latlon.WithDataDir(dir), latlon.WithDownload(false))
	require.NoError(t, err)
	assert.Equal(t, 50.0, row.Lat)
	assert.Equal(t, 1901.0, row.Value("tavg", "jan"))
	assert.Equal(t, 1906.5, row.Value("prec", "ann"))
}

func TestGetClimateMany(t *testing.T) {
	isolate(t)
	dir := fixtureDir(t)
	tbl, err := latlon.GetClimateMany(context.Background(), []float64{50, -95, 0}, []float64{10, -200, 200},
		latlon.WithDataDir(dir), latlon.WithDownload(false), latlon.WithVariables("tavg"))
	require.NoError(t, err)
	assert.Equal(t, []string{"tavg"}, tbl.Variables)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, 1912.0, tbl.Rows[0].Value("tavg", "dec"))
	assert.Equal(t, 1.0, tbl.Rows[1].Value("tavg", "jan"))
	// 200E 折算为 160W
	assert.Equal(t, 201.0, tbl.Rows[2].Value("tavg", "jan"))
	assert.Equal(t, -160.0, tbl.Rows[2].Lon)
	assert.Equal(t, 10.0, tbl.Rows[0].Lon)
}

func TestShapeMismatch(t *testing.T) {
	isolate(t)
	_, err := latlon.GetClimateMany(context.Background(), []float64{1, 2}, []float64{1})
	assert.ErrorIs(t, err, latlon.ErrShape)
	_, err = latlon.GetCountries(context.Background(), []float64{1}, nil)
	assert.ErrorIs(t, err, latlon.ErrShape)
}

func TestMissingWithoutDownload(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	_, err := latlon.GetClimate(context.Background(), 1, 1, latlon.WithDataDir(dir), latlon.WithDownload(false))
	assert.ErrorIs(t, err, latlon.ErrMissing)
	_, err = latlon.GetCountry(context.Background(), 1, 1, latlon.WithDataDir(dir), latlon.WithDownload(false))
	assert.ErrorIs(t, err, latlon.ErrMissing)
}

func TestBadResolution(t *testing.T) {
	isolate(t)
	_, err := latlon.GetClimate(context.Background(), 1, 1, latlon.WithDataDir(t.TempDir()), latlon.WithResolution("3m"))
	assert.ErrorIs(t, err, worldclim.ErrResolution)
}

func TestGetCountries(t *testing.T) {
	isolate(t)
	dir := fixtureDir(t)
	got, err := latlon.GetCountries(context.Background(), []float64{50, 0, -30}, []float64{10, -30, 28},
		latlon.WithDataDir(dir), latlon.WithDownload(false))
	require.NoError(t, err)
	assert.Equal(t, []string{"Germany", latlon.Unknown, "Lesotho"}, got)

	one, err := latlon.GetCountry(context.Background(), 46, 2, latlon.WithDataDir(dir))
	require.NoError(t, err)
	assert.Equal(t, "France", one)
}

func TestAutoDownload(t *testing.T) {
	isolate(t)
	var hits atomic.Int32
	months := geotifftest.MonthlyGlobal(36, 18, func(m, r, c int) float32 { return float32(m*10 + c) })
	zipBody := geotifftest.WorldClimZip("2.1", "10m", "wind", months)
	geo := countriestest.GeoJSON(countriestest.World(), "")
	shpZip := countriestest.NaturalEarthZip(countriestest.World())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/wc/wc2.1_10m_wind.zip":
			_, _ = w.Write(zipBody)
		case "/countries.geojson":
			_, _ = w.Write(geo)
		case "/ne.zip":
			_, _ = w.Write(shpZip)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv("WORLDCLIM_BASE_URL", srv.URL+"/wc/")
	t.Setenv("COUNTRIES_URL", srv.URL+"/countries.geojson")
	t.Setenv("NATURAL_EARTH_URL", srv.URL+"/ne.zip")
	dir := t.TempDir()

	row, err := latlon.GetClimate(context.Background(), 50, 10, latlon.WithDataDir(dir), latlon.WithVariables("wind"))
	require.NoError(t, err)
	assert.Equal(t, 29.0, row.Value("wind", "jan"))
	assert.Equal(t, int32(1), hits.Load())

	_, err = latlon.GetClimate(context.Background(), 0, 0, latlon.WithDataDir(dir), latlon.WithVariables("wind"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "cached grid is reused")

	name, err := latlon.GetCountry(context.Background(), 50, 10, latlon.WithDataDir(dir))
	require.NoError(t, err)
	assert.Equal(t, "Germany", name)
	assert.Equal(t, int32(2), hits.Load())

	name, err = latlon.GetCountry(context.Background(), -30, 28, latlon.WithDataDir(dir), latlon.WithNaturalEarth())
	require.NoError(t, err)
	assert.Equal(t, "Lesotho", name)
	assert.Equal(t, int32(3), hits.Load())
}
