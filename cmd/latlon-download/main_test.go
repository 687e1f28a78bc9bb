package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docopt/docopt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latlon-utils/internal/countries/countriestest"
	"latlon-utils/internal/geotiff/geotifftest"
	"latlon-utils/internal/grid"
)

func parse(t *testing.T, argv ...string) docopt.Opts {
	p := &docopt.Parser{HelpHandler: docopt.NoHelpHandler}
	args, err := p.ParseArgs(usage, argv, "")
	require.NoError(t, err)
	return args
}

func remote(t *testing.T) {
	months := geotifftest.MonthlyGlobal(36, 18, func(m, r, c int) float32 { return float32(m) })
	files := map[string][]byte{
		"/wc/wc2.1_10m_tavg.zip": geotifftest.WorldClimZip("2.1", "10m", "tavg", months),
		"/countries.geojson":     countriestest.GeoJSON(countriestest.World(), ""),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("LATLONRES", "")
	t.Setenv("WORLDCLIM_VERSION", "")
	t.Setenv("WORLDCLIM_BASE_URL", srv.URL+"/wc/")
	t.Setenv("COUNTRIES_URL", srv.URL+"/countries.geojson")
	t.Setenv("NATURAL_EARTH_URL", srv.URL+"/missing.zip")
}

func TestUsage(t *testing.T) {
	assert.Contains(t, usage, "downloaded on the first Natural Earth lookup")
	assert.Contains(t, usage, "Required for 30s")
	args := parse(t, t.TempDir(), "--natural-earth", "--lat=60,40")
	ne, err := args.Bool("--natural-earth")
	require.NoError(t, err)
	assert.True(t, ne)
	lat, err := args.String("--lat")
	require.NoError(t, err)
	assert.Equal(t, "60,40", lat)
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("-10, 20.5", 90)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{-10, 20.5}, *r)
	r, err = parseRange("30,20", 90)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{20, 30}, *r)
	for _, bad := range []string{"1", "a,b", "NaN,10", "-100,0", "1,2,3"} {
		_, err := parseRange(bad, 90)
		assert.Error(t, err, bad)
	}
}

func TestRunDownloadAndVerify(t *testing.T) {
	remote(t)
	dir := t.TempDir()
	metricsFile := filepath.Join(dir, "metrics.prom")
	var out bytes.Buffer
	err := run(context.Background(), parse(t, dir, "--vars=tavg", "--lat=60,40", "--metrics-file="+metricsFile), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "worldclim/tavg/10m\ttavg_10m.arrow")
	assert.Contains(t, out.String(), "countries\tcountries.geojson")

	g, err := grid.Load(filepath.Join(dir, "tavg_10m.arrow"))
	require.NoError(t, err)
	assert.Equal(t, 2, g.Rows)
	assert.Equal(t, 36, g.Cols)

	b, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "latlon_downloads_total")

	out.Reset()
	require.NoError(t, run(context.Background(), parse(t, dir, "--verify"), &out))
	assert.Equal(t, "ok", strings.TrimSpace(out.String()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "countries.geojson"), []byte("{}"), 0o644))
	out.Reset()
	err = run(context.Background(), parse(t, dir, "--verify"), &out)
	assert.ErrorIs(t, err, ErrVerify)
	assert.Contains(t, out.String(), "changed\tcountries")
}

func TestRunFailures(t *testing.T) {
	remote(t)
	dir := t.TempDir()
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), parse(t, dir, "--vars=wind"), &out))
	assert.Error(t, run(context.Background(), parse(t, dir, "--no-worldclim", "--natural-earth"), &out))
	assert.Error(t, run(context.Background(), parse(t, dir, "--res=1m"), &out))
	assert.Error(t, run(context.Background(), parse(t, dir, "--lat=0"), &out))
}
