package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latlon-utils/internal/climate"
	"latlon-utils/internal/countries"
	"latlon-utils/internal/countries/countriestest"
	"latlon-utils/internal/geo"
	"latlon-utils/internal/grid"
	"latlon-utils/internal/metrics"
	"latlon-utils/internal/worldclim"
)

// 36x18 全球网格，值为 base + 月份 + 列号*100
func writeGrid(t *testing.T, dir, variable string, base float32) {
	g := &grid.Grid{
		Transform:  grid.Transform{Rows: 18, Cols: 36, Lon0: -180, Lat0: 90, DLon: 10, DLat: 10},
		Variable:   variable,
		Resolution: "10m",
		Attrs:      map[string]string{},
	}
	for m := range g.Months {
		g.Months[m] = make([]float32, g.Rows*g.Cols)
		for i := range g.Months[m] {
			g.Months[m][i] = base + float32(m+1) + float32(i%g.Cols)*100
		}
	}
	require.NoError(t, grid.Write(filepath.Join(dir, worldclim.GridFile(variable, "10m")), g))
}

func newService(t *testing.T, rc *redis.Client) *Service {
	dir := t.TempDir()
	writeGrid(t, dir, "tavg", 0)
	writeGrid(t, dir, "prec", 0)
	return &Service{
		Climate:       climate.DirSource{Dir: dir},
		Resolution:    "10m",
		DataDir:       dir,
		Countries:     countries.NewIndex(countriestest.World(), 64),
		CountrySource: "geojson",
		Redis:         rc,
	}
}

func get(t *testing.T, h http.Handler, target string) (int, string) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	b, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(b)
}

type climateBody struct {
	Variables []string `json:"variables"`
	Rows      []struct {
		Lat     float64                        `json:"lat"`
		Lon     float64                        `json:"lon"`
		Climate map[string]map[string]*float64 `json:"climate"`
	} `json:"rows"`
}

func TestClimate(t *testing.T) {
	h := BuildRoutes(newService(t, nil))
	code, body := get(t, h, "/climate?lat=50,-95&lon=10&lon=-200&vars=tavg")
	require.Equal(t, http.StatusOK, code, body)
	var out climateBody
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, []string{"tavg"}, out.Variables)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, 1901.0, *out.Rows[0].Climate["tavg"]["jan"])
	assert.Equal(t, 1906.5, *out.Rows[0].Climate["tavg"]["ann"])
	assert.Equal(t, 12.0, *out.Rows[1].Climate["tavg"]["dec"])
}

func TestClimateDefaultsAndCSV(t *testing.T) {
	h := BuildRoutes(newService(t, nil))
	code, body := get(t, h, "/climate?lat=50&lon=10")
	require.Equal(t, http.StatusOK, code, body)
	var out climateBody
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, worldclim.DefaultLookupVariables, out.Variables)

	code, body = get(t, h, "/climate?lat=50&lon=10&vars=prec&format=csv")
	require.Equal(t, http.StatusOK, code, body)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "lat,lon,prec_jan"), lines[0])
}

func TestClimateErrors(t *testing.T) {
	h := BuildRoutes(newService(t, nil))
	for target, want := range map[string]int{
		"/climate":                              http.StatusBadRequest,
		"/climate?lat=1,2&lon=3":                http.StatusBadRequest,
		"/climate?lat=x&lon=3":                  http.StatusBadRequest,
		"/climate?lat=1&lon=3&vars=snow":        http.StatusBadRequest,
		"/climate?lat=1&lon=3&res=1m":           http.StatusBadRequest,
		"/climate?lat=1&lon=3&format=xml":       http.StatusBadRequest,
		"/climate?lat=1&lon=3&vars=wind":        http.StatusServiceUnavailable,
		"/climate?lat=1&lon=3&vars=tavg&res=5m": http.StatusServiceUnavailable,
	} {
		code, body := get(t, h, target)
		assert.Equal(t, want, code, target)
		assert.Contains(t, body, `"error"`, target)
	}
}

func TestNonFiniteCoordinates(t *testing.T) {
	h := BuildRoutes(newService(t, nil))
	for _, target := range []string{
		"/climate?lat=NaN&lon=10",
		"/climate?lat=50&lon=Inf",
		"/climate?lat=50&lon=10&format=csv&lat=nan&lon=1",
		"/country?lat=NaN&lon=10",
		"/country?lat=50&lon=-Inf",
	} {
		code, body := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.Contains(t, body, "not a finite number", target)
	}
}

func TestCountry(t *testing.T) {
	h := BuildRoutes(newService(t, nil))
	code, body := get(t, h, "/country?lat=50,0,-30,50&lon=10,-30,28,370")
	require.Equal(t, http.StatusOK, code, body)
	var out countryResult
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Len(t, out.Points, 4)
	assert.Equal(t, "Germany", out.Points[0].Country)
	assert.Equal(t, countries.Unknown, out.Points[1].Country)
	assert.Equal(t, "Lesotho", out.Points[2].Country)
	// 370E 只折算一次，回显为 10
	assert.Equal(t, "Germany", out.Points[3].Country)
	assert.Equal(t, 10.0, out.Points[3].Lon)

	s := newService(t, nil)
	s.Countries = nil
	code, _ = get(t, BuildRoutes(s), "/country?lat=1&lon=1")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	s := newService(t, rc)
	h := BuildRoutes(s)

	hits := testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("country_redis"))
	_, first := get(t, h, "/country?lat=50&lon=10")
	assert.True(t, mr.Exists("latlon:country:geojson:0:50,10"))

	// 缓存命中后不再访问索引
	s.Countries = countries.NewIndex(nil, 0)
	_, second := get(t, h, "/country?lat=50&lon=10")
	assert.Equal(t, first, second)
	assert.Equal(t, hits+1, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("country_redis")))

	_, c1 := get(t, h, "/climate?lat=50&lon=10&vars=tavg")
	assert.Len(t, mr.Keys(), 2)
	s.Climate = climate.DirSource{Dir: t.TempDir()}
	code, c2 := get(t, h, "/climate?lat=50&lon=10&vars=tavg")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, c1, c2)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newService(t, nil)
	code, body := get(t, http.HandlerFunc(s.Healthz), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","countries":5}`, body)

	before := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("country", "400"))
	get(t, BuildRoutes(s), "/country?lat=1")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("country", "400")))
}

func TestCacheKeys(t *testing.T) {
	a := []geo.Point{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}}
	b := []geo.Point{{Lat: 3, Lon: 4}, {Lat: 1, Lon: 2}}
	assert.NotEqual(t, climateKey("10m", []string{"tavg"}, "0", a), climateKey("10m", []string{"tavg"}, "0", b))
	assert.NotEqual(t, climateKey("10m", []string{"tavg"}, "0", a), climateKey("5m", []string{"tavg"}, "0", a))
	assert.NotEqual(t, climateKey("10m", []string{"tavg"}, "0", a), climateKey("10m", []string{"tavg"}, "1", a))
	assert.Equal(t, "latlon:country:geojson:0:1,2", countryKey("geojson", "0", a[:1]))
	assert.Len(t, strings.TrimPrefix(countryKey("geojson", "0", a), "latlon:country:geojson:0:"), 16)
}

func TestFileRevision(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.arrow")
	assert.Equal(t, "0", fileRevision())
	missing := fileRevision(p)
	require.NoError(t, os.WriteFile(p, []byte("one"), 0o644))
	first := fileRevision(p)
	assert.NotEqual(t, missing, first)
	assert.Equal(t, first, fileRevision(p))

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))
	assert.NotEqual(t, first, fileRevision(p))
}

func TestCacheFollowsDataFiles(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	s := newService(t, rc)
	cpath := filepath.Join(s.DataDir, countries.GeoJSONFile)
	require.NoError(t, os.WriteFile(cpath, countriestest.GeoJSON(countriestest.World(), ""), 0o644))
	s.Countries, s.CountryPath = nil, cpath
	h := BuildRoutes(s)

	jan := func(body string) float64 {
		var out climateBody
		require.NoError(t, json.Unmarshal([]byte(body), &out))
		require.Len(t, out.Rows, 1)
		return *out.Rows[0].Climate["tavg"]["jan"]
	}
	_, body := get(t, h, "/climate?lat=50&lon=10&vars=tavg")
	assert.Equal(t, 1901.0, jan(body))
	_, body = get(t, h, "/country?lat=50&lon=10")
	assert.Contains(t, body, "Germany")
	assert.Len(t, mr.Keys(), 2)

	// 重新下载替换两个文件
	later := time.Now().Add(time.Hour)
	writeGrid(t, s.DataDir, "tavg", 10000)
	require.NoError(t, os.Chtimes(filepath.Join(s.DataDir, worldclim.GridFile("tavg", "10m")), later, later))
	renamed := countriestest.World()
	renamed[0].Name = "Deutschland"
	require.NoError(t, os.WriteFile(cpath, countriestest.GeoJSON(renamed, ""), 0o644))
	require.NoError(t, os.Chtimes(cpath, later, later))

	_, body = get(t, h, "/climate?lat=50&lon=10&vars=tavg")
	assert.Equal(t, 11901.0, jan(body))
	_, body = get(t, h, "/country?lat=50&lon=10")
	assert.Contains(t, body, "Deutschland")
	assert.Len(t, mr.Keys(), 4)
}

func TestCountryLazyLoad(t *testing.T) {
	s := newService(t, nil)
	s.Countries = nil
	s.CountryPath = filepath.Join(t.TempDir(), countries.GeoJSONFile)
	h := BuildRoutes(s)

	code, body := get(t, h, "/country?lat=50&lon=10")
	assert.Equal(t, http.StatusServiceUnavailable, code, body)
	assert.Contains(t, body, "latlon-download")

	calls := 0
	s.EnsureCountries = func(ctx context.Context) error {
		calls++
		return os.WriteFile(s.CountryPath, countriestest.GeoJSON(countriestest.World(), ""), 0o644)
	}
	code, body = get(t, h, "/country?lat=50&lon=10")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, "Germany")
	code, _ = get(t, h, "/country?lat=-30&lon=28")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, calls)

	code, body = get(t, http.HandlerFunc(s.Healthz), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","countries":5}`, body)

	s2 := newService(t, nil)
	s2.Countries = nil
	s2.CountryPath = filepath.Join(t.TempDir(), countries.GeoJSONFile)
	s2.EnsureCountries = func(ctx context.Context) error { return fmt.Errorf("remote down") }
	code, body = get(t, BuildRoutes(s2), "/country?lat=50&lon=10")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body, "remote down")
}
