// 包 api：集中注册 HTTP 查询路由以解耦主入口
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"latlon-utils/internal/climate"
	"latlon-utils/internal/countries"
	"latlon-utils/internal/geo"
	"latlon-utils/internal/grid"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/metrics"
	"latlon-utils/internal/worldclim"
)

// Service：查询服务依赖
// 约束：Countries 与 CountryPath 均为空时 /country 返回 503；Redis 为空时不做响应缓存
type Service struct {
	Climate    climate.Source
	Resolution string
	// DataDir：网格文件所在目录，仅用于缓存键中的数据版本
	DataDir string

	Countries     *countries.Index
	CountrySource string
	// CountryPath 非空时 Countries 按需从该文件加载，文件被替换后重新加载
	CountryPath string
	// EnsureCountries 非空时在 CountryPath 缺失时先获取
	EnsureCountries func(ctx context.Context) error

	Redis    *redis.Client
	CacheTTL time.Duration

	mu           sync.Mutex
	countriesRev string
}

func (s *Service) cache() responseCache {
	return responseCache{rc: s.Redis, ttl: s.CacheTTL}
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(s *Service) *http.ServeMux {
	apiMux := http.NewServeMux()
	apiMux.Handle("/climate", instrument("climate", http.HandlerFunc(s.handleClimate)))
	apiMux.Handle("/country", instrument("country", http.HandlerFunc(s.handleCountry)))
	return apiMux
}

// 文档注释：气候查询
// 参数：lat、lon（逗号列表或重复参数），vars（缺省 tavg,prec，支持 all），res（缺省服务分辨率），format=json|csv
func (s *Service) handleClimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pts, err := parsePoints(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vars := parseVars(r)
	if len(vars) == 0 {
		vars = worldclim.DefaultLookupVariables
	}
	if vars, err = worldclim.Expand(vars); err != nil {
		writeError(w, err)
		return
	}
	res := strings.TrimSpace(r.URL.Query().Get("res"))
	if res == "" {
		res = s.Resolution
	}
	if res == "" {
		res = worldclim.DefaultResolution
	}
	if err := worldclim.ValidateResolution(res); err != nil {
		writeError(w, err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeError(w, fmt.Errorf("%w: format %q (want json or csv)", ErrParam, format))
		return
	}

	key := climateKey(res, vars, s.climateRevision(vars, res), pts) + ":" + format
	if b, ok := s.cache().get(ctx, "climate_redis", key); ok {
		writeBody(w, format, b)
		return
	}
	t, err := climate.Lookup(ctx, s.Climate, pts, climate.Options{Resolution: res, Variables: vars})
	if err != nil {
		writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if format == "csv" {
		err = t.WriteCSV(&buf)
	} else {
		err = t.WriteJSON(&buf)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.cache().set(ctx, key, buf.Bytes())
	logger.L().Debug("climate_query", "points", len(pts), "vars", vars, "resolution", res)
	writeBody(w, format, buf.Bytes())
}

// 文档注释：国家查询
// 参数：lat、lon（逗号列表或重复参数）
func (s *Service) handleCountry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pts, err := parsePoints(r)
	if err != nil {
		writeError(w, err)
		return
	}
	x, rev, err := s.LoadCountries(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	key := countryKey(s.CountrySource, rev, pts)
	if b, ok := s.cache().get(ctx, "country_redis", key); ok {
		writeBody(w, "json", b)
		return
	}
	names := x.LookupAll(pts)
	out := countryResult{Points: make([]countryPoint, len(pts))}
	for i, p := range pts {
		out.Points[i] = countryPoint{Lat: p.Lat, Lon: geo.NormalizeLon(p.Lon), Country: names[i]}
	}
	b, err := json.Marshal(out)
	if err != nil {
		writeError(w, err)
		return
	}
	s.cache().set(ctx, key, b)
	writeBody(w, "json", b)
}

// Healthz：存活检查，同时报告国家索引是否就绪
func (s *Service) Healthz(w http.ResponseWriter, r *http.Request) {
	n := 0
	s.mu.Lock()
	if s.Countries != nil {
		n = s.Countries.Len()
	}
	s.mu.Unlock()
	b, _ := json.Marshal(map[string]any{"status": "ok", "countries": n})
	writeBody(w, "json", b)
}

func writeBody(w http.ResponseWriter, format string, b []byte) {
	if format == "csv" {
		w.Header().Set("content-type", "text/csv; charset=utf-8")
	} else {
		w.Header().Set("content-type", "application/json; charset=utf-8")
	}
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(b)
}

// statusFor：参数与标识符错误为 400，本地数据缺失为 503，其余为 500
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrParam), errors.Is(err, worldclim.ErrVariable), errors.Is(err, worldclim.ErrResolution):
		return http.StatusBadRequest
	case errors.Is(err, grid.ErrMissing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		logger.L().Error("query_error", "status", code, "err", err)
	}
	b, _ := json.Marshal(errorResult{Error: err.Error()})
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument：按路由记录请求数与耗时
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		metrics.RequestDurationMs.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
