// Package latlon 提供按经纬度查询 WorldClim 气候常年值与所属国家的函数接口
//
// 数据首次使用时下载并缓存到数据目录（LATLONDATA，缺省 ~/.local/share/latlon_utils）。
package latlon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"latlon-utils/internal/climate"
	"latlon-utils/internal/config"
	"latlon-utils/internal/countries"
	"latlon-utils/internal/geo"
	"latlon-utils/internal/grid"
	"latlon-utils/internal/ingest"
)

var (
	ErrShape   = errors.New("lat and lon must have the same length")
	ErrMissing = grid.ErrMissing
)

// Unknown：不属于任何国家的点
const Unknown = countries.Unknown

type (
	Row    = climate.Row
	Table  = climate.Table
	Series = climate.Series
)

type settings struct {
	dir          string
	res          string
	vars         []string
	download     bool
	naturalEarth bool
}

type Option func(*settings)

// WithDataDir：数据目录，优先于 LATLONDATA
func WithDataDir(dir string) Option { return func(s *settings) { s.dir = dir } }

// WithResolution：10m、5m、2.5m 或 30s，优先于 LATLONRES
func WithResolution(res string) Option { return func(s *settings) { s.res = res } }

// WithVariables：气候变量，支持 "all"；缺省 tavg 与 prec
func WithVariables(vars ...string) Option { return func(s *settings) { s.vars = vars } }

// WithDownload：本地缺失时是否自动下载，缺省 true
func WithDownload(b bool) Option { return func(s *settings) { s.download = b } }

// WithNaturalEarth：国家查询改用 Natural Earth admin-0 shapefile；文件缺失且允许下载时首次查询自动获取
func WithNaturalEarth() Option { return func(s *settings) { s.naturalEarth = true } }

func resolve(opts []Option) (settings, *config.Config, error) {
	s := settings{download: true}
	for _, o := range opts {
		o(&s)
	}
	cfg, err := config.LoadFor(s.dir, s.res)
	if err != nil {
		return s, nil, err
	}
	return s, cfg, nil
}

// GetClimate：单点查询
func GetClimate(ctx context.Context, lat, lon float64, opts ...Option) (Row, error) {
	t, err := GetClimateMany(ctx, []float64{lat}, []float64{lon}, opts...)
	if err != nil {
		return Row{}, err
	}
	return t.Rows[0], nil
}

// GetClimateMany：批量查询，结果行与输入一一对应
func GetClimateMany(ctx context.Context, lats, lons []float64, opts ...Option) (*Table, error) {
	pts, ok := geo.Zip(lats, lons)
	if !ok {
		return nil, fmt.Errorf("%w: %d lats, %d lons", ErrShape, len(lats), len(lons))
	}
	s, cfg, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	src := climate.DirSource{Dir: cfg.DataDir}
	if s.download {
		iopts := ingest.OptionsFromConfig(cfg)
		src.Ensure = func(ctx context.Context, dir, variable, res string) (string, error) {
			return ingest.EnsureVariable(ctx, dir, variable, res, iopts)
		}
	}
	return climate.Lookup(ctx, src, pts, climate.Options{Resolution: cfg.Resolution, Variables: s.vars})
}

// GetCountry：单点国家查询
func GetCountry(ctx context.Context, lat, lon float64, opts ...Option) (string, error) {
	out, err := GetCountries(ctx, []float64{lat}, []float64{lon}, opts...)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// GetCountries：批量国家查询；无命中的点为 Unknown
func GetCountries(ctx context.Context, lats, lons []float64, opts ...Option) ([]string, error) {
	pts, ok := geo.Zip(lats, lons)
	if !ok {
		return nil, fmt.Errorf("%w: %d lats, %d lons", ErrShape, len(lats), len(lons))
	}
	s, cfg, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	x, err := countryIndex(ctx, s, cfg)
	if err != nil {
		return nil, err
	}
	return x.LookupAll(pts), nil
}

// 国家索引按文件路径在进程内复用
var (
	indexMu sync.Mutex
	indexes = map[string]*countries.Index{}
)

func countryIndex(ctx context.Context, s settings, cfg *config.Config) (*countries.Index, error) {
	p := filepath.Join(cfg.DataDir, countries.GeoJSONFile)
	if s.naturalEarth {
		p = filepath.Join(cfg.DataDir, countries.NaturalEarthBase+".shp")
	}
	indexMu.Lock()
	defer indexMu.Unlock()
	if x, ok := indexes[p]; ok {
		return x, nil
	}
	if _, err := os.Stat(p); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if !s.download {
			return nil, fmt.Errorf("%w: %s (run latlon-download to fetch it)", ErrMissing, p)
		}
		iopts := ingest.OptionsFromConfig(cfg)
		if s.naturalEarth {
			_, err = ingest.EnsureNaturalEarth(ctx, cfg.DataDir, iopts)
		} else {
			_, err = ingest.EnsureCountries(ctx, cfg.DataDir, iopts)
		}
		if err != nil {
			return nil, err
		}
	}
	x, err := countries.Open(p, countries.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	indexes[p] = x
	return x, nil
}
