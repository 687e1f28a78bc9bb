// 程序入口：仅负责读取配置、初始化依赖并启动查询服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"latlon-utils/internal/api"
	"latlon-utils/internal/climate"
	"latlon-utils/internal/config"
	"latlon-utils/internal/countries"
	"latlon-utils/internal/ingest"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/metrics"
	"latlon-utils/internal/middleware"
	"latlon-utils/internal/utils"
)

func main() {
	config.LoadEnv(".env", filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Info("config_ok", "data_dir", cfg.DataDir, "resolution", cfg.Resolution, "api_base", cfg.APIBase)

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	svc := &api.Service{
		Resolution: cfg.Resolution,
		DataDir:    cfg.DataDir,
		Redis:      rc,
		CacheTTL:   utils.CacheTTLFromEnv(),
	}
	naturalEarth := os.Getenv("COUNTRY_SOURCE") == "naturalearth"
	svc.CountrySource = "geojson"
	svc.CountryPath = filepath.Join(cfg.DataDir, countries.GeoJSONFile)
	if naturalEarth {
		svc.CountrySource = "naturalearth"
		svc.CountryPath = filepath.Join(cfg.DataDir, countries.NaturalEarthBase+".shp")
	}

	// 背景：AUTO_DOWNLOAD=true 时缺失的网格与国家边界在首次请求时获取；缺省只读本地文件
	src := climate.DirSource{Dir: cfg.DataDir}
	if os.Getenv("AUTO_DOWNLOAD") == "true" {
		opts := ingest.OptionsFromConfig(cfg)
		src.Ensure = func(ctx context.Context, dir, variable, res string) (string, error) {
			return ingest.EnsureVariable(ctx, dir, variable, res, opts)
		}
		svc.EnsureCountries = func(ctx context.Context) (err error) {
			if naturalEarth {
				_, err = ingest.EnsureNaturalEarth(ctx, cfg.DataDir, opts)
			} else {
				_, err = ingest.EnsureCountries(ctx, cfg.DataDir, opts)
			}
			return err
		}
	}
	svc.Climate = src

	// 本地已有边界文件时启动即建索引，否则推迟到首次 /country 请求
	if _, err := os.Stat(svc.CountryPath); err == nil {
		if _, _, err := svc.LoadCountries(context.Background()); err != nil {
			l.Error("countries_load_error", "path", svc.CountryPath, "err", err)
		}
	} else {
		l.Info("countries_deferred", "path", svc.CountryPath, "auto_download", svc.EnsureCountries != nil)
	}

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(svc)
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", svc.Healthz)

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()
	l.Info("listening", "addr", cfg.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown_done")
}
