package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"latlon-utils/internal/countries"
	"latlon-utils/internal/grid"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/worldclim"
)

// LoadCountries：返回当前国家索引及其数据版本
// 背景：CountryPath 为空时直接使用注入的 Countries；否则文件版本变化时重新加载，文件缺失时经 EnsureCountries 获取
// 异常：没有可用索引且无法获取时返回包装 grid.ErrMissing 的错误
func (s *Service) LoadCountries(ctx context.Context) (*countries.Index, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CountryPath == "" {
		if s.Countries == nil {
			return nil, "", fmt.Errorf("%w: country boundaries not loaded (run latlon-download)", grid.ErrMissing)
		}
		return s.Countries, "0", nil
	}
	if _, err := os.Stat(s.CountryPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
		if s.Countries != nil {
			return s.Countries, s.countriesRev, nil
		}
		if s.EnsureCountries == nil {
			return nil, "", fmt.Errorf("%w: %s (run latlon-download)", grid.ErrMissing, s.CountryPath)
		}
		logger.L().Info("countries_missing_download", "path", s.CountryPath)
		if err := s.EnsureCountries(ctx); err != nil {
			return nil, "", err
		}
	}
	rev := fileRevision(s.CountryPath)
	if s.Countries != nil && rev == s.countriesRev {
		return s.Countries, rev, nil
	}
	x, err := countries.Open(s.CountryPath, countries.DefaultCacheSize)
	if err != nil {
		if s.Countries != nil {
			// 替换中的文件读失败时沿用旧索引
			logger.L().Warn("countries_reload_error", "path", s.CountryPath, "err", err)
			return s.Countries, s.countriesRev, nil
		}
		return nil, "", err
	}
	s.Countries, s.countriesRev = x, rev
	logger.L().Info("countries_ready", "path", s.CountryPath, "countries", x.Len(), "revision", rev)
	return x, rev, nil
}

func (s *Service) climateRevision(vars []string, res string) string {
	if s.DataDir == "" {
		return "0"
	}
	paths := make([]string, len(vars))
	for i, v := range vars {
		paths[i] = filepath.Join(s.DataDir, worldclim.GridFile(v, res))
	}
	return fileRevision(paths...)
}
