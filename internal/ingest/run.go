package ingest

import (
	"context"
	"fmt"

	"latlon-utils/internal/logger"
	"latlon-utils/internal/worldclim"
)

// RunOptions：命令行一次获取的组合
type RunOptions struct {
	Options
	Dir          string
	Resolution   string
	Variables    []string
	WorldClim    bool
	NaturalEarth bool
}

// Run：依次获取请求的气候变量（支持 all）、国家边界，以及可选的 Natural Earth 数据
// 异常：遇到第一个错误即返回，不重试
func Run(ctx context.Context, ro RunOptions) error {
	l := logger.L()
	if ro.WorldClim {
		names, err := worldclim.Expand(ro.Variables)
		if err != nil {
			return err
		}
		if err := worldclim.ValidateResolution(ro.Resolution); err != nil {
			return err
		}
		for i, name := range names {
			l.Info("ingest_variable", "variable", name, "resolution", ro.Resolution, "n", i+1, "of", len(names))
			if _, err := EnsureVariable(ctx, ro.Dir, name, ro.Resolution, ro.Options); err != nil {
				return fmt.Errorf("ingest %s_%s: %w", name, ro.Resolution, err)
			}
		}
	}
	if _, err := EnsureCountries(ctx, ro.Dir, ro.Options); err != nil {
		return fmt.Errorf("ingest countries: %w", err)
	}
	if ro.NaturalEarth {
		if _, err := EnsureNaturalEarth(ctx, ro.Dir, ro.Options); err != nil {
			return fmt.Errorf("ingest natural earth: %w", err)
		}
	}
	l.Info("ingest_done", "dir", ro.Dir)
	return nil
}
