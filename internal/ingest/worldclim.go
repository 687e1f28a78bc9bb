package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"time"

	"latlon-utils/internal/geotiff"
	"latlon-utils/internal/grid"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/worldclim"
)

// EnsureVariable：确保 <dir>/<var>_<res>.arrow 存在
// 背景：文件已存在且未要求强制时不访问网络；否则下载归档、逐月按窗口解码 tif 后写出
// 约束：归档在系统临时目录中处理，结束后删除；网格文件经临时文件重命名落盘
// 异常：窗口内 12 个月的估算体积超过 MaxGridBytes 时在下载前返回 ErrTooLarge
func EnsureVariable(ctx context.Context, dir, name, res string, opts Options) (out string, err error) {
	v, err := worldclim.Lookup(name)
	if err != nil {
		return "", err
	}
	if err := worldclim.ValidateResolution(res); err != nil {
		return "", err
	}
	opts = opts.withDefaults()
	out = filepath.Join(dir, worldclim.GridFile(name, res))
	if !opts.Force && exists(out) {
		skipped("worldclim", out)
		return out, nil
	}
	lat, lon := [2]float64{-90, 90}, [2]float64{-180, 180}
	if opts.LatRange != nil {
		lat = *opts.LatRange
	}
	if opts.LonRange != nil {
		lon = *opts.LonRange
	}
	if err := checkSize(res, lat, lon, opts.MaxGridBytes); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	l := logger.L()
	start := time.Now()
	defer observe("worldclim", start, &err)

	url := worldclim.ArchiveURL(opts.BaseURL, opts.Version, res, name)
	l.Info("worldclim_download_begin", "variable", name, "resolution", res, "url", url)
	tmpDir, err := os.MkdirTemp("", "worldclim_")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)
	archive := filepath.Join(tmpDir, worldclim.ArchiveName(opts.Version, res, name))
	n, err := download(ctx, opts.Client, url, archive, "worldclim")
	if err != nil {
		return "", err
	}
	l.Info("worldclim_download_done", "variable", name, "bytes", n, "duration_ms", time.Since(start).Milliseconds())

	var pick geotiff.Picker
	if opts.LatRange != nil || opts.LonRange != nil {
		pick = func(h geotiff.Raster) (geotiff.Window, error) {
			t := grid.Transform{Rows: h.Height, Cols: h.Width, Lon0: h.OriginX, Lat0: h.OriginY, DLon: h.PixelX, DLat: h.PixelY}
			return t.Window(lat[0], lat[1], lon[0], lon[1])
		}
	}
	months, err := readMonths(archive, opts.Version, res, name, pick)
	if err != nil {
		return "", err
	}
	g, err := grid.FromRasters(name, res, months)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrArchive, url, err)
	}
	g.Attrs["long_name"] = v.LongName
	g.Attrs["units"] = v.Units
	g.Attrs["history"] = fmt.Sprintf("%s: downloaded from %s", time.Now().UTC().Format(time.RFC3339), url)
	g.Attrs["reference"] = worldclim.Reference
	if err = grid.Write(out, g); err != nil {
		return "", err
	}
	if err = record(ctx, opts.Catalog, "worldclim/"+name+"/"+res, filepath.Base(out), url); err != nil {
		return "", err
	}
	return out, nil
}

// checkSize：按分辨率估算窗口内 12 个月 float32 的体积
func checkSize(res string, lat, lon [2]float64, limit int64) error {
	d, err := worldclim.CellSize(res)
	if err != nil {
		return err
	}
	rows := math.Min(math.Ceil((lat[1]-lat[0])/d)+1, 180/d)
	cols := math.Min(math.Ceil((lon[1]-lon[0])/d)+1, 360/d)
	need := 12 * 4 * math.Max(rows, 1) * math.Max(cols, 1)
	if need > float64(limit) {
		return fmt.Errorf("%w: %s lat [%g,%g] lon [%g,%g] needs about %.1f GiB (limit %.1f GiB); narrow it with --lat/--lon or raise MAX_GRID_BYTES",
			ErrTooLarge, res, lat[0], lat[1], lon[0], lon[1], need/(1<<30), float64(limit)/(1<<30))
	}
	return nil
}

// readMonths：从归档中逐月解码 tif；pick 非空时每月只保留窗口内像元
// 约束：同一时刻只缓冲一个月的压缩 tif
func readMonths(archive, version, res, name string, pick geotiff.Picker) ([12]*geotiff.Raster, error) {
	var months [12]*geotiff.Raster
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return months, fmt.Errorf("%w: %s: %v", ErrArchive, filepath.Base(archive), err)
	}
	defer zr.Close()
	for _, zf := range zr.File {
		m, ok := worldclim.MonthOf(version, res, name, path.Base(zf.Name))
		if !ok {
			continue
		}
		b, err := readZipFile(zf)
		if err != nil {
			return months, fmt.Errorf("%w: %s: %v", ErrArchive, zf.Name, err)
		}
		r, err := geotiff.DecodeWindow(b, pick)
		if err != nil {
			return months, fmt.Errorf("decode %s: %w", zf.Name, err)
		}
		months[m-1] = r
		logger.L().Debug("worldclim_month_decoded", "file", zf.Name, "width", r.Width, "height", r.Height)
	}
	for m, r := range months {
		if r == nil {
			return months, fmt.Errorf("%w: %s: missing %s", ErrArchive, filepath.Base(archive), worldclim.MonthTIF(version, res, name, m+1))
		}
	}
	return months, nil
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
