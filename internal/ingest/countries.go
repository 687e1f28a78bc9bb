package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"latlon-utils/internal/countries"
	"latlon-utils/internal/logger"
)

// EnsureCountries：确保 <dir>/countries.geojson 存在
// 约束：下载结果先解析校验（至少一个国家），通过后才重命名为正式文件
func EnsureCountries(ctx context.Context, dir string, opts Options) (out string, err error) {
	opts = opts.withDefaults()
	out = filepath.Join(dir, countries.GeoJSONFile)
	if !opts.Force && exists(out) {
		skipped("countries", out)
		return out, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	l := logger.L()
	start := time.Now()
	defer observe("countries", start, &err)

	l.Info("countries_download_begin", "url", opts.CountriesURL)
	staged := filepath.Join(dir, "."+countries.GeoJSONFile+".staged")
	defer os.Remove(staged)
	n, err := download(ctx, opts.Client, opts.CountriesURL, staged, "countries")
	if err != nil {
		return "", err
	}
	cs, err := countries.LoadGeoJSON(staged)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrArchive, opts.CountriesURL, err)
	}
	if len(cs) == 0 {
		return "", fmt.Errorf("%w: %s: no country features", ErrArchive, opts.CountriesURL)
	}
	if err = os.Rename(staged, out); err != nil {
		return "", err
	}
	l.Info("countries_download_done", "bytes", n, "countries", len(cs), "duration_ms", time.Since(start).Milliseconds())
	if err = record(ctx, opts.Catalog, "countries", countries.GeoJSONFile, opts.CountriesURL); err != nil {
		return "", err
	}
	return out, nil
}

// EnsureNaturalEarth：确保 Natural Earth admin-0 shapefile 各分量存在
// 约束：.shp 最后落盘，其存在即表示完整；解压后的 shapefile 需能被解析
func EnsureNaturalEarth(ctx context.Context, dir string, opts Options) (out string, err error) {
	opts = opts.withDefaults()
	out = filepath.Join(dir, countries.NaturalEarthBase+".shp")
	if !opts.Force && exists(out) {
		skipped("naturalearth", out)
		return out, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	l := logger.L()
	start := time.Now()
	defer observe("naturalearth", start, &err)

	l.Info("naturalearth_download_begin", "url", opts.NaturalEarthURL)
	tmpDir, err := os.MkdirTemp("", "naturalearth_")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)
	archive := filepath.Join(tmpDir, countries.NaturalEarthBase+".zip")
	if _, err = download(ctx, opts.Client, opts.NaturalEarthURL, archive, "naturalearth"); err != nil {
		return "", err
	}
	parts, err := extractShapefile(archive, tmpDir)
	if err != nil {
		return "", err
	}
	// 先在临时目录完成解析校验，再逐个移入数据目录
	cs, err := countries.LoadShapefile(filepath.Join(tmpDir, countries.NaturalEarthBase+".shp"))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrArchive, opts.NaturalEarthURL, err)
	}
	for _, p := range parts {
		if err = moveInto(filepath.Join(tmpDir, p), filepath.Join(dir, p)); err != nil {
			return "", err
		}
	}
	l.Info("naturalearth_download_done", "parts", len(parts), "countries", len(cs), "duration_ms", time.Since(start).Milliseconds())
	for _, p := range parts {
		if err = record(ctx, opts.Catalog, "naturalearth/"+p, p, opts.NaturalEarthURL); err != nil {
			return "", err
		}
	}
	return out, nil
}

// extractShapefile：解压 ne_10m_admin_0_countries.* 到 dst，返回文件名（.shp 排在最后）
func extractShapefile(archive, dst string) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchive, filepath.Base(archive), err)
	}
	defer zr.Close()
	var parts []string
	for _, zf := range zr.File {
		base := path.Base(zf.Name)
		if zf.FileInfo().IsDir() || !strings.HasPrefix(base, countries.NaturalEarthBase+".") {
			continue
		}
		b, err := readZipFile(zf)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArchive, zf.Name, err)
		}
		if err := os.WriteFile(filepath.Join(dst, base), b, 0o644); err != nil {
			return nil, err
		}
		parts = append(parts, base)
	}
	hasShp := false
	for _, p := range parts {
		hasShp = hasShp || p == countries.NaturalEarthBase+".shp"
	}
	if !hasShp {
		return nil, fmt.Errorf("%w: %s: no %s.shp", ErrArchive, filepath.Base(archive), countries.NaturalEarthBase)
	}
	sort.SliceStable(parts, func(i, j int) bool {
		return !strings.HasSuffix(parts[i], ".shp") && strings.HasSuffix(parts[j], ".shp")
	})
	return parts, nil
}

// moveInto：复制到目标目录的临时文件并重命名；跨文件系统时 os.Rename 不可用
func moveInto(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(b)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
	}
	return err
}
