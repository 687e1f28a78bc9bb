// 包 ingest：远端数据集的一次性获取与本地转换，作为离线数据通道
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"latlon-utils/internal/catalog"
	"latlon-utils/internal/config"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/metrics"
	"latlon-utils/internal/worldclim"
)

var (
	ErrFetch    = errors.New("fetch failed")
	ErrArchive  = errors.New("bad archive")
	ErrTooLarge = errors.New("grid too large")
	ErrVariable = worldclim.ErrVariable
)

// Options：获取参数；零值字段使用默认地址与默认客户端
type Options struct {
	Client          *http.Client
	BaseURL         string
	Version         string
	CountriesURL    string
	NaturalEarthURL string

	// LatRange/LonRange 非空时只保留窗口内的网格单元
	LatRange *[2]float64
	LonRange *[2]float64

	// MaxGridBytes：输出网格 12 个月 float32 的估算上限；超出时在下载前拒绝
	MaxGridBytes int64

	Force   bool
	Catalog *catalog.Catalog
}

// OptionsFromConfig：由进程配置构造获取参数
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Client:          &http.Client{Timeout: c.HTTPTimeout},
		BaseURL:         c.WorldClimBaseURL,
		Version:         c.WorldClimVersion,
		CountriesURL:    c.CountriesURL,
		NaturalEarthURL: c.NaturalEarthURL,
		MaxGridBytes:    c.MaxGridBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: config.DefaultHTTPTimeout}
	}
	if o.Version == "" {
		o.Version = worldclim.DefaultVersion
	}
	if o.BaseURL == "" {
		o.BaseURL = worldclim.BaseURLFor(o.Version)
	}
	if o.CountriesURL == "" {
		o.CountriesURL = config.DefaultCountriesURL
	}
	if o.NaturalEarthURL == "" {
		o.NaturalEarthURL = config.DefaultNaturalEarthURL
	}
	if o.MaxGridBytes <= 0 {
		o.MaxGridBytes = config.DefaultMaxGridBytes
	}
	return o
}

func exists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// download：GET 到 dst；先写同目录临时文件，校验长度并 fsync 后重命名
// 异常：传输错误、非 2xx、正文短于 Content-Length 均返回 ErrFetch，且不留下 dst
func download(ctx context.Context, client *http.Client, url, dst, dataset string) (int64, error) {
	l := logger.L()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: %s: status %d", ErrFetch, url, resp.StatusCode)
	}

	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	pw := &progressWriter{l: l, url: url, total: resp.ContentLength, every: 16 << 20}
	n, err := io.Copy(io.MultiWriter(f, pw), resp.Body)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	} else if resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("%w: %s: short body %d of %d bytes", ErrFetch, url, n, resp.ContentLength)
	}
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
		return 0, err
	}
	metrics.DownloadBytesTotal.WithLabelValues(dataset).Add(float64(n))
	return n, nil
}

// progressWriter：按固定字节间隔输出下载进度
type progressWriter struct {
	l     *slog.Logger
	url   string
	total int64
	n     int64
	next  int64
	every int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.n += int64(len(b))
	if p.n >= p.next {
		p.l.Debug("download_progress", "url", p.url, "bytes", p.n, "total", p.total)
		p.next = p.n + p.every
	}
	return len(b), nil
}

// observe：记录一次获取的耗时与结果
func observe(dataset string, start time.Time, err *error) {
	outcome := "fetched"
	if *err != nil {
		outcome = "failed"
	}
	metrics.DownloadsTotal.WithLabelValues(dataset, outcome).Inc()
	metrics.DownloadDurationMs.WithLabelValues(dataset).Observe(float64(time.Since(start).Milliseconds()))
}

func skipped(dataset, path string) {
	metrics.DownloadsTotal.WithLabelValues(dataset, "skipped").Inc()
	logger.L().Info("download_skip", "dataset", dataset, "path", path)
}

func record(ctx context.Context, c *catalog.Catalog, key, file, url string) error {
	if c == nil {
		return nil
	}
	_, err := c.Record(ctx, key, file, url)
	return err
}
