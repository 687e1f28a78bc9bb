// 包 config：环境变量优先的配置加载；支持 .env 文件，缺省值与数据目录创建集中在此
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"latlon-utils/internal/worldclim"
)

// ErrResolution：未知分辨率
var ErrResolution = worldclim.ErrResolution

const (
	DefaultCountriesURL    = "https://raw.githubusercontent.com/datasets/geo-countries/master/data/countries.geojson"
	DefaultNaturalEarthURL = "https://naciscdn.org/naturalearth/10m/cultural/ne_10m_admin_0_countries.zip"
	DefaultHTTPTimeout     = 10 * time.Minute

	// DefaultMaxGridBytes：单个网格文件 12 个月 float32 的内存上限
	DefaultMaxGridBytes int64 = 8 << 30
)

// Config：进程级配置快照
type Config struct {
	DataDir          string
	Resolution       string
	WorldClimBaseURL string
	WorldClimVersion string
	CountriesURL     string
	NaturalEarthURL  string
	HTTPTimeout      time.Duration
	MaxGridBytes     int64
	Addr             string
	APIBase          string
}

// LoadEnv：加载工作目录下的 .env；文件缺失不视为错误，已有环境变量不被覆盖
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load：读取环境变量构造配置，并确保数据目录存在
func Load() (*Config, error) {
	return LoadFor("", "")
}

// LoadFor：同 Load，但显式的数据目录与分辨率优先于环境变量
func LoadFor(dataDir, resolution string) (*Config, error) {
	dir, err := DataDir(dataDir)
	if err != nil {
		return nil, err
	}
	res, err := Resolution(resolution)
	if err != nil {
		return nil, err
	}
	ver := getenv("WORLDCLIM_VERSION", worldclim.DefaultVersion)
	c := &Config{
		DataDir:          dir,
		Resolution:       res,
		WorldClimVersion: ver,
		WorldClimBaseURL: getenv("WORLDCLIM_BASE_URL", worldclim.BaseURLFor(ver)),
		CountriesURL:     getenv("COUNTRIES_URL", DefaultCountriesURL),
		NaturalEarthURL:  getenv("NATURAL_EARTH_URL", DefaultNaturalEarthURL),
		HTTPTimeout:      DefaultHTTPTimeout,
		MaxGridBytes:     DefaultMaxGridBytes,
		Addr:             getenv("ADDR", ":8080"),
		APIBase:          strings.TrimRight(getenv("API_BASE", "/api"), "/"),
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_TIMEOUT")); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: HTTP_TIMEOUT: %w", err)
		}
		c.HTTPTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("MAX_GRID_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: MAX_GRID_BYTES: %q is not a positive byte count", v)
		}
		c.MaxGridBytes = n
	}
	return c, nil
}

// DataDir：数据目录；显式参数优先，其次 LATLONDATA，最后 ~/.local/share/latlon_utils
// 约束：目录不存在时创建
func DataDir(dir string) (string, error) {
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv("LATLONDATA"))
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".local", "share", "latlon_utils")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create data dir: %w", err)
	}
	return dir, nil
}

// Resolution：分辨率；显式参数优先，其次 LATLONRES，缺省 10m
func Resolution(res string) (string, error) {
	if res == "" {
		res = strings.TrimSpace(os.Getenv("LATLONRES"))
	}
	if res == "" {
		res = worldclim.DefaultResolution
	}
	if err := worldclim.ValidateResolution(res); err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	return res, nil
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// parseDuration：接受 Go 时长写法或纯秒数
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
