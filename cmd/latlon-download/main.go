// 数据获取工具：下载 WorldClim 网格与国家边界到数据目录，或校验已下载文件
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/docopt/docopt-go"

	"latlon-utils/internal/catalog"
	"latlon-utils/internal/config"
	"latlon-utils/internal/geo"
	"latlon-utils/internal/ingest"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/metrics"
)

const usage = `latlon-download: fetch WorldClim climate grids and country boundaries.

Usage:
  latlon-download [<outdir>] [--res=<res>] [--vars=<list>] [--lat=<min,max>] [--lon=<min,max>] [--no-worldclim] [--natural-earth] [--force] [--metrics-file=<path>]
  latlon-download [<outdir>] --verify
  latlon-download -h | --help

Arguments:
  <outdir>                Data directory (defaults to LATLONDATA or ~/.local/share/latlon_utils).

Options:
  -h --help               Show this screen.
  --res=<res>             Resolution: 10m, 5m, 2.5m or 30s (defaults to LATLONRES or 10m).
  --vars=<list>           Comma separated WorldClim variables, or all [default: tavg,prec].
  --lat=<min,max>         Keep only grid cells whose centers fall in this latitude window.
                          Required for 30s unless MAX_GRID_BYTES allows the whole globe.
  --lon=<min,max>         Keep only grid cells whose centers fall in this longitude window.
  --no-worldclim          Skip the climate grids.
  --natural-earth         Also fetch the Natural Earth admin-0 shapefile. Without it, the
                          shapefile is downloaded on the first Natural Earth lookup
                          (latlon.WithNaturalEarth() or latlon-query --natural-earth).
  --force                 Fetch again even if the files exist.
  --verify                Recheck the hashes of downloaded files against the catalog.
  --metrics-file=<path>   Write download metrics in Prometheus text format.
`

// ErrVerify：有文件与目录记录不一致
var ErrVerify = errors.New("catalog verification failed")

func main() {
	args, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	config.LoadEnv(".env")
	l := logger.Setup()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, args, os.Stdout); err != nil {
		l.Error("download_failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args docopt.Opts, out io.Writer) (err error) {
	outdir, _ := args.String("<outdir>")
	res, _ := args.String("--res")
	cfg, err := config.LoadFor(outdir, res)
	if err != nil {
		return err
	}
	cat, err := catalog.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer cat.Close()

	if verify, _ := args.Bool("--verify"); verify {
		return verifyCatalog(ctx, cat, out)
	}

	if path, _ := args.String("--metrics-file"); path != "" {
		defer func() {
			if werr := metrics.WriteTextfile(path); werr != nil && err == nil {
				err = werr
			}
		}()
	}

	ro := ingest.RunOptions{
		Options:    ingest.OptionsFromConfig(cfg),
		Dir:        cfg.DataDir,
		Resolution: cfg.Resolution,
	}
	vars, _ := args.String("--vars")
	ro.Variables = []string{vars}
	noWC, _ := args.Bool("--no-worldclim")
	ro.WorldClim = !noWC
	ro.NaturalEarth, _ = args.Bool("--natural-earth")
	ro.Force, _ = args.Bool("--force")
	ro.Catalog = cat
	if s, _ := args.String("--lat"); s != "" {
		if ro.LatRange, err = parseRange(s, 90); err != nil {
			return fmt.Errorf("--lat: %w", err)
		}
	}
	if s, _ := args.String("--lon"); s != "" {
		if ro.LonRange, err = parseRange(s, 180); err != nil {
			return fmt.Errorf("--lon: %w", err)
		}
	}
	if err := ingest.Run(ctx, ro); err != nil {
		return err
	}
	entries, err := cat.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\t%d\t%s\n", e.Key, e.File, e.Bytes, e.XXHash)
	}
	return nil
}

// parseRange：解析 "min,max"；limit 为绝对值上限，逆序时交换
func parseRange(s string, limit float64) (*[2]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("want min,max, got %q", s)
	}
	var r [2]float64
	for i, p := range parts {
		v, err := geo.ParseCoord(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		if v < -limit || v > limit {
			return nil, fmt.Errorf("%g outside [-%g, %g]", v, limit, limit)
		}
		r[i] = v
	}
	if r[0] > r[1] {
		r[0], r[1] = r[1], r[0]
	}
	return &r, nil
}

func verifyCatalog(ctx context.Context, cat *catalog.Catalog, out io.Writer) error {
	ms, err := cat.Verify(ctx)
	if err != nil {
		return err
	}
	for _, m := range ms {
		if m.Missing {
			fmt.Fprintf(out, "missing\t%s\t%s\n", m.Key, m.File)
			continue
		}
		fmt.Fprintf(out, "changed\t%s\t%s\twant %s got %s\n", m.Key, m.File, m.XXHash, m.Actual)
	}
	if len(ms) > 0 {
		return fmt.Errorf("%w: %d files", ErrVerify, len(ms))
	}
	fmt.Fprintln(out, "ok")
	return nil
}
