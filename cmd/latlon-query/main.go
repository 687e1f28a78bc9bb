// 查询工具：按经纬度列表输出气候常年值或所属国家
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"

	"latlon-utils/internal/climate"
	"latlon-utils/internal/config"
	"latlon-utils/internal/geo"
	"latlon-utils/internal/logger"
	"latlon-utils/pkg/latlon"
)

const usage = `latlon-query: look up climate normals or countries for coordinates.

Usage:
  latlon-query climate --lat=<list> --lon=<list> [--vars=<list>] [--res=<res>] [--dir=<dir>] [--format=<fmt>] [--out=<path>] [--no-download]
  latlon-query country --lat=<list> --lon=<list> [--dir=<dir>] [--natural-earth] [--format=<fmt>] [--out=<path>] [--no-download]
  latlon-query -h | --help

Options:
  -h --help          Show this screen.
  --lat=<list>       Comma separated latitudes.
  --lon=<list>       Comma separated longitudes, one per latitude.
  --vars=<list>      Comma separated WorldClim variables, or all [default: tavg,prec].
  --res=<res>        Resolution: 10m, 5m, 2.5m or 30s (defaults to LATLONRES or 10m).
  --dir=<dir>        Data directory (defaults to LATLONDATA or ~/.local/share/latlon_utils).
  --format=<fmt>     Output format: csv, json or parquet [default: csv].
  --out=<path>       Write to this file instead of stdout.
  --natural-earth    Use the Natural Earth admin-0 shapefile for country lookup;
                     it is downloaded on first use unless --no-download is set.
  --no-download      Fail instead of downloading missing data.
`

// ErrFormat：输出格式不受支持
var ErrFormat = errors.New("unsupported output format")

func main() {
	args, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	config.LoadEnv(".env")
	l := logger.Setup()
	if err := run(context.Background(), args, os.Stdout); err != nil {
		l.Error("query_failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args docopt.Opts, stdout io.Writer) (err error) {
	latS, _ := args.String("--lat")
	lonS, _ := args.String("--lon")
	lats, err := floats(latS)
	if err != nil {
		return fmt.Errorf("--lat: %w", err)
	}
	lons, err := floats(lonS)
	if err != nil {
		return fmt.Errorf("--lon: %w", err)
	}
	format, _ := args.String("--format")
	format = strings.ToLower(format)
	if format != "csv" && format != "json" && format != "parquet" {
		return fmt.Errorf("%w: %q", ErrFormat, format)
	}

	var opts []latlon.Option
	if dir, _ := args.String("--dir"); dir != "" {
		opts = append(opts, latlon.WithDataDir(dir))
	}
	if res, _ := args.String("--res"); res != "" {
		opts = append(opts, latlon.WithResolution(res))
	}
	if noDL, _ := args.Bool("--no-download"); noDL {
		opts = append(opts, latlon.WithDownload(false))
	}

	var write func(io.Writer) error
	if isClimate, _ := args.Bool("climate"); isClimate {
		vars, _ := args.String("--vars")
		opts = append(opts, latlon.WithVariables(vars))
		t, err := latlon.GetClimateMany(ctx, lats, lons, opts...)
		if err != nil {
			return err
		}
		write = func(w io.Writer) error { return writeTable(w, t, format) }
	} else {
		if ne, _ := args.Bool("--natural-earth"); ne {
			opts = append(opts, latlon.WithNaturalEarth())
		}
		names, err := latlon.GetCountries(ctx, lats, lons, opts...)
		if err != nil {
			return err
		}
		write = func(w io.Writer) error { return writeCountries(w, lats, lons, names, format) }
	}

	out := stdout
	if path, _ := args.String("--out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		out = f
	}
	return write(out)
}

func floats(s string) ([]float64, error) {
	var out []float64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := geo.ParseCoord(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no coordinates given")
	}
	return out, nil
}

func writeTable(w io.Writer, t *climate.Table, format string) error {
	switch format {
	case "json":
		return t.WriteJSON(w)
	case "parquet":
		return t.WriteParquet(w)
	default:
		return t.WriteCSV(w)
	}
}

type countryRow struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
}

// writeCountries：lat、lon、country 三列
func writeCountries(w io.Writer, lats, lons []float64, names []string, format string) error {
	if format == "json" {
		rows := make([]countryRow, len(names))
		for i := range names {
			rows[i] = countryRow{Lat: lats[i], Lon: geo.NormalizeLon(lons[i]), Country: names[i]}
		}
		return json.NewEncoder(w).Encode(rows)
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "lat", Type: arrow.PrimitiveTypes.Float64},
		{Name: "lon", Type: arrow.PrimitiveTypes.Float64},
		{Name: "country", Type: arrow.BinaryTypes.String},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues(lats, nil)
	b.Field(1).(*array.Float64Builder).AppendValues(lons, nil)
	b.Field(2).(*array.StringBuilder).AppendValues(names, nil)
	rec := b.NewRecord()
	defer rec.Release()
	if format == "parquet" {
		return climate.WriteRecordParquet(w, rec)
	}
	return climate.WriteRecordCSV(w, rec)
}
