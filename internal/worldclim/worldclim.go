// 包 worldclim：WorldClim v2 数据集约定（变量、分辨率、归档与文件命名、时段标签）
package worldclim

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrVariable   = errors.New("unknown worldclim variable")
	ErrResolution = errors.New("unknown worldclim resolution")
)

// Reference：写入网格文件属性的数据引用
const Reference = "Fick, S.E. and R.J. Hijmans, 2017. WorldClim 2: new 1km spatial resolution climate surfaces for global land areas. International Journal of Climatology 37 (12): 4302-4315."

// DefaultVersion 与 DefaultBaseURL：当前仅 2.1 的地址在线
const (
	DefaultVersion    = "2.1"
	DefaultBaseURL    = "https://geodata.ucdavis.edu/climate/worldclim/2_1/base/"
	LegacyBaseURL     = "https://biogeo.ucdavis.edu/data/worldclim/v2.0/tif/base/"
	DefaultResolution = "10m"
	All               = "all"
)

// Variable：单个气候变量的描述
type Variable struct {
	Name     string
	LongName string
	Units    string
}

// Variables：按下载顺序排列
var Variables = []Variable{
	{Name: "tmin", LongName: "minimum temperature", Units: "degC"},
	{Name: "tmax", LongName: "maximum temperature", Units: "degC"},
	{Name: "tavg", LongName: "average temperature", Units: "degC"},
	{Name: "prec", LongName: "precipitation", Units: "mm"},
	{Name: "srad", LongName: "solar radiation", Units: "kJ m-2 day-1"},
	{Name: "wind", LongName: "wind speed", Units: "m s-1"},
	{Name: "vapr", LongName: "water vapor pressure", Units: "kPa"},
}

// DefaultLookupVariables：查询时未指定变量的默认集合
var DefaultLookupVariables = []string{"tavg", "prec"}

// Resolutions：10 分、5 分、2.5 分与 30 秒
var Resolutions = []string{"10m", "5m", "2.5m", "30s"}

// Months 与 Periods：列标签；五月沿用 "mai"
var Months = [12]string{"jan", "feb", "mar", "apr", "mai", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

var Seasons = []Season{
	{Name: "djf", Months: [3]int{0, 1, 11}},
	{Name: "mam", Months: [3]int{2, 3, 4}},
	{Name: "jja", Months: [3]int{5, 6, 7}},
	{Name: "son", Months: [3]int{8, 9, 10}},
}

// Season：季节名与所含月份下标（0 起）
type Season struct {
	Name   string
	Months [3]int
}

// Annual：全年均值列名
const Annual = "ann"

// NumPeriods：12 个月 + 4 个季节 + 全年
const NumPeriods = 17

// Periods：按列顺序返回全部时段标签
func Periods() []string {
	out := make([]string, 0, NumPeriods)
	out = append(out, Months[:]...)
	for _, s := range Seasons {
		out = append(out, s.Name)
	}
	return append(out, Annual)
}

// PeriodIndex：时段标签在 Periods 中的位置
func PeriodIndex(name string) (int, bool) {
	for i, p := range Periods() {
		if p == name {
			return i, true
		}
	}
	return -1, false
}

func Lookup(name string) (Variable, error) {
	for _, v := range Variables {
		if v.Name == name {
			return v, nil
		}
	}
	return Variable{}, fmt.Errorf("%w: %q", ErrVariable, name)
}

func ValidateResolution(res string) error {
	for _, r := range Resolutions {
		if r == res {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (want one of %s)", ErrResolution, res, strings.Join(Resolutions, ", "))
}

// CellSize：分辨率对应的像元边长（度）
func CellSize(res string) (float64, error) {
	switch res {
	case "10m":
		return 1.0 / 6, nil
	case "5m":
		return 1.0 / 12, nil
	case "2.5m":
		return 1.0 / 24, nil
	case "30s":
		return 1.0 / 120, nil
	}
	return 0, ValidateResolution(res)
}

// Expand：展开变量列表，支持 "all" 与逗号分隔；去重并保持顺序
func Expand(names []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, raw := range names {
		for _, n := range strings.Split(raw, ",") {
			n = strings.ToLower(strings.TrimSpace(n))
			if n == "" {
				continue
			}
			if n == All {
				for _, v := range Variables {
					add(v.Name)
				}
				continue
			}
			if _, err := Lookup(n); err != nil {
				return nil, err
			}
			add(n)
		}
	}
	return out, nil
}

// ArchiveName：远端 zip 名，如 wc2.1_10m_tavg.zip
func ArchiveName(version, res, name string) string {
	return fmt.Sprintf("wc%s_%s_%s.zip", version, res, name)
}

// ArchiveURL：远端 zip 的完整地址
func ArchiveURL(base, version, res, name string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + ArchiveName(version, res, name)
}

// MonthTIF：归档内某月的 tif 名，month 为 1..12
func MonthTIF(version, res, name string, month int) string {
	return fmt.Sprintf("wc%s_%s_%s_%02d.tif", version, res, name, month)
}

// MonthOf：从归档内的文件名解析月份；不匹配时返回 false
func MonthOf(version, res, name, file string) (int, bool) {
	prefix := fmt.Sprintf("wc%s_%s_%s_", version, res, name)
	if !strings.HasPrefix(file, prefix) || !strings.HasSuffix(file, ".tif") {
		return 0, false
	}
	mm := strings.TrimSuffix(strings.TrimPrefix(file, prefix), ".tif")
	if len(mm) != 2 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 1 || m > 12 {
		return 0, false
	}
	return m, true
}

// GridFile：本地网格文件名，如 tavg_10m.arrow
func GridFile(name, res string) string {
	return name + "_" + res + ".arrow"
}

// BaseURLFor：版本对应的默认远端目录
func BaseURLFor(version string) string {
	if version == "2.0" {
		return LegacyBaseURL
	}
	return DefaultBaseURL
}
