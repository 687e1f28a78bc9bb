// 包 geotiff：单波段 GeoTIFF 栅格解码
// 覆盖 WorldClim 分发格式：条带或瓦片、无压缩/LZW/Deflate/PackBits、预测器 1/2/3、整型与浮点样本；
// 地理参考取自 ModelPixelScale+ModelTiepoint 或 ModelTransformation，NoData 取自 GDAL_NODATA 并置为 NaN
package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrUnsupported = errors.New("unsupported tiff")
	ErrFormat      = errors.New("malformed tiff")
)

// Raster：解码后的单波段栅格，行优先（北到南、西到东）
type Raster struct {
	Width, Height int

	// 左上角外边界坐标与像元大小（均为正数）
	OriginX, OriginY float64
	PixelX, PixelY   float64

	NoData    float64
	HasNoData bool
	Data      []float32
}

// At：按行列取值
func (r *Raster) At(row, col int) float32 {
	return r.Data[row*r.Width+col]
}

// Window：像元窗口，自 (Row, Col) 起 Rows 行 Cols 列
type Window struct {
	Row, Col   int
	Rows, Cols int
}

// Picker：根据栅格头（Data 为空）选定要解码的窗口
type Picker func(hdr Raster) (Window, error)

// Decode：解码内存中的 tiff；仅读取第一个 IFD 的第一个样本
func Decode(b []byte) (*Raster, error) {
	return DecodeWindow(b, nil)
}

// DecodeWindow：同 Decode，但只为 pick 选定的窗口分配像元；pick 为 nil 时解码全图
// 约束：与窗口不相交的块不解压；返回栅格的原点平移到窗口左上角
func DecodeWindow(b []byte, pick Picker) (*Raster, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrFormat)
	}
	var bo binary.ByteOrder
	switch string(b[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark", ErrFormat)
	}
	switch bo.Uint16(b[2:4]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: bigtiff", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	d := &decoder{buf: b, bo: bo}
	if err := d.readIFD(int(bo.Uint32(b[4:8]))); err != nil {
		return nil, err
	}
	return d.decode(pick)
}

type decoder struct {
	buf  []byte
	bo   binary.ByteOrder
	tags map[uint16]field
}

func (d *decoder) decode(pick Picker) (*Raster, error) {
	width := int(d.first(tagImageWidth, 0))
	height := int(d.first(tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: missing image size", ErrFormat)
	}
	spp := int(d.first(tagSamplesPerPixel, 1))
	if spp < 1 {
		spp = 1
	}
	planar := d.first(tagPlanarConfig, 1)
	bits := int(d.first(tagBitsPerSample, 1))
	sf := d.first(tagSampleFormat, sampleUint)
	comp := d.first(tagCompression, compNone)
	pred := d.first(tagPredictor, predNone)

	s, err := newSampler(bits, sf, d.bo)
	if err != nil {
		return nil, err
	}
	// 分块布局：条带视为宽度等于全图宽度的瓦片
	var (
		bw, bh  int
		offsets []uint64
		counts  []uint64
	)
	if d.has(tagTileWidth) {
		bw = int(d.first(tagTileWidth, 0))
		bh = int(d.first(tagTileLength, 0))
		offsets, counts = d.uints(tagTileOffsets), d.uints(tagTileByteCounts)
	} else {
		bw = width
		bh = int(d.first(tagRowsPerStrip, uint64(height)))
		if bh <= 0 || bh > height {
			bh = height
		}
		offsets, counts = d.uints(tagStripOffsets), d.uints(tagStripByteCounts)
	}
	if bw <= 0 || bh <= 0 {
		return nil, fmt.Errorf("%w: bad block size", ErrFormat)
	}
	across := (width + bw - 1) / bw
	down := (height + bh - 1) / bh
	nblocks := across * down
	if len(offsets) < nblocks || len(counts) < nblocks {
		return nil, fmt.Errorf("%w: %d blocks, %d offsets", ErrFormat, nblocks, len(offsets))
	}
	// 多样本像素交错存放时只取第一个样本；平面存放时前 nblocks 块即第一波段
	stride := spp
	if planar == 2 {
		stride = 1
	}

	r := &Raster{Width: width, Height: height}
	if err := d.georef(r); err != nil {
		return nil, err
	}
	if nd, ok := d.nodata(); ok {
		r.NoData, r.HasNoData = nd, true
	}
	win := Window{Rows: height, Cols: width}
	if pick != nil {
		if win, err = pick(*r); err != nil {
			return nil, err
		}
		if win.Row < 0 || win.Col < 0 || win.Rows <= 0 || win.Cols <= 0 ||
			win.Row+win.Rows > height || win.Col+win.Cols > width {
			return nil, fmt.Errorf("%w: window %+v outside %dx%d", ErrFormat, win, width, height)
		}
		r.OriginX += float64(win.Col) * r.PixelX
		r.OriginY -= float64(win.Row) * r.PixelY
		r.Width, r.Height = win.Cols, win.Rows
	}
	r.Data = make([]float32, win.Rows*win.Cols)

	vals := make([]float64, bw*bh)
	for blk := 0; blk < nblocks; blk++ {
		bx, by := (blk%across)*bw, (blk/across)*bh
		if bx >= win.Col+win.Cols || bx+bw <= win.Col || by >= win.Row+win.Rows || by+bh <= win.Row {
			continue
		}
		off, n := offsets[blk], counts[blk]
		if off+n > uint64(len(d.buf)) {
			return nil, fmt.Errorf("%w: block %d out of range", ErrFormat, blk)
		}
		raw, err := decompress(comp, d.buf[off:off+n])
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", blk, err)
		}
		if err := unpredict(pred, raw, s, bw, bh, stride); err != nil {
			return nil, err
		}
		if err := s.decodeBlock(raw, pred, bw, bh, stride, vals); err != nil {
			return nil, fmt.Errorf("block %d: %w", blk, err)
		}
		y0, y1 := max(by, win.Row), min(by+bh, win.Row+win.Rows)
		x0, x1 := max(bx, win.Col), min(bx+bw, win.Col+win.Cols)
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				v := vals[(y-by)*bw+x-bx]
				if r.HasNoData && isNoData(v, r.NoData, bits, sf) {
					v = math.NaN()
				}
				r.Data[(y-win.Row)*win.Cols+x-win.Col] = float32(v)
			}
		}
	}
	return r, nil
}

func isNoData(v, nd float64, bits int, sf uint64) bool {
	if math.IsNaN(nd) {
		return math.IsNaN(v)
	}
	if sf == sampleFloat && bits == 32 {
		return float32(v) == float32(nd)
	}
	return v == nd
}

func (d *decoder) georef(r *Raster) error {
	if m := d.floats(tagModelTransformation); len(m) >= 16 {
		if m[1] != 0 || m[4] != 0 {
			return fmt.Errorf("%w: rotated model transformation", ErrUnsupported)
		}
		r.PixelX, r.PixelY = m[0], -m[5]
		r.OriginX, r.OriginY = m[3], m[7]
		return nil
	}
	scale := d.floats(tagModelPixelScale)
	tie := d.floats(tagModelTiepoint)
	if len(scale) < 2 || len(tie) < 6 {
		return fmt.Errorf("%w: missing georeferencing", ErrUnsupported)
	}
	r.PixelX, r.PixelY = scale[0], scale[1]
	r.OriginX = tie[3] - tie[0]*scale[0]
	r.OriginY = tie[4] + tie[1]*scale[1]
	if r.PixelX <= 0 || r.PixelY <= 0 {
		return fmt.Errorf("%w: non-positive pixel scale", ErrFormat)
	}
	return nil
}

func (d *decoder) nodata() (float64, bool) {
	f, ok := d.tags[tagGDALNoData]
	if !ok {
		return 0, false
	}
	s := strings.TrimSpace(strings.Trim(d.ascii(f), "\x00"))
	if s == "" {
		return 0, false
	}
	if strings.EqualFold(s, "nan") {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
