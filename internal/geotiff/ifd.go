package geotiff

import (
	"fmt"
	"math"
)

const (
	tagImageWidth          uint16 = 256
	tagImageLength         uint16 = 257
	tagBitsPerSample       uint16 = 258
	tagCompression         uint16 = 259
	tagStripOffsets        uint16 = 273
	tagSamplesPerPixel     uint16 = 277
	tagRowsPerStrip        uint16 = 278
	tagStripByteCounts     uint16 = 279
	tagPlanarConfig        uint16 = 284
	tagPredictor           uint16 = 317
	tagTileWidth           uint16 = 322
	tagTileLength          uint16 = 323
	tagTileOffsets         uint16 = 324
	tagTileByteCounts      uint16 = 325
	tagSampleFormat        uint16 = 339
	tagModelPixelScale     uint16 = 33550
	tagModelTiepoint       uint16 = 33922
	tagModelTransformation uint16 = 34264
	tagGDALNoData          uint16 = 42113
)

const (
	compNone     = 1
	compLZW      = 5
	compDeflate  = 8
	compPackBits = 32773
	compDeflateX = 32946

	predNone          = 1
	predHorizontal    = 2
	predFloatingPoint = 3

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// 字段类型
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSize = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8, dtSByte: 1,
	dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8, dtFloat: 4, dtDouble: 8,
}

// field：IFD 条目；data 指向值本体（内联或偏移处）
type field struct {
	typ   uint16
	count int
	data  []byte
}

func (d *decoder) readIFD(off int) error {
	if off <= 0 || off+2 > len(d.buf) {
		return fmt.Errorf("%w: ifd offset %d", ErrFormat, off)
	}
	n := int(d.bo.Uint16(d.buf[off:]))
	if off+2+n*12 > len(d.buf) {
		return fmt.Errorf("%w: truncated ifd", ErrFormat)
	}
	d.tags = make(map[uint16]field, n)
	for i := 0; i < n; i++ {
		e := d.buf[off+2+i*12 : off+2+(i+1)*12]
		tag := d.bo.Uint16(e[0:2])
		typ := d.bo.Uint16(e[2:4])
		count := int(d.bo.Uint32(e[4:8]))
		sz, ok := typeSize[typ]
		if !ok {
			// 未知类型的条目直接跳过
			continue
		}
		size := sz * count
		var data []byte
		if size <= 4 {
			data = e[8 : 8+size]
		} else {
			p := int(d.bo.Uint32(e[8:12]))
			if p < 0 || p+size > len(d.buf) {
				return fmt.Errorf("%w: tag %d value out of range", ErrFormat, tag)
			}
			data = d.buf[p : p+size]
		}
		d.tags[tag] = field{typ: typ, count: count, data: data}
	}
	return nil
}

func (d *decoder) has(tag uint16) bool {
	_, ok := d.tags[tag]
	return ok
}

// uints：整型字段的全部值
func (d *decoder) uints(tag uint16) []uint64 {
	f, ok := d.tags[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case dtByte, dtUndefined, dtSByte:
			out[i] = uint64(f.data[i])
		case dtShort, dtSShort:
			out[i] = uint64(d.bo.Uint16(f.data[i*2:]))
		case dtLong, dtSLong:
			out[i] = uint64(d.bo.Uint32(f.data[i*4:]))
		default:
			return nil
		}
	}
	return out
}

// first：整型字段的首值；缺失时返回 def
func (d *decoder) first(tag uint16, def uint64) uint64 {
	v := d.uints(tag)
	if len(v) == 0 {
		return def
	}
	return v[0]
}

// floats：浮点或整型字段转 float64
func (d *decoder) floats(tag uint16) []float64 {
	f, ok := d.tags[tag]
	if !ok {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.bo.Uint64(f.data[i*8:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.bo.Uint32(f.data[i*4:])))
		case dtRational:
			num, den := d.bo.Uint32(f.data[i*8:]), d.bo.Uint32(f.data[i*8+4:])
			if den == 0 {
				return nil
			}
			out[i] = float64(num) / float64(den)
		default:
			u := d.uints(tag)
			if u == nil {
				return nil
			}
			out[i] = float64(u[i])
		}
	}
	return out
}

func (d *decoder) ascii(f field) string {
	if f.typ != dtASCII {
		return ""
	}
	return string(f.data)
}
