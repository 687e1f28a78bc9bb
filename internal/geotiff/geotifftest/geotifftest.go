// Package geotifftest 在进程内生成小型 GeoTIFF 与 WorldClim 风格 zip，供测试使用
package geotifftest

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"strconv"

	"latlon-utils/internal/worldclim"
)

// Image：待编码的单波段栅格
type Image struct {
	Width, Height int
	OriginX       float64
	OriginY       float64
	Pixel         float64
	Data          []float32

	// NoData 非空时写入 GDAL_NODATA，并用它替换 Data 中的 NaN
	NoData *float64

	Int16        bool
	Deflate      bool
	Predictor    int
	RowsPerStrip int
	BigEndian    bool
}

// Fill：按函数生成行优先数据
func Fill(w, h int, f func(row, col int) float32) []float32 {
	out := make([]float32, w*h)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			out[r*w+c] = f(r, c)
		}
	}
	return out
}

// Global：覆盖全球的图像，像元大小 360/w
func Global(w, h int, f func(row, col int) float32) Image {
	return Image{Width: w, Height: h, OriginX: -180, OriginY: 90, Pixel: 360 / float64(w), Data: Fill(w, h, f)}
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode：生成 tiff 字节
func Encode(img Image) []byte {
	var bo binary.ByteOrder = binary.LittleEndian
	mark := "II"
	if img.BigEndian {
		bo, mark = binary.BigEndian, "MM"
	}
	rps := img.RowsPerStrip
	if rps <= 0 || rps > img.Height {
		rps = img.Height
	}
	pred := img.Predictor
	if pred == 0 {
		pred = 1
	}
	bps, format := 4, 3
	if img.Int16 {
		bps, format = 2, 2
	}

	var body bytes.Buffer
	var offsets, counts []uint32
	for y0 := 0; y0 < img.Height; y0 += rps {
		y1 := y0 + rps
		if y1 > img.Height {
			y1 = img.Height
		}
		var strip []byte
		for y := y0; y < y1; y++ {
			strip = append(strip, encodeRow(img, bo, y, bps, pred)...)
		}
		if img.Deflate {
			var zb bytes.Buffer
			zw := zlib.NewWriter(&zb)
			_, _ = zw.Write(strip)
			_ = zw.Close()
			strip = zb.Bytes()
		}
		offsets = append(offsets, uint32(8+body.Len()))
		counts = append(counts, uint32(len(strip)))
		body.Write(strip)
		if body.Len()%2 == 1 {
			body.WriteByte(0)
		}
	}

	comp := uint16(1)
	if img.Deflate {
		comp = 8
	}
	entries := []entry{
		longs(bo, 256, uint32(img.Width)),
		longs(bo, 257, uint32(img.Height)),
		shorts(bo, 258, uint16(bps*8)),
		shorts(bo, 259, comp),
		shorts(bo, 262, 1),
		longs(bo, 273, offsets...),
		shorts(bo, 277, 1),
		longs(bo, 278, uint32(rps)),
		longs(bo, 279, counts...),
		shorts(bo, 284, 1),
		shorts(bo, 317, uint16(pred)),
		shorts(bo, 339, uint16(format)),
		doubles(bo, 33550, img.Pixel, img.Pixel, 0),
		doubles(bo, 33922, 0, 0, 0, img.OriginX, img.OriginY, 0),
	}
	if img.NoData != nil {
		s := strconv.FormatFloat(*img.NoData, 'g', -1, 64) + "\x00"
		entries = append(entries, entry{tag: 42113, typ: 2, count: uint32(len(s)), data: []byte(s)})
	}

	ifdOff := 8 + body.Len()
	extOff := ifdOff + 2 + 12*len(entries) + 4
	var ifd, ext bytes.Buffer
	u16 := make([]byte, 2)
	u32 := make([]byte, 4)
	bo.PutUint16(u16, uint16(len(entries)))
	ifd.Write(u16)
	for _, e := range entries {
		bo.PutUint16(u16, e.tag)
		ifd.Write(u16)
		bo.PutUint16(u16, e.typ)
		ifd.Write(u16)
		bo.PutUint32(u32, e.count)
		ifd.Write(u32)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			ifd.Write(v)
			continue
		}
		bo.PutUint32(u32, uint32(extOff+ext.Len()))
		ifd.Write(u32)
		ext.Write(e.data)
		if ext.Len()%2 == 1 {
			ext.WriteByte(0)
		}
	}
	ifd.Write([]byte{0, 0, 0, 0})

	var out bytes.Buffer
	out.WriteString(mark)
	bo.PutUint16(u16, 42)
	out.Write(u16)
	bo.PutUint32(u32, uint32(ifdOff))
	out.Write(u32)
	out.Write(body.Bytes())
	out.Write(ifd.Bytes())
	out.Write(ext.Bytes())
	return out.Bytes()
}

func encodeRow(img Image, bo binary.ByteOrder, y, bps, pred int) []byte {
	w := img.Width
	row := img.Data[y*w : (y+1)*w]
	out := make([]byte, w*bps)
	if img.Int16 {
		vals := make([]int16, w)
		for x, v := range row {
			if math.IsNaN(float64(v)) && img.NoData != nil {
				v = float32(*img.NoData)
			}
			vals[x] = int16(math.Round(float64(v)))
		}
		if pred == 2 {
			for x := w - 1; x > 0; x-- {
				vals[x] -= vals[x-1]
			}
		}
		for x, v := range vals {
			bo.PutUint16(out[x*2:], uint16(v))
		}
		return out
	}
	vals := make([]float32, w)
	for x, v := range row {
		if math.IsNaN(float64(v)) && img.NoData != nil {
			v = float32(*img.NoData)
		}
		vals[x] = v
	}
	if pred == 3 {
		// 按字节平面排列（高位在前），再做字节差分
		for x, v := range vals {
			bits := math.Float32bits(v)
			for k := 0; k < 4; k++ {
				out[k*w+x] = byte(bits >> (24 - 8*k))
			}
		}
		for i := len(out) - 1; i > 0; i-- {
			out[i] -= out[i-1]
		}
		return out
	}
	for x, v := range vals {
		bo.PutUint32(out[x*4:], math.Float32bits(v))
	}
	return out
}

func shorts(bo binary.ByteOrder, tag uint16, vs ...uint16) entry {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		bo.PutUint16(b[i*2:], v)
	}
	return entry{tag: tag, typ: 3, count: uint32(len(vs)), data: b}
}

func longs(bo binary.ByteOrder, tag uint16, vs ...uint32) entry {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		bo.PutUint32(b[i*4:], v)
	}
	return entry{tag: tag, typ: 4, count: uint32(len(vs)), data: b}
}

func doubles(bo binary.ByteOrder, tag uint16, vs ...float64) entry {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		bo.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: 12, count: uint32(len(vs)), data: b}
}

// WorldClimZip：把 12 个月的图像打包成 wc<ver>_<res>_<var>.zip 的内容
func WorldClimZip(version, res, name string, months [12]Image) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if w, err := zw.Create("readme.txt"); err == nil {
		_, _ = w.Write([]byte("synthetic worldclim archive"))
	}
	for m := 1; m <= 12; m++ {
		w, err := zw.Create(worldclim.MonthTIF(version, res, name, m))
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(Encode(months[m-1])); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// MonthlyGlobal：每月一张全球图像，值为 f(month, row, col)，month 为 1..12
func MonthlyGlobal(w, h int, f func(month, row, col int) float32) [12]Image {
	var out [12]Image
	for m := 1; m <= 12; m++ {
		mm := m
		out[m-1] = Global(w, h, func(r, c int) float32 { return f(mm, r, c) })
	}
	return out
}
