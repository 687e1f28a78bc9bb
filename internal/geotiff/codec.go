package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/image/tiff/lzw"
)

func decompress(comp uint64, src []byte) ([]byte, error) {
	switch comp {
	case compNone:
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	case compLZW:
		r := lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil && len(out) == 0 {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		return out, nil
	case compDeflate, compDeflateX:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case compPackBits:
		return unpackBits(src)
	}
	return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, comp)
}

func unpackBits(src []byte) ([]byte, error) {
	var out []byte
	for i := 0; i < len(src); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, fmt.Errorf("%w: packbits literal overrun", ErrFormat)
			}
			out = append(out, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, fmt.Errorf("%w: packbits run overrun", ErrFormat)
			}
			for k := 0; k < 1-n; k++ {
				out = append(out, src[i])
			}
			i++
		}
	}
	return out, nil
}

// sampler：按位宽与样本格式把原始字节转成 float64
type sampler struct {
	size   int
	format uint64
	bo     binary.ByteOrder
}

func newSampler(bits int, format uint64, bo binary.ByteOrder) (sampler, error) {
	switch format {
	case sampleUint, sampleInt:
		if bits != 8 && bits != 16 && bits != 32 && bits != 64 {
			return sampler{}, fmt.Errorf("%w: %d-bit integer samples", ErrUnsupported, bits)
		}
	case sampleFloat:
		if bits != 32 && bits != 64 {
			return sampler{}, fmt.Errorf("%w: %d-bit float samples", ErrUnsupported, bits)
		}
	default:
		return sampler{}, fmt.Errorf("%w: sample format %d", ErrUnsupported, format)
	}
	return sampler{size: bits / 8, format: format, bo: bo}, nil
}

func (s sampler) value(b []byte, bo binary.ByteOrder) float64 {
	switch s.format {
	case sampleFloat:
		if s.size == 4 {
			return float64(math.Float32frombits(bo.Uint32(b)))
		}
		return math.Float64frombits(bo.Uint64(b))
	case sampleInt:
		switch s.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(bo.Uint16(b)))
		case 4:
			return float64(int32(bo.Uint32(b)))
		}
		return float64(int64(bo.Uint64(b)))
	}
	switch s.size {
	case 1:
		return float64(b[0])
	case 2:
		return float64(bo.Uint16(b))
	case 4:
		return float64(bo.Uint32(b))
	}
	return float64(bo.Uint64(b))
}

// decodeBlock：把一块像素的首样本写入 vals；不足 bh 行的末条带只写可用行
func (s sampler) decodeBlock(raw []byte, pred uint64, bw, bh, stride int, vals []float64) error {
	rowBytes := bw * stride * s.size
	rows := len(raw) / rowBytes
	if rows > bh {
		rows = bh
	}
	if rows == 0 {
		return fmt.Errorf("%w: empty block", ErrFormat)
	}
	bo := s.bo
	if pred == predFloatingPoint {
		bo = binary.BigEndian
	}
	for y := 0; y < rows; y++ {
		row := raw[y*rowBytes:]
		for x := 0; x < bw; x++ {
			vals[y*bw+x] = s.value(row[x*stride*s.size:], bo)
		}
	}
	for i := rows * bw; i < len(vals); i++ {
		vals[i] = math.NaN()
	}
	return nil
}

// unpredict：原地还原预测器编码
func unpredict(pred uint64, raw []byte, s sampler, bw, bh, stride int) error {
	switch pred {
	case predNone:
		return nil
	case predHorizontal:
		if s.format == sampleFloat {
			return fmt.Errorf("%w: horizontal predictor on float samples", ErrUnsupported)
		}
		rowBytes := bw * stride * s.size
		for y := 0; (y+1)*rowBytes <= len(raw) && y < bh; y++ {
			row := raw[y*rowBytes : (y+1)*rowBytes]
			for i := stride; i < bw*stride; i++ {
				cur := row[i*s.size:]
				prev := row[(i-stride)*s.size:]
				switch s.size {
				case 1:
					cur[0] += prev[0]
				case 2:
					s.bo.PutUint16(cur, s.bo.Uint16(cur)+s.bo.Uint16(prev))
				case 4:
					s.bo.PutUint32(cur, s.bo.Uint32(cur)+s.bo.Uint32(prev))
				case 8:
					s.bo.PutUint64(cur, s.bo.Uint64(cur)+s.bo.Uint64(prev))
				}
			}
		}
		return nil
	case predFloatingPoint:
		if s.format != sampleFloat {
			return fmt.Errorf("%w: floating point predictor on integer samples", ErrUnsupported)
		}
		// 先做字节级累加，再把按字节平面排列的数据重排为大端样本
		n := bw * stride
		rowBytes := n * s.size
		tmp := make([]byte, rowBytes)
		for y := 0; (y+1)*rowBytes <= len(raw) && y < bh; y++ {
			row := raw[y*rowBytes : (y+1)*rowBytes]
			for i := stride; i < rowBytes; i++ {
				row[i] += row[i-stride]
			}
			copy(tmp, row)
			for i := 0; i < n; i++ {
				for k := 0; k < s.size; k++ {
					row[i*s.size+k] = tmp[k*n+i]
				}
			}
		}
		return nil
	}
	return fmt.Errorf("%w: predictor %d", ErrUnsupported, pred)
}
