package column

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/parquet-go/parquet-go/format"

	"github.com/grafana/parquetcodec/pkg/memory"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
)

// values holds decoded PLAIN values of one physical type. Only the slice
// matching the column's physical type is used.
type values struct {
	bools memory.Bitmap
	i32   []int32
	i64   []int64
	f32   []float32
	f64   []float64
	bytes [][]byte
}

func (v *values) len(t format.Type) int {
	switch t {
	case format.Boolean:
		return v.bools.Len()
	case format.Int32:
		return len(v.i32)
	case format.Int64:
		return len(v.i64)
	case format.Float:
		return len(v.f32)
	case format.Double:
		return len(v.f64)
	default:
		return len(v.bytes)
	}
}

func (v *values) reset() {
	v.bools.Reset()
	v.i32 = v.i32[:0]
	v.i64 = v.i64[:0]
	v.f32 = v.f32[:0]
	v.f64 = v.f64[:0]
	v.bytes = v.bytes[:0]
}

// decodePlain decodes n PLAIN values of type t from data into v. typeLength
// is used for FIXED_LEN_BYTE_ARRAY. Byte slices alias data.
func decodePlain(v *values, t format.Type, typeLength int, data []byte, n int) error {
	need := func(size int) error {
		if len(data) < size {
			return errdefs.Formatf("%s page holds %d bytes, expected at least %d", t, len(data), size)
		}
		return nil
	}

	switch t {
	case format.Boolean:
		if err := need((n + 7) / 8); err != nil {
			return err
		}
		for i := range n {
			v.bools.Append(data[i/8]&(1<<(i%8)) != 0)
		}
	case format.Int32:
		if err := need(4 * n); err != nil {
			return err
		}
		for i := range n {
			v.i32 = append(v.i32, int32(binary.LittleEndian.Uint32(data[4*i:])))
		}
	case format.Int64:
		if err := need(8 * n); err != nil {
			return err
		}
		for i := range n {
			v.i64 = append(v.i64, int64(binary.LittleEndian.Uint64(data[8*i:])))
		}
	case format.Float:
		if err := need(4 * n); err != nil {
			return err
		}
		for i := range n {
			v.f32 = append(v.f32, math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])))
		}
	case format.Double:
		if err := need(8 * n); err != nil {
			return err
		}
		for i := range n {
			v.f64 = append(v.f64, math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:])))
		}
	case format.ByteArray:
		for range n {
			if err := need(4); err != nil {
				return err
			}
			size := int(binary.LittleEndian.Uint32(data))
			data = data[4:]
			if err := need(size); err != nil {
				return err
			}
			v.bytes = append(v.bytes, data[:size:size])
			data = data[size:]
		}
	case format.FixedLenByteArray:
		if typeLength <= 0 {
			return errdefs.Formatf("FIXED_LEN_BYTE_ARRAY column without type length")
		}
		if err := need(typeLength * n); err != nil {
			return err
		}
		for i := range n {
			v.bytes = append(v.bytes, data[i*typeLength:(i+1)*typeLength:(i+1)*typeLength])
		}
	default:
		return errdefs.Formatf("unsupported physical type %s", t)
	}
	return nil
}

// gather appends dict[indices[i]] to v for each index.
func gather(v *values, dict *values, t format.Type, indices []uint32) error {
	size := dict.len(t)
	for _, idx := range indices {
		if int(idx) >= size {
			return errdefs.Formatf("dictionary index %d out of range [0, %d)", idx, size)
		}
	}

	switch t {
	case format.Boolean:
		for _, idx := range indices {
			v.bools.Append(dict.bools.Get(int(idx)))
		}
	case format.Int32:
		for _, idx := range indices {
			v.i32 = append(v.i32, dict.i32[idx])
		}
	case format.Int64:
		for _, idx := range indices {
			v.i64 = append(v.i64, dict.i64[idx])
		}
	case format.Float:
		for _, idx := range indices {
			v.f32 = append(v.f32, dict.f32[idx])
		}
	case format.Double:
		for _, idx := range indices {
			v.f64 = append(v.f64, dict.f64[idx])
		}
	case format.ByteArray, format.FixedLenByteArray:
		for _, idx := range indices {
			v.bytes = append(v.bytes, dict.bytes[idx])
		}
	default:
		return fmt.Errorf("gather: unsupported physical type %s", t)
	}
	return nil
}
