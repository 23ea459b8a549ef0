package column

import (
	"encoding/binary"

	"github.com/parquet-go/parquet-go/format"

	"github.com/grafana/parquetcodec/pkg/columnar"
)

// converter appends decoded physical value i to a builder of the leaf's
// logical type.
type converter func(b columnar.Builder, v *values, i int)

func fromInt32[T any](f func(int32) T) converter {
	return func(b columnar.Builder, v *values, i int) {
		b.(*columnar.PrimitiveBuilder[T]).Append(f(v.i32[i]))
	}
}

func fromInt64[T any](f func(int64) T) converter {
	return func(b columnar.Builder, v *values, i int) {
		b.(*columnar.PrimitiveBuilder[T]).Append(f(v.i64[i]))
	}
}

func millisToMicros(v uint32) int64 { return int64(v) * 1000 }

func newConverter(kind columnar.Kind, physical format.Type) converter {
	switch kind {
	case columnar.KindBool:
		return func(b columnar.Builder, v *values, i int) {
			b.(*columnar.BoolBuilder).Append(v.bools.Get(i))
		}
	case columnar.KindInt8:
		return fromInt32(func(x int32) int8 { return int8(x) })
	case columnar.KindInt16:
		return fromInt32(func(x int32) int16 { return int16(x) })
	case columnar.KindInt32, columnar.KindDate:
		return fromInt32(identity[int32])
	case columnar.KindUint8:
		return fromInt32(func(x int32) uint8 { return uint8(x) })
	case columnar.KindUint16:
		return fromInt32(func(x int32) uint16 { return uint16(x) })
	case columnar.KindUint32:
		return fromInt32(func(x int32) uint32 { return uint32(x) })
	case columnar.KindUint64:
		return fromInt64(func(x int64) uint64 { return uint64(x) })
	case columnar.KindInt64, columnar.KindSerial, columnar.KindTimestamp, columnar.KindTimestampTZ,
		columnar.KindTimestampMS, columnar.KindTimestampNS, columnar.KindTimestampSec:
		return fromInt64(identity[int64])
	case columnar.KindFloat:
		return func(b columnar.Builder, v *values, i int) {
			b.(*columnar.PrimitiveBuilder[float32]).Append(v.f32[i])
		}
	case columnar.KindDouble:
		return func(b columnar.Builder, v *values, i int) {
			b.(*columnar.PrimitiveBuilder[float64]).Append(v.f64[i])
		}
	case columnar.KindInterval:
		return func(b columnar.Builder, v *values, i int) {
			raw := v.bytes[i]
			b.(*columnar.PrimitiveBuilder[columnar.Interval]).Append(columnar.Interval{
				Months: int32(binary.LittleEndian.Uint32(raw[0:])),
				Days:   int32(binary.LittleEndian.Uint32(raw[4:])),
				Micros: millisToMicros(binary.LittleEndian.Uint32(raw[8:])),
			})
		}
	case columnar.KindUUID:
		return func(b columnar.Builder, v *values, i int) {
			var id columnar.UUID
			copy(id[:], v.bytes[i])
			b.(*columnar.PrimitiveBuilder[columnar.UUID]).Append(id)
		}
	}

	// STRING and BLOB, including fixed-length byte arrays without a known
	// annotation.
	if physical == format.ByteArray || physical == format.FixedLenByteArray {
		return func(b columnar.Builder, v *values, i int) {
			b.(*columnar.BinaryBuilder).Append(v.bytes[i])
		}
	}
	panic("column: no converter for " + kind.String())
}
