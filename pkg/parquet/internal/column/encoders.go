package column

import (
	"encoding/binary"
	"math"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/memory"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/stats"
)

// A valueEncoder writes the non-null values of a leaf column in PLAIN
// encoding.
type valueEncoder interface {
	// statsKind returns the statistics variant tracked for the column.
	statsKind() stats.Kind

	// validate returns an error if non-null element i of arr cannot be
	// written.
	validate(column string, arr columnar.Array, i int) error

	// rowSize returns the estimated encoded size of non-null element i.
	rowSize(arr columnar.Array, i int) int

	// writeValues appends the non-null elements of arr in [start, end) to
	// page and records them in st.
	writeValues(page *pageWrite, st *stats.Stats, arr columnar.Array, start, end int)

	// flushPage appends values buffered in page to its buffer.
	flushPage(page *pageWrite)
}

type physical interface {
	int32 | int64 | float32 | float64
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func castInt[S integer, T int32 | int64](v S) T { return T(v) }

func identity[T any](v T) T { return v }

func nanosToMicros(v int64) int64 { return v / 1000 }

func secondsToMicros(v int64) int64 { return v * 1_000_000 }

// numericEncoder writes fixed-width values of the logical Go type S as the
// physical type T.
type numericEncoder[S any, T physical] struct {
	kind stats.Kind
	cast func(S) T
}

func (e numericEncoder[S, T]) statsKind() stats.Kind { return e.kind }

func (e numericEncoder[S, T]) validate(string, columnar.Array, int) error { return nil }

func (e numericEncoder[S, T]) rowSize(columnar.Array, int) int {
	var zero T
	return binary.Size(zero)
}

func (e numericEncoder[S, T]) writeValues(page *pageWrite, st *stats.Stats, arr columnar.Array, start, end int) {
	prim := arr.(*columnar.Primitive[S])
	for i := start; i < end; i++ {
		if prim.IsNull(i) {
			continue
		}
		switch v := any(e.cast(prim.Value(i))).(type) {
		case int32:
			page.buf = binary.LittleEndian.AppendUint32(page.buf, uint32(v))
			st.UpdateInt32(v)
		case int64:
			page.buf = binary.LittleEndian.AppendUint64(page.buf, uint64(v))
			st.UpdateInt64(v)
		case float32:
			page.buf = binary.LittleEndian.AppendUint32(page.buf, math.Float32bits(v))
			st.UpdateFloat(float64(v))
		case float64:
			page.buf = binary.LittleEndian.AppendUint64(page.buf, math.Float64bits(v))
			st.UpdateFloat(v)
		}
	}
}

func (e numericEncoder[S, T]) flushPage(*pageWrite) {}

// boolEncoder bit-packs booleans LSB first. Bits are buffered per page and
// padded to a byte when the page is flushed.
type boolEncoder struct{}

func (boolEncoder) statsKind() stats.Kind                        { return stats.KindBool }
func (boolEncoder) validate(string, columnar.Array, int) error { return nil }

// rowSize overestimates a bit as a byte, matching the page size estimate
// other writers use for booleans.
func (boolEncoder) rowSize(columnar.Array, int) int { return 1 }

func (boolEncoder) writeValues(page *pageWrite, st *stats.Stats, arr columnar.Array, start, end int) {
	b := arr.(*columnar.Bool)
	for i := start; i < end; i++ {
		if b.IsNull(i) {
			continue
		}
		v := b.Value(i)
		page.bits.Append(v)
		st.UpdateBool(v)
	}
}

func (boolEncoder) flushPage(page *pageWrite) {
	page.buf = append(page.buf, page.bits.Bytes()...)
	page.bits = memory.Bitmap{}
}

// intervalEncoder writes INTERVAL values as three little-endian uint32s:
// months, days and milliseconds.
type intervalEncoder struct{}

func (intervalEncoder) statsKind() stats.Kind            { return stats.KindNone }
func (intervalEncoder) rowSize(columnar.Array, int) int { return intervalSize }

func (intervalEncoder) validate(column string, arr columnar.Array, i int) error {
	v := arr.(*columnar.Primitive[columnar.Interval]).Value(i)
	if v.Months < 0 || v.Days < 0 || v.Micros < 0 {
		return errdefs.Constraintf(column, "cannot write negative INTERVAL value (%d months, %d days, %d micros)", v.Months, v.Days, v.Micros)
	}
	return nil
}

func (intervalEncoder) writeValues(page *pageWrite, st *stats.Stats, arr columnar.Array, start, end int) {
	prim := arr.(*columnar.Primitive[columnar.Interval])
	for i := start; i < end; i++ {
		if prim.IsNull(i) {
			continue
		}
		page.buf = appendInterval(page.buf, prim.Value(i))
	}
}

func (intervalEncoder) flushPage(*pageWrite) {}

func appendInterval(dst []byte, v columnar.Interval) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(v.Months))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(v.Days))
	return binary.LittleEndian.AppendUint32(dst, uint32(v.Micros/1000))
}

// uuidEncoder writes UUIDs as 16 big-endian bytes.
type uuidEncoder struct{}

func (uuidEncoder) statsKind() stats.Kind                        { return stats.KindBytes }
func (uuidEncoder) validate(string, columnar.Array, int) error { return nil }
func (uuidEncoder) rowSize(columnar.Array, int) int             { return uuidSize }

func (uuidEncoder) writeValues(page *pageWrite, st *stats.Stats, arr columnar.Array, start, end int) {
	prim := arr.(*columnar.Primitive[columnar.UUID])
	for i := start; i < end; i++ {
		if prim.IsNull(i) {
			continue
		}
		v := prim.Value(i)
		page.buf = append(page.buf, v[:]...)
		st.UpdateBytes(v[:])
	}
}

func (uuidEncoder) flushPage(*pageWrite) {}

// binaryEncoder writes STRING and BLOB values as a 4-byte little-endian
// length followed by the bytes. Dictionary encoding of binary columns is
// handled by the leaf writer.
type binaryEncoder struct {
	maxStatsSize int
}

func (*binaryEncoder) statsKind() stats.Kind                        { return stats.KindBytes }
func (*binaryEncoder) validate(string, columnar.Array, int) error { return nil }

func (*binaryEncoder) rowSize(arr columnar.Array, i int) int {
	return len(arr.(*columnar.Binary).Value(i))
}

func (*binaryEncoder) writeValues(page *pageWrite, st *stats.Stats, arr columnar.Array, start, end int) {
	bin := arr.(*columnar.Binary)
	for i := start; i < end; i++ {
		if bin.IsNull(i) {
			continue
		}
		v := bin.Value(i)
		st.UpdateBytes(v)
		page.buf = binary.LittleEndian.AppendUint32(page.buf, uint32(len(v)))
		page.buf = append(page.buf, v...)
	}
}

func (*binaryEncoder) flushPage(*pageWrite) {}
