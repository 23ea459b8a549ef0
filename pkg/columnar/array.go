package columnar

import (
	"math"
	"math/big"

	"github.com/grafana/parquetcodec/pkg/memory"
)

// Int128 is a signed 128-bit integer in two's complement.
type Int128 struct {
	Hi int64
	Lo uint64
}

// Float64 converts i to the nearest float64. Values beyond 2^53 lose
// precision.
func (i Int128) Float64() float64 {
	if i.Hi < 0 {
		// Negate, convert, negate back.
		lo := ^i.Lo + 1
		hi := ^uint64(i.Hi)
		if lo == 0 {
			hi++
		}
		return -(float64(hi)*math.Exp2(64) + float64(lo))
	}
	return float64(i.Hi)*math.Exp2(64) + float64(i.Lo)
}

// Big returns i as a big.Int.
func (i Int128) Big() *big.Int {
	v := new(big.Int).SetInt64(i.Hi)
	v.Lsh(v, 64)
	return v.Add(v, new(big.Int).SetUint64(i.Lo))
}

// Interval is a calendar interval.
type Interval struct {
	Months int32
	Days   int32
	Micros int64
}

// UUID is a 128-bit UUID in big-endian byte order.
type UUID [16]byte

// Bool is an array of booleans.
type Bool struct {
	validity
	values memory.Bitmap
}

var _ Array = (*Bool)(nil)

func (arr *Bool) Len() int        { return arr.values.Len() }
func (arr *Bool) Type() DataType  { return Scalar(KindBool) }
func (arr *Bool) Value(i int) bool { return arr.values.Get(i) }

// Primitive is an array of fixed-width values of type T. The same Go type can
// back several logical kinds (int64 backs INT64, SERIAL and every TIMESTAMP
// kind), so the DataType is stored alongside the values.
type Primitive[T any] struct {
	validity
	dt     DataType
	values []T
}

var _ Array = (*Primitive[int32])(nil)

func (arr *Primitive[T]) Len() int       { return len(arr.values) }
func (arr *Primitive[T]) Type() DataType { return arr.dt }
func (arr *Primitive[T]) Value(i int) T  { return arr.values[i] }

// Values returns the backing values. Entries for null slots are zero.
func (arr *Primitive[T]) Values() []T { return arr.values }

// Binary is an array of variable-length byte strings, used for STRING and
// BLOB.
type Binary struct {
	validity
	dt      DataType
	offsets []int32 // len+1 entries
	data    []byte
}

var _ Array = (*Binary)(nil)

func (arr *Binary) Len() int       { return len(arr.offsets) - 1 }
func (arr *Binary) Type() DataType { return arr.dt }

// Value returns the bytes of element i. The returned slice aliases the array
// and must not be modified.
func (arr *Binary) Value(i int) []byte {
	return arr.data[arr.offsets[i]:arr.offsets[i+1]]
}

// List is an array of variable-length lists of a child array. MAP columns are
// lists of two-field key/value structs with a MAP data type.
type List struct {
	validity
	dt      DataType
	offsets []int32 // len+1 entries
	values  Array
}

var _ Array = (*List)(nil)

func (arr *List) Len() int       { return len(arr.offsets) - 1 }
func (arr *List) Type() DataType { return arr.dt }

// ValueOffsets returns the half-open range of child elements belonging to
// list i.
func (arr *List) ValueOffsets(i int) (start, end int) {
	return int(arr.offsets[i]), int(arr.offsets[i+1])
}

// Values returns the child array holding the elements of every list.
func (arr *List) Values() Array { return arr.values }

// Struct is an array of records with one child array per field. UNION arrays
// share this representation.
type Struct struct {
	validity
	dt     DataType
	length int
	fields []Array
}

var _ Array = (*Struct)(nil)

func (arr *Struct) Len() int            { return arr.length }
func (arr *Struct) Type() DataType      { return arr.dt }
func (arr *Struct) NumFields() int      { return len(arr.fields) }
func (arr *Struct) Field(i int) Array   { return arr.fields[i] }
func (arr *Struct) FieldArrays() []Array { return arr.fields }

// ValueAt returns element i of arr as a plain Go value: nil for nulls, []any
// for lists and maps (maps as a list of [2]any key/value pairs), []any for
// structs, and the element value for scalars. It is intended for tests and
// diagnostics.
func ValueAt(arr Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch arr := arr.(type) {
	case *Bool:
		return arr.Value(i)
	case *Binary:
		if arr.dt.Kind() == KindString {
			return string(arr.Value(i))
		}
		return append([]byte(nil), arr.Value(i)...)
	case *List:
		start, end := arr.ValueOffsets(i)
		out := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			if arr.dt.Kind() == KindMap {
				kv := arr.values.(*Struct)
				out = append(out, [2]any{ValueAt(kv.fields[0], j), ValueAt(kv.fields[1], j)})
				continue
			}
			out = append(out, ValueAt(arr.values, j))
		}
		return out
	case *Struct:
		out := make([]any, len(arr.fields))
		for f, child := range arr.fields {
			out[f] = ValueAt(child, i)
		}
		return out
	case interface{ valueAny(int) any }:
		return arr.valueAny(i)
	}
	return nil
}

func (arr *Primitive[T]) valueAny(i int) any { return arr.values[i] }
