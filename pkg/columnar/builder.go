package columnar

import (
	"fmt"

	"github.com/grafana/parquetcodec/pkg/memory"
)

// A Builder accumulates elements into an Array.
type Builder interface {
	// Len returns the number of elements appended so far.
	Len() int

	// AppendNull appends a null element. Struct builders also append a null
	// to each field builder so field arrays stay aligned.
	AppendNull()

	// Type returns the data type of the array being built.
	Type() DataType

	// Build returns the accumulated Array and resets the builder.
	Build() Array
}

// NewBuilder returns a Builder for arrays of type dt.
func NewBuilder(dt DataType) Builder {
	switch dt.Kind() {
	case KindBool:
		return &BoolBuilder{}
	case KindInt8:
		return NewPrimitiveBuilder[int8](dt)
	case KindInt16:
		return NewPrimitiveBuilder[int16](dt)
	case KindInt32, KindDate:
		return NewPrimitiveBuilder[int32](dt)
	case KindInt64, KindSerial, KindTimestamp, KindTimestampTZ, KindTimestampMS, KindTimestampNS, KindTimestampSec:
		return NewPrimitiveBuilder[int64](dt)
	case KindUint8:
		return NewPrimitiveBuilder[uint8](dt)
	case KindUint16:
		return NewPrimitiveBuilder[uint16](dt)
	case KindUint32:
		return NewPrimitiveBuilder[uint32](dt)
	case KindUint64:
		return NewPrimitiveBuilder[uint64](dt)
	case KindInt128:
		return NewPrimitiveBuilder[Int128](dt)
	case KindFloat:
		return NewPrimitiveBuilder[float32](dt)
	case KindDouble:
		return NewPrimitiveBuilder[float64](dt)
	case KindInterval:
		return NewPrimitiveBuilder[Interval](dt)
	case KindUUID:
		return NewPrimitiveBuilder[UUID](dt)
	case KindString, KindBlob:
		return &BinaryBuilder{dt: dt, offsets: []int32{0}}
	case KindList:
		return &ListBuilder{dt: dt, offsets: []int32{0}, values: NewBuilder(dt.Elem())}
	case KindMap:
		kv := StructOf(dt.Fields()...)
		return &ListBuilder{dt: dt, offsets: []int32{0}, values: NewBuilder(kv)}
	case KindStruct, KindUnion:
		b := &StructBuilder{dt: dt}
		for _, f := range dt.Fields() {
			b.fields = append(b.fields, NewBuilder(f.Type))
		}
		return b
	}
	panic(fmt.Sprintf("columnar: no builder for %s", dt))
}

// BoolBuilder builds a Bool array.
type BoolBuilder struct {
	valid  validity
	values memory.Bitmap
}

func (b *BoolBuilder) Len() int       { return b.values.Len() }
func (b *BoolBuilder) Type() DataType { return Scalar(KindBool) }

func (b *BoolBuilder) Append(v bool) {
	b.valid.append(true)
	b.values.Append(v)
}

func (b *BoolBuilder) AppendNull() {
	b.valid.append(false)
	b.values.Append(false)
}

func (b *BoolBuilder) Build() Array {
	arr := &Bool{validity: b.valid, values: b.values}
	*b = BoolBuilder{}
	return arr
}

// PrimitiveBuilder builds a Primitive array.
type PrimitiveBuilder[T any] struct {
	dt     DataType
	valid  validity
	values []T
}

// NewPrimitiveBuilder returns a builder for Primitive[T] arrays of type dt.
func NewPrimitiveBuilder[T any](dt DataType) *PrimitiveBuilder[T] {
	return &PrimitiveBuilder[T]{dt: dt}
}

func (b *PrimitiveBuilder[T]) Len() int       { return len(b.values) }
func (b *PrimitiveBuilder[T]) Type() DataType { return b.dt }

func (b *PrimitiveBuilder[T]) Append(v T) {
	b.valid.append(true)
	b.values = append(b.values, v)
}

func (b *PrimitiveBuilder[T]) AppendValues(vs ...T) {
	for _, v := range vs {
		b.Append(v)
	}
}

func (b *PrimitiveBuilder[T]) AppendNull() {
	var zero T
	b.valid.append(false)
	b.values = append(b.values, zero)
}

func (b *PrimitiveBuilder[T]) Build() Array {
	arr := &Primitive[T]{validity: b.valid, dt: b.dt, values: b.values}
	*b = PrimitiveBuilder[T]{dt: b.dt}
	return arr
}

// BinaryBuilder builds a Binary array.
type BinaryBuilder struct {
	dt      DataType
	valid   validity
	offsets []int32
	data    []byte
}

func (b *BinaryBuilder) Len() int       { return len(b.offsets) - 1 }
func (b *BinaryBuilder) Type() DataType { return b.dt }

func (b *BinaryBuilder) Append(v []byte) {
	b.valid.append(true)
	b.data = append(b.data, v...)
	b.offsets = append(b.offsets, int32(len(b.data)))
}

func (b *BinaryBuilder) AppendString(v string) {
	b.valid.append(true)
	b.data = append(b.data, v...)
	b.offsets = append(b.offsets, int32(len(b.data)))
}

func (b *BinaryBuilder) AppendNull() {
	b.valid.append(false)
	b.offsets = append(b.offsets, int32(len(b.data)))
}

func (b *BinaryBuilder) Build() Array {
	arr := &Binary{validity: b.valid, dt: b.dt, offsets: b.offsets, data: b.data}
	*b = BinaryBuilder{dt: b.dt, offsets: []int32{0}}
	return arr
}

// ListBuilder builds a List array. Elements of the current list are appended
// to ValueBuilder after calling Append.
type ListBuilder struct {
	dt      DataType
	valid   validity
	offsets []int32
	values  Builder
}

func (b *ListBuilder) Len() int       { return len(b.offsets) - 1 }
func (b *ListBuilder) Type() DataType { return b.dt }

// ValueBuilder returns the builder for list elements. For MAP lists this is a
// *StructBuilder with key and value fields.
func (b *ListBuilder) ValueBuilder() Builder { return b.values }

// Append starts a new list. Elements appended to ValueBuilder until the next
// call to Append or AppendNull belong to it.
func (b *ListBuilder) Append(valid bool) {
	if !valid {
		b.AppendNull()
		return
	}
	b.closeCurrent()
	b.valid.append(true)
	b.offsets = append(b.offsets, -1)
}

func (b *ListBuilder) AppendNull() {
	b.closeCurrent()
	b.valid.append(false)
	b.offsets = append(b.offsets, -1)
}

// closeCurrent fixes the end offset of the most recent list.
func (b *ListBuilder) closeCurrent() {
	if n := len(b.offsets); n > 1 && b.offsets[n-1] < 0 {
		if b.valid.IsNull(n - 2) {
			b.offsets[n-1] = b.offsets[n-2]
			return
		}
		b.offsets[n-1] = int32(b.values.Len())
	}
}

func (b *ListBuilder) Build() Array {
	b.closeCurrent()
	arr := &List{validity: b.valid, dt: b.dt, offsets: b.offsets, values: b.values.Build()}
	*b = ListBuilder{dt: b.dt, offsets: []int32{0}, values: b.values}
	return arr
}

// StructBuilder builds a Struct array. For each valid record, callers append
// exactly one element to every field builder.
type StructBuilder struct {
	dt     DataType
	valid  validity
	length int
	fields []Builder
}

func (b *StructBuilder) Len() int                  { return b.length }
func (b *StructBuilder) Type() DataType            { return b.dt }
func (b *StructBuilder) NumFields() int            { return len(b.fields) }
func (b *StructBuilder) FieldBuilder(i int) Builder { return b.fields[i] }

// Append appends a record. A false valid is the same as AppendNull.
func (b *StructBuilder) Append(valid bool) {
	if !valid {
		b.AppendNull()
		return
	}
	b.valid.append(true)
	b.length++
}

func (b *StructBuilder) AppendNull() {
	b.valid.append(false)
	b.length++
	for _, f := range b.fields {
		f.AppendNull()
	}
}

func (b *StructBuilder) Build() Array {
	arr := &Struct{validity: b.valid, dt: b.dt, length: b.length}
	for _, f := range b.fields {
		arr.fields = append(arr.fields, f.Build())
	}
	*b = StructBuilder{dt: b.dt, fields: b.fields}
	return arr
}

// AppendFrom appends element i of src to b. The builder and the array must
// have the same data type.
func AppendFrom(b Builder, src Array, i int) {
	if src.IsNull(i) {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *BoolBuilder:
		b.Append(src.(*Bool).Value(i))
	case *BinaryBuilder:
		b.Append(src.(*Binary).Value(i))
	case *ListBuilder:
		list := src.(*List)
		b.Append(true)
		start, end := list.ValueOffsets(i)
		for j := start; j < end; j++ {
			AppendFrom(b.values, list.values, j)
		}
	case *StructBuilder:
		rec := src.(*Struct)
		b.Append(true)
		for f, fb := range b.fields {
			AppendFrom(fb, rec.fields[f], i)
		}
	case primitiveAppender:
		b.appendFrom(src, i)
	default:
		panic(fmt.Sprintf("columnar: unsupported builder %T", b))
	}
}

type primitiveAppender interface {
	appendFrom(src Array, i int)
}

func (b *PrimitiveBuilder[T]) appendFrom(src Array, i int) {
	b.Append(src.(*Primitive[T]).Value(i))
}

// Slice copies elements [i, j) of arr into a new array.
func Slice(arr Array, i, j int) Array {
	b := NewBuilder(arr.Type())
	for k := i; k < j; k++ {
		AppendFrom(b, arr, k)
	}
	return b.Build()
}
