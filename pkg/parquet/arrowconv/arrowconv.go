// Package arrowconv converts between Arrow records and columnar record
// batches, so Arrow data can be written to and read from Parquet files.
package arrowconv

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/parquetcodec/pkg/columnar"
)

// ToArrowType returns the Arrow type of dt. INT128 and UNION have no Arrow
// counterpart and return an error.
func ToArrowType(dt columnar.DataType) (arrow.DataType, error) {
	switch dt.Kind() {
	case columnar.KindBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case columnar.KindInt8:
		return arrow.PrimitiveTypes.Int8, nil
	case columnar.KindInt16:
		return arrow.PrimitiveTypes.Int16, nil
	case columnar.KindInt32:
		return arrow.PrimitiveTypes.Int32, nil
	case columnar.KindInt64, columnar.KindSerial:
		return arrow.PrimitiveTypes.Int64, nil
	case columnar.KindUint8:
		return arrow.PrimitiveTypes.Uint8, nil
	case columnar.KindUint16:
		return arrow.PrimitiveTypes.Uint16, nil
	case columnar.KindUint32:
		return arrow.PrimitiveTypes.Uint32, nil
	case columnar.KindUint64:
		return arrow.PrimitiveTypes.Uint64, nil
	case columnar.KindFloat:
		return arrow.PrimitiveTypes.Float32, nil
	case columnar.KindDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case columnar.KindDate:
		return arrow.PrimitiveTypes.Date32, nil
	case columnar.KindTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	case columnar.KindTimestampTZ:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case columnar.KindTimestampMS:
		return &arrow.TimestampType{Unit: arrow.Millisecond}, nil
	case columnar.KindTimestampNS:
		return &arrow.TimestampType{Unit: arrow.Nanosecond}, nil
	case columnar.KindTimestampSec:
		return &arrow.TimestampType{Unit: arrow.Second}, nil
	case columnar.KindInterval:
		return arrow.FixedWidthTypes.MonthDayNanoInterval, nil
	case columnar.KindUUID:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}, nil
	case columnar.KindString:
		return arrow.BinaryTypes.String, nil
	case columnar.KindBlob:
		return arrow.BinaryTypes.Binary, nil

	case columnar.KindList:
		elem, err := ToArrowType(dt.Elem())
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(elem), nil

	case columnar.KindMap:
		key, err := ToArrowType(dt.Key())
		if err != nil {
			return nil, err
		}
		value, err := ToArrowType(dt.Value())
		if err != nil {
			return nil, err
		}
		return arrow.MapOf(key, value), nil

	case columnar.KindStruct:
		fields, err := toArrowFields(dt.Fields())
		if err != nil {
			return nil, err
		}
		return arrow.StructOf(fields...), nil
	}
	return nil, fmt.Errorf("type %s has no arrow representation", dt)
}

func toArrowFields(fields []columnar.Field) ([]arrow.Field, error) {
	out := make([]arrow.Field, len(fields))
	for i, f := range fields {
		dt, err := ToArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: !f.Required}
	}
	return out, nil
}

// FromArrowType returns the columnar type of dt.
func FromArrowType(dt arrow.DataType) (columnar.DataType, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return columnar.Scalar(columnar.KindBool), nil
	case arrow.INT8:
		return columnar.Scalar(columnar.KindInt8), nil
	case arrow.INT16:
		return columnar.Scalar(columnar.KindInt16), nil
	case arrow.INT32:
		return columnar.Scalar(columnar.KindInt32), nil
	case arrow.INT64:
		return columnar.Scalar(columnar.KindInt64), nil
	case arrow.UINT8:
		return columnar.Scalar(columnar.KindUint8), nil
	case arrow.UINT16:
		return columnar.Scalar(columnar.KindUint16), nil
	case arrow.UINT32:
		return columnar.Scalar(columnar.KindUint32), nil
	case arrow.UINT64:
		return columnar.Scalar(columnar.KindUint64), nil
	case arrow.FLOAT32:
		return columnar.Scalar(columnar.KindFloat), nil
	case arrow.FLOAT64:
		return columnar.Scalar(columnar.KindDouble), nil
	case arrow.DATE32:
		return columnar.Scalar(columnar.KindDate), nil
	case arrow.INTERVAL_MONTH_DAY_NANO:
		return columnar.Scalar(columnar.KindInterval), nil
	case arrow.STRING:
		return columnar.Scalar(columnar.KindString), nil
	case arrow.BINARY:
		return columnar.Scalar(columnar.KindBlob), nil

	case arrow.TIMESTAMP:
		ts := dt.(*arrow.TimestampType)
		switch ts.Unit {
		case arrow.Second:
			return columnar.Scalar(columnar.KindTimestampSec), nil
		case arrow.Millisecond:
			return columnar.Scalar(columnar.KindTimestampMS), nil
		case arrow.Nanosecond:
			return columnar.Scalar(columnar.KindTimestampNS), nil
		}
		if ts.TimeZone != "" {
			return columnar.Scalar(columnar.KindTimestampTZ), nil
		}
		return columnar.Scalar(columnar.KindTimestamp), nil

	case arrow.FIXED_SIZE_BINARY:
		if dt.(*arrow.FixedSizeBinaryType).ByteWidth == 16 {
			return columnar.Scalar(columnar.KindUUID), nil
		}

	case arrow.LIST:
		elem, err := FromArrowType(dt.(*arrow.ListType).Elem())
		if err != nil {
			return columnar.DataType{}, err
		}
		return columnar.ListOf(elem), nil

	case arrow.MAP:
		mt := dt.(*arrow.MapType)
		key, err := FromArrowType(mt.KeyType())
		if err != nil {
			return columnar.DataType{}, err
		}
		value, err := FromArrowType(mt.ItemType())
		if err != nil {
			return columnar.DataType{}, err
		}
		return columnar.MapOf(key, value), nil

	case arrow.STRUCT:
		fields, err := fromArrowFields(dt.(*arrow.StructType).Fields())
		if err != nil {
			return columnar.DataType{}, err
		}
		return columnar.StructOf(fields...), nil
	}
	return columnar.DataType{}, fmt.Errorf("unsupported arrow type %s", dt)
}

func fromArrowFields(fields []arrow.Field) ([]columnar.Field, error) {
	out := make([]columnar.Field, len(fields))
	for i, f := range fields {
		dt, err := FromArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[i] = columnar.Field{Name: f.Name, Type: dt, Required: !f.Nullable}
	}
	return out, nil
}

// ToArrowSchema returns the Arrow schema of s.
func ToArrowSchema(s columnar.Schema) (*arrow.Schema, error) {
	fields, err := toArrowFields(s.Fields)
	if err != nil {
		return nil, err
	}
	return arrow.NewSchema(fields, nil), nil
}

// FromArrowSchema returns the columnar schema of s.
func FromArrowSchema(s *arrow.Schema) (columnar.Schema, error) {
	fields, err := fromArrowFields(s.Fields())
	if err != nil {
		return columnar.Schema{}, err
	}
	return columnar.NewSchema(fields...), nil
}

// ToRecord copies rb into an Arrow record allocated from mem. The caller
// must release the returned record.
func ToRecord(mem memory.Allocator, rb columnar.RecordBatch) (arrow.Record, error) {
	schema, err := ToArrowSchema(rb.Schema())
	if err != nil {
		return nil, err
	}

	cols := make([]arrow.Array, 0, rb.NumCols())
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	for c := range rb.NumCols() {
		b := array.NewBuilder(mem, schema.Field(int(c)).Type)
		src := rb.Column(c)
		for i := range src.Len() {
			if err := appendToArrow(b, src, i); err != nil {
				b.Release()
				return nil, fmt.Errorf("column %s: %w", schema.Field(int(c)).Name, err)
			}
		}
		cols = append(cols, b.NewArray())
		b.Release()
	}
	return array.NewRecord(schema, cols, rb.NumRows()), nil
}

func appendToArrow(b array.Builder, src columnar.Array, i int) error {
	if src.IsNull(i) {
		b.AppendNull()
		return nil
	}

	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(src.(*columnar.Bool).Value(i))
	case *array.Int8Builder:
		b.Append(src.(*columnar.Primitive[int8]).Value(i))
	case *array.Int16Builder:
		b.Append(src.(*columnar.Primitive[int16]).Value(i))
	case *array.Int32Builder:
		b.Append(src.(*columnar.Primitive[int32]).Value(i))
	case *array.Int64Builder:
		b.Append(src.(*columnar.Primitive[int64]).Value(i))
	case *array.Uint8Builder:
		b.Append(src.(*columnar.Primitive[uint8]).Value(i))
	case *array.Uint16Builder:
		b.Append(src.(*columnar.Primitive[uint16]).Value(i))
	case *array.Uint32Builder:
		b.Append(src.(*columnar.Primitive[uint32]).Value(i))
	case *array.Uint64Builder:
		b.Append(src.(*columnar.Primitive[uint64]).Value(i))
	case *array.Float32Builder:
		b.Append(src.(*columnar.Primitive[float32]).Value(i))
	case *array.Float64Builder:
		b.Append(src.(*columnar.Primitive[float64]).Value(i))
	case *array.Date32Builder:
		b.Append(arrow.Date32(src.(*columnar.Primitive[int32]).Value(i)))
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(src.(*columnar.Primitive[int64]).Value(i)))
	case *array.MonthDayNanoIntervalBuilder:
		v := src.(*columnar.Primitive[columnar.Interval]).Value(i)
		b.Append(arrow.MonthDayNanoInterval{Months: v.Months, Days: v.Days, Nanoseconds: v.Micros * 1000})
	case *array.FixedSizeBinaryBuilder:
		v := src.(*columnar.Primitive[columnar.UUID]).Value(i)
		b.Append(v[:])
	case *array.StringBuilder:
		b.Append(string(src.(*columnar.Binary).Value(i)))
	case *array.BinaryBuilder:
		b.Append(src.(*columnar.Binary).Value(i))

	case *array.MapBuilder:
		list := src.(*columnar.List)
		entries := list.Values().(*columnar.Struct)
		b.Append(true)
		start, end := list.ValueOffsets(i)
		for j := start; j < end; j++ {
			if err := appendToArrow(b.KeyBuilder(), entries.Field(0), j); err != nil {
				return err
			}
			if err := appendToArrow(b.ItemBuilder(), entries.Field(1), j); err != nil {
				return err
			}
		}

	case *array.ListBuilder:
		list := src.(*columnar.List)
		b.Append(true)
		start, end := list.ValueOffsets(i)
		for j := start; j < end; j++ {
			if err := appendToArrow(b.ValueBuilder(), list.Values(), j); err != nil {
				return err
			}
		}

	case *array.StructBuilder:
		rec := src.(*columnar.Struct)
		b.Append(true)
		for f := range rec.NumFields() {
			if err := appendToArrow(b.FieldBuilder(f), rec.Field(f), i); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unsupported arrow builder %T", b)
	}
	return nil
}

// FromRecord copies rec into a columnar record batch.
func FromRecord(rec arrow.Record) (columnar.RecordBatch, error) {
	schema, err := FromArrowSchema(rec.Schema())
	if err != nil {
		return columnar.RecordBatch{}, err
	}

	arrs := make([]columnar.Array, rec.NumCols())
	for c := range arrs {
		b := columnar.NewBuilder(schema.Fields[c].Type)
		src := rec.Column(c)
		for i := range src.Len() {
			if err := appendFromArrow(b, src, i); err != nil {
				return columnar.RecordBatch{}, fmt.Errorf("column %s: %w", schema.Fields[c].Name, err)
			}
		}
		arrs[c] = b.Build()
	}
	return columnar.NewRecordBatch(schema, rec.NumRows(), arrs), nil
}

func appendFromArrow(b columnar.Builder, src arrow.Array, i int) error {
	if src.IsNull(i) {
		b.AppendNull()
		return nil
	}

	switch src := src.(type) {
	case *array.Boolean:
		b.(*columnar.BoolBuilder).Append(src.Value(i))
	case *array.Int8:
		b.(*columnar.PrimitiveBuilder[int8]).Append(src.Value(i))
	case *array.Int16:
		b.(*columnar.PrimitiveBuilder[int16]).Append(src.Value(i))
	case *array.Int32:
		b.(*columnar.PrimitiveBuilder[int32]).Append(src.Value(i))
	case *array.Int64:
		b.(*columnar.PrimitiveBuilder[int64]).Append(src.Value(i))
	case *array.Uint8:
		b.(*columnar.PrimitiveBuilder[uint8]).Append(src.Value(i))
	case *array.Uint16:
		b.(*columnar.PrimitiveBuilder[uint16]).Append(src.Value(i))
	case *array.Uint32:
		b.(*columnar.PrimitiveBuilder[uint32]).Append(src.Value(i))
	case *array.Uint64:
		b.(*columnar.PrimitiveBuilder[uint64]).Append(src.Value(i))
	case *array.Float32:
		b.(*columnar.PrimitiveBuilder[float32]).Append(src.Value(i))
	case *array.Float64:
		b.(*columnar.PrimitiveBuilder[float64]).Append(src.Value(i))
	case *array.Date32:
		b.(*columnar.PrimitiveBuilder[int32]).Append(int32(src.Value(i)))
	case *array.Timestamp:
		b.(*columnar.PrimitiveBuilder[int64]).Append(int64(src.Value(i)))
	case *array.MonthDayNanoInterval:
		v := src.Value(i)
		b.(*columnar.PrimitiveBuilder[columnar.Interval]).Append(columnar.Interval{Months: v.Months, Days: v.Days, Micros: v.Nanoseconds / 1000})
	case *array.FixedSizeBinary:
		var v columnar.UUID
		copy(v[:], src.Value(i))
		b.(*columnar.PrimitiveBuilder[columnar.UUID]).Append(v)
	case *array.String:
		b.(*columnar.BinaryBuilder).AppendString(src.Value(i))
	case *array.Binary:
		b.(*columnar.BinaryBuilder).Append(src.Value(i))

	case *array.Map:
		lb := b.(*columnar.ListBuilder)
		entries := lb.ValueBuilder().(*columnar.StructBuilder)
		keys, items := src.Keys(), src.Items()
		lb.Append(true)
		start, end := src.ValueOffsets(i)
		for j := int(start); j < int(end); j++ {
			entries.Append(true)
			if err := appendFromArrow(entries.FieldBuilder(0), keys, j); err != nil {
				return err
			}
			if err := appendFromArrow(entries.FieldBuilder(1), items, j); err != nil {
				return err
			}
		}

	case *array.List:
		lb := b.(*columnar.ListBuilder)
		values := src.ListValues()
		lb.Append(true)
		start, end := src.ValueOffsets(i)
		for j := int(start); j < int(end); j++ {
			if err := appendFromArrow(lb.ValueBuilder(), values, j); err != nil {
				return err
			}
		}

	case *array.Struct:
		sb := b.(*columnar.StructBuilder)
		sb.Append(true)
		for f := range src.NumField() {
			if err := appendFromArrow(sb.FieldBuilder(f), src.Field(f), i); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unsupported arrow array %T", src)
	}
	return nil
}

// RecordSource is a columnar.BatchSource reading from an Arrow record
// reader.
type RecordSource struct {
	rdr array.RecordReader

	pending columnar.RecordBatch
	offset  int64
}

var _ columnar.BatchSource = (*RecordSource)(nil)

// NewRecordSource returns a RecordSource over rdr. The source does not take
// ownership of rdr.
func NewRecordSource(rdr array.RecordReader) *RecordSource {
	return &RecordSource{rdr: rdr}
}

// Next returns up to max rows of the next record, or io.EOF once rdr is
// exhausted.
func (s *RecordSource) Next(ctx context.Context, max int) (columnar.RecordBatch, error) {
	if err := ctx.Err(); err != nil {
		return columnar.RecordBatch{}, err
	}

	for s.offset >= s.pending.NumRows() {
		if !s.rdr.Next() {
			if err := s.rdr.Err(); err != nil {
				return columnar.RecordBatch{}, err
			}
			return columnar.RecordBatch{}, io.EOF
		}
		rb, err := FromRecord(s.rdr.Record())
		if err != nil {
			return columnar.RecordBatch{}, err
		}
		s.pending, s.offset = rb, 0
	}

	end := s.pending.NumRows()
	if max > 0 {
		end = min(end, s.offset+int64(max))
	}
	if s.offset == 0 && end == s.pending.NumRows() {
		s.offset = end
		return s.pending, nil
	}
	out := s.pending.Slice(s.offset, end)
	s.offset = end
	return out, nil
}
