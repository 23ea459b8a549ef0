package column

import (
	"github.com/parquet-go/parquet-go/deprecated"
	"github.com/parquet-go/parquet-go/format"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/stats"
)

const (
	msgRequiredNull = "column is not allowed to contain NULL values"
	msgMapKeyNull   = "map key column is not allowed to contain NULL values"
	msgMapEntryNull = "map entries are not allowed to be NULL"
)

// Tree is the writer hierarchy for a schema along with its flattened Parquet
// schema.
type Tree struct {
	// Schema holds the flattened schema elements in pre-order, starting with
	// the root group.
	Schema []format.SchemaElement

	// Writers holds one writer per top-level field.
	Writers []Writer

	numWriters int
	leaves     []*leafWriter
}

// NewTree lowers fields into a Parquet schema whose root group is named
// rootName, and builds the writer for every field. Types without a Parquet
// representation return an *errdefs.UnsupportedTypeError.
func NewTree(rootName string, fields []columnar.Field, opts Options) (*Tree, error) {
	t := &Tree{
		Schema: []format.SchemaElement{{
			Name:           rootName,
			NumChildren:    int32(len(fields)),
			RepetitionType: repetitionPtr(format.Required),
		}},
	}
	b := &treeBuilder{tree: t, opts: opts.withDefaults()}
	for _, f := range fields {
		w, err := b.build(f.Name, f.Type, nil, 0, 1, !f.Required, msgRequiredNull)
		if err != nil {
			return nil, err
		}
		t.Writers = append(t.Writers, w)
	}
	t.numWriters = b.nextID
	return t, nil
}

// NumLeaves returns the number of column chunks per row group.
func (t *Tree) NumLeaves() int { return len(t.leaves) }

// LeafPath returns the schema path of leaf i.
func (t *Tree) LeafPath(i int) []string { return t.leaves[i].path }

// NewStates returns an arena of fresh writer states for one row group. Each
// leaf registers its column chunk in RowGroup.Columns, in leaf order.
func (t *Tree) NewStates() *States {
	s := &States{states: make([]State, t.numWriters)}
	s.RowGroup.Columns = make([]format.ColumnChunk, len(t.leaves))
	for _, leaf := range t.leaves {
		leaf.initializeWriteState(s)
	}
	return s
}

type treeBuilder struct {
	tree   *Tree
	opts   Options
	nextID int
}

func (b *treeBuilder) newBase(name string, path []string, maxRepeat, maxDefine uint16, canHaveNulls bool, nullMsg string) base {
	id := b.nextID
	b.nextID++
	return base{
		id:           id,
		schemaIdx:    len(b.tree.Schema),
		path:         append(append([]string(nil), path...), name),
		maxRepeat:    maxRepeat,
		maxDefine:    maxDefine,
		canHaveNulls: canHaveNulls,
		nullMsg:      nullMsg,
	}
}

func (b *treeBuilder) build(name string, dt columnar.DataType, path []string, maxRepeat, maxDefine uint16, canHaveNulls bool, nullMsg string) (Writer, error) {
	repetition := format.Optional
	if !canHaveNulls {
		repetition = format.Required
		maxDefine--
	}

	switch dt.Kind() {
	case columnar.KindStruct, columnar.KindUnion:
		fields := dt.Fields()
		w := &structWriter{base: b.newBase(name, path, maxRepeat, maxDefine, canHaveNulls, nullMsg)}
		b.tree.Schema = append(b.tree.Schema, format.SchemaElement{
			Name:           name,
			RepetitionType: repetitionPtr(repetition),
			NumChildren:    int32(len(fields)),
		})
		for _, f := range fields {
			child, err := b.build(f.Name, f.Type, w.path, maxRepeat, maxDefine+1, !f.Required, msgRequiredNull)
			if err != nil {
				return nil, err
			}
			w.children = append(w.children, child)
		}
		return w, nil

	case columnar.KindList:
		w := &listWriter{base: b.newBase(name, path, maxRepeat, maxDefine, canHaveNulls, nullMsg)}
		b.tree.Schema = append(b.tree.Schema,
			format.SchemaElement{
				Name:           name,
				RepetitionType: repetitionPtr(repetition),
				NumChildren:    1,
				ConvertedType:  convertedPtr(deprecated.List),
				LogicalType:    &format.LogicalType{List: &format.ListType{}},
			},
			format.SchemaElement{
				Name:           "list",
				RepetitionType: repetitionPtr(format.Repeated),
				NumChildren:    1,
			},
		)
		child, err := b.build("element", dt.Elem(), append(w.path, "list"), maxRepeat+1, maxDefine+2, true, msgRequiredNull)
		if err != nil {
			return nil, err
		}
		w.child = child
		return w, nil

	case columnar.KindMap:
		// A map is a list of key/value structs; both writers share the
		// map's schema element and levels.
		lw := &listWriter{base: b.newBase(name, path, maxRepeat, maxDefine, canHaveNulls, nullMsg)}
		sw := &structWriter{base: lw.base}
		sw.id = b.nextID
		b.nextID++
		sw.canHaveNulls = false
		sw.nullMsg = msgMapEntryNull

		b.tree.Schema = append(b.tree.Schema,
			format.SchemaElement{
				Name:           name,
				RepetitionType: repetitionPtr(repetition),
				NumChildren:    1,
				ConvertedType:  convertedPtr(deprecated.Map),
				LogicalType:    &format.LogicalType{Map: &format.MapType{}},
			},
			format.SchemaElement{
				Name:           "key_value",
				RepetitionType: repetitionPtr(format.Repeated),
				NumChildren:    2,
			},
		)
		kvPath := append(append([]string(nil), lw.path...), "key_value")
		key, err := b.build("key", dt.Key(), kvPath, maxRepeat+1, maxDefine+2, false, msgMapKeyNull)
		if err != nil {
			return nil, err
		}
		value, err := b.build("value", dt.Value(), kvPath, maxRepeat+1, maxDefine+2, true, msgRequiredNull)
		if err != nil {
			return nil, err
		}
		sw.children = []Writer{key, value}
		lw.child = sw
		return lw, nil
	}

	elem, enc, err := b.lowerScalar(name, dt)
	if err != nil {
		return nil, err
	}
	elem.RepetitionType = repetitionPtr(repetition)
	w := &leafWriter{
		base:    b.newBase(name, path, maxRepeat, maxDefine, canHaveNulls, nullMsg),
		leafIdx: len(b.tree.leaves),
		ptype:   *elem.Type,
		enc:     enc,
		opts:    b.opts,
	}
	b.tree.Schema = append(b.tree.Schema, elem)
	b.tree.leaves = append(b.tree.leaves, w)
	return w, nil
}

// lowerScalar returns the schema element (without repetition) and value
// encoder for a scalar type.
func (b *treeBuilder) lowerScalar(name string, dt columnar.DataType) (format.SchemaElement, valueEncoder, error) {
	elem := format.SchemaElement{Name: name}
	set := func(t format.Type, ct deprecated.ConvertedType, lt *format.LogicalType) {
		elem.Type = typePtr(t)
		if ct >= 0 {
			elem.ConvertedType = convertedPtr(ct)
		}
		elem.LogicalType = lt
	}
	intType := func(bits int8, signed bool) *format.LogicalType {
		return &format.LogicalType{Integer: &format.IntType{BitWidth: bits, IsSigned: signed}}
	}
	timestamp := func(utc bool, millis bool) *format.LogicalType {
		ts := &format.TimestampType{IsAdjustedToUTC: utc}
		if millis {
			ts.Unit.Millis = &format.MilliSeconds{}
		} else {
			ts.Unit.Micros = &format.MicroSeconds{}
		}
		return &format.LogicalType{Timestamp: ts}
	}
	const none deprecated.ConvertedType = -1

	var enc valueEncoder
	switch dt.Kind() {
	case columnar.KindBool:
		set(format.Boolean, none, nil)
		enc = boolEncoder{}
	case columnar.KindInt8:
		set(format.Int32, deprecated.Int8, intType(8, true))
		enc = numericEncoder[int8, int32]{kind: stats.KindInt32, cast: castInt[int8, int32]}
	case columnar.KindInt16:
		set(format.Int32, deprecated.Int16, intType(16, true))
		enc = numericEncoder[int16, int32]{kind: stats.KindInt32, cast: castInt[int16, int32]}
	case columnar.KindInt32:
		set(format.Int32, deprecated.Int32, intType(32, true))
		enc = numericEncoder[int32, int32]{kind: stats.KindInt32, cast: castInt[int32, int32]}
	case columnar.KindDate:
		set(format.Int32, deprecated.Date, &format.LogicalType{Date: &format.DateType{}})
		enc = numericEncoder[int32, int32]{kind: stats.KindInt32, cast: castInt[int32, int32]}
	case columnar.KindUint8:
		set(format.Int32, deprecated.Uint8, intType(8, false))
		enc = numericEncoder[uint8, int32]{kind: stats.KindNone, cast: castInt[uint8, int32]}
	case columnar.KindUint16:
		set(format.Int32, deprecated.Uint16, intType(16, false))
		enc = numericEncoder[uint16, int32]{kind: stats.KindNone, cast: castInt[uint16, int32]}
	case columnar.KindUint32:
		set(format.Int32, deprecated.Uint32, intType(32, false))
		enc = numericEncoder[uint32, int32]{kind: stats.KindNone, cast: castInt[uint32, int32]}
	case columnar.KindInt64:
		set(format.Int64, deprecated.Int64, intType(64, true))
		enc = numericEncoder[int64, int64]{kind: stats.KindInt64, cast: castInt[int64, int64]}
	case columnar.KindSerial:
		set(format.Int64, deprecated.Int64, nil)
		enc = numericEncoder[int64, int64]{kind: stats.KindInt64, cast: castInt[int64, int64]}
	case columnar.KindUint64:
		set(format.Int64, deprecated.Uint64, intType(64, false))
		enc = numericEncoder[uint64, int64]{kind: stats.KindNone, cast: castInt[uint64, int64]}
	case columnar.KindTimestamp:
		set(format.Int64, deprecated.TimestampMicros, timestamp(false, false))
		enc = numericEncoder[int64, int64]{kind: stats.KindInt64, cast: castInt[int64, int64]}
	case columnar.KindTimestampTZ:
		set(format.Int64, deprecated.TimestampMicros, timestamp(true, false))
		enc = numericEncoder[int64, int64]{kind: stats.KindInt64, cast: castInt[int64, int64]}
	case columnar.KindTimestampMS:
		set(format.Int64, deprecated.TimestampMillis, timestamp(false, true))
		enc = numericEncoder[int64, int64]{kind: stats.KindInt64, cast: castInt[int64, int64]}
	case columnar.KindTimestampNS:
		set(format.Int64, deprecated.TimestampMicros, timestamp(false, false))
		enc = numericEncoder[int64, int64]{kind: stats.KindInt64, cast: nanosToMicros}
	case columnar.KindTimestampSec:
		set(format.Int64, deprecated.TimestampMicros, timestamp(false, false))
		enc = numericEncoder[int64, int64]{kind: stats.KindInt64, cast: secondsToMicros}
	case columnar.KindFloat:
		set(format.Float, none, nil)
		enc = numericEncoder[float32, float32]{kind: stats.KindFloat, cast: identity[float32]}
	case columnar.KindDouble:
		set(format.Double, none, nil)
		enc = numericEncoder[float64, float64]{kind: stats.KindDouble, cast: identity[float64]}
	case columnar.KindInt128:
		// Lossy beyond 2^53.
		set(format.Double, none, nil)
		enc = numericEncoder[columnar.Int128, float64]{kind: stats.KindNone, cast: columnar.Int128.Float64}
	case columnar.KindString:
		set(format.ByteArray, deprecated.UTF8, &format.LogicalType{UTF8: &format.StringType{}})
		enc = &binaryEncoder{maxStatsSize: b.opts.MaxStringStatisticsSize}
	case columnar.KindBlob:
		set(format.ByteArray, none, nil)
		enc = &binaryEncoder{maxStatsSize: b.opts.MaxStringStatisticsSize}
	case columnar.KindInterval:
		set(format.FixedLenByteArray, deprecated.Interval, nil)
		elem.TypeLength = int32Ptr(intervalSize)
		enc = intervalEncoder{}
	case columnar.KindUUID:
		set(format.FixedLenByteArray, none, &format.LogicalType{UUID: &format.UUIDType{}})
		elem.TypeLength = int32Ptr(uuidSize)
		enc = uuidEncoder{}
	default:
		return elem, nil, &errdefs.UnsupportedTypeError{Column: name, Type: dt.String()}
	}
	return elem, enc, nil
}

func typePtr(t format.Type) *format.Type { return &t }

func repetitionPtr(r format.FieldRepetitionType) *format.FieldRepetitionType { return &r }

func convertedPtr(c deprecated.ConvertedType) *deprecated.ConvertedType { return &c }

func int32Ptr(v int32) *int32 { return &v }
