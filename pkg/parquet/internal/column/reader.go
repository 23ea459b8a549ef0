package column

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go/deprecated"
	"github.com/parquet-go/parquet-go/format"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
)

// Leaf describes a primitive column of a file schema.
type Leaf struct {
	Index     int // position in the row group column chunks
	Path      []string
	Element   format.SchemaElement
	Physical  format.Type
	Type      columnar.DataType
	MaxRepeat uint16
	MaxDefine uint16

	convert converter
}

func (l *Leaf) pathString() string { return strings.Join(l.Path, ".") }

func (l *Leaf) typeLength() int {
	if l.Element.TypeLength == nil {
		return 0
	}
	return int(*l.Element.TypeLength)
}

// Cursors gives readers access to the cursor of each leaf column.
type Cursors interface {
	Cursor(leaf int) *Cursor
}

// A Reader reassembles one logical column from the level slots of its
// leaves.
type Reader interface {
	// Type returns the logical type produced by the reader.
	Type() columnar.DataType

	// Leaves returns the ordinals of the leaves under the reader.
	Leaves() []int

	// Read consumes one slot and appends the reassembled value to b.
	Read(c Cursors, b columnar.Builder) error

	// skip consumes one slot of every leaf below the reader.
	skip(c Cursors) error
}

// ReaderTree is the reader hierarchy derived from a file schema.
type ReaderTree struct {
	Schema  columnar.Schema
	Readers []Reader // one per top-level field
	Leaves  []*Leaf
}

// BuildReaders derives the logical schema and the readers of a flattened
// Parquet schema. Shapes this package does not produce, such as legacy
// two-level lists, are reported as an *errdefs.FormatError.
func BuildReaders(elements []format.SchemaElement) (*ReaderTree, error) {
	if len(elements) == 0 {
		return nil, errdefs.Formatf("empty schema")
	}
	b := &readerBuilder{elements: elements, pos: 1, tree: &ReaderTree{}}

	root := elements[0]
	if root.Type != nil {
		return nil, errdefs.Formatf("schema root %q is not a group", root.Name)
	}
	var fields []columnar.Field
	for range root.NumChildren {
		f, r, err := b.build(nil, 0, 0)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		b.tree.Readers = append(b.tree.Readers, r)
	}
	if b.pos != len(elements) {
		return nil, errdefs.Formatf("schema has %d elements, root describes %d", len(elements), b.pos)
	}
	b.tree.Schema = columnar.NewSchema(fields...)
	return b.tree, nil
}

type readerBuilder struct {
	elements []format.SchemaElement
	pos      int
	tree     *ReaderTree
}

func (b *readerBuilder) next() (format.SchemaElement, error) {
	if b.pos >= len(b.elements) {
		return format.SchemaElement{}, errdefs.Formatf("schema ends before all children were described")
	}
	elem := b.elements[b.pos]
	b.pos++
	return elem, nil
}

func repetitionOf(elem format.SchemaElement) format.FieldRepetitionType {
	if elem.RepetitionType == nil {
		return format.Required
	}
	return *elem.RepetitionType
}

func isList(elem format.SchemaElement) bool {
	return (elem.LogicalType != nil && elem.LogicalType.List != nil) ||
		(elem.ConvertedType != nil && *elem.ConvertedType == deprecated.List)
}

func isMap(elem format.SchemaElement) bool {
	return (elem.LogicalType != nil && elem.LogicalType.Map != nil) ||
		(elem.ConvertedType != nil && (*elem.ConvertedType == deprecated.Map || *elem.ConvertedType == deprecated.MapKeyValue))
}

// build consumes the element at the current position and its descendants.
// maxRepeat and maxDefine are the levels of the parent.
func (b *readerBuilder) build(path []string, maxRepeat, maxDefine uint16) (columnar.Field, Reader, error) {
	elem, err := b.next()
	if err != nil {
		return columnar.Field{}, nil, err
	}
	path = append(append([]string(nil), path...), elem.Name)

	switch repetitionOf(elem) {
	case format.Optional:
		maxDefine++
	case format.Repeated:
		return columnar.Field{}, nil, errdefs.Formatf("column %s: repeated field outside of a LIST or MAP group", strings.Join(path, "."))
	}
	field := columnar.Field{Name: elem.Name, Required: repetitionOf(elem) == format.Required}

	if elem.Type != nil {
		leaf, err := b.leaf(elem, path, maxRepeat, maxDefine)
		if err != nil {
			return columnar.Field{}, nil, err
		}
		field.Type = leaf.Type
		return field, &leafReader{leaf: leaf}, nil
	}

	switch {
	case isList(elem) || isMap(elem):
		r, err := b.repeated(elem, path, maxRepeat, maxDefine)
		if err != nil {
			return columnar.Field{}, nil, err
		}
		field.Type = r.dt
		return field, r, nil

	default:
		r := &structReader{}
		var fields []columnar.Field
		for range elem.NumChildren {
			f, child, err := b.build(path, maxRepeat, maxDefine)
			if err != nil {
				return columnar.Field{}, nil, err
			}
			fields = append(fields, f)
			r.children = append(r.children, child)
		}
		if len(fields) == 0 {
			return columnar.Field{}, nil, errdefs.Formatf("column %s: group without children", strings.Join(path, "."))
		}
		r.dt = columnar.StructOf(fields...)
		r.maxDefine = maxDefine
		field.Type = r.dt
		return field, r, nil
	}
}

// repeated builds the reader of a three-level LIST or MAP group.
func (b *readerBuilder) repeated(elem format.SchemaElement, path []string, maxRepeat, maxDefine uint16) (*listReader, error) {
	name := strings.Join(path, ".")
	if elem.NumChildren != 1 {
		return nil, errdefs.Formatf("column %s: LIST or MAP group must have one child", name)
	}
	inner, err := b.next()
	if err != nil {
		return nil, err
	}
	if repetitionOf(inner) != format.Repeated || inner.Type != nil {
		return nil, errdefs.Formatf("column %s: unsupported legacy list or map layout", name)
	}
	innerPath := append(path, inner.Name)
	r := &listReader{maxRepeat: maxRepeat, maxDefine: maxDefine}

	if isMap(elem) {
		if inner.NumChildren != 2 {
			return nil, errdefs.Formatf("column %s: map entries must have a key and a value", name)
		}
		key, keyReader, err := b.build(innerPath, maxRepeat+1, maxDefine+1)
		if err != nil {
			return nil, err
		}
		value, valueReader, err := b.build(innerPath, maxRepeat+1, maxDefine+1)
		if err != nil {
			return nil, err
		}
		r.dt = columnar.MapOf(key.Type, value.Type)
		r.child = &structReader{
			dt:        columnar.StructOf(r.dt.Fields()...),
			maxDefine: maxDefine + 1,
			children:  []Reader{keyReader, valueReader},
		}
		return r, nil
	}

	if inner.NumChildren != 1 {
		return nil, errdefs.Formatf("column %s: unsupported legacy list layout", name)
	}
	element, child, err := b.build(innerPath, maxRepeat+1, maxDefine+1)
	if err != nil {
		return nil, err
	}
	r.dt = columnar.ListOf(element.Type)
	r.child = child
	return r, nil
}

func (b *readerBuilder) leaf(elem format.SchemaElement, path []string, maxRepeat, maxDefine uint16) (*Leaf, error) {
	leaf := &Leaf{
		Index:     len(b.tree.Leaves),
		Path:      path,
		Element:   elem,
		Physical:  *elem.Type,
		MaxRepeat: maxRepeat,
		MaxDefine: maxDefine,
	}
	kind, err := logicalKind(elem)
	if err != nil {
		return nil, errdefs.WrapFormat(err, "column "+leaf.pathString())
	}
	leaf.Type = columnar.Scalar(kind)
	leaf.convert = newConverter(kind, leaf.Physical)
	b.tree.Leaves = append(b.tree.Leaves, leaf)
	return leaf, nil
}

// logicalKind inverts the scalar lowering table.
func logicalKind(elem format.SchemaElement) (columnar.Kind, error) {
	var (
		lt        = elem.LogicalType
		converted = deprecated.ConvertedType(-1)
	)
	if elem.ConvertedType != nil {
		converted = *elem.ConvertedType
	}

	switch *elem.Type {
	case format.Boolean:
		return columnar.KindBool, nil

	case format.Int32:
		if lt != nil && lt.Integer != nil {
			return intKind(lt.Integer.BitWidth, lt.Integer.IsSigned, columnar.KindInt32)
		}
		if lt != nil && lt.Date != nil {
			return columnar.KindDate, nil
		}
		switch converted {
		case deprecated.Int8:
			return columnar.KindInt8, nil
		case deprecated.Int16:
			return columnar.KindInt16, nil
		case deprecated.Uint8:
			return columnar.KindUint8, nil
		case deprecated.Uint16:
			return columnar.KindUint16, nil
		case deprecated.Uint32:
			return columnar.KindUint32, nil
		case deprecated.Date:
			return columnar.KindDate, nil
		}
		return columnar.KindInt32, nil

	case format.Int64:
		if lt != nil && lt.Timestamp != nil {
			ts := lt.Timestamp
			switch {
			case ts.Unit.Millis != nil:
				return columnar.KindTimestampMS, nil
			case ts.Unit.Nanos != nil:
				return columnar.KindTimestampNS, nil
			case ts.IsAdjustedToUTC:
				return columnar.KindTimestampTZ, nil
			}
			return columnar.KindTimestamp, nil
		}
		if lt != nil && lt.Integer != nil {
			return intKind(lt.Integer.BitWidth, lt.Integer.IsSigned, columnar.KindInt64)
		}
		switch converted {
		case deprecated.Uint64:
			return columnar.KindUint64, nil
		case deprecated.TimestampMicros:
			return columnar.KindTimestamp, nil
		case deprecated.TimestampMillis:
			return columnar.KindTimestampMS, nil
		}
		return columnar.KindInt64, nil

	case format.Float:
		return columnar.KindFloat, nil
	case format.Double:
		return columnar.KindDouble, nil

	case format.ByteArray:
		if (lt != nil && (lt.UTF8 != nil || lt.Json != nil || lt.Enum != nil)) ||
			converted == deprecated.UTF8 || converted == deprecated.Json || converted == deprecated.Enum {
			return columnar.KindString, nil
		}
		return columnar.KindBlob, nil

	case format.FixedLenByteArray:
		length := int32(0)
		if elem.TypeLength != nil {
			length = *elem.TypeLength
		}
		switch {
		case converted == deprecated.Interval && length == intervalSize:
			return columnar.KindInterval, nil
		case lt != nil && lt.UUID != nil && length == uuidSize:
			return columnar.KindUUID, nil
		}
		return columnar.KindBlob, nil

	case format.Int96:
		return columnar.KindInvalid, errors.New("INT96 columns are not supported")
	}
	return columnar.KindInvalid, fmt.Errorf("unknown physical type %s", *elem.Type)
}

func intKind(bitWidth int8, signed bool, fallback columnar.Kind) (columnar.Kind, error) {
	switch {
	case bitWidth == 8 && signed:
		return columnar.KindInt8, nil
	case bitWidth == 16 && signed:
		return columnar.KindInt16, nil
	case bitWidth == 32 && signed:
		return columnar.KindInt32, nil
	case bitWidth == 64 && signed:
		return columnar.KindInt64, nil
	case bitWidth == 8:
		return columnar.KindUint8, nil
	case bitWidth == 16:
		return columnar.KindUint16, nil
	case bitWidth == 32:
		return columnar.KindUint32, nil
	case bitWidth == 64:
		return columnar.KindUint64, nil
	}
	return fallback, nil
}

// leafReader appends one value or null per slot.
type leafReader struct {
	leaf *Leaf
}

func (r *leafReader) Type() columnar.DataType { return r.leaf.Type }
func (r *leafReader) Leaves() []int           { return []int{r.leaf.Index} }

func (r *leafReader) Read(c Cursors, b columnar.Builder) error {
	return c.Cursor(r.leaf.Index).Next(b)
}

func (r *leafReader) skip(c Cursors) error {
	return c.Cursor(r.leaf.Index).Skip()
}

// peekDef returns the definition level of the next slot of the first leaf
// under r. Every leaf below a group shares the levels up to the group.
func peekDef(c Cursors, r Reader) (uint16, error) {
	_, def, err := c.Cursor(r.Leaves()[0]).Peek()
	return def, err
}

func peekRep(c Cursors, r Reader) (uint16, error) {
	rep, _, err := c.Cursor(r.Leaves()[0]).Peek()
	return rep, err
}

// structReader reassembles a STRUCT, or the entries of a MAP.
type structReader struct {
	dt        columnar.DataType
	maxDefine uint16
	children  []Reader
}

func (r *structReader) Type() columnar.DataType { return r.dt }

func (r *structReader) Leaves() []int {
	var leaves []int
	for _, child := range r.children {
		leaves = append(leaves, child.Leaves()...)
	}
	return leaves
}

func (r *structReader) Read(c Cursors, b columnar.Builder) error {
	sb := b.(*columnar.StructBuilder)
	def, err := peekDef(c, r)
	if err != nil {
		return err
	}
	if def < r.maxDefine {
		sb.AppendNull()
		return r.skipChildren(c)
	}
	sb.Append(true)
	for i, child := range r.children {
		if err := child.Read(c, sb.FieldBuilder(i)); err != nil {
			return err
		}
	}
	return nil
}

func (r *structReader) skip(c Cursors) error { return r.skipChildren(c) }

func (r *structReader) skipChildren(c Cursors) error {
	for _, child := range r.children {
		if err := child.skip(c); err != nil {
			return err
		}
	}
	return nil
}

// listReader reassembles a LIST or MAP at levels (maxRepeat, maxDefine).
type listReader struct {
	dt        columnar.DataType
	maxRepeat uint16
	maxDefine uint16
	child     Reader
}

func (r *listReader) Type() columnar.DataType { return r.dt }
func (r *listReader) Leaves() []int           { return r.child.Leaves() }

func (r *listReader) Read(c Cursors, b columnar.Builder) error {
	lb := b.(*columnar.ListBuilder)
	def, err := peekDef(c, r)
	if err != nil {
		return err
	}
	switch {
	case def < r.maxDefine:
		lb.AppendNull()
		return r.child.skip(c)
	case def == r.maxDefine:
		lb.Append(true)
		return r.child.skip(c)
	}

	lb.Append(true)
	if err := r.child.Read(c, lb.ValueBuilder()); err != nil {
		return err
	}
	for {
		more, err := r.continues(c)
		if err != nil || !more {
			return err
		}
		if err := r.child.Read(c, lb.ValueBuilder()); err != nil {
			return err
		}
	}
}

// continues reports whether the next slot belongs to the current list. At
// the end of the column chunk there is no next slot.
func (r *listReader) continues(c Cursors) (bool, error) {
	cur := c.Cursor(r.Leaves()[0])
	if cur.exhausted() {
		return false, nil
	}
	rep, err := peekRep(c, r)
	if err != nil {
		return false, err
	}
	return rep > r.maxRepeat, nil
}

// skip consumes one slot. The slot of a null or empty list is a single
// slot in each leaf, but a skipped list may also be non-empty when an
// ancestor is skipped, so continuation slots are consumed too.
func (r *listReader) skip(c Cursors) error {
	if err := r.child.skip(c); err != nil {
		return err
	}
	for {
		more, err := r.continues(c)
		if err != nil || !more {
			return err
		}
		if err := r.child.skip(c); err != nil {
			return err
		}
	}
}

// exhausted reports whether every slot of the chunk has been consumed.
func (c *Cursor) exhausted() bool {
	return c.slot >= c.slots && c.remaining <= 0
}
