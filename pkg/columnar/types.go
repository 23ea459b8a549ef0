package columnar

import (
	"fmt"
	"strings"
)

// Kind identifies a logical type.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindInt128
	KindFloat
	KindDouble
	KindDate         // days since the Unix epoch, int32
	KindTimestamp    // microseconds since the Unix epoch, int64
	KindTimestampTZ  // microseconds since the Unix epoch (UTC), int64
	KindTimestampMS  // milliseconds since the Unix epoch, int64
	KindTimestampNS  // nanoseconds since the Unix epoch, int64
	KindTimestampSec // seconds since the Unix epoch, int64
	KindSerial
	KindInterval
	KindUUID
	KindString
	KindBlob
	KindList
	KindStruct
	KindMap
	KindUnion
)

var kindNames = [...]string{
	KindInvalid:      "INVALID",
	KindBool:         "BOOL",
	KindInt8:         "INT8",
	KindInt16:        "INT16",
	KindInt32:        "INT32",
	KindInt64:        "INT64",
	KindUint8:        "UINT8",
	KindUint16:       "UINT16",
	KindUint32:       "UINT32",
	KindUint64:       "UINT64",
	KindInt128:       "INT128",
	KindFloat:        "FLOAT",
	KindDouble:       "DOUBLE",
	KindDate:         "DATE",
	KindTimestamp:    "TIMESTAMP",
	KindTimestampTZ:  "TIMESTAMP_TZ",
	KindTimestampMS:  "TIMESTAMP_MS",
	KindTimestampNS:  "TIMESTAMP_NS",
	KindTimestampSec: "TIMESTAMP_SEC",
	KindSerial:       "SERIAL",
	KindInterval:     "INTERVAL",
	KindUUID:         "UUID",
	KindString:       "STRING",
	KindBlob:         "BLOB",
	KindList:         "LIST",
	KindStruct:       "STRUCT",
	KindMap:          "MAP",
	KindUnion:        "UNION",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Nested reports whether k is a LIST, STRUCT, MAP or UNION.
func (k Kind) Nested() bool {
	switch k {
	case KindList, KindStruct, KindMap, KindUnion:
		return true
	}
	return false
}

// DataType is an immutable logical type tree.
type DataType struct {
	kind   Kind
	elem   *DataType // LIST
	fields []Field   // STRUCT, UNION, MAP (key, value)
}

// Scalar returns the DataType for a non-nested kind.
func Scalar(k Kind) DataType {
	if k.Nested() {
		panic(fmt.Sprintf("columnar: %s is not a scalar kind", k))
	}
	return DataType{kind: k}
}

// ListOf returns a LIST of elem.
func ListOf(elem DataType) DataType {
	return DataType{kind: KindList, elem: &elem}
}

// StructOf returns a STRUCT with the given fields.
func StructOf(fields ...Field) DataType {
	return DataType{kind: KindStruct, fields: fields}
}

// UnionOf returns a UNION with the given member fields. Unions are stored as
// structs with one field per member.
func UnionOf(fields ...Field) DataType {
	return DataType{kind: KindUnion, fields: fields}
}

// MapOf returns a MAP from key to value. Map keys are never null.
func MapOf(key, value DataType) DataType {
	return DataType{kind: KindMap, fields: []Field{
		{Name: "key", Type: key, Required: true},
		{Name: "value", Type: value},
	}}
}

func (t DataType) Kind() Kind { return t.kind }

// Elem returns the element type of a LIST.
func (t DataType) Elem() DataType {
	if t.elem == nil {
		return DataType{}
	}
	return *t.elem
}

// Fields returns the fields of a STRUCT or UNION, or the key and value
// fields of a MAP.
func (t DataType) Fields() []Field { return t.fields }

// Key returns the key type of a MAP.
func (t DataType) Key() DataType { return t.fields[0].Type }

// Value returns the value type of a MAP.
func (t DataType) Value() DataType { return t.fields[1].Type }

// Equal reports whether t and other describe the same type tree.
func (t DataType) Equal(other DataType) bool {
	if t.kind != other.kind || len(t.fields) != len(other.fields) {
		return false
	}
	if t.kind == KindList && !t.Elem().Equal(other.Elem()) {
		return false
	}
	for i := range t.fields {
		a, b := t.fields[i], other.fields[i]
		if a.Name != b.Name || a.Required != b.Required || !a.Type.Equal(b.Type) {
			return false
		}
	}
	return true
}

func (t DataType) String() string {
	switch t.kind {
	case KindList:
		return t.kind.String() + "(" + t.Elem().String() + ")"
	case KindMap:
		return t.kind.String() + "(" + t.Key().String() + ", " + t.Value().String() + ")"
	case KindStruct, KindUnion:
		parts := make([]string, len(t.fields))
		for i, f := range t.fields {
			parts[i] = f.Name + " " + f.Type.String()
		}
		return t.kind.String() + "(" + strings.Join(parts, ", ") + ")"
	default:
		return t.kind.String()
	}
}

// Field is a named member of a Schema, STRUCT, UNION or MAP.
type Field struct {
	Name string
	Type DataType

	// Required marks the field as never null. Null values in a required
	// field are rejected when written.
	Required bool
}

// Schema is the ordered list of top-level fields of a RecordBatch.
type Schema struct {
	Fields []Field
}

// NewSchema returns a Schema with the given fields.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Equal reports whether s and other have the same fields.
func (s Schema) Equal(other Schema) bool {
	return StructOf(s.Fields...).Equal(StructOf(other.Fields...))
}
