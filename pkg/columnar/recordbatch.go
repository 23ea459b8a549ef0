package columnar

import "fmt"

// RecordBatch is a set of equal-length columns described by a Schema.
type RecordBatch struct {
	schema Schema
	nrows  int64
	arrs   []Array
}

// NewRecordBatch returns a RecordBatch over arrs. It panics if the number of
// columns does not match the schema or a column has the wrong length.
func NewRecordBatch(schema Schema, nrows int64, arrs []Array) RecordBatch {
	if len(arrs) != len(schema.Fields) {
		panic(fmt.Sprintf("columnar: %d columns for %d fields", len(arrs), len(schema.Fields)))
	}
	for i, arr := range arrs {
		if int64(arr.Len()) != nrows {
			panic(fmt.Sprintf("columnar: column %q has %d rows, want %d", schema.Fields[i].Name, arr.Len(), nrows))
		}
	}
	return RecordBatch{
		schema: schema,
		nrows:  nrows,
		arrs:   arrs,
	}
}

func (rb RecordBatch) Schema() Schema {
	return rb.schema
}

func (rb RecordBatch) NumRows() int64 {
	return rb.nrows
}

func (rb RecordBatch) NumCols() int64 {
	return int64(len(rb.arrs))
}

func (rb RecordBatch) Column(i int64) Array {
	return rb.arrs[i]
}

func (rb RecordBatch) Columns() []Array {
	return rb.arrs
}

// Slice returns a copy of rows [i, j) of rb.
func (rb RecordBatch) Slice(i, j int64) RecordBatch {
	arrs := make([]Array, len(rb.arrs))
	for c, arr := range rb.arrs {
		arrs[c] = Slice(arr, int(i), int(j))
	}
	return RecordBatch{schema: rb.schema, nrows: j - i, arrs: arrs}
}
