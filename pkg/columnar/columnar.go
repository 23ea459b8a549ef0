// Package columnar provides the typed, nullable, possibly nested in-memory
// vectors that the Parquet codec encodes from and decodes into.
//
// Columnar types are Arrow-compatible in layout: validity is an LSB-ordered
// bitmap, variable-length values are stored as offsets into a shared data
// buffer, and lists are offsets into a child array. Unlike arrow-go, arrays
// are plain Go values without reference counting.
package columnar

import "github.com/grafana/parquetcodec/pkg/memory"

// An Array is a sequence of elements of the same data type.
type Array interface {
	// Len returns the total number of elements in the array.
	Len() int

	// Nulls returns the number of null elements in the array. The number of
	// non-null elements can be calculated from Len() - Nulls().
	Nulls() int

	// IsNull returns true if the element at index i is null.
	IsNull(i int) bool

	// Validity returns the validity bitmap of the array. The returned bitmap
	// may be of length 0 if there are no nulls.
	//
	// A value of 1 in the Validity bitmap indicates that the corresponding
	// element at that position is valid (not null).
	Validity() memory.Bitmap

	// Type returns the data type of the array.
	Type() DataType
}

// validity is embedded by every Array implementation.
type validity struct {
	bits  memory.Bitmap
	nulls int
}

func (v *validity) Nulls() int { return v.nulls }

func (v *validity) IsNull(i int) bool {
	if v.nulls == 0 {
		return false
	}
	return !v.bits.Get(i)
}

func (v *validity) Validity() memory.Bitmap {
	if v.nulls == 0 {
		return memory.Bitmap{}
	}
	return v.bits
}

func (v *validity) append(valid bool) {
	if !valid {
		v.nulls++
	}
	v.bits.Append(valid)
}
