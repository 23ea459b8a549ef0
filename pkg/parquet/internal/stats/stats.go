// Package stats tracks per-column-chunk statistics and encodes them into
// Parquet [format.Statistics].
package stats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"
	"github.com/parquet-go/parquet-go/format"
)

// Kind selects the variant of a Stats value. There is one variant per
// physical value family.
type Kind uint8

const (
	KindNone   Kind = iota // No min/max is tracked (unsigned integers, INT128).
	KindBool               // BOOLEAN
	KindInt32              // INT32
	KindInt64              // INT64
	KindFloat              // FLOAT
	KindDouble             // DOUBLE
	KindBytes              // BYTE_ARRAY and FIXED_LEN_BYTE_ARRAY
)

// Options customizes a Stats.
type Options struct {
	// MaxBytesSize drops min/max of a KindBytes column once any value is
	// larger than this many bytes. 0 disables the limit.
	MaxBytesSize int

	// DistinctCount enables a HyperLogLog estimate of the number of distinct
	// values.
	DistinctCount bool
}

// Stats accumulates min, max, null count and an optional distinct count for
// one column chunk. The zero value is not usable; use New.
type Stats struct {
	kind Kind
	opts Options

	seen      bool
	nullCount int64

	minInt, maxInt     int64
	minFloat, maxFloat float64
	minBytes, maxBytes []byte
	tooLarge           bool

	hll      *hyperloglog.Sketch
	distinct int64 // exact distinct count, overrides hll when >= 0
	scratch  [8]byte
}

// NB: with 2^12 registers the standard error is 1.04/sqrt(2^12) = 1.6%, at a
// cost of 4KB per sketch.
func newHyperLogLog() (*hyperloglog.Sketch, error) {
	return hyperloglog.NewSketch(12, true)
}

// New returns an empty Stats of the given kind.
func New(kind Kind, opts Options) (*Stats, error) {
	s := &Stats{kind: kind, opts: opts, distinct: -1}
	if opts.DistinctCount && kind != KindNone {
		var err error
		if s.hll, err = newHyperLogLog(); err != nil {
			return nil, fmt.Errorf("failed to create hll: %w", err)
		}
	}
	return s, nil
}

// Kind returns the variant of s.
func (s *Stats) Kind() Kind { return s.kind }

// AddNulls records n null values.
func (s *Stats) AddNulls(n int) { s.nullCount += int64(n) }

// NullCount returns the number of nulls recorded.
func (s *Stats) NullCount() int64 { return s.nullCount }

// SetDistinctCount sets an exact distinct count, such as the size of a
// dictionary, replacing any estimate.
func (s *Stats) SetDistinctCount(n int) { s.distinct = int64(n) }

// UpdateBool records a BOOLEAN value.
func (s *Stats) UpdateBool(v bool) {
	var i int64
	if v {
		i = 1
	}
	s.updateInt(i)
	if s.hll != nil {
		s.scratch[0] = byte(i)
		s.hll.InsertHash(xxhash.Sum64(s.scratch[:1]))
	}
}

// UpdateInt32 records an INT32 value.
func (s *Stats) UpdateInt32(v int32) {
	s.updateInt(int64(v))
	if s.hll != nil {
		binary.LittleEndian.PutUint32(s.scratch[:4], uint32(v))
		s.hll.InsertHash(xxhash.Sum64(s.scratch[:4]))
	}
}

// UpdateInt64 records an INT64 value.
func (s *Stats) UpdateInt64(v int64) {
	s.updateInt(v)
	if s.hll != nil {
		binary.LittleEndian.PutUint64(s.scratch[:], uint64(v))
		s.hll.InsertHash(xxhash.Sum64(s.scratch[:]))
	}
}

func (s *Stats) updateInt(v int64) {
	if s.kind == KindNone {
		return
	}
	if !s.seen {
		s.minInt, s.maxInt, s.seen = v, v, true
		return
	}
	s.minInt = min(s.minInt, v)
	s.maxInt = max(s.maxInt, v)
}

// UpdateFloat records a FLOAT or DOUBLE value. NaN values are not part of
// the min/max range.
func (s *Stats) UpdateFloat(v float64) {
	if s.hll != nil {
		binary.LittleEndian.PutUint64(s.scratch[:], math.Float64bits(v))
		s.hll.InsertHash(xxhash.Sum64(s.scratch[:]))
	}
	if s.kind == KindNone || math.IsNaN(v) {
		return
	}
	if !s.seen {
		s.minFloat, s.maxFloat, s.seen = v, v, true
		return
	}
	s.minFloat = min(s.minFloat, v)
	s.maxFloat = max(s.maxFloat, v)
}

// UpdateBytes records a byte string value. v is copied when it becomes the
// new minimum or maximum.
func (s *Stats) UpdateBytes(v []byte) {
	if s.hll != nil {
		s.hll.InsertHash(xxhash.Sum64(v))
	}
	if s.kind == KindNone || s.tooLarge {
		return
	}
	if s.opts.MaxBytesSize > 0 && len(v) > s.opts.MaxBytesSize {
		s.tooLarge = true
		s.minBytes, s.maxBytes = nil, nil
		return
	}
	if !s.seen {
		s.minBytes = append(s.minBytes[:0], v...)
		s.maxBytes = append(s.maxBytes[:0], v...)
		s.seen = true
		return
	}
	if bytes.Compare(v, s.minBytes) < 0 {
		s.minBytes = append(s.minBytes[:0], v...)
	}
	if bytes.Compare(v, s.maxBytes) > 0 {
		s.maxBytes = append(s.maxBytes[:0], v...)
	}
}

// HasMinMax reports whether Encode will include min and max values.
func (s *Stats) HasMinMax() bool {
	return s.kind != KindNone && s.seen && !s.tooLarge
}

// Encode returns the Parquet statistics for s. The null count is only
// included when includeNullCount is set; it is not meaningful for columns
// nested inside repeated fields.
func (s *Stats) Encode(includeNullCount bool) format.Statistics {
	var out format.Statistics
	if includeNullCount {
		out.NullCount = s.nullCount
	}
	switch {
	case s.distinct >= 0:
		out.DistinctCount = s.distinct
	case s.hll != nil:
		out.DistinctCount = int64(s.hll.Estimate())
	}
	if !s.HasMinMax() {
		return out
	}

	minValue, maxValue := s.encodeMinMax()
	out.Min, out.Max = minValue, maxValue
	out.MinValue, out.MaxValue = minValue, maxValue
	return out
}

func (s *Stats) encodeMinMax() (minValue, maxValue []byte) {
	switch s.kind {
	case KindBool:
		return []byte{byte(s.minInt)}, []byte{byte(s.maxInt)}
	case KindInt32:
		return binary.LittleEndian.AppendUint32(nil, uint32(int32(s.minInt))),
			binary.LittleEndian.AppendUint32(nil, uint32(int32(s.maxInt)))
	case KindInt64:
		return binary.LittleEndian.AppendUint64(nil, uint64(s.minInt)),
			binary.LittleEndian.AppendUint64(nil, uint64(s.maxInt))
	case KindFloat:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(s.minFloat))),
			binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(s.maxFloat)))
	case KindDouble:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(s.minFloat)),
			binary.LittleEndian.AppendUint64(nil, math.Float64bits(s.maxFloat))
	case KindBytes:
		return bytes.Clone(s.minBytes), bytes.Clone(s.maxBytes)
	}
	return nil, nil
}

// Decode converts a plain-encoded statistics value of the given physical
// type into a Go value for display. It returns nil for unknown types or
// malformed values.
func Decode(t format.Type, v []byte) any {
	switch {
	case v == nil:
		return nil
	case t == format.Boolean && len(v) == 1:
		return v[0] != 0
	case t == format.Int32 && len(v) == 4:
		return int32(binary.LittleEndian.Uint32(v))
	case t == format.Int64 && len(v) == 8:
		return int64(binary.LittleEndian.Uint64(v))
	case t == format.Float && len(v) == 4:
		return math.Float32frombits(binary.LittleEndian.Uint32(v))
	case t == format.Double && len(v) == 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(v))
	case t == format.ByteArray || t == format.FixedLenByteArray:
		return v
	}
	return nil
}
