// Package rle implements the Parquet RLE/bit-packing hybrid encoding used for
// repetition levels, definition levels and dictionary indices.
//
// The encoder only produces RLE runs. The decoder accepts both RLE and
// bit-packed runs.
package rle

import (
	"encoding/binary"
	"iter"
	"math/bits"
)

// Level is the set of integer types the encoder accepts.
type Level interface {
	~uint8 | ~uint16 | ~uint32
}

// Run is a sequence of Length repetitions of Value.
type Run struct {
	Value  uint32
	Length int
}

// Runs returns an iterator over the maximal runs of equal values in values.
// Both EncodedSize and Append consume this sequence, so the size computed
// ahead of time always matches the bytes written.
func Runs[T Level](values []T) iter.Seq[Run] {
	return func(yield func(Run) bool) {
		if len(values) == 0 {
			return
		}
		last, length := values[0], 1
		for _, v := range values[1:] {
			if v == last {
				length++
				continue
			}
			if !yield(Run{Value: uint32(last), Length: length}) {
				return
			}
			last, length = v, 1
		}
		yield(Run{Value: uint32(last), Length: length})
	}
}

// BitWidth returns the number of bits needed to represent max. BitWidth(0)
// is 0.
func BitWidth(max uint64) int {
	return bits.Len64(max)
}

// byteWidth returns the number of bytes used for the value of an RLE run.
func byteWidth(bitWidth int) int {
	return (bitWidth + 7) / 8
}

// EncodedSize returns the number of bytes Append produces for values.
func EncodedSize[T Level](values []T, bitWidth int) int {
	var (
		size  int
		width = byteWidth(bitWidth)
	)
	for run := range Runs(values) {
		size += UvarintLen(uint64(run.Length)<<1) + width
	}
	return size
}

// Append appends the RLE encoding of values to dst and returns the extended
// buffer. Each run is written as uvarint(length<<1) followed by the run value
// in ceil(bitWidth/8) little-endian bytes.
func Append[T Level](dst []byte, values []T, bitWidth int) []byte {
	var (
		width = byteWidth(bitWidth)
		tmp   [4]byte
	)
	for run := range Runs(values) {
		dst = binary.AppendUvarint(dst, uint64(run.Length)<<1)
		binary.LittleEndian.PutUint32(tmp[:], run.Value)
		dst = append(dst, tmp[:width]...)
	}
	return dst
}

// AppendLevels appends a data page level section for levels: a 4-byte
// little-endian byte count followed by the RLE runs.
func AppendLevels(dst []byte, levels []uint16, maxLevel uint16) []byte {
	bitWidth := BitWidth(uint64(maxLevel))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(EncodedSize(levels, bitWidth)))
	return Append(dst, levels, bitWidth)
}

// LevelsSize returns the number of bytes AppendLevels produces.
func LevelsSize(levels []uint16, maxLevel uint16) int {
	return 4 + EncodedSize(levels, BitWidth(uint64(maxLevel)))
}

// UvarintLen returns the number of bytes needed to encode v as a uvarint.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
