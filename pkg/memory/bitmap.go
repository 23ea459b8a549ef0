// Package memory provides low-level memory primitives shared by the columnar
// types and the column codec.
package memory

import (
	"iter"
	"math/bits"
)

// Bitmap is a growable sequence of bits stored LSB-first in bytes, matching
// the bit order used by Arrow validity buffers and Parquet boolean pages.
//
// The zero value is an empty bitmap ready for use.
type Bitmap struct {
	data []byte
	len  int
}

// NewBitmap returns an empty Bitmap with room for at least capacity bits.
func NewBitmap(capacity int) Bitmap {
	return Bitmap{data: make([]byte, 0, (capacity+7)/8)}
}

// Len returns the number of bits in the bitmap.
func (b *Bitmap) Len() int { return b.len }

// Cap returns the number of bits the bitmap can hold without growing.
func (b *Bitmap) Cap() int { return cap(b.data) * 8 }

// Bytes returns the packed representation of the bitmap. Bits past Len in the
// final byte are always zero.
func (b *Bitmap) Bytes() []byte { return b.data }

// Grow ensures room for n more bits.
func (b *Bitmap) Grow(n int) {
	need := (b.len + n + 7) / 8
	if need <= cap(b.data) {
		return
	}
	grown := make([]byte, len(b.data), max(need, 2*cap(b.data)))
	copy(grown, b.data)
	b.data = grown
}

// Resize sets the length of the bitmap to n. New bits are false.
func (b *Bitmap) Resize(n int) {
	if n < b.len {
		b.len = n
		b.data = b.data[:(n+7)/8]
		b.clearTail()
		return
	}
	b.Grow(n - b.len)
	oldBytes := len(b.data)
	b.data = b.data[:(n+7)/8]
	clear(b.data[oldBytes:])
	b.len = n
}

// Reset empties the bitmap, retaining its capacity.
func (b *Bitmap) Reset() {
	b.data = b.data[:0]
	b.len = 0
}

// Append appends a single bit.
func (b *Bitmap) Append(value bool) {
	if b.len%8 == 0 {
		b.Grow(1)
		b.data = append(b.data, 0)
	}
	if value {
		b.data[b.len/8] |= 1 << (b.len % 8)
	}
	b.len++
}

// AppendCount appends value count times.
func (b *Bitmap) AppendCount(value bool, count int) {
	start := b.len
	b.Resize(b.len + count)
	if value {
		b.SetRange(start, b.len, true)
	}
}

// AppendValues appends each of values in order.
func (b *Bitmap) AppendValues(values ...bool) {
	b.Grow(len(values))
	for _, v := range values {
		b.Append(v)
	}
}

// AppendBitmap appends all bits of other.
func (b *Bitmap) AppendBitmap(other Bitmap) {
	b.Grow(other.len)
	for i := range other.len {
		b.Append(other.Get(i))
	}
}

// Get returns the bit at index i.
func (b *Bitmap) Get(i int) bool {
	return b.data[i/8]&(1<<(i%8)) != 0
}

// Set sets the bit at index i, which must be less than Len.
func (b *Bitmap) Set(i int, value bool) {
	if value {
		b.data[i/8] |= 1 << (i % 8)
	} else {
		b.data[i/8] &^= 1 << (i % 8)
	}
}

// SetRange sets bits in [from, to) to value.
func (b *Bitmap) SetRange(from, to int, value bool) {
	for i := from; i < to; i++ {
		b.Set(i, value)
	}
}

// SetCount returns the number of true bits.
func (b *Bitmap) SetCount() int {
	var n int
	for _, v := range b.data {
		n += bits.OnesCount8(v)
	}
	return n
}

// IterValues returns an iterator over the indices of bits equal to value.
func (b *Bitmap) IterValues(value bool) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range b.len {
			if b.Get(i) != value {
				continue
			}
			if !yield(i) {
				return
			}
		}
	}
}

func (b *Bitmap) clearTail() {
	if rem := b.len % 8; rem != 0 {
		b.data[len(b.data)-1] &= byte(1)<<rem - 1
	}
}
