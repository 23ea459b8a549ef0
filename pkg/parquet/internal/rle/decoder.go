package rle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var errCorrupt = errors.New("corrupt RLE/bit-packed data")

// Decoder reads values from RLE/bit-packing hybrid data.
type Decoder struct {
	data     []byte
	bitWidth int

	// Current run state.
	rleLeft    int    // remaining repetitions of rleValue
	rleValue   uint32 // value of the current RLE run
	packedLeft int    // remaining values in the current bit-packed run
	packedBit  int    // bit offset into data of the next bit-packed value
}

// NewDecoder returns a Decoder reading values of bitWidth bits from data.
func NewDecoder(data []byte, bitWidth int) *Decoder {
	d := &Decoder{}
	d.Reset(data, bitWidth)
	return d
}

// Reset discards any state and resets the decoder to read from data.
func (d *Decoder) Reset(data []byte, bitWidth int) {
	*d = Decoder{data: data, bitWidth: bitWidth}
}

// Next returns the next value. At the end of the data Next returns io.EOF.
func (d *Decoder) Next() (uint32, error) {
	for d.rleLeft == 0 && d.packedLeft == 0 {
		if err := d.readHeader(); err != nil {
			return 0, err
		}
	}
	if d.rleLeft > 0 {
		d.rleLeft--
		return d.rleValue, nil
	}
	d.packedLeft--
	v := d.readPacked()
	if d.packedLeft == 0 {
		d.data = d.data[(d.packedBit+7)/8:]
		d.packedBit = 0
	}
	return v, nil
}

// Decode reads up to len(dst) values into dst. It returns the number of
// values read; at the end of the data it returns io.EOF.
func (d *Decoder) Decode(dst []uint32) (int, error) {
	for i := range dst {
		v, err := d.Next()
		if err != nil {
			return i, err
		}
		dst[i] = v
	}
	return len(dst), nil
}

func (d *Decoder) readHeader() error {
	if len(d.data) == 0 {
		return io.EOF
	}
	header, n := binary.Uvarint(d.data)
	if n <= 0 {
		return errCorrupt
	}
	d.data = d.data[n:]

	if header&1 == 1 {
		groups := int(header >> 1)
		if need := groups * d.bitWidth; need > len(d.data) {
			return fmt.Errorf("%w: bit-packed run of %d bytes exceeds %d remaining", errCorrupt, need, len(d.data))
		}
		d.packedLeft = groups * 8
		d.packedBit = 0
		return nil
	}

	width := byteWidth(d.bitWidth)
	if width > len(d.data) {
		return fmt.Errorf("%w: truncated run value", errCorrupt)
	}
	var tmp [4]byte
	copy(tmp[:], d.data[:width])
	d.rleValue = binary.LittleEndian.Uint32(tmp[:])
	d.rleLeft = int(header >> 1)
	d.data = d.data[width:]
	return nil
}

// readPacked reads the next bitWidth-bit value, least significant bit first.
func (d *Decoder) readPacked() uint32 {
	var v uint32
	for i := range d.bitWidth {
		bit := d.packedBit + i
		if d.data[bit/8]&(1<<(bit%8)) != 0 {
			v |= 1 << i
		}
	}
	d.packedBit += d.bitWidth
	return v
}
