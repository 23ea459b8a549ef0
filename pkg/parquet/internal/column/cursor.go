package column

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"

	"github.com/parquet-go/parquet-go/encoding/thrift"
	"github.com/parquet-go/parquet-go/format"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/compress"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/rle"
)

// PageObserver is notified about every page a Cursor decodes.
type PageObserver func(pageType format.PageType, compressedSize, uncompressedSize int)

// A Cursor iterates over the level slots of one column chunk, loading pages
// on demand.
type Cursor struct {
	leaf     *Leaf
	meta     *format.ColumnMetaData
	r        *bufio.Reader
	protocol thrift.CompactProtocol
	decoder  *thrift.Decoder
	observe  PageObserver

	remaining int64 // slots in pages not yet loaded
	dict      *values

	compressed []byte
	page       []byte
	levels     rle.Decoder
	indices    []uint32

	rep, def []uint32
	vals     values
	slot     int
	slots    int
	valIdx   int
}

// NewCursor returns a cursor reading the column chunk described by meta from
// r, which must start at the first page of the chunk.
func NewCursor(leaf *Leaf, meta *format.ColumnMetaData, r io.Reader, observe PageObserver) *Cursor {
	c := &Cursor{
		leaf:      leaf,
		meta:      meta,
		r:         bufio.NewReader(r),
		observe:   observe,
		remaining: meta.NumValues,
	}
	c.decoder = thrift.NewDecoder(c.protocol.NewReader(c.r))
	return c
}

// Peek returns the levels of the next slot without consuming it.
func (c *Cursor) Peek() (rep, def uint16, err error) {
	if err := c.ensure(); err != nil {
		return 0, 0, err
	}
	return c.repAt(c.slot), c.defAt(c.slot), nil
}

// Next consumes the next slot, appending its value or a null to b.
func (c *Cursor) Next(b columnar.Builder) error {
	if err := c.ensure(); err != nil {
		return err
	}
	if c.defAt(c.slot) == c.leaf.MaxDefine {
		if c.valIdx >= c.vals.len(c.leaf.Physical) {
			return errdefs.Formatf("column %s: page has fewer values than defined slots", c.leaf.pathString())
		}
		c.leaf.convert(b, &c.vals, c.valIdx)
		c.valIdx++
	} else {
		b.AppendNull()
	}
	c.slot++
	return nil
}

// Skip consumes the next slot without producing a value.
func (c *Cursor) Skip() error {
	if err := c.ensure(); err != nil {
		return err
	}
	if c.defAt(c.slot) == c.leaf.MaxDefine {
		c.valIdx++
	}
	c.slot++
	return nil
}

func (c *Cursor) repAt(i int) uint16 {
	if c.rep == nil {
		return 0
	}
	return uint16(c.rep[i])
}

func (c *Cursor) defAt(i int) uint16 {
	if c.def == nil {
		return c.leaf.MaxDefine
	}
	return uint16(c.def[i])
}

// ensure loads pages until the cursor points at an unread slot.
func (c *Cursor) ensure() error {
	for c.slot >= c.slots {
		if c.remaining <= 0 {
			return errdefs.Formatf("column %s: read past the end of the column chunk", c.leaf.pathString())
		}
		if err := c.readPage(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cursor) readPage() error {
	var header format.PageHeader
	if err := c.decoder.Decode(&header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errdefs.WrapFormat(err, "column "+c.leaf.pathString()+": truncated column chunk")
		}
		var ioErr *errdefs.IOError
		if errors.As(err, &ioErr) {
			return err
		}
		return errdefs.WrapFormat(err, "decoding page header")
	}
	if header.CompressedPageSize < 0 || header.UncompressedPageSize < 0 {
		return errdefs.Formatf("column %s: negative page size", c.leaf.pathString())
	}

	c.compressed = grow(c.compressed, int(header.CompressedPageSize))
	if _, err := io.ReadFull(c.r, c.compressed); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errdefs.WrapFormat(err, "column "+c.leaf.pathString()+": truncated page")
		}
		return errdefs.WrapIO("read page", err)
	}
	if header.CRC != 0 && int32(crc32.ChecksumIEEE(c.compressed)) != header.CRC {
		return errdefs.Formatf("column %s: page checksum mismatch", c.leaf.pathString())
	}

	page, err := compress.Decompress(c.meta.Codec, c.page[:0], c.compressed, int(header.UncompressedPageSize))
	if err != nil {
		return errdefs.WrapFormat(err, "column "+c.leaf.pathString())
	}
	c.page = page
	if c.observe != nil {
		c.observe(header.Type, int(header.CompressedPageSize), int(header.UncompressedPageSize))
	}

	switch header.Type {
	case format.DictionaryPage:
		return c.readDictionaryPage(&header)
	case format.DataPage:
		return c.readDataPage(&header)
	case format.IndexPage:
		return nil
	default:
		return errdefs.Formatf("column %s: unsupported page type %s", c.leaf.pathString(), header.Type)
	}
}

func (c *Cursor) readDictionaryPage(header *format.PageHeader) error {
	h := header.DictionaryPageHeader
	if h == nil {
		return errdefs.Formatf("column %s: dictionary page without header", c.leaf.pathString())
	}
	if c.dict != nil {
		return errdefs.Formatf("column %s: more than one dictionary page", c.leaf.pathString())
	}
	if h.Encoding != format.Plain && h.Encoding != format.PlainDictionary {
		return errdefs.Formatf("column %s: unsupported dictionary encoding %s", c.leaf.pathString(), h.Encoding)
	}
	if h.NumValues < 0 {
		return errdefs.Formatf("column %s: negative dictionary size", c.leaf.pathString())
	}

	// Dictionary values outlive the page buffer.
	data := append([]byte(nil), c.page...)
	c.dict = new(values)
	return decodePlain(c.dict, c.leaf.Physical, c.leaf.typeLength(), data, int(h.NumValues))
}

func (c *Cursor) readDataPage(header *format.PageHeader) error {
	h := header.DataPageHeader
	if h == nil {
		return errdefs.Formatf("column %s: data page without header", c.leaf.pathString())
	}
	n := int(h.NumValues)
	if n < 0 || int64(n) > c.remaining {
		return errdefs.Formatf("column %s: page holds %d values, %d left in chunk", c.leaf.pathString(), n, c.remaining)
	}

	data := c.page
	var err error
	if c.rep, data, err = c.readLevels(c.rep, data, h.RepetitionLevelEncoding, c.leaf.MaxRepeat, n); err != nil {
		return err
	}
	if c.def, data, err = c.readLevels(c.def, data, h.DefinitionLevelEncoding, c.leaf.MaxDefine, n); err != nil {
		return err
	}

	defined := n
	if c.def != nil {
		defined = 0
		for _, d := range c.def {
			if uint16(d) == c.leaf.MaxDefine {
				defined++
			}
		}
	}

	c.vals.reset()
	switch h.Encoding {
	case format.Plain:
		// The page buffer is reused for the next page, so byte values are
		// copied.
		if c.leaf.Physical == format.ByteArray || c.leaf.Physical == format.FixedLenByteArray {
			data = append([]byte(nil), data...)
		}
		err = decodePlain(&c.vals, c.leaf.Physical, c.leaf.typeLength(), data, defined)
	case format.PlainDictionary, format.RLEDictionary:
		err = c.readIndices(data, defined)
	default:
		err = errdefs.Formatf("column %s: unsupported encoding %s", c.leaf.pathString(), h.Encoding)
	}
	if err != nil {
		return err
	}

	c.remaining -= int64(n)
	c.slot, c.slots, c.valIdx = 0, n, 0
	return nil
}

func (c *Cursor) readIndices(data []byte, n int) error {
	if c.dict == nil {
		return errdefs.Formatf("column %s: dictionary-encoded page without dictionary", c.leaf.pathString())
	}
	if n == 0 {
		return nil
	}
	if len(data) == 0 {
		return errdefs.Formatf("column %s: missing dictionary index bit width", c.leaf.pathString())
	}
	bitWidth := int(data[0])
	if bitWidth > 32 {
		return errdefs.Formatf("column %s: invalid dictionary index bit width %d", c.leaf.pathString(), bitWidth)
	}

	c.indices = grow32(c.indices, n)
	c.levels.Reset(data[1:], bitWidth)
	if _, err := c.levels.Decode(c.indices); err != nil {
		return errdefs.WrapFormat(err, "column "+c.leaf.pathString()+": decoding dictionary indices")
	}
	return gather(&c.vals, c.dict, c.leaf.Physical, c.indices)
}

// readLevels decodes n levels from the front of data and returns them along
// with the remaining data. Columns with a zero max level have no level
// section and return nil levels.
func (c *Cursor) readLevels(dst []uint32, data []byte, enc format.Encoding, maxLevel uint16, n int) ([]uint32, []byte, error) {
	if maxLevel == 0 {
		return nil, data, nil
	}
	if enc != format.RLE {
		return nil, nil, errdefs.Formatf("column %s: unsupported level encoding %s", c.leaf.pathString(), enc)
	}
	if len(data) < 4 {
		return nil, nil, errdefs.Formatf("column %s: truncated level section", c.leaf.pathString())
	}
	size := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if size > len(data) {
		return nil, nil, errdefs.Formatf("column %s: level section of %d bytes exceeds page", c.leaf.pathString(), size)
	}

	dst = grow32(dst, n)
	c.levels.Reset(data[:size], rle.BitWidth(uint64(maxLevel)))
	if _, err := c.levels.Decode(dst); err != nil {
		return nil, nil, errdefs.WrapFormat(err, "column "+c.leaf.pathString()+": decoding levels")
	}
	for _, l := range dst {
		if l > uint32(maxLevel) {
			return nil, nil, errdefs.Formatf("column %s: level %d exceeds maximum %d", c.leaf.pathString(), l, maxLevel)
		}
	}
	return dst, data[size:], nil
}

func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

func grow32(buf []uint32, n int) []uint32 {
	if cap(buf) < n {
		return make([]uint32, n)
	}
	return buf[:n]
}
