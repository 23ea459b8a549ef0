package column

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"slices"

	"github.com/parquet-go/parquet-go/encoding/thrift"
	"github.com/parquet-go/parquet-go/format"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/memory"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/compress"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/rle"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/stats"
)

// pageInfo is the plan for one data page, computed during Prepare.
type pageInfo struct {
	offset        int // index of the first slot of the page
	rowCount      int // number of slots in the page
	emptyCount    int // slots with no element in the column's array
	estimatedSize int
}

// pageWrite holds a data page while it is being written.
type pageWrite struct {
	header format.PageHeader
	buf    []byte

	writeCount    int // elements consumed, starting at emptyCount
	maxWriteCount int

	bits    memory.Bitmap // boolean values of the page
	indices []uint32      // dictionary indices of the page

	compressed []byte
}

// leafState is the per-row-group state of a leaf column.
type leafState struct {
	chunk   *format.ColumnChunk
	stats   *stats.Stats
	pages   []pageInfo
	writes  []pageWrite
	current int // 1-based index of the page being written

	// Dictionary analysis of binary columns.
	dict           map[string]uint32
	dictValues     [][]byte
	estimatedPlain int
	estimatedDict  int
	estimatedRle   int
	keyBitWidth    int
}

func (ls *leafState) dictionaryEncoded() bool { return ls.keyBitWidth != 0 }

// leafWriter writes one column chunk per row group.
type leafWriter struct {
	base
	leafIdx int
	ptype   format.Type
	enc     valueEncoder
	opts    Options

	protocol thrift.CompactProtocol
}

var _ Writer = (*leafWriter)(nil)

func (w *leafWriter) initializeWriteState(s *States) {
	chunk := &s.RowGroup.Columns[w.leafIdx]
	chunk.MetaData = format.ColumnMetaData{
		Type:         w.ptype,
		PathInSchema: w.path,
		Codec:        w.opts.Codec,
	}

	st, err := stats.New(w.enc.statsKind(), stats.Options{
		MaxBytesSize:  w.opts.MaxStringStatisticsSize,
		DistinctCount: w.opts.DistinctCount,
	})
	if err != nil {
		// Only fails for invalid sketch precision, which is constant.
		panic(fmt.Sprintf("column: creating statistics: %v", err))
	}

	s.get(w.id).leaf = &leafState{
		chunk: chunk,
		stats: st,
		pages: []pageInfo{{}},
	}
}

func (w *leafWriter) binary() bool {
	_, ok := w.enc.(*binaryEncoder)
	return ok
}

func (w *leafWriter) HasAnalyze() bool { return w.binary() }

// Analyze builds the candidate dictionary of a binary column and estimates
// the size of its plain and dictionary encodings.
func (w *leafWriter) Analyze(s *States, arr columnar.Array) {
	if !w.binary() {
		return
	}
	ls := s.get(w.id).leaf
	if ls.dict == nil {
		ls.dict = make(map[string]uint32)
	}

	var (
		bin       = arr.(*columnar.Binary)
		lastIndex = -1
		runLen    int
		runCount  int
	)
	for i := range bin.Len() {
		if bin.IsNull(i) {
			continue
		}
		runLen++
		v := bin.Value(i)
		ls.estimatedPlain += len(v) + stringLengthSize

		index, found := ls.dict[string(v)]
		if !found {
			index = uint32(len(ls.dictValues))
			ls.dict[string(v)] = index
			ls.dictValues = append(ls.dictValues, slices.Clone(v))
			ls.estimatedDict += len(v) + maxDictionaryKeySize
		}
		if lastIndex != int(index) {
			ls.estimatedRle += rle.UvarintLen(uint64(runLen))
			runLen = 0
			runCount++
			lastIndex = int(index)
		}
	}
	ls.estimatedRle += maxDictionaryKeySize * runCount
}

// FinalizeAnalyze decides between dictionary and plain encoding.
func (w *leafWriter) FinalizeAnalyze(s *States) {
	if !w.binary() {
		return
	}
	ls := s.get(w.id).leaf
	if ls.estimatedDict > w.opts.MaxDictionaryPageSize || ls.estimatedRle+ls.estimatedDict > ls.estimatedPlain {
		ls.dict, ls.dictValues = nil, nil
		ls.keyBitWidth = 0
		return
	}
	ls.keyBitWidth = rle.BitWidth(uint64(len(ls.dictValues)))
}

func (w *leafWriter) Prepare(s *States, parent *State, arr columnar.Array) error {
	var (
		st        = s.get(w.id)
		ls        = st.leaf
		parentIdx = len(st.DefLevels)
		vcount    = arr.Len()
	)
	if parent != nil {
		vcount = len(parent.DefLevels) - len(st.DefLevels)
	}

	w.handleRepeatLevels(st, parent, vcount)
	nulls, err := w.handleDefineLevels(st, parent, arr, w.maxDefine, w.maxDefine-1)
	if err != nil {
		return err
	}
	ls.stats.AddNulls(nulls)

	var vectorIdx int
	for i := range vcount {
		page := &ls.pages[len(ls.pages)-1]
		page.rowCount++
		ls.chunk.MetaData.NumValues++
		if parent != nil && parent.IsEmpty.Get(parentIdx+i) {
			page.emptyCount++
			continue
		}
		if !arr.IsNull(vectorIdx) {
			if err := w.enc.validate(w.pathString(), arr, vectorIdx); err != nil {
				return err
			}
			page.estimatedSize += w.rowSize(ls, arr, vectorIdx)
			if page.estimatedSize >= w.opts.MaxPageSize {
				ls.pages = append(ls.pages, pageInfo{offset: page.offset + page.rowCount})
			}
		}
		vectorIdx++
	}
	return nil
}

func (w *leafWriter) rowSize(ls *leafState, arr columnar.Array, i int) int {
	if ls.dictionaryEncoded() {
		return (ls.keyBitWidth + 7) / 8
	}
	return w.enc.rowSize(arr, i)
}

func (w *leafWriter) encoding(ls *leafState) format.Encoding {
	if ls.dictionaryEncoded() {
		return format.PlainDictionary
	}
	return format.Plain
}

// BeginWrite allocates a buffer per planned page and writes the levels of
// the first page.
func (w *leafWriter) BeginWrite(s *States) error {
	ls := s.get(w.id).leaf

	// Only the last page can be empty: a new page is started after a value
	// that filled the previous one.
	if n := len(ls.pages); n > 0 && ls.pages[n-1].rowCount == 0 {
		ls.pages = ls.pages[:n-1]
	}

	ls.writes = make([]pageWrite, len(ls.pages))
	for i, page := range ls.pages {
		ls.writes[i] = pageWrite{
			header: format.PageHeader{
				Type: format.DataPage,
				DataPageHeader: &format.DataPageHeader{
					NumValues:               int32(page.rowCount),
					Encoding:                w.encoding(ls),
					DefinitionLevelEncoding: format.RLE,
					RepetitionLevelEncoding: format.RLE,
				},
			},
			writeCount:    page.emptyCount,
			maxWriteCount: page.rowCount,
		}
	}
	return w.nextPage(s.get(w.id))
}

func (w *leafWriter) Write(s *States, arr columnar.Array) error {
	var (
		st        = s.get(w.id)
		ls        = st.leaf
		remaining = arr.Len()
		offset    int
	)
	for remaining > 0 {
		if ls.current < 1 || ls.current > len(ls.writes) {
			return fmt.Errorf("column %s: %d values left after the last page", w.pathString(), remaining)
		}
		page := &ls.writes[ls.current-1]
		count := min(remaining, page.maxWriteCount-page.writeCount)

		if ls.dictionaryEncoded() {
			w.writeIndices(page, ls, arr, offset, offset+count)
		} else {
			w.enc.writeValues(page, ls.stats, arr, offset, offset+count)
		}

		page.writeCount += count
		if page.writeCount == page.maxWriteCount {
			if err := w.nextPage(st); err != nil {
				return err
			}
		}
		offset += count
		remaining -= count
	}
	return nil
}

func (w *leafWriter) writeIndices(page *pageWrite, ls *leafState, arr columnar.Array, start, end int) {
	bin := arr.(*columnar.Binary)
	for i := start; i < end; i++ {
		if bin.IsNull(i) {
			continue
		}
		page.indices = append(page.indices, ls.dict[string(bin.Value(i))])
	}
}

// nextPage flushes the current page and starts the next one by writing its
// repetition and definition levels.
func (w *leafWriter) nextPage(st *State) error {
	ls := st.leaf
	if ls.current > 0 {
		if err := w.flushPage(ls); err != nil {
			return err
		}
	}
	if ls.current >= len(ls.writes) {
		ls.current = len(ls.writes) + 1
		return nil
	}

	page := ls.pages[ls.current]
	pw := &ls.writes[ls.current]
	ls.current++

	pw.buf = w.appendLevels(pw.buf, st.RepLevels, w.maxRepeat, page)
	pw.buf = w.appendLevels(pw.buf, st.DefLevels, w.maxDefine, page)
	return nil
}

func (w *leafWriter) appendLevels(dst []byte, levels []uint16, maxLevel uint16, page pageInfo) []byte {
	if len(levels) == 0 || maxLevel == 0 || page.rowCount == 0 {
		return dst
	}
	return rle.AppendLevels(dst, levels[page.offset:page.offset+page.rowCount], maxLevel)
}

// flushPage finishes the current page and compresses it.
func (w *leafWriter) flushPage(ls *leafState) error {
	if ls.current > len(ls.writes) {
		return nil
	}
	pw := &ls.writes[ls.current-1]

	if ls.dictionaryEncoded() {
		pw.buf = append(pw.buf, byte(ls.keyBitWidth))
		pw.buf = rle.Append(pw.buf, pw.indices, ls.keyBitWidth)
		pw.indices = nil
	} else {
		w.enc.flushPage(pw)
	}

	return w.compressPage(pw)
}

func (w *leafWriter) compressPage(pw *pageWrite) error {
	if len(pw.buf) > math.MaxInt32 {
		return &errdefs.SizeLimitError{Column: w.pathString(), What: "uncompressed page", Size: len(pw.buf), Limit: math.MaxInt32}
	}
	compressed, err := compress.Compress(w.opts.Codec, nil, pw.buf)
	if err != nil {
		return fmt.Errorf("column %s: %w", w.pathString(), err)
	}
	if len(compressed) > math.MaxInt32 {
		return &errdefs.SizeLimitError{Column: w.pathString(), What: "compressed page", Size: len(compressed), Limit: math.MaxInt32}
	}

	pw.header.UncompressedPageSize = int32(len(pw.buf))
	pw.header.CompressedPageSize = int32(len(compressed))
	pw.header.CRC = int32(crc32.ChecksumIEEE(compressed))
	pw.compressed = compressed
	pw.buf = nil
	return nil
}

// dictionaryPage builds the PLAIN dictionary page, ordered by index, and
// records the dictionary values in the column statistics.
func (w *leafWriter) dictionaryPage(ls *leafState) (pageWrite, error) {
	var buf []byte
	for _, v := range ls.dictValues {
		ls.stats.UpdateBytes(v)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	pw := pageWrite{
		header: format.PageHeader{
			Type: format.DictionaryPage,
			DictionaryPageHeader: &format.DictionaryPageHeader{
				NumValues: int32(len(ls.dictValues)),
				Encoding:  format.Plain,
				IsSorted:  false,
			},
		},
		buf: buf,
	}
	return pw, w.compressPage(&pw)
}

// FinalizeWrite flushes the last page and writes the dictionary page, if
// any, followed by every data page.
func (w *leafWriter) FinalizeWrite(s *States, out Sink) error {
	ls := s.get(w.id).leaf
	meta := &ls.chunk.MetaData

	if ls.current > 0 {
		if err := w.flushPage(ls); err != nil {
			return err
		}
		ls.current = len(ls.writes) + 1
	}

	var (
		start             = out.Offset()
		totalUncompressed int64
		encodings         []format.Encoding
	)
	writePage := func(pw *pageWrite) error {
		header, err := thrift.Marshal(&w.protocol, &pw.header)
		if err != nil {
			return fmt.Errorf("column %s: encoding page header: %w", w.pathString(), err)
		}
		if _, err := out.Write(header); err != nil {
			return errdefs.WrapIO("write page header", err)
		}
		if _, err := out.Write(pw.compressed); err != nil {
			return errdefs.WrapIO("write page", err)
		}
		totalUncompressed += int64(len(header)) + int64(pw.header.UncompressedPageSize)
		if w.opts.ObservePage != nil {
			w.opts.ObservePage(pw.header.Type, int(pw.header.CompressedPageSize), int(pw.header.UncompressedPageSize))
		}
		pw.compressed = nil
		return nil
	}

	if ls.dictionaryEncoded() {
		dictPage, err := w.dictionaryPage(ls)
		if err != nil {
			return err
		}
		ls.stats.SetDistinctCount(len(ls.dictValues))
		meta.DictionaryPageOffset = start
		if err := writePage(&dictPage); err != nil {
			return err
		}
		encodings = append(encodings, format.Plain)
	}

	meta.DataPageOffset = out.Offset()
	for i := range ls.writes {
		if err := writePage(&ls.writes[i]); err != nil {
			return err
		}
		if enc := ls.writes[i].header.DataPageHeader.Encoding; !slices.Contains(encodings, enc) {
			encodings = append(encodings, enc)
		}
	}

	meta.Encoding = encodings
	meta.Statistics = ls.stats.Encode(w.maxRepeat == 0)
	meta.TotalUncompressedSize = totalUncompressed
	meta.TotalCompressedSize = out.Offset() - start
	ls.chunk.FileOffset = start
	return nil
}
