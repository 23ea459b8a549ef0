package parquet

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/parquet-go/parquet-go/encoding/thrift"
	"github.com/parquet-go/parquet-go/format"
	"github.com/pkg/errors"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/column"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/transport"
)

// minFileSize is the size of a file holding a leading magic, an empty footer
// length and a trailing magic.
const minFileSize = 12

// Reader decodes the row groups of a Parquet file. Each scan keeps its own
// state in a [ScanState], so scans may run concurrently. Columns must not be
// called concurrently with InitializeScan.
type Reader struct {
	cfg     ReaderConfig
	file    File
	logger  log.Logger
	metrics *readerMetrics

	meta format.FileMetaData
	tree *column.ReaderTree

	projection []int
	schema     columnar.Schema
}

// Open reads the footer of f and derives the schema of the file. Files that
// are not valid Parquet return an *errdefs.FormatError; failures of f
// return an *errdefs.IOError.
func Open(ctx context.Context, f File, cfg ReaderConfig, opts ...Option) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid reader config")
	}
	o := buildOptions(opts)

	metrics := newReaderMetrics()
	if err := metrics.register(o.reg); err != nil {
		return nil, errors.Wrap(err, "registering reader metrics")
	}

	r := &Reader{cfg: cfg, logger: o.logger, metrics: metrics}

	tr, err := r.newTransport(ctx, f)
	if err != nil {
		return nil, err
	}
	// Later scans reuse the size instead of asking f again.
	r.file = sizedFile{File: f, size: tr.Size()}

	if err := r.readFooter(ctx, tr); err != nil {
		return nil, err
	}

	tree, err := column.BuildReaders(r.meta.Schema)
	if err != nil {
		return nil, err
	}
	for i, rg := range r.meta.RowGroups {
		if len(rg.Columns) != len(tree.Leaves) {
			return nil, errdefs.Formatf("row group %d has %d column chunks, schema has %d columns", i, len(rg.Columns), len(tree.Leaves))
		}
	}
	r.tree = tree
	r.projection = make([]int, len(tree.Readers))
	for i := range r.projection {
		r.projection[i] = i
	}
	r.schema = tree.Schema

	level.Debug(r.logger).Log(
		"msg", "opened file",
		"size", tr.Size(),
		"row_groups", len(r.meta.RowGroups),
		"rows", r.meta.NumRows,
		"created_by", r.meta.CreatedBy,
	)
	return r, nil
}

func (r *Reader) newTransport(ctx context.Context, f File) (*transport.Transport, error) {
	return transport.New(ctx, f, transport.Config{
		MergeGap:           int64(r.cfg.MergeGap),
		FallbackBufferSize: int64(r.cfg.FallbackBufferSize),
	}, func(n int64) {
		r.metrics.ioRequests.Inc()
		r.metrics.ioBytes.Add(float64(n))
	})
}

func (r *Reader) readFooter(ctx context.Context, tr *transport.Transport) error {
	size := tr.Size()
	if size < minFileSize {
		return errdefs.Formatf("file of %d bytes is too small to be a parquet file", size)
	}

	var tail [footerSize]byte
	if _, err := tr.ReadAt(ctx, tail[:], size-footerSize); err != nil {
		return err
	}
	switch {
	case bytes.Equal(tail[4:], magicEncrypted):
		return errdefs.Formatf("file is encrypted")
	case !bytes.Equal(tail[4:], magic):
		return errdefs.Formatf("no magic bytes found at end of file")
	}

	footerLen := int64(binary.LittleEndian.Uint32(tail[:4]))
	if footerLen == 0 || footerLen > size-minFileSize {
		return errdefs.Formatf("footer length %d is invalid for file of %d bytes", footerLen, size)
	}

	footer := make([]byte, footerLen)
	if _, err := tr.ReadAt(ctx, footer, size-footerSize-footerLen); err != nil {
		return err
	}
	if err := thrift.Unmarshal(new(thrift.CompactProtocol), footer, &r.meta); err != nil {
		return errdefs.WrapFormat(err, "decoding file metadata")
	}
	return nil
}

// Schema returns the schema of the file.
func (r *Reader) Schema() columnar.Schema { return r.tree.Schema }

// NumRows returns the number of rows in the file.
func (r *Reader) NumRows() int64 { return r.meta.NumRows }

// NumRowGroups returns the number of row groups in the file.
func (r *Reader) NumRowGroups() int { return len(r.meta.RowGroups) }

// Metadata returns the decoded footer of the file. The result must not be
// modified.
func (r *Reader) Metadata() *format.FileMetaData { return &r.meta }

// Columns restricts scans started afterwards to the top-level columns with
// the given indexes, in the given order. Column chunks of other columns are
// never fetched. Calling Columns without arguments selects every column.
func (r *Reader) Columns(idx ...int) error {
	if len(idx) == 0 {
		idx = make([]int, len(r.tree.Readers))
		for i := range idx {
			idx[i] = i
		}
	}

	fields := make([]columnar.Field, 0, len(idx))
	for _, i := range idx {
		if i < 0 || i >= len(r.tree.Readers) {
			return errors.Errorf("column index %d out of range [0, %d)", i, len(r.tree.Readers))
		}
		fields = append(fields, r.tree.Schema.Fields[i])
	}
	r.projection = idx
	r.schema = columnar.NewSchema(fields...)
	return nil
}

// ScanState tracks the progress of a scan. It is not safe for concurrent
// use.
type ScanState struct {
	ctx        context.Context // ctx of the current call to Scan
	tr         *transport.Transport
	projection []int
	schema     columnar.Schema

	rowGroups []int
	next      int   // index of the next entry in rowGroups
	rowsLeft  int64 // rows left in the current row group
	cursors   cursorSet
}

func (s *ScanState) context() context.Context { return s.ctx }

// InitializeScan prepares a scan over the given row groups, in order. A nil
// rowGroups scans every row group of the file.
func (r *Reader) InitializeScan(ctx context.Context, rowGroups []int) (*ScanState, error) {
	if rowGroups == nil {
		rowGroups = make([]int, len(r.meta.RowGroups))
		for i := range rowGroups {
			rowGroups[i] = i
		}
	}
	for _, idx := range rowGroups {
		if idx < 0 || idx >= len(r.meta.RowGroups) {
			return nil, errors.Errorf("row group %d out of range [0, %d)", idx, len(r.meta.RowGroups))
		}
	}

	tr, err := r.newTransport(ctx, r.file)
	if err != nil {
		return nil, err
	}
	return &ScanState{
		tr:         tr,
		projection: r.projection,
		schema:     r.schema,
		rowGroups:  rowGroups,
		cursors:    make(cursorSet, len(r.tree.Leaves)),
	}, nil
}

// Scan returns the next batch of at most BatchSize rows of the projected
// columns. It returns io.EOF once every selected row group is exhausted.
func (r *Reader) Scan(ctx context.Context, state *ScanState) (columnar.RecordBatch, error) {
	if err := ctx.Err(); err != nil {
		return columnar.RecordBatch{}, err
	}
	state.ctx = ctx
	defer func() { state.ctx = nil }()

	for state.rowsLeft == 0 {
		if state.next >= len(state.rowGroups) {
			state.tr.ClearPrefetch()
			return columnar.RecordBatch{}, io.EOF
		}
		if err := r.enterRowGroup(ctx, state, state.rowGroups[state.next]); err != nil {
			return columnar.RecordBatch{}, err
		}
		state.next++
	}

	n := min(state.rowsLeft, int64(r.cfg.BatchSize))
	arrs := make([]columnar.Array, len(state.projection))
	for i, col := range state.projection {
		cr := r.tree.Readers[col]
		b := columnar.NewBuilder(cr.Type())
		for range n {
			if err := cr.Read(state.cursors, b); err != nil {
				return columnar.RecordBatch{}, errors.Wrapf(err, "reading column %s", r.tree.Schema.Fields[col].Name)
			}
		}
		arrs[i] = b.Build()
	}
	state.rowsLeft -= n
	r.metrics.rowsScanned.Add(float64(n))

	return columnar.NewRecordBatch(state.schema, n, arrs), nil
}

// enterRowGroup prefetches the projected column chunks of row group idx and
// positions a cursor at the start of each.
func (r *Reader) enterRowGroup(ctx context.Context, state *ScanState, idx int) error {
	rg := &r.meta.RowGroups[idx]
	state.tr.ClearPrefetch()
	clear(state.cursors)

	var (
		spanStart int64 = math.MaxInt64
		spanEnd   int64
		toScan    int64
	)
	for i := range rg.Columns {
		meta := &rg.Columns[i].MetaData
		start := chunkStart(meta)
		spanStart = min(spanStart, start)
		spanEnd = max(spanEnd, start+meta.TotalCompressedSize)
	}
	leaves := r.projectedLeaves(state.projection)
	for _, leaf := range leaves {
		toScan += rg.Columns[leaf].MetaData.TotalCompressedSize
	}

	span := spanEnd - spanStart
	if span <= 0 && rg.NumRows > 0 {
		return errdefs.Formatf("row group %d has an empty byte span", idx)
	}
	if toScan > span {
		return errdefs.Formatf("row group %d: sum of total compressed bytes of columns seems incorrect", idx)
	}

	if r.cfg.Prefetch && toScan > 0 {
		if float64(toScan)/float64(span) > r.cfg.WholeGroupPrefetchRatio {
			if err := state.tr.Prefetch(ctx, spanStart, span); err != nil {
				return err
			}
		} else {
			for _, leaf := range leaves {
				meta := &rg.Columns[leaf].MetaData
				state.tr.RegisterPrefetch(chunkStart(meta), meta.TotalCompressedSize, true)
			}
			state.tr.FinalizeRegistration()
			if err := state.tr.PrefetchRegistered(ctx); err != nil {
				return err
			}
		}
	}

	observe := func(pageType format.PageType, _, _ int) {
		r.metrics.pages.WithLabelValues(pageType.String()).Inc()
	}
	for _, leaf := range leaves {
		meta := &rg.Columns[leaf].MetaData
		section := state.tr.Section(state.context, chunkStart(meta), meta.TotalCompressedSize)
		state.cursors[leaf] = column.NewCursor(r.tree.Leaves[leaf], meta, section, observe)
	}
	state.rowsLeft = rg.NumRows

	level.Debug(r.logger).Log(
		"msg", "entered row group",
		"row_group", idx,
		"rows", rg.NumRows,
		"span", span,
		"scan_bytes", toScan,
	)
	return nil
}

func (r *Reader) projectedLeaves(projection []int) []int {
	var leaves []int
	for _, col := range projection {
		leaves = append(leaves, r.tree.Readers[col].Leaves()...)
	}
	return leaves
}

// chunkStart returns the offset of the first page of a column chunk.
func chunkStart(meta *format.ColumnMetaData) int64 {
	if meta.DictionaryPageOffset > 0 && meta.DictionaryPageOffset < meta.DataPageOffset {
		return meta.DictionaryPageOffset
	}
	return meta.DataPageOffset
}

type cursorSet []*column.Cursor

func (cs cursorSet) Cursor(leaf int) *column.Cursor { return cs[leaf] }

// sizedFile caches the size of a File.
type sizedFile struct {
	File
	size int64
}

func (f sizedFile) Size(context.Context) (int64, error) { return f.size, nil }
