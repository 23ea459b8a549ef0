// Package parquet reads and writes Parquet files from and to columnar record
// batches.
//
// A [Writer] appends one row group per call to [Writer.Flush] and writes the
// file footer on [Writer.Finalize]. A [Reader] parses the footer of a [File]
// and scans the selected row groups back into record batches.
package parquet

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/parquet-go/parquet-go/encoding/thrift"
	"github.com/parquet-go/parquet-go/format"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/column"
	"github.com/grafana/parquetcodec/pkg/parquet/internal/compress"
)

var (
	magic          = []byte("PAR1")
	magicEncrypted = []byte("PARE")
)

// footerSize is the size of the trailing footer length and magic.
const footerSize = 8

// ErrFinalized is returned by calls on a Writer after Finalize.
var ErrFinalized = errors.New("writer is finalized")

// Writer encodes record batches of a fixed schema into a Parquet file.
//
// Flush and FlushAll may be called concurrently. Once any call fails, the
// Writer is poisoned and every later call returns the first error.
type Writer struct {
	cfg     WriterConfig
	schema  columnar.Schema
	codec   format.CompressionCodec
	logger  log.Logger
	metrics *writerMetrics
	tree    *column.Tree

	mut      sync.Mutex
	out      *countingWriter
	meta     format.FileMetaData
	protocol thrift.CompactProtocol

	poisoned  atomic.Error
	finalized atomic.Bool
}

// NewWriter creates a Writer for schema that writes to w. The leading magic
// is written immediately. Fields whose type has no Parquet representation
// return an *errdefs.UnsupportedTypeError.
func NewWriter(w io.Writer, schema columnar.Schema, cfg WriterConfig, opts ...Option) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid writer config")
	}
	codec, err := compress.ParseCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	metrics := newWriterMetrics()
	if err := metrics.register(o.reg); err != nil {
		return nil, errors.Wrap(err, "registering writer metrics")
	}

	codecName := codec.String()
	tree, err := column.NewTree(cfg.SchemaName, schema.Fields, column.Options{
		Codec:                   codec,
		MaxPageSize:             int(cfg.MaxPageSize),
		MaxDictionaryPageSize:   int(cfg.MaxDictionaryPageSize),
		MaxStringStatisticsSize: int(cfg.MaxStringStatisticsSize),
		DistinctCount:           cfg.DistinctCountSketch,
		ObservePage: func(_ format.PageType, compressedSize, _ int) {
			metrics.pages.WithLabelValues(codecName).Inc()
			metrics.pageSize.Observe(float64(compressedSize))
		},
	})
	if err != nil {
		return nil, err
	}

	out := &countingWriter{w: w}
	if _, err := out.Write(magic); err != nil {
		return nil, errdefs.WrapIO("write magic", err)
	}

	return &Writer{
		cfg:     cfg,
		schema:  schema,
		codec:   codec,
		logger:  o.logger,
		metrics: metrics,
		tree:    tree,
		out:     out,
		meta: format.FileMetaData{
			Version:   1,
			Schema:    tree.Schema,
			CreatedBy: cfg.CreatedBy,
		},
	}, nil
}

// Schema returns the schema of batches accepted by the Writer.
func (w *Writer) Schema() columnar.Schema { return w.schema }

// Flush reads src until io.EOF and appends its rows as one row group. A
// source without rows appends nothing.
func (w *Writer) Flush(ctx context.Context, src columnar.BatchSource) error {
	if err := w.check(); err != nil {
		return err
	}
	rg, err := w.prepareRowGroup(ctx, src)
	if err != nil {
		return w.poison(err)
	}
	if rg == nil {
		return nil
	}
	return w.flushRowGroup(rg)
}

// FlushAll prepares one row group per source concurrently, bounded by
// RowGroupConcurrency, and appends them in the order of sources.
func (w *Writer) FlushAll(ctx context.Context, sources ...columnar.BatchSource) error {
	if err := w.check(); err != nil {
		return err
	}

	prepared := make([]*rowGroup, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.RowGroupConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			var err error
			prepared[i], err = w.prepareRowGroup(ctx, src)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return w.poison(err)
	}

	for _, rg := range prepared {
		if rg == nil {
			continue
		}
		if err := w.flushRowGroup(rg); err != nil {
			return err
		}
	}
	return nil
}

// rowGroup is a row group whose pages are encoded but not yet written.
type rowGroup struct {
	states *column.States
	rows   int64
}

// prepareRowGroup runs every column up to and including Write. It touches no
// Writer state, so several row groups may be prepared at once.
func (w *Writer) prepareRowGroup(ctx context.Context, src columnar.BatchSource) (*rowGroup, error) {
	batches, err := columnar.ReadAll(ctx, src, w.cfg.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "reading batches")
	}

	var rows int64
	for _, rb := range batches {
		if !rb.Schema().Equal(w.schema) {
			return nil, errors.New("batch schema does not match writer schema")
		}
		rows += rb.NumRows()
	}
	if rows == 0 {
		return nil, nil
	}

	s := w.tree.NewStates()
	for i, cw := range w.tree.Writers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := prepareColumn(s, cw, batches, int64(i)); err != nil {
			return nil, err
		}
	}
	return &rowGroup{states: s, rows: rows}, nil
}

func prepareColumn(s *column.States, cw column.Writer, batches []columnar.RecordBatch, col int64) error {
	if cw.HasAnalyze() {
		for _, rb := range batches {
			cw.Analyze(s, rb.Column(col))
		}
		cw.FinalizeAnalyze(s)
	}
	for _, rb := range batches {
		if err := cw.Prepare(s, nil, rb.Column(col)); err != nil {
			return err
		}
	}
	if err := cw.BeginWrite(s); err != nil {
		return err
	}
	for _, rb := range batches {
		if err := cw.Write(s, rb.Column(col)); err != nil {
			return err
		}
	}
	return nil
}

// flushRowGroup writes the pages of rg and records it in the footer.
func (w *Writer) flushRowGroup(rg *rowGroup) error {
	w.mut.Lock()
	defer w.mut.Unlock()

	if err := w.check(); err != nil {
		return err
	}

	start := w.out.Offset()
	for _, cw := range w.tree.Writers {
		if err := cw.FinalizeWrite(rg.states, w.out); err != nil {
			return w.poison(err)
		}
	}

	md := &rg.states.RowGroup
	var totalBytes int64
	for _, chunk := range md.Columns {
		totalBytes += chunk.MetaData.TotalUncompressedSize
	}
	md.FileOffset = start
	md.NumRows = rg.rows
	md.TotalByteSize = totalBytes
	md.TotalCompressedSize = w.out.Offset() - start
	md.Ordinal = int16(len(w.meta.RowGroups))

	w.meta.RowGroups = append(w.meta.RowGroups, *md)
	w.meta.NumRows += rg.rows

	w.metrics.rowGroups.Inc()
	w.metrics.rows.Add(float64(rg.rows))
	w.metrics.bytesWritten.WithLabelValues(w.codec.String()).Add(float64(md.TotalCompressedSize))
	level.Debug(w.logger).Log(
		"msg", "flushed row group",
		"ordinal", md.Ordinal,
		"rows", rg.rows,
		"bytes", md.TotalCompressedSize,
		"uncompressed_bytes", totalBytes,
	)
	return nil
}

// Finalize writes the file footer. The Writer cannot be used afterwards.
func (w *Writer) Finalize() error {
	w.mut.Lock()
	defer w.mut.Unlock()

	if err := w.check(); err != nil {
		return err
	}

	footer, err := thrift.Marshal(&w.protocol, &w.meta)
	if err != nil {
		return w.poison(errors.Wrap(err, "encoding file metadata"))
	}
	if uint64(len(footer)) > math.MaxUint32 {
		return w.poison(&errdefs.SizeLimitError{What: "file metadata", Size: len(footer), Limit: math.MaxUint32})
	}

	buf := make([]byte, 0, len(footer)+footerSize)
	buf = append(buf, footer...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(footer)))
	buf = append(buf, magic...)
	if _, err := w.out.Write(buf); err != nil {
		return w.poison(errdefs.WrapIO("write footer", err))
	}

	w.finalized.Store(true)
	level.Debug(w.logger).Log(
		"msg", "finalized file",
		"row_groups", len(w.meta.RowGroups),
		"rows", w.meta.NumRows,
		"size", w.out.Offset(),
	)
	return nil
}

func (w *Writer) check() error {
	if err := w.poisoned.Load(); err != nil {
		return err
	}
	if w.finalized.Load() {
		return ErrFinalized
	}
	return nil
}

// poison records err as the Writer's error unless one is already recorded,
// and returns err.
func (w *Writer) poison(err error) error {
	if w.poisoned.Load() == nil {
		w.poisoned.Store(err)
	}
	return err
}

// countingWriter tracks the absolute offset of the next byte written.
type countingWriter struct {
	w      io.Writer
	offset int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.offset += int64(n)
	return n, err
}

func (cw *countingWriter) Offset() int64 { return cw.offset }
