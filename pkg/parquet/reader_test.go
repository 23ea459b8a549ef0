package parquet_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
)

func TestOpen_Errors(t *testing.T) {
	valid := writeFile(t, testWriterConfig(), testSchema, columnar.NewBatchSource(testBatch(0, 10)))

	withTail := func(footerLen uint32, tail string) []byte {
		data := bytes.Clone(valid)
		binary.LittleEndian.PutUint32(data[len(data)-8:], footerLen)
		copy(data[len(data)-4:], tail)
		return data
	}
	footerLen := binary.LittleEndian.Uint32(valid[len(valid)-8:])

	tt := []struct {
		name   string
		data   []byte
		expect string
	}{
		{name: "too small", data: []byte("PAR1PAR1"), expect: "too small"},
		{name: "bad magic", data: withTail(footerLen, "PAR2"), expect: "no magic bytes"},
		{name: "encrypted", data: withTail(footerLen, "PARE"), expect: "encrypted"},
		{name: "zero footer length", data: withTail(0, "PAR1"), expect: "footer length"},
		{name: "oversized footer length", data: withTail(uint32(len(valid)), "PAR1"), expect: "footer length"},
		{
			name: "corrupt footer",
			data: func() []byte {
				data := bytes.Clone(valid)
				start := len(data) - 8 - int(footerLen)
				for i := start; i < len(data)-8; i++ {
					data[i] = 0xff
				}
				return data
			}(),
			expect: "",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parquet.Open(context.Background(), parquet.ReaderAtFile(bytes.NewReader(tc.data), int64(len(tc.data))), testReaderConfig())
			require.True(t, errdefs.IsFormat(err), "expected format error, got %v", err)
			require.ErrorContains(t, err, tc.expect)
		})
	}
}

type failingFile struct {
	parquet.File
	err error
}

func (f failingFile) ReadRange(context.Context, int64, int64) (io.ReadCloser, error) {
	return nil, f.err
}

func TestOpen_IOError(t *testing.T) {
	data := writeFile(t, testWriterConfig(), testSchema, columnar.NewBatchSource(testBatch(0, 10)))
	cause := errors.New("connection reset")
	f := failingFile{File: parquet.ReaderAtFile(bytes.NewReader(data), int64(len(data))), err: cause}

	_, err := parquet.Open(context.Background(), f, testReaderConfig())
	var ioErr *errdefs.IOError
	require.ErrorAs(t, err, &ioErr)
	require.ErrorIs(t, err, cause)
}

func TestReader_Projection(t *testing.T) {
	data := wideFile(t, 5000)
	f := &countingFile{File: parquet.ReaderAtFile(bytes.NewReader(data), int64(len(data)))}

	cfg := testReaderConfig()
	require.NoError(t, cfg.MergeGap.Set("0"))
	r, err := parquet.Open(context.Background(), f, cfg)
	require.NoError(t, err)

	f.reset()
	all := scanRows(t, r, nil)
	allBytes := f.bytes

	require.NoError(t, r.Columns(2, 0))
	f.reset()
	projected := scanRows(t, r, nil)
	require.Less(t, f.bytes, allBytes)

	require.Len(t, projected, len(all))
	for i := range all {
		require.Equal(t, []any{all[i][2], all[i][0]}, projected[i])
	}

	require.Error(t, r.Columns(3))
}

func TestReader_ProjectedBatchSchema(t *testing.T) {
	data := writeFile(t, testWriterConfig(), testSchema, columnar.NewBatchSource(testBatch(0, 10)))
	r := openBytes(t, data, testReaderConfig())
	require.NoError(t, r.Columns(1))

	state, err := r.InitializeScan(context.Background(), nil)
	require.NoError(t, err)
	rb, err := r.Scan(context.Background(), state)
	require.NoError(t, err)
	require.Equal(t, int64(1), rb.NumCols())
	require.Equal(t, "name", rb.Schema().Fields[0].Name)

	// The file schema is unaffected by projection.
	require.Len(t, r.Schema().Fields, 3)
}

// wideSchema has three int64 columns of equal size.
var wideSchema = columnar.NewSchema(
	columnar.Field{Name: "a", Type: columnar.Scalar(columnar.KindInt64), Required: true},
	columnar.Field{Name: "b", Type: columnar.Scalar(columnar.KindInt64), Required: true},
	columnar.Field{Name: "c", Type: columnar.Scalar(columnar.KindInt64), Required: true},
)

func wideFile(t *testing.T, rows int) []byte {
	t.Helper()

	arrs := make([]columnar.Array, 3)
	for c := range arrs {
		b := columnar.NewPrimitiveBuilder[int64](columnar.Scalar(columnar.KindInt64))
		for i := range rows {
			b.Append(int64(i * (c + 1)))
		}
		arrs[c] = b.Build()
	}

	cfg := testWriterConfig()
	cfg.Compression = "none"
	return writeFile(t, cfg, wideSchema, columnar.NewBatchSource(columnar.NewRecordBatch(wideSchema, int64(rows), arrs)))
}

func TestReader_Prefetch(t *testing.T) {
	data := wideFile(t, 10_000) // 80KB per column chunk

	tt := []struct {
		name     string
		columns  []int
		mergeGap string
		requests int
	}{
		{name: "whole row group", columns: []int{0, 1, 2}, requests: 1},
		{name: "separate chunks", columns: []int{0, 2}, mergeGap: "0", requests: 2},
		{name: "merged chunks", columns: []int{0, 2}, mergeGap: "1MB", requests: 1},
		{name: "single chunk", columns: []int{1}, requests: 1},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testReaderConfig()
			if tc.mergeGap != "" {
				require.NoError(t, cfg.MergeGap.Set(tc.mergeGap))
			}
			f := &countingFile{File: parquet.ReaderAtFile(bytes.NewReader(data), int64(len(data)))}
			r, err := parquet.Open(context.Background(), f, cfg)
			require.NoError(t, err)
			require.NoError(t, r.Columns(tc.columns...))

			f.reset()
			rows := scanRows(t, r, nil)
			require.Len(t, rows, 10_000)
			require.Equal(t, tc.requests, f.requests)
		})
	}
}

func TestReader_WithoutPrefetch(t *testing.T) {
	data := wideFile(t, 1000)

	cfg := testReaderConfig()
	cfg.Prefetch = false
	require.NoError(t, cfg.FallbackBufferSize.Set("1KB"))

	f := &countingFile{File: parquet.ReaderAtFile(bytes.NewReader(data), int64(len(data)))}
	r, err := parquet.Open(context.Background(), f, cfg)
	require.NoError(t, err)

	f.reset()
	rows := scanRows(t, r, nil)
	require.Len(t, rows, 1000)
	require.Equal(t, []any{int64(999), int64(1998), int64(2997)}, rows[999])

	// Every column chunk is read in FallbackBufferSize pieces.
	require.Greater(t, f.requests, 3)
}

func TestReader_InitializeScanOutOfRange(t *testing.T) {
	data := writeFile(t, testWriterConfig(), testSchema, columnar.NewBatchSource(testBatch(0, 10)))
	r := openBytes(t, data, testReaderConfig())

	_, err := r.InitializeScan(context.Background(), []int{1})
	require.Error(t, err)
}

func TestReader_ConcurrentScans(t *testing.T) {
	data := writeFile(t, testWriterConfig(), testSchema,
		columnar.NewBatchSource(testBatch(0, 100)),
		columnar.NewBatchSource(testBatch(100, 100)),
	)
	r := openBytes(t, data, testReaderConfig())

	// Interleaved scans keep independent positions.
	first, err := r.InitializeScan(context.Background(), []int{0})
	require.NoError(t, err)
	second, err := r.InitializeScan(context.Background(), []int{1})
	require.NoError(t, err)

	a, err := r.Scan(context.Background(), first)
	require.NoError(t, err)
	b, err := r.Scan(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, int64(0), columnar.ValueAt(a.Column(0), 0))
	require.Equal(t, int64(100), columnar.ValueAt(b.Column(0), 0))

	_, err = r.Scan(context.Background(), first)
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_Sources(t *testing.T) {
	data := writeFile(t, testWriterConfig(), testSchema, columnar.NewBatchSource(testBatch(0, 50)))
	expect := batchRows(testBatch(0, 50))
	ctx := context.Background()

	t.Run("bucket", func(t *testing.T) {
		bucket := objstore.NewInMemBucket()
		require.NoError(t, bucket.Upload(ctx, "data/test.parquet", bytes.NewReader(data)))

		r, err := parquet.Open(ctx, parquet.BucketFile(bucket, "data/test.parquet"), testReaderConfig())
		require.NoError(t, err)
		require.Equal(t, expect, scanRows(t, r, nil))
	})

	t.Run("missing object", func(t *testing.T) {
		bucket := objstore.NewInMemBucket()
		_, err := parquet.Open(ctx, parquet.BucketFile(bucket, "missing.parquet"), testReaderConfig())
		var ioErr *errdefs.IOError
		require.ErrorAs(t, err, &ioErr)
	})

	t.Run("filesystem", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/test.parquet", data, 0o644))

		f, err := parquet.FsFile(fs, "/test.parquet")
		require.NoError(t, err)
		defer f.(io.Closer).Close()

		r, err := parquet.Open(ctx, f, testReaderConfig())
		require.NoError(t, err)
		require.Equal(t, expect, scanRows(t, r, nil))
	})
}

func TestReader_Metrics(t *testing.T) {
	data := writeFile(t, testWriterConfig(), testSchema, columnar.NewBatchSource(testBatch(0, 100)))
	reg := prometheus.NewRegistry()

	r := openBytes(t, data, testReaderConfig(), parquet.WithRegisterer(reg))
	scanRows(t, r, nil)

	require.Equal(t, float64(100), counterValue(t, reg, "parquetcodec_reader_rows_total"))
	require.Equal(t, float64(3), counterValue(t, reg, "parquetcodec_reader_io_requests_total")) // tail, footer, row group
	require.GreaterOrEqual(t, counterValue(t, reg, "parquetcodec_reader_pages_total"), float64(3))
}
