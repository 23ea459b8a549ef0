package parquet_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/parquet-go/parquet-go/encoding/thrift"
	"github.com/parquet-go/parquet-go/format"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
)

func TestWriter_RoundTrip(t *testing.T) {
	tt := []struct {
		name        string
		compression string
		pageSize    string
		batches     []columnar.RecordBatch
	}{
		{
			name:        "single row",
			compression: "none",
			batches:     []columnar.RecordBatch{testBatch(0, 1)},
		},
		{
			name:        "many pages",
			compression: "snappy",
			pageSize:    "1KB",
			batches:     []columnar.RecordBatch{testBatch(0, 3000), testBatch(3000, 500)},
		},
		{
			name:        "zstd",
			compression: "zstd",
			batches:     []columnar.RecordBatch{testBatch(0, 5000)},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testWriterConfig()
			cfg.Compression = tc.compression
			cfg.BatchSize = 700
			if tc.pageSize != "" {
				require.NoError(t, cfg.MaxPageSize.Set(tc.pageSize))
			}

			data := writeFile(t, cfg, testSchema, columnar.NewBatchSource(tc.batches...))

			rcfg := testReaderConfig()
			rcfg.BatchSize = 333
			r := openBytes(t, data, rcfg)
			require.True(t, testSchema.Equal(r.Schema()))
			require.Equal(t, 1, r.NumRowGroups())

			var expect [][]any
			for _, rb := range tc.batches {
				expect = append(expect, batchRows(rb)...)
			}
			require.Equal(t, int64(len(expect)), r.NumRows())
			require.Equal(t, expect, scanRows(t, r, nil))
		})
	}
}

func TestWriter_DictionaryEncoding(t *testing.T) {
	data := writeFile(t, testWriterConfig(), testSchema, columnar.NewBatchSource(testBatch(0, 1000)))
	r := openBytes(t, data, testReaderConfig())

	md := r.Metadata()
	require.Len(t, md.RowGroups, 1)

	// Names repeat every 13 rows so the column is dictionary encoded.
	name := md.RowGroups[0].Columns[1].MetaData
	require.Equal(t, []format.Encoding{format.Plain, format.PlainDictionary}, name.Encoding)
	require.NotZero(t, name.DictionaryPageOffset)
	require.Equal(t, int64(13), name.Statistics.DistinctCount)

	// Ids are never dictionary encoded.
	id := md.RowGroups[0].Columns[0].MetaData
	require.Equal(t, []format.Encoding{format.Plain}, id.Encoding)
	require.Equal(t, format.Snappy, id.Codec)
}

func TestWriter_FlushAll(t *testing.T) {
	cfg := testWriterConfig()
	cfg.RowGroupConcurrency = 2

	var buf bytes.Buffer
	w, err := parquet.NewWriter(&buf, testSchema, cfg)
	require.NoError(t, err)

	sources := []columnar.BatchSource{
		columnar.NewBatchSource(testBatch(0, 100)),
		columnar.NewBatchSource(), // empty sources append nothing
		columnar.NewBatchSource(testBatch(100, 200)),
		columnar.NewBatchSource(testBatch(300, 50)),
	}
	require.NoError(t, w.FlushAll(context.Background(), sources...))
	require.NoError(t, w.Finalize())

	r := openBytes(t, buf.Bytes(), testReaderConfig())
	require.Equal(t, 3, r.NumRowGroups())
	require.Equal(t, int64(350), r.NumRows())

	for i, start := range []int64{0, 100, 300} {
		rg := r.Metadata().RowGroups[i]
		require.Equal(t, int16(i), rg.Ordinal)

		rows := scanRows(t, r, []int{i})
		require.Equal(t, rg.NumRows, int64(len(rows)))
		require.Equal(t, start, rows[0][0])
	}
}

func TestWriter_EmptyFile(t *testing.T) {
	data := writeFile(t, testWriterConfig(), testSchema, columnar.NewBatchSource())

	r := openBytes(t, data, testReaderConfig())
	require.Equal(t, 0, r.NumRowGroups())
	require.Equal(t, int64(0), r.NumRows())
	require.Empty(t, scanRows(t, r, nil))
}

func TestWriter_Footer(t *testing.T) {
	cfg := testWriterConfig()
	cfg.CreatedBy = "footer-test"
	data := writeFile(t, cfg, testSchema, columnar.NewBatchSource(testBatch(0, 10)))

	require.Equal(t, "PAR1", string(data[:4]))
	require.Equal(t, "PAR1", string(data[len(data)-4:]))

	footerLen := int(binary.LittleEndian.Uint32(data[len(data)-8:]))
	footer := data[len(data)-8-footerLen : len(data)-8]

	var md format.FileMetaData
	require.NoError(t, thrift.Unmarshal(new(thrift.CompactProtocol), footer, &md))
	require.Equal(t, int32(1), md.Version)
	require.Equal(t, "footer-test", md.CreatedBy)
	require.Equal(t, int64(10), md.NumRows)
	require.Equal(t, "parquetcodec_schema", md.Schema[0].Name)
	require.Equal(t, int32(3), md.Schema[0].NumChildren)

	rg := md.RowGroups[0]
	require.Equal(t, int64(4), rg.FileOffset)
	var compressed int64
	for _, c := range rg.Columns {
		compressed += c.MetaData.TotalCompressedSize
	}
	require.Equal(t, rg.TotalCompressedSize, compressed)
	require.Equal(t, int64(len(data)-8-footerLen), rg.FileOffset+rg.TotalCompressedSize)
}

func TestWriter_Poisoned(t *testing.T) {
	schema := columnar.NewSchema(columnar.Field{Name: "interval", Type: columnar.Scalar(columnar.KindInterval)})
	batch := func(v columnar.Interval) columnar.RecordBatch {
		b := columnar.NewPrimitiveBuilder[columnar.Interval](columnar.Scalar(columnar.KindInterval))
		b.Append(v)
		return columnar.NewRecordBatch(schema, 1, []columnar.Array{b.Build()})
	}

	var buf bytes.Buffer
	w, err := parquet.NewWriter(&buf, schema, testWriterConfig())
	require.NoError(t, err)

	err = w.Flush(context.Background(), columnar.NewBatchSource(batch(columnar.Interval{Days: -1})))
	require.True(t, errdefs.IsConstraintViolation(err))
	written := buf.Len()

	// Later calls fail with the first error and write nothing.
	require.Equal(t, err, w.Flush(context.Background(), columnar.NewBatchSource(batch(columnar.Interval{Days: 1}))))
	require.Equal(t, err, w.Finalize())
	require.Equal(t, written, buf.Len())
}

func TestWriter_Finalized(t *testing.T) {
	var buf bytes.Buffer
	w, err := parquet.NewWriter(&buf, testSchema, testWriterConfig())
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	require.ErrorIs(t, w.Flush(context.Background(), columnar.NewBatchSource(testBatch(0, 1))), parquet.ErrFinalized)
	require.ErrorIs(t, w.Finalize(), parquet.ErrFinalized)
}

func TestWriter_SchemaMismatch(t *testing.T) {
	other := columnar.NewSchema(columnar.Field{Name: "id", Type: columnar.Scalar(columnar.KindInt32)})
	b := columnar.NewPrimitiveBuilder[int32](columnar.Scalar(columnar.KindInt32))
	b.Append(1)

	var buf bytes.Buffer
	w, err := parquet.NewWriter(&buf, testSchema, testWriterConfig())
	require.NoError(t, err)

	err = w.Flush(context.Background(), columnar.NewBatchSource(columnar.NewRecordBatch(other, 1, []columnar.Array{b.Build()})))
	require.ErrorContains(t, err, "batch schema does not match")
}

func TestNewWriter_UnsupportedType(t *testing.T) {
	schema := columnar.NewSchema(columnar.Field{Name: "bad", Type: columnar.DataType{}})

	_, err := parquet.NewWriter(&bytes.Buffer{}, schema, testWriterConfig())
	var unsupported *errdefs.UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
}

func TestNewWriter_InvalidConfig(t *testing.T) {
	cfg := testWriterConfig()
	cfg.Compression = "brotli"

	_, err := parquet.NewWriter(&bytes.Buffer{}, testSchema, cfg)
	require.Error(t, err)
}

func TestWriter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	for range 2 {
		var buf bytes.Buffer
		w, err := parquet.NewWriter(&buf, testSchema, testWriterConfig(), parquet.WithRegisterer(reg))
		require.NoError(t, err)
		require.NoError(t, w.Flush(context.Background(), columnar.NewBatchSource(testBatch(0, 10))))
		require.NoError(t, w.Finalize())
	}

	// Writers sharing a registerer share their metrics.
	require.Equal(t, float64(2), counterValue(t, reg, "parquetcodec_writer_row_groups_total"))
	require.Equal(t, float64(20), counterValue(t, reg, "parquetcodec_writer_rows_total"))
	require.GreaterOrEqual(t, counterValue(t, reg, "parquetcodec_writer_pages_total"), float64(6))
}
