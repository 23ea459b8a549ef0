package parquet_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testSchema = columnar.NewSchema(
	columnar.Field{Name: "id", Type: columnar.Scalar(columnar.KindInt64), Required: true},
	columnar.Field{Name: "name", Type: columnar.Scalar(columnar.KindString)},
	columnar.Field{Name: "tags", Type: columnar.ListOf(columnar.Scalar(columnar.KindString))},
)

// testBatch returns n rows of testSchema with ids starting at start. Every
// seventh name is null and every fifth tags list is empty.
func testBatch(start, n int) columnar.RecordBatch {
	ids := columnar.NewPrimitiveBuilder[int64](columnar.Scalar(columnar.KindInt64))
	names := columnar.NewBuilder(columnar.Scalar(columnar.KindString)).(*columnar.BinaryBuilder)
	tags := columnar.NewBuilder(testSchema.Fields[2].Type).(*columnar.ListBuilder)
	tagValues := tags.ValueBuilder().(*columnar.BinaryBuilder)

	for i := start; i < start+n; i++ {
		ids.Append(int64(i))

		if i%7 == 0 {
			names.AppendNull()
		} else {
			names.AppendString(fmt.Sprintf("name-%d", i%13))
		}

		tags.Append(true)
		for j := range i % 5 {
			tagValues.AppendString(fmt.Sprintf("tag-%d", j))
		}
	}
	return columnar.NewRecordBatch(testSchema, int64(n), []columnar.Array{ids.Build(), names.Build(), tags.Build()})
}

func testWriterConfig() parquet.WriterConfig {
	return parquet.DefaultConfig().Writer
}

func testReaderConfig() parquet.ReaderConfig {
	return parquet.DefaultConfig().Reader
}

// writeFile writes one row group per source and returns the finalized file.
func writeFile(t *testing.T, cfg parquet.WriterConfig, schema columnar.Schema, sources ...columnar.BatchSource) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := parquet.NewWriter(&buf, schema, cfg)
	require.NoError(t, err)
	for _, src := range sources {
		require.NoError(t, w.Flush(context.Background(), src))
	}
	require.NoError(t, w.Finalize())
	return buf.Bytes()
}

func openBytes(t *testing.T, data []byte, cfg parquet.ReaderConfig, opts ...parquet.Option) *parquet.Reader {
	t.Helper()

	r, err := parquet.Open(context.Background(), parquet.ReaderAtFile(bytes.NewReader(data), int64(len(data))), cfg, opts...)
	require.NoError(t, err)
	return r
}

// scanRows scans the given row groups and returns every row as a slice of
// column values.
func scanRows(t *testing.T, r *parquet.Reader, rowGroups []int) [][]any {
	t.Helper()

	state, err := r.InitializeScan(context.Background(), rowGroups)
	require.NoError(t, err)

	var rows [][]any
	for {
		rb, err := r.Scan(context.Background(), state)
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, batchRows(rb)...)
	}
}

func batchRows(rb columnar.RecordBatch) [][]any {
	rows := make([][]any, rb.NumRows())
	for i := range rows {
		row := make([]any, rb.NumCols())
		for c := range row {
			row[c] = columnar.ValueAt(rb.Column(int64(c)), i)
		}
		rows[i] = row
	}
	return rows
}

// countingFile records the requests issued against a File.
type countingFile struct {
	parquet.File
	requests int
	bytes    int64
}

func (f *countingFile) ReadRange(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	f.requests++
	f.bytes += length
	return f.File.ReadRange(ctx, offset, length)
}

func (f *countingFile) reset() {
	f.requests = 0
	f.bytes = 0
}

// counterValue returns the sum of every series of the named counter in reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
