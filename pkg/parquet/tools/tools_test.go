package tools_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet"
	"github.com/grafana/parquetcodec/pkg/parquet/tools"
)

var testSchema = columnar.NewSchema(
	columnar.Field{Name: "id", Type: columnar.Scalar(columnar.KindInt64), Required: true},
	columnar.Field{Name: "name", Type: columnar.Scalar(columnar.KindString)},
	columnar.Field{Name: "tags", Type: columnar.ListOf(columnar.Scalar(columnar.KindString))},
)

func testBatch(start, n int) columnar.RecordBatch {
	ids := columnar.NewPrimitiveBuilder[int64](columnar.Scalar(columnar.KindInt64))
	names := columnar.NewBuilder(columnar.Scalar(columnar.KindString)).(*columnar.BinaryBuilder)
	tags := columnar.NewBuilder(testSchema.Fields[2].Type).(*columnar.ListBuilder)

	for i := start; i < start+n; i++ {
		ids.Append(int64(i))
		if i%2 == 0 {
			names.AppendNull()
		} else {
			names.AppendString(fmt.Sprintf("name-%d", i))
		}
		tags.Append(true)
		for j := range i % 3 {
			tags.ValueBuilder().(*columnar.BinaryBuilder).AppendString(fmt.Sprintf("t%d", j))
		}
	}
	return columnar.NewRecordBatch(testSchema, int64(n), []columnar.Array{ids.Build(), names.Build(), tags.Build()})
}

func openTestFile(t *testing.T) (*parquet.Reader, int64) {
	t.Helper()

	cfg := parquet.DefaultConfig()
	var buf bytes.Buffer
	w, err := parquet.NewWriter(&buf, testSchema, cfg.Writer)
	require.NoError(t, err)
	require.NoError(t, w.Flush(context.Background(), columnar.NewBatchSource(testBatch(0, 10))))
	require.NoError(t, w.Flush(context.Background(), columnar.NewBatchSource(testBatch(10, 30))))
	require.NoError(t, w.Finalize())

	r, err := parquet.Open(context.Background(), parquet.ReaderAtFile(bytes.NewReader(buf.Bytes()), int64(buf.Len())), cfg.Reader)
	require.NoError(t, err)
	return r, int64(buf.Len())
}

func TestReadStats(t *testing.T) {
	r, size := openTestFile(t)

	stats, err := tools.ReadStats(context.Background(), r, size)
	require.NoError(t, err)
	require.Equal(t, uint64(size), stats.Size)
	require.Equal(t, int64(40), stats.NumRows)
	require.Len(t, stats.RowGroups, 2)

	rg := stats.RowGroups[1]
	require.Equal(t, int64(30), rg.NumRows)
	require.Len(t, rg.Columns, 3)
	require.Equal(t, "id", rg.Columns[0].Path)
	require.Equal(t, "INT64", rg.Columns[0].Type)
	require.Equal(t, "SNAPPY", rg.Columns[0].Compression)
	require.Equal(t, int64(15), rg.Columns[1].NullCount)
	require.True(t, strings.HasPrefix(rg.Columns[2].Path, "tags."))

	var compressed uint64
	for _, rg := range stats.RowGroups {
		compressed += rg.CompressedSize
	}
	require.Equal(t, compressed, stats.CompressedSize)
	require.Less(t, stats.CompressedSize, stats.Size)

	// With two row groups the median is the smaller one and the tail is
	// the larger one.
	small := min(stats.RowGroups[0].CompressedSize, stats.RowGroups[1].CompressedSize)
	large := max(stats.RowGroups[0].CompressedSize, stats.RowGroups[1].CompressedSize)
	require.Equal(t, float64(small), stats.RowGroupSizeStats.Median)
	require.Equal(t, float64(large), stats.RowGroupSizeStats.P99)
}

func TestInspect(t *testing.T) {
	r, size := openTestFile(t)
	stats, err := tools.ReadStats(context.Background(), r, size)
	require.NoError(t, err)

	var out bytes.Buffer
	tools.Inspect(&out, stats)
	require.Contains(t, out.String(), "---- Row group 0 ----")
	require.Contains(t, out.String(), "---- Row group 1 ----")
	require.Contains(t, out.String(), "INT64[id]; 30 values (0 null)")
	require.Contains(t, out.String(), "Row group summary: 10 rows; 3 columns")
}

func TestDump(t *testing.T) {
	r, _ := openTestFile(t)

	var out bytes.Buffer
	require.NoError(t, tools.Dump(context.Background(), &out, r, 3))
	require.Equal(t, strings.Join([]string{
		`id=0 name=null tags=[]`,
		`id=1 name="name-1" tags=["t0"]`,
		`id=2 name=null tags=["t0", "t1"]`,
	}, "\n")+"\n", out.String())

	out.Reset()
	require.NoError(t, r.Columns(0))
	require.NoError(t, tools.Dump(context.Background(), &out, r, 0))
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 40)
}
