package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet"
)

var testSchema = columnar.NewSchema(
	columnar.Field{Name: "id", Type: columnar.Scalar(columnar.KindInt64), Required: true},
	columnar.Field{Name: "name", Type: columnar.Scalar(columnar.KindString)},
)

func testFile(t *testing.T) []byte {
	t.Helper()

	ids := columnar.NewPrimitiveBuilder[int64](columnar.Scalar(columnar.KindInt64))
	names := columnar.NewBuilder(columnar.Scalar(columnar.KindString)).(*columnar.BinaryBuilder)
	for i := range 5 {
		ids.Append(int64(i))
		names.AppendString("n")
	}
	rb := columnar.NewRecordBatch(testSchema, 5, []columnar.Array{ids.Build(), names.Build()})

	var buf bytes.Buffer
	w, err := parquet.NewWriter(&buf, testSchema, parquet.DefaultConfig().Writer)
	require.NoError(t, err)
	require.NoError(t, w.Flush(context.Background(), columnar.NewBatchSource(rb)))
	require.NoError(t, w.Finalize())
	return buf.Bytes()
}

func TestSource_Open(t *testing.T) {
	data := testFile(t)
	ctx := context.Background()

	t.Run("filesystem", func(t *testing.T) {
		src := &source{fs: afero.NewMemMapFs()}
		require.NoError(t, afero.WriteFile(src.fs, "/a.parquet", data, 0o644))

		f, size, closeFn, err := src.open(ctx, "/a.parquet")
		require.NoError(t, err)
		defer closeFn()
		require.Equal(t, int64(len(data)), size)

		r, err := parquet.Open(ctx, f, parquet.DefaultConfig().Reader)
		require.NoError(t, err)
		require.Equal(t, int64(5), r.NumRows())
	})

	t.Run("bucket", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.parquet"), data, 0o644))

		src := &source{bucketDir: dir}
		defer src.close()

		_, size, closeFn, err := src.open(ctx, "b.parquet")
		require.NoError(t, err)
		defer closeFn()
		require.Equal(t, int64(len(data)), size)

		_, _, _, err = src.open(ctx, "missing.parquet")
		require.Error(t, err)
	})
}

func TestColumnIndexes(t *testing.T) {
	data := testFile(t)
	r, err := parquet.Open(context.Background(), parquet.ReaderAtFile(bytes.NewReader(data), int64(len(data))), parquet.DefaultConfig().Reader)
	require.NoError(t, err)

	idx, err := columnIndexes(r, []string{"name", "id"})
	require.NoError(t, err)
	require.Equal(t, []int{1, 0}, idx)

	_, err = columnIndexes(r, []string{"missing"})
	require.ErrorContains(t, err, "missing")
}
