package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
)

// recordingSource serves ranges of data and records every request.
type recordingSource struct {
	data     []byte
	requests []Range
	err      error
}

func (s *recordingSource) Size(context.Context) (int64, error) { return int64(len(s.data)), nil }

func (s *recordingSource) ReadRange(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, Range{Offset: offset, Length: length})
	return io.NopCloser(bytes.NewReader(s.data[offset : offset+length])), nil
}

func newSource(size int) *recordingSource {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &recordingSource{data: data}
}

func newTransport(t *testing.T, src Source, cfg Config) *Transport {
	t.Helper()
	tr, err := New(context.Background(), src, cfg, nil)
	require.NoError(t, err)
	return tr
}

func Test_iterWindows(t *testing.T) {
	tt := []struct {
		name   string
		ranges []Range
		gap    int64
		expect []Range
	}{
		{
			name:   "empty",
			ranges: nil,
			expect: nil,
		},
		{
			name: "merge within gap",
			ranges: []Range{
				{Offset: 100, Length: 10, Merge: true},
				{Offset: 0, Length: 10, Merge: true},
				{Offset: 15, Length: 5, Merge: true},
			},
			gap: 10,
			expect: []Range{
				{Offset: 0, Length: 20, Merge: true},
				{Offset: 100, Length: 10, Merge: true},
			},
		},
		{
			name: "no merge without flag",
			ranges: []Range{
				{Offset: 0, Length: 10, Merge: true},
				{Offset: 12, Length: 10, Merge: false},
			},
			gap: 10,
			expect: []Range{
				{Offset: 0, Length: 10, Merge: true},
				{Offset: 12, Length: 10, Merge: false},
			},
		},
		{
			name: "overlap always merges",
			ranges: []Range{
				{Offset: 0, Length: 10},
				{Offset: 5, Length: 10},
				{Offset: 2, Length: 3},
			},
			expect: []Range{
				{Offset: 0, Length: 15},
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			actual := slices.Collect(iterWindows(tc.ranges, tc.gap))
			require.Equal(t, tc.expect, actual)
		})
	}
}

func TestTransport_PrefetchRegistered(t *testing.T) {
	src := newSource(100_000)
	tr := newTransport(t, src, Config{MergeGap: DefaultMergeGap})

	tr.RegisterPrefetch(1000, 100, true)
	tr.RegisterPrefetch(2000, 100, true)
	tr.RegisterPrefetch(60_000, 500, true)
	tr.FinalizeRegistration()
	require.NoError(t, tr.PrefetchRegistered(context.Background()))

	require.Equal(t, []Range{{Offset: 1000, Length: 1100}, {Offset: 60_000, Length: 500}}, src.requests)

	// Served from the buffers without new requests.
	p := make([]byte, 50)
	n, err := tr.ReadAt(context.Background(), p, 2010)
	require.NoError(t, err)
	require.Equal(t, 50, n)
	require.Equal(t, src.data[2010:2060], p)
	require.Len(t, src.requests, 2)

	requests, fetched := tr.Stats()
	require.Equal(t, int64(2), requests)
	require.Equal(t, int64(1600), fetched)
}

func TestTransport_FallbackReadAhead(t *testing.T) {
	src := newSource(10_000)
	tr := newTransport(t, src, Config{FallbackBufferSize: 4096})

	p := make([]byte, 10)
	_, err := tr.ReadAt(context.Background(), p, 100)
	require.NoError(t, err)
	require.Equal(t, src.data[100:110], p)
	require.Equal(t, []Range{{Offset: 100, Length: 4096}}, src.requests)

	_, err = tr.ReadAt(context.Background(), p, 4000)
	require.NoError(t, err)
	require.Len(t, src.requests, 1)

	// The read-ahead is clamped at the end of the file.
	_, err = tr.ReadAt(context.Background(), p, 9990)
	require.NoError(t, err)
	require.Equal(t, Range{Offset: 9990, Length: 10}, src.requests[1])
}

func TestTransport_LargeReadBypassesBuffers(t *testing.T) {
	src := newSource(10_000)
	tr := newTransport(t, src, Config{FallbackBufferSize: 100})

	p := make([]byte, 500)
	_, err := tr.ReadAt(context.Background(), p, 0)
	require.NoError(t, err)
	require.Equal(t, src.data[:500], p)
	require.Equal(t, []Range{{Offset: 0, Length: 500}}, src.requests)
}

func TestTransport_ClearPrefetch(t *testing.T) {
	src := newSource(1000)
	tr := newTransport(t, src, Config{})

	require.NoError(t, tr.Prefetch(context.Background(), 0, 1000))
	tr.ClearPrefetch()

	p := make([]byte, 10)
	_, err := tr.ReadAt(context.Background(), p, 0)
	require.NoError(t, err)
	require.Len(t, src.requests, 2)
}

func TestTransport_OutOfBounds(t *testing.T) {
	tr := newTransport(t, newSource(100), Config{})

	_, err := tr.ReadAt(context.Background(), make([]byte, 10), 95)
	require.True(t, errdefs.IsFormat(err))

	err = tr.Prefetch(context.Background(), -1, 10)
	require.True(t, errdefs.IsFormat(err))
}

func TestTransport_SourceError(t *testing.T) {
	src := newSource(100)
	src.err = errors.New("bucket unavailable")
	tr := newTransport(t, src, Config{})

	_, err := tr.ReadAt(context.Background(), make([]byte, 10), 0)
	var ioErr *errdefs.IOError
	require.ErrorAs(t, err, &ioErr)
	require.ErrorIs(t, err, src.err)
}

func TestTransport_Section(t *testing.T) {
	src := newSource(1000)
	tr := newTransport(t, src, Config{})

	data, err := io.ReadAll(tr.Section(context.Background, 900, 200))
	require.NoError(t, err)
	require.Equal(t, src.data[900:], data)
}
