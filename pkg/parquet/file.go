package parquet

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/thanos-io/objstore"

	"github.com/grafana/parquetcodec/pkg/parquet/internal/transport"
)

// File is a random-access view of an encoded file. Implementations must
// allow concurrent calls to ReadRange.
type File interface {
	// Size returns the full size of the file.
	Size(ctx context.Context) (int64, error)

	// ReadRange returns a reader over length bytes starting at offset.
	ReadRange(ctx context.Context, offset int64, length int64) (io.ReadCloser, error)
}

var _ transport.Source = File(nil)

type readerAtFile struct {
	r    io.ReaderAt
	size int64
}

// ReaderAtFile returns a File reading from r, which holds size bytes.
func ReaderAtFile(r io.ReaderAt, size int64) File {
	return &readerAtFile{r: r, size: size}
}

func (f *readerAtFile) Size(context.Context) (int64, error) { return f.size, nil }

func (f *readerAtFile) ReadRange(_ context.Context, offset int64, length int64) (io.ReadCloser, error) {
	return io.NopCloser(io.NewSectionReader(f.r, offset, length)), nil
}

type bucketFile struct {
	bucket objstore.BucketReader
	path   string
}

// BucketFile returns a File reading the object at path from bucket.
func BucketFile(bucket objstore.BucketReader, path string) File {
	return &bucketFile{bucket: bucket, path: path}
}

func (f *bucketFile) Size(ctx context.Context) (int64, error) {
	attrs, err := f.bucket.Attributes(ctx, f.path)
	if err != nil {
		return 0, fmt.Errorf("reading attributes: %w", err)
	}
	return attrs.Size, nil
}

func (f *bucketFile) ReadRange(ctx context.Context, offset int64, length int64) (io.ReadCloser, error) {
	return f.bucket.GetRange(ctx, f.path, offset, length)
}

type fsFile struct {
	f    afero.File
	size int64
}

// FsFile opens path on fs. The size of the file is read once; the returned
// File is only valid while the file is not modified. The File implements
// io.Closer to release the underlying file.
func FsFile(fs afero.Fs, path string) (File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &fsFile{f: f, size: info.Size()}, nil
}

func (f *fsFile) Size(context.Context) (int64, error) { return f.size, nil }

func (f *fsFile) ReadRange(_ context.Context, offset int64, length int64) (io.ReadCloser, error) {
	return io.NopCloser(io.NewSectionReader(f.f, offset, length)), nil
}

func (f *fsFile) Close() error { return f.f.Close() }
