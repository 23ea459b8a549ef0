// Package transport implements range reads against a file with prefetching:
// callers register the byte ranges they are about to read, neighbouring
// ranges are coalesced, and each coalesced range is fetched with a single
// request. Reads that miss the prefetched buffers fall back to a bounded
// read-ahead.
package transport

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"

	"go.uber.org/atomic"

	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
)

const (
	// DefaultMergeGap is the largest gap between two registered ranges that
	// are still fetched together.
	DefaultMergeGap = 16 << 10

	// DefaultFallbackBufferSize is the read-ahead used for reads that were
	// not prefetched.
	DefaultFallbackBufferSize = 1 << 20
)

// Source reads ranges of bytes from a file.
type Source interface {
	// Size returns the full size of the file.
	Size(ctx context.Context) (int64, error)

	// ReadRange returns a reader over a range of bytes. Callers may create
	// multiple concurrent instances of ReadRange.
	ReadRange(ctx context.Context, offset int64, length int64) (io.ReadCloser, error)
}

// Config configures a Transport.
type Config struct {
	MergeGap           int64
	FallbackBufferSize int64
}

// Observer is notified of every request issued against the Source.
type Observer func(bytes int64)

// Transport buffers ranges of a Source. A Transport is not safe for
// concurrent use.
type Transport struct {
	src     Source
	size    int64
	cfg     Config
	observe Observer

	registered []Range
	pending    []Range // coalesced registrations not yet fetched
	buffers    []buffer

	requests atomic.Int64
	bytes    atomic.Int64
}

type buffer struct {
	offset int64
	data   []byte
}

func (b buffer) end() int64 { return b.offset + int64(len(b.data)) }

func (b buffer) contains(offset, length int64) bool {
	return offset >= b.offset && offset+length <= b.end()
}

// New returns a Transport over src. The size of src is fetched once.
func New(ctx context.Context, src Source, cfg Config, observe Observer) (*Transport, error) {
	if cfg.MergeGap < 0 {
		cfg.MergeGap = 0
	}
	if cfg.FallbackBufferSize <= 0 {
		cfg.FallbackBufferSize = DefaultFallbackBufferSize
	}
	size, err := src.Size(ctx)
	if err != nil {
		return nil, errdefs.WrapIO("stat file", err)
	}
	return &Transport{src: src, size: size, cfg: cfg, observe: observe}, nil
}

// Size returns the size of the underlying file.
func (t *Transport) Size() int64 { return t.size }

// Stats returns the number of requests issued and the number of bytes
// fetched so far.
func (t *Transport) Stats() (requests, bytes int64) {
	return t.requests.Load(), t.bytes.Load()
}

// RegisterPrefetch records a range to be fetched by PrefetchRegistered.
// Ranges registered with merge may be coalesced with their neighbours.
func (t *Transport) RegisterPrefetch(offset, length int64, merge bool) {
	if length <= 0 {
		return
	}
	t.registered = append(t.registered, Range{Offset: offset, Length: length, Merge: merge})
}

// FinalizeRegistration coalesces the registered ranges. It must be called
// once all ranges are registered and before PrefetchRegistered.
func (t *Transport) FinalizeRegistration() {
	for window := range iterWindows(t.registered, t.cfg.MergeGap) {
		t.pending = append(t.pending, window)
	}
	t.registered = t.registered[:0]
}

// PrefetchRegistered fetches every coalesced range, one request per range.
func (t *Transport) PrefetchRegistered(ctx context.Context) error {
	defer func() { t.pending = t.pending[:0] }()
	for _, r := range t.pending {
		if err := t.Prefetch(ctx, r.Offset, r.Length); err != nil {
			return err
		}
	}
	return nil
}

// Prefetch fetches a range into memory unless it is already buffered.
func (t *Transport) Prefetch(ctx context.Context, offset, length int64) error {
	if err := t.checkBounds(offset, length); err != nil {
		return err
	}
	if t.find(offset, length) >= 0 {
		return nil
	}

	data := make([]byte, length)
	if err := t.fetch(ctx, offset, data); err != nil {
		return err
	}
	t.buffers = append(t.buffers, buffer{offset: offset, data: data})
	slices.SortFunc(t.buffers, func(a, b buffer) int { return cmp.Compare(a.offset, b.offset) })
	return nil
}

// ClearPrefetch drops every buffered range and pending registration.
func (t *Transport) ClearPrefetch() {
	t.registered = t.registered[:0]
	t.pending = t.pending[:0]
	t.buffers = nil
}

// ReadAt reads len(p) bytes at offset. Buffered ranges are served from
// memory; small reads outside of them prefetch FallbackBufferSize bytes from
// offset; larger reads go to the source directly.
func (t *Transport) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	length := int64(len(p))
	if err := t.checkBounds(offset, length); err != nil {
		return 0, err
	}
	if length == 0 {
		return 0, nil
	}

	if i := t.find(offset, length); i >= 0 {
		b := t.buffers[i]
		return copy(p, b.data[offset-b.offset:]), nil
	}

	if length < t.cfg.FallbackBufferSize {
		readAhead := min(t.cfg.FallbackBufferSize, t.size-offset)
		if err := t.Prefetch(ctx, offset, readAhead); err != nil {
			return 0, err
		}
		b := t.buffers[t.find(offset, length)]
		return copy(p, b.data[offset-b.offset:]), nil
	}

	if err := t.fetch(ctx, offset, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Section returns a reader over a range of the file. Reads go through
// ReadAt with the context returned by ctx at the time of the read.
func (t *Transport) Section(ctx func() context.Context, offset, length int64) io.Reader {
	return io.NewSectionReader(readerAt{ctx: ctx, t: t}, offset, length)
}

type readerAt struct {
	ctx func() context.Context
	t   *Transport
}

func (r readerAt) ReadAt(p []byte, offset int64) (int, error) {
	// io.SectionReader never asks for bytes past the section, but a section
	// may extend past the end of a truncated file.
	if offset >= r.t.size {
		return 0, io.EOF
	}
	if end := offset + int64(len(p)); end > r.t.size {
		n, err := r.t.ReadAt(r.ctx(), p[:r.t.size-offset], offset)
		if err != nil {
			return n, err
		}
		return n, io.EOF
	}
	return r.t.ReadAt(r.ctx(), p, offset)
}

func (t *Transport) checkBounds(offset, length int64) error {
	if offset < 0 || length < 0 || offset+length > t.size {
		return errdefs.Formatf("read of %d bytes at offset %d is outside of file of %d bytes", length, offset, t.size)
	}
	return nil
}

// find returns the index of a buffer holding the whole range, or -1.
func (t *Transport) find(offset, length int64) int {
	for i, b := range t.buffers {
		if b.offset > offset {
			break
		}
		if b.contains(offset, length) {
			return i
		}
	}
	return -1
}

func (t *Transport) fetch(ctx context.Context, offset int64, p []byte) error {
	t.requests.Inc()
	t.bytes.Add(int64(len(p)))
	if t.observe != nil {
		t.observe(int64(len(p)))
	}

	rc, err := t.src.ReadRange(ctx, offset, int64(len(p)))
	if err != nil {
		return errdefs.WrapIO(fmt.Sprintf("read range %d+%d", offset, len(p)), err)
	}
	defer rc.Close()

	if _, err := io.ReadFull(rc, p); err != nil {
		return errdefs.WrapIO(fmt.Sprintf("read range %d+%d", offset, len(p)), err)
	}
	return nil
}
