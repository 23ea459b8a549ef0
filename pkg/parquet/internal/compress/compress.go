// Package compress implements the block compression codecs used for Parquet
// page bodies.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/parquet-go/parquet-go/format"
	"github.com/pierrec/lz4/v4"
)

// Codecs lists the codecs supported for writing, in the order they are
// documented.
var Codecs = []format.CompressionCodec{
	format.Uncompressed,
	format.Snappy,
	format.Zstd,
	format.Gzip,
	format.Lz4Raw,
}

// ParseCodec returns the codec with the given case-insensitive name.
func ParseCodec(name string) (format.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return format.Uncompressed, nil
	case "snappy":
		return format.Snappy, nil
	case "zstd":
		return format.Zstd, nil
	case "gzip":
		return format.Gzip, nil
	case "lz4", "lz4_raw":
		return format.Lz4Raw, nil
	}
	return format.Uncompressed, fmt.Errorf("unknown compression codec %q", name)
}

// Compress appends the compressed form of src to dst and returns the
// extended buffer.
func Compress(codec format.CompressionCodec, dst, src []byte) ([]byte, error) {
	switch codec {
	case format.Uncompressed:
		return append(dst, src...), nil

	case format.Snappy:
		out := snappy.Encode(nil, src)
		return append(dst, out...), nil

	case format.Zstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return enc.EncodeAll(src, dst), nil

	case format.Gzip:
		buf := bytes.NewBuffer(dst)
		zw, err := pgzip.NewWriterLevel(buf, pgzip.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("creating gzip writer: %w", err)
		}
		if _, err := zw.Write(src); err != nil {
			return nil, fmt.Errorf("gzip compressing: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip compressing: %w", err)
		}
		return buf.Bytes(), nil

	case format.Lz4Raw:
		if len(src) == 0 {
			// An LZ4 block holding no literals.
			return append(dst, 0), nil
		}
		out := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, out, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compressing: %w", err)
		}
		return append(dst, out[:n]...), nil
	}
	return nil, fmt.Errorf("unsupported compression codec %s", codec)
}

// Decompress appends the decompressed form of src to dst and returns the
// extended buffer. uncompressedSize is the size recorded in the page header;
// a mismatch is an error.
func Decompress(codec format.CompressionCodec, dst, src []byte, uncompressedSize int) ([]byte, error) {
	start := len(dst)

	switch codec {
	case format.Uncompressed:
		dst = append(dst, src...)

	case format.Snappy:
		out, err := snappy.Decode(nil, src)
		if err != nil {
			return nil, fmt.Errorf("snappy decompressing: %w", err)
		}
		dst = append(dst, out...)

	case format.Zstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		dst, err = dec.DecodeAll(src, dst)
		if err != nil {
			return nil, fmt.Errorf("zstd decompressing: %w", err)
		}

	case format.Gzip:
		zr := gzipPool.Get().(*gzip.Reader)
		defer gzipPool.Put(zr)
		if err := zr.Reset(bytes.NewReader(src)); err != nil {
			return nil, fmt.Errorf("gzip decompressing: %w", err)
		}
		buf := bytes.NewBuffer(dst)
		buf.Grow(uncompressedSize)
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, fmt.Errorf("gzip decompressing: %w", err)
		}
		dst = buf.Bytes()

	case format.Lz4Raw:
		if uncompressedSize == 0 {
			break
		}
		dst = append(dst, make([]byte, uncompressedSize)...)
		n, err := lz4.UncompressBlock(src, dst[start:])
		if err != nil {
			return nil, fmt.Errorf("lz4 decompressing: %w", err)
		}
		dst = dst[:start+n]

	default:
		return nil, fmt.Errorf("unsupported compression codec %s", codec)
	}

	if got := len(dst) - start; got != uncompressedSize {
		return nil, fmt.Errorf("decompressed %d bytes, expected %d", got, uncompressedSize)
	}
	return dst, nil
}

var gzipPool = sync.Pool{
	New: func() any {
		return new(gzip.Reader)
	},
}

// getZstdEncoder lazily initializes a global Zstd encoder. It is only safe to
// use EncodeAll concurrently.
var getZstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
})

// getZstdDecoder lazily initializes a global Zstd decoder. It is only safe to
// use DecodeAll concurrently.
var getZstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	// Using a concurrency of 0 will use GOMAXPROCS workers.
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
})
