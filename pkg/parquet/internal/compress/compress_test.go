package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/parquet-go/parquet-go/format"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	random := make([]byte, 64<<10)
	rnd.Read(random)

	inputs := map[string][]byte{
		"empty":      {},
		"small":      []byte("hello, parquet"),
		"repetitive": bytes.Repeat([]byte("abcdefgh"), 16<<10),
		"random":     random,
	}

	for _, codec := range Codecs {
		for name, input := range inputs {
			t.Run(codec.String()+"/"+name, func(t *testing.T) {
				prefix := []byte("prefix")
				compressed, err := Compress(codec, append([]byte(nil), prefix...), input)
				require.NoError(t, err)
				require.Equal(t, prefix, compressed[:len(prefix)], "dst prefix must be preserved")

				out, err := Decompress(codec, nil, compressed[len(prefix):], len(input))
				require.NoError(t, err)
				require.Equal(t, len(input), len(out))
				require.True(t, bytes.Equal(input, out))
			})
		}
	}
}

func TestDecompress_SizeMismatch(t *testing.T) {
	compressed, err := Compress(format.Snappy, nil, []byte("0123456789"))
	require.NoError(t, err)

	_, err = Decompress(format.Snappy, nil, compressed, 11)
	require.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	tt := map[string]format.CompressionCodec{
		"":             format.Uncompressed,
		"UNCOMPRESSED": format.Uncompressed,
		"snappy":       format.Snappy,
		"ZSTD":         format.Zstd,
		"gzip":         format.Gzip,
		"lz4_raw":      format.Lz4Raw,
	}
	for name, expect := range tt {
		codec, err := ParseCodec(name)
		require.NoError(t, err)
		require.Equal(t, expect, codec)
	}

	_, err := ParseCodec("brotli")
	require.Error(t, err)
}
