// Package tools provides helpers for inspecting Parquet files.
package tools

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/parquet-go/parquet-go/format"

	"github.com/grafana/parquetcodec/pkg/parquet"
)

// Stats summarizes a Parquet file from its footer.
type Stats struct {
	Size      uint64
	NumRows   int64
	CreatedBy string

	CompressedSize   uint64
	UncompressedSize uint64

	RowGroups []RowGroupStats

	// RowGroupSizeStats describes the distribution of compressed row group
	// sizes.
	RowGroupSizeStats Percentiles
}

type RowGroupStats struct {
	Ordinal          int
	NumRows          int64
	CompressedSize   uint64
	UncompressedSize uint64
	Columns          []ColumnStats
}

type ColumnStats struct {
	Path        string
	Type        string
	Compression string
	Encodings   []string

	ValuesCount   int64
	NullCount     int64
	DistinctCount int64

	CompressedSize   uint64
	UncompressedSize uint64
	Dictionary       bool
}

type Percentiles struct {
	Median float64
	P95    float64
	P99    float64
}

// ReadStats reads the stats of an open file. size is the size of the file
// in bytes.
func ReadStats(_ context.Context, r *parquet.Reader, size int64) (*Stats, error) {
	md := r.Metadata()
	stats := &Stats{
		Size:      uint64(size),
		NumRows:   md.NumRows,
		CreatedBy: md.CreatedBy,
		RowGroups: make([]RowGroupStats, 0, len(md.RowGroups)),
	}

	sizes := make([]float64, 0, len(md.RowGroups))
	for i, rg := range md.RowGroups {
		rgStats := RowGroupStats{
			Ordinal: i,
			NumRows: rg.NumRows,
			Columns: make([]ColumnStats, 0, len(rg.Columns)),
		}
		for _, cc := range rg.Columns {
			col := columnStats(&cc.MetaData)
			rgStats.CompressedSize += col.CompressedSize
			rgStats.UncompressedSize += col.UncompressedSize
			rgStats.Columns = append(rgStats.Columns, col)
		}

		stats.CompressedSize += rgStats.CompressedSize
		stats.UncompressedSize += rgStats.UncompressedSize
		stats.RowGroups = append(stats.RowGroups, rgStats)
		sizes = append(sizes, float64(rgStats.CompressedSize))
	}
	stats.RowGroupSizeStats = percentiles(sizes)
	return stats, nil
}

func columnStats(md *format.ColumnMetaData) ColumnStats {
	col := ColumnStats{
		Path:             strings.Join(md.PathInSchema, "."),
		Type:             md.Type.String(),
		Compression:      md.Codec.String(),
		ValuesCount:      md.NumValues,
		NullCount:        md.Statistics.NullCount,
		DistinctCount:    md.Statistics.DistinctCount,
		CompressedSize:   uint64(md.TotalCompressedSize),
		UncompressedSize: uint64(md.TotalUncompressedSize),
		Dictionary:       md.DictionaryPageOffset > 0,
	}
	for _, enc := range md.Encoding {
		col.Encodings = append(col.Encodings, enc.String())
	}
	return col
}

// percentiles uses the nearest-rank method.
func percentiles(values []float64) Percentiles {
	if len(values) == 0 {
		return Percentiles{}
	}
	slices.Sort(values)

	rank := func(p float64) float64 {
		idx := int(math.Ceil(p*float64(len(values)))) - 1
		return values[max(idx, 0)]
	}
	return Percentiles{Median: rank(0.5), P95: rank(0.95), P99: rank(0.99)}
}
