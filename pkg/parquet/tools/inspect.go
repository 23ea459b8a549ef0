package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet"
)

// Inspect writes a per-column summary of every row group in stats to w.
func Inspect(w io.Writer, stats *Stats) {
	for _, rg := range stats.RowGroups {
		fmt.Fprintf(w, "---- Row group %d ----\n", rg.Ordinal)
		for _, col := range rg.Columns {
			fmt.Fprintf(w, "%v[%v]; %d values (%d null); %v compressed (%v); %v uncompressed; %s\n",
				col.Type, col.Path, col.ValuesCount, col.NullCount,
				humanize.Bytes(col.CompressedSize), col.Compression,
				humanize.Bytes(col.UncompressedSize), strings.Join(col.Encodings, ","))
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Row group summary: %d rows; %d columns; compressed size: %v; uncompressed size %v\n",
			rg.NumRows, len(rg.Columns), humanize.Bytes(rg.CompressedSize), humanize.Bytes(rg.UncompressedSize))
		fmt.Fprintln(w)
	}
}

// Dump writes up to limit rows of the projected columns of r to w, one row
// per line. A limit of zero dumps every row.
func Dump(ctx context.Context, w io.Writer, r *parquet.Reader, limit int64) error {
	state, err := r.InitializeScan(ctx, nil)
	if err != nil {
		return err
	}

	var written int64
	for limit == 0 || written < limit {
		rb, err := r.Scan(ctx, state)
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}

		fields := rb.Schema().Fields
		for i := range rb.NumRows() {
			if limit > 0 && written == limit {
				return nil
			}
			parts := make([]string, len(fields))
			for c, f := range fields {
				parts[c] = fmt.Sprintf("%s=%s", f.Name, formatValue(columnar.ValueAt(rb.Column(int64(c)), int(i))))
			}
			fmt.Fprintln(w, strings.Join(parts, " "))
			written++
		}
	}
	return nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	case []byte:
		return fmt.Sprintf("0x%x", v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case [2]any:
		return formatValue(v[0]) + ": " + formatValue(v[1])
	}
	return fmt.Sprint(v)
}
