package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/grafana/parquetcodec/pkg/parquet"
	"github.com/grafana/parquetcodec/pkg/parquet/tools"
)

// dumpCommand prints the rows of a Parquet file.
type dumpCommand struct {
	src     *source
	file    *string
	columns *[]string
	limit   *int64
}

func (cmd *dumpCommand) run(_ *kingpin.ParseContext) error {
	defer cmd.src.close()
	ctx := context.Background()

	f, _, closeFn, err := cmd.src.open(ctx, *cmd.file)
	if err != nil {
		exitWithErr(fmt.Errorf("failed to open file: %w", err))
	}
	defer closeFn()

	r, err := parquet.Open(ctx, f, parquet.DefaultConfig().Reader, parquet.WithLogger(cmd.src.logger()))
	if err != nil {
		exitWithErr(fmt.Errorf("failed to read parquet file: %w", err))
	}

	if len(*cmd.columns) > 0 {
		idx, err := columnIndexes(r, *cmd.columns)
		if err != nil {
			exitWithErr(err)
		}
		if err := r.Columns(idx...); err != nil {
			exitWithErr(err)
		}
	}

	color.New(color.Bold).Fprintf(os.Stderr, "%s: %d rows\n", *cmd.file, r.NumRows())
	if err := tools.Dump(ctx, os.Stdout, r, *cmd.limit); err != nil {
		exitWithErr(fmt.Errorf("failed to dump rows: %w", err))
	}
	return nil
}

func columnIndexes(r *parquet.Reader, names []string) ([]int, error) {
	fields := r.Schema().Fields
	idx := make([]int, 0, len(names))
outer:
	for _, name := range names {
		for i, f := range fields {
			if f.Name == name {
				idx = append(idx, i)
				continue outer
			}
		}
		return nil, fmt.Errorf("no column named %q", name)
	}
	return idx, nil
}

func addDumpCommand(app *kingpin.Application, src *source) {
	cmd := &dumpCommand{src: src}
	dump := app.Command("dump", "Print the rows of a Parquet file.").Action(cmd.run)
	cmd.columns = dump.Flag("column", "Column to print. May be repeated; defaults to every column.").Strings()
	cmd.limit = dump.Flag("limit", "Maximum number of rows to print; 0 prints every row.").Default("20").Int64()
	cmd.file = dump.Arg("file", "The file to print.").Required().String()
}
