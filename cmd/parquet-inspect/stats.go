package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/grafana/parquetcodec/pkg/parquet"
	"github.com/grafana/parquetcodec/pkg/parquet/tools"
)

// statsCommand prints stats for each Parquet file in files.
type statsCommand struct {
	src     *source
	files   *[]string
	columns *bool
}

func (cmd *statsCommand) run(_ *kingpin.ParseContext) error {
	defer cmd.src.close()
	for _, f := range *cmd.files {
		cmd.printStats(context.Background(), f)
	}
	return nil
}

func (cmd *statsCommand) printStats(ctx context.Context, name string) {
	f, size, closeFn, err := cmd.src.open(ctx, name)
	if err != nil {
		exitWithErr(fmt.Errorf("failed to open file: %w", err))
	}
	defer closeFn()

	r, err := parquet.Open(ctx, f, parquet.DefaultConfig().Reader, parquet.WithLogger(cmd.src.logger()))
	if err != nil {
		exitWithErr(fmt.Errorf("failed to read parquet file: %w", err))
	}
	stats, err := tools.ReadStats(ctx, r, size)
	if err != nil {
		exitWithErr(fmt.Errorf("failed to read file stats: %w", err))
	}

	bold := color.New(color.Bold)
	bold.Printf("File %s:\n", name)
	fmt.Printf(
		"\tsize: %v, rows: %d, row groups: %d, created by: %s\n",
		humanize.Bytes(stats.Size),
		stats.NumRows,
		len(stats.RowGroups),
		stats.CreatedBy,
	)
	fmt.Printf(
		"\tcompressed size: %v, uncompressed size: %v\n",
		humanize.Bytes(stats.CompressedSize),
		humanize.Bytes(stats.UncompressedSize),
	)
	fmt.Printf(
		"\tcompressed row group sizes:\n\t\tp50: %v, p95: %v, p99: %v\n",
		humanize.Bytes(uint64(stats.RowGroupSizeStats.Median)),
		humanize.Bytes(uint64(stats.RowGroupSizeStats.P95)),
		humanize.Bytes(uint64(stats.RowGroupSizeStats.P99)),
	)

	bold.Println("Schema:")
	for _, field := range r.Schema().Fields {
		fmt.Printf("\t%s %s (required: %t)\n", field.Name, field.Type, field.Required)
	}

	if *cmd.columns {
		tools.Inspect(os.Stdout, stats)
	}
}

func addStatsCommand(app *kingpin.Application, src *source) {
	cmd := &statsCommand{src: src}
	stats := app.Command("stats", "Print stats for Parquet files.").Action(cmd.run)
	cmd.columns = stats.Flag("columns", "Print per-column stats of every row group.").Bool()
	cmd.files = stats.Arg("file", "The files to print.").Required().Strings()
}
