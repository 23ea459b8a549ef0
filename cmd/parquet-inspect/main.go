// Command parquet-inspect prints the layout and contents of Parquet files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"

	"github.com/grafana/parquetcodec/pkg/parquet"
)

func main() {
	app := kingpin.New("parquet-inspect", "Inspect Parquet files.")
	src := &source{}
	app.Flag("bucket.dir", "Read files as object keys from a filesystem bucket rooted at this directory.").StringVar(&src.bucketDir)
	app.Flag("log.level", "Log level: debug, info, warn or error.").Default("warn").EnumVar(&src.logLevel, "debug", "info", "warn", "error")

	addStatsCommand(app, src)
	addDumpCommand(app, src)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}

// source opens files named on the command line, either from the local
// filesystem or from a bucket.
type source struct {
	bucketDir string
	logLevel  string

	bucket objstore.Bucket
	fs     afero.Fs
}

func (s *source) logger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	return level.NewFilter(logger, level.Allow(level.ParseDefault(s.logLevel, level.WarnValue())))
}

// open returns the named file and its size. The returned func closes the
// file.
func (s *source) open(ctx context.Context, name string) (parquet.File, int64, func(), error) {
	var (
		f       parquet.File
		closeFn = func() {}
	)

	if s.bucketDir == "" {
		if s.fs == nil {
			s.fs = afero.NewOsFs()
		}
		fsf, err := parquet.FsFile(s.fs, name)
		if err != nil {
			return nil, 0, nil, err
		}
		f, closeFn = fsf, func() { _ = fsf.(io.Closer).Close() }
	} else {
		if s.bucket == nil {
			bucket, err := filesystem.NewBucket(s.bucketDir)
			if err != nil {
				return nil, 0, nil, fmt.Errorf("opening bucket: %w", err)
			}
			s.bucket = bucket
		}
		f = parquet.BucketFile(s.bucket, name)
	}

	size, err := f.Size(ctx)
	if err != nil {
		closeFn()
		return nil, 0, nil, err
	}
	return f, size, closeFn, nil
}

func (s *source) close() {
	if s.bucket != nil {
		_ = s.bucket.Close()
	}
}

func exitWithErr(err error) {
	color.New(color.FgRed).Fprintln(os.Stderr, err)
	os.Exit(1)
}
