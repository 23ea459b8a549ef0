package parquet

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/grafana/dskit/flagext"
	"gopkg.in/yaml.v2"

	"github.com/grafana/parquetcodec/pkg/parquet/internal/compress"
)

// WriterConfig configures a [Writer].
type WriterConfig struct {
	// Compression is the codec applied to every page: none, snappy, zstd,
	// gzip or lz4_raw.
	Compression string `yaml:"compression"`

	// MaxPageSize is the estimated uncompressed size at which a data page is
	// closed.
	MaxPageSize flagext.Bytes `yaml:"max_page_size"`

	// MaxDictionaryPageSize is the estimated dictionary size above which a
	// string column is written without a dictionary.
	MaxDictionaryPageSize flagext.Bytes `yaml:"max_dictionary_page_size"`

	// MaxStringStatisticsSize suppresses min/max statistics of string
	// columns holding a value longer than this.
	MaxStringStatisticsSize flagext.Bytes `yaml:"max_string_statistics_size"`

	// BatchSize is the number of rows pulled from a source at once.
	BatchSize int `yaml:"batch_size"`

	// RowGroupConcurrency bounds the number of row groups prepared
	// concurrently by [Writer.FlushAll].
	RowGroupConcurrency int `yaml:"row_group_concurrency"`

	CreatedBy  string `yaml:"created_by"`
	SchemaName string `yaml:"schema_name"`

	// DistinctCountSketch estimates the distinct count of columns written
	// without a dictionary.
	DistinctCountSketch bool `yaml:"distinct_count_sketch"`
}

// RegisterFlags registers flags with the default prefix.
func (cfg *WriterConfig) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("parquet.writer.", f)
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *WriterConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	_ = cfg.MaxPageSize.Set("1MB")
	_ = cfg.MaxDictionaryPageSize.Set("1GB")
	_ = cfg.MaxStringStatisticsSize.Set("10KB")

	f.StringVar(&cfg.Compression, prefix+"compression", "snappy", "Page compression codec. Supported values: none, snappy, zstd, gzip, lz4_raw.")
	f.Var(&cfg.MaxPageSize, prefix+"max-page-size", "Estimated uncompressed size at which a data page is closed.")
	f.Var(&cfg.MaxDictionaryPageSize, prefix+"max-dictionary-page-size", "Estimated dictionary size above which string columns are written without a dictionary.")
	f.Var(&cfg.MaxStringStatisticsSize, prefix+"max-string-statistics-size", "String values longer than this suppress min/max statistics of their column.")
	f.IntVar(&cfg.BatchSize, prefix+"batch-size", 2048, "Number of rows read from a source at once.")
	f.IntVar(&cfg.RowGroupConcurrency, prefix+"row-group-concurrency", 4, "Maximum number of row groups prepared concurrently.")
	f.StringVar(&cfg.CreatedBy, prefix+"created-by", "parquetcodec", "Value of the created_by field of written files.")
	f.StringVar(&cfg.SchemaName, prefix+"schema-name", "parquetcodec_schema", "Name of the root schema element of written files.")
	f.BoolVar(&cfg.DistinctCountSketch, prefix+"distinct-count-sketch", false, "Estimate distinct counts of columns written without a dictionary.")
}

// Validate validates the WriterConfig.
func (cfg *WriterConfig) Validate() error {
	var errs []error

	if _, err := compress.ParseCodec(cfg.Compression); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxPageSize <= 0 {
		errs = append(errs, errors.New("MaxPageSize must be greater than 0"))
	}
	if cfg.MaxDictionaryPageSize <= 0 {
		errs = append(errs, errors.New("MaxDictionaryPageSize must be greater than 0"))
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, errors.New("BatchSize must be greater than 0"))
	}
	if cfg.RowGroupConcurrency <= 0 {
		errs = append(errs, errors.New("RowGroupConcurrency must be greater than 0"))
	}
	if cfg.SchemaName == "" {
		errs = append(errs, errors.New("SchemaName must not be empty"))
	}

	return errors.Join(errs...)
}

// ReaderConfig configures a [Reader].
type ReaderConfig struct {
	// Prefetch enables fetching the column chunks of a row group up front.
	Prefetch bool `yaml:"prefetch"`

	// WholeGroupPrefetchRatio is the share of a row group's bytes a scan
	// must need before the whole row group is fetched in one request.
	WholeGroupPrefetchRatio float64 `yaml:"whole_group_prefetch_ratio"`

	// MergeGap is the largest gap between two column chunks that are still
	// fetched together.
	MergeGap flagext.Bytes `yaml:"merge_gap"`

	// FallbackBufferSize is the read-ahead for reads that were not
	// prefetched.
	FallbackBufferSize flagext.Bytes `yaml:"fallback_buffer_size"`

	// BatchSize is the maximum number of rows returned by [Reader.Scan].
	BatchSize int `yaml:"batch_size"`
}

// RegisterFlags registers flags with the default prefix.
func (cfg *ReaderConfig) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("parquet.reader.", f)
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *ReaderConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	_ = cfg.MergeGap.Set("16KB")
	_ = cfg.FallbackBufferSize.Set("1MB")

	f.BoolVar(&cfg.Prefetch, prefix+"prefetch", true, "Fetch the column chunks of a row group before decoding it.")
	f.Float64Var(&cfg.WholeGroupPrefetchRatio, prefix+"whole-group-prefetch-ratio", 0.95, "Fetch a whole row group in one request when a scan needs more than this share of its bytes.")
	f.Var(&cfg.MergeGap, prefix+"merge-gap", "Largest gap between two column chunks that are fetched in one request.")
	f.Var(&cfg.FallbackBufferSize, prefix+"fallback-buffer-size", "Read-ahead for reads that were not prefetched.")
	f.IntVar(&cfg.BatchSize, prefix+"batch-size", 2048, "Maximum number of rows per scanned batch.")
}

// Validate validates the ReaderConfig.
func (cfg *ReaderConfig) Validate() error {
	var errs []error

	if cfg.WholeGroupPrefetchRatio < 0 || cfg.WholeGroupPrefetchRatio > 1 {
		errs = append(errs, errors.New("WholeGroupPrefetchRatio must be between 0 and 1"))
	}
	if cfg.FallbackBufferSize <= 0 {
		errs = append(errs, errors.New("FallbackBufferSize must be greater than 0"))
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, errors.New("BatchSize must be greater than 0"))
	}

	return errors.Join(errs...)
}

// Config is the configuration file layout.
type Config struct {
	Writer WriterConfig `yaml:"writer"`
	Reader ReaderConfig `yaml:"reader"`
}

// RegisterFlags registers the flags of both configs.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.Writer.RegisterFlags(f)
	cfg.Reader.RegisterFlags(f)
}

// Validate validates both configs.
func (cfg *Config) Validate() error {
	return errors.Join(cfg.Writer.Validate(), cfg.Reader.Validate())
}

// DefaultConfig returns the configuration with every flag at its default.
func DefaultConfig() Config {
	var cfg Config
	flagext.DefaultValues(&cfg)
	return cfg
}

// LoadConfig reads a YAML configuration from r on top of the defaults and
// validates it.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	buf, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
