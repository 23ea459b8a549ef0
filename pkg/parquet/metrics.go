package parquet

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type writerMetrics struct {
	rowGroups    prometheus.Counter
	rows         prometheus.Counter
	pages        *prometheus.CounterVec
	bytesWritten *prometheus.CounterVec
	pageSize     prometheus.Histogram
}

func newWriterMetrics() *writerMetrics {
	return &writerMetrics{
		rowGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parquetcodec_writer_row_groups_total",
			Help: "Total number of row groups written.",
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parquetcodec_writer_rows_total",
			Help: "Total number of rows written.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parquetcodec_writer_pages_total",
			Help: "Total number of pages written.",
		}, []string{"codec"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parquetcodec_writer_bytes_total",
			Help: "Total number of column chunk bytes written, after compression.",
		}, []string{"codec"}),
		pageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:                            "parquetcodec_writer_page_size_bytes",
			Help:                            "Compressed size of written pages.",
			Buckets:                         prometheus.ExponentialBuckets(256, 4, 10),
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),
	}
}

func (m *writerMetrics) register(reg prometheus.Registerer) error {
	var errs []error
	m.rowGroups = registerOrReuse(reg, m.rowGroups, &errs)
	m.rows = registerOrReuse(reg, m.rows, &errs)
	m.pages = registerOrReuse(reg, m.pages, &errs)
	m.bytesWritten = registerOrReuse(reg, m.bytesWritten, &errs)
	m.pageSize = registerOrReuse(reg, m.pageSize, &errs)
	return errors.Join(errs...)
}

type readerMetrics struct {
	ioRequests  prometheus.Counter
	ioBytes     prometheus.Counter
	pages       *prometheus.CounterVec
	rowsScanned prometheus.Counter
}

func newReaderMetrics() *readerMetrics {
	return &readerMetrics{
		ioRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parquetcodec_reader_io_requests_total",
			Help: "Total number of range requests issued against files.",
		}),
		ioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parquetcodec_reader_io_bytes_total",
			Help: "Total number of bytes fetched from files.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parquetcodec_reader_pages_total",
			Help: "Total number of pages decoded.",
		}, []string{"type"}),
		rowsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parquetcodec_reader_rows_total",
			Help: "Total number of rows scanned.",
		}),
	}
}

func (m *readerMetrics) register(reg prometheus.Registerer) error {
	var errs []error
	m.ioRequests = registerOrReuse(reg, m.ioRequests, &errs)
	m.ioBytes = registerOrReuse(reg, m.ioBytes, &errs)
	m.pages = registerOrReuse(reg, m.pages, &errs)
	m.rowsScanned = registerOrReuse(reg, m.rowsScanned, &errs)
	return errors.Join(errs...)
}

// registerOrReuse registers c with reg. If an identical collector is already
// registered, that collector is returned instead so several writers or
// readers can share a registerer. A nil reg registers nothing.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T, errs *[]error) T {
	if reg == nil {
		return c
	}
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	*errs = append(*errs, err)
	return c
}
