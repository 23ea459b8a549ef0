package columnar

import (
	"context"
	"io"
)

// BatchSource yields record batches. Next returns a batch of at most max rows
// and io.EOF once the source is exhausted.
type BatchSource interface {
	Next(ctx context.Context, max int) (RecordBatch, error)
}

type sliceSource struct {
	batches []RecordBatch
	offset  int64 // rows of batches[0] already returned
}

// NewBatchSource returns a BatchSource over batches. Batches longer than the
// requested maximum are returned in pieces.
func NewBatchSource(batches ...RecordBatch) BatchSource {
	return &sliceSource{batches: batches}
}

func (s *sliceSource) Next(ctx context.Context, max int) (RecordBatch, error) {
	if err := ctx.Err(); err != nil {
		return RecordBatch{}, err
	}
	for len(s.batches) > 0 && s.batches[0].NumRows() == s.offset {
		s.batches = s.batches[1:]
		s.offset = 0
	}
	if len(s.batches) == 0 {
		return RecordBatch{}, io.EOF
	}

	rb := s.batches[0]
	if s.offset == 0 && (max <= 0 || rb.NumRows() <= int64(max)) {
		s.offset = rb.NumRows()
		return rb, nil
	}
	end := rb.NumRows()
	if max > 0 {
		end = min(end, s.offset+int64(max))
	}
	out := rb.Slice(s.offset, end)
	s.offset = end
	return out, nil
}

// ReadAll drains src into a slice of batches.
func ReadAll(ctx context.Context, src BatchSource, max int) ([]RecordBatch, error) {
	var out []RecordBatch
	for {
		rb, err := src.Next(ctx, max)
		if err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, err
		}
		out = append(out, rb)
	}
}
