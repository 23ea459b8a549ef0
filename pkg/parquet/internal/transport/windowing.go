package transport

import (
	"cmp"
	"iter"
	"slices"
)

// Range is a span of bytes in a file.
type Range struct {
	Offset int64
	Length int64

	// Merge allows the range to be coalesced with neighbouring ranges.
	Merge bool
}

// End returns the offset one past the last byte of the range.
func (r Range) End() int64 { return r.Offset + r.Length }

// iterWindows groups ranges into windows covering one contiguous read each,
// returning an iterator over the windows. Two neighbouring ranges share a
// window when both allow merging and the gap between them is at most gap
// bytes; overlapping ranges always share a window. The input slice is not
// modified.
func iterWindows(ranges []Range, gap int64) iter.Seq[Range] {
	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b Range) int {
		return cmp.Or(cmp.Compare(a.Offset, b.Offset), cmp.Compare(a.Length, b.Length))
	})

	return func(yield func(Range) bool) {
		if len(sorted) == 0 {
			return
		}

		window := sorted[0]
		for _, r := range sorted[1:] {
			switch {
			case r.Offset <= window.End():
				// Overlapping or adjacent ranges are read together.
				window.Length = max(window.End(), r.End()) - window.Offset
				window.Merge = window.Merge && r.Merge

			case window.Merge && r.Merge && r.Offset-window.End() <= gap:
				window.Length = r.End() - window.Offset

			default:
				if !yield(window) {
					return
				}
				window = r
			}
		}
		yield(window)
	}
}
