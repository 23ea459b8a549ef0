package column

import (
	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
)

// listWriter computes levels for a LIST (or the outer group of a MAP) and
// hands the concatenated elements to its child.
type listWriter struct {
	base
	child Writer
}

var _ Writer = (*listWriter)(nil)

func (w *listWriter) HasAnalyze() bool { return w.child.HasAnalyze() }

func (w *listWriter) Analyze(s *States, arr columnar.Array) {
	w.child.Analyze(s, arr.(*columnar.List).Values())
}

func (w *listWriter) FinalizeAnalyze(s *States) { w.child.FinalizeAnalyze(s) }

func (w *listWriter) Prepare(s *States, parent *State, arr columnar.Array) error {
	var (
		st     = s.get(w.id)
		list   = arr.(*columnar.List)
		start  = st.parentIndex
		vcount = arr.Len()
	)
	if parent != nil {
		vcount = len(parent.DefLevels) - start
	}

	push := func(rep, def uint16, empty bool) {
		st.RepLevels = append(st.RepLevels, rep)
		st.DefLevels = append(st.DefLevels, def)
		st.IsEmpty.Append(empty)
	}

	var vectorIdx int
	for i := range vcount {
		parentIdx := start + i
		if parent != nil && parent.IsEmpty.Get(parentIdx) {
			push(parent.RepLevels[parentIdx], parent.DefLevels[parentIdx], true)
			continue
		}

		firstRep := w.maxRepeat
		if parent != nil {
			firstRep = parent.RepLevels[parentIdx]
		}

		switch {
		case parent != nil && parent.DefLevels[parentIdx] != defineValid:
			push(firstRep, parent.DefLevels[parentIdx], true)

		case list.IsNull(vectorIdx):
			if !w.canHaveNulls {
				return errdefs.Constraintf(w.pathString(), "%s", w.nullMsg)
			}
			push(firstRep, w.maxDefine-1, true)

		default:
			from, to := list.ValueOffsets(vectorIdx)
			if from == to {
				push(firstRep, w.maxDefine, true)
				break
			}
			push(firstRep, defineValid, false)
			for range to - from - 1 {
				push(w.maxRepeat+1, defineValid, false)
			}
		}
		vectorIdx++
	}
	st.parentIndex += vcount

	return w.child.Prepare(s, st, list.Values())
}

func (w *listWriter) BeginWrite(s *States) error { return w.child.BeginWrite(s) }

func (w *listWriter) Write(s *States, arr columnar.Array) error {
	return w.child.Write(s, arr.(*columnar.List).Values())
}

func (w *listWriter) FinalizeWrite(s *States, out Sink) error {
	return w.child.FinalizeWrite(s, out)
}
