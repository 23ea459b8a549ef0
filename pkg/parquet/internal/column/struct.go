package column

import (
	"github.com/grafana/parquetcodec/pkg/columnar"
)

// structWriter computes levels for a STRUCT (or the key/value entries of a
// MAP) and passes each field array to the matching child.
type structWriter struct {
	base
	children []Writer
}

var _ Writer = (*structWriter)(nil)

func (w *structWriter) HasAnalyze() bool {
	for _, child := range w.children {
		if child.HasAnalyze() {
			return true
		}
	}
	return false
}

func (w *structWriter) Analyze(s *States, arr columnar.Array) {
	fields := arr.(*columnar.Struct).FieldArrays()
	for i, child := range w.children {
		if child.HasAnalyze() {
			child.Analyze(s, fields[i])
		}
	}
}

func (w *structWriter) FinalizeAnalyze(s *States) {
	for _, child := range w.children {
		if child.HasAnalyze() {
			child.FinalizeAnalyze(s)
		}
	}
}

func (w *structWriter) Prepare(s *States, parent *State, arr columnar.Array) error {
	st := s.get(w.id)
	if parent != nil {
		for st.IsEmpty.Len() < parent.IsEmpty.Len() {
			st.IsEmpty.Append(parent.IsEmpty.Get(st.IsEmpty.Len()))
		}
	} else {
		st.IsEmpty.AppendCount(false, arr.Len())
	}

	vcount := arr.Len()
	if parent != nil {
		vcount = len(parent.DefLevels) - len(st.DefLevels)
	}
	w.handleRepeatLevels(st, parent, vcount)
	if _, err := w.handleDefineLevels(st, parent, arr, defineValid, w.maxDefine-1); err != nil {
		return err
	}

	fields := arr.(*columnar.Struct).FieldArrays()
	for i, child := range w.children {
		if err := child.Prepare(s, st, fields[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *structWriter) BeginWrite(s *States) error {
	for _, child := range w.children {
		if err := child.BeginWrite(s); err != nil {
			return err
		}
	}
	return nil
}

func (w *structWriter) Write(s *States, arr columnar.Array) error {
	fields := arr.(*columnar.Struct).FieldArrays()
	for i, child := range w.children {
		if err := child.Write(s, fields[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *structWriter) FinalizeWrite(s *States, out Sink) error {
	for _, child := range w.children {
		if err := child.FinalizeWrite(s, out); err != nil {
			return err
		}
	}
	return nil
}
