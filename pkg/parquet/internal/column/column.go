// Package column implements the recursive column writers and readers that map
// nested columnar arrays onto Parquet repetition and definition levels.
//
// Writers form a tree mirroring the logical type: leaves produce column
// chunks, lists and structs only compute levels for their descendants.
// Writers hold no per-row-group data; everything mutable lives in a States
// arena indexed by column id, so one writer tree can prepare several row
// groups concurrently.
package column

import (
	"io"
	"math"
	"strings"

	"github.com/parquet-go/parquet-go/format"

	"github.com/grafana/parquetcodec/pkg/columnar"
	"github.com/grafana/parquetcodec/pkg/memory"
	"github.com/grafana/parquetcodec/pkg/parquet/errdefs"
)

// defineValid marks a slot whose definition level is decided by a
// descendant.
const defineValid = math.MaxUint16

const (
	// DefaultMaxPageSize is the default estimated uncompressed size at which
	// a data page is closed.
	DefaultMaxPageSize = 100_000_000

	// DefaultMaxDictionaryPageSize is the default estimated dictionary size
	// above which a column falls back to plain encoding.
	DefaultMaxDictionaryPageSize = 1_000_000_000

	// DefaultMaxStringStatisticsSize is the default size above which string
	// values suppress min/max statistics.
	DefaultMaxStringStatisticsSize = 10_000

	maxDictionaryKeySize = 4
	stringLengthSize     = 4
	intervalSize         = 12
	uuidSize             = 16
)

// Options configures the column writers of a file.
type Options struct {
	Codec                   format.CompressionCodec
	MaxPageSize             int
	MaxDictionaryPageSize   int
	MaxStringStatisticsSize int
	DistinctCount           bool

	// ObservePage, if set, is called for every page written by FinalizeWrite.
	ObservePage PageObserver
}

func (o Options) withDefaults() Options {
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = DefaultMaxPageSize
	}
	if o.MaxDictionaryPageSize <= 0 {
		o.MaxDictionaryPageSize = DefaultMaxDictionaryPageSize
	}
	return o
}

// Sink receives the pages of finalized column chunks.
type Sink interface {
	io.Writer

	// Offset returns the absolute file offset of the next byte written.
	Offset() int64
}

// A Writer lowers one logical column (and its descendants) into Parquet
// column chunks. The pipeline for each row group is Analyze (only when
// HasAnalyze), FinalizeAnalyze, Prepare, BeginWrite, Write and FinalizeWrite.
type Writer interface {
	// ID returns the pre-order index of the writer, used to look up its State.
	ID() int

	// SchemaIndex returns the index of the writer's element in the flattened
	// schema.
	SchemaIndex() int

	// Path returns the names of the schema elements from the top-level field
	// down to this writer.
	Path() []string

	MaxRepeat() uint16
	MaxDefine() uint16

	// HasAnalyze reports whether the writer or any descendant needs an
	// analysis pass before Prepare.
	HasAnalyze() bool

	Analyze(s *States, arr columnar.Array)
	FinalizeAnalyze(s *States)

	// Prepare computes levels and the page plan for arr. parent is nil for
	// top-level columns.
	Prepare(s *States, parent *State, arr columnar.Array) error

	BeginWrite(s *States) error
	Write(s *States, arr columnar.Array) error

	// FinalizeWrite flushes every page of the writer's column chunks to w
	// and fills in the chunk metadata.
	FinalizeWrite(s *States, w Sink) error
}

// State is the per-row-group state of one writer.
type State struct {
	DefLevels []uint16
	RepLevels []uint16

	// IsEmpty marks slots that have no element in the child array: null or
	// empty lists and slots inherited from such lists. Only lists and
	// structs track it.
	IsEmpty memory.Bitmap

	// parentIndex is the number of parent slots consumed by a list.
	parentIndex int

	leaf *leafState
}

// States is the arena of writer states for one row group.
type States struct {
	RowGroup format.RowGroup
	states   []State
}

func (s *States) get(id int) *State { return &s.states[id] }

// base holds the attributes common to every writer.
type base struct {
	id           int
	schemaIdx    int
	path         []string
	maxRepeat    uint16
	maxDefine    uint16
	canHaveNulls bool
	nullMsg      string
}

func (b *base) ID() int           { return b.id }
func (b *base) SchemaIndex() int  { return b.schemaIdx }
func (b *base) Path() []string    { return b.path }
func (b *base) MaxRepeat() uint16 { return b.maxRepeat }
func (b *base) MaxDefine() uint16 { return b.maxDefine }

func (b *base) pathString() string { return strings.Join(b.path, ".") }

// handleRepeatLevels extends st's repetition levels to cover count new slots.
// Columns below a parent copy its levels; top-level columns are never
// repeated and use level 0.
func (b *base) handleRepeatLevels(st, parent *State, count int) {
	if parent == nil {
		for range count {
			st.RepLevels = append(st.RepLevels, 0)
		}
		return
	}
	for len(st.RepLevels) < len(parent.RepLevels) {
		st.RepLevels = append(st.RepLevels, parent.RepLevels[len(st.RepLevels)])
	}
}

// handleDefineLevels extends st's definition levels. Slots where the parent
// level is already decided copy it; otherwise the slot gets defineValue for
// a valid element of arr and nullValue for a null. It returns the number of
// nulls found in arr.
func (b *base) handleDefineLevels(st, parent *State, arr columnar.Array, defineValue, nullValue uint16) (int, error) {
	var nulls int

	if parent == nil {
		for i := range arr.Len() {
			if !arr.IsNull(i) {
				st.DefLevels = append(st.DefLevels, defineValue)
				continue
			}
			if !b.canHaveNulls {
				return nulls, errdefs.Constraintf(b.pathString(), "%s", b.nullMsg)
			}
			nulls++
			st.DefLevels = append(st.DefLevels, nullValue)
		}
		return nulls, nil
	}

	var vectorIdx int
	for len(st.DefLevels) < len(parent.DefLevels) {
		cur := len(st.DefLevels)
		switch {
		case parent.DefLevels[cur] != defineValid:
			st.DefLevels = append(st.DefLevels, parent.DefLevels[cur])
		case !arr.IsNull(vectorIdx):
			st.DefLevels = append(st.DefLevels, defineValue)
		default:
			if !b.canHaveNulls {
				return nulls, errdefs.Constraintf(b.pathString(), "%s", b.nullMsg)
			}
			nulls++
			st.DefLevels = append(st.DefLevels, nullValue)
		}
		if !parent.IsEmpty.Get(cur) {
			vectorIdx++
		}
	}
	return nulls, nil
}
