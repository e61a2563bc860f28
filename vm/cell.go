package vm

import "fmt"

// Ref addresses a cell in the managed heap. The high bit selects the
// generation and the remaining bits index the generation's cell vector.
// Young references are offset by one so that Ref(0) is never valid.
type Ref uint32

const oldGenBit Ref = 1 << 31

func youngRef(idx int) Ref { return Ref(idx + 1) }
func oldRef(idx int) Ref   { return oldGenBit | Ref(idx) }

// IsOld reports whether r points into the old generation.
func (r Ref) IsOld() bool { return r&oldGenBit != 0 }

func (r Ref) index() int {
	if r.IsOld() {
		return int(r &^ oldGenBit)
	}
	return int(r) - 1
}

func (r Ref) String() string {
	if r == 0 {
		return "@nil"
	}
	if r.IsOld() {
		return fmt.Sprintf("@old:%d", r.index())
	}
	return fmt.Sprintf("@young:%d", r.index())
}

// CellKind tags every heap cell so the collector and the introspection
// interface can classify it without knowing its Go type.
type CellKind uint8

const (
	KindString CellKind = iota + 1
	KindObject
	KindShape
	KindEnvironment
	KindAccessor
)

var cellKindNames = map[CellKind]string{
	KindString:      "string",
	KindObject:      "object",
	KindShape:       "shape",
	KindEnvironment: "environment",
	KindAccessor:    "accessor",
}

func (k CellKind) String() string {
	if name, ok := cellKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// cellHeader is embedded in every heap cell.
type cellHeader struct {
	kind       CellKind
	age        uint8 // young collections survived
	remembered bool  // present in the remembered set
	ref        Ref   // current address, 0 once reclaimed
}

func (h *cellHeader) header() *cellHeader { return h }

// HeapCell is the contract every managed allocation implements. size reports
// the accounted extent in bytes and visitPointers enumerates every strong
// pointer field so tracing never needs kind-specific code.
type HeapCell interface {
	header() *cellHeader
	size() int
	visitPointers(visit func(*Value))
}

// weakCell is implemented by cells holding references that must not keep
// their targets alive. visitWeak receives each weak slot; the collector
// either forwards it or overwrites it with Undefined.
type weakCell interface {
	visitWeak(visit func(*Value))
}

// Accounted sizes. They model a compact native layout rather than the Go
// structs backing the cells.
const (
	valueBytes       = 8
	cellHeaderBytes  = 16
	objectBaseBytes  = cellHeaderBytes + 48
	shapeBaseBytes   = cellHeaderBytes + 40
	shapeFieldBytes  = 16
	envBaseBytes     = cellHeaderBytes + 16
	stringBaseBytes  = cellHeaderBytes + 8
	accessorBytes    = cellHeaderBytes + 2*valueBytes
	sparseEntryBytes = 16
)
