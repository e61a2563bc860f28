package vm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Live object enumeration
// ---------------------------------------------------------------------------

// CellInfo describes one heap cell.
type CellInfo struct {
	Ref  Ref
	Kind CellKind
	Size int
	Name string // class, function name, string preview or shape summary
}

// ForEachLiveObject runs a full collection and then calls fn for every
// surviving cell until fn returns false. The cells are listed before fn
// runs, so fn may allocate; references it receives are valid until the
// next allocation.
func (rt *Runtime) ForEachLiveObject(fn func(CellInfo) bool) {
	for _, info := range rt.liveCells() {
		if !fn(info) {
			return
		}
	}
}

func (rt *Runtime) liveCells() []CellInfo {
	rt.checkSafePoint()
	rt.heap.collect(true, "introspection")
	out := make([]CellInfo, 0, len(rt.heap.young)+len(rt.heap.old))
	rt.heap.forEachCell(func(c HeapCell) {
		h := c.header()
		out = append(out, CellInfo{Ref: h.ref, Kind: h.kind, Size: c.size(), Name: rt.cellName(c)})
	})
	return out
}

func (rt *Runtime) checkSafePoint() {
	if rt.heap.collecting {
		panic(invariantf("heap introspection during a collection"))
	}
}

const namePreview = 40

func (rt *Runtime) cellName(c HeapCell) string {
	switch c := c.(type) {
	case *String:
		if len(c.s) > namePreview {
			return c.s[:namePreview] + "..."
		}
		return c.s
	case *Object:
		if c.fn != nil {
			return "function " + c.functionName()
		}
		return c.class.String()
	case *Shape:
		if c.dictionary {
			return fmt.Sprintf("dictionary shape (%d fields)", len(c.fields))
		}
		return fmt.Sprintf("shape (%d fields)", len(c.fields))
	case *Environment:
		return fmt.Sprintf("environment (%d slots)", len(c.slots))
	}
	return c.header().kind.String()
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// Snapshot is the reachable heap graph at one point in time.
type Snapshot struct {
	ID    uuid.UUID      `cbor:"1,keyasint"`
	Taken time.Time      `cbor:"2,keyasint"`
	Nodes []SnapshotNode `cbor:"3,keyasint"`
	Edges []SnapshotEdge `cbor:"4,keyasint"`
	Roots []uint32       `cbor:"5,keyasint"`
	Stats HeapStats      `cbor:"6,keyasint"`
}

// SnapshotNode is one cell. ID is the cell's reference at snapshot time.
type SnapshotNode struct {
	ID   uint32 `cbor:"1,keyasint"`
	Kind string `cbor:"2,keyasint"`
	Size int    `cbor:"3,keyasint"`
	Name string `cbor:"4,keyasint"`
}

// SnapshotEdge is one strong reference between cells.
type SnapshotEdge struct {
	From  uint32 `cbor:"1,keyasint"`
	To    uint32 `cbor:"2,keyasint"`
	Label string `cbor:"3,keyasint"`
}

// TotalSize sums the node sizes.
func (s *Snapshot) TotalSize() int {
	n := 0
	for _, node := range s.Nodes {
		n += node.Size
	}
	return n
}

// TakeSnapshot runs a full collection and records every surviving cell
// with its outgoing references.
func (rt *Runtime) TakeSnapshot() *Snapshot {
	rt.checkSafePoint()
	rt.heap.collect(true, "snapshot")
	snap := &Snapshot{ID: uuid.New(), Taken: time.Now().UTC(), Stats: rt.heap.Stats()}

	rt.heap.forEachCell(func(c HeapCell) {
		h := c.header()
		from := uint32(h.ref)
		snap.Nodes = append(snap.Nodes, SnapshotNode{ID: from, Kind: h.kind.String(), Size: c.size(), Name: rt.cellName(c)})
		rt.visitLabeled(c, func(label string, v Value) {
			if v.IsPointer() {
				snap.Edges = append(snap.Edges, SnapshotEdge{From: from, To: uint32(v.AsRef()), Label: label})
			}
		})
	})

	seen := make(map[uint32]bool)
	rt.visitRoots(func(v *Value) {
		if v.IsPointer() && !seen[uint32(v.AsRef())] {
			seen[uint32(v.AsRef())] = true
			snap.Roots = append(snap.Roots, uint32(v.AsRef()))
		}
	})
	rt.log.Infof("snapshot %s: %d nodes, %d edges", snap.ID, len(snap.Nodes), len(snap.Edges))
	return snap
}

// visitLabeled reports the strong references of c with edge labels.
func (rt *Runtime) visitLabeled(c HeapCell, visit func(label string, v Value)) {
	switch c := c.(type) {
	case *Object:
		visit("shape", c.shape)
		s := rt.shape(c.shape)
		for i, v := range c.slots {
			label := fmt.Sprintf("slot%d", i)
			if i < len(s.fields) {
				label = s.fields[i].key
			}
			visit(label, v)
		}
		for i, v := range c.elements {
			visit(fmt.Sprintf("[%d]", i), v)
		}
		for i, v := range c.sparse {
			visit(fmt.Sprintf("[%d]", i), v)
		}
		visit("rootShape", c.rootShape)
		if c.fn != nil {
			visit("environment", c.fn.env)
		}
		if c.gen != nil {
			visit("callee", c.gen.callee)
			visit("this", c.gen.this)
			visit("sent", c.gen.sent)
			for i, v := range c.gen.regs {
				visit(fmt.Sprintf("r%d", i), v)
			}
		}
		if c.iter != nil {
			visit("target", c.iter.target)
		}
	case *Shape:
		visit("proto", c.proto)
		visit("parent", c.parent)
	case *Environment:
		visit("parent", c.parent)
		for i, v := range c.slots {
			visit(fmt.Sprintf("slot%d", i), v)
		}
	default:
		n := 0
		c.visitPointers(func(v *Value) {
			visit(fmt.Sprintf("#%d", n), *v)
			n++
		})
	}
}
