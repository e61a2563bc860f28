package vm

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("protovm.gc")

// rootSource supplies the root set to the collector. Weak roots are visited
// after tracing and may be cleared.
type rootSource interface {
	visitRoots(visit func(*Value))
	visitWeakRoots(visit func(*Value))
}

// HeapStats is a snapshot of allocator and collector counters.
type HeapStats struct {
	YoungBytes       int
	OldBytes         int
	PeakBytes        int
	FullThreshold    int
	LiveCells        int
	Allocations      uint64
	MinorCollections uint64
	FullCollections  uint64
	PromotedBytes    uint64
	LastPause        time.Duration
	TotalPause       time.Duration
}

// Heap is a two generation moving heap. The young generation is a bump
// allocated cell vector collected by copying; the old generation is a dense
// cell vector collected by sliding mark-compact.
type Heap struct {
	opts *Options

	young      []HeapCell
	youngBytes int
	spare      []HeapCell

	old           []HeapCell
	oldBytes      int
	fullThreshold int

	remembered  []Ref
	weakHolders []Ref

	roots      rootSource
	pending    []HeapCell
	collecting bool

	// scratch reused between collections
	fwd       []Ref
	marks     []bool
	markStack []int

	stats HeapStats
}

func newHeap(opts *Options, roots rootSource) *Heap {
	return &Heap{
		opts:          opts,
		young:         make([]HeapCell, 0, 1024),
		fullThreshold: min(opts.InitialOldSize, opts.MaxHeapSize-opts.YoungSize),
		roots:         roots,
	}
}

func (h *Heap) total() int { return h.youngBytes + h.oldBytes }

func (h *Heap) notePeak() {
	if t := h.total(); t > h.stats.PeakBytes {
		h.stats.PeakBytes = t
	}
}

// allocate places c in the heap and returns its reference. It may collect;
// c itself is treated as a root while that happens. When no space can be
// found below the ceiling it panics with a *ResourceError wrapping
// ErrOutOfMemory.
func (h *Heap) allocate(c HeapCell) Ref {
	if h.collecting {
		panic(invariantf("allocation of %s during collection", c.header().kind))
	}
	size := c.size()
	if size >= h.opts.LargeObjectSize {
		return h.allocateOld(c, size)
	}
	if h.youngBytes+size > h.opts.YoungSize || h.total()+size > h.opts.MaxHeapSize {
		h.pending = append(h.pending, c)
		err := h.makeRoom(size)
		h.pending = h.pending[:len(h.pending)-1]
		if err != nil {
			panic(err)
		}
	}
	r := youngRef(len(h.young))
	h.young = append(h.young, c)
	h.youngBytes += size
	hdr := c.header()
	hdr.ref = r
	hdr.age = 0
	h.stats.Allocations++
	h.notePeak()
	return r
}

func (h *Heap) allocateOld(c HeapCell, size int) Ref {
	if h.oldBytes+size > h.fullThreshold || h.total()+size > h.opts.MaxHeapSize {
		h.pending = append(h.pending, c)
		h.collect(true, "large allocation")
		h.pending = h.pending[:len(h.pending)-1]
		if h.total()+size > h.opts.MaxHeapSize {
			panic(h.outOfMemory(size))
		}
		if h.oldBytes+size > h.fullThreshold {
			h.grow(h.oldBytes + size)
		}
	}
	r := oldRef(len(h.old))
	h.old = append(h.old, c)
	h.oldBytes += size
	hdr := c.header()
	hdr.ref = r
	// The cell may have been built holding young references.
	h.remember(hdr)
	h.stats.Allocations++
	h.notePeak()
	return r
}

// makeRoom frees young space for an allocation of size bytes, escalating
// from a minor collection to a full one and finally to out of memory.
func (h *Heap) makeRoom(size int) *ResourceError {
	full := false
	if h.total() > h.fullThreshold {
		h.collect(true, "old generation threshold")
		full = true
	} else {
		h.collect(false, "young generation full")
		if h.youngBytes+size > h.opts.YoungSize {
			h.collect(true, "young survivors exceed nursery")
			full = true
		}
	}
	if h.total()+size > h.opts.MaxHeapSize && !full {
		h.collect(true, "heap ceiling")
	}
	if h.total()+size > h.opts.MaxHeapSize {
		return h.outOfMemory(size)
	}
	return nil
}

func (h *Heap) outOfMemory(size int) *ResourceError {
	gcLog.Errorf("heap exhausted: requested %s with %s live of %s",
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(h.total())), humanize.IBytes(uint64(h.opts.MaxHeapSize)))
	return &ResourceError{Err: ErrOutOfMemory, Detail: "heap ceiling " + humanize.IBytes(uint64(h.opts.MaxHeapSize)) + " reached"}
}

// grow raises the full collection threshold so that at least need old bytes
// fit, doubling where the ceiling allows.
func (h *Heap) grow(need int) {
	limit := h.opts.MaxHeapSize - h.opts.YoungSize
	next := max(2*h.oldBytes, need, h.opts.InitialOldSize)
	next = min(next, limit)
	if next < need {
		next = need
	}
	if next != h.fullThreshold {
		gcLog.Debugf("old generation threshold %s -> %s",
			humanize.IBytes(uint64(h.fullThreshold)), humanize.IBytes(uint64(next)))
	}
	h.fullThreshold = next
}

// reserve makes room for the live cell c to grow by delta bytes. It is a
// collection point: the caller keeps c reachable and treats every unprotected
// reference as stale afterwards. Growth that cannot fit below the ceiling
// returns a *ResourceError wrapping ErrOutOfMemory and leaves c unchanged.
func (h *Heap) reserve(c HeapCell, delta int) *ResourceError {
	if delta <= 0 {
		return nil
	}
	if h.collecting {
		panic(invariantf("growth of %s during collection", c.header().kind))
	}
	hdr := c.header()
	fits := func() bool {
		if h.total()+delta > h.opts.MaxHeapSize {
			return false
		}
		if hdr.ref.IsOld() {
			return h.oldBytes+delta <= h.fullThreshold
		}
		return h.youngBytes+delta <= h.opts.YoungSize
	}
	if fits() {
		return nil
	}
	if !hdr.ref.IsOld() && h.total() <= h.fullThreshold && h.total()+delta <= h.opts.MaxHeapSize {
		h.collect(false, "young cell growth")
		if fits() {
			return nil
		}
	}
	// A full collection leaves c in the old generation.
	h.collect(true, "cell growth")
	if h.total()+delta > h.opts.MaxHeapSize {
		return h.outOfMemory(delta)
	}
	if h.oldBytes+delta > h.fullThreshold {
		h.grow(h.oldBytes + delta)
	}
	return nil
}

// charge accounts for a cell whose storage grew or shrank by delta bytes.
// Growth must be preceded by reserve.
func (h *Heap) charge(c HeapCell, delta int) {
	if delta == 0 {
		return
	}
	if c.header().ref.IsOld() {
		h.oldBytes += delta
	} else {
		h.youngBytes += delta
	}
	h.notePeak()
}

// cell resolves a reference. A reference to a reclaimed or never allocated
// slot is heap corruption.
func (h *Heap) cell(r Ref) HeapCell {
	i := r.index()
	var c HeapCell
	if r.IsOld() {
		if i < len(h.old) {
			c = h.old[i]
		}
	} else if i >= 0 && i < len(h.young) {
		c = h.young[i]
	}
	if c == nil {
		panic(invariantf("dangling reference %s", r))
	}
	return c
}

// cellOf resolves a pointer value.
func (h *Heap) cellOf(v Value) HeapCell {
	return h.cell(v.AsRef())
}

// writeBarrier must run after every store of v into the cell holder. An old
// holder that now references a young cell joins the remembered set.
func (h *Heap) writeBarrier(holder HeapCell, v Value) {
	if !v.IsPointer() || v.AsRef().IsOld() {
		return
	}
	hdr := holder.header()
	if hdr.ref.IsOld() && !hdr.remembered {
		hdr.remembered = true
		h.remembered = append(h.remembered, hdr.ref)
	}
}

// recordWrite remembers an old holder after a bulk store.
func (h *Heap) recordWrite(holder HeapCell) {
	h.remember(holder.header())
}

func (h *Heap) remember(hdr *cellHeader) {
	if hdr.ref.IsOld() && !hdr.remembered {
		hdr.remembered = true
		h.remembered = append(h.remembered, hdr.ref)
	}
}

// registerWeak records a cell that holds weak references so the collector
// can clear or forward them.
func (h *Heap) registerWeak(c HeapCell) {
	h.weakHolders = append(h.weakHolders, c.header().ref)
}

// Stats returns the current counters.
func (h *Heap) Stats() HeapStats {
	s := h.stats
	s.YoungBytes = h.youngBytes
	s.OldBytes = h.oldBytes
	s.FullThreshold = h.fullThreshold
	s.LiveCells = len(h.young) + len(h.old)
	return s
}

// forEachCell visits every allocated cell, young first. Cells unreachable
// since the last collection are included.
func (h *Heap) forEachCell(fn func(HeapCell)) {
	for _, c := range h.young {
		fn(c)
	}
	for _, c := range h.old {
		fn(c)
	}
}
