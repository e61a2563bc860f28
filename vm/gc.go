package vm

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
)

// collect runs a stop-the-world collection. A full collection first
// evacuates the whole young generation into the old one and then
// mark-compacts the old generation.
func (h *Heap) collect(full bool, reason string) {
	if h.collecting {
		panic(invariantf("reentrant collection (%s)", reason))
	}
	h.collecting = true
	start := time.Now()
	before := h.total()

	if full {
		h.collectYoung(true)
		h.compactOld()
		h.grow(h.oldBytes)
		h.stats.FullCollections++
	} else {
		h.collectYoung(false)
		h.stats.MinorCollections++
	}

	pause := time.Since(start)
	h.stats.LastPause = pause
	h.stats.TotalPause += pause
	h.collecting = false

	if gcLog.AllowLevel(commonlog.Debug) {
		kind := "minor"
		if full {
			kind = "full"
		}
		gcLog.Debugf("%s collection (%s): %s -> %s, young %s, old %s, pause %s",
			kind, reason,
			humanize.IBytes(uint64(before)), humanize.IBytes(uint64(h.total())),
			humanize.IBytes(uint64(h.youngBytes)), humanize.IBytes(uint64(h.oldBytes)), pause)
	}
	if h.opts.VerifyHeap {
		if err := h.verify(); err != nil {
			panic(err)
		}
	}
}

// collectYoung copies live young cells. Survivors old enough, or all of them
// when promoteAll is set, move to the old generation. The to-space and the
// tail of the old generation double as the work list.
func (h *Heap) collectYoung(promoteAll bool) {
	from := h.young
	to := h.spare[:0]
	if cap(h.fwd) < len(from) {
		h.fwd = make([]Ref, len(from))
	}
	fwd := h.fwd[:len(from)]
	clear(fwd)
	firstPromoted := len(h.old)
	var promoted uint64

	evacuate := func(v *Value) {
		if !v.IsPointer() {
			return
		}
		r := v.AsRef()
		if r.IsOld() {
			return
		}
		i := r.index()
		if i < 0 || i >= len(from) {
			panic(invariantf("dangling young reference %s", r))
		}
		if f := fwd[i]; f != 0 {
			*v = RefValue(f)
			return
		}
		c := from[i]
		hdr := c.header()
		if hdr.age < 255 {
			hdr.age++
		}
		var nr Ref
		if promoteAll || int(hdr.age) >= h.opts.PromotionAge {
			size := c.size()
			nr = oldRef(len(h.old))
			h.old = append(h.old, c)
			h.oldBytes += size
			promoted += uint64(size)
		} else {
			nr = youngRef(len(to))
			to = append(to, c)
		}
		hdr.ref = nr
		fwd[i] = nr
		*v = RefValue(nr)
	}

	h.roots.visitRoots(evacuate)
	for _, c := range h.pending {
		c.visitPointers(evacuate)
	}
	for _, r := range h.remembered {
		h.old[r.index()].visitPointers(evacuate)
	}
	for scan, pscan := 0, firstPromoted; scan < len(to) || pscan < len(h.old); {
		for ; scan < len(to); scan++ {
			to[scan].visitPointers(evacuate)
		}
		for ; pscan < len(h.old); pscan++ {
			h.old[pscan].visitPointers(evacuate)
		}
	}

	resolve := func(v *Value) {
		if !v.IsPointer() {
			return
		}
		r := v.AsRef()
		if r.IsOld() {
			return
		}
		if f := fwd[r.index()]; f != 0 {
			*v = RefValue(f)
		} else {
			*v = Undefined
		}
	}
	holders := h.weakHolders[:0]
	for _, r := range h.weakHolders {
		if !r.IsOld() {
			r = fwd[r.index()]
			if r == 0 {
				continue
			}
		}
		holders = append(holders, r)
		// h.young still names the from-space here.
		var c HeapCell
		if r.IsOld() {
			c = h.old[r.index()]
		} else {
			c = to[r.index()]
		}
		c.(weakCell).visitWeak(resolve)
	}
	h.weakHolders = holders
	h.roots.visitWeakRoots(resolve)

	for i, c := range from {
		if fwd[i] == 0 {
			c.header().ref = 0
		}
	}

	// Rebuild the remembered set from the cells that can still point young.
	candidates := h.remembered
	h.remembered = make([]Ref, 0, len(candidates))
	rescan := func(c HeapCell) {
		hdr := c.header()
		hdr.remembered = false
		young := false
		c.visitPointers(func(v *Value) {
			if v.IsPointer() && !v.AsRef().IsOld() {
				young = true
			}
		})
		if young {
			hdr.remembered = true
			h.remembered = append(h.remembered, hdr.ref)
		}
	}
	for _, r := range candidates {
		rescan(h.old[r.index()])
	}
	for _, c := range h.old[firstPromoted:] {
		rescan(c)
	}

	bytes := 0
	for _, c := range to {
		bytes += c.size()
	}
	clear(from)
	h.spare = from[:0]
	h.young = to
	h.youngBytes = bytes
	h.stats.PromotedBytes += promoted
}

// compactOld mark-compacts the old generation. The young generation must be
// empty. Marking uses an explicit stack; compaction slides live cells down
// in address order so relative order is preserved.
func (h *Heap) compactOld() {
	if len(h.young) != 0 {
		panic(invariantf("full collection with %d young cells", len(h.young)))
	}
	old := h.old
	if cap(h.marks) < len(old) {
		h.marks = make([]bool, len(old))
	}
	marks := h.marks[:len(old)]
	clear(marks)
	stack := h.markStack[:0]

	mark := func(v *Value) {
		if !v.IsPointer() {
			return
		}
		r := v.AsRef()
		i := r.index()
		if !r.IsOld() || i >= len(old) {
			panic(invariantf("unexpected reference %s while marking", r))
		}
		if !marks[i] {
			marks[i] = true
			stack = append(stack, i)
		}
	}
	h.roots.visitRoots(mark)
	for _, c := range h.pending {
		c.visitPointers(mark)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		old[i].visitPointers(mark)
	}
	h.markStack = stack[:0]

	if cap(h.fwd) < len(old) {
		h.fwd = make([]Ref, len(old))
	}
	fwd := h.fwd[:len(old)]
	n := 0
	for i := range old {
		if marks[i] {
			fwd[i] = oldRef(n)
			n++
		} else {
			fwd[i] = 0
		}
	}

	resolve := func(v *Value) {
		if !v.IsPointer() {
			return
		}
		i := v.AsRef().index()
		if marks[i] {
			*v = RefValue(fwd[i])
		} else {
			*v = Undefined
		}
	}
	holders := h.weakHolders[:0]
	for _, r := range h.weakHolders {
		i := r.index()
		if !marks[i] {
			continue
		}
		old[i].(weakCell).visitWeak(resolve)
		holders = append(holders, fwd[i])
	}
	h.weakHolders = holders
	h.roots.visitWeakRoots(resolve)

	forward := func(v *Value) {
		if !v.IsPointer() {
			return
		}
		i := v.AsRef().index()
		if !marks[i] {
			panic(invariantf("live cell references unmarked %s", v.AsRef()))
		}
		*v = RefValue(fwd[i])
	}
	h.roots.visitRoots(forward)
	for _, c := range h.pending {
		c.visitPointers(forward)
	}
	for i, c := range old {
		if marks[i] {
			c.visitPointers(forward)
		}
	}

	n = 0
	bytes := 0
	for i, c := range old {
		hdr := c.header()
		if !marks[i] {
			hdr.ref = 0
			continue
		}
		old[n] = c
		hdr.ref = oldRef(n)
		hdr.remembered = false
		bytes += c.size()
		n++
	}
	clear(old[n:])
	h.old = old[:n]
	h.oldBytes = bytes
	h.remembered = h.remembered[:0]
}
