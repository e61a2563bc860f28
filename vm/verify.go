package vm

import "fmt"

// verify walks the roots and every cell checking that each pointer resolves
// to a cell that knows its own address, and that every old cell holding a
// young pointer is in the remembered set. A failure means a missing write
// barrier or a collector bug.
func (h *Heap) verify() error {
	var failure *InvariantError
	lookup := func(r Ref) HeapCell {
		i := r.index()
		if r.IsOld() {
			if i < len(h.old) {
				return h.old[i]
			}
			return nil
		}
		if i >= 0 && i < len(h.young) {
			return h.young[i]
		}
		return nil
	}
	checkPointer := func(where string, v Value) bool {
		if !v.IsPointer() {
			return true
		}
		r := v.AsRef()
		c := lookup(r)
		if c == nil {
			failure = invariantf("%s: dangling reference %s", where, r)
			return false
		}
		if c.header().ref != r {
			failure = invariantf("%s: %s resolves to a cell at %s", where, r, c.header().ref)
			return false
		}
		return true
	}

	h.roots.visitRoots(func(v *Value) {
		if failure == nil {
			checkPointer("root", *v)
		}
	})
	if failure != nil {
		return failure
	}

	visit := func(c HeapCell) {
		hdr := c.header()
		where := fmt.Sprintf("%s %s", hdr.kind, hdr.ref)
		c.visitPointers(func(v *Value) {
			if failure != nil || !checkPointer(where, *v) {
				return
			}
			if hdr.ref.IsOld() && v.IsPointer() && !v.AsRef().IsOld() && !hdr.remembered {
				failure = invariantf("%s: young pointer %s not in remembered set", where, v.AsRef())
			}
		})
	}
	for _, c := range h.young {
		if failure == nil {
			visit(c)
		}
	}
	for _, c := range h.old {
		if failure == nil {
			visit(c)
		}
	}
	if failure != nil {
		return failure
	}
	return nil
}

// VerifyHeap checks heap consistency. It is intended for tests and debug
// builds of hosts; it does not allocate.
func (rt *Runtime) VerifyHeap() error {
	return rt.heap.verify()
}
