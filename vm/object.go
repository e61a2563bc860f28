package vm

import "sort"

// Class distinguishes objects with internal state or virtual properties.
type Class uint8

const (
	ClassObject Class = iota
	ClassArray
	ClassFunction
	ClassError
	ClassGenerator
	ClassArrayIterator
)

var classNames = [...]string{
	ClassObject:        "Object",
	ClassArray:         "Array",
	ClassFunction:      "Function",
	ClassError:         "Error",
	ClassGenerator:     "Generator",
	ClassArrayIterator: "Array Iterator",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "Object"
}

// Object is the heap cell behind every script object. Named properties live
// in slots laid out by the shape; integer keyed properties live in elements,
// or in sparse once they are too far apart to store densely.
type Object struct {
	cellHeader
	class Class

	extensible bool
	sealed     bool // elements are non-configurable
	frozen     bool // elements are read-only
	indexNamed bool // some index keys are stored in the shape

	lengthReadOnly bool

	shape    Value
	slots    []Value
	elements []Value // Empty marks holes
	sparse   map[uint32]Value
	length   uint32 // arrays only

	rootShape Value // empty shape for objects inheriting from this one

	fn       *functionData
	gen      *generatorData
	iter     *iteratorData
	errStack []StackFrame
}

type iteratorData struct {
	target Value
	index  uint32
}

func (o *Object) size() int {
	n := objectBaseBytes + valueBytes*(len(o.slots)+len(o.elements)) + sparseEntryBytes*len(o.sparse)
	if o.gen != nil {
		n += valueBytes * len(o.gen.regs)
	}
	return n
}

func (o *Object) visitPointers(visit func(*Value)) {
	visit(&o.shape)
	for i := range o.slots {
		visit(&o.slots[i])
	}
	for i := range o.elements {
		visit(&o.elements[i])
	}
	for k, v := range o.sparse {
		if v.IsPointer() {
			visit(&v)
			o.sparse[k] = v
		}
	}
	visit(&o.rootShape)
	if o.fn != nil {
		visit(&o.fn.env)
	}
	if o.gen != nil {
		o.gen.visitPointers(visit)
	}
	if o.iter != nil {
		visit(&o.iter.target)
	}
}

// Class reports the object's class.
func (o *Object) Class() Class { return o.class }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// newObjectWithShape allocates an object with the given shape and slot
// values. shape and slots are rooted through the pending cell.
// May trigger GC.
func (rt *Runtime) newObjectWithShape(class Class, shape Value, slots []Value) *Object {
	o := &Object{
		cellHeader: cellHeader{kind: KindObject},
		class:      class,
		extensible: true,
		shape:      shape,
		slots:      slots,
		rootShape:  Undefined,
	}
	rt.heap.allocate(o)
	return o
}

// newObject allocates an empty object inheriting from proto. May trigger GC.
func (rt *Runtime) newObject(class Class, proto Value) *Object {
	mark := rt.protect(proto)
	shape := rt.rootShapeFor(proto)
	rt.unprotect(mark)
	return rt.newObjectWithShape(class, shape, nil)
}

// NewObject allocates a plain object. May trigger GC.
func (rt *Runtime) NewObject() Value {
	return selfValue(rt.newObject(ClassObject, rt.realm[rootObjectProto]))
}

// NewObjectWithProto allocates an object with the given prototype, which
// must be Null or an object. May trigger GC.
func (rt *Runtime) NewObjectWithProto(proto Value) Value {
	return selfValue(rt.newObject(ClassObject, proto))
}

// NewArray allocates an array holding a copy of items. May trigger GC.
func (rt *Runtime) NewArray(items ...Value) Value {
	mark := rt.handleMark()
	for _, v := range items {
		rt.protect(v)
	}
	o := rt.newObject(ClassArray, rt.realm[rootArrayProto])
	if len(items) > 0 {
		rt.reserve(o, valueBytes*len(items))
		o.elements = append([]Value(nil), rt.handles[mark:mark+len(items)]...)
		o.length = uint32(len(items))
		rt.heap.recordWrite(o)
		rt.heap.charge(o, valueBytes*len(items))
	}
	rt.unprotect(mark)
	return selfValue(o)
}

// ---------------------------------------------------------------------------
// Indexed storage
// ---------------------------------------------------------------------------

func (o *Object) getElement(i uint32) (Value, bool) {
	if int64(i) < int64(len(o.elements)) {
		v := o.elements[i]
		return v, v != Empty
	}
	if o.sparse != nil {
		v, ok := o.sparse[i]
		return v, ok
	}
	return Undefined, false
}

func (o *Object) hasElement(i uint32) bool {
	_, ok := o.getElement(i)
	return ok
}

// setElement stores v at index i, growing dense storage while the index is
// close to the current capacity and switching to sparse storage otherwise.
// o must be reachable. Growth may trigger GC.
func (rt *Runtime) setElement(o *Object, i uint32, v Value) {
	n := len(o.elements)
	dense := o.sparse == nil && int64(i) <= int64(max(2*n, n+rt.opts.SparseGap))
	if int64(i) >= int64(n) {
		delta := sparseEntryBytes
		if dense {
			delta = valueBytes * (int(i) + 1 - n)
		} else if _, ok := o.sparse[i]; ok {
			delta = 0
		}
		if delta > 0 {
			mark := rt.protect(v)
			rt.reserve(o, delta)
			v = rt.handles[mark]
			rt.unprotect(mark)
		}
	}

	before := o.size()
	switch {
	case int64(i) < int64(n):
		o.elements[i] = v
	case dense:
		for len(o.elements) < int(i) {
			o.elements = append(o.elements, Empty)
		}
		o.elements = append(o.elements, v)
	default:
		if o.sparse == nil {
			o.sparse = make(map[uint32]Value)
		}
		o.sparse[i] = v
	}
	if o.class == ClassArray && i >= o.length {
		o.length = i + 1
	}
	rt.barrier(o, v)
	rt.heap.charge(o, o.size()-before)
}

func (rt *Runtime) deleteElement(o *Object, i uint32) {
	before := o.size()
	if int64(i) < int64(len(o.elements)) {
		o.elements[i] = Empty
		// Keep dense storage free of trailing holes.
		n := len(o.elements)
		for n > 0 && o.elements[n-1] == Empty {
			n--
		}
		clear(o.elements[n:])
		o.elements = o.elements[:n]
	} else if o.sparse != nil {
		delete(o.sparse, i)
	}
	rt.heap.charge(o, o.size()-before)
}

// setLength changes an array's length, deleting elements at or above it.
func (rt *Runtime) setLength(o *Object, n uint32) {
	before := o.size()
	if int64(n) < int64(len(o.elements)) {
		clear(o.elements[n:])
		o.elements = o.elements[:n]
	}
	for i := range o.sparse {
		if i >= n {
			delete(o.sparse, i)
		}
	}
	o.length = n
	rt.heap.charge(o, o.size()-before)
}

// elementAttrs returns the attributes shared by every element.
func (o *Object) elementAttrs() Attr {
	a := AttrDefault
	if o.sealed {
		a &^= AttrConfigurable
	}
	if o.frozen {
		a &^= AttrWritable | AttrConfigurable
	}
	return a
}

// elementIndices returns the indices present in indexed storage, ascending.
func (o *Object) elementIndices() []uint32 {
	var out []uint32
	for i, v := range o.elements {
		if v != Empty {
			out = append(out, uint32(i))
		}
	}
	if len(o.sparse) > 0 {
		sparse := make([]uint32, 0, len(o.sparse))
		for i := range o.sparse {
			sparse = append(sparse, i)
		}
		sort.Slice(sparse, func(a, b int) bool { return sparse[a] < sparse[b] })
		out = append(out, sparse...)
	}
	return out
}
