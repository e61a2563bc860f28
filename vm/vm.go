package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Runtime: one isolated VM instance
// ---------------------------------------------------------------------------

// Runtime owns a heap, a register stack and a realm. It is not safe for
// concurrent use; independent Runtimes share nothing and may run on
// different goroutines.
type Runtime struct {
	opts Options
	heap *Heap
	log  commonlog.Logger

	// Register stack. Frames own windows of it; it is never reallocated.
	stack       []Value
	sp          int
	frames      []*frame
	nativeDepth int

	// Roots held for native code.
	handles     []Value
	scopes      []scopeRecord
	scopeSerial uint64
	pins        []Value
	pinFree     []int
	extraRoots  []func(visit func(*Value))

	realm       [numRealmRoots]Value
	thrown      Value
	thrownStack []StackFrame
	yielded     bool

	modules []*loadedModule

	interrupted atomic.Bool
}

// Well-known values owned by the runtime.
const (
	rootGlobal = iota
	rootObjectProto
	rootFunctionProto
	rootArrayProto
	rootErrorProto
	rootTypeErrorProto
	rootRangeErrorProto
	rootReferenceErrorProto
	rootSyntaxErrorProto
	rootTimeoutErrorProto
	rootGeneratorProto
	rootArrayIteratorProto
	rootStringProto
	rootNumberProto
	rootBooleanProto
	rootNullShape
	rootFunctionShape
	rootIterResultShape
	rootOOMError
	rootEmptyString
	numRealmRoots
)

// New creates a runtime and initialises its realm.
func New(opts Options) (*Runtime, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	rt := &Runtime{
		opts:   opts,
		log:    commonlog.GetLogger("protovm.interp"),
		stack:  make([]Value, opts.StackSize),
		frames: make([]*frame, 0, 64),
		thrown: Undefined,
	}
	for i := range rt.realm {
		rt.realm[i] = Undefined
	}
	rt.heap = newHeap(&rt.opts, rt)
	rt.initRealm()
	return rt, nil
}

// MustNew is New for hosts with static options.
func MustNew(opts Options) *Runtime {
	rt, err := New(opts)
	if err != nil {
		panic(err)
	}
	return rt
}

// Options returns the configuration the runtime was created with.
func (rt *Runtime) Options() Options { return rt.opts }

// Global returns the global object.
func (rt *Runtime) Global() Value { return rt.realm[rootGlobal] }

// HeapStats reports allocator and collector counters.
func (rt *Runtime) HeapStats() HeapStats { return rt.heap.Stats() }

// Collect forces a collection. It must not be called from inside a
// collection; natives and hosts may call it at any other time.
func (rt *Runtime) Collect(full bool) {
	rt.heap.collect(full, "requested")
}

// ---------------------------------------------------------------------------
// Root enumeration
// ---------------------------------------------------------------------------

func (rt *Runtime) visitRoots(visit func(*Value)) {
	for i := 0; i < rt.sp; i++ {
		visit(&rt.stack[i])
	}
	for i := range rt.handles {
		visit(&rt.handles[i])
	}
	for i := range rt.pins {
		visit(&rt.pins[i])
	}
	for i := range rt.realm {
		visit(&rt.realm[i])
	}
	visit(&rt.thrown)
	for _, m := range rt.modules {
		m.visitRoots(visit)
	}
	for _, fn := range rt.extraRoots {
		fn(visit)
	}
}

func (rt *Runtime) visitWeakRoots(visit func(*Value)) {
	for _, m := range rt.modules {
		for _, cb := range m.code {
			for i := range cb.caches {
				cb.caches[i].visitWeak(visit)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Typed cell access
// ---------------------------------------------------------------------------

// object returns the object cell behind v. It panics if v is not an object.
func (rt *Runtime) object(v Value) *Object {
	o, ok := rt.heap.cellOf(v).(*Object)
	if !ok {
		panic(invariantf("%s is not an object", v.AsRef()))
	}
	return o
}

// asObject returns the object cell behind v, if any.
func (rt *Runtime) asObject(v Value) (*Object, bool) {
	if !v.IsPointer() {
		return nil, false
	}
	o, ok := rt.heap.cellOf(v).(*Object)
	return o, ok
}

// IsObject reports whether v is an object (functions included).
func (rt *Runtime) IsObject(v Value) bool {
	_, ok := rt.asObject(v)
	return ok
}

func (rt *Runtime) shape(v Value) *Shape {
	s, ok := rt.heap.cellOf(v).(*Shape)
	if !ok {
		panic(invariantf("%s is not a shape", v.AsRef()))
	}
	return s
}

func (rt *Runtime) environment(v Value) *Environment {
	e, ok := rt.heap.cellOf(v).(*Environment)
	if !ok {
		panic(invariantf("%s is not an environment", v.AsRef()))
	}
	return e
}

// barrier records a store of v into the cell c.
func (rt *Runtime) barrier(c HeapCell, v Value) {
	rt.heap.writeBarrier(c, v)
}

// reserve makes room for c to grow by delta bytes, keeping c alive across
// the collection it may run. It panics with a *ResourceError wrapping
// ErrOutOfMemory when the heap ceiling would be exceeded. May trigger GC.
func (rt *Runtime) reserve(c HeapCell, delta int) {
	if delta <= 0 {
		return
	}
	mark := rt.protect(selfValue(c))
	err := rt.heap.reserve(c, delta)
	rt.unprotect(mark)
	if err != nil {
		panic(err)
	}
}

// selfValue returns the current value of a live cell.
func selfValue(c HeapCell) Value {
	r := c.header().ref
	if r == 0 {
		panic(invariantf("use of a reclaimed %s cell", c.header().kind))
	}
	return RefValue(r)
}
