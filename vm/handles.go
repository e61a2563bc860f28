package vm

// Scoped handles.
//
// Native code that needs a heap value after something that may allocate
// keeps it in a Handle. Handles live in a root stack scanned by the
// collector, so Get always returns the value's current address. A Scope
// releases every handle created since it was opened; scopes nest strictly.

type scopeRecord struct {
	mark   int // length of the handle stack when the scope opened
	serial uint64
}

// Scope groups handles released together.
type Scope struct {
	rt     *Runtime
	depth  int
	serial uint64
}

// Handle is a rooted reference valid until its scope closes.
type Handle struct {
	rt     *Runtime
	index  int
	depth  int
	serial uint64
}

// OpenScope starts a handle scope. Callers must Close it, normally with
// defer, on every exit path.
func (rt *Runtime) OpenScope() *Scope {
	rt.scopeSerial++
	rt.scopes = append(rt.scopes, scopeRecord{mark: len(rt.handles), serial: rt.scopeSerial})
	return &Scope{rt: rt, depth: len(rt.scopes) - 1, serial: rt.scopeSerial}
}

// Handle roots v for the lifetime of the scope.
func (s *Scope) Handle(v Value) Handle {
	rt := s.rt
	if s.depth != len(rt.scopes)-1 || rt.scopes[s.depth].serial != s.serial {
		panic(invariantf("handle created in a scope that is not innermost"))
	}
	rt.handles = append(rt.handles, v)
	return Handle{rt: rt, index: len(rt.handles) - 1, depth: s.depth, serial: s.serial}
}

// Close releases every handle of the scope.
func (s *Scope) Close() {
	rt := s.rt
	if s.depth >= len(rt.scopes) || rt.scopes[s.depth].serial != s.serial {
		// Already closed, possibly by an outer scope unwinding.
		return
	}
	if s.depth != len(rt.scopes)-1 {
		panic(invariantf("handle scope closed out of order"))
	}
	rt.handles = rt.handles[:rt.scopes[s.depth].mark]
	rt.scopes = rt.scopes[:s.depth]
}

func (h Handle) check() {
	rt := h.rt
	if rt == nil || h.depth >= len(rt.scopes) || rt.scopes[h.depth].serial != h.serial || h.index >= len(rt.handles) {
		panic(invariantf("use of a released handle"))
	}
}

// Get returns the current value.
func (h Handle) Get() Value {
	h.check()
	return h.rt.handles[h.index]
}

// Set replaces the rooted value.
func (h Handle) Set(v Value) {
	h.check()
	h.rt.handles[h.index] = v
}

// protect is the internal fast path: it pushes v on the handle stack and
// returns its index. The caller restores the stack with unprotect.
func (rt *Runtime) protect(v Value) int {
	rt.handles = append(rt.handles, v)
	return len(rt.handles) - 1
}

func (rt *Runtime) unprotect(mark int) {
	rt.handles = rt.handles[:mark]
}

func (rt *Runtime) handleMark() int { return len(rt.handles) }

// Pinned is a handle not tied to a scope. It stays valid until Release.
type Pinned struct {
	rt    *Runtime
	index int
	live  bool
}

// Pin roots v until the returned handle is released.
func (rt *Runtime) Pin(v Value) *Pinned {
	var i int
	if n := len(rt.pinFree); n > 0 {
		i = rt.pinFree[n-1]
		rt.pinFree = rt.pinFree[:n-1]
		rt.pins[i] = v
	} else {
		i = len(rt.pins)
		rt.pins = append(rt.pins, v)
	}
	return &Pinned{rt: rt, index: i, live: true}
}

// Get returns the current value.
func (p *Pinned) Get() Value {
	if !p.live {
		panic(invariantf("use of a released pinned handle"))
	}
	return p.rt.pins[p.index]
}

// Set replaces the pinned value.
func (p *Pinned) Set(v Value) {
	if !p.live {
		panic(invariantf("use of a released pinned handle"))
	}
	p.rt.pins[p.index] = v
}

// Release unpins the value. Releasing twice is a no-op.
func (p *Pinned) Release() {
	if !p.live {
		return
	}
	p.live = false
	p.rt.pins[p.index] = Undefined
	p.rt.pinFree = append(p.rt.pinFree, p.index)
}

// RegisterRoots adds an auxiliary root provider. The function is called
// with a visitor for every collection; it must pass a pointer to each Value
// it owns.
func (rt *Runtime) RegisterRoots(fn func(visit func(*Value))) {
	rt.extraRoots = append(rt.extraRoots, fn)
}
