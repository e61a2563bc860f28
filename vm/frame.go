package vm

// ---------------------------------------------------------------------------
// Frames and call records
// ---------------------------------------------------------------------------

// A call record occupies the register stack as
//
//	[callee, this, newTarget, arg0, arg1, ...]
//
// For script functions the arguments become registers 0..argc-1 of the new
// frame and the first three slots its header. Generator frames keep the
// generator object in the newTarget slot.
const frameHeader = 3

// frame is one activation of a script function. Frames hold no heap
// references; everything they need lives in the register stack.
type frame struct {
	code      *codeBlock
	base      int // stack index of register 0
	ip        int // next instruction
	opStart   int // current instruction
	retReg    int // stack index receiving the result, unused for entry frames
	entry     bool
	construct bool
	generator bool
}

// pushFrame returns a fresh frame on top of the frame stack. Frame structs
// are reused and never move while they are live.
func (rt *Runtime) pushFrame() *frame {
	n := len(rt.frames)
	if n < cap(rt.frames) {
		rt.frames = rt.frames[:n+1]
	} else {
		rt.frames = append(rt.frames, nil)
	}
	f := rt.frames[n]
	if f == nil {
		f = new(frame)
		rt.frames[n] = f
	}
	*f = frame{}
	return f
}

func (rt *Runtime) popFrame() {
	n := len(rt.frames) - 1
	rt.frames[n].code = nil
	rt.frames = rt.frames[:n]
}

// Depth returns the number of active script frames.
func (rt *Runtime) Depth() int { return len(rt.frames) }

// pushRecord writes a call record at the top of the stack.
func (rt *Runtime) pushRecord(fn, this, newTarget Value, args []Value) (int, error) {
	start := rt.sp
	if start+frameHeader+len(args) > len(rt.stack) {
		return 0, rt.throwStackOverflow()
	}
	rt.stack[start] = fn
	rt.stack[start+1] = this
	rt.stack[start+2] = newTarget
	copy(rt.stack[start+frameHeader:], args)
	rt.sp = start + frameHeader + len(args)
	return start, nil
}

// enterScript turns the call record at start into a frame of f.
func (rt *Runtime) enterScript(f *Object, start, argc, retReg int, entry, construct bool) error {
	info := f.fn.code.info
	base := start + frameHeader
	if len(rt.frames) >= rt.opts.MaxFrames || base+info.FrameSize > len(rt.stack) {
		return rt.throwStackOverflow()
	}
	for i := min(argc, info.ParamCount); i < info.FrameSize; i++ {
		rt.stack[base+i] = Undefined
	}
	rt.sp = base + info.FrameSize
	if !info.Strict && rt.stack[base-2].IsNullish() {
		rt.stack[base-2] = rt.realm[rootGlobal]
	}
	fr := rt.pushFrame()
	fr.code = f.fn.code
	fr.base = base
	fr.retReg = retReg
	fr.entry = entry
	fr.construct = construct
	return nil
}

// constructThis replaces the this slot of the record at start with a new
// object inheriting from the callee's prototype property.
func (rt *Runtime) constructThis(start int) error {
	proto, err := rt.getProperty(rt.stack[start], keyFromString("prototype"))
	if err != nil {
		return err
	}
	if !rt.IsObject(proto) {
		proto = rt.realm[rootObjectProto]
	}
	rt.stack[start+1] = selfValue(rt.newObject(ClassObject, proto))
	rt.stack[start+2] = rt.stack[start]
	return nil
}

func (rt *Runtime) callNative(f *Object, start, argc int) (Value, error) {
	args := &Args{rt: rt, base: start + frameHeader, n: argc}
	v, err := f.fn.native.fn(rt, args)
	if err != nil {
		return Undefined, rt.absorbError(err)
	}
	return v, nil
}

// callRecord performs the call described by the record at start. Script
// callees get a new frame; when pushed is true the caller must continue in
// the dispatch loop, otherwise the result is returned directly.
func (rt *Runtime) callRecord(start, argc int, construct, entry bool, retReg int) (result Value, pushed bool, err error) {
	callee := rt.stack[start]
	f, ok := rt.asObject(callee)
	if !ok || f.fn == nil {
		return Undefined, false, rt.throwTypeError("%s is not a function", rt.describe(callee))
	}
	if construct && !rt.isConstructor(f) {
		return Undefined, false, rt.throwTypeError("%s is not a constructor", rt.describe(callee))
	}
	if f.fn.native != nil {
		v, err := rt.callNative(f, start, argc)
		return v, false, err
	}
	if f.fn.code.info.Generator {
		v, err := rt.newGenerator(start, argc)
		return v, false, err
	}
	if construct {
		if err := rt.constructThis(start); err != nil {
			return Undefined, false, err
		}
	}
	if err := rt.enterScript(f, start, argc, retReg, entry, construct); err != nil {
		return Undefined, false, err
	}
	return Undefined, true, nil
}

// invoke calls fn from Go, re-entering the dispatch loop for script
// callees. newTarget is Undefined for plain calls.
func (rt *Runtime) invoke(fn, this, newTarget Value, args []Value) (Value, error) {
	if rt.nativeDepth >= rt.opts.MaxNativeDepth {
		return Undefined, rt.throwStackOverflow()
	}
	start, err := rt.pushRecord(fn, this, newTarget, args)
	if err != nil {
		return Undefined, err
	}
	rt.nativeDepth++
	defer func() {
		rt.nativeDepth--
		rt.sp = start
	}()
	v, pushed, err := rt.callRecord(start, len(args), newTarget != Undefined, true, 0)
	if err != nil || !pushed {
		return v, err
	}
	return rt.execute()
}

// callInternal calls fn with this and args. May run script and trigger GC.
func (rt *Runtime) callInternal(fn, this Value, args []Value) (Value, error) {
	return rt.invoke(fn, this, Undefined, args)
}

func (rt *Runtime) constructInternal(fn Value, args []Value) (Value, error) {
	return rt.invoke(fn, Undefined, fn, args)
}

// describe renders a value for error messages without running script.
func (rt *Runtime) describe(v Value) string {
	if s, ok := rt.stringOf(v); ok {
		return "\"" + s + "\""
	}
	if o, ok := rt.asObject(v); ok {
		if o.fn != nil {
			return "function " + o.functionName()
		}
		return "object"
	}
	s, _ := rt.toGoString(v)
	return s
}
