package vm

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

type generatorState uint8

const (
	genSuspendedStart generatorState = iota
	genSuspendedYield
	genExecuting
	genCompleted
)

type resumeAction uint8

const (
	resumeNext resumeAction = iota
	resumeReturn
	resumeThrow
)

// generatorData is the saved activation of a suspended generator. While
// the generator runs its registers live on the register stack; Yield copies
// them back here.
type generatorData struct {
	code   *codeBlock
	state  generatorState
	ip     int
	regs   []Value
	callee Value
	this   Value
	sent   Value
	action resumeAction
}

func (g *generatorData) visitPointers(visit func(*Value)) {
	visit(&g.callee)
	visit(&g.this)
	visit(&g.sent)
	for i := range g.regs {
		visit(&g.regs[i])
	}
}

// newGenerator creates the generator object for a call of a generator
// function described by the record at start. The body does not run yet.
func (rt *Runtime) newGenerator(start, argc int) (Value, error) {
	proto, err := rt.getProperty(rt.stack[start], keyFromString("prototype"))
	if err != nil {
		return Undefined, err
	}
	if !rt.IsObject(proto) {
		proto = rt.realm[rootGeneratorProto]
	}
	mark := rt.protect(proto)
	shape := rt.rootShapeFor(proto)
	rt.unprotect(mark)

	f := rt.object(rt.stack[start])
	info := f.fn.code.info
	regs := make([]Value, info.FrameSize)
	for i := range regs {
		regs[i] = Undefined
	}
	copy(regs, rt.stack[start+frameHeader:start+frameHeader+min(argc, info.ParamCount)])
	this := rt.stack[start+1]
	if !info.Strict && this.IsNullish() {
		this = rt.realm[rootGlobal]
	}
	o := &Object{
		cellHeader: cellHeader{kind: KindObject},
		class:      ClassGenerator,
		extensible: true,
		shape:      shape,
		rootShape:  Undefined,
		gen: &generatorData{
			code:   f.fn.code,
			regs:   regs,
			callee: rt.stack[start],
			this:   this,
			sent:   Undefined,
		},
	}
	return RefValue(rt.heap.allocate(o)), nil
}

// finishGenerator marks a generator completed and drops its registers.
func (rt *Runtime) finishGenerator(o *Object) {
	before := o.size()
	o.gen.state = genCompleted
	o.gen.regs = nil
	o.gen.sent = Undefined
	rt.heap.charge(o, o.size()-before)
}

// resumeGenerator runs the generator genValue until it yields, returns or
// throws. done reports whether it has completed. May run script and
// trigger GC.
func (rt *Runtime) resumeGenerator(genValue Value, action resumeAction, sent Value) (result Value, done bool, err error) {
	o, ok := rt.asObject(genValue)
	if !ok || o.gen == nil {
		return Undefined, true, rt.throwTypeError("generator method called on incompatible receiver %s", rt.describe(genValue))
	}
	g := o.gen
	switch g.state {
	case genExecuting:
		return Undefined, true, rt.throwTypeError("Generator is already running")
	case genCompleted:
		switch action {
		case resumeReturn:
			return sent, true, nil
		case resumeThrow:
			return Undefined, true, rt.throwValue(sent)
		}
		return Undefined, true, nil
	case genSuspendedStart:
		switch action {
		case resumeReturn:
			rt.finishGenerator(o)
			return sent, true, nil
		case resumeThrow:
			rt.finishGenerator(o)
			return Undefined, true, rt.throwValue(sent)
		}
	}

	if rt.nativeDepth >= rt.opts.MaxNativeDepth || len(rt.frames) >= rt.opts.MaxFrames {
		return Undefined, true, rt.throwStackOverflow()
	}
	info := g.code.info
	start := rt.sp
	if start+frameHeader+info.FrameSize > len(rt.stack) {
		return Undefined, true, rt.throwStackOverflow()
	}
	rt.stack[start] = g.callee
	rt.stack[start+1] = g.this
	rt.stack[start+2] = genValue
	base := start + frameHeader
	copy(rt.stack[base:base+info.FrameSize], g.regs)
	rt.sp = base + info.FrameSize
	g.sent, g.action = sent, action
	g.state = genExecuting

	fr := rt.pushFrame()
	fr.code = g.code
	fr.base = base
	fr.ip = g.ip
	fr.entry = true
	fr.generator = true

	rt.nativeDepth++
	defer func() {
		rt.nativeDepth--
		rt.sp = start
	}()
	v, err := rt.execute()
	if err != nil {
		return Undefined, true, err
	}
	if rt.yielded {
		rt.yielded = false
		return v, false, nil
	}
	return v, true, nil
}

// yield suspends the generator running in fr, saving its registers.
func (rt *Runtime) yield(fr *frame) {
	o := rt.object(rt.stack[fr.base-1])
	g := o.gen
	copy(g.regs, rt.stack[fr.base:fr.base+len(g.regs)])
	rt.heap.recordWrite(o)
	g.ip = fr.ip
	g.state = genSuspendedYield
	rt.yielded = true
}

// newIterResult allocates {value, done}. May trigger GC.
func (rt *Runtime) newIterResult(v Value, done bool) Value {
	o := rt.newObjectWithShape(ClassObject, rt.realm[rootIterResultShape], []Value{v, BoolValue(done)})
	return selfValue(o)
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// newArrayIterator allocates an iterator over the indexed values of target.
// May trigger GC.
func (rt *Runtime) newArrayIterator(target Value) Value {
	mark := rt.protect(target)
	shape := rt.rootShapeFor(rt.realm[rootArrayIteratorProto])
	o := &Object{
		cellHeader: cellHeader{kind: KindObject},
		class:      ClassArrayIterator,
		extensible: true,
		shape:      shape,
		rootShape:  Undefined,
		iter:       &iteratorData{target: rt.handles[mark]},
	}
	rt.unprotect(mark)
	return RefValue(rt.heap.allocate(o))
}

// getIterator returns an iterator for v: arrays and strings get an array
// iterator, generators and objects with a next method iterate themselves.
func (rt *Runtime) getIterator(v Value) (Value, error) {
	if rt.IsString(v) {
		return rt.newArrayIterator(v), nil
	}
	o, ok := rt.asObject(v)
	if !ok {
		return Undefined, rt.throwTypeError("%s is not iterable", rt.describe(v))
	}
	switch {
	case o.class == ClassArray:
		return rt.newArrayIterator(v), nil
	case o.gen != nil, o.iter != nil:
		return v, nil
	}
	next, err := rt.getProperty(v, keyFromString("next"))
	if err != nil {
		return Undefined, err
	}
	if !rt.IsCallable(next) {
		return Undefined, rt.throwTypeError("%s is not iterable", rt.describe(v))
	}
	return selfValue(o), nil
}

// iteratorStep advances it and returns the next value. May run script and
// trigger GC.
func (rt *Runtime) iteratorStep(it Value) (Value, bool, error) {
	o, ok := rt.asObject(it)
	if !ok {
		return Undefined, true, rt.throwTypeError("%s is not an iterator", rt.describe(it))
	}
	switch {
	case o.iter != nil:
		return rt.arrayIteratorStep(o)
	case o.gen != nil:
		return rt.resumeGenerator(it, resumeNext, Undefined)
	}
	mark := rt.protect(it)
	defer rt.unprotect(mark)
	next, err := rt.getProperty(it, keyFromString("next"))
	if err != nil {
		return Undefined, true, err
	}
	r, err := rt.callInternal(next, rt.handles[mark], nil)
	if err != nil {
		return Undefined, true, err
	}
	if !rt.IsObject(r) {
		return Undefined, true, rt.throwTypeError("Iterator result %s is not an object", rt.describe(r))
	}
	rm := rt.protect(r)
	done, err := rt.getProperty(r, keyFromString("done"))
	if err != nil || rt.ToBoolean(done) {
		return Undefined, true, err
	}
	v, err := rt.getProperty(rt.handles[rm], keyFromString("value"))
	return v, false, err
}

func (rt *Runtime) arrayIteratorStep(o *Object) (Value, bool, error) {
	it := o.iter
	if it.target == Undefined {
		return Undefined, true, nil
	}
	if s, ok := rt.stringOf(it.target); ok {
		if r, ok := runeAt(s, int(it.index)); ok {
			it.index++
			return rt.NewString(string(r)), false, nil
		}
		it.target = Undefined
		return Undefined, true, nil
	}
	target := rt.object(it.target)
	if it.index >= target.length {
		it.target = Undefined
		return Undefined, true, nil
	}
	i := it.index
	it.index++
	if v, ok := target.getElement(i); ok {
		return v, false, nil
	}
	v, err := rt.getProperty(it.target, keyFromIndex(i))
	return v, false, err
}

// iteratorClose finishes an iterator early, running a generator's finally
// blocks or a custom iterator's return method.
func (rt *Runtime) iteratorClose(it Value) error {
	o, ok := rt.asObject(it)
	if !ok {
		return nil
	}
	switch {
	case o.iter != nil:
		o.iter.target = Undefined
		return nil
	case o.gen != nil:
		if o.gen.state == genCompleted {
			return nil
		}
		_, _, err := rt.resumeGenerator(it, resumeReturn, Undefined)
		return err
	}
	mark := rt.protect(it)
	defer rt.unprotect(mark)
	ret, err := rt.getProperty(it, keyFromString("return"))
	if err != nil || !rt.IsCallable(ret) {
		return err
	}
	_, err = rt.callInternal(ret, rt.handles[mark], nil)
	return err
}
