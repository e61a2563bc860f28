package vm

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// execute runs the frame on top of the frame stack, and everything it
// calls, until that entry frame returns or yields, or an exception escapes
// it. Out-of-memory raised while running becomes a catchable exception.
func (rt *Runtime) execute() (Value, error) {
	for {
		v, err, recovered := rt.dispatch()
		if !recovered {
			return v, err
		}
		if !rt.unwind() {
			return Undefined, errThrown
		}
	}
}

// dispatch interprets instructions. Script-to-script calls and returns
// switch frames in place; only native callbacks re-enter execute.
func (rt *Runtime) dispatch() (result Value, err error, recovered bool) {
	handleMark, scopeMark := len(rt.handles), len(rt.scopes)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		re, ok := r.(*ResourceError)
		if !ok || rt.heap.collecting || len(rt.frames) == 0 {
			panic(r)
		}
		rt.handles = rt.handles[:handleMark]
		rt.scopes = rt.scopes[:scopeMark]
		rt.log.Warningf("%s in %s, unwinding", re, rt.frames[len(rt.frames)-1].code.name())
		result, err, recovered = Undefined, rt.throwOutOfMemory(), true
	}()

	fr := rt.frames[len(rt.frames)-1]
	code := fr.code.info.Code
	base := fr.base

	// reload picks up the frame on top after a call, return or unwind.
	reload := func() {
		fr = rt.frames[len(rt.frames)-1]
		code = fr.code.info.Code
		base = fr.base
	}
	reg := func(p int) *Value { return &rt.stack[base+int(code[p])] }

	for {
		ip := fr.ip
		op := Opcode(code[ip])
		fr.opStart = ip
		fr.ip = ip + instrSize[op]
		err = nil

		switch op {
		case OpNop, OpDebugger:

		// --- loads ---------------------------------------------------------
		case OpMov:
			*reg(ip + 1) = *reg(ip + 2)
		case OpLoadUndefined:
			*reg(ip + 1) = Undefined
		case OpLoadNull:
			*reg(ip + 1) = Null
		case OpLoadTrue:
			*reg(ip + 1) = True
		case OpLoadFalse:
			*reg(ip + 1) = False
		case OpLoadInt:
			*reg(ip + 1) = IntValue(readI32(code, ip+2))
		case OpLoadDouble:
			*reg(ip + 1) = NumberValue(math.Float64frombits(binary.LittleEndian.Uint64(code[ip+2:])))
		case OpLoadString:
			*reg(ip + 1) = fr.code.module.strings[readU16(code, ip+2)]
		case OpLoadThis:
			*reg(ip + 1) = rt.stack[base-2]

		// --- arithmetic ----------------------------------------------------
		case OpAdd:
			a, b := *reg(ip + 2), *reg(ip + 3)
			if a.IsSmallInt() && b.IsSmallInt() {
				*reg(ip + 1) = NumberValue(float64(a.AsSmallInt()) + float64(b.AsSmallInt()))
				break
			}
			var v Value
			if v, err = rt.add(a, b); err == nil {
				*reg(ip + 1) = v
			}
		case OpSub, OpMul, OpDiv, OpMod, OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr, OpUShr:
			var v Value
			if v, err = rt.arithmetic(op, *reg(ip + 2), *reg(ip + 3)); err == nil {
				*reg(ip + 1) = v
			}

		// --- comparison ----------------------------------------------------
		case OpEq, OpNe:
			var eq bool
			if eq, err = rt.looseEquals(*reg(ip + 2), *reg(ip + 3)); err == nil {
				*reg(ip + 1) = BoolValue(eq == (op == OpEq))
			}
		case OpStrictEq:
			*reg(ip + 1) = BoolValue(rt.StrictEquals(*reg(ip + 2), *reg(ip + 3)))
		case OpStrictNe:
			*reg(ip + 1) = BoolValue(!rt.StrictEquals(*reg(ip + 2), *reg(ip + 3)))
		case OpLt, OpLe, OpGt, OpGe:
			a, b := *reg(ip + 2), *reg(ip + 3)
			if a.IsSmallInt() && b.IsSmallInt() {
				*reg(ip + 1) = BoolValue(compareNumbers(op, float64(a.AsSmallInt()), float64(b.AsSmallInt())))
				break
			}
			var r bool
			if r, err = rt.compare(op, a, b); err == nil {
				*reg(ip + 1) = BoolValue(r)
			}

		// --- unary ---------------------------------------------------------
		case OpNot:
			*reg(ip + 1) = BoolValue(!rt.ToBoolean(*reg(ip + 2)))
		case OpTypeOf:
			*reg(ip + 1) = rt.NewString(rt.TypeOf(*reg(ip + 2)))
		case OpNegate, OpBitNot, OpInc, OpDec, OpToNumber:
			var v Value
			if v, err = rt.unary(op, *reg(ip + 2)); err == nil {
				*reg(ip + 1) = v
			}

		// --- jumps ---------------------------------------------------------
		case OpJmp:
			off := int(readI32(code, ip+1))
			fr.ip = ip + off
			if off <= 0 {
				err = rt.checkInterrupt()
			}
		case OpJmpTrue, OpJmpFalse:
			if rt.ToBoolean(*reg(ip + 1)) == (op == OpJmpTrue) {
				off := int(readI32(code, ip+2))
				fr.ip = ip + off
				if off <= 0 {
					err = rt.checkInterrupt()
				}
			}
		case OpJmpUndefined:
			if *reg(ip + 1) == Undefined {
				off := int(readI32(code, ip+2))
				fr.ip = ip + off
				if off <= 0 {
					err = rt.checkInterrupt()
				}
			}

		// --- globals -------------------------------------------------------
		case OpGetGlobal:
			name := fr.code.module.mod.Strings[readU16(code, ip+2)]
			var v Value
			if v, err = rt.getGlobal(&fr.code.caches[readU16(code, ip+4)], name); err == nil {
				*reg(ip + 1) = v
			}
		case OpPutGlobal:
			name := fr.code.module.mod.Strings[readU16(code, ip+2)]
			err = rt.putGlobal(&fr.code.caches[readU16(code, ip+4)], name, *reg(ip + 1), fr.code.info.Strict)
		case OpDeclareGlobal:
			rt.declareGlobal(fr.code.module.mod.Strings[readU16(code, ip+1)])

		// --- objects -------------------------------------------------------
		case OpNewObject:
			*reg(ip + 1) = rt.NewObject()
		case OpNewObjectWithProto:
			proto := *reg(ip + 2)
			if proto != Null && !rt.IsObject(proto) {
				proto = rt.realm[rootObjectProto]
			}
			*reg(ip + 1) = selfValue(rt.newObject(ClassObject, proto))
		case OpNewArray:
			first, n := base+int(code[ip+2]), int(code[ip+3])
			*reg(ip + 1) = rt.NewArray(rt.stack[first : first+n]...)
		case OpNewObjectFromTemplate:
			*reg(ip + 1) = rt.newFromTemplate(fr.code.module, readU16(code, ip+2), base+int(code[ip+4]))
		case OpPutOwnByIndex:
			o := rt.object(*reg(ip + 1))
			rt.addOwn(o, keyFromIndex(uint32(readI32(code, ip+3))), *reg(ip + 2), AttrDefault)
		case OpGetById:
			name := fr.code.module.mod.Strings[readU16(code, ip+3)]
			var v Value
			if v, err = rt.cachedGet(&fr.code.caches[readU16(code, ip+5)], *reg(ip + 2), name); err == nil {
				*reg(ip + 1) = v
			}
		case OpPutById:
			name := fr.code.module.mod.Strings[readU16(code, ip+3)]
			err = rt.cachedPut(&fr.code.caches[readU16(code, ip+5)], *reg(ip + 1), name, *reg(ip + 2), fr.code.info.Strict)
		case OpDelById:
			name := fr.code.module.mod.Strings[readU16(code, ip+3)]
			var ok bool
			if ok, err = rt.deleteValue(*reg(ip + 2), keyFromString(name), fr.code.info.Strict); err == nil {
				*reg(ip + 1) = BoolValue(ok)
			}
		case OpGetByVal:
			var v Value
			if v, err = rt.getByValue(*reg(ip + 2), *reg(ip + 3)); err == nil {
				*reg(ip + 1) = v
			}
		case OpPutByVal:
			err = rt.putByValue(base+int(code[ip+1]), *reg(ip + 2), base+int(code[ip+3]), fr.code.info.Strict)
		case OpDelByVal:
			if (*reg(ip + 2)).IsNullish() {
				err = rt.throwTypeError("Cannot convert %s to object", rt.typeName(*reg(ip + 2)))
				break
			}
			var k propKey
			if k, err = rt.toPropertyKey(*reg(ip + 3)); err != nil {
				break
			}
			var ok bool
			if ok, err = rt.deleteValue(*reg(ip + 2), k, fr.code.info.Strict); err == nil {
				*reg(ip + 1) = BoolValue(ok)
			}
		case OpPutOwnGetterSetter:
			name := fr.code.module.mod.Strings[readU16(code, ip+2)]
			o := rt.object(*reg(ip + 1))
			get, set := *reg(ip + 4), *reg(ip + 5)
			d := PropertyDescriptor{
				Get: get, Set: set,
				HasGet: get != Undefined, HasSet: set != Undefined,
				Enumerable: true, Configurable: true,
				HasEnumerable: true, HasConfigurable: true,
			}
			if !d.HasGet && !d.HasSet {
				d.HasGet = true
			}
			var ok bool
			if ok, err = rt.defineOwnProperty(o, keyFromString(name), d); err == nil && !ok {
				err = rt.throwTypeError("Cannot redefine property: %s", name)
			}
		case OpIn:
			var ok bool
			if ok, err = rt.inOperator(*reg(ip + 2), base+int(code[ip+3])); err == nil {
				*reg(ip + 1) = BoolValue(ok)
			}
		case OpInstanceOf:
			var ok bool
			if ok, err = rt.instanceOf(*reg(ip + 2), *reg(ip + 3)); err == nil {
				*reg(ip + 1) = BoolValue(ok)
			}
		case OpGetPropertyNames:
			*reg(ip + 1) = rt.propertyNames(*reg(ip + 2))

		// --- environments and closures ------------------------------------
		case OpCreateEnvironment:
			*reg(ip + 1) = rt.newEnvironment(rt.object(rt.stack[base-3]).fn.env, readU16(code, ip+2))
		case OpCreateInnerEnvironment:
			*reg(ip + 1) = rt.newEnvironment(*reg(ip + 2), readU16(code, ip+3))
		case OpGetClosureEnvironment:
			*reg(ip + 1) = rt.object(rt.stack[base-3]).fn.env
		case OpGetParentEnvironment:
			*reg(ip + 1) = rt.parentEnvironment(*reg(ip + 2))
		case OpLoadFromEnvironment:
			*reg(ip + 1) = rt.loadFromEnvironment(*reg(ip + 2), readU16(code, ip+3))
		case OpStoreToEnvironment:
			rt.storeToEnvironment(*reg(ip + 1), readU16(code, ip+2), *reg(ip + 4))
		case OpCreateClosure:
			*reg(ip + 1) = rt.newClosure(fr.code.module.code[readU16(code, ip+3)], *reg(ip + 2))

		// --- calls ---------------------------------------------------------
		case OpCall, OpConstruct:
			if err = rt.checkInterrupt(); err != nil {
				break
			}
			var callee, this Value
			var first, argc int
			construct := op == OpConstruct
			if construct {
				callee, this = *reg(ip + 2), Undefined
				first, argc = base+int(code[ip+3]), int(code[ip+4])
			} else {
				callee, this = *reg(ip + 2), *reg(ip + 3)
				first, argc = base+int(code[ip+4]), int(code[ip+5])
			}
			start := rt.sp
			if start+frameHeader+argc > len(rt.stack) {
				err = rt.throwStackOverflow()
				break
			}
			rt.stack[start] = callee
			rt.stack[start+1] = this
			rt.stack[start+2] = Undefined
			if construct {
				rt.stack[start+2] = callee
			}
			copy(rt.stack[start+frameHeader:], rt.stack[first:first+argc])
			rt.sp = start + frameHeader + argc
			dst := base + int(code[ip+1])
			var v Value
			var pushed bool
			v, pushed, err = rt.callRecord(start, argc, construct, false, dst)
			if pushed {
				reload()
				continue
			}
			rt.sp = start
			if err == nil {
				rt.stack[dst] = v
			}
		case OpRet:
			v := *reg(ip + 1)
			if fr.construct && !rt.IsObject(v) {
				v = rt.stack[base-2]
			}
			if fr.generator {
				rt.finishGenerator(rt.object(rt.stack[base-1]))
			}
			entry, retReg := fr.entry, fr.retReg
			rt.sp = base - frameHeader
			rt.popFrame()
			if entry {
				return v, nil, false
			}
			rt.stack[retReg] = v
			reload()
			rt.sp = base + fr.code.info.FrameSize

		// --- exceptions, generators and iteration -------------------------
		case OpThrow:
			err = rt.throwValue(*reg(ip + 1))
		case OpCatch:
			*reg(ip + 1) = rt.thrown
			rt.thrown = Undefined
			rt.thrownStack = nil
		case OpYield:
			v := *reg(ip + 1)
			rt.yield(fr)
			rt.sp = base - frameHeader
			rt.popFrame()
			return v, nil, false
		case OpResumeGenerator:
			g := rt.object(rt.stack[base-1]).gen
			sent := g.sent
			g.sent = Undefined
			switch g.action {
			case resumeThrow:
				err = rt.throwValue(sent)
			case resumeReturn:
				*reg(ip + 1) = sent
				*reg(ip + 2) = True
			default:
				*reg(ip + 1) = sent
				*reg(ip + 2) = False
			}
		case OpIteratorBegin:
			var it Value
			if it, err = rt.getIterator(*reg(ip + 2)); err == nil {
				*reg(ip + 1) = it
			}
		case OpIteratorNext:
			var v Value
			var done bool
			if v, done, err = rt.iteratorStep(*reg(ip + 2)); err == nil {
				*reg(ip + 1) = v
				*reg(ip + 3) = BoolValue(done)
			}
		case OpIteratorClose:
			err = rt.iteratorClose(*reg(ip + 1))

		default:
			panic(invariantf("%s: bad opcode 0x%02x at %d", fr.code.name(), byte(op), ip))
		}

		if err == nil {
			continue
		}
		if err != errThrown {
			err = rt.absorbError(err)
		}
		if !rt.unwind() {
			return Undefined, errThrown, false
		}
		reload()
	}
}

func readU16(code []byte, p int) int {
	return int(binary.LittleEndian.Uint16(code[p:]))
}

func readI32(code []byte, p int) int32 {
	return int32(binary.LittleEndian.Uint32(code[p:]))
}

// checkInterrupt consumes a pending interrupt request.
func (rt *Runtime) checkInterrupt() error {
	if !rt.interrupted.Load() || !rt.interrupted.CompareAndSwap(true, false) {
		return nil
	}
	rt.log.Infof("execution interrupted at depth %d", len(rt.frames))
	return rt.throwError(KindTimeoutError, "Execution interrupted")
}

// ---------------------------------------------------------------------------
// Operator helpers
// ---------------------------------------------------------------------------

func (rt *Runtime) unary(op Opcode, v Value) (Value, error) {
	if op == OpBitNot && v.IsSmallInt() {
		return IntValue(^v.AsSmallInt()), nil
	}
	f, err := rt.toNumber(v)
	if err != nil {
		return Undefined, err
	}
	switch op {
	case OpNegate:
		return NumberValue(-f), nil
	case OpBitNot:
		return IntValue(^toInt32(f)), nil
	case OpInc:
		return NumberValue(f + 1), nil
	case OpDec:
		return NumberValue(f - 1), nil
	}
	return NumberValue(f), nil
}

// getByValue implements obj[key]. Dense elements of objects are read
// without converting the key.
func (rt *Runtime) getByValue(obj, key Value) (Value, error) {
	if o, ok := rt.asObject(obj); ok && key.IsSmallInt() && key.AsSmallInt() >= 0 {
		if v, ok := o.getElement(uint32(key.AsSmallInt())); ok {
			return v, nil
		}
	}
	if obj.IsNullish() {
		s, _ := rt.toGoString(key)
		return Undefined, rt.throwTypeError("Cannot read properties of %s (reading '%s')", rt.typeName(obj), s)
	}
	mark := rt.protect(obj)
	k, err := rt.toPropertyKey(key)
	obj = rt.handles[mark]
	rt.unprotect(mark)
	if err != nil {
		return Undefined, err
	}
	return rt.getProperty(obj, k)
}

// putByValue implements obj[key] = v for the registers at objIdx and
// valueIdx, which stay current across the key conversion.
func (rt *Runtime) putByValue(objIdx int, key Value, valueIdx int, strict bool) error {
	obj := rt.stack[objIdx]
	if o, ok := rt.asObject(obj); ok && key.IsSmallInt() && key.AsSmallInt() >= 0 && !o.frozen {
		i := uint32(key.AsSmallInt())
		if int64(i) < int64(len(o.elements)) && o.elements[i] != Empty {
			v := rt.stack[valueIdx]
			o.elements[i] = v
			rt.barrier(o, v)
			return nil
		}
	}
	if obj.IsNullish() {
		return rt.throwTypeError("Cannot set properties of %s", rt.typeName(obj))
	}
	k, err := rt.toPropertyKey(key)
	if err != nil {
		return err
	}
	return rt.setProperty(rt.stack[objIdx], k, rt.stack[valueIdx], strict)
}

// deleteValue implements delete on any value.
func (rt *Runtime) deleteValue(target Value, k propKey, strict bool) (bool, error) {
	o, ok := rt.asObject(target)
	if !ok {
		if target.IsNullish() {
			return false, rt.throwTypeError("Cannot convert %s to object", rt.typeName(target))
		}
		return true, nil
	}
	return rt.deleteProperty(o, k, strict)
}

// inOperator implements key in obj; objIdx is the register holding obj.
func (rt *Runtime) inOperator(key Value, objIdx int) (bool, error) {
	if !rt.IsObject(rt.stack[objIdx]) {
		return false, rt.throwTypeError("Cannot use 'in' operator to search for a key in %s", rt.typeName(rt.stack[objIdx]))
	}
	k, err := rt.toPropertyKey(key)
	if err != nil {
		return false, err
	}
	return rt.hasProperty(rt.object(rt.stack[objIdx]), k), nil
}

// instanceOf implements obj instanceof ctor.
func (rt *Runtime) instanceOf(obj, ctor Value) (bool, error) {
	if !rt.IsCallable(ctor) {
		return false, rt.throwTypeError("Right-hand side of 'instanceof' is not callable")
	}
	mark := rt.protect(obj)
	proto, err := rt.getProperty(ctor, keyFromString("prototype"))
	obj = rt.handles[mark]
	rt.unprotect(mark)
	if err != nil {
		return false, err
	}
	o, ok := rt.asObject(obj)
	if !ok {
		return false, nil
	}
	if !rt.IsObject(proto) {
		return false, rt.throwTypeError("Function has non-object prototype in instanceof check")
	}
	for p := rt.getPrototypeOf(o); p != Null; p = rt.getPrototypeOf(rt.object(p)) {
		if p == proto {
			return true, nil
		}
	}
	return false, nil
}

// propertyNames returns the array of keys a for-in loop over v visits.
func (rt *Runtime) propertyNames(v Value) Value {
	var names []string
	if o, ok := rt.asObject(v); ok {
		names = rt.enumerableKeys(o)
	} else if s, ok := rt.stringOf(v); ok {
		i := 0
		for range s {
			names = append(names, keyFromIndex(uint32(i)).String())
			i++
		}
	}
	return rt.newStringArray(names)
}

// newStringArray allocates an array of fresh strings. May trigger GC.
func (rt *Runtime) newStringArray(items []string) Value {
	mark := rt.handleMark()
	for _, s := range items {
		rt.protect(rt.NewString(s))
	}
	arr := rt.NewArray(rt.handles[mark:]...)
	rt.unprotect(mark)
	return arr
}

// newFromTemplate builds an object literal from template t with values
// taken from consecutive registers starting at stack index first. The final
// shape is cached per template.
func (rt *Runtime) newFromTemplate(m *loadedModule, t, first int) Value {
	keys := m.mod.Templates[t].Keys
	if len(keys) > rt.opts.DictionaryThreshold {
		o := rt.newObject(ClassObject, rt.realm[rootObjectProto])
		mark := rt.protect(selfValue(o))
		for i, k := range keys {
			rt.addOwn(o, keyFromString(m.mod.Strings[k]), rt.stack[first+i], AttrDefault)
		}
		rt.unprotect(mark)
		return selfValue(o)
	}
	if !m.templates[t].IsPointer() {
		s := rt.shape(rt.rootShapeFor(rt.realm[rootObjectProto]))
		for _, k := range keys {
			s = rt.shapeWith(s, m.mod.Strings[k], AttrDefault)
		}
		m.templates[t] = selfValue(s)
	}
	slots := make([]Value, len(keys))
	copy(slots, rt.stack[first:first+len(keys)])
	return selfValue(rt.newObjectWithShape(ClassObject, m.templates[t], slots))
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// getGlobal reads a global variable. Unlike a property read, a missing
// binding is a ReferenceError.
func (rt *Runtime) getGlobal(c *PropertyCache, name string) (Value, error) {
	g := rt.object(rt.realm[rootGlobal])
	if !c.has(g.shape) && !rt.hasProperty(g, keyFromString(name)) {
		return Undefined, rt.throwReferenceError("%s is not defined", name)
	}
	return rt.cachedGet(c, rt.realm[rootGlobal], name)
}

// putGlobal assigns a global variable. Strict code may not create one by
// assignment.
func (rt *Runtime) putGlobal(c *PropertyCache, name string, v Value, strict bool) error {
	g := rt.object(rt.realm[rootGlobal])
	if strict && !c.has(g.shape) && !rt.hasProperty(g, keyFromString(name)) {
		return rt.throwReferenceError("%s is not defined", name)
	}
	return rt.cachedPut(c, rt.realm[rootGlobal], name, v, strict)
}

// declareGlobal creates a var binding on the global object unless one
// exists.
func (rt *Runtime) declareGlobal(name string) {
	g := rt.object(rt.realm[rootGlobal])
	k := keyFromString(name)
	if _, found := rt.findOwn(g, k); found {
		return
	}
	rt.addOwn(g, k, Undefined, AttrWritable|AttrEnumerable)
}
