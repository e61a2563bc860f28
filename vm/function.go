package vm

// NativeFunc implements a function provided by the host. Arguments and the
// receiver are read through args, which always reflects the current heap.
// Returning an error throws it into the script: a *ScriptError rethrows its
// value, any other error becomes an Error object with the same message.
type NativeFunc func(rt *Runtime, args *Args) (Value, error)

type nativeFunction struct {
	name        string
	fn          NativeFunc
	constructor bool
}

// functionData is the callable part of a function object. Exactly one of
// code and native is set.
type functionData struct {
	code   *codeBlock
	env    Value
	native *nativeFunction

	lazyPrototype bool // "prototype" not yet materialised
}

// newClosure allocates a function object for code closing over env.
// env is rooted through the pending cell. May trigger GC.
func (rt *Runtime) newClosure(code *codeBlock, env Value) Value {
	name := code.module.names[code.index]
	return rt.allocFunction([]Value{name, IntValue(int32(code.info.ParamCount))},
		&functionData{code: code, env: env, lazyPrototype: true})
}

func (rt *Runtime) allocFunction(slots []Value, fd *functionData) Value {
	o := &Object{
		cellHeader: cellHeader{kind: KindObject},
		class:      ClassFunction,
		extensible: true,
		shape:      rt.realm[rootFunctionShape],
		slots:      slots,
		rootShape:  Undefined,
		fn:         fd,
	}
	return RefValue(rt.heap.allocate(o))
}

// NewNativeFunction creates a function object calling fn. May trigger GC.
func (rt *Runtime) NewNativeFunction(name string, arity int, fn NativeFunc) Value {
	return rt.newNative(name, arity, fn, false)
}

// NewNativeConstructor is NewNativeFunction for functions that may be
// invoked with new; args.NewTarget reports how they were called.
func (rt *Runtime) NewNativeConstructor(name string, arity int, fn NativeFunc) Value {
	return rt.newNative(name, arity, fn, true)
}

func (rt *Runtime) newNative(name string, arity int, fn NativeFunc, ctor bool) Value {
	nameValue := rt.NewString(name)
	return rt.allocFunction([]Value{nameValue, IntValue(int32(arity))},
		&functionData{env: Undefined, native: &nativeFunction{name: name, fn: fn, constructor: ctor}})
}

// IsCallable reports whether v is a function.
func (rt *Runtime) IsCallable(v Value) bool {
	o, ok := rt.asObject(v)
	return ok && o.fn != nil
}

func (rt *Runtime) isConstructor(o *Object) bool {
	switch {
	case o.fn == nil:
		return false
	case o.fn.native != nil:
		return o.fn.native.constructor
	}
	return !o.fn.code.info.Generator
}

// functionName returns the name a function was created with.
func (o *Object) functionName() string {
	switch {
	case o.fn == nil:
		return ""
	case o.fn.native != nil:
		return o.fn.native.name
	}
	return o.fn.code.name()
}
