package vm

import "fmt"

// ---------------------------------------------------------------------------
// Native call arguments
// ---------------------------------------------------------------------------

// Args gives a native function access to its call record. Values are read
// from the register stack on every call, so they are current even after
// the native has allocated.
type Args struct {
	rt   *Runtime
	base int
	n    int
}

// Runtime returns the runtime executing the call.
func (a *Args) Runtime() *Runtime { return a.rt }

// Len returns the number of arguments passed.
func (a *Args) Len() int { return a.n }

// Arg returns argument i, or Undefined when fewer were passed.
func (a *Args) Arg(i int) Value {
	if i < 0 || i >= a.n {
		return Undefined
	}
	return a.rt.stack[a.base+i]
}

// This returns the receiver.
func (a *Args) This() Value { return a.rt.stack[a.base-2] }

// Callee returns the function being called.
func (a *Args) Callee() Value { return a.rt.stack[a.base-3] }

// NewTarget returns the constructor named by new, or Undefined for plain
// calls.
func (a *Args) NewTarget() Value { return a.rt.stack[a.base-1] }

// IsConstruct reports whether the native was invoked with new.
func (a *Args) IsConstruct() bool { return a.NewTarget() != Undefined }

// ---------------------------------------------------------------------------
// Host entry points
// ---------------------------------------------------------------------------

// Call calls fn with the given receiver and arguments. A script exception
// is returned as a *ScriptError; exhaustion that cannot be caught by script
// as a *ResourceError. May trigger GC.
func (rt *Runtime) Call(fn, this Value, args ...Value) (result Value, err error) {
	defer rt.guard(&err)()
	result, err = rt.callInternal(fn, this, args)
	return result, rt.publicError(err)
}

// Construct calls fn as a constructor. May trigger GC.
func (rt *Runtime) Construct(fn Value, args ...Value) (result Value, err error) {
	defer rt.guard(&err)()
	result, err = rt.constructInternal(fn, args)
	return result, rt.publicError(err)
}

// GetProperty reads obj[key], running getters. May trigger GC.
func (rt *Runtime) GetProperty(obj Value, key string) (result Value, err error) {
	defer rt.guard(&err)()
	result, err = rt.getProperty(obj, keyFromString(key))
	return result, rt.publicError(err)
}

// GetIndex reads obj[i]. May trigger GC.
func (rt *Runtime) GetIndex(obj Value, i uint32) (result Value, err error) {
	defer rt.guard(&err)()
	result, err = rt.getProperty(obj, keyFromIndex(i))
	return result, rt.publicError(err)
}

// SetProperty assigns obj[key] = v with strict semantics, running setters.
// May trigger GC.
func (rt *Runtime) SetProperty(obj Value, key string, v Value) (err error) {
	defer rt.guard(&err)()
	return rt.publicError(rt.setProperty(obj, keyFromString(key), v, true))
}

// SetIndex assigns obj[i] = v with strict semantics. May trigger GC.
func (rt *Runtime) SetIndex(obj Value, i uint32, v Value) (err error) {
	defer rt.guard(&err)()
	return rt.publicError(rt.setProperty(obj, keyFromIndex(i), v, true))
}

// DefineProperty creates or reconfigures an own property of obj. It fails
// with a TypeError when the change is not allowed. May trigger GC.
func (rt *Runtime) DefineProperty(obj Value, key string, d PropertyDescriptor) (err error) {
	defer rt.guard(&err)()
	o, ok := rt.asObject(obj)
	if !ok {
		return rt.ThrowTypeError("DefineProperty called on non-object")
	}
	done, err := rt.defineOwnProperty(o, keyFromString(key), d)
	if err == nil && !done {
		err = rt.throwTypeError("Cannot redefine property: %s", key)
	}
	return rt.publicError(err)
}

// GetOwnPropertyDescriptor describes an own property of obj.
func (rt *Runtime) GetOwnPropertyDescriptor(obj Value, key string) (PropertyDescriptor, bool) {
	o, ok := rt.asObject(obj)
	if !ok {
		return PropertyDescriptor{}, false
	}
	return rt.getOwnPropertyDescriptor(o, keyFromString(key))
}

// DeleteProperty removes an own property with strict semantics.
func (rt *Runtime) DeleteProperty(obj Value, key string) (err error) {
	defer rt.guard(&err)()
	_, err = rt.deleteValue(obj, keyFromString(key), true)
	return rt.publicError(err)
}

// HasProperty reports whether key is found on obj or its prototypes.
func (rt *Runtime) HasProperty(obj Value, key string) bool {
	o, ok := rt.asObject(obj)
	return ok && rt.hasProperty(o, keyFromString(key))
}

// OwnKeys lists the enumerable own keys of obj in property order.
func (rt *Runtime) OwnKeys(obj Value) []string {
	o, ok := rt.asObject(obj)
	if !ok {
		return nil
	}
	keys := rt.ownKeys(o, false)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// GetPrototypeOf returns Null or the prototype object of obj.
func (rt *Runtime) GetPrototypeOf(obj Value) Value {
	o, ok := rt.asObject(obj)
	if !ok {
		return Null
	}
	return rt.getPrototypeOf(o)
}

// SetPrototypeOf changes the prototype of obj. It fails for
// non-extensible objects and for changes that would create a cycle.
func (rt *Runtime) SetPrototypeOf(obj, proto Value) (err error) {
	defer rt.guard(&err)()
	o, ok := rt.asObject(obj)
	switch {
	case !ok:
		return rt.ThrowTypeError("SetPrototypeOf called on non-object")
	case proto != Null && !rt.IsObject(proto):
		return rt.ThrowTypeError("Object prototype may only be an Object or null")
	case !rt.setPrototypeOf(o, proto):
		return rt.ThrowTypeError("Cyclic or non-extensible prototype change")
	}
	return nil
}

// PreventExtensions, Seal and Freeze apply integrity levels to obj.
// Primitives are ignored.
func (rt *Runtime) PreventExtensions(obj Value) {
	if o, ok := rt.asObject(obj); ok {
		rt.preventExtensions(o)
	}
}

func (rt *Runtime) Seal(obj Value) {
	if o, ok := rt.asObject(obj); ok {
		rt.seal(o)
	}
}

func (rt *Runtime) Freeze(obj Value) {
	if o, ok := rt.asObject(obj); ok {
		rt.freeze(o)
	}
}

func (rt *Runtime) IsFrozen(obj Value) bool {
	o, ok := rt.asObject(obj)
	return !ok || rt.isFrozen(o)
}

func (rt *Runtime) IsSealed(obj Value) bool {
	o, ok := rt.asObject(obj)
	return !ok || rt.isSealed(o)
}

// ArrayLength returns the length of an array, or 0 for other values.
func (rt *Runtime) ArrayLength(v Value) uint32 {
	if o, ok := rt.asObject(v); ok && o.class == ClassArray {
		return o.length
	}
	return 0
}

// ShapeOf returns the shape reference of an object, for tests and tools
// that check shape sharing.
func (rt *Runtime) ShapeOf(obj Value) (Ref, bool) {
	o, ok := rt.asObject(obj)
	if !ok {
		return 0, false
	}
	return o.shape.AsRef(), true
}

// IsDictionaryMode reports whether obj has left shared shapes.
func (rt *Runtime) IsDictionaryMode(obj Value) bool {
	o, ok := rt.asObject(obj)
	return ok && rt.shape(o.shape).dictionary
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// SetGlobal creates or assigns a global variable. May trigger GC.
func (rt *Runtime) SetGlobal(name string, v Value) (err error) {
	defer rt.guard(&err)()
	return rt.publicError(rt.setProperty(rt.realm[rootGlobal], keyFromString(name), v, true))
}

// GetGlobal reads a global variable; a missing one is a ReferenceError.
func (rt *Runtime) GetGlobal(name string) (result Value, err error) {
	defer rt.guard(&err)()
	g := rt.object(rt.realm[rootGlobal])
	k := keyFromString(name)
	if !rt.hasProperty(g, k) {
		return Undefined, rt.publicError(rt.throwReferenceError("%s is not defined", name))
	}
	result, err = rt.getProperty(rt.realm[rootGlobal], k)
	return result, rt.publicError(err)
}

// DefineGlobalFunction installs a native function as a non-enumerable
// global. May trigger GC.
func (rt *Runtime) DefineGlobalFunction(name string, arity int, fn NativeFunc) {
	rt.addOwn(rt.object(rt.realm[rootGlobal]), keyFromString(name), rt.NewNativeFunction(name, arity, fn), AttrWritable|AttrConfigurable)
}

// ---------------------------------------------------------------------------
// Throwing from natives
// ---------------------------------------------------------------------------

// Throw returns an error that throws v into the calling script.
func (rt *Runtime) Throw(v Value) error {
	return rt.publicError(rt.throwValue(v))
}

// ThrowError returns an error throwing a new error object of the given
// kind.
func (rt *Runtime) ThrowError(kind ErrorKind, format string, args ...any) error {
	return rt.publicError(rt.throwError(kind, format, args...))
}

// ThrowTypeError returns an error throwing a TypeError.
func (rt *Runtime) ThrowTypeError(format string, args ...any) error {
	return rt.ThrowError(KindTypeError, format, args...)
}

// ThrowRangeError returns an error throwing a RangeError.
func (rt *Runtime) ThrowRangeError(format string, args ...any) error {
	return rt.ThrowError(KindRangeError, format, args...)
}

// NewError allocates an error object without throwing it. May trigger GC.
func (rt *Runtime) NewError(kind ErrorKind, msg string) Value {
	return rt.newError(kind, msg)
}

// ErrorStack returns the stack captured when an error object was created.
func (rt *Runtime) ErrorStack(v Value) []StackFrame {
	if o, ok := rt.asObject(v); ok {
		return o.errStack
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversions for natives
// ---------------------------------------------------------------------------

// ToStringValue converts v to a string value, running toString or valueOf
// on objects. May trigger GC.
func (rt *Runtime) ToStringValue(v Value) (result Value, err error) {
	defer rt.guard(&err)()
	result, err = rt.toStringValue(v)
	return result, rt.publicError(err)
}

// Display renders v for diagnostics without running script.
func (rt *Runtime) Display(v Value) string {
	if s, ok := rt.stringOf(v); ok {
		return s
	}
	o, ok := rt.asObject(v)
	if !ok {
		s, _ := rt.toGoString(v)
		return s
	}
	switch {
	case o.fn != nil:
		return fmt.Sprintf("[Function: %s]", o.functionName())
	case o.class == ClassError:
		name, msg := rt.describeThrown(v)
		if msg == "" {
			return name
		}
		return name + ": " + msg
	case o.class == ClassArray:
		return fmt.Sprintf("[Array(%d)]", o.length)
	}
	return "[object " + o.class.String() + "]"
}
