package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Realm setup
// ---------------------------------------------------------------------------

// initRealm creates the well-known objects and the global object. Every
// object is stored in a realm root as soon as it exists.
func (rt *Runtime) initRealm() {
	rt.realm[rootEmptyString] = rt.NewString("")
	null := &Shape{cellHeader: cellHeader{kind: KindShape}, proto: Null, parent: Undefined}
	rt.heap.allocate(null)
	rt.realm[rootNullShape] = selfValue(null)

	rt.realm[rootObjectProto] = selfValue(rt.newObject(ClassObject, Null))
	for _, root := range []int{rootFunctionProto, rootArrayProto, rootErrorProto, rootGeneratorProto,
		rootArrayIteratorProto, rootStringProto, rootNumberProto, rootBooleanProto} {
		rt.realm[root] = selfValue(rt.newObject(ClassObject, rt.realm[rootObjectProto]))
	}
	for _, kind := range []ErrorKind{KindTypeError, KindRangeError, KindReferenceError, KindSyntaxError, KindTimeoutError} {
		rt.realm[errorKinds[kind].root] = selfValue(rt.newObject(ClassObject, rt.realm[rootErrorProto]))
	}

	s := rt.shape(rt.rootShapeFor(rt.realm[rootFunctionProto]))
	s = rt.shapeWith(s, "name", AttrConfigurable)
	s = rt.shapeWith(s, "length", AttrConfigurable)
	rt.realm[rootFunctionShape] = selfValue(s)

	s = rt.shape(rt.rootShapeFor(rt.realm[rootObjectProto]))
	s = rt.shapeWith(s, "value", AttrDefault)
	s = rt.shapeWith(s, "done", AttrDefault)
	rt.realm[rootIterResultShape] = selfValue(s)

	rt.realm[rootGlobal] = selfValue(rt.newObject(ClassObject, rt.realm[rootObjectProto]))
	rt.realm[rootOOMError] = rt.newError(KindRangeError, "Out of memory")

	rt.initGlobals()
	rt.initObject()
	rt.initFunction()
	rt.initArray()
	rt.initErrors()
	rt.initPrimitives()
	rt.initIterators()
}

// ---------------------------------------------------------------------------
// Definition helpers
// ---------------------------------------------------------------------------

const attrHidden = AttrWritable | AttrConfigurable

// defineValue adds a property to the object in realm root.
func (rt *Runtime) defineValue(root int, name string, v Value, attrs Attr) {
	rt.addOwn(rt.object(rt.realm[root]), keyFromString(name), v, attrs)
}

// defineMethod adds a native method to the object in realm root.
func (rt *Runtime) defineMethod(root int, name string, arity int, fn NativeFunc) {
	f := rt.NewNativeFunction(name, arity, fn)
	rt.defineValue(root, name, f, attrHidden)
}

// defineConstructor installs a global constructor whose prototype is the
// object in realm root, and returns a handle mark holding it. The caller
// releases the mark.
func (rt *Runtime) defineConstructor(name string, arity int, root int, fn NativeFunc) int {
	mark := rt.protect(rt.NewNativeConstructor(name, arity, fn))
	ctor := rt.object(rt.handles[mark])
	rt.addOwn(ctor, keyFromString("prototype"), rt.realm[root], 0)
	rt.defineValue(root, "constructor", rt.handles[mark], attrHidden)
	rt.defineValue(rootGlobal, name, rt.handles[mark], attrHidden)
	return mark
}

// defineStatic adds a native function to the constructor held in the
// handle at mark.
func (rt *Runtime) defineStatic(mark int, name string, arity int, fn NativeFunc) {
	f := rt.NewNativeFunction(name, arity, fn)
	rt.addOwn(rt.object(rt.handles[mark]), keyFromString(name), f, attrHidden)
}

// thisObject returns the receiver as an object or throws a TypeError.
func (rt *Runtime) thisObject(args *Args, method string) (*Object, error) {
	o, ok := rt.asObject(args.This())
	if !ok {
		return nil, rt.throwTypeError("%s called on %s", method, rt.typeName(args.This()))
	}
	return o, nil
}

// protoFromNewTarget returns the prototype property of new.target, or the
// object in realm root for plain calls and non-object prototypes.
func (rt *Runtime) protoFromNewTarget(args *Args, root int) (Value, error) {
	if !args.IsConstruct() {
		return rt.realm[root], nil
	}
	p, err := rt.getProperty(args.NewTarget(), keyFromString("prototype"))
	if err != nil || !rt.IsObject(p) {
		return rt.realm[root], err
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Global object
// ---------------------------------------------------------------------------

func (rt *Runtime) initGlobals() {
	rt.defineValue(rootGlobal, "globalThis", rt.realm[rootGlobal], attrHidden)
	rt.defineValue(rootGlobal, "undefined", Undefined, 0)
	rt.defineValue(rootGlobal, "NaN", NumberValue(math.NaN()), 0)
	rt.defineValue(rootGlobal, "Infinity", NumberValue(math.Inf(1)), 0)
	rt.DefineGlobalFunction("isNaN", 1, func(rt *Runtime, args *Args) (Value, error) {
		f, err := rt.toNumber(args.Arg(0))
		return BoolValue(f != f), err
	})
	rt.DefineGlobalFunction("parseInt", 2, func(rt *Runtime, args *Args) (Value, error) {
		s, err := rt.toGoString(args.Arg(0))
		if err != nil {
			return Undefined, err
		}
		radix := 10
		if r := args.Arg(1); r != Undefined {
			f, err := rt.toNumber(r)
			if err != nil {
				return Undefined, err
			}
			radix = int(toInt32(f))
		}
		return NumberValue(parseIntPrefix(strings.TrimSpace(s), radix)), nil
	})
}

// parseIntPrefix parses the longest integer prefix of s in radix.
func parseIntPrefix(s string, radix int) float64 {
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if radix == 0 {
		radix = 10
		if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
			radix, s = 16, s[2:]
		}
	} else if radix == 16 && len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if radix < 2 || radix > 36 {
		return math.NaN()
	}
	n, digits := 0.0, 0
	for _, c := range strings.ToLower(s) {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'z':
			d = int(c-'a') + 10
		default:
			d = radix
		}
		if d >= radix {
			break
		}
		n = n*float64(radix) + float64(d)
		digits++
	}
	if digits == 0 {
		return math.NaN()
	}
	if neg {
		return -n
	}
	return n
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

func (rt *Runtime) initObject() {
	mark := rt.defineConstructor("Object", 1, rootObjectProto, func(rt *Runtime, args *Args) (Value, error) {
		if v := args.Arg(0); rt.IsObject(v) {
			return v, nil
		}
		return rt.NewObject(), nil
	})
	defer rt.unprotect(mark)

	rt.defineStatic(mark, "keys", 1, func(rt *Runtime, args *Args) (Value, error) {
		o, ok := rt.asObject(args.Arg(0))
		if !ok {
			return rt.NewArray(), nil
		}
		keys := rt.ownKeys(o, false)
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return rt.newStringArray(names), nil
	})
	rt.defineStatic(mark, "create", 2, func(rt *Runtime, args *Args) (Value, error) {
		proto := args.Arg(0)
		if proto != Null && !rt.IsObject(proto) {
			return Undefined, rt.throwTypeError("Object prototype may only be an Object or null: %s", rt.describe(proto))
		}
		return rt.NewObjectWithProto(proto), nil
	})
	rt.defineStatic(mark, "getPrototypeOf", 1, func(rt *Runtime, args *Args) (Value, error) {
		v := args.Arg(0)
		if o, ok := rt.asObject(v); ok {
			return rt.getPrototypeOf(o), nil
		}
		if p, ok := rt.protoObject(v); ok {
			return selfValue(p), nil
		}
		return Undefined, rt.throwTypeError("Cannot convert %s to object", rt.typeName(v))
	})
	rt.defineStatic(mark, "setPrototypeOf", 2, func(rt *Runtime, args *Args) (Value, error) {
		o, ok := rt.asObject(args.Arg(0))
		proto := args.Arg(1)
		switch {
		case proto != Null && !rt.IsObject(proto):
			return Undefined, rt.throwTypeError("Object prototype may only be an Object or null: %s", rt.describe(proto))
		case !ok:
			return args.Arg(0), nil
		case !rt.setPrototypeOf(o, proto):
			return Undefined, rt.throwTypeError("Cyclic __proto__ value or object not extensible")
		}
		return args.Arg(0), nil
	})
	rt.defineStatic(mark, "defineProperty", 3, func(rt *Runtime, args *Args) (Value, error) {
		if !rt.IsObject(args.Arg(0)) {
			return Undefined, rt.throwTypeError("Object.defineProperty called on non-object")
		}
		k, err := rt.toPropertyKey(args.Arg(1))
		if err != nil {
			return Undefined, err
		}
		d, dmark, err := rt.toPropertyDescriptor(args.Arg(2))
		if err != nil {
			return Undefined, err
		}
		defer rt.unprotect(dmark)
		ok, err := rt.defineOwnProperty(rt.object(args.Arg(0)), k, d)
		if err != nil {
			return Undefined, err
		}
		if !ok {
			return Undefined, rt.throwTypeError("Cannot redefine property: %s", k)
		}
		return args.Arg(0), nil
	})
	rt.defineStatic(mark, "getOwnPropertyDescriptor", 2, func(rt *Runtime, args *Args) (Value, error) {
		if !rt.IsObject(args.Arg(0)) {
			return Undefined, nil
		}
		k, err := rt.toPropertyKey(args.Arg(1))
		if err != nil {
			return Undefined, err
		}
		d, ok := rt.getOwnPropertyDescriptor(rt.object(args.Arg(0)), k)
		if !ok {
			return Undefined, nil
		}
		return rt.fromPropertyDescriptor(d), nil
	})
	integrity := []struct {
		name  string
		apply func(*Object)
	}{
		{"freeze", rt.freeze},
		{"seal", rt.seal},
		{"preventExtensions", rt.preventExtensions},
	}
	for _, it := range integrity {
		apply := it.apply
		rt.defineStatic(mark, it.name, 1, func(rt *Runtime, args *Args) (Value, error) {
			if o, ok := rt.asObject(args.Arg(0)); ok {
				apply(o)
			}
			return args.Arg(0), nil
		})
	}
	rt.defineStatic(mark, "isFrozen", 1, func(rt *Runtime, args *Args) (Value, error) {
		return BoolValue(rt.IsFrozen(args.Arg(0))), nil
	})
	rt.defineStatic(mark, "isSealed", 1, func(rt *Runtime, args *Args) (Value, error) {
		return BoolValue(rt.IsSealed(args.Arg(0))), nil
	})
	rt.defineStatic(mark, "isExtensible", 1, func(rt *Runtime, args *Args) (Value, error) {
		o, ok := rt.asObject(args.Arg(0))
		return BoolValue(ok && o.extensible), nil
	})

	rt.defineMethod(rootObjectProto, "hasOwnProperty", 1, func(rt *Runtime, args *Args) (Value, error) {
		k, err := rt.toPropertyKey(args.Arg(0))
		if err != nil {
			return Undefined, err
		}
		o, err := rt.thisObject(args, "hasOwnProperty")
		if err != nil {
			return Undefined, err
		}
		rt.prepare(o, k)
		_, found := rt.findOwn(o, k)
		return BoolValue(found), nil
	})
	rt.defineMethod(rootObjectProto, "toString", 0, func(rt *Runtime, args *Args) (Value, error) {
		this := args.This()
		switch {
		case this == Undefined:
			return rt.NewString("[object Undefined]"), nil
		case this == Null:
			return rt.NewString("[object Null]"), nil
		}
		if o, ok := rt.asObject(this); ok {
			return rt.NewString("[object " + o.class.String() + "]"), nil
		}
		switch rt.TypeOf(this) {
		case "string":
			return rt.NewString("[object String]"), nil
		case "number":
			return rt.NewString("[object Number]"), nil
		}
		return rt.NewString("[object Boolean]"), nil
	})
	rt.defineMethod(rootObjectProto, "valueOf", 0, func(rt *Runtime, args *Args) (Value, error) {
		return args.This(), nil
	})
}

// toPropertyDescriptor reads a descriptor object. The values it holds are
// protected from the returned handle mark, which the caller releases.
// May run script and trigger GC.
func (rt *Runtime) toPropertyDescriptor(v Value) (PropertyDescriptor, int, error) {
	var d PropertyDescriptor
	mark := rt.protect(v)
	rt.protect(Undefined) // value
	rt.protect(Undefined) // get
	rt.protect(Undefined) // set
	if !rt.IsObject(v) {
		return d, mark, rt.throwTypeError("Property description must be an object: %s", rt.describe(v))
	}
	field := func(name string, has *bool) (Value, error) {
		o := rt.object(rt.handles[mark])
		k := keyFromString(name)
		if !rt.hasProperty(o, k) {
			return Undefined, nil
		}
		*has = true
		return rt.getProperty(rt.handles[mark], k)
	}
	flag := func(name string, has *bool, out *bool) error {
		f, err := field(name, has)
		*out = rt.ToBoolean(f)
		return err
	}
	var err error
	for i, name := range []string{"value", "get", "set"} {
		has := []*bool{&d.HasValue, &d.HasGet, &d.HasSet}[i]
		var f Value
		if f, err = field(name, has); err != nil {
			return d, mark, err
		}
		rt.handles[mark+1+i] = f
	}
	if err = flag("writable", &d.HasWritable, &d.Writable); err != nil {
		return d, mark, err
	}
	if err = flag("enumerable", &d.HasEnumerable, &d.Enumerable); err != nil {
		return d, mark, err
	}
	if err = flag("configurable", &d.HasConfigurable, &d.Configurable); err != nil {
		return d, mark, err
	}
	d.Value, d.Get, d.Set = rt.handles[mark+1], rt.handles[mark+2], rt.handles[mark+3]
	if d.HasGet && d.Get != Undefined && !rt.IsCallable(d.Get) {
		return d, mark, rt.throwTypeError("Getter must be a function: %s", rt.describe(d.Get))
	}
	if d.HasSet && d.Set != Undefined && !rt.IsCallable(d.Set) {
		return d, mark, rt.throwTypeError("Setter must be a function: %s", rt.describe(d.Set))
	}
	if d.IsAccessor() && (d.HasValue || d.HasWritable) {
		return d, mark, rt.throwTypeError("Invalid property descriptor. Cannot both specify accessors and a value or writable attribute")
	}
	return d, mark, nil
}

// fromPropertyDescriptor builds a descriptor object. May trigger GC.
func (rt *Runtime) fromPropertyDescriptor(d PropertyDescriptor) Value {
	mark := rt.protect(d.Value)
	rt.protect(d.Get)
	rt.protect(d.Set)
	o := rt.newObject(ClassObject, rt.realm[rootObjectProto])
	rt.protect(selfValue(o))
	if d.IsAccessor() {
		rt.addOwn(o, keyFromString("get"), rt.handles[mark+1], AttrDefault)
		rt.addOwn(o, keyFromString("set"), rt.handles[mark+2], AttrDefault)
	} else {
		rt.addOwn(o, keyFromString("value"), rt.handles[mark], AttrDefault)
		rt.addOwn(o, keyFromString("writable"), BoolValue(d.Writable), AttrDefault)
	}
	rt.addOwn(o, keyFromString("enumerable"), BoolValue(d.Enumerable), AttrDefault)
	rt.addOwn(o, keyFromString("configurable"), BoolValue(d.Configurable), AttrDefault)
	rt.unprotect(mark)
	return selfValue(o)
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

func (rt *Runtime) initFunction() {
	mark := rt.defineConstructor("Function", 0, rootFunctionProto, func(rt *Runtime, args *Args) (Value, error) {
		return Undefined, rt.throwError(KindSyntaxError, "Function constructor is not supported")
	})
	rt.unprotect(mark)

	rt.defineMethod(rootFunctionProto, "call", 1, func(rt *Runtime, args *Args) (Value, error) {
		rest := make([]Value, max(args.Len()-1, 0))
		for i := range rest {
			rest[i] = args.Arg(i + 1)
		}
		return rt.callInternal(args.This(), args.Arg(0), rest)
	})
	rt.defineMethod(rootFunctionProto, "apply", 2, func(rt *Runtime, args *Args) (Value, error) {
		var list []Value
		switch a := args.Arg(1); {
		case a.IsNullish():
		case rt.ArrayLength(a) > 0:
			o := rt.object(a)
			list = make([]Value, o.length)
			for i := range list {
				v, ok := o.getElement(uint32(i))
				if !ok {
					v = Undefined
				}
				list[i] = v
			}
		case rt.IsObject(a):
		default:
			return Undefined, rt.throwTypeError("CreateListFromArrayLike called on non-object")
		}
		return rt.callInternal(args.This(), args.Arg(0), list)
	})
	rt.defineMethod(rootFunctionProto, "toString", 0, func(rt *Runtime, args *Args) (Value, error) {
		f, ok := rt.asObject(args.This())
		if !ok || f.fn == nil {
			return Undefined, rt.throwTypeError("Function.prototype.toString requires that 'this' be a Function")
		}
		return rt.NewString("function " + f.functionName() + "() { [code] }"), nil
	})
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

func (rt *Runtime) initArray() {
	mark := rt.defineConstructor("Array", 1, rootArrayProto, func(rt *Runtime, args *Args) (Value, error) {
		if args.Len() == 1 && args.Arg(0).IsNumber() {
			f := args.Arg(0).AsNumber()
			if f < 0 || f > 4294967295 || !isIntegral(f) {
				return Undefined, rt.throwRangeError("Invalid array length")
			}
			arr := rt.NewArray()
			rt.setLength(rt.object(arr), uint32(f))
			return arr, nil
		}
		return rt.NewArray(rt.stack[args.base : args.base+args.n]...), nil
	})
	rt.defineStatic(mark, "isArray", 1, func(rt *Runtime, args *Args) (Value, error) {
		o, ok := rt.asObject(args.Arg(0))
		return BoolValue(ok && o.class == ClassArray), nil
	})
	rt.unprotect(mark)

	rt.defineMethod(rootArrayProto, "push", 1, func(rt *Runtime, args *Args) (Value, error) {
		o, err := rt.thisArray(args, "push")
		if err != nil {
			return Undefined, err
		}
		for i := 0; i < args.Len(); i++ {
			if err := rt.setProperty(args.This(), keyFromIndex(o.length), args.Arg(i), true); err != nil {
				return Undefined, err
			}
		}
		return NumberValue(float64(o.length)), nil
	})
	rt.defineMethod(rootArrayProto, "pop", 0, func(rt *Runtime, args *Args) (Value, error) {
		o, err := rt.thisArray(args, "pop")
		if err != nil || o.length == 0 {
			return Undefined, err
		}
		if o.frozen || o.sealed || o.lengthReadOnly {
			return Undefined, rt.throwTypeError("Cannot delete property '%d' of array", o.length-1)
		}
		v, err := rt.getProperty(args.This(), keyFromIndex(o.length-1))
		if err != nil {
			return Undefined, err
		}
		rt.setLength(o, o.length-1)
		return v, nil
	})
	rt.defineMethod(rootArrayProto, "indexOf", 1, func(rt *Runtime, args *Args) (Value, error) {
		o, err := rt.thisArray(args, "indexOf")
		if err != nil {
			return Undefined, err
		}
		for i := uint32(0); i < o.length; i++ {
			if v, ok := o.getElement(i); ok && rt.StrictEquals(v, args.Arg(0)) {
				return NumberValue(float64(i)), nil
			}
		}
		return IntValue(-1), nil
	})
	join := func(rt *Runtime, args *Args) (Value, error) {
		o, err := rt.thisArray(args, "join")
		if err != nil {
			return Undefined, err
		}
		sep := ","
		if s := args.Arg(0); s != Undefined {
			if sep, err = rt.toGoString(s); err != nil {
				return Undefined, err
			}
		}
		var sb strings.Builder
		for i := uint32(0); i < o.length; i++ {
			if i > 0 {
				sb.WriteString(sep)
			}
			v, err := rt.getProperty(args.This(), keyFromIndex(i))
			if err != nil {
				return Undefined, err
			}
			if v.IsNullish() {
				continue
			}
			s, err := rt.toGoString(v)
			if err != nil {
				return Undefined, err
			}
			sb.WriteString(s)
		}
		return rt.NewString(sb.String()), nil
	}
	rt.defineMethod(rootArrayProto, "join", 1, join)
	rt.defineMethod(rootArrayProto, "toString", 0, func(rt *Runtime, args *Args) (Value, error) {
		if o, ok := rt.asObject(args.This()); !ok || o.class != ClassArray {
			return rt.NewString("[object Object]"), nil
		}
		return join(rt, &Args{rt: rt, base: args.base, n: 0})
	})
	rt.defineMethod(rootArrayProto, "slice", 2, func(rt *Runtime, args *Args) (Value, error) {
		o, err := rt.thisArray(args, "slice")
		if err != nil {
			return Undefined, err
		}
		n := int64(o.length)
		from, err := rt.relativeIndex(args.Arg(0), n, 0)
		if err != nil {
			return Undefined, err
		}
		to, err := rt.relativeIndex(args.Arg(1), n, n)
		if err != nil {
			return Undefined, err
		}
		mark := rt.protect(rt.NewArray())
		defer rt.unprotect(mark)
		for i := from; i < to; i++ {
			if v, ok := rt.object(args.This()).getElement(uint32(i)); ok {
				rt.setElement(rt.object(rt.handles[mark]), uint32(i-from), v)
			}
		}
		if to > from {
			rt.setLength(rt.object(rt.handles[mark]), uint32(to-from))
		}
		return rt.handles[mark], nil
	})
}

func (rt *Runtime) thisArray(args *Args, method string) (*Object, error) {
	o, ok := rt.asObject(args.This())
	if !ok || o.class != ClassArray {
		return nil, rt.throwTypeError("Array.prototype.%s called on %s", method, rt.describe(args.This()))
	}
	return o, nil
}

// relativeIndex converts a slice bound, counting negative values from n.
func (rt *Runtime) relativeIndex(v Value, n, def int64) (int64, error) {
	if v == Undefined {
		return def, nil
	}
	f, err := rt.toNumber(v)
	if err != nil {
		return 0, err
	}
	if f != f {
		f = 0
	}
	i := int64(math.Trunc(math.Max(math.Min(f, float64(n)), -float64(n)-1)))
	if i < 0 {
		i = max(n+i, 0)
	}
	return min(i, n), nil
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func (rt *Runtime) initErrors() {
	for kind := KindError; kind <= KindTimeoutError; kind++ {
		root := errorKinds[kind].root
		name := errorKinds[kind].name
		mark := rt.defineConstructor(name, 1, root, errorConstructor(kind))
		rt.unprotect(mark)
		rt.defineValue(root, "name", rt.NewString(name), attrHidden)
	}
	rt.defineValue(rootErrorProto, "message", rt.realm[rootEmptyString], attrHidden)
	rt.defineMethod(rootErrorProto, "toString", 0, func(rt *Runtime, args *Args) (Value, error) {
		if !rt.IsObject(args.This()) {
			return Undefined, rt.throwTypeError("Error.prototype.toString called on %s", rt.typeName(args.This()))
		}
		name, msg, err := rt.errorParts(args.This())
		if err != nil {
			return Undefined, err
		}
		switch {
		case msg == "":
			return rt.NewString(name), nil
		case name == "":
			return rt.NewString(msg), nil
		}
		return rt.NewString(name + ": " + msg), nil
	})

	getter := rt.NewNativeFunction("stack", 0, func(rt *Runtime, args *Args) (Value, error) {
		o, ok := rt.asObject(args.This())
		if !ok || o.class != ClassError {
			return Undefined, nil
		}
		name, msg := rt.describeThrown(args.This())
		var sb strings.Builder
		sb.WriteString(name)
		if msg != "" {
			sb.WriteString(": ")
			sb.WriteString(msg)
		}
		for _, f := range o.errStack {
			sb.WriteString("\n    ")
			sb.WriteString(f.String())
		}
		return rt.NewString(sb.String()), nil
	})
	_, _ = rt.defineOwnProperty(rt.object(rt.realm[rootErrorProto]), keyFromString("stack"),
		PropertyDescriptor{Get: getter, HasGet: true, Configurable: true, HasConfigurable: true})
}

func errorConstructor(kind ErrorKind) NativeFunc {
	return func(rt *Runtime, args *Args) (Value, error) {
		proto, err := rt.protoFromNewTarget(args, errorKinds[kind].root)
		if err != nil {
			return Undefined, err
		}
		msg := ""
		if m := args.Arg(0); m != Undefined {
			mark := rt.protect(proto)
			msg, err = rt.toGoString(m)
			proto = rt.handles[mark]
			rt.unprotect(mark)
			if err != nil {
				return Undefined, err
			}
		}
		return rt.newErrorWithProto(proto, msg), nil
	}
}

// errorParts reads name and message the way Error.prototype.toString does.
func (rt *Runtime) errorParts(v Value) (name, msg string, err error) {
	mark := rt.protect(v)
	defer rt.unprotect(mark)
	nv, err := rt.getProperty(v, keyFromString("name"))
	if err != nil {
		return "", "", err
	}
	name = "Error"
	if nv != Undefined {
		if name, err = rt.toGoString(nv); err != nil {
			return "", "", err
		}
	}
	mv, err := rt.getProperty(rt.handles[mark], keyFromString("message"))
	if err != nil || mv == Undefined {
		return name, "", err
	}
	msg, err = rt.toGoString(mv)
	return name, msg, err
}

// ---------------------------------------------------------------------------
// String, Number, Boolean
// ---------------------------------------------------------------------------

func (rt *Runtime) initPrimitives() {
	rt.DefineGlobalFunction("String", 1, func(rt *Runtime, args *Args) (Value, error) {
		if args.Len() == 0 {
			return rt.realm[rootEmptyString], nil
		}
		return rt.toStringValue(args.Arg(0))
	})
	rt.DefineGlobalFunction("Number", 1, func(rt *Runtime, args *Args) (Value, error) {
		if args.Len() == 0 {
			return IntValue(0), nil
		}
		f, err := rt.toNumber(args.Arg(0))
		return NumberValue(f), err
	})
	rt.DefineGlobalFunction("Boolean", 1, func(rt *Runtime, args *Args) (Value, error) {
		return BoolValue(rt.ToBoolean(args.Arg(0))), nil
	})
	for _, c := range []struct {
		name string
		root int
	}{{"String", rootStringProto}, {"Number", rootNumberProto}, {"Boolean", rootBooleanProto}} {
		v, _ := rt.dataProperty(rt.object(rt.realm[rootGlobal]), c.name)
		ctor := rt.object(v)
		rt.addOwn(ctor, keyFromString("prototype"), rt.realm[c.root], 0)
		rt.defineValue(c.root, "constructor", selfValue(ctor), attrHidden)
	}

	thisString := func(args *Args) (string, error) {
		s, ok := args.rt.stringOf(args.This())
		if !ok {
			return "", args.rt.throwTypeError("String.prototype method called on %s", args.rt.typeName(args.This()))
		}
		return s, nil
	}
	stringValue := func(rt *Runtime, args *Args) (Value, error) {
		if _, err := thisString(args); err != nil {
			return Undefined, err
		}
		return args.This(), nil
	}
	rt.defineMethod(rootStringProto, "toString", 0, stringValue)
	rt.defineMethod(rootStringProto, "valueOf", 0, stringValue)
	rt.defineMethod(rootStringProto, "charAt", 1, func(rt *Runtime, args *Args) (Value, error) {
		f, err := rt.toNumber(args.Arg(0))
		if err != nil {
			return Undefined, err
		}
		s, err := thisString(args)
		if err != nil {
			return Undefined, err
		}
		if r, ok := runeAt(s, int(f)); ok && f >= 0 {
			return rt.NewString(string(r)), nil
		}
		return rt.realm[rootEmptyString], nil
	})
	rt.defineMethod(rootStringProto, "indexOf", 1, func(rt *Runtime, args *Args) (Value, error) {
		sub, err := rt.toGoString(args.Arg(0))
		if err != nil {
			return Undefined, err
		}
		s, err := thisString(args)
		if err != nil {
			return Undefined, err
		}
		i := strings.Index(s, sub)
		if i < 0 {
			return IntValue(-1), nil
		}
		return IntValue(int32(utf8.RuneCountInString(s[:i]))), nil
	})

	thisNumber := func(args *Args) (float64, error) {
		if !args.This().IsNumber() {
			return 0, args.rt.throwTypeError("Number.prototype method called on %s", args.rt.typeName(args.This()))
		}
		return args.This().AsNumber(), nil
	}
	rt.defineMethod(rootNumberProto, "toString", 1, func(rt *Runtime, args *Args) (Value, error) {
		f, err := thisNumber(args)
		if err != nil {
			return Undefined, err
		}
		radix := 10
		if r := args.Arg(0); r != Undefined {
			rf, err := rt.toNumber(r)
			if err != nil {
				return Undefined, err
			}
			if radix = int(rf); radix < 2 || radix > 36 {
				return Undefined, rt.throwRangeError("toString() radix must be between 2 and 36")
			}
		}
		if radix != 10 && isIntegral(f) && math.Abs(f) < 1<<53 {
			return rt.NewString(strconv.FormatInt(int64(f), radix)), nil
		}
		return rt.NewString(formatNumber(f)), nil
	})
	rt.defineMethod(rootNumberProto, "valueOf", 0, func(rt *Runtime, args *Args) (Value, error) {
		f, err := thisNumber(args)
		return NumberValue(f), err
	})

	thisBool := func(args *Args) (Value, error) {
		if !args.This().IsBool() {
			return Undefined, args.rt.throwTypeError("Boolean.prototype method called on %s", args.rt.typeName(args.This()))
		}
		return args.This(), nil
	}
	rt.defineMethod(rootBooleanProto, "toString", 0, func(rt *Runtime, args *Args) (Value, error) {
		b, err := thisBool(args)
		if err != nil {
			return Undefined, err
		}
		return rt.NewString(strconv.FormatBool(b == True)), nil
	})
	rt.defineMethod(rootBooleanProto, "valueOf", 0, func(rt *Runtime, args *Args) (Value, error) {
		return thisBool(args)
	})
}

// ---------------------------------------------------------------------------
// Generators and iterators
// ---------------------------------------------------------------------------

func (rt *Runtime) initIterators() {
	resume := func(action resumeAction) NativeFunc {
		return func(rt *Runtime, args *Args) (Value, error) {
			v, done, err := rt.resumeGenerator(args.This(), action, args.Arg(0))
			if err != nil {
				return Undefined, err
			}
			return rt.newIterResult(v, done), nil
		}
	}
	rt.defineMethod(rootGeneratorProto, "next", 1, resume(resumeNext))
	rt.defineMethod(rootGeneratorProto, "return", 1, resume(resumeReturn))
	rt.defineMethod(rootGeneratorProto, "throw", 1, resume(resumeThrow))

	rt.defineMethod(rootArrayIteratorProto, "next", 0, func(rt *Runtime, args *Args) (Value, error) {
		o, ok := rt.asObject(args.This())
		if !ok || o.iter == nil {
			return Undefined, rt.throwTypeError("next called on incompatible receiver %s", rt.describe(args.This()))
		}
		v, done, err := rt.arrayIteratorStep(o)
		if err != nil {
			return Undefined, err
		}
		return rt.newIterResult(v, done), nil
	})
}
