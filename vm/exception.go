package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Exception state
// ---------------------------------------------------------------------------

// errThrown signals a pending script exception. The thrown value is held in
// Runtime.thrown, where it is a root, until a Catch takes it or it crosses
// the host boundary as a *ScriptError.
var errThrown = errors.New("script exception")

// maxStackFrames bounds captured stack traces.
const maxStackFrames = 64

// throwValue makes v the pending exception.
func (rt *Runtime) throwValue(v Value) error {
	rt.thrown = v
	rt.thrownStack = rt.captureStack()
	return errThrown
}

// captureStack records the live script frames, innermost first.
func (rt *Runtime) captureStack() []StackFrame {
	out := make([]StackFrame, 0, min(len(rt.frames), maxStackFrames))
	for i := len(rt.frames) - 1; i >= 0 && len(out) < maxStackFrames; i-- {
		fr := rt.frames[i]
		sf := StackFrame{Function: fr.code.name(), Offset: fr.opStart}
		if loc, ok := fr.code.location(fr.opStart); ok {
			sf.Line, sf.Column = loc.Line, loc.Column
		}
		out = append(out, sf)
	}
	return out
}

// ---------------------------------------------------------------------------
// Error objects
// ---------------------------------------------------------------------------

// ErrorKind selects one of the built-in error constructors.
type ErrorKind int

const (
	KindError ErrorKind = iota
	KindTypeError
	KindRangeError
	KindReferenceError
	KindSyntaxError
	KindTimeoutError
)

var errorKinds = [...]struct {
	name string
	root int
}{
	KindError:          {"Error", rootErrorProto},
	KindTypeError:      {"TypeError", rootTypeErrorProto},
	KindRangeError:     {"RangeError", rootRangeErrorProto},
	KindReferenceError: {"ReferenceError", rootReferenceErrorProto},
	KindSyntaxError:    {"SyntaxError", rootSyntaxErrorProto},
	KindTimeoutError:   {"TimeoutError", rootTimeoutErrorProto},
}

func (k ErrorKind) String() string { return errorKinds[k].name }

// newErrorWithProto allocates an error object with the given prototype and
// message and records the current stack on it. May trigger GC.
func (rt *Runtime) newErrorWithProto(proto Value, msg string) Value {
	mark := rt.protect(proto)
	rt.protect(rt.NewString(msg))
	o := rt.newObject(ClassError, rt.handles[mark])
	o.errStack = rt.captureStack()
	rt.handles[mark] = selfValue(o)
	if msg != "" {
		rt.addOwn(o, keyFromString("message"), rt.handles[mark+1], AttrWritable|AttrConfigurable)
	}
	v := rt.handles[mark]
	rt.unprotect(mark)
	return v
}

func (rt *Runtime) newError(kind ErrorKind, msg string) Value {
	return rt.newErrorWithProto(rt.realm[errorKinds[kind].root], msg)
}

// throwError throws a new error of the given kind.
func (rt *Runtime) throwError(kind ErrorKind, format string, args ...any) error {
	return rt.throwValue(rt.newError(kind, fmt.Sprintf(format, args...)))
}

func (rt *Runtime) throwTypeError(format string, args ...any) error {
	return rt.throwError(KindTypeError, format, args...)
}

func (rt *Runtime) throwRangeError(format string, args ...any) error {
	return rt.throwError(KindRangeError, format, args...)
}

func (rt *Runtime) throwReferenceError(format string, args ...any) error {
	return rt.throwError(KindReferenceError, format, args...)
}

func (rt *Runtime) throwStackOverflow() error {
	rt.log.Warningf("stack overflow at depth %d", len(rt.frames))
	return rt.throwRangeError("Maximum call stack size exceeded")
}

func (rt *Runtime) throwOutOfMemory() error {
	rt.thrown = rt.realm[rootOOMError]
	rt.thrownStack = rt.captureStack()
	return errThrown
}

// ---------------------------------------------------------------------------
// Crossing the host boundary
// ---------------------------------------------------------------------------

// absorbError turns an error returned by host code into the pending
// exception.
func (rt *Runtime) absorbError(err error) error {
	if err == errThrown {
		return err
	}
	var se *ScriptError
	if errors.As(err, &se) && se.value != nil && se.value.rt == rt {
		rt.thrown = se.Value()
		rt.thrownStack = se.Stack
		se.Release()
		return errThrown
	}
	var re *ResourceError
	if errors.As(err, &re) {
		switch {
		case errors.Is(re, ErrStackOverflow):
			return rt.throwStackOverflow()
		case errors.Is(re, ErrInterrupted):
			return rt.throwError(KindTimeoutError, "Execution interrupted")
		case errors.Is(re, ErrOutOfMemory):
			return rt.throwOutOfMemory()
		}
	}
	return rt.throwError(KindError, "%s", err.Error())
}

// publicError turns the pending exception into a *ScriptError for the
// host. Other errors pass through.
func (rt *Runtime) publicError(err error) error {
	if err != errThrown {
		return err
	}
	v := rt.thrown
	rt.thrown = Undefined
	se := &ScriptError{Stack: rt.thrownStack, value: rt.Pin(v)}
	rt.thrownStack = nil
	se.Name, se.Message = rt.describeThrown(v)
	return se
}

// describeThrown extracts a name and message without running script.
func (rt *Runtime) describeThrown(v Value) (name, message string) {
	o, ok := rt.asObject(v)
	if !ok {
		if s, ok := rt.stringOf(v); ok {
			return "", s
		}
		s, _ := rt.toGoString(v)
		return "", s
	}
	if n, ok := rt.dataProperty(o, "name"); ok {
		name, _ = rt.stringOf(n)
	}
	if m, ok := rt.dataProperty(o, "message"); ok {
		message, _ = rt.stringOf(m)
	}
	if name == "" && message == "" {
		message = "[object " + o.class.String() + "]"
	}
	return name, message
}

// dataProperty reads a named data property along the prototype chain,
// ignoring accessors.
func (rt *Runtime) dataProperty(o *Object, name string) (Value, bool) {
	k := keyFromString(name)
	for {
		if p, found := rt.findOwn(o, k); found {
			if p.where != slotNamed || p.attrs.Accessor() {
				return Undefined, false
			}
			return o.slots[p.slot], true
		}
		proto := rt.shape(o.shape).proto
		if proto == Null {
			return Undefined, false
		}
		o = rt.object(proto)
	}
}

// guard converts resource panics escaping a public entry point into an
// error, restoring the register and handle stacks. Use as
// defer rt.guard(&err)().
func (rt *Runtime) guard(errp *error) func() {
	sp, handles, scopes, frames, depth := rt.sp, len(rt.handles), len(rt.scopes), len(rt.frames), rt.nativeDepth
	return func() {
		r := recover()
		if r == nil {
			return
		}
		re, ok := r.(*ResourceError)
		if !ok || rt.heap.collecting {
			panic(r)
		}
		rt.sp, rt.nativeDepth = sp, depth
		rt.handles = rt.handles[:handles]
		rt.scopes = rt.scopes[:scopes]
		rt.frames = rt.frames[:frames]
		*errp = re
	}
}

// ---------------------------------------------------------------------------
// Unwinding
// ---------------------------------------------------------------------------

// unwind transfers control to the innermost handler covering the faulting
// instruction of the top frame, popping frames that have none. It returns
// false when an entry frame is popped: the exception then belongs to
// whoever started that execution.
func (rt *Runtime) unwind() bool {
	for len(rt.frames) > 0 {
		fr := rt.frames[len(rt.frames)-1]
		if h, ok := fr.code.findHandler(fr.opStart); ok {
			fr.ip = h.Target
			rt.sp = fr.base + fr.code.info.FrameSize
			return true
		}
		if fr.generator {
			rt.finishGenerator(rt.object(rt.stack[fr.base-1]))
		}
		entry := fr.entry
		rt.sp = fr.base - frameHeader
		rt.popFrame()
		if entry {
			return false
		}
	}
	return false
}
