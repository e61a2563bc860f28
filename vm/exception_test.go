package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nestedFinally builds
//
//	try { try { <body> } finally { log("inner") } } finally { log("outer") }
//
// where body either returns 1 or throws "boom". Each finally block is
// emitted twice: inline for normal completion and in a handler that
// rethrows.
func nestedFinally(throws bool) *Module {
	mb := NewModuleBuilder("finally")
	return mb.Build(mb.Function(nestedFinallyFunction(mb, "main", throws)))
}

func nestedFinallyFunction(mb *ModuleBuilder, name string, throws bool) *FunctionInfo {
	b := NewBytecodeBuilder()
	start, innerEnd, innerHandler := b.NewLabel(), b.NewLabel(), b.NewLabel()
	outerFinally, outerHandler := b.NewLabel(), b.NewLabel()

	b.Mark(start)
	if throws {
		b.Emit(OpLoadString, 5, mb.String("boom"))
		b.Emit(OpThrow, 5)
	} else {
		b.Emit(OpLoadInt, 0, 1)
	}
	b.Mark(innerEnd)
	emitLog(b, mb, "inner", 1, 2, 3)
	b.EmitJump(OpJmp, outerFinally)

	b.Mark(innerHandler)
	b.Emit(OpCatch, 4)
	emitLog(b, mb, "inner", 1, 2, 3)
	b.Emit(OpThrow, 4)

	b.Mark(outerFinally)
	emitLog(b, mb, "outer", 1, 2, 3)
	b.Emit(OpRet, 0)

	b.Mark(outerHandler)
	b.Emit(OpCatch, 4)
	emitLog(b, mb, "outer", 1, 2, 3)
	b.Emit(OpThrow, 4)

	b.AddHandler(start, innerEnd, innerHandler)
	b.AddHandler(start, outerFinally, outerHandler)
	return function(name, 0, 6, b)
}

func TestNestedFinallyNormalCompletion(t *testing.T) {
	rt := newTestRuntime(t)
	lines := recordLog(rt)
	v := mustRun(t, rt, nestedFinally(false))
	requireNumber(t, 1, v)
	assert.Equal(t, []string{"inner", "outer"}, *lines)
}

func TestNestedFinallyOnThrow(t *testing.T) {
	rt := newTestRuntime(t)
	lines := recordLog(rt)
	_, err := rt.Run(nestedFinally(true))
	var se *ScriptError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "boom", se.Message)
	assert.Equal(t, "", se.Name)
	assert.Equal(t, "boom", rt.GoString(se.Value()))
	se.Release()
	assert.Equal(t, Undefined, se.Value())
	assert.Equal(t, []string{"inner", "outer"}, *lines)
}

// TestReturnThroughFinallyInCallee runs
//
//	function f() { try { try { return 1 } finally { log("inner") } } finally { log("outer") } }
//	let r = f(); log("after"); return r
func TestReturnThroughFinallyInCallee(t *testing.T) {
	rt := newTestRuntime(t)
	lines := recordLog(rt)

	mb := NewModuleBuilder("finally-return")
	f := mb.Function(nestedFinallyFunction(mb, "f", false))
	b := NewBytecodeBuilder()
	b.Emit(OpLoadUndefined, 1)
	b.Emit(OpCreateClosure, 0, 1, f)
	b.Emit(OpCall, 2, 0, 1, 1, 0)
	emitLog(b, mb, "after", 3, 4, 5)
	b.Emit(OpRet, 2)

	v := mustRun(t, rt, mb.Build(mb.Function(function("main", 0, 6, b))))
	requireNumber(t, 1, v)
	assert.Equal(t, []string{"inner", "outer", "after"}, *lines)
	assert.Len(t, rt.frames, 0)
}

// TestFinallyOnBreakAndContinue runs
//
//	let i = 0
//	for (;; i++) { try { if (i < 2) continue; break } finally { log("finally") } }
//	return i
//
// The finally block is copied onto the continue and break paths.
func TestFinallyOnBreakAndContinue(t *testing.T) {
	rt := newTestRuntime(t)
	lines := recordLog(rt)

	mb := NewModuleBuilder("finally-loop")
	b := NewBytecodeBuilder()
	loop, start, end := b.NewLabel(), b.NewLabel(), b.NewLabel()
	continuePath, breakPath, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()

	b.Emit(OpLoadInt, 0, 0)
	b.Emit(OpLoadInt, 5, 2)
	b.Mark(loop)
	b.Mark(start)
	b.Emit(OpLt, 6, 0, 5)
	b.EmitJump(OpJmpFalse, breakPath, 6)
	b.EmitJump(OpJmp, continuePath)
	b.Mark(end)

	b.Mark(continuePath)
	emitLog(b, mb, "finally", 1, 2, 3)
	b.Emit(OpInc, 0, 0)
	b.EmitJump(OpJmp, loop)

	b.Mark(breakPath)
	emitLog(b, mb, "finally", 1, 2, 3)
	b.Emit(OpRet, 0)

	b.Mark(handler)
	b.Emit(OpCatch, 4)
	emitLog(b, mb, "finally", 1, 2, 3)
	b.Emit(OpThrow, 4)
	b.AddHandler(start, end, handler)

	v := mustRun(t, rt, mb.Build(mb.Function(function("main", 0, 7, b))))
	requireNumber(t, 2, v)
	assert.Equal(t, []string{"finally", "finally", "finally"}, *lines)
}

// finallyOverride builds
//
//	try { throw "pending" } finally { <exit> }
//
// where the finally block's own control transfer replaces the pending
// exception.
func finallyOverride(exit func(mb *ModuleBuilder, b *BytecodeBuilder, after *Label)) *Module {
	mb := NewModuleBuilder("finally-override")
	b := NewBytecodeBuilder()
	start, end, handler, after := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()

	b.Mark(start)
	b.Emit(OpLoadString, 1, mb.String("pending"))
	b.Emit(OpThrow, 1)
	b.Mark(end)
	exit(mb, b, after)

	b.Mark(handler)
	b.Emit(OpCatch, 2)
	exit(mb, b, after)

	b.Mark(after)
	b.Emit(OpLoadString, 0, mb.String("after loop"))
	b.Emit(OpRet, 0)
	b.AddHandler(start, end, handler)
	return mb.Build(mb.Function(function("main", 0, 3, b)))
}

func TestFinallyControlTransferOverridesThrow(t *testing.T) {
	t.Run("return", func(t *testing.T) {
		rt := newTestRuntime(t)
		v := mustRun(t, rt, finallyOverride(func(mb *ModuleBuilder, b *BytecodeBuilder, _ *Label) {
			b.Emit(OpLoadInt, 0, 7)
			b.Emit(OpRet, 0)
		}))
		requireNumber(t, 7, v)
		assert.Equal(t, Undefined, rt.thrown)
	})

	t.Run("break", func(t *testing.T) {
		rt := newTestRuntime(t)
		v := mustRun(t, rt, finallyOverride(func(mb *ModuleBuilder, b *BytecodeBuilder, after *Label) {
			b.EmitJump(OpJmp, after)
		}))
		assert.Equal(t, "after loop", rt.GoString(v))
		assert.Equal(t, Undefined, rt.thrown)
	})

	t.Run("throw", func(t *testing.T) {
		rt := newTestRuntime(t)
		_, err := rt.Run(finallyOverride(func(mb *ModuleBuilder, b *BytecodeBuilder, _ *Label) {
			b.Emit(OpLoadString, 0, mb.String("replacement"))
			b.Emit(OpThrow, 0)
		}))
		se := requireScriptError(t, err, "")
		assert.Equal(t, "replacement", se.Message)
		se.Release()
	})
}

func TestCatchNativeError(t *testing.T) {
	rt := newTestRuntime(t)
	rt.DefineGlobalFunction("fail", 0, func(rt *Runtime, args *Args) (Value, error) {
		return Undefined, rt.ThrowTypeError("bad %s", "input")
	})

	// try { fail() } catch (e) { return e.message }
	mb := NewModuleBuilder("catch")
	b := NewBytecodeBuilder()
	start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start)
	b.Emit(OpGetGlobal, 0, mb.String("fail"), b.NewCache())
	b.Emit(OpLoadUndefined, 1)
	b.Emit(OpCall, 2, 0, 1, 1, 0)
	b.Emit(OpRet, 2)
	b.Mark(end)
	b.Mark(handler)
	b.Emit(OpCatch, 3)
	b.Emit(OpGetById, 4, 3, mb.String("message"), b.NewCache())
	b.Emit(OpRet, 4)
	b.AddHandler(start, end, handler)

	v := mustRun(t, rt, mb.Build(mb.Function(function("main", 0, 5, b))))
	assert.Equal(t, "bad input", rt.GoString(v))
	assert.Equal(t, Undefined, rt.thrown)
}

func TestHostErrorsBecomeErrors(t *testing.T) {
	rt := newTestRuntime(t)
	rt.DefineGlobalFunction("fail", 0, func(*Runtime, *Args) (Value, error) {
		return Undefined, errors.New("disk on fire")
	})
	mb := NewModuleBuilder("host-error")
	b := NewBytecodeBuilder()
	b.Emit(OpGetGlobal, 0, mb.String("fail"), b.NewCache())
	b.Emit(OpLoadUndefined, 1)
	b.Emit(OpCall, 2, 0, 1, 1, 0)
	b.Emit(OpRet, 2)
	_, err := rt.Run(mb.Build(mb.Function(function("main", 0, 3, b))))
	se := requireScriptError(t, err, "Error")
	assert.Equal(t, "disk on fire", se.Message)
}

func TestScriptErrorsCrossNativeFrames(t *testing.T) {
	rt := newTestRuntime(t)

	// thrower() { throw "inner" }
	mb := NewModuleBuilder("rethrow")
	tb := NewBytecodeBuilder()
	tb.Emit(OpLoadString, 0, mb.String("inner"))
	tb.Emit(OpThrow, 0)
	thrower := mb.Function(function("thrower", 0, 1, tb))
	fn := mustRun(t, rt, mb.Build(returnsClosure(mb, thrower)))
	require.NoError(t, rt.SetGlobal("thrower", fn))

	var seen error
	rt.DefineGlobalFunction("relay", 0, func(rt *Runtime, args *Args) (Value, error) {
		f, err := rt.GetGlobal("thrower")
		if err != nil {
			return Undefined, err
		}
		_, seen = rt.Call(f, Undefined)
		return Undefined, seen
	})

	// try { relay() } catch (e) { return e }
	mb2 := NewModuleBuilder("relay")
	b := NewBytecodeBuilder()
	start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start)
	b.Emit(OpGetGlobal, 0, mb2.String("relay"), b.NewCache())
	b.Emit(OpLoadUndefined, 1)
	b.Emit(OpCall, 2, 0, 1, 1, 0)
	b.Emit(OpRet, 2)
	b.Mark(end)
	b.Mark(handler)
	b.Emit(OpCatch, 3)
	b.Emit(OpRet, 3)
	b.AddHandler(start, end, handler)

	v := mustRun(t, rt, mb2.Build(mb2.Function(function("main", 0, 4, b))))
	assert.Equal(t, "inner", rt.GoString(v))
	var se *ScriptError
	require.True(t, errors.As(seen, &se))
	assert.Equal(t, Undefined, se.Value(), "value should be released when absorbed")
}

func TestStackTraceUsesLocations(t *testing.T) {
	rt := newTestRuntime(t)
	rt.DefineGlobalFunction("explode", 0, func(rt *Runtime, args *Args) (Value, error) {
		return Undefined, rt.ThrowRangeError("kaboom")
	})

	mb := NewModuleBuilder("trace")
	ib := NewBytecodeBuilder()
	ib.Emit(OpGetGlobal, 0, mb.String("explode"), ib.NewCache())
	ib.Emit(OpLoadUndefined, 1)
	callAt := ib.Len()
	ib.Emit(OpCall, 2, 0, 1, 1, 0)
	ib.Emit(OpRet, 2)
	inner := function("inner", 0, 3, ib)
	inner.Locations = []Location{{Offset: 0, Line: 2, Column: 3}, {Offset: callAt, Line: 3, Column: 7}}
	innerIdx := mb.Function(inner)

	b := NewBytecodeBuilder()
	b.Emit(OpLoadUndefined, 1)
	b.Emit(OpCreateClosure, 0, 1, innerIdx)
	b.Emit(OpCall, 2, 0, 1, 1, 0)
	b.Emit(OpRet, 2)
	m := mb.Build(mb.Function(function("main", 0, 3, b)))

	_, err := rt.Run(m)
	se := requireScriptError(t, err, "RangeError")
	require.Len(t, se.Stack, 2)
	assert.Equal(t, StackFrame{Function: "inner", Offset: callAt, Line: 3, Column: 7}, se.Stack[0])
	assert.Equal(t, "main", se.Stack[1].Function)
	assert.Zero(t, se.Stack[1].Line)

	trace := se.StackTrace()
	assert.Contains(t, trace, "RangeError: kaboom")
	assert.Contains(t, trace, "at inner (3:7)")
	assert.Contains(t, trace, "at main (+")

	errStack := rt.ErrorStack(se.Value())
	assert.Equal(t, se.Stack, errStack)
	se.Release()
}

func TestThrowOutsideHandlerUnwindsFrames(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("unwind")
	b := NewBytecodeBuilder()
	b.Emit(OpLoadInt, 0, 3)
	b.Emit(OpThrow, 0)
	_, err := rt.Run(mb.Build(mb.Function(function("main", 0, 1, b))))
	se := requireScriptError(t, err, "")
	assert.Equal(t, "3", se.Message)
	assert.Empty(t, rt.frames)
	assert.Zero(t, rt.sp)
	assert.Equal(t, Undefined, rt.thrown)
}
