package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// closureLoop builds
//
//	let fns = []; for (let i = 0; i < 5; i++) fns.push(() => i); return fns
//
// With perIteration false the loop variable lives in one environment shared
// by every closure, as a var declaration would.
func closureLoop(perIteration bool) *Module {
	mb := NewModuleBuilder("closures")
	ib := NewBytecodeBuilder()
	ib.Emit(OpGetClosureEnvironment, 0)
	ib.Emit(OpLoadFromEnvironment, 1, 0, 0)
	ib.Emit(OpRet, 1)
	inner := mb.Function(function("inner", 0, 2, ib))

	b := NewBytecodeBuilder()
	b.Emit(OpNewArray, 0, 0, 0)
	b.Emit(OpLoadInt, 1, 0)
	if !perIteration {
		b.Emit(OpCreateEnvironment, 4, 1)
	}
	loop, done := b.NewLabel(), b.NewLabel()
	b.Mark(loop)
	b.Emit(OpLoadInt, 2, 5)
	b.Emit(OpLt, 3, 1, 2)
	b.EmitJump(OpJmpFalse, done, 3)
	if perIteration {
		b.Emit(OpCreateEnvironment, 4, 1)
	}
	b.Emit(OpStoreToEnvironment, 4, 0, 1)
	b.Emit(OpCreateClosure, 5, 4, inner)
	b.Emit(OpGetById, 6, 0, mb.String("push"), b.NewCache())
	b.Emit(OpCall, 7, 6, 0, 5, 1)
	b.Emit(OpInc, 1, 1)
	b.EmitJump(OpJmp, loop)
	b.Mark(done)
	if !perIteration {
		b.Emit(OpStoreToEnvironment, 4, 0, 1)
	}
	b.Emit(OpRet, 0)
	return mb.Build(mb.Function(function("main", 0, 8, b)))
}

func callEach(t *testing.T, rt *Runtime, arr Value) []float64 {
	t.Helper()
	scope := rt.OpenScope()
	defer scope.Close()
	h := scope.Handle(arr)
	var out []float64
	for i := uint32(0); i < rt.ArrayLength(h.Get()); i++ {
		fn, err := rt.GetIndex(h.Get(), i)
		require.NoError(t, err)
		v, err := rt.Call(fn, Undefined)
		require.NoError(t, err)
		require.True(t, v.IsNumber())
		out = append(out, v.AsNumber())
	}
	return out
}

func TestPerIterationClosures(t *testing.T) {
	rt := newTestRuntime(t)
	arr := mustRun(t, rt, closureLoop(true))
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, callEach(t, rt, arr))
}

func TestSharedEnvironmentClosures(t *testing.T) {
	rt := newTestRuntime(t)
	arr := mustRun(t, rt, closureLoop(false))
	assert.Equal(t, []float64{5, 5, 5, 5, 5}, callEach(t, rt, arr))
}

func TestClosuresSurviveCollection(t *testing.T) {
	rt := newTestRuntime(t, smallHeap)
	scope := rt.OpenScope()
	defer scope.Close()
	arr := scope.Handle(mustRun(t, rt, closureLoop(true)))
	for i := 0; i < 20000; i++ {
		rt.NewObject()
	}
	rt.Collect(true)
	require.NoError(t, rt.VerifyHeap())
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, callEach(t, rt, arr.Get()))
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func fibModule() *Module {
	mb := NewModuleBuilder("fib")
	b := NewBytecodeBuilder()
	recurse := b.NewLabel()
	b.Emit(OpLoadInt, 1, 2)
	b.Emit(OpLt, 2, 0, 1)
	b.EmitJump(OpJmpFalse, recurse, 2)
	b.Emit(OpRet, 0)
	b.Mark(recurse)
	b.Emit(OpGetGlobal, 3, mb.String("fib"), b.NewCache())
	b.Emit(OpLoadUndefined, 4)
	b.Emit(OpLoadInt, 1, 1)
	b.Emit(OpSub, 5, 0, 1)
	b.Emit(OpCall, 6, 3, 4, 5, 1)
	b.Emit(OpLoadInt, 1, 2)
	b.Emit(OpSub, 5, 0, 1)
	b.Emit(OpCall, 7, 3, 4, 5, 1)
	b.Emit(OpAdd, 6, 6, 7)
	b.Emit(OpRet, 6)
	fib := mb.Function(function("fib", 1, 8, b))
	return mb.Build(returnsClosure(mb, fib))
}

func TestRecursiveCalls(t *testing.T) {
	rt := newTestRuntime(t)
	fn := mustRun(t, rt, fibModule())
	require.NoError(t, rt.SetGlobal("fib", fn))
	fn, err := rt.GetGlobal("fib")
	require.NoError(t, err)

	v, err := rt.Call(fn, Undefined, IntValue(20))
	require.NoError(t, err)
	requireNumber(t, 6765, v)
	assert.Empty(t, rt.frames, "frames left behind")
}

func TestMissingArgumentsAreUndefined(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("args")
	b := NewBytecodeBuilder()
	b.Emit(OpTypeOf, 2, 1)
	b.Emit(OpRet, 2)
	fn := mb.Function(function("second", 2, 3, b))
	f := mustRun(t, rt, mb.Build(returnsClosure(mb, fn)))

	v, err := rt.Call(f, Undefined, IntValue(1))
	require.NoError(t, err)
	assert.Equal(t, "undefined", rt.GoString(v))
	v, err = rt.Call(f, Undefined, IntValue(1), True, False)
	require.NoError(t, err)
	assert.Equal(t, "boolean", rt.GoString(v))
}

func TestThisBinding(t *testing.T) {
	for _, strict := range []bool{false, true} {
		rt := newTestRuntime(t)
		mb := NewModuleBuilder("this")
		b := NewBytecodeBuilder()
		b.Emit(OpLoadThis, 0)
		b.Emit(OpRet, 0)
		fn := mb.Function(function("self", 0, 1, b))
		mb.m.Functions[fn].Strict = strict
		f := mustRun(t, rt, mb.Build(returnsClosure(mb, fn)))

		v, err := rt.Call(f, Undefined)
		require.NoError(t, err)
		if strict {
			assert.Equal(t, Undefined, v)
		} else {
			assert.Equal(t, rt.Global(), v)
		}
	}
}

func TestConstruct(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("point")
	pb := NewBytecodeBuilder()
	pb.Emit(OpLoadThis, 2)
	pb.Emit(OpPutById, 2, 0, mb.String("x"), pb.NewCache())
	pb.Emit(OpPutById, 2, 1, mb.String("y"), pb.NewCache())
	pb.Emit(OpLoadUndefined, 3)
	pb.Emit(OpRet, 3)
	point := mb.Function(function("Point", 2, 4, pb))

	// let P = Point; let p = new P(3, 4); return [p, p instanceof P]
	b := NewBytecodeBuilder()
	b.Emit(OpLoadUndefined, 0)
	b.Emit(OpCreateClosure, 0, 0, point)
	b.Emit(OpLoadInt, 1, 3)
	b.Emit(OpLoadInt, 2, 4)
	b.Emit(OpConstruct, 3, 0, 1, 2)
	b.Emit(OpInstanceOf, 4, 3, 0)
	b.Emit(OpNewArray, 5, 3, 2)
	b.Emit(OpRet, 5)
	m := mb.Build(mb.Function(function("main", 0, 6, b)))

	scope := rt.OpenScope()
	defer scope.Close()
	res := scope.Handle(mustRun(t, rt, m))
	p, err := rt.GetIndex(res.Get(), 0)
	require.NoError(t, err)
	ph := scope.Handle(p)
	isPoint, err := rt.GetIndex(res.Get(), 1)
	require.NoError(t, err)
	assert.Equal(t, True, isPoint)

	x, err := rt.GetProperty(ph.Get(), "x")
	require.NoError(t, err)
	requireNumber(t, 3, x)
	y, err := rt.GetProperty(ph.Get(), "y")
	require.NoError(t, err)
	requireNumber(t, 4, y)
}

func TestCallingNonFunctionIsTypeError(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("bad-call")
	b := NewBytecodeBuilder()
	b.Emit(OpLoadInt, 0, 1)
	b.Emit(OpCall, 1, 0, 0, 0, 0)
	b.Emit(OpRet, 1)
	_, err := rt.Run(mb.Build(mb.Function(function("main", 0, 2, b))))
	se := requireScriptError(t, err, "TypeError")
	assert.Contains(t, se.Message, "is not a function")
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

func TestUndefinedGlobalIsReferenceError(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("globals")
	b := NewBytecodeBuilder()
	b.Emit(OpGetGlobal, 0, mb.String("missing"), b.NewCache())
	b.Emit(OpRet, 0)
	_, err := rt.Run(mb.Build(mb.Function(function("main", 0, 1, b))))
	se := requireScriptError(t, err, "ReferenceError")
	assert.Equal(t, "missing is not defined", se.Message)

	_, err = rt.GetGlobal("missing")
	requireScriptError(t, err, "ReferenceError")
}

func TestGlobalAssignment(t *testing.T) {
	for _, strict := range []bool{false, true} {
		rt := newTestRuntime(t)
		mb := NewModuleBuilder("assign-global")
		b := NewBytecodeBuilder()
		b.Emit(OpLoadInt, 0, 42)
		b.Emit(OpPutGlobal, 0, mb.String("answer"), b.NewCache())
		b.Emit(OpRet, 0)
		fn := mb.Function(function("main", 0, 1, b))
		mb.m.Functions[fn].Strict = strict
		_, err := rt.Run(mb.Build(fn))
		if strict {
			requireScriptError(t, err, "ReferenceError")
			continue
		}
		require.NoError(t, err)
		v, err := rt.GetGlobal("answer")
		require.NoError(t, err)
		requireNumber(t, 42, v)
	}
}

func TestDeclaredGlobalsAreAssignableInStrictCode(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("declare")
	b := NewBytecodeBuilder()
	b.Emit(OpDeclareGlobal, mb.String("counter"))
	b.Emit(OpLoadInt, 0, 1)
	b.Emit(OpPutGlobal, 0, mb.String("counter"), b.NewCache())
	b.Emit(OpGetGlobal, 1, mb.String("counter"), b.NewCache())
	b.Emit(OpRet, 1)
	fn := mb.Function(function("main", 0, 2, b))
	mb.m.Functions[fn].Strict = true
	requireNumber(t, 1, mustRun(t, rt, mb.Build(fn)))
}

// ---------------------------------------------------------------------------
// Literals and iteration
// ---------------------------------------------------------------------------

func TestObjectTemplatesShareShapes(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("template")
	b := NewBytecodeBuilder()
	b.Emit(OpLoadInt, 1, 1)
	b.Emit(OpLoadString, 2, mb.String("two"))
	b.Emit(OpNewObjectFromTemplate, 0, mb.Template("a", "b"), 1)
	b.Emit(OpRet, 0)
	m := mb.Build(mb.Function(function("main", 0, 3, b)))

	scope := rt.OpenScope()
	defer scope.Close()
	first := scope.Handle(mustRun(t, rt, m))
	second := scope.Handle(mustRun(t, rt, m))
	manual := buildObject(t, rt, scope, "a", "b")

	assert.Equal(t, shapeOf(t, rt, first.Get()), shapeOf(t, rt, second.Get()))
	assert.Equal(t, shapeOf(t, rt, first.Get()), shapeOf(t, rt, manual.Get()))
	b2, err := rt.GetProperty(second.Get(), "b")
	require.NoError(t, err)
	assert.Equal(t, "two", rt.GoString(b2))
	assert.Equal(t, []string{"a", "b"}, rt.OwnKeys(first.Get()))
}

func TestForInPropertyNames(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("for-in")
	b := NewBytecodeBuilder()
	b.Emit(OpGetPropertyNames, 1, 0)
	b.Emit(OpRet, 1)
	fn := mustRun(t, rt, mb.Build(returnsClosure(mb, mb.Function(function("names", 1, 2, b)))))

	scope := rt.OpenScope()
	defer scope.Close()
	fh := scope.Handle(fn)
	proto := scope.Handle(rt.NewObject())
	require.NoError(t, rt.SetProperty(proto.Get(), "inherited", True))
	obj := scope.Handle(rt.NewObjectWithProto(proto.Get()))
	for _, k := range []string{"b", "a", "1"} {
		require.NoError(t, rt.SetProperty(obj.Get(), k, True))
	}

	names, err := rt.Call(fh.Get(), Undefined, obj.Get())
	require.NoError(t, err)
	nh := scope.Handle(names)
	var got []string
	for i := uint32(0); i < rt.ArrayLength(nh.Get()); i++ {
		s, err := rt.GetIndex(nh.Get(), i)
		require.NoError(t, err)
		got = append(got, rt.GoString(s))
	}
	assert.Equal(t, []string{"1", "b", "a", "inherited"}, got)
}

func TestForOfSumsArray(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("for-of")
	b := NewBytecodeBuilder()
	b.Emit(OpLoadInt, 1, 1)
	b.Emit(OpLoadInt, 2, 2)
	b.Emit(OpLoadInt, 3, 3)
	b.Emit(OpNewArray, 0, 1, 3)
	b.Emit(OpIteratorBegin, 4, 0)
	b.Emit(OpLoadInt, 5, 0)
	loop, done := b.NewLabel(), b.NewLabel()
	b.Mark(loop)
	b.Emit(OpIteratorNext, 6, 4, 7)
	b.EmitJump(OpJmpTrue, done, 7)
	b.Emit(OpAdd, 5, 5, 6)
	b.EmitJump(OpJmp, loop)
	b.Mark(done)
	b.Emit(OpRet, 5)
	requireNumber(t, 6, mustRun(t, rt, mb.Build(mb.Function(function("main", 0, 8, b)))))
}

func TestIteratingNonIterableIsTypeError(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("not-iterable")
	b := NewBytecodeBuilder()
	b.Emit(OpLoadInt, 0, 1)
	b.Emit(OpIteratorBegin, 1, 0)
	b.Emit(OpRet, 1)
	_, err := rt.Run(mb.Build(mb.Function(function("main", 0, 2, b))))
	requireScriptError(t, err, "TypeError")
}

func TestArithmeticAndStrings(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("arith")
	b := NewBytecodeBuilder()
	b.Emit(OpLoadString, 0, mb.String("n="))
	b.Emit(OpLoadInt, 1, 7)
	b.EmitDouble(2, 0.5)
	b.Emit(OpMul, 3, 1, 2)
	b.Emit(OpAdd, 4, 0, 3)
	b.Emit(OpRet, 4)
	v := mustRun(t, rt, mb.Build(mb.Function(function("main", 0, 5, b))))
	assert.Equal(t, "n=3.5", rt.GoString(v))
}

func TestIntegerOverflowBecomesDouble(t *testing.T) {
	rt := newTestRuntime(t)
	mb := NewModuleBuilder("overflow")
	b := NewBytecodeBuilder()
	b.Emit(OpLoadInt, 0, 2147483647)
	b.Emit(OpInc, 0, 0)
	b.Emit(OpRet, 0)
	v := mustRun(t, rt, mb.Build(mb.Function(function("main", 0, 1, b))))
	requireNumber(t, 2147483648, v)
	assert.True(t, v.IsDouble())
}
