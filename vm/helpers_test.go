package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestRuntime creates a runtime with default options adjusted by tweak.
func newTestRuntime(t testing.TB, tweak ...func(*Options)) *Runtime {
	t.Helper()
	opts := DefaultOptions()
	for _, f := range tweak {
		f(&opts)
	}
	rt, err := New(opts)
	require.NoError(t, err)
	return rt
}

// smallHeap keeps collections frequent.
func smallHeap(o *Options) {
	o.YoungSize = 64 << 10
	o.LargeObjectSize = 16 << 10
	o.InitialOldSize = 256 << 10
	o.MaxHeapSize = 8 << 20
}

// function packages the builder output as a FunctionInfo.
func function(name string, params, frameSize int, b *BytecodeBuilder) *FunctionInfo {
	return &FunctionInfo{
		Name:       name,
		ParamCount: params,
		FrameSize:  frameSize,
		CacheCount: b.CacheCount(),
		Code:       b.Bytes(),
		Handlers:   b.Handlers(),
	}
}

// returnsClosure builds an entry function returning a closure over fn.
func returnsClosure(mb *ModuleBuilder, fn int) int {
	b := NewBytecodeBuilder()
	b.Emit(OpLoadUndefined, 1)
	b.Emit(OpCreateClosure, 0, 1, fn)
	b.Emit(OpRet, 0)
	return mb.Function(function("main", 0, 2, b))
}

func mustRun(t testing.TB, rt *Runtime, m *Module) Value {
	t.Helper()
	v, err := rt.Run(m)
	require.NoError(t, err)
	return v
}

// recordLog installs a global log function appending its argument to the
// returned slice.
func recordLog(rt *Runtime) *[]string {
	var lines []string
	rt.DefineGlobalFunction("log", 1, func(rt *Runtime, args *Args) (Value, error) {
		s, err := rt.ToString(args.Arg(0))
		if err != nil {
			return Undefined, err
		}
		lines = append(lines, s)
		return Undefined, nil
	})
	return &lines
}

// emitLog emits log(<s>) using scratch registers fn, this and arg.
func emitLog(b *BytecodeBuilder, mb *ModuleBuilder, s string, fn, this, arg int) {
	b.Emit(OpGetGlobal, fn, mb.String("log"), b.NewCache())
	b.Emit(OpLoadUndefined, this)
	b.Emit(OpLoadString, arg, mb.String(s))
	b.Emit(OpCall, this, fn, this, arg, 1)
}

func requireNumber(t testing.TB, want float64, v Value) {
	t.Helper()
	require.True(t, v.IsNumber(), "not a number")
	require.Equal(t, want, v.AsNumber())
}
