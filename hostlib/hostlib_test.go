package hostlib

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/protovm/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	rt       *vm.Runtime
	lib      *Library
	out, err *bytes.Buffer
}

func setup(t *testing.T, color bool) env {
	t.Helper()
	rt, err := vm.New(vm.DefaultOptions())
	require.NoError(t, err)
	e := env{rt: rt, out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	e.lib, err = Install(rt, Config{Stdout: e.out, Stderr: e.err, Color: color})
	require.NoError(t, err)
	return e
}

// call runs global[ns][name](args...) with global[ns] as the receiver.
func (e env) call(t *testing.T, ns, name string, args ...vm.Value) (vm.Value, error) {
	t.Helper()
	scope := e.rt.OpenScope()
	defer scope.Close()
	obj, err := e.rt.GetGlobal(ns)
	require.NoError(t, err)
	recv := scope.Handle(obj)
	fn, err := e.rt.GetProperty(recv.Get(), name)
	require.NoError(t, err)
	return e.rt.Call(fn, recv.Get(), args...)
}

func (e env) str(t *testing.T, ns, name string, args ...vm.Value) string {
	t.Helper()
	v, err := e.call(t, ns, name, args...)
	require.NoError(t, err)
	return e.rt.GoString(v)
}

func scriptError(t *testing.T, err error, name string) *vm.ScriptError {
	t.Helper()
	var se *vm.ScriptError
	require.True(t, errors.As(err, &se), "expected a script error, got %v", err)
	assert.Equal(t, name, se.Name)
	return se
}

// ---------------------------------------------------------------------------
// console
// ---------------------------------------------------------------------------

func TestConsoleWritesToConfiguredStreams(t *testing.T) {
	e := setup(t, false)
	scope := e.rt.OpenScope()
	defer scope.Close()
	arr := scope.Handle(e.rt.NewArray(vm.IntValue(1), vm.IntValue(2)))

	_, err := e.call(t, "console", "log", e.rt.NewString("answer"), vm.IntValue(42), arr.Get(), vm.Null)
	require.NoError(t, err)
	_, err = e.call(t, "console", "warn", e.rt.NewString("careful"))
	require.NoError(t, err)
	_, err = e.call(t, "console", "error", e.rt.NewError(vm.KindTypeError, "bad"))
	require.NoError(t, err)

	assert.Equal(t, "answer 42 [Array(2)] null\n", e.out.String())
	assert.Equal(t, "careful\nTypeError: bad\n", e.err.String())
}

func TestConsoleColors(t *testing.T) {
	e := setup(t, true)
	_, err := e.call(t, "console", "warn", e.rt.NewString("careful"))
	require.NoError(t, err)
	assert.Contains(t, e.err.String(), "\x1b[33m")
	assert.Contains(t, e.err.String(), "careful")

	_, err = e.call(t, "console", "log", e.rt.NewString("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain\n", e.out.String())
}

func TestConsoleHeap(t *testing.T) {
	e := setup(t, false)
	_, err := e.call(t, "console", "heap")
	require.NoError(t, err)
	assert.Contains(t, e.out.String(), "heap: ")
	assert.Contains(t, e.out.String(), "cells")
}

func TestHeapSummary(t *testing.T) {
	s := HeapSummary(vm.HeapStats{YoungBytes: 2048, OldBytes: 3 << 20, LiveCells: 7, MinorCollections: 4, FullCollections: 1})
	assert.Equal(t, "heap: 2.0 KiB young, 3.0 MiB old, 7 cells, 4 minor / 1 full collections, paused 0s", s)
}

// TestConsoleFromBytecode runs console.log("hi", 3) as a script.
func TestConsoleFromBytecode(t *testing.T) {
	e := setup(t, false)
	mb := vm.NewModuleBuilder("hello")
	b := vm.NewBytecodeBuilder()
	b.Emit(vm.OpGetGlobal, 0, mb.String("console"), b.NewCache())
	b.Emit(vm.OpGetById, 1, 0, mb.String("log"), b.NewCache())
	b.Emit(vm.OpLoadString, 2, mb.String("hi"))
	b.Emit(vm.OpLoadInt, 3, 3)
	b.Emit(vm.OpCall, 4, 1, 0, 2, 2)
	b.Emit(vm.OpRet, 4)
	m := mb.Build(mb.Function(&vm.FunctionInfo{
		Name: "main", FrameSize: 5, CacheCount: b.CacheCount(), Code: b.Bytes(),
	}))
	v, err := e.rt.Run(m)
	require.NoError(t, err)
	assert.Equal(t, vm.Undefined, v)
	assert.Equal(t, "hi 3\n", e.out.String())
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

func TestTextCaseMapping(t *testing.T) {
	e := setup(t, false)
	s := func(v string) vm.Value { return e.rt.NewString(v) }

	assert.Equal(t, "STRASSE", e.str(t, "Text", "upper", s("straße")))
	assert.Equal(t, "İSTANBUL", e.str(t, "Text", "upper", s("istanbul"), s("tr")))
	assert.Equal(t, "ISTANBUL", e.str(t, "Text", "upper", s("istanbul"), s("en")))
	assert.Equal(t, "hello", e.str(t, "Text", "lower", s("HeLLo")))
	assert.Equal(t, "Hello World", e.str(t, "Text", "title", s("hello world")))
	assert.Equal(t, "strasse", e.str(t, "Text", "fold", s("STRASSE")))
	assert.Equal(t, "42", e.str(t, "Text", "lower", vm.IntValue(42)))

	_, err := e.call(t, "Text", "upper", s("x"), s("not a locale!"))
	scriptError(t, err, "RangeError")
}

// ---------------------------------------------------------------------------
// RegExp
// ---------------------------------------------------------------------------

func (e env) regexp(t *testing.T, scope *vm.Scope, source, flags string) vm.Handle {
	t.Helper()
	ctor, err := e.rt.GetGlobal("RegExp")
	require.NoError(t, err)
	c := scope.Handle(ctor)
	src := scope.Handle(e.rt.NewString(source))
	fl := e.rt.NewString(flags)
	re, err := e.rt.Construct(c.Get(), src.Get(), fl)
	require.NoError(t, err)
	return scope.Handle(re)
}

func (e env) invoke(t *testing.T, recv vm.Value, name string, args ...vm.Value) (vm.Value, error) {
	t.Helper()
	scope := e.rt.OpenScope()
	defer scope.Close()
	r := scope.Handle(recv)
	fn, err := e.rt.GetProperty(r.Get(), name)
	require.NoError(t, err)
	return e.rt.Call(fn, r.Get(), args...)
}

func TestRegExpExec(t *testing.T) {
	e := setup(t, false)
	scope := e.rt.OpenScope()
	defer scope.Close()
	re := e.regexp(t, scope, `(\d+)-(\d+)(x)?`, "")

	res, err := e.invoke(t, re.Get(), "exec", e.rt.NewString("ab 12-34 cd"))
	require.NoError(t, err)
	arr := scope.Handle(res)
	require.EqualValues(t, 4, e.rt.ArrayLength(arr.Get()))
	for i, want := range []string{"12-34", "12", "34"} {
		v, err := e.rt.GetIndex(arr.Get(), uint32(i))
		require.NoError(t, err)
		assert.Equal(t, want, e.rt.GoString(v))
	}
	v, err := e.rt.GetIndex(arr.Get(), 3)
	require.NoError(t, err)
	assert.Equal(t, vm.Undefined, v)
	idx, err := e.rt.GetProperty(arr.Get(), "index")
	require.NoError(t, err)
	assert.Equal(t, 3.0, idx.AsNumber())
	input, err := e.rt.GetProperty(arr.Get(), "input")
	require.NoError(t, err)
	assert.Equal(t, "ab 12-34 cd", e.rt.GoString(input))

	none, err := e.invoke(t, re.Get(), "exec", e.rt.NewString("nothing"))
	require.NoError(t, err)
	assert.Equal(t, vm.Null, none)
}

func TestRegExpGlobalAdvancesLastIndex(t *testing.T) {
	e := setup(t, false)
	scope := e.rt.OpenScope()
	defer scope.Close()
	re := e.regexp(t, scope, `o`, "g")
	input := scope.Handle(e.rt.NewString("foo boo"))

	var hits []float64
	for {
		ok, err := e.invoke(t, re.Get(), "test", input.Get())
		require.NoError(t, err)
		if ok != vm.True {
			break
		}
		li, err := e.rt.GetProperty(re.Get(), "lastIndex")
		require.NoError(t, err)
		hits = append(hits, li.AsNumber())
	}
	assert.Equal(t, []float64{2, 3, 6, 7}, hits)
	li, err := e.rt.GetProperty(re.Get(), "lastIndex")
	require.NoError(t, err)
	assert.Equal(t, 0.0, li.AsNumber())
}

func TestRegExpFlagsAndReplace(t *testing.T) {
	e := setup(t, false)
	scope := e.rt.OpenScope()
	defer scope.Close()

	ci := e.regexp(t, scope, `hello`, "i")
	ok, err := e.invoke(t, ci.Get(), "test", e.rt.NewString("Say HELLO"))
	require.NoError(t, err)
	assert.Equal(t, vm.True, ok)

	all := e.regexp(t, scope, `a(\w)`, "g")
	out, err := e.invoke(t, all.Get(), "replace", e.rt.NewString("ab ac ad"), e.rt.NewString("<$1>"))
	require.NoError(t, err)
	assert.Equal(t, "<b> <c> <d>", e.rt.GoString(out))

	once := e.regexp(t, scope, `a(\w)`, "")
	out, err = e.invoke(t, once.Get(), "replace", e.rt.NewString("ab ac ad"), e.rt.NewString("<$1>"))
	require.NoError(t, err)
	assert.Equal(t, "<b> ac ad", e.rt.GoString(out))

	str, err := e.invoke(t, all.Get(), "toString")
	require.NoError(t, err)
	assert.Equal(t, `/a(\w)/g`, e.rt.GoString(str))

	// source and flags are read-only.
	err = e.rt.SetProperty(all.Get(), "source", e.rt.NewString("x"))
	scriptError(t, err, "TypeError")
}

func TestRegExpRejectsBadInput(t *testing.T) {
	e := setup(t, false)
	ctor, err := e.rt.GetGlobal("RegExp")
	require.NoError(t, err)
	scope := e.rt.OpenScope()
	defer scope.Close()
	c := scope.Handle(ctor)

	_, err = e.rt.Construct(c.Get(), e.rt.NewString("(unclosed"))
	se := scriptError(t, err, "SyntaxError")
	assert.Contains(t, se.Message, "Invalid regular expression")

	_, err = e.rt.Construct(c.Get(), e.rt.NewString("a"), e.rt.NewString("gg"))
	scriptError(t, err, "SyntaxError")
	_, err = e.rt.Construct(c.Get(), e.rt.NewString("a"), e.rt.NewString("q"))
	scriptError(t, err, "SyntaxError")

	plain := scope.Handle(e.rt.NewObject())
	test, err := e.rt.GetProperty(c.Get(), "prototype")
	require.NoError(t, err)
	fn, err := e.rt.GetProperty(test, "test")
	require.NoError(t, err)
	_, err = e.rt.Call(fn, plain.Get(), e.rt.NewString("a"))
	scriptError(t, err, "TypeError")
}

func TestRegExpProgramsAreShared(t *testing.T) {
	e := setup(t, false)
	scope := e.rt.OpenScope()
	defer scope.Close()
	a := e.regexp(t, scope, `x+`, "")
	b := e.regexp(t, scope, `x+`, "")
	e.regexp(t, scope, `x+`, "i")
	assert.NotEqual(t, a.Get(), b.Get())
	assert.Len(t, e.lib.regexps, 2)

	proto := e.rt.GetPrototypeOf(a.Get())
	ctor, err := e.rt.GetProperty(proto, "constructor")
	require.NoError(t, err)
	global, err := e.rt.GetGlobal("RegExp")
	require.NoError(t, err)
	assert.Equal(t, global, ctor)
}
