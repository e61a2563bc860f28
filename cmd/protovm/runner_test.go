package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/protovm/manifest"
	"github.com/chazu/protovm/vm"
	"github.com/chazu/protovm/vm/bcfile"
	"github.com/chazu/protovm/vm/heapdb"
)

func build(name string, frame int, emit func(*vm.ModuleBuilder, *vm.BytecodeBuilder)) *vm.Module {
	mb := vm.NewModuleBuilder(name)
	b := vm.NewBytecodeBuilder()
	emit(mb, b)
	return mb.Build(mb.Function(&vm.FunctionInfo{
		Name:       name,
		FrameSize:  frame,
		CacheCount: b.CacheCount(),
		Code:       b.Bytes(),
		Handlers:   b.Handlers(),
	}))
}

// greetModule returns 20.
func greetModule() *vm.Module {
	return build("greet", 1, func(mb *vm.ModuleBuilder, b *vm.BytecodeBuilder) {
		b.Emit(vm.OpLoadInt, 0, 20)
		b.Emit(vm.OpRet, 0)
	})
}

// mainModule logs and returns greet + 22.
func mainModule() *vm.Module {
	return build("main", 7, func(mb *vm.ModuleBuilder, b *vm.BytecodeBuilder) {
		b.Emit(vm.OpGetGlobal, 0, mb.String("greet"), b.NewCache())
		b.Emit(vm.OpLoadInt, 1, 22)
		b.Emit(vm.OpAdd, 2, 0, 1)
		b.Emit(vm.OpGetGlobal, 3, mb.String("console"), b.NewCache())
		b.Emit(vm.OpGetById, 4, 3, mb.String("log"), b.NewCache())
		b.Emit(vm.OpMov, 5, 2)
		b.Emit(vm.OpCall, 6, 4, 3, 5, 1)
		b.Emit(vm.OpRet, 2)
	})
}

// throwModule throws new TypeError("boom").
func throwModule() *vm.Module {
	return build("thrower", 3, func(mb *vm.ModuleBuilder, b *vm.BytecodeBuilder) {
		b.Emit(vm.OpGetGlobal, 0, mb.String("TypeError"), b.NewCache())
		b.Emit(vm.OpLoadString, 1, mb.String("boom"))
		b.Emit(vm.OpConstruct, 2, 0, 1, 1)
		b.Emit(vm.OpThrow, 2)
	})
}

func spinModule() *vm.Module {
	return build("spin", 1, func(mb *vm.ModuleBuilder, b *vm.BytecodeBuilder) {
		loop := b.NewLabel()
		b.Mark(loop)
		b.EmitJump(vm.OpJmp, loop)
	})
}

// project writes a protovm.toml project whose entry is entry and which
// preloads greet.
func project(t *testing.T, entry *vm.Module) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "build"), 0o755))
	require.NoError(t, bcfile.WriteModuleFile(filepath.Join(dir, "build", "greet.pvmb"), greetModule(), bcfile.Options{}))
	require.NoError(t, bcfile.WriteModuleFile(filepath.Join(dir, "build", "main.pvmb"), entry, bcfile.Options{Compress: true}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(`
[project]
name = "demo"
entry = "build/main.pvmb"

[heap]
young = "128KiB"

[modules]
greet = "build/greet.pvmb"
`), 0o644))
	m, err := manifest.Load(dir)
	require.NoError(t, err)
	return m
}

func newRunner(m *manifest.Manifest) (*Runner, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Runner{Manifest: m, Stdout: &stdout, Stderr: &stderr}, &stdout, &stderr
}

func TestRunProject(t *testing.T) {
	m := project(t, mainModule())
	r, stdout, stderr := newRunner(m)
	r.Print = true

	assert.Equal(t, exitOK, r.Run(context.Background()))
	assert.Equal(t, "42\n42\n", stdout.String())
	assert.Empty(t, stderr.String())

	lock, err := manifest.ReadLock(m.LockFilePath())
	require.NoError(t, err)
	assert.NotNil(t, lock.Find("greet"))
}

func TestRunReportsUncaughtException(t *testing.T) {
	r, _, stderr := newRunner(project(t, throwModule()))
	assert.Equal(t, exitUncaught, r.Run(context.Background()))
	assert.Contains(t, stderr.String(), "Uncaught TypeError: boom\n")
	assert.NotContains(t, stderr.String(), "\x1b[")
}

func TestRunTimeout(t *testing.T) {
	r, _, stderr := newRunner(project(t, spinModule()))
	r.Timeout = 50 * time.Millisecond
	assert.Equal(t, exitFatal, r.Run(context.Background()))
	assert.Contains(t, stderr.String(), "fatal: execution interrupted")
}

func TestRunWithoutEntry(t *testing.T) {
	r, _, stderr := newRunner(&manifest.Manifest{Dir: t.TempDir()})
	assert.Equal(t, exitFatal, r.Run(context.Background()))
	assert.Contains(t, stderr.String(), "no module to run")
}

func TestRunWritesSnapshots(t *testing.T) {
	m := project(t, mainModule())
	r, _, _ := newRunner(m)
	r.SnapshotFile = filepath.Join(t.TempDir(), "heap.pvmb")
	r.SaveSnapshot = true
	require.Equal(t, exitOK, r.Run(context.Background()))

	snap, err := bcfile.ReadSnapshotFile(r.SnapshotFile)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Nodes)

	db, err := heapdb.Open(m.Path(m.Server.SnapshotDB))
	require.NoError(t, err)
	defer db.Close()
	list, err := db.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, len(snap.Nodes), list[0].Nodes)
}

func TestReportColors(t *testing.T) {
	var stderr bytes.Buffer
	r := &Runner{Stderr: &stderr, Color: true}
	assert.Equal(t, exitFatal, r.report(os.ErrNotExist))
	assert.Contains(t, stderr.String(), "\x1b[")
	assert.Contains(t, stderr.String(), "file does not exist")
}
