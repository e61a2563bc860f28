package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/protovm/vm"
	"github.com/chazu/protovm/vm/bcfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
version = "0.1.0"
entry = "build/main.pvmb"

[heap]
young = "64KiB"
max = "8 MiB"
promotion-age = 3
verify = true

[interpreter]
polymorphic-limit = 4
timeout = "250ms"

[log]
verbosity = 2

[modules]
util = "build/util.pvmb"
`)

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Project.Name)
	assert.Equal(t, "0.1.0", m.Project.Version)
	assert.Equal(t, Size(64<<10), m.Heap.Young)
	assert.Equal(t, Size(8<<20), m.Heap.Max)
	assert.Equal(t, "64 KiB", m.Heap.Young.String())
	assert.Equal(t, 250*time.Millisecond, m.Timeout())
	assert.Equal(t, 2, m.Log.Verbosity)
	assert.Equal(t, filepath.Join(m.Dir, "build", "main.pvmb"), m.EntryPath())
	assert.Equal(t, map[string]string{"util": "build/util.pvmb"}, m.Modules)
	assert.Equal(t, filepath.Join(".protovm", "heap.db"), m.Server.SnapshotDB)
	assert.Equal(t, filepath.Join(m.Dir, ".protovm", "lock.toml"), m.LockFilePath())
}

func TestManifestOptions(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[heap]
young = "64KiB"
promotion-age = 3
verify = true

[interpreter]
polymorphic-limit = 4
max-frames = 50
`)
	m, err := Load(dir)
	require.NoError(t, err)

	opts, err := m.Options()
	require.NoError(t, err)
	def := vm.DefaultOptions()
	assert.Equal(t, 64<<10, opts.YoungSize)
	assert.Equal(t, 3, opts.PromotionAge)
	assert.True(t, opts.VerifyHeap)
	assert.Equal(t, 4, opts.PolymorphicLimit)
	assert.Equal(t, 50, opts.MaxFrames)
	// Unset fields keep their defaults.
	assert.Equal(t, def.MaxHeapSize, opts.MaxHeapSize)
	assert.Equal(t, def.DictionaryThreshold, opts.DictionaryThreshold)
	assert.Equal(t, def.LargeObjectSize, opts.LargeObjectSize)
}

func TestOptionsClampLargeObject(t *testing.T) {
	m := &Manifest{Heap: HeapConfig{Young: 16 << 10}}
	opts, err := m.Options()
	require.NoError(t, err)
	assert.Equal(t, 16<<10, opts.LargeObjectSize)

	m.Heap.LargeObject = 32 << 10
	_, err = m.Options()
	assert.ErrorContains(t, err, "invalid runtime options")
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project]\nname = \"bare\"\n")

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, m.Modules)
	assert.Equal(t, "", m.EntryPath())
	assert.Zero(t, m.Timeout())

	opts, err := m.Options()
	require.NoError(t, err)
	assert.Equal(t, vm.DefaultOptions(), opts)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "[heap]\nyoung = \"64KiB\"\nold = 3\n", `unknown key "heap.old"`},
		{"bad size", "[heap]\nyoung = \"lots\"\n", "invalid size"},
		{"bad duration", "[interpreter]\ntimeout = \"soon\"\n", "invalid duration"},
		{"bad options", "[heap]\nyoung = \"1MiB\"\nmax = \"1MiB\"\n", "max heap size"},
		{"syntax", "[project\n", "parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeManifest(t, dir, "[project]\nname = \"found\"\n")

	m, err := FindAndLoad(sub)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "found", m.Project.Name)
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m)
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func constModule(name string, n int) *vm.Module {
	mb := vm.NewModuleBuilder(name)
	b := vm.NewBytecodeBuilder()
	b.Emit(vm.OpLoadInt, 0, n)
	b.Emit(vm.OpRet, 0)
	main := mb.Function(&vm.FunctionInfo{
		Name:      "main",
		FrameSize: 1,
		Code:      b.Bytes(),
	})
	return mb.Build(main)
}

func writeModule(t *testing.T, path string, m *vm.Module) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, bcfile.WriteModuleFile(path, m, bcfile.Options{}))
}

func TestResolveModules(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, filepath.Join(dir, "build", "b.pvmb"), constModule("b", 2))
	writeModule(t, filepath.Join(dir, "build", "a.pvmb"), constModule("a", 1))
	writeManifest(t, dir, `
[modules]
beta = "build/b.pvmb"
alpha = "build/a.pvmb"
`)
	m, err := Load(dir)
	require.NoError(t, err)

	resolved, err := m.ResolveModules()
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, "alpha", resolved[0].Name)
	assert.Equal(t, "beta", resolved[1].Name)
	assert.Equal(t, filepath.Join(dir, "build", "a.pvmb"), resolved[0].Path)
	assert.Equal(t, "a", resolved[0].Module.Name)
	assert.False(t, resolved[0].Changed)
	assert.NotEqual(t, resolved[0].Fingerprint, resolved[1].Fingerprint)

	lock, err := ReadLock(m.LockFilePath())
	require.NoError(t, err)
	require.Len(t, lock.Modules, 2)
	beta := lock.Find("beta")
	require.NotNil(t, beta)
	assert.Equal(t, filepath.Join("build", "b.pvmb"), beta.Path)
	assert.Equal(t, formatFingerprint(resolved[1].Fingerprint), beta.Fingerprint)
	assert.Len(t, beta.Fingerprint, 16)
	assert.Nil(t, lock.Find("gamma"))

	// Rebuilding one artifact flags it on the next run.
	writeModule(t, filepath.Join(dir, "build", "b.pvmb"), constModule("b", 3))
	resolved, err = m.ResolveModules()
	require.NoError(t, err)
	assert.False(t, resolved[0].Changed)
	assert.True(t, resolved[1].Changed)

	// The lock now records the new artifact.
	resolved, err = m.ResolveModules()
	require.NoError(t, err)
	assert.False(t, resolved[1].Changed)
}

func TestResolveModulesErrors(t *testing.T) {
	tests := []struct {
		name    string
		modules map[string]string
		want    string
	}{
		{"reserved", map[string]string{"console": "m.pvmb"}, "reserved by the runtime"},
		{"not identifier", map[string]string{"my-mod": "m.pvmb"}, "is not an identifier"},
		{"leading digit", map[string]string{"1st": "m.pvmb"}, "is not an identifier"},
		{"empty", map[string]string{"": "m.pvmb"}, "empty module name"},
		{"missing", map[string]string{"gone": "nowhere.pvmb"}, "resolving module gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeModule(t, filepath.Join(dir, "m.pvmb"), constModule("m", 1))
			m := &Manifest{Dir: dir, Modules: tt.modules}
			_, err := m.ResolveModules()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestReadLockMissing(t *testing.T) {
	lf, err := ReadLock(filepath.Join(t.TempDir(), "lock.toml"))
	require.NoError(t, err)
	require.NotNil(t, lf)
	assert.Empty(t, lf.Modules)
}
