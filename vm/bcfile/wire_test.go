package bcfile

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/protovm/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleModule returns 40 + 2 + "hello".length.
func sampleModule() *vm.Module {
	mb := vm.NewModuleBuilder("sample")
	b := vm.NewBytecodeBuilder()
	b.Emit(vm.OpLoadInt, 0, 40)
	b.Emit(vm.OpLoadInt, 1, 2)
	b.Emit(vm.OpAdd, 2, 0, 1)
	b.Emit(vm.OpLoadString, 3, mb.String("hello"))
	b.Emit(vm.OpGetById, 4, 3, mb.String("length"), b.NewCache())
	b.Emit(vm.OpAdd, 2, 2, 4)
	b.Emit(vm.OpRet, 2)
	main := mb.Function(&vm.FunctionInfo{
		Name:       "main",
		FrameSize:  5,
		CacheCount: b.CacheCount(),
		Code:       b.Bytes(),
		Handlers:   b.Handlers(),
		Locations:  []vm.Location{{Offset: 0, Line: 1, Column: 1}},
		Strict:     true,
	})
	mb.Template("x", "y")
	return mb.Build(main)
}

func run(t *testing.T, m *vm.Module) float64 {
	t.Helper()
	rt, err := vm.New(vm.DefaultOptions())
	require.NoError(t, err)
	v, err := rt.Run(m)
	require.NoError(t, err)
	require.True(t, v.IsNumber())
	return v.AsNumber()
}

func TestModuleRoundTrip(t *testing.T) {
	for _, opts := range []Options{{}, {Compress: true}, {Compress: true, Level: 19}} {
		m := sampleModule()
		data, err := MarshalModule(m, opts)
		require.NoError(t, err)

		got, err := UnmarshalModule(data)
		require.NoError(t, err)
		assert.Equal(t, m.Name, got.Name)
		assert.Equal(t, m.Strings, got.Strings)
		assert.Equal(t, m.Templates, got.Templates)
		require.Len(t, got.Functions, 1)
		assert.Equal(t, m.Functions[0].Code, got.Functions[0].Code)
		assert.Equal(t, m.Functions[0].Locations, got.Functions[0].Locations)
		assert.True(t, got.Functions[0].Strict)

		want, err := Fingerprint(m)
		require.NoError(t, err)
		have, err := Fingerprint(got)
		require.NoError(t, err)
		assert.Equal(t, want, have)

		assert.Equal(t, 47.0, run(t, got))
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, err := MarshalModule(sampleModule(), Options{})
	require.NoError(t, err)
	b, err := MarshalModule(sampleModule(), Options{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompressionShrinksRepetitiveModules(t *testing.T) {
	mb := vm.NewModuleBuilder("big")
	b := vm.NewBytecodeBuilder()
	for i := 0; i < 2000; i++ {
		b.Emit(vm.OpLoadInt, 0, 7)
	}
	b.Emit(vm.OpRet, 0)
	m := mb.Build(mb.Function(&vm.FunctionInfo{Name: "main", FrameSize: 1, Code: b.Bytes()}))

	plain, err := MarshalModule(m, Options{})
	require.NoError(t, err)
	packed, err := MarshalModule(m, Options{Compress: true})
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain)/4)

	env, _, err := Open(packed)
	require.NoError(t, err)
	assert.True(t, env.Compressed)
	assert.Equal(t, PayloadModule, env.Kind)
}

func TestCorruptPayloadIsRejected(t *testing.T) {
	data, err := MarshalModule(sampleModule(), Options{})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, decMode.Unmarshal(data, &env))
	env.Payload[len(env.Payload)-1] ^= 0xff
	tampered, err := encMode.Marshal(&env)
	require.NoError(t, err)

	_, err = UnmarshalModule(tampered)
	assert.True(t, errors.Is(err, ErrChecksum), "got %v", err)
}

func TestEnvelopeHeaderChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Envelope)
		want   string
	}{
		{"magic", func(e *Envelope) { e.Magic = "ELF" }, "bad magic"},
		{"version", func(e *Envelope) { e.Version = Version + 1 }, "unsupported version"},
		{"kind", func(e *Envelope) { e.Kind = PayloadSnapshot }, "expected module payload, found snapshot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalModule(sampleModule(), Options{})
			require.NoError(t, err)
			var env Envelope
			require.NoError(t, decMode.Unmarshal(data, &env))
			tt.mutate(&env)
			data, err = encMode.Marshal(&env)
			require.NoError(t, err)

			_, err = UnmarshalModule(data)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := UnmarshalModule([]byte("not cbor at all"))
	assert.Error(t, err)
}

func TestUnverifiableModuleIsRejected(t *testing.T) {
	b := vm.NewBytecodeBuilder()
	b.Emit(vm.OpLoadInt, 0, 1)
	m := &vm.Module{
		Name:      "broken",
		Functions: []*vm.FunctionInfo{{Name: "main", FrameSize: 1, Code: b.Bytes()}},
	}
	data, err := MarshalModule(m, Options{})
	require.NoError(t, err)

	_, err = UnmarshalModule(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `module "broken"`)
	assert.Contains(t, err.Error(), "terminator")
}

func TestSnapshotRoundTrip(t *testing.T) {
	rt, err := vm.New(vm.DefaultOptions())
	require.NoError(t, err)
	scope := rt.OpenScope()
	defer scope.Close()
	obj := scope.Handle(rt.NewObject())
	require.NoError(t, rt.SetProperty(obj.Get(), "child", rt.NewArray(rt.NewString("leaf"))))

	snap := rt.TakeSnapshot()
	for _, opts := range []Options{{}, {Compress: true}} {
		data, err := MarshalSnapshot(snap, opts)
		require.NoError(t, err)
		got, err := UnmarshalSnapshot(data)
		require.NoError(t, err)

		assert.Equal(t, snap.ID, got.ID)
		assert.True(t, snap.Taken.Equal(got.Taken))
		assert.Equal(t, snap.Nodes, got.Nodes)
		assert.Equal(t, snap.Edges, got.Edges)
		assert.Equal(t, snap.Roots, got.Roots)
		assert.Equal(t, snap.Stats, got.Stats)
		assert.Equal(t, snap.TotalSize(), got.TotalSize())
	}

	data, err := MarshalSnapshot(snap, Options{})
	require.NoError(t, err)
	_, err = UnmarshalModule(data)
	assert.ErrorContains(t, err, "expected module payload")
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.pvmb")
	require.NoError(t, WriteModuleFile(path, sampleModule(), Options{Compress: true}))
	m, err := ReadModuleFile(path)
	require.NoError(t, err)
	assert.Equal(t, 47.0, run(t, m))

	_, err = ReadModuleFile(filepath.Join(dir, "missing.pvmb"))
	assert.Error(t, err)

	rt, err := vm.New(vm.DefaultOptions())
	require.NoError(t, err)
	snapPath := filepath.Join(dir, "heap.snap")
	require.NoError(t, WriteSnapshotFile(snapPath, rt.TakeSnapshot(), Options{}))
	s, err := ReadSnapshotFile(snapPath)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Nodes)
}
