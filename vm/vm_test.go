package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Runtime construction
// ---------------------------------------------------------------------------

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*Options)
		want  string
	}{
		{"zero young", func(o *Options) { o.YoungSize = 0 }, "young size"},
		{"large above young", func(o *Options) { o.LargeObjectSize = o.YoungSize + 1 }, "large object size"},
		{"max below twice young", func(o *Options) { o.MaxHeapSize = o.YoungSize }, "max heap size"},
		{"promotion age", func(o *Options) { o.PromotionAge = 0 }, "promotion age"},
		{"polymorphic limit", func(o *Options) { o.PolymorphicLimit = 0 }, "polymorphic limit"},
		{"tiny stack", func(o *Options) { o.StackSize = 10 }, "stack size"},
		{"no frames", func(o *Options) { o.MaxFrames = 0 }, "max frames"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.tweak(&opts)
			err := opts.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			_, err = New(opts)
			assert.ErrorContains(t, err, "invalid options")
			assert.Panics(t, func() { MustNew(opts) })
		})
	}
	assert.NoError(t, DefaultOptions().Validate())
}

func TestRealmIsDeterministic(t *testing.T) {
	a := newTestRuntime(t)
	b := newTestRuntime(t)
	assert.Equal(t, a.HeapStats().LiveCells, b.HeapStats().LiveCells)
	assert.Equal(t, a.OwnKeys(a.Global()), b.OwnKeys(b.Global()))
	assert.NoError(t, a.VerifyHeap())
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

func TestHandlesTrackMovedValues(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()

	h := scope.Handle(rt.NewString("moving"))
	before := h.Get()
	rt.Collect(true)
	after := h.Get()
	assert.NotEqual(t, before.AsRef(), after.AsRef(), "full collection should move a young cell")
	assert.Equal(t, "moving", rt.GoString(after))

	h.Set(IntValue(5))
	assert.Equal(t, IntValue(5), h.Get())
}

func TestClosedScopeInvalidatesHandles(t *testing.T) {
	rt := newTestRuntime(t)
	outer := rt.OpenScope()
	inner := rt.OpenScope()
	h := inner.Handle(rt.NewObject())
	inner.Close()
	assert.Panics(t, func() { h.Get() })

	// A stale scope cannot add handles once a newer one is open.
	newer := rt.OpenScope()
	assert.Panics(t, func() { outer.Handle(Undefined) })
	assert.Panics(t, func() { outer.Close() })
	newer.Close()
	outer.Close()
	outer.Close()
	assert.Empty(t, rt.handles)
}

func TestPinnedValuesOutliveScopes(t *testing.T) {
	rt := newTestRuntime(t)
	var p *Pinned
	func() {
		scope := rt.OpenScope()
		defer scope.Close()
		obj := scope.Handle(rt.NewObject())
		require.NoError(t, rt.SetProperty(obj.Get(), "kept", True))
		p = rt.Pin(obj.Get())
	}()
	rt.Collect(true)
	v, err := rt.GetProperty(p.Get(), "kept")
	require.NoError(t, err)
	assert.Equal(t, True, v)

	p.Release()
	p.Release()
	assert.Panics(t, func() { p.Get() })

	q := rt.Pin(Null)
	assert.Equal(t, Null, q.Get())
	assert.Len(t, rt.pins, 1, "released slot not reused")
}

func TestRegisteredRootsAreTraced(t *testing.T) {
	rt := newTestRuntime(t)
	cache := []Value{rt.NewString("a"), rt.NewString("b")}
	rt.RegisterRoots(func(visit func(*Value)) {
		for i := range cache {
			visit(&cache[i])
		}
	})
	rt.Collect(false)
	rt.Collect(true)
	assert.Equal(t, "a", rt.GoString(cache[0]))
	assert.Equal(t, "b", rt.GoString(cache[1]))
	assert.NoError(t, rt.VerifyHeap())
}

// ---------------------------------------------------------------------------
// Allocation throughput
// ---------------------------------------------------------------------------

// TestShortLivedAllocationsStayUnderCeiling runs
//
//	for (let i = 0; i < n; i++) { let o = {} }
//
// under a small heap ceiling.
func TestShortLivedAllocationsStayUnderCeiling(t *testing.T) {
	n := int32(10_000_000)
	if testing.Short() {
		n = 200_000
	}
	const ceiling = 8 << 20
	rt := newTestRuntime(t, func(o *Options) {
		o.YoungSize = 256 << 10
		o.InitialOldSize = 1 << 20
		o.MaxHeapSize = ceiling
	})

	mb := NewModuleBuilder("churn")
	b := NewBytecodeBuilder()
	loop, done := b.NewLabel(), b.NewLabel()
	b.Emit(OpLoadInt, 0, 0)
	b.Emit(OpLoadInt, 1, int(n))
	b.Mark(loop)
	b.Emit(OpLt, 2, 0, 1)
	b.EmitJump(OpJmpFalse, done, 2)
	b.Emit(OpNewObject, 3)
	b.Emit(OpInc, 0, 0)
	b.EmitJump(OpJmp, loop)
	b.Mark(done)
	b.Emit(OpRet, 0)

	v := mustRun(t, rt, mb.Build(mb.Function(function("main", 0, 4, b))))
	requireNumber(t, float64(n), v)

	stats := rt.HeapStats()
	assert.LessOrEqual(t, stats.PeakBytes, ceiling)
	assert.GreaterOrEqual(t, stats.Allocations, uint64(n))
	assert.Positive(t, stats.MinorCollections)
	t.Logf("%d allocations, %d minor and %d full collections, peak %d bytes, total pause %s",
		stats.Allocations, stats.MinorCollections, stats.FullCollections, stats.PeakBytes, stats.TotalPause)
}
