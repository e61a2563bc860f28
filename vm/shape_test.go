package vm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildObject creates an object in scope with the given keys set in order.
func buildObject(t *testing.T, rt *Runtime, scope *Scope, keys ...string) Handle {
	t.Helper()
	h := scope.Handle(rt.NewObject())
	for i, k := range keys {
		require.NoError(t, rt.SetProperty(h.Get(), k, IntValue(int32(i))))
	}
	return h
}

func shapeOf(t *testing.T, rt *Runtime, v Value) Ref {
	t.Helper()
	r, ok := rt.ShapeOf(v)
	require.True(t, ok)
	return r
}

func TestShapeSharing(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()

	a := buildObject(t, rt, scope, "x", "y")
	b := buildObject(t, rt, scope, "x", "y")
	c := buildObject(t, rt, scope, "y", "x")

	assert.Equal(t, shapeOf(t, rt, a.Get()), shapeOf(t, rt, b.Get()))
	assert.NotEqual(t, shapeOf(t, rt, a.Get()), shapeOf(t, rt, c.Get()))

	rt.Collect(true)
	assert.Equal(t, shapeOf(t, rt, a.Get()), shapeOf(t, rt, b.Get()), "sharing lost across a collection")
}

func TestShapeTransitionsAreReused(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()

	a := buildObject(t, rt, scope, "x")
	require.NoError(t, rt.SetProperty(a.Get(), "y", IntValue(1)))
	shapes := 0
	rt.heap.forEachCell(func(c HeapCell) {
		if c.header().kind == KindShape {
			shapes++
		}
	})

	b := buildObject(t, rt, scope, "x", "y")
	after := 0
	rt.heap.forEachCell(func(c HeapCell) {
		if c.header().kind == KindShape {
			after++
		}
	})
	assert.Equal(t, shapes, after, "second object created new shapes")
	assert.Equal(t, shapeOf(t, rt, a.Get()), shapeOf(t, rt, b.Get()))
}

func TestShapeIncludesPrototype(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()

	proto := scope.Handle(rt.NewObject())
	a := scope.Handle(rt.NewObjectWithProto(proto.Get()))
	b := scope.Handle(rt.NewObject())
	require.NoError(t, rt.SetProperty(a.Get(), "x", IntValue(1)))
	require.NoError(t, rt.SetProperty(b.Get(), "x", IntValue(1)))
	assert.NotEqual(t, shapeOf(t, rt, a.Get()), shapeOf(t, rt, b.Get()))

	// Moving b under the same prototype converges on a's shape.
	require.NoError(t, rt.SetPrototypeOf(b.Get(), proto.Get()))
	assert.Equal(t, shapeOf(t, rt, a.Get()), shapeOf(t, rt, b.Get()))
}

func TestDeletingLastPropertyReturnsToParent(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()

	xOnly := buildObject(t, rt, scope, "x")
	xy := buildObject(t, rt, scope, "x", "y")
	require.NoError(t, rt.DeleteProperty(xy.Get(), "y"))
	assert.Equal(t, shapeOf(t, rt, xOnly.Get()), shapeOf(t, rt, xy.Get()))
}

func TestDeletingMiddlePropertyReplaysFields(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()

	xz := buildObject(t, rt, scope, "x", "z")
	xyz := buildObject(t, rt, scope, "x", "y", "z")
	require.NoError(t, rt.DeleteProperty(xyz.Get(), "y"))

	assert.Equal(t, shapeOf(t, rt, xz.Get()), shapeOf(t, rt, xyz.Get()))
	assert.Equal(t, []string{"x", "z"}, rt.OwnKeys(xyz.Get()))
	z, err := rt.GetProperty(xyz.Get(), "z")
	require.NoError(t, err)
	requireNumber(t, 2, z)
}

func TestDictionaryModeAfterThreshold(t *testing.T) {
	rt := newTestRuntime(t, func(o *Options) { o.DictionaryThreshold = 8 })
	scope := rt.OpenScope()
	defer scope.Close()

	h := scope.Handle(rt.NewObject())
	for i := 0; i < 8; i++ {
		require.NoError(t, rt.SetProperty(h.Get(), fmt.Sprintf("p%d", i), IntValue(int32(i))))
	}
	assert.False(t, rt.IsDictionaryMode(h.Get()))
	require.NoError(t, rt.SetProperty(h.Get(), "p8", IntValue(8)))
	assert.True(t, rt.IsDictionaryMode(h.Get()))

	require.NoError(t, rt.DeleteProperty(h.Get(), "p3"))
	keys := rt.OwnKeys(h.Get())
	assert.Len(t, keys, 8)
	assert.NotContains(t, keys, "p3")
	for i, want := range []int{0, 1, 2, 4, 5, 6, 7, 8} {
		assert.Equal(t, fmt.Sprintf("p%d", want), keys[i])
		v, err := rt.GetProperty(h.Get(), keys[i])
		require.NoError(t, err)
		requireNumber(t, float64(want), v)
	}

	other := buildObject(t, rt, scope, "p0")
	assert.NotEqual(t, shapeOf(t, rt, h.Get()), shapeOf(t, rt, other.Get()))
}

func TestKeyOrder(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()

	h := scope.Handle(rt.NewObject())
	for _, k := range []string{"b", "10", "a", "2", "0"} {
		require.NoError(t, rt.SetProperty(h.Get(), k, True))
	}
	assert.Equal(t, []string{"0", "2", "10", "b", "a"}, rt.OwnKeys(h.Get()))
}

func TestTransitionsAreWeak(t *testing.T) {
	rt := newTestRuntime(t)
	countShapes := func() int {
		n := 0
		rt.ForEachLiveObject(func(c CellInfo) bool {
			if c.Kind == KindShape {
				n++
			}
			return true
		})
		return n
	}
	before := countShapes()
	func() {
		scope := rt.OpenScope()
		defer scope.Close()
		buildObject(t, rt, scope, "only", "here", "once")
	}()
	assert.Equal(t, before, countShapes(), "unused transitions kept shapes alive")
}
