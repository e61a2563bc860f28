package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachLiveObjectListsHeldCells(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()
	long := scope.Handle(rt.NewString(strings.Repeat("z", 100)))
	scope.Handle(rt.NewString("unique-marker"))
	fn := scope.Handle(mustRun(t, rt, fibModule()))

	var marker, preview, function bool
	rt.ForEachLiveObject(func(c CellInfo) bool {
		switch {
		case c.Kind == KindString && c.Name == "unique-marker":
			marker = true
			assert.True(t, c.Ref.IsOld(), "introspection runs a full collection first")
		case c.Kind == KindString && c.Ref == long.Get().AsRef():
			preview = true
			assert.Equal(t, strings.Repeat("z", 40)+"...", c.Name)
		case c.Kind == KindObject && c.Ref == fn.Get().AsRef():
			function = true
			assert.Equal(t, "function fib", c.Name)
		}
		assert.Positive(t, c.Size)
		return true
	})
	assert.True(t, marker)
	assert.True(t, preview)
	assert.True(t, function)
}

func TestForEachLiveObjectStopsEarly(t *testing.T) {
	rt := newTestRuntime(t)
	n := 0
	rt.ForEachLiveObject(func(CellInfo) bool {
		n++
		return n < 3
	})
	assert.Equal(t, 3, n)
}

func TestForEachLiveObjectOmitsGarbage(t *testing.T) {
	rt := newTestRuntime(t)
	rt.NewString("garbage-marker")
	rt.ForEachLiveObject(func(c CellInfo) bool {
		assert.NotEqual(t, "garbage-marker", c.Name)
		return true
	})
}

func TestTakeSnapshot(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenScope()
	defer scope.Close()
	parent := buildObject(t, rt, scope, "a")
	child := scope.Handle(rt.NewArray(rt.NewString("leaf")))
	require.NoError(t, rt.SetProperty(parent.Get(), "child", child.Get()))

	snap := rt.TakeSnapshot()
	assert.NotEqual(t, [16]byte{}, [16]byte(snap.ID))
	assert.False(t, snap.Taken.IsZero())
	assert.Len(t, snap.Nodes, snap.Stats.LiveCells)
	assert.Equal(t, snap.Stats.YoungBytes+snap.Stats.OldBytes, snap.TotalSize())

	nodes := make(map[uint32]SnapshotNode, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes[n.ID] = n
	}
	for _, e := range snap.Edges {
		assert.Contains(t, nodes, e.From, "edge source %d is not a node", e.From)
		assert.Contains(t, nodes, e.To, "edge %q points outside the heap", e.Label)
	}
	for _, r := range snap.Roots {
		assert.Contains(t, nodes, r)
	}

	p := uint32(parent.Get().AsRef())
	c := uint32(child.Get().AsRef())
	assert.Contains(t, snap.Roots, p)
	assert.Contains(t, snap.Edges, SnapshotEdge{From: p, To: c, Label: "child"})
	assert.Equal(t, "object", nodes[c].Kind)
	assert.Equal(t, "Array", nodes[c].Name)

	var leaf bool
	for _, e := range snap.Edges {
		if e.From == c && e.Label == "[0]" {
			leaf = nodes[e.To].Name == "leaf"
		}
	}
	assert.True(t, leaf, "array element edge missing")
}

func TestIntrospectionRefusedDuringCollection(t *testing.T) {
	rt := newTestRuntime(t)
	rt.heap.collecting = true
	defer func() { rt.heap.collecting = false }()
	assert.PanicsWithError(t, invariantf("heap introspection during a collection").Error(), func() {
		rt.TakeSnapshot()
	})
}
