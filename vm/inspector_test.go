package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectPrimitives(t *testing.T) {
	rt := newTestRuntime(t)
	insp := NewInspector(rt)

	tests := []struct {
		v        Value
		typ, val string
	}{
		{Undefined, "undefined", "undefined"},
		{Null, "null", "null"},
		{True, "boolean", "true"},
		{IntValue(42), "number", "42"},
		{NumberValue(1.5), "number", "1.5"},
	}
	for _, tt := range tests {
		r := insp.Inspect(tt.v)
		assert.Equal(t, tt.typ, r.Type)
		assert.Equal(t, tt.val, r.Value)
		assert.Empty(t, r.Ref)
	}

	s := insp.Inspect(rt.NewString("hi"))
	assert.Equal(t, "string", s.Type)
	assert.Equal(t, `"hi"`, s.Value)
	assert.NotEmpty(t, s.Ref)
}

func TestInspectObject(t *testing.T) {
	rt := newTestRuntime(t)
	insp := NewInspector(rt)
	scope := rt.OpenScope()
	defer scope.Close()

	obj := buildObject(t, rt, scope, "a", "b")
	getter := scope.Handle(rt.NewNativeFunction("g", 0, func(*Runtime, *Args) (Value, error) {
		panic("inspection must not run getters")
	}))
	require.NoError(t, rt.DefineProperty(obj.Get(), "lazy", PropertyDescriptor{
		Get: getter.Get(), HasGet: true, Enumerable: true, HasEnumerable: true,
	}))
	inner := scope.Handle(rt.NewArray(IntValue(1), IntValue(2)))
	require.NoError(t, rt.SetProperty(obj.Get(), "list", inner.Get()))

	r := insp.Inspect(obj.Get())
	assert.Equal(t, "object", r.Type)
	assert.Equal(t, "Object", r.ClassName)
	assert.Equal(t, shapeOf(t, rt, obj.Get()).String(), r.Shape)
	require.Len(t, r.Properties, 4)
	assert.Equal(t, "a", r.Properties[0].Name)
	assert.Equal(t, "wec", r.Properties[0].Attrs)
	assert.Equal(t, "0", r.Properties[0].Value.Value)
	assert.True(t, r.Properties[2].Accessor)
	assert.Equal(t, "[Getter]", r.Properties[2].Value.Value)

	list := r.Properties[3].Value
	assert.Equal(t, "Array", list.ClassName)
	assert.Equal(t, 2, list.Size)
	require.Len(t, list.Elements, 2)
	assert.Equal(t, "2", list.Elements[1].Value)

	out := r.String()
	assert.Contains(t, out, "class: Object")
	assert.Contains(t, out, "lazy [-e-]: [Getter]")
	assert.True(t, strings.Contains(r.PrettyPrint(), "list [wec]:"))
}

func TestInspectDepthLimit(t *testing.T) {
	rt := newTestRuntime(t)
	insp := NewInspector(rt)
	scope := rt.OpenScope()
	defer scope.Close()

	outer := buildObject(t, rt, scope, "x")
	inner := buildObject(t, rt, scope, "y")
	require.NoError(t, rt.SetProperty(outer.Get(), "child", inner.Get()))

	r := insp.InspectDepth(outer.Get(), 1)
	require.Len(t, r.Properties, 2)
	child := r.Properties[1].Value
	assert.Equal(t, "Object", child.ClassName)
	assert.Empty(t, child.Properties)
}

func TestInspectElementPreviewIsBounded(t *testing.T) {
	rt := newTestRuntime(t)
	items := make([]Value, 25)
	for i := range items {
		items[i] = IntValue(int32(i))
	}
	r := NewInspector(rt).Inspect(rt.NewArray(items...))
	assert.Equal(t, 25, r.Size)
	assert.Len(t, r.Elements, MaxElementPreview)
	assert.Contains(t, r.String(), "showing 10 of 25")
}

func TestInspectorAccessByRef(t *testing.T) {
	rt := newTestRuntime(t)
	insp := NewInspector(rt)
	scope := rt.OpenScope()
	defer scope.Close()
	obj := buildObject(t, rt, scope, "n")
	ref := obj.Get().AsRef()

	require.NoError(t, insp.SetProperty(ref, "n", IntValue(9)))
	v, err := insp.GetProperty(ref, "n")
	require.NoError(t, err)
	requireNumber(t, 9, v)

	_, ok := insp.ValueOf(youngRef(1 << 20))
	assert.False(t, ok)
	_, err = insp.GetProperty(oldRef(1<<20), "n")
	assert.ErrorContains(t, err, "no live cell")
}

func TestInspectorRefusesDuringCollection(t *testing.T) {
	rt := newTestRuntime(t)
	rt.heap.collecting = true
	defer func() { rt.heap.collecting = false }()
	assert.Panics(t, func() { NewInspector(rt).Inspect(IntValue(1)) })
}
