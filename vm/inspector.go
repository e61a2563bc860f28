package vm

import (
	"fmt"
	"strings"
)

// Inspector provides debugging inspection of runtime values. It never runs
// script: accessor properties are shown as such rather than invoked.
type Inspector struct {
	rt *Runtime
}

// InspectionResult contains structured information about an inspected value.
type InspectionResult struct {
	Type       string              // undefined, null, boolean, number, string, object, function
	Value      string              // String representation of the value
	Ref        string              // heap reference, for heap values
	ClassName  string              // For objects: the class name
	Shape      string              // For objects: shape reference, or "dictionary"
	Properties []PropertyInfo      // For objects: named own properties
	Size       int                 // For arrays: length
	Elements   []*InspectionResult // For arrays: preview of elements (limited)
}

// PropertyInfo contains information about a single own property.
type PropertyInfo struct {
	Name     string
	Attrs    string
	Accessor bool
	Value    *InspectionResult
}

// MaxElementPreview is the maximum number of array elements to preview.
const MaxElementPreview = 10

// DefaultMaxDepth is the default recursion depth for inspection.
const DefaultMaxDepth = 3

// NewInspector creates a new Inspector attached to the given runtime.
func NewInspector(rt *Runtime) *Inspector {
	return &Inspector{rt: rt}
}

func (i *Inspector) checkSafePoint() {
	if i.rt.heap.collecting {
		panic(invariantf("heap inspected during a collection"))
	}
}

// Inspect inspects a value with the default maximum depth.
func (i *Inspector) Inspect(v Value) *InspectionResult {
	return i.InspectDepth(v, DefaultMaxDepth)
}

// InspectDepth inspects a value with a specified maximum recursion depth.
// When depth reaches 0, nested objects are shown as summaries only.
func (i *Inspector) InspectDepth(v Value, depth int) *InspectionResult {
	i.checkSafePoint()
	rt := i.rt
	result := &InspectionResult{Type: rt.TypeOf(v), Value: rt.Display(v)}
	if v == Null {
		result.Type = "null"
	}
	if !v.IsPointer() {
		return result
	}
	result.Ref = v.AsRef().String()
	if s, ok := rt.stringOf(v); ok {
		result.Value = fmt.Sprintf("%q", s)
		return result
	}
	if o, ok := rt.asObject(v); ok {
		i.inspectObject(o, result, depth)
	}
	return result
}

// inspectObject fills in the object part of result.
func (i *Inspector) inspectObject(o *Object, result *InspectionResult, depth int) {
	rt := i.rt
	result.ClassName = o.class.String()
	s := rt.shape(o.shape)
	result.Shape = o.shape.AsRef().String()
	if s.dictionary {
		result.Shape = "dictionary"
	}
	if depth <= 0 {
		return
	}

	for slot, f := range s.fields {
		info := PropertyInfo{Name: f.key, Attrs: attrString(f.attrs), Accessor: f.attrs.Accessor()}
		if info.Accessor {
			pair := rt.accessorPair(o.slots[slot])
			info.Value = &InspectionResult{Type: "accessor", Value: accessorSummary(pair)}
		} else {
			info.Value = i.InspectDepth(o.slots[slot], depth-1)
		}
		result.Properties = append(result.Properties, info)
	}

	if o.class == ClassArray {
		result.Size = int(o.length)
	} else {
		result.Size = len(o.elementIndices())
	}
	for _, idx := range o.elementIndices() {
		if len(result.Elements) >= MaxElementPreview {
			break
		}
		v, _ := o.getElement(idx)
		result.Elements = append(result.Elements, i.InspectDepth(v, depth-1))
	}
}

func accessorSummary(pair *AccessorPair) string {
	switch {
	case pair.getter != Undefined && pair.setter != Undefined:
		return "[Getter/Setter]"
	case pair.getter != Undefined:
		return "[Getter]"
	}
	return "[Setter]"
}

func attrString(a Attr) string {
	b := []byte("---")
	if a.Writable() {
		b[0] = 'w'
	}
	if a.Enumerable() {
		b[1] = 'e'
	}
	if a.Configurable() {
		b[2] = 'c'
	}
	return string(b)
}

// ---------------------------------------------------------------------------
// Access by reference
// ---------------------------------------------------------------------------

// ValueOf returns the value for a reference obtained from a snapshot or an
// inspection result, provided the cell is still live.
func (i *Inspector) ValueOf(r Ref) (Value, bool) {
	i.checkSafePoint()
	h := i.rt.heap
	idx := r.index()
	var c HeapCell
	if r.IsOld() {
		if idx >= 0 && idx < len(h.old) {
			c = h.old[idx]
		}
	} else if idx >= 0 && idx < len(h.young) {
		c = h.young[idx]
	}
	if c == nil {
		return Undefined, false
	}
	return RefValue(r), true
}

// GetProperty reads a property of the object at r. Getters run, so this
// is only allowed where script may run.
func (i *Inspector) GetProperty(r Ref, name string) (Value, error) {
	v, ok := i.ValueOf(r)
	if !ok {
		return Undefined, fmt.Errorf("no live cell at %s", r)
	}
	return i.rt.GetProperty(v, name)
}

// SetProperty assigns a property of the object at r.
func (i *Inspector) SetProperty(r Ref, name string, value Value) error {
	v, ok := i.ValueOf(r)
	if !ok {
		return fmt.Errorf("no live cell at %s", r)
	}
	return i.rt.SetProperty(v, name, value)
}

// String returns a pretty-printed representation of the inspection result.
func (r *InspectionResult) String() string {
	return r.stringWithIndent(0)
}

// stringWithIndent creates a string representation with the given indentation level.
func (r *InspectionResult) stringWithIndent(indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	sb.WriteString(prefix)
	sb.WriteString(r.Type)
	sb.WriteString(": ")
	sb.WriteString(r.Value)
	sb.WriteString("\n")

	if r.ClassName != "" {
		sb.WriteString(prefix)
		fmt.Fprintf(&sb, "  class: %s  shape: %s\n", r.ClassName, r.Shape)
	}

	if len(r.Properties) > 0 {
		sb.WriteString(prefix)
		sb.WriteString("  properties:\n")
		for _, p := range r.Properties {
			sb.WriteString(prefix)
			fmt.Fprintf(&sb, "    %s [%s]: ", p.Name, p.Attrs)
			if p.Value != nil {
				sb.WriteString(p.Value.Value)
			} else {
				sb.WriteString("<unknown>")
			}
			sb.WriteString("\n")
		}
	}

	if len(r.Elements) > 0 {
		sb.WriteString(prefix)
		fmt.Fprintf(&sb, "  elements (showing %d of %d):\n", len(r.Elements), r.Size)
		for idx, elem := range r.Elements {
			sb.WriteString(prefix)
			fmt.Fprintf(&sb, "    [%d]: %s\n", idx, elem.Value)
		}
	}

	return sb.String()
}

// PrettyPrint returns a detailed multi-line representation with full nesting.
func (r *InspectionResult) PrettyPrint() string {
	return r.prettyPrintWithIndent(0)
}

func (r *InspectionResult) prettyPrintWithIndent(indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	sb.WriteString(prefix)
	sb.WriteString(r.Type)
	sb.WriteString(": ")
	sb.WriteString(r.Value)
	sb.WriteString("\n")

	if r.ClassName != "" {
		sb.WriteString(prefix)
		fmt.Fprintf(&sb, "  class: %s  shape: %s\n", r.ClassName, r.Shape)
	}

	for _, p := range r.Properties {
		sb.WriteString(prefix)
		fmt.Fprintf(&sb, "    %s [%s]:\n", p.Name, p.Attrs)
		if p.Value != nil {
			sb.WriteString(p.Value.prettyPrintWithIndent(indent + 3))
		}
	}

	if len(r.Elements) > 0 {
		sb.WriteString(prefix)
		fmt.Fprintf(&sb, "  elements (showing %d of %d):\n", len(r.Elements), r.Size)
		for idx, elem := range r.Elements {
			sb.WriteString(prefix)
			fmt.Fprintf(&sb, "    [%d]:\n", idx)
			sb.WriteString(elem.prettyPrintWithIndent(indent + 3))
		}
	}

	return sb.String()
}
