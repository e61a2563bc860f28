package vm

// Attr is the attribute set of a property.
type Attr uint8

const (
	AttrWritable Attr = 1 << iota
	AttrEnumerable
	AttrConfigurable
	AttrAccessor // slot holds an AccessorPair

	// AttrDefault is the attribute set of a property created by assignment.
	AttrDefault = AttrWritable | AttrEnumerable | AttrConfigurable
)

func (a Attr) Writable() bool     { return a&AttrWritable != 0 }
func (a Attr) Enumerable() bool   { return a&AttrEnumerable != 0 }
func (a Attr) Configurable() bool { return a&AttrConfigurable != 0 }
func (a Attr) Accessor() bool     { return a&AttrAccessor != 0 }

type shapeField struct {
	key   string
	attrs Attr
}

type transitionKey struct {
	key   string
	attrs Attr
}

// Shape describes the layout of an object's named properties. Field i is
// stored in slot i. The prototype is part of the shape, so two objects with
// the same shape also share a prototype.
//
// Shapes are immutable once created except in dictionary mode: an object
// with more than DictionaryThreshold properties gets a private shape that
// is edited in place and never cached.
type Shape struct {
	cellHeader
	proto  Value // Null or an object
	parent Value // shape without the last field, Undefined at a root
	fields []shapeField
	index  map[string]int

	transitions    map[transitionKey]Value // weak
	weakRegistered bool
	dictionary     bool
}

func (s *Shape) size() int {
	return shapeBaseBytes + shapeFieldBytes*len(s.fields)
}

func (s *Shape) visitPointers(visit func(*Value)) {
	visit(&s.proto)
	visit(&s.parent)
}

func (s *Shape) visitWeak(visit func(*Value)) {
	for k, v := range s.transitions {
		visit(&v)
		if v.IsPointer() {
			s.transitions[k] = v
		} else {
			delete(s.transitions, k)
		}
	}
}

// lookup returns the slot of key.
func (s *Shape) lookup(key string) (int, bool) {
	if len(s.fields) <= 8 {
		for i := range s.fields {
			if s.fields[i].key == key {
				return i, true
			}
		}
		return 0, false
	}
	if s.index == nil {
		s.index = make(map[string]int, len(s.fields))
		for i, f := range s.fields {
			s.index[f.key] = i
		}
	}
	i, ok := s.index[key]
	return i, ok
}

// Len returns the number of named properties described.
func (s *Shape) Len() int { return len(s.fields) }

// IsDictionary reports whether the shape is a private dictionary shape.
func (s *Shape) IsDictionary() bool { return s.dictionary }

// ---------------------------------------------------------------------------
// Shape creation
// ---------------------------------------------------------------------------

// rootShapeFor returns the empty shape for objects whose prototype is proto.
// May trigger GC.
func (rt *Runtime) rootShapeFor(proto Value) Value {
	if proto == Null {
		return rt.realm[rootNullShape]
	}
	p := rt.object(proto)
	if p.rootShape.IsPointer() {
		return p.rootShape
	}
	s := &Shape{cellHeader: cellHeader{kind: KindShape}, proto: proto, parent: Undefined}
	rt.heap.allocate(s)
	p.rootShape = selfValue(s)
	rt.barrier(p, p.rootShape)
	return p.rootShape
}

// shapeWith returns the shape reached from s by adding key with attrs,
// creating and caching the transition on first use. s must be reachable.
// May trigger GC.
func (rt *Runtime) shapeWith(s *Shape, key string, attrs Attr) *Shape {
	tk := transitionKey{key: key, attrs: attrs}
	if next, ok := s.transitions[tk]; ok {
		return rt.shape(next)
	}
	fields := make([]shapeField, len(s.fields)+1)
	copy(fields, s.fields)
	fields[len(s.fields)] = shapeField{key: key, attrs: attrs}
	child := &Shape{
		cellHeader: cellHeader{kind: KindShape},
		proto:      s.proto,
		parent:     selfValue(s),
		fields:     fields,
	}
	// child is a pending root during the allocation and keeps s alive.
	rt.heap.allocate(child)
	if s.transitions == nil {
		s.transitions = make(map[transitionKey]Value, 1)
	}
	s.transitions[tk] = selfValue(child)
	if !s.weakRegistered {
		s.weakRegistered = true
		rt.heap.registerWeak(s)
	}
	return child
}

// newDictionaryShape allocates a private shape holding a copy of fields.
// May trigger GC.
func (rt *Runtime) newDictionaryShape(proto Value, fields []shapeField) *Shape {
	s := &Shape{
		cellHeader: cellHeader{kind: KindShape},
		proto:      proto,
		parent:     Undefined,
		fields:     append([]shapeField(nil), fields...),
		dictionary: true,
	}
	rt.heap.allocate(s)
	return s
}

// reshape gives o a shape built from fields by replaying transitions from
// the root shape of proto. from[i] is the old slot feeding new slot i, or -1
// for a fresh Undefined slot. o must be reachable. May trigger GC.
func (rt *Runtime) reshape(o *Object, proto Value, fields []shapeField, from []int) {
	var s *Shape
	if len(fields) > rt.opts.DictionaryThreshold {
		s = rt.newDictionaryShape(proto, fields)
	} else {
		mark := rt.protect(proto)
		s = rt.shape(rt.rootShapeFor(proto))
		for _, f := range fields {
			s = rt.shapeWith(s, f.key, f.attrs)
		}
		rt.unprotect(mark)
	}
	slots := make([]Value, len(fields))
	for i := range slots {
		if from[i] >= 0 {
			slots[i] = o.slots[from[i]]
		} else {
			slots[i] = Undefined
		}
	}
	before := o.size()
	o.shape = selfValue(s)
	o.slots = slots
	rt.heap.recordWrite(o)
	rt.heap.charge(o, o.size()-before)
}

// toDictionary moves o onto a private dictionary shape. May trigger GC.
func (rt *Runtime) toDictionary(o *Object) {
	old := rt.shape(o.shape)
	s := rt.newDictionaryShape(old.proto, old.fields)
	o.shape = selfValue(s)
	rt.barrier(o, o.shape)
}

func identitySlots(n int) []int {
	from := make([]int, n)
	for i := range from {
		from[i] = i
	}
	return from
}
