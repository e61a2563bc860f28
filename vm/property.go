package vm

import (
	"sort"
	"strconv"
	"unicode/utf8"
)

// AccessorPair holds the getter and setter of an accessor property.
type AccessorPair struct {
	cellHeader
	getter Value
	setter Value
}

func (a *AccessorPair) size() int { return accessorBytes }

func (a *AccessorPair) visitPointers(visit func(*Value)) {
	visit(&a.getter)
	visit(&a.setter)
}

// newAccessorPair allocates a pair. May trigger GC.
func (rt *Runtime) newAccessorPair(get, set Value) Value {
	p := &AccessorPair{cellHeader: cellHeader{kind: KindAccessor}, getter: get, setter: set}
	return RefValue(rt.heap.allocate(p))
}

func (rt *Runtime) accessorPair(v Value) *AccessorPair {
	p, ok := rt.heap.cellOf(v).(*AccessorPair)
	if !ok {
		panic(invariantf("accessor slot holds %s", v.AsRef()))
	}
	return p
}

// ---------------------------------------------------------------------------
// Property keys
// ---------------------------------------------------------------------------

// propKey is a property name split into the array index fast path and
// everything else.
type propKey struct {
	name    string
	index   uint32
	isIndex bool
}

func keyFromString(s string) propKey {
	if i, ok := arrayIndex(s); ok {
		return propKey{name: s, index: i, isIndex: true}
	}
	return propKey{name: s}
}

func keyFromIndex(i uint32) propKey {
	return propKey{index: i, isIndex: true}
}

func (k propKey) String() string {
	if k.isIndex && k.name == "" {
		return strconv.FormatUint(uint64(k.index), 10)
	}
	return k.name
}

// toPropertyKey converts a value to a key. Objects are converted through
// their string conversion, which may run script. May trigger GC.
func (rt *Runtime) toPropertyKey(v Value) (propKey, error) {
	switch {
	case v.IsSmallInt():
		if i := v.AsSmallInt(); i >= 0 {
			return keyFromIndex(uint32(i)), nil
		}
	case v.IsDouble():
		f := v.AsNumber()
		if f >= 0 && f <= 4294967294 && isIntegral(f) {
			return keyFromIndex(uint32(f)), nil
		}
	}
	if s, ok := rt.stringOf(v); ok {
		return keyFromString(s), nil
	}
	s, err := rt.toGoString(v)
	if err != nil {
		return propKey{}, err
	}
	return keyFromString(s), nil
}

// ---------------------------------------------------------------------------
// Own property lookup
// ---------------------------------------------------------------------------

type slotKind uint8

const (
	slotNamed slotKind = iota
	slotElement
	slotLength
)

type ownSlot struct {
	where slotKind
	slot  int
	attrs Attr
}

// findOwn locates an own property without running any script.
func (rt *Runtime) findOwn(o *Object, k propKey) (ownSlot, bool) {
	if k.isIndex {
		if o.hasElement(k.index) {
			return ownSlot{where: slotElement, attrs: o.elementAttrs()}, true
		}
		if !o.indexNamed {
			return ownSlot{}, false
		}
	} else if o.class == ClassArray && k.name == "length" {
		return ownSlot{where: slotLength, attrs: o.lengthAttrs()}, true
	}
	s := rt.shape(o.shape)
	if i, ok := s.lookup(k.String()); ok {
		return ownSlot{where: slotNamed, slot: i, attrs: s.fields[i].attrs}, true
	}
	return ownSlot{}, false
}

func (o *Object) lengthAttrs() Attr {
	if o.frozen || o.lengthReadOnly {
		return 0
	}
	return AttrWritable
}

// prepare materialises lazily created properties that k may name.
// May trigger GC.
func (rt *Runtime) prepare(o *Object, k propKey) {
	if o.fn != nil && o.fn.lazyPrototype && !k.isIndex && k.name == "prototype" {
		rt.materializePrototype(o)
	}
}

// materializePrototype creates the prototype object of a script function on
// first observation. f must be reachable. May trigger GC.
func (rt *Runtime) materializePrototype(f *Object) {
	f.fn.lazyPrototype = false
	if f.fn.code != nil && f.fn.code.info.Generator {
		// Generator instances inherit from it; it has no constructor.
		p := rt.newObject(ClassObject, rt.realm[rootGeneratorProto])
		rt.addOwn(f, keyFromString("prototype"), selfValue(p), AttrWritable)
		return
	}
	p := rt.newObject(ClassObject, rt.realm[rootObjectProto])
	mark := rt.protect(selfValue(p))
	rt.addOwn(p, keyFromString("constructor"), selfValue(f), AttrWritable|AttrConfigurable)
	rt.addOwn(f, keyFromString("prototype"), rt.handles[mark], AttrWritable)
	rt.unprotect(mark)
}

func (rt *Runtime) readOwn(o *Object, k propKey, p ownSlot, recv Value) (Value, error) {
	switch p.where {
	case slotLength:
		return NumberValue(float64(o.length)), nil
	case slotElement:
		v, _ := o.getElement(k.index)
		return v, nil
	}
	v := o.slots[p.slot]
	if !p.attrs.Accessor() {
		return v, nil
	}
	pair := rt.accessorPair(v)
	if pair.getter == Undefined {
		return Undefined, nil
	}
	return rt.callInternal(pair.getter, recv, nil)
}

// ---------------------------------------------------------------------------
// Get / Set / Delete
// ---------------------------------------------------------------------------

// protoObject returns the object used for property lookup on a primitive.
func (rt *Runtime) protoObject(v Value) (*Object, bool) {
	switch {
	case v.IsNumber():
		return rt.object(rt.realm[rootNumberProto]), true
	case v.IsBool():
		return rt.object(rt.realm[rootBooleanProto]), true
	case rt.IsString(v):
		return rt.object(rt.realm[rootStringProto]), true
	}
	return nil, false
}

// getProperty reads k from recv, walking the prototype chain and invoking
// getters with recv as this. May trigger GC.
func (rt *Runtime) getProperty(recv Value, k propKey) (Value, error) {
	o, isObj := rt.asObject(recv)
	if !isObj {
		if s, ok := rt.stringOf(recv); ok {
			if k.isIndex {
				if r, ok := runeAt(s, int(k.index)); ok {
					return rt.NewString(string(r)), nil
				}
			} else if k.name == "length" {
				return IntValue(int32(utf8.RuneCountInString(s))), nil
			}
		}
		var ok bool
		if o, ok = rt.protoObject(recv); !ok {
			return Undefined, rt.throwTypeError("Cannot read properties of %s (reading '%s')", rt.typeName(recv), k)
		}
	}
	mark := rt.protect(recv)
	defer rt.unprotect(mark)
	for {
		rt.prepare(o, k)
		if p, found := rt.findOwn(o, k); found {
			return rt.readOwn(o, k, p, rt.handles[mark])
		}
		proto := rt.shape(o.shape).proto
		if proto == Null {
			return Undefined, nil
		}
		o = rt.object(proto)
	}
}

func runeAt(s string, n int) (rune, bool) {
	for _, r := range s {
		if n == 0 {
			return r, true
		}
		n--
	}
	return 0, false
}

// failAssign reports a failed assignment: silently in sloppy code, as a
// TypeError in strict code.
func (rt *Runtime) failAssign(strict bool, format string, args ...any) error {
	if !strict {
		return nil
	}
	return rt.throwTypeError(format, args...)
}

// setProperty assigns v to k on target. Setters found anywhere on the chain
// run with target as this; otherwise the value lands on target itself.
// May trigger GC.
func (rt *Runtime) setProperty(target Value, k propKey, v Value, strict bool) error {
	o, ok := rt.asObject(target)
	if !ok {
		if target.IsNullish() {
			return rt.throwTypeError("Cannot set properties of %s (setting '%s')", rt.typeName(target), k)
		}
		return rt.failAssign(strict, "Cannot create property '%s' on %s", k, rt.typeName(target))
	}
	mark := rt.protect(target)
	rt.protect(v)
	defer rt.unprotect(mark)

	rt.prepare(o, k)
	if p, found := rt.findOwn(o, k); found {
		if p.attrs.Accessor() {
			return rt.callSetter(o.slots[p.slot], mark, k, strict)
		}
		if !p.attrs.Writable() {
			return rt.failAssign(strict, "Cannot assign to read only property '%s' of object", k)
		}
		v = rt.handles[mark+1]
		switch p.where {
		case slotNamed:
			o.slots[p.slot] = v
			rt.barrier(o, v)
		case slotElement:
			rt.setElement(o, k.index, v)
		case slotLength:
			return rt.assignLength(o, v, strict)
		}
		return nil
	}

	for proto := rt.shape(o.shape).proto; proto != Null; {
		po := rt.object(proto)
		rt.prepare(po, k)
		if p, found := rt.findOwn(po, k); found {
			if p.attrs.Accessor() {
				return rt.callSetter(po.slots[p.slot], mark, k, strict)
			}
			if !p.attrs.Writable() {
				return rt.failAssign(strict, "Cannot assign to read only property '%s' of object", k)
			}
			break
		}
		proto = rt.shape(po.shape).proto
	}
	if !o.extensible {
		return rt.failAssign(strict, "Cannot add property %s, object is not extensible", k)
	}
	rt.addOwn(o, k, rt.handles[mark+1], AttrDefault)
	return nil
}

// callSetter invokes the setter of pair with the receiver and value held in
// handles mark and mark+1.
func (rt *Runtime) callSetter(pairValue Value, mark int, k propKey, strict bool) error {
	pair := rt.accessorPair(pairValue)
	if pair.setter == Undefined {
		return rt.failAssign(strict, "Cannot set property %s of object which has only a getter", k)
	}
	_, err := rt.callInternal(pair.setter, rt.handles[mark], []Value{rt.handles[mark+1]})
	return err
}

func (rt *Runtime) assignLength(o *Object, v Value, strict bool) error {
	f, err := rt.toNumber(v)
	if err != nil {
		return err
	}
	if f < 0 || f > 4294967295 || !isIntegral(f) {
		return rt.throwRangeError("Invalid array length")
	}
	n := uint32(f)
	if o.sealed && n < o.length {
		return rt.failAssign(strict, "Cannot delete elements of a sealed array")
	}
	rt.setLength(o, n)
	return nil
}

// addOwn creates a new own property. Index keys with default attributes go
// to indexed storage. o must be reachable. May trigger GC.
func (rt *Runtime) addOwn(o *Object, k propKey, v Value, attrs Attr) {
	if k.isIndex && attrs == AttrDefault {
		rt.setElement(o, k.index, v)
		return
	}
	mark := rt.protect(v)
	slot := rt.addNamed(o, k.String(), attrs)
	v = rt.handles[mark]
	rt.unprotect(mark)
	o.slots[slot] = v
	rt.barrier(o, v)
	if k.isIndex {
		o.indexNamed = true
	}
}

// addNamed appends a field to o's shape and an Undefined slot to o, and
// returns the slot. May trigger GC.
func (rt *Runtime) addNamed(o *Object, key string, attrs Attr) int {
	s := rt.shape(o.shape)
	if !s.dictionary && len(s.fields) >= rt.opts.DictionaryThreshold {
		rt.toDictionary(o)
		s = rt.shape(o.shape)
	}
	if s.dictionary {
		rt.reserve(s, shapeFieldBytes)
	}
	rt.reserve(o, valueBytes)
	before := o.size()
	if s.dictionary {
		sb := s.size()
		s.fields = append(s.fields, shapeField{key: key, attrs: attrs})
		if s.index != nil {
			s.index[key] = len(s.fields) - 1
		}
		rt.heap.charge(s, s.size()-sb)
	} else {
		next := rt.shapeWith(s, key, attrs)
		o.shape = selfValue(next)
		rt.barrier(o, o.shape)
	}
	o.slots = append(o.slots, Undefined)
	rt.heap.charge(o, o.size()-before)
	return len(o.slots) - 1
}

// deleteProperty removes an own property. It returns false for
// non-configurable properties, throwing in strict code. May trigger GC.
func (rt *Runtime) deleteProperty(o *Object, k propKey, strict bool) (bool, error) {
	rt.prepare(o, k)
	p, found := rt.findOwn(o, k)
	if !found {
		return true, nil
	}
	if !p.attrs.Configurable() {
		if strict {
			return false, rt.throwTypeError("Cannot delete property '%s' of object", k)
		}
		return false, nil
	}
	switch p.where {
	case slotElement:
		rt.deleteElement(o, k.index)
	case slotNamed:
		rt.removeField(o, p.slot)
	}
	return true, nil
}

// removeField drops named slot i. Removing the most recent property returns
// to the parent shape; other removals replay the remaining fields.
// May trigger GC.
func (rt *Runtime) removeField(o *Object, i int) {
	s := rt.shape(o.shape)
	n := len(s.fields)
	before := o.size()
	switch {
	case s.dictionary:
		sb := s.size()
		copy(s.fields[i:], s.fields[i+1:])
		s.fields = s.fields[:n-1]
		s.index = nil
		rt.heap.charge(s, s.size()-sb)
		copy(o.slots[i:], o.slots[i+1:])
		o.slots[n-1] = Undefined
		o.slots = o.slots[:n-1]
		rt.heap.charge(o, o.size()-before)
	case i == n-1 && s.parent.IsPointer():
		o.shape = s.parent
		rt.barrier(o, o.shape)
		o.slots[i] = Undefined
		o.slots = o.slots[:i]
		rt.heap.charge(o, o.size()-before)
	default:
		fields := make([]shapeField, 0, n-1)
		from := make([]int, 0, n-1)
		for j, f := range s.fields {
			if j != i {
				fields = append(fields, f)
				from = append(from, j)
			}
		}
		rt.reshape(o, s.proto, fields, from)
	}
}

// setFieldAttrs changes the attributes of every named field through fn.
// May trigger GC.
func (rt *Runtime) setFieldAttrs(o *Object, fn func(int, Attr) Attr) {
	s := rt.shape(o.shape)
	changed := false
	fields := make([]shapeField, len(s.fields))
	for i, f := range s.fields {
		fields[i] = shapeField{key: f.key, attrs: fn(i, f.attrs)}
		changed = changed || fields[i].attrs != f.attrs
	}
	if !changed {
		return
	}
	if s.dictionary {
		s.fields = fields
		return
	}
	rt.reshape(o, s.proto, fields, identitySlots(len(fields)))
}

// ---------------------------------------------------------------------------
// Descriptors
// ---------------------------------------------------------------------------

// PropertyDescriptor describes a property for DefineOwnProperty. The Has
// flags say which fields are present.
type PropertyDescriptor struct {
	Value        Value
	Get          Value
	Set          Value
	Writable     bool
	Enumerable   bool
	Configurable bool

	HasValue, HasGet, HasSet                      bool
	HasWritable, HasEnumerable, HasConfigurable bool
}

// IsAccessor reports whether the descriptor names a getter or setter.
func (d PropertyDescriptor) IsAccessor() bool { return d.HasGet || d.HasSet }

func (d PropertyDescriptor) attrs(base Attr) Attr {
	a := base
	if d.HasEnumerable {
		a = setAttr(a, AttrEnumerable, d.Enumerable)
	}
	if d.HasConfigurable {
		a = setAttr(a, AttrConfigurable, d.Configurable)
	}
	if d.HasWritable {
		a = setAttr(a, AttrWritable, d.Writable)
	}
	return a
}

func setAttr(a, bit Attr, on bool) Attr {
	if on {
		return a | bit
	}
	return a &^ bit
}

// defineOwnProperty creates or reconfigures an own property. It returns
// false when the change is not allowed. May trigger GC.
func (rt *Runtime) defineOwnProperty(o *Object, k propKey, d PropertyDescriptor) (bool, error) {
	mark := rt.protect(selfValue(o))
	rt.protect(d.Value)
	rt.protect(d.Get)
	rt.protect(d.Set)
	defer rt.unprotect(mark)
	reload := func() {
		d.Value, d.Get, d.Set = rt.handles[mark+1], rt.handles[mark+2], rt.handles[mark+3]
	}

	rt.prepare(o, k)
	p, found := rt.findOwn(o, k)
	if !found {
		if !o.extensible {
			return false, nil
		}
		if d.IsAccessor() {
			attrs := d.attrs(0)&^AttrWritable | AttrAccessor
			reload()
			pair := rt.newAccessorPair(orUndefined(d.HasGet, d.Get), orUndefined(d.HasSet, d.Set))
			rt.addOwn(o, k, pair, attrs)
			return true, nil
		}
		reload()
		rt.addOwn(o, k, orUndefined(d.HasValue, d.Value), d.attrs(0))
		return true, nil
	}

	if p.where == slotLength {
		if d.IsAccessor() || d.HasEnumerable && d.Enumerable || d.HasConfigurable && d.Configurable {
			return false, nil
		}
		if d.HasValue {
			if !p.attrs.Writable() {
				f, err := rt.toNumber(d.Value)
				if err != nil || f != float64(o.length) {
					return false, err
				}
			} else if err := rt.assignLength(o, d.Value, true); err != nil {
				return false, err
			}
		}
		if d.HasWritable && !d.Writable {
			o.lengthReadOnly = true
		} else if d.HasWritable && d.Writable && !p.attrs.Writable() {
			return false, nil
		}
		return true, nil
	}

	cur := p.attrs
	var current Value
	if p.where == slotElement {
		current, _ = o.getElement(k.index)
	} else {
		current = o.slots[p.slot]
	}
	if !cur.Configurable() {
		if d.HasConfigurable && d.Configurable {
			return false, nil
		}
		if d.HasEnumerable && d.Enumerable != cur.Enumerable() {
			return false, nil
		}
		if cur.Accessor() {
			if d.HasValue || d.HasWritable {
				return false, nil
			}
			pair := rt.accessorPair(current)
			if d.HasGet && d.Get != pair.getter || d.HasSet && d.Set != pair.setter {
				return false, nil
			}
		} else {
			if d.IsAccessor() {
				return false, nil
			}
			if !cur.Writable() {
				if d.HasWritable && d.Writable {
					return false, nil
				}
				if d.HasValue && !rt.SameValue(d.Value, current) {
					return false, nil
				}
			}
		}
	}

	next := d.attrs(cur)
	var stored Value
	switch {
	case d.IsAccessor():
		next = next&^AttrWritable | AttrAccessor
		get, set := Undefined, Undefined
		if cur.Accessor() {
			pair := rt.accessorPair(current)
			get, set = pair.getter, pair.setter
		}
		if d.HasGet {
			get = d.Get
		}
		if d.HasSet {
			set = d.Set
		}
		stored = rt.newAccessorPair(get, set)
		reload()
	case cur.Accessor() && (d.HasValue || d.HasWritable):
		next &^= AttrAccessor
		if !d.HasWritable {
			next &^= AttrWritable
		}
		stored = orUndefined(d.HasValue, d.Value)
	default:
		stored = current
		if d.HasValue {
			stored = d.Value
		}
	}

	if p.where == slotElement {
		if next == AttrDefault {
			rt.setElement(o, k.index, stored)
			return true, nil
		}
		sm := rt.protect(stored)
		rt.deleteElement(o, k.index)
		rt.addOwn(o, k, rt.handles[sm], next)
		rt.unprotect(sm)
		return true, nil
	}
	if next != cur {
		sm := rt.protect(stored)
		slot := p.slot
		rt.setFieldAttrs(o, func(i int, a Attr) Attr {
			if i == slot {
				return next
			}
			return a
		})
		stored = rt.handles[sm]
		rt.unprotect(sm)
	}
	o.slots[p.slot] = stored
	rt.barrier(o, stored)
	return true, nil
}

func orUndefined(has bool, v Value) Value {
	if has {
		return v
	}
	return Undefined
}

// getOwnPropertyDescriptor describes an own property without invoking
// accessors. May trigger GC.
func (rt *Runtime) getOwnPropertyDescriptor(o *Object, k propKey) (PropertyDescriptor, bool) {
	rt.prepare(o, k)
	p, found := rt.findOwn(o, k)
	if !found {
		return PropertyDescriptor{}, false
	}
	d := PropertyDescriptor{
		Enumerable:      p.attrs.Enumerable(),
		Configurable:    p.attrs.Configurable(),
		HasEnumerable:   true,
		HasConfigurable: true,
	}
	switch p.where {
	case slotLength:
		d.Value, d.HasValue = NumberValue(float64(o.length)), true
		d.Writable, d.HasWritable = p.attrs.Writable(), true
	case slotElement:
		d.Value, _ = o.getElement(k.index)
		d.HasValue = true
		d.Writable, d.HasWritable = p.attrs.Writable(), true
	default:
		v := o.slots[p.slot]
		if p.attrs.Accessor() {
			pair := rt.accessorPair(v)
			d.Get, d.Set, d.HasGet, d.HasSet = pair.getter, pair.setter, true, true
		} else {
			d.Value, d.HasValue = v, true
			d.Writable, d.HasWritable = p.attrs.Writable(), true
		}
	}
	return d, true
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// hasProperty reports whether k is found on o or its prototype chain.
// May trigger GC.
func (rt *Runtime) hasProperty(o *Object, k propKey) bool {
	for {
		rt.prepare(o, k)
		if _, found := rt.findOwn(o, k); found {
			return true
		}
		proto := rt.shape(o.shape).proto
		if proto == Null {
			return false
		}
		o = rt.object(proto)
	}
}

// ownKeys lists own keys: array indices ascending, then string keys in
// insertion order. Non-enumerable keys are included when all is set.
// May trigger GC.
func (rt *Runtime) ownKeys(o *Object, all bool) []propKey {
	if o.fn != nil && o.fn.lazyPrototype {
		rt.materializePrototype(o)
	}
	var keys []propKey
	enumerableElements := o.elementAttrs().Enumerable()
	indices := o.elementIndices()
	if !enumerableElements && !all {
		indices = nil
	}
	s := rt.shape(o.shape)
	if o.indexNamed {
		for _, f := range s.fields {
			if i, ok := arrayIndex(f.key); ok && (all || f.attrs.Enumerable()) {
				indices = append(indices, i)
			}
		}
		sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
	}
	for _, i := range indices {
		keys = append(keys, keyFromIndex(i))
	}
	if o.class == ClassArray && all {
		keys = append(keys, propKey{name: "length"})
	}
	for _, f := range s.fields {
		if _, isIndex := arrayIndex(f.key); isIndex {
			continue
		}
		if all || f.attrs.Enumerable() {
			keys = append(keys, propKey{name: f.key})
		}
	}
	return keys
}

// enumerableKeys lists the keys a for-in loop visits: enumerable keys of o
// and its prototypes, each once, shadowed keys skipped. May trigger GC.
func (rt *Runtime) enumerableKeys(o *Object) []string {
	seen := make(map[string]bool)
	var out []string
	for {
		for _, k := range rt.ownKeys(o, true) {
			name := k.String()
			if seen[name] {
				continue
			}
			seen[name] = true
			if p, found := rt.findOwn(o, k); found && p.attrs.Enumerable() {
				out = append(out, name)
			}
		}
		proto := rt.shape(o.shape).proto
		if proto == Null {
			return out
		}
		o = rt.object(proto)
	}
}

// ---------------------------------------------------------------------------
// Prototype and integrity levels
// ---------------------------------------------------------------------------

// getPrototypeOf returns Null or an object.
func (rt *Runtime) getPrototypeOf(o *Object) Value {
	return rt.shape(o.shape).proto
}

// setPrototypeOf changes o's prototype. It refuses changes on
// non-extensible objects and changes that would close a cycle.
// May trigger GC.
func (rt *Runtime) setPrototypeOf(o *Object, proto Value) bool {
	s := rt.shape(o.shape)
	if s.proto == proto {
		return true
	}
	if !o.extensible {
		return false
	}
	self := selfValue(o)
	for p := proto; p != Null; p = rt.shape(rt.object(p).shape).proto {
		if p == self {
			return false
		}
	}
	if s.dictionary {
		s.proto = proto
		rt.barrier(s, proto)
		return true
	}
	fields := append([]shapeField(nil), s.fields...)
	rt.reshape(o, proto, fields, identitySlots(len(fields)))
	return true
}

// preventExtensions blocks new properties.
func (rt *Runtime) preventExtensions(o *Object) {
	o.extensible = false
}

// seal blocks new properties and makes every property non-configurable.
// May trigger GC.
func (rt *Runtime) seal(o *Object) {
	if o.fn != nil && o.fn.lazyPrototype {
		rt.materializePrototype(o)
	}
	rt.setFieldAttrs(o, func(_ int, a Attr) Attr { return a &^ AttrConfigurable })
	o.sealed = true
	o.extensible = false
}

// freeze seals o and makes every data property read-only. May trigger GC.
func (rt *Runtime) freeze(o *Object) {
	if o.fn != nil && o.fn.lazyPrototype {
		rt.materializePrototype(o)
	}
	rt.setFieldAttrs(o, func(_ int, a Attr) Attr {
		a &^= AttrConfigurable
		if !a.Accessor() {
			a &^= AttrWritable
		}
		return a
	})
	o.sealed = true
	o.frozen = true
	o.extensible = false
}

func (rt *Runtime) isSealed(o *Object) bool {
	if o.extensible {
		return false
	}
	if !o.sealed && len(o.elementIndices()) > 0 {
		return false
	}
	if o.fn != nil && o.fn.lazyPrototype {
		return false
	}
	for _, f := range rt.shape(o.shape).fields {
		if f.attrs.Configurable() {
			return false
		}
	}
	return true
}

func (rt *Runtime) isFrozen(o *Object) bool {
	if !rt.isSealed(o) {
		return false
	}
	if !o.frozen && len(o.elementIndices()) > 0 {
		return false
	}
	if o.class == ClassArray && o.lengthAttrs().Writable() {
		return false
	}
	for _, f := range rt.shape(o.shape).fields {
		if !f.attrs.Accessor() && f.attrs.Writable() {
			return false
		}
	}
	return true
}
