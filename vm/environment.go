package vm

// Environment is a heap allocated scope record. Closures capture the
// environment they were created in; inner scopes chain to their parent.
type Environment struct {
	cellHeader
	parent Value // Undefined for the outermost environment
	slots  []Value
}

func (e *Environment) size() int { return envBaseBytes + valueBytes*len(e.slots) }

func (e *Environment) visitPointers(visit func(*Value)) {
	visit(&e.parent)
	for i := range e.slots {
		visit(&e.slots[i])
	}
}

// Len returns the number of slots.
func (e *Environment) Len() int { return len(e.slots) }

// newEnvironment allocates an environment of n Undefined slots. parent is
// rooted through the pending cell. May trigger GC.
func (rt *Runtime) newEnvironment(parent Value, n int) Value {
	e := &Environment{cellHeader: cellHeader{kind: KindEnvironment}, parent: parent, slots: make([]Value, n)}
	for i := range e.slots {
		e.slots[i] = Undefined
	}
	return RefValue(rt.heap.allocate(e))
}

func (rt *Runtime) envSlot(env Value, slot int) (*Environment, error) {
	e := rt.environment(env)
	if slot < 0 || slot >= len(e.slots) {
		return nil, invariantf("environment slot %d out of range (%d slots)", slot, len(e.slots))
	}
	return e, nil
}

func (rt *Runtime) loadFromEnvironment(env Value, slot int) Value {
	e, err := rt.envSlot(env, slot)
	if err != nil {
		panic(err)
	}
	return e.slots[slot]
}

func (rt *Runtime) storeToEnvironment(env Value, slot int, v Value) {
	e, err := rt.envSlot(env, slot)
	if err != nil {
		panic(err)
	}
	e.slots[slot] = v
	rt.barrier(e, v)
}

func (rt *Runtime) parentEnvironment(env Value) Value {
	return rt.environment(env).parent
}
