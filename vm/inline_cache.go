package vm

// Inline caching for property access
//
// Every GetById, PutById, GetGlobal and PutGlobal instruction names a
// PropertyCache on its code block. A cache maps receiver shapes to the slot
// the property lives in:
// - most sites only ever see one shape (monomorphic)
// - some see a handful (polymorphic, up to PolymorphicLimit)
// - the rest go megamorphic and stay on the generic path
//
// Only own properties of non-dictionary shapes are cached, and a shape
// fixes its prototype, so a hit returns exactly what the generic lookup
// would. Shape references are weak: entries for dead shapes are dropped by
// the collector.

// CacheState is the state of one cache site.
type CacheState uint8

const (
	CacheUninitialized CacheState = iota
	CacheMonomorphic
	CachePolymorphic
	CacheMegamorphic
)

var cacheStateNames = [...]string{"uninitialized", "monomorphic", "polymorphic", "megamorphic"}

func (s CacheState) String() string {
	if int(s) < len(cacheStateNames) {
		return cacheStateNames[s]
	}
	return "unknown"
}

// DefaultPolymorphicLimit is the number of shapes a site tracks before
// going megamorphic.
const DefaultPolymorphicLimit = 6

type cacheEntry struct {
	shape    Value // weak
	slot     int
	accessor bool
}

// PropertyCache is the cache of a single instruction.
type PropertyCache struct {
	State   CacheState
	entries []cacheEntry

	Hits   uint64
	Misses uint64
}

// lookup returns the cached plan for shape.
func (c *PropertyCache) lookup(shape Value) (cacheEntry, bool) {
	switch c.State {
	case CacheMonomorphic:
		if c.entries[0].shape == shape {
			c.Hits++
			return c.entries[0], true
		}
	case CachePolymorphic:
		for i := range c.entries {
			if c.entries[i].shape == shape {
				c.Hits++
				return c.entries[i], true
			}
		}
	}
	c.Misses++
	return cacheEntry{}, false
}

// has reports whether shape is cached, without counting a hit or miss.
func (c *PropertyCache) has(shape Value) bool {
	for i := range c.entries {
		if c.entries[i].shape == shape {
			return true
		}
	}
	return false
}

// update records the plan for shape after a generic lookup, moving the
// site to the next state when needed.
func (c *PropertyCache) update(shape Value, slot int, accessor bool, limit int) {
	e := cacheEntry{shape: shape, slot: slot, accessor: accessor}
	switch c.State {
	case CacheUninitialized:
		c.State = CacheMonomorphic
		c.entries = append(c.entries[:0], e)
	case CacheMonomorphic, CachePolymorphic:
		for i := range c.entries {
			if c.entries[i].shape == shape {
				c.entries[i] = e
				return
			}
		}
		if len(c.entries) >= limit {
			c.State = CacheMegamorphic
			c.entries = nil
			return
		}
		c.entries = append(c.entries, e)
		c.State = CachePolymorphic
	case CacheMegamorphic:
	}
}

// visitWeak forwards or drops shape entries after a collection and settles
// the state to match the surviving entries.
func (c *PropertyCache) visitWeak(visit func(*Value)) {
	if len(c.entries) == 0 {
		return
	}
	live := c.entries[:0]
	for _, e := range c.entries {
		visit(&e.shape)
		if e.shape.IsPointer() {
			live = append(live, e)
		}
	}
	clear(c.entries[len(live):])
	c.entries = live
	switch len(live) {
	case 0:
		c.State = CacheUninitialized
	case 1:
		c.State = CacheMonomorphic
	}
}

// Entries returns the number of shapes cached.
func (c *PropertyCache) Entries() int { return len(c.entries) }

// HitRate returns the hit rate as a percentage (0-100).
func (c *PropertyCache) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) * 100 / float64(total)
}

// Reset clears the cache back to the uninitialized state.
func (c *PropertyCache) Reset() {
	*c = PropertyCache{}
}

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	TotalSites      int
	Uninitialized   int
	Monomorphic     int
	Polymorphic     int
	Megamorphic     int
	TotalHits       uint64
	TotalMisses     uint64
	HitRate         float64 // percentage
	MonomorphicRate float64 // percentage of used sites that are monomorphic
}

// CacheStats gathers inline cache statistics over every loaded function.
func (rt *Runtime) CacheStats() ICStats {
	var stats ICStats
	for _, m := range rt.modules {
		for _, cb := range m.code {
			for i := range cb.caches {
				c := &cb.caches[i]
				stats.TotalSites++
				switch c.State {
				case CacheUninitialized:
					stats.Uninitialized++
				case CacheMonomorphic:
					stats.Monomorphic++
				case CachePolymorphic:
					stats.Polymorphic++
				case CacheMegamorphic:
					stats.Megamorphic++
				}
				stats.TotalHits += c.Hits
				stats.TotalMisses += c.Misses
			}
		}
	}
	if total := stats.TotalHits + stats.TotalMisses; total > 0 {
		stats.HitRate = float64(stats.TotalHits) * 100 / float64(total)
	}
	if used := stats.TotalSites - stats.Uninitialized; used > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(used)
	}
	return stats
}

// ---------------------------------------------------------------------------
// Cached property access
// ---------------------------------------------------------------------------

// cachedGet reads name from recv through cache c. It is exactly
// getProperty(recv, name) with a shortcut for cached own properties.
// May trigger GC.
func (rt *Runtime) cachedGet(c *PropertyCache, recv Value, name string) (Value, error) {
	o, ok := rt.asObject(recv)
	if !ok {
		return rt.getProperty(recv, keyFromString(name))
	}
	if c.State != CacheMegamorphic {
		if e, hit := c.lookup(o.shape); hit {
			v := o.slots[e.slot]
			if !e.accessor {
				return v, nil
			}
			pair := rt.accessorPair(v)
			if pair.getter == Undefined {
				return Undefined, nil
			}
			return rt.callInternal(pair.getter, recv, nil)
		}
	} else {
		c.Misses++
	}
	k := keyFromString(name)
	rt.prepare(o, k)
	if c.State != CacheMegamorphic && !k.isIndex {
		s := rt.shape(o.shape)
		if !s.dictionary {
			if slot, found := s.lookup(name); found && !(o.class == ClassArray && name == "length") {
				c.update(o.shape, slot, s.fields[slot].attrs.Accessor(), rt.opts.PolymorphicLimit)
			}
		}
	}
	return rt.getProperty(selfValue(o), k)
}

// cachedPut assigns v to name on target through cache c. Only writable own
// data properties are cached. May trigger GC.
func (rt *Runtime) cachedPut(c *PropertyCache, target Value, name string, v Value, strict bool) error {
	o, ok := rt.asObject(target)
	if !ok {
		return rt.setProperty(target, keyFromString(name), v, strict)
	}
	if c.State != CacheMegamorphic {
		if e, hit := c.lookup(o.shape); hit {
			o.slots[e.slot] = v
			rt.barrier(o, v)
			return nil
		}
	} else {
		c.Misses++
	}
	k := keyFromString(name)
	mark := rt.protect(v)
	rt.prepare(o, k)
	v = rt.handles[mark]
	rt.unprotect(mark)
	if err := rt.setProperty(selfValue(o), k, v, strict); err != nil {
		return err
	}
	if c.State == CacheMegamorphic || k.isIndex {
		return nil
	}
	s := rt.shape(o.shape)
	if s.dictionary {
		return nil
	}
	if slot, found := s.lookup(name); found {
		if a := s.fields[slot].attrs; a.Writable() && !a.Accessor() {
			c.update(o.shape, slot, false, rt.opts.PolymorphicLimit)
		}
	}
	return nil
}
