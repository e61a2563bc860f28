package vm

import "fmt"

// ---------------------------------------------------------------------------
// Module artifact
// ---------------------------------------------------------------------------

// Module is the compiled form of a script: a function table, a string pool
// and a pool of object literal templates. Functions refer to pool entries
// by index. Entry names the function run by Runtime.Run.
type Module struct {
	Name      string           `cbor:"1,keyasint"`
	Strings   []string         `cbor:"2,keyasint"`
	Functions []*FunctionInfo  `cbor:"3,keyasint"`
	Templates []ObjectTemplate `cbor:"4,keyasint,omitempty"`
	Entry     int              `cbor:"5,keyasint"`
}

// FunctionInfo describes one compiled function.
type FunctionInfo struct {
	Name       string         `cbor:"1,keyasint"`
	ParamCount int            `cbor:"2,keyasint"`
	FrameSize  int            `cbor:"3,keyasint"` // registers
	CacheCount int            `cbor:"4,keyasint"`
	Code       []byte         `cbor:"5,keyasint"`
	Handlers   []HandlerEntry `cbor:"6,keyasint,omitempty"`
	Locations  []Location     `cbor:"7,keyasint,omitempty"`
	Strict     bool           `cbor:"8,keyasint,omitempty"`
	Generator  bool           `cbor:"9,keyasint,omitempty"`
}

// HandlerEntry covers the instructions starting in [Start, End) and sends
// exceptions raised there to Target. Entries are ordered innermost first.
type HandlerEntry struct {
	Start  int `cbor:"1,keyasint"`
	End    int `cbor:"2,keyasint"`
	Target int `cbor:"3,keyasint"`
}

// Location maps the instruction at Offset, and those following it up to the
// next entry, to a source position.
type Location struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
	Column int `cbor:"3,keyasint"`
}

// ObjectTemplate is the key list of an object literal. Keys are string pool
// indices; the values come from consecutive registers.
type ObjectTemplate struct {
	Keys []int `cbor:"1,keyasint"`
}

// ModuleBuilder assembles a Module, interning strings as they are added.
type ModuleBuilder struct {
	m       *Module
	strings map[string]int
}

// NewModuleBuilder starts an empty module.
func NewModuleBuilder(name string) *ModuleBuilder {
	return &ModuleBuilder{m: &Module{Name: name}, strings: make(map[string]int)}
}

// String returns the pool index of s, adding it when new.
func (mb *ModuleBuilder) String(s string) int {
	if i, ok := mb.strings[s]; ok {
		return i
	}
	mb.m.Strings = append(mb.m.Strings, s)
	mb.strings[s] = len(mb.m.Strings) - 1
	return len(mb.m.Strings) - 1
}

// Template adds an object literal template with the given keys.
func (mb *ModuleBuilder) Template(keys ...string) int {
	t := ObjectTemplate{Keys: make([]int, len(keys))}
	for i, k := range keys {
		t.Keys[i] = mb.String(k)
	}
	mb.m.Templates = append(mb.m.Templates, t)
	return len(mb.m.Templates) - 1
}

// Reserve adds a placeholder function and returns its index, so that
// functions can refer to each other before they are built.
func (mb *ModuleBuilder) Reserve() int {
	mb.m.Functions = append(mb.m.Functions, nil)
	return len(mb.m.Functions) - 1
}

// Define fills in a reserved function.
func (mb *ModuleBuilder) Define(index int, fi *FunctionInfo) {
	mb.m.Functions[index] = fi
}

// Function adds fi and returns its index.
func (mb *ModuleBuilder) Function(fi *FunctionInfo) int {
	mb.m.Functions = append(mb.m.Functions, fi)
	return len(mb.m.Functions) - 1
}

// Build sets the entry function and returns the module.
func (mb *ModuleBuilder) Build(entry int) *Module {
	mb.m.Entry = entry
	return mb.m
}

// ---------------------------------------------------------------------------
// Loaded modules
// ---------------------------------------------------------------------------

// loadedModule is the runtime side of a Module: heap strings for the pool
// and a code block per function.
type loadedModule struct {
	mod       *Module
	strings   []Value
	names     []Value // function names
	templates []Value // final shape per template, Undefined until first use
	code      []*codeBlock
}

func (m *loadedModule) visitRoots(visit func(*Value)) {
	for i := range m.strings {
		visit(&m.strings[i])
	}
	for i := range m.names {
		visit(&m.names[i])
	}
	for i := range m.templates {
		visit(&m.templates[i])
	}
}

// codeBlock is a loaded function: its static description and its property
// caches.
type codeBlock struct {
	info   *FunctionInfo
	module *loadedModule
	index  int
	caches []PropertyCache
}

// name returns the function name for stack traces.
func (cb *codeBlock) name() string {
	return cb.info.Name
}

// location returns the source position of the instruction at offset.
func (cb *codeBlock) location(offset int) (Location, bool) {
	var best Location
	found := false
	for _, l := range cb.info.Locations {
		if l.Offset > offset {
			break
		}
		best, found = l, true
	}
	return best, found
}

// findHandler returns the innermost handler covering the instruction that
// starts at offset.
func (cb *codeBlock) findHandler(offset int) (HandlerEntry, bool) {
	for _, h := range cb.info.Handlers {
		if h.Start <= offset && offset < h.End {
			return h, true
		}
	}
	return HandlerEntry{}, false
}

// Load verifies m and prepares it for execution. Loading the same module
// twice returns the first load.
func (rt *Runtime) Load(m *Module) error {
	_, err := rt.load(m)
	return err
}

func (rt *Runtime) load(m *Module) (*loadedModule, error) {
	for _, lm := range rt.modules {
		if lm.mod == m {
			return lm, nil
		}
	}
	if err := VerifyModule(m); err != nil {
		return nil, fmt.Errorf("module %q: %w", m.Name, err)
	}
	lm := &loadedModule{
		mod:       m,
		strings:   make([]Value, len(m.Strings)),
		names:     make([]Value, len(m.Functions)),
		templates: make([]Value, len(m.Templates)),
		code:      make([]*codeBlock, len(m.Functions)),
	}
	for i := range lm.strings {
		lm.strings[i] = Undefined
	}
	for i := range lm.names {
		lm.names[i] = Undefined
	}
	for i := range lm.templates {
		lm.templates[i] = Undefined
	}
	for i, fi := range m.Functions {
		lm.code[i] = &codeBlock{info: fi, module: lm, index: i, caches: make([]PropertyCache, fi.CacheCount)}
	}
	// Registered first so that the strings allocated below are roots.
	rt.modules = append(rt.modules, lm)
	for i, s := range m.Strings {
		lm.strings[i] = rt.NewString(s)
	}
	for i, fi := range m.Functions {
		lm.names[i] = rt.NewString(fi.Name)
	}
	rt.log.Debugf("loaded module %q: %d functions, %d strings", m.Name, len(m.Functions), len(m.Strings))
	return lm, nil
}

// Run loads m if needed and calls its entry function with this undefined.
func (rt *Runtime) Run(m *Module) (result Value, err error) {
	lm, err := rt.load(m)
	if err != nil {
		return Undefined, err
	}
	defer rt.guard(&err)()
	fn := rt.newClosure(lm.code[m.Entry], Undefined)
	result, err = rt.callInternal(fn, Undefined, nil)
	return result, rt.publicError(err)
}
