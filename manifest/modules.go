package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode"

	"github.com/BurntSushi/toml"
	"github.com/chazu/protovm/vm"
	"github.com/chazu/protovm/vm/bcfile"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("protovm.manifest")

// ResolvedModule is a [modules] entry loaded from disk.
type ResolvedModule struct {
	Name        string // global the module's result is bound to
	Path        string // absolute artifact path
	Module      *vm.Module
	Fingerprint uint64
	// Changed is set when the artifact differs from the one recorded in
	// the lock file.
	Changed bool
}

// reservedGlobals are names the runtime and host library define.
var reservedGlobals = map[string]bool{
	"globalThis":     true,
	"undefined":      true,
	"NaN":            true,
	"Infinity":       true,
	"Object":         true,
	"Function":       true,
	"Array":          true,
	"String":         true,
	"Number":         true,
	"Boolean":        true,
	"Error":          true,
	"TypeError":      true,
	"RangeError":     true,
	"ReferenceError": true,
	"SyntaxError":    true,
	"TimeoutError":   true,
	"console":        true,
	"Text":           true,
	"RegExp":         true,
}

// IsReservedGlobal reports whether name is defined by the runtime or the
// host library and so cannot name a module.
func IsReservedGlobal(name string) bool {
	return reservedGlobals[name]
}

func validGlobalName(name string) error {
	for i, r := range name {
		ok := r == '_' || r == '$' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r))
		if !ok {
			return fmt.Errorf("module name %q is not an identifier", name)
		}
	}
	if name == "" {
		return fmt.Errorf("empty module name")
	}
	if IsReservedGlobal(name) {
		return fmt.Errorf("module name %q is reserved by the runtime; pick another key in [modules]", name)
	}
	return nil
}

// ResolveModules loads every [modules] artifact, sorted by name, checks it
// against the lock file and rewrites the lock file.
func (m *Manifest) ResolveModules() ([]ResolvedModule, error) {
	lock, err := ReadLock(m.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}

	names := make([]string, 0, len(m.Modules))
	for name := range m.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ResolvedModule, 0, len(names))
	for _, name := range names {
		if err := validGlobalName(name); err != nil {
			return nil, err
		}
		path := m.Path(m.Modules[name])
		mod, err := bcfile.ReadModuleFile(path)
		if err != nil {
			return nil, fmt.Errorf("resolving module %s: %w", name, err)
		}
		fp, err := bcfile.Fingerprint(mod)
		if err != nil {
			return nil, fmt.Errorf("resolving module %s: %w", name, err)
		}
		rm := ResolvedModule{Name: name, Path: path, Module: mod, Fingerprint: fp}
		if locked := lock.Find(name); locked != nil && locked.Fingerprint != formatFingerprint(fp) {
			rm.Changed = true
			log.Warningf("module %s changed since last run (%s -> %s)", name, locked.Fingerprint, formatFingerprint(fp))
		}
		out = append(out, rm)
	}

	if err := m.writeLock(out); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Lock file
// ---------------------------------------------------------------------------

// LockFile records the artifacts a project last ran with.
type LockFile struct {
	Modules []LockedModule `toml:"module"`
}

// LockedModule is one recorded artifact.
type LockedModule struct {
	Name        string `toml:"name"`
	Path        string `toml:"path"`
	Fingerprint string `toml:"fingerprint"`
}

// Find returns the entry for name, or nil.
func (lf *LockFile) Find(name string) *LockedModule {
	for i := range lf.Modules {
		if lf.Modules[i].Name == name {
			return &lf.Modules[i]
		}
	}
	return nil
}

// ReadLock reads a lock file. A missing file yields an empty lock.
func ReadLock(path string) (*LockFile, error) {
	var lf LockFile
	if _, err := toml.DecodeFile(path, &lf); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &lf, nil
		}
		return nil, err
	}
	return &lf, nil
}

// WriteLock writes a lock file.
func WriteLock(path string, lf *LockFile) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(lf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (m *Manifest) writeLock(resolved []ResolvedModule) error {
	lf := &LockFile{}
	for _, rm := range resolved {
		rel, err := filepath.Rel(m.Dir, rm.Path)
		if err != nil {
			rel = rm.Path
		}
		lf.Modules = append(lf.Modules, LockedModule{Name: rm.Name, Path: rel, Fingerprint: formatFingerprint(rm.Fingerprint)})
	}
	if err := os.MkdirAll(filepath.Dir(m.LockFilePath()), 0o755); err != nil {
		return err
	}
	return WriteLock(m.LockFilePath(), lf)
}

func formatFingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}
