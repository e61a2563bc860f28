// Package manifest handles protovm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chazu/protovm/vm"
	"github.com/dustin/go-humanize"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "protovm.toml"

// Manifest represents a protovm.toml project configuration.
type Manifest struct {
	Project     Project           `toml:"project"`
	Heap        HeapConfig        `toml:"heap"`
	Interpreter InterpreterConfig `toml:"interpreter"`
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	// Modules maps a global name to a module artifact. Each module is run
	// before the entry module and its result bound to that global.
	Modules map[string]string `toml:"modules"`

	// Dir is the directory containing the protovm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"` // module artifact run by default
}

// HeapConfig sizes the heap. Sizes accept byte counts or strings such as
// "256KiB" or "64 MB".
type HeapConfig struct {
	Young        Size `toml:"young"`
	InitialOld   Size `toml:"initial-old"`
	Max          Size `toml:"max"`
	LargeObject  Size `toml:"large-object"`
	PromotionAge int  `toml:"promotion-age"`
	Verify       bool `toml:"verify"`
}

// InterpreterConfig holds object model and execution limits.
type InterpreterConfig struct {
	PolymorphicLimit    int      `toml:"polymorphic-limit"`
	DictionaryThreshold int      `toml:"dictionary-threshold"`
	SparseGap           int      `toml:"sparse-gap"`
	StackSize           int      `toml:"stack-size"`
	MaxFrames           int      `toml:"max-frames"`
	MaxNativeDepth      int      `toml:"max-native-depth"`
	Timeout             Duration `toml:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
	Color     *bool  `toml:"color"`
}

// ServerConfig configures the introspection server.
type ServerConfig struct {
	Listen     string `toml:"listen"`
	SnapshotDB string `toml:"snapshot-db"`
}

// Size is a byte count read from TOML.
type Size int

// UnmarshalText parses strings like "256KiB", "4 MB" or "1024".
func (s *Size) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	if n > 1<<40 {
		return fmt.Errorf("size %q too large", text)
	}
	*s = Size(n)
	return nil
}

// String formats the size in binary units.
func (s Size) String() string { return humanize.IBytes(uint64(s)) }

// Duration is a time.Duration read from TOML as "5s", "250ms".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Load parses a protovm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Server.SnapshotDB == "" {
		m.Server.SnapshotDB = filepath.Join(".protovm", "heap.db")
	}

	if _, err := m.Options(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a protovm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Options returns the runtime options the manifest selects. Unset fields
// keep their defaults.
func (m *Manifest) Options() (vm.Options, error) {
	opts := vm.DefaultOptions()
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setInt(&opts.YoungSize, int(m.Heap.Young))
	setInt(&opts.InitialOldSize, int(m.Heap.InitialOld))
	setInt(&opts.MaxHeapSize, int(m.Heap.Max))
	setInt(&opts.LargeObjectSize, int(m.Heap.LargeObject))
	setInt(&opts.PromotionAge, m.Heap.PromotionAge)
	opts.VerifyHeap = m.Heap.Verify

	setInt(&opts.PolymorphicLimit, m.Interpreter.PolymorphicLimit)
	setInt(&opts.DictionaryThreshold, m.Interpreter.DictionaryThreshold)
	setInt(&opts.SparseGap, m.Interpreter.SparseGap)
	setInt(&opts.StackSize, m.Interpreter.StackSize)
	setInt(&opts.MaxFrames, m.Interpreter.MaxFrames)
	setInt(&opts.MaxNativeDepth, m.Interpreter.MaxNativeDepth)

	// A large object must fit in the nursery; shrink it along with a small
	// young generation unless it was set explicitly.
	if m.Heap.LargeObject == 0 && opts.LargeObjectSize > opts.YoungSize {
		opts.LargeObjectSize = opts.YoungSize
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("invalid runtime options: %w", err)
	}
	return opts, nil
}

// Timeout returns the execution time limit, zero for none.
func (m *Manifest) Timeout() time.Duration {
	return time.Duration(m.Interpreter.Timeout)
}

// Path resolves p against the manifest directory.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// EntryPath returns the absolute path of the entry module, or "".
func (m *Manifest) EntryPath() string {
	return m.Path(m.Project.Entry)
}

// StateDir returns the path to the .protovm directory.
func (m *Manifest) StateDir() string {
	return filepath.Join(m.Dir, ".protovm")
}

// LockFilePath returns the path to .protovm/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.StateDir(), "lock.toml")
}
