// Package hostlib provides host functions for scripts: a console, locale
// aware case mapping and regular expressions. Everything here is built on
// the public host-call ABI of package vm, the way an embedder would write
// its own natives.
package hostlib

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chazu/protovm/vm"
	"github.com/dlclark/regexp2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("protovm.hostlib")

// Config selects where console output goes.
type Config struct {
	Stdout io.Writer
	Stderr io.Writer
	// Color enables ANSI colors for warnings and errors.
	Color bool
	// MatchTimeout bounds a single regular expression match.
	MatchTimeout time.Duration
}

// Library is the state shared by the installed natives.
type Library struct {
	rt      *vm.Runtime
	cfg     Config
	regexps map[string]*regexp2.Regexp
}

// Install defines console, Text and RegExp as globals of rt.
func Install(rt *vm.Runtime, cfg Config) (*Library, error) {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.MatchTimeout == 0 {
		cfg.MatchTimeout = time.Second
	}
	lib := &Library{rt: rt, cfg: cfg, regexps: make(map[string]*regexp2.Regexp)}
	for _, install := range []func() error{lib.installConsole, lib.installText, lib.installRegExp} {
		if err := install(); err != nil {
			return nil, fmt.Errorf("hostlib: %w", err)
		}
	}
	log.Debugf("installed host library (color=%t)", cfg.Color)
	return lib, nil
}

type native struct {
	name  string
	arity int
	fn    vm.NativeFunc
}

// namespace creates a plain global object holding natives.
func (lib *Library) namespace(name string, natives []native) error {
	rt := lib.rt
	scope := rt.OpenScope()
	defer scope.Close()
	ns := scope.Handle(rt.NewObject())
	if err := defineAll(rt, ns.Get(), natives); err != nil {
		return err
	}
	return rt.SetGlobal(name, ns.Get())
}

func defineAll(rt *vm.Runtime, obj vm.Value, natives []native) error {
	scope := rt.OpenScope()
	defer scope.Close()
	target := scope.Handle(obj)
	for _, n := range natives {
		f := rt.NewNativeFunction(n.name, n.arity, n.fn)
		if err := rt.DefineProperty(target.Get(), n.name, method(f)); err != nil {
			return err
		}
	}
	return nil
}

// method describes a writable, configurable, non-enumerable data property.
func method(f vm.Value) vm.PropertyDescriptor {
	return vm.PropertyDescriptor{
		Value: f, HasValue: true,
		Writable: true, HasWritable: true,
		Enumerable: false, HasEnumerable: true,
		Configurable: true, HasConfigurable: true,
	}
}

// stringArg converts argument i to a Go string, running script if needed.
func stringArg(args *vm.Args, i int) (string, error) {
	return args.Runtime().ToString(args.Arg(i))
}
