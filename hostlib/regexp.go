package hostlib

import (
	"errors"
	"strings"

	"github.com/chazu/protovm/vm"
	"github.com/dlclark/regexp2"
)

// ---------------------------------------------------------------------------
// RegExp
// ---------------------------------------------------------------------------
//
// A RegExp object carries its source and flags as read-only properties and
// a writable lastIndex. The compiled form lives on the Go side, keyed by
// flags and source, so equal literals share one program.
// ---------------------------------------------------------------------------

func (lib *Library) installRegExp() error {
	rt := lib.rt
	scope := rt.OpenScope()
	defer scope.Close()
	proto := scope.Handle(rt.NewObject())
	ctor := scope.Handle(rt.NewNativeConstructor("RegExp", 2, lib.construct))

	if err := rt.DefineProperty(ctor.Get(), "prototype", readOnly(proto.Get())); err != nil {
		return err
	}
	if err := rt.DefineProperty(proto.Get(), "constructor", method(ctor.Get())); err != nil {
		return err
	}
	if err := defineAll(rt, proto.Get(), []native{
		{"exec", 1, lib.exec},
		{"test", 1, lib.test},
		{"replace", 2, lib.replace},
		{"toString", 0, lib.toString},
	}); err != nil {
		return err
	}
	return rt.SetGlobal("RegExp", ctor.Get())
}

func readOnly(v vm.Value) vm.PropertyDescriptor {
	return vm.PropertyDescriptor{
		Value: v, HasValue: true,
		HasWritable: true, HasEnumerable: true, HasConfigurable: true,
	}
}

// compile returns the cached program for source and flags.
func (lib *Library) compile(source, flags string) (*regexp2.Regexp, error) {
	key := flags + "/" + source
	if re, ok := lib.regexps[key]; ok {
		return re, nil
	}
	var opts regexp2.RegexOptions
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'u':
			opts |= regexp2.Unicode
		case 'g', 'y':
		default:
			return nil, errInvalidFlags
		}
		if strings.Count(flags, string(f)) > 1 {
			return nil, errInvalidFlags
		}
	}
	re, err := regexp2.Compile(source, opts)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = lib.cfg.MatchTimeout
	lib.regexps[key] = re
	return re, nil
}

var errInvalidFlags = errors.New("invalid flags")

func (lib *Library) construct(rt *vm.Runtime, args *vm.Args) (vm.Value, error) {
	source := "(?:)"
	if args.Arg(0) != vm.Undefined {
		s, err := stringArg(args, 0)
		if err != nil {
			return vm.Undefined, err
		}
		source = s
	}
	flags := ""
	if args.Arg(1) != vm.Undefined {
		f, err := stringArg(args, 1)
		if err != nil {
			return vm.Undefined, err
		}
		flags = f
	}
	if _, err := lib.compile(source, flags); err != nil {
		return vm.Undefined, rt.ThrowError(vm.KindSyntaxError, "Invalid regular expression: /%s/%s: %v", source, flags, err)
	}

	target := args.NewTarget()
	if target == vm.Undefined {
		target = args.Callee()
	}
	proto, err := rt.GetProperty(target, "prototype")
	if err != nil {
		return vm.Undefined, err
	}
	if !rt.IsObject(proto) {
		if proto, err = rt.GetProperty(args.Callee(), "prototype"); err != nil {
			return vm.Undefined, err
		}
	}

	scope := rt.OpenScope()
	defer scope.Close()
	obj := scope.Handle(rt.NewObjectWithProto(proto))
	for _, p := range [][2]string{{"source", source}, {"flags", flags}} {
		s := rt.NewString(p[1])
		if err := rt.DefineProperty(obj.Get(), p[0], readOnly(s)); err != nil {
			return vm.Undefined, err
		}
	}
	lastIndex := method(vm.IntValue(0))
	if err := rt.DefineProperty(obj.Get(), "lastIndex", lastIndex); err != nil {
		return vm.Undefined, err
	}
	return obj.Get(), nil
}

// program reads the receiver's source and flags.
func (lib *Library) program(rt *vm.Runtime, this vm.Value) (*regexp2.Regexp, string, error) {
	src, ok := rt.GetOwnPropertyDescriptor(this, "source")
	fl, ok2 := rt.GetOwnPropertyDescriptor(this, "flags")
	if !ok || !ok2 || rt.TypeOf(src.Value) != "string" || rt.TypeOf(fl.Value) != "string" {
		return nil, "", rt.ThrowTypeError("RegExp method called on incompatible receiver %s", rt.Display(this))
	}
	flags := rt.GoString(fl.Value)
	re, err := lib.compile(rt.GoString(src.Value), flags)
	if err != nil {
		return nil, "", rt.ThrowError(vm.KindSyntaxError, "Invalid regular expression: %v", err)
	}
	return re, flags, nil
}

// match runs one search against input, honouring lastIndex for global and
// sticky expressions. A nil match means no match.
func (lib *Library) match(rt *vm.Runtime, args *vm.Args, input string) (*regexp2.Match, error) {
	re, flags, err := lib.program(rt, args.This())
	if err != nil {
		return nil, err
	}
	global := strings.ContainsAny(flags, "gy")
	start := 0
	if global {
		li, err := rt.GetProperty(args.This(), "lastIndex")
		if err != nil {
			return nil, err
		}
		f, err := rt.ToNumber(li)
		if err != nil {
			return nil, err
		}
		if f > float64(len([]rune(input))) {
			return nil, rt.SetProperty(args.This(), "lastIndex", vm.IntValue(0))
		}
		start = max(int(f), 0)
	}
	m, err := re.FindStringMatchStartingAt(input, start)
	if err != nil {
		return nil, rt.ThrowError(vm.KindError, "regular expression: %v", err)
	}
	if m != nil && strings.ContainsRune(flags, 'y') && m.Index != start {
		m = nil
	}
	if global {
		next := 0
		if m != nil {
			next = m.Index + m.Length
		}
		if err := rt.SetProperty(args.This(), "lastIndex", vm.IntValue(int32(next))); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (lib *Library) test(rt *vm.Runtime, args *vm.Args) (vm.Value, error) {
	input, err := stringArg(args, 0)
	if err != nil {
		return vm.Undefined, err
	}
	m, err := lib.match(rt, args, input)
	if err != nil {
		return vm.Undefined, err
	}
	return vm.BoolValue(m != nil), nil
}

// exec returns [match, ...groups] with index and input properties, or null.
func (lib *Library) exec(rt *vm.Runtime, args *vm.Args) (vm.Value, error) {
	input, err := stringArg(args, 0)
	if err != nil {
		return vm.Undefined, err
	}
	m, err := lib.match(rt, args, input)
	if err != nil || m == nil {
		return vm.Null, err
	}

	scope := rt.OpenScope()
	defer scope.Close()
	groups := m.Groups()
	held := make([]vm.Handle, len(groups))
	for i, g := range groups {
		if len(g.Captures) == 0 {
			held[i] = scope.Handle(vm.Undefined)
			continue
		}
		held[i] = scope.Handle(rt.NewString(g.String()))
	}
	items := make([]vm.Value, len(held))
	for i, h := range held {
		items[i] = h.Get()
	}
	arr := scope.Handle(rt.NewArray(items...))
	if err := rt.SetProperty(arr.Get(), "index", vm.IntValue(int32(m.Index))); err != nil {
		return vm.Undefined, err
	}
	in := rt.NewString(input)
	if err := rt.SetProperty(arr.Get(), "input", in); err != nil {
		return vm.Undefined, err
	}
	return arr.Get(), nil
}

func (lib *Library) replace(rt *vm.Runtime, args *vm.Args) (vm.Value, error) {
	input, err := stringArg(args, 0)
	if err != nil {
		return vm.Undefined, err
	}
	repl, err := stringArg(args, 1)
	if err != nil {
		return vm.Undefined, err
	}
	re, flags, err := lib.program(rt, args.This())
	if err != nil {
		return vm.Undefined, err
	}
	count := 1
	if strings.ContainsRune(flags, 'g') {
		count = -1
	}
	out, err := re.Replace(input, repl, -1, count)
	if err != nil {
		return vm.Undefined, rt.ThrowError(vm.KindError, "regular expression: %v", err)
	}
	return rt.NewString(out), nil
}

func (lib *Library) toString(rt *vm.Runtime, args *vm.Args) (vm.Value, error) {
	re, flags, err := lib.program(rt, args.This())
	if err != nil {
		return vm.Undefined, err
	}
	return rt.NewString("/" + re.String() + "/" + flags), nil
}
