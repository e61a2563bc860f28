package hostlib

import (
	"github.com/chazu/protovm/vm"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ---------------------------------------------------------------------------
// Text: case mapping
// ---------------------------------------------------------------------------

func (lib *Library) installText() error {
	mapper := func(caser func(language.Tag) cases.Caser) vm.NativeFunc {
		return func(rt *vm.Runtime, args *vm.Args) (vm.Value, error) {
			s, err := stringArg(args, 0)
			if err != nil {
				return vm.Undefined, err
			}
			tag := language.Und
			if args.Arg(1) != vm.Undefined {
				name, err := stringArg(args, 1)
				if err != nil {
					return vm.Undefined, err
				}
				if tag, err = language.Parse(name); err != nil {
					return vm.Undefined, rt.ThrowRangeError("Incorrect locale information provided: %s", name)
				}
			}
			c := caser(tag)
			return rt.NewString(c.String(s)), nil
		}
	}
	return lib.namespace("Text", []native{
		{"upper", 2, mapper(func(t language.Tag) cases.Caser { return cases.Upper(t) })},
		{"lower", 2, mapper(func(t language.Tag) cases.Caser { return cases.Lower(t) })},
		{"title", 2, mapper(func(t language.Tag) cases.Caser { return cases.Title(t) })},
		{"fold", 1, mapper(func(language.Tag) cases.Caser { return cases.Fold() })},
	})
}
