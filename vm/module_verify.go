package vm

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// MaxFrameSize is the largest register window a function may declare.
const MaxFrameSize = 256

// VerifyModule checks that m is safe to execute: every operand is in
// range, every jump lands on an instruction boundary, every handler range
// is well formed and every function ends in a terminating instruction.
// All problems found are reported together.
func VerifyModule(m *Module) error {
	var result *multierror.Error
	if m == nil {
		return fmt.Errorf("nil module")
	}
	if m.Entry < 0 || m.Entry >= len(m.Functions) {
		result = multierror.Append(result, fmt.Errorf("entry function %d out of range (%d functions)", m.Entry, len(m.Functions)))
	}
	for ti, t := range m.Templates {
		seen := make(map[string]bool, len(t.Keys))
		for _, k := range t.Keys {
			if k < 0 || k >= len(m.Strings) {
				result = multierror.Append(result, fmt.Errorf("template %d: key string %d out of range", ti, k))
				continue
			}
			key := m.Strings[k]
			if _, isIndex := arrayIndex(key); isIndex {
				result = multierror.Append(result, fmt.Errorf("template %d: index key %q", ti, key))
			}
			if seen[key] {
				result = multierror.Append(result, fmt.Errorf("template %d: duplicate key %q", ti, key))
			}
			seen[key] = true
		}
	}
	for fi, f := range m.Functions {
		if f == nil {
			result = multierror.Append(result, fmt.Errorf("function %d: missing", fi))
			continue
		}
		for _, err := range verifyFunction(m, f) {
			result = multierror.Append(result, fmt.Errorf("function %d (%s): %w", fi, f.Name, err))
		}
	}
	return result.ErrorOrNil()
}

func verifyFunction(m *Module, f *FunctionInfo) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if f.FrameSize < 0 || f.FrameSize > MaxFrameSize {
		fail("frame size %d out of range", f.FrameSize)
		return errs
	}
	if f.ParamCount < 0 || f.ParamCount > f.FrameSize {
		fail("param count %d exceeds frame size %d", f.ParamCount, f.FrameSize)
	}
	if len(f.Code) == 0 {
		fail("empty code")
		return errs
	}

	starts := make(map[int]bool)
	var jumps []Instruction
	var last Opcode
	r := NewBytecodeReader(f.Code)
	for r.HasMore() {
		in, err := r.Next()
		if err != nil {
			errs = append(errs, err)
			return errs
		}
		starts[in.Offset] = true
		last = in.Op
		for i, k := range in.Op.Info().Operands {
			v := in.Operands[i]
			switch k {
			case OperandReg:
				if v >= f.FrameSize {
					fail("offset %d: %s register r%d outside frame of %d", in.Offset, in.Op, v, f.FrameSize)
				}
			case OperandString:
				if v >= len(m.Strings) {
					fail("offset %d: %s string %d out of range", in.Offset, in.Op, v)
				}
			case OperandFunction:
				if v >= len(m.Functions) {
					fail("offset %d: %s function %d out of range", in.Offset, in.Op, v)
				}
			case OperandTemplate:
				if v >= len(m.Templates) {
					fail("offset %d: %s template %d out of range", in.Offset, in.Op, v)
				}
			case OperandCache:
				if v >= f.CacheCount {
					fail("offset %d: %s cache %d out of range (%d caches)", in.Offset, in.Op, v, f.CacheCount)
				}
			case OperandJump:
				jumps = append(jumps, in)
			}
		}
		switch in.Op {
		case OpCall:
			if in.Operands[3]+in.Operands[4] > f.FrameSize {
				fail("offset %d: Call arguments exceed frame", in.Offset)
			}
		case OpConstruct:
			if in.Operands[2]+in.Operands[3] > f.FrameSize {
				fail("offset %d: Construct arguments exceed frame", in.Offset)
			}
		case OpNewArray:
			if in.Operands[1]+in.Operands[2] > f.FrameSize {
				fail("offset %d: NewArray elements exceed frame", in.Offset)
			}
		case OpNewObjectFromTemplate:
			if t := in.Operands[1]; t < len(m.Templates) && in.Operands[2]+len(m.Templates[t].Keys) > f.FrameSize {
				fail("offset %d: template values exceed frame", in.Offset)
			}
		case OpYield, OpResumeGenerator:
			if !f.Generator {
				fail("offset %d: %s outside a generator", in.Offset, in.Op)
			}
		}
	}
	for _, in := range jumps {
		target := in.Offset + in.Operands[len(in.Operands)-1]
		if !starts[target] {
			fail("offset %d: %s target %d is not an instruction boundary", in.Offset, in.Op, target)
		}
	}
	switch last {
	case OpRet, OpJmp, OpThrow:
	default:
		fail("code ends with %s instead of a terminator", last)
	}
	for i, h := range f.Handlers {
		if h.Start < 0 || h.Start >= h.End || h.End > len(f.Code) {
			fail("handler %d: bad range [%d, %d)", i, h.Start, h.End)
			continue
		}
		if !starts[h.Start] || !starts[h.Target] {
			fail("handler %d: start or target off an instruction boundary", i)
		}
		if h.End < len(f.Code) && !starts[h.End] {
			fail("handler %d: end off an instruction boundary", i)
		}
	}
	return errs
}
