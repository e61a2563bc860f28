package vm

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Type queries
// ---------------------------------------------------------------------------

// TypeOf returns the typeof string of v.
func (rt *Runtime) TypeOf(v Value) string {
	switch {
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "object"
	case v.IsBool():
		return "boolean"
	case v.IsNumber():
		return "number"
	case rt.IsString(v):
		return "string"
	case rt.IsCallable(v):
		return "function"
	}
	return "object"
}

// typeName describes v in error messages.
func (rt *Runtime) typeName(v Value) string {
	switch {
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "null"
	}
	return rt.TypeOf(v)
}

// ToBoolean converts v without running script.
func (rt *Runtime) ToBoolean(v Value) bool {
	switch {
	case v.IsBool():
		return v == True
	case v.IsNullish(), v.IsEmpty():
		return false
	case v.IsSmallInt():
		return v.AsSmallInt() != 0
	case v.IsDouble():
		f := v.AsNumber()
		return f != 0 && f == f
	}
	if s, ok := rt.stringOf(v); ok {
		return s != ""
	}
	return true
}

// ---------------------------------------------------------------------------
// ToPrimitive / ToNumber / ToString
// ---------------------------------------------------------------------------

type primitiveHint uint8

const (
	hintDefault primitiveHint = iota
	hintNumber
	hintString
)

// toPrimitive converts objects by calling valueOf and toString, in the
// order the hint asks for. May run script and trigger GC.
func (rt *Runtime) toPrimitive(v Value, hint primitiveHint) (Value, error) {
	if !rt.IsObject(v) {
		return v, nil
	}
	order := [2]string{"valueOf", "toString"}
	if hint == hintString {
		order = [2]string{"toString", "valueOf"}
	}
	mark := rt.protect(v)
	defer rt.unprotect(mark)
	for _, name := range order {
		m, err := rt.getProperty(rt.handles[mark], keyFromString(name))
		if err != nil {
			return Undefined, err
		}
		if !rt.IsCallable(m) {
			continue
		}
		r, err := rt.callInternal(m, rt.handles[mark], nil)
		if err != nil {
			return Undefined, err
		}
		if !rt.IsObject(r) {
			return r, nil
		}
	}
	return Undefined, rt.throwTypeError("Cannot convert object to primitive value")
}

// toNumber converts v to a float. May run script and trigger GC.
func (rt *Runtime) toNumber(v Value) (float64, error) {
	switch {
	case v.IsNumber():
		return v.AsNumber(), nil
	case v.IsUndefined():
		return math.NaN(), nil
	case v.IsNull():
		return 0, nil
	case v.IsBool():
		if v == True {
			return 1, nil
		}
		return 0, nil
	}
	if s, ok := rt.stringOf(v); ok {
		return parseNumber(s), nil
	}
	p, err := rt.toPrimitive(v, hintNumber)
	if err != nil {
		return 0, err
	}
	return rt.toNumber(p)
}

// ToNumber converts v to a number as the unary plus operator does.
func (rt *Runtime) ToNumber(v Value) (float64, error) {
	f, err := rt.toNumber(v)
	return f, rt.publicError(err)
}

// toNumeric is toNumber returning a Value, keeping small integers as is.
func (rt *Runtime) toNumeric(v Value) (Value, error) {
	if v.IsNumber() {
		return v, nil
	}
	f, err := rt.toNumber(v)
	if err != nil {
		return Undefined, err
	}
	return NumberValue(f), nil
}

// toGoString converts v to a Go string. May run script and trigger GC.
func (rt *Runtime) toGoString(v Value) (string, error) {
	switch {
	case v.IsUndefined():
		return "undefined", nil
	case v.IsNull():
		return "null", nil
	case v == True:
		return "true", nil
	case v == False:
		return "false", nil
	case v.IsSmallInt():
		return formatNumber(float64(v.AsSmallInt())), nil
	case v.IsDouble():
		return formatNumber(v.AsNumber()), nil
	}
	if s, ok := rt.stringOf(v); ok {
		return s, nil
	}
	p, err := rt.toPrimitive(v, hintString)
	if err != nil {
		return "", err
	}
	return rt.toGoString(p)
}

// ToString converts v to a Go string as String(v) does.
func (rt *Runtime) ToString(v Value) (string, error) {
	s, err := rt.toGoString(v)
	return s, rt.publicError(err)
}

// toStringValue converts v to a string value. May trigger GC.
func (rt *Runtime) toStringValue(v Value) (Value, error) {
	if rt.IsString(v) {
		return v, nil
	}
	s, err := rt.toGoString(v)
	if err != nil {
		return Undefined, err
	}
	return rt.NewString(s), nil
}

func toInt32(f float64) int32 {
	if f != f || math.IsInf(f, 0) {
		return 0
	}
	return int32(uint32(int64(math.Mod(math.Trunc(f), 4294967296))))
}

func toUint32(f float64) uint32 {
	return uint32(toInt32(f))
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// StrictEquals implements ===.
func (rt *Runtime) StrictEquals(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.AsNumber() == b.AsNumber()
	}
	if a == b {
		return true
	}
	sa, ok := rt.stringOf(a)
	if !ok {
		return false
	}
	sb, ok := rt.stringOf(b)
	return ok && sa == sb
}

// SameValue is StrictEquals except that NaN equals itself and +0 differs
// from -0.
func (rt *Runtime) SameValue(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return sameNumber(a.AsNumber(), b.AsNumber())
	}
	return rt.StrictEquals(a, b)
}

// SameValueZero is SameValue except that +0 equals -0.
func (rt *Runtime) SameValueZero(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return sameNumberZero(a.AsNumber(), b.AsNumber())
	}
	return rt.StrictEquals(a, b)
}

// looseEquals implements ==. May run script and trigger GC.
func (rt *Runtime) looseEquals(a, b Value) (bool, error) {
	for {
		switch {
		case a.IsNumber() && b.IsNumber():
			return a.AsNumber() == b.AsNumber(), nil
		case a.IsNullish() || b.IsNullish():
			return a.IsNullish() && b.IsNullish(), nil
		}
		aStr, bStr := rt.IsString(a), rt.IsString(b)
		aObj, bObj := rt.IsObject(a), rt.IsObject(b)
		switch {
		case aStr && bStr, aObj && bObj:
			return rt.StrictEquals(a, b), nil
		case a.IsBool():
			a = IntValue(boolInt(a))
		case b.IsBool():
			b = IntValue(boolInt(b))
		case a.IsNumber() && bStr:
			b = NumberValue(parseNumber(rt.GoString(b)))
		case aStr && b.IsNumber():
			a = NumberValue(parseNumber(rt.GoString(a)))
		case aObj:
			mark := rt.protect(b)
			p, err := rt.toPrimitive(a, hintDefault)
			b = rt.handles[mark]
			rt.unprotect(mark)
			if err != nil {
				return false, err
			}
			a = p
		case bObj:
			mark := rt.protect(a)
			p, err := rt.toPrimitive(b, hintDefault)
			a = rt.handles[mark]
			rt.unprotect(mark)
			if err != nil {
				return false, err
			}
			b = p
		default:
			return false, nil
		}
	}
}

// LooseEquals implements ==.
func (rt *Runtime) LooseEquals(a, b Value) (bool, error) {
	eq, err := rt.looseEquals(a, b)
	return eq, rt.publicError(err)
}

func boolInt(v Value) int32 {
	if v == True {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// add implements +. May run script and trigger GC.
func (rt *Runtime) add(a, b Value) (Value, error) {
	if a.IsSmallInt() && b.IsSmallInt() {
		return NumberValue(float64(a.AsSmallInt()) + float64(b.AsSmallInt())), nil
	}
	if a.IsNumber() && b.IsNumber() {
		return NumberValue(a.AsNumber() + b.AsNumber()), nil
	}
	mark := rt.protect(b)
	pa, err := rt.toPrimitive(a, hintDefault)
	if err != nil {
		rt.unprotect(mark)
		return Undefined, err
	}
	rt.protect(pa)
	pb, err := rt.toPrimitive(rt.handles[mark], hintDefault)
	pa = rt.handles[mark+1]
	rt.unprotect(mark)
	if err != nil {
		return Undefined, err
	}
	if rt.IsString(pa) || rt.IsString(pb) {
		sa, _ := rt.toGoString(pa)
		sb, _ := rt.toGoString(pb)
		return rt.NewString(sa + sb), nil
	}
	fa, _ := rt.toNumber(pa)
	fb, _ := rt.toNumber(pb)
	return NumberValue(fa + fb), nil
}

// numericOperands converts both operands to numbers, left first.
func (rt *Runtime) numericOperands(a, b Value) (float64, float64, error) {
	if a.IsNumber() && b.IsNumber() {
		return a.AsNumber(), b.AsNumber(), nil
	}
	mark := rt.protect(b)
	fa, err := rt.toNumber(a)
	b = rt.handles[mark]
	rt.unprotect(mark)
	if err != nil {
		return 0, 0, err
	}
	fb, err := rt.toNumber(b)
	return fa, fb, err
}

// arithmetic implements the numeric binary operators other than +.
func (rt *Runtime) arithmetic(op Opcode, a, b Value) (Value, error) {
	if a.IsSmallInt() && b.IsSmallInt() {
		x, y := int64(a.AsSmallInt()), int64(b.AsSmallInt())
		switch op {
		case OpSub:
			return NumberValue(float64(x - y)), nil
		case OpMul:
			if x != 0 && y != 0 {
				return NumberValue(float64(x * y)), nil
			}
		case OpBitAnd:
			return IntValue(int32(x & y)), nil
		case OpBitOr:
			return IntValue(int32(x | y)), nil
		case OpBitXor:
			return IntValue(int32(x ^ y)), nil
		}
	}
	fa, fb, err := rt.numericOperands(a, b)
	if err != nil {
		return Undefined, err
	}
	switch op {
	case OpSub:
		return NumberValue(fa - fb), nil
	case OpMul:
		return NumberValue(fa * fb), nil
	case OpDiv:
		return NumberValue(fa / fb), nil
	case OpMod:
		return NumberValue(math.Mod(fa, fb)), nil
	case OpBitAnd:
		return IntValue(toInt32(fa) & toInt32(fb)), nil
	case OpBitOr:
		return IntValue(toInt32(fa) | toInt32(fb)), nil
	case OpBitXor:
		return IntValue(toInt32(fa) ^ toInt32(fb)), nil
	case OpShl:
		return IntValue(toInt32(fa) << (toUint32(fb) & 31)), nil
	case OpShr:
		return IntValue(toInt32(fa) >> (toUint32(fb) & 31)), nil
	case OpUShr:
		return NumberValue(float64(toUint32(fa) >> (toUint32(fb) & 31))), nil
	}
	panic(invariantf("arithmetic on %s", op))
}

// compare implements the relational operators. Strings compare by code
// point when both sides are strings after conversion.
func (rt *Runtime) compare(op Opcode, a, b Value) (bool, error) {
	if a.IsNumber() && b.IsNumber() {
		return compareNumbers(op, a.AsNumber(), b.AsNumber()), nil
	}
	mark := rt.protect(b)
	pa, err := rt.toPrimitive(a, hintNumber)
	if err != nil {
		rt.unprotect(mark)
		return false, err
	}
	rt.protect(pa)
	pb, err := rt.toPrimitive(rt.handles[mark], hintNumber)
	pa = rt.handles[mark+1]
	rt.unprotect(mark)
	if err != nil {
		return false, err
	}
	sa, aStr := rt.stringOf(pa)
	sb, bStr := rt.stringOf(pb)
	if aStr && bStr {
		c := strings.Compare(sa, sb)
		switch op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		}
		return c >= 0, nil
	}
	fa, _ := rt.toNumber(pa)
	fb, _ := rt.toNumber(pb)
	return compareNumbers(op, fa, fb), nil
}

func compareNumbers(op Opcode, a, b float64) bool {
	switch op {
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	}
	return a >= b
}
