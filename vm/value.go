package vm

import (
	"math"
)

// Value represents a script value using NaN-boxing.
//
// All values are 64-bit IEEE 754 doubles. Non-number values are encoded in
// the quiet NaN space using tag bits to distinguish types. Every NaN produced
// by arithmetic is canonicalised to the untagged quiet NaN, so a tagged bit
// pattern can never be confused with a double.
//
// Encoding scheme:
//   - Number:  native double, or a tagged int32 for integral values
//   - Pointer: quiet NaN + tagPointer + 32-bit heap reference
//   - Special: quiet NaN + tagSpecial + undefined/null/false/true/empty
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagPointer uint64 = 0x0001000000000000 // heap reference
	tagInt     uint64 = 0x0002000000000000 // int32
	tagSpecial uint64 = 0x0003000000000000 // undefined, null, booleans, empty

	boxMask = nanBits | tagMask
)

// Special value payloads
const (
	specialUndefined uint64 = 0
	specialNull      uint64 = 1
	specialFalse     uint64 = 2
	specialTrue      uint64 = 3
	specialEmpty     uint64 = 4
)

// Pre-defined special values
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	False     Value = Value(nanBits | tagSpecial | specialFalse)
	True      Value = Value(nanBits | tagSpecial | specialTrue)

	// Empty marks holes in element storage and uninitialised slots. It never
	// escapes to script.
	Empty Value = Value(nanBits | tagSpecial | specialEmpty)

	canonicalNaN Value = Value(nanBits)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsPointer reports whether v refers to a heap cell. It is a pure bit test.
func (v Value) IsPointer() bool {
	return uint64(v)&boxMask == nanBits|tagPointer
}

// IsSmallInt returns true if v is a tagged int32.
func (v Value) IsSmallInt() bool {
	return uint64(v)&boxMask == nanBits|tagInt
}

// IsDouble returns true if v is stored as a raw double.
func (v Value) IsDouble() bool {
	bits := uint64(v)
	if bits&nanBits != nanBits {
		return true
	}
	return bits&tagMask == 0
}

// IsNumber returns true for both number encodings.
func (v Value) IsNumber() bool {
	return v.IsDouble() || v.IsSmallInt()
}

func (v Value) isSpecial() bool {
	return uint64(v)&boxMask == nanBits|tagSpecial
}

func (v Value) IsUndefined() bool { return v == Undefined }
func (v Value) IsNull() bool      { return v == Null }
func (v Value) IsNullish() bool   { return v == Undefined || v == Null }
func (v Value) IsBool() bool      { return v == True || v == False }
func (v Value) IsEmpty() bool     { return v == Empty }

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// NumberValue boxes a float64. Integral values in int32 range are stored as
// small integers; -0 stays a double so it can be told apart from +0.
func NumberValue(f float64) Value {
	if f != f {
		return canonicalNaN
	}
	if f >= math.MinInt32 && f <= math.MaxInt32 {
		i := int32(f)
		if float64(i) == f && (i != 0 || !math.Signbit(f)) {
			return IntValue(i)
		}
	}
	return Value(math.Float64bits(f))
}

// IntValue boxes an int32.
func IntValue(i int32) Value {
	return Value(nanBits | tagInt | uint64(uint32(i)))
}

// BoolValue converts a Go bool.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// AsNumber returns the numeric value of v. It panics on non-numbers.
func (v Value) AsNumber() float64 {
	if v.IsSmallInt() {
		return float64(v.AsSmallInt())
	}
	if !v.IsDouble() {
		panic("Value.AsNumber: not a number")
	}
	return math.Float64frombits(uint64(v))
}

// AsSmallInt returns the int32 payload. It panics on other tags.
func (v Value) AsSmallInt() int32 {
	if !v.IsSmallInt() {
		panic("Value.AsSmallInt: not a small integer")
	}
	return int32(uint32(uint64(v) & payloadMask))
}

// AsBool returns the boolean payload. It panics on non-booleans.
func (v Value) AsBool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	}
	panic("Value.AsBool: not a boolean")
}

// AsRef returns the heap reference. It panics on non-pointers.
func (v Value) AsRef() Ref {
	if !v.IsPointer() {
		panic("Value.AsRef: not a heap reference")
	}
	return Ref(uint32(uint64(v) & payloadMask))
}

// RefValue boxes a heap reference.
func RefValue(r Ref) Value {
	return Value(nanBits | tagPointer | uint64(r))
}

// ---------------------------------------------------------------------------
// Equality on immediates
// ---------------------------------------------------------------------------

// sameNumber implements SameValue for two numbers: NaN equals NaN and
// +0 differs from -0.
func sameNumber(a, b float64) bool {
	if a != a && b != b {
		return true
	}
	if a == 0 && b == 0 {
		return math.Signbit(a) == math.Signbit(b)
	}
	return a == b
}

// sameNumberZero is SameValueZero: NaN equals NaN and the zeros are equal.
func sameNumberZero(a, b float64) bool {
	if a != a && b != b {
		return true
	}
	return a == b
}

// isIntegral reports whether f is a finite integral number.
func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && f == math.Trunc(f)
}
