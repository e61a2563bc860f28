package vm

import (
	"math"
	"strconv"
	"strings"
)

// String is an immutable string cell.
type String struct {
	cellHeader
	s string
}

func (s *String) size() int                  { return stringBaseBytes + len(s.s) }
func (s *String) visitPointers(func(*Value)) {}

// NewString allocates a string value. May trigger GC.
func (rt *Runtime) NewString(s string) Value {
	if s == "" && rt.realm[rootEmptyString].IsPointer() {
		return rt.realm[rootEmptyString]
	}
	return RefValue(rt.heap.allocate(&String{cellHeader: cellHeader{kind: KindString}, s: s}))
}

// IsString reports whether v is a string cell.
func (rt *Runtime) IsString(v Value) bool {
	if !v.IsPointer() {
		return false
	}
	_, ok := rt.heap.cellOf(v).(*String)
	return ok
}

// stringOf returns the Go string of a string value and whether v was one.
func (rt *Runtime) stringOf(v Value) (string, bool) {
	if !v.IsPointer() {
		return "", false
	}
	if s, ok := rt.heap.cellOf(v).(*String); ok {
		return s.s, true
	}
	return "", false
}

// GoString returns the contents of a string value. It panics if v is not a
// string.
func (rt *Runtime) GoString(v Value) string {
	s, ok := rt.stringOf(v)
	if !ok {
		panic("Runtime.GoString: not a string")
	}
	return s
}

// formatNumber renders a number the way the language prints it.
func formatNumber(f float64) string {
	switch {
	case f != f:
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if isIntegral(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		// Go writes e+21 and e-07; the language writes e+21 and e-7.
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[0]
		digits := strings.TrimLeft(exp[1:], "0")
		return mant + "e" + string(sign) + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseNumber converts string contents to a number.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}
	// ParseFloat accepts forms such as "inf" and "0x1p4" that the language
	// does not.
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-') {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// arrayIndex parses a canonical array index: a decimal integer in
// [0, 2^32-2] without leading zeros.
func arrayIndex(key string) (uint32, bool) {
	n := len(key)
	if n == 0 || n > 10 {
		return 0, false
	}
	if key[0] == '0' {
		return 0, n == 1
	}
	var v uint64
	for i := 0; i < n; i++ {
		c := key[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	if v > math.MaxUint32-1 {
		return 0, false
	}
	return uint32(v), true
}
