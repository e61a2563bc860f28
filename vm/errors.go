package vm

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel causes for resource exhaustion.
var (
	ErrOutOfMemory   = errors.New("out of memory")
	ErrStackOverflow = errors.New("maximum call stack size exceeded")
	ErrInterrupted   = errors.New("execution interrupted")
)

// ResourceError reports exhaustion that escaped to the host: the heap
// ceiling was reached, the call stack overflowed, or execution was
// interrupted outside of any script frame able to catch it.
type ResourceError struct {
	Err    error
	Detail string
}

func (e *ResourceError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ResourceError) Unwrap() error { return e.Err }

// InvariantError signals heap or shape graph corruption. It is raised with
// panic and never recovered by the VM.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "vm invariant violated: " + e.Msg }

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}

// StackFrame is one entry of a captured call stack.
type StackFrame struct {
	Function string
	Offset   int
	Line     int
	Column   int
}

func (f StackFrame) String() string {
	name := f.Function
	if name == "" {
		name = "<anonymous>"
	}
	if f.Line > 0 {
		return fmt.Sprintf("at %s (%d:%d)", name, f.Line, f.Column)
	}
	return fmt.Sprintf("at %s (+%d)", name, f.Offset)
}

// ScriptError carries a script exception across the host boundary. The
// thrown value stays pinned until Release is called.
type ScriptError struct {
	Name    string
	Message string
	Stack   []StackFrame

	value *Pinned
}

func (e *ScriptError) Error() string {
	switch {
	case e.Name == "":
		return e.Message
	case e.Message == "":
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Value returns the thrown value, or Undefined once released.
func (e *ScriptError) Value() Value {
	if e.value == nil {
		return Undefined
	}
	return e.value.Get()
}

// Release unpins the thrown value.
func (e *ScriptError) Release() {
	if e.value != nil {
		e.value.Release()
		e.value = nil
	}
}

// StackTrace formats the stack captured at throw time.
func (e *ScriptError) StackTrace() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	for _, f := range e.Stack {
		sb.WriteString("\n    ")
		sb.WriteString(f.String())
	}
	return sb.String()
}
