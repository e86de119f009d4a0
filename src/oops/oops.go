// Package oops wraps errors with a message and the call stack at the point of
// wrapping. The stack is printed by the zerolog stack marshaler.
package oops

import (
	"fmt"

	"github.com/go-stack/stack"
	"github.com/rs/zerolog"
)

type Error struct {
	Message string
	Wrapped error
	Stack   CallStack
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

type CallStack []StackFrame

func (s CallStack) MarshalZerologArray(a *zerolog.Array) {
	for _, frame := range s {
		a.Object(frame)
	}
}

type StackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (f StackFrame) MarshalZerologObject(e *zerolog.Event) {
	e.
		Str("file", f.File).
		Int("line", f.Line).
		Str("function", f.Function)
}

// Returns the stack of the innermost oops.Error in the chain, so that a
// wrapped error logs where it was first created.
var ZerologStackMarshaler = func(err error) interface{} {
	var deepest *Error
	for err != nil {
		if asOops, ok := err.(*Error); ok {
			deepest = asOops
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if deepest != nil {
		return deepest.Stack
	}
	return nil
}

// Trace captures the current call stack, excluding this function.
func Trace() CallStack {
	return traceFrom(stack.Trace().TrimBelow(stack.Caller(1)).TrimRuntime())
}

func traceFrom(trace stack.CallStack) CallStack {
	frames := make(CallStack, len(trace))
	for i, call := range trace {
		callFrame := call.Frame()
		frames[i] = StackFrame{
			File:     callFrame.File,
			Line:     callFrame.Line,
			Function: callFrame.Function,
		}
	}
	return frames
}

func New(wrapped error, format string, args ...interface{}) error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Wrapped: wrapped,
		Stack:   traceFrom(stack.Trace().TrimBelow(stack.Caller(1)).TrimRuntime()),
	}
}
