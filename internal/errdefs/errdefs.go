// Package errdefs defines the error taxonomy shared by the plan loader, the
// buffer pool, the executor and the engine facade.
//
// Every error returned across a package boundary matches exactly one kind
// sentinel with errors.Is. Load-time kinds additionally match ErrLoad.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLoad is matched by every load-time failure.
	ErrLoad = errors.New("load failed")

	ErrNotFound    = errors.New("plan not found")
	ErrCorruptPlan = errors.New("corrupt plan")
	ErrVersion     = errors.New("unsupported plan version")
	ErrSchema      = errors.New("invalid plan schema")

	ErrResourceExhausted = errors.New("resource exhausted")
	ErrKernel            = errors.New("kernel failed")
	ErrPredict           = errors.New("invalid predict input")
	ErrClosedEngine      = errors.New("engine is closed")
	ErrEngineBusy        = errors.New("engine has calls in flight")
)

// IsLoadKind reports whether kind is one of the load-time sentinels.
func IsLoadKind(kind error) bool {
	switch kind {
	case ErrNotFound, ErrCorruptPlan, ErrVersion, ErrSchema:
		return true
	}
	return false
}

// Error is an error of a given kind with the context needed to act on it.
type Error struct {
	// Kind is one of the package sentinels.
	Kind error
	// Op names the component or operator that failed, e.g. "plan.Load" or a node name.
	Op string
	// Msg describes the failure, including expected vs actual values where relevant.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the error kind, and ErrLoad for load-time kinds.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return target == ErrLoad && IsLoadKind(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind.
func New(kind error, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping cause.
func Wrap(kind error, op string, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// NotFound, CorruptPlan, VersionMismatch and Schema build load-time errors.
func NotFound(op, format string, args ...interface{}) *Error {
	return New(ErrNotFound, op, format, args...)
}

func CorruptPlan(op, format string, args ...interface{}) *Error {
	return New(ErrCorruptPlan, op, format, args...)
}

func VersionMismatch(op, format string, args ...interface{}) *Error {
	return New(ErrVersion, op, format, args...)
}

func Schema(op, format string, args ...interface{}) *Error {
	return New(ErrSchema, op, format, args...)
}

// Predict builds an input validation error.
func Predict(op, format string, args ...interface{}) *Error {
	return New(ErrPredict, op, format, args...)
}

// ResourceExhausted builds a pool ceiling error.
func ResourceExhausted(op, format string, args ...interface{}) *Error {
	return New(ErrResourceExhausted, op, format, args...)
}

// KernelError reports a failed operator dispatch. It matches ErrKernel and
// unwraps to its cause, so context cancellation observed by a kernel is still
// visible with errors.Is(err, context.Canceled).
type KernelError struct {
	Op     string
	OpType string
	Cause  error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel %s (%s) failed: %v", e.Op, e.OpType, e.Cause)
}

func (e *KernelError) Is(target error) bool { return target == ErrKernel }

func (e *KernelError) Unwrap() error { return e.Cause }
