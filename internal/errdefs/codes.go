package errdefs

import (
	"context"
	"errors"
)

// Code is the stable integer form of an error kind, used by the C surface.
type Code int32

const (
	CodeOK Code = iota
	CodeNotFound
	CodeCorruptPlan
	CodeVersion
	CodeSchema
	CodeResourceExhausted
	CodeKernel
	CodePredict
	CodeClosedEngine
	CodeEngineBusy
	CodeCanceled
	CodeInvalidArgument
	CodeInternal
)

var codeNames = map[Code]string{
	CodeOK:                "OK",
	CodeNotFound:          "NotFound",
	CodeCorruptPlan:       "CorruptPlan",
	CodeVersion:           "Version",
	CodeSchema:            "Schema",
	CodeResourceExhausted: "ResourceExhausted",
	CodeKernel:            "Kernel",
	CodePredict:           "Predict",
	CodeClosedEngine:      "ClosedEngine",
	CodeEngineBusy:        "EngineBusy",
	CodeCanceled:          "Canceled",
	CodeInvalidArgument:   "InvalidArgument",
	CodeInternal:          "Internal",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "Unknown"
}

// CodeOf classifies err. Kernel errors caused by cancellation report
// CodeCanceled, since the kernel itself did not fail.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrCorruptPlan):
		return CodeCorruptPlan
	case errors.Is(err, ErrVersion):
		return CodeVersion
	case errors.Is(err, ErrSchema):
		return CodeSchema
	case errors.Is(err, ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, ErrKernel):
		return CodeKernel
	case errors.Is(err, ErrPredict):
		return CodePredict
	case errors.Is(err, ErrClosedEngine):
		return CodeClosedEngine
	case errors.Is(err, ErrEngineBusy):
		return CodeEngineBusy
	}
	return CodeInternal
}
