// internal/handler/errors.go
package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
)

// grpcError maps engine error kinds to gRPC status errors
func grpcError(err error) error {
	if err == nil {
		return nil
	}

	switch errdefs.CodeOf(err) {
	case errdefs.CodePredict:
		return status.Errorf(codes.InvalidArgument, "%v", err)
	case errdefs.CodeResourceExhausted:
		return status.Errorf(codes.ResourceExhausted, "%v", err)
	case errdefs.CodeClosedEngine, errdefs.CodeEngineBusy:
		return status.Errorf(codes.Unavailable, "%v", err)
	case errdefs.CodeCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return status.Errorf(codes.DeadlineExceeded, "%v", err)
		}
		return status.Errorf(codes.Canceled, "%v", err)
	case errdefs.CodeNotFound:
		return status.Errorf(codes.NotFound, "%v", err)
	case errdefs.CodeCorruptPlan, errdefs.CodeVersion, errdefs.CodeSchema:
		return status.Errorf(codes.FailedPrecondition, "%v", err)
	case errdefs.CodeKernel:
		return status.Errorf(codes.Internal, "kernel failed: %v", err)
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// invalidArgumentError creates an InvalidArgument gRPC error
func invalidArgumentError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// failedPreconditionError creates a FailedPrecondition gRPC error
func failedPreconditionError(format string, args ...interface{}) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}
