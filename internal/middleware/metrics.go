// internal/middleware/metrics.go
package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/SyedDaiam9101/ignition/internal/metrics"
)

// UnaryMetricsInterceptor records the latency of every unary call by method
// and status code, and logs failed calls at verbosity 1.
func UnaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		// status.Code maps non-status errors to Unknown.
		code := status.Code(err)
		metrics.RecordGRPCLatency(info.FullMethod, code.String(), duration.Seconds())
		if err != nil {
			klog.FromContext(ctx).V(1).Info("Call failed",
				"method", info.FullMethod, "code", code.String(), "duration", duration)
		}

		return resp, err
	}
}
