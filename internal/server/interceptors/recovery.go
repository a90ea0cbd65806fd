package interceptors

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nexabank-auth/backend/internal/telemetry"
)

// RecoveryUnary turns a handler panic into codes.Internal, logs it with the stack and reports it.
func RecoveryUnary(log zerolog.Logger, reporter telemetry.Reporter) grpc.UnaryServerInterceptor {
	if reporter == nil {
		reporter = telemetry.NopReporter{}
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Str("method", info.FullMethod).Interface("panic", rec).
					Str("stack", string(debug.Stack())).Msg("panic recovered")
				reporter.Report(fmt.Errorf("panic in %s: %v", info.FullMethod, rec), map[string]string{"method": info.FullMethod})
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
