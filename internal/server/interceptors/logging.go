package interceptors

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nexabank-auth/backend/internal/logging"
)

// LoggingUnary returns a unary server interceptor that writes one access log line per RPC.
// skipMethods is the set of full method names not to log (e.g. health checks).
func LoggingUnary(log zerolog.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	log = logging.Component(log, "grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		ev := logging.Ctx(ctx, &log).Info()
		if code == codes.Internal || code == codes.Unknown {
			ev = logging.Ctx(ctx, &log).Error().Err(err)
		}
		if principalID, ok := GetPrincipalID(ctx); ok {
			ev = ev.Str("principal_id", principalID)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Str("client_ip", ClientIP(ctx)).
			Msg("grpc request")
		return resp, err
	}
}
