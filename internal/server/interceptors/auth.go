package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nexabank-auth/backend/internal/autherr"
	"nexabank-auth/backend/internal/identity/service"
)

// Authorizer validates an access token against the session registry.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (*service.Identity, error)
}

// AuthUnary returns a unary server interceptor that authorizes the Bearer access token of every
// RPC not listed in publicMethods and puts principal_id and session_id into the context.
// Public methods run without an identity, even when a token is present.
func AuthUnary(authz Authorizer, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := BearerToken(ctx)
		if token == "" || authz == nil {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		id, err := authz.Authorize(ctx, token)
		if err != nil {
			if autherr.KindOf(err) == autherr.KindStoreUnavailable {
				return nil, status.Error(codes.Unavailable, "service temporarily unavailable")
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		return handler(WithIdentity(ctx, id.PrincipalID, id.SessionID), req)
	}
}
