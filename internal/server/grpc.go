package server

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	identityhandler "nexabank-auth/backend/internal/identity/handler"
	identityservice "nexabank-auth/backend/internal/identity/service"
	"nexabank-auth/backend/internal/server/interceptors"
	sessionhandler "nexabank-auth/backend/internal/session/handler"
	"nexabank-auth/backend/internal/telemetry"
)

// Deps holds the dependencies of the gRPC surface.
type Deps struct {
	// Auth is the auth service. If nil, auth RPCs return Unimplemented and protected RPCs are rejected.
	Auth *identityservice.AuthService
	// Health is published as the standard grpc.health.v1 service. If nil, health is not registered.
	Health *health.Server
	// Log receives access and panic logs.
	Log zerolog.Logger
	// Reporter receives recovered panics. If nil, panics are only logged.
	Reporter telemetry.Reporter
}

// PublicMethods are the RPCs reachable without a Bearer access token. Logout and Authorize take
// the token themselves so that a revoked token can still log out.
func PublicMethods() map[string]bool {
	return map[string]bool{
		identityhandler.LoginMethod:          true,
		identityhandler.RegisterMethod:       true,
		identityhandler.RefreshMethod:        true,
		identityhandler.LogoutMethod:         true,
		identityhandler.AuthorizeMethod:      true,
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
}

// NewServer returns a gRPC server with tracing, recovery, access logging and authorization
// installed, and every service registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	var authz interceptors.Authorizer
	if deps.Auth != nil {
		authz = deps.Auth
	}
	quiet := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(deps.Log, deps.Reporter),
			interceptors.LoggingUnary(deps.Log, quiet),
			interceptors.AuthUnary(authz, PublicMethods()),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the auth and session services and, when configured, the health service.
//
// Service → handler mapping:
//   - nexabank.auth.v1.AuthService    → internal/identity/handler
//   - nexabank.auth.v1.SessionService → internal/session/handler
//   - grpc.health.v1.Health           → google.golang.org/grpc/health (driven by internal/health/handler)
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	var auth identityhandler.Authenticator
	var sessions sessionhandler.SessionManager
	if deps.Auth != nil {
		auth = deps.Auth
		sessions = deps.Auth
	}
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(auth))
	sessionhandler.RegisterSessionServiceServer(s, sessionhandler.NewServer(sessions))
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}
