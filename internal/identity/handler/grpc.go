package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"nexabank-auth/backend/internal/autherr"
	"nexabank-auth/backend/internal/identity/service"
	"nexabank-auth/backend/internal/server/interceptors"
	sessiondomain "nexabank-auth/backend/internal/session/domain"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nexabank.auth.v1.AuthService"

// Full method names, as seen by interceptors.
const (
	LoginMethod     = "/" + ServiceName + "/Login"
	RegisterMethod  = "/" + ServiceName + "/Register"
	RefreshMethod   = "/" + ServiceName + "/Refresh"
	LogoutMethod    = "/" + ServiceName + "/Logout"
	LogoutAllMethod = "/" + ServiceName + "/LogoutAll"
	AuthorizeMethod = "/" + ServiceName + "/Authorize"
)

// RetryAfterTrailer carries the remaining lock time in seconds on ResourceExhausted.
const RetryAfterTrailer = "retry-after-seconds"

// AuthServiceServer is the server API for nexabank.auth.v1.AuthService. Requests and responses are
// google.protobuf.Struct documents.
type AuthServiceServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LogoutAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(AuthServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, fn call) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(AuthServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(AuthServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AuthServiceDesc is the grpc.ServiceDesc for nexabank.auth.v1.AuthService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unary(LoginMethod, AuthServiceServer.Login)},
		{MethodName: "Register", Handler: unary(RegisterMethod, AuthServiceServer.Register)},
		{MethodName: "Refresh", Handler: unary(RefreshMethod, AuthServiceServer.Refresh)},
		{MethodName: "Logout", Handler: unary(LogoutMethod, AuthServiceServer.Logout)},
		{MethodName: "LogoutAll", Handler: unary(LogoutAllMethod, AuthServiceServer.LogoutAll)},
		{MethodName: "Authorize", Handler: unary(AuthorizeMethod, AuthServiceServer.Authorize)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nexabank/auth/v1/auth.proto",
}

// RegisterAuthServiceServer registers srv with s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// Authenticator is the auth service the handler delegates to.
type Authenticator interface {
	Login(ctx context.Context, req service.LoginRequest) (*service.AuthResult, error)
	Register(ctx context.Context, req service.RegisterRequest) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
	LogoutAll(ctx context.Context, principalID string) (int64, error)
	Authorize(ctx context.Context, accessToken string) (*service.Identity, error)
}

// AuthServer implements AuthServiceServer on top of the auth service.
type AuthServer struct {
	auth Authenticator
}

// NewAuthServer returns a new Auth gRPC server. If auth is nil, every RPC returns Unimplemented.
func NewAuthServer(auth Authenticator) *AuthServer {
	return &AuthServer{auth: auth}
}

var errNotConfigured = status.Error(codes.Unimplemented, "auth service not configured")

// Login expects {handle, secret, remember_me?, device_info?}.
func (s *AuthServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	res, err := s.auth.Login(ctx, service.LoginRequest{
		Handle:     stringField(req, "handle"),
		Secret:     stringField(req, "secret"),
		RememberMe: req.GetFields()["remember_me"].GetBoolValue(),
		Metadata:   requestMetadata(ctx, req),
	})
	if err != nil {
		return nil, ToStatus(ctx, err)
	}
	return authResult(res)
}

// Register expects {handle, secret, profile?: {string: string}, device_info?}.
func (s *AuthServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	profile := make(map[string]string)
	for k, v := range req.GetFields()["profile"].GetStructValue().GetFields() {
		if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			profile[k] = sv.StringValue
		}
	}
	res, err := s.auth.Register(ctx, service.RegisterRequest{
		Handle:   stringField(req, "handle"),
		Secret:   stringField(req, "secret"),
		Profile:  profile,
		Metadata: requestMetadata(ctx, req),
	})
	if err != nil {
		return nil, ToStatus(ctx, err)
	}
	return authResult(res)
}

// Refresh expects {refresh_token}.
func (s *AuthServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	res, err := s.auth.Refresh(ctx, stringField(req, "refresh_token"))
	if err != nil {
		return nil, ToStatus(ctx, err)
	}
	return authResult(res)
}

// Logout revokes the session of {access_token}, or of the Bearer token when the field is absent.
// It succeeds for any token.
func (s *AuthServer) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.Logout(ctx, accessToken(ctx, req)); err != nil {
		return nil, ToStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]interface{}{"ok": true})
}

// LogoutAll revokes every session of the authenticated principal and returns {revoked}.
func (s *AuthServer) LogoutAll(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	principalID, ok := interceptors.GetPrincipalID(ctx)
	if !ok || principalID == "" {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	n, err := s.auth.LogoutAll(ctx, principalID)
	if err != nil {
		return nil, ToStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]interface{}{"revoked": float64(n)})
}

// Authorize validates {access_token} (or the Bearer token) and returns the identity it carries.
func (s *AuthServer) Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	id, err := s.auth.Authorize(ctx, accessToken(ctx, req))
	if err != nil {
		return nil, ToStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"principal_id": id.PrincipalID,
		"session_id":   id.SessionID,
		"token_id":     id.TokenID,
		"expires_at":   id.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// ToStatus maps an auth error to a gRPC status. Locked accounts also get the retry-after trailer.
func ToStatus(ctx context.Context, err error) error {
	var ae *autherr.Error
	if !errors.As(err, &ae) {
		ae = autherr.New(autherr.KindOf(err), err)
	}
	switch ae.Kind {
	case autherr.KindInvalidCredentials, autherr.KindTokenMalformed, autherr.KindTokenExpired,
		autherr.KindSessionNotFound, autherr.KindSessionInactive:
		return status.Error(codes.Unauthenticated, ae.Public())
	case autherr.KindAccountLocked:
		_ = grpc.SetTrailer(ctx, metadata.Pairs(RetryAfterTrailer, strconv.FormatInt(ae.RemainingSeconds, 10)))
		return status.Error(codes.ResourceExhausted, ae.Public())
	case autherr.KindAccountNotActive:
		return status.Error(codes.PermissionDenied, ae.Public())
	case autherr.KindStoreUnavailable:
		return status.Error(codes.Unavailable, ae.Public())
	case autherr.KindHandleTaken:
		return status.Error(codes.AlreadyExists, ae.Public())
	case autherr.KindInvalidRequest:
		return status.Error(codes.InvalidArgument, ae.Public())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func authResult(res *service.AuthResult) (*structpb.Struct, error) {
	roles := make([]interface{}, 0, len(res.Principal.Roles))
	for _, r := range res.Principal.Roles {
		roles = append(roles, r)
	}
	principal := map[string]interface{}{
		"id":     res.Principal.ID,
		"handle": res.Principal.Handle,
		"status": string(res.Principal.Status),
		"roles":  roles,
	}
	if res.Principal.LastLoginAt != nil {
		principal["last_login_at"] = res.Principal.LastLoginAt.UTC().Format(time.RFC3339)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"access_token":       res.AccessToken,
		"refresh_token":      res.RefreshToken,
		"access_expires_at":  res.AccessExpiresAt.UTC().Format(time.RFC3339),
		"refresh_expires_at": res.RefreshExpiresAt.UTC().Format(time.RFC3339),
		"session_id":         res.SessionID,
		"principal":          principal,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func accessToken(ctx context.Context, req *structpb.Struct) string {
	if t := stringField(req, "access_token"); t != "" {
		return t
	}
	return interceptors.BearerToken(ctx)
}

func requestMetadata(ctx context.Context, req *structpb.Struct) sessiondomain.Metadata {
	return sessiondomain.Metadata{
		IPAddress:  interceptors.ClientIP(ctx),
		UserAgent:  interceptors.UserAgent(ctx),
		DeviceInfo: stringField(req, "device_info"),
	}
}
