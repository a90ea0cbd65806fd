package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"nexabank-auth/backend/internal/autherr"
	identityhandler "nexabank-auth/backend/internal/identity/handler"
	"nexabank-auth/backend/internal/identity/service"
	"nexabank-auth/backend/internal/server/interceptors"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nexabank.auth.v1.SessionService"

const (
	ListSessionsMethod  = "/" + ServiceName + "/ListSessions"
	RevokeSessionMethod = "/" + ServiceName + "/RevokeSession"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// SessionServiceServer is the server API for nexabank.auth.v1.SessionService.
type SessionServiceServer interface {
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unary(fullMethod string, fn func(SessionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(SessionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(SessionServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SessionServiceDesc is the grpc.ServiceDesc for nexabank.auth.v1.SessionService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSessions", Handler: unary(ListSessionsMethod, SessionServiceServer.ListSessions)},
		{MethodName: "RevokeSession", Handler: unary(RevokeSessionMethod, SessionServiceServer.RevokeSession)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nexabank/auth/v1/session.proto",
}

// RegisterSessionServiceServer registers srv with s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

// SessionManager lists and revokes a principal's own sessions.
type SessionManager interface {
	ListSessions(ctx context.Context, principalID string) ([]service.SessionInfo, error)
	RevokeSession(ctx context.Context, principalID, sessionID string) error
}

// Server implements SessionService for the authenticated principal's sessions.
// Proto: nexabank/auth/v1/session.proto → internal/session/handler.
type Server struct {
	sessions SessionManager
}

// NewServer returns a new Session gRPC server. If sessions is nil, all RPCs return Unimplemented.
func NewServer(sessions SessionManager) *Server {
	return &Server{sessions: sessions}
}

// ListSessions returns {sessions: [...], next_page_token} for the caller. The caller's own session
// is flagged current. Expects {page_size?, page_token?}.
func (s *Server) ListSessions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.sessions == nil {
		return nil, status.Error(codes.Unimplemented, "method ListSessions not implemented")
	}
	principalID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.sessions.ListSessions(ctx, principalID)
	if err != nil {
		return nil, identityhandler.ToStatus(ctx, err)
	}

	pageSize := defaultPageSize
	if ps := int(req.GetFields()["page_size"].GetNumberValue()); ps > 0 {
		pageSize = ps
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := 0
	if tok := req.GetFields()["page_token"].GetStringValue(); tok != "" {
		if n, err := strconv.Atoi(tok); err == nil && n >= 0 {
			offset = n
		}
	}
	if offset > len(list) {
		offset = len(list)
	}
	end := offset + pageSize
	if end > len(list) {
		end = len(list)
	}

	current, _ := interceptors.GetSessionID(ctx)
	sessions := make([]interface{}, 0, end-offset)
	for _, si := range list[offset:end] {
		sessions = append(sessions, sessionToMap(si, si.ID == current))
	}
	nextToken := ""
	if end < len(list) {
		nextToken = strconv.Itoa(end)
	}
	return structpb.NewStruct(map[string]interface{}{
		"sessions":        sessions,
		"next_page_token": nextToken,
	})
}

// RevokeSession signs out one of the caller's sessions. Expects {session_id}.
func (s *Server) RevokeSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.sessions == nil {
		return nil, status.Error(codes.Unimplemented, "method RevokeSession not implemented")
	}
	principalID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	sessionID := req.GetFields()["session_id"].GetStringValue()
	if sessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id required")
	}
	if err := s.sessions.RevokeSession(ctx, principalID, sessionID); err != nil {
		if errors.Is(err, autherr.ErrSessionNotFound) {
			return nil, status.Error(codes.NotFound, "session not found")
		}
		return nil, identityhandler.ToStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]interface{}{"ok": true})
}

func caller(ctx context.Context) (string, error) {
	principalID, ok := interceptors.GetPrincipalID(ctx)
	if !ok || principalID == "" {
		return "", status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return principalID, nil
}

func sessionToMap(si service.SessionInfo, current bool) map[string]interface{} {
	m := map[string]interface{}{
		"id":                 si.ID,
		"created_at":         si.CreatedAt.UTC().Format(time.RFC3339),
		"access_expires_at":  si.AccessExpiresAt.UTC().Format(time.RFC3339),
		"refresh_expires_at": si.RefreshExpiresAt.UTC().Format(time.RFC3339),
		"ip_address":         si.Metadata.IPAddress,
		"user_agent":         si.Metadata.UserAgent,
		"device_info":        si.Metadata.DeviceInfo,
		"current":            current,
	}
	if si.LastAccessedAt != nil {
		m["last_accessed_at"] = si.LastAccessedAt.UTC().Format(time.RFC3339)
	}
	return m
}
