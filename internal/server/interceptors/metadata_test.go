package interceptors

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

func incoming(kv ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(kv...))
}

func TestClientIP(t *testing.T) {
	peerCtx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("192.168.1.3"), Port: 12345},
	})
	testCases := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"forwarded", incoming("x-forwarded-for", "192.168.1.1"), "192.168.1.1"},
		{"forwarded chain", incoming("x-forwarded-for", "192.168.1.1, 10.0.0.1"), "192.168.1.1"},
		{"real ip", incoming("x-real-ip", "192.168.1.2"), "192.168.1.2"},
		{"forwarded wins", incoming("x-forwarded-for", "192.168.1.1", "x-real-ip", "192.168.1.2"), "192.168.1.1"},
		{"whitespace", incoming("x-forwarded-for", "  192.168.1.1  "), "192.168.1.1"},
		{"peer", peerCtx, "192.168.1.3"},
		{"unknown", context.Background(), "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClientIP(tc.ctx); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	testCases := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"valid", incoming("authorization", "Bearer token123"), "token123"},
		{"case insensitive", incoming("authorization", "bearer token123"), "token123"},
		{"whitespace", incoming("authorization", "  Bearer   token123  "), "token123"},
		{"basic scheme", incoming("authorization", "Basic token123"), ""},
		{"missing", context.Background(), ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BearerToken(tc.ctx); got != tc.want {
				t.Errorf("BearerToken = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := GetPrincipalID(context.Background()); ok {
		t.Fatal("GetPrincipalID should return false on an empty context")
	}
	ctx := WithIdentity(context.Background(), "p-1", "s-1")
	if got, ok := GetPrincipalID(ctx); !ok || got != "p-1" {
		t.Errorf("principal_id = %q, %v", got, ok)
	}
	if got, ok := GetSessionID(ctx); !ok || got != "s-1" {
		t.Errorf("session_id = %q, %v", got, ok)
	}
	if got := UserAgent(incoming("user-agent", "nexabank-ios/4.2")); got != "nexabank-ios/4.2" {
		t.Errorf("UserAgent = %q", got)
	}
}
