package grpc

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/stores/memory"
)

func newSessions(t *testing.T) (*sp.SessionManager, *sp.Account) {
	t.Helper()
	accounts := memory.NewAccountStore()
	acct, err := accounts.CreateLocalAccount(context.Background(), "alice", "$2a$04$unused")
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return sp.NewSessionManager(memory.NewSessionStore(), accounts, sp.DefaultSessionPolicy()), acct
}

func bearerContext(token string) context.Context {
	md := metadata.Pairs(DefaultMetadataKeyAuthorization, "Bearer "+token)
	return metadata.NewIncomingContext(context.Background(), md)
}

func expectCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != want {
		t.Errorf("expected %v code, got %v", want, st.Code())
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig(nil, "/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method1 and Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
}

func TestOptionalAuthConfig(t *testing.T) {
	if OptionalAuthConfig(nil).RequireAuth {
		t.Error("expected RequireAuth to be false")
	}
}

func TestUnaryAuthInterceptor_NoToken(t *testing.T) {
	sessions, _ := newSessions(t)
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(sessions))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_ValidSession(t *testing.T) {
	sessions, acct := newSessions(t)
	session, err := sessions.Start(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(sessions))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	var seen *sp.Account
	_, err = interceptor(bearerContext(session.Token), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = AccountFromContext(ctx)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || seen.ID != acct.ID {
		t.Errorf("expected handler to see account %q, got %+v", acct.ID, seen)
	}
}

func TestUnaryAuthInterceptor_RevokedSession(t *testing.T) {
	sessions, acct := newSessions(t)
	session, _ := sessions.Start(context.Background(), acct.ID)
	if err := sessions.Revoke(context.Background(), session.Token); err != nil {
		t.Fatalf("failed to revoke: %v", err)
	}

	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(sessions))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(bearerContext(session.Token), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	sessions, _ := newSessions(t)
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig(sessions, "/pkg.Svc/Public"))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Public"}

	handlerCalled := false
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		if IsAuthenticated(ctx) {
			t.Error("expected no account on anonymous call")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Error("expected handler to be called")
	}
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	sessions, _ := newSessions(t)
	interceptor := UnaryAuthInterceptor(OptionalAuthConfig(sessions))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	handlerCalled := false
	_, err := interceptor(bearerContext("unknown-token"), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Error("expected handler to be called")
	}
}

type failingResolver struct{ err error }

func (f failingResolver) Resolve(ctx context.Context, token string) (*sp.Account, error) {
	return nil, f.err
}

func TestUnaryAuthInterceptor_StoreUnavailable(t *testing.T) {
	resolver := failingResolver{err: errors.Join(sp.ErrStoreUnavailable, errors.New("connection refused"))}
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(resolver))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(bearerContext("tok"), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unavailable)
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context {
	return m.ctx
}

func TestStreamAuthInterceptor_NoToken(t *testing.T) {
	sessions, _ := newSessions(t)
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(sessions))
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, func(srv interface{}, stream grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestStreamAuthInterceptor_ValidSession(t *testing.T) {
	sessions, acct := newSessions(t)
	session, _ := sessions.Start(context.Background(), acct.ID)

	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(sessions))
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	var seen *sp.Account
	err := interceptor(nil, &mockServerStream{ctx: bearerContext(session.Token)}, info, func(srv interface{}, stream grpc.ServerStream) error {
		seen = AccountFromContext(stream.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || seen.ID != acct.ID {
		t.Errorf("expected stream to carry account %q, got %+v", acct.ID, seen)
	}
}
