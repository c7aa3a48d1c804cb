package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

// Resolver turns a session token into an account. *sp.SessionManager
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*sp.Account, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Sessions resolves the presented token
	Sessions Resolver

	// Gate decides whether a resolved caller may proceed
	Gate sp.Gate

	// RequireAuth when true rejects calls the gate denies.
	// When false, calls proceed and AccountFromContext returns nil.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(sessions Resolver) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Sessions:      sessions,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(sessions Resolver, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(sessions)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(sessions Resolver) *InterceptorConfig {
	config := DefaultInterceptorConfig(sessions)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// authorize resolves the caller and runs the gate. The returned context
// carries the account when one was resolved.
func (c *InterceptorConfig) authorize(ctx context.Context, method string) (context.Context, error) {
	var acct *sp.Account
	if token := TokenFromContextWithConfig(ctx, c.Config); token != "" && c.Sessions != nil {
		var err error
		acct, err = c.Sessions.Resolve(ctx, token)
		if err != nil {
			logger := logutil.GetOrDefault(ctx)
			logger.Error().Err(err).Str("method", method).Msg("failed to resolve session")
			if errors.Is(err, sp.ErrStoreUnavailable) {
				return ctx, status.Error(codes.Unavailable, "session store unavailable")
			}
			return ctx, status.Error(codes.Internal, "failed to resolve session")
		}
	}

	if c.RequireAuth && !c.PublicMethods[method] {
		if decision := c.Gate.Decide(acct); !decision.Allow {
			return ctx, status.Error(codes.Unauthenticated, "authentication required")
		}
	}
	if acct == nil {
		return ctx, nil
	}
	return sp.ContextWithAccount(ctx, acct), nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that resolves the
// session token and applies the access gate.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig(nil)
	}
	config.ensureDefaults()

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := config.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that resolves the
// session token and applies the access gate.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig(nil)
	}
	config.ensureDefaults()

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}

// authStream overrides the stream context so handlers see the account
type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context {
	return s.ctx
}
