// Package grpc carries session tokens and resolved accounts between gRPC
// clients and services via metadata.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	sp "github.com/sofigonzalez2012/secrets-project"
)

const (
	// DefaultMetadataKeyAuthorization carries "Bearer <session token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyAccountID is set on outgoing calls made on behalf of
	// an already resolved account, for services behind the edge.
	DefaultMetadataKeyAccountID = "x-account-id"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization"
	MetadataKeyAuthorization string

	// MetadataKeyAccountID defaults to "x-account-id"
	MetadataKeyAccountID string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyAccountID:     DefaultMetadataKeyAccountID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyAccountID == "" {
		c.MetadataKeyAccountID = DefaultMetadataKeyAccountID
	}
}

// TokenFromContext returns the session token sent by the client, or ""
func TokenFromContext(ctx context.Context) string {
	return TokenFromContextWithConfig(ctx, nil)
}

// TokenFromContextWithConfig is TokenFromContext with custom metadata keys
func TokenFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(config.MetadataKeyAuthorization) {
		if token, ok := strings.CutPrefix(value, "Bearer "); ok {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	return ""
}

// TokenToOutgoingContext attaches a session token to outgoing calls
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// AccountIDToOutgoingContext forwards the resolved account id to a downstream service
func AccountIDToOutgoingContext(ctx context.Context, accountID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAccountID, accountID)
}

// AccountFromContext returns the account the interceptor resolved, or nil
func AccountFromContext(ctx context.Context) *sp.Account {
	return sp.AccountFromContext(ctx)
}

// IsAuthenticated returns true if the interceptor resolved an account for this call
func IsAuthenticated(ctx context.Context) bool {
	return AccountFromContext(ctx) != nil
}
