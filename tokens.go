package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Default session lifetimes
const (
	DefaultSessionTTL         = 24 * time.Hour
	DefaultSessionMaxLifetime = 30 * 24 * time.Hour
)

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SessionPolicy controls how long a session stays valid.
type SessionPolicy struct {
	// TTL is the validity window granted at start and, when Sliding, on every resolve
	TTL time.Duration

	// Sliding extends ExpiresAt to now+TTL whenever the session is resolved
	Sliding bool

	// MaxLifetime caps sliding renewal, measured from CreatedAt. Zero means no cap
	MaxLifetime time.Duration
}

// DefaultSessionPolicy returns a sliding 24 hour policy capped at 30 days
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		TTL:         DefaultSessionTTL,
		Sliding:     true,
		MaxLifetime: DefaultSessionMaxLifetime,
	}
}

func (p SessionPolicy) ttl() time.Duration {
	if p.TTL <= 0 {
		return DefaultSessionTTL
	}
	return p.TTL
}

// expiryAt returns the expiry a session created at createdAt gets when touched at now
func (p SessionPolicy) expiryAt(createdAt, now time.Time) time.Time {
	exp := now.Add(p.ttl())
	if p.MaxLifetime > 0 {
		if limit := createdAt.Add(p.MaxLifetime); exp.After(limit) {
			exp = limit
		}
	}
	return exp
}
