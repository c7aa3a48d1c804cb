package secrets

import (
	"fmt"
	"regexp"
	"strings"
)

// Credentials represents a username and password submitted for registration or login
type Credentials struct {
	Username string
	Password string
}

// DefaultUsernamePattern allows plain handles as well as email-style names
var DefaultUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.@+-]{3,64}$`)

// RegistrationPolicy defines what a new local credential must satisfy
type RegistrationPolicy struct {
	MinPasswordLength int
	MaxPasswordLength int
	UsernamePattern   *regexp.Regexp
}

// DefaultRegistrationPolicy returns the policy used when none is configured
func DefaultRegistrationPolicy() RegistrationPolicy {
	return RegistrationPolicy{
		MinPasswordLength: 6,
		MaxPasswordLength: 72, // bcrypt ignores anything longer
		UsernamePattern:   DefaultUsernamePattern,
	}
}

// GetMinPasswordLength returns the minimum password length (default 6)
func (p RegistrationPolicy) GetMinPasswordLength() int {
	if p.MinPasswordLength <= 0 {
		return 6
	}
	return p.MinPasswordLength
}

// GetUsernamePattern returns the username pattern (default DefaultUsernamePattern)
func (p RegistrationPolicy) GetUsernamePattern() *regexp.Regexp {
	if p.UsernamePattern == nil {
		return DefaultUsernamePattern
	}
	return p.UsernamePattern
}

// Validate checks credentials against the policy
func (p RegistrationPolicy) Validate(creds Credentials) *AuthError {
	username := strings.TrimSpace(creds.Username)
	if username == "" {
		return NewAuthError(ErrCodeMissingField, "Username is required", "username")
	}
	if creds.Password == "" {
		return NewAuthError(ErrCodeMissingField, "Password is required", "password")
	}
	if !p.GetUsernamePattern().MatchString(username) {
		return NewAuthError(ErrCodeInvalidUsername, "Username must be 3-64 characters of letters, digits and _.@+-", "username")
	}
	if minLen := p.GetMinPasswordLength(); len(creds.Password) < minLen {
		return NewAuthError(ErrCodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", minLen), "password")
	}
	if p.MaxPasswordLength > 0 && len(creds.Password) > p.MaxPasswordLength {
		return NewAuthError(ErrCodeWeakPassword, fmt.Sprintf("Password must be at most %d characters", p.MaxPasswordLength), "password")
	}
	return nil
}

// NormalizeUsername folds case and surrounding space so lookups are case-insensitive
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
