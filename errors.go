package secrets

import (
	"errors"
	"net/http"
)

var (
	ErrUnknownIdentity       = errors.New("unknown identity")
	ErrBadCredential         = errors.New("bad credential")
	ErrDuplicateIdentity     = errors.New("identity already exists")
	ErrIdentityAlreadyLinked = errors.New("identity already linked to another account")
	ErrProviderError         = errors.New("provider error")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")

	// ErrAuthenticationFailed is what callers see for both unknown identities
	// and bad credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	ErrAccountNotFound     = errors.New("account not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrUnknownStrategy     = errors.New("unknown strategy")
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrNotAuthenticated    = errors.New("not authenticated")
)

// Error codes reported to HTTP clients
const (
	ErrCodeMissingField     = "missing_field"
	ErrCodeInvalidUsername  = "invalid_username"
	ErrCodeWeakPassword     = "weak_password"
	ErrCodeInvalidCreds     = "invalid_credentials"
	ErrCodeUsernameTaken    = "username_taken"
	ErrCodeAlreadyLinked    = "already_linked"
	ErrCodeProviderError    = "provider_error"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeNotAuthenticated = "not_authenticated"
	ErrCodeInternal         = "internal_error"
)

// AuthError is the caller-visible shape of an authentication failure
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string { return e.Message }

// NewAuthError creates an AuthError
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// AuthErrorFor maps an error from this package onto a caller-visible AuthError
// and HTTP status. Unknown identities and bad credentials are indistinguishable.
func AuthErrorFor(err error) (*AuthError, int) {
	var authErr *AuthError
	switch {
	case errors.As(err, &authErr):
		return authErr, http.StatusBadRequest
	case errors.Is(err, ErrAuthenticationFailed), errors.Is(err, ErrUnknownIdentity), errors.Is(err, ErrBadCredential):
		return NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "password"), http.StatusUnauthorized
	case errors.Is(err, ErrDuplicateIdentity):
		return NewAuthError(ErrCodeUsernameTaken, "Username is already taken", "username"), http.StatusConflict
	case errors.Is(err, ErrIdentityAlreadyLinked):
		return NewAuthError(ErrCodeAlreadyLinked, "That account is already linked to another user", ""), http.StatusConflict
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrTokenInvalidOrExpired):
		return NewAuthError(ErrCodeNotAuthenticated, "Not authenticated", ""), http.StatusUnauthorized
	case errors.Is(err, ErrProviderError):
		return NewAuthError(ErrCodeProviderError, "Identity provider error", ""), http.StatusBadGateway
	case errors.Is(err, ErrStoreUnavailable):
		return NewAuthError(ErrCodeUnavailable, "Service temporarily unavailable", ""), http.StatusServiceUnavailable
	default:
		return NewAuthError(ErrCodeInternal, "Internal error", ""), http.StatusInternalServerError
	}
}
