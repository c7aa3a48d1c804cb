package secrets

import (
	"context"
	"net/http"
	"strings"

	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

type accountContextKey struct{}

// DefaultSessionCookieName is the cookie that carries the session token
const DefaultSessionCookieName = "secrets_session"

// Middleware gates HTTP handlers on the session token. The token travels in
// a cookie or as an "Authorization: Bearer" header; this package only mints
// and checks its value.
type Middleware struct {
	Sessions   *SessionManager
	Gate       Gate
	CookieName string
	HeaderName string
}

// EnsureReasonableDefaults fills in unset names
func (a *Middleware) EnsureReasonableDefaults() {
	if a.CookieName == "" {
		a.CookieName = DefaultSessionCookieName
	}
	if a.HeaderName == "" {
		a.HeaderName = "Authorization"
	}
	if a.Gate.CallbackURLParam == "" {
		a.Gate.CallbackURLParam = "callbackURL"
	}
}

// SessionToken returns the session token presented with the request, if any
func (a *Middleware) SessionToken(r *http.Request) string {
	for _, value := range r.Header.Values(a.HeaderName) {
		if token, ok := strings.CutPrefix(value, "Bearer "); ok && token != "" {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(a.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// ExtractAccount resolves the caller and makes the account available to
// downstream handlers. It never rejects the request.
func (a *Middleware) ExtractAccount(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := a.Sessions.Resolve(r.Context(), a.SessionToken(r))
		if err != nil {
			logger := logutil.GetOrDefault(r.Context())
			logger.Error().Err(err).Msg("failed to resolve session")
		}
		next.ServeHTTP(w, withAccount(r, acct))
	})
}

// EnsureAccount runs the access gate: callers without a live session are
// redirected to the login page (with a callback parameter) or, when no login
// page is configured, refused with 401.
func (a *Middleware) EnsureAccount(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := a.Sessions.Resolve(r.Context(), a.SessionToken(r))
		if err != nil {
			writeAuthError(w, err)
			return
		}
		decision := a.Gate.DecideFor(acct, r.URL.Path)
		if decision.Allow {
			next.ServeHTTP(w, withAccount(r, acct))
			return
		}
		if decision.RedirectTo != "" {
			http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
			return
		}
		writeAuthError(w, ErrNotAuthenticated)
	})
}

func withAccount(r *http.Request, acct *Account) *http.Request {
	if acct == nil {
		return r
	}
	return r.WithContext(ContextWithAccount(r.Context(), acct))
}

// ContextWithAccount stores the resolved account in ctx
func ContextWithAccount(ctx context.Context, acct *Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, acct)
}

// AccountFromContext returns the account resolved by the middleware, or nil
func AccountFromContext(ctx context.Context) *Account {
	acct, _ := ctx.Value(accountContextKey{}).(*Account)
	return acct
}
