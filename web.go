package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

// WebAuth exposes an Authenticator over HTTP. Requests may be JSON or
// urlencoded forms; responses are JSON.
type WebAuth struct {
	Auth       *Authenticator
	Middleware *Middleware

	// SecureCookie marks the session cookie Secure (HTTPS only)
	SecureCookie bool

	// AfterLoginURL is where federated logins are redirected on success.
	// Empty means respond with JSON.
	AfterLoginURL string

	// Form field names
	UsernameField string
	PasswordField string
	SecretField   string
}

// NewWebAuth creates a WebAuth whose middleware shares auth's session manager and gate
func NewWebAuth(auth *Authenticator) *WebAuth {
	mw := &Middleware{Sessions: auth.Sessions, Gate: auth.Gate}
	mw.EnsureReasonableDefaults()
	return &WebAuth{Auth: auth, Middleware: mw}
}

// Handler returns the routes of the web surface:
//
//	POST /auth/login         username+password login
//	POST /auth/register      create a password account
//	POST /auth/logout        revoke the current session
//	POST /auth/link-password add a password to the current account
//	GET  /secrets            list submitted secrets (authenticated)
//	POST /secrets            submit the caller's secret (authenticated)
func (a *WebAuth) Handler() *mux.Router {
	r := mux.NewRouter()
	a.Register(r)
	return r
}

// Register adds the web routes to an existing router
func (a *WebAuth) Register(r *mux.Router) {
	r.HandleFunc("/auth/login", a.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/register", a.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", a.HandleLogout).Methods(http.MethodPost, http.MethodGet)
	r.Handle("/auth/link-password", a.Middleware.EnsureAccount(http.HandlerFunc(a.HandleLinkPassword))).Methods(http.MethodPost)
	r.Handle("/secrets", a.Middleware.EnsureAccount(http.HandlerFunc(a.HandleListSecrets))).Methods(http.MethodGet)
	r.Handle("/secrets", a.Middleware.EnsureAccount(http.HandlerFunc(a.HandleSubmitSecret))).Methods(http.MethodPost)
}

// HandleLogin verifies a username and password and starts a session
func (a *WebAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(r)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, err.Error(), ""))
		return
	}
	username, password := form[a.usernameField()], form[a.passwordField()]
	if username == "" || password == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "username and password required", "username"))
		return
	}

	acct, err := a.Auth.AuthenticateLocal(r.Context(), username, password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	a.startSession(w, r, acct, http.StatusOK)
}

// HandleRegister creates a password account and logs it in
func (a *WebAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(r)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, err.Error(), ""))
		return
	}
	acct, err := a.Auth.Register(r.Context(), form[a.usernameField()], form[a.passwordField()])
	if err != nil {
		writeAuthError(w, err)
		return
	}
	a.startSession(w, r, acct, http.StatusCreated)
}

// HandleLogout revokes the presented session, if any, and clears the cookie
func (a *WebAuth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := a.Middleware.SessionToken(r); token != "" {
		if err := a.Auth.Logout(r.Context(), token); err != nil {
			writeAuthError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.Middleware.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

// HandleLinkPassword adds a local credential to the calling account. It must
// sit behind Middleware.EnsureAccount.
func (a *WebAuth) HandleLinkPassword(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeAuthError(w, ErrNotAuthenticated)
		return
	}
	form, err := parseForm(r)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, err.Error(), ""))
		return
	}
	if err := a.Auth.AddLocalCredential(r.Context(), acct.ID, form[a.usernameField()], form[a.passwordField()]); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password added"})
}

// HandleSubmitSecret stores the caller's secret. It must sit behind
// Middleware.EnsureAccount.
func (a *WebAuth) HandleSubmitSecret(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(r)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, err.Error(), ""))
		return
	}
	if err := a.Auth.saveSecret(r.Context(), AccountFromContext(r.Context()), form[a.secretField()]); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "secret saved"})
}

// HandleListSecrets returns every submitted secret, without owners
func (a *WebAuth) HandleListSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := a.Auth.listSecrets(r.Context(), AccountFromContext(r.Context()))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": secrets})
}

// HandleAssertion completes a federated login once a provider callback has
// validated the user. A caller that already holds a session gets the identity
// linked to their account; anyone else is logged in (or signed up).
func (a *WebAuth) HandleAssertion(assertion Assertion, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	current, err := a.Auth.CurrentAccount(ctx, a.Middleware.SessionToken(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if current != nil {
		if err := a.Auth.LinkFederated(ctx, current.ID, assertion); err != nil {
			writeAuthError(w, err)
			return
		}
		a.afterLogin(w, r, map[string]any{"account_id": current.ID, "linked": string(assertion.Provider)})
		return
	}

	acct, err := a.Auth.AuthenticateFederated(ctx, assertion)
	if err != nil {
		logger := logutil.GetOrDefault(ctx)
		logger.Warn().Err(err).Str("provider", string(assertion.Provider)).Msg("federated login failed")
		writeAuthError(w, err)
		return
	}
	session, err := a.Auth.StartSession(ctx, acct.ID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	a.setSessionCookie(w, session)
	a.afterLogin(w, r, map[string]any{"account_id": acct.ID, "expires_at": session.ExpiresAt.Format(time.RFC3339)})
}

func (a *WebAuth) afterLogin(w http.ResponseWriter, r *http.Request, body map[string]any) {
	if returnTo := ReturnToFromContext(r.Context()); returnTo != "" {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return
	}
	if a.AfterLoginURL != "" {
		http.Redirect(w, r, a.AfterLoginURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *WebAuth) startSession(w http.ResponseWriter, r *http.Request, acct *Account, status int) {
	session, err := a.Auth.StartSession(r.Context(), acct.ID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	a.setSessionCookie(w, session)
	writeJSON(w, status, map[string]any{
		"account_id": acct.ID,
		"token":      session.Token,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	})
}

func (a *WebAuth) setSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.Middleware.CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   a.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *WebAuth) usernameField() string {
	if a.UsernameField != "" {
		return a.UsernameField
	}
	return "username"
}

func (a *WebAuth) passwordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

func (a *WebAuth) secretField() string {
	if a.SecretField != "" {
		return a.SecretField
	}
	return "secret"
}

// parseForm reads string fields from a urlencoded form or a JSON object
func parseForm(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("error parsing form")
		}
		for key := range r.PostForm {
			out[key] = r.PostForm.Get(key)
		}
		return out, nil
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		return nil, fmt.Errorf("invalid post body")
	}
	for key, value := range data {
		if s, ok := value.(string); ok {
			out[key] = s
		}
	}
	return out, nil
}

type returnToContextKey struct{}

// ContextWithReturnTo records where the browser asked to go after logging in.
// Only same-site paths are kept.
func ContextWithReturnTo(ctx context.Context, returnTo string) context.Context {
	if !isLocalPath(returnTo) {
		return ctx
	}
	return context.WithValue(ctx, returnToContextKey{}, returnTo)
}

// ReturnToFromContext returns the path set by ContextWithReturnTo, or ""
func ReturnToFromContext(ctx context.Context) string {
	returnTo, _ := ctx.Value(returnToContextKey{}).(string)
	return returnTo
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeAuthError reports err as a JSON AuthError with the matching status
func writeAuthError(w http.ResponseWriter, err error) {
	authErr, status := AuthErrorFor(err)
	writeJSON(w, status, authErr)
}
