package secrets_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/stores/memory"
)

func newTestWeb(t *testing.T, loginURL string) (*sp.WebAuth, *sp.Authenticator) {
	t.Helper()
	cfg := testConfig()
	cfg.LoginURL = loginURL
	auth, err := sp.New(cfg, memory.NewAccountStore(), memory.NewSessionStore())
	require.NoError(t, err)
	return sp.NewWebAuth(auth), auth
}

// login registers username and returns its session token
func login(t *testing.T, auth *sp.Authenticator, username string) (string, *sp.Account) {
	t.Helper()
	ctx := context.Background()
	acct, err := auth.Register(ctx, username, "s3cret")
	require.NoError(t, err)
	session, err := auth.StartSession(ctx, acct.ID)
	require.NoError(t, err)
	return session.Token, acct
}

func hasSessionCookie(res *http.Response, _ *http.Request) error {
	for _, c := range res.Cookies() {
		if c.Name == sp.DefaultSessionCookieName && c.Value != "" && c.HttpOnly {
			return nil
		}
	}
	return errors.New("session cookie not set")
}

func TestWebRegisterAndLogin(t *testing.T) {
	web, _ := newTestWeb(t, "")
	handler := web.Handler()

	apitest.New().
		Handler(handler).
		Post("/auth/register").
		JSON(`{"username": "alice", "password": "s3cret"}`).
		Expect(t).
		Status(http.StatusCreated).
		Assert(hasSessionCookie).
		End()

	apitest.New().
		Handler(handler).
		Post("/auth/register").
		JSON(`{"username": "ALICE", "password": "s3cret"}`).
		Expect(t).
		Status(http.StatusConflict).
		Body(`{"code": "username_taken", "error": "Username is already taken", "field": "username"}`).
		End()

	apitest.New().
		Handler(handler).
		Post("/auth/login").
		FormData("username", "alice").
		FormData("password", "s3cret").
		Expect(t).
		Status(http.StatusOK).
		Assert(hasSessionCookie).
		End()
}

func TestWebLoginFailuresLookAlike(t *testing.T) {
	web, auth := newTestWeb(t, "")
	login(t, auth, "alice")
	handler := web.Handler()

	invalid := `{"code": "invalid_credentials", "error": "Invalid credentials", "field": "password"}`
	apitest.Handler(handler).
		Post("/auth/login").
		JSON(`{"username": "alice", "password": "wrong!"}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		Body(invalid).
		End()
	apitest.Handler(handler).
		Post("/auth/login").
		JSON(`{"username": "nobody", "password": "wrong!"}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		Body(invalid).
		End()
	apitest.Handler(handler).
		Post("/auth/login").
		JSON(`{"username": "alice"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()
}

func TestWebRegisterRejectsWeakPassword(t *testing.T) {
	web, _ := newTestWeb(t, "")
	apitest.Handler(web.Handler()).
		Post("/auth/register").
		JSON(`{"username": "alice", "password": "123"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Body(`{"code": "weak_password", "error": "Password must be at least 6 characters", "field": "password"}`).
		End()
}

func TestWebSecretsRequireSession(t *testing.T) {
	t.Run("no login page", func(t *testing.T) {
		web, _ := newTestWeb(t, "")
		apitest.Handler(web.Handler()).
			Get("/secrets").
			Expect(t).
			Status(http.StatusUnauthorized).
			Body(`{"code": "not_authenticated", "error": "Not authenticated"}`).
			End()
	})

	t.Run("redirects to login", func(t *testing.T) {
		web, _ := newTestWeb(t, "/login")
		apitest.Handler(web.Handler()).
			Get("/secrets").
			Expect(t).
			Status(http.StatusFound).
			Header("Location", "/login?callbackURL=%2Fsecrets").
			End()
	})

	t.Run("revoked token", func(t *testing.T) {
		web, auth := newTestWeb(t, "")
		token, _ := login(t, auth, "alice")
		require.NoError(t, auth.Logout(context.Background(), token))
		apitest.Handler(web.Handler()).
			Get("/secrets").
			Header("Authorization", "Bearer "+token).
			Expect(t).
			Status(http.StatusUnauthorized).
			End()
	})
}

func TestWebSubmitAndListSecrets(t *testing.T) {
	web, auth := newTestWeb(t, "")
	handler := web.Handler()
	alice, _ := login(t, auth, "alice")
	bob, _ := login(t, auth, "bob")

	apitest.Handler(handler).
		Post("/secrets").
		Header("Authorization", "Bearer "+alice).
		FormData("secret", "I still have my childhood blanket").
		Expect(t).
		Status(http.StatusOK).
		End()

	apitest.Handler(handler).
		Post("/secrets").
		Header("Authorization", "Bearer "+bob).
		JSON(`{"secret": "   "}`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()

	apitest.Handler(handler).
		Get("/secrets").
		Cookie(sp.DefaultSessionCookieName, bob).
		Expect(t).
		Status(http.StatusOK).
		Body(`{"secrets": ["I still have my childhood blanket"]}`).
		End()
}

func TestWebLogout(t *testing.T) {
	web, auth := newTestWeb(t, "")
	handler := web.Handler()
	token, _ := login(t, auth, "alice")

	apitest.Handler(handler).
		Post("/auth/logout").
		Cookie(sp.DefaultSessionCookieName, token).
		Expect(t).
		Status(http.StatusOK).
		Assert(func(res *http.Response, _ *http.Request) error {
			for _, c := range res.Cookies() {
				if c.Name == sp.DefaultSessionCookieName && c.MaxAge < 0 {
					return nil
				}
			}
			return errors.New("session cookie not cleared")
		}).
		End()

	acct, err := auth.CurrentAccount(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, acct)

	// again, and without any session
	apitest.Handler(handler).
		Post("/auth/logout").
		Cookie(sp.DefaultSessionCookieName, token).
		Expect(t).
		Status(http.StatusOK).
		End()
	apitest.Handler(handler).
		Get("/auth/logout").
		Expect(t).
		Status(http.StatusOK).
		End()
}

func TestWebLinkPassword(t *testing.T) {
	web, auth := newTestWeb(t, "")
	ctx := context.Background()

	acct, err := auth.AuthenticateFederated(ctx, google("g-1"))
	require.NoError(t, err)
	session, err := auth.StartSession(ctx, acct.ID)
	require.NoError(t, err)

	apitest.Handler(web.Handler()).
		Post("/auth/link-password").
		Header("Authorization", "Bearer "+session.Token).
		JSON(`{"username": "gina", "password": "s3cret"}`).
		Expect(t).
		Status(http.StatusOK).
		End()

	viaPassword, err := auth.AuthenticateLocal(ctx, "gina", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, viaPassword.ID)

	// a session alone cannot replace an existing password
	apitest.Handler(web.Handler()).
		Post("/auth/link-password").
		Header("Authorization", "Bearer "+session.Token).
		JSON(`{"username": "gina", "password": "n3w-secret"}`).
		Expect(t).
		Status(http.StatusConflict).
		End()
	_, err = auth.AuthenticateLocal(ctx, "gina", "s3cret")
	assert.NoError(t, err)
}

func TestWebHandleAssertion(t *testing.T) {
	web, auth := newTestWeb(t, "")
	ctx := context.Background()

	// first visit creates the account and a session
	rec := httptest.NewRecorder()
	web.HandleAssertion(google("g-7"), rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		AccountID string `json:"account_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.AccountID)

	var token string
	for _, c := range rec.Result().Cookies() {
		if c.Name == sp.DefaultSessionCookieName {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)
	current, err := auth.CurrentAccount(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, body.AccountID, current.ID)

	// a logged in caller gets the identity linked instead
	aliceToken, alice := login(t, auth, "alice")
	req := httptest.NewRequest(http.MethodGet, "/auth/facebook/callback", nil)
	req.AddCookie(&http.Cookie{Name: sp.DefaultSessionCookieName, Value: aliceToken})
	rec = httptest.NewRecorder()
	web.HandleAssertion(sp.Assertion{Provider: sp.ProviderFacebook, SubjectID: "f-1"}, rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	viaFacebook, err := auth.AuthenticateFederated(ctx, sp.Assertion{Provider: sp.ProviderFacebook, SubjectID: "f-1"})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, viaFacebook.ID)

	// linking an identity another account holds is a conflict
	req = httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	rec = httptest.NewRecorder()
	web.HandleAssertion(google("g-7"), rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebHandleAssertionRedirects(t *testing.T) {
	web, _ := newTestWeb(t, "")
	web.AfterLoginURL = "/secrets"

	rec := httptest.NewRecorder()
	web.HandleAssertion(google("g-8"), rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/secrets", rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil)
	req = req.WithContext(sp.ContextWithReturnTo(req.Context(), "/secrets/new"))
	rec = httptest.NewRecorder()
	web.HandleAssertion(google("g-8"), rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/secrets/new", rec.Header().Get("Location"))
}

func TestReturnToOnlyKeepsLocalPaths(t *testing.T) {
	ctx := context.Background()
	for _, bad := range []string{"https://evil.example", "//evil.example", "secrets", `/\evil`} {
		assert.Empty(t, sp.ReturnToFromContext(sp.ContextWithReturnTo(ctx, bad)), bad)
	}
	assert.Equal(t, "/secrets", sp.ReturnToFromContext(sp.ContextWithReturnTo(ctx, "/secrets")))
}

func TestMiddlewareExtractAccount(t *testing.T) {
	_, auth := newTestWeb(t, "")
	token, acct := login(t, auth, "alice")

	mw := &sp.Middleware{Sessions: auth.Sessions, Gate: auth.Gate}
	var seen *sp.Account
	handler := mw.ExtractAccount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = sp.AccountFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sp.DefaultSessionCookieName, Value: token})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, acct.ID, seen.ID)

	// the header wins over the cookie
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: sp.DefaultSessionCookieName, Value: "stale"})
	assert.Equal(t, token, mw.SessionToken(req))
}
