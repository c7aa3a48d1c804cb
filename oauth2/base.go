package oauth2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

// AssertionHandler receives the validated identity at the end of a provider
// flow. secrets.WebAuth.HandleAssertion fits.
type AssertionHandler func(assertion sp.Assertion, w http.ResponseWriter, r *http.Request)

const nonceCookieName = "oauthnonce"

// BaseOAuth2 runs the authorization code flow against one provider and turns
// its user info response into an sp.Assertion.
//
// Mount the handler returned by Handler under a prefix, e.g.
//
//	mux.Handle("/auth/google/", http.StripPrefix("/auth/google", google.Handler()))
//
// which serves /auth/google/ (start) and /auth/google/callback.
type BaseOAuth2 struct {
	Provider        sp.Provider
	HandleAssertion AssertionHandler
	State           *StateSigner

	// UserInfoURL returns the provider's view of the user. Can be overridden for testing.
	UserInfoURL string

	// SubjectField names the stable user id in the user info response
	SubjectField string

	// HintFields are copied from the user info response into the assertion's profile hints
	HintFields []string

	// FailureURL receives the browser when the provider leg fails. Empty means respond with an error.
	FailureURL string

	// HTTPClient is used for token exchange and user info. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
	mux         *http.ServeMux
}

func NewBaseOAuth2(provider sp.Provider, clientId string, clientSecret string, callbackUrl string, handle AssertionHandler) *BaseOAuth2 {
	out := &BaseOAuth2{
		Provider:        provider,
		HandleAssertion: handle,
		State:           NewStateSigner(nil),
		SubjectField:    "sub",
		HintFields:      []string{"name", "email"},
		mux:             http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
		},
	}
	out.mux.HandleFunc("/callback", out.handleCallback)
	out.mux.HandleFunc("/callback/", out.handleCallback)
	out.mux.HandleFunc("/", out.handleStart)
	return out
}

// Config exposes the underlying oauth2 configuration, e.g. to point the
// endpoints at a test server
func (b *BaseOAuth2) Config() *oauth2.Config {
	return &b.oauthConfig
}

// Handler serves the start and callback legs of the flow
func (b *BaseOAuth2) Handler() http.Handler {
	return b.mux
}

// handleStart sets a nonce cookie and sends the browser to the provider. The
// signed state carries the nonce and the optional callbackURL parameter.
func (b *BaseOAuth2) handleStart(w http.ResponseWriter, r *http.Request) {
	nonce, err := sp.GenerateSecureToken()
	if err != nil {
		writeError(w, "could not start login", http.StatusInternalServerError)
		return
	}
	state, err := b.State.Issue(nonce, r.URL.Query().Get("callbackURL"))
	if err != nil {
		writeError(w, "could not start login", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookieName,
		Value:    nonce,
		Path:     "/",
		Expires:  time.Now().Add(b.State.ttl()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, b.oauthConfig.AuthCodeURL(state), http.StatusFound)
}

func (b *BaseOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	logger := logutil.GetOrDefault(r.Context()).With().Str("provider", string(b.Provider)).Logger()

	nonceCookie, err := r.Cookie(nonceCookieName)
	if err != nil || nonceCookie.Value == "" {
		logger.Warn().Msg("oauth callback without nonce cookie")
		writeError(w, "oauth state is missing", http.StatusBadRequest)
		return
	}
	// the nonce is single use
	http.SetCookie(w, &http.Cookie{Name: nonceCookieName, Path: "/", MaxAge: -1})

	returnTo, err := b.State.Verify(r.FormValue("state"), nonceCookie.Value)
	if err != nil {
		logger.Warn().Err(err).Msg("rejected oauth state")
		writeError(w, "invalid oauth state", http.StatusBadRequest)
		return
	}
	if providerErr := r.FormValue("error"); providerErr != "" {
		logger.Info().Str("error", providerErr).Msg("provider denied login")
		b.fail(w, r)
		return
	}

	assertion, err := b.exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		logger.Warn().Err(err).Msg("oauth exchange failed")
		b.fail(w, r)
		return
	}
	if returnTo != "" {
		r = r.WithContext(sp.ContextWithReturnTo(r.Context(), returnTo))
	}
	b.HandleAssertion(assertion, w, r)
}

// exchange trades the authorization code for a token and reads the user info
func (b *BaseOAuth2) exchange(ctx context.Context, code string) (sp.Assertion, error) {
	if code == "" {
		return sp.Assertion{}, fmt.Errorf("missing authorization code")
	}
	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	token, err := b.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return sp.Assertion{}, fmt.Errorf("code exchange: %w", err)
	}

	userInfo, err := b.fetchUserInfo(ctx, token)
	if err != nil {
		return sp.Assertion{}, err
	}
	subject := stringField(userInfo, b.SubjectField)
	if subject == "" {
		return sp.Assertion{}, fmt.Errorf("user info has no %q field", b.SubjectField)
	}

	hints := map[string]any{}
	for _, field := range b.HintFields {
		if v, ok := userInfo[field]; ok && v != nil {
			hints[field] = v
		}
	}
	return sp.Assertion{Provider: b.Provider, SubjectID: subject, ProfileHints: hints}, nil
}

func (b *BaseOAuth2) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	client := b.oauthConfig.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed reading user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info returned status %d", resp.StatusCode)
	}

	var userInfo map[string]any
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed decoding user info: %w", err)
	}
	return userInfo, nil
}

func (b *BaseOAuth2) fail(w http.ResponseWriter, r *http.Request) {
	if b.FailureURL != "" {
		http.Redirect(w, r, b.FailureURL, http.StatusFound)
		return
	}
	writeError(w, "identity provider error", http.StatusBadGateway)
}

// stringField reads a string or numeric id from a decoded JSON object
func stringField(m map[string]any, field string) string {
	switch v := m[field].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
