package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
	"github.com/sofigonzalez2012/secrets-project/oauth2"
)

func TestMountProvider(t *testing.T) {
	var logs bytes.Buffer
	ctx := logutil.WithLogger(context.Background(), zerolog.New(&logs))
	router := mux.NewRouter()
	signer := oauth2.NewStateSigner([]byte("test-state-key"))

	disabled := oauth2.NewBaseOAuth2(sp.ProviderFacebook, "", "", "", nil)
	assert.False(t, mountProvider(ctx, router, disabled, signer, ""))
	assert.Contains(t, logs.String(), "provider login disabled")

	enabled := oauth2.NewBaseOAuth2(sp.ProviderGoogle, "client-id", "secret", "http://localhost/auth/google/callback", nil)
	enabled.Config().Endpoint.AuthURL = "https://accounts.example.com/auth"
	assert.True(t, mountProvider(ctx, router, enabled, signer, "/login"))
	assert.Same(t, signer, enabled.State)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "client_id=client-id")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/facebook/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
