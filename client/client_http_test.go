package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/stores/memory"
)

type mockCredentialStore struct {
	mu      sync.Mutex
	servers map[string]*ServerCredential
	saves   int
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{servers: map[string]*ServerCredential{}}
}

func (m *mockCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servers[serverURL], nil
}

func (m *mockCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[serverURL] = cred
	return nil
}

func (m *mockCredentialStore) RemoveCredential(serverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, serverURL)
	return nil
}

func (m *mockCredentialStore) ListServers() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.servers {
		out = append(out, k)
	}
	return out, nil
}

func (m *mockCredentialStore) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

// newTestServer runs the real web handlers over in-memory stores
func newTestServer(t *testing.T) (*httptest.Server, *sp.Authenticator) {
	t.Helper()
	cfg := sp.Config{HashScheme: sp.SchemeBcrypt, BcryptCost: 4}
	auth, err := sp.New(cfg, memory.NewAccountStore(), memory.NewSessionStore())
	if err != nil {
		t.Fatalf("sp.New() error = %v", err)
	}
	server := httptest.NewServer(sp.NewWebAuth(auth).Handler())
	t.Cleanup(server.Close)
	return server, auth
}

func TestClient_RegisterSubmitList(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()
	store := newMockCredentialStore()
	c := NewClient(server.URL+"/ignored/path", store)

	if c.ServerURL() != server.URL {
		t.Errorf("ServerURL() = %s, want %s", c.ServerURL(), server.URL)
	}
	if c.IsLoggedIn() {
		t.Fatal("new client should not be logged in")
	}

	cred, err := c.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if cred.Token == "" || cred.AccountID == "" || cred.Username != "alice" {
		t.Errorf("unexpected credential %+v", cred)
	}
	if stored, _ := store.GetCredential(server.URL); stored == nil || stored.Token != cred.Token {
		t.Fatal("credential not stored")
	}
	if store.saves == 0 {
		t.Error("expected the store to be saved")
	}

	if err := c.SubmitSecret(ctx, "I like pineapple on pizza"); err != nil {
		t.Fatalf("SubmitSecret() error = %v", err)
	}
	secrets, err := c.ListSecrets(ctx)
	if err != nil {
		t.Fatalf("ListSecrets() error = %v", err)
	}
	if len(secrets) != 1 || secrets[0] != "I like pineapple on pizza" {
		t.Errorf("ListSecrets() = %v", secrets)
	}
}

func TestClient_LoginInvalidCredentials(t *testing.T) {
	server, auth := newTestServer(t)
	ctx := context.Background()
	if _, err := auth.Register(ctx, "bob", "correct-horse"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	c := NewClient(server.URL, newMockCredentialStore())
	_, err := c.Login(ctx, "bob", "wrong-password")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != sp.ErrCodeInvalidCreds {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if c.IsLoggedIn() {
		t.Error("failed login must not store a session")
	}

	if _, err := c.Login(ctx, "BOB", "correct-horse"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !c.IsLoggedIn() {
		t.Error("expected to be logged in")
	}
}

func TestClient_Logout(t *testing.T) {
	server, auth := newTestServer(t)
	ctx := context.Background()
	store := newMockCredentialStore()
	c := NewClient(server.URL, store)

	cred, err := c.Register(ctx, "carol", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if c.IsLoggedIn() {
		t.Error("expected to be logged out")
	}
	acct, err := auth.CurrentAccount(ctx, cred.Token)
	if err != nil || acct != nil {
		t.Errorf("session should be revoked on the server, got %+v, %v", acct, err)
	}

	// second logout is a no-op
	if err := c.Logout(ctx); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
}

func TestClient_RevokedSessionIsForgotten(t *testing.T) {
	server, auth := newTestServer(t)
	ctx := context.Background()
	store := newMockCredentialStore()
	c := NewClient(server.URL, store)

	cred, err := c.Register(ctx, "dave", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := auth.Logout(ctx, cred.Token); err != nil {
		t.Fatalf("server side Logout() error = %v", err)
	}

	_, err = c.ListSecrets(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if stored, _ := store.GetCredential(server.URL); stored != nil {
		t.Error("a rejected session should be removed from the store")
	}
	if _, err := c.ListSecrets(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestClient_LinkPassword(t *testing.T) {
	server, auth := newTestServer(t)
	ctx := context.Background()

	acct, err := auth.AuthenticateFederated(ctx, sp.Assertion{Provider: sp.ProviderGoogle, SubjectID: "g-123"})
	if err != nil {
		t.Fatalf("AuthenticateFederated() error = %v", err)
	}
	session, err := auth.StartSession(ctx, acct.ID)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	store := newMockCredentialStore()
	store.SetCredential(server.URL, &ServerCredential{Token: session.Token, AccountID: acct.ID})
	c := NewClient(server.URL, store)

	if err := c.LinkPassword(ctx, "erin", "password123"); err != nil {
		t.Fatalf("LinkPassword() error = %v", err)
	}

	fresh := NewClient(server.URL, newMockCredentialStore())
	cred, err := fresh.Login(ctx, "erin", "password123")
	if err != nil {
		t.Fatalf("Login() after linking error = %v", err)
	}
	if cred.AccountID != acct.ID {
		t.Errorf("password login reached account %s, want %s", cred.AccountID, acct.ID)
	}
}
