package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrNotLoggedIn is returned by calls that need a session when none is stored
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is an error response from the server
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// Client is an HTTP client for one secrets server
type Client struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// sessionResponse is returned by login and register
type sessionResponse struct {
	AccountID string    `json:"account_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with session handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.baseTransport = transport
	}
}

// NewClient creates a client for serverURL. Only the scheme and host of
// serverURL are kept.
func NewClient(serverURL string, store CredentialStore, opts ...ClientOption) *Client {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &Client{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &sessionTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns an HTTP client that presents the stored session
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *Client) ServerURL() string {
	return c.serverURL
}

// Token returns the stored session token, or "" when there is none or it has expired
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.IsExpired() {
		return ""
	}
	return cred.Token
}

// IsLoggedIn returns true if there is a usable stored session
func (c *Client) IsLoggedIn() bool {
	return c.Token() != ""
}

// Login authenticates with a username and password and stores the session
func (c *Client) Login(ctx context.Context, username, password string) (*ServerCredential, error) {
	return c.startSession(ctx, "/auth/login", username, password)
}

// Register creates a password account and stores its session
func (c *Client) Register(ctx context.Context, username, password string) (*ServerCredential, error) {
	return c.startSession(ctx, "/auth/register", username, password)
}

func (c *Client) startSession(ctx context.Context, path, username, password string) (*ServerCredential, error) {
	// the base transport skips session handling: a 401 here is about the
	// password, not the stored session
	httpClient := &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
	var out sessionResponse
	if err := c.do(ctx, httpClient, http.MethodPost, path, map[string]string{"username": username, "password": password}, &out); err != nil {
		return nil, err
	}

	cred := &ServerCredential{
		Token:     out.Token,
		AccountID: out.AccountID,
		Username:  username,
		ExpiresAt: out.ExpiresAt,
		CreatedAt: time.Now(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Logout revokes the session on the server and removes it locally. The local
// copy is removed even when the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	var serverErr error
	if c.Token() != "" {
		serverErr = c.do(ctx, c.httpClient, http.MethodPost, "/auth/logout", map[string]string{}, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	return serverErr
}

// LinkPassword adds a username and password to the logged in account
func (c *Client) LinkPassword(ctx context.Context, username, password string) error {
	if !c.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return c.do(ctx, c.httpClient, http.MethodPost, "/auth/link-password", map[string]string{"username": username, "password": password}, nil)
}

// SubmitSecret stores text as the logged in account's secret
func (c *Client) SubmitSecret(ctx context.Context, text string) error {
	if !c.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return c.do(ctx, c.httpClient, http.MethodPost, "/secrets", map[string]string{"secret": text}, nil)
}

// ListSecrets returns every secret submitted to the server
func (c *Client) ListSecrets(ctx context.Context) ([]string, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	var out struct {
		Secrets []string `json:"secrets"`
	}
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/secrets", nil, &out); err != nil {
		return nil, err
	}
	return out.Secrets, nil
}

// forget drops the stored session if it is still token
func (c *Client) forget(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.Token != token {
		return
	}
	if c.store.RemoveCredential(c.serverURL) == nil {
		c.store.Save()
	}
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
