package client

import (
	"net/http"
)

// sessionTransport attaches the stored session token and forgets it when
// the server answers 401: a revoked or expired session cannot be renewed.
type sessionTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.client.Token()
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		t.client.forget(token)
	}
	return resp, nil
}
